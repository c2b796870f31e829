package rag

import (
	"context"
	"fmt"
	"log"
)

// Snippet is a retrieved chunk formatted for prompt assembly.
type Snippet struct {
	Source  string
	Content string
}

// String renders the snippet the way the model sees it.
func (s Snippet) String() string {
	return fmt.Sprintf("Source: %s\nContent: %s", s.Source, s.Content)
}

// Retriever answers "what do this conversation's documents say about X" by
// embedding the query and running nearest-neighbor search over the
// conversation's index.
type Retriever struct {
	store    *FileStore
	embedder Embedder
	topK     int
}

func NewRetriever(store *FileStore, embedder Embedder, topK int) *Retriever {
	if topK <= 0 {
		topK = 4
	}
	return &Retriever{store: store, embedder: embedder, topK: topK}
}

// HasIndex reports whether the conversation has any ingested chunks.
func (r *Retriever) HasIndex(conversationID string) bool {
	return r.store.Has(conversationID)
}

// Retrieve returns the topK most relevant snippets for the query. A
// conversation without an index returns an empty result and no error, so
// callers can tell "no context available" apart from a failure.
func (r *Retriever) Retrieve(ctx context.Context, query, conversationID string) ([]Snippet, error) {
	if !r.store.Has(conversationID) {
		return nil, nil
	}

	queryVec, err := r.embedder.EmbedText(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	scored, err := r.store.Search(conversationID, queryVec, r.topK)
	if err != nil {
		return nil, err
	}

	snippets := make([]Snippet, 0, len(scored))
	for _, sc := range scored {
		snippets = append(snippets, Snippet{Source: sc.Source, Content: sc.Text})
	}
	log.Printf("Retrieved %d document chunks for conversation %s", len(snippets), conversationID)
	return snippets, nil
}

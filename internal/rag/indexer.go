package rag

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Embedder turns text into an embedding vector. Satisfied by the Gemini
// client; tests substitute deterministic fakes.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

// embedConcurrency bounds parallel embedding calls so a large document
// doesn't stampede the API.
const embedConcurrency = 4

// Indexer ingests documents into per-conversation vector indexes: load text,
// split into overlapping chunks tagged with the source filename, embed each
// chunk, and append to (or create) the conversation's index.
type Indexer struct {
	store    *FileStore
	embedder Embedder
	splitter *Splitter
}

func NewIndexer(store *FileStore, embedder Embedder, chunkSize, chunkOverlap int) *Indexer {
	return &Indexer{
		store:    store,
		embedder: embedder,
		splitter: NewSplitter(chunkSize, chunkOverlap),
	}
}

// Ingest processes the staged file at path (originally named filename) into
// the conversation's vector index and returns how many chunks were added.
// A document that splits into zero chunks leaves the index unchanged and is
// not an error. The caller owns the staged file's lifecycle.
func (ix *Indexer) Ingest(ctx context.Context, conversationID, filename, path string) (int, error) {
	text, err := LoadDocumentText(path, filename)
	if err != nil {
		return 0, err
	}

	pieces := ix.splitter.Split(text)
	if len(pieces) == 0 {
		log.Printf("Document %q produced 0 chunks after splitting, index for conversation %s left unchanged", filename, conversationID)
		return 0, nil
	}

	chunks := make([]Chunk, len(pieces))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(embedConcurrency)
	for i, piece := range pieces {
		g.Go(func() error {
			vec, err := ix.embedder.EmbedText(gctx, piece)
			if err != nil {
				return fmt.Errorf("embedding chunk %d of %q: %w", i, filename, err)
			}
			chunks[i] = Chunk{
				ID:        uuid.NewString(),
				Source:    filename,
				Text:      piece,
				Embedding: vec,
				CreatedAt: time.Now().UTC(),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	if err := ix.store.Append(conversationID, chunks); err != nil {
		return 0, fmt.Errorf("persisting %d chunks for conversation %s: %w", len(chunks), conversationID, err)
	}

	log.Printf("Ingested %d chunks from %q into conversation %s", len(chunks), filename, conversationID)
	return len(chunks), nil
}

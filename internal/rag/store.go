package rag

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Chunk is the unit of embedding and retrieval: a bounded span of document
// text with its source filename and embedding vector.
type Chunk struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	Text      string    `json:"text"`
	Embedding []float32 `json:"embedding"`
	CreatedAt time.Time `json:"created_at"`
}

// ScoredChunk is a Chunk with its similarity to a query vector.
type ScoredChunk struct {
	Chunk
	Score float32
}

// FileStore persists one vector index per conversation as a directory under
// root, holding the chunk records (text, source, embedding) as JSON. An
// index directory only exists once at least one chunk has been ingested.
//
// A single RWMutex serializes appends and deletes against reads; ingesting
// into and querying the same conversation concurrently is safe.
type FileStore struct {
	mu   sync.RWMutex
	root string
}

func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating vector store root: %w", err)
	}
	return &FileStore{root: root}, nil
}

func (s *FileStore) indexDir(conversationID string) string {
	return filepath.Join(s.root, "conv_"+conversationID)
}

func (s *FileStore) indexPath(conversationID string) string {
	return filepath.Join(s.indexDir(conversationID), "chunks.json")
}

// Has reports whether a vector index exists for the conversation.
func (s *FileStore) Has(conversationID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, err := os.Stat(s.indexPath(conversationID))
	return err == nil && info.Size() > 0
}

// Append adds chunks to the conversation's index, creating it on first
// ingestion. The index file is replaced atomically so a concurrent read
// never sees a torn write.
func (s *FileStore) Append(conversationID string, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.readChunks(conversationID)
	if err != nil {
		return err
	}
	existing = append(existing, chunks...)

	dir := s.indexDir(conversationID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating index directory: %w", err)
	}

	data, err := json.Marshal(existing)
	if err != nil {
		return fmt.Errorf("encoding chunks: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "chunks-*.json")
	if err != nil {
		return fmt.Errorf("staging index write: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing index: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.indexPath(conversationID)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replacing index: %w", err)
	}
	return nil
}

// Search returns the topK chunks nearest to the query vector, best first.
// A conversation without an index yields an empty result, not an error.
func (s *FileStore) Search(conversationID string, query []float32, topK int) ([]ScoredChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chunks, err := s.readChunks(conversationID)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	scored := make([]ScoredChunk, 0, len(chunks))
	for _, c := range chunks {
		score, err := cosineSimilarity(query, c.Embedding)
		if err != nil {
			log.Printf("Skipping chunk %s during search: %v", c.ID, err)
			continue
		}
		scored = append(scored, ScoredChunk{Chunk: c, Score: score})
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if topK > 0 && len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

// Count returns the number of chunks in the conversation's index.
func (s *FileStore) Count(conversationID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chunks, err := s.readChunks(conversationID)
	if err != nil {
		return 0, err
	}
	return len(chunks), nil
}

// Delete removes the conversation's index directory entirely. Deleting a
// conversation that never had an index is a no-op.
func (s *FileStore) Delete(conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.RemoveAll(s.indexDir(conversationID)); err != nil {
		return fmt.Errorf("deleting vector index: %w", err)
	}
	return nil
}

// readChunks loads the conversation's chunk records. Callers hold s.mu.
func (s *FileStore) readChunks(conversationID string) ([]Chunk, error) {
	data, err := os.ReadFile(s.indexPath(conversationID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading index: %w", err)
	}
	var chunks []Chunk
	if err := json.Unmarshal(data, &chunks); err != nil {
		return nil, fmt.Errorf("decoding index: %w", err)
	}
	return chunks, nil
}

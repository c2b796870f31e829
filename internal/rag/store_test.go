package rag

import (
	"os"
	"testing"
	"time"
)

func newTestFileStore(t *testing.T) *FileStore {
	t.Helper()
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return store
}

func testChunk(id, source, text string, embedding []float32) Chunk {
	return Chunk{
		ID:        id,
		Source:    source,
		Text:      text,
		Embedding: embedding,
		CreatedAt: time.Now().UTC(),
	}
}

func TestFileStoreHasBeforeAndAfterAppend(t *testing.T) {
	store := newTestFileStore(t)

	if store.Has("conv1") {
		t.Fatal("Has() = true for a conversation with no index")
	}

	err := store.Append("conv1", []Chunk{testChunk("c1", "doc.txt", "hello", []float32{1, 0})})
	if err != nil {
		t.Fatal(err)
	}

	if !store.Has("conv1") {
		t.Fatal("Has() = false after Append")
	}
	if store.Has("conv2") {
		t.Fatal("Has() leaked across conversations")
	}
}

func TestFileStoreAppendAccumulates(t *testing.T) {
	store := newTestFileStore(t)

	if err := store.Append("conv1", []Chunk{testChunk("c1", "a.txt", "one", []float32{1, 0})}); err != nil {
		t.Fatal(err)
	}
	if err := store.Append("conv1", []Chunk{testChunk("c2", "b.txt", "two", []float32{0, 1})}); err != nil {
		t.Fatal(err)
	}

	n, err := store.Count("conv1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("Count() = %d, want 2", n)
	}
}

func TestFileStoreAppendNothingIsNoop(t *testing.T) {
	store := newTestFileStore(t)
	if err := store.Append("conv1", nil); err != nil {
		t.Fatal(err)
	}
	if store.Has("conv1") {
		t.Fatal("empty Append created an index")
	}
}

func TestFileStoreSearchRanksByCosine(t *testing.T) {
	store := newTestFileStore(t)

	err := store.Append("conv1", []Chunk{
		testChunk("c1", "doc.txt", "about cats", []float32{1, 0, 0}),
		testChunk("c2", "doc.txt", "about dogs", []float32{0, 1, 0}),
		testChunk("c3", "doc.txt", "about birds", []float32{0.9, 0.1, 0}),
	})
	if err != nil {
		t.Fatal(err)
	}

	results, err := store.Search("conv1", []float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].ID != "c1" {
		t.Fatalf("best match = %s, want c1", results[0].ID)
	}
	if results[1].ID != "c3" {
		t.Fatalf("second match = %s, want c3", results[1].ID)
	}
	if results[0].Score < results[1].Score {
		t.Fatal("results not sorted by descending score")
	}
}

func TestFileStoreSearchMissingIndex(t *testing.T) {
	store := newTestFileStore(t)

	results, err := store.Search("ghost", []float32{1, 0}, 4)
	if err != nil {
		t.Fatalf("Search on missing index returned error: %v", err)
	}
	if results != nil {
		t.Fatalf("Search on missing index returned %v, want nil", results)
	}
}

func TestFileStoreSearchSkipsMismatchedDimensions(t *testing.T) {
	store := newTestFileStore(t)

	err := store.Append("conv1", []Chunk{
		testChunk("good", "doc.txt", "fits", []float32{1, 0}),
		testChunk("bad", "doc.txt", "wrong dims", []float32{1, 0, 0}),
	})
	if err != nil {
		t.Fatal(err)
	}

	results, err := store.Search("conv1", []float32{1, 0}, 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].ID != "good" {
		t.Fatalf("results = %v, want just the matching-dimension chunk", results)
	}
}

func TestFileStoreDelete(t *testing.T) {
	store := newTestFileStore(t)

	if err := store.Append("conv1", []Chunk{testChunk("c1", "doc.txt", "text", []float32{1})}); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete("conv1"); err != nil {
		t.Fatal(err)
	}

	if store.Has("conv1") {
		t.Fatal("index still present after Delete")
	}
	if _, err := os.Stat(store.indexDir("conv1")); !os.IsNotExist(err) {
		t.Fatalf("index directory still exists: %v", err)
	}

	// Deleting again is a no-op.
	if err := store.Delete("conv1"); err != nil {
		t.Fatalf("second Delete returned %v", err)
	}
}

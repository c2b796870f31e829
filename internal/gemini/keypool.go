package gemini

import (
	"fmt"
	"sync"
)

// KeyPool holds an ordered list of API credentials and a cursor pointing at
// the one currently in use. Rotation is cyclic and mutex-protected so that
// concurrent requests rotating at the same time never skip or duplicate an
// index. The cursor lives in process memory only; a restart begins at 0.
type KeyPool struct {
	mu    sync.Mutex
	keys  []string
	index int
}

// NewKeyPool builds a pool from the configured credential list. An empty
// list is a startup error, not something callers can recover from.
func NewKeyPool(keys []string) (*KeyPool, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("key pool requires at least one API key")
	}
	cp := make([]string, len(keys))
	copy(cp, keys)
	return &KeyPool{keys: cp}, nil
}

// Current returns the active credential.
func (p *KeyPool) Current() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.keys[p.index]
}

// Rotate advances the cursor to the next credential, wrapping to the start,
// and returns the credential now active.
func (p *KeyPool) Rotate() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.index = (p.index + 1) % len(p.keys)
	return p.keys[p.index]
}

// Len returns the number of credentials in the pool.
func (p *KeyPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.keys)
}

// Index returns the current cursor position.
func (p *KeyPool) Index() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.index
}

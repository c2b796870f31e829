package core

import (
	"errors"
	"strings"
	"sync"
)

// ErrStreamAbandoned is returned by Push once the consumer has walked away.
var ErrStreamAbandoned = errors.New("stream abandoned by consumer")

// TextStream is a lazy sequence of response fragments with a finalizer that
// runs exactly once, no matter how the stream ends: producer completion,
// producer error, or the consumer abandoning mid-stream (client disconnect).
// The finalizer receives everything the producer pushed, which is how a
// partially delivered answer still gets persisted.
type TextStream struct {
	fragments chan string
	abandoned chan struct{}

	abandonOnce  sync.Once
	finalizeOnce sync.Once
	finalize     func(accumulated string)

	mu  sync.Mutex
	acc strings.Builder
}

func NewTextStream(finalize func(accumulated string)) *TextStream {
	return &TextStream{
		fragments: make(chan string, 16),
		abandoned: make(chan struct{}),
		finalize:  finalize,
	}
}

// Push delivers a fragment to the consumer and records it for the
// finalizer. Returns ErrStreamAbandoned once the consumer is gone; the
// producer should stop generating at that point.
func (s *TextStream) Push(fragment string) error {
	if fragment == "" {
		return nil
	}

	select {
	case <-s.abandoned:
		return ErrStreamAbandoned
	default:
	}

	s.mu.Lock()
	s.acc.WriteString(fragment)
	s.mu.Unlock()

	select {
	case <-s.abandoned:
		return ErrStreamAbandoned
	case s.fragments <- fragment:
		return nil
	}
}

// End marks the producer as finished and runs the finalizer. Producers must
// guarantee End on every exit path (defer it). The finalizer runs before the
// consumer observes end-of-stream, so once Recv reports done the accumulated
// text has already been handed off.
func (s *TextStream) End() {
	s.finalizeOnce.Do(func() {
		s.mu.Lock()
		text := s.acc.String()
		s.mu.Unlock()
		if s.finalize != nil {
			s.finalize(text)
		}
		close(s.fragments)
	})
}

// Recv returns the next fragment; ok is false once the producer has ended.
func (s *TextStream) Recv() (fragment string, ok bool) {
	fragment, ok = <-s.fragments
	return fragment, ok
}

// Abandon signals that the consumer will read no more. The producer's next
// Push fails, its deferred End still runs, and the finalizer still sees
// whatever was accumulated before the disconnect.
func (s *TextStream) Abandon() {
	s.abandonOnce.Do(func() {
		close(s.abandoned)
		// Drain so a producer blocked on a full channel can observe the
		// abandonment instead of parking forever.
		go func() {
			for range s.fragments {
			}
		}()
	})
}

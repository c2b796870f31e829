package gemini

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"google.golang.org/api/googleapi"
)

// Caller invokes an operation that performs exactly one external API call
// using the pool's current credential. When the call fails with a
// key-related error (quota exhausted, permission denied, invalid argument,
// or a wrapped SDK error that looks like one of those) the pool is rotated
// and the whole operation is re-run from scratch. Each key gets one attempt;
// once every key has been tried the last failure surfaces to the caller.
// Any other error propagates immediately without rotation.
//
// Streaming operations are re-invoked in full, so fragments already
// delivered to a consumer before a mid-stream failure are not rolled back.
type Caller struct {
	pool *KeyPool
}

func NewCaller(pool *KeyPool) *Caller {
	return &Caller{pool: pool}
}

// Do runs op with the current key, rotating and retrying on key-related
// failures, at most once per key in the pool.
func (c *Caller) Do(ctx context.Context, op func(ctx context.Context, apiKey string) error) error {
	attempts := c.pool.Len()
	var lastErr error

	for i := 0; i < attempts; i++ {
		err := op(ctx, c.pool.Current())
		if err == nil {
			return nil
		}
		if !isKeyError(err) {
			return err
		}

		lastErr = err
		log.Printf("API call failed with key index %d, rotating: %v", c.pool.Index(), err)
		c.pool.Rotate()
	}

	log.Printf("All %d API keys failed, giving up", attempts)
	return lastErr
}

// isKeyError reports whether err is one of the failure kinds that a fresh
// credential could fix. Matches on googleapi status codes when the SDK
// surfaces them, with a string fallback for wrapped transport errors.
func isKeyError(err error) bool {
	if err == nil {
		return false
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusTooManyRequests, http.StatusForbidden, http.StatusBadRequest:
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"quota",
		"resource exhausted",
		"resource_exhausted",
		"rate limit",
		"429",
		"permission denied",
		"permission_denied",
		"invalid argument",
		"invalid_argument",
		"api key not valid",
		"api_key_invalid",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

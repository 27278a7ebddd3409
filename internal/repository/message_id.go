package repository

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// idGenerator hands out (id, createdAt) pairs under one lock so that id
// order and timestamp order agree within a process.
type idGenerator struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func newIDGenerator() *idGenerator {
	return &idGenerator{entropy: ulid.Monotonic(rand.Reader, 0)}
}

func (g *idGenerator) next() (string, time.Time, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now().UTC().Truncate(time.Millisecond)
	id, err := ulid.New(ulid.Timestamp(now), g.entropy)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generate message id failed: %w", err)
	}
	return id.String(), now, nil
}

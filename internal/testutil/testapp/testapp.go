// Package testapp assembles a bootstrap.App over in-memory SQLite, the
// in-process broker and a scripted completion source.
package testapp

import (
	"context"
	"sync"
	"testing"
	"time"

	"gopherai-cochat/internal/ai"
	"gopherai-cochat/internal/bootstrap"
	"gopherai-cochat/internal/broker"
	"gopherai-cochat/internal/config"
	"gopherai-cochat/internal/pkg/jwtutil"
	"gopherai-cochat/internal/testutil"
)

const (
	JWTSecret = "test-secret"
	Issuer    = "cochat-test"
)

// Completion replays fixed chunks, optionally failing afterwards.
type Completion struct {
	mu     sync.Mutex
	Chunks []string
	Err    error
	calls  int
}

func (c *Completion) StreamComplete(ctx context.Context, _ ai.ChatConfig, _ []ai.ChatMessage, onChunk func(string) error) error {
	c.mu.Lock()
	chunks, failure := c.Chunks, c.Err
	c.calls++
	c.mu.Unlock()

	for _, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := onChunk(chunk); err != nil {
			return err
		}
	}
	return failure
}

func (c *Completion) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// New returns an app with workspace "ws-1" whose members are alice and bob.
func New(t *testing.T, completion *Completion) *bootstrap.App {
	t.Helper()

	db := testutil.NewDB(t)
	testutil.SeedWorkspace(t, db, "ws-1", "alice", "bob")

	mem := broker.NewMemory()
	t.Cleanup(func() { _ = mem.Close() })

	return &bootstrap.App{
		Config: &config.Config{
			App:  config.AppConfig{Name: "cochat-test", Env: "test", GinMode: "test"},
			Auth: config.AuthConfig{JWTSecret: JWTSecret, Issuer: Issuer},
			LLM: config.LLMConfig{
				BaseURL:           "http://llm.test",
				APIKey:            "test-key",
				Model:             "test-model",
				MaxContextMessage: 20,
			},
			Relay: config.RelayConfig{
				InactivityTimeoutSeconds: 5,
				FragmentBuffer:           16,
				FinalizeTimeoutSeconds:   5,
			},
			Broker: config.BrokerConfig{Backend: config.BrokerMemory, TopicPrefix: broker.DefaultTopicPrefix},
		},
		MySQL:      db,
		Broker:     mem,
		Completion: completion,
		StartedAt:  time.Now(),
	}
}

func Token(t *testing.T, userID string) string {
	t.Helper()
	token, err := jwtutil.GenerateToken(JWTSecret, Issuer, userID, userID, time.Hour)
	if err != nil {
		t.Fatalf("generate token failed: %v", err)
	}
	return token
}

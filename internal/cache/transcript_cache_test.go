package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redisv9 "github.com/redis/go-redis/v9"

	"gopherai-cochat/internal/model"
)

func newTestCache(t *testing.T) (*TranscriptCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redisv9.NewClient(&redisv9.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewTranscriptCache(client, time.Minute, 5*time.Second), mr
}

func TestTranscriptCacheRoundTrip(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	if _, hit, err := c.Get(ctx, "ws-1"); err != nil || hit {
		t.Fatalf("expected miss on empty cache: hit=%v err=%v", hit, err)
	}

	messages := []model.Message{{ID: "01A", WorkspaceID: "ws-1", Role: model.RoleUser, Content: "hi"}}
	if stored, err := c.SetIfVersion(ctx, "ws-1", 0, messages); err != nil || !stored {
		t.Fatalf("set failed: stored=%v err=%v", stored, err)
	}
	got, hit, err := c.Get(ctx, "ws-1")
	if err != nil || !hit {
		t.Fatalf("expected hit: hit=%v err=%v", hit, err)
	}
	if len(got) != 1 || got[0].ID != "01A" || got[0].Content != "hi" {
		t.Fatalf("unexpected cached transcript: %+v", got)
	}
}

func TestTranscriptCacheInvalidate(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	if _, err := c.SetIfVersion(ctx, "ws-1", 0, []model.Message{{ID: "01A"}}); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if err := c.Invalidate(ctx, "ws-1"); err != nil {
		t.Fatalf("invalidate failed: %v", err)
	}
	if _, hit, _ := c.Get(ctx, "ws-1"); hit {
		t.Fatalf("expected cached copy to be dropped")
	}
	dirty, err := c.IsDirty(ctx, "ws-1")
	if err != nil || !dirty {
		t.Fatalf("expected dirty marker: dirty=%v err=%v", dirty, err)
	}

	mr.FastForward(6 * time.Second)
	if dirty, _ := c.IsDirty(ctx, "ws-1"); dirty {
		t.Fatalf("dirty marker should expire")
	}
}

func TestTranscriptCacheRejectsRefillAfterInvalidate(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	version, err := c.Version(ctx, "ws-1")
	if err != nil || version != 0 {
		t.Fatalf("unexpected initial version: %d err=%v", version, err)
	}

	// a commit lands while the reader is still querying the database
	if err := c.Invalidate(ctx, "ws-1"); err != nil {
		t.Fatalf("invalidate failed: %v", err)
	}

	stored, err := c.SetIfVersion(ctx, "ws-1", version, []model.Message{{ID: "01A"}})
	if err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if stored {
		t.Fatalf("refill read before the invalidation must not be stored")
	}

	mr.FastForward(6 * time.Second)
	if _, hit, _ := c.Get(ctx, "ws-1"); hit {
		t.Fatalf("stale transcript served after dirty marker expired")
	}

	current, _ := c.Version(ctx, "ws-1")
	if current != version+1 {
		t.Fatalf("expected version %d, got %d", version+1, current)
	}
	if stored, err := c.SetIfVersion(ctx, "ws-1", current, []model.Message{{ID: "01A"}, {ID: "01B"}}); err != nil || !stored {
		t.Fatalf("fresh refill should be stored: stored=%v err=%v", stored, err)
	}
}

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redisv9 "github.com/redis/go-redis/v9"

	"gopherai-cochat/internal/model"
)

var errStaleTranscript = errors.New("transcript version changed")

// TranscriptCache is a cache-aside copy of a workspace transcript. Every
// invalidation bumps a per-workspace version; a refill is only stored if
// the version it read before querying the database is still current, so a
// slow reader cannot store a transcript that predates a concurrent commit.
// The dirty marker additionally skips reads right after a write.
type TranscriptCache struct {
	client         *redisv9.Client
	transcriptTTL  time.Duration
	dirtyMarkerTTL time.Duration
}

func NewTranscriptCache(client *redisv9.Client, transcriptTTL, dirtyMarkerTTL time.Duration) *TranscriptCache {
	if transcriptTTL <= 0 {
		transcriptTTL = 60 * time.Second
	}
	if dirtyMarkerTTL <= 0 {
		dirtyMarkerTTL = 5 * time.Second
	}
	return &TranscriptCache{
		client:         client,
		transcriptTTL:  transcriptTTL,
		dirtyMarkerTTL: dirtyMarkerTTL,
	}
}

func (c *TranscriptCache) Get(ctx context.Context, workspaceID string) ([]model.Message, bool, error) {
	raw, err := c.client.Get(ctx, c.transcriptKey(workspaceID)).Result()
	if errors.Is(err, redisv9.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get transcript failed: %w", err)
	}

	var messages []model.Message
	if err := json.Unmarshal([]byte(raw), &messages); err != nil {
		return nil, false, fmt.Errorf("unmarshal cached transcript failed: %w", err)
	}
	return messages, true, nil
}

// Version returns the workspace's invalidation counter. Read it before
// loading the transcript that will be passed to SetIfVersion.
func (c *TranscriptCache) Version(ctx context.Context, workspaceID string) (int64, error) {
	version, err := c.client.Get(ctx, c.versionKey(workspaceID)).Int64()
	if errors.Is(err, redisv9.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get transcript version failed: %w", err)
	}
	return version, nil
}

// SetIfVersion stores messages only when no invalidation happened since
// version was read. It reports whether the copy was stored.
func (c *TranscriptCache) SetIfVersion(ctx context.Context, workspaceID string, version int64, messages []model.Message) (bool, error) {
	payload, err := json.Marshal(messages)
	if err != nil {
		return false, fmt.Errorf("marshal transcript cache failed: %w", err)
	}

	versionKey := c.versionKey(workspaceID)
	err = c.client.Watch(ctx, func(tx *redisv9.Tx) error {
		current, err := tx.Get(ctx, versionKey).Int64()
		if errors.Is(err, redisv9.Nil) {
			current = 0
		} else if err != nil {
			return err
		}
		if current != version {
			return errStaleTranscript
		}
		_, err = tx.TxPipelined(ctx, func(pipe redisv9.Pipeliner) error {
			pipe.Set(ctx, c.transcriptKey(workspaceID), payload, c.transcriptTTL)
			return nil
		})
		return err
	}, versionKey)

	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errStaleTranscript), errors.Is(err, redisv9.TxFailedErr):
		return false, nil
	default:
		return false, fmt.Errorf("redis set transcript failed: %w", err)
	}
}

// Invalidate bumps the version, marks the workspace dirty and drops the
// cached copy.
func (c *TranscriptCache) Invalidate(ctx context.Context, workspaceID string) error {
	pipe := c.client.TxPipeline()
	pipe.Incr(ctx, c.versionKey(workspaceID))
	pipe.Set(ctx, c.dirtyKey(workspaceID), "1", c.dirtyMarkerTTL)
	pipe.Del(ctx, c.transcriptKey(workspaceID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis invalidate transcript failed: %w", err)
	}
	return nil
}

func (c *TranscriptCache) IsDirty(ctx context.Context, workspaceID string) (bool, error) {
	exists, err := c.client.Exists(ctx, c.dirtyKey(workspaceID)).Result()
	if err != nil {
		return false, fmt.Errorf("redis check dirty marker failed: %w", err)
	}
	return exists > 0, nil
}

func (c *TranscriptCache) transcriptKey(workspaceID string) string {
	return fmt.Sprintf("cochat:transcript:%s", workspaceID)
}

func (c *TranscriptCache) versionKey(workspaceID string) string {
	return fmt.Sprintf("cochat:transcript:version:%s", workspaceID)
}

func (c *TranscriptCache) dirtyKey(workspaceID string) string {
	return fmt.Sprintf("cochat:transcript:dirty:%s", workspaceID)
}

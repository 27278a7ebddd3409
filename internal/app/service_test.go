package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redisv9 "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"gopherai-cochat/internal/cache"
	"gopherai-cochat/internal/model"
	"gopherai-cochat/internal/repository"
	"gopherai-cochat/internal/testutil"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []model.Event
	topics []string
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, event model.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.topics = append(p.topics, topic)
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) snapshot() []model.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.Event(nil), p.events...)
}

func newMessageService(t *testing.T, publisher EventPublisher) (*MessageService, *gorm.DB) {
	t.Helper()
	db := testutil.NewDB(t)
	testutil.SeedWorkspace(t, db, "ws-1", "alice", "bob")
	svc := NewMessageService(
		repository.NewMessageRepository(db),
		repository.NewWorkspaceRepository(db),
		publisher,
		nil,
		"workspace:",
	)
	return svc, db
}

func TestSubmitThenList(t *testing.T) {
	pub := &recordingPublisher{}
	svc, _ := newMessageService(t, pub)
	ctx := context.Background()

	view, err := svc.Submit(ctx, SubmitInput{
		WorkspaceID: "ws-1", AuthorID: "alice", AuthorName: "Alice", Content: "    indented code\n", TempID: "tmp-1",
	})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if view.ID == "" || view.TempID != "tmp-1" || view.Content != "    indented code\n" {
		t.Fatalf("content should be stored verbatim: %+v", view)
	}
	if view.AuthorName != "Alice" {
		t.Fatalf("expected author name on the view, got %q", view.AuthorName)
	}
	if view.AuthorID == nil || *view.AuthorID != "alice" || view.Role != model.RoleUser {
		t.Fatalf("unexpected author fields: %+v", view.Message)
	}

	messages, err := svc.List(ctx, "ws-1", "bob")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(messages) != 1 || messages[0].ID != view.ID || messages[0].Content != "    indented code\n" {
		t.Fatalf("unexpected transcript: %+v", messages)
	}

	events := pub.snapshot()
	if len(events) != 1 {
		t.Fatalf("expected one broadcast, got %d", len(events))
	}
	if events[0].Type != model.EventMessageCreated || events[0].TempID != "tmp-1" || events[0].CanonicalID() != view.ID {
		t.Fatalf("unexpected event: %+v", events[0])
	}
	if events[0].AuthorName != "Alice" {
		t.Fatalf("expected author name on the broadcast, got %q", events[0].AuthorName)
	}
	if pub.topics[0] != "workspace:ws-1" {
		t.Fatalf("unexpected topic: %s", pub.topics[0])
	}
}

func TestSubmitValidation(t *testing.T) {
	pub := &recordingPublisher{}
	svc, _ := newMessageService(t, pub)

	tests := []struct {
		name  string
		input SubmitInput
		want  error
	}{
		{"empty content", SubmitInput{WorkspaceID: "ws-1", AuthorID: "alice", Content: "   "}, ErrMessageEmpty},
		{"anonymous", SubmitInput{WorkspaceID: "ws-1", Content: "hi"}, ErrUnauthorized},
		{"not a member", SubmitInput{WorkspaceID: "ws-1", AuthorID: "mallory", Content: "hi"}, ErrForbidden},
		{"unknown workspace", SubmitInput{WorkspaceID: "ws-404", AuthorID: "alice", Content: "hi"}, ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Submit(context.Background(), tt.input)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
	if !errors.Is(ErrMessageEmpty, ErrInvalidInput) {
		t.Fatalf("empty message should be an invalid input")
	}
	if len(pub.snapshot()) != 0 {
		t.Fatalf("rejected submissions must not broadcast")
	}
}

func TestSubmitSurvivesPublishFailure(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	svc, _ := newMessageService(t, pub)
	ctx := context.Background()

	view, err := svc.Submit(ctx, SubmitInput{WorkspaceID: "ws-1", AuthorID: "alice", Content: "still saved"})
	if err != nil {
		t.Fatalf("publish failure must not fail submit: %v", err)
	}
	messages, err := svc.List(ctx, "ws-1", "alice")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(messages) != 1 || messages[0].ID != view.ID {
		t.Fatalf("message should be persisted: %+v", messages)
	}
}

func TestEditAuthorization(t *testing.T) {
	pub := &recordingPublisher{}
	svc, _ := newMessageService(t, pub)
	ctx := context.Background()

	view, err := svc.Submit(ctx, SubmitInput{WorkspaceID: "ws-1", AuthorID: "alice", Content: "draft"})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	if _, err := svc.Edit(ctx, EditInput{MessageID: view.ID, EditorID: "bob", Content: "hijack"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, err := svc.Edit(ctx, EditInput{MessageID: "missing", EditorID: "alice", Content: "x"}); !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("expected message not found, got %v", err)
	}

	if _, err := svc.Edit(ctx, EditInput{MessageID: view.ID, EditorID: "alice", Content: " \n "}); !errors.Is(err, ErrMessageEmpty) {
		t.Fatalf("expected empty message, got %v", err)
	}

	edited, err := svc.Edit(ctx, EditInput{MessageID: view.ID, EditorID: "alice", Content: "  final"})
	if err != nil {
		t.Fatalf("edit failed: %v", err)
	}
	if edited.Content != "  final" || edited.ID != view.ID {
		t.Fatalf("unexpected edited message: %+v", edited)
	}

	events := pub.snapshot()
	if len(events) != 2 || events[1].Type != model.EventMessageUpdated || events[1].Message.Content != "  final" {
		t.Fatalf("unexpected events: %+v", events)
	}

	messages, _ := svc.List(ctx, "ws-1", "bob")
	if len(messages) != 1 || messages[0].Content != "  final" {
		t.Fatalf("edit not visible in transcript: %+v", messages)
	}
}

func TestDeleteBroadcastsAndRemoves(t *testing.T) {
	pub := &recordingPublisher{}
	svc, _ := newMessageService(t, pub)
	ctx := context.Background()

	view, err := svc.Submit(ctx, SubmitInput{WorkspaceID: "ws-1", AuthorID: "alice", Content: "oops"})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if err := svc.Delete(ctx, DeleteInput{MessageID: view.ID, RequesterID: "bob"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if err := svc.Delete(ctx, DeleteInput{MessageID: view.ID, RequesterID: "alice"}); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if err := svc.Delete(ctx, DeleteInput{MessageID: view.ID, RequesterID: "alice"}); !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("second delete should report not found, got %v", err)
	}

	events := pub.snapshot()
	last := events[len(events)-1]
	if last.Type != model.EventMessageDeleted || last.MessageID != view.ID || last.Message != nil {
		t.Fatalf("unexpected delete event: %+v", last)
	}
	messages, _ := svc.List(ctx, "ws-1", "alice")
	if len(messages) != 0 {
		t.Fatalf("expected empty transcript, got %+v", messages)
	}
}

func TestConcurrentSubmitsAllCommitted(t *testing.T) {
	pub := &recordingPublisher{}
	svc, _ := newMessageService(t, pub)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			author := "alice"
			if i%2 == 1 {
				author = "bob"
			}
			if _, err := svc.Submit(ctx, SubmitInput{WorkspaceID: "ws-1", AuthorID: author, Content: "msg"}); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent submit failed: %v", err)
	}

	messages, err := svc.List(ctx, "ws-1", "alice")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(messages) != n {
		t.Fatalf("expected %d messages, got %d", n, len(messages))
	}
	for i := 1; i < len(messages); i++ {
		prev, cur := messages[i-1], messages[i]
		if cur.CreatedAt.Before(prev.CreatedAt) || cur.ID <= prev.ID {
			t.Fatalf("transcript out of order at %d: %s then %s", i, prev.ID, cur.ID)
		}
	}
	if len(pub.snapshot()) != n {
		t.Fatalf("expected %d broadcasts, got %d", n, len(pub.snapshot()))
	}
}

// refillRacer commits a message between the transcript query and the cache
// refill, the window in which a stale transcript could be cached.
type refillRacer struct {
	*cache.TranscriptCache
	commit func()
	once   sync.Once
}

func (r *refillRacer) SetIfVersion(ctx context.Context, workspaceID string, version int64, messages []model.Message) (bool, error) {
	r.once.Do(r.commit)
	return r.TranscriptCache.SetIfVersion(ctx, workspaceID, version, messages)
}

func TestListDoesNotCacheTranscriptOvertakenByCommit(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redisv9.NewClient(&redisv9.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	db := testutil.NewDB(t)
	testutil.SeedWorkspace(t, db, "ws-1", "alice", "bob")
	racer := &refillRacer{TranscriptCache: cache.NewTranscriptCache(client, time.Minute, 5*time.Second)}
	svc := NewMessageService(
		repository.NewMessageRepository(db),
		repository.NewWorkspaceRepository(db),
		&recordingPublisher{},
		racer,
		"workspace:",
	)
	ctx := context.Background()

	var late *MessageView
	racer.commit = func() {
		var err error
		late, err = svc.Submit(ctx, SubmitInput{WorkspaceID: "ws-1", AuthorID: "alice", Content: "landed mid-read"})
		if err != nil {
			t.Errorf("submit failed: %v", err)
		}
	}

	first, err := svc.List(ctx, "ws-1", "bob")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(first) != 0 {
		t.Fatalf("first read predates the commit, got %+v", first)
	}

	// past the dirty marker the cache is consulted again
	mr.FastForward(6 * time.Second)

	second, err := svc.List(ctx, "ws-1", "bob")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if late == nil || len(second) != 1 || second[0].ID != late.ID {
		t.Fatalf("committed message missing from transcript: %+v", second)
	}
}

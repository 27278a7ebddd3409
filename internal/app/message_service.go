package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gopherai-cochat/internal/broker"
	"gopherai-cochat/internal/metrics"
	"gopherai-cochat/internal/model"
	"gopherai-cochat/internal/repository"
)

const publishTimeout = 3 * time.Second

type EventPublisher interface {
	Publish(ctx context.Context, topic string, event model.Event) error
}

type TranscriptCache interface {
	Get(ctx context.Context, workspaceID string) ([]model.Message, bool, error)
	Version(ctx context.Context, workspaceID string) (int64, error)
	SetIfVersion(ctx context.Context, workspaceID string, version int64, messages []model.Message) (bool, error)
	Invalidate(ctx context.Context, workspaceID string) error
	IsDirty(ctx context.Context, workspaceID string) (bool, error)
}

// MessageService is the ingest pipeline: validate, persist, then publish.
// Persistence errors are returned; publish errors are logged and dropped.
type MessageService struct {
	messageRepo   *repository.MessageRepository
	workspaceRepo *repository.WorkspaceRepository
	publisher     EventPublisher
	cache         TranscriptCache
	topicPrefix   string
}

type SubmitInput struct {
	WorkspaceID  string
	AuthorID     string
	Content      string
	TempID       string
	OriginConnID string
	// AuthorName is the display name from the caller's token. It travels
	// with the created event and the response but is not stored.
	AuthorName string
}

type EditInput struct {
	MessageID string
	EditorID  string
	Content   string
}

type DeleteInput struct {
	MessageID   string
	RequesterID string
}

// MessageView is a canonical message with the correlation token echoed
// back to its originator.
type MessageView struct {
	model.Message
	TempID     string `json:"temp_id,omitempty"`
	AuthorName string `json:"author_name,omitempty"`
}

func NewMessageService(
	messageRepo *repository.MessageRepository,
	workspaceRepo *repository.WorkspaceRepository,
	publisher EventPublisher,
	cache TranscriptCache,
	topicPrefix string,
) *MessageService {
	return &MessageService{
		messageRepo:   messageRepo,
		workspaceRepo: workspaceRepo,
		publisher:     publisher,
		cache:         cache,
		topicPrefix:   topicPrefix,
	}
}

func (s *MessageService) Submit(ctx context.Context, input SubmitInput) (*MessageView, error) {
	if input.AuthorID == "" {
		return nil, ErrUnauthorized
	}
	if strings.TrimSpace(input.WorkspaceID) == "" || len(input.TempID) > maxTempIDLength {
		return nil, ErrInvalidInput
	}
	if strings.TrimSpace(input.Content) == "" {
		return nil, ErrMessageEmpty
	}
	if err := s.Authorize(ctx, input.WorkspaceID, input.AuthorID); err != nil {
		return nil, err
	}

	authorID := input.AuthorID
	message := &model.Message{
		WorkspaceID: input.WorkspaceID,
		AuthorID:    &authorID,
		Role:        model.RoleUser,
		Content:     input.Content,
	}
	if err := s.persist(ctx, message); err != nil {
		return nil, err
	}
	s.publish(ctx, model.Event{
		Type:         model.EventMessageCreated,
		WorkspaceID:  message.WorkspaceID,
		Message:      message,
		TempID:       input.TempID,
		OriginConnID: input.OriginConnID,
		AuthorName:   input.AuthorName,
	})

	return &MessageView{Message: *message, TempID: input.TempID, AuthorName: input.AuthorName}, nil
}

func (s *MessageService) List(ctx context.Context, workspaceID, requesterID string) ([]model.Message, error) {
	if requesterID == "" {
		return nil, ErrUnauthorized
	}
	if strings.TrimSpace(workspaceID) == "" {
		return nil, ErrInvalidInput
	}
	if err := s.Authorize(ctx, workspaceID, requesterID); err != nil {
		return nil, err
	}

	var (
		version int64
		refill  bool
	)
	if s.cache != nil {
		dirty, err := s.cache.IsDirty(ctx, workspaceID)
		if err == nil && !dirty {
			if cached, hit, cacheErr := s.cache.Get(ctx, workspaceID); cacheErr == nil && hit {
				return cached, nil
			}
		}
		// the version must be read before the query so a commit that lands
		// in between rejects the refill
		if v, versionErr := s.cache.Version(ctx, workspaceID); versionErr == nil {
			version, refill = v, true
		}
	}

	messages, err := s.messageRepo.ListByWorkspaceID(ctx, workspaceID, 0)
	if err != nil {
		return nil, err
	}
	if refill {
		if stored, setErr := s.cache.SetIfVersion(ctx, workspaceID, version, messages); setErr != nil {
			slog.WarnContext(ctx, "transcript cache refill failed", "workspace_id", workspaceID, "err", setErr)
		} else if !stored {
			slog.DebugContext(ctx, "transcript cache refill skipped", "workspace_id", workspaceID)
		}
	}
	return messages, nil
}

func (s *MessageService) Edit(ctx context.Context, input EditInput) (*model.Message, error) {
	if input.EditorID == "" {
		return nil, ErrUnauthorized
	}
	if strings.TrimSpace(input.MessageID) == "" {
		return nil, ErrInvalidInput
	}
	if strings.TrimSpace(input.Content) == "" {
		return nil, ErrMessageEmpty
	}

	message, err := s.messageRepo.UpdateContent(ctx, input.MessageID, input.EditorID, input.Content)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	s.invalidate(ctx, message.WorkspaceID)
	s.publish(ctx, model.Event{
		Type:        model.EventMessageUpdated,
		WorkspaceID: message.WorkspaceID,
		Message:     message,
	})
	return message, nil
}

func (s *MessageService) Delete(ctx context.Context, input DeleteInput) error {
	if input.RequesterID == "" {
		return ErrUnauthorized
	}
	if strings.TrimSpace(input.MessageID) == "" {
		return ErrInvalidInput
	}

	removed, err := s.messageRepo.Delete(ctx, input.MessageID, input.RequesterID)
	if err != nil {
		return mapStoreErr(err)
	}
	s.invalidate(ctx, removed.WorkspaceID)
	s.publish(ctx, model.Event{
		Type:        model.EventMessageDeleted,
		WorkspaceID: removed.WorkspaceID,
		MessageID:   removed.ID,
	})
	return nil
}

// Authorize checks that the workspace exists and userID belongs to it.
func (s *MessageService) Authorize(ctx context.Context, workspaceID, userID string) error {
	exists, err := s.workspaceRepo.Exists(ctx, workspaceID)
	if err != nil {
		return err
	}
	if !exists {
		return ErrWorkspaceNotFound
	}
	member, err := s.workspaceRepo.IsMember(ctx, workspaceID, userID)
	if err != nil {
		return err
	}
	if !member {
		return ErrForbidden
	}
	return nil
}

func (s *MessageService) recent(ctx context.Context, workspaceID string, limit int) ([]model.Message, error) {
	return s.messageRepo.ListRecentByWorkspaceID(ctx, workspaceID, limit)
}

// persist is the write half of the pipeline, shared with the relay.
func (s *MessageService) persist(ctx context.Context, message *model.Message) error {
	if err := s.messageRepo.Append(ctx, message); err != nil {
		return mapStoreErr(err)
	}
	metrics.MessagesCommitted.WithLabelValues(message.Role).Inc()
	s.invalidate(ctx, message.WorkspaceID)
	slog.DebugContext(ctx, "message committed",
		"workspace_id", message.WorkspaceID, "message_id", message.ID, "role", message.Role)
	return nil
}

// publish runs on a context detached from the caller so that a request
// finishing right after its write still broadcasts.
func (s *MessageService) publish(ctx context.Context, event model.Event) {
	if s.publisher == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	topic := broker.Topic(s.topicPrefix, event.WorkspaceID)
	if err := s.publisher.Publish(pubCtx, topic, event); err != nil {
		metrics.PublishFailures.WithLabelValues(event.Type).Inc()
		slog.WarnContext(ctx, "fan-out publish failed",
			"err", fmt.Errorf("%w: %w", ErrBrokerUnavailable, err),
			"topic", topic, "type", event.Type, "message_id", event.CanonicalID(), "temp_id", event.TempID)
	}
}

func (s *MessageService) invalidate(ctx context.Context, workspaceID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(context.WithoutCancel(ctx), workspaceID); err != nil {
		slog.WarnContext(ctx, "transcript cache invalidate failed", "workspace_id", workspaceID, "err", err)
	}
}

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"gopherai-cochat/internal/ai"
	"gopherai-cochat/internal/metrics"
	"gopherai-cochat/internal/model"
)

// CompletionSource streams a completion for a prompt, calling onChunk per
// fragment in order. Returning from onChunk with an error aborts the stream.
type CompletionSource interface {
	StreamComplete(ctx context.Context, cfg ai.ChatConfig, messages []ai.ChatMessage, onChunk func(chunk string) error) error
}

type RelayConfig struct {
	LLM               ai.ChatConfig
	SystemPrompt      string
	MaxContext        int
	InactivityTimeout time.Duration
	FinalizeTimeout   time.Duration
	FragmentBuffer    int
}

type RelayState int32

const (
	StateRequested RelayState = iota
	StateStreaming
	StateFinalizing
	StateBroadcast
	StateClosed
	StateErrored
)

func (s RelayState) String() string {
	switch s {
	case StateRequested:
		return "requested"
	case StateStreaming:
		return "streaming"
	case StateFinalizing:
		return "finalizing"
	case StateBroadcast:
		return "broadcast"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

type CompletionInput struct {
	WorkspaceID string
	RequesterID string
	// Transcript is the conversation suffix the requester wants answered.
	// When empty the recent workspace transcript is used.
	Transcript []ai.ChatMessage
	TempID     string
}

// RelayService streams an upstream completion to one requester and, once
// the stream ends cleanly, commits the assembled reply exactly once.
type RelayService struct {
	messages *MessageService
	source   CompletionSource
	cfg      RelayConfig
}

func NewRelayService(messages *MessageService, source CompletionSource, cfg RelayConfig) *RelayService {
	if cfg.InactivityTimeout <= 0 {
		cfg.InactivityTimeout = 30 * time.Second
	}
	if cfg.FinalizeTimeout <= 0 {
		cfg.FinalizeTimeout = 10 * time.Second
	}
	if cfg.FragmentBuffer <= 0 {
		cfg.FragmentBuffer = 64
	}
	if cfg.MaxContext <= 0 {
		cfg.MaxContext = 50
	}
	return &RelayService{messages: messages, source: source, cfg: cfg}
}

// CompletionStream is the requester's handle on one relay. Fragments is
// closed when streaming stops; Wait then reports the committed message or
// the reason nothing was committed.
type CompletionStream struct {
	TempID string

	fragments chan string
	done      chan struct{}
	state     atomic.Int32

	mu      sync.Mutex
	message *model.Message
	err     error
}

func (s *CompletionStream) Fragments() <-chan string { return s.fragments }

func (s *CompletionStream) Done() <-chan struct{} { return s.done }

func (s *CompletionStream) State() RelayState { return RelayState(s.state.Load()) }

func (s *CompletionStream) Wait() (*model.Message, error) {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.message, s.err
}

func (s *CompletionStream) setState(state RelayState) { s.state.Store(int32(state)) }

// Start validates the request and begins relaying. Validation failures are
// returned before any upstream call is made.
func (s *RelayService) Start(ctx context.Context, input CompletionInput) (*CompletionStream, error) {
	if input.RequesterID == "" {
		return nil, ErrUnauthorized
	}
	input.TempID = strings.TrimSpace(input.TempID)
	if strings.TrimSpace(input.WorkspaceID) == "" || input.TempID == "" || len(input.TempID) > maxTempIDLength {
		return nil, ErrInvalidInput
	}
	if !s.cfg.LLM.Valid() {
		return nil, ErrLLMConfig
	}
	if err := s.messages.Authorize(ctx, input.WorkspaceID, input.RequesterID); err != nil {
		return nil, err
	}
	prompt, err := s.buildPrompt(ctx, input)
	if err != nil {
		return nil, err
	}

	stream := &CompletionStream{
		TempID:    input.TempID,
		fragments: make(chan string, s.cfg.FragmentBuffer),
		done:      make(chan struct{}),
	}
	stream.setState(StateRequested)
	go s.run(ctx, input, prompt, stream)
	return stream, nil
}

func (s *RelayService) buildPrompt(ctx context.Context, input CompletionInput) ([]ai.ChatMessage, error) {
	prompt := make([]ai.ChatMessage, 0, s.cfg.MaxContext+1)
	if s.cfg.SystemPrompt != "" {
		prompt = append(prompt, ai.ChatMessage{Role: "system", Content: s.cfg.SystemPrompt})
	}

	if len(input.Transcript) > 0 {
		suffix := input.Transcript
		if len(suffix) > s.cfg.MaxContext {
			suffix = suffix[len(suffix)-s.cfg.MaxContext:]
		}
		for _, m := range suffix {
			if !model.ValidRole(m.Role) {
				return nil, fmt.Errorf("%w: unsupported role %q", ErrInvalidInput, m.Role)
			}
			prompt = append(prompt, m)
		}
		return prompt, nil
	}

	recent, err := s.messages.recent(ctx, input.WorkspaceID, s.cfg.MaxContext)
	if err != nil {
		return nil, err
	}
	for _, m := range recent {
		prompt = append(prompt, ai.ChatMessage{Role: m.Role, Content: m.Content})
	}
	return prompt, nil
}

func (s *RelayService) run(ctx context.Context, input CompletionInput, prompt []ai.ChatMessage, stream *CompletionStream) {
	defer close(stream.done)
	log := slog.With("workspace_id", input.WorkspaceID, "temp_id", input.TempID)

	content, err := s.relay(ctx, prompt, stream)
	close(stream.fragments)
	if err != nil {
		s.fail(ctx, log, stream, err)
		return
	}

	stream.setState(StateFinalizing)
	finCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.FinalizeTimeout)
	defer cancel()

	message := &model.Message{
		WorkspaceID: input.WorkspaceID,
		Role:        model.RoleAssistant,
		Content:     content,
	}
	if err := s.messages.persist(finCtx, message); err != nil {
		s.fail(ctx, log, stream, err)
		return
	}

	stream.setState(StateBroadcast)
	s.messages.publish(finCtx, model.Event{
		Type:        model.EventMessageCreated,
		WorkspaceID: message.WorkspaceID,
		Message:     message,
		TempID:      input.TempID,
	})

	stream.mu.Lock()
	stream.message = message
	stream.mu.Unlock()
	stream.setState(StateClosed)
	metrics.CompletionsTotal.WithLabelValues("committed").Inc()
	log.InfoContext(ctx, "completion committed", "message_id", message.ID, "length", len(content))
}

// relay forwards fragments until the source finishes. The inactivity timer
// only runs while waiting on the source, never while blocked on the
// requester.
func (s *RelayService) relay(ctx context.Context, prompt []ai.ChatMessage, stream *CompletionStream) (string, error) {
	streamCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	timeout := s.cfg.InactivityTimeout
	timer := time.AfterFunc(timeout, func() { cancel(ErrCompletionTimeout) })
	defer timer.Stop()

	var buf strings.Builder
	stream.setState(StateStreaming)
	err := s.source.StreamComplete(streamCtx, s.cfg.LLM, prompt, func(chunk string) error {
		if !timer.Stop() {
			<-streamCtx.Done()
			return context.Cause(streamCtx)
		}
		buf.WriteString(chunk)
		select {
		case stream.fragments <- chunk:
		case <-streamCtx.Done():
			return context.Cause(streamCtx)
		}
		metrics.FragmentsForwarded.Inc()
		timer.Reset(timeout)
		return nil
	})
	if err == nil {
		return buf.String(), nil
	}

	switch cause := context.Cause(streamCtx); {
	case errors.Is(cause, ErrCompletionTimeout):
		return "", ErrCompletionTimeout
	case ctx.Err() != nil:
		return "", fmt.Errorf("%w: %w", ErrCompletionCanceled, ctx.Err())
	default:
		return "", fmt.Errorf("%w: %w", ErrCompletionFailure, err)
	}
}

func (s *RelayService) fail(ctx context.Context, log *slog.Logger, stream *CompletionStream, err error) {
	stream.mu.Lock()
	stream.err = err
	stream.mu.Unlock()
	stream.setState(StateErrored)

	outcome := "errored"
	switch {
	case errors.Is(err, ErrCompletionTimeout):
		outcome = "timeout"
	case errors.Is(err, ErrCompletionCanceled):
		outcome = "cancelled"
	}
	metrics.CompletionsTotal.WithLabelValues(outcome).Inc()
	log.WarnContext(ctx, "completion discarded", "outcome", outcome, "err", err)
}

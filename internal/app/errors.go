package app

import (
	"errors"
	"fmt"

	"gopherai-cochat/internal/repository"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrMessageEmpty = fmt.Errorf("%w: message content is empty", ErrInvalidInput)
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	ErrNotFound          = errors.New("not found")
	ErrWorkspaceNotFound = fmt.Errorf("workspace %w", ErrNotFound)
	ErrMessageNotFound   = fmt.Errorf("message %w", ErrNotFound)

	// ErrBrokerUnavailable is only ever logged; a failed publish never
	// fails the operation that committed the write.
	ErrBrokerUnavailable = errors.New("broker unavailable")

	ErrCompletionFailure  = errors.New("completion failed")
	ErrCompletionTimeout  = fmt.Errorf("%w: no fragment within inactivity timeout", ErrCompletionFailure)
	ErrCompletionCanceled = errors.New("completion canceled by requester")
	ErrLLMConfig          = errors.New("llm config is invalid")
)

const maxTempIDLength = 128

func mapStoreErr(err error) error {
	switch {
	case errors.Is(err, repository.ErrWorkspaceNotFound):
		return ErrWorkspaceNotFound
	case errors.Is(err, repository.ErrMessageNotFound):
		return ErrMessageNotFound
	case errors.Is(err, repository.ErrNotAuthor):
		return ErrForbidden
	default:
		return err
	}
}

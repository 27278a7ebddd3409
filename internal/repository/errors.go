package repository

import "errors"

var (
	ErrWorkspaceNotFound = errors.New("workspace not found")
	ErrMessageNotFound   = errors.New("message not found")
	ErrNotAuthor         = errors.New("requester is not the message author")
)

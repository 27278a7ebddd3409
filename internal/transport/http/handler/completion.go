package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"gopherai-cochat/internal/ai"
	"gopherai-cochat/internal/app"
	"gopherai-cochat/internal/transport/http/middleware"
	"gopherai-cochat/internal/transport/http/response"
)

const (
	EventChunk = "chunk"
	EventDone  = "done"
	EventError = "error"
)

type CompletionHandler struct {
	relay *app.RelayService
}

type CompletionRequest struct {
	Messages []ai.ChatMessage `json:"messages"`
	TempID   string           `json:"temp_id" binding:"required,max=128"`
}

type ChunkPayload struct {
	Delta string `json:"delta"`
}

type StreamErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func NewCompletionHandler(relay *app.RelayService) *CompletionHandler {
	return &CompletionHandler{relay: relay}
}

// Stream relays completion fragments to this requester only as SSE chunk
// events. The canonical message follows as a done event once committed;
// every other viewer receives it through the workspace topic.
func (h *CompletionHandler) Stream(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		unauthorized(c)
		return
	}

	var req CompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	stream, err := h.relay.Start(c.Request.Context(), app.CompletionInput{
		WorkspaceID: c.Param("id"),
		RequesterID: userID,
		Transcript:  req.Messages,
		TempID:      req.TempID,
	})
	if err != nil {
		writeError(c, err, "start completion failed")
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	for fragment := range stream.Fragments() {
		c.SSEvent(EventChunk, ChunkPayload{Delta: fragment})
		c.Writer.Flush()
	}

	message, err := stream.Wait()
	if err != nil {
		_, code, text := statusFor(err, "completion failed")
		c.SSEvent(EventError, StreamErrorPayload{Code: code, Message: text})
		c.Writer.Flush()
		return
	}
	c.SSEvent(EventDone, app.MessageView{Message: *message, TempID: stream.TempID})
	c.Writer.Flush()
}

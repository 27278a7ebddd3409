package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"gopherai-cochat/internal/app"
	"gopherai-cochat/internal/transport/http/middleware"
	"gopherai-cochat/internal/transport/http/response"
)

// HeaderConnectionID names the websocket connection that originated a
// write, so its own broadcast can be skipped.
const HeaderConnectionID = "X-Connection-ID"

type MessageHandler struct {
	messages *app.MessageService
}

type SubmitMessageRequest struct {
	Content string `json:"content" binding:"required"`
	TempID  string `json:"temp_id" binding:"max=128"`
}

type EditMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

func NewMessageHandler(messages *app.MessageService) *MessageHandler {
	return &MessageHandler{messages: messages}
}

func (h *MessageHandler) List(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		unauthorized(c)
		return
	}

	messages, err := h.messages.List(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		writeError(c, err, "list messages failed")
		return
	}
	response.OK(c, messages)
}

func (h *MessageHandler) Submit(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		unauthorized(c)
		return
	}

	var req SubmitMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	view, err := h.messages.Submit(c.Request.Context(), app.SubmitInput{
		WorkspaceID:  c.Param("id"),
		AuthorID:     userID,
		Content:      req.Content,
		TempID:       req.TempID,
		OriginConnID: strings.TrimSpace(c.GetHeader(HeaderConnectionID)),
		AuthorName:   middleware.UserName(c),
	})
	if err != nil {
		writeError(c, err, "submit message failed")
		return
	}
	response.Created(c, view)
}

func (h *MessageHandler) Edit(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		unauthorized(c)
		return
	}

	var req EditMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	message, err := h.messages.Edit(c.Request.Context(), app.EditInput{
		MessageID: c.Param("id"),
		EditorID:  userID,
		Content:   req.Content,
	})
	if err != nil {
		writeError(c, err, "edit message failed")
		return
	}
	response.OK(c, message)
}

func (h *MessageHandler) Delete(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		unauthorized(c)
		return
	}

	messageID := c.Param("id")
	if err := h.messages.Delete(c.Request.Context(), app.DeleteInput{
		MessageID:   messageID,
		RequesterID: userID,
	}); err != nil {
		writeError(c, err, "delete message failed")
		return
	}
	response.OK(c, gin.H{"deleted_message_id": messageID})
}

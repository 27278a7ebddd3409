package handler

import (
	"github.com/gin-gonic/gin"

	"gopherai-cochat/internal/app"
	"gopherai-cochat/internal/transport/http/middleware"
	"gopherai-cochat/internal/transport/ws"
)

type SubscriptionHandler struct {
	messages *app.MessageService
	server   *ws.Server
}

func NewSubscriptionHandler(messages *app.MessageService, server *ws.Server) *SubscriptionHandler {
	return &SubscriptionHandler{messages: messages, server: server}
}

// Subscribe checks membership before the upgrade so a rejected client gets
// a normal JSON error instead of a closed socket.
func (h *SubscriptionHandler) Subscribe(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		unauthorized(c)
		return
	}

	workspaceID := c.Param("id")
	if err := h.messages.Authorize(c.Request.Context(), workspaceID, userID); err != nil {
		writeError(c, err, "subscribe failed")
		return
	}
	h.server.ServeWorkspace(c.Writer, c.Request, workspaceID, userID)
}

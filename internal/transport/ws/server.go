package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"gopherai-cochat/internal/broker"
	"gopherai-cochat/internal/metrics"
	"gopherai-cochat/internal/model"
)

type Subscriber interface {
	Subscribe(ctx context.Context, topic string) (broker.Subscription, error)
}

type Server struct {
	upgrader    websocket.Upgrader
	subscriber  Subscriber
	topicPrefix string

	pingEvery    time.Duration
	writeTimeout time.Duration
}

func NewServer(subscriber Subscriber, topicPrefix string) *Server {
	return &Server{
		subscriber:  subscriber,
		topicPrefix: topicPrefix,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		pingEvery:    15 * time.Second,
		writeTimeout: 5 * time.Second,
	}
}

// ServeWorkspace upgrades the request and relays every event on the
// workspace topic until either side goes away. The caller has already
// authenticated userID and checked membership.
func (s *Server) ServeWorkspace(w http.ResponseWriter, r *http.Request, workspaceID, userID string) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	topic := broker.Topic(s.topicPrefix, workspaceID)
	sub, err := s.subscriber.Subscribe(ctx, topic)
	if err != nil {
		slog.Warn("ws subscribe failed", "topic", topic, "err", err)
		http.Error(w, "subscribe failed", http.StatusServiceUnavailable)
		return
	}
	defer func() { _ = sub.Close() }()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("ws upgrade failed", "workspace_id", workspaceID, "err", err)
		return
	}

	c := &wsConn{
		conn:        conn,
		id:          uuid.NewString(),
		workspaceID: workspaceID,
		userID:      userID,
	}
	log := slog.With("conn_id", c.id, "workspace_id", workspaceID, "user_id", userID)

	metrics.ActiveSubscribers.Inc()
	defer metrics.ActiveSubscribers.Dec()

	if err := c.send(s.writeTimeout, Frame{
		Type:    TypeHello,
		Payload: HelloPayload{ConnID: c.id, WorkspaceID: workspaceID},
	}); err != nil {
		log.Warn("ws send hello failed", "err", err)
		_ = conn.Close()
		return
	}
	log.Debug("ws subscribed")

	go s.readLoop(cancel, c)
	err = s.writeLoop(ctx, c, sub)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Debug("ws write loop ended", "err", err)
	}

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	if err := conn.Close(); err != nil {
		log.Debug("ws close failed", "err", err)
	}
	log.Debug("ws unsubscribed")
}

// readLoop only services control frames; clients write over HTTP.
func (s *Server) readLoop(cancel context.CancelFunc, c *wsConn) {
	defer cancel()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * s.pingEvery))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(2 * s.pingEvery))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writeLoop(ctx context.Context, c *wsConn, sub broker.Subscription) error {
	ticker := time.NewTicker(s.pingEvery)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return errors.New("subscription closed")
			}
			if !c.wants(ev) {
				continue
			}
			if err := c.send(s.writeTimeout, eventFrame(ev)); err != nil {
				return err
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.writeTimeout)); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

type wsConn struct {
	conn        *websocket.Conn
	id          string
	workspaceID string
	userID      string
}

// wants drops the echo of this connection's own submit. The origin id is
// only honoured when the message was written by this connection's user.
func (c *wsConn) wants(ev model.Event) bool {
	if ev.OriginConnID == "" || ev.OriginConnID != c.id {
		return true
	}
	if ev.Message == nil || ev.Message.AuthorID == nil {
		return true
	}
	return *ev.Message.AuthorID != c.userID
}

// eventFrame wraps an event for the wire without its origin connection id,
// which subscribers must not learn.
func eventFrame(ev model.Event) Frame {
	ev.OriginConnID = ""
	return Frame{Type: ev.Type, Payload: ev}
}

func (c *wsConn) send(timeout time.Duration, frame Frame) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(timeout))
	return c.conn.WriteJSON(frame)
}

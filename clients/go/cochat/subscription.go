package cochat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"gopherai-cochat/internal/model"
)

type frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Subscription applies workspace events to the client's transcript until
// it is closed or the connection drops.
type Subscription struct {
	conn *websocket.Conn
	done chan struct{}
	once sync.Once
}

func (s *Subscription) Done() <-chan struct{} { return s.done }

func (s *Subscription) Close() error {
	var err error
	s.once.Do(func() { err = s.conn.Close() })
	<-s.done
	return err
}

// Subscribe opens the workspace websocket and waits for the hello frame so
// that later writes carry this connection's id.
func (c *Client) Subscribe(ctx context.Context, workspaceID string) (*Subscription, error) {
	wsURL, err := c.websocketURL(workspaceID)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)
	conn, resp, err := c.dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return nil, readAPIError(resp)
		}
		return nil, fmt.Errorf("dial websocket failed: %w", err)
	}

	var hello frame
	if err := conn.ReadJSON(&hello); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("read hello failed: %w", err)
	}
	if hello.Type != "hello" {
		_ = conn.Close()
		return nil, fmt.Errorf("unexpected first frame %q", hello.Type)
	}
	var payload struct {
		ConnID string `json:"conn_id"`
	}
	_ = json.Unmarshal(hello.Payload, &payload)
	c.setConnID(payload.ConnID)

	sub := &Subscription{conn: conn, done: make(chan struct{})}
	go c.readEvents(sub)
	return sub, nil
}

func (c *Client) readEvents(sub *Subscription) {
	defer close(sub.done)
	defer func() {
		c.setConnID("")
		if dropped := c.transcript.DropPending(); dropped > 0 {
			slog.Debug("dropped unresolved entries", "count", dropped)
		}
	}()

	for {
		var f frame
		if err := sub.conn.ReadJSON(&f); err != nil {
			return
		}
		var event model.Event
		if err := json.Unmarshal(f.Payload, &event); err != nil {
			continue
		}
		c.transcript.Apply(event)
	}
}

func (c *Client) websocketURL(workspaceID string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url failed: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/v1/workspaces/" + workspaceID + "/ws"
	return u.String(), nil
}

// Package cochat is a Go client for the shared-transcript API. It keeps a
// local correlation.Transcript that converges on the server's record from
// write responses, completion streams and the workspace websocket.
package cochat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"gopherai-cochat/internal/ai"
	"gopherai-cochat/internal/correlation"
	"gopherai-cochat/internal/model"
)

var ErrStreamIncomplete = errors.New("completion stream ended without a result")

// APIError is a non-2xx response decoded from the {code, message} envelope.
type APIError struct {
	Status  int
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("cochat: %d (code %d): %s", e.Status, e.Code, e.Message)
}

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	dialer     *websocket.Dialer
	transcript *correlation.Transcript

	mu     sync.Mutex
	connID string
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

func WithDialer(dialer *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = dialer }
}

func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{},
		dialer:     &websocket.Dialer{HandshakeTimeout: 5 * time.Second},
		transcript: correlation.NewTranscript(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Transcript() *correlation.Transcript { return c.transcript }

// ConnID is the id announced by the server on the current subscription.
func (c *Client) ConnID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connID
}

func (c *Client) setConnID(id string) {
	c.mu.Lock()
	c.connID = id
	c.mu.Unlock()
}

// Load replaces the local transcript with the server's ordered list.
func (c *Client) Load(ctx context.Context, workspaceID string) error {
	var messages []model.Message
	if err := c.do(ctx, http.MethodGet, "/api/v1/workspaces/"+workspaceID+"/messages", nil, &messages); err != nil {
		return err
	}
	c.transcript.Reset(messages)
	return nil
}

// Submit renders content optimistically, posts it and resolves the pending
// entry from the response. The entry is dropped if the write is rejected.
func (c *Client) Submit(ctx context.Context, workspaceID, content string) (*model.Message, error) {
	tempID := uuid.NewString()
	if err := c.transcript.AddPending(tempID, model.Message{
		WorkspaceID: workspaceID,
		Role:        model.RoleUser,
		Content:     content,
	}); err != nil {
		return nil, err
	}

	body := map[string]string{"content": content, "temp_id": tempID}
	var view struct {
		model.Message
		TempID     string `json:"temp_id"`
		AuthorName string `json:"author_name"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/workspaces/"+workspaceID+"/messages", body, &view); err != nil {
		c.transcript.Drop(tempID)
		return nil, err
	}

	message := view.Message
	c.transcript.Apply(model.Event{
		Type:        model.EventMessageCreated,
		WorkspaceID: workspaceID,
		Message:     &message,
		TempID:      tempID,
		AuthorName:  view.AuthorName,
	})
	return &message, nil
}

func (c *Client) Edit(ctx context.Context, messageID, content string) (*model.Message, error) {
	var message model.Message
	if err := c.do(ctx, http.MethodPut, "/api/v1/messages/"+messageID, map[string]string{"content": content}, &message); err != nil {
		return nil, err
	}
	c.transcript.Apply(model.Event{Type: model.EventMessageUpdated, WorkspaceID: message.WorkspaceID, Message: &message})
	return &message, nil
}

func (c *Client) Delete(ctx context.Context, messageID string) error {
	if err := c.do(ctx, http.MethodDelete, "/api/v1/messages/"+messageID, nil, nil); err != nil {
		return err
	}
	c.transcript.Apply(model.Event{Type: model.EventMessageDeleted, MessageID: messageID})
	return nil
}

// Complete asks for an assistant reply. Fragments grow a pending
// placeholder and are passed to onFragment; the placeholder is replaced by
// the committed message or dropped on failure.
func (c *Client) Complete(ctx context.Context, workspaceID string, suffix []ai.ChatMessage, onFragment func(string)) (*model.Message, error) {
	tempID := uuid.NewString()
	if err := c.transcript.AddPending(tempID, model.Message{WorkspaceID: workspaceID, Role: model.RoleAssistant}); err != nil {
		return nil, err
	}

	message, err := c.complete(ctx, workspaceID, suffix, tempID, onFragment)
	if err != nil {
		c.transcript.Drop(tempID)
		return nil, err
	}
	c.transcript.Apply(model.Event{
		Type:        model.EventMessageCreated,
		WorkspaceID: workspaceID,
		Message:     message,
		TempID:      tempID,
	})
	return message, nil
}

func (c *Client) complete(ctx context.Context, workspaceID string, suffix []ai.ChatMessage, tempID string, onFragment func(string)) (*model.Message, error) {
	body := map[string]interface{}{"messages": suffix, "temp_id": tempID}
	resp, err := c.send(ctx, http.MethodPost, "/api/v1/workspaces/"+workspaceID+"/completions", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, readAPIError(resp)
	}

	var event, data string
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data += strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		case line == "":
			message, done, err := c.handleStreamEvent(event, data, tempID, onFragment)
			if err != nil || done {
				return message, err
			}
			event, data = "", ""
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read completion stream failed: %w", err)
	}
	return nil, ErrStreamIncomplete
}

func (c *Client) handleStreamEvent(event, data, tempID string, onFragment func(string)) (*model.Message, bool, error) {
	switch event {
	case "chunk":
		var chunk struct {
			Delta string `json:"delta"`
		}
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return nil, true, fmt.Errorf("decode chunk failed: %w", err)
		}
		c.transcript.AppendContent(tempID, chunk.Delta)
		if onFragment != nil {
			onFragment(chunk.Delta)
		}
		return nil, false, nil
	case "done":
		var message model.Message
		if err := json.Unmarshal([]byte(data), &message); err != nil {
			return nil, true, fmt.Errorf("decode done failed: %w", err)
		}
		return &message, true, nil
	case "error":
		apiErr := &APIError{Status: http.StatusOK}
		var payload struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal([]byte(data), &payload); err == nil {
			apiErr.Code, apiErr.Message = payload.Code, payload.Message
		}
		return nil, true, apiErr
	default:
		return nil, false, nil
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	resp, err := c.send(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return readAPIError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response failed: %w", err)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode response data failed: %w", err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request failed: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request failed: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if connID := c.ConnID(); connID != "" {
		req.Header.Set("X-Connection-ID", connID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s %s failed: %w", method, path, err)
	}
	return resp, nil
}

func readAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	var env struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err == nil && env.Message != "" {
		apiErr.Code, apiErr.Message = env.Code, env.Message
	}
	return apiErr
}

package http_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"gopherai-cochat/internal/model"
	"gopherai-cochat/internal/testutil/testapp"
	httptransport "gopherai-cochat/internal/transport/http"
	"gopherai-cochat/internal/transport/ws"
)

var errUpstream = errors.New("upstream reset")

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type messageView struct {
	model.Message
	TempID     string `json:"temp_id"`
	AuthorName string `json:"author_name"`
}

func newRouter(t *testing.T, completion *testapp.Completion) *gin.Engine {
	t.Helper()
	if completion == nil {
		completion = &testapp.Completion{}
	}
	return httptransport.NewRouter(testapp.New(t, completion))
}

func do(t *testing.T, router http.Handler, method, path, userID string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body failed: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+testapp.Token(t, userID))
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, data interface{}) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope failed: %v (body %s)", err, rec.Body.String())
	}
	if data != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, data); err != nil {
			t.Fatalf("decode data failed: %v", err)
		}
	}
	return env
}

func TestSubmitAndList(t *testing.T) {
	router := newRouter(t, nil)

	rec := do(t, router, http.MethodPost, "/api/v1/workspaces/ws-1/messages", "alice",
		map[string]string{"content": "hello team", "temp_id": "tmp-1"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	var view messageView
	decode(t, rec, &view)
	if view.ID == "" || view.TempID != "tmp-1" || view.Content != "hello team" {
		t.Fatalf("unexpected submit response: %+v", view)
	}
	if view.AuthorName != "alice" {
		t.Fatalf("expected author display name from the token, got %q", view.AuthorName)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected a request id header")
	}

	rec = do(t, router, http.MethodGet, "/api/v1/workspaces/ws-1/messages", "bob", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	var messages []model.Message
	decode(t, rec, &messages)
	if len(messages) != 1 || messages[0].ID != view.ID {
		t.Fatalf("unexpected transcript: %+v", messages)
	}
}

func TestErrorMapping(t *testing.T) {
	router := newRouter(t, nil)

	tests := []struct {
		name   string
		method string
		path   string
		user   string
		body   interface{}
		status int
		code   int
	}{
		{"no token", http.MethodGet, "/api/v1/workspaces/ws-1/messages", "", nil, 401, 40100},
		{"not a member", http.MethodGet, "/api/v1/workspaces/ws-1/messages", "mallory", nil, 403, 40300},
		{"unknown workspace", http.MethodGet, "/api/v1/workspaces/ws-404/messages", "alice", nil, 404, 40401},
		{"blank content", http.MethodPost, "/api/v1/workspaces/ws-1/messages", "alice", map[string]string{"content": "   "}, 400, 40001},
		{"missing content", http.MethodPost, "/api/v1/workspaces/ws-1/messages", "alice", map[string]string{}, 400, 40000},
		{"edit unknown", http.MethodPut, "/api/v1/messages/nope", "alice", map[string]string{"content": "x"}, 404, 40402},
		{"completion without temp id", http.MethodPost, "/api/v1/workspaces/ws-1/completions", "alice", map[string]string{}, 400, 40000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, router, tt.method, tt.path, tt.user, tt.body)
			if rec.Code != tt.status {
				t.Fatalf("expected status %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
			if env := decode(t, rec, nil); env.Code != tt.code {
				t.Fatalf("expected code %d, got %d", tt.code, env.Code)
			}
		})
	}
}

func TestEditAndDeleteRoutes(t *testing.T) {
	router := newRouter(t, nil)

	rec := do(t, router, http.MethodPost, "/api/v1/workspaces/ws-1/messages", "alice", map[string]string{"content": "v1"})
	var view messageView
	decode(t, rec, &view)

	rec = do(t, router, http.MethodPut, "/api/v1/messages/"+view.ID, "bob", map[string]string{"content": "mine now"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected forbidden, got %d", rec.Code)
	}
	rec = do(t, router, http.MethodPut, "/api/v1/messages/"+view.ID, "alice", map[string]string{"content": "v2"})
	if rec.Code != http.StatusOK {
		t.Fatalf("edit failed: %d %s", rec.Code, rec.Body.String())
	}

	rec = do(t, router, http.MethodDelete, "/api/v1/messages/"+view.ID, "alice", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete failed: %d %s", rec.Code, rec.Body.String())
	}
	rec = do(t, router, http.MethodGet, "/api/v1/workspaces/ws-1/messages", "alice", nil)
	var messages []model.Message
	decode(t, rec, &messages)
	if len(messages) != 0 {
		t.Fatalf("deleted message still listed: %+v", messages)
	}
}

type sseEvent struct {
	name string
	data string
}

func parseSSE(body string) []sseEvent {
	var events []sseEvent
	for _, block := range strings.Split(body, "\n\n") {
		var ev sseEvent
		for _, line := range strings.Split(block, "\n") {
			switch {
			case strings.HasPrefix(line, "event:"):
				ev.name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				ev.data += strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			}
		}
		if ev.name != "" {
			events = append(events, ev)
		}
	}
	return events
}

func TestCompletionStreamsChunksThenDone(t *testing.T) {
	router := newRouter(t, &testapp.Completion{Chunks: []string{"Hel", "lo"}})

	rec := do(t, router, http.MethodPost, "/api/v1/workspaces/ws-1/completions", "alice",
		map[string]interface{}{"temp_id": "tmp-a", "messages": []map[string]string{{"role": "user", "content": "hi"}}})
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("unexpected content type %q", ct)
	}

	events := parseSSE(rec.Body.String())
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %+v", events)
	}
	if events[0].name != "chunk" || events[1].name != "chunk" || events[2].name != "done" {
		t.Fatalf("unexpected event sequence: %+v", events)
	}
	var view messageView
	if err := json.Unmarshal([]byte(events[2].data), &view); err != nil {
		t.Fatalf("decode done payload failed: %v", err)
	}
	if view.Content != "Hello" || view.TempID != "tmp-a" || view.Role != model.RoleAssistant {
		t.Fatalf("unexpected done payload: %+v", view)
	}
}

func TestCompletionFailureEmitsErrorEvent(t *testing.T) {
	router := newRouter(t, &testapp.Completion{Chunks: []string{"Par"}, Err: errUpstream})

	rec := do(t, router, http.MethodPost, "/api/v1/workspaces/ws-1/completions", "alice",
		map[string]interface{}{"temp_id": "tmp-b"})
	events := parseSSE(rec.Body.String())
	if len(events) != 2 || events[1].name != "error" {
		t.Fatalf("expected chunk then error, got %+v", events)
	}

	rec = do(t, router, http.MethodGet, "/api/v1/workspaces/ws-1/messages", "alice", nil)
	var messages []model.Message
	decode(t, rec, &messages)
	if len(messages) != 0 {
		t.Fatalf("partial reply must not be persisted: %+v", messages)
	}
}

func TestHealthz(t *testing.T) {
	router := newRouter(t, nil)
	rec := do(t, router, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"broker"`) {
		t.Fatalf("health should report the broker: %s", rec.Body.String())
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]json.RawMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var frame map[string]json.RawMessage
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read frame failed: %v", err)
	}
	return frame
}

func TestWebsocketSkipsOwnEcho(t *testing.T) {
	router := newRouter(t, nil)
	srv := httptest.NewServer(router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/workspaces/ws-1/ws?access_token=" + testapp.Token(t, "alice")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	hello := readFrame(t, conn)
	var helloType string
	_ = json.Unmarshal(hello["type"], &helloType)
	var payload ws.HelloPayload
	_ = json.Unmarshal(hello["payload"], &payload)
	if helloType != ws.TypeHello || payload.ConnID == "" {
		t.Fatalf("unexpected hello frame: %s", hello["payload"])
	}

	submit := func(content, connID string) {
		raw, _ := json.Marshal(map[string]string{"content": content})
		req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/workspaces/ws-1/messages", bytes.NewReader(raw))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+testapp.Token(t, "alice"))
		if connID != "" {
			req.Header.Set("X-Connection-ID", connID)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("submit failed: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("unexpected submit status %d", resp.StatusCode)
		}
	}
	submit("from this tab", payload.ConnID)
	submit("from another tab", "conn-other-tab")

	frame := readFrame(t, conn)
	var event model.Event
	if err := json.Unmarshal(frame["payload"], &event); err != nil {
		t.Fatalf("decode event failed: %v", err)
	}
	if event.Type != model.EventMessageCreated || event.Message == nil || event.Message.Content != "from another tab" {
		t.Fatalf("expected only the other tab's message, got %+v", event)
	}
	if event.OriginConnID != "" {
		t.Fatalf("origin connection id leaked to subscriber: %q", event.OriginConnID)
	}
	if event.AuthorName != "alice" {
		t.Fatalf("expected author name on broadcast, got %q", event.AuthorName)
	}
}

func TestWebsocketRejectsNonMember(t *testing.T) {
	router := newRouter(t, nil)
	srv := httptest.NewServer(router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/workspaces/ws-1/ws?access_token=" + testapp.Token(t, "mallory")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatalf("expected handshake to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 handshake response, got %+v", resp)
	}
}

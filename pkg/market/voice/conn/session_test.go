package conn

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/agrimarket/pkg/core/assistant"
	"github.com/vango-go/agrimarket/pkg/market/auth"
	"github.com/vango-go/agrimarket/pkg/market/voice/hub"
	"github.com/vango-go/agrimarket/pkg/market/voice/protocol"
)

type fakeAssistant struct {
	mu     sync.Mutex
	inputs []assistant.Input
	err    error
}

func (f *fakeAssistant) Process(_ context.Context, in assistant.Input) (*assistant.Result, error) {
	f.mu.Lock()
	f.inputs = append(f.inputs, in)
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &assistant.Result{Text: in.Text, Response: "echo: " + in.Text, Stage: assistant.StageComplete}, nil
}

func (f *fakeAssistant) last() assistant.Input {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inputs[len(f.inputs)-1]
}

type frame struct {
	Type         string          `json:"type"`
	Message      string          `json:"message"`
	Code         int             `json:"code"`
	SessionID    string          `json:"sessionId"`
	MessageID    string          `json:"messageId"`
	ConnectionID string          `json:"connectionId"`
	UserID       int64           `json:"userId"`
	Status       string          `json:"status"`
	Content      json.RawMessage `json:"content"`
	Payload      json.RawMessage `json:"payload"`
}

type harness struct {
	hub      *hub.Hub
	sessions *auth.MemorySessions
	asst     *fakeAssistant
	url      string
	client   *websocket.Conn
	connID   string
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		hub:      hub.New(hub.Config{}, nil, nil),
		sessions: auth.NewMemorySessions(time.Hour),
		asst:     &fakeAssistant{},
	}
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s, err := New(Dependencies{
			Conn:      ws,
			Hub:       h.hub,
			Assistant: h.asst,
			Sessions:  h.sessions,
			Config:    cfg,
		})
		if err != nil {
			t.Errorf("New() error: %v", err)
			return
		}
		_ = s.Run()
	}))
	t.Cleanup(srv.Close)

	h.url = "ws" + strings.TrimPrefix(srv.URL, "http")
	h.client, h.connID = h.dial(t)
	return h
}

// dial opens another client connection and consumes its connected frame.
func (h *harness) dial(t *testing.T) (*websocket.Conn, string) {
	t.Helper()
	client, _, err := websocket.DefaultDialer.Dial(h.url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	f := readFrame(t, client)
	if f.Type != protocol.TypeConnected || f.ConnectionID == "" {
		t.Fatalf("first frame = %+v", f)
	}
	return client, f.ConnectionID
}

func readFrame(t *testing.T, c *websocket.Conn) frame {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(3 * time.Second))
	var f frame
	if err := c.ReadJSON(&f); err != nil {
		t.Fatalf("read: %v", err)
	}
	return f
}

func (h *harness) send(t *testing.T, v any) {
	t.Helper()
	if err := h.client.WriteJSON(v); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func (h *harness) read(t *testing.T) frame {
	t.Helper()
	return readFrame(t, h.client)
}

func (h *harness) readUntil(t *testing.T, typ string) frame {
	t.Helper()
	for i := 0; i < 10; i++ {
		if f := h.read(t); f.Type == typ {
			return f
		}
	}
	t.Fatalf("no %q frame received", typ)
	return frame{}
}

func TestSession_TextMessageTurn(t *testing.T) {
	h := newHarness(t, Config{})
	h.send(t, map[string]any{
		"type":    "message",
		"payload": map[string]any{"text": "hello", "language": "hi", "sessionId": "session_abc"},
	})

	if f := h.read(t); f.Type != protocol.TypeProcessingStarted {
		t.Fatalf("expected processing_started, got %+v", f)
	}
	f := h.read(t)
	if f.Type != protocol.TypeAIResponse || f.SessionID != "session_abc" {
		t.Fatalf("ai_response = %+v", f)
	}
	var res assistant.Result
	if err := json.Unmarshal(f.Content, &res); err != nil {
		t.Fatalf("content: %v", err)
	}
	if res.Response != "echo: hello" {
		t.Fatalf("response = %q", res.Response)
	}
	if in := h.asst.last(); in.Language != "hi" || in.Text != "hello" {
		t.Fatalf("assistant input = %+v", in)
	}
}

func TestSession_VoiceInputWithMessageIDIsTracked(t *testing.T) {
	h := newHarness(t, Config{})
	h.send(t, map[string]any{
		"type":      "voice_input",
		"audio":     base64.StdEncoding.EncodeToString([]byte("RIFF")),
		"format":    "wav",
		"messageId": "client-1",
	})

	f := h.readUntil(t, protocol.TypeAIResponse)
	if f.MessageID == "" {
		t.Fatalf("expected tracked message id")
	}
	if st := h.hub.Stats(); st.PendingAcks != 1 {
		t.Fatalf("pendingAcks = %d", st.PendingAcks)
	}
	if in := h.asst.last(); in.Format != "wav" || string(in.Audio) != "RIFF" || in.Language != assistant.DefaultLanguage {
		t.Fatalf("assistant input = %+v", in)
	}

	h.send(t, map[string]any{"type": "ack", "messageId": f.MessageID})
	if ack := h.read(t); ack.Type != protocol.TypeAck || ack.MessageID != f.MessageID {
		t.Fatalf("ack frame = %+v", ack)
	}
	if st := h.hub.Stats(); st.PendingAcks != 0 {
		t.Fatalf("pendingAcks after ack = %d", st.PendingAcks)
	}
}

func TestSession_BinaryFrameUsesSessionPrefix(t *testing.T) {
	h := newHarness(t, Config{})
	if err := h.client.WriteMessage(websocket.BinaryMessage, []byte("session_xyz:AUDIO")); err != nil {
		t.Fatalf("write: %v", err)
	}
	f := h.readUntil(t, protocol.TypeAIResponse)
	if f.SessionID != "session_xyz" {
		t.Fatalf("sessionId = %q", f.SessionID)
	}
	if in := h.asst.last(); string(in.Audio) != "AUDIO" || in.Format != "webm" {
		t.Fatalf("assistant input = %+v", in)
	}
}

func TestSession_ProcessingFailure(t *testing.T) {
	h := newHarness(t, Config{})
	h.asst.mu.Lock()
	h.asst.err = errors.New("boom")
	h.asst.mu.Unlock()
	h.send(t, map[string]any{"type": "message", "payload": map[string]any{"text": "hi"}})

	f := h.readUntil(t, protocol.TypeError)
	if f.Code != protocol.CodeProcessingFailed || !strings.Contains(f.Message, "Voice processing failed") {
		t.Fatalf("error frame = %+v", f)
	}
}

func TestSession_MalformedFrame(t *testing.T) {
	h := newHarness(t, Config{})
	if err := h.client.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if f := h.read(t); f.Type != protocol.TypeError || f.Code != protocol.CodeBadRequest {
		t.Fatalf("frame = %+v", f)
	}
}

func TestSession_PingAndInit(t *testing.T) {
	h := newHarness(t, Config{})
	h.send(t, map[string]any{"type": "ping"})
	if f := h.read(t); f.Type != protocol.TypePong {
		t.Fatalf("frame = %+v", f)
	}

	h.send(t, map[string]any{"type": "init", "payload": map[string]any{"sessionId": "session_mine"}})
	f := h.read(t)
	if f.Type != protocol.TypeInitResponse {
		t.Fatalf("frame = %+v", f)
	}
	var payload map[string]string
	_ = json.Unmarshal(f.Payload, &payload)
	if payload["sessionId"] != "session_mine" || payload["message"] != "Session initialized" {
		t.Fatalf("payload = %v", payload)
	}

	h.send(t, map[string]any{"type": "message", "payload": map[string]any{"text": "x"}})
	if f := h.readUntil(t, protocol.TypeAIResponse); f.SessionID != "session_mine" {
		t.Fatalf("sessionId = %q", f.SessionID)
	}
}

func TestSession_Auth(t *testing.T) {
	h := newHarness(t, Config{})
	h.send(t, map[string]any{"type": "auth", "token": "sess_bogus"})
	if f := h.read(t); f.Type != protocol.TypeAuthFailed || f.Code != protocol.CodeUnauthorized {
		t.Fatalf("frame = %+v", f)
	}

	token, err := h.sessions.Create(context.Background(), 42)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	h.send(t, map[string]any{"type": "auth", "token": token})
	f := h.read(t)
	if f.Type != protocol.TypeAuthSuccess || f.UserID != 42 {
		t.Fatalf("frame = %+v", f)
	}
	if st, ok := h.hub.State(f.ConnectionID); !ok || st.UserID != 42 {
		t.Fatalf("hub state = %+v ok=%v", st, ok)
	}
}

func TestSession_MessageRateLimit(t *testing.T) {
	h := newHarness(t, Config{MaxMessagesPerMinute: 2})
	h.send(t, map[string]any{"type": "ping"})
	h.send(t, map[string]any{"type": "ping"})
	h.send(t, map[string]any{"type": "ping"})

	h.read(t)
	h.read(t)
	if f := h.read(t); f.Type != protocol.TypeError || f.Code != protocol.CodeRateLimited {
		t.Fatalf("frame = %+v", f)
	}
}

func TestSession_VoiceCooldown(t *testing.T) {
	h := newHarness(t, Config{VoiceCooldown: time.Hour})
	h.send(t, map[string]any{"type": "message", "payload": map[string]any{"text": "one"}})
	h.send(t, map[string]any{"type": "message", "payload": map[string]any{"text": "two"}})

	f := h.readUntil(t, protocol.TypeError)
	if f.Code != protocol.CodeRateLimited {
		t.Fatalf("frame = %+v", f)
	}
}

func TestSession_Warning(t *testing.T) {
	s, err := New(Dependencies{Conn: &websocket.Conn{}, Hub: hub.New(hub.Config{}, nil, nil), Assistant: &fakeAssistant{}})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if err := s.SendWarning("draining", "server restarting"); err != nil {
		t.Fatalf("SendWarning: %v", err)
	}
	var f protocol.Warning
	if err := json.Unmarshal(<-s.priority, &f); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if f.Type != protocol.TypeWarning || f.Code != "draining" || f.Message != "server restarting" {
		t.Fatalf("frame = %+v", f)
	}
	s.Cancel()
	if s.Send([]byte("x")) {
		t.Fatalf("Send after Cancel should fail")
	}
}

func TestSession_TranscriptBroadcastsToEveryClient(t *testing.T) {
	h := newHarness(t, Config{})
	other, _ := h.dial(t)

	h.send(t, map[string]any{"type": "transcript", "content": "paddy looks yellow"})

	for name, c := range map[string]*websocket.Conn{"sender": h.client, "other": other} {
		f := readFrame(t, c)
		if f.Type != protocol.TypeResponse || string(f.Content) != `"Received: paddy looks yellow"` {
			t.Fatalf("%s frame = %+v content=%s", name, f, f.Content)
		}
	}
}

func waitOffline(t *testing.T, hb *hub.Hub, connID string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		if st, ok := hb.State(connID); ok && !st.Online {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("connection %s never went offline", connID)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSession_ReconnectRestoresStateAndFlushesQueue(t *testing.T) {
	h := newHarness(t, Config{})
	token, err := h.sessions.Create(context.Background(), 42)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	h.send(t, map[string]any{"type": "auth", "token": token})
	if f := h.read(t); f.Type != protocol.TypeAuthSuccess || f.UserID != 42 {
		t.Fatalf("auth frame = %+v", f)
	}

	previous := h.connID
	_ = h.client.Close()
	waitOffline(t, h.hub, previous)

	if delivered, queued := h.hub.SendToUser(42, protocol.Server{Type: protocol.TypeBidWon, ProductID: 7, Amount: 150}); delivered != 0 || !queued {
		t.Fatalf("SendToUser: delivered=%d queued=%v", delivered, queued)
	}

	client, _ := h.dial(t)
	if err := client.WriteJSON(map[string]any{"type": "reconnect", "connectionId": previous, "token": token}); err != nil {
		t.Fatalf("write: %v", err)
	}

	var reconnected, won *frame
	for i := 0; i < 4 && (reconnected == nil || won == nil); i++ {
		f := readFrame(t, client)
		switch f.Type {
		case protocol.TypeReconnected:
			reconnected = &f
		case protocol.TypeBidWon:
			won = &f
		}
	}
	if reconnected == nil || won == nil {
		t.Fatalf("reconnected=%v bid_won=%v", reconnected, won)
	}
	var payload struct {
		PreviousConnectionID string `json:"previousConnectionId"`
		Restored             bool   `json:"restored"`
		Flushed              int    `json:"flushed"`
	}
	if err := json.Unmarshal(reconnected.Payload, &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if !payload.Restored || payload.Flushed != 1 || payload.PreviousConnectionID != previous || reconnected.UserID != 42 {
		t.Fatalf("reconnected = %+v payload=%+v", reconnected, payload)
	}
	if won.MessageID == "" {
		t.Fatalf("bid_won should carry a message id: %+v", won)
	}
	if _, ok := h.hub.State(previous); ok {
		t.Fatalf("previous connection state should have been moved")
	}
	if st := h.hub.Stats(); st.Reconnections != 1 {
		t.Fatalf("reconnections = %d", st.Reconnections)
	}
}

func TestSession_ReconnectWithBadTokenFails(t *testing.T) {
	h := newHarness(t, Config{})
	h.send(t, map[string]any{"type": "reconnect", "connectionId": "conn_gone", "token": "not-a-token"})
	f := h.read(t)
	if f.Type != protocol.TypeAuthFailed || f.Code != protocol.CodeUnauthorized {
		t.Fatalf("frame = %+v", f)
	}
	if st, ok := h.hub.State(h.connID); !ok || st.UserID != 0 {
		t.Fatalf("state = %+v ok=%v", st, ok)
	}
}

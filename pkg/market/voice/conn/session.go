// Package conn runs one /ws voice connection: it reads client frames,
// drives assistant turns and writes replies through a single writer
// goroutine.
package conn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vango-go/agrimarket/pkg/core"
	"github.com/vango-go/agrimarket/pkg/core/assistant"
	"github.com/vango-go/agrimarket/pkg/market/auth"
	"github.com/vango-go/agrimarket/pkg/market/metrics"
	"github.com/vango-go/agrimarket/pkg/market/voice/hub"
	"github.com/vango-go/agrimarket/pkg/market/voice/protocol"
)

// Processor runs one assistant turn.
type Processor interface {
	Process(ctx context.Context, in assistant.Input) (*assistant.Result, error)
}

type Config struct {
	PingInterval         time.Duration
	WriteTimeout         time.Duration
	MaxPayloadBytes      int64
	MaxMessagesPerMinute int
	VoiceCooldown        time.Duration
	OutboundQueue        int
	TurnTimeout          time.Duration
	DefaultLanguage      string
	DefaultAudioFormat   string
}

type Dependencies struct {
	Conn      *websocket.Conn
	Hub       *hub.Hub
	Assistant Processor
	Sessions  auth.SessionStore
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	Config    Config

	ConnectionID string
	// UserID is the login resolved from the upgrade request, 0 when anonymous.
	UserID int64
}

type turn struct {
	input     assistant.Input
	messageID string
	kind      string
}

type Session struct {
	conn      *websocket.Conn
	hub       *hub.Hub
	assistant Processor
	sessions  auth.SessionStore
	logger    *slog.Logger
	metrics   *metrics.Metrics
	cfg       Config
	id        string
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	priority chan []byte
	normal   chan []byte
	turns    chan turn

	mu        sync.Mutex
	userID    int64
	sessionID string
	recent    []time.Time
	lastVoice time.Time
}

func New(deps Dependencies) (*Session, error) {
	if deps.Conn == nil || deps.Hub == nil || deps.Assistant == nil {
		return nil, errors.New("conn: Conn, Hub and Assistant are required")
	}
	cfg := deps.Config
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.OutboundQueue <= 0 {
		cfg.OutboundQueue = 64
	}
	if cfg.DefaultLanguage == "" {
		cfg.DefaultLanguage = assistant.DefaultLanguage
	}
	if cfg.DefaultAudioFormat == "" {
		cfg.DefaultAudioFormat = "webm"
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	id := deps.ConnectionID
	if id == "" {
		id = "conn_" + uuid.NewString()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		conn:      deps.Conn,
		hub:       deps.Hub,
		assistant: deps.Assistant,
		sessions:  deps.Sessions,
		logger:    logger.With("connection_id", id),
		metrics:   deps.Metrics,
		cfg:       cfg,
		id:        id,
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
		priority:  make(chan []byte, 16),
		normal:    make(chan []byte, cfg.OutboundQueue),
		turns:     make(chan turn, 2),
		userID:    deps.UserID,
		sessionID: "session_" + strings.TrimPrefix(id, "conn_"),
	}, nil
}

func (s *Session) ID() string { return s.id }

// Send queues a normal-priority frame without blocking.
func (s *Session) Send(frame []byte) bool {
	select {
	case <-s.ctx.Done():
		return false
	default:
	}
	select {
	case s.normal <- frame:
		return true
	default:
		return false
	}
}

func (s *Session) Cancel() {
	s.cancel()
}

// SendWarning notifies the client, e.g. that the server is draining.
func (s *Session) SendWarning(code, message string) error {
	b, err := json.Marshal(protocol.WarningFrame(code, message))
	if err != nil {
		return err
	}
	if !s.pushPriority(b) {
		return errors.New("outbound queue full")
	}
	return nil
}

// Run blocks until the client disconnects or the session is cancelled.
func (s *Session) Run() error {
	defer s.cancel()

	s.hub.Register(s)
	defer s.hub.Unregister(s.id)
	if uid := s.currentUser(); uid != 0 {
		s.hub.Authenticate(s.id, uid)
	}

	var wg sync.WaitGroup
	writerErr := make(chan error, 1)
	w := &outboundWriter{
		ws:           s.conn,
		ctx:          s.ctx,
		pingInterval: s.cfg.PingInterval,
		writeTimeout: s.cfg.WriteTimeout,
		priority:     s.priority,
		normal:       s.normal,
	}
	wg.Add(2)
	go func() {
		defer wg.Done()
		err := w.Run()
		writerErr <- err
		s.cancel()
	}()
	go func() {
		defer wg.Done()
		s.runTurns()
	}()

	s.sendPriority(protocol.Server{
		Type:         protocol.TypeConnected,
		ConnectionID: s.id,
		SessionID:    s.currentSession(),
		Message:      "Connected to voice assistant",
	})

	readErr := s.readLoop()
	s.cancel()
	wg.Wait()

	if err := <-writerErr; err != nil && !isClosed(err) {
		return err
	}
	if readErr != nil && !isClosed(readErr) && s.ctx.Err() == nil {
		return readErr
	}
	return nil
}

func (s *Session) readLoop() error {
	if s.cfg.MaxPayloadBytes > 0 {
		s.conn.SetReadLimit(s.cfg.MaxPayloadBytes)
	}
	// A client that misses two pings in a row is gone.
	deadline := 2 * s.cfg.PingInterval
	_ = s.conn.SetReadDeadline(time.Now().Add(deadline))
	s.conn.SetPongHandler(func(string) error {
		s.hub.Touch(s.id)
		return s.conn.SetReadDeadline(time.Now().Add(deadline))
	})

	go func() {
		<-s.ctx.Done()
		// Unblock ReadMessage on cancellation.
		_ = s.conn.SetReadDeadline(time.Now())
	}()

	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(deadline))
		s.handle(msgType, data)
	}
}

func (s *Session) handle(msgType int, data []byte) {
	s.hub.Touch(s.id)
	if !s.allowMessage() {
		s.sendError(protocol.CodeRateLimited, "Too many messages. Please slow down.")
		return
	}

	if msgType == websocket.BinaryMessage {
		s.hub.RecordMessage("binary")
		sid, audio := protocol.SplitSessionPrefix(data)
		if sid == "" {
			sid = s.currentSession()
		}
		if len(audio) == 0 {
			s.sendError(protocol.CodeBadRequest, "empty audio frame")
			return
		}
		s.enqueueTurn(turn{
			kind: "binary",
			input: assistant.Input{
				Audio:     audio,
				Format:    s.cfg.DefaultAudioFormat,
				Language:  s.cfg.DefaultLanguage,
				SessionID: sid,
			},
		})
		return
	}

	decoded, err := protocol.DecodeClientMessage(data)
	if err != nil {
		s.hub.RecordMessage("invalid")
		s.sendError(protocol.CodeBadRequest, err.Error())
		return
	}

	switch msg := decoded.(type) {
	case protocol.VoiceInput:
		s.hub.RecordMessage(msg.Type)
		sid := msg.SessionID
		if sid == "" {
			sid = s.currentSession()
		}
		format := msg.Format
		if format == "" {
			format = s.cfg.DefaultAudioFormat
		}
		s.enqueueTurn(turn{
			kind:      "voice",
			messageID: msg.MessageID,
			input: assistant.Input{
				Audio:     msg.AudioBytes,
				Format:    format,
				Language:  s.language(msg.Language),
				SessionID: sid,
			},
		})
	case protocol.Message:
		s.hub.RecordMessage(msg.Type)
		sid := msg.Payload.SessionID
		if sid == "" {
			sid = s.currentSession()
		}
		s.enqueueTurn(turn{
			kind:      "text",
			messageID: msg.MessageID,
			input: assistant.Input{
				Text:      msg.Payload.Text,
				Language:  s.language(msg.Payload.Language),
				SessionID: sid,
			},
		})
	case protocol.Transcript:
		s.hub.RecordMessage(msg.Type)
		s.hub.Broadcast(protocol.Server{Type: protocol.TypeResponse, Content: "Received: " + msg.Content})
	case protocol.Auth:
		s.hub.RecordMessage(msg.Type)
		s.authenticate(msg.Token)
	case protocol.Ping:
		s.hub.RecordMessage(msg.Type)
		s.sendPriority(protocol.Server{Type: protocol.TypePong, Timestamp: s.now().UnixMilli()})
	case protocol.Ack:
		s.hub.RecordMessage(msg.Type)
		if s.hub.Ack(s.id, msg.MessageID) {
			s.sendPriority(protocol.Server{Type: protocol.TypeAck, MessageID: msg.MessageID})
		}
	case protocol.Reconnect:
		s.hub.RecordMessage(msg.Type)
		s.reconnect(msg)
	case protocol.Init:
		s.hub.RecordMessage(msg.Type)
		sid := strings.TrimSpace(msg.Payload.SessionID)
		if sid == "" {
			sid = "session_" + uuid.NewString()
		}
		s.mu.Lock()
		s.sessionID = sid
		s.mu.Unlock()
		s.sendPriority(protocol.Server{
			Type:    protocol.TypeInitResponse,
			Payload: map[string]string{"sessionId": sid, "message": "Session initialized"},
		})
	}
}

func (s *Session) authenticate(token string) {
	if s.sessions == nil {
		s.sendAuthFailed("authentication unavailable")
		return
	}
	userID, err := s.sessions.Get(s.ctx, token)
	if err != nil {
		if !errors.Is(err, auth.ErrSessionNotFound) {
			s.logger.Warn("ws auth lookup failed", "error", err)
		}
		s.sendAuthFailed("invalid or expired token")
		return
	}
	s.mu.Lock()
	s.userID = userID
	s.mu.Unlock()
	flushed := s.hub.Authenticate(s.id, userID)
	s.logger.Info("ws authenticated", "user_id", userID, "flushed", flushed)
	s.sendPriority(protocol.Server{Type: protocol.TypeAuthSuccess, UserID: userID, ConnectionID: s.id})
}

func (s *Session) reconnect(msg protocol.Reconnect) {
	if s.sessions == nil {
		s.sendAuthFailed("authentication unavailable")
		return
	}
	userID, err := s.sessions.Get(s.ctx, msg.Token)
	if err != nil {
		s.sendAuthFailed("invalid or expired token")
		return
	}
	s.mu.Lock()
	s.userID = userID
	s.mu.Unlock()

	flushed, ok := s.hub.Restore(s.id, msg.ConnectionID, userID)
	if !ok {
		// Nothing to restore; treat as a fresh login.
		flushed = s.hub.Authenticate(s.id, userID)
	}
	s.logger.Info("ws reconnected", "user_id", userID, "previous_connection_id", msg.ConnectionID, "restored", ok, "flushed", flushed)
	s.sendPriority(protocol.Server{
		Type:         protocol.TypeReconnected,
		ConnectionID: s.id,
		UserID:       userID,
		Payload:      map[string]any{"previousConnectionId": msg.ConnectionID, "restored": ok, "flushed": flushed},
	})
}

func (s *Session) sendAuthFailed(reason string) {
	s.hub.RecordError("auth failed: " + reason)
	s.metrics.RecordWSError(protocol.CodeUnauthorized)
	s.sendPriority(protocol.Server{Type: protocol.TypeAuthFailed, Code: protocol.CodeUnauthorized, Message: reason})
}

// allowMessage enforces MaxMessagesPerMinute over a sliding window.
func (s *Session) allowMessage() bool {
	if s.cfg.MaxMessagesPerMinute <= 0 {
		return true
	}
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := now.Add(-time.Minute)
	kept := s.recent[:0]
	for _, t := range s.recent {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.recent = kept
	if len(s.recent) >= s.cfg.MaxMessagesPerMinute {
		return false
	}
	s.recent = append(s.recent, now)
	return true
}

func (s *Session) enqueueTurn(t turn) {
	now := s.now()
	s.mu.Lock()
	if s.cfg.VoiceCooldown > 0 && !s.lastVoice.IsZero() && now.Sub(s.lastVoice) < s.cfg.VoiceCooldown {
		s.mu.Unlock()
		s.sendError(protocol.CodeRateLimited, "Please wait before sending another voice message.")
		return
	}
	s.lastVoice = now
	s.mu.Unlock()

	select {
	case s.turns <- t:
	default:
		s.sendError(protocol.CodeRateLimited, "Voice processing in progress. Please wait.")
	}
}

func (s *Session) runTurns() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case t := <-s.turns:
			s.runTurn(t)
		}
	}
}

func (s *Session) runTurn(t turn) {
	s.sendPriority(protocol.Server{
		Type:      protocol.TypeProcessingStarted,
		Message:   "Your voice is being processed...",
		SessionID: t.input.SessionID,
	})

	ctx := s.ctx
	if s.cfg.TurnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.TurnTimeout)
		defer cancel()
	}

	start := s.now()
	res, err := s.assistant.Process(ctx, t.input)
	if err != nil {
		if s.ctx.Err() != nil {
			return
		}
		s.metrics.RecordVoiceTurn("unknown", "error", time.Since(start))
		s.logger.Warn("voice turn failed", "session_id", t.input.SessionID, "error", err)
		s.sendError(protocol.CodeProcessingFailed, "Voice processing failed: "+errorMessage(err))
		return
	}

	mode := "advice"
	if res.ProfileCreation {
		mode = "profile"
	}
	s.metrics.RecordVoiceTurn(mode, "ok", time.Since(start))

	frame := protocol.Server{
		Type:      protocol.TypeAIResponse,
		Content:   res,
		SessionID: t.input.SessionID,
		MessageID: t.messageID,
	}
	// Clients that tag their input with a messageId take part in ack
	// tracking; others get a plain reply.
	if t.messageID != "" {
		if _, ok := s.hub.SendTracked(s.id, frame); !ok {
			s.hub.RecordError("outbound queue full")
		}
		return
	}
	s.sendNormal(frame)
}

func (s *Session) sendError(code int, message string) {
	s.hub.RecordError(message)
	s.metrics.RecordWSError(code)
	s.sendPriority(protocol.ErrorFrame(code, message))
}

func (s *Session) sendPriority(frame protocol.Server) bool {
	b, err := json.Marshal(frame)
	if err != nil {
		s.logger.Error("encode frame", "type", frame.Type, "error", err)
		return false
	}
	return s.pushPriority(b)
}

func (s *Session) pushPriority(b []byte) bool {
	select {
	case <-s.ctx.Done():
		return false
	case s.priority <- b:
		return true
	default:
		return false
	}
}

func (s *Session) sendNormal(frame protocol.Server) bool {
	b, err := json.Marshal(frame)
	if err != nil {
		s.logger.Error("encode frame", "type", frame.Type, "error", err)
		return false
	}
	if !s.Send(b) {
		s.hub.RecordError("outbound queue full")
		return false
	}
	return true
}

func (s *Session) currentSession() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

func (s *Session) currentUser() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

func (s *Session) language(lang string) string {
	if lang = strings.TrimSpace(lang); lang != "" {
		return lang
	}
	return s.cfg.DefaultLanguage
}

func errorMessage(err error) string {
	if ce, ok := core.AsError(err); ok {
		return ce.Message
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "request timed out"
	}
	return fmt.Sprint(err)
}

func isClosed(err error) bool {
	if err == nil {
		return true
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return true
	}
	return errors.Is(err, websocket.ErrCloseSent) || strings.Contains(err.Error(), "use of closed network connection")
}

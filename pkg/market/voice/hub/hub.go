// Package hub tracks live voice connections and per-user delivery state:
// offline queues, pending acknowledgements and connection statistics.
package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vango-go/agrimarket/pkg/market/metrics"
	"github.com/vango-go/agrimarket/pkg/market/voice/protocol"
)

// Client is a live connection the hub can write to. Send must not block.
type Client interface {
	ID() string
	Send(frame []byte) bool
}

type Config struct {
	MaxQueueSize        int
	MaxQueueAge         time.Duration
	AckTimeout          time.Duration
	MaxDeliveryAttempts int
	// StateTTL bounds how long an offline connection's state waits for a
	// reconnect.
	StateTTL time.Duration
}

type AckStatus string

const (
	AckPending   AckStatus = "pending"
	AckDelivered AckStatus = "delivered"
	AckFailed    AckStatus = "failed"
)

type QueuedMessage struct {
	MessageID    string
	Payload      []byte
	Timestamp    time.Time
	Attempts     int
	TargetUserID int64
}

type PendingAck struct {
	MessageID string
	Payload   []byte
	SentAt    time.Time
	Attempts  int
	Status    AckStatus
}

// ConnectionState survives the socket so a reconnecting client can pick up
// queued and unacknowledged messages.
type ConnectionState struct {
	UserID      int64
	LastSeen    time.Time
	Online      bool
	Queue       []QueuedMessage
	PendingAcks map[string]*PendingAck
}

type Stats struct {
	TotalConnections  int64  `json:"totalConnections"`
	ActiveConnections int64  `json:"activeConnections"`
	MessagesProcessed int64  `json:"messagesProcessed"`
	Errors            int64  `json:"errors"`
	LastError         string `json:"lastError,omitempty"`
	Reconnections     int64  `json:"reconnections"`
	QueuedMessages    int    `json:"queuedMessages"`
	PendingAcks       int    `json:"pendingAcks"`
	FailedDeliveries  int64  `json:"failedDeliveries"`
}

type Hub struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu      sync.Mutex
	clients map[string]Client
	states  map[string]*ConnectionState
	stats   Stats
}

func New(cfg Config, logger *slog.Logger, m *metrics.Metrics) *Hub {
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = 100
	}
	if cfg.MaxQueueAge <= 0 {
		cfg.MaxQueueAge = 24 * time.Hour
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = 30 * time.Second
	}
	if cfg.MaxDeliveryAttempts <= 0 {
		cfg.MaxDeliveryAttempts = 3
	}
	if cfg.StateTTL <= 0 {
		cfg.StateTTL = 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		now:     time.Now,
		clients: make(map[string]Client),
		states:  make(map[string]*ConnectionState),
	}
}

func NewMessageID() string {
	return "msg_" + uuid.NewString()
}

func (h *Hub) Register(c Client) {
	now := h.now()
	h.mu.Lock()
	h.clients[c.ID()] = c
	h.states[c.ID()] = &ConnectionState{
		LastSeen:    now,
		Online:      true,
		PendingAcks: make(map[string]*PendingAck),
	}
	h.stats.TotalConnections++
	h.stats.ActiveConnections++
	h.mu.Unlock()
	h.metrics.RecordWSConnect()
}

// Unregister marks the connection offline but keeps its state for
// Restore until StateTTL passes.
func (h *Hub) Unregister(connID string) {
	h.mu.Lock()
	if _, ok := h.clients[connID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, connID)
	if st := h.states[connID]; st != nil {
		st.Online = false
		st.LastSeen = h.now()
	}
	h.stats.ActiveConnections--
	h.mu.Unlock()
	h.metrics.RecordWSDisconnect()
}

// Touch records activity on a connection.
func (h *Hub) Touch(connID string) {
	h.mu.Lock()
	if st := h.states[connID]; st != nil {
		st.LastSeen = h.now()
	}
	h.mu.Unlock()
}

// Authenticate binds connID to userID and flushes anything queued for that
// user while they were offline. It returns the number of flushed messages.
func (h *Hub) Authenticate(connID string, userID int64) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	st := h.states[connID]
	if st == nil {
		return 0
	}
	st.UserID = userID
	st.LastSeen = h.now()

	// Adopt queues left on offline states of the same user.
	for id, other := range h.states {
		if id == connID || other.Online || other.UserID != userID || len(other.Queue) == 0 {
			continue
		}
		st.Queue = append(st.Queue, other.Queue...)
		other.Queue = nil
	}
	sort.SliceStable(st.Queue, func(i, j int) bool { return st.Queue[i].Timestamp.Before(st.Queue[j].Timestamp) })
	return h.flushLocked(connID, st)
}

// Restore moves the state of a previous connection onto connID. The caller
// has already verified that userID owns the login token.
func (h *Hub) Restore(connID, previousID string, userID int64) (flushed int, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	prev := h.states[previousID]
	cur := h.states[connID]
	if prev == nil || cur == nil || previousID == connID {
		return 0, false
	}
	if prev.UserID != 0 && prev.UserID != userID {
		return 0, false
	}
	if prev.Online {
		return 0, false
	}

	cur.UserID = userID
	cur.LastSeen = h.now()
	cur.Queue = append(prev.Queue, cur.Queue...)
	for id, p := range prev.PendingAcks {
		if p.Status == AckPending {
			cur.PendingAcks[id] = p
		}
	}
	delete(h.states, previousID)
	h.stats.Reconnections++
	h.metrics.RecordWSReconnect()

	// Unacknowledged frames are re-sent as part of the flush.
	for _, p := range cur.PendingAcks {
		cur.Queue = append(cur.Queue, QueuedMessage{MessageID: p.MessageID, Payload: p.Payload, Timestamp: p.SentAt, Attempts: p.Attempts})
		delete(cur.PendingAcks, p.MessageID)
	}
	return h.flushLocked(connID, cur), true
}

func (h *Hub) flushLocked(connID string, st *ConnectionState) int {
	c := h.clients[connID]
	if c == nil {
		return 0
	}
	now := h.now()
	flushed := 0
	remaining := st.Queue[:0]
	for _, q := range st.Queue {
		if now.Sub(q.Timestamp) > h.cfg.MaxQueueAge {
			continue
		}
		if !c.Send(q.Payload) {
			remaining = append(remaining, q)
			continue
		}
		flushed++
		if q.MessageID != "" {
			st.PendingAcks[q.MessageID] = &PendingAck{
				MessageID: q.MessageID,
				Payload:   q.Payload,
				SentAt:    now,
				Attempts:  q.Attempts + 1,
				Status:    AckPending,
			}
		}
	}
	st.Queue = remaining
	return flushed
}

// Broadcast sends frame to every live connection. Broadcasts are not
// acknowledged.
func (h *Hub) Broadcast(frame protocol.Server) int {
	payload, err := json.Marshal(frame)
	if err != nil {
		h.RecordError("encode broadcast: " + err.Error())
		return 0
	}
	h.mu.Lock()
	clients := make([]Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	sent := 0
	for _, c := range clients {
		if c.Send(payload) {
			sent++
		}
	}
	return sent
}

// SendTracked writes frame to one connection and keeps it pending until
// the client acks frame.MessageID. A MessageID is assigned when empty.
func (h *Hub) SendTracked(connID string, frame protocol.Server) (string, bool) {
	if frame.MessageID == "" {
		frame.MessageID = NewMessageID()
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		h.RecordError("encode frame: " + err.Error())
		return "", false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	c, st := h.clients[connID], h.states[connID]
	if c == nil || st == nil {
		return frame.MessageID, false
	}
	if !c.Send(payload) {
		return frame.MessageID, false
	}
	st.PendingAcks[frame.MessageID] = &PendingAck{
		MessageID: frame.MessageID,
		Payload:   payload,
		SentAt:    h.now(),
		Attempts:  1,
		Status:    AckPending,
	}
	return frame.MessageID, true
}

// SendToUser delivers frame to every live connection of userID. When the
// user has none, the frame is queued on their most recently seen state.
// It reports how many connections received the frame and whether it was
// queued instead.
func (h *Hub) SendToUser(userID int64, frame protocol.Server) (delivered int, queued bool) {
	if userID == 0 {
		return 0, false
	}
	if frame.MessageID == "" {
		frame.MessageID = NewMessageID()
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		h.RecordError("encode frame: " + err.Error())
		return 0, false
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	now := h.now()

	var latest *ConnectionState
	for id, st := range h.states {
		if st.UserID != userID {
			continue
		}
		if st.Online {
			if c := h.clients[id]; c != nil && c.Send(payload) {
				st.PendingAcks[frame.MessageID] = &PendingAck{
					MessageID: frame.MessageID,
					Payload:   payload,
					SentAt:    now,
					Attempts:  1,
					Status:    AckPending,
				}
				delivered++
			}
			continue
		}
		if latest == nil || st.LastSeen.After(latest.LastSeen) {
			latest = st
		}
	}
	if delivered > 0 || latest == nil {
		return delivered, false
	}

	latest.Queue = append(latest.Queue, QueuedMessage{
		MessageID:    frame.MessageID,
		Payload:      payload,
		Timestamp:    now,
		TargetUserID: userID,
	})
	if over := len(latest.Queue) - h.cfg.MaxQueueSize; over > 0 {
		latest.Queue = append([]QueuedMessage(nil), latest.Queue[over:]...)
	}
	return 0, true
}

// Ack marks messageID delivered. Unknown ids return false.
func (h *Hub) Ack(connID, messageID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	st := h.states[connID]
	if st == nil {
		return false
	}
	p, ok := st.PendingAcks[messageID]
	if !ok {
		return false
	}
	p.Status = AckDelivered
	delete(st.PendingAcks, messageID)
	st.LastSeen = h.now()
	return true
}

// RetryPending re-sends frames whose ack is overdue and gives up after
// MaxDeliveryAttempts. It returns how many frames were re-sent and failed.
func (h *Hub) RetryPending() (resent, failed int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := h.now()
	for id, st := range h.states {
		c := h.clients[id]
		if !st.Online || c == nil {
			continue
		}
		for msgID, p := range st.PendingAcks {
			if now.Sub(p.SentAt) < h.cfg.AckTimeout {
				continue
			}
			if p.Attempts >= h.cfg.MaxDeliveryAttempts {
				p.Status = AckFailed
				delete(st.PendingAcks, msgID)
				h.stats.FailedDeliveries++
				failed++
				h.logger.Warn("ws delivery failed", "connection_id", id, "message_id", msgID, "attempts", p.Attempts)
				continue
			}
			if c.Send(p.Payload) {
				p.Attempts++
				p.SentAt = now
				resent++
			}
		}
	}
	return resent, failed
}

// Prune drops queued messages older than MaxQueueAge and offline states
// idle for longer than StateTTL.
func (h *Hub) Prune() (removedStates int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := h.now()
	for id, st := range h.states {
		if !st.Online && now.Sub(st.LastSeen) > h.cfg.StateTTL {
			delete(h.states, id)
			removedStates++
			continue
		}
		kept := st.Queue[:0]
		for _, q := range st.Queue {
			if now.Sub(q.Timestamp) <= h.cfg.MaxQueueAge {
				kept = append(kept, q)
			}
		}
		st.Queue = kept
	}
	return removedStates
}

// Run drives RetryPending and Prune until ctx is done.
func (h *Hub) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = h.cfg.AckTimeout / 3
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.RetryPending()
			h.Prune()
		}
	}
}

func (h *Hub) RecordMessage(msgType string) {
	h.mu.Lock()
	h.stats.MessagesProcessed++
	h.mu.Unlock()
	h.metrics.RecordWSMessage(msgType)
}

func (h *Hub) RecordError(msg string) {
	h.mu.Lock()
	h.stats.Errors++
	h.stats.LastError = msg
	h.mu.Unlock()
}

func (h *Hub) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := h.stats
	for _, st := range h.states {
		out.QueuedMessages += len(st.Queue)
		out.PendingAcks += len(st.PendingAcks)
	}
	return out
}

// State returns a copy of a connection's state for inspection.
func (h *Hub) State(connID string) (ConnectionState, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	st := h.states[connID]
	if st == nil {
		return ConnectionState{}, false
	}
	out := *st
	out.Queue = append([]QueuedMessage(nil), st.Queue...)
	out.PendingAcks = make(map[string]*PendingAck, len(st.PendingAcks))
	for k, v := range st.PendingAcks {
		cp := *v
		out.PendingAcks[k] = &cp
	}
	return out, true
}

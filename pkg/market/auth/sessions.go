package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// SessionStore maps opaque login tokens to user ids.
type SessionStore interface {
	Create(ctx context.Context, userID int64) (string, error)
	Get(ctx context.Context, token string) (int64, error)
	Delete(ctx context.Context, token string) error
}

func newToken() string {
	return "sess_" + uuid.NewString()
}

type memorySession struct {
	userID    int64
	expiresAt time.Time
}

// MemorySessions keeps sessions in process memory. Expired entries are
// dropped when they are next looked up.
type MemorySessions struct {
	ttl time.Duration
	now func() time.Time

	mu       sync.Mutex
	sessions map[string]memorySession
}

func NewMemorySessions(ttl time.Duration) *MemorySessions {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &MemorySessions{
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[string]memorySession),
	}
}

func (m *MemorySessions) Create(_ context.Context, userID int64) (string, error) {
	token := newToken()
	m.mu.Lock()
	m.sessions[token] = memorySession{userID: userID, expiresAt: m.now().Add(m.ttl)}
	m.mu.Unlock()
	return token, nil
}

func (m *MemorySessions) Get(_ context.Context, token string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[token]
	if !ok {
		return 0, ErrSessionNotFound
	}
	if !m.now().Before(s.expiresAt) {
		delete(m.sessions, token)
		return 0, ErrSessionNotFound
	}
	return s.userID, nil
}

func (m *MemorySessions) Delete(_ context.Context, token string) error {
	m.mu.Lock()
	delete(m.sessions, token)
	m.mu.Unlock()
	return nil
}

// Sweep drops expired tokens that were never looked up again and returns
// how many were removed.
func (m *MemorySessions) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	removed := 0
	for token, s := range m.sessions {
		if !now.Before(s.expiresAt) {
			delete(m.sessions, token)
			removed++
		}
	}
	return removed
}

// Len reports how many tokens are held, expired ones included.
func (m *MemorySessions) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Run sweeps every interval until ctx is done.
func (m *MemorySessions) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// RedisSessions shares sessions between server instances.
type RedisSessions struct {
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
}

// OpenRedisSessions parses a redis:// URL and verifies the server answers.
func OpenRedisSessions(ctx context.Context, url string, ttl time.Duration) (*RedisSessions, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisSessions(client, ttl), nil
}

func NewRedisSessions(client redis.UniversalClient, ttl time.Duration) *RedisSessions {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisSessions{client: client, ttl: ttl, prefix: "agri:session:"}
}

func (r *RedisSessions) Create(ctx context.Context, userID int64) (string, error) {
	token := newToken()
	if err := r.client.Set(ctx, r.prefix+token, strconv.FormatInt(userID, 10), r.ttl).Err(); err != nil {
		return "", fmt.Errorf("store session: %w", err)
	}
	return token, nil
}

func (r *RedisSessions) Get(ctx context.Context, token string) (int64, error) {
	v, err := r.client.Get(ctx, r.prefix+token).Result()
	if errors.Is(err, redis.Nil) {
		return 0, ErrSessionNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("load session: %w", err)
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt session %q: %w", token, err)
	}
	return id, nil
}

func (r *RedisSessions) Delete(ctx context.Context, token string) error {
	return r.client.Del(ctx, r.prefix+token).Err()
}

func (r *RedisSessions) Close() error {
	return r.client.Close()
}

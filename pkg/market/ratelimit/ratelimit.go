// Package ratelimit throttles marketplace clients. Each client key (a
// logged-in user or a hashed address) gets a request rate, a cap on
// requests in flight and a cap on open voice sockets.
package ratelimit

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type Config struct {
	RPS   float64
	Burst int

	MaxConcurrentRequests int
	MaxConnsPerPrincipal  int

	// MaxEntries and EntryTTL bound the per-client table. Limits are kept
	// in process memory, so they apply per server instance.
	MaxEntries int
	EntryTTL   time.Duration
}

type Limiter struct {
	cfg Config

	mu      sync.Mutex
	clients map[string]*client
}

// client is the limiter state of one key. The two channels are counting
// semaphores: a slot is taken per request in flight or socket open.
type client struct {
	rate     *rate.Limiter
	inFlight chan struct{}
	sockets  chan struct{}
	seen     time.Time
}

func (c *client) busy() bool {
	return len(c.inFlight) > 0 || len(c.sockets) > 0
}

func New(cfg Config) *Limiter {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 10_000
	}
	if cfg.EntryTTL <= 0 {
		cfg.EntryTTL = 30 * time.Minute
	}
	return &Limiter{cfg: cfg, clients: make(map[string]*client)}
}

func PrincipalKeyFromUserID(id int64) string {
	return "u_" + strconv.FormatInt(id, 10)
}

// PrincipalKeyFromIP hashes the address so raw IPs never sit in the table.
func PrincipalKeyFromIP(ip string) string {
	sum := sha256.Sum256([]byte(ip))
	return "ip_" + hex.EncodeToString(sum[:16])
}

// Permit holds a semaphore slot until Release. Release is idempotent.
type Permit struct {
	release func()
}

func (p *Permit) Release() {
	if p == nil || p.release == nil {
		return
	}
	p.release()
	p.release = nil
}

type Decision struct {
	Allowed    bool
	RetryAfter int // seconds
	Permit     *Permit
}

func allowed() Decision {
	return Decision{Allowed: true, Permit: &Permit{release: func() {}}}
}

func denied(retryAfter int) Decision {
	return Decision{RetryAfter: max(1, retryAfter)}
}

// take claims a slot on sem without blocking.
func take(sem chan struct{}) Decision {
	select {
	case sem <- struct{}{}:
		return Decision{Allowed: true, Permit: &Permit{release: func() { <-sem }}}
	default:
		return denied(1)
	}
}

// AcquireRequest admits one API request for key: first the request rate,
// then the in-flight cap. The caller releases the permit when the
// response is written.
func (l *Limiter) AcquireRequest(key string, now time.Time) Decision {
	c := l.lookup(key, now)
	if c.rate != nil {
		r := c.rate.ReserveN(now, 1)
		if !r.OK() {
			return denied(1)
		}
		if wait := r.DelayFrom(now); wait > 0 {
			r.CancelAt(now)
			return denied(int(math.Ceil(wait.Seconds())))
		}
	}
	if l.cfg.MaxConcurrentRequests > 0 {
		return take(c.inFlight)
	}
	return allowed()
}

// AcquireConn admits one voice socket for key. The permit is held for as
// long as the socket stays open.
func (l *Limiter) AcquireConn(key string, now time.Time) Decision {
	c := l.lookup(key, now)
	if l.cfg.MaxConnsPerPrincipal > 0 {
		return take(c.sockets)
	}
	return allowed()
}

func (l *Limiter) lookup(key string, now time.Time) *client {
	if key == "" {
		key = "anonymous"
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if c, ok := l.clients[key]; ok {
		c.seen = now
		return c
	}
	if len(l.clients) >= l.cfg.MaxEntries {
		l.evictLocked(now)
	}

	c := &client{
		inFlight: make(chan struct{}, max(1, l.cfg.MaxConcurrentRequests)),
		sockets:  make(chan struct{}, max(1, l.cfg.MaxConnsPerPrincipal)),
		seen:     now,
	}
	if l.cfg.RPS > 0 && l.cfg.Burst > 0 {
		c.rate = rate.NewLimiter(rate.Limit(l.cfg.RPS), l.cfg.Burst)
	}
	l.clients[key] = c
	return c
}

// evictLocked removes clients idle longer than EntryTTL. If the table is
// still full it drops one more idle client. Clients holding a slot are
// never removed, since their Release must reach the same semaphore.
func (l *Limiter) evictLocked(now time.Time) {
	for k, c := range l.clients {
		if !c.busy() && now.Sub(c.seen) > l.cfg.EntryTTL {
			delete(l.clients, k)
		}
	}
	if len(l.clients) < l.cfg.MaxEntries {
		return
	}
	for k, c := range l.clients {
		if !c.busy() {
			delete(l.clients, k)
			return
		}
	}
}

func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

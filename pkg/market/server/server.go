// Package server wires the marketplace: storage, login sessions, the event
// bus, the voice hub, the assistant and the HTTP routes.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vango-go/agrimarket/pkg/core/assistant"
	"github.com/vango-go/agrimarket/pkg/market/auth"
	"github.com/vango-go/agrimarket/pkg/market/community"
	"github.com/vango-go/agrimarket/pkg/market/config"
	"github.com/vango-go/agrimarket/pkg/market/events"
	"github.com/vango-go/agrimarket/pkg/market/handlers"
	"github.com/vango-go/agrimarket/pkg/market/lifecycle"
	"github.com/vango-go/agrimarket/pkg/market/marketplace"
	"github.com/vango-go/agrimarket/pkg/market/metrics"
	"github.com/vango-go/agrimarket/pkg/market/mw"
	"github.com/vango-go/agrimarket/pkg/market/ratelimit"
	"github.com/vango-go/agrimarket/pkg/market/store"
	"github.com/vango-go/agrimarket/pkg/market/voice/conn"
	"github.com/vango-go/agrimarket/pkg/market/voice/hub"
	"github.com/vango-go/agrimarket/pkg/market/voice/sessions"
)

// Backends are the stateful dependencies Open connects to. Tests pass
// in-memory ones to New directly.
type Backends struct {
	Store    store.Store
	Sessions auth.SessionStore
	// Assistant defaults to one built from the config.
	Assistant *assistant.Assistant
}

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	store     store.Store
	sessions  auth.SessionStore
	bus       *events.Bus
	hub       *hub.Hub
	market    *marketplace.Service
	community *community.Service
	assistant *assistant.Assistant
	limiter   *ratelimit.Limiter
	metrics   *metrics.Metrics
	lifecycle *lifecycle.Lifecycle
	tracker   *sessions.Tracker
}

// Open connects the configured store and session backend, runs pending
// migrations and builds the server.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var b Backends
	if cfg.DatabaseURL != "" {
		pg, err := store.OpenPostgres(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		applied, err := store.MigrateUp(ctx, pg.Pool())
		if err != nil {
			_ = pg.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		logger.Info("postgres store ready", "migrations_applied", applied)
		b.Store = pg
	} else {
		logger.Info("using in-memory store")
		b.Store = store.NewMemory()
	}

	if cfg.RedisURL != "" {
		rs, err := auth.OpenRedisSessions(ctx, cfg.RedisURL, cfg.SessionTTL)
		if err != nil {
			_ = b.Store.Close()
			return nil, fmt.Errorf("open redis: %w", err)
		}
		logger.Info("redis session store ready")
		b.Sessions = rs
	}

	asst, err := buildAssistant(ctx, cfg, b.Store, logger)
	if err != nil {
		_ = b.Store.Close()
		if c, ok := b.Sessions.(interface{ Close() error }); ok {
			_ = c.Close()
		}
		return nil, err
	}
	b.Assistant = asst

	return New(cfg, logger, b), nil
}

func New(cfg config.Config, logger *slog.Logger, b Backends) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if b.Store == nil {
		b.Store = store.NewMemory()
	}
	if b.Sessions == nil {
		b.Sessions = auth.NewMemorySessions(cfg.SessionTTL)
	}
	if b.Assistant == nil {
		b.Assistant = assistant.New(assistant.Options{
			Profiles: voiceProfiles{store: b.Store},
			Config:   assistant.Config{DefaultLanguage: cfg.AssistantDefaultLang},
			Logger:   logger,
		})
	}

	m := metrics.New("agrimarket")
	bus := events.NewBus(logger)

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		mux:       http.NewServeMux(),
		store:     b.Store,
		sessions:  b.Sessions,
		bus:       bus,
		metrics:   m,
		assistant: b.Assistant,
		lifecycle: &lifecycle.Lifecycle{},
		tracker:   sessions.NewTracker(),
		hub: hub.New(hub.Config{
			MaxQueueSize:        cfg.WSMaxQueueSize,
			MaxQueueAge:         cfg.WSMaxQueueAge,
			AckTimeout:          cfg.WSAckTimeout,
			MaxDeliveryAttempts: cfg.WSMaxDeliveryAttempts,
			StateTTL:            cfg.WSReconnectStateTimeout,
		}, logger, m),
		market: marketplace.New(marketplace.Options{
			Store:           b.Store,
			Events:          bus,
			Logger:          logger,
			DefaultDuration: cfg.BiddingDefaultDuration,
		}),
		community: community.New(b.Store, bus, logger),
		limiter: ratelimit.New(ratelimit.Config{
			RPS:                   cfg.LimitRPS,
			Burst:                 cfg.LimitBurst,
			MaxConcurrentRequests: cfg.LimitMaxConcurrentRequests,
			MaxConnsPerPrincipal:  cfg.WSMaxConnsPerPrincipal,
		}),
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	authH := handlers.AuthHandler{
		Store:        s.store,
		Sessions:     s.sessions,
		SessionTTL:   s.cfg.SessionTTL,
		CookieSecure: s.cfg.CookieSecure,
		Logger:       s.logger,
	}
	usersH := handlers.UsersHandler{Store: s.store}
	productsH := handlers.ProductsHandler{Market: s.market}
	postsH := handlers.PostsHandler{Community: s.community}

	s.mux.Handle("GET /healthz", handlers.HealthHandler{})
	s.mux.Handle("GET /readyz", handlers.ReadyHandler{Store: s.store, Lifecycle: s.lifecycle, Simulated: s.assistant.Simulated()})
	s.mux.Handle("GET /metrics", s.metrics.Handler())

	for _, prefix := range []string{"/api/auth", "/api"} {
		s.mux.HandleFunc("POST "+prefix+"/register", authH.Register)
		s.mux.HandleFunc("POST "+prefix+"/login", authH.Login)
		s.mux.HandleFunc("POST "+prefix+"/logout", authH.Logout)
	}
	s.mux.HandleFunc("GET /api/user", authH.User)

	s.mux.HandleFunc("GET /api/users/me", usersH.Me)
	s.mux.HandleFunc("GET /api/users/{id}", usersH.Get)
	s.mux.HandleFunc("PUT /api/users/{id}", usersH.Update)

	s.mux.HandleFunc("GET /api/products", productsH.List)
	s.mux.HandleFunc("POST /api/products", productsH.Create)
	s.mux.HandleFunc("GET /api/products/{id}", productsH.Get)
	s.mux.HandleFunc("DELETE /api/products/{id}", productsH.Delete)
	s.mux.HandleFunc("POST /api/products/{id}/bid", productsH.Bid)

	s.mux.HandleFunc("GET /api/posts", postsH.List)
	s.mux.HandleFunc("POST /api/posts", postsH.Create)
	s.mux.HandleFunc("POST /api/posts/video", postsH.CreateVideo)
	s.mux.HandleFunc("GET /api/posts/{id}", postsH.Get)
	s.mux.HandleFunc("DELETE /api/posts/{id}", postsH.Delete)
	s.mux.HandleFunc("POST /api/posts/{id}/like", postsH.Like)
	s.mux.HandleFunc("POST /api/posts/{id}/share", postsH.Share)
	s.mux.HandleFunc("POST /api/posts/{id}/save", postsH.Save)

	s.mux.Handle("POST /api/upload", handlers.UploadHandler{
		Dir:      s.cfg.UploadDir,
		MaxBytes: s.cfg.MaxUploadBytes,
		Logger:   s.logger,
	})
	s.mux.Handle("GET "+handlers.UploadPrefix, handlers.UploadFiles(s.cfg.UploadDir))

	s.mux.Handle("GET /api/ws/stats", handlers.WSStatsHandler{Hub: s.hub, Tracker: s.tracker})
	s.mux.Handle("/ws", handlers.VoiceHandler{
		Hub:            s.hub,
		Assistant:      s.assistant,
		Sessions:       s.sessions,
		Limiter:        s.limiter,
		Lifecycle:      s.lifecycle,
		Tracker:        s.tracker,
		Metrics:        s.metrics,
		Logger:         s.logger,
		AllowedOrigins: s.cfg.CORSAllowedOrigins,
		Config: conn.Config{
			PingInterval:         s.cfg.WSPingInterval,
			WriteTimeout:         s.cfg.WSWriteTimeout,
			MaxPayloadBytes:      s.cfg.WSMaxPayloadBytes,
			MaxMessagesPerMinute: s.cfg.WSMaxMessagesPerMinute,
			VoiceCooldown:        s.cfg.WSVoiceCooldown,
			OutboundQueue:        s.cfg.WSOutboundQueue,
			TurnTimeout:          s.cfg.AssistantTimeout,
			DefaultLanguage:      s.cfg.AssistantDefaultLang,
		},
	})

	s.mux.Handle("/", handlers.StaticHandler{Dir: s.cfg.StaticDir})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.MaxBody(s.cfg.MaxBodyBytes, h)
	h = mw.RateLimit(s.limiter, s.metrics, h)
	h = mw.Session(s.sessions, s.logger, h)
	h = mw.CORS(s.cfg.CORSAllowedOrigins, h)
	h = mw.Metrics(s.metrics, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// Seed inserts the demo listings when enabled and not yet present.
func (s *Server) Seed(ctx context.Context) error {
	if !s.cfg.SeedDemoData {
		return nil
	}
	password, err := assistant.TemporaryPassword()
	if err != nil {
		return err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	created, err := store.SeedDemoData(ctx, s.store, time.Now().UTC(), hash)
	if err != nil {
		return err
	}
	if created {
		s.logger.Info("demo data seeded", "username", store.DemoUsername)
	}
	return nil
}

// Run drives the background workers until ctx is done: the bidding
// sweeper, hub delivery retries, event fan-out to WebSocket clients and
// profile session expiry.
func (s *Server) Run(ctx context.Context) error {
	ch, err := s.bus.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe events: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.market.RunSweeper(ctx, s.cfg.BiddingSweepInterval)
	})
	g.Go(func() error {
		s.hub.Run(ctx, 0)
		return nil
	})
	g.Go(func() error {
		s.hub.Forward(ctx, ch)
		return nil
	})
	g.Go(func() error {
		s.assistant.Sessions().Run(ctx, time.Minute)
		return nil
	})
	if mem, ok := s.sessions.(*auth.MemorySessions); ok {
		g.Go(func() error {
			mem.Run(ctx, time.Minute)
			return nil
		})
	}
	return g.Wait()
}

func (s *Server) SetDraining() {
	s.lifecycle.SetDraining(true)
}

func (s *Server) WarnVoiceSessionsDraining() int {
	return s.tracker.WarnAll("draining", "Server is restarting. Please reconnect shortly.")
}

func (s *Server) WaitVoiceSessions(ctx context.Context) bool {
	return s.tracker.Wait(ctx)
}

func (s *Server) CancelVoiceSessions() int {
	return s.tracker.CancelAll()
}

func (s *Server) Close() error {
	var errs []error
	if err := s.bus.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close event bus: %w", err))
	}
	if c, ok := s.sessions.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close sessions: %w", err))
		}
	}
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	return errors.Join(errs...)
}

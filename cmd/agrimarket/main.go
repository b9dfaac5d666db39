package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/vango-go/agrimarket/pkg/market/config"
	"github.com/vango-go/agrimarket/pkg/market/server"
	"github.com/vango-go/agrimarket/pkg/market/store"
)

type serveDeps struct {
	loadConfig   func() (config.Config, error)
	openServer   func(context.Context, config.Config, *slog.Logger) (*server.Server, error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultServeDeps() serveDeps {
	return serveDeps{
		loadConfig: config.LoadFromEnv,
		openServer: server.Open,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
	}
}

func newLogger(w io.Writer, level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.ToLower(format) == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func runServe(ctx context.Context, stderr io.Writer, deps serveDeps) error {
	if deps.loadConfig == nil || deps.openServer == nil {
		return errors.New("missing server dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(stderr, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	srv, err := deps.openServer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := srv.Close(); err != nil {
			logger.Warn("close server", "error", err)
		}
	}()
	if err := srv.Seed(ctx); err != nil {
		return fmt.Errorf("seed: %w", err)
	}

	httpSrv := buildHTTPServer(cfg, srv.Handler())
	logger.Info("starting agrimarket", "addr", cfg.Addr)

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	g := new(errgroup.Group)
	g.Go(func() error { return srv.Run(workerCtx) })

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		stopWorkers()
		_ = g.Wait()
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		stopWorkers()
		_ = g.Wait()
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	srv.SetDraining()
	warned := srv.WarnVoiceSessionsDraining()
	logger.Info("draining", "voice_sessions_warned", warned)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer waitCancel()
	if !srv.WaitVoiceSessions(waitCtx) {
		logger.Warn("cancelling voice sessions", "count", srv.CancelVoiceSessions())
	}

	stopWorkers()
	if err := g.Wait(); err != nil {
		return fmt.Errorf("background workers: %w", err)
	}
	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("agrimarket stopped")
	return nil
}

func runMigrate(ctx context.Context, out io.Writer, direction string, loadConfig func() (config.Config, error)) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.DatabaseURL == "" {
		return errors.New("AGRI_DATABASE_URL is not set")
	}
	pg, err := store.OpenPostgres(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		return err
	}
	defer pg.Close()

	switch direction {
	case "up":
		n, err := store.MigrateUp(ctx, pg.Pool())
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "applied %d migration(s)\n", n)
	case "down":
		if err := store.MigrateDown(ctx, pg.Pool()); err != nil {
			return err
		}
		fmt.Fprintln(out, "rolled back one migration")
	case "status":
		statuses, err := store.MigrationStatuses(ctx, pg.Pool())
		if err != nil {
			return err
		}
		for _, st := range statuses {
			state := "pending"
			if st.Applied {
				state = "applied"
			}
			fmt.Fprintf(out, "%05d  %-8s %s\n", st.Version, state, st.Path)
		}
	default:
		return fmt.Errorf("unknown migrate direction %q", direction)
	}
	return nil
}

func newRootCmd(deps serveDeps) *cobra.Command {
	root := &cobra.Command{
		Use:           "agrimarket",
		Short:         "Farm marketplace API with a multilingual voice assistant",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and /ws voice endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), cmd.ErrOrStderr(), deps)
		},
	}

	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the Postgres schema",
	}
	for _, direction := range []string{"up", "down", "status"} {
		migrate.AddCommand(&cobra.Command{
			Use:   direction,
			Short: "Migrate " + direction,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runMigrate(cmd.Context(), cmd.OutOrStdout(), direction, deps.loadConfig)
			},
		})
	}

	// A bare "agrimarket" runs the server.
	root.RunE = serve.RunE
	root.AddCommand(serve, migrate)
	return root
}

func runMain(ctx context.Context, args []string, stderr io.Writer, deps serveDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(stderr, "agrimarket: load .env: %v\n", err)
		return 1
	}

	if args == nil {
		args = []string{}
	}
	root := newRootCmd(deps)
	root.SetArgs(args)
	root.SetErr(stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "agrimarket: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Args[1:], os.Stderr, defaultServeDeps()))
}

// Package app wires the BuildLink server runtime: config, logging, HTTP routes, and the
// direct-message gateway.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"buildlink/cmd/internal/dm"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// App is the server runtime: it owns the HTTP server, the stores and the gateway.
type App struct {
	cfg Config
	log Logger

	stores stores

	ws      *dm.WSGateway
	metrics *prometheus.Registry
}

type stores struct {
	messages  dm.MessageStore
	profiles  dm.ProfileStore
	pool      *pgxpool.Pool
	dbEnabled bool
}

// Close releases the message store, then the pool; Postgres stores never close it themselves.
func (s stores) Close() {
	if s.messages != nil {
		_ = s.messages.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}
}

// New constructs a fully wired App instance from config and logger.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = slog.Default()
	}

	st, err := newStores(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	if err := seedProfiles(ctx, st.profiles, cfg.DevProfiles); err != nil {
		st.Close()
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if st.pool != nil {
		if err := registerPoolMetrics(reg, st.pool); err != nil {
			st.Close()
			return nil, err
		}
	}

	ws := dm.NewWSGateway(log, st.messages, st.profiles, gatewayConfig(cfg.WS))
	if err := ws.RegisterMetrics(reg); err != nil {
		st.Close()
		return nil, err
	}

	return &App{
		cfg:     cfg,
		log:     log,
		stores:  st,
		ws:      ws,
		metrics: reg,
	}, nil
}

func gatewayConfig(c WSConfig) dm.GatewayConfig {
	return dm.GatewayConfig{
		AllowedOrigins:    c.AllowedOrigins,
		OriginRequired:    c.OriginRequired,
		DevInsecure:       c.DevInsecure,
		WriteTimeout:      c.WriteTimeout,
		ReadIdleTimeout:   c.ReadIdleTimeout,
		SendQueueSize:     c.SendQueueSize,
		HeartbeatInterval: c.HeartbeatInterval,
		HeartbeatTimeout:  c.HeartbeatTimeout,
		RateEvents:        c.RateEvents,
		RateWindow:        c.RateWindow,
	}
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.stores.pool, a.stores.dbEnabled, a.ws, a.metrics)
	return WithSecurityHeaders(WithRequestLogging(mux, a.log))
}

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	defer a.stores.Close()

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
		// Hijacked websocket conns are not tracked by Shutdown; they end with ctx.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.stores.dbEnabled)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	a.log.Info("server.stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// newStores decides between Postgres-backed persistence and the in-memory dev stores.
func newStores(ctx context.Context, cfg Config, log Logger) (stores, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		return stores{messages: dm.NewInMemoryStore(), profiles: dm.NewInMemoryProfileStore()}, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return stores{}, fmt.Errorf("db pool: %w", err)
	}

	if cfg.DBAutoMigrate {
		if err := dm.EnsureSchema(ctx, pool, cfg.DBSchema); err != nil {
			pool.Close()
			return stores{}, err
		}
		log.Info("db.schema.ensured", "schema", cfg.DBSchema)
	}

	messages, err := dm.NewPostgresStore(pool, dm.WithSchema(cfg.DBSchema))
	if err != nil {
		pool.Close()
		return stores{}, err
	}
	profiles, err := dm.NewPostgresProfileStore(pool, dm.WithSchema(cfg.DBSchema))
	if err != nil {
		pool.Close()
		return stores{}, err
	}

	log.Info("db.enabled.postgres_store", "schema", cfg.DBSchema)
	return stores{messages: messages, profiles: profiles, pool: pool, dbEnabled: true}, nil
}

func seedProfiles(ctx context.Context, profiles dm.ProfileStore, entries []string) error {
	for _, p := range dm.ParseDevProfiles(entries) {
		if err := profiles.UpsertProfile(ctx, p); err != nil {
			return fmt.Errorf("seed profile %s: %w", p.UserID, err)
		}
	}
	return nil
}

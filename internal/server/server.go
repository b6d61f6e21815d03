// Package server orchestrates all components: NATS client, session store, dispatcher, HTTP health.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	comms "github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/semaphore"

	"github.com/morezero/nav-dispatch/internal/config"
	"github.com/morezero/nav-dispatch/pkg/commsutil"
	"github.com/morezero/nav-dispatch/pkg/correlator"
	"github.com/morezero/nav-dispatch/pkg/db"
	"github.com/morezero/nav-dispatch/pkg/dispatcher"
	"github.com/morezero/nav-dispatch/pkg/events"
	"github.com/morezero/nav-dispatch/pkg/launch"
	"github.com/morezero/nav-dispatch/pkg/manifest"
	"github.com/morezero/nav-dispatch/pkg/metrics"
	"github.com/morezero/nav-dispatch/pkg/middleware"
	"github.com/morezero/nav-dispatch/pkg/registry"
	"github.com/morezero/nav-dispatch/pkg/scanner"
	"github.com/morezero/nav-dispatch/pkg/session"
)

const logPrefix = "server:server"

// loopBuffer is the queue depth of the launch loop.
const loopBuffer = 64

// defaultMaxInFlight applies when the config leaves MaxInFlight unset.
const defaultMaxInFlight = 64

// Params holds what New needs. Store, Pool, Prometheus and Sources are optional.
type Params struct {
	Config *config.Config
	Conn   *comms.Conn
	// Pool is used for health checks only; the store owns persistence.
	Pool  *pgxpool.Pool
	Store session.Store
	// Prometheus defaults to a fresh registry with Go and process collectors.
	Prometheus *prometheus.Registry
	// Sources default to the manifest found by manifest.LoadManifest.
	Sources []manifest.Source
}

// Server is the nav-dispatch orchestrator.
type Server struct {
	cfg        *config.Config
	nc         *comms.Conn
	pool       *pgxpool.Pool
	store      session.Store
	sink       events.Sink
	prom       *prometheus.Registry
	disp       *dispatcher.Dispatcher
	loop       *launch.Loop
	inflight   *semaphore.Weighted
	report     *scanner.Report
	httpServer *http.Server

	mu    sync.Mutex
	subs  []*comms.Subscription
	ready atomic.Bool
}

// Run starts the server, blocks until shutdown signal, then cleans up.
func Run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("%s - failed to load config: %w", logPrefix, err)
	}
	setupLogging(cfg.LogLevel)

	slog.Info(fmt.Sprintf("%s - Starting nav-dispatch", logPrefix))
	if err := cfg.ValidateForServe(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	nc, err := commsutil.Connect(cfg.COMMSURL, cfg.COMMSName)
	if err != nil {
		return fmt.Errorf("%s - failed to connect to NATS: %w", logPrefix, err)
	}

	var pool *pgxpool.Pool
	var store session.Store
	if cfg.UseDatabase() {
		pool, err = db.NewPool(ctx, cfg.DatabaseURL, db.DefaultPoolConfig())
		if err != nil {
			nc.Close()
			return fmt.Errorf("%s - failed to connect to database: %w", logPrefix, err)
		}
		if cfg.RunMigrations {
			if err := migrate(ctx, pool, cfg.MigrationPath); err != nil {
				pool.Close()
				nc.Close()
				return err
			}
		}
		store = session.NewPostgresStore(db.NewRepository(pool))
		slog.Info(fmt.Sprintf("%s - Using Postgres session store", logPrefix))
	} else {
		slog.Info(fmt.Sprintf("%s - DATABASE_URL not set, using in-memory session store", logPrefix))
	}

	s, err := New(ctx, Params{Config: cfg, Conn: nc, Pool: pool, Store: store})
	if err != nil {
		closeAll(nc, pool)
		return err
	}
	if err := s.Subscribe(ctx); err != nil {
		s.Shutdown(ctx)
		closeAll(nc, pool)
		return err
	}

	httpAddr := fmt.Sprintf(":%d", cfg.HTTPPort)
	s.httpServer = &http.Server{Addr: httpAddr, Handler: s.Handler()}
	go func() {
		slog.Info(fmt.Sprintf("%s - HTTP server listening on %s", logPrefix, httpAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error(fmt.Sprintf("%s - HTTP server error: %v", logPrefix, err))
		}
	}()

	slog.Info(fmt.Sprintf("%s - nav-dispatch is ready", logPrefix))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info(fmt.Sprintf("%s - Received signal %s, shutting down", logPrefix, sig))

	s.Shutdown(ctx)
	if err := nc.Drain(); err != nil {
		slog.Warn(fmt.Sprintf("%s - NATS drain: %v", logPrefix, err))
	}
	if pool != nil {
		pool.Close()
	}

	slog.Info(fmt.Sprintf("%s - Shutdown complete", logPrefix))
	return nil
}

// New wires the dispatcher, middleware and launch backend and scans the
// handler manifests. It does not subscribe; call Subscribe for that.
func New(ctx context.Context, p Params) (*Server, error) {
	cfg := p.Config
	if cfg == nil || p.Conn == nil {
		return nil, fmt.Errorf("%s - config and NATS connection are required", logPrefix)
	}

	s := &Server{cfg: cfg, nc: p.Conn, pool: p.Pool, store: p.Store, prom: p.Prometheus}
	maxInFlight := int64(cfg.MaxInFlight)
	if maxInFlight <= 0 {
		maxInFlight = defaultMaxInFlight
	}
	s.inflight = semaphore.NewWeighted(maxInFlight)
	if s.store == nil {
		s.store = session.NewMemoryStore()
	}
	if s.prom == nil {
		s.prom = prometheus.NewRegistry()
		s.prom.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	rec, err := metrics.NewPrometheus(s.prom)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to register metrics: %w", logPrefix, err)
	}

	s.sink = events.NewMultiSink(
		events.NewSlogSink(slog.Default()),
		events.NewCommsSink(s.nc, &events.CommsSinkOpts{Subject: cfg.EventSubject}),
	)

	reg := registry.NewRegistry(registry.NewRegistryParams{Sink: s.sink})
	chain := middleware.NewChain(rec)

	sessionCheck, err := middleware.NewSessionCheck(s.store, cfg.AuthPath, cfg.SessionPaths...)
	if err != nil {
		return nil, fmt.Errorf("%s - invalid NAV_SESSION_PATHS: %w", logPrefix, err)
	}
	capabilityCheck := middleware.NewCapabilityCheck(s.store)
	logging := middleware.NewLogging(s.sink, cfg.SensitiveKeys...)
	for _, d := range []middleware.Descriptor{sessionCheck.Descriptor(), capabilityCheck.Descriptor(), logging.Descriptor()} {
		if err := chain.AddGlobal(d); err != nil {
			return nil, fmt.Errorf("%s - failed to install %s: %w", logPrefix, d.Name, err)
		}
	}

	catalog := middleware.NewCatalog()
	if err := catalog.Put(middleware.NameAudit, middleware.NewAudit(s.sink)); err != nil {
		return nil, fmt.Errorf("%s - failed to build middleware catalog: %w", logPrefix, err)
	}

	corr := correlator.New(correlator.Options{TTL: cfg.ResultTTL, OnPendingChange: rec.SetPending})

	s.loop = launch.NewLoop(loopBuffer)
	s.loop.Start()

	binder := &middleware.Binder{
		Chain:        chain,
		Catalog:      catalog,
		Session:      sessionCheck,
		Capabilities: capabilityCheck,
	}

	s.disp = dispatcher.New(dispatcher.Params{
		Registry:   reg,
		Chain:      chain,
		Binder:     binder,
		Backend:    launch.NewCommsBackend(s.nc, &launch.CommsBackendOpts{SubjectPrefix: cfg.LaunchSubjectPrefix, Timeout: cfg.LaunchTimeout}),
		Correlator: corr,
		Sink:       s.sink,
		Metrics:    rec,
		Executor:   s.loop,
	})

	sources := p.Sources
	if sources == nil {
		sources = []manifest.Source{manifest.LoadManifest(cfg.ManifestFile)}
	}
	sc := &scanner.Scanner{
		Registry:   reg,
		Binder:     binder,
		Constraint: cfg.ManifestConstraint,
	}
	report, err := sc.Scan(ctx, sources...)
	if err != nil {
		// a broken manifest leaves the others in place
		slog.Warn(fmt.Sprintf("%s - manifest scan reported errors: %v", logPrefix, err))
	}
	s.report = report
	slog.Info(fmt.Sprintf("%s - %d routes registered", logPrefix, reg.Len()))
	return s, nil
}

// Dispatcher returns the server's dispatcher.
func (s *Server) Dispatcher() *dispatcher.Dispatcher {
	return s.disp
}

// Subscribe starts serving the navigate and result subjects.
func (s *Server) Subscribe(ctx context.Context) error {
	var navSub *comms.Subscription
	var err error
	if s.cfg.QueueGroup != "" {
		navSub, err = s.nc.QueueSubscribe(s.cfg.NavigateSubject, s.cfg.QueueGroup, s.handleNavigate(ctx))
	} else {
		navSub, err = s.nc.Subscribe(s.cfg.NavigateSubject, s.handleNavigate(ctx))
	}
	if err != nil {
		return fmt.Errorf("%s - failed to subscribe to %s: %w", logPrefix, s.cfg.NavigateSubject, err)
	}
	slog.Info(fmt.Sprintf("%s - Subscribed to %s (queue %q)", logPrefix, s.cfg.NavigateSubject, s.cfg.QueueGroup))

	resSub, err := s.nc.Subscribe(s.cfg.ResultSubject, s.handleResult(ctx))
	if err != nil {
		_ = navSub.Unsubscribe()
		return fmt.Errorf("%s - failed to subscribe to %s: %w", logPrefix, s.cfg.ResultSubject, err)
	}
	slog.Info(fmt.Sprintf("%s - Subscribed to %s", logPrefix, s.cfg.ResultSubject))

	if err := s.nc.Flush(); err != nil {
		slog.Warn(fmt.Sprintf("%s - flush after subscribe: %v", logPrefix, err))
	}

	s.mu.Lock()
	s.subs = append(s.subs, navSub, resSub)
	s.mu.Unlock()
	s.ready.Store(true)
	return nil
}

// Shutdown stops accepting navigations, waits for in-flight dispatches and
// releases the launch loop and correlator. The NATS connection and pool
// stay open; they belong to the caller.
func (s *Server) Shutdown(ctx context.Context) {
	s.ready.Store(false)

	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()
	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			slog.Warn(fmt.Sprintf("%s - unsubscribe %s: %v", logPrefix, sub.Subject, err))
		}
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			slog.Warn(fmt.Sprintf("%s - HTTP shutdown: %v", logPrefix, err))
		}
	}

	s.disp.Wait()
	s.loop.Stop()
	s.disp.Correlator().Close()
}

func setupLogging(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
}

func migrate(ctx context.Context, pool *pgxpool.Pool, path string) error {
	migrations, err := db.LoadMigrations(path)
	if err != nil {
		return fmt.Errorf("%s - failed to load migrations: %w", logPrefix, err)
	}
	if err := db.RunMigrations(ctx, pool, migrations); err != nil {
		return fmt.Errorf("%s - failed to run migrations: %w", logPrefix, err)
	}
	return nil
}

func closeAll(nc *comms.Conn, pool *pgxpool.Pool) {
	if pool != nil {
		pool.Close()
	}
	nc.Close()
}

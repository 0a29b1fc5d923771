package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/ninep-go/ninepd/internal/logger"
	"github.com/ninep-go/ninepd/internal/ninepfs/audit"
	ninepconfig "github.com/ninep-go/ninepd/internal/ninepfs/config"
	"github.com/ninep-go/ninepd/internal/ninepfs/controlplane"
	"github.com/ninep-go/ninepd/internal/ninepfs/metrics"
	"github.com/ninep-go/ninepd/internal/ninepfs/ring"
	"github.com/ninep-go/ninepd/internal/ninepfs/server"
	"github.com/ninep-go/ninepd/internal/ninepfs/storage"
	"github.com/ninep-go/ninepd/internal/ninepfs/tracing"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the ninepd server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := ninepconfig.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := logger.Init(cfg.Logging); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := prometheus.NewRegistry()
	metricsRegistry := metrics.New(reg)

	var tracerProvider *sdktrace.TracerProvider
	var tracer *tracing.Tracer
	if cfg.Tracing.Enabled {
		tracerProvider, err = tracing.NewProvider("ninepd", nil)
		if err != nil {
			return fmt.Errorf("failed to initialize tracing: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tracerProvider.Shutdown(shutdownCtx)
		}()
		tracer = tracing.New(tracerProvider)
	}

	backend, err := storage.Build(ctx, storage.DriverConfig{
		Driver:              cfg.Storage.Driver,
		LocalBasePath:       cfg.Storage.Local.BasePath,
		LocalCreateDir:      cfg.Storage.Local.CreateDir,
		MemoryCapacityBytes: cfg.Storage.Memory.CapacityBytes,
		S3Bucket:            cfg.Storage.S3.Bucket,
		S3Prefix:            cfg.Storage.S3.Prefix,
		S3Region:            cfg.Storage.S3.Region,
	})
	if err != nil {
		return fmt.Errorf("failed to build storage backend: %w", err)
	}
	serialized := storage.NewSerialized(backend, cfg.LockTimeout)

	auditStore, err := audit.Open(ctx, audit.Config{Driver: cfg.Audit.Driver, DSN: cfg.Audit.DSN})
	if err != nil {
		return fmt.Errorf("failed to open audit store: %w", err)
	}
	defer auditStore.Close()

	recentRing, err := ring.Open(cfg.Ring.DBPath, cfg.Ring.Capacity)
	if err != nil {
		return fmt.Errorf("failed to open session ring: %w", err)
	}
	defer recentRing.Close()

	observer := &sessionObserver{audit: auditStore, ring: recentRing, opened: map[string]time.Time{}}

	srvCfg := server.Config{
		BindAddress:       cfg.BindAddress,
		Port:              cfg.Port,
		MaxSessions:       cfg.MaxSessions,
		MaxFIDsPerSession: cfg.MaxFIDsPerSession,
		MSizeCeiling:      cfg.MSizeCeiling,
		LockTimeout:       cfg.LockTimeout,
		ShutdownTimeout:   cfg.ShutdownTimeout,
		Metrics:           metricsRegistry,
	}
	if tracer != nil {
		srvCfg.Tracer = tracer
	}
	srv := server.New(srvCfg, serialized, observer)

	var metricsHTTP, controlHTTP *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metricsRegistry.Handler())
		metricsHTTP = &http.Server{Addr: fmt.Sprintf("%s:%d", cfg.Metrics.BindAddress, cfg.Metrics.Port), Handler: mux}
		go func() {
			logger.Info("metrics endpoint listening", "address", metricsHTTP.Addr)
			if err := metricsHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server error", "error", err)
			}
		}()
	}

	if cfg.Control.Enabled {
		startedAt := time.Now()
		router := controlplane.NewRouter(
			&statsAdapter{srv},
			&metricsAdapter{metricsRegistry},
			&recentSessionsAdapter{recentRing},
			cfg.MaxSessions,
			startedAt,
			func() { cancel() },
		)
		controlHTTP = &http.Server{Addr: fmt.Sprintf("%s:%d", cfg.Control.BindAddress, cfg.Control.Port), Handler: router}
		go func() {
			logger.Info("control plane listening", "address", controlHTTP.Addr)
			if err := controlHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("control plane error", "error", err)
			}
		}()
	}

	serverDone := make(chan error, 1)
	go func() { serverDone <- srv.Serve(ctx) }()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("ninepd running", "bind", fmt.Sprintf("%s:%d", cfg.BindAddress, cfg.Port))

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("shutdown signal received")
		cancel()
		<-serverDone
	case <-ctx.Done():
		<-serverDone
	case err := <-serverDone:
		if err != nil {
			logger.Error("server stopped with error", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if metricsHTTP != nil {
		_ = metricsHTTP.Shutdown(shutdownCtx)
	}
	if controlHTTP != nil {
		_ = controlHTTP.Shutdown(shutdownCtx)
	}

	logger.Info("ninepd stopped")
	return nil
}

// statsAdapter bridges *server.Server to controlplane.StatsProvider,
// translating server.SessionInfo into controlplane.SessionInfo so neither
// package needs to import the other's concrete type.
type statsAdapter struct {
	srv *server.Server
}

func (a *statsAdapter) ActiveCount() int32 { return a.srv.ActiveCount() }

func (a *statsAdapter) Sessions() []controlplane.SessionInfo {
	sessions := a.srv.Sessions()
	out := make([]controlplane.SessionInfo, len(sessions))
	for i, s := range sessions {
		out[i] = controlplane.SessionInfo{ClientAddr: s.ClientAddr, State: s.State, OpenFIDs: s.OpenFIDs}
	}
	return out
}

// metricsAdapter bridges *metrics.Registry to controlplane.MetricsSnapshot.
type metricsAdapter struct {
	reg *metrics.Registry
}

func (a *metricsAdapter) Snapshot() (messagesTotal, errorsTotal, bytesIn, bytesOut uint64) {
	snap := a.reg.Snapshot()
	return snap.MessagesTotal, snap.ErrorsTotal, snap.BytesIn, snap.BytesOut
}

// recentSessionsAdapter bridges *ring.Ring to controlplane.RecentSessions,
// translating ring.Entry into controlplane.SessionInfo. Recently terminated
// sessions are reported with zero open FIDs and their closing cause as
// their state.
type recentSessionsAdapter struct {
	ring *ring.Ring
}

func (a *recentSessionsAdapter) Recent(limit int) []controlplane.SessionInfo {
	entries := a.ring.Recent(limit)
	out := make([]controlplane.SessionInfo, len(entries))
	for i, e := range entries {
		out[i] = controlplane.SessionInfo{ClientAddr: e.ClientAddr, State: e.Cause, OpenFIDs: 0}
	}
	return out
}

// sessionObserver records session lifecycle events into the audit store
// and the recent-sessions ring. Sessions run concurrently, so access to
// opened is guarded by mu.
type sessionObserver struct {
	audit *audit.Store
	ring  *ring.Ring

	mu     sync.Mutex
	opened map[string]time.Time
}

func (o *sessionObserver) SessionOpened(addr string) {
	o.mu.Lock()
	o.opened[addr] = time.Now()
	o.mu.Unlock()
}

func (o *sessionObserver) SessionClosed(addr string, state string) {
	o.mu.Lock()
	openedAt, ok := o.opened[addr]
	delete(o.opened, addr)
	o.mu.Unlock()
	if !ok {
		openedAt = time.Now()
	}
	closedAt := time.Now()

	rec := audit.Record{
		ClientAddr: addr,
		Cause:      state,
		OpenedAt:   openedAt,
		ClosedAt:   closedAt,
		DurationMS: closedAt.Sub(openedAt).Milliseconds(),
	}
	if err := o.audit.Record(context.Background(), rec); err != nil {
		logger.Error("failed to record session audit entry", "error", err)
	}

	entry := ring.Entry{
		ClientAddr: addr,
		Cause:      state,
		OpenedAt:   openedAt,
		ClosedAt:   closedAt,
	}
	if err := o.ring.Push(context.Background(), entry); err != nil {
		logger.Error("failed to push session into ring cache", "error", err)
	}
}

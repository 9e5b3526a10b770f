// Package daemon runs the long-lived governor process: the event consumer,
// the metrics and health endpoints, and periodic maintenance.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/evansosei0707/Enterprise-Grade-Cloud-Governance-Platform-on-AWS/telemetry"
	"github.com/evansosei0707/Enterprise-Grade-Cloud-Governance-Platform-on-AWS/wal"
)

// Config holds daemon configuration
type Config struct {
	ListenAddr          string
	MaintenanceInterval time.Duration
	ShutdownTimeout     time.Duration
}

// Consumer is the event source loop
type Consumer interface {
	Run(ctx context.Context) error
	Ready() bool
}

// ExceptionExpirer materializes lapsed exceptions
type ExceptionExpirer interface {
	ExpireDue(ctx context.Context) (int, error)
}

// LedgerPruner removes ledger records past their retention. Stores with
// native TTL do not need one.
type LedgerPruner interface {
	Prune(ctx context.Context) (int, error)
}

// Drainer waits for detached background work
type Drainer interface {
	Close(ctx context.Context) error
}

// Dependencies are the components the daemon drives. Any may be nil.
type Dependencies struct {
	Consumer   Consumer
	Exceptions ExceptionExpirer
	Ledger     LedgerPruner
	Journal    *wal.WAL
	Dispatcher Drainer
}

// Daemon manages the consumer and maintenance loop
type Daemon struct {
	config           Config
	deps             Dependencies
	metrics          *DaemonMetrics
	logger           *telemetry.Logger
	startTime        time.Time
	maintenanceCount atomic.Int64

	mu       sync.Mutex
	listener net.Listener
}

// NewDaemon creates a new daemon instance
func NewDaemon(config Config, deps Dependencies) (*Daemon, error) {
	if config.ListenAddr == "" {
		config.ListenAddr = ":9090"
	}
	if config.MaintenanceInterval <= 0 {
		config.MaintenanceInterval = time.Hour
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 30 * time.Second
	}

	metrics, err := NewDaemonMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to create daemon metrics: %w", err)
	}

	return &Daemon{
		config:    config,
		deps:      deps,
		metrics:   metrics,
		logger:    telemetry.NewLogger("daemon"),
		startTime: time.Now(),
	}, nil
}

// Start runs until ctx is cancelled or a termination signal arrives
func (d *Daemon) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", d.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", d.config.ListenAddr, err)
	}
	d.mu.Lock()
	d.listener = listener
	d.mu.Unlock()

	var g run.Group

	g.Add(run.SignalHandler(ctx, syscall.SIGINT, syscall.SIGTERM))

	if d.deps.Consumer != nil {
		consumerCtx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			return d.deps.Consumer.Run(consumerCtx)
		}, func(error) {
			cancel()
		})
	}

	server := &http.Server{Handler: d.Handler(), ReadHeaderTimeout: 10 * time.Second}
	g.Add(func() error {
		d.logger.WithContext(ctx).Info().Str("addr", listener.Addr().String()).Msg("starting metrics server")
		if err := server.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}, func(error) {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), d.config.ShutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	})

	maintenanceCtx, cancelMaintenance := context.WithCancel(ctx)
	g.Add(func() error {
		d.maintenanceLoop(maintenanceCtx)
		return nil
	}, func(error) {
		cancelMaintenance()
	})

	err = g.Run()
	d.drain()

	var sigErr run.SignalError
	if errors.As(err, &sigErr) || errors.Is(err, context.Canceled) {
		d.logger.WithContext(ctx).Info().Err(err).Msg("daemon stopped")
		return nil
	}
	return err
}

func (d *Daemon) drain() {
	if d.deps.Dispatcher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.config.ShutdownTimeout)
	defer cancel()
	if err := d.deps.Dispatcher.Close(ctx); err != nil {
		d.logger.WithContext(ctx).Warn().Err(err).Msg("notifications still in flight at shutdown")
	}
}

func (d *Daemon) maintenanceLoop(ctx context.Context) {
	ticker := time.NewTicker(d.config.MaintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.RunMaintenance(ctx)
		}
	}
}

// RunMaintenance expires lapsed exceptions, prunes the ledger and
// removes journal files past retention. A failing step does not stop the
// others.
func (d *Daemon) RunMaintenance(ctx context.Context) {
	start := time.Now()
	d.maintenanceCount.Add(1)
	status := "success"

	if d.deps.Exceptions != nil {
		n, err := d.deps.Exceptions.ExpireDue(ctx)
		d.recordStep(ctx, "expire_exceptions", err)
		if err != nil {
			status = "partial"
		}
		d.metrics.RecordExceptionsExpired(ctx, n)
	}

	if d.deps.Ledger != nil {
		n, err := d.deps.Ledger.Prune(ctx)
		d.recordStep(ctx, "prune_ledger", err)
		if err != nil {
			status = "partial"
		}
		d.metrics.RecordLedgerPruned(ctx, n)
	}

	if d.deps.Journal != nil {
		stats, err := wal.CleanupWithStats(d.deps.Journal.Dir(), d.deps.Journal.Config())
		d.recordStep(ctx, "cleanup_journal", err)
		if err != nil {
			status = "partial"
		}
		d.metrics.RecordJournalCleanup(ctx, stats.FilesRemoved)
		if stats.FilesRemoved > 0 {
			d.logger.WithContext(ctx).Info().
				Int("files", stats.FilesRemoved).
				Int64("bytes", stats.BytesFreed).
				Msg("removed expired journal files")
		}
	}

	d.metrics.RecordMaintenance(ctx, status, time.Since(start).Seconds())
}

func (d *Daemon) recordStep(ctx context.Context, operation string, err error) {
	if err != nil {
		d.metrics.RecordStorageOperation(ctx, operation, "error", fmt.Sprintf("%T", err))
		d.logger.LogStorageError(ctx, operation, err)
		return
	}
	d.metrics.RecordStorageOperation(ctx, operation, "success", "")
}

// Handler serves /metrics, /health, /-/healthy and /-/ready
func (d *Daemon) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(telemetry.PrometheusRegistry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", d.handleHealth)
	mux.HandleFunc("/-/healthy", d.handleHealth)
	mux.HandleFunc("/-/ready", func(w http.ResponseWriter, r *http.Request) {
		if d.deps.Consumer != nil && !d.deps.Consumer.Ready() {
			http.Error(w, "consumer not ready", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ready\n"))
	})
	return mux
}

func (d *Daemon) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(d.Health())
}

// HealthStatus represents daemon health
type HealthStatus struct {
	Status       string            `json:"status"`
	Uptime       int64             `json:"uptime_seconds"`
	Maintenance  int64             `json:"maintenance_runs"`
	Journal      *wal.HealthStatus `json:"journal,omitempty"`
	ConsumerLive bool              `json:"consumer_ready"`
}

// Health returns daemon health status. Journal issues degrade the status
// without failing the check.
func (d *Daemon) Health() HealthStatus {
	health := HealthStatus{
		Status:      "healthy",
		Uptime:      int64(time.Since(d.startTime).Seconds()),
		Maintenance: d.maintenanceCount.Load(),
	}
	if d.deps.Consumer != nil {
		health.ConsumerLive = d.deps.Consumer.Ready()
	}
	if d.deps.Journal != nil {
		journal := d.deps.Journal.GetHealth()
		health.Journal = &journal
		if !journal.Healthy {
			health.Status = "degraded"
		}
	}
	return health
}

// MaintenanceCount returns total maintenance runs
func (d *Daemon) MaintenanceCount() int64 {
	return d.maintenanceCount.Load()
}

// MetricsPort returns the bound port, or 0 before Start
func (d *Daemon) MetricsPort() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.listener == nil {
		return 0
	}
	if addr, ok := d.listener.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

// Close releases the listener if Start never got to shut it down
func (d *Daemon) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.listener == nil {
		return nil
	}
	err := d.listener.Close()
	d.listener = nil
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

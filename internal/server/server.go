package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/bottledcode/atlas-locks/atlas/kv"
	"github.com/bottledcode/atlas-locks/atlas/locks"
	"github.com/bottledcode/atlas-locks/atlas/options"
	"github.com/bottledcode/atlas-locks/atlas/sequence"
	"github.com/bottledcode/atlas-locks/atlas/txn"
	"github.com/bottledcode/atlas-locks/pkg/config"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Server owns the storage, the lock manager with its sequence and the
// transaction coordinator built on top of them, plus the metrics endpoint.
type Server struct {
	config *config.Config
	logger *zap.Logger

	store       *kv.BadgerStore
	runner      *sequence.SequencedTaskRunner
	manager     *locks.Manager
	coordinator *txn.Coordinator

	metrics         *http.Server
	metricsListener net.Listener

	cancel  context.CancelFunc
	group   *errgroup.Group
	running bool
	mu      sync.RWMutex
}

func NewServer(cfg *config.Config) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server requires a configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	options.CurrentOptions.SetRetainFreeRanges(cfg.Locks.RetainFreeRanges)

	return &Server{
		config: cfg,
		logger: logger,
	}, nil
}

func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("server is already running")
	}

	// Initialize storage
	store, err := kv.NewBadgerStore(kv.BadgerOptions{
		Path:        s.config.Storage.DataDir,
		InMemory:    s.config.Storage.InMemory,
		SyncWrites:  s.config.Storage.SyncWrites,
		NumVersions: s.config.Storage.NumVersions,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	// Initialize the lock manager on its own sequence
	runner := sequence.NewSequencedTaskRunner()
	var managerOpts []locks.Option
	if options.CurrentOptions.RetainFreeRanges() {
		managerOpts = append(managerOpts, locks.WithRetainedRanges())
	}
	manager, err := locks.NewManager(txn.LevelCount, runner, managerOpts...)
	if err != nil {
		runner.Close()
		_ = store.Close()
		return fmt.Errorf("failed to initialize lock manager: %w", err)
	}

	coordinator, err := txn.NewCoordinator(store, runner, manager)
	if err != nil {
		runner.Close()
		_ = store.Close()
		return fmt.Errorf("failed to initialize transaction coordinator: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(ctx)

	// Web server for metrics and lock statistics
	if s.config.Metrics.Enabled {
		listener, err := net.Listen("tcp", s.config.Metrics.Address)
		if err != nil {
			cancel()
			runner.Close()
			_ = store.Close()
			return fmt.Errorf("failed to listen for metrics: %w", err)
		}
		router := mux.NewRouter()
		router.Handle(s.config.Metrics.Path, promhttp.Handler()).Methods(http.MethodGet)
		router.HandleFunc("/stats", statsHandler(store, runner, manager, s.logger)).Methods(http.MethodGet)
		s.metrics = &http.Server{Handler: router, ReadHeaderTimeout: 5 * time.Second}
		s.metricsListener = listener

		metrics := s.metrics
		group.Go(func() error {
			if err := metrics.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server failed: %w", err)
			}
			return nil
		})
		s.logger.Info("Serving metrics",
			zap.String("address", listener.Addr().String()),
			zap.String("path", s.config.Metrics.Path))
	}

	// Start garbage collection routine
	group.Go(func() error {
		s.runGCRoutine(ctx, store)
		return nil
	})

	s.store = store
	s.runner = runner
	s.manager = manager
	s.coordinator = coordinator
	s.cancel = cancel
	s.group = group
	s.running = true

	s.logger.Info("Server started",
		zap.String("data_dir", s.config.Storage.DataDir),
		zap.Bool("in_memory", s.config.Storage.InMemory),
		zap.Bool("retain_free_ranges", options.CurrentOptions.RetainFreeRanges()))
	return nil
}

func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	var errs []error
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if s.metrics != nil {
		if err := s.metrics.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop metrics server: %w", err))
		}
	}

	// Stop handing out transactions, then tear down the lock manager on its sequence
	s.coordinator.Close()
	if err := s.runner.Invoke(ctx, s.manager.Close); err != nil {
		errs = append(errs, fmt.Errorf("failed to close lock manager: %w", err))
	}
	s.runner.Close()
	s.cancel()
	if err := s.group.Wait(); err != nil {
		errs = append(errs, err)
	}

	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close storage: %w", err))
	}

	s.store = nil
	s.runner = nil
	s.manager = nil
	s.coordinator = nil
	s.metrics = nil
	s.metricsListener = nil
	s.running = false

	s.logger.Info("Server stopped")
	return errors.Join(errs...)
}

func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Coordinator returns the transaction coordinator, or nil while the server
// is stopped.
func (s *Server) Coordinator() *txn.Coordinator {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.coordinator
}

// Store returns the underlying key-value store, or nil while the server is
// stopped.
func (s *Server) Store() kv.Store {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.store == nil {
		return nil
	}
	return s.store
}

// MetricsAddr returns the address the metrics endpoint listens on, or an
// empty string if it is not serving.
func (s *Server) MetricsAddr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.metricsListener == nil {
		return ""
	}
	return s.metricsListener.Addr().String()
}

func (s *Server) runGCRoutine(ctx context.Context, store *kv.BadgerStore) {
	ticker := time.NewTicker(s.config.Storage.GCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := store.RunValueLogGC(s.config.Storage.ValueLogGCRatio); err != nil {
				s.logger.Warn("Value log GC failed", zap.Error(err))
			}
		}
	}
}

// GetStats returns server statistics
func (s *Server) GetStats(ctx context.Context) (*ServerStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.running {
		return &ServerStats{Running: false}, nil
	}
	return collectStats(ctx, s.store, s.runner, s.manager)
}

func collectStats(ctx context.Context, store *kv.BadgerStore, runner *sequence.SequencedTaskRunner, manager *locks.Manager) (*ServerStats, error) {
	size, err := store.Size()
	if err != nil {
		return nil, err
	}

	stats := &ServerStats{
		Running:     true,
		StorageSize: size,
	}
	err = runner.Invoke(ctx, func() {
		stats.LocksHeld = manager.LocksHeld()
		stats.RequestsWaiting = manager.RequestsWaiting()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read lock manager state: %w", err)
	}
	return stats, nil
}

// statsHandler serves ServerStats as JSON. It holds on to the components
// directly so that it never waits for the server's own lock.
func statsHandler(store *kv.BadgerStore, runner *sequence.SequencedTaskRunner, manager *locks.Manager, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		stats, err := collectStats(req.Context(), store, runner, manager)
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(stats); err != nil {
			logger.Debug("Failed to write stats", zap.Error(err))
		}
	}
}

type ServerStats struct {
	Running         bool  `json:"running"`
	StorageSize     int64 `json:"storage_size"`
	LocksHeld       int64 `json:"locks_held"`
	RequestsWaiting int64 `json:"requests_waiting"`
}

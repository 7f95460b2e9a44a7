package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/wnt/stakepool/internal/config"
	"github.com/wnt/stakepool/internal/metrics"
	"github.com/wnt/stakepool/internal/queue"
)

const (
	defaultPollInterval     = 2 * time.Second
	defaultRecoveryInterval = 5 * time.Minute
	defaultMonitorInterval  = 1 * time.Minute
)

// Option configures a Manager
type Option func(*Manager)

// WithPollInterval sets how long an idle worker waits before polling the queue again
func WithPollInterval(d time.Duration) Option {
	return func(m *Manager) { m.pollInterval = d }
}

// WithRecoveryInterval sets how often stuck operations are looked for
func WithRecoveryInterval(d time.Duration) Option {
	return func(m *Manager) { m.recoveryInterval = d }
}

// Manager runs a fixed pool of workers plus the queue housekeeping loops
type Manager struct {
	config           config.Config
	queue            *queue.Client
	service          Applier
	workers          []*Worker
	pollInterval     time.Duration
	recoveryInterval time.Duration
	monitorInterval  time.Duration
	logger           zerolog.Logger
	mutex            sync.RWMutex
	ctx              context.Context
	cancel           context.CancelFunc
	eg               *errgroup.Group
	stopped          bool
}

// NewManager creates a new worker manager
func NewManager(cfg config.Config, queueClient *queue.Client, service Applier, logger zerolog.Logger, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	eg, egCtx := errgroup.WithContext(ctx)

	manager := &Manager{
		config:           cfg,
		queue:            queueClient,
		service:          service,
		workers:          make([]*Worker, 0, cfg.Workers),
		pollInterval:     defaultPollInterval,
		recoveryInterval: defaultRecoveryInterval,
		monitorInterval:  defaultMonitorInterval,
		logger:           logger.With().Str("component", "worker_manager").Logger(),
		ctx:              egCtx,
		cancel:           cancel,
		eg:               eg,
	}
	for _, opt := range opts {
		opt(manager)
	}

	return manager
}

// Start launches the workers and housekeeping loops
func (m *Manager) Start() error {
	if m.config.Workers < 1 {
		return fmt.Errorf("failed to start workers: need at least 1, got %d", m.config.Workers)
	}

	m.logger.Info().
		Int("workers", m.config.Workers).
		Dur("stuck_timeout", m.config.StuckTimeout).
		Msg("Starting worker manager")

	// Pick up operations a previous run left stuck before taking new work
	m.recoverStuck()

	m.addWorkers(m.config.Workers)

	m.eg.Go(func() error {
		return m.runStuckOperationRecovery()
	})

	m.eg.Go(func() error {
		return m.runQueueMonitoring()
	})

	m.logger.Info().Msg("Worker manager started successfully")
	return nil
}

// Stop gracefully shuts down the worker manager
func (m *Manager) Stop() error {
	m.mutex.Lock()
	if m.stopped {
		m.mutex.Unlock()
		return nil
	}
	m.stopped = true
	for _, worker := range m.workers {
		worker.Stop()
	}
	m.mutex.Unlock()

	m.logger.Info().Msg("Stopping worker manager...")

	// Cancel context to signal all workers to stop
	m.cancel()

	// Wait for all workers to finish with timeout
	done := make(chan error, 1)
	go func() {
		done <- m.eg.Wait()
	}()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Error().Err(err).Msg("Error during worker shutdown")
		}
	case <-time.After(30 * time.Second):
		m.logger.Warn().Msg("Worker shutdown timed out")
	}

	m.mutex.Lock()
	m.workers = nil
	m.mutex.Unlock()

	metrics.WorkersActive.Set(0)
	m.logger.Info().Msg("Worker manager stopped")
	return nil
}

// Done is closed when the manager's context ends, either from Stop or a loop failing
func (m *Manager) Done() <-chan struct{} {
	return m.ctx.Done()
}

// addWorkers creates and starts new workers
func (m *Manager) addWorkers(count int) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	for i := 0; i < count; i++ {
		workerID := fmt.Sprintf("worker-%d", len(m.workers)+1)
		worker := NewWorker(workerID, m.queue, m.service, m.pollInterval, m.logger)

		m.eg.Go(func() error {
			return worker.Start(m.ctx)
		})

		m.workers = append(m.workers, worker)

		m.logger.Debug().
			Str("worker_id", workerID).
			Int("total_workers", len(m.workers)).
			Msg("Added worker")
	}

	metrics.WorkersActive.Set(float64(len(m.workers)))
}

// runStuckOperationRecovery periodically requeues operations abandoned by a worker
func (m *Manager) runStuckOperationRecovery() error {
	ticker := time.NewTicker(m.recoveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return m.ctx.Err()
		case <-ticker.C:
			m.recoverStuck()
		}
	}
}

func (m *Manager) recoverStuck() {
	if _, err := m.queue.RequeueStuck(m.ctx, m.config.StuckTimeout); err != nil {
		m.logger.Error().Err(err).Msg("Failed to requeue stuck operations")
	}
}

// runQueueMonitoring periodically logs queue statistics
func (m *Manager) runQueueMonitoring() error {
	ticker := time.NewTicker(m.monitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return m.ctx.Err()
		case <-ticker.C:
			stats, err := m.GetStats(m.ctx)
			if err != nil {
				m.logger.Error().Err(err).Msg("Failed to collect queue statistics")
				continue
			}

			m.logger.Info().
				Int64("queue_length", stats.QueueLength).
				Int("in_flight_operations", stats.InFlight).
				Int("active_workers", stats.ActiveWorkers).
				Msg("Queue monitoring stats")
		}
	}
}

// Stats is a snapshot of the manager and its queue
type Stats struct {
	ActiveWorkers int   `json:"active_workers"`
	QueueLength   int64 `json:"queue_length"`
	InFlight      int   `json:"in_flight_operations"`
}

// GetStats returns current manager statistics and refreshes the queue length gauge
func (m *Manager) GetStats(ctx context.Context) (Stats, error) {
	m.mutex.RLock()
	stats := Stats{ActiveWorkers: len(m.workers)}
	m.mutex.RUnlock()

	queueLength, err := m.queue.GetQueueLength(ctx)
	if err != nil {
		return stats, err
	}
	inFlight, err := m.queue.GetInFlight(ctx)
	if err != nil {
		return stats, err
	}

	stats.QueueLength = queueLength
	stats.InFlight = len(inFlight)
	metrics.QueueLength.Set(float64(queueLength))
	return stats, nil
}

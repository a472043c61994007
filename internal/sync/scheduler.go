package sync

import (
	"context"
	"sync"
	"time"

	"github.com/nexuzy/fides/internal/logging"
)

// DefaultSyncInterval is the wall-clock interval between background push
// runs when none is configured.
const DefaultSyncInterval = 30 * time.Second

// Scheduler runs PushPending on a fixed interval for as long as the process
// is alive. It is the only path allowed to block on network I/O beyond the
// connect timeout, and it never surfaces transport errors to foreground
// callers: a failed run leaves records pending for the next one.
type Scheduler struct {
	engine   *Engine
	interval time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup

	mu           sync.RWMutex
	isRunning    bool
	inFlight     bool
	lastSyncTime time.Time
	lastErr      error
}

// NewScheduler creates a scheduler over the engine.
func NewScheduler(engine *Engine, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultSyncInterval
	}
	return &Scheduler{
		engine:   engine,
		interval: interval,
	}
}

// Start launches the background loop. Calling Start twice is a no-op, and a
// stopped scheduler can be started again.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	// Fresh channel per run so Stop's close never fires twice.
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(ctx, stopCh)

	logging.Info("background sync scheduler started",
		map[string]interface{}{"interval_seconds": s.interval.Seconds()})
}

// Stop halts the loop and waits for any in-flight run to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	stopCh := s.stopCh
	s.mu.Unlock()

	close(stopCh)
	s.wg.Wait()

	logging.Info("background sync scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, stopCh <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			s.runPush(ctx)
		}
	}
}

// runPush executes one push run. Runs never overlap; a tick that arrives
// while a run is in flight is skipped.
func (s *Scheduler) runPush(ctx context.Context) {
	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		logging.Debug("push already in progress, skipping tick")
		return
	}
	s.inFlight = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inFlight = false
		s.mu.Unlock()
	}()

	// Bound the whole run; a stuck transfer must not wedge the loop.
	runCtx, cancel := context.WithTimeout(ctx, s.interval*2)
	defer cancel()

	synced, err := s.engine.PushPending(runCtx)

	s.mu.Lock()
	s.lastErr = err
	if err == nil {
		s.lastSyncTime = time.Now()
	}
	s.mu.Unlock()

	if err != nil {
		// Absorbed: background sync failures never disrupt local-first use.
		logging.Warn("background push failed", err)
		return
	}
	if synced > 0 {
		logging.Info("background push completed",
			map[string]interface{}{"synced": synced})
	}
}

// Status is a point-in-time snapshot of the scheduler.
type Status struct {
	IsRunning    bool
	InFlight     bool
	LastSyncTime *time.Time
	LastError    error
}

// GetStatus returns the current scheduler status.
func (s *Scheduler) GetStatus() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := Status{
		IsRunning: s.isRunning,
		InFlight:  s.inFlight,
		LastError: s.lastErr,
	}
	if !s.lastSyncTime.IsZero() {
		t := s.lastSyncTime
		status.LastSyncTime = &t
	}
	return status
}

// IsRunning reports whether the scheduler loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

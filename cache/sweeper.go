/*
sweeper.go - Periodic eviction for the in-process backend

PURPOSE:
  Memory only drops an expired entry when it is read again. Aggregates
  for a user who never comes back would otherwise stay resident, so the
  sweeper walks the map on an interval and evicts everything past TTL.
  Redis expires keys itself and needs no sweeper.

USAGE:
  sweeper := cache.NewSweeper(mem, time.Minute, logger)
  sweeper.Start()
  // ... later
  sweeper.Stop()
*/
package cache

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultSweepInterval is how often expired entries are evicted.
const DefaultSweepInterval = time.Minute

// Sweeper evicts expired Memory entries in the background.
type Sweeper struct {
	Memory        *Memory
	CheckInterval time.Duration

	logger *slog.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewSweeper creates a sweeper. A non-positive interval uses DefaultSweepInterval.
func NewSweeper(m *Memory, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		Memory:        m,
		CheckInterval: interval,
		logger:        logger,
	}
}

// Start begins sweeping. Calling Start twice is a no-op.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		return
	}
	s.ticker = time.NewTicker(s.CheckInterval)
	s.stop = make(chan struct{})
	s.wg.Add(1)

	go s.run(s.ticker, s.stop)

	s.logger.Debug("cache sweeper started", "interval", s.CheckInterval)
}

// Stop halts the sweeper and waits for an in-flight sweep.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	close(s.stop)
	s.wg.Wait()
	s.ticker = nil
	s.logger.Debug("cache sweeper stopped")
}

func (s *Sweeper) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()
	for {
		select {
		case <-ticker.C:
			if n := s.Memory.Sweep(); n > 0 {
				s.logger.Debug("evicted expired cache entries", "count", n)
			}
		case <-stop:
			return
		}
	}
}

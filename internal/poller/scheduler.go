// Package poller drives the periodic fan-out across all configured
// hosts. Each cycle launches one bounded, isolated task per eligible
// host; one host's timeout or failure never delays another host and
// never blocks the next tick.
package poller

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/oobmetrics/redfish-power-exporter/internal/health"
	"github.com/oobmetrics/redfish-power-exporter/internal/redfish"
	"github.com/oobmetrics/redfish-power-exporter/internal/retry"
)

// logoutTimeout bounds the session cleanup performed during Stop.
const logoutTimeout = 5 * time.Second

// Fetcher is the client side of a poll: one full Redfish exchange per
// call, plus session cleanup at shutdown. Implemented by *redfish.Client.
type Fetcher interface {
	Fetch(ctx context.Context, t redfish.Target, s *redfish.Session) (*redfish.Report, error)
	Logout(ctx context.Context, t redfish.Target, s *redfish.Session) error
}

// Recorder receives every observation a poll cycle produces.
// Implemented by *metrics.Recorder.
type Recorder interface {
	SetAvailability(host, group string, up bool)
	RecordReading(host, group string, rd redfish.Reading)
	RecordIdentity(host, group string, id redfish.Identity)
	ObserveLatency(host string, d time.Duration)
	CountError(host string, kind redfish.Kind)
}

// Config carries the scheduler's tuning knobs.
type Config struct {
	// Targets is the fixed host list for the process lifetime.
	Targets []redfish.Target

	// Interval is the time between poll cycles.
	Interval time.Duration

	// HostTimeout bounds one host's entire poll, retries included.
	HostTimeout time.Duration

	// Retry is applied around each host's fetch while its breaker is
	// closed. Its Retryable field is overridden to the transient-error
	// classifier.
	Retry retry.Policy
}

// Scheduler runs the poll cycle on a fixed interval.
//
// Per tick, every host with a closed breaker (or an open breaker due for
// a probe) gets its own goroutine bounded by a per-host timeout. A host
// whose previous poll is still in flight is skipped this tick so a host
// is never polled concurrently with itself; other hosts are unaffected.
//
// All lifecycle methods are safe for concurrent use.
type Scheduler struct {
	targets     []redfish.Target
	interval    time.Duration
	hostTimeout time.Duration
	policy      retry.Policy
	fetcher     Fetcher
	tracker     *health.Tracker
	recorder    Recorder
	logger      *slog.Logger

	// sessions is keyed per host and fixed at construction; each entry
	// is only touched by that host's serial poll task.
	sessions map[string]*redfish.Session

	mu       sync.Mutex
	inFlight map[string]bool
	started  bool
	stopped  bool
	cancel   context.CancelFunc

	wg     sync.WaitGroup // driver loop
	taskWG sync.WaitGroup // per-host tasks
}

// NewScheduler creates a [Scheduler]. It must be started with
// [Scheduler.Start] and stopped with [Scheduler.Stop].
func NewScheduler(cfg Config, fetcher Fetcher, tracker *health.Tracker, recorder Recorder, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	policy := cfg.Retry
	policy.Retryable = redfish.IsTransient

	sessions := make(map[string]*redfish.Session, len(cfg.Targets))
	for _, t := range cfg.Targets {
		sessions[t.FQDN] = redfish.NewSession()
	}

	return &Scheduler{
		targets:     cfg.Targets,
		interval:    cfg.Interval,
		hostTimeout: cfg.HostTimeout,
		policy:      policy,
		fetcher:     fetcher,
		tracker:     tracker,
		recorder:    recorder,
		logger:      logger,
		sessions:    sessions,
		inFlight:    make(map[string]bool, len(cfg.Targets)),
	}
}

// Start begins the polling loop in a background goroutine.
//
// The first cycle is dispatched immediately, then one per interval.
// Start is non-blocking and idempotent; calling it after Stop is a
// no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.started = true

	if ctx == nil {
		ctx = context.Background()
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()

		s.runCycle(runCtx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				s.runCycle(runCtx)
			}
		}
	}()
}

// Stop halts the scheduler, waits for in-flight polls to finish, and
// logs out all live Redfish sessions.
//
// Stop is idempotent and safe to call before Start.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	alreadyStopped := s.stopped
	s.stopped = true
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.taskWG.Wait()

	if !alreadyStopped {
		s.logoutAll()
	}
}

// runCycle dispatches one poll task per eligible host and returns
// without waiting for them. Availability is refreshed for skipped hosts
// so the exposition side always reflects reachability.
func (s *Scheduler) runCycle(ctx context.Context) {
	cycleID := uuid.NewString()

	for _, t := range s.targets {
		s.mu.Lock()
		busy := s.inFlight[t.FQDN]
		if !busy {
			s.inFlight[t.FQDN] = true
		}
		s.mu.Unlock()

		if busy {
			// previous poll for this host still running; skip this tick
			// to keep a host serial relative to itself
			s.logger.Debug("poll still in flight, skipping", "host", t.FQDN, "cycle", cycleID)
			continue
		}

		if !s.tracker.Eligible(t.FQDN) {
			s.clearInFlight(t.FQDN)
			s.recorder.SetAvailability(t.FQDN, t.Group, false)
			s.recorder.CountError(t.FQDN, redfish.KindUnavailable)
			s.logger.Warn("skipping host, breaker open", "host", t.FQDN, "cycle", cycleID)
			continue
		}

		s.taskWG.Add(1)
		go func(t redfish.Target) {
			defer s.taskWG.Done()
			defer s.clearInFlight(t.FQDN)
			s.pollHost(ctx, t, cycleID)
		}(t)
	}
}

func (s *Scheduler) clearInFlight(host string) {
	s.mu.Lock()
	delete(s.inFlight, host)
	s.mu.Unlock()
}

// pollHost runs one host's poll end to end: retry-wrapped fetch, breaker
// update, metric recording. Nothing here can fail the cycle; errors are
// recorded and contained.
func (s *Scheduler) pollHost(ctx context.Context, t redfish.Target, cycleID string) {
	defer s.recoverPanic(t, cycleID)

	tctx, cancel := context.WithTimeout(ctx, s.hostTimeout)
	defer cancel()

	start := time.Now()
	var report *redfish.Report
	err := s.policy.Do(tctx, func(ctx context.Context) error {
		r, ferr := s.fetcher.Fetch(ctx, t, s.sessions[t.FQDN])
		if ferr != nil {
			return ferr
		}
		report = r
		return nil
	})
	s.recorder.ObserveLatency(t.FQDN, time.Since(start))

	if err != nil {
		kind := redfish.KindOf(err)
		s.tracker.Observe(t.FQDN, false)
		s.recorder.SetAvailability(t.FQDN, t.Group, false)
		s.recorder.CountError(t.FQDN, kind)
		s.logger.Warn("poll failed",
			"host", t.FQDN,
			"kind", kind.String(),
			"error", err,
			"cycle", cycleID,
		)
		return
	}

	s.tracker.Observe(t.FQDN, true)
	s.recorder.SetAvailability(t.FQDN, t.Group, true)
	for _, rd := range report.Readings {
		s.recorder.RecordReading(t.FQDN, t.Group, rd)
	}
	if report.Identity != nil {
		s.recorder.RecordIdentity(t.FQDN, t.Group, *report.Identity)
	}
	s.logger.Debug("poll completed",
		"host", t.FQDN,
		"psus", len(report.Readings),
		"latency_ms", time.Since(start).Milliseconds(),
		"cycle", cycleID,
	)
}

// recoverPanic contains a panicking poll task. The panic is logged with
// a correlation ID and the host is treated as a protocol failure.
func (s *Scheduler) recoverPanic(t redfish.Target, cycleID string) {
	r := recover()
	if r == nil {
		return
	}
	correlationID := uuid.NewString()
	s.logger.Error("poll task panic",
		"correlation_id", correlationID,
		"host", t.FQDN,
		"cycle", cycleID,
		"panic", fmt.Sprintf("%v", r),
		"stack", string(debug.Stack()),
	)
	s.tracker.Observe(t.FQDN, false)
	s.recorder.SetAvailability(t.FQDN, t.Group, false)
	s.recorder.CountError(t.FQDN, redfish.KindProtocol)
}

// logoutAll deletes every live Redfish session concurrently, bounded by
// a fixed timeout so shutdown cannot hang on a dead host.
func (s *Scheduler) logoutAll() {
	ctx, cancel := context.WithTimeout(context.Background(), logoutTimeout)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	for _, t := range s.targets {
		t := t
		sess := s.sessions[t.FQDN]
		// Logout is a no-op for hosts without a cached session token
		g.Go(func() error {
			if err := s.fetcher.Logout(gctx, t, sess); err != nil {
				s.logger.Warn("logout failed", "host", t.FQDN, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

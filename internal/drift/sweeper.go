package drift

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/flowguard/internal/logging"
	"github.com/rendis/flowguard/pkg/schema"
)

const defaultPollInterval = 30 * time.Second

// Notifier receives the report of every drifted workflow found by a sweep.
type Notifier interface {
	NotifyDrift(ctx context.Context, r *Report)
}

// SweepResult summarises one sweep.
type SweepResult struct {
	Checked int       `json:"checked"`
	Drifted []*Report `json:"drifted"`
	Failed  []string  `json:"failed"`
}

// Sweeper runs Check for every baselined workflow on a cron schedule.
type Sweeper struct {
	detector *Detector
	schedule cron.Schedule
	spec     string
	notifier Notifier
	logger   *slog.Logger
	poll     time.Duration

	running atomic.Bool
	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
}

// ParseSchedule parses a standard 5-field cron expression.
func ParseSchedule(spec string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(spec)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid drift schedule %q", spec).WithCause(err)
	}
	return sched, nil
}

// NewSweeper creates a Sweeper for the given cron expression. notifier may be nil.
func NewSweeper(detector *Detector, spec string, notifier Notifier, logger *slog.Logger) (*Sweeper, error) {
	sched, err := ParseSchedule(spec)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = detector.logger
	}
	return &Sweeper{
		detector: detector,
		schedule: sched,
		spec:     spec,
		notifier: notifier,
		logger:   logger,
		poll:     defaultPollInterval,
	}, nil
}

// SetPollInterval changes how often the loop checks whether a sweep is due.
// Must be called before Start.
func (s *Sweeper) SetPollInterval(d time.Duration) {
	if d > 0 {
		s.poll = d
	}
}

// Next returns the first scheduled sweep after from.
func (s *Sweeper) Next(from time.Time) time.Time {
	return s.schedule.Next(from)
}

// Start launches the background loop. The first sweep runs immediately.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("drift sweeper already started")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(loopCtx)
	s.logger.Info("drift sweeper started", slog.String("schedule", s.spec))
	return nil
}

func (s *Sweeper) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	s.runSweep(ctx)
	next := s.Next(time.Now())

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if now.Before(next) {
				continue
			}
			s.runSweep(ctx)
			next = s.Next(now)
		}
	}
}

func (s *Sweeper) runSweep(ctx context.Context) {
	res, err := s.Sweep(ctx)
	if err != nil {
		s.logger.Error("drift sweep failed", slog.String("error", err.Error()))
		return
	}
	s.logger.Info("drift sweep finished",
		slog.Int("checked", res.Checked),
		slog.Int("drifted", len(res.Drifted)),
		slog.Int("failed", len(res.Failed)))
}

// Sweep checks every baselined workflow once. Per-workflow failures are logged
// and collected; only listing the baselines can fail the sweep. A sweep that
// starts while another is running returns an empty result.
func (s *Sweeper) Sweep(ctx context.Context) (*SweepResult, error) {
	res := &SweepResult{Drifted: []*Report{}, Failed: []string{}}
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Debug("drift sweep already running, skipping")
		return res, nil
	}
	defer s.running.Store(false)

	ids, err := s.detector.store.ListBaselineWorkflowIDs(ctx)
	if err != nil {
		return nil, err
	}

	for _, id := range ids {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		wctx := logging.WithWorkflowID(ctx, id)
		r, err := s.detector.Check(wctx, id)
		res.Checked++
		if err != nil {
			s.logger.ErrorContext(wctx, "drift check failed", slog.String("error", err.Error()))
			res.Failed = append(res.Failed, id)
			continue
		}
		if !r.Drifted {
			continue
		}
		res.Drifted = append(res.Drifted, r)
		if s.notifier != nil {
			s.notifier.NotifyDrift(wctx, r)
		}
	}
	return res, nil
}

// Stop cancels the loop and waits for it to exit.
func (s *Sweeper) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("drift sweeper stopped")
	return nil
}

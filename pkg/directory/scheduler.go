package directory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/platinummonkey/larkbridge/pkg/async"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// ErrSyncInProgress is returned when a sync is requested while another one runs
var ErrSyncInProgress = errors.New("directory sync already in progress")

// DefaultRunTimeout bounds a scheduled or triggered sync
const DefaultRunTimeout = 30 * time.Minute

// Scheduler runs the engine on a cron schedule and on demand, one run at a time
type Scheduler struct {
	engine  *Engine
	opts    Options
	timeout time.Duration
	cron    *cron.Cron
	logger  *logrus.Logger

	mu      sync.Mutex
	running bool
	last    *Result
	lastErr error
	lastAt  time.Time
}

// NewScheduler creates a scheduler running opts on schedule (standard five-field cron spec).
// An empty schedule disables periodic runs; RunNow and Trigger still work.
func NewScheduler(engine *Engine, opts Options, schedule string, timeout time.Duration, logger *logrus.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if timeout <= 0 {
		timeout = DefaultRunTimeout
	}

	cl := cronLogger{logger: logger}
	s := &Scheduler{
		engine:  engine,
		opts:    opts,
		timeout: timeout,
		logger:  logger,
		cron:    cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl))),
	}

	if schedule != "" {
		_, err := s.cron.AddFunc(schedule, func() {
			ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
			defer cancel()
			if _, err := s.RunNow(ctx); err != nil && !errors.Is(err, ErrSyncInProgress) {
				s.logger.WithError(err).Error("Scheduled directory sync failed")
			}
		})
		if err != nil {
			return nil, fmt.Errorf("invalid sync schedule %q: %w", schedule, err)
		}
	}
	return s, nil
}

// Start starts the cron loop
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the cron loop and waits for a running scheduled sync until ctx is done
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunNow runs a sync immediately unless one is already running
func (s *Scheduler) RunNow(ctx context.Context) (*Result, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil, ErrSyncInProgress
	}
	s.running = true
	s.mu.Unlock()

	var (
		result *Result
		err    error
	)
	defer func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.running = false
		s.last = result
		s.lastErr = err
		s.lastAt = time.Now()
		if p := recover(); p != nil {
			s.lastErr = fmt.Errorf("directory sync panicked: %v", p)
			panic(p)
		}
	}()

	result, err = s.engine.Sync(ctx, s.opts)
	return result, err
}

// Trigger starts a sync in the background, detached from ctx's cancellation
func (s *Scheduler) Trigger(ctx context.Context, reason string) {
	async.SafeGo(context.WithoutCancel(ctx), s.timeout, "directory sync ("+reason+")", s.logger, func(ctx context.Context) error {
		_, err := s.RunNow(ctx)
		if errors.Is(err, ErrSyncInProgress) {
			return nil
		}
		return err
	})
}

// RunStatus describes the scheduler's most recent run
type RunStatus struct {
	Running    bool      `json:"running"`
	Result     *Result   `json:"result,omitempty"`
	Error      string    `json:"error,omitempty"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// Status returns the state of the most recent run
func (s *Scheduler) Status() RunStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	status := RunStatus{Running: s.running, Result: s.last, FinishedAt: s.lastAt}
	if s.lastErr != nil {
		status.Error = s.lastErr.Error()
	}
	return status
}

// cronLogger adapts logrus to cron.Logger
type cronLogger struct {
	logger *logrus.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(kvFields(keysAndValues)).Debug("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(kvFields(keysAndValues)).WithError(err).Error("cron: " + msg)
}

func kvFields(keysAndValues []interface{}) logrus.Fields {
	fields := logrus.Fields{}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return fields
}

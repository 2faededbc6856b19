// Package sweeper runs the periodic housekeeping jobs of the totem: idle
// session eviction and rate-limiter cleanup.
package sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/supercopa/totem/internal/logging"
)

const (
	EvictSpec       = "@every 1m"
	LimiterSpec     = "@every 10m"
	LimiterMaxIdle  = 10 * time.Minute
	defaultDeadline = 30 * time.Second
)

// Evictor drops idle flow states and frees the camera they hold.
type Evictor interface {
	Evict(ctx context.Context) (int, error)
}

// LimiterCleaner forgets rate-limit buckets idle longer than maxIdle.
type LimiterCleaner interface {
	Cleanup(maxIdle time.Duration) int
}

// Job is one scheduled task.
type Job struct {
	Name string
	Spec string
	Run  func(ctx context.Context) error
}

// Sweeper schedules jobs on a cron.
type Sweeper struct {
	cron   *cron.Cron
	logger *logging.Logger
	jobs   map[string]Job

	// ctx is cancelled by Stop so running jobs return early.
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates an empty sweeper.
func New(logger *logging.Logger) *Sweeper {
	if logger == nil {
		logger = logging.NewNop()
	}
	cl := cronLogger{entry: logger.WithContext(context.Background()).WithField("component", "sweeper")}
	ctx, cancel := context.WithCancel(context.Background())
	return &Sweeper{
		cron:   cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		logger: logger,
		jobs:   make(map[string]Job),
		ctx:    ctx,
		cancel: cancel,
	}
}

// NewDefault registers the standard jobs. A nil dependency skips its job.
func NewDefault(evictor Evictor, limiter LimiterCleaner, logger *logging.Logger) (*Sweeper, error) {
	s := New(logger)
	if evictor != nil {
		if err := s.Add(EvictJob(evictor, logger)); err != nil {
			return nil, err
		}
	}
	if limiter != nil {
		if err := s.Add(LimiterJob(limiter, logger)); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// EvictJob evicts idle sessions.
func EvictJob(e Evictor, logger *logging.Logger) Job {
	return Job{
		Name: "evict_sessions",
		Spec: EvictSpec,
		Run: func(ctx context.Context) error {
			n, err := e.Evict(ctx)
			if err != nil {
				return err
			}
			if n > 0 {
				logger.WithContext(ctx).WithField("evicted", n).Info("Evicted idle sessions")
			}
			return nil
		},
	}
}

// LimiterJob prunes idle rate-limit buckets.
func LimiterJob(l LimiterCleaner, logger *logging.Logger) Job {
	return Job{
		Name: "cleanup_rate_limiter",
		Spec: LimiterSpec,
		Run: func(ctx context.Context) error {
			if n := l.Cleanup(LimiterMaxIdle); n > 0 {
				logger.WithContext(ctx).WithField("removed", n).Debug("Pruned rate limiter buckets")
			}
			return nil
		},
	}
}

// Add schedules job.
func (s *Sweeper) Add(job Job) error {
	if job.Name == "" || job.Run == nil {
		return fmt.Errorf("sweeper: job needs a name and a func")
	}
	if _, dup := s.jobs[job.Name]; dup {
		return fmt.Errorf("sweeper: duplicate job %q", job.Name)
	}
	if _, err := s.cron.AddFunc(job.Spec, func() { _ = s.run(job) }); err != nil {
		return fmt.Errorf("sweeper: schedule %q: %w", job.Name, err)
	}
	s.jobs[job.Name] = job
	return nil
}

// RunNow runs the named job synchronously.
func (s *Sweeper) RunNow(name string) error {
	job, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("sweeper: unknown job %q", name)
	}
	return s.run(job)
}

func (s *Sweeper) run(job Job) error {
	ctx, cancel := context.WithTimeout(s.ctx, defaultDeadline)
	defer cancel()

	start := time.Now()
	err := job.Run(ctx)
	log := s.logger.WithContext(ctx).WithFields(logrus.Fields{
		"job":      job.Name,
		"duration": time.Since(start).String(),
	})
	if err != nil {
		log.WithError(err).Warn("Sweeper job failed")
		return err
	}
	log.Debug("Sweeper job finished")
	return nil
}

// Start begins scheduling.
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts scheduling, cancels running jobs and waits for them to return
// or for ctx to expire.
func (s *Sweeper) Stop(ctx context.Context) error {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cronLogger routes cron's own logging through logrus.
type cronLogger struct {
	entry *logrus.Entry
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(fields(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(fields(keysAndValues)).WithError(err).Error(msg)
}

func fields(kv []interface{}) logrus.Fields {
	f := make(logrus.Fields, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		f[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return f
}

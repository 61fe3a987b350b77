package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/tesseract-hub/pharmacy-request-service/internal/config"
	"github.com/tesseract-hub/pharmacy-request-service/internal/metrics"
	"github.com/tesseract-hub/pharmacy-request-service/internal/services"
)

// Job names
const (
	JobSubscriptions = "subscriptions"
	JobRequests      = "requests"
)

const jobTimeout = 5 * time.Minute

// SubscriptionSweeper ends lapsed subscriptions
type SubscriptionSweeper interface {
	RunSweep(ctx context.Context) (*services.SweepResult, error)
}

// RequestExpirer expires overdue in-progress requests
type RequestExpirer interface {
	ExpireOverdue(ctx context.Context) (int, error)
}

// JobRun describes one execution of a periodic job
type JobRun struct {
	Job       string                `json:"job"`
	StartedAt time.Time             `json:"started_at"`
	Duration  string                `json:"duration"`
	Affected  int                   `json:"affected"`
	Error     string                `json:"error,omitempty"`
	Sweep     *services.SweepResult `json:"sweep,omitempty"`
	Skipped   bool                  `json:"skipped,omitempty"`
}

// Sweeper runs the subscription sweep and the request expiry sweep on cron
// schedules. A job never overlaps with itself.
type Sweeper struct {
	subscriptions SubscriptionSweeper
	requests      RequestExpirer
	config        config.SweepConfig
	metrics       *metrics.Metrics
	logger        *logrus.Logger

	cron    *cron.Cron
	mu      sync.Mutex
	running bool
	busy    map[string]bool
	lastRun map[string]JobRun
}

// NewSweeper creates a new sweeper
func NewSweeper(
	subscriptions SubscriptionSweeper,
	requests RequestExpirer,
	cfg config.SweepConfig,
	m *metrics.Metrics,
	logger *logrus.Logger,
) *Sweeper {
	return &Sweeper{
		subscriptions: subscriptions,
		requests:      requests,
		config:        cfg,
		metrics:       m,
		logger:        logger,
		busy:          make(map[string]bool),
		lastRun:       make(map[string]JobRun),
	}
}

// normalizeSchedule accepts standard 5-field cron expressions as well as the
// 6-field form with seconds
func normalizeSchedule(schedule string) string {
	if len(strings.Fields(schedule)) == 5 {
		return "0 " + schedule
	}
	return schedule
}

// Start registers the enabled jobs and starts the cron runner
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	c := cron.New(cron.WithSeconds())
	jobs := 0

	if s.config.SubscriptionEnabled {
		schedule := normalizeSchedule(s.config.SubscriptionSchedule)
		if _, err := c.AddFunc(schedule, func() { s.scheduled(JobSubscriptions) }); err != nil {
			s.logger.WithError(err).Error("Failed to schedule subscription sweep")
			return fmt.Errorf("invalid subscription sweep schedule %q: %w", s.config.SubscriptionSchedule, err)
		}
		jobs++
	} else {
		s.logger.Info("Subscription sweep is disabled")
	}

	if s.config.RequestEnabled {
		schedule := normalizeSchedule(s.config.RequestSchedule)
		if _, err := c.AddFunc(schedule, func() { s.scheduled(JobRequests) }); err != nil {
			s.logger.WithError(err).Error("Failed to schedule request expiry sweep")
			return fmt.Errorf("invalid request sweep schedule %q: %w", s.config.RequestSchedule, err)
		}
		jobs++
	} else {
		s.logger.Info("Request expiry sweep is disabled")
	}

	if jobs == 0 {
		return nil
	}

	c.Start()
	s.cron = c
	s.running = true

	s.logger.WithFields(logrus.Fields{
		"subscription_schedule": s.config.SubscriptionSchedule,
		"request_schedule":      s.config.RequestSchedule,
		"jobs":                  jobs,
	}).Info("Sweep scheduler started")

	return nil
}

// Stop stops the cron runner and waits for running jobs to finish
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running || s.cron == nil {
		s.mu.Unlock()
		return
	}
	c := s.cron
	s.running = false
	s.mu.Unlock()

	ctx := c.Stop()
	<-ctx.Done()
	s.logger.Info("Sweep scheduler stopped")
}

func (s *Sweeper) scheduled(job string) {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	if _, err := s.RunNow(ctx, job); err != nil {
		s.logger.WithError(err).WithField("job", job).Error("Scheduled sweep failed")
	}
}

// RunNow runs a job synchronously. When the same job is already running the
// call returns immediately with Skipped set.
func (s *Sweeper) RunNow(ctx context.Context, job string) (*JobRun, error) {
	if job != JobSubscriptions && job != JobRequests {
		return nil, services.NewValidationError("job", fmt.Sprintf("unknown job %q", job))
	}

	s.mu.Lock()
	if s.busy[job] {
		s.mu.Unlock()
		s.logger.WithField("job", job).Warn("Sweep already running, skipping")
		return &JobRun{Job: job, StartedAt: time.Now(), Skipped: true}, nil
	}
	s.busy[job] = true
	s.mu.Unlock()

	run := &JobRun{Job: job, StartedAt: time.Now()}
	var err error
	switch job {
	case JobSubscriptions:
		var result *services.SweepResult
		result, err = s.subscriptions.RunSweep(ctx)
		if result != nil {
			run.Sweep = result
			run.Affected = len(result.Deactivated)
		}
	case JobRequests:
		run.Affected, err = s.requests.ExpireOverdue(ctx)
	}
	elapsed := time.Since(run.StartedAt)
	run.Duration = elapsed.String()
	if err != nil {
		run.Error = err.Error()
	}

	s.metrics.ObserveSweep(job, err == nil, run.Affected)

	s.mu.Lock()
	s.busy[job] = false
	s.lastRun[job] = *run
	s.mu.Unlock()

	fields := logrus.Fields{
		"job":      job,
		"affected": run.Affected,
		"duration": run.Duration,
	}
	if err != nil {
		s.logger.WithError(err).WithFields(fields).Error("Sweep failed")
		return run, err
	}
	if run.Affected > 0 {
		s.logger.WithFields(fields).Info("Completed sweep")
	} else {
		s.logger.WithFields(fields).Debug("Completed sweep")
	}
	return run, nil
}

// IsRunning returns whether the scheduler is running
func (s *Sweeper) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// GetStats returns scheduler statistics
func (s *Sweeper) GetStats() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := map[string]interface{}{
		"running":               s.running,
		"subscription_enabled":  s.config.SubscriptionEnabled,
		"subscription_schedule": s.config.SubscriptionSchedule,
		"request_enabled":       s.config.RequestEnabled,
		"request_schedule":      s.config.RequestSchedule,
	}

	if s.cron != nil && s.running {
		var next []string
		for _, entry := range s.cron.Entries() {
			next = append(next, entry.Next.Format(time.RFC3339))
		}
		stats["next_runs"] = next
	}

	last := make(map[string]JobRun, len(s.lastRun))
	for job, run := range s.lastRun {
		last[job] = run
	}
	stats["last_runs"] = last

	return stats
}

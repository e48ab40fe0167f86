package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/factory"
)

var (
	ErrAlreadyRunning  = errors.New("scheduler is already running")
	ErrInvalidInterval = errors.New("job interval must be positive")
)

// Job is one periodic duty. Runs of the same job never overlap.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler runs its jobs on their own tickers until Stop is called or the start
// context ends. Each job runs once immediately on Start.
type Scheduler struct {
	jobs   []Job
	logger logrus.FieldLogger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

func New(jobs ...Job) *Scheduler {
	return &Scheduler{
		jobs:   jobs,
		logger: factory.NewModuleLogger("scheduler"),
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	for _, job := range s.jobs {
		if job.Interval <= 0 {
			return fmt.Errorf("%w: %s", ErrInvalidInterval, job.Name)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	for _, job := range s.jobs {
		s.wg.Add(1)
		go s.loop(runCtx, job)
	}

	s.logger.WithField("jobs", len(s.jobs)).Info("Scheduler started")
	return nil
}

// Stop cancels every job and waits for in-progress runs to return. It is safe to
// call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.running = false
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("Scheduler stopped")
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	defer s.wg.Done()

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	_ = RunOnce(ctx, s.logger, job)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = RunOnce(ctx, s.logger, job)
		}
	}
}

// RunOnce runs job a single time, logging its latency and outcome. A panic in the
// job is recovered and returned as an error.
func RunOnce(ctx context.Context, logger logrus.FieldLogger, job Job) (err error) {
	start := time.Now()
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("job %s panicked: %v", job.Name, recovered)
		}
		fields := logrus.Fields{"job": job.Name, "latency": time.Since(start).String()}
		if err != nil {
			logger.WithError(err).WithFields(fields).Error("job_failed")
			return
		}
		logger.WithFields(fields).Info("job_completed")
	}()

	return job.Run(ctx)
}

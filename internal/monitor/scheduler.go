// Package monitor runs a task on a fixed interval and reports failure streaks.
package monitor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rewired-gh/proporacle/internal/logger"
)

// ErrAlreadyRunning is returned when a run is requested while another is in flight.
var ErrAlreadyRunning = errors.New("scheduled task already running")

// ErrStarted is returned by Start on a scheduler that is already looping.
var ErrStarted = errors.New("scheduler already started")

// Task is one unit of scheduled work.
type Task func(ctx context.Context) error

// Notifier hears about the start and end of a failure streak.
type Notifier interface {
	SendError(err error) error
	SendRecovery(failureCount int) error
}

// Scheduler owns the loop that runs a Task. Runs never overlap.
type Scheduler struct {
	name     string
	task     Task
	interval time.Duration
	notifier Notifier

	inFlight atomic.Bool

	mu                  sync.Mutex
	cancel              context.CancelFunc
	done                chan struct{}
	consecutiveFailures int
}

// New creates a scheduler. notifier may be nil.
func New(name string, task Task, interval time.Duration, notifier Notifier) *Scheduler {
	return &Scheduler{name: name, task: task, interval: interval, notifier: notifier}
}

// Start runs the task once immediately and then on every tick until Stop or ctx ends.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return ErrStarted
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(ctx, s.done)
	logger.Info("Scheduler %s started (interval: %v)", s.name, s.interval)
	return nil
}

// Stop cancels the loop and waits for the current run to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	logger.Info("Scheduler %s stopped", s.name)
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer func() {
		// A parent ctx ending leaves the scheduler startable again.
		s.mu.Lock()
		if s.done == done {
			s.cancel()
			s.cancel, s.done = nil, nil
		}
		s.mu.Unlock()
		close(done)
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	err := s.RunOnce(ctx)
	if errors.Is(err, ErrAlreadyRunning) {
		logger.Warn("Scheduler %s: previous run still in progress, skipping tick", s.name)
	}
}

// RunOnce runs the task now unless a run is already in flight.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	if !s.inFlight.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer s.inFlight.Store(false)

	start := time.Now()
	err := s.task(ctx)
	s.handleResult(err)
	if err == nil {
		logger.Debug("Scheduler %s run completed in %v", s.name, time.Since(start))
	}
	return err
}

// ConsecutiveFailures returns the length of the current failure streak.
func (s *Scheduler) ConsecutiveFailures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consecutiveFailures
}

func (s *Scheduler) handleResult(err error) {
	s.mu.Lock()
	var notifyErr, notifyRecovery bool
	failures := s.consecutiveFailures
	if err != nil {
		s.consecutiveFailures++
		notifyErr = s.consecutiveFailures == 1
	} else {
		notifyRecovery = s.consecutiveFailures > 0
		s.consecutiveFailures = 0
	}
	s.mu.Unlock()

	if err != nil {
		logger.Error("Scheduler %s run failed: %v", s.name, err)
	}
	if s.notifier == nil {
		return
	}
	if notifyErr {
		if sendErr := s.notifier.SendError(err); sendErr != nil {
			logger.Warn("Failed to send error notification: %v", sendErr)
		}
	}
	if notifyRecovery {
		if sendErr := s.notifier.SendRecovery(failures); sendErr != nil {
			logger.Warn("Failed to send recovery notification: %v", sendErr)
		}
	}
}

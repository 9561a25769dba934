package monitor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type recordingNotifier struct {
	mu         sync.Mutex
	errs       []error
	recoveries []int
}

func (n *recordingNotifier) SendError(err error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errs = append(n.errs, err)
	return nil
}

func (n *recordingNotifier) SendRecovery(count int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.recoveries = append(n.recoveries, count)
	return nil
}

func TestRunOnce_FailureStreakNotifications(t *testing.T) {
	results := []error{nil, errors.New("a"), errors.New("b"), errors.New("c"), nil, nil, errors.New("d")}
	i := 0
	task := func(context.Context) error {
		err := results[i]
		i++
		return err
	}
	n := &recordingNotifier{}
	s := New("test", task, time.Hour, n)

	for range results {
		_ = s.RunOnce(context.Background())
	}

	if len(n.errs) != 2 || n.errs[0].Error() != "a" || n.errs[1].Error() != "d" {
		t.Errorf("error notices = %v, want first of each streak", n.errs)
	}
	if len(n.recoveries) != 1 || n.recoveries[0] != 3 {
		t.Errorf("recoveries = %v, want [3]", n.recoveries)
	}
	if s.ConsecutiveFailures() != 1 {
		t.Errorf("ConsecutiveFailures = %d, want 1", s.ConsecutiveFailures())
	}
}

func TestRunOnce_RejectsOverlap(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	s := New("test", func(context.Context) error {
		close(started)
		<-release
		return nil
	}, time.Hour, nil)

	errc := make(chan error, 1)
	go func() { errc <- s.RunOnce(context.Background()) }()
	<-started

	if err := s.RunOnce(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("overlapping RunOnce = %v, want ErrAlreadyRunning", err)
	}
	close(release)
	if err := <-errc; err != nil {
		t.Errorf("first RunOnce = %v", err)
	}
}

func TestStartStop(t *testing.T) {
	var runs int32
	s := New("test", func(context.Context) error {
		atomic.AddInt32(&runs, 1)
		return nil
	}, 10*time.Millisecond, nil)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(context.Background()); !errors.Is(err, ErrStarted) {
		t.Errorf("second Start = %v, want ErrStarted", err)
	}
	time.Sleep(55 * time.Millisecond)
	s.Stop()

	after := atomic.LoadInt32(&runs)
	if after < 2 {
		t.Errorf("runs = %d, want an immediate run plus ticks", after)
	}
	time.Sleep(30 * time.Millisecond)
	if atomic.LoadInt32(&runs) != after {
		t.Error("task ran after Stop")
	}
	s.Stop()
}

func TestStart_AfterParentContextEnds(t *testing.T) {
	var runs int32
	s := New("test", func(context.Context) error {
		atomic.AddInt32(&runs, 1)
		return nil
	}, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	cancel()

	deadline := time.Now().Add(time.Second)
	for {
		err := s.Start(context.Background())
		if err == nil {
			break
		}
		if !errors.Is(err, ErrStarted) {
			t.Fatalf("Start = %v", err)
		}
		if time.Now().After(deadline) {
			t.Fatal("scheduler never became startable after its context ended")
		}
		time.Sleep(5 * time.Millisecond)
	}
	defer s.Stop()

	deadline = time.Now().Add(time.Second)
	for atomic.LoadInt32(&runs) < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("runs = %d, want the restarted loop to run immediately", atomic.LoadInt32(&runs))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestStartRunsJobImmediately(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	var once sync.Once

	s := New()
	s.Register("probe", time.Hour, func(context.Context) error {
		once.Do(func() { close(done) })
		return nil
	})

	go s.Start(ctx)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("job did not run at start")
	}
}

func TestStartReturnsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	s := New()
	s.Register("noop", time.Hour, func(context.Context) error { return nil })

	errCh := make(chan error, 1)
	go func() { errCh <- s.Start(ctx) }()

	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop after cancel")
	}
}

// Медленный запуск должен гасить тики, а не копить параллельные запуски
func TestRunJobSkipsOverlappingTicks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var active, maxActive, runs int32
	release := make(chan struct{})

	j := &job{
		name:     "slow",
		interval: time.Millisecond,
		fn: func(context.Context) error {
			cur := atomic.AddInt32(&active, 1)
			for {
				prev := atomic.LoadInt32(&maxActive)
				if cur <= prev || atomic.CompareAndSwapInt32(&maxActive, prev, cur) {
					break
				}
			}
			atomic.AddInt32(&runs, 1)
			<-release
			atomic.AddInt32(&active, -1)
			return nil
		},
	}

	s := New()
	var wg sync.WaitGroup

	// Первый тик занимает джобу, остальные должны пропуститься
	s.runJob(ctx, &wg, j)
	for i := 0; i < 10; i++ {
		s.runJob(ctx, &wg, j)
	}

	// Даем первому запуску дойти до блокировки на release
	deadline := time.After(time.Second)
	for atomic.LoadInt32(&runs) == 0 {
		select {
		case <-deadline:
			t.Fatal("first run never started")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	close(release)

	// Дожидаемся освобождения и проверяем, что никто не бежал параллельно
	wg.Wait()

	if got := atomic.LoadInt32(&maxActive); got != 1 {
		t.Errorf("max concurrent runs = %d, want 1", got)
	}
	if got := atomic.LoadInt32(&runs); got != 1 {
		t.Errorf("runs = %d, want 1 (overlapping ticks must be skipped)", got)
	}
}

// Отмена контекста не должна обрывать запуск на полпути:
// Start обязан дождаться, пока бегущая джоба закончит
func TestStartWaitsForRunningJob(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	started := make(chan struct{})
	release := make(chan struct{})

	s := New()
	s.Register("slow", time.Hour, func(context.Context) error {
		close(started)
		<-release
		return nil
	})

	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	<-started
	cancel()

	select {
	case <-done:
		t.Fatal("Start returned while the job was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Start did not return after the job finished")
	}
}

// Падение одной джобы не останавливает ни ее саму, ни соседей
func TestFailingJobKeepsTicking(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var failing, healthy int32

	s := New()
	s.Register("failing", 5*time.Millisecond, func(context.Context) error {
		atomic.AddInt32(&failing, 1)
		return errors.New("boom")
	})
	s.Register("healthy", 5*time.Millisecond, func(context.Context) error {
		atomic.AddInt32(&healthy, 1)
		return nil
	})

	go s.Start(ctx)

	deadline := time.After(2 * time.Second)
	for atomic.LoadInt32(&failing) < 3 || atomic.LoadInt32(&healthy) < 3 {
		select {
		case <-deadline:
			t.Fatalf("jobs stalled: failing=%d healthy=%d",
				atomic.LoadInt32(&failing), atomic.LoadInt32(&healthy))
		default:
			time.Sleep(time.Millisecond)
		}
	}
}

package scheduling

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func counterTask(name, schedule string, count *atomic.Int32) Task {
	return Task{Name: name, Schedule: schedule, Run: func(ctx context.Context) error {
		count.Add(1)
		return nil
	}}
}

func TestSchedulerStartStop(t *testing.T) {
	s := NewScheduler(newTestLogger())

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestSchedulerTaskFires(t *testing.T) {
	var count atomic.Int32
	s := NewScheduler(newTestLogger())
	if err := s.AddTask(counterTask("prune", "50ms", &count)); err != nil {
		t.Fatalf("AddTask: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	time.Sleep(200 * time.Millisecond)
	s.Stop()

	if c := count.Load(); c < 1 {
		t.Errorf("task fired %d times, expected at least 1", c)
	}
}

func TestSchedulerRejectsBadTasks(t *testing.T) {
	s := NewScheduler(newTestLogger())
	var count atomic.Int32

	if err := s.AddTask(Task{Name: "no-run", Schedule: "1h"}); err == nil {
		t.Error("expected error for task without run function")
	}
	if err := s.AddTask(counterTask("bad", "not-valid", &count)); err == nil {
		t.Error("expected error for invalid schedule")
	}
	if err := s.AddTask(counterTask("dup", "1h", &count)); err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	if err := s.AddTask(counterTask("dup", "1h", &count)); err == nil {
		t.Error("expected error for duplicate task name")
	}
}

func TestSchedulerStopsOnContextCancel(t *testing.T) {
	var count atomic.Int32
	s := NewScheduler(newTestLogger())
	s.AddTask(counterTask("ctx-task", "50ms", &count))

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)

	time.Sleep(150 * time.Millisecond)
	cancel()
	s.Stop()

	after := count.Load()
	time.Sleep(100 * time.Millisecond)
	if count.Load() != after {
		t.Error("task continued after context cancellation")
	}
}

func TestSchedulerTaskErrorIsLogged(t *testing.T) {
	s := NewScheduler(newTestLogger())
	s.AddTask(Task{Name: "failing", Schedule: "50ms", Run: func(ctx context.Context) error {
		return fmt.Errorf("simulated error")
	}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	time.Sleep(150 * time.Millisecond)
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestSchedulerTaskTimeout(t *testing.T) {
	deadlineSeen := make(chan bool, 1)
	s := NewScheduler(newTestLogger())
	s.AddTask(Task{Name: "slow", Schedule: "20ms", Timeout: 30 * time.Millisecond, OneShot: true, Run: func(ctx context.Context) error {
		_, ok := ctx.Deadline()
		<-ctx.Done()
		deadlineSeen <- ok
		return ctx.Err()
	}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	select {
	case ok := <-deadlineSeen:
		if !ok {
			t.Error("task context had no deadline")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("task never timed out")
	}
}

func TestSchedulerOneShot(t *testing.T) {
	var count atomic.Int32
	s := NewScheduler(newTestLogger())
	task := counterTask("once", "50ms", &count)
	task.OneShot = true
	if err := s.AddTask(task); err != nil {
		t.Fatalf("AddTask: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	time.Sleep(300 * time.Millisecond)
	s.Stop()

	if c := count.Load(); c != 1 {
		t.Errorf("one-shot fired %d times, expected exactly 1", c)
	}
	if _, ok := s.NextRun("once"); ok {
		t.Error("one-shot task should be removed after firing")
	}
}

func TestSchedulerRemoveTask(t *testing.T) {
	var count atomic.Int32
	s := NewScheduler(newTestLogger())
	s.AddTask(counterTask("removable", "50ms", &count))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	time.Sleep(100 * time.Millisecond)
	if err := s.RemoveTask("removable"); err != nil {
		t.Fatalf("RemoveTask: %v", err)
	}
	after := count.Load()
	time.Sleep(150 * time.Millisecond)
	s.Stop()

	if count.Load() > after+1 {
		t.Error("task continued firing after removal")
	}
	if err := s.RemoveTask("removable"); err == nil {
		t.Error("expected error removing an unknown task")
	}
}

func TestSchedulerNextRun(t *testing.T) {
	var count atomic.Int32
	s := NewScheduler(newTestLogger())
	s.AddTask(counterTask("hourly", "1h", &count))

	s.Start(context.Background())
	defer s.Stop()

	next, ok := s.NextRun("hourly")
	if !ok {
		t.Fatal("expected a next run time")
	}
	if next.Before(time.Now()) {
		t.Error("next run should be in the future")
	}
	if _, ok := s.NextRun("nope"); ok {
		t.Error("expected no next run for unknown task")
	}
}

func TestSchedulerDoubleStop(t *testing.T) {
	s := NewScheduler(newTestLogger())
	s.Start(context.Background())

	if err := s.Stop(); err != nil {
		t.Fatalf("first Stop: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestSchedulerStopWithoutStart(t *testing.T) {
	s := NewScheduler(newTestLogger())
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop without start: %v", err)
	}
}

func TestParseSchedule(t *testing.T) {
	valid := []string{"*/5 * * * *", "@hourly", "@every 30m", "30m", "100ms"}
	for _, s := range valid {
		if err := ParseSchedule(s); err != nil {
			t.Errorf("ParseSchedule(%q): %v", s, err)
		}
	}
	invalid := []string{"", "not-a-schedule", "-5m", "0s"}
	for _, s := range invalid {
		if err := ParseSchedule(s); err == nil {
			t.Errorf("ParseSchedule(%q) should fail", s)
		}
	}
}

func TestConstantDelayNext(t *testing.T) {
	sched, err := parseSchedule("250ms")
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	if got := sched.Next(now); !got.Equal(now.Add(250 * time.Millisecond)) {
		t.Errorf("Next = %v, want %v", got, now.Add(250*time.Millisecond))
	}
}

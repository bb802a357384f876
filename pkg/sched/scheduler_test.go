package sched

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"PolyPaper/pkg/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	lgr, err := logger.New(&logger.Config{Level: "error", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return lgr
}

func TestRegisterDuplicate(t *testing.T) {
	s := New(testLogger(t))
	job := NewJob("collect", time.Second, func(ctx context.Context) error { return nil })
	if err := s.Register(job); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := s.Register(job); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
}

func TestRunOnce(t *testing.T) {
	s := New(testLogger(t))
	var runs int64
	job := NewJob("cycle", time.Hour, func(ctx context.Context) error {
		atomic.AddInt64(&runs, 1)
		return nil
	})
	if err := s.Register(job); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := s.RunOnce(context.Background(), "cycle"); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if got := atomic.LoadInt64(&runs); got != 1 {
		t.Fatalf("expected 1 run, got %d", got)
	}
	if err := s.RunOnce(context.Background(), "missing"); err == nil {
		t.Fatalf("expected error for unknown job")
	}
}

func TestStatsTrackRunsAndErrors(t *testing.T) {
	s := New(testLogger(t))
	job := NewJob("flaky", time.Hour, func(ctx context.Context) error {
		return fmt.Errorf("boom")
	})
	if err := s.Register(job); err != nil {
		t.Fatalf("register: %v", err)
	}
	_ = s.RunOnce(context.Background(), "flaky")
	_ = s.RunOnce(context.Background(), "flaky")

	stats := s.Stats()
	if len(stats) != 1 {
		t.Fatalf("expected 1 stat, got %d", len(stats))
	}
	if stats[0].Runs != 2 || stats[0].Errors != 2 {
		t.Fatalf("unexpected stats %+v", stats[0])
	}
	if stats[0].LastError != "boom" {
		t.Fatalf("unexpected last error %q", stats[0].LastError)
	}
}

func TestStartRunsImmediatelyAndStops(t *testing.T) {
	s := New(testLogger(t))
	var runs int64
	job := NewJob("collect", 50*time.Millisecond, func(ctx context.Context) error {
		atomic.AddInt64(&runs, 1)
		return nil
	})
	if err := s.Register(job); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !s.IsRunning() {
		t.Fatalf("expected running")
	}

	time.Sleep(120 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if s.IsRunning() {
		t.Fatalf("expected stopped")
	}
	if got := atomic.LoadInt64(&runs); got < 2 {
		t.Fatalf("expected immediate run plus ticks, got %d", got)
	}
}

func TestStopDrainTimeout(t *testing.T) {
	s := New(testLogger(t))
	block := make(chan struct{})
	job := NewJob("slow", time.Hour, func(ctx context.Context) error {
		select {
		case <-block:
		case <-ctx.Done():
		}
		return nil
	})
	if err := s.Register(job); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	time.Sleep(20 * time.Millisecond) // let the immediate run begin

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := s.Stop(ctx); err == nil {
		t.Fatalf("expected drain timeout error")
	}
	close(block)
}

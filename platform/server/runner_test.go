package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func TestRunnerStopsWorkersBeforeClosers(t *testing.T) {
	r := NewRunner(nil, time.Second)
	var mu sync.Mutex
	var events []string
	record := func(e string) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	}
	started := make(chan struct{})
	r.AddWorker("consumer", WorkerFunc(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		record("worker stopped")
		return ctx.Err()
	}))
	r.AddCloser("db", func() error { record("db closed"); return nil })
	r.AddCloser("bus", func() error { record("bus closed"); return nil })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	<-started
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	want := []string{"worker stopped", "bus closed", "db closed"}
	if len(events) != len(want) {
		t.Fatalf("expected %v, got %v", want, events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, events)
		}
	}
}

func TestRunnerReturnsWorkerFailure(t *testing.T) {
	r := NewRunner(nil, time.Second)
	boom := errors.New("boom")
	r.AddWorker("relay", WorkerFunc(func(context.Context) error { return boom }))
	closed := false
	r.AddCloser("db", func() error { closed = true; return nil })
	err := r.Run(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected worker error, got %v", err)
	}
	if !closed {
		t.Fatalf("closers must run after a failure")
	}
}

func TestReadinessChecksDriveHealthStatus(t *testing.T) {
	r := NewRunner(nil, time.Second)
	r.health = health.NewServer()
	var stalled error
	r.AddReadinessCheck("consumer:order-created", func() error { return stalled })
	r.AddReadinessCheck("consumer:entity-created", func() error { return nil })

	status := func() healthpb.HealthCheckResponse_ServingStatus {
		resp, err := r.health.Check(context.Background(), &healthpb.HealthCheckRequest{})
		if err != nil {
			t.Fatalf("health check: %v", err)
		}
		return resp.Status
	}
	ctx := context.Background()
	if !r.checkReadiness(ctx) || status() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected SERVING with passing checks")
	}
	stalled = errors.New("dead letter publish stalled")
	if r.checkReadiness(ctx) || status() != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("expected NOT_SERVING while a check fails")
	}
	stalled = nil
	if !r.checkReadiness(ctx) || status() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected SERVING after recovery")
	}
}

// Package server runs a service process: HTTP commands, the gRPC health endpoint and the
// background workers, with ordered shutdown on SIGINT or SIGTERM.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Worker is anything with a blocking run loop that returns once ctx is cancelled.
type Worker interface {
	Run(ctx context.Context) error
}

type WorkerFunc func(ctx context.Context) error

func (f WorkerFunc) Run(ctx context.Context) error { return f(ctx) }

type namedWorker struct {
	name   string
	worker Worker
}

type namedCloser struct {
	name string
	fn   func() error
}

type namedCheck struct {
	name  string
	check func() error
}

// Runner stops in this order: health goes NOT_SERVING, HTTP drains, workers are cancelled
// and awaited, gRPC stops, then closers run last-registered first.
type Runner struct {
	logger          *slog.Logger
	shutdownTimeout time.Duration

	httpServer *http.Server
	grpcServer *grpc.Server
	grpcLis    net.Listener
	health     *health.Server

	workers []namedWorker
	closers []namedCloser

	checks        []namedCheck
	checkInterval time.Duration
	notReady      map[string]bool
}

func NewRunner(logger *slog.Logger, shutdownTimeout time.Duration) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &Runner{
		logger:          logger,
		shutdownTimeout: shutdownTimeout,
		checkInterval:   5 * time.Second,
		notReady:        map[string]bool{},
	}
}

func (r *Runner) ServeHTTP(port int, handler http.Handler) {
	r.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// ServeGRPCHealth binds the listener immediately so a port clash fails startup.
func (r *Runner) ServeGRPCHealth(port int) error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}
	r.grpcServer = grpc.NewServer()
	r.health = health.NewServer()
	healthpb.RegisterHealthServer(r.grpcServer, r.health)
	r.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	r.grpcLis = lis
	return nil
}

func (r *Runner) AddWorker(name string, w Worker) {
	r.workers = append(r.workers, namedWorker{name: name, worker: w})
}

// AddReadinessCheck registers a check polled while the runner serves. Any failing check
// turns gRPC health NOT_SERVING until it passes again.
func (r *Runner) AddReadinessCheck(name string, check func() error) {
	r.checks = append(r.checks, namedCheck{name: name, check: check})
}

// checkReadiness runs every check once, logs transitions and updates health.
func (r *Runner) checkReadiness(ctx context.Context) bool {
	ready := true
	for _, c := range r.checks {
		err := c.check()
		switch {
		case err != nil && !r.notReady[c.name]:
			r.notReady[c.name] = true
			r.logger.ErrorContext(ctx, "readiness check failing",
				"module", "server", "layer", "runtime", "operation", "readiness", "outcome", "failure",
				"check", c.name, "error", err,
			)
		case err == nil && r.notReady[c.name]:
			delete(r.notReady, c.name)
			r.logger.InfoContext(ctx, "readiness check recovered",
				"module", "server", "layer", "runtime", "operation", "readiness", "outcome", "success",
				"check", c.name,
			)
		}
		if err != nil {
			ready = false
		}
	}
	if r.health != nil {
		status := healthpb.HealthCheckResponse_SERVING
		if !ready {
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		r.health.SetServingStatus("", status)
	}
	return ready
}

func (r *Runner) watchReadiness(ctx context.Context) {
	ticker := time.NewTicker(r.checkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.checkReadiness(ctx)
		}
	}
}

func (r *Runner) AddCloser(name string, fn func() error) {
	r.closers = append(r.closers, namedCloser{name: name, fn: fn})
}

// Close runs the registered closers without serving. Bootstrap uses it when startup fails
// part way.
func (r *Runner) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		c := r.closers[i]
		if err := c.fn(); err != nil {
			r.logger.Error("close failed", "module", "server", "layer", "runtime", "operation", "close", "outcome", "failure", "resource", c.name, "error", err)
		}
	}
	r.closers = nil
}

func (r *Runner) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, len(r.workers)+2)
	if r.httpServer != nil {
		go func() {
			if err := r.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("http server: %w", err)
			}
		}()
	}
	if r.grpcServer != nil {
		go func() {
			if err := r.grpcServer.Serve(r.grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errCh <- fmt.Errorf("grpc server: %w", err)
			}
		}()
	}

	workCtx, cancelWork := context.WithCancel(ctx)
	defer cancelWork()
	var wg sync.WaitGroup
	for _, nw := range r.workers {
		wg.Add(1)
		go func(nw namedWorker) {
			defer wg.Done()
			if err := nw.worker.Run(workCtx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("worker %s: %w", nw.name, err)
			}
		}(nw)
	}
	if len(r.checks) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.watchReadiness(workCtx)
		}()
	}
	r.logger.InfoContext(ctx, "runtime started",
		"module", "server", "layer", "runtime", "operation", "run", "outcome", "success",
		"workers", len(r.workers),
	)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		r.logger.ErrorContext(ctx, "runtime failure",
			"module", "server", "layer", "runtime", "operation", "run", "outcome", "failure", "error", runErr,
		)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), r.shutdownTimeout)
	defer cancel()
	if r.health != nil {
		r.health.Shutdown()
	}
	if r.httpServer != nil {
		_ = r.httpServer.Shutdown(shutdownCtx)
	}
	cancelWork()
	drained := make(chan struct{})
	go func() {
		wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-shutdownCtx.Done():
		r.logger.Warn("workers did not stop before shutdown timeout",
			"module", "server", "layer", "runtime", "operation", "shutdown", "outcome", "timeout",
		)
	}
	if r.grpcServer != nil {
		r.grpcServer.GracefulStop()
	}
	r.Close()
	r.logger.Info("runtime stopped", "module", "server", "layer", "runtime", "operation", "shutdown", "outcome", "success")
	return runErr
}

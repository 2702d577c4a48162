// Package supervisor hosts the workflow registry behind two HTTP endpoints:
// an execution endpoint that dispatches invocation requests and a control
// endpoint serving health, registered-workflow listings, invocation history,
// and metrics. The two endpoints are separate servers so control traffic is
// never head-of-line blocked behind long-running workflow executions.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/mkonduru/flowd/internal/dispatch"
	"github.com/mkonduru/flowd/internal/store"
	"github.com/mkonduru/flowd/internal/workflow"
	"github.com/mkonduru/flowd/pkg/wire"
)

const (
	readHeaderTimeout   = 10 * time.Second
	controlWriteTimeout = 30 * time.Second
)

// State is the supervisor lifecycle state.
type State int32

// Lifecycle states, in order.
const (
	Starting State = iota
	Listening
	Draining
	Stopped
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Listening:
		return "listening"
	case Draining:
		return "draining"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Supervisor owns the registry, dispatcher, and store, and serves them over
// the execution and control endpoints.
type Supervisor struct {
	execAddr    string
	controlAddr string
	drainGrace  time.Duration

	registry   *workflow.Registry
	dispatcher *dispatch.Dispatcher
	store      store.Store
	logger     *slog.Logger

	execRouter    *chi.Mux
	controlRouter *chi.Mux

	state    atomic.Int32
	stopOnce sync.Once
	stopCh   chan struct{}
}

// New creates a supervisor and configures both routers. The supervisor is in
// the Starting state until Run or Serve brings the endpoints up.
func New(execAddr, controlAddr string, reg *workflow.Registry, disp *dispatch.Dispatcher, s store.Store, logger *slog.Logger, drainGrace time.Duration) *Supervisor {
	sup := &Supervisor{
		execAddr:      execAddr,
		controlAddr:   controlAddr,
		drainGrace:    drainGrace,
		registry:      reg,
		dispatcher:    disp,
		store:         s,
		logger:        logger,
		execRouter:    chi.NewRouter(),
		controlRouter: chi.NewRouter(),
		stopCh:        make(chan struct{}),
	}

	for endpoint, r := range map[string]*chi.Mux{
		"exec":    sup.execRouter,
		"control": sup.controlRouter,
	} {
		r.Use(middleware.RequestID)
		r.Use(middleware.Recoverer)
		r.Use(sup.loggingMiddleware)
		r.Use(metricsMiddleware(endpoint))
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
			ExposedHeaders:   []string{"X-Request-Id"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	sup.routes()
	return sup
}

// routes registers the execution and control endpoints on their routers.
func (s *Supervisor) routes() {
	s.execRouter.Route("/v1/invocations", func(r chi.Router) {
		r.Post("/", s.handleInvoke)
		r.Post("/async", s.handleSubmit)
	})

	s.controlRouter.Get("/healthz", s.handleHealthz)
	s.controlRouter.Get("/readyz", s.handleReadyz)
	s.controlRouter.Handle("/metrics", metricsHandler())

	s.controlRouter.Get("/v1/workflows", s.handleListWorkflows)
	s.controlRouter.Get("/v1/workflows/{name}", s.handleGetWorkflow)
	s.controlRouter.Get("/v1/stats", s.handleGetStats)

	s.controlRouter.Route("/v1/invocations", func(r chi.Router) {
		r.Get("/", s.handleListInvocations)
		r.Get("/{id}", s.handleGetInvocation)
		r.Get("/{id}/logs", s.handleStreamLogs)
		r.Get("/{id}/logs/history", s.handleGetLogHistory)
	})
}

// ExecHandler returns the execution endpoint handler, for tests.
func (s *Supervisor) ExecHandler() http.Handler { return s.execRouter }

// ControlHandler returns the control endpoint handler, for tests.
func (s *Supervisor) ControlHandler() http.Handler { return s.controlRouter }

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	return State(s.state.Load())
}

// Invoke dispatches an invocation request in-process, bypassing the network.
// This is the local-mode entry point for the client library. Requests are
// rejected once draining has begun.
func (s *Supervisor) Invoke(ctx context.Context, req wire.InvocationRequest) wire.InvocationResult {
	if st := s.State(); st == Draining || st == Stopped {
		return wire.Failure(req.InvocationID, wire.KindUnavailable, "supervisor is draining")
	}
	return s.dispatcher.Dispatch(ctx, req)
}

// Run binds both endpoints and serves until a shutdown signal or Stop call.
// Failure to bind either endpoint is returned before any request handling
// begins; the caller exits non-zero.
func (s *Supervisor) Run() error {
	execLn, err := net.Listen("tcp", s.execAddr)
	if err != nil {
		return fmt.Errorf("bind execution endpoint: %w", err)
	}
	controlLn, err := net.Listen("tcp", s.controlAddr)
	if err != nil {
		execLn.Close()
		return fmt.Errorf("bind control endpoint: %w", err)
	}
	return s.Serve(execLn, controlLn)
}

// Serve runs the supervisor on the given listeners and blocks until a
// shutdown signal, a server error, or Stop. On return the supervisor has
// fully drained and is in the Stopped state.
func (s *Supervisor) Serve(execLn, controlLn net.Listener) error {
	// The execution server carries no write timeout: handler execution time
	// is bounded by the caller's context, not the transport.
	execSrv := &http.Server{
		Handler:           s.execRouter,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	controlSrv := &http.Server{
		Handler:           s.controlRouter,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      controlWriteTimeout,
	}

	errCh := make(chan error, 2)
	go func() {
		if err := execSrv.Serve(execLn); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("execution server: %w", err)
		}
	}()
	go func() {
		if err := controlSrv.Serve(controlLn); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("control server: %w", err)
		}
	}()

	s.state.Store(int32(Listening))
	s.logger.Info("supervisor listening",
		"exec_addr", execLn.Addr().String(),
		"control_addr", controlLn.Addr().String(),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	var runErr error
	select {
	case sig := <-quit:
		s.logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		runErr = err
	case <-s.stopCh:
		s.logger.Info("shutting down", "reason", "stop requested")
	}

	s.drain(execSrv, controlSrv)
	return runErr
}

// Stop triggers a graceful drain programmatically. It returns immediately;
// Serve returns once draining completes.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// drain walks the supervisor through Draining to Stopped: stop accepting
// execution requests, wait out in-flight dispatches bounded by the grace
// timeout, then release the control endpoint.
func (s *Supervisor) drain(execSrv, controlSrv *http.Server) {
	s.state.Store(int32(Draining))

	ctx, cancel := context.WithTimeout(context.Background(), s.drainGrace)
	defer cancel()

	// Shutdown waits for in-flight synchronous dispatches.
	if err := execSrv.Shutdown(ctx); err != nil {
		s.logger.Error("execution endpoint shutdown", "error", err)
	}

	// Wait for asynchronous dispatches, bounded by the same grace window.
	done := make(chan struct{})
	go func() {
		s.dispatcher.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("drain grace expired with async dispatches in flight")
	}

	if err := controlSrv.Shutdown(ctx); err != nil {
		s.logger.Error("control endpoint shutdown", "error", err)
	}

	s.state.Store(int32(Stopped))
	s.logger.Info("supervisor stopped")
}

// loggingMiddleware logs each request using the structured logger.
func (s *Supervisor) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

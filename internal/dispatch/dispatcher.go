package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mkonduru/flowd/internal/model"
	"github.com/mkonduru/flowd/internal/store"
	"github.com/mkonduru/flowd/internal/workflow"
	"github.com/mkonduru/flowd/pkg/wire"
)

// Dispatcher resolves invocation requests against the registry, executes
// handlers, and classifies outcomes. It carries no per-request state beyond
// the in-flight WaitGroup used for draining, so concurrent dispatches are
// independent.
type Dispatcher struct {
	registry *workflow.Registry
	store    store.Store
	logger   *slog.Logger
	broker   *LogBroker
	wg       sync.WaitGroup
}

// NewDispatcher creates a dispatcher over the given registry and history store.
func NewDispatcher(reg *workflow.Registry, s store.Store, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		registry: reg,
		store:    s,
		logger:   logger,
		broker:   NewLogBroker(),
	}
}

// Broker returns the dispatcher's log broker for SSE subscription.
func (d *Dispatcher) Broker() *LogBroker {
	return d.broker
}

// Dispatch synchronously executes one invocation request and returns its
// result. Every request resolves to exactly one result; handler faults are
// classified, never propagated. The caller's context carries cancellation
// into the handler.
func (d *Dispatcher) Dispatch(ctx context.Context, req wire.InvocationRequest) wire.InvocationResult {
	if req.InvocationID == "" {
		req.InvocationID = model.NewID()
	}

	// Synchronous dispatches count toward the in-flight total too, so a
	// drain also waits for local in-process callers, not only the HTTP
	// server's own connections.
	d.wg.Add(1)
	defer d.wg.Done()

	if err := d.createRecord(req); err != nil {
		// History is best-effort for synchronous dispatch; the result
		// contract still holds without it.
		d.logger.Error("failed to record invocation", "invocation_id", req.InvocationID, "error", err)
	}
	return d.execute(ctx, req)
}

// Submit starts asynchronous execution of an invocation request and returns
// its invocation ID. The pending history record is written before returning
// so the caller can immediately poll for the outcome.
func (d *Dispatcher) Submit(req wire.InvocationRequest) (string, error) {
	if req.InvocationID == "" {
		req.InvocationID = model.NewID()
	}
	if err := d.createRecord(req); err != nil {
		return "", fmt.Errorf("create invocation: %w", err)
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.execute(context.Background(), req)
	}()

	return req.InvocationID, nil
}

// Wait blocks until all in-flight dispatches, synchronous and asynchronous,
// complete.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// createRecord inserts the pending history record for a request. Store writes
// use a background context so a cancelled caller cannot corrupt history.
func (d *Dispatcher) createRecord(req wire.InvocationRequest) error {
	input, err := json.Marshal(req.Input)
	if err != nil {
		input = nil
	}
	return d.store.CreateInvocation(context.Background(), &model.Invocation{
		ID:        req.InvocationID,
		Workflow:  req.WorkflowName,
		Status:    model.StatusPending,
		Input:     input,
		CreatedAt: time.Now().UTC(),
	})
}

// execute runs the invocation lifecycle: lookup, validate, run, classify.
func (d *Dispatcher) execute(ctx context.Context, req wire.InvocationRequest) wire.InvocationResult {
	// Close the log stream when execution finishes, regardless of outcome.
	defer d.broker.Close(req.InvocationID)

	desc, err := d.registry.Lookup(req.WorkflowName)
	if err != nil {
		return d.finishFailed(req, nil, wire.KindUnknownWorkflow, err.Error())
	}

	if err := desc.InputSchema.Validate(req.Input); err != nil {
		return d.finishFailed(req, nil, wire.KindValidationError, err.Error())
	}

	if err := d.store.UpdateInvocationStatus(context.Background(), req.InvocationID, model.StatusRunning); err != nil && !errors.Is(err, store.ErrNotFound) {
		d.logger.Error("failed to transition to running", "invocation_id", req.InvocationID, "error", err)
	}
	start := time.Now()

	// Handler log lines dual-write: persist for historical viewing, then
	// publish to the broker for real-time SSE.
	var seq atomic.Int32
	hctx := withLogSink(ctx, func(line string) {
		entry := model.LogLine{
			InvocationID: req.InvocationID,
			Seq:          int(seq.Add(1) - 1),
			Line:         line,
			CreatedAt:    time.Now().UTC(),
		}
		if err := d.store.InsertLogLine(context.Background(), entry.InvocationID, entry.Seq, entry.Line); err != nil {
			d.logger.Error("failed to persist log line", "invocation_id", entry.InvocationID, "seq", entry.Seq, "error", err)
		}
		d.broker.Publish(entry)
	})

	output, handlerErr := runHandler(hctx, desc.Handler, req.Input)
	durationMS := int(time.Since(start).Milliseconds())

	if handlerErr != nil {
		if ctx.Err() != nil {
			return d.finishFailed(req, &start, wire.KindCancelled, "invocation cancelled")
		}
		return d.finishFailed(req, &start, wire.KindHandlerError, handlerErr.Error())
	}

	now := time.Now().UTC()
	outJSON, err := json.Marshal(output)
	if err != nil {
		return d.finishFailed(req, &start, wire.KindHandlerError, fmt.Sprintf("encode output: %v", err))
	}

	completed := &model.Invocation{
		ID:         req.InvocationID,
		Workflow:   req.WorkflowName,
		Status:     model.StatusCompleted,
		Output:     outJSON,
		DurationMS: &durationMS,
		StartedAt:  &start,
		FinishedAt: &now,
	}
	if err := d.store.UpdateInvocation(context.Background(), completed); err != nil && !errors.Is(err, store.ErrNotFound) {
		d.logger.Error("failed to update completed invocation", "invocation_id", req.InvocationID, "error", err)
	}

	observeInvocation(req.WorkflowName, "completed", time.Since(start))
	return wire.Success(req.InvocationID, output)
}

// finishFailed records a failed invocation and builds its result.
// startedAt may be nil if execution never started.
func (d *Dispatcher) finishFailed(req wire.InvocationRequest, startedAt *time.Time, kind, msg string) wire.InvocationResult {
	now := time.Now().UTC()
	var durationMS int
	var elapsed time.Duration
	if startedAt != nil {
		elapsed = time.Since(*startedAt)
		durationMS = int(elapsed.Milliseconds())
	}

	status := model.StatusFailed
	if kind == wire.KindCancelled {
		status = model.StatusCancelled
	}

	inv := &model.Invocation{
		ID:         req.InvocationID,
		Workflow:   req.WorkflowName,
		Status:     status,
		ErrorKind:  kind,
		Error:      msg,
		DurationMS: &durationMS,
		StartedAt:  startedAt,
		FinishedAt: &now,
	}
	if err := d.store.UpdateInvocation(context.Background(), inv); err != nil && !errors.Is(err, store.ErrNotFound) {
		d.logger.Error("failed to update failed invocation", "invocation_id", req.InvocationID, "error", err)
	}

	observeInvocation(req.WorkflowName, kind, elapsed)
	return wire.Failure(req.InvocationID, kind, msg)
}

// runHandler invokes the workflow handler, converting panics into errors so
// a faulting handler can never take down the supervisor.
func runHandler(ctx context.Context, h workflow.Handler, input map[string]any) (output map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, input)
}

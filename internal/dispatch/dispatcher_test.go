package dispatch_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mkonduru/flowd/internal/dispatch"
	"github.com/mkonduru/flowd/internal/model"
	"github.com/mkonduru/flowd/internal/schema"
	"github.com/mkonduru/flowd/internal/store"
	"github.com/mkonduru/flowd/internal/workflow"
	"github.com/mkonduru/flowd/pkg/wire"
)

func newTestDispatcher(t *testing.T, descriptors ...*workflow.Descriptor) (*dispatch.Dispatcher, store.Store) {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	reg := workflow.NewRegistry()
	for _, d := range descriptors {
		if err := reg.Register(d); err != nil {
			t.Fatalf("Register(%s): %v", d.Name, err)
		}
	}

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return dispatch.NewDispatcher(reg, s, logger), s
}

func greetingDescriptor(calls *atomic.Int32) *workflow.Descriptor {
	return &workflow.Descriptor{
		Name: "hello-world-d",
		InputSchema: schema.Object{Fields: []schema.Field{
			{Name: "name", Type: schema.TypeString, Required: true},
			{Name: "age", Type: schema.TypeNumber, Required: true, Minimum: schema.Min(0)},
		}},
		Handler: func(_ context.Context, input map[string]any) (map[string]any, error) {
			if calls != nil {
				calls.Add(1)
			}
			return map[string]any{
				"greeting": fmt.Sprintf("Hello %s, age %v!", input["name"], input["age"]),
			}, nil
		},
	}
}

func TestDispatchSuccess(t *testing.T) {
	d, s := newTestDispatcher(t, greetingDescriptor(nil))

	res := d.Dispatch(context.Background(), wire.InvocationRequest{
		WorkflowName: "hello-world-d",
		Input:        map[string]any{"name": "arun", "age": 12.0},
	})

	if !res.OK() {
		t.Fatalf("Dispatch failed: kind=%s err=%s", res.ErrorKind, res.Error)
	}
	if res.Output["greeting"] != "Hello arun, age 12!" {
		t.Errorf("greeting = %v", res.Output["greeting"])
	}

	inv, err := s.GetInvocation(context.Background(), res.InvocationID)
	if err != nil {
		t.Fatalf("GetInvocation: %v", err)
	}
	if inv.Status != model.StatusCompleted {
		t.Errorf("recorded status = %q, want completed", inv.Status)
	}
	if inv.StartedAt == nil || inv.FinishedAt == nil || inv.DurationMS == nil {
		t.Error("timing fields not recorded on completed invocation")
	}
}

func TestDispatchUnknownWorkflow(t *testing.T) {
	var calls atomic.Int32
	d, _ := newTestDispatcher(t, greetingDescriptor(&calls))

	res := d.Dispatch(context.Background(), wire.InvocationRequest{
		WorkflowName: "no-such-workflow",
		Input:        map[string]any{},
	})

	if res.ErrorKind != wire.KindUnknownWorkflow {
		t.Errorf("ErrorKind = %q, want %q", res.ErrorKind, wire.KindUnknownWorkflow)
	}
	if calls.Load() != 0 {
		t.Errorf("handler invoked %d times for unknown workflow, want 0", calls.Load())
	}
}

func TestDispatchValidationFailure(t *testing.T) {
	var calls atomic.Int32
	d, s := newTestDispatcher(t, greetingDescriptor(&calls))

	res := d.Dispatch(context.Background(), wire.InvocationRequest{
		WorkflowName: "hello-world-d",
		Input:        map[string]any{"name": "arun", "age": -12.0},
	})

	if res.ErrorKind != wire.KindValidationError {
		t.Errorf("ErrorKind = %q, want %q", res.ErrorKind, wire.KindValidationError)
	}
	if calls.Load() != 0 {
		t.Errorf("handler invoked %d times for invalid input, want 0", calls.Load())
	}

	inv, err := s.GetInvocation(context.Background(), res.InvocationID)
	if err != nil {
		t.Fatalf("GetInvocation: %v", err)
	}
	if inv.Status != model.StatusFailed || inv.ErrorKind != wire.KindValidationError {
		t.Errorf("recorded status/kind = %s/%s, want failed/validation_error", inv.Status, inv.ErrorKind)
	}
}

func TestDispatchHandlerError(t *testing.T) {
	d, _ := newTestDispatcher(t, &workflow.Descriptor{
		Name: "broken",
		Handler: func(_ context.Context, _ map[string]any) (map[string]any, error) {
			return nil, errors.New("downstream unavailable")
		},
	})

	res := d.Dispatch(context.Background(), wire.InvocationRequest{WorkflowName: "broken"})
	if res.ErrorKind != wire.KindHandlerError {
		t.Errorf("ErrorKind = %q, want %q", res.ErrorKind, wire.KindHandlerError)
	}
	if res.Error != "downstream unavailable" {
		t.Errorf("Error = %q", res.Error)
	}
}

func TestDispatchHandlerPanicIsIsolated(t *testing.T) {
	d, _ := newTestDispatcher(t, &workflow.Descriptor{
		Name: "panics",
		Handler: func(_ context.Context, _ map[string]any) (map[string]any, error) {
			panic("boom")
		},
	})

	res := d.Dispatch(context.Background(), wire.InvocationRequest{WorkflowName: "panics"})
	if res.ErrorKind != wire.KindHandlerError {
		t.Errorf("ErrorKind = %q, want %q", res.ErrorKind, wire.KindHandlerError)
	}
}

func TestDispatchCancellation(t *testing.T) {
	d, s := newTestDispatcher(t, &workflow.Descriptor{
		Name: "slow",
		Handler: func(ctx context.Context, _ map[string]any) (map[string]any, error) {
			select {
			case <-time.After(5 * time.Second):
				return map[string]any{}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	res := d.Dispatch(ctx, wire.InvocationRequest{WorkflowName: "slow"})
	if res.ErrorKind != wire.KindCancelled {
		t.Fatalf("ErrorKind = %q, want %q", res.ErrorKind, wire.KindCancelled)
	}

	inv, err := s.GetInvocation(context.Background(), res.InvocationID)
	if err != nil {
		t.Fatalf("GetInvocation: %v", err)
	}
	if inv.Status != model.StatusCancelled {
		t.Errorf("recorded status = %q, want cancelled", inv.Status)
	}
}

func TestDispatchIdempotentForPureHandler(t *testing.T) {
	d, _ := newTestDispatcher(t, greetingDescriptor(nil))

	req := wire.InvocationRequest{
		WorkflowName: "hello-world-d",
		Input:        map[string]any{"name": "arun", "age": 12.0},
	}

	first := d.Dispatch(context.Background(), req)
	second := d.Dispatch(context.Background(), req)
	if !first.OK() || !second.OK() {
		t.Fatalf("dispatches failed: %+v / %+v", first, second)
	}
	if !reflect.DeepEqual(first.Output, second.Output) {
		t.Errorf("outputs differ: %v vs %v", first.Output, second.Output)
	}
}

func TestDispatchConcurrentNoCrossTalk(t *testing.T) {
	const n = 8
	descriptors := make([]*workflow.Descriptor, n)
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("wf-%d", i)
		descriptors[i] = &workflow.Descriptor{
			Name: name,
			Handler: func(_ context.Context, _ map[string]any) (map[string]any, error) {
				time.Sleep(10 * time.Millisecond)
				return map[string]any{"from": name}, nil
			},
		}
	}
	d, _ := newTestDispatcher(t, descriptors...)

	results := make([]wire.InvocationResult, n)
	done := make(chan int, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			results[i] = d.Dispatch(context.Background(), wire.InvocationRequest{
				WorkflowName: fmt.Sprintf("wf-%d", i),
			})
			done <- i
		}(i)
	}
	for i := 0; i < n; i++ {
		<-done
	}

	for i := 0; i < n; i++ {
		if !results[i].OK() {
			t.Errorf("wf-%d failed: %s", i, results[i].Error)
			continue
		}
		if want := fmt.Sprintf("wf-%d", i); results[i].Output["from"] != want {
			t.Errorf("wf-%d output = %v, want from=%s", i, results[i].Output, want)
		}
	}
}

// waitForStatus polls the store until the invocation reaches the expected status.
func waitForStatus(t *testing.T, s store.Store, id, expected string, timeout time.Duration) *model.Invocation {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		inv, err := s.GetInvocation(context.Background(), id)
		if err != nil {
			t.Fatalf("GetInvocation: %v", err)
		}
		if inv.Status == expected {
			return inv
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("invocation %s did not reach status %q within %v", id, expected, timeout)
	return nil
}

func TestSubmitAsync(t *testing.T) {
	d, s := newTestDispatcher(t, greetingDescriptor(nil))

	id, err := d.Submit(wire.InvocationRequest{
		WorkflowName: "hello-world-d",
		Input:        map[string]any{"name": "arun", "age": 30.0},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	inv := waitForStatus(t, s, id, model.StatusCompleted, 2*time.Second)
	if inv.Output == nil {
		t.Error("completed async invocation has no output")
	}

	d.Wait()
}

func TestSubmitWaitDrainsInFlight(t *testing.T) {
	release := make(chan struct{})
	d, s := newTestDispatcher(t, &workflow.Descriptor{
		Name: "gated",
		Handler: func(_ context.Context, _ map[string]any) (map[string]any, error) {
			<-release
			return map[string]any{"ok": true}, nil
		},
	})

	id, err := d.Submit(wire.InvocationRequest{WorkflowName: "gated"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	waited := make(chan struct{})
	go func() {
		d.Wait()
		close(waited)
	}()

	select {
	case <-waited:
		t.Fatal("Wait returned while a dispatch was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-waited:
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after the in-flight dispatch completed")
	}

	waitForStatus(t, s, id, model.StatusCompleted, 2*time.Second)
}

func TestWaitDrainsSynchronousDispatch(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	d, _ := newTestDispatcher(t, &workflow.Descriptor{
		Name: "gated-sync",
		Handler: func(_ context.Context, _ map[string]any) (map[string]any, error) {
			close(started)
			<-release
			return map[string]any{"ok": true}, nil
		},
	})

	go d.Dispatch(context.Background(), wire.InvocationRequest{WorkflowName: "gated-sync"})
	<-started

	waited := make(chan struct{})
	go func() {
		d.Wait()
		close(waited)
	}()

	select {
	case <-waited:
		t.Fatal("Wait returned while a synchronous dispatch was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-waited:
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after the synchronous dispatch completed")
	}
}

func TestHandlerLogsPersistAndStream(t *testing.T) {
	d, s := newTestDispatcher(t, &workflow.Descriptor{
		Name: "chatty",
		Handler: func(ctx context.Context, _ map[string]any) (map[string]any, error) {
			dispatch.Logf(ctx, "step %d", 1)
			dispatch.Logf(ctx, "step %d", 2)
			return map[string]any{}, nil
		},
	})

	res := d.Dispatch(context.Background(), wire.InvocationRequest{WorkflowName: "chatty"})
	if !res.OK() {
		t.Fatalf("Dispatch failed: %s", res.Error)
	}

	lines, err := s.GetLogLines(context.Background(), res.InvocationID)
	if err != nil {
		t.Fatalf("GetLogLines: %v", err)
	}
	if len(lines) != 2 || lines[0].Line != "step 1" || lines[1].Line != "step 2" {
		t.Errorf("persisted lines = %+v, want [step 1, step 2]", lines)
	}

	// Late subscribers to a finished invocation get a closed channel.
	ch, unsub := d.Broker().Subscribe(res.InvocationID)
	defer unsub()
	if _, open := <-ch; open {
		t.Error("late Subscribe channel not closed for finished invocation")
	}
}

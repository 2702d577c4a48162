package client

import (
	"context"

	"github.com/mkonduru/flowd/pkg/wire"
)

// Future is the handle for an invocation started with Client.Start. It
// resolves when the invocation returns or when it is cancelled, whichever
// happens first; a result that arrives after cancellation is discarded.
type Future struct {
	runCtx context.Context
	cancel context.CancelFunc
	done   chan struct{}

	output map[string]any
	err    error
}

// Wait blocks until the invocation resolves or ctx is done. Cancelling the
// Future resolves Wait promptly with a cancelled error even when the handler
// ignores its context and keeps running. Waiting with an expired context
// does not cancel the invocation itself; use Cancel for that.
func (f *Future) Wait(ctx context.Context) (map[string]any, error) {
	select {
	case <-f.done:
		return f.output, f.err
	case <-f.runCtx.Done():
		return nil, &Error{Kind: wire.KindCancelled, Message: "invocation cancelled"}
	case <-ctx.Done():
		return nil, &Error{Kind: wire.KindCancelled, Message: "wait cancelled: " + ctx.Err().Error()}
	}
}

// Cancel abandons the invocation. Pending and subsequent Wait calls resolve
// to a cancelled error; a result that arrives anyway is discarded.
func (f *Future) Cancel() {
	f.cancel()
}

// Done returns a channel closed once the underlying invocation call has
// returned. After cancellation Wait can resolve before Done closes, since a
// handler that ignores its context may still be running.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

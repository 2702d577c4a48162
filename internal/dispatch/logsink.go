package dispatch

import (
	"context"
	"fmt"
)

type logSinkKey struct{}

// withLogSink attaches a per-invocation log line sink to the context handed
// to workflow handlers.
func withLogSink(ctx context.Context, sink func(line string)) context.Context {
	return context.WithValue(ctx, logSinkKey{}, sink)
}

// Logf writes a formatted line to the current invocation's log stream.
// Outside a dispatch (e.g. a handler called directly in a unit test) it is a
// no-op, so handlers can log unconditionally.
func Logf(ctx context.Context, format string, args ...any) {
	sink, ok := ctx.Value(logSinkKey{}).(func(line string))
	if !ok {
		return
	}
	sink(fmt.Sprintf(format, args...))
}

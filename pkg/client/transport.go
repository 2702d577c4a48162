package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mkonduru/flowd/pkg/wire"
)

// controlRetryDelay is the pause before the single retry of an idempotent
// control-endpoint query.
const controlRetryDelay = 100 * time.Millisecond

// Transport submits invocation requests to a supervisor. One interface, two
// implementations: an in-process direct call (local mode) and an HTTP call
// to a remote supervisor's execution endpoint.
type Transport interface {
	Submit(ctx context.Context, req wire.InvocationRequest) (wire.InvocationResult, error)
}

// Invoker is the in-process dispatch surface a supervisor exposes for
// local-mode clients.
type Invoker interface {
	Invoke(ctx context.Context, req wire.InvocationRequest) wire.InvocationResult
}

// localTransport binds the client directly to an in-process supervisor,
// without a network hop.
type localTransport struct {
	invoker Invoker
}

func (t *localTransport) Submit(ctx context.Context, req wire.InvocationRequest) (wire.InvocationResult, error) {
	return t.invoker.Invoke(ctx, req), nil
}

// httpTransport talks JSON over HTTP to a remote supervisor.
type httpTransport struct {
	execEndpoint    string
	controlEndpoint string
	client          *http.Client
}

// Submit posts one invocation request to the execution endpoint. Execution
// requests are never retried: handler side effects may not be idempotent.
func (t *httpTransport) Submit(ctx context.Context, req wire.InvocationRequest) (wire.InvocationResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return wire.InvocationResult{}, &Error{Kind: wire.KindTransportError, Message: fmt.Sprintf("encode request: %v", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.execEndpoint+"/v1/invocations", bytes.NewReader(body))
	if err != nil {
		return wire.InvocationResult{}, &Error{Kind: wire.KindTransportError, Message: err.Error()}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return wire.InvocationResult{}, &Error{Kind: wire.KindCancelled, Message: "invocation cancelled"}
		}
		return wire.InvocationResult{}, &Error{Kind: wire.KindTransportError, Message: err.Error()}
	}
	defer resp.Body.Close()

	// The body carries the typed result for every status code the execution
	// endpoint produces; the status line is advisory.
	var result wire.InvocationResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return wire.InvocationResult{}, &Error{
			Kind:    wire.KindTransportError,
			Message: fmt.Sprintf("decode response (status %d): %v", resp.StatusCode, err),
		}
	}
	return result, nil
}

// submitAsync posts to the async execution route and returns the accepted
// invocation ID.
func (t *httpTransport) submitAsync(ctx context.Context, req wire.InvocationRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", &Error{Kind: wire.KindTransportError, Message: fmt.Sprintf("encode request: %v", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.execEndpoint+"/v1/invocations/async", bytes.NewReader(body))
	if err != nil {
		return "", &Error{Kind: wire.KindTransportError, Message: err.Error()}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", &Error{Kind: wire.KindCancelled, Message: "invocation cancelled"}
		}
		return "", &Error{Kind: wire.KindTransportError, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusServiceUnavailable {
		return "", &Error{Kind: wire.KindUnavailable, Message: "supervisor is draining"}
	}
	if resp.StatusCode != http.StatusAccepted {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", &Error{Kind: wire.KindTransportError, Message: fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, msg)}
	}

	var accepted struct {
		InvocationID string `json:"invocation_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&accepted); err != nil {
		return "", &Error{Kind: wire.KindTransportError, Message: fmt.Sprintf("decode response: %v", err)}
	}
	return accepted.InvocationID, nil
}

// getJSON performs an idempotent control-endpoint query, retrying once on
// transport failure. notFoundKind, when non-empty, maps a 404 to a typed
// error of that kind.
func (t *httpTransport) getJSON(ctx context.Context, path, notFoundKind string, v any) error {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(controlRetryDelay):
			case <-ctx.Done():
				return &Error{Kind: wire.KindCancelled, Message: "query cancelled"}
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.controlEndpoint+path, nil)
		if err != nil {
			return &Error{Kind: wire.KindTransportError, Message: err.Error()}
		}

		resp, err := t.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return &Error{Kind: wire.KindCancelled, Message: "query cancelled"}
			}
			lastErr = &Error{Kind: wire.KindTransportError, Message: err.Error()}
			continue
		}

		err = func() error {
			defer resp.Body.Close()
			if resp.StatusCode == http.StatusNotFound && notFoundKind != "" {
				return &Error{Kind: notFoundKind, Message: "not found: " + path}
			}
			if resp.StatusCode != http.StatusOK {
				msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
				return &Error{Kind: wire.KindTransportError, Message: fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, msg)}
			}
			if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
				return &Error{Kind: wire.KindTransportError, Message: fmt.Sprintf("decode response: %v", err)}
			}
			return nil
		}()
		// A response was received, so the outcome is definitive: either the
		// decoded value or a status/decode error. Only Do failures retry.
		return err
	}
	return lastErr
}

// Package client is the library workflows are invoked through. A Client runs
// in one of two modes chosen at construction: local mode calls an in-process
// supervisor directly, remote mode speaks JSON over HTTP to a supervisor's
// endpoints. Both modes share the same call surface and the same typed error
// taxonomy, so caller code is identical either way.
package client

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/mkonduru/flowd/pkg/wire"
)

// Mode selects how a Client reaches its supervisor.
type Mode string

const (
	// ModeLocal dispatches through an in-process supervisor.
	ModeLocal Mode = "local"
	// ModeRemote dispatches over HTTP.
	ModeRemote Mode = "remote"
)

const defaultHTTPTimeout = 5 * time.Minute

// Config configures a Client.
type Config struct {
	Mode Mode

	// Endpoint is the execution endpoint base URL, e.g. "http://127.0.0.1:8080".
	// Remote mode only.
	Endpoint string

	// ControlEndpoint is the control endpoint base URL, e.g.
	// "http://127.0.0.1:9090". Remote mode only; required for Health,
	// Workflows, Invocation and Stats queries.
	ControlEndpoint string

	// Invoker binds a local-mode client to an in-process supervisor.
	Invoker Invoker

	// HTTPClient overrides the default HTTP client in remote mode. The
	// default has a 5 minute timeout sized for long-running workflows.
	HTTPClient *http.Client
}

// Client invokes workflows against a supervisor. Safe for concurrent use.
type Client struct {
	transport Transport
	http      *httpTransport // nil in local mode
}

// New builds a Client for the given mode.
func New(cfg Config) (*Client, error) {
	switch cfg.Mode {
	case ModeLocal:
		if cfg.Invoker == nil {
			return nil, fmt.Errorf("local mode requires an Invoker")
		}
		return &Client{transport: &localTransport{invoker: cfg.Invoker}}, nil
	case ModeRemote:
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("remote mode requires an Endpoint")
		}
		hc := cfg.HTTPClient
		if hc == nil {
			hc = &http.Client{Timeout: defaultHTTPTimeout}
		}
		ht := &httpTransport{
			execEndpoint:    cfg.Endpoint,
			controlEndpoint: cfg.ControlEndpoint,
			client:          hc,
		}
		return &Client{transport: ht, http: ht}, nil
	default:
		return nil, fmt.Errorf("unknown client mode %q", cfg.Mode)
	}
}

// Run invokes a workflow and blocks until its result is available. On
// failure the returned error is a *Error carrying the wire error kind.
func (c *Client) Run(ctx context.Context, workflow string, input map[string]any) (map[string]any, error) {
	req := wire.InvocationRequest{
		WorkflowName: workflow,
		Input:        input,
		InvocationID: ulid.Make().String(),
	}

	result, err := c.transport.Submit(ctx, req)
	if err != nil {
		return nil, err
	}
	// A cancelled call yields a cancelled outcome even when the dispatch ran
	// to completion anyway; the late result is discarded.
	if ctx.Err() != nil {
		return nil, &Error{Kind: wire.KindCancelled, Message: "invocation cancelled"}
	}
	if !result.OK() {
		return nil, &Error{Kind: result.ErrorKind, Message: result.Error}
	}
	return result.Output, nil
}

// Start invokes a workflow without blocking and returns a Future the caller
// waits on. Cancelling the Future (or ctx) abandons the invocation: the
// Future resolves to a cancelled error and any eventual result is discarded.
func (c *Client) Start(ctx context.Context, workflow string, input map[string]any) *Future {
	runCtx, cancel := context.WithCancel(ctx)
	f := &Future{
		runCtx: runCtx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(f.done)
		f.output, f.err = c.Run(runCtx, workflow, input)
	}()
	return f
}

// Submit hands a workflow invocation to a remote supervisor for background
// execution and returns its invocation ID immediately. The outcome is
// retrieved later via Invocation. Remote mode only.
func (c *Client) Submit(ctx context.Context, workflow string, input map[string]any) (string, error) {
	if c.http == nil {
		return "", &Error{Kind: wire.KindTransportError, Message: "Submit requires remote mode"}
	}
	req := wire.InvocationRequest{
		WorkflowName: workflow,
		Input:        input,
		InvocationID: ulid.Make().String(),
	}
	return c.http.submitAsync(ctx, req)
}

// WorkflowInfo describes one registered workflow as reported by the control
// endpoint. Schemas are left in their JSON form.
type WorkflowInfo struct {
	Name         string         `json:"name"`
	Version      string         `json:"version"`
	Description  string         `json:"description,omitempty"`
	InputSchema  map[string]any `json:"input_schema"`
	OutputSchema map[string]any `json:"output_schema"`
}

// InvocationRecord is one invocation's history entry. Input and Output hold
// the JSON-encoded payloads.
type InvocationRecord struct {
	ID         string     `json:"id"`
	Workflow   string     `json:"workflow"`
	Status     string     `json:"status"`
	ErrorKind  string     `json:"error_kind,omitempty"`
	Error      string     `json:"error,omitempty"`
	Input      []byte     `json:"input,omitempty"`
	Output     []byte     `json:"output,omitempty"`
	DurationMS *int       `json:"duration_ms,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Stats summarizes the supervisor's invocation history.
type Stats struct {
	Total         int            `json:"total"`
	ByStatus      map[string]int `json:"by_status"`
	ByWorkflow    map[string]int `json:"by_workflow"`
	AvgDurationMS float64        `json:"avg_duration_ms"`
}

// controlQuery guards the control-endpoint methods, which need remote mode
// and a configured ControlEndpoint.
func (c *Client) controlQuery(ctx context.Context, path, notFoundKind string, v any) error {
	if c.http == nil {
		return &Error{Kind: wire.KindTransportError, Message: "control queries require remote mode"}
	}
	if c.http.controlEndpoint == "" {
		return &Error{Kind: wire.KindTransportError, Message: "control queries require ControlEndpoint"}
	}
	return c.http.getJSON(ctx, path, notFoundKind, v)
}

// Health probes the supervisor's readiness endpoint. A nil error means the
// supervisor is listening and accepting work.
func (c *Client) Health(ctx context.Context) error {
	var resp struct {
		Status string `json:"status"`
	}
	return c.controlQuery(ctx, "/readyz", "", &resp)
}

// Workflows lists the workflows registered on the supervisor.
func (c *Client) Workflows(ctx context.Context) ([]WorkflowInfo, error) {
	var resp struct {
		Workflows []WorkflowInfo `json:"workflows"`
	}
	if err := c.controlQuery(ctx, "/v1/workflows", "", &resp); err != nil {
		return nil, err
	}
	return resp.Workflows, nil
}

// Workflow fetches one registered workflow's descriptor by name.
func (c *Client) Workflow(ctx context.Context, name string) (*WorkflowInfo, error) {
	var info WorkflowInfo
	if err := c.controlQuery(ctx, "/v1/workflows/"+name, wire.KindUnknownWorkflow, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Invocation fetches one invocation's history record by ID.
func (c *Client) Invocation(ctx context.Context, id string) (*InvocationRecord, error) {
	var rec InvocationRecord
	if err := c.controlQuery(ctx, "/v1/invocations/"+id, KindNotFound, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Invocations pages through the supervisor's invocation history, most recent
// first. total is the count across all pages.
func (c *Client) Invocations(ctx context.Context, limit, offset int) (records []InvocationRecord, total int, err error) {
	var resp struct {
		Invocations []InvocationRecord `json:"invocations"`
		Total       int                `json:"total"`
	}
	path := fmt.Sprintf("/v1/invocations?limit=%d&offset=%d", limit, offset)
	if err := c.controlQuery(ctx, path, "", &resp); err != nil {
		return nil, 0, err
	}
	return resp.Invocations, resp.Total, nil
}

// Stats fetches aggregate invocation statistics.
func (c *Client) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	if err := c.controlQuery(ctx, "/v1/stats", "", &st); err != nil {
		return nil, err
	}
	return &st, nil
}

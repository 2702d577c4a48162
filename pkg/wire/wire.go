// Package wire defines the logical request/response contract between clients
// and a supervisor's execution endpoint, independent of how the two ends are
// connected (in-process call or HTTP). Both the supervisor handlers and the
// client library speak these types.
package wire

// Error kind constants. Every failed invocation carries exactly one of
// these, so callers can branch on "workflow not found" vs "bad input" vs
// "handler fault" without parsing messages.
const (
	KindUnknownWorkflow = "unknown_workflow"
	KindValidationError = "validation_error"
	KindHandlerError    = "handler_error"
	KindCancelled       = "cancelled"
	KindUnavailable     = "unavailable"
	// KindTransportError is produced by the client only; a supervisor never
	// reports it.
	KindTransportError = "transport_error"
)

// InvocationRequest names a workflow and carries its input payload.
// InvocationID is unique per call; clients generate one when the caller does
// not supply it.
type InvocationRequest struct {
	WorkflowName string         `json:"workflow_name"`
	Input        map[string]any `json:"input,omitempty"`
	InvocationID string         `json:"invocation_id,omitempty"`
}

// InvocationResult is the tagged outcome of one invocation: Output on
// success, ErrorKind+Error on failure. Exactly one result exists per
// invocation ID.
type InvocationResult struct {
	InvocationID string         `json:"invocation_id"`
	Output       map[string]any `json:"output,omitempty"`
	ErrorKind    string         `json:"error_kind,omitempty"`
	Error        string         `json:"error,omitempty"`
}

// OK reports whether the result is a success.
func (r InvocationResult) OK() bool {
	return r.ErrorKind == ""
}

// Failure builds a failed result for the given invocation.
func Failure(invocationID, kind, message string) InvocationResult {
	return InvocationResult{
		InvocationID: invocationID,
		ErrorKind:    kind,
		Error:        message,
	}
}

// Success builds a successful result carrying output.
func Success(invocationID string, output map[string]any) InvocationResult {
	return InvocationResult{
		InvocationID: invocationID,
		Output:       output,
	}
}

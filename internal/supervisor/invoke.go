package supervisor

import (
	"encoding/json"
	"net/http"

	"github.com/mkonduru/flowd/pkg/wire"
)

const maxBodySize = 1 << 20 // 1 MB

// statusClientClosedRequest follows the nginx convention for requests
// abandoned by the client. A cancelled dispatch is not a server fault and
// must not count as a 5xx.
const statusClientClosedRequest = 499

// submitResponse is the JSON body for an accepted asynchronous invocation.
type submitResponse struct {
	InvocationID string `json:"invocation_id"`
	Status       string `json:"status"`
}

// statusForKind maps a result's error kind to the HTTP status of the
// response. The body always carries the full wire.InvocationResult, so the
// status is advisory; clients branch on the error kind.
func statusForKind(kind string) int {
	switch kind {
	case "":
		return http.StatusOK
	case wire.KindUnknownWorkflow:
		return http.StatusNotFound
	case wire.KindValidationError:
		return http.StatusBadRequest
	case wire.KindUnavailable:
		return http.StatusServiceUnavailable
	case wire.KindCancelled:
		return statusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Supervisor) handleInvoke(w http.ResponseWriter, r *http.Request) {
	var req wire.InvocationRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.WorkflowName == "" {
		s.writeError(w, http.StatusBadRequest, "workflow_name is required")
		return
	}

	// The request context carries client disconnects and cancellations into
	// the handler; a cancelled dispatch yields a cancelled result, though the
	// client is usually gone by then.
	result := s.Invoke(r.Context(), req)
	s.writeJSON(w, statusForKind(result.ErrorKind), result)
}

func (s *Supervisor) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req wire.InvocationRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.WorkflowName == "" {
		s.writeError(w, http.StatusBadRequest, "workflow_name is required")
		return
	}

	if st := s.State(); st == Draining || st == Stopped {
		s.writeJSON(w, http.StatusServiceUnavailable,
			wire.Failure(req.InvocationID, wire.KindUnavailable, "supervisor is draining"))
		return
	}

	id, err := s.dispatcher.Submit(req)
	if err != nil {
		s.logger.Error("submit invocation", "workflow", req.WorkflowName, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to submit invocation")
		return
	}

	s.writeJSON(w, http.StatusAccepted, submitResponse{
		InvocationID: id,
		Status:       "pending",
	})
}

// writeJSON writes a JSON response with the given status code.
func (s *Supervisor) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Supervisor) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

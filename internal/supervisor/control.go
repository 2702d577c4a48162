package supervisor

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mkonduru/flowd/internal/model"
	"github.com/mkonduru/flowd/internal/store"
	"github.com/mkonduru/flowd/internal/workflow"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

type healthResponse struct {
	Status string `json:"status"`
}

func (s *Supervisor) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

// handleReadyz reports readiness: 200 only while Listening, 503 while
// Starting or Draining so load balancers stop routing before drain begins.
func (s *Supervisor) handleReadyz(w http.ResponseWriter, r *http.Request) {
	st := s.State()
	if st != Listening {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": st.String()})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": st.String()})
}

// listWorkflowsResponse wraps the registered workflow listing.
type listWorkflowsResponse struct {
	Workflows []*workflow.Descriptor `json:"workflows"`
}

func (s *Supervisor) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, listWorkflowsResponse{Workflows: s.registry.List()})
}

func (s *Supervisor) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	d, err := s.registry.Lookup(name)
	if errors.Is(err, workflow.ErrUnknownWorkflow) {
		s.writeError(w, http.StatusNotFound, "workflow not found")
		return
	}
	if err != nil {
		s.logger.Error("lookup workflow", "name", name, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to look up workflow")
		return
	}

	s.writeJSON(w, http.StatusOK, d)
}

// listInvocationsResponse wraps the paginated invocation history response.
type listInvocationsResponse struct {
	Invocations []*model.Invocation `json:"invocations"`
	Total       int                 `json:"total"`
	Limit       int                 `json:"limit"`
	Offset      int                 `json:"offset"`
}

func (s *Supervisor) handleListInvocations(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	invocations, total, err := s.store.ListInvocations(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list invocations", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list invocations")
		return
	}

	if invocations == nil {
		invocations = []*model.Invocation{}
	}

	s.writeJSON(w, http.StatusOK, listInvocationsResponse{
		Invocations: invocations,
		Total:       total,
		Limit:       limit,
		Offset:      offset,
	})
}

func (s *Supervisor) handleGetInvocation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	inv, err := s.store.GetInvocation(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "invocation not found")
		return
	}
	if err != nil {
		s.logger.Error("get invocation", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get invocation")
		return
	}

	s.writeJSON(w, http.StatusOK, inv)
}

// statsResponse is the JSON response for GET /v1/stats.
type statsResponse struct {
	Total         int            `json:"total"`
	ByStatus      map[string]int `json:"by_status"`
	ByWorkflow    map[string]int `json:"by_workflow"`
	AvgDurationMS float64        `json:"avg_duration_ms"`
}

func (s *Supervisor) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetInvocationStats(r.Context())
	if err != nil {
		s.logger.Error("get invocation stats", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	s.writeJSON(w, http.StatusOK, statsResponse{
		Total:         stats.Total,
		ByStatus:      stats.CountByStatus,
		ByWorkflow:    stats.CountByWorkflow,
		AvgDurationMS: stats.AvgDurationMS,
	})
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}

package supervisor

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mkonduru/flowd/internal/model"
	"github.com/mkonduru/flowd/internal/store"
)

func (s *Supervisor) handleStreamLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// Verify the invocation exists.
	inv, err := s.store.GetInvocation(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "invocation not found")
		return
	}
	if err != nil {
		s.logger.Error("get invocation for logs", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get invocation")
		return
	}

	// Set SSE headers.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// For an invocation already in a terminal state, replay the persisted
	// lines and finish the stream.
	if inv.Status == model.StatusCompleted || inv.Status == model.StatusFailed || inv.Status == model.StatusCancelled {
		w.WriteHeader(http.StatusOK)
		if _, err := s.replayLogHistory(w, r, id, -1); err == nil {
			_ = writeSSEEvent(w, "done", "stream complete")
		}
		return
	}

	// Disable write timeout for long-lived SSE connections.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Error("set write deadline for SSE", "error", err)
	}

	// Subscribe before replaying history so no line falls into the gap
	// between the two; lines seen in both are deduplicated by sequence
	// number below. Subscribe on a topic that closed in the meantime
	// returns a closed channel, causing the loop below to exit immediately.
	ch, unsub := s.dispatcher.Broker().Subscribe(id)
	defer unsub()

	w.WriteHeader(http.StatusOK)
	flusher, canFlush := w.(http.Flusher)
	if canFlush {
		flusher.Flush()
	}

	// A subscriber joining mid-run still sees the whole stream: persisted
	// lines first, then live ones.
	lastSeq, err := s.replayLogHistory(w, r, id, -1)
	if err != nil {
		return // Write failed (e.g. client gone).
	}
	if canFlush {
		flusher.Flush()
	}

	for {
		select {
		case line, ok := <-ch:
			if !ok {
				// Invocation finished; send explicit done event before closing.
				_ = writeSSEEvent(w, "done", "stream complete")
				if canFlush {
					flusher.Flush()
				}
				return
			}
			if line.Seq <= lastSeq {
				continue // Already sent during replay.
			}
			if err := writeSSEData(w, line.Seq, line.Line); err != nil {
				return // Write failed (e.g. client gone).
			}
			if canFlush {
				flusher.Flush()
			}
		case <-r.Context().Done():
			return // Client disconnected.
		}
	}
}

// replayLogHistory writes the invocation's persisted log lines after seq as
// SSE events and returns the last sequence number written (or the given seq
// when there is no history).
func (s *Supervisor) replayLogHistory(w http.ResponseWriter, r *http.Request, id string, seq int) (int, error) {
	history, err := s.store.GetLogLines(r.Context(), id)
	if err != nil {
		s.logger.Error("replay log history", "invocation_id", id, "error", err)
		return seq, nil
	}
	for _, l := range history {
		if l.Seq <= seq {
			continue
		}
		if err := writeSSEData(w, l.Seq, l.Line); err != nil {
			return seq, err
		}
		seq = l.Seq
	}
	return seq, nil
}

// logHistoryLine is a single log line in the history response.
type logHistoryLine struct {
	Seq       int    `json:"seq"`
	Line      string `json:"line"`
	CreatedAt string `json:"created_at"`
}

// logHistoryResponse is the JSON response for GET /v1/invocations/:id/logs/history.
type logHistoryResponse struct {
	InvocationID string           `json:"invocation_id"`
	Lines        []logHistoryLine `json:"lines"`
}

func (s *Supervisor) handleGetLogHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// Verify the invocation exists.
	_, err := s.store.GetInvocation(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "invocation not found")
		return
	}
	if err != nil {
		s.logger.Error("get invocation for log history", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get invocation")
		return
	}

	logLines, err := s.store.GetLogLines(r.Context(), id)
	if err != nil {
		s.logger.Error("get log lines", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get log lines")
		return
	}

	lines := make([]logHistoryLine, len(logLines))
	for i, l := range logLines {
		lines[i] = logHistoryLine{
			Seq:       l.Seq,
			Line:      l.Line,
			CreatedAt: l.CreatedAt.Format(time.RFC3339),
		}
	}

	s.writeJSON(w, http.StatusOK, logHistoryResponse{
		InvocationID: id,
		Lines:        lines,
	})
}

// writeSSEData writes a log line as an SSE data event carrying its sequence
// number as the event ID. Multi-line strings are split so that each segment
// gets its own "data:" prefix, per the SSE spec.
func writeSSEData(w http.ResponseWriter, seq int, line string) error {
	if _, err := fmt.Fprintf(w, "id: %d\n", seq); err != nil {
		return err
	}
	for _, seg := range strings.Split(line, "\n") {
		if _, err := fmt.Fprintf(w, "data: %s\n", seg); err != nil {
			return err
		}
	}
	// Blank line terminates the event.
	_, err := fmt.Fprint(w, "\n")
	return err
}

// writeSSEEvent writes a named SSE event (event: <type>\ndata: <data>\n\n).
func writeSSEEvent(w http.ResponseWriter, eventType, data string) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return nil
}

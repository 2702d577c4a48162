package store

import (
	"context"
	"errors"

	"github.com/mkonduru/flowd/internal/model"
)

// ErrNotFound is returned when an invocation is not found.
var ErrNotFound = errors.New("invocation not found")

// InvocationStats holds aggregate invocation statistics.
type InvocationStats struct {
	Total           int            `json:"total"`
	CountByStatus   map[string]int `json:"count_by_status"`
	CountByWorkflow map[string]int `json:"count_by_workflow"`
	AvgDurationMS   float64        `json:"avg_duration_ms"`
}

// Store defines the persistence operations for invocation history.
type Store interface {
	CreateInvocation(ctx context.Context, inv *model.Invocation) error
	GetInvocation(ctx context.Context, id string) (*model.Invocation, error)
	ListInvocations(ctx context.Context, limit, offset int) ([]*model.Invocation, int, error)
	UpdateInvocationStatus(ctx context.Context, id, status string) error
	UpdateInvocation(ctx context.Context, inv *model.Invocation) error
	GetInvocationStats(ctx context.Context) (*InvocationStats, error)
	InsertLogLine(ctx context.Context, invocationID string, seq int, line string) error
	GetLogLines(ctx context.Context, invocationID string) ([]model.LogLine, error)
	Close() error
}

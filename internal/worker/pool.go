package worker

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrWorkerUnavailable = errors.New("worker pool unavailable")

// CancelledMessage is the outcome message of a task cancelled before it ran
// to completion.
const CancelledMessage = "cancelled"

// Task is one job handed to a pool.
type Task struct {
	JobID      uuid.UUID      `json:"job_id"`
	AnalysisID uuid.UUID      `json:"analysis_id"`
	DataType   string         `json:"data_type"`
	Function   string         `json:"function"`
	Options    map[string]any `json:"options,omitempty"`
}

type Outcome struct {
	Success bool
	Results []string
	Message string
}

// Handle identifies a submitted task within its pool.
type Handle string

// Callback receives the outcome of a task. Pools call it exactly once per
// accepted task.
type Callback func(Outcome)

// Pool runs tasks asynchronously. Submit never waits for the task to run.
type Pool interface {
	Submit(ctx context.Context, task Task, done Callback) (Handle, error)
	// Cancel is best-effort; a task that already finished is not an error.
	Cancel(ctx context.Context, handle Handle) error
}

// Runner executes the function of a task.
type Runner interface {
	Run(ctx context.Context, analysisID, dataType, function string, options map[string]any) ([]string, error)
}

func runTask(ctx context.Context, runner Runner, task Task) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			outcome = Outcome{Message: "worker panic"}
		}
	}()

	results, err := runner.Run(ctx, task.AnalysisID.String(), task.DataType, task.Function, task.Options)
	switch {
	case ctx.Err() != nil:
		return Outcome{Message: CancelledMessage}
	case err != nil:
		return Outcome{Message: err.Error()}
	}
	if results == nil {
		results = []string{}
	}
	return Outcome{Success: true, Results: results}
}

// RunnerFunc adapts a plain function to Runner.
type RunnerFunc func(ctx context.Context, analysisID, dataType, function string, options map[string]any) ([]string, error)

func (f RunnerFunc) Run(ctx context.Context, analysisID, dataType, function string, options map[string]any) ([]string, error) {
	return f(ctx, analysisID, dataType, function, options)
}

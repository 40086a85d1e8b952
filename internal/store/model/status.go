package model

import (
	"errors"
	"fmt"
)

type AnalysisStatus string

const (
	AnalysisStatusConstruction AnalysisStatus = "construction"
	AnalysisStatusRunning      AnalysisStatus = "running"
	AnalysisStatusCompleted    AnalysisStatus = "completed"
	AnalysisStatusLocked       AnalysisStatus = "locked"
)

type JobStatus string

const (
	JobStatusQueued  JobStatus = "queued"
	JobStatusRunning JobStatus = "running"
	JobStatusDone    JobStatus = "done"
	JobStatusError   JobStatus = "error"
)

var (
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrAnalysisLocked     = errors.New("analysis is locked")
	ErrJobTerminal        = errors.New("job is in a terminal state")
	ErrIncompleteAnalysis = errors.New("analysis is incomplete")
	ErrNotMember          = errors.New("not part of the analysis")
	ErrDataTypeMismatch   = errors.New("data types must match the jobs of the analysis")
)

var analysisTransitions = map[AnalysisStatus]map[AnalysisStatus]struct{}{
	AnalysisStatusConstruction: {
		AnalysisStatusRunning: {},
		AnalysisStatusLocked:  {},
	},
	AnalysisStatusRunning: {
		AnalysisStatusCompleted: {},
	},
	AnalysisStatusCompleted: {
		AnalysisStatusLocked: {},
	},
	AnalysisStatusLocked: {},
}

// queued -> error covers jobs cancelled or rejected before a pool accepted them.
var jobTransitions = map[JobStatus]map[JobStatus]struct{}{
	JobStatusQueued: {
		JobStatusRunning: {},
		JobStatusError:   {},
	},
	JobStatusRunning: {
		JobStatusDone:  {},
		JobStatusError: {},
	},
	JobStatusDone:  {},
	JobStatusError: {},
}

func ValidateAnalysisTransition(from, to AnalysisStatus) error {
	if from == AnalysisStatusLocked {
		return fmt.Errorf("%w: %s -> %s", ErrAnalysisLocked, from, to)
	}
	next, ok := analysisTransitions[from]
	if !ok {
		return fmt.Errorf("%w: unknown analysis status %q", ErrInvalidTransition, from)
	}
	if _, ok := next[to]; !ok {
		return fmt.Errorf("%w: analysis %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

func ValidateJobTransition(from, to JobStatus) error {
	if from.IsTerminal() {
		return fmt.Errorf("%w: %s -> %s", ErrJobTerminal, from, to)
	}
	next, ok := jobTransitions[from]
	if !ok {
		return fmt.Errorf("%w: unknown job status %q", ErrInvalidTransition, from)
	}
	if _, ok := next[to]; !ok {
		return fmt.Errorf("%w: job %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

func (s JobStatus) IsTerminal() bool {
	return s == JobStatusDone || s == JobStatusError
}

func (s AnalysisStatus) IsTerminal() bool {
	return s == AnalysisStatusCompleted || s == AnalysisStatusLocked
}

package v1alpha1

import (
	"time"

	"github.com/google/uuid"
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

// JobCreate requests one function on one data type.
type JobCreate struct {
	Function string          `json:"function"`
	Options  *map[string]any `json:"options,omitempty"`
}

// AnalysisCreate is the body of POST /api/v1/analyses. Jobs maps a data type
// to the functions to run on it.
type AnalysisCreate struct {
	Name           *string                `json:"name,omitempty"`
	Studies        []string               `json:"studies"`
	MetadataFields []string               `json:"metadataFields"`
	Jobs           map[string][]JobCreate `json:"jobs"`
}

// AnalysisUpdate is the body of PATCH /api/v1/analyses/{id}.
type AnalysisUpdate struct {
	Name                 *string   `json:"name,omitempty"`
	AddStudies           *[]string `json:"addStudies,omitempty"`
	RemoveStudies        *[]string `json:"removeStudies,omitempty"`
	AddMetadataFields    *[]string `json:"addMetadataFields,omitempty"`
	RemoveMetadataFields *[]string `json:"removeMetadataFields,omitempty"`
	AddDataTypes         *[]string `json:"addDataTypes,omitempty"`
	RemoveDataTypes      *[]string `json:"removeDataTypes,omitempty"`
}

type Job struct {
	Id       uuid.UUID      `json:"id"`
	DataType string         `json:"dataType"`
	Function string         `json:"function"`
	Options  map[string]any `json:"options"`
	Status   JobStatus      `json:"status"`
	Results  []string       `json:"results"`
	Error    *string        `json:"error,omitempty"`
}

type Analysis struct {
	Id             uuid.UUID      `json:"id"`
	Owner          string         `json:"owner"`
	Name           string         `json:"name"`
	Status         AnalysisStatus `json:"status"`
	Studies        []string       `json:"studies"`
	MetadataFields []string       `json:"metadataFields"`
	DataTypes      []string       `json:"dataTypes"`
	Jobs           []Job          `json:"jobs"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      *time.Time     `json:"updatedAt,omitempty"`
}

type AnalysisList []Analysis

type AnalysisReference struct {
	Id uuid.UUID `json:"id"`
}

type Status struct {
	Message string `json:"message"`
}

type Error struct {
	Message   string  `json:"message"`
	RequestId *string `json:"requestId,omitempty"`
}

package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// JobOptions holds the validated options of a job function, normalized to a
// plain map for storage and transport.
type JobOptions map[string]any

type Job struct {
	ID           uuid.UUID  `gorm:"primaryKey;column:id;type:VARCHAR(255);"`
	CreatedAt    time.Time  `gorm:"not null;autoCreateTime"`
	UpdatedAt    *time.Time
	AnalysisID   uuid.UUID  `gorm:"not null;type:VARCHAR(255);index:jobs_analysis_id_idx"`
	DataType     string     `gorm:"not null;type:VARCHAR(100)"`
	Function     string     `gorm:"not null;type:VARCHAR(100)"`
	Position     int        `gorm:"not null;default:0"`
	Options      JobOptions `gorm:"serializer:json;type:jsonb"`
	Status       JobStatus  `gorm:"not null;type:VARCHAR(50)"`
	Results      []string   `gorm:"serializer:json;type:jsonb"`
	ErrorMessage *string
	Handle       *string `gorm:"type:VARCHAR(255)"`
}

type JobList []Job

func (j Job) String() string {
	val, _ := json.Marshal(j)
	return string(val)
}

// Identifier is the "<datatype>:<function>" name listeners know the job by.
func (j Job) Identifier() string {
	return fmt.Sprintf("%s:%s", j.DataType, j.Function)
}

func (j Job) IsTerminal() bool {
	return j.Status.IsTerminal()
}

// Transition applies a status change in place. Results are kept only for
// done, the message only for error.
func (j *Job) Transition(to JobStatus, results []string, message string) error {
	if err := ValidateJobTransition(j.Status, to); err != nil {
		return err
	}
	j.Status = to
	switch to {
	case JobStatusDone:
		j.Results = append([]string{}, results...)
		j.ErrorMessage = nil
	case JobStatusError:
		j.Results = []string{}
		msg := message
		j.ErrorMessage = &msg
	}
	now := time.Now()
	j.UpdatedAt = &now
	return nil
}

func (l JobList) AllTerminal() bool {
	for _, j := range l {
		if !j.IsTerminal() {
			return false
		}
	}
	return true
}

// SortJobs orders jobs by submission position.
func SortJobs(jobs []Job) []Job {
	sorted := append([]Job{}, jobs...)
	sort.SliceStable(sorted, func(i, k int) bool {
		return sorted[i].Position < sorted[k].Position
	})
	return sorted
}

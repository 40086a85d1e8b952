package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/thoas/go-funk"
)

type Analysis struct {
	ID             uuid.UUID      `gorm:"primaryKey;column:id;type:VARCHAR(255);"`
	CreatedAt      time.Time      `gorm:"not null;autoCreateTime"`
	UpdatedAt      *time.Time
	Owner          string         `gorm:"not null;type:VARCHAR(255);uniqueIndex:analyses_owner_name_idx"`
	Name           string         `gorm:"not null;type:VARCHAR(255);uniqueIndex:analyses_owner_name_idx"`
	Status         AnalysisStatus `gorm:"not null;type:VARCHAR(50);index:analyses_status_idx"`
	Studies        []string       `gorm:"serializer:json;type:jsonb"`
	MetadataFields []string       `gorm:"serializer:json;type:jsonb"`
	DataTypes      []string       `gorm:"serializer:json;type:jsonb"`
	Jobs           []Job          `gorm:"foreignKey:AnalysisID;references:ID;constraint:OnDelete:CASCADE;"`
}

type AnalysisList []Analysis

func (a Analysis) String() string {
	val, _ := json.Marshal(a)
	return string(val)
}

func (a Analysis) IsLocked() bool {
	return a.Status == AnalysisStatusLocked
}

// JobsByDataType groups the job ids of the analysis by data type, keeping
// submission order inside each group.
func (a Analysis) JobsByDataType() map[string][]uuid.UUID {
	grouped := make(map[string][]uuid.UUID, len(a.DataTypes))
	for _, j := range SortJobs(a.Jobs) {
		grouped[j.DataType] = append(grouped[j.DataType], j.ID)
	}
	return grouped
}

// ValidateForDispatch checks the inputs required to leave construction.
func (a Analysis) ValidateForDispatch() error {
	switch {
	case len(a.DataTypes) == 0:
		return fmt.Errorf("%w: at least one data type is required", ErrIncompleteAnalysis)
	case len(a.Studies) == 0:
		return fmt.Errorf("%w: at least one study is required", ErrIncompleteAnalysis)
	case len(a.MetadataFields) == 0:
		return fmt.Errorf("%w: at least one metadata field is required", ErrIncompleteAnalysis)
	}
	return nil
}

func (a *Analysis) Rename(name string) error {
	if a.IsLocked() {
		return ErrAnalysisLocked
	}
	a.Name = name
	return nil
}

func (a *Analysis) AddStudies(refs ...string) error {
	if a.IsLocked() {
		return ErrAnalysisLocked
	}
	a.Studies = funk.UniqString(append(a.Studies, refs...))
	return nil
}

func (a *Analysis) RemoveStudies(refs ...string) error {
	if a.IsLocked() {
		return ErrAnalysisLocked
	}
	if err := requireMembers("study", a.Studies, refs); err != nil {
		return err
	}
	a.Studies = funk.SubtractString(a.Studies, refs)
	return nil
}

func (a *Analysis) AddMetadataFields(fields ...string) error {
	if a.IsLocked() {
		return ErrAnalysisLocked
	}
	a.MetadataFields = funk.UniqString(append(a.MetadataFields, fields...))
	return nil
}

func (a *Analysis) RemoveMetadataFields(fields ...string) error {
	if a.IsLocked() {
		return ErrAnalysisLocked
	}
	if err := requireMembers("metadata field", a.MetadataFields, fields); err != nil {
		return err
	}
	a.MetadataFields = funk.SubtractString(a.MetadataFields, fields)
	return nil
}

// AddDataTypes adds input data types. Once the analysis has left
// construction only data types some job ran on can be listed.
func (a *Analysis) AddDataTypes(dataTypes ...string) error {
	if a.IsLocked() {
		return ErrAnalysisLocked
	}
	if a.Status != AnalysisStatusConstruction {
		jobs := a.JobsByDataType()
		for _, dt := range dataTypes {
			if _, ok := jobs[dt]; !ok {
				return fmt.Errorf("%w: no job ran on %q", ErrDataTypeMismatch, dt)
			}
		}
	}
	a.DataTypes = funk.UniqString(append(a.DataTypes, dataTypes...))
	return nil
}

// RemoveDataTypes drops input data types. Once the analysis has left
// construction a data type some job ran on cannot be dropped.
func (a *Analysis) RemoveDataTypes(dataTypes ...string) error {
	if a.IsLocked() {
		return ErrAnalysisLocked
	}
	if err := requireMembers("data type", a.DataTypes, dataTypes); err != nil {
		return err
	}
	if a.Status != AnalysisStatusConstruction {
		jobs := a.JobsByDataType()
		for _, dt := range dataTypes {
			if _, ok := jobs[dt]; ok {
				return fmt.Errorf("%w: jobs ran on %q", ErrDataTypeMismatch, dt)
			}
		}
	}
	a.DataTypes = funk.SubtractString(a.DataTypes, dataTypes)
	return nil
}

func requireMembers(kind string, set, items []string) error {
	for _, item := range items {
		if !funk.ContainsString(set, item) {
			return fmt.Errorf("%w: %s %q", ErrNotMember, kind, item)
		}
	}
	return nil
}

// DefaultAnalysisName is used when an analysis is submitted without a name.
func DefaultAnalysisName(now time.Time) string {
	return now.Format("2006-01-02-15-04-05")
}

package mappers

import (
	api "github.com/qiita/qiita-ware/api/v1alpha1"
	"github.com/qiita/qiita-ware/internal/store/model"
)

// emptyIfNil keeps collections as [] in JSON, the front-end does not expect null.
func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func JobToApi(j model.Job) api.Job {
	options := map[string]any(j.Options)
	if options == nil {
		options = map[string]any{}
	}
	return api.Job{
		Id:       j.ID,
		DataType: j.DataType,
		Function: j.Function,
		Options:  options,
		Status:   api.StringToJobStatus(string(j.Status)),
		Results:  emptyIfNil(j.Results),
		Error:    j.ErrorMessage,
	}
}

func AnalysisToApi(a model.Analysis) api.Analysis {
	jobs := make([]api.Job, 0, len(a.Jobs))
	for _, j := range model.SortJobs(a.Jobs) {
		jobs = append(jobs, JobToApi(j))
	}
	status, _ := api.StringToAnalysisStatus(string(a.Status))
	return api.Analysis{
		Id:             a.ID,
		Owner:          a.Owner,
		Name:           a.Name,
		Status:         status,
		Studies:        emptyIfNil(a.Studies),
		MetadataFields: emptyIfNil(a.MetadataFields),
		DataTypes:      emptyIfNil(a.DataTypes),
		Jobs:           jobs,
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
	}
}

func AnalysisListToApi(analyses model.AnalysisList) api.AnalysisList {
	list := make(api.AnalysisList, 0, len(analyses))
	for _, a := range analyses {
		list = append(list, AnalysisToApi(a))
	}
	return list
}

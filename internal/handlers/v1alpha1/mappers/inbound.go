package mappers

import (
	"github.com/qiita/qiita-ware/api/v1alpha1"
	"github.com/qiita/qiita-ware/internal/service"
	"github.com/qiita/qiita-ware/internal/util"
)

func derefSlice(s *[]string) []string {
	if s == nil {
		return nil
	}
	return *s
}

func AnalysisFormApi(owner string, resource v1alpha1.AnalysisCreate) service.AnalysisForm {
	form := service.AnalysisForm{
		Owner:          owner,
		Name:           util.DerefString(resource.Name),
		Studies:        resource.Studies,
		MetadataFields: resource.MetadataFields,
		Jobs:           make(map[string][]service.JobRequest, len(resource.Jobs)),
	}
	for dataType, jobs := range resource.Jobs {
		requests := make([]service.JobRequest, 0, len(jobs))
		for _, j := range jobs {
			req := service.JobRequest{Function: j.Function}
			if j.Options != nil {
				req.Options = *j.Options
			}
			requests = append(requests, req)
		}
		form.Jobs[dataType] = requests
	}
	return form
}

func AnalysisChangesApi(resource v1alpha1.AnalysisUpdate) service.AnalysisChanges {
	return service.AnalysisChanges{
		Name:                 resource.Name,
		AddStudies:           derefSlice(resource.AddStudies),
		RemoveStudies:        derefSlice(resource.RemoveStudies),
		AddMetadataFields:    derefSlice(resource.AddMetadataFields),
		RemoveMetadataFields: derefSlice(resource.RemoveMetadataFields),
		AddDataTypes:         derefSlice(resource.AddDataTypes),
		RemoveDataTypes:      derefSlice(resource.RemoveDataTypes),
	}
}

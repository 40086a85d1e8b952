package v1alpha1

func StringToAnalysisStatus(s string) (AnalysisStatus, bool) {
	switch s {
	case string(AnalysisStatusConstruction):
		return AnalysisStatusConstruction, true
	case string(AnalysisStatusRunning):
		return AnalysisStatusRunning, true
	case string(AnalysisStatusCompleted):
		return AnalysisStatusCompleted, true
	case string(AnalysisStatusLocked):
		return AnalysisStatusLocked, true
	default:
		return "", false
	}
}

func StringToJobStatus(s string) JobStatus {
	switch s {
	case string(JobStatusRunning):
		return JobStatusRunning
	case string(JobStatusDone):
		return JobStatusDone
	case string(JobStatusError):
		return JobStatusError
	default:
		return JobStatusQueued
	}
}

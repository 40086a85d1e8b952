package validator

import "github.com/go-playground/validator/v10"

func registerFn(tag string, fn func(fl validator.FieldLevel) bool) func(v *validator.Validate) {
	return func(v *validator.Validate) {
		_ = v.RegisterValidation(tag, fn)
	}
}

func NewAnalysisValidationRules() []ValidationRule {
	return []ValidationRule{
		{
			Rule: registerFn("analysis_name", nameValidator),
		},
		{
			Rule: registerFn("metadata_field", metadataFieldValidator),
		},
		{
			Rule: registerFn("study", studyValidator),
		},
	}
}

func NewOptionsValidationRules() []ValidationRule {
	return []ValidationRule{
		{
			Rule: registerFn("alpha_metric", alphaMetricValidator),
		},
		{
			Rule: registerFn("beta_metric", betaMetricValidator),
		},
	}
}

package validator

import (
	"regexp"

	"github.com/go-playground/validator/v10"
)

var (
	analysisNameRegex  = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9 ._:+-]*$`)
	metadataFieldRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9._-]*[a-zA-Z0-9])?$`)
	studyRegex         = regexp.MustCompile(`^[0-9]+$`)
)

// nameValidator accepts an empty name; the switchboard names it by timestamp.
func nameValidator(fl validator.FieldLevel) bool {
	val, ok := fl.Field().Interface().(string)
	if !ok {
		return false
	}
	if val == "" {
		return true
	}
	return analysisNameRegex.MatchString(val)
}

func metadataFieldValidator(fl validator.FieldLevel) bool {
	val, ok := fl.Field().Interface().(string)
	if !ok {
		return false
	}
	return metadataFieldRegex.MatchString(val)
}

func studyValidator(fl validator.FieldLevel) bool {
	val, ok := fl.Field().Interface().(string)
	if !ok {
		return false
	}
	return studyRegex.MatchString(val)
}

func alphaMetricValidator(fl validator.FieldLevel) bool {
	val, ok := fl.Field().Interface().(string)
	if !ok {
		return false
	}
	switch val {
	case "chao1":
		fallthrough
	case "shannon":
		fallthrough
	case "observed_species":
		fallthrough
	case "PD_whole_tree":
		return true
	default:
		return false
	}
}

func betaMetricValidator(fl validator.FieldLevel) bool {
	val, ok := fl.Field().Interface().(string)
	if !ok {
		return false
	}
	switch val {
	case "unweighted_unifrac":
		fallthrough
	case "weighted_unifrac":
		fallthrough
	case "bray_curtis":
		return true
	default:
		return false
	}
}

package validation

import (
	"encoding/json"
	"fmt"

	"github.com/lyzr/querystore/common/models"
)

// immutableFields cannot be touched by a merge patch
var immutableFields = []string{
	models.FieldID,
	models.FieldCreatedDate,
	models.FieldCreatedBy,
}

// PatchValidator validates RFC 7396 merge patches for saved queries
type PatchValidator struct{}

// NewPatchValidator creates a new patch validator
func NewPatchValidator() *PatchValidator {
	return &PatchValidator{}
}

// ValidateMergePatch checks that patch is a JSON object that leaves the
// immutable fields alone. Field types are left to the schema.
func (v *PatchValidator) ValidateMergePatch(patch []byte) error {
	var ops map[string]any
	if err := json.Unmarshal(patch, &ops); err != nil {
		return &ValidationError{Violations: []Violation{{
			Field:   "$",
			Rule:    "type",
			Message: fmt.Sprintf("merge patch must be a JSON object: %v", err),
		}}}
	}

	var violations []Violation
	for _, field := range immutableFields {
		if _, ok := ops[field]; ok {
			violations = append(violations, Violation{
				Field:   field,
				Rule:    "immutable",
				Message: "cannot be changed by a patch",
			})
		}
	}

	// Chart configuration must stay an object or be removed with null
	if cc, ok := ops[models.FieldChartConfiguration]; ok && cc != nil {
		if _, isObj := cc.(map[string]any); !isObj {
			violations = append(violations, typeViolation(models.FieldChartConfiguration, "an object or null", cc))
		}
	}

	if len(violations) > 0 {
		return &ValidationError{Violations: violations}
	}
	return nil
}

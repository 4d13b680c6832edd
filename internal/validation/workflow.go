package validation

import "github.com/forensicdev/warden/pkg/schema"

// DefinitionValidator runs the two-stage validation pipeline:
// 1. Structural (JSON Schema)
// 2. Semantic (process types, skip bounds, durations, nesting)
type DefinitionValidator struct {
	jsonSchema *JSONSchemaValidator
}

// NewDefinitionValidator creates a DefinitionValidator.
func NewDefinitionValidator() (*DefinitionValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &DefinitionValidator{jsonSchema: jsv}, nil
}

// Validate runs both stages and returns an aggregated result.
// Structural errors short-circuit: the semantic stage is skipped.
func (dv *DefinitionValidator) Validate(def schema.WorkflowDefinition) *schema.ValidationResult {
	result := validateStructural(dv.jsonSchema, def)
	if !result.Valid() {
		return result
	}
	result.Merge(validateSemantic(def))
	return result
}

// ValidateDefinition satisfies the Validator interface. Its signature matches
// the template registry's ValidateFunc, so a DefinitionValidator plugs in
// directly as the registration hook.
func (dv *DefinitionValidator) ValidateDefinition(def schema.WorkflowDefinition) error {
	return dv.Validate(def).ToError()
}

// validateStructural wraps JSONSchemaValidator.ValidateDefinition, converting
// its error output into a ValidationResult.
func validateStructural(v *JSONSchemaValidator, def schema.WorkflowDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	err := v.ValidateDefinition(def)
	if err == nil {
		return result
	}

	werr, ok := err.(*schema.WardenError)
	if !ok {
		result.AddError("/", schema.ErrCodeValidation, err.Error())
		return result
	}

	if werr.Details != nil {
		if violations, ok := werr.Details["violations"].([]string); ok {
			for _, v := range violations {
				result.AddError("/", schema.ErrCodeValidation, v)
			}
			return result
		}
	}
	result.AddError("/", schema.ErrCodeValidation, werr.Message)
	return result
}

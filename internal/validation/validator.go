package validation

import "github.com/forensicdev/warden/pkg/schema"

// Validator checks workflow definitions before they are registered.
// Structural checks use JSON Schema Draft 2020-12; semantic checks cover
// what the schema cannot express.
type Validator interface {
	Validate(def schema.WorkflowDefinition) *schema.ValidationResult
	ValidateDefinition(def schema.WorkflowDefinition) error
}

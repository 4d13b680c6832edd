// Package templates resolves workflow types into concrete step lists.
//
// A Registry holds one WorkflowDefinition per workflow type. The built-in
// investigation templates are preloaded; YAML template files loaded from a
// directory may add new types or override built-ins.
package templates

import (
	"sort"
	"sync"

	"github.com/forensicdev/warden/pkg/schema"
)

// ValidateFunc checks a definition before it is registered.
type ValidateFunc func(schema.WorkflowDefinition) error

// Registry is a thread-safe map of workflow type to definition.
type Registry struct {
	mu       sync.RWMutex
	defs     map[string]schema.WorkflowDefinition
	validate ValidateFunc
}

// NewRegistry creates a Registry preloaded with the built-in definitions.
// validate, if non-nil, runs against every definition passed to Register;
// built-ins are preloaded without it.
func NewRegistry(validate ValidateFunc) *Registry {
	r := &Registry{
		defs:     make(map[string]schema.WorkflowDefinition),
		validate: validate,
	}
	for _, def := range Builtins() {
		r.defs[def.Type] = def
	}
	return r
}

// Register adds a definition to the registry. Registering an existing type
// replaces it, so template files can override built-ins.
func (r *Registry) Register(def schema.WorkflowDefinition) error {
	if def.Type == "" {
		return schema.NewError(schema.ErrCodeValidation, "workflow type is empty")
	}
	if len(def.Steps) == 0 {
		return schema.NewErrorf(schema.ErrCodeValidation, "workflow type %q has no steps", def.Type)
	}
	if r.validate != nil {
		if err := r.validate(def); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.defs[def.Type] = def
	return nil
}

// Get retrieves the definition for a workflow type.
func (r *Registry) Get(workflowType string) (schema.WorkflowDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.defs[workflowType]
	if !ok {
		return schema.WorkflowDefinition{}, schema.NewErrorf(schema.ErrCodeUnknownWorkflowType, "workflow type %q not registered", workflowType)
	}
	return def, nil
}

// Info summarizes one registered workflow type.
type Info struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Steps       int    `json:"steps"`
}

// List returns info for all registered types, sorted by type.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.defs))
	for _, def := range r.defs {
		infos = append(infos, Info{
			Type:        def.Type,
			Description: def.Description,
			Steps:       len(def.Steps),
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Type < infos[j].Type
	})
	return infos
}

// Has checks if a workflow type is registered.
func (r *Registry) Has(workflowType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.defs[workflowType]
	return ok
}

// Count returns the number of registered workflow types.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.defs)
}

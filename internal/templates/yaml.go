package templates

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/forensicdev/warden/pkg/schema"
	"gopkg.in/yaml.v3"
)

// LoadDir reads every .yaml/.yml file in dir as one workflow definition and
// registers it, overriding any built-in of the same type. Files are loaded in
// lexical order. A missing directory is not an error; it means no overrides.
// Returns the number of definitions registered.
func (r *Registry) LoadDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, schema.NewErrorf(schema.ErrCodeValidation, "reading templates dir %s", dir).WithCause(err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	loaded := 0
	for _, name := range names {
		def, err := LoadFile(filepath.Join(dir, name))
		if err != nil {
			return loaded, err
		}
		if err := r.Register(def); err != nil {
			return loaded, schema.NewErrorf(schema.ErrCodeValidation, "template file %s", name).WithCause(err)
		}
		loaded++
	}
	return loaded, nil
}

// LoadFile decodes a single workflow definition from a YAML file.
func LoadFile(path string) (schema.WorkflowDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return schema.WorkflowDefinition{}, schema.NewErrorf(schema.ErrCodeValidation, "reading template %s", path).WithCause(err)
	}

	var def schema.WorkflowDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return schema.WorkflowDefinition{}, schema.NewErrorf(schema.ErrCodeValidation, "parsing template %s", path).WithCause(err)
	}
	return def, nil
}

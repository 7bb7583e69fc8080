// Package schemafile loads entity-type descriptors from a project
// schema file and builds the registry from them.
package schemafile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/grafton-io/grafton/internal/registry"
)

const SchemaFileName = "schema.json"

// Schema is the on-disk shape of a project's entity declarations.
type Schema struct {
	Version string                          `json:"version,omitempty"`
	Types   []registry.EntityTypeDescriptor `json:"types"`
}

func SchemaPath(graftonDir string) string {
	return filepath.Join(graftonDir, SchemaFileName)
}

// Load reads and parses the schema file at path. A missing file is an
// error: the engine cannot do anything without type declarations.
func Load(path string) (*Schema, error) {
	data, err := os.ReadFile(path) // #nosec G304 - controlled path from config
	if err != nil {
		return nil, fmt.Errorf("reading schema: %w", err)
	}

	var s Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing schema: %w", err)
	}
	if len(s.Types) == 0 {
		return nil, fmt.Errorf("schema %s declares no entity types", path)
	}
	return &s, nil
}

// Registry builds the validated registry from the schema's
// declarations.
func (s *Schema) Registry() (*registry.Registry, error) {
	return registry.New(s.Types)
}

// LoadRegistry is the common Load-then-Registry path.
func LoadRegistry(path string) (*registry.Registry, error) {
	s, err := Load(path)
	if err != nil {
		return nil, err
	}
	return s.Registry()
}

func (s *Schema) Save(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling schema: %w", err)
	}
	data = append(data, '\n')

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing schema: %w", err)
	}

	return nil
}

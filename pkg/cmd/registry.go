package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tramite-io/tramite/pkg/schema"
)

// NewSchemaRegistry builds the entity type registry from the JSON descriptor
// files in the given directory. Each *.json file holds one entity type.
// Entity methods cannot be declared in descriptors; hosts register those in
// code after loading.
func NewSchemaRegistry(descriptorsPath string) (*schema.Registry, error) {
	registry := schema.NewRegistry()

	if descriptorsPath == "" {
		return registry, nil
	}

	entries, err := os.ReadDir(descriptorsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema descriptors: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}

		raw, err := os.ReadFile(filepath.Join(descriptorsPath, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read schema descriptor %s: %w", entry.Name(), err)
		}

		var entityType schema.EntityType
		if err := json.Unmarshal(raw, &entityType); err != nil {
			return nil, fmt.Errorf("failed to parse schema descriptor %s: %w", entry.Name(), err)
		}

		if err := registry.Register(&entityType); err != nil {
			return nil, fmt.Errorf("failed to register entity type from %s: %w", entry.Name(), err)
		}
	}

	return registry, nil
}

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SetValue replaces or adds the top-level key of the YAML file at path,
// creating the file when it does not exist. Other keys are kept, but
// comments and ordering are not.
func SetValue(path, key string, value any) error {
	content, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to read file: %w", err)
	}

	var data map[string]any
	if len(content) > 0 {
		if err := yaml.Unmarshal(content, &data); err != nil {
			return fmt.Errorf("failed to parse YAML: %w", err)
		}
	}
	if data == nil {
		data = make(map[string]any)
	}

	data[key] = value

	updated, err := yaml.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal YAML: %w", err)
	}

	return os.WriteFile(path, updated, 0600)
}

// DeleteValue removes a top-level key from the YAML file at path.
func DeleteValue(path, key string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	var data map[string]any
	if err := yaml.Unmarshal(content, &data); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	if _, ok := data[key]; !ok {
		return nil
	}
	delete(data, key)
	updated, err := yaml.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal YAML: %w", err)
	}
	return os.WriteFile(path, updated, 0600)
}

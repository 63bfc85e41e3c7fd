// Package fileutil provides common file I/O utilities for YAML operations.
package fileutil

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ReadYAML reads a YAML file and unmarshals it into the provided value.
// The value must be a pointer to the target type.
func ReadYAML(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}

// WriteYAML writes a value to a YAML file.
// This is a simple write operation without atomicity guarantees.
func WriteYAML(path string, v any, perm os.FileMode) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal YAML: %w", err)
	}
	if err := os.WriteFile(path, data, perm); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

// WriteYAMLAtomic writes a value to a YAML file atomically.
// It writes to a temporary file, syncs to disk, then renames to the target path.
// This ensures the file is either fully written or not modified at all.
func WriteYAMLAtomic(path string, v any, perm os.FileMode) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal YAML: %w", err)
	}

	// Write to temp file first
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, perm); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	// Sync to ensure data is on disk before rename
	f, err := os.Open(tmpPath)
	if err == nil {
		_ = f.Sync()
		f.Close()
	}

	// Atomic rename
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath) // Clean up temp file
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

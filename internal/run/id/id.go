// Package id provides unique identifier generation for hydration runs.
package id

import "github.com/google/uuid"

// Prefix marks every run identifier.
const Prefix = "run-"

// Generate creates a new unique run ID.
// Example: run-9b2f4c1e-3a7d-4f6b-8c1d-2e5f6a7b8c9d
func Generate() string {
	return Prefix + uuid.NewString()
}

// Valid reports whether s looks like an ID produced by Generate.
func Valid(s string) bool {
	if len(s) <= len(Prefix) || s[:len(Prefix)] != Prefix {
		return false
	}
	_, err := uuid.Parse(s[len(Prefix):])
	return err == nil
}

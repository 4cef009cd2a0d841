// Package id provides unique identifier generation for poll sessions and
// archived media.
package id

import "github.com/google/uuid"

// Generate creates a new unique ID with the given prefix.
// Format: <prefix>-<uuid>
// Example: session-3f1c2d9e-8a41-4b0e-9d55-0c8f7b1e2a10
func Generate(prefix string) string {
	if prefix == "" {
		return uuid.NewString()
	}
	return prefix + "-" + uuid.NewString()
}

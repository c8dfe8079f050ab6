// Package blob provides the capability contract over blob storage used to
// stage bootstrap scripts and resource files for pool nodes.
package blob

import (
	"io"
	"time"
)

// Store stages files in blob storage and signs read-only URLs for node
// resource files. The legacy storage client is synchronous, so these
// operations carry no context.
type Store interface {
	// EnsureContainer creates the container when missing.
	EnsureContainer(container string) error
	// Upload writes the blob, replacing any existing content.
	Upload(container, name string, r io.Reader) error
	// SignedURL returns a read-only SAS URL valid for the given lifetime.
	SignedURL(container, name string, lifetime time.Duration) (string, error)
	// Delete removes the blob if present.
	Delete(container, name string) error
	// List returns the names of blobs under the prefix.
	List(container, prefix string) ([]string, error)
}

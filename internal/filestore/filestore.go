package filestore

import (
	"io"
)

// FileStore is a content-addressed store for uploaded pictures.
type FileStore interface {
	// Save stores the content and returns its hex sha256 hash.
	// Saving the same bytes twice is a no-op that returns the same hash.
	Save(r io.Reader) (string, error)

	// Get retrieves the content for the given hash.
	Get(hash string) (io.ReadCloser, error)
}

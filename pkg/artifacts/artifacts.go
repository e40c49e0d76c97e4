// Package artifacts provides read access to result artifact files
// stored in a backend (local filesystem or S3), plus the text decoding
// used to turn artifact bytes into line sequences for diffing.
package artifacts

import (
	"context"
	"errors"
)

// Sentinel errors surfaced to callers so a UI can distinguish a
// missing artifact from a corrupted one.
var (
	// ErrNotFound means the named artifact does not exist in the
	// backend.
	ErrNotFound = errors.New("artifact not found")

	// ErrDecoding means the artifact's bytes could not be decoded with
	// any supported text encoding, which indicates on-disk corruption.
	ErrDecoding = errors.New("artifact text decoding failed")
)

// Reader provides read access to artifact files without exposing the
// underlying storage details.
type Reader interface {
	// GetArtifact reads the full content of a named artifact.
	// Returns ErrNotFound when the artifact does not exist.
	GetArtifact(ctx context.Context, name string) ([]byte, error)
}

package artifacts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/testplatform/runtrackr/pkg/config"
)

// Compile-time interface check.
var _ Reader = (*localReader)(nil)

type localReader struct {
	baseDir string
}

// NewLocalReader creates a Reader backed by a local filesystem
// directory.
func NewLocalReader(cfg *config.LocalArtifactsConfig) Reader {
	return &localReader{baseDir: cfg.BaseDir}
}

// GetArtifact reads {baseDir}/{name}. Returns ErrNotFound when the
// file does not exist.
func (r *localReader) GetArtifact(
	_ context.Context, name string,
) ([]byte, error) {
	// Reject traversal outside the base directory.
	cleaned := filepath.Clean("/" + name)
	if strings.Contains(cleaned, "..") {
		return nil, fmt.Errorf("invalid artifact name: %q", name)
	}

	p := filepath.Join(r.baseDir, cleaned)

	data, err := os.ReadFile(p) //nolint:gosec // base dir from trusted config
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}

		return nil, fmt.Errorf("reading artifact %s: %w", name, err)
	}

	return data, nil
}

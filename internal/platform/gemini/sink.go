package gemini

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// ArtifactSink stores generated output and returns a reference to it.
type ArtifactSink interface {
	Put(ctx context.Context, requestID uuid.UUID, mimeType string, data []byte) (string, error)
}

var extensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/webp": ".webp",
}

// FileSink writes artifacts into a directory named after the request ID.
type FileSink struct {
	fs  afero.Fs
	dir string
}

var _ ArtifactSink = (*FileSink)(nil)

// NewFileSink creates dir on fs if needed.
func NewFileSink(fs afero.Fs, dir string) (*FileSink, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory %s: %w", dir, err)
	}
	return &FileSink{fs: fs, dir: dir}, nil
}

// Put writes data to <dir>/<requestID><ext> and returns that path.
func (s *FileSink) Put(_ context.Context, requestID uuid.UUID, mimeType string, data []byte) (string, error) {
	ext, ok := extensions[mimeType]
	if !ok {
		ext = ".bin"
	}
	name := filepath.Join(s.dir, requestID.String()+ext)
	if err := afero.WriteFile(s.fs, name, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write artifact for %s: %w", requestID, err)
	}
	return filepath.ToSlash(name), nil
}

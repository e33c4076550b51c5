package audio

import (
	"context"
	"os"
	"path/filepath"
)

// Loader reads a clip payload from backing storage. Implementations
// must be safe for concurrent use; the cache calls Load from multiple
// goroutines during preload.
type Loader interface {
	Load(ctx context.Context, source string) ([]byte, error)
}

// FileLoader loads clip payloads from a directory tree. Source
// locators are paths relative to Root.
type FileLoader struct {
	Root string
}

// Load reads the payload for the given source locator. The cache maps
// failures into the engine error taxonomy; the raw error is returned
// here.
func (l FileLoader) Load(ctx context.Context, source string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return os.ReadFile(filepath.Join(l.Root, filepath.Clean(source)))
}

package pipeline

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// ResourceManager owns one pipeline's scratch directory tree. Dispose is
// called from the pipeline's terminating path whether it exits normally or
// not, so it never propagates errors.
type ResourceManager struct {
	root   string
	logger *slog.Logger
}

// NewResourceManager creates the per-task scratch directory under workDir.
// The directory name carries a random suffix so a redelivered task never
// collides with leftovers from a crashed run.
func NewResourceManager(workDir, taskID string, logger *slog.Logger) (*ResourceManager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	root := filepath.Join(workDir, taskID+"-"+uuid.NewString()[:8])
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create scratch directory: %w", err)
	}
	return &ResourceManager{root: root, logger: logger}, nil
}

// Root returns the scratch directory path.
func (r *ResourceManager) Root() string {
	return r.root
}

// Subdir creates and returns a named directory inside the scratch tree.
func (r *ResourceManager) Subdir(name string) (string, error) {
	dir := filepath.Join(r.root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create scratch subdirectory %s: %w", name, err)
	}
	return dir, nil
}

// Dispose removes the scratch tree. Not-found is silent; permission errors
// are logged and swallowed.
func (r *ResourceManager) Dispose() {
	err := os.RemoveAll(r.root)
	switch {
	case err == nil, errors.Is(err, fs.ErrNotExist):
	case errors.Is(err, fs.ErrPermission):
		r.logger.Error("Cannot remove scratch directory, permission denied",
			"path", r.root,
			"error", err)
	default:
		r.logger.Warn("Scratch directory cleanup failed",
			"path", r.root,
			"error", err)
	}
}

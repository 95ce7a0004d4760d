package files

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrOutsideRoot is returned for paths that do not belong to the store.
var ErrOutsideRoot = errors.New("path outside file store")

// LocalStore keeps uploaded attachments under a directory, one subdirectory
// per session.
type LocalStore struct {
	root   string
	now    func() time.Time
	logger *zap.Logger
}

// NewLocalStore creates the root directory if needed
func NewLocalStore(root string, logger *zap.Logger) (*LocalStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve file store root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create file store root: %w", err)
	}
	return &LocalStore{
		root:   abs,
		now:    time.Now,
		logger: logger.With(zap.String("component", "files")),
	}, nil
}

// Save writes data and returns its path. Names are prefixed with a short
// random id so repeated uploads of the same name do not collide.
func (s *LocalStore) Save(ctx context.Context, sessionID, name string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	dir := filepath.Join(s.root, filepath.Base(sessionID))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create session directory: %w", err)
	}

	base := filepath.Base(name)
	if base == "." || base == string(filepath.Separator) {
		base = "upload"
	}
	path := filepath.Join(dir, uuid.NewString()[:8]+"-"+base)
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}

	s.logger.Debug("File stored",
		zap.String("sessionID", sessionID),
		zap.String("path", path),
		zap.Int("size", len(data)))
	return path, nil
}

// Read returns the content of a stored file
func (s *LocalStore) Read(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !s.contains(path) {
		return nil, fmt.Errorf("%w: %s", ErrOutsideRoot, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return data, nil
}

func (s *LocalStore) contains(path string) bool {
	rel, err := filepath.Rel(s.root, filepath.Clean(path))
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Prune removes files older than maxAge and returns how many were removed.
// Empty session directories are removed too.
func (s *LocalStore) Prune(maxAge time.Duration) (int, error) {
	cutoff := s.now().Add(-maxAge)
	removed := 0

	err := filepath.WalkDir(s.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err == nil {
				removed++
			}
		}
		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("failed to prune files: %w", err)
	}

	entries, _ := os.ReadDir(s.root)
	for _, e := range entries {
		if e.IsDir() {
			// Fails harmlessly when the directory still has files.
			_ = os.Remove(filepath.Join(s.root, e.Name()))
		}
	}

	if removed > 0 {
		s.logger.Info("Pruned stored files", zap.Int("removed", removed))
	}
	return removed, nil
}

// Package workspace allocates per-submission scratch directories on the host.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cmusv-gradiatorx/dynamic-analysis-service/internal/domain/submission"
	"github.com/cmusv-gradiatorx/dynamic-analysis-service/internal/ports"
)

const (
	archiveDirName = "archive"
	resultsDirName = "results"
	scratchDirName = "extract"
)

var _ ports.WorkspaceManager = (*Manager)(nil)

// Manager creates workspaces under a single root directory.
type Manager struct {
	root   string
	logger *zap.Logger
}

// NewManager prepares root for use. The directory is created if missing.
func NewManager(root string, logger *zap.Logger) (*Manager, error) {
	if root == "" {
		return nil, fmt.Errorf("workspace root must be provided")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{root: abs, logger: logger}, nil
}

// Root returns the absolute directory that holds every workspace.
func (m *Manager) Root() string {
	return m.root
}

// Acquire allocates a fresh workspace for submissionID. The caller owns the
// returned workspace and must Release it exactly once.
func (m *Manager) Acquire(submissionID string) (ports.Workspace, error) {
	if err := submission.ValidateID(submissionID); err != nil {
		return nil, err
	}

	dir := filepath.Join(m.root, submissionID+"-"+uuid.NewString()[:8])
	ws := &Workspace{
		id:     submissionID,
		root:   dir,
		logger: m.logger.With(zap.String("submission_id", submissionID)),
	}

	for _, sub := range []string{archiveDirName, resultsDirName, scratchDirName} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			_ = os.RemoveAll(dir)
			return nil, fmt.Errorf("create workspace %s: %w", sub, err)
		}
	}

	ws.logger.Debug("workspace allocated", zap.String("path", dir))
	return ws, nil
}

// Workspace is the filesystem scope owned by a single submission.
type Workspace struct {
	id      string
	root    string
	logger  *zap.Logger
	release sync.Once
}

func (w *Workspace) Root() string { return w.root }

// ArchivePath is where the submission archive is persisted.
func (w *Workspace) ArchivePath() string {
	return filepath.Join(w.root, archiveDirName, submission.ArchiveFilename(w.id))
}

// ResultsDir receives extracted or synthesized result artifacts.
func (w *Workspace) ResultsDir() string {
	return filepath.Join(w.root, resultsDirName)
}

// ScratchDir holds temporary files used while extracting results.
func (w *Workspace) ScratchDir() string {
	return filepath.Join(w.root, scratchDirName)
}

// WriteArchive persists the submission payload. The file is world-readable so
// the container user can read it through the bind mount.
func (w *Workspace) WriteArchive(data []byte) error {
	if err := os.WriteFile(w.ArchivePath(), data, 0o644); err != nil {
		return fmt.Errorf("write archive: %w", err)
	}
	return nil
}

// Release removes the workspace from disk. Only the first call has an effect;
// removal failures are logged and never returned.
func (w *Workspace) Release() {
	w.release.Do(func() {
		if err := os.RemoveAll(w.root); err != nil {
			w.logger.Warn("failed to remove workspace", zap.String("path", w.root), zap.Error(err))
			return
		}
		w.logger.Debug("workspace released", zap.String("path", w.root))
	})
}

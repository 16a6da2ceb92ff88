package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/remendlabs/remend/internal/checkpoint"

var (
	// ErrNoRepository means the working directory is not inside a git
	// repository, so no snapshot mechanism is available.
	ErrNoRepository = errors.New("checkpoint: working directory is not a git repository")

	// ErrRestoreFailed wraps any restore failure. After it the tree may be
	// in a mixed state and no further automated mutation can be trusted.
	ErrRestoreFailed = errors.New("checkpoint: restore failed")
)

// Checkpoint is a restorable record of the working tree at one instant.
// The manifest is deliberately opaque to callers.
type Checkpoint struct {
	ID        string
	CreatedAt time.Time
	Branch    string
	Files     int

	manifest map[string]fileEntry
}

type fileEntry struct {
	hash plumbing.Hash
	mode os.FileMode
}

// Manager snapshots and restores working-tree state.
type Manager interface {
	// Snapshot records the current tree. The returned checkpoint stays
	// valid until the next Snapshot call supersedes it.
	Snapshot(ctx context.Context) (*Checkpoint, error)

	// Restore rewrites the tree to exactly the checkpointed content,
	// removing files created since. Idempotent.
	Restore(ctx context.Context, cp *Checkpoint) error
}

type gitManager struct {
	root   string
	repo   *git.Repository
	logger *zap.Logger

	snapshotsTotal metric.Int64Counter
	restoresTotal  metric.Int64Counter
	snapshotFiles  metric.Int64Histogram
}

// NewManager opens the repository containing root. A nil logger falls back
// to a no-op.
func NewManager(root string, logger *zap.Logger) (Manager, error) {
	if root == "" {
		return nil, errors.New("checkpoint: working directory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: resolving %s: %w", root, err)
	}

	repo, err := git.PlainOpen(abs)
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, fmt.Errorf("%w: %s", ErrNoRepository, abs)
		}
		return nil, fmt.Errorf("checkpoint: opening repository at %s: %w", abs, err)
	}

	m := &gitManager{
		root:   abs,
		repo:   repo,
		logger: logger.Named("checkpoint"),
	}
	m.initMetrics()
	return m, nil
}

func (m *gitManager) initMetrics() {
	meter := otel.Meter(instrumentationName)
	var err error

	m.snapshotsTotal, err = meter.Int64Counter("remend.checkpoint.snapshots_total",
		metric.WithDescription("Total working-tree snapshots taken"),
		metric.WithUnit("{snapshot}"))
	if err != nil {
		m.logger.Warn("failed to create snapshots counter", zap.Error(err))
	}

	m.restoresTotal, err = meter.Int64Counter("remend.checkpoint.restores_total",
		metric.WithDescription("Total working-tree restores performed"),
		metric.WithUnit("{restore}"))
	if err != nil {
		m.logger.Warn("failed to create restores counter", zap.Error(err))
	}

	m.snapshotFiles, err = meter.Int64Histogram("remend.checkpoint.snapshot_files",
		metric.WithDescription("Files captured per snapshot"),
		metric.WithUnit("{file}"))
	if err != nil {
		m.logger.Warn("failed to create snapshot files histogram", zap.Error(err))
	}
}

func (m *gitManager) Snapshot(ctx context.Context) (*Checkpoint, error) {
	tracer := otel.Tracer(instrumentationName)
	ctx, span := tracer.Start(ctx, "checkpoint.snapshot")
	defer span.End()

	matcher := m.ignoreMatcher()
	manifest := make(map[string]fileEntry)

	err := filepath.WalkDir(m.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(m.root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		parts := strings.Split(filepath.ToSlash(rel), "/")

		if d.IsDir() {
			if d.Name() == git.GitDirName {
				return filepath.SkipDir
			}
			if matcher.Match(parts, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if matcher.Match(parts, false) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			// Symlinks, sockets and the like are not snapshotted.
			m.logger.Debug("skipping non-regular file", zap.String("path", rel))
			return nil
		}

		hash, err := m.storeBlob(path)
		if err != nil {
			return fmt.Errorf("storing %s: %w", rel, err)
		}
		manifest[filepath.ToSlash(rel)] = fileEntry{hash: hash, mode: info.Mode().Perm()}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "snapshot walk failed")
		return nil, fmt.Errorf("checkpoint: snapshot of %s: %w", m.root, err)
	}

	cp := &Checkpoint{
		ID:        uuid.NewString(),
		CreatedAt: time.Now(),
		Branch:    m.currentBranch(),
		Files:     len(manifest),
		manifest:  manifest,
	}

	span.SetAttributes(
		attribute.String("checkpoint.id", cp.ID),
		attribute.Int("checkpoint.files", cp.Files),
	)
	if m.snapshotsTotal != nil {
		m.snapshotsTotal.Add(ctx, 1)
	}
	if m.snapshotFiles != nil {
		m.snapshotFiles.Record(ctx, int64(cp.Files))
	}
	m.logger.Debug("snapshot taken",
		zap.String("checkpoint_id", cp.ID),
		zap.Int("files", cp.Files),
		zap.String("branch", cp.Branch))
	return cp, nil
}

func (m *gitManager) Restore(ctx context.Context, cp *Checkpoint) error {
	tracer := otel.Tracer(instrumentationName)
	ctx, span := tracer.Start(ctx, "checkpoint.restore")
	defer span.End()

	if cp == nil || cp.manifest == nil {
		err := fmt.Errorf("%w: nil checkpoint", ErrRestoreFailed)
		span.RecordError(err)
		return err
	}

	if err := m.removeAddedFiles(ctx, cp); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "restore failed")
		return fmt.Errorf("%w: %v", ErrRestoreFailed, err)
	}
	if err := m.materialize(ctx, cp); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "restore failed")
		return fmt.Errorf("%w: %v", ErrRestoreFailed, err)
	}
	m.pruneEmptyDirs()

	span.SetAttributes(attribute.String("checkpoint.id", cp.ID))
	if m.restoresTotal != nil {
		m.restoresTotal.Add(ctx, 1)
	}
	m.logger.Info("working tree restored",
		zap.String("checkpoint_id", cp.ID),
		zap.Int("files", cp.Files))
	return nil
}

// removeAddedFiles deletes non-ignored files that are absent from the
// checkpoint manifest.
func (m *gitManager) removeAddedFiles(ctx context.Context, cp *Checkpoint) error {
	matcher := m.ignoreMatcher()

	return filepath.WalkDir(m.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(m.root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		parts := strings.Split(filepath.ToSlash(rel), "/")

		if d.IsDir() {
			if d.Name() == git.GitDirName {
				return filepath.SkipDir
			}
			if matcher.Match(parts, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if matcher.Match(parts, false) {
			return nil
		}
		if _, ok := cp.manifest[filepath.ToSlash(rel)]; ok {
			return nil
		}

		m.logger.Debug("removing file added after snapshot", zap.String("path", rel))
		return os.Remove(path)
	})
}

// materialize writes every manifest entry back to disk, skipping files
// whose content and mode already match.
func (m *gitManager) materialize(ctx context.Context, cp *Checkpoint) error {
	paths := make([]string, 0, len(cp.manifest))
	for rel := range cp.manifest {
		paths = append(paths, rel)
	}
	sort.Strings(paths)

	for _, rel := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		entry := cp.manifest[rel]
		abs := filepath.Join(m.root, filepath.FromSlash(rel))

		if current, err := os.ReadFile(abs); err == nil {
			if plumbing.ComputeHash(plumbing.BlobObject, current) == entry.hash {
				if info, err := os.Stat(abs); err == nil && info.Mode().Perm() == entry.mode {
					continue
				}
				if err := os.Chmod(abs, entry.mode); err != nil {
					return fmt.Errorf("restoring mode of %s: %w", rel, err)
				}
				continue
			}
		}

		content, err := m.readBlob(entry.hash)
		if err != nil {
			return fmt.Errorf("reading blob for %s: %w", rel, err)
		}
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return fmt.Errorf("recreating directory for %s: %w", rel, err)
		}
		if err := os.WriteFile(abs, content, entry.mode); err != nil {
			return fmt.Errorf("rewriting %s: %w", rel, err)
		}
		if err := os.Chmod(abs, entry.mode); err != nil {
			return fmt.Errorf("restoring mode of %s: %w", rel, err)
		}
	}
	return nil
}

// pruneEmptyDirs removes directories left empty by removeAddedFiles. Empty
// directories carry no content, so dropping them keeps restore aligned with
// what git itself would reproduce.
func (m *gitManager) pruneEmptyDirs() {
	var dirs []string
	_ = filepath.WalkDir(m.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil //nolint:nilerr // best-effort cleanup
		}
		if d.Name() == git.GitDirName {
			return filepath.SkipDir
		}
		if path != m.root {
			dirs = append(dirs, path)
		}
		return nil
	})

	// Deepest first so nested empties collapse upward.
	sort.Slice(dirs, func(i, j int) bool { return len(dirs[i]) > len(dirs[j]) })
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err == nil && len(entries) == 0 {
			_ = os.Remove(dir)
		}
	}
}

func (m *gitManager) storeBlob(path string) (plumbing.Hash, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return plumbing.ZeroHash, err
	}

	hash := plumbing.ComputeHash(plumbing.BlobObject, content)
	if err := m.repo.Storer.HasEncodedObject(hash); err == nil {
		return hash, nil
	}

	obj := m.repo.Storer.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	w, err := obj.Writer()
	if err != nil {
		return plumbing.ZeroHash, err
	}
	if _, err := w.Write(content); err != nil {
		w.Close() //nolint:errcheck
		return plumbing.ZeroHash, err
	}
	if err := w.Close(); err != nil {
		return plumbing.ZeroHash, err
	}
	return m.repo.Storer.SetEncodedObject(obj)
}

func (m *gitManager) readBlob(hash plumbing.Hash) ([]byte, error) {
	blob, err := m.repo.BlobObject(hash)
	if err != nil {
		return nil, err
	}
	r, err := blob.Reader()
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// currentBranch returns the short branch name, empty for detached HEAD or
// an unborn repository.
func (m *gitManager) currentBranch() string {
	head, err := m.repo.Head()
	if err != nil {
		return ""
	}
	if !head.Name().IsBranch() {
		return ""
	}
	return head.Name().Short()
}

func (m *gitManager) ignoreMatcher() gitignore.Matcher {
	wt, err := m.repo.Worktree()
	if err != nil {
		return gitignore.NewMatcher(nil)
	}
	patterns, err := gitignore.ReadPatterns(wt.Filesystem, nil)
	if err != nil {
		m.logger.Warn("failed to read gitignore patterns", zap.Error(err))
		return gitignore.NewMatcher(nil)
	}
	return gitignore.NewMatcher(patterns)
}

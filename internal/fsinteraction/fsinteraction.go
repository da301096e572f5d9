// Package fsinteraction implements exclusive lock acquisition on a data
// store root, content hashing, and filtered directory indexing (§4.4). It
// sits directly on top of a vfs.VFS implementation.
package fsinteraction

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/data-squirrel/internal/relpath"
	"github.com/tonimelisma/data-squirrel/internal/vfs"
)

// On-disk layout constants (§6).
const (
	MetadataDirName = ".__data_squirrel__"
	LockFileName    = ".lock"
	DBFileName      = "metadata.db"
	PendingDirName  = "pending"
)

// hashWorkers bounds concurrent hashing during IndexDirectory.
const hashWorkers = 4

// Sentinel errors forming FSInteractionError (§7).
var (
	ErrAlreadyLocked           = errors.New("fsinteraction: store root is already locked")
	ErrMetadataDirAlreadyExists = errors.New("fsinteraction: metadata directory already exists")
	ErrMetadataDirNotOpened     = errors.New("fsinteraction: metadata directory does not exist")
	ErrSoftLinksForbidden       = errors.New("fsinteraction: symbolic links are not followed")
)

// IndexedEntry is one entry discovered by IndexDirectory: a relative path,
// its metadata (nil if unreadable), and any issues preventing normal
// indexing (duplicate name, symlink, unsupported type).
type IndexedEntry struct {
	RelPath  relpath.RelativePath
	Metadata *vfs.Metadata
	Issues   []vfs.Issue
}

// FSInteraction wraps a VFS with the lock, hash, and indexing
// responsibilities every data store needs regardless of which VFS backs it.
type FSInteraction struct {
	vfs    vfs.VFS
	root   string
	locker Locker
	logger *slog.Logger
}

// New wraps vfsImpl with FSInteraction responsibilities. root is a
// diagnostic label (the store's root path) used in log lines and error
// messages, not necessarily a native filesystem path.
func New(vfsImpl vfs.VFS, locker Locker, root string, logger *slog.Logger) *FSInteraction {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &FSInteraction{vfs: vfsImpl, root: root, locker: locker, logger: logger}
}

// Create initializes a new data store at the root: the metadata directory
// must not already exist. Fails if the root is already locked.
func (fi *FSInteraction) Create(ctx context.Context, owner string) error {
	metaDir := relpath.MustFromPath(MetadataDirName)

	if _, err := fi.vfs.Metadata(ctx, metaDir); err == nil {
		return ErrMetadataDirAlreadyExists
	}

	if err := fi.vfs.CreateDir(ctx, metaDir, false); err != nil {
		return fmt.Errorf("fsinteraction: creating metadata directory: %w", err)
	}

	if err := fi.vfs.CreateDir(ctx, metaDir.Join(PendingDirName), false); err != nil {
		return fmt.Errorf("fsinteraction: creating pending directory: %w", err)
	}

	return fi.lock(owner)
}

// Open attaches to an existing data store: the metadata directory must
// already exist. Fails if the root is already locked.
func (fi *FSInteraction) Open(ctx context.Context, owner string) error {
	metaDir := relpath.MustFromPath(MetadataDirName)

	if _, err := fi.vfs.Metadata(ctx, metaDir); err != nil {
		return ErrMetadataDirNotOpened
	}

	return fi.lock(owner)
}

func (fi *FSInteraction) lock(owner string) error {
	if err := fi.locker.TryLock(owner); err != nil {
		return err
	}

	fi.logger.Debug("store root locked", "root", fi.root)

	return nil
}

// Close releases the exclusive lock. Failure to release is fatal (§4.4):
// callers should treat a non-nil error as unrecoverable for this process.
func (fi *FSInteraction) Close() error {
	if err := fi.locker.Unlock(); err != nil {
		return fmt.Errorf("fsinteraction: failed to release lock (fatal): %w", err)
	}

	fi.logger.Debug("store root unlocked", "root", fi.root)

	return nil
}

// DBPath returns the relative path to the metadata database file.
func DBPath() relpath.RelativePath {
	return relpath.MustFromPath(MetadataDirName).Join(DBFileName)
}

// PendingPath returns the relative path to the staging directory used for
// in-progress file transfers.
func PendingPath() relpath.RelativePath {
	return relpath.MustFromPath(MetadataDirName).Join(PendingDirName)
}

// ReadFile opens relPath for a streaming read, used by the sync engine to
// transfer a sender's file content to a receiving store.
func (fi *FSInteraction) ReadFile(ctx context.Context, relPath relpath.RelativePath) (io.ReadCloser, error) {
	return fi.vfs.ReadFile(ctx, relPath)
}

// Stat returns relPath's current on-disk metadata, used by status reporting
// to size a file without going through a full scan.
func (fi *FSInteraction) Stat(ctx context.Context, relPath relpath.RelativePath) (vfs.Metadata, error) {
	return fi.vfs.Metadata(ctx, relPath)
}

// Hash computes the SHA-256 digest of path's content via a streaming read.

func (fi *FSInteraction) Hash(ctx context.Context, relPath relpath.RelativePath) (string, error) {
	r, err := fi.vfs.ReadFile(ctx, relPath)
	if err != nil {
		return "", fmt.Errorf("fsinteraction: opening %q for hashing: %w", relPath, err)
	}
	defer r.Close()

	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("fsinteraction: hashing %q: %w", relPath, err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// IndexDirectory lists dirPath's immediate children, filtering the metadata
// subdirectory (when dirPath is the root) and flagging duplicates
// (case-insensitive name collisions) and symlinks. It does not recurse;
// callers (the scan engine) drive recursion themselves so they can apply
// inclusion rules and clock bumps per level.
func (fi *FSInteraction) IndexDirectory(ctx context.Context, dirPath relpath.RelativePath) ([]IndexedEntry, error) {
	entries, err := fi.vfs.ListDir(ctx, dirPath)
	if err != nil {
		return nil, fmt.Errorf("fsinteraction: listing %q: %w", dirPath, err)
	}

	lowerCounts := make(map[string]int, len(entries))

	for _, e := range entries {
		if dirPath.IsRoot() && strings.EqualFold(e.Name, MetadataDirName) {
			continue
		}

		lowerCounts[strings.ToLower(e.Name)]++
	}

	out := make([]IndexedEntry, 0, len(entries))

	for _, e := range entries {
		if dirPath.IsRoot() && strings.EqualFold(e.Name, MetadataDirName) {
			continue
		}

		relPath := dirPath.Join(e.Name)
		issues := append([]vfs.Issue(nil), e.Issues...)

		if lowerCounts[strings.ToLower(e.Name)] > 1 {
			issues = append(issues, vfs.Issue{
				Kind:    vfs.IssueDuplicate,
				Path:    relPath,
				Message: fmt.Sprintf("name %q collides case-insensitively with a sibling", e.Name),
			})
		}

		out = append(out, IndexedEntry{RelPath: relPath, Metadata: e.Metadata, Issues: issues})
	}

	return out, nil
}

// HashBatch computes SHA-256 digests for a batch of files concurrently,
// bounded by hashWorkers, returning a path->hash map. A failure to hash any
// one file aborts the batch and cancels the rest (errgroup.WithContext).
func (fi *FSInteraction) HashBatch(ctx context.Context, paths []relpath.RelativePath) (map[string]string, error) {
	results := make(map[string]string, len(paths))

	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(hashWorkers)

	for _, p := range paths {
		p := p

		g.Go(func() error {
			hash, err := fi.Hash(gctx, p)
			if err != nil {
				return err
			}

			mu.Lock()
			results[path.Join(p.Components()...)] = hash
			mu.Unlock()

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}

// StageAndCommit writes r's bytes to a fresh staging file under the
// metadata directory's pending/ subdirectory, then renames it into place at
// relPath and stamps the on-disk modification time, completing the
// transfer boundary of §4.7.4 ("write to a staging file... then rename into
// place"). Any pre-existing file at relPath is replaced.
func (fi *FSInteraction) StageAndCommit(ctx context.Context, relPath relpath.RelativePath, r io.Reader, modTime time.Time, readOnly bool) error {
	staging := PendingPath().Join(uuid.NewString())

	w, err := fi.vfs.CreateFile(ctx, staging)
	if err != nil {
		return fmt.Errorf("fsinteraction: creating staging file for %q: %w", relPath, err)
	}

	if _, err := io.Copy(w, r); err != nil {
		w.Close() //nolint:errcheck
		return fmt.Errorf("fsinteraction: writing staging file for %q: %w", relPath, err)
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("fsinteraction: closing staging file for %q: %w", relPath, err)
	}

	if _, err := fi.vfs.Metadata(ctx, relPath); err == nil {
		if err := fi.vfs.RemoveFile(ctx, relPath); err != nil {
			return fmt.Errorf("fsinteraction: removing prior %q before commit: %w", relPath, err)
		}
	}

	if err := fi.vfs.Rename(ctx, staging, relPath); err != nil {
		return fmt.Errorf("fsinteraction: committing %q: %w", relPath, err)
	}

	if err := fi.vfs.UpdateMetadata(ctx, relPath, modTime, readOnly); err != nil {
		return fmt.Errorf("fsinteraction: stamping mod time on %q: %w", relPath, err)
	}

	return nil
}

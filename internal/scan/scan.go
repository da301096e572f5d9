// Package scan implements the full filesystem scan (§4.6): a recursive walk
// of a data store's on-disk tree that reconciles every file and folder
// against the metadata database, creating tombstones for anything that has
// disappeared on disk.
package scan

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tonimelisma/data-squirrel/internal/fsinteraction"
	"github.com/tonimelisma/data-squirrel/internal/metadatadb"
	"github.com/tonimelisma/data-squirrel/internal/relpath"
	"github.com/tonimelisma/data-squirrel/internal/vfs"
)

// Result tallies a completed scan: indexed is every file/folder visited,
// changed is how many of those produced a metadata write, new is how many
// were previously unknown to the database, deleted is how many on-disk-
// missing items were converted to tombstones. Issues collects every
// unresolvable entry (symlinks, duplicates, stat failures, bitrot) found
// along the way; a scan with issues still completes.
type Result struct {
	Indexed int
	Changed int
	New     int
	Deleted int
	Issues  []vfs.Issue
}

// Scanner performs full scans of one open data store.
type Scanner struct {
	fs           *fsinteraction.FSInteraction
	db           *metadatadb.MetadataDB
	detectBitrot bool
	logger       *slog.Logger
}

// New builds a Scanner over an already-opened store. detectBitrot enables
// the optional re-hash-on-unchanged-times check of §4.6.
func New(fi *fsinteraction.FSInteraction, db *metadatadb.MetadataDB, detectBitrot bool, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Scanner{fs: fi, db: db, detectBitrot: detectBitrot, logger: logger}
}

// PerformFullScan walks the store root to completion, returning the
// accumulated Result. A filesystem error aborts the scan; per-entry issues
// (symlinks, duplicates, bitrot) do not.
func (s *Scanner) PerformFullScan(ctx context.Context) (Result, error) {
	var result Result

	store, err := s.db.LocalStore(ctx)
	if err != nil {
		return result, fmt.Errorf("scan: %w", err)
	}

	rules, err := s.db.ListInclusionRules(ctx, store.ID)
	if err != nil {
		return result, fmt.Errorf("scan: loading inclusion rules: %w", err)
	}

	if err := s.walk(ctx, relpath.Root(), rules, &result); err != nil {
		return result, fmt.Errorf("scan: %w", err)
	}

	return result, nil
}

// walk visits dir's on-disk children, skipping anything the §4.5.9/§4.8
// inclusion rules exclude — an excluded entry is left out of onDisk just
// like a genuinely absent one, so removeMissingChildren tombstones any
// stale DB record for it the same way it would a deletion.
func (s *Scanner) walk(ctx context.Context, dir relpath.RelativePath, rules []metadatadb.InclusionRule, result *Result) error {
	entries, err := s.fs.IndexDirectory(ctx, dir)
	if err != nil {
		return fmt.Errorf("listing %q: %w", dir, err)
	}

	onDisk := make(map[string]bool, len(entries))

	for _, e := range entries {
		if len(e.Issues) > 0 {
			result.Issues = append(result.Issues, e.Issues...)
			continue
		}

		if !metadatadb.EvaluateInclusion(rules, e.RelPath) {
			continue
		}

		onDisk[e.RelPath.Name()] = true
		result.Indexed++

		switch e.Metadata.FileType {
		case vfs.File:
			if err := s.visitFile(ctx, e.RelPath, *e.Metadata, result); err != nil {
				return err
			}

		case vfs.Folder:
			if err := s.visitFolder(ctx, e.RelPath, *e.Metadata, result); err != nil {
				return err
			}

			if err := s.walk(ctx, e.RelPath, rules, result); err != nil {
				return err
			}

		case vfs.Symlink:
			result.Issues = append(result.Issues, vfs.Issue{
				Kind:    vfs.IssueSkipLink,
				Path:    e.RelPath,
				Message: "symbolic links are not followed",
			})

		default:
			result.Issues = append(result.Issues, vfs.Issue{
				Kind:    vfs.IssueUnsupportedType,
				Path:    e.RelPath,
				Message: fmt.Sprintf("unsupported entry type %s", e.Metadata.FileType),
			})
		}
	}

	return s.removeMissingChildren(ctx, dir, onDisk, result)
}

func (s *Scanner) visitFile(ctx context.Context, p relpath.RelativePath, md vfs.Metadata, result *Result) error {
	existing, err := s.db.LookupLocalItem(ctx, p)
	if err != nil {
		return fmt.Errorf("looking up %q: %w", p, err)
	}

	isNew := existing == nil || existing.FS == nil

	timesMatch := !isNew &&
		existing.FS.CreationTime.Equal(md.CreationTime) &&
		existing.FS.ModTime.Equal(md.ModTime)

	if timesMatch && !s.detectBitrot {
		return nil
	}

	hash, err := s.fs.Hash(ctx, p)
	if err != nil {
		return fmt.Errorf("hashing %q: %w", p, err)
	}

	if timesMatch && s.detectBitrot && existing.FS.ContentHash != "" && hash != existing.FS.ContentHash {
		result.Issues = append(result.Issues, vfs.Issue{
			Kind:    vfs.IssueBitRot,
			Path:    p,
			Message: "content hash changed with unchanged modification times",
		})
	}

	if timesMatch {
		return nil
	}

	changed, err := s.db.UpdateLocalDataItem(ctx, p, true, metadatadb.FSMetadata{
		CaseSensitiveName: p.Name(),
		CreationTime:      md.CreationTime,
		ModTime:           md.ModTime,
		ContentHash:       hash,
		IsReadOnly:        md.ReadOnly,
	})
	if err != nil {
		return fmt.Errorf("recording file %q: %w", p, err)
	}

	if changed {
		result.Changed++

		if isNew {
			result.New++
		}
	}

	return nil
}

func (s *Scanner) visitFolder(ctx context.Context, p relpath.RelativePath, md vfs.Metadata, result *Result) error {
	existing, err := s.db.LookupLocalItem(ctx, p)
	if err != nil {
		return fmt.Errorf("looking up %q: %w", p, err)
	}

	isNew := existing == nil || existing.FS == nil

	changed, err := s.db.UpdateLocalDataItem(ctx, p, false, metadatadb.FSMetadata{
		CaseSensitiveName: p.Name(),
		CreationTime:      md.CreationTime,
		ModTime:           md.ModTime,
		IsReadOnly:        md.ReadOnly,
	})
	if err != nil {
		return fmt.Errorf("recording folder %q: %w", p, err)
	}

	if changed {
		result.Changed++

		if isNew {
			result.New++
		}
	}

	return nil
}

// removeMissingChildren loads dir's known children from the database and
// deletes (tombstones) any not present in the on-disk listing just taken.
func (s *Scanner) removeMissingChildren(ctx context.Context, dir relpath.RelativePath, onDisk map[string]bool, result *Result) error {
	store, err := s.db.LocalStore(ctx)
	if err != nil {
		return err
	}

	var (
		children  []metadatadb.ChildItem
		hasParent bool
		parentID  int64
	)

	if dir.IsRoot() {
		children, err = s.db.ListChildItems(ctx, store.ID, 0, false)
	} else {
		parentID, err = s.db.LookupPath(ctx, dir)
		if err != nil {
			return err
		}

		hasParent = true
		children, err = s.db.ListChildItems(ctx, store.ID, parentID, hasParent)
	}

	if err != nil {
		return err
	}

	for _, c := range children {
		if onDisk[c.Name] {
			continue
		}

		childPath := dir.Join(c.Name)

		n, err := s.db.DeleteLocalDataItem(ctx, childPath)
		if err != nil {
			return fmt.Errorf("tombstoning missing %q: %w", childPath, err)
		}

		result.Deleted += n
	}

	return nil
}

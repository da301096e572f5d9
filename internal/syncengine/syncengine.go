// Package syncengine implements the bilateral, pull-based sync protocol
// (§4.7): peer-id translation, a version-vector-guided directory walk,
// staged content transfer, and conflict surfacing. The receiver always
// pulls from a Sender; bidirectional convergence is two pulls, one in each
// direction, each its own Session.
package syncengine

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/tonimelisma/data-squirrel/internal/fsinteraction"
	"github.com/tonimelisma/data-squirrel/internal/metadatadb"
	"github.com/tonimelisma/data-squirrel/internal/relpath"
	"github.com/tonimelisma/data-squirrel/internal/vvector"
)

// Sender is what a Session pulls from: a peer's resolved items, its child
// names at a path, and a streaming read of a file's bytes. Every vector on
// a returned Item is already translated into the receiver's local
// peer-id space (§4.7.1) — callers never see the sender's own numeric ids.
type Sender interface {
	// Item resolves path against the sender's store, or returns (nil, nil)
	// if the sender has no record of it.
	Item(ctx context.Context, path relpath.RelativePath) (*metadatadb.RemoteItem, error)

	// ChildNames lists the on-record child names of a folder path at the
	// sender (empty for a path that isn't a folder there).
	ChildNames(ctx context.Context, path relpath.RelativePath) ([]string, error)

	// ReadFile streams a file's current bytes from the sender.
	ReadFile(ctx context.Context, path relpath.RelativePath) (io.ReadCloser, error)

	// AssertDiskMatchesDB is the sender-side pre-flight of §4.7.2: it must
	// fail if the sender's disk has diverged from its own MetadataDB.
	AssertDiskMatchesDB(ctx context.Context) error
}

// ErrPreflightFailed wraps AssertDiskMatchesDB failures (§4.7.2): the
// sender's disk has an unindexed change and must be rescanned before sync.
var ErrPreflightFailed = fmt.Errorf("syncengine: sender disk does not match its metadata database")

// ErrDeleteLimitExceeded aborts a pull (§4.7.6's safety rail) once the
// number of deletions applied so far exceeds the configured percentage of
// the receiver's item count at the start of the session — a guard against
// a mis-scanned or unmounted sender store presenting as "everything is
// gone".
var ErrDeleteLimitExceeded = fmt.Errorf("syncengine: delete count exceeds configured max_delete_percent")

// Result tallies one completed pull.
type Result struct {
	Transferred int
	Deleted     int
	Conflicts   []metadatadb.SyncConflictEvent
}

// Session drives one receiver-pulls-from-sender pass.
type Session struct {
	receiverDB       *metadatadb.MetadataDB
	receiverFI       *fsinteraction.FSInteraction
	receiverStoreID  int64
	sender           Sender
	logger           *slog.Logger
	maxDeletePercent int
	rules            []metadatadb.InclusionRule
	deleteBaseline   int
}

// NewSession builds a sync session. receiverStoreID is the receiver's own
// local data_stores row id, the storeID argument SyncLocalDataItem expects.
// maxDeletePercent is the §4.7.6 safety rail: 0 disables the check.
func NewSession(receiverDB *metadatadb.MetadataDB, receiverFI *fsinteraction.FSInteraction, receiverStoreID int64, sender Sender, maxDeletePercent int, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Session{
		receiverDB:       receiverDB,
		receiverFI:       receiverFI,
		receiverStoreID:  receiverStoreID,
		sender:           sender,
		maxDeletePercent: maxDeletePercent,
		logger:           logger,
	}
}

// SyncFrom pulls everything reachable from root, recursively (§4.7.3),
// transferring file content as needed (§4.7.4), surfacing conflicts rather
// than resolving them (§4.7.5), and running post-sync cleanup on the
// receiver (§4.7.6). cleanDeletions also governs whether a stale tombstone
// still logs its retention warning, since cleanup is the only pass that
// looks at tombstone age.
func (s *Session) SyncFrom(ctx context.Context, root relpath.RelativePath, cleanDeletions bool, tombstoneRetentionDays int) (Result, error) {
	if err := s.sender.AssertDiskMatchesDB(ctx); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrPreflightFailed, err)
	}

	rules, err := s.receiverDB.ListInclusionRules(ctx, s.receiverStoreID)
	if err != nil {
		return Result{}, fmt.Errorf("syncengine: loading inclusion rules: %w", err)
	}

	s.rules = rules

	baseline, err := s.receiverDB.CountLiveItems(ctx, s.receiverStoreID)
	if err != nil {
		return Result{}, fmt.Errorf("syncengine: counting receiver items: %w", err)
	}

	s.deleteBaseline = baseline

	var result Result

	if err := s.walk(ctx, root, &result); err != nil {
		return result, err
	}

	if cleanDeletions {
		if _, err := s.receiverDB.CleanUpDeletedItems(ctx, tombstoneRetentionDays); err != nil {
			return result, fmt.Errorf("syncengine: post-sync cleanup: %w", err)
		}
	}

	return result, nil
}

func (s *Session) walk(ctx context.Context, path relpath.RelativePath, result *Result) error {
	// The store root itself is never an item (§4.5.2: a path_component
	// requires at least one component) — only its children are. Skip
	// straight to the child-name union rather than asking the sender to
	// resolve the root as an item.
	if path.IsRoot() {
		names, err := s.childNameUnion(ctx, path, nil)
		if err != nil {
			return err
		}

		for _, name := range names {
			if err := s.walk(ctx, path.Join(name), result); err != nil {
				return err
			}
		}

		return nil
	}

	// §4.5.9/§4.8: a path the receiver's own inclusion rules exclude is
	// refused on the receive side even if the sender offers it — the rules
	// a user configured locally are the final word on what this store
	// accepts, not just what a scan indexes.
	if !metadatadb.EvaluateInclusion(s.rules, path) {
		return nil
	}

	remote, err := s.sender.Item(ctx, path)
	if err != nil {
		return fmt.Errorf("syncengine: fetching sender item %q: %w", path, err)
	}

	if remote == nil {
		return nil
	}

	outcome, conflict, err := s.receiverDB.SyncLocalDataItem(ctx, s.receiverStoreID, *remote)
	if err != nil {
		return fmt.Errorf("syncengine: applying %q: %w", path, err)
	}

	if conflict != nil {
		s.logger.Warn("sync conflict", "path", path, "kind", conflict.Kind)
		result.Conflicts = append(result.Conflicts, *conflict)
	}

	switch outcome {
	case metadatadb.OutcomeReplaced:
		if remote.Kind == metadatadb.KindFile {
			if err := s.transferFile(ctx, path, *remote.FS); err != nil {
				return err
			}

			result.Transferred++
		}

	case metadatadb.OutcomeConvertedToDeletion:
		result.Deleted++

		if s.maxDeletePercent > 0 && s.deleteBaseline > 0 && result.Deleted*100 > s.maxDeletePercent*s.deleteBaseline {
			return fmt.Errorf("%w: %d deletions against a baseline of %d items (limit %d%%)",
				ErrDeleteLimitExceeded, result.Deleted, s.deleteBaseline, s.maxDeletePercent)
		}
	}

	if remote.Kind != metadatadb.KindFolder {
		return nil
	}

	return s.descend(ctx, path, remote.LastMod, result)
}

// descend applies the §4.7.3 witness shortcut before recursing: if the
// folder's rolled-up mod-time vector is already dominated by what the
// receiver has recorded as synced for it, nothing further down this
// subtree can be new, and the recursive walk is skipped entirely.
func (s *Session) descend(ctx context.Context, path relpath.RelativePath, remoteModTime vvector.VersionVector, result *Result) error {
	local, err := s.receiverDB.LookupLocalItem(ctx, path)
	if err != nil {
		return fmt.Errorf("syncengine: looking up %q: %w", path, err)
	}

	localSyncTime := vvector.New()
	if local != nil {
		localSyncTime = local.SyncTime
	}

	if remoteModTime.LessEq(localSyncTime) {
		return nil
	}

	names, err := s.childNameUnion(ctx, path, local)
	if err != nil {
		return err
	}

	for _, name := range names {
		if err := s.walk(ctx, path.Join(name), result); err != nil {
			return err
		}
	}

	return nil
}

func (s *Session) childNameUnion(ctx context.Context, path relpath.RelativePath, local *metadatadb.Item) ([]string, error) {
	senderNames, err := s.sender.ChildNames(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("syncengine: listing sender children of %q: %w", path, err)
	}

	seen := make(map[string]bool, len(senderNames))
	names := make([]string, 0, len(senderNames))

	for _, n := range senderNames {
		if !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}

	if path.IsRoot() || local != nil {
		var (
			children []metadatadb.ChildItem
			lerr     error
		)

		if path.IsRoot() {
			children, lerr = s.receiverDB.ListChildItems(ctx, s.receiverStoreID, 0, false)
		} else {
			children, lerr = s.receiverDB.ListChildItems(ctx, s.receiverStoreID, local.PathComponentID, true)
		}

		if lerr != nil {
			return nil, fmt.Errorf("syncengine: listing receiver children of %q: %w", path, lerr)
		}

		for _, c := range children {
			if !seen[c.Name] {
				seen[c.Name] = true
				names = append(names, c.Name)
			}
		}
	}

	return names, nil
}

// transferFile pulls fresh content for path from the sender: stream to a
// staging file under the metadata directory, then atomically rename into
// place, then stamp the on-disk mod-time to match the sender's so the next
// local scan does not see it as its own change (§4.7.4).
func (s *Session) transferFile(ctx context.Context, path relpath.RelativePath, fs metadatadb.FSMetadata) error {
	r, err := s.sender.ReadFile(ctx, path)
	if err != nil {
		return fmt.Errorf("syncengine: opening sender file %q: %w", path, err)
	}
	defer r.Close()

	if err := s.receiverFI.StageAndCommit(ctx, path, r, fs.ModTime, fs.IsReadOnly); err != nil {
		return fmt.Errorf("syncengine: writing %q: %w", path, err)
	}

	return nil
}

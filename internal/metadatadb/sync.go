package metadatadb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/tonimelisma/data-squirrel/internal/relpath"
	"github.com/tonimelisma/data-squirrel/internal/vvector"
)

// RemoteItem is a fully resolved remote item, its vectors already translated
// into the receiver's local peer-id space (§4.7.1), as handed to
// SyncLocalDataItem by the sync engine's directory walk (§4.7.3).
type RemoteItem struct {
	Path     relpath.RelativePath
	Kind     Kind
	FS       *FSMetadata
	LastMod  vvector.VersionVector
	SyncTime vvector.VersionVector
}

// ConflictKind names one of the surfaced conflict shapes (§4.7.5).
type ConflictKind string

const (
	ConflictLocalFileRemoteFolder     ConflictKind = "LocalFileRemoteFolder"
	ConflictLocalDeletionRemoteFile   ConflictKind = "LocalDeletionRemoteFile"
	ConflictLocalDeletionRemoteFolder ConflictKind = "LocalDeletionRemoteFolder"
	ConflictLocalItemRemoteFile       ConflictKind = "LocalItemRemoteFile"
	ConflictLocalItemRemoteDeletion   ConflictKind = "LocalItemRemoteDeletion"
	ConflictLocalFolderRemoteFolder   ConflictKind = "LocalFolderRemoteFolder"
)

// SyncConflictEvent is emitted in place of a mutation when neither side's
// last-mod is known to the other's sync-time (§4.7.5). Local state is left
// untouched; a resolver later chooses ChooseLocal, ChooseRemote, or
// DoNotResolve.
type SyncConflictEvent struct {
	Path relpath.RelativePath
	Kind ConflictKind
}

// SyncOutcome classifies what SyncLocalDataItem actually did.
type SyncOutcome string

const (
	OutcomeAbsorbed            SyncOutcome = "absorbed"             // payload ignored, sync-time advanced
	OutcomeReplaced            SyncOutcome = "replaced"             // local content/metadata replaced from remote
	OutcomeConvertedToDeletion SyncOutcome = "converted_to_deletion" // local converted to a tombstone
	OutcomeConflict            SyncOutcome = "conflict"             // left untouched, event surfaced
)

// ConflictResolution is how a caller disposes of a surfaced conflict.
type ConflictResolution int

const (
	ChooseLocal ConflictResolution = iota
	ChooseRemote
	DoNotResolve
)

// SyncLocalDataItem applies one remote item observation against the local
// store, following the merge algebra of §4.5.8: ignore stale payloads,
// replace when the remote strictly dominates, convert to a tombstone when
// the remote deletion dominates, or surface a conflict when neither side's
// last-mod is known to the other.
func (m *MetadataDB) SyncLocalDataItem(ctx context.Context, storeID int64, remote RemoteItem) (SyncOutcome, *SyncConflictEvent, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return "", nil, fmt.Errorf("metadatadb: beginning sync transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	pcID, err := m.ResolvePath(ctx, tx, remote.Path, true)
	if err != nil {
		return "", nil, err
	}

	local, err := m.loadLocalItemForSync(ctx, tx, storeID, pcID)
	if err != nil {
		return "", nil, err
	}

	localLastMod := local.lastMod
	localSyncTime, err := m.resolveSyncTime(ctx, tx, storeID, pcID)
	if err != nil {
		return "", nil, err
	}

	remoteDominatesLocalSync := remote.LastMod.LessEq(localSyncTime)
	localDominatesRemoteSync := localLastMod.LessEq(remote.SyncTime)

	switch {
	case remoteDominatesLocalSync:
		newSync := vvector.Merged(localSyncTime, remote.SyncTime)

		if err := m.writeSyncTimeForItem(ctx, tx, storeID, pcID, local, newSync); err != nil {
			return "", nil, err
		}

		return OutcomeAbsorbed, nil, tx.Commit()

	case localDominatesRemoteSync && remote.Kind != KindDeletion:
		if err := m.replaceLocalFromRemote(ctx, tx, storeID, pcID, local, remote); err != nil {
			return "", nil, err
		}

		return OutcomeReplaced, nil, tx.Commit()

	case localDominatesRemoteSync && remote.Kind == KindDeletion:
		if err := m.convertLocalToDeletionFromRemote(ctx, tx, storeID, pcID, local, remote); err != nil {
			return "", nil, err
		}

		return OutcomeConvertedToDeletion, nil, tx.Commit()

	default:
		event := &SyncConflictEvent{Path: remote.Path, Kind: classifyConflict(local.kind, remote.Kind)}

		return OutcomeConflict, event, tx.Commit()
	}
}

func classifyConflict(localKind, remoteKind Kind) ConflictKind {
	switch {
	case localKind == KindFile && remoteKind == KindFolder:
		return ConflictLocalFileRemoteFolder
	case localKind == KindDeletion && remoteKind == KindFile:
		return ConflictLocalDeletionRemoteFile
	case localKind == KindDeletion && remoteKind == KindFolder:
		return ConflictLocalDeletionRemoteFolder
	case remoteKind == KindDeletion:
		return ConflictLocalItemRemoteDeletion
	case localKind == KindFolder && remoteKind == KindFolder:
		return ConflictLocalFolderRemoteFolder
	default:
		return ConflictLocalItemRemoteFile
	}
}

// localSyncState is the subset of local state SyncLocalDataItem needs,
// tolerating a wholly absent item (never seen locally before) by treating
// it as an empty-vector DELETION.
type localSyncState struct {
	itemID   int64 // 0 if absent
	kind     Kind
	lastMod  vvector.VersionVector
	existing bool
}

func (m *MetadataDB) loadLocalItemForSync(ctx context.Context, tx *sql.Tx, storeID, pcID int64) (*localSyncState, error) {
	row, err := m.getLocalItem(ctx, tx, storeID, pcID)

	if errors.Is(err, ErrNotFound) {
		return &localSyncState{kind: KindDeletion, lastMod: vvector.New()}, nil
	}

	if err != nil {
		return nil, err
	}

	state := &localSyncState{itemID: row.ID, kind: row.Kind, existing: true}

	if row.Kind == KindFolder {
		vec, err := m.readModTimeVector(ctx, tx, row.ID)
		if err != nil {
			return nil, err
		}

		state.lastMod = vec

		return state, nil
	}

	// FILE and DELETION both carry a last-mod singleton in mod_metadatas:
	// for a tombstone this is the event that deleted it, needed so a local
	// deletion can still conflict with a diverging remote edit (§4.7.5).
	mm, err := m.getModMetadata(ctx, tx, row.ID)
	if err != nil {
		return nil, err
	}

	if mm != nil {
		state.lastMod = mm.LastMod()
	} else {
		state.lastMod = vvector.New()
	}

	return state, nil
}

func (m *MetadataDB) writeSyncTimeForItem(ctx context.Context, tx *sql.Tx, storeID, pcID int64, local *localSyncState, newSync vvector.VersionVector) error {
	itemID := local.itemID

	if itemID == 0 {
		var err error

		itemID, err = m.createBareDeletionItem(ctx, tx, storeID, pcID)
		if err != nil {
			return err
		}
	}

	return m.writeSyncTime(ctx, tx, storeID, pcID, itemID, newSync)
}

// createBareDeletionItem inserts a DELETION item row with no FS/Mod
// metadata and no clock bump, used purely as an anchor for a sync-time
// override on a path the local store has never otherwise observed (§3:
// "DELETION items carry only a sync vector").
func (m *MetadataDB) createBareDeletionItem(ctx context.Context, tx *sql.Tx, storeID, pcID int64) (int64, error) {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO items (store_id, path_component_id, kind) VALUES (?, ?, 'DELETION')`, storeID, pcID)
	if err != nil {
		return 0, fmt.Errorf("metadatadb: inserting bare deletion item at path component %d: %w", pcID, err)
	}

	return res.LastInsertId()
}

// replaceLocalFromRemote adopts R's content/metadata wholesale (§4.5.8):
// content transfer itself (streaming the file bytes) is the sync engine's
// job, driven by the FSMetadata this call persists; this only updates the
// metadata row, under the assumption the caller has already staged any
// required bytes.
func (m *MetadataDB) replaceLocalFromRemote(ctx context.Context, tx *sql.Tx, storeID, pcID int64, local *localSyncState, remote RemoteItem) error {
	itemID := local.itemID

	if itemID == 0 {
		newItemID, err := tx.ExecContext(ctx, `INSERT INTO items (store_id, path_component_id, kind) VALUES (?, ?, ?)`,
			storeID, pcID, remote.Kind)
		if err != nil {
			return fmt.Errorf("metadatadb: inserting item at path component %d: %w", pcID, err)
		}

		id, err := newItemID.LastInsertId()
		if err != nil {
			return fmt.Errorf("metadatadb: reading new item id: %w", err)
		}

		itemID = id
	} else if local.kind != remote.Kind {
		if local.kind == KindFolder {
			if _, err := m.deleteSubtree(ctx, tx, storeID, pcID); err != nil {
				return err
			}
		}

		if err := m.dropFSAndMod(ctx, tx, itemID); err != nil {
			return err
		}

		if err := m.setKind(ctx, tx, itemID, remote.Kind); err != nil {
			return err
		}
	}

	if remote.FS != nil {
		if err := m.upsertFSMetadata(ctx, tx, itemID, *remote.FS); err != nil {
			return err
		}
	}

	if err := m.setRemoteLastMod(ctx, tx, itemID, remote.Kind, remote.LastMod); err != nil {
		return err
	}

	localSyncTime, err := m.resolveSyncTime(ctx, tx, storeID, pcID)
	if err != nil {
		return err
	}

	if err := m.writeSyncTime(ctx, tx, storeID, pcID, itemID, vvector.Merged(localSyncTime, remote.SyncTime)); err != nil {
		return err
	}

	return m.rollUpAncestorsFromVector(ctx, tx, storeID, pcID, remote.LastMod)
}

// convertLocalToDeletionFromRemote cascades a remote deletion into the
// local store (§4.5.8, §4.5.4): the whole subtree (if local was a folder)
// becomes DELETION under the remote's last-mod vector.
func (m *MetadataDB) convertLocalToDeletionFromRemote(ctx context.Context, tx *sql.Tx, storeID, pcID int64, local *localSyncState, remote RemoteItem) error {
	itemID := local.itemID

	if itemID == 0 {
		newItemID, err := tx.ExecContext(ctx, `INSERT INTO items (store_id, path_component_id, kind) VALUES (?, ?, 'DELETION')`,
			storeID, pcID)
		if err != nil {
			return fmt.Errorf("metadatadb: inserting deletion item at path component %d: %w", pcID, err)
		}

		id, err := newItemID.LastInsertId()
		if err != nil {
			return fmt.Errorf("metadatadb: reading new item id: %w", err)
		}

		itemID = id
	} else {
		if local.kind == KindFolder {
			if _, err := m.deleteSubtree(ctx, tx, storeID, pcID); err != nil {
				return err
			}
		}

		if err := m.dropFSAndMod(ctx, tx, itemID); err != nil {
			return err
		}

		if err := m.setKind(ctx, tx, itemID, KindDeletion); err != nil {
			return err
		}
	}

	if err := m.setRemoteLastMod(ctx, tx, itemID, KindDeletion, remote.LastMod); err != nil {
		return err
	}

	localSyncTime, err := m.resolveSyncTime(ctx, tx, storeID, pcID)
	if err != nil {
		return err
	}

	if err := m.writeSyncTime(ctx, tx, storeID, pcID, itemID, vvector.Merged(localSyncTime, remote.SyncTime)); err != nil {
		return err
	}

	return m.rollUpAncestorsFromVector(ctx, tx, storeID, pcID, remote.LastMod)
}

// setRemoteLastMod stamps itemID's last-mod from a remote vector: folders
// get their rolled-up ModTimeVector merged in directly (the vector already
// represents "max over descendants"); files record the vector's sole entry
// as their mod_metadatas last-mod pair, preserving creator fields if an
// item already existed.
func (m *MetadataDB) setRemoteLastMod(ctx context.Context, tx *sql.Tx, itemID int64, kind Kind, lastMod vvector.VersionVector) error {
	if kind == KindFolder {
		current, err := m.readModTimeVector(ctx, tx, itemID)
		if err != nil {
			return err
		}

		return m.writeModTimeVector(ctx, tx, itemID, vvector.Merged(current, lastMod))
	}

	key, clock := lastMod.Sole()

	var peer int64

	if key != "" {
		var err error
		if peer, err = parsePeerKey(key); err != nil {
			return err
		}
	}

	existing, err := m.getModMetadata(ctx, tx, itemID)
	if err != nil {
		return err
	}

	mm := ModMetadata{LastModPeerID: peer, LastModClock: clock}

	if existing != nil {
		mm.CreatorPeerID = existing.CreatorPeerID
		mm.CreatorClock = existing.CreatorClock
	} else {
		mm.CreatorPeerID = peer
		mm.CreatorClock = clock
	}

	return m.upsertModMetadata(ctx, tx, itemID, mm)
}

// rollUpAncestorsFromVector propagates every entry of v into each ancestor
// folder's mod-time vector, used when adopting a remote change whose
// last-mod may span multiple peers (a folder's rolled-up vector) rather
// than the single local peer entry rollUpAncestors assumes.
func (m *MetadataDB) rollUpAncestorsFromVector(ctx context.Context, tx *sql.Tx, storeID, pcID int64, v vvector.VersionVector) error {
	for _, peer := range v.Peers() {
		if err := m.rollUpAncestors(ctx, tx, storeID, pcID, peer, v.Get(peer)); err != nil {
			return err
		}
	}

	return nil
}

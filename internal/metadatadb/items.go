package metadatadb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tonimelisma/data-squirrel/internal/relpath"
)

// itemRow mirrors one items row, joined with its FS/Mod metadata when
// present.
type itemRow struct {
	ID              int64
	StoreID         int64
	PathComponentID int64
	Kind            Kind
}

func (m *MetadataDB) getLocalItem(ctx context.Context, tx *sql.Tx, storeID, pathComponentID int64) (*itemRow, error) {
	var r itemRow

	var kind string

	err := tx.QueryRowContext(ctx, `SELECT id, store_id, path_component_id, kind
		FROM items WHERE store_id = ? AND path_component_id = ?`, storeID, pathComponentID).
		Scan(&r.ID, &r.StoreID, &r.PathComponentID, &kind)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("%w: item at path component %d", ErrNotFound, pathComponentID)
	case err != nil:
		return nil, fmt.Errorf("metadatadb: reading item at path component %d: %w", pathComponentID, err)
	}

	r.Kind = Kind(kind)

	return &r, nil
}

func (m *MetadataDB) getFSMetadata(ctx context.Context, tx *sql.Tx, itemID int64) (*FSMetadata, error) {
	var (
		fs                 FSMetadata
		creation, modTime  int64
		readOnly           int
	)

	err := tx.QueryRowContext(ctx, `SELECT case_sensitive_name, creation_time, mod_time, content_hash, is_read_only
		FROM file_system_metadatas WHERE item_id = ?`, itemID).
		Scan(&fs.CaseSensitiveName, &creation, &modTime, &fs.ContentHash, &readOnly)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("metadatadb: reading fs metadata for item %d: %w", itemID, err)
	}

	fs.CreationTime = time.Unix(0, creation)
	fs.ModTime = time.Unix(0, modTime)
	fs.IsReadOnly = readOnly != 0

	return &fs, nil
}

func (m *MetadataDB) getModMetadata(ctx context.Context, tx *sql.Tx, itemID int64) (*ModMetadata, error) {
	var mm ModMetadata

	err := tx.QueryRowContext(ctx, `SELECT creator_peer_id, creator_clock, last_mod_peer_id, last_mod_clock
		FROM mod_metadatas WHERE item_id = ?`, itemID).
		Scan(&mm.CreatorPeerID, &mm.CreatorClock, &mm.LastModPeerID, &mm.LastModClock)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("metadatadb: reading mod metadata for item %d: %w", itemID, err)
	}

	return &mm, nil
}

// setKind changes an item's kind and keeps tombstoned_at in step: becoming
// a DELETION stamps the conversion time (§4.5.7's retention clock starts
// here), anything else clears it.
func (m *MetadataDB) setKind(ctx context.Context, tx *sql.Tx, itemID int64, kind Kind) error {
	var tombstonedAt sql.NullInt64
	if kind == KindDeletion {
		tombstonedAt = sql.NullInt64{Int64: time.Now().UnixNano(), Valid: true}
	}

	_, err := tx.ExecContext(ctx, `UPDATE items SET kind = ?, tombstoned_at = ? WHERE id = ?`, kind, tombstonedAt, itemID)
	if err != nil {
		return fmt.Errorf("metadatadb: setting kind of item %d: %w", itemID, err)
	}

	return nil
}

func (m *MetadataDB) dropFSAndMod(ctx context.Context, tx *sql.Tx, itemID int64) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM file_system_metadatas WHERE item_id = ?`, itemID); err != nil {
		return fmt.Errorf("metadatadb: dropping fs metadata for item %d: %w", itemID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM mod_metadatas WHERE item_id = ?`, itemID); err != nil {
		return fmt.Errorf("metadatadb: dropping mod metadata for item %d: %w", itemID, err)
	}

	return nil
}

func (m *MetadataDB) upsertFSMetadata(ctx context.Context, tx *sql.Tx, itemID int64, fs FSMetadata) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO file_system_metadatas
		(item_id, case_sensitive_name, creation_time, mod_time, content_hash, is_read_only)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(item_id) DO UPDATE SET
			case_sensitive_name = excluded.case_sensitive_name,
			creation_time       = excluded.creation_time,
			mod_time            = excluded.mod_time,
			content_hash        = excluded.content_hash,
			is_read_only        = excluded.is_read_only`,
		itemID, fs.CaseSensitiveName, fs.CreationTime.UnixNano(), fs.ModTime.UnixNano(), fs.ContentHash, fs.IsReadOnly)
	if err != nil {
		return fmt.Errorf("metadatadb: writing fs metadata for item %d: %w", itemID, err)
	}

	return nil
}

func (m *MetadataDB) upsertModMetadata(ctx context.Context, tx *sql.Tx, itemID int64, mm ModMetadata) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO mod_metadatas
		(item_id, creator_peer_id, creator_clock, last_mod_peer_id, last_mod_clock)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(item_id) DO UPDATE SET
			last_mod_peer_id = excluded.last_mod_peer_id,
			last_mod_clock   = excluded.last_mod_clock`,
		itemID, mm.CreatorPeerID, mm.CreatorClock, mm.LastModPeerID, mm.LastModClock)
	if err != nil {
		return fmt.Errorf("metadatadb: writing mod metadata for item %d: %w", itemID, err)
	}

	return nil
}

// UpdateLocalDataItem records an on-disk observation (from the scan engine)
// for path as the local store's current truth, following the six-step
// algorithm of §4.5.3:
//
//  1. resolve (and create, if missing) the path's path_component chain
//  2. if an item already exists with a different kind (FILE<->FOLDER), first
//     convert it to a DELETION so the kind change is itself a recorded event
//  3. a DELETION item at this path is resurrected into the new kind
//  4. compare FSMetadata; an unchanged file is a no-op (changed=false)
//  5. assign last-mod (and, for new items, creator) from a freshly bumped
//     local clock
//  6. roll the new last-mod up into every ancestor folder's mod-time vector
func (m *MetadataDB) UpdateLocalDataItem(
	ctx context.Context, path relpath.RelativePath, isFile bool, fs FSMetadata,
) (changed bool, err error) {
	store, err := m.LocalStore(ctx)
	if err != nil {
		return false, err
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("metadatadb: beginning update transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	pcID, err := m.ResolvePath(ctx, tx, path, true)
	if err != nil {
		return false, err
	}

	newKind := KindFolder
	if isFile {
		newKind = KindFile
	}

	existing, err := m.getLocalItem(ctx, tx, store.ID, pcID)

	switch {
	case errors.Is(err, ErrNotFound):
		itemID, createErr := m.createLocalItem(ctx, tx, store.ID, pcID, newKind, fs)
		if createErr != nil {
			return false, createErr
		}

		if err := m.rollUpAncestors(ctx, tx, store.ID, pcID, peerKey(store.ID), mustLastModClock(ctx, tx, itemID)); err != nil {
			return false, err
		}

		return true, tx.Commit()

	case err != nil:
		return false, err
	}

	if existing.Kind != KindDeletion && existing.Kind != newKind {
		if err := m.convertToDeletion(ctx, tx, store.ID, existing); err != nil {
			return false, err
		}

		// The tombstone keeps this path's item row; resurrect it below.
		existing.Kind = KindDeletion
	}

	if existing.Kind == KindDeletion {
		if err := m.setKind(ctx, tx, existing.ID, newKind); err != nil {
			return false, err
		}

		if err := m.touchLastMod(ctx, tx, store.ID, existing.ID); err != nil {
			return false, err
		}

		if err := m.upsertFSMetadata(ctx, tx, existing.ID, fs); err != nil {
			return false, err
		}

		if err := m.rollUpAncestors(ctx, tx, store.ID, pcID, peerKey(store.ID), mustLastModClock(ctx, tx, existing.ID)); err != nil {
			return false, err
		}

		return true, tx.Commit()
	}

	current, err := m.getFSMetadata(ctx, tx, existing.ID)
	if err != nil {
		return false, err
	}

	if current != nil && fsMetadataEqual(*current, fs) {
		return false, tx.Commit()
	}

	if err := m.upsertFSMetadata(ctx, tx, existing.ID, fs); err != nil {
		return false, err
	}

	if err := m.touchLastMod(ctx, tx, store.ID, existing.ID); err != nil {
		return false, err
	}

	if err := m.rollUpAncestors(ctx, tx, store.ID, pcID, peerKey(store.ID), mustLastModClock(ctx, tx, existing.ID)); err != nil {
		return false, err
	}

	return true, tx.Commit()
}

func fsMetadataEqual(a, b FSMetadata) bool {
	return a.CaseSensitiveName == b.CaseSensitiveName &&
		a.ModTime.Equal(b.ModTime) &&
		a.ContentHash == b.ContentHash &&
		a.IsReadOnly == b.IsReadOnly
}

func (m *MetadataDB) createLocalItem(ctx context.Context, tx *sql.Tx, storeID, pcID int64, kind Kind, fs FSMetadata) (int64, error) {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO items (store_id, path_component_id, kind) VALUES (?, ?, ?)`, storeID, pcID, kind)
	if err != nil {
		return 0, fmt.Errorf("metadatadb: inserting item at path component %d: %w", pcID, err)
	}

	itemID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("metadatadb: reading new item id: %w", err)
	}

	if kind != KindDeletion {
		if err := m.upsertFSMetadata(ctx, tx, itemID, fs); err != nil {
			return 0, err
		}
	}

	return itemID, m.touchLastMod(ctx, tx, storeID, itemID)
}

// touchLastMod bumps the local clock and records it as itemID's creator (if
// new) and last-mod event (§4.5.1, §4.5.3 step 5).
func (m *MetadataDB) touchLastMod(ctx context.Context, tx *sql.Tx, storeID, itemID int64) error {
	oldClock, err := m.IncreaseLocalClock(ctx, tx)
	if err != nil {
		return err
	}

	newClock := oldClock

	existing, err := m.getModMetadata(ctx, tx, itemID)
	if err != nil {
		return err
	}

	mm := ModMetadata{
		CreatorPeerID: storeID,
		CreatorClock:  newClock,
		LastModPeerID: storeID,
		LastModClock:  newClock,
	}

	if existing != nil {
		mm.CreatorPeerID = existing.CreatorPeerID
		mm.CreatorClock = existing.CreatorClock
	}

	return m.upsertModMetadata(ctx, tx, itemID, mm)
}

// mustLastModClock re-reads the clock just assigned by touchLastMod, for
// the rollUpAncestors call immediately following it in the same
// transaction. Panics are not possible here: the row was just written.
func mustLastModClock(ctx context.Context, tx *sql.Tx, itemID int64) int64 {
	var clock int64

	_ = tx.QueryRowContext(ctx, `SELECT last_mod_clock FROM mod_metadatas WHERE item_id = ?`, itemID).Scan(&clock)

	return clock
}

// convertToDeletion turns an existing item into a DELETION tombstone ahead
// of a kind change (FILE<->FOLDER at the same path), dropping its FS/Mod
// metadata rows (§4.5.3 step 2).
func (m *MetadataDB) convertToDeletion(ctx context.Context, tx *sql.Tx, storeID int64, existing *itemRow) error {
	if existing.Kind == KindFolder {
		if _, err := m.deleteSubtree(ctx, tx, storeID, existing.PathComponentID); err != nil {
			return err
		}
	}

	if err := m.dropFSAndMod(ctx, tx, existing.ID); err != nil {
		return err
	}

	if err := m.setKind(ctx, tx, existing.ID, KindDeletion); err != nil {
		return err
	}

	return m.touchLastMod(ctx, tx, storeID, existing.ID)
}

// DeleteLocalDataItem converts the item at path into a DELETION tombstone
// (§4.5.4). Folders recurse: every item in the subtree is converted as well,
// each conversion taking its own local clock bump, all inside one
// transaction.
func (m *MetadataDB) DeleteLocalDataItem(ctx context.Context, path relpath.RelativePath) (convertedCount int, err error) {
	store, err := m.LocalStore(ctx)
	if err != nil {
		return 0, err
	}

	pcID, err := m.LookupPath(ctx, path)
	if err != nil {
		return 0, err
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("metadatadb: beginning delete transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	existing, err := m.getLocalItem(ctx, tx, store.ID, pcID)
	if err != nil {
		return 0, err
	}

	if existing.Kind == KindDeletion {
		return 0, tx.Commit()
	}

	count := 1

	if existing.Kind == KindFolder {
		sub, err := m.deleteSubtree(ctx, tx, store.ID, pcID)
		if err != nil {
			return 0, err
		}

		count += sub
	}

	if err := m.dropFSAndMod(ctx, tx, existing.ID); err != nil {
		return 0, err
	}

	if err := m.setKind(ctx, tx, existing.ID, KindDeletion); err != nil {
		return 0, err
	}

	if err := m.touchLastMod(ctx, tx, store.ID, existing.ID); err != nil {
		return 0, err
	}

	if err := m.rollUpAncestors(ctx, tx, store.ID, pcID, peerKey(store.ID), mustLastModClock(ctx, tx, existing.ID)); err != nil {
		return 0, err
	}

	return count, tx.Commit()
}

// deleteSubtree recursively converts every descendant of the folder at
// pcID into a DELETION, bumping the local clock once per converted item,
// and returns how many were converted. Used both for an explicit folder
// deletion and for the kind-change cascade in convertToDeletion.
func (m *MetadataDB) deleteSubtree(ctx context.Context, tx *sql.Tx, storeID, pcID int64) (int, error) {
	childPCs, err := childPathComponents(ctx, tx, pcID)
	if err != nil {
		return 0, err
	}

	count := 0

	for _, childPC := range childPCs {
		child, err := m.getLocalItem(ctx, tx, storeID, childPC)
		if errors.Is(err, ErrNotFound) {
			continue
		}

		if err != nil {
			return 0, err
		}

		if child.Kind == KindDeletion {
			continue
		}

		if child.Kind == KindFolder {
			sub, err := m.deleteSubtree(ctx, tx, storeID, childPC)
			if err != nil {
				return 0, err
			}

			count += sub
		}

		if err := m.dropFSAndMod(ctx, tx, child.ID); err != nil {
			return 0, err
		}

		if err := m.setKind(ctx, tx, child.ID, KindDeletion); err != nil {
			return 0, err
		}

		if err := m.touchLastMod(ctx, tx, storeID, child.ID); err != nil {
			return 0, err
		}

		count++
	}

	return count, nil
}

func childPathComponents(ctx context.Context, tx *sql.Tx, parentID int64) ([]int64, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id FROM path_components WHERE parent_id = ?`, parentID)
	if err != nil {
		return nil, fmt.Errorf("metadatadb: listing children of path component %d: %w", parentID, err)
	}
	defer rows.Close()

	var out []int64

	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("metadatadb: scanning child path component: %w", err)
		}

		out = append(out, id)
	}

	return out, rows.Err()
}

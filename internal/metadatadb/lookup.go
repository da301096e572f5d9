package metadatadb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/tonimelisma/data-squirrel/internal/relpath"
)

// LookupLocalItem resolves path against the local store and returns its
// fully-populated Item, or (nil, nil) if no item is recorded there yet
// (including "never visited" — not an error, since the scan engine calls
// this for every path it's about to visit for the first time).
func (m *MetadataDB) LookupLocalItem(ctx context.Context, path relpath.RelativePath) (*Item, error) {
	store, err := m.LocalStore(ctx)
	if err != nil {
		return nil, err
	}

	pcID, err := m.LookupPath(ctx, path)
	if errors.Is(err, ErrNotFound) {
		return nil, nil //nolint:nilnil
	}

	if err != nil {
		return nil, err
	}

	tx, err := m.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("metadatadb: beginning lookup transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	row, err := m.getLocalItem(ctx, tx, store.ID, pcID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil //nolint:nilnil
	}

	if err != nil {
		return nil, err
	}

	item := &Item{
		ID:              row.ID,
		StoreID:         row.StoreID,
		PathComponentID: row.PathComponentID,
		Path:            path,
		Kind:            row.Kind,
	}

	item.FS, err = m.getFSMetadata(ctx, tx, row.ID)
	if err != nil {
		return nil, err
	}

	item.Mod, err = m.getModMetadata(ctx, tx, row.ID)
	if err != nil {
		return nil, err
	}

	if row.Kind == KindFolder {
		item.ModTimeVector, err = m.readModTimeVector(ctx, tx, row.ID)
		if err != nil {
			return nil, err
		}
	}

	item.SyncTime, err = m.resolveSyncTime(ctx, tx, store.ID, pcID)
	if err != nil {
		return nil, err
	}

	return item, tx.Commit()
}

package metadatadb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/tonimelisma/data-squirrel/internal/relpath"
)

// pathComponentRow mirrors one path_components row.
type pathComponentRow struct {
	ID       int64
	ParentID sql.NullInt64
	Name     string
}

// lookupChild finds an existing path_components row for (parentID, name),
// case-insensitively. hasParent false means "root's direct child" (parentID
// is then ignored) and is represented as SQL NULL.
func (m *MetadataDB) lookupChild(ctx context.Context, q queryer, parentID int64, hasParent bool, name string) (*pathComponentRow, error) {
	var parentArg any
	if hasParent {
		parentArg = parentID
	}

	var r pathComponentRow

	err := q.QueryRowContext(ctx, sqlLookupPathChild, parentArg, strings.ToLower(name)).Scan(&r.ID, &r.Name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: path component %q", ErrNotFound, name)
		}

		return nil, fmt.Errorf("metadatadb: looking up path component %q: %w", name, err)
	}

	if hasParent {
		r.ParentID = sql.NullInt64{Int64: parentID, Valid: true}
	}

	return &r, nil
}

// queryer is satisfied by both *sql.DB and *sql.Tx, letting read helpers run
// either standalone or as part of an in-flight transaction.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// ResolvePath walks path top-down inside tx, creating missing path_component
// rows when createMissing is true, and returns the terminal row id. Lookup
// is case-insensitive. A newly created component keeps the case it was
// first inserted with and is never re-cased afterwards; the item's current
// case-sensitive name is persisted separately in its FSMetadata.
func (m *MetadataDB) ResolvePath(ctx context.Context, tx *sql.Tx, path relpath.RelativePath, createMissing bool) (int64, error) {
	var (
		parentID  int64
		hasParent bool
	)

	for _, comp := range path.Components() {
		row, err := m.lookupChild(ctx, tx, parentID, hasParent, comp)

		switch {
		case err == nil:
			parentID = row.ID
			hasParent = true

		case errors.Is(err, ErrNotFound) && createMissing:
			var parentArg any
			if hasParent {
				parentArg = parentID
			}

			res, execErr := tx.ExecContext(ctx,
				`INSERT INTO path_components (parent_id, name, name_lower) VALUES (?, ?, ?)`,
				parentArg, comp, strings.ToLower(comp))
			if execErr != nil {
				return 0, fmt.Errorf("metadatadb: inserting path component %q: %w", comp, execErr)
			}

			newID, idErr := res.LastInsertId()
			if idErr != nil {
				return 0, fmt.Errorf("metadatadb: reading new path component id: %w", idErr)
			}

			parentID = newID
			hasParent = true

		default:
			return 0, err
		}
	}

	if !hasParent {
		return 0, fmt.Errorf("metadatadb: cannot resolve the root path to an item")
	}

	return parentID, nil
}

// LookupPath is ResolvePath with createMissing=false, for read-only callers
// that want ErrNotFound rather than a mutation.
func (m *MetadataDB) LookupPath(ctx context.Context, path relpath.RelativePath) (int64, error) {
	var (
		parentID  int64
		hasParent bool
	)

	for _, comp := range path.Components() {
		row, err := m.lookupChild(ctx, m.db, parentID, hasParent, comp)
		if err != nil {
			return 0, err
		}

		parentID = row.ID
		hasParent = true
	}

	if !hasParent {
		return 0, fmt.Errorf("metadatadb: cannot resolve the root path to an item")
	}

	return parentID, nil
}

// pathComponentByID fetches a single row by id, used when walking a
// path_component's ancestor chain upward (folder roll-up, sync-time walks).
func (m *MetadataDB) pathComponentByID(ctx context.Context, id int64) (*pathComponentRow, error) {
	var r pathComponentRow

	var parent sql.NullInt64

	err := m.pathStmts.getByID.QueryRowContext(ctx, id).Scan(&r.ID, &parent, &r.Name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: path component id %d", ErrNotFound, id)
		}

		return nil, fmt.Errorf("metadatadb: reading path component %d: %w", id, err)
	}

	r.ParentID = parent

	return &r, nil
}

// walkParentChain returns the chain of path_component ids from id's parent
// up to (but not including) the root, nearest-ancestor first.
func (m *MetadataDB) walkParentChain(ctx context.Context, id int64) ([]int64, error) {
	var chain []int64

	row, err := m.pathComponentByID(ctx, id)
	if err != nil {
		return nil, err
	}

	for row.ParentID.Valid {
		chain = append(chain, row.ParentID.Int64)

		row, err = m.pathComponentByID(ctx, row.ParentID.Int64)
		if err != nil {
			return nil, err
		}
	}

	return chain, nil
}

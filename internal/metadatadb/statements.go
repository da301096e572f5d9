package metadatadb

import (
	"context"
	"database/sql"
	"fmt"
)

// stmtDef maps a SQL string to the prepared statement pointer it should
// populate, letting prepareAll eliminate repetitive error handling.
type stmtDef struct {
	dest **sql.Stmt
	sql  string
	name string
}

// prepareAll prepares a batch of statements, returning on first error.
func prepareAll(ctx context.Context, db *sql.DB, defs []stmtDef) error {
	for i := range defs {
		stmt, err := db.PrepareContext(ctx, defs[i].sql)
		if err != nil {
			return fmt.Errorf("prepare %s: %w", defs[i].name, err)
		}

		*defs[i].dest = stmt
	}

	return nil
}

// Statement groups, grouped by domain to avoid a flat list of fields.
type pathStatements struct {
	lookupChild *sql.Stmt
	getByID     *sql.Stmt
}

type itemStatements struct {
	getByPathComponent *sql.Stmt
	getByID            *sql.Stmt
}

type peerStatements struct {
	getLocal     *sql.Stmt
	getByUnique  *sql.Stmt
	listAll      *sql.Stmt
}

type ruleStatements struct {
	listOrdered *sql.Stmt
}

const (
	sqlLookupPathChild = `SELECT id, name FROM path_components
		WHERE parent_id IS ? AND name_lower = ?`

	sqlGetPathComponentByID = `SELECT id, parent_id, name FROM path_components WHERE id = ?`

	sqlGetItemByPathComponent = `SELECT id, store_id, path_component_id, kind
		FROM items WHERE store_id = ? AND path_component_id = ?`

	sqlGetItemByID = `SELECT id, store_id, path_component_id, kind FROM items WHERE id = ?`

	sqlGetLocalStore = `SELECT id, data_set_id, unique_name, human_name,
		creation_date, root_path, location_note, is_local, clock
		FROM data_stores WHERE is_local = 1`

	sqlGetStoreByUniqueName = `SELECT id, data_set_id, unique_name, human_name,
		creation_date, root_path, location_note, is_local, clock
		FROM data_stores WHERE unique_name = ?`

	sqlListAllStores = `SELECT id, data_set_id, unique_name, human_name,
		creation_date, root_path, location_note, is_local, clock
		FROM data_stores ORDER BY id`

	sqlListInclusionRulesOrdered = `SELECT id, store_id, seq, glob, include_bool
		FROM inclusion_rules WHERE store_id = ? ORDER BY seq`
)

func (m *MetadataDB) prepareAllStatements(ctx context.Context) error {
	if err := prepareAll(ctx, m.db, []stmtDef{
		{&m.pathStmts.lookupChild, sqlLookupPathChild, "lookupPathChild"},
		{&m.pathStmts.getByID, sqlGetPathComponentByID, "getPathComponentByID"},
	}); err != nil {
		return err
	}

	if err := prepareAll(ctx, m.db, []stmtDef{
		{&m.itemStmts.getByPathComponent, sqlGetItemByPathComponent, "getItemByPathComponent"},
		{&m.itemStmts.getByID, sqlGetItemByID, "getItemByID"},
	}); err != nil {
		return err
	}

	if err := prepareAll(ctx, m.db, []stmtDef{
		{&m.peerStmts.getLocal, sqlGetLocalStore, "getLocalStore"},
		{&m.peerStmts.getByUnique, sqlGetStoreByUniqueName, "getStoreByUniqueName"},
		{&m.peerStmts.listAll, sqlListAllStores, "listAllStores"},
	}); err != nil {
		return err
	}

	return prepareAll(ctx, m.db, []stmtDef{
		{&m.ruleStmts.listOrdered, sqlListInclusionRulesOrdered, "listInclusionRulesOrdered"},
	})
}

package metadatadb

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/tonimelisma/data-squirrel/internal/relpath"
)

// InclusionRule is one ordered (glob, include) pair for a store (§3, §4.5.9).
type InclusionRule struct {
	ID      int64
	StoreID int64
	Seq     int64
	Glob    string
	Include bool
}

// ListInclusionRules returns storeID's rules in evaluation order.
func (m *MetadataDB) ListInclusionRules(ctx context.Context, storeID int64) ([]InclusionRule, error) {
	rows, err := m.ruleStmts.listOrdered.QueryContext(ctx, storeID)
	if err != nil {
		return nil, fmt.Errorf("metadatadb: listing inclusion rules for store %d: %w", storeID, err)
	}
	defer rows.Close()

	var out []InclusionRule

	for rows.Next() {
		var (
			r         InclusionRule
			includeInt int
		)

		if err := rows.Scan(&r.ID, &r.StoreID, &r.Seq, &r.Glob, &includeInt); err != nil {
			return nil, fmt.Errorf("metadatadb: scanning inclusion rule: %w", err)
		}

		r.Include = includeInt != 0
		out = append(out, r)
	}

	return out, rows.Err()
}

// AppendInclusionRule adds a new rule at the end of storeID's ordered list.
func (m *MetadataDB) AppendInclusionRule(ctx context.Context, storeID int64, glob string, include bool) (int64, error) {
	var maxSeq int64

	if err := m.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), -1) FROM inclusion_rules WHERE store_id = ?`, storeID).Scan(&maxSeq); err != nil {
		return 0, fmt.Errorf("metadatadb: finding next inclusion rule sequence for store %d: %w", storeID, err)
	}

	res, err := m.db.ExecContext(ctx,
		`INSERT INTO inclusion_rules (store_id, seq, glob, include_bool) VALUES (?, ?, ?, ?)`,
		storeID, maxSeq+1, glob, include)
	if err != nil {
		return 0, fmt.Errorf("metadatadb: appending inclusion rule for store %d: %w", storeID, err)
	}

	return res.LastInsertId()
}

// RemoveInclusionRule deletes a single rule by id.
func (m *MetadataDB) RemoveInclusionRule(ctx context.Context, ruleID int64) error {
	if _, err := m.db.ExecContext(ctx, `DELETE FROM inclusion_rules WHERE id = ?`, ruleID); err != nil {
		return fmt.Errorf("metadatadb: removing inclusion rule %d: %w", ruleID, err)
	}

	return nil
}

// EnsureDefaultInclusionRule gives a store with no rules the universal-include
// rule a fresh store starts with (§3: "default set contains one universal include").
func (m *MetadataDB) EnsureDefaultInclusionRule(ctx context.Context, storeID int64) error {
	rules, err := m.ListInclusionRules(ctx, storeID)
	if err != nil {
		return err
	}

	if len(rules) > 0 {
		return nil
	}

	_, err = m.AppendInclusionRule(ctx, storeID, "**", true)

	return err
}

// IsIncluded evaluates storeID's ordered rule list against path (§4.5.9,
// §4.8): start excluded; each matching include rule turns inclusion on,
// each matching exclude rule turns it back off, in list order. Matching is
// against the path's components joined with "/".
func (m *MetadataDB) IsIncluded(ctx context.Context, storeID int64, p relpath.RelativePath) (bool, error) {
	rules, err := m.ListInclusionRules(ctx, storeID)
	if err != nil {
		return false, err
	}

	return EvaluateInclusion(rules, p), nil
}

// EvaluateInclusion runs the §4.5.9 algorithm against an already-fetched
// rule list, for callers (e.g. the scan engine) evaluating many paths
// against the same store without re-querying per path.
func EvaluateInclusion(rules []InclusionRule, p relpath.RelativePath) bool {
	joined := strings.Join(p.Components(), "/")

	included := false

	for _, r := range rules {
		if !globMatches(r.Glob, joined) {
			continue
		}

		included = r.Include
	}

	return included
}

// globMatches supports the universal "**" wildcard (matching every path,
// any depth) in addition to path.Match's single-segment "*"/"?"/"[...]"
// syntax, since path.Match alone cannot express "everything, recursively".
func globMatches(glob, joined string) bool {
	if glob == "**" {
		return true
	}

	if strings.HasSuffix(glob, "/**") {
		prefix := strings.TrimSuffix(glob, "/**")
		return joined == prefix || strings.HasPrefix(joined, prefix+"/")
	}

	matched, err := path.Match(glob, joined)

	return err == nil && matched
}

// Package repository implements the Conductor's persistence layer: one
// Postgres-backed store per entity in spec.md §3 ([MODULE] Repository),
// sharing the marker-based list pagination the original control plane's
// db/sqlalchemy/api.py implements as _paginate_query(model, limit, marker,
// sort_key, sort_dir, query).
//
// Grounded on the teacher's internal/db package shape (one *DB-suffixed
// struct per entity wrapping *sql.DB, COALESCE'd scans, context-aware
// methods) using the same lib/pq driver.
package repository

import (
	"database/sql"
	"fmt"
	"strings"
)

// ListParams are the common list arguments every entity's List operation
// accepts, per spec.md §4.A: filters, limit, marker (the UUID of the last
// row seen by the caller), sort_key and sort_dir.
type ListParams struct {
	Filters map[string]string
	Limit   int
	Marker  string
	SortKey string
	SortDir string
}

const defaultListLimit = 100

func (p ListParams) limit() int {
	if p.Limit <= 0 || p.Limit > 1000 {
		return defaultListLimit
	}
	return p.Limit
}

func (p ListParams) sortKey() string {
	if p.SortKey == "" {
		return "created_at"
	}
	return p.SortKey
}

func (p ListParams) sortDir() string {
	if strings.EqualFold(p.SortDir, "desc") {
		return "DESC"
	}
	return "ASC"
}

// markerCursor resolves the sort_key value and numeric id of the marker row
// so the query can page on the composite (sort_key, id) key, the same
// tie-breaking approach _paginate_query relies on to make pagination stable
// when sort_key has duplicate values.
type markerCursor struct {
	sortVal string
	id      int64
}

func resolveMarker(db *sql.DB, table, uuidCol, sortKey, marker string) (*markerCursor, error) {
	if marker == "" {
		return nil, nil
	}
	query := fmt.Sprintf("SELECT %s::text, id FROM %s WHERE %s = $1", sortKey, table, uuidCol)
	var cur markerCursor
	if err := db.QueryRow(query, marker).Scan(&cur.sortVal, &cur.id); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("marker %s not found in %s", marker, table)
		}
		return nil, fmt.Errorf("resolving marker: %w", err)
	}
	return &cur, nil
}

// paginationClause builds the "(sort_key, id) > ($n, $n+1)" WHERE fragment
// (or "<" for a descending sort) plus the trailing ORDER BY/LIMIT, appending
// any needed bind values to args. argOffset is the number of $ placeholders
// already consumed by the caller's own filter clauses.
func paginationClause(cur *markerCursor, p ListParams, argOffset int, args []interface{}) (whereFragment, tailFragment string, outArgs []interface{}) {
	op := ">"
	if p.sortDir() == "DESC" {
		op = "<"
	}

	sortKey := p.sortKey()
	if cur != nil {
		whereFragment = fmt.Sprintf(" AND (%s, id) %s ($%d, $%d)", sortKey, op, argOffset+1, argOffset+2)
		args = append(args, cur.sortVal, cur.id)
	}

	tailFragment = fmt.Sprintf(" ORDER BY %s %s, id %s LIMIT %d", sortKey, p.sortDir(), p.sortDir(), p.limit())
	return whereFragment, tailFragment, args
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

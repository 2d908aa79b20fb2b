package sqlitestore

import (
	"context"
	"fmt"

	"github.com/miku/authorkit/bibref"
	"github.com/miku/authorkit/compare"
	"github.com/miku/authorkit/hoover"
	"github.com/miku/authorkit/merge"
	"github.com/miku/authorkit/tortoise"
)

var (
	_ compare.Source       = (*Store)(nil)
	_ tortoise.Source      = (*Store)(nil)
	_ tortoise.ResultStore = (*Store)(nil)
	_ merge.PersonStore    = (*Store)(nil)
	_ merge.ResultReader   = (*Store)(nil)
	_ hoover.Store         = (*Store)(nil)
)

// queryStrings runs a query returning a single text column.
func (s *Store) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	var result []string
	err := s.retryOnBusy(ctx, func() error {
		result = result[:0]
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var v string
			if err := rows.Scan(&v); err != nil {
				return err
			}
			result = append(result, v)
		}
		return rows.Err()
	})
	return result, err
}

// FieldValues returns the values of a subfield of the author field of a
// signature. The name subfield comes from the author name table.
func (s *Store) FieldValues(ctx context.Context, bib bibref.Record, code string) ([]string, error) {
	if code == compare.SubfieldName {
		return s.queryStrings(ctx, `
			SELECT name FROM author_names WHERE table_id = ? AND ref = ?`, bib.Table, bib.Ref)
	}
	return s.queryStrings(ctx, `
		SELECT value FROM signature_fields
		WHERE table_id = ? AND ref = ? AND rec = ? AND code = ?
		ORDER BY value`, bib.Table, bib.Ref, bib.Rec, code)
}

// SignaturesWithValue returns the signatures of valid records whose subfield
// code carries value.
func (s *Store) SignaturesWithValue(ctx context.Context, code, value string) ([]bibref.Record, error) {
	var result []bibref.Record
	err := s.retryOnBusy(ctx, func() error {
		result = result[:0]
		rows, err := s.db.QueryContext(ctx, `
			SELECT DISTINCT f.table_id, f.ref, f.rec FROM signature_fields f
			JOIN records r ON r.rec = f.rec AND r.valid = 1
			WHERE f.code = ? AND f.value = ?
			ORDER BY f.rec, f.table_id, f.ref`, code, value)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var b bibref.Record
			if err := rows.Scan(&b.Table, &b.Ref, &b.Rec); err != nil {
				return err
			}
			result = append(result, b)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: signatures with %s=%s: %w", code, value, err)
	}
	return result, nil
}

// Collaborations returns the collaborations of a record.
func (s *Store) Collaborations(ctx context.Context, rec int) ([]string, error) {
	return s.queryStrings(ctx, `SELECT name FROM collaborations WHERE rec = ? ORDER BY name`, rec)
}

// AllAuthors returns all author names of a record.
func (s *Store) AllAuthors(ctx context.Context, rec int) ([]string, error) {
	return s.queryStrings(ctx, `
		SELECT n.name FROM signatures s
		JOIN author_names n ON n.table_id = s.table_id AND n.ref = s.ref
		WHERE s.rec = ?
		ORDER BY s.table_id, s.ref`, rec)
}

// CitationDict returns the citation graph in the requested direction.
func (s *Store) CitationDict(ctx context.Context, kind compare.CitationKind) (map[int][]int, error) {
	var query string
	switch kind {
	case compare.Citations:
		query = `SELECT citer, cited FROM citations ORDER BY citer, cited`
	case compare.CitedBy:
		query = `SELECT cited, citer FROM citations ORDER BY cited, citer`
	default:
		return nil, fmt.Errorf("sqlitestore: unknown citation kind %q", kind)
	}
	result := make(map[int][]int)
	err := s.retryOnBusy(ctx, func() error {
		clear(result)
		rows, err := s.db.QueryContext(ctx, query)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var k, v int
			if err := rows.Scan(&k, &v); err != nil {
				return err
			}
			result[k] = append(result[k], v)
		}
		return rows.Err()
	})
	return result, err
}

// AuthorNames returns the (ref, name) rows of a table.
func (s *Store) AuthorNames(ctx context.Context, table int) ([]tortoise.NameRow, error) {
	var result []tortoise.NameRow
	err := s.retryOnBusy(ctx, func() error {
		result = result[:0]
		rows, err := s.db.QueryContext(ctx, `
			SELECT ref, name FROM author_names WHERE table_id = ? ORDER BY ref`, table)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var r tortoise.NameRow
			if err := rows.Scan(&r.Ref, &r.Name); err != nil {
				return err
			}
			result = append(result, r)
		}
		return rows.Err()
	})
	return result, err
}

// ValidRecords returns the ids of all valid records.
func (s *Store) ValidRecords(ctx context.Context) ([]int, error) {
	var result []int
	err := s.retryOnBusy(ctx, func() error {
		result = result[:0]
		rows, err := s.db.QueryContext(ctx, `SELECT rec FROM records WHERE valid = 1 ORDER BY rec`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var rec int
			if err := rows.Scan(&rec); err != nil {
				return err
			}
			result = append(result, rec)
		}
		return rows.Err()
	})
	return result, err
}

// SignatureSubset returns the signatures of a table whose record and ref are
// in the given lists.
func (s *Store) SignatureSubset(ctx context.Context, table int, recs, refs []int) ([]bibref.Record, error) {
	recSet, refSet := make(map[int]bool, len(recs)), make(map[int]bool, len(refs))
	for _, r := range recs {
		recSet[r] = true
	}
	for _, r := range refs {
		refSet[r] = true
	}
	var result []bibref.Record
	err := s.retryOnBusy(ctx, func() error {
		result = result[:0]
		rows, err := s.db.QueryContext(ctx, `
			SELECT table_id, ref, rec FROM signatures WHERE table_id = ?
			ORDER BY ref, rec`, table)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var b bibref.Record
			if err := rows.Scan(&b.Table, &b.Ref, &b.Rec); err != nil {
				return err
			}
			if recSet[b.Rec] && refSet[b.Ref] {
				result = append(result, b)
			}
		}
		return rows.Err()
	})
	return result, err
}

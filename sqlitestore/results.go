package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/miku/authorkit/bibref"
	"github.com/miku/authorkit/clustering"
)

// SaveCluster stores the signatures of one cluster under key, e.g.
// "ellis.3". The bucket name is taken from the key.
func (s *Store) SaveCluster(ctx context.Context, key string, bibs []bibref.Record) error {
	name, _, _ := clustering.ParseResultKey(key)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO results (cluster, last_name, table_id, ref, rec) VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, b := range bibs {
			if _, err := stmt.ExecContext(ctx, key, name, b.Table, b.Ref, b.Rec); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("sqlitestore: save cluster %s: %w", key, err)
	}
	return nil
}

// DeleteResults removes the stored results of a bucket.
func (s *Store) DeleteResults(ctx context.Context, lastName string) error {
	return s.retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM results WHERE last_name = ?`, lastName)
		return err
	})
}

// ResultBuckets lists the last names that have stored results.
func (s *Store) ResultBuckets(ctx context.Context) ([]string, error) {
	var result []string
	err := s.retryOnBusy(ctx, func() error {
		result = result[:0]
		rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT last_name FROM results ORDER BY last_name`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				return err
			}
			result = append(result, name)
		}
		return rows.Err()
	})
	return result, err
}

// LastNameResults returns the stored rows of a bucket.
func (s *Store) LastNameResults(ctx context.Context, lastName string) ([]clustering.ResultRow, error) {
	var result []clustering.ResultRow
	err := s.retryOnBusy(ctx, func() error {
		result = result[:0]
		rows, err := s.db.QueryContext(ctx, `
			SELECT cluster, table_id, ref, rec FROM results
			WHERE last_name = ?
			ORDER BY cluster, table_id, ref, rec`, lastName)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var r clustering.ResultRow
			if err := rows.Scan(&r.Key, &r.Bib.Table, &r.Bib.Ref, &r.Bib.Rec); err != nil {
				return err
			}
			result = append(result, r)
		}
		return rows.Err()
	})
	return result, err
}

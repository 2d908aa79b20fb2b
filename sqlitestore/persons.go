package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/miku/authorkit/bibref"
	"github.com/miku/authorkit/names"
	"github.com/miku/authorkit/personid"
)

const personSequence = "personid"

func (s *Store) personRows(ctx context.Context, query string, args ...any) ([]personid.Row, error) {
	var result []personid.Row
	err := s.retryOnBusy(ctx, func() error {
		result = result[:0]
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var r personid.Row
			if err := rows.Scan(&r.PersonID, &r.Bib.Table, &r.Bib.Ref, &r.Bib.Rec, &r.Flag); err != nil {
				return err
			}
			result = append(result, r)
		}
		return rows.Err()
	})
	return result, err
}

// PersonsFromSignature returns the rows owning the signature.
func (s *Store) PersonsFromSignature(ctx context.Context, bib bibref.Record) ([]personid.Row, error) {
	return s.personRows(ctx, `
		SELECT personid, table_id, ref, rec, flag FROM personid_papers
		WHERE table_id = ? AND ref = ? AND rec = ? AND flag < ?
		ORDER BY flag, personid`, bib.Table, bib.Ref, bib.Rec, personid.Rejected)
}

// SignatureInfo returns all rows of the signature.
func (s *Store) SignatureInfo(ctx context.Context, bib bibref.Record) ([]personid.Row, error) {
	return s.personRows(ctx, `
		SELECT personid, table_id, ref, rec, flag FROM personid_papers
		WHERE table_id = ? AND ref = ? AND rec = ?
		ORDER BY flag, personid`, bib.Table, bib.Ref, bib.Rec)
}

// FindConflicts returns the signatures owned by pid on the same record and
// table as bib.
func (s *Store) FindConflicts(ctx context.Context, bib bibref.Record, pid int64) ([]personid.Row, error) {
	return s.personRows(ctx, `
		SELECT personid, table_id, ref, rec, flag FROM personid_papers
		WHERE personid = ? AND table_id = ? AND rec = ? AND ref != ? AND flag < ?
		ORDER BY ref`, pid, bib.Table, bib.Rec, bib.Ref, personid.Rejected)
}

// PersonIDs returns the identities owning at least one signature, in
// ascending order.
func (s *Store) PersonIDs(ctx context.Context) ([]int64, error) {
	var result []int64
	err := s.retryOnBusy(ctx, func() error {
		result = result[:0]
		rows, err := s.db.QueryContext(ctx, `
			SELECT DISTINCT personid FROM personid_papers WHERE flag < ?
			ORDER BY personid`, personid.Rejected)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var pid int64
			if err := rows.Scan(&pid); err != nil {
				return err
			}
			result = append(result, pid)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: person ids: %w", err)
	}
	return result, nil
}

// PersonPapers returns all rows of an identity.
func (s *Store) PersonPapers(ctx context.Context, pid int64) ([]personid.Row, error) {
	return s.personRows(ctx, `
		SELECT personid, table_id, ref, rec, flag FROM personid_papers
		WHERE personid = ?
		ORDER BY table_id, ref, rec`, pid)
}

// ClaimedPapers returns the signatures claimed for pid.
func (s *Store) ClaimedPapers(ctx context.Context, pid int64) ([]bibref.Record, error) {
	rows, err := s.personRows(ctx, `
		SELECT personid, table_id, ref, rec, flag FROM personid_papers
		WHERE personid = ? AND flag <= ?
		ORDER BY table_id, ref, rec`, pid, personid.Claimed)
	if err != nil {
		return nil, err
	}
	result := make([]bibref.Record, 0, len(rows))
	for _, r := range rows {
		result = append(result, r.Bib)
	}
	return result, nil
}

// SetFlag writes a row for (pid, bib) with the given flag. Claiming a
// signature removes its other owning rows.
func (s *Store) SetFlag(ctx context.Context, pid int64, bib bibref.Record, flag personid.Flag) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if flag.Owns() {
			if _, err := tx.ExecContext(ctx, `
				DELETE FROM personid_papers
				WHERE table_id = ? AND ref = ? AND rec = ? AND flag < ? AND personid != ?`,
				bib.Table, bib.Ref, bib.Rec, personid.Rejected, pid); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO persons (personid) VALUES (?)`, pid); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO personid_papers (personid, table_id, ref, rec, flag)
			VALUES (?, ?, ?, ?, ?)`, pid, bib.Table, bib.Ref, bib.Rec, flag)
		return err
	})
}

// MoveSignature makes pid the automatic owner of the signature.
func (s *Store) MoveSignature(ctx context.Context, bib bibref.Record, pid int64) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM personid_papers
			WHERE table_id = ? AND ref = ? AND rec = ? AND flag < ?`,
			bib.Table, bib.Ref, bib.Rec, personid.Rejected); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO persons (personid) VALUES (?)`, pid); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO personid_papers (personid, table_id, ref, rec, flag)
			VALUES (?, ?, ?, ?, ?)`, pid, bib.Table, bib.Ref, bib.Rec, personid.Assigned)
		return err
	})
	if err != nil {
		return fmt.Errorf("sqlitestore: move %s to %d: %w", bib, pid, err)
	}
	return nil
}

// NewPersonID allocates an identity above every identity seen so far.
func (s *Store) NewPersonID(ctx context.Context) (int64, error) {
	var pid int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			SELECT MAX(
				COALESCE((SELECT value FROM sequences WHERE name = ?), 0),
				COALESCE((SELECT MAX(personid) FROM persons), 0),
				COALESCE((SELECT MAX(personid) FROM personid_papers), 0)
			) + 1`, personSequence).Scan(&pid)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sequences (name, value) VALUES (?, ?)
			ON CONFLICT(name) DO UPDATE SET value = excluded.value`, personSequence, pid); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO persons (personid) VALUES (?)`, pid)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("sqlitestore: new person: %w", err)
	}
	return pid, nil
}

// DeleteEmptyPersons removes identities without owned signatures. Rejection
// rows of such identities are kept.
func (s *Store) DeleteEmptyPersons(ctx context.Context) (int, error) {
	var n int64
	err := s.retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
			DELETE FROM persons WHERE personid NOT IN (
				SELECT DISTINCT personid FROM personid_papers WHERE flag < ?
			)`, personid.Rejected)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("sqlitestore: delete empty persons: %w", err)
	}
	return int(n), nil
}

// UpdateCanonicalNames derives a display name for every identity from the
// most relevant name variant of its signatures, e.g. "J.R.Ellis.1".
// Identities sharing a base name are numbered in identity order.
func (s *Store) UpdateCanonicalNames(ctx context.Context) error {
	variants := make(map[int64][]string)
	err := s.retryOnBusy(ctx, func() error {
		clear(variants)
		rows, err := s.db.QueryContext(ctx, `
			SELECT p.personid, n.name FROM personid_papers p
			JOIN author_names n ON n.table_id = p.table_id AND n.ref = p.ref
			WHERE p.flag < ?
			ORDER BY p.personid, p.table_id, p.ref, p.rec`, personid.Rejected)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var (
				pid  int64
				name string
			)
			if err := rows.Scan(&pid, &name); err != nil {
				return err
			}
			variants[pid] = append(variants[pid], name)
		}
		return rows.Err()
	})
	if err != nil {
		return fmt.Errorf("sqlitestore: canonical names: %w", err)
	}
	pids := make([]int64, 0, len(variants))
	for pid := range variants {
		pids = append(pids, pid)
	}
	sort.Slice(pids, func(i, j int) bool { return pids[i] < pids[j] })
	var (
		counter   = make(map[string]int)
		canonical = make(map[int64]string, len(pids))
	)
	for _, pid := range pids {
		base := names.Canonical(names.MostRelevant(variants[pid]))
		if base == "" {
			continue
		}
		counter[base]++
		canonical[pid] = fmt.Sprintf("%s.%d", base, counter[base])
	}
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO persons (personid, canonical_name) VALUES (?, ?)
			ON CONFLICT(personid) DO UPDATE SET canonical_name = excluded.canonical_name`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, pid := range pids {
			if name, ok := canonical[pid]; ok {
				if _, err := stmt.ExecContext(ctx, pid, name); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("sqlitestore: canonical names: %w", err)
	}
	s.log.WithField("persons", len(canonical)).Debug("updated canonical names")
	return nil
}

// CanonicalName returns the display name of an identity.
func (s *Store) CanonicalName(ctx context.Context, pid int64) (string, error) {
	var name string
	err := s.db.QueryRowContext(ctx, `SELECT canonical_name FROM persons WHERE personid = ?`, pid).Scan(&name)
	return name, err
}

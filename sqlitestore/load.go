package sqlitestore

import (
	"bufio"
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"

	"github.com/segmentio/encoding/json"

	"github.com/miku/authorkit/bibref"
	"github.com/miku/authorkit/personid"
)

const (
	importBatchSize = 1000
	maxLineSize     = 1 << 24
)

// Doc is one line of a newline delimited JSON dump. Exactly one of Record
// and Person is set.
type Doc struct {
	Record *RecordDoc `json:"record,omitempty"`
	Person *PersonDoc `json:"person,omitempty"`
}

// RecordDoc carries a record with its authors and metadata.
type RecordDoc struct {
	Rec            int         `json:"rec"`
	Invalid        bool        `json:"invalid,omitempty"`
	Collaborations []string    `json:"collaborations,omitempty"`
	Cites          []int       `json:"cites,omitempty"`
	Authors        []AuthorDoc `json:"authors"`
}

// AuthorDoc is an author field of a record. Fields holds the subfields by
// code, e.g. "u" for affiliations.
type AuthorDoc struct {
	Table  int                 `json:"table"`
	Ref    int                 `json:"ref"`
	Name   string              `json:"name"`
	Fields map[string][]string `json:"fields,omitempty"`
}

// PersonDoc is a persisted identity row, the signature in "100:1,5" form.
type PersonDoc struct {
	PersonID int64         `json:"personid"`
	Sig      bibref.Record `json:"sig"`
	Flag     personid.Flag `json:"flag"`
}

// ImportStats counts imported documents.
type ImportStats struct {
	Records    int
	Signatures int
	Persons    int
}

// Import reads a newline delimited JSON dump. Documents are written in
// batches, each batch in one transaction.
func (s *Store) Import(ctx context.Context, r io.Reader) (ImportStats, error) {
	var (
		stats   ImportStats
		batch   []Doc
		lineNum int
		br      = bufio.NewScanner(r)
	)
	br.Buffer(make([]byte, 0, 1<<16), maxLineSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		err := s.withTx(ctx, func(tx *sql.Tx) error {
			for _, doc := range batch {
				if err := importDoc(ctx, tx, doc); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, doc := range batch {
			switch {
			case doc.Record != nil:
				stats.Records++
				stats.Signatures += len(doc.Record.Authors)
			case doc.Person != nil:
				stats.Persons++
			}
		}
		batch = batch[:0]
		return nil
	}
	for br.Scan() {
		lineNum++
		line := bytes.TrimSpace(br.Bytes())
		if len(line) == 0 {
			continue
		}
		var doc Doc
		if err := json.Unmarshal(line, &doc); err != nil {
			return stats, fmt.Errorf("sqlitestore: line %d: %w", lineNum, err)
		}
		if (doc.Record == nil) == (doc.Person == nil) {
			return stats, fmt.Errorf("sqlitestore: line %d: need exactly one of record or person", lineNum)
		}
		batch = append(batch, doc)
		if len(batch) == importBatchSize {
			if err := flush(); err != nil {
				return stats, err
			}
		}
	}
	if err := br.Err(); err != nil {
		return stats, err
	}
	if err := flush(); err != nil {
		return stats, err
	}
	s.log.WithField("records", stats.Records).WithField("persons", stats.Persons).Info("import done")
	return stats, nil
}

func importDoc(ctx context.Context, tx *sql.Tx, doc Doc) error {
	if p := doc.Person; p != nil {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO persons (personid) VALUES (?)`, p.PersonID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO personid_papers (personid, table_id, ref, rec, flag)
			VALUES (?, ?, ?, ?, ?)`, p.PersonID, p.Sig.Table, p.Sig.Ref, p.Sig.Rec, p.Flag)
		return err
	}
	rec := doc.Record
	valid := 1
	if rec.Invalid {
		valid = 0
	}
	if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO records (rec, valid) VALUES (?, ?)`, rec.Rec, valid); err != nil {
		return err
	}
	for _, c := range rec.Collaborations {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO collaborations (rec, name) VALUES (?, ?)`, rec.Rec, c); err != nil {
			return err
		}
	}
	for _, c := range rec.Cites {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO citations (citer, cited) VALUES (?, ?)`, rec.Rec, c); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM signature_fields WHERE rec = ?`, rec.Rec); err != nil {
		return err
	}
	for _, a := range rec.Authors {
		if a.Table != bibref.TableFirstAuthor && a.Table != bibref.TableCoAuthor {
			return fmt.Errorf("%w: record %d: table %d", bibref.ErrInvalidSignature, rec.Rec, a.Table)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO author_names (table_id, ref, name) VALUES (?, ?, ?)`,
			a.Table, a.Ref, a.Name); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO signatures (table_id, ref, rec) VALUES (?, ?, ?)`,
			a.Table, a.Ref, rec.Rec); err != nil {
			return err
		}
		for code, values := range a.Fields {
			for _, v := range values {
				if _, err := tx.ExecContext(ctx, `
					INSERT INTO signature_fields (table_id, ref, rec, code, value) VALUES (?, ?, ?, ?, ?)`,
					a.Table, a.Ref, rec.Rec, code, v); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

package merge

import (
	"context"

	"github.com/miku/authorkit/bibref"
	"github.com/miku/authorkit/clustering"
	"github.com/miku/authorkit/personid"
)

// PersonStore is the persisted identity state the merge reads and writes.
type PersonStore interface {
	// PersonsFromSignature returns the rows that own the signature.
	PersonsFromSignature(ctx context.Context, bib bibref.Record) ([]personid.Row, error)
	// SignatureInfo returns all rows of the signature, rejections included.
	SignatureInfo(ctx context.Context, bib bibref.Record) ([]personid.Row, error)
	// MoveSignature makes pid the automatic owner of the signature. Rejection
	// rows are kept.
	MoveSignature(ctx context.Context, bib bibref.Record, pid int64) error
	// FindConflicts returns the signatures owned by pid that sit on the same
	// record and table as bib, bib itself excluded.
	FindConflicts(ctx context.Context, bib bibref.Record, pid int64) ([]personid.Row, error)
	// ClaimedPapers returns the signatures claimed for pid.
	ClaimedPapers(ctx context.Context, pid int64) ([]bibref.Record, error)
	// NewPersonID allocates an unused identity.
	NewPersonID(ctx context.Context) (int64, error)
	// DeleteEmptyPersons removes identities without owned signatures.
	DeleteEmptyPersons(ctx context.Context) (int, error)
	// UpdateCanonicalNames regenerates display names of all identities.
	UpdateCanonicalNames(ctx context.Context) error
}

// ResultReader gives access to stored clustering results.
type ResultReader interface {
	// ResultBuckets lists the last names that have stored results.
	ResultBuckets(ctx context.Context) ([]string, error)
	// LastNameResults returns the stored rows of one last name.
	LastNameResults(ctx context.Context, lastName string) ([]clustering.ResultRow, error)
}

// Checkpoint records committed buckets, so an interrupted run can resume.
type Checkpoint interface {
	Done(bucket string) bool
	MarkDone(bucket string) error
}

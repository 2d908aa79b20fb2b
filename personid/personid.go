// Package personid describes persisted author identities and the claim status
// of a signature with respect to an identity.
package personid

import "github.com/miku/authorkit/bibref"

// NoPerson marks a signature that is not assigned to any identity.
const NoPerson int64 = -1

// Flag is the claim status of a (identity, signature) pair.
//
//	claimed   flag <= -2
//	assigned  -2 < flag < 2
//	rejected  flag >= 2
type Flag int

const (
	Claimed  Flag = -2
	Assigned Flag = 0
	Rejected Flag = 2
)

// IsClaimed reports a user asserted assignment.
func (f Flag) IsClaimed() bool { return f <= Claimed }

// IsAssigned reports an automatic assignment.
func (f Flag) IsAssigned() bool { return f > Claimed && f < Rejected }

// IsRejected reports a user asserted non-membership.
func (f Flag) IsRejected() bool { return f >= Rejected }

// Owns is true if the flag places the signature in the identity, claimed or
// not.
func (f Flag) Owns() bool { return f < Rejected }

// Row is one persisted (identity, signature, flag) triple.
type Row struct {
	PersonID int64
	Bib      bibref.Record
	Flag     Flag
}

// Owner returns the row that currently owns the signature, if any. A signature
// has at most one owning row; rejections may exist for other identities.
func Owner(rows []Row) (Row, bool) {
	for _, r := range rows {
		if r.Flag.Owns() {
			return r, true
		}
	}
	return Row{}, false
}

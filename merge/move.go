package merge

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/miku/authorkit/bibref"
	"github.com/miku/authorkit/personid"
)

// Outcome of a single placement.
type Outcome int

const (
	// Untouched: the signature is already in place or claimed elsewhere.
	Untouched Outcome = iota
	// Moved into the target identity, from another identity or from none.
	Moved
	// Reallocated to a fresh identity, because the target rejected the
	// signature or a claimed signature already occupies its slot.
	Reallocated
	// Evicted conflicting signatures to fresh identities, then moved.
	Evicted
)

func (o Outcome) String() string {
	switch o {
	case Untouched:
		return "untouched"
	case Moved:
		return "moved"
	case Reallocated:
		return "reallocated"
	case Evicted:
		return "evicted"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// TryMoveSignature places a signature into the target identity unless a user
// decision forbids it. Unowned signatures are placed like owned ones. Claims
// are never overridden and a signature is never dropped: whenever the target
// cannot take it, a fresh identity does.
func (m *Merger) TryMoveSignature(ctx context.Context, bib bibref.Record, target int64) (Outcome, error) {
	rows, err := m.persons.SignatureInfo(ctx, bib)
	if err != nil {
		return Untouched, err
	}
	owner, ok := personid.Owner(rows)
	if ok && (owner.PersonID == target || owner.Flag.IsClaimed()) {
		return Untouched, nil
	}
	for _, r := range rows {
		if r.PersonID == target && r.Flag.IsRejected() {
			return m.reallocate(ctx, bib)
		}
	}
	conflicts, err := m.persons.FindConflicts(ctx, bib, target)
	if err != nil {
		return Untouched, err
	}
	if len(conflicts) == 0 {
		if err := m.persons.MoveSignature(ctx, bib, target); err != nil {
			return Untouched, err
		}
		return Moved, nil
	}
	for _, c := range conflicts {
		if c.Flag.IsClaimed() {
			return m.reallocate(ctx, bib)
		}
	}
	for _, c := range conflicts {
		pid, err := m.persons.NewPersonID(ctx)
		if err != nil {
			return Untouched, err
		}
		if err := m.persons.MoveSignature(ctx, c.Bib, pid); err != nil {
			return Untouched, err
		}
	}
	m.log.WithFields(logrus.Fields{
		"bib":     bib.String(),
		"target":  target,
		"evicted": len(conflicts),
	}).Debug("evicted conflicting signatures")
	if err := m.persons.MoveSignature(ctx, bib, target); err != nil {
		return Untouched, err
	}
	return Evicted, nil
}

func (m *Merger) reallocate(ctx context.Context, bib bibref.Record) (Outcome, error) {
	pid, err := m.persons.NewPersonID(ctx)
	if err != nil {
		return Untouched, err
	}
	if err := m.persons.MoveSignature(ctx, bib, pid); err != nil {
		return Untouched, err
	}
	return Reallocated, nil
}

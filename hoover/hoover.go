// Package hoover pulls signatures into the identity that carries the same
// external author identifier, an INSPIRE id or an ORCID, on its papers.
//
// Identifiers found on claimed papers are reliable and are handled first.
// Identities without a reliable identifier fall back to the identifiers on
// their unclaimed papers, as long as no other identity holds the same one.
package hoover

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/miku/authorkit/bibref"
	"github.com/miku/authorkit/compare"
	"github.com/miku/authorkit/personid"
)

// DefaultCodes are the identifier subfields looked at, in order.
var DefaultCodes = []string{compare.SubfieldInspireID, compare.SubfieldORCID}

var errConflictingIDs = errors.New("hoover: signature carries more than one identifier")

// Store is the identity state the hoover reads and writes.
type Store interface {
	// PersonIDs returns all identities owning at least one signature.
	PersonIDs(ctx context.Context) ([]int64, error)
	// PersonPapers returns all rows of an identity.
	PersonPapers(ctx context.Context, pid int64) ([]personid.Row, error)
	// FieldValues returns the values of a subfield of a signature.
	FieldValues(ctx context.Context, bib bibref.Record, code string) ([]string, error)
	// SignaturesWithValue returns the signatures whose subfield code has
	// the given value.
	SignaturesWithValue(ctx context.Context, code, value string) ([]bibref.Record, error)
	// SignatureInfo returns all rows of a signature, rejections included.
	SignatureInfo(ctx context.Context, bib bibref.Record) ([]personid.Row, error)
	MoveSignature(ctx context.Context, bib bibref.Record, pid int64) error
	NewPersonID(ctx context.Context) (int64, error)
	DeleteEmptyPersons(ctx context.Context) (int, error)
	UpdateCanonicalNames(ctx context.Context) error
}

// Stats summarizes a run.
type Stats struct {
	Reliable   int // identities with an identifier from claimed papers
	Unreliable int // identities with an identifier from unclaimed papers only
	Vacuumed   int // signatures moved into an identity
	Split      int // unclaimed duplicates moved out to a new identity
	Conflicts  int // signatures left alone, record claimed by the identity
	Skipped    int // signatures left alone, claimed elsewhere or rejected
	Ambiguous  int // identifiers or identities that could not be paired
	Deleted    int // identities left empty
}

// Option configures a Hoover.
type Option func(*Hoover)

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(h *Hoover) {
		if log != nil {
			h.log = log
		}
	}
}

// WithCodes sets the identifier subfields to look at.
func WithCodes(codes ...string) Option {
	return func(h *Hoover) {
		if len(codes) > 0 {
			h.codes = codes
		}
	}
}

// WithDryRun only reports what would be moved.
func WithDryRun(b bool) Option {
	return func(h *Hoover) { h.dryRun = b }
}

// Hoover joins signatures by external identifier.
type Hoover struct {
	store  Store
	log    logrus.FieldLogger
	codes  []string
	dryRun bool
}

// New returns a Hoover over store.
func New(store Store, opts ...Option) *Hoover {
	h := &Hoover{
		store: store,
		log:   logrus.StandardLogger(),
		codes: DefaultCodes,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run looks at every identity once per identifier code, moves signatures and
// finally removes empty identities and regenerates canonical names.
func (h *Hoover) Run(ctx context.Context) (Stats, error) {
	var stats Stats
	pids, err := h.store.PersonIDs(ctx)
	if err != nil {
		return stats, fmt.Errorf("hoover: persons: %w", err)
	}
	sort.Slice(pids, func(i, j int) bool { return pids[i] < pids[j] })
	for _, code := range h.codes {
		if err := h.runCode(ctx, code, pids, &stats); err != nil {
			return stats, err
		}
	}
	h.log.WithFields(logrus.Fields{
		"vacuumed":  stats.Vacuumed,
		"split":     stats.Split,
		"conflicts": stats.Conflicts,
		"ambiguous": stats.Ambiguous,
		"dry":       h.dryRun,
	}).Info("hoover done")
	if h.dryRun {
		return stats, nil
	}
	if stats.Deleted, err = h.store.DeleteEmptyPersons(ctx); err != nil {
		return stats, fmt.Errorf("hoover: delete empty persons: %w", err)
	}
	if err := h.store.UpdateCanonicalNames(ctx); err != nil {
		return stats, fmt.Errorf("hoover: canonical names: %w", err)
	}
	return stats, nil
}

func (h *Hoover) runCode(ctx context.Context, code string, pids []int64, stats *Stats) error {
	var (
		reliable = make(map[int64][]string)
		holders  = make(map[string][]int64)
		fallback []int64
	)
	for _, pid := range pids {
		if err := ctx.Err(); err != nil {
			return err
		}
		ids, err := h.identifiers(ctx, pid, code, true)
		switch {
		case errors.Is(err, errConflictingIDs):
			h.log.WithFields(logrus.Fields{"pid": pid, "code": code}).Warn(err)
			stats.Ambiguous++
			continue
		case err != nil:
			return err
		case len(ids) == 0:
			fallback = append(fallback, pid)
			continue
		}
		reliable[pid] = ids
		for _, id := range ids {
			holders[id] = append(holders[id], pid)
		}
	}
	for _, pid := range pids {
		ids, ok := reliable[pid]
		if !ok {
			continue
		}
		log := h.log.WithFields(logrus.Fields{"pid": pid, "code": code})
		if len(ids) > 1 {
			log.WithField("ids", ids).Warn("identity carries more than one identifier")
			stats.Ambiguous++
			continue
		}
		if hs := holders[ids[0]]; len(hs) > 1 {
			log.WithFields(logrus.Fields{"id": ids[0], "holders": hs}).Warn("identifier held by more than one identity")
			stats.Ambiguous++
			continue
		}
		stats.Reliable++
		split, err := h.vacuum(ctx, pid, code, ids[0], stats)
		if err != nil {
			return err
		}
		fallback = append(fallback, split...)
	}
	for i := 0; i < len(fallback); i++ {
		pid := fallback[i]
		if err := ctx.Err(); err != nil {
			return err
		}
		log := h.log.WithFields(logrus.Fields{"pid": pid, "code": code})
		ids, err := h.identifiers(ctx, pid, code, false)
		switch {
		case errors.Is(err, errConflictingIDs):
			log.Debug(err)
			continue
		case err != nil:
			return err
		case len(ids) != 1:
			continue
		}
		if hs, ok := holders[ids[0]]; ok {
			log.WithFields(logrus.Fields{"id": ids[0], "holders": hs}).Debug("identifier already taken")
			continue
		}
		holders[ids[0]] = []int64{pid}
		stats.Unreliable++
		if _, err := h.vacuum(ctx, pid, code, ids[0], stats); err != nil {
			return err
		}
	}
	return nil
}

// identifiers returns the distinct values of code on the claimed or the
// unclaimed owned papers of pid, sorted.
func (h *Hoover) identifiers(ctx context.Context, pid int64, code string, claimed bool) ([]string, error) {
	rows, err := h.store.PersonPapers(ctx, pid)
	if err != nil {
		return nil, fmt.Errorf("hoover: papers of %d: %w", pid, err)
	}
	seen := make(map[string]bool)
	for _, r := range rows {
		if !r.Flag.Owns() || r.Flag.IsClaimed() != claimed {
			continue
		}
		vs, err := h.store.FieldValues(ctx, r.Bib, code)
		if err != nil {
			return nil, fmt.Errorf("hoover: %s of %s: %w", code, r.Bib, err)
		}
		if len(vs) > 1 {
			return nil, fmt.Errorf("%w: %s %v", errConflictingIDs, r.Bib, vs)
		}
		for _, v := range vs {
			seen[v] = true
		}
	}
	result := make([]string, 0, len(seen))
	for v := range seen {
		result = append(result, v)
	}
	sort.Strings(result)
	return result, nil
}

// vacuum moves every signature carrying id into pid. A signature on a record
// where pid already has a claimed paper is a conflict and stays. An unclaimed
// duplicate of pid on the same record is moved out to a new identity first,
// which is returned for a later look.
func (h *Hoover) vacuum(ctx context.Context, pid int64, code, id string, stats *Stats) (split []int64, err error) {
	rows, err := h.store.PersonPapers(ctx, pid)
	if err != nil {
		return nil, fmt.Errorf("hoover: papers of %d: %w", pid, err)
	}
	var (
		owned       = make(map[bibref.Record]bool)
		claimedRecs = make(map[int]bool)
		unclaimed   = make(map[int][]bibref.Record)
		pulled      = make(map[bibref.Record]bool)
	)
	for _, r := range rows {
		switch {
		case r.Flag.IsClaimed():
			owned[r.Bib] = true
			claimedRecs[r.Bib.Rec] = true
		case r.Flag.Owns():
			owned[r.Bib] = true
			unclaimed[r.Bib.Rec] = append(unclaimed[r.Bib.Rec], r.Bib)
		}
	}
	sigs, err := h.store.SignaturesWithValue(ctx, code, id)
	if err != nil {
		return nil, fmt.Errorf("hoover: signatures with %s=%s: %w", code, id, err)
	}
	log := h.log.WithFields(logrus.Fields{"pid": pid, "id": id})
	for _, sig := range sigs {
		if owned[sig] {
			continue
		}
		if claimedRecs[sig.Rec] {
			log.WithField("sig", sig.String()).Warn("record already claimed by identity")
			stats.Conflicts++
			continue
		}
		info, err := h.store.SignatureInfo(ctx, sig)
		if err != nil {
			return split, fmt.Errorf("hoover: %s: %w", sig, err)
		}
		if locked(info, pid) {
			stats.Skipped++
			continue
		}
		if h.dryRun {
			log.WithField("sig", sig.String()).Info("would move")
			stats.Vacuumed++
			continue
		}
		dups := unclaimed[sig.Rec]
		if len(dups) > 0 && pulled[dups[0]] {
			log.WithField("sig", sig.String()).Warn("identifier appears twice on record")
			stats.Conflicts++
			continue
		}
		if len(dups) > 0 {
			npid, err := h.store.NewPersonID(ctx)
			if err != nil {
				return split, fmt.Errorf("hoover: %w", err)
			}
			if err := h.store.MoveSignature(ctx, dups[0], npid); err != nil {
				return split, fmt.Errorf("hoover: %w", err)
			}
			log.WithFields(logrus.Fields{"sig": dups[0].String(), "to": npid}).Debug("moved duplicate out")
			delete(owned, dups[0])
			unclaimed[sig.Rec] = dups[1:]
			split = append(split, npid)
			stats.Split++
		}
		if err := h.store.MoveSignature(ctx, sig, pid); err != nil {
			return split, fmt.Errorf("hoover: %w", err)
		}
		owned[sig] = true
		pulled[sig] = true
		unclaimed[sig.Rec] = append(unclaimed[sig.Rec], sig)
		stats.Vacuumed++
	}
	return split, nil
}

// locked reports a signature claimed by another identity or rejected by pid.
func locked(rows []personid.Row, pid int64) bool {
	for _, r := range rows {
		switch {
		case r.Flag.IsClaimed() && r.PersonID != pid:
			return true
		case r.Flag.IsRejected() && r.PersonID == pid:
			return true
		}
	}
	return false
}

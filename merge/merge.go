// Package merge reconciles freshly computed clusters with the persisted
// author identities. Each last name bucket is aligned with the identities
// its signatures already belong to, then signatures are moved one by one,
// never overriding a user claim and never losing a signature.
package merge

import (
	"context"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/miku/authorkit/clustering"
	"github.com/miku/authorkit/matching"
)

// State of a bucket during a run.
type State int

const (
	Pending State = iota
	Matched
	Reconciled
	Committed
	Skipped
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Matched:
		return "matched"
	case Reconciled:
		return "reconciled"
	case Committed:
		return "committed"
	case Skipped:
		return "skipped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Option configures a Merger.
type Option func(*Merger)

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(m *Merger) {
		if log != nil {
			m.log = log
		}
	}
}

// WithCheckpoint skips buckets the checkpoint reports as done and records
// every committed bucket.
func WithCheckpoint(cp Checkpoint) Option {
	return func(m *Merger) { m.cp = cp }
}

// WithRunID tags log output with a run id.
func WithRunID(id string) Option {
	return func(m *Merger) { m.runID = id }
}

// Merger runs the merge.
type Merger struct {
	persons PersonStore
	results ResultReader
	log     logrus.FieldLogger
	cp      Checkpoint
	runID   string
}

// New returns a Merger over the given stores.
func New(persons PersonStore, results ResultReader, opts ...Option) *Merger {
	m := &Merger{
		persons: persons,
		results: results,
		log:     logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.runID != "" {
		m.log = m.log.WithField("run", m.runID)
	}
	return m
}

// Report summarizes a run.
type Report struct {
	Buckets   map[string]State
	Outcomes  map[Outcome]int
	Allocated int
	Deleted   int
}

func newReport() *Report {
	return &Report{
		Buckets:  make(map[string]State),
		Outcomes: make(map[Outcome]int),
	}
}

// Run merges every bucket with stored results, in name order, then deletes
// identities left empty and regenerates canonical names.
func (m *Merger) Run(ctx context.Context) (*Report, error) {
	names, err := m.results.ResultBuckets(ctx)
	if err != nil {
		return nil, fmt.Errorf("merge: list buckets: %w", err)
	}
	sort.Strings(names)
	report := newReport()
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if m.cp != nil && m.cp.Done(name) {
			report.Buckets[name] = Skipped
			continue
		}
		state, err := m.mergeBucket(ctx, name, report)
		report.Buckets[name] = state
		if err != nil {
			return report, fmt.Errorf("merge: bucket %s (%s): %w", name, state, err)
		}
	}
	if report.Deleted, err = m.Finish(ctx); err != nil {
		return report, err
	}
	m.log.WithFields(logrus.Fields{
		"buckets":   len(report.Buckets),
		"allocated": report.Allocated,
		"deleted":   report.Deleted,
	}).Info("merge done")
	return report, nil
}

// Finish deletes identities left without signatures and regenerates the
// canonical names. Run calls it, callers of MergeBucket call it once after
// the last bucket.
func (m *Merger) Finish(ctx context.Context) (deleted int, err error) {
	if deleted, err = m.persons.DeleteEmptyPersons(ctx); err != nil {
		return 0, fmt.Errorf("merge: delete empty persons: %w", err)
	}
	if err := m.persons.UpdateCanonicalNames(ctx); err != nil {
		return deleted, fmt.Errorf("merge: canonical names: %w", err)
	}
	return deleted, nil
}

// MergeBucket merges a single bucket. Identities are not cleaned up, see
// Finish.
func (m *Merger) MergeBucket(ctx context.Context, name string) (*Report, error) {
	report := newReport()
	state, err := m.mergeBucket(ctx, name, report)
	report.Buckets[name] = state
	return report, err
}

func (m *Merger) mergeBucket(ctx context.Context, name string, report *Report) (State, error) {
	log := m.log.WithField("bucket", name)
	rows, err := m.results.LastNameResults(ctx, name)
	if err != nil {
		return Pending, err
	}
	cs := clustering.FromResults(name, rows)
	if cs.Len() == 0 {
		log.Debug("no candidate clusters")
		return Skipped, nil
	}
	targets, err := m.align(ctx, cs)
	if err != nil {
		return Pending, err
	}
	log.WithField("matched", len(targets)).Debug(Matched.String())
	for _, c := range cs.Clusters {
		target, ok := targets[c]
		if !ok {
			if target, err = m.persons.NewPersonID(ctx); err != nil {
				return Matched, err
			}
			report.Allocated++
		}
		for _, bib := range c.Bibs.Slice() {
			outcome, err := m.TryMoveSignature(ctx, bib, target)
			if err != nil {
				return Matched, err
			}
			report.Outcomes[outcome]++
		}
	}
	log.Debug(Reconciled.String())
	if m.cp != nil {
		if err := m.cp.MarkDone(name); err != nil {
			return Reconciled, err
		}
	}
	log.WithField("clusters", cs.Len()).Info(Committed.String())
	return Committed, nil
}

// align matches candidate clusters with the identities that own their
// signatures, maximizing the number of shared signatures. Candidates without
// any shared signature stay unmatched.
func (m *Merger) align(ctx context.Context, cs *clustering.ClusterSet) (map[*clustering.Cluster]int64, error) {
	var (
		counts = make([]map[int64]int, cs.Len())
		seen   = make(map[int64]bool)
		pids   []int64
	)
	for i, c := range cs.Clusters {
		counts[i] = make(map[int64]int)
		for _, bib := range c.Bibs.Slice() {
			rows, err := m.persons.PersonsFromSignature(ctx, bib)
			if err != nil {
				return nil, err
			}
			for _, r := range rows {
				counts[i][r.PersonID]++
				if !seen[r.PersonID] {
					seen[r.PersonID] = true
					pids = append(pids, r.PersonID)
				}
			}
		}
	}
	result := make(map[*clustering.Cluster]int64)
	if len(pids) == 0 {
		return result, nil
	}
	sort.Slice(pids, func(i, j int) bool { return pids[i] < pids[j] })
	cost := make([][]float64, cs.Len())
	for i := range cost {
		cost[i] = make([]float64, len(pids))
		for j, pid := range pids {
			cost[i][j] = -float64(counts[i][pid])
		}
	}
	assignment, err := matching.Assign(cost)
	if err != nil {
		return nil, err
	}
	for _, a := range assignment {
		if a.Cost < 0 {
			result[cs.Clusters[a.Row]] = pids[a.Col]
		}
	}
	return result, nil
}

// MatchedClaims counts how many claimed signatures agree with the best
// alignment of identities to the stored clusters. With inspect set, only
// that bucket is examined.
func (m *Merger) MatchedClaims(ctx context.Context, inspect string) (matched, total int, err error) {
	names := []string{inspect}
	if inspect == "" {
		if names, err = m.results.ResultBuckets(ctx); err != nil {
			return 0, 0, fmt.Errorf("merge: list buckets: %w", err)
		}
		sort.Strings(names)
	}
	for _, name := range names {
		mt, t, err := m.matchedClaims(ctx, name)
		if err != nil {
			return matched, total, fmt.Errorf("merge: claims of %s: %w", name, err)
		}
		matched += mt
		total += t
	}
	return matched, total, nil
}

func (m *Merger) matchedClaims(ctx context.Context, name string) (matched, total int, err error) {
	rows, err := m.results.LastNameResults(ctx, name)
	if err != nil {
		return 0, 0, err
	}
	cs := clustering.FromResults(name, rows)
	if cs.Len() == 0 {
		return 0, 0, nil
	}
	index := make(map[*clustering.Cluster]int, cs.Len())
	for i, c := range cs.Clusters {
		index[c] = i
	}
	owner := cs.BibMap()
	var pids []int64
	seen := make(map[int64]bool)
	for _, bib := range cs.Bibs() {
		rs, err := m.persons.SignatureInfo(ctx, bib)
		if err != nil {
			return 0, 0, err
		}
		for _, r := range rs {
			if r.Flag.IsClaimed() && !seen[r.PersonID] {
				seen[r.PersonID] = true
				pids = append(pids, r.PersonID)
			}
		}
	}
	if len(pids) == 0 {
		return 0, 0, nil
	}
	sort.Slice(pids, func(i, j int) bool { return pids[i] < pids[j] })
	cost := make([][]float64, len(pids))
	for i, pid := range pids {
		cost[i] = make([]float64, cs.Len())
		claimed, err := m.persons.ClaimedPapers(ctx, pid)
		if err != nil {
			return 0, 0, err
		}
		for _, bib := range claimed {
			if c, ok := owner[bib]; ok {
				cost[i][index[c]]--
				total++
			}
		}
	}
	assignment, err := matching.Assign(cost)
	if err != nil {
		return 0, 0, err
	}
	for _, a := range assignment {
		matched -= int(a.Cost)
	}
	return matched, total, nil
}

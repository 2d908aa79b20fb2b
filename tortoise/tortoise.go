// Package tortoise runs the clustering of all last name buckets: it builds
// the initial clusters from persisted claims, fills the similarity matrix,
// agglomerates with wedge and replaces the stored results of the bucket.
package tortoise

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/miku/authorkit/bibmatrix"
	"github.com/miku/authorkit/bibref"
	"github.com/miku/authorkit/clustering"
	"github.com/miku/authorkit/names"
	"github.com/miku/authorkit/personid"
	"github.com/miku/authorkit/pproc"
	"github.com/miku/authorkit/wedge"
)

// NameRow is an author name of a signature reference.
type NameRow struct {
	Ref  int
	Name string
}

// Source provides signatures and their persisted identity rows.
type Source interface {
	// AuthorNames returns all (ref, name) rows of a table.
	AuthorNames(ctx context.Context, table int) ([]NameRow, error)
	// ValidRecords returns the record ids to consider.
	ValidRecords(ctx context.Context) ([]int, error)
	// SignatureSubset returns the signatures of a table restricted to the
	// given records and refs.
	SignatureSubset(ctx context.Context, table int, recs, refs []int) ([]bibref.Record, error)
	// SignatureInfo returns all identity rows of a signature.
	SignatureInfo(ctx context.Context, bib bibref.Record) ([]personid.Row, error)
}

// Comparator rates two groups of signatures.
type Comparator interface {
	Compare(ctx context.Context, bibs1, bibs2 []bibref.Record) (bibmatrix.Value, error)
}

// ResultStore persists clustering results.
type ResultStore interface {
	clustering.ResultWriter
	DeleteResults(ctx context.Context, lastName string) error
}

// Invalidator is told about buckets whose stored results were replaced,
// typically the merge checkpoint.
type Invalidator interface {
	Forget(bucket string) error
}

// Option configures a Tortoise.
type Option func(*Tortoise)

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(t *Tortoise) {
		if log != nil {
			t.log = log
		}
	}
}

// WithWorkers sets the number of buckets processed in parallel.
func WithWorkers(n int) Option {
	return func(t *Tortoise) {
		if n > 0 {
			t.workers = n
		}
	}
}

// WithThreshold sets the wedge threshold.
func WithThreshold(f float64) Option {
	return func(t *Tortoise) {
		if f > 0 {
			t.threshold = f
		}
	}
}

// WithInvalidator sets who to notify after the results of a bucket were
// replaced.
func WithInvalidator(inv Invalidator) Option {
	return func(t *Tortoise) { t.inv = inv }
}

// Tortoise drives the clustering.
type Tortoise struct {
	src       Source
	cmp       Comparator
	results   ResultStore
	matrices  bibmatrix.Storage
	log       logrus.FieldLogger
	workers   int
	threshold float64
	inv       Invalidator

	mu sync.Mutex // guards results writes
}

// New returns a Tortoise.
func New(src Source, cmp Comparator, results ResultStore, matrices bibmatrix.Storage, opts ...Option) *Tortoise {
	t := &Tortoise{
		src:       src,
		cmp:       cmp,
		results:   results,
		matrices:  matrices,
		log:       logrus.StandardLogger(),
		workers:   1,
		threshold: wedge.DefaultThreshold,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Buckets groups all valid signatures by the last name key of their author
// name. Signatures whose name has no usable last name are dropped.
func (t *Tortoise) Buckets(ctx context.Context) (map[string][]bibref.Record, error) {
	recs, err := t.src.ValidRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("tortoise: valid records: %w", err)
	}
	buckets := make(map[string][]bibref.Record)
	for _, table := range []int{bibref.TableFirstAuthor, bibref.TableCoAuthor} {
		rows, err := t.src.AuthorNames(ctx, table)
		if err != nil {
			return nil, fmt.Errorf("tortoise: names of %d: %w", table, err)
		}
		keyOf := make(map[int]string, len(rows))
		refs := make([]int, 0, len(rows))
		for _, r := range rows {
			if k := names.LastNameKey(r.Name); k != "" {
				keyOf[r.Ref] = k
				refs = append(refs, r.Ref)
			}
		}
		if len(refs) == 0 {
			continue
		}
		sigs, err := t.src.SignatureSubset(ctx, table, recs, refs)
		if err != nil {
			return nil, fmt.Errorf("tortoise: signatures of %d: %w", table, err)
		}
		for _, s := range sigs {
			k := keyOf[s.Ref]
			buckets[k] = append(buckets[k], s)
		}
	}
	for _, v := range buckets {
		bibref.Sort(v)
	}
	return buckets, nil
}

// Run clusters the given buckets, all buckets if none are given.
func (t *Tortoise) Run(ctx context.Context, only ...string) error {
	buckets, err := t.Buckets(ctx)
	if err != nil {
		return err
	}
	var keys []string
	if len(only) > 0 {
		keys = only
	} else {
		for k := range buckets {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	p := pproc.NewProcessor(func(ctx context.Context, name string) error {
		_, err := t.RunBucket(ctx, name, buckets[name])
		return err
	}, pproc.WithWorkers(t.workers), pproc.WithDone(func(name string) {
		t.log.WithField("bucket", name).Debug("bucket clustered")
	}))
	return p.Process(ctx, keys)
}

// RunBucket clusters the signatures of one bucket and replaces its stored
// results.
func (t *Tortoise) RunBucket(ctx context.Context, name string, bibs []bibref.Record) (*clustering.ClusterSet, error) {
	log := t.log.WithFields(logrus.Fields{"bucket": name, "bibs": len(bibs)})
	sk, err := t.skeleton(ctx, bibs)
	if err != nil {
		return nil, fmt.Errorf("tortoise: %s: %w", name, err)
	}
	cs := clustering.CreateSkeleton(name, sk)
	m := bibmatrix.New(name)
	if t.matrices != nil {
		ok, err := m.Load(t.matrices)
		if err != nil {
			log.WithError(err).Warn("discarding unreadable matrix")
			m = bibmatrix.New(name)
		} else if ok {
			log.WithField("filled", m.Filled()).Debug("loaded matrix")
		}
	}
	m.UpdateBibs(cs.Bibs())
	computed, err := t.fill(ctx, cs, m)
	if err != nil {
		return nil, fmt.Errorf("tortoise: %s: %w", name, err)
	}
	stats, err := wedge.Wedge(cs, m, wedge.WithThreshold(t.threshold), wedge.WithLogger(log))
	if err != nil {
		return nil, err
	}
	if err := t.store(ctx, name, cs); err != nil {
		return nil, fmt.Errorf("tortoise: %s: %w", name, err)
	}
	if t.inv != nil {
		if err := t.inv.Forget(name); err != nil {
			return nil, fmt.Errorf("tortoise: %s: invalidate: %w", name, err)
		}
	}
	if t.matrices != nil {
		if err := m.Store(t.matrices); err != nil {
			return nil, fmt.Errorf("tortoise: %s: %w", name, err)
		}
	}
	log.WithFields(logrus.Fields{
		"computed": computed,
		"joined":   stats.Joined,
		"clusters": cs.Len(),
	}).Info("clustered")
	return cs, nil
}

func (t *Tortoise) store(ctx context.Context, name string, cs *clustering.ClusterSet) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.results.DeleteResults(ctx, name); err != nil {
		return err
	}
	return cs.Store(ctx, t.results, name)
}

// skeleton turns persisted rows into grouping data: claimed signatures form
// one union group per identity, every other signature starts alone and
// conflicts with the identities that rejected it.
func (t *Tortoise) skeleton(ctx context.Context, bibs []bibref.Record) (clustering.Skeleton, error) {
	var sk clustering.Skeleton
	for _, b := range bibs {
		rows, err := t.src.SignatureInfo(ctx, b)
		if err != nil {
			return sk, err
		}
		var (
			claimed  = personid.NoPerson
			assigned = personid.NoPerson
			rejected []string
		)
		for _, r := range rows {
			switch {
			case r.Flag.IsClaimed() && claimed == personid.NoPerson:
				claimed = r.PersonID
			case r.Flag.IsAssigned() && assigned == personid.NoPerson:
				assigned = r.PersonID
			case r.Flag.IsRejected():
				rejected = append(rejected, key(r.PersonID))
			}
		}
		if claimed != personid.NoPerson {
			sk.Union = append(sk.Union, clustering.UnionBlob{Bib: b, Key: key(claimed)})
			continue
		}
		blob := clustering.IndependentBlob{Bib: b, Conflicts: rejected}
		if assigned != personid.NoPerson {
			blob.Key = key(assigned)
		}
		sk.Independent = append(sk.Independent, blob)
	}
	return sk, nil
}

func key(pid int64) string { return strconv.FormatInt(pid, 10) }

// fill computes all missing pairs between clusters that may still be
// joined.
func (t *Tortoise) fill(ctx context.Context, cs *clustering.ClusterSet, m *bibmatrix.Matrix) (int, error) {
	var (
		owner    = cs.BibMap()
		bibs     = m.Bibs()
		computed int
	)
	for i := range bibs {
		if err := ctx.Err(); err != nil {
			return computed, err
		}
		for j := i + 1; j < len(bibs); j++ {
			c1, c2 := owner[bibs[i]], owner[bibs[j]]
			if c1 == c2 || c1.Hates(c2) || m.At(i, j).Kind != bibmatrix.Empty {
				continue
			}
			v, err := t.cmp.Compare(ctx, bibs[i:i+1], bibs[j:j+1])
			if err != nil {
				return computed, err
			}
			m.SetAt(i, j, v)
			computed++
		}
	}
	return computed, nil
}

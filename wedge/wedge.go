// Package wedge agglomerates a cluster set from a filled similarity matrix.
//
// Hard positive pairs are joined first, hard negative pairs make their
// clusters quarrel, then the remaining scored pairs are visited from the most
// to the least convincing and decide between joining and quarrelling.
package wedge

import (
	"fmt"
	"math"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/miku/authorkit/bibmatrix"
	"github.com/miku/authorkit/bibref"
	"github.com/miku/authorkit/clustering"
)

const (
	// DefaultThreshold is the score two clusters need to be joined.
	DefaultThreshold = 0.8
	// eps is the smallest mean probability compared at all.
	eps = 0.01
)

// Option configures a run.
type Option func(*runner)

// WithThreshold sets the join threshold, value edges below a quarter of it
// are ignored.
func WithThreshold(t float64) Option {
	return func(r *runner) {
		if t > 0 {
			r.threshold = t
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(r *runner) {
		if log != nil {
			r.log = log
		}
	}
}

// Stats summarizes a run.
type Stats struct {
	Plus      int // hard positive edges
	Minus     int // hard negative edges
	Edges     int // value edges above the cut
	Joined    int
	Quarreled int
}

type edge struct {
	a, b bibref.Record
	v    bibmatrix.Value
}

// score orders value edges: probability plus a tenth of the weight.
func (e edge) score() float64 { return e.v.Prob + e.v.Weight/10 }

type runner struct {
	cs        *clustering.ClusterSet
	m         *bibmatrix.Matrix
	threshold float64
	log       logrus.FieldLogger
	owner     map[bibref.Record]*clustering.Cluster
	stats     Stats
}

// Wedge rearranges the clusters of cs according to the values in m. Pairs
// missing from m count as not compared.
func Wedge(cs *clustering.ClusterSet, m *bibmatrix.Matrix, opts ...Option) (Stats, error) {
	r := &runner{
		cs:        cs,
		m:         m,
		threshold: DefaultThreshold,
		log:       logrus.StandardLogger(),
		owner:     cs.BibMap(),
	}
	for _, opt := range opts {
		opt(r)
	}
	plus, minus, values := r.edges()
	r.stats.Plus, r.stats.Minus, r.stats.Edges = len(plus), len(minus), len(values)
	for _, e := range plus {
		c1, c2 := r.owner[e.a], r.owner[e.b]
		if c1 != c2 && !c1.Hates(c2) {
			if err := r.join(c1, c2); err != nil {
				return r.stats, err
			}
		}
	}
	for _, e := range minus {
		c1, c2 := r.owner[e.a], r.owner[e.b]
		if c1 != c2 && !c1.Hates(c2) {
			c1.Quarrel(c2)
			r.stats.Quarreled++
		}
	}
	for _, e := range values {
		c1, c2 := r.owner[e.a], r.owner[e.b]
		if c1 == c2 || c1.Hates(c2) {
			continue
		}
		if c2.ID < c1.ID {
			c1, c2 = c2, c1
		}
		s := r.compareTo(c1, c2) + r.compareTo(c2, c1)
		if s > r.threshold {
			if err := r.join(c1, c2); err != nil {
				return r.stats, err
			}
			continue
		}
		c1.Quarrel(c2)
		r.stats.Quarreled++
	}
	if err := cs.Check(); err != nil {
		return r.stats, fmt.Errorf("wedge: %s: %w", cs.LastName, err)
	}
	r.log.WithFields(logrus.Fields{
		"bucket":    cs.LastName,
		"plus":      r.stats.Plus,
		"minus":     r.stats.Minus,
		"edges":     r.stats.Edges,
		"joined":    r.stats.Joined,
		"quarreled": r.stats.Quarreled,
		"clusters":  cs.Len(),
	}).Debug("wedge done")
	return r.stats, nil
}

// edges groups all pairs of signatures in different, non hating clusters.
// Value edges are sorted by decreasing score.
func (r *runner) edges() (plus, minus, values []edge) {
	var (
		bibs = r.cs.Bibs()
		cut  = r.threshold / 4
	)
	for i, a := range bibs {
		for _, b := range bibs[i+1:] {
			c1, c2 := r.owner[a], r.owner[b]
			if c1 == c2 || c1.Hates(c2) {
				continue
			}
			v := r.m.Get(a, b)
			switch v.Kind {
			case bibmatrix.Same:
				plus = append(plus, edge{a, b, v})
			case bibmatrix.Different:
				minus = append(minus, edge{a, b, v})
			case bibmatrix.Scored:
				if v.Prob > cut {
					values = append(values, edge{a, b, v})
				}
			}
		}
	}
	sort.SliceStable(values, func(i, j int) bool {
		return values[i].score() > values[j].score()
	})
	return plus, minus, values
}

func (r *runner) join(dst, src *clustering.Cluster) error {
	for b := range src.Bibs {
		r.owner[b] = dst
	}
	if err := r.cs.Join(dst, src); err != nil {
		return fmt.Errorf("wedge: %s: %w", r.cs.LastName, err)
	}
	r.stats.Joined++
	return nil
}

// outEdge combines the values between all signatures of c and b: a hard
// negative wins over a hard positive, which wins over the mean of the scored
// values.
func (r *runner) outEdge(c *clustering.Cluster, b bibref.Record) bibmatrix.Value {
	var (
		n            int
		prob, weight float64
		plus         bool
	)
	for a := range c.Bibs {
		v := r.m.Get(a, b)
		switch v.Kind {
		case bibmatrix.Different:
			return v
		case bibmatrix.Same:
			plus = true
		case bibmatrix.Scored:
			n++
			prob += v.Prob
			weight += v.Weight
		}
	}
	switch {
	case plus:
		return bibmatrix.Certain(true)
	case n == 0:
		return bibmatrix.Value{}
	}
	return bibmatrix.NewScored(prob/float64(n), weight/float64(n))
}

// compareTo rates how well c2 fits c1 from c1's point of view, in [0, 0.5].
// A hard negative anywhere wins over any hard positive.
func (r *runner) compareTo(c1, c2 *clustering.Cluster) float64 {
	var (
		pointers []bibmatrix.Value
		plus     bool
	)
	for b := range c2.Bibs {
		v := r.outEdge(c1, b)
		switch v.Kind {
		case bibmatrix.Different:
			return 0
		case bibmatrix.Same:
			plus = true
		case bibmatrix.Scored:
			pointers = append(pointers, v)
		}
	}
	if plus {
		return 0.5
	}
	if len(pointers) == 0 {
		return 0
	}
	var sum, wsum, wprod float64
	for _, p := range pointers {
		sum += p.Prob
		wsum += p.Weight
		wprod += p.Prob * p.Weight
	}
	avg := sum / float64(len(pointers))
	if avg <= eps || wsum == 0 {
		return 0
	}
	nvals := make([]float64, len(pointers))
	for i, p := range pointers {
		nvals[i] = math.Pow(p.Prob/avg, p.Weight)
	}
	return gini(nvals) * (wprod / wsum) / 2
}

// gini sorts vs in decreasing order and returns Σ v_i(2i+1) / (n Σ v), which
// is 1 for equal values.
func gini(vs []float64) float64 {
	sort.Sort(sort.Reverse(sort.Float64Slice(vs)))
	var dividend, total float64
	for i, v := range vs {
		dividend += v * float64(2*i+1)
		total += v
	}
	if total == 0 {
		return 0
	}
	return dividend / (float64(len(vs)) * total)
}

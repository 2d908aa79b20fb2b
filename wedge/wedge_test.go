package wedge

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/miku/authorkit/bibmatrix"
	"github.com/miku/authorkit/bibref"
	"github.com/miku/authorkit/clustering"
)

func rec(i int) bibref.Record {
	return bibref.Record{Table: bibref.TableFirstAuthor, Ref: i, Rec: i}
}

// singletons returns a cluster set of one cluster per record and a matrix
// sized for it.
func singletons(n int) (*clustering.ClusterSet, *bibmatrix.Matrix) {
	cs := clustering.New("ellis")
	for i := 1; i <= n; i++ {
		cs.NewCluster("", rec(i))
	}
	m := bibmatrix.New("ellis")
	m.UpdateBibs(cs.Bibs())
	return cs, m
}

func TestWedgeScored(t *testing.T) {
	var cases = []struct {
		about     string
		prob      float64
		clusters  int
		quarreled bool
	}{
		{"convincing edge joins", 0.9, 1, false},
		{"weak edge quarrels", 0.5, 2, true},
		{"edge below cut is ignored", 0.1, 2, false},
	}
	for _, c := range cases {
		cs, m := singletons(2)
		m.Set(rec(1), rec(2), bibmatrix.NewScored(c.prob, 1))
		_, err := Wedge(cs, m)
		require.NoError(t, err, c.about)
		require.Equal(t, c.clusters, cs.Len(), c.about)
		if cs.Len() == 2 {
			require.Equal(t, c.quarreled, cs.Clusters[0].Hates(cs.Clusters[1]), c.about)
		}
	}
}

func TestWedgeSpecialEdges(t *testing.T) {
	cs, m := singletons(4)
	m.Set(rec(1), rec(2), bibmatrix.Certain(true))
	m.Set(rec(3), rec(4), bibmatrix.Certain(false))
	stats, err := Wedge(cs, m)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Plus)
	require.Equal(t, 1, stats.Minus)
	require.Equal(t, 3, cs.Len())
	owner := cs.BibMap()
	require.Same(t, owner[rec(1)], owner[rec(2)])
	require.True(t, owner[rec(3)].Hates(owner[rec(4)]))
}

func TestWedgeRespectsHate(t *testing.T) {
	cs := clustering.CreateSkeleton("ellis", clustering.Skeleton{
		Union: []clustering.UnionBlob{
			{Bib: rec(1), Key: "1"},
			{Bib: rec(2), Key: "2"},
		},
	})
	m := bibmatrix.New("ellis")
	m.UpdateBibs(cs.Bibs())
	m.Set(rec(1), rec(2), bibmatrix.Certain(true))
	_, err := Wedge(cs, m)
	require.NoError(t, err)
	require.Equal(t, 2, cs.Len())
}

func TestWedgeNegativeWinsOverChain(t *testing.T) {
	cs, m := singletons(3)
	m.Set(rec(1), rec(2), bibmatrix.NewScored(0.95, 1))
	m.Set(rec(2), rec(3), bibmatrix.NewScored(0.9, 1))
	m.Set(rec(1), rec(3), bibmatrix.Certain(false))
	_, err := Wedge(cs, m)
	require.NoError(t, err)
	require.Equal(t, 2, cs.Len())
	owner := cs.BibMap()
	require.Same(t, owner[rec(1)], owner[rec(2)])
	require.True(t, owner[rec(1)].Hates(owner[rec(3)]))
	require.NoError(t, cs.Check())
}

func TestWedgeThreshold(t *testing.T) {
	cs, m := singletons(2)
	m.Set(rec(1), rec(2), bibmatrix.NewScored(0.9, 1))
	_, err := Wedge(cs, m, WithThreshold(0.95))
	require.NoError(t, err)
	require.Equal(t, 2, cs.Len())
}

func TestGini(t *testing.T) {
	require.InDelta(t, 1.0, gini([]float64{0.3, 0.3, 0.3}), 1e-9)
	require.InDelta(t, 0.5, gini([]float64{0, 1}), 1e-9)
	require.Equal(t, 0.0, gini([]float64{0, 0}))
}

func TestCompareToNegativeWins(t *testing.T) {
	cs := clustering.New("ellis")
	c1 := cs.NewCluster("", rec(1))
	c2 := cs.NewCluster("", rec(2), rec(3), rec(4))
	m := bibmatrix.New("ellis")
	m.UpdateBibs(cs.Bibs())
	m.Set(rec(1), rec(2), bibmatrix.Certain(true))
	m.Set(rec(1), rec(3), bibmatrix.Certain(false))
	m.Set(rec(1), rec(4), bibmatrix.NewScored(0.9, 1))
	r := &runner{cs: cs, m: m, threshold: DefaultThreshold, owner: cs.BibMap()}
	// Map iteration order varies between calls.
	for i := 0; i < 50; i++ {
		require.Equal(t, 0.0, r.compareTo(c1, c2))
	}
	m.Set(rec(1), rec(3), bibmatrix.NewScored(0.2, 1))
	for i := 0; i < 50; i++ {
		require.Equal(t, 0.5, r.compareTo(c1, c2))
	}
}

package compare

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/miku/authorkit/bibmatrix"
	"github.com/miku/authorkit/bibref"
)

type fakeSource struct {
	fields  map[bibref.Record]map[string][]string
	collabs map[int][]string
	authors map[int][]string
	dicts   map[CitationKind]map[int][]int
	err     error
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		fields:  make(map[bibref.Record]map[string][]string),
		collabs: make(map[int][]string),
		authors: make(map[int][]string),
		dicts:   make(map[CitationKind]map[int][]int),
	}
}

func (f *fakeSource) set(b bibref.Record, code string, vs ...string) {
	if f.fields[b] == nil {
		f.fields[b] = make(map[string][]string)
	}
	f.fields[b][code] = vs
}

func (f *fakeSource) FieldValues(_ context.Context, b bibref.Record, code string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.fields[b][code], nil
}

func (f *fakeSource) Collaborations(_ context.Context, rec int) ([]string, error) {
	return f.collabs[rec], nil
}

func (f *fakeSource) AllAuthors(_ context.Context, rec int) ([]string, error) {
	return f.authors[rec], nil
}

func (f *fakeSource) CitationDict(_ context.Context, kind CitationKind) (map[int][]int, error) {
	return f.dicts[kind], nil
}

var (
	b1 = bibref.Record{Table: 100, Ref: 1, Rec: 1}
	b2 = bibref.Record{Table: 700, Ref: 2, Rec: 2}
)

func newComparator(t *testing.T, src Source, opts ...Option) *Comparator {
	t.Helper()
	c, err := New(context.Background(), src, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestJaccard(t *testing.T) {
	var cases = []struct {
		about string
		a, b  map[string]struct{}
		v     float64
		ok    bool
	}{
		{"both empty abstains", setOf[string](), setOf[string](), 0, false},
		{"equal singletons", setOf("a"), setOf("a"), 1, true},
		{"one empty", setOf[string](), setOf("a"), 0, true},
		{"partial overlap", setOf("a", "b"), setOf("b", "c"), 1.0 / 3, true},
		{"disjoint", setOf("a"), setOf("b"), 0, true},
	}
	for _, c := range cases {
		v, ok := Jaccard(c.a, c.b)
		require.Equal(t, c.ok, ok, c.about)
		require.InDelta(t, c.v, v, 1e-9, c.about)
	}
}

func TestCompareSharedRecord(t *testing.T) {
	src := newFakeSource()
	x := bibref.Record{Table: 100, Ref: 1, Rec: 5}
	y := bibref.Record{Table: 700, Ref: 2, Rec: 5}
	src.set(x, SubfieldName, "Ellis, John")
	src.set(y, SubfieldName, "Ellis, John")
	src.set(x, SubfieldAffiliation, "CERN")
	src.set(y, SubfieldAffiliation, "CERN")
	c := newComparator(t, src)
	v, err := c.Compare(context.Background(), []bibref.Record{x}, []bibref.Record{y})
	require.NoError(t, err)
	require.Equal(t, bibmatrix.Certain(false), v)
}

func TestCompareIdentifiers(t *testing.T) {
	ctx := context.Background()

	src := newFakeSource()
	src.set(b1, SubfieldORCID, "0000-0001")
	src.set(b2, SubfieldORCID, "0000-0001")
	v, err := newComparator(t, src).Compare(ctx, []bibref.Record{b1}, []bibref.Record{b2})
	require.NoError(t, err)
	require.Equal(t, bibmatrix.Same, v.Kind)

	src = newFakeSource()
	src.set(b1, SubfieldInspireID, "INSPIRE-1")
	src.set(b2, SubfieldInspireID, "INSPIRE-2")
	src.set(b1, SubfieldName, "Ellis, John")
	src.set(b2, SubfieldName, "Ellis, John")
	v, err = newComparator(t, src).Compare(ctx, []bibref.Record{b1}, []bibref.Record{b2})
	require.NoError(t, err)
	require.Equal(t, bibmatrix.Different, v.Kind)

	// Ambiguous identifiers fall through to the signals.
	src = newFakeSource()
	src.set(b1, SubfieldORCID, "0000-0001", "0000-0002")
	src.set(b2, SubfieldORCID, "0000-0001")
	src.set(b1, SubfieldName, "Ellis, John")
	src.set(b2, SubfieldName, "Ellis, John")
	v, err = newComparator(t, src).Compare(ctx, []bibref.Record{b1}, []bibref.Record{b2})
	require.NoError(t, err)
	require.Equal(t, bibmatrix.Scored, v.Kind)
	require.InDelta(t, 1.0, v.Prob, 1e-9)
	require.InDelta(t, 0.6, v.Weight, 1e-9)
}

func TestCompareWeighted(t *testing.T) {
	src := newFakeSource()
	src.set(b1, SubfieldName, "Ellis, John")
	src.set(b2, SubfieldName, "Ellis, John")
	src.set(b1, SubfieldAffiliation, "CERN")
	src.set(b2, SubfieldAffiliation, "DESY")
	src.dicts[Citations] = map[int][]int{1: {10, 11}, 2: {11}}
	c := newComparator(t, src)
	v, err := c.Compare(context.Background(), []bibref.Record{b1}, []bibref.Record{b2})
	require.NoError(t, err)
	require.Equal(t, bibmatrix.Scored, v.Kind)
	// affiliation 0, names 1, citations 0.5; cited-by and collaboration abstain
	require.InDelta(t, (0.6+0.05*0.5)/0.75, v.Prob, 1e-9)
	require.InDelta(t, 0.75, v.Weight, 1e-9)
}

func TestCompareCollaboration(t *testing.T) {
	src := newFakeSource()
	src.collabs[1] = []string{"ATLAS"}
	src.collabs[2] = []string{"atlas "}
	v, err := newComparator(t, src).Compare(context.Background(), []bibref.Record{b1}, []bibref.Record{b2})
	require.NoError(t, err)
	require.InDelta(t, 1.0, v.Prob, 1e-9)
	require.InDelta(t, 0.2, v.Weight, 1e-9)

	src = newFakeSource()
	src.set(b1, SubfieldName, "Ellis, John")
	src.set(b2, SubfieldName, "Ellis, John")
	src.authors[1] = []string{"Ellis, John", "Smith, A.", "Doe, B."}
	src.authors[2] = []string{"Ellis, J.", "Smith, A."}
	v, err = newComparator(t, src).Compare(context.Background(), []bibref.Record{b1}, []bibref.Record{b2})
	require.NoError(t, err)
	require.Equal(t, bibmatrix.Scored, v.Kind)
	// names 1, coauthors {smith, doe} vs {smith}: 0.5
	require.InDelta(t, (0.6+0.2*0.5)/0.8, v.Prob, 1e-9)
	require.InDelta(t, 0.8, v.Weight, 1e-9)
}

func TestCompareAbstain(t *testing.T) {
	c := newComparator(t, newFakeSource())
	v, err := c.Compare(context.Background(), []bibref.Record{b1}, []bibref.Record{b2})
	require.NoError(t, err)
	require.Equal(t, bibmatrix.Abstain, v.Kind)
}

func TestCompareMaxNamePairs(t *testing.T) {
	src := newFakeSource()
	src.set(b1, SubfieldName, "Ellis, John", "Ellis, J.")
	src.set(b2, SubfieldName, "Ellis, John")
	c := newComparator(t, src, WithMaxNamePairs(1))
	v, err := c.Compare(context.Background(), []bibref.Record{b1}, []bibref.Record{b2})
	require.NoError(t, err)
	require.Equal(t, bibmatrix.Abstain, v.Kind)
}

func TestCompareSourceError(t *testing.T) {
	boom := errors.New("boom")
	src := newFakeSource()
	src.err = boom
	c := newComparator(t, src)
	_, err := c.Compare(context.Background(), []bibref.Record{b1}, []bibref.Record{b2})
	require.ErrorIs(t, err, boom)
}

func TestWeights(t *testing.T) {
	var total float64
	for _, w := range Weights() {
		total += w
	}
	require.InDelta(t, 1.0, total, 1e-9)
	require.Equal(t, 0.6, Weights()["names"])
}

// setOf returns the set of the given keys.
func setOf[K comparable](keys ...K) map[K]struct{} {
	s := make(map[K]struct{}, len(keys))
	for _, k := range keys {
		s[k] = struct{}{}
	}
	return s
}

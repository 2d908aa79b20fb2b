package sqlitestore

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miku/authorkit/bibmatrix"
	"github.com/miku/authorkit/bibref"
	"github.com/miku/authorkit/checkpoint"
	"github.com/miku/authorkit/clustering"
	"github.com/miku/authorkit/compare"
	"github.com/miku/authorkit/hoover"
	"github.com/miku/authorkit/merge"
	"github.com/miku/authorkit/personid"
	"github.com/miku/authorkit/tortoise"
)

var (
	sigA = bibref.Record{Table: 100, Ref: 1, Rec: 1}
	sigB = bibref.Record{Table: 100, Ref: 1, Rec: 2}
	sigC = bibref.Record{Table: 100, Ref: 2, Rec: 3}
	sigD = bibref.Record{Table: 700, Ref: 3, Rec: 1}
)

// dump is newline delimited, one document per line.
const dump = `
{"record": {"rec": 1, "collaborations": ["ATLAS"], "cites": [2], "authors": [{"table": 100, "ref": 1, "name": "Ellis, John", "fields": {"u": ["CERN"], "j": ["0000-0001"]}}, {"table": 700, "ref": 3, "name": "Smith, Adam"}]}}
{"record": {"rec": 2, "authors": [{"table": 100, "ref": 1, "name": "Ellis, John", "fields": {"u": ["CERN"], "j": ["0000-0001"]}}]}}
{"record": {"rec": 3, "authors": [{"table": 100, "ref": 2, "name": "Ellis, J.", "fields": {"j": ["0000-0002"]}}]}}
{"record": {"rec": 4, "invalid": true, "authors": []}}
{"person": {"personid": 7, "sig": "700:3,1", "flag": -2}}
`

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestImport(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	stats, err := s.Import(ctx, strings.NewReader(dump))
	require.NoError(t, err)
	assert.Equal(t, ImportStats{Records: 4, Signatures: 4, Persons: 1}, stats)

	recs, err := s.ValidRecords(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, recs)

	aff, err := s.FieldValues(ctx, sigA, compare.SubfieldAffiliation)
	require.NoError(t, err)
	assert.Equal(t, []string{"CERN"}, aff)

	name, err := s.FieldValues(ctx, sigC, compare.SubfieldName)
	require.NoError(t, err)
	assert.Equal(t, []string{"Ellis, J."}, name)

	collabs, err := s.Collaborations(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"ATLAS"}, collabs)

	authors, err := s.AllAuthors(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"Ellis, John", "Smith, Adam"}, authors)

	cites, err := s.CitationDict(ctx, compare.Citations)
	require.NoError(t, err)
	assert.Equal(t, map[int][]int{1: {2}}, cites)
	citedBy, err := s.CitationDict(ctx, compare.CitedBy)
	require.NoError(t, err)
	assert.Equal(t, map[int][]int{2: {1}}, citedBy)

	rows, err := s.PersonsFromSignature(ctx, sigD)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Flag.IsClaimed())

	// re-import keeps signature fields unique
	_, err = s.Import(ctx, strings.NewReader(dump))
	require.NoError(t, err)
	aff, err = s.FieldValues(ctx, sigA, compare.SubfieldAffiliation)
	require.NoError(t, err)
	assert.Equal(t, []string{"CERN"}, aff)
}

func TestImportErrors(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	var cases = []string{
		`{"record": {"rec": 1}, "person": {"personid": 1, "sig": "100:1,1"}}`,
		`{}`,
		`{"person": {"personid": 1, "sig": "nope"}}`,
		`{"record": {"rec": 1, "authors": [{"table": 245, "ref": 1, "name": "x"}]}}`,
		`not json`,
	}
	for _, c := range cases {
		_, err := s.Import(ctx, strings.NewReader(c))
		assert.Error(t, err, c)
	}
}

func TestSignatureSubset(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	_, err := s.Import(ctx, strings.NewReader(dump))
	require.NoError(t, err)
	sigs, err := s.SignatureSubset(ctx, 100, []int{1, 3}, []int{1, 2})
	require.NoError(t, err)
	assert.Equal(t, []bibref.Record{sigA, sigC}, sigs)
	names, err := s.AuthorNames(ctx, 700)
	require.NoError(t, err)
	assert.Equal(t, []tortoise.NameRow{{Ref: 3, Name: "Smith, Adam"}}, names)
}

func TestPersons(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.MoveSignature(ctx, sigA, 1))
	require.NoError(t, s.MoveSignature(ctx, sigA, 2))
	rows, err := s.PersonsFromSignature(ctx, sigA)
	require.NoError(t, err)
	assert.Equal(t, []personid.Row{{PersonID: 2, Bib: sigA, Flag: personid.Assigned}}, rows)

	require.NoError(t, s.SetFlag(ctx, 3, sigA, personid.Rejected))
	info, err := s.SignatureInfo(ctx, sigA)
	require.NoError(t, err)
	assert.Len(t, info, 2)
	owner, ok := personid.Owner(info)
	require.True(t, ok)
	assert.Equal(t, int64(2), owner.PersonID)

	require.NoError(t, s.SetFlag(ctx, 4, sigA, personid.Claimed))
	rows, err = s.PersonsFromSignature(ctx, sigA)
	require.NoError(t, err)
	assert.Equal(t, []personid.Row{{PersonID: 4, Bib: sigA, Flag: personid.Claimed}}, rows)
	claimed, err := s.ClaimedPapers(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, []bibref.Record{sigA}, claimed)

	// same record and table, other ref
	other := bibref.Record{Table: 100, Ref: 9, Rec: 1}
	require.NoError(t, s.MoveSignature(ctx, other, 4))
	conflicts, err := s.FindConflicts(ctx, sigA, 4)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, other, conflicts[0].Bib)

	pid, err := s.NewPersonID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), pid)
	pid, err = s.NewPersonID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(6), pid)

	// 1 and 2 lost their signature, 5 and 6 never had one, 3 only rejects
	n, err := s.DeleteEmptyPersons(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	info, err = s.SignatureInfo(ctx, sigA)
	require.NoError(t, err)
	assert.Len(t, info, 2)
	papers, err := s.PersonPapers(ctx, 4)
	require.NoError(t, err)
	assert.Len(t, papers, 2)

	// the sequence does not reuse deleted identities
	pid, err = s.NewPersonID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(7), pid)
}

func TestCanonicalNames(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	_, err := s.Import(ctx, strings.NewReader(dump))
	require.NoError(t, err)
	require.NoError(t, s.MoveSignature(ctx, sigA, 1))
	require.NoError(t, s.MoveSignature(ctx, sigC, 2))
	require.NoError(t, s.UpdateCanonicalNames(ctx))
	var cases = []struct {
		pid  int64
		name string
	}{
		{1, "J.Ellis.1"},
		{2, "J.Ellis.2"},
		{7, "A.Smith.1"},
	}
	for _, c := range cases {
		name, err := s.CanonicalName(ctx, c.pid)
		require.NoError(t, err)
		assert.Equal(t, c.name, name)
	}
}

func TestResults(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.SaveCluster(ctx, "ellis.0", []bibref.Record{sigA, sigB}))
	require.NoError(t, s.SaveCluster(ctx, "ellis.1", []bibref.Record{sigC}))
	require.NoError(t, s.SaveCluster(ctx, "smith.0", []bibref.Record{sigD}))

	buckets, err := s.ResultBuckets(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ellis", "smith"}, buckets)

	rows, err := s.LastNameResults(ctx, "ellis")
	require.NoError(t, err)
	want := []clustering.ResultRow{
		{Key: "ellis.0", Bib: sigA},
		{Key: "ellis.0", Bib: sigB},
		{Key: "ellis.1", Bib: sigC},
	}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Fatalf("results mismatch (-want +got):\n%s", diff)
	}

	require.NoError(t, s.DeleteResults(ctx, "ellis"))
	buckets, err = s.ResultBuckets(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"smith"}, buckets)
}

// misassigned holds identities that put sigB into the wrong identity.
const misassigned = `
{"person": {"personid": 1, "sig": "100:1,1", "flag": 0}}
{"person": {"personid": 2, "sig": "100:1,2", "flag": 0}}
{"person": {"personid": 2, "sig": "100:2,3", "flag": 0}}
`

func TestDisambiguate(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	_, err := s.Import(ctx, strings.NewReader(dump))
	require.NoError(t, err)
	_, err = s.Import(ctx, strings.NewReader(misassigned))
	require.NoError(t, err)

	cmpr, err := compare.New(ctx, s)
	require.NoError(t, err)
	defer cmpr.Close()
	matrices := &bibmatrix.FileStore{Dir: t.TempDir()}
	require.NoError(t, tortoise.New(s, cmpr, s, matrices).Run(ctx))

	rows, err := s.LastNameResults(ctx, "ellis")
	require.NoError(t, err)
	want := []clustering.ResultRow{
		{Key: "ellis.0", Bib: sigA},
		{Key: "ellis.0", Bib: sigB},
		{Key: "ellis.1", Bib: sigC},
	}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Fatalf("results mismatch (-want +got):\n%s", diff)
	}

	report, err := merge.New(s, s).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, merge.Committed, report.Buckets["ellis"])
	assert.Equal(t, merge.Committed, report.Buckets["smith"])
	assert.Equal(t, 1, report.Outcomes[merge.Moved])
	assert.Equal(t, 0, report.Allocated)

	owner := func(bib bibref.Record) int64 {
		rows, err := s.PersonsFromSignature(ctx, bib)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		return rows[0].PersonID
	}
	assert.Equal(t, []int64{1, 1, 2, 7}, []int64{owner(sigA), owner(sigB), owner(sigC), owner(sigD)})
	claimed, err := s.ClaimedPapers(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, []bibref.Record{sigD}, claimed)
	name, err := s.CanonicalName(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "J.Ellis.2", name)

	// a second run changes nothing
	report, err = merge.New(s, s).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Outcomes[merge.Moved])
	assert.Equal(t, []int64{1, 1, 2, 7}, []int64{owner(sigA), owner(sigB), owner(sigC), owner(sigD)})
}

// owners returns the owning identity of each signature, personid.NoPerson
// for unassigned ones.
func owners(t *testing.T, s *Store, bibs ...bibref.Record) []int64 {
	t.Helper()
	result := make([]int64, 0, len(bibs))
	for _, bib := range bibs {
		rows, err := s.PersonsFromSignature(context.Background(), bib)
		require.NoError(t, err)
		require.LessOrEqual(t, len(rows), 1)
		if len(rows) == 0 {
			result = append(result, personid.NoPerson)
			continue
		}
		result = append(result, rows[0].PersonID)
	}
	return result
}

func TestSignaturesWithValue(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	_, err := s.Import(ctx, strings.NewReader(dump))
	require.NoError(t, err)
	sigs, err := s.SignaturesWithValue(ctx, compare.SubfieldORCID, "0000-0001")
	require.NoError(t, err)
	assert.Equal(t, []bibref.Record{sigA, sigB}, sigs)
	sigs, err = s.SignaturesWithValue(ctx, compare.SubfieldInspireID, "0000-0001")
	require.NoError(t, err)
	assert.Empty(t, sigs)

	pids, err := s.PersonIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{7}, pids)
	require.NoError(t, s.MoveSignature(ctx, sigC, 3))
	require.NoError(t, s.SetFlag(ctx, 5, sigA, personid.Rejected))
	pids, err = s.PersonIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 7}, pids)
}

func TestDisambiguateUnassigned(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	_, err := s.Import(ctx, strings.NewReader(dump))
	require.NoError(t, err)
	cmpr, err := compare.New(ctx, s)
	require.NoError(t, err)
	defer cmpr.Close()
	require.NoError(t, tortoise.New(s, cmpr, s, nil).Run(ctx))

	report, err := merge.New(s, s).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Allocated)
	assert.Equal(t, 3, report.Outcomes[merge.Moved])
	assert.Equal(t, []int64{8, 8, 9, 7}, owners(t, s, sigA, sigB, sigC, sigD))
	name, err := s.CanonicalName(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, "J.Ellis.2", name)
}

func TestReclusterInvalidatesCheckpoint(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	_, err := s.Import(ctx, strings.NewReader(dump))
	require.NoError(t, err)
	_, err = s.Import(ctx, strings.NewReader(misassigned))
	require.NoError(t, err)
	cp, err := checkpoint.Open(filepath.Join(t.TempDir(), "merge.json"))
	require.NoError(t, err)

	// results of an earlier, coarser clustering
	require.NoError(t, s.SaveCluster(ctx, "ellis.0", []bibref.Record{sigA, sigB, sigC}))
	require.NoError(t, s.SaveCluster(ctx, "smith.0", []bibref.Record{sigD}))
	report, err := merge.New(s, s, merge.WithCheckpoint(cp)).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, merge.Committed, report.Buckets["ellis"])
	assert.Equal(t, []int64{2, 2, 2, 7}, owners(t, s, sigA, sigB, sigC, sigD))
	assert.True(t, cp.Done("ellis"))

	cmpr, err := compare.New(ctx, s)
	require.NoError(t, err)
	defer cmpr.Close()
	require.NoError(t, tortoise.New(s, cmpr, s, nil, tortoise.WithInvalidator(cp)).Run(ctx))
	assert.False(t, cp.Done("ellis"))
	assert.False(t, cp.Done("smith"))

	report, err = merge.New(s, s, merge.WithCheckpoint(cp)).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, merge.Committed, report.Buckets["ellis"])
	assert.Equal(t, 1, report.Allocated)
	assert.Equal(t, 1, report.Outcomes[merge.Moved])
	assert.Equal(t, []int64{2, 2, 8, 7}, owners(t, s, sigA, sigB, sigC, sigD))

	// without new results the checkpoint holds
	report, err = merge.New(s, s, merge.WithCheckpoint(cp)).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, merge.Skipped, report.Buckets["ellis"])
}

func TestHoover(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	_, err := s.Import(ctx, strings.NewReader(dump))
	require.NoError(t, err)
	require.NoError(t, s.SetFlag(ctx, 1, sigA, personid.Claimed))
	require.NoError(t, s.MoveSignature(ctx, sigB, 2))

	stats, err := hoover.New(s).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, hoover.Stats{Reliable: 1, Vacuumed: 1, Deleted: 1}, stats)
	assert.Equal(t, []int64{1, 1, personid.NoPerson}, owners(t, s, sigA, sigB, sigC))
	claimed, err := s.ClaimedPapers(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []bibref.Record{sigA}, claimed)
	name, err := s.CanonicalName(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "J.Ellis.1", name)
}

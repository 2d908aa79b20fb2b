package clustering

import (
	"sort"
	"strconv"
	"strings"

	"github.com/miku/authorkit/bibref"
	"github.com/miku/authorkit/personid"
)

// UnionBlob assigns a signature to a named group.
type UnionBlob struct {
	Bib bibref.Record
	Key string
}

// IndependentBlob is a signature that starts as its own cluster. Key is
// optional, Conflicts names the union groups it must never join.
type IndependentBlob struct {
	Bib       bibref.Record
	Key       string
	Conflicts []string
}

// Skeleton is the raw grouping data a clustering run starts from.
type Skeleton struct {
	Union       []UnionBlob
	Independent []IndependentBlob
}

// CreateSkeleton builds one cluster per union key, all of them mutually
// conflicting, and a singleton per independent signature that conflicts with
// the named union clusters only. A signature already placed is not placed
// again.
func CreateSkeleton(lastName string, sk Skeleton) *ClusterSet {
	var (
		cs     = New(lastName)
		byKey  = make(map[string]*Cluster)
		placed = make(map[bibref.Record]bool)
		union  []*Cluster
	)
	for _, blob := range sk.Union {
		if placed[blob.Bib] {
			continue
		}
		placed[blob.Bib] = true
		c, ok := byKey[blob.Key]
		if !ok {
			c = cs.NewCluster(blob.Key)
			byKey[blob.Key] = c
			union = append(union, c)
		}
		c.Bibs.Add(blob.Bib)
	}
	for i, a := range union {
		for _, b := range union[i+1:] {
			a.Quarrel(b)
		}
	}
	for _, blob := range sk.Independent {
		if placed[blob.Bib] {
			continue
		}
		placed[blob.Bib] = true
		c := cs.NewCluster(blob.Key, blob.Bib)
		for _, k := range blob.Conflicts {
			if u, ok := byKey[k]; ok {
				c.Quarrel(u)
			}
		}
	}
	return cs
}

// BodyRow is a persisted signature with its identity, personid.NoPerson if
// the signature is unassigned.
type BodyRow struct {
	Bib      bibref.Record
	PersonID int64
}

// CreateBody groups signatures by persisted identity, in ascending identity
// order. Unassigned signatures become singleton clusters without identity.
// Body clusters carry no conflicts.
func CreateBody(lastName string, rows []BodyRow) *ClusterSet {
	var (
		cs     = New(lastName)
		groups = make(map[int64][]bibref.Record)
		pids   []int64
		flying []bibref.Record
		placed = make(map[bibref.Record]bool)
	)
	for _, r := range rows {
		if placed[r.Bib] {
			continue
		}
		placed[r.Bib] = true
		if r.PersonID == personid.NoPerson {
			flying = append(flying, r.Bib)
			continue
		}
		if _, ok := groups[r.PersonID]; !ok {
			pids = append(pids, r.PersonID)
		}
		groups[r.PersonID] = append(groups[r.PersonID], r.Bib)
	}
	sort.Slice(pids, func(i, j int) bool { return pids[i] < pids[j] })
	for _, pid := range pids {
		c := cs.NewCluster(strconv.FormatInt(pid, 10), groups[pid]...)
		c.PersonID = pid
	}
	bibref.Sort(flying)
	for _, b := range flying {
		cs.NewCluster("", b)
	}
	return cs
}

// ResultRow is a persisted clustering result: a signature and the key of the
// cluster it was stored under.
type ResultRow struct {
	Key string
	Bib bibref.Record
}

// ResultKey returns the storage key of the i-th cluster of a bucket.
func ResultKey(name string, i int) string {
	return name + "." + strconv.Itoa(i)
}

// ParseResultKey splits a result key into bucket name and ordinal.
func ParseResultKey(key string) (name string, ordinal int, ok bool) {
	i := strings.LastIndexByte(key, '.')
	if i < 0 {
		return key, 0, false
	}
	n, err := strconv.Atoi(key[i+1:])
	if err != nil {
		return key, 0, false
	}
	return key[:i], n, true
}

// FromResults groups result rows back into clusters, ordered by ordinal.
// Keys without a numeric ordinal sort after the numbered ones, by key.
func FromResults(lastName string, rows []ResultRow) *ClusterSet {
	var (
		groups = make(map[string][]bibref.Record)
		keys   []string
		placed = make(map[bibref.Record]bool)
	)
	for _, r := range rows {
		if placed[r.Bib] {
			continue
		}
		placed[r.Bib] = true
		if _, ok := groups[r.Key]; !ok {
			keys = append(keys, r.Key)
		}
		groups[r.Key] = append(groups[r.Key], r.Bib)
	}
	sort.Slice(keys, func(i, j int) bool {
		_, a, aok := ParseResultKey(keys[i])
		_, b, bok := ParseResultKey(keys[j])
		switch {
		case aok && bok && a != b:
			return a < b
		case aok != bok:
			return aok
		default:
			return keys[i] < keys[j]
		}
	})
	cs := New(lastName)
	for _, k := range keys {
		cs.NewCluster(k, groups[k]...)
	}
	return cs
}

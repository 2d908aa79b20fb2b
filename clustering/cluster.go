// Package clustering holds the cluster model: sets of signatures believed to
// belong to one author, together with a symmetric "hate" relation between
// clusters that must never be merged.
//
// Clusters live in the arena of their ClusterSet and refer to each other by
// set-local ids only, so the hate graph carries no pointer cycles.
package clustering

import (
	"errors"
	"fmt"
	"sort"

	"github.com/miku/authorkit/bibref"
	"github.com/miku/authorkit/personid"
)

var (
	ErrHateful      = errors.New("clustering: clusters hate each other")
	ErrForeign      = errors.New("clustering: cluster does not belong to set")
	ErrInconsistent = errors.New("clustering: inconsistent cluster set")
	ErrDuplicateBib = errors.New("clustering: signature in more than one cluster")
	ErrAsymmetric   = errors.New("clustering: hate relation not symmetric")
)

// Cluster is a group of signatures. Key carries the grouping key the cluster
// was built from, e.g. a result key or an identity, and PersonID the
// persisted identity, personid.NoPerson if there is none.
type Cluster struct {
	ID       int
	Key      string
	PersonID int64
	Bibs     bibref.Set
	hate     map[int]struct{}
}

// Quarrel makes two clusters hate each other. Idempotent, and a no-op for a
// cluster and itself.
func (c *Cluster) Quarrel(o *Cluster) {
	if c == o || c.ID == o.ID {
		return
	}
	c.hate[o.ID] = struct{}{}
	o.hate[c.ID] = struct{}{}
}

// Hates reports whether the clusters must not be merged.
func (c *Cluster) Hates(o *Cluster) bool {
	_, ok := c.hate[o.ID]
	return ok
}

// HateIDs returns the ids of all hated clusters, sorted.
func (c *Cluster) HateIDs() []int {
	ids := make([]int, 0, len(c.hate))
	for id := range c.hate {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Len returns the number of signatures.
func (c *Cluster) Len() int { return len(c.Bibs) }

func (c *Cluster) String() string {
	return fmt.Sprintf("cluster %d (%s): %d bibs, %d hated", c.ID, c.Key, len(c.Bibs), len(c.hate))
}

// ClusterSet owns the clusters of one last name bucket.
type ClusterSet struct {
	LastName string
	Clusters []*Cluster
	byID     map[int]*Cluster
	nextID   int
}

// New returns an empty cluster set.
func New(lastName string) *ClusterSet {
	return &ClusterSet{LastName: lastName, byID: make(map[int]*Cluster)}
}

// NewCluster adds a cluster holding a copy of the given signatures.
func (cs *ClusterSet) NewCluster(key string, bibs ...bibref.Record) *Cluster {
	c := &Cluster{
		ID:       cs.nextID,
		Key:      key,
		PersonID: personid.NoPerson,
		Bibs:     bibref.NewSet(bibs...),
		hate:     make(map[int]struct{}),
	}
	cs.nextID++
	cs.Clusters = append(cs.Clusters, c)
	cs.byID[c.ID] = c
	return c
}

// Get returns the cluster with the given id.
func (cs *ClusterSet) Get(id int) (*Cluster, bool) {
	c, ok := cs.byID[id]
	return c, ok
}

// Len returns the number of clusters.
func (cs *ClusterSet) Len() int { return len(cs.Clusters) }

// NumBibs returns the number of signatures over all clusters.
func (cs *ClusterSet) NumBibs() int {
	var n int
	for _, c := range cs.Clusters {
		n += len(c.Bibs)
	}
	return n
}

// Bibs returns all signatures, sorted.
func (cs *ClusterSet) Bibs() []bibref.Record {
	result := make([]bibref.Record, 0, cs.NumBibs())
	for _, c := range cs.Clusters {
		for b := range c.Bibs {
			result = append(result, b)
		}
	}
	bibref.Sort(result)
	return result
}

// BibMap returns the cluster of every signature.
func (cs *ClusterSet) BibMap() map[bibref.Record]*Cluster {
	m := make(map[bibref.Record]*Cluster, cs.NumBibs())
	for _, c := range cs.Clusters {
		for b := range c.Bibs {
			m[b] = c
		}
	}
	return m
}

func (cs *ClusterSet) owns(c *Cluster) bool {
	o, ok := cs.byID[c.ID]
	return ok && o == c
}

// Remove drops a cluster and all hate edges pointing to it.
func (cs *ClusterSet) Remove(c *Cluster) error {
	if !cs.owns(c) {
		return ErrForeign
	}
	for id := range c.hate {
		if o, ok := cs.byID[id]; ok {
			delete(o.hate, c.ID)
		}
	}
	delete(cs.byID, c.ID)
	for i, o := range cs.Clusters {
		if o == c {
			cs.Clusters = append(cs.Clusters[:i], cs.Clusters[i+1:]...)
			break
		}
	}
	return nil
}

// Join moves all signatures and hate edges of src into dst and removes src.
// Clusters that hate each other cannot be joined.
func (cs *ClusterSet) Join(dst, src *Cluster) error {
	if !cs.owns(dst) || !cs.owns(src) {
		return ErrForeign
	}
	if dst == src {
		return nil
	}
	if dst.Hates(src) {
		return ErrHateful
	}
	for b := range src.Bibs {
		dst.Bibs.Add(b)
	}
	for id := range src.hate {
		if o, ok := cs.byID[id]; ok {
			delete(o.hate, src.ID)
			dst.Quarrel(o)
		}
	}
	src.hate = make(map[int]struct{})
	src.Bibs = bibref.Set{}
	return cs.Remove(src)
}

// Check verifies the set invariants: the hate relation is symmetric and
// irreflexive and every signature belongs to exactly one cluster.
func (cs *ClusterSet) Check() error {
	seen := make(map[bibref.Record]int)
	for _, c := range cs.Clusters {
		if !cs.owns(c) {
			return fmt.Errorf("%w: cluster %d not indexed", ErrInconsistent, c.ID)
		}
		for id := range c.hate {
			if id == c.ID {
				return fmt.Errorf("%w: cluster %d hates itself", ErrAsymmetric, c.ID)
			}
			o, ok := cs.byID[id]
			if !ok {
				return fmt.Errorf("%w: cluster %d hates unknown %d", ErrInconsistent, c.ID, id)
			}
			if !o.Hates(c) {
				return fmt.Errorf("%w: %d hates %d", ErrAsymmetric, c.ID, o.ID)
			}
		}
		for b := range c.Bibs {
			if other, ok := seen[b]; ok {
				return fmt.Errorf("%w: %s in %d and %d", ErrDuplicateBib, b, other, c.ID)
			}
			seen[b] = c.ID
		}
	}
	if len(cs.byID) != len(cs.Clusters) {
		return fmt.Errorf("%w: %d indexed, %d listed", ErrInconsistent, len(cs.byID), len(cs.Clusters))
	}
	return nil
}

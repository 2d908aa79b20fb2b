// Package bibmatrix caches pairwise comparison outcomes between signatures in
// a triangular matrix. The matrix is symmetric: (a, b) and (b, a) share one
// slot, and the diagonal is not stored.
package bibmatrix

import (
	"errors"
	"sort"

	"github.com/miku/authorkit/bibref"
)

var (
	ErrInvalidValue = errors.New("bibmatrix: invalid value")
	ErrCorrupt      = errors.New("bibmatrix: corrupt snapshot")
)

// ResolveIndex maps the unordered pair {i, j}, i != j, onto a dense slot
// index. For the larger index h and the smaller l the slot is h*(h-1)/2 + l,
// so all pairs over n indices fill [0, n*(n-1)/2) without gaps or
// collisions. Returns -1 for i == j or negative indices.
func ResolveIndex(i, j int) int {
	if i == j || i < 0 || j < 0 {
		return -1
	}
	if i < j {
		i, j = j, i
	}
	return i*(i-1)/2 + j
}

// Slots returns the number of slots for n signatures.
func Slots(n int) int {
	if n < 2 {
		return 0
	}
	return n * (n - 1) / 2
}

// Matrix is a named triangular cache over a fixed list of signatures. It is
// not safe for concurrent writes; one matrix belongs to one last name bucket.
type Matrix struct {
	Name  string
	bibs  []bibref.Record
	index map[bibref.Record]int
	slots []Value
}

// New creates an empty matrix.
func New(name string) *Matrix {
	return &Matrix{Name: name, index: make(map[bibref.Record]int)}
}

// Len returns the number of signatures the matrix is sized for.
func (m *Matrix) Len() int { return len(m.bibs) }

// Bibs returns the signatures in index order.
func (m *Matrix) Bibs() []bibref.Record {
	return append([]bibref.Record(nil), m.bibs...)
}

// Index returns the matrix index of a signature.
func (m *Matrix) Index(b bibref.Record) (int, bool) {
	i, ok := m.index[b]
	return i, ok
}

// UpdateBibs resizes the matrix for a new set of signatures. Cached values
// between signatures that were known before and are still present survive.
func (m *Matrix) UpdateBibs(bibs []bibref.Record) {
	next := bibref.NewSet(bibs...).Slice()
	nindex := make(map[bibref.Record]int, len(next))
	for i, b := range next {
		nindex[b] = i
	}
	nslots := make([]Value, Slots(len(next)))
	for k, v := range m.slots {
		if v.Kind == Empty {
			continue
		}
		i, j := unresolve(k)
		ni, ok := nindex[m.bibs[i]]
		if !ok {
			continue
		}
		nj, ok := nindex[m.bibs[j]]
		if !ok {
			continue
		}
		nslots[ResolveIndex(ni, nj)] = v
	}
	m.bibs, m.index, m.slots = next, nindex, nslots
}

// At returns the value at index pair (i, j). Out of range indices, as seen
// for a matrix not yet sized, yield Empty.
func (m *Matrix) At(i, j int) Value {
	k := ResolveIndex(i, j)
	if k < 0 || i >= len(m.bibs) || j >= len(m.bibs) {
		return Value{}
	}
	return m.slots[k]
}

// SetAt stores a value at index pair (i, j), reporting whether the pair was
// addressable.
func (m *Matrix) SetAt(i, j int, v Value) bool {
	k := ResolveIndex(i, j)
	if k < 0 || i >= len(m.bibs) || j >= len(m.bibs) {
		return false
	}
	m.slots[k] = v
	return true
}

// Get returns the cached value for the unordered pair (a, b), Empty if the
// pair was never set or a signature is unknown.
func (m *Matrix) Get(a, b bibref.Record) Value {
	i, ok := m.index[a]
	if !ok {
		return Value{}
	}
	j, ok := m.index[b]
	if !ok {
		return Value{}
	}
	return m.At(i, j)
}

// Set overwrites the value for the unordered pair (a, b). It returns false if
// the matrix is not sized for one of the signatures.
func (m *Matrix) Set(a, b bibref.Record, v Value) bool {
	i, ok := m.index[a]
	if !ok {
		return false
	}
	j, ok := m.index[b]
	if !ok {
		return false
	}
	return m.SetAt(i, j, v)
}

// Filled returns the number of non empty slots.
func (m *Matrix) Filled() int {
	var n int
	for _, v := range m.slots {
		if v.Kind != Empty {
			n++
		}
	}
	return n
}

// Duplicate returns a deep copy carrying a new name, e.g. for a provisional
// snapshot before the merge commits.
func (m *Matrix) Duplicate(dest string) *Matrix {
	c := &Matrix{
		Name:  dest,
		bibs:  append([]bibref.Record(nil), m.bibs...),
		index: make(map[bibref.Record]int, len(m.index)),
		slots: append([]Value(nil), m.slots...),
	}
	for k, v := range m.index {
		c.index[k] = v
	}
	return c
}

// unresolve inverts ResolveIndex, returning the larger index first.
func unresolve(k int) (int, int) {
	h := sort.Search(k+2, func(h int) bool { return h*(h+1)/2 > k })
	return h, k - h*(h-1)/2
}

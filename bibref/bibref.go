// Package bibref provides the value type for a single author mention on a
// bibliographic record.
package bibref

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

const (
	// TableFirstAuthor is the marc field of the first author (100__a).
	TableFirstAuthor = 100
	// TableCoAuthor is the marc field of all further authors (700__a).
	TableCoAuthor = 700
)

var ErrInvalidSignature = errors.New("bibref: invalid signature")

// Record identifies one mention of an author on one record: the marc table,
// the reference value in that table and the record id. Records are values and
// can be used as map keys.
type Record struct {
	Table int `json:"table"`
	Ref   int `json:"ref"`
	Rec   int `json:"rec"`
}

// String renders the signature form, e.g. "100:12,345".
func (r Record) String() string {
	return fmt.Sprintf("%d:%d,%d", r.Table, r.Ref, r.Rec)
}

// Less orders by record, then table, then reference.
func (r Record) Less(o Record) bool {
	if r.Rec != o.Rec {
		return r.Rec < o.Rec
	}
	if r.Table != o.Table {
		return r.Table < o.Table
	}
	return r.Ref < o.Ref
}

// MarshalText implements encoding.TextMarshaler.
func (r Record) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Record) UnmarshalText(b []byte) error {
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// Parse reads the "table:ref,rec" signature form.
func Parse(s string) (Record, error) {
	table, rest, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return Record{}, fmt.Errorf("%w: %q", ErrInvalidSignature, s)
	}
	ref, rec, ok := strings.Cut(rest, ",")
	if !ok {
		return Record{}, fmt.Errorf("%w: %q", ErrInvalidSignature, s)
	}
	var (
		r   Record
		err error
	)
	if r.Table, err = strconv.Atoi(table); err != nil {
		return Record{}, fmt.Errorf("%w: %q", ErrInvalidSignature, s)
	}
	if r.Ref, err = strconv.Atoi(ref); err != nil {
		return Record{}, fmt.Errorf("%w: %q", ErrInvalidSignature, s)
	}
	if r.Rec, err = strconv.Atoi(rec); err != nil {
		return Record{}, fmt.Errorf("%w: %q", ErrInvalidSignature, s)
	}
	return r, nil
}

// Sort sorts records in place.
func Sort(rs []Record) {
	sort.Slice(rs, func(i, j int) bool { return rs[i].Less(rs[j]) })
}

// Recs returns the distinct record ids, sorted.
func Recs(rs []Record) []int {
	seen := make(map[int]struct{}, len(rs))
	var result []int
	for _, r := range rs {
		if _, ok := seen[r.Rec]; ok {
			continue
		}
		seen[r.Rec] = struct{}{}
		result = append(result, r.Rec)
	}
	sort.Ints(result)
	return result
}

// Set is an unordered collection of unique records.
type Set map[Record]struct{}

// NewSet creates a set from the given records.
func NewSet(rs ...Record) Set {
	s := make(Set, len(rs))
	for _, r := range rs {
		s[r] = struct{}{}
	}
	return s
}

func (s Set) Add(r Record) { s[r] = struct{}{} }

func (s Set) Contains(r Record) bool {
	_, ok := s[r]
	return ok
}

// Slice returns the members, sorted.
func (s Set) Slice() []Record {
	result := make([]Record, 0, len(s))
	for r := range s {
		result = append(result, r)
	}
	Sort(result)
	return result
}

// Intersect returns the number of shared records.
func (s Set) Intersect(o Set) int {
	if len(o) < len(s) {
		s, o = o, s
	}
	var n int
	for r := range s {
		if _, ok := o[r]; ok {
			n++
		}
	}
	return n
}

// Package compare computes the similarity of two groups of signatures that
// are believed to denote one author on each side. The result is a tagged
// matrix value: a hard decision, an abstention or a weighted probability.
package compare

import (
	"context"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/miku/authorkit/bibmatrix"
	"github.com/miku/authorkit/bibref"
)

// Subfield codes read from the author field of a signature.
const (
	SubfieldName        = "a"
	SubfieldAffiliation = "u"
	SubfieldInspireID   = "i"
	SubfieldORCID       = "j"
)

// DefaultMaxNamePairs bounds the all pairs name comparison.
const DefaultMaxNamePairs = 2500

// CitationKind selects a citation dictionary.
type CitationKind string

const (
	// Citations maps a record to the records it cites.
	Citations CitationKind = "citations"
	// CitedBy maps a record to the records citing it.
	CitedBy CitationKind = "citedby"
)

// identifiers are checked in this order, the first decisive one wins.
var identifiers = []string{SubfieldORCID, SubfieldInspireID}

// Source provides the record metadata the comparison needs.
type Source interface {
	// FieldValues returns the values of a subfield in the author field the
	// signature points to.
	FieldValues(ctx context.Context, bib bibref.Record, code string) ([]string, error)
	// Collaborations returns the collaboration names of a record.
	Collaborations(ctx context.Context, rec int) ([]string, error)
	// AllAuthors returns the author names of a record.
	AllAuthors(ctx context.Context, rec int) ([]string, error)
	// CitationDict returns a record id to record ids mapping.
	CitationDict(ctx context.Context, kind CitationKind) (map[int][]int, error)
}

// Option configures a Comparator.
type Option func(*Comparator)

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(c *Comparator) {
		if log != nil {
			c.log = log
		}
	}
}

// WithMaxNamePairs sets the number of name pairs above which the name signal
// abstains.
func WithMaxNamePairs(n int) Option {
	return func(c *Comparator) {
		if n > 0 {
			c.maxNamePairs = n
		}
	}
}

// Comparator holds the metadata source and the citation dictionaries for the
// duration of a run. A Comparator is safe for concurrent use once created.
type Comparator struct {
	src          Source
	log          logrus.FieldLogger
	maxNamePairs int
	citeDict     map[int][]int
	citedByDict  map[int][]int
}

// New loads the citation dictionaries and returns a Comparator.
func New(ctx context.Context, src Source, opts ...Option) (*Comparator, error) {
	c := &Comparator{
		src:          src,
		log:          logrus.StandardLogger(),
		maxNamePairs: DefaultMaxNamePairs,
	}
	for _, opt := range opts {
		opt(c)
	}
	var err error
	if c.citeDict, err = src.CitationDict(ctx, Citations); err != nil {
		return nil, fmt.Errorf("compare: load %s: %w", Citations, err)
	}
	if c.citedByDict, err = src.CitationDict(ctx, CitedBy); err != nil {
		return nil, fmt.Errorf("compare: load %s: %w", CitedBy, err)
	}
	c.log.WithFields(logrus.Fields{
		"citations": len(c.citeDict),
		"citedby":   len(c.citedByDict),
	}).Debug("loaded citation dictionaries")
	return c, nil
}

// Close drops the cached dictionaries.
func (c *Comparator) Close() error {
	c.citeDict, c.citedByDict = nil, nil
	return nil
}

// Compare returns the similarity of two signature groups. Hard decisions come
// from external identifiers and from shared records; everything else is the
// weighted mean of the signals that did not abstain.
func (c *Comparator) Compare(ctx context.Context, bibs1, bibs2 []bibref.Record) (bibmatrix.Value, error) {
	for _, code := range identifiers {
		v, ok, err := c.compareIdentifier(ctx, code, bibs1, bibs2)
		if err != nil {
			return bibmatrix.Value{}, err
		}
		if ok {
			return v, nil
		}
	}
	if sharesRecord(bibs1, bibs2) {
		return bibmatrix.Certain(false), nil
	}
	var (
		s1, s2 = &side{bibs: bibs1}, &side{bibs: bibs2}
		sum    float64
		total  float64
	)
	for _, sig := range registry {
		v, ok, err := sig.fn(c, ctx, s1, s2)
		if err != nil {
			return bibmatrix.Value{}, fmt.Errorf("compare: %s: %w", sig.name, err)
		}
		if !ok {
			continue
		}
		sum += sig.weight * v
		total += sig.weight
	}
	if total == 0 {
		return bibmatrix.Value{Kind: bibmatrix.Abstain}, nil
	}
	return bibmatrix.NewScored(sum/total, total), nil
}

// compareIdentifier decides on an identifier subfield if both sides carry
// exactly one distinct value.
func (c *Comparator) compareIdentifier(ctx context.Context, code string, bibs1, bibs2 []bibref.Record) (bibmatrix.Value, bool, error) {
	ids1, err := c.distinctValues(ctx, code, bibs1)
	if err != nil {
		return bibmatrix.Value{}, false, err
	}
	ids2, err := c.distinctValues(ctx, code, bibs2)
	if err != nil {
		return bibmatrix.Value{}, false, err
	}
	if len(ids1) == 0 || len(ids2) == 0 {
		return bibmatrix.Value{}, false, nil
	}
	if len(ids1) > 1 || len(ids2) > 1 {
		c.log.WithFields(logrus.Fields{
			"code":  code,
			"left":  ids1,
			"right": ids2,
		}).Warn("ambiguous author identifier")
		return bibmatrix.Value{}, false, nil
	}
	return bibmatrix.Certain(ids1[0] == ids2[0]), true, nil
}

func (c *Comparator) distinctValues(ctx context.Context, code string, bibs []bibref.Record) ([]string, error) {
	seen := make(map[string]struct{})
	for _, b := range bibs {
		vs, err := c.src.FieldValues(ctx, b, code)
		if err != nil {
			return nil, fmt.Errorf("compare: field %s of %s: %w", code, b, err)
		}
		for _, v := range vs {
			if v != "" {
				seen[v] = struct{}{}
			}
		}
	}
	result := make([]string, 0, len(seen))
	for v := range seen {
		result = append(result, v)
	}
	sort.Strings(result)
	return result, nil
}

func sharesRecord(bibs1, bibs2 []bibref.Record) bool {
	recs := make(map[int]struct{}, len(bibs1))
	for _, b := range bibs1 {
		recs[b.Rec] = struct{}{}
	}
	for _, b := range bibs2 {
		if _, ok := recs[b.Rec]; ok {
			return true
		}
	}
	return false
}

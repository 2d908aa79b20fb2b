package compare

import (
	"context"

	"github.com/miku/authorkit/bibref"
	"github.com/miku/authorkit/names"
	"github.com/miku/authorkit/normal"
)

// signalFunc returns a score in [0, 1], ok is false if the signal abstains.
type signalFunc func(c *Comparator, ctx context.Context, s1, s2 *side) (v float64, ok bool, err error)

type signal struct {
	name   string
	weight float64
	fn     signalFunc
}

// registry lists the weighted signals, evaluated in order.
var registry = []signal{
	{"affiliation", 0.1, (*Comparator).affiliation},
	{"names", 0.6, (*Comparator).names},
	{"citations", 0.05, (*Comparator).citations},
	{"citedby", 0.05, (*Comparator).citedBy},
	{"collaboration", 0.2, (*Comparator).collaboration},
}

// Weights returns the signal weights by name.
func Weights() map[string]float64 {
	m := make(map[string]float64, len(registry))
	for _, s := range registry {
		m[s.name] = s.weight
	}
	return m
}

// side caches what the signals read about one signature group.
type side struct {
	bibs  []bibref.Record
	names []string
	ok    bool
}

func (s *side) recs() []int {
	seen := make(map[int]struct{}, len(s.bibs))
	var result []int
	for _, b := range s.bibs {
		if _, ok := seen[b.Rec]; ok {
			continue
		}
		seen[b.Rec] = struct{}{}
		result = append(result, b.Rec)
	}
	return result
}

func (c *Comparator) namesOf(ctx context.Context, s *side) ([]string, error) {
	if s.ok {
		return s.names, nil
	}
	for _, b := range s.bibs {
		vs, err := c.src.FieldValues(ctx, b, SubfieldName)
		if err != nil {
			return nil, err
		}
		for _, v := range vs {
			if v != "" {
				s.names = append(s.names, v)
			}
		}
	}
	s.ok = true
	return s.names, nil
}

func (c *Comparator) affiliations(ctx context.Context, s *side) (map[string]struct{}, error) {
	result := make(map[string]struct{})
	for _, b := range s.bibs {
		vs, err := c.src.FieldValues(ctx, b, SubfieldAffiliation)
		if err != nil {
			return nil, err
		}
		for _, v := range vs {
			if v = normal.Affiliation.Normalize(v); v != "" {
				result[v] = struct{}{}
			}
		}
	}
	return result, nil
}

func (c *Comparator) affiliation(ctx context.Context, s1, s2 *side) (float64, bool, error) {
	a, err := c.affiliations(ctx, s1)
	if err != nil {
		return 0, false, err
	}
	b, err := c.affiliations(ctx, s2)
	if err != nil {
		return 0, false, err
	}
	v, ok := Jaccard(a, b)
	return v, ok, nil
}

// names compares every name of one side with every name of the other and
// returns the mean.
func (c *Comparator) names(ctx context.Context, s1, s2 *side) (float64, bool, error) {
	a, err := c.namesOf(ctx, s1)
	if err != nil {
		return 0, false, err
	}
	b, err := c.namesOf(ctx, s2)
	if err != nil {
		return 0, false, err
	}
	pairs := len(a) * len(b)
	if pairs == 0 {
		return 0, false, nil
	}
	if pairs > c.maxNamePairs {
		c.log.WithField("pairs", pairs).Debug("too many name pairs, abstaining")
		return 0, false, nil
	}
	var sum float64
	for _, x := range a {
		for _, y := range b {
			sum += names.Compare(x, y)
		}
	}
	return sum / float64(pairs), true, nil
}

func cited(dict map[int][]int, recs []int) map[int]struct{} {
	result := make(map[int]struct{})
	for _, r := range recs {
		for _, v := range dict[r] {
			result[v] = struct{}{}
		}
	}
	return result
}

func (c *Comparator) citations(_ context.Context, s1, s2 *side) (float64, bool, error) {
	v, ok := Jaccard(cited(c.citeDict, s1.recs()), cited(c.citeDict, s2.recs()))
	return v, ok, nil
}

func (c *Comparator) citedBy(_ context.Context, s1, s2 *side) (float64, bool, error) {
	v, ok := Jaccard(cited(c.citedByDict, s1.recs()), cited(c.citedByDict, s2.recs()))
	return v, ok, nil
}

func (c *Comparator) collaborations(ctx context.Context, s *side) (map[string]struct{}, error) {
	result := make(map[string]struct{})
	for _, r := range s.recs() {
		vs, err := c.src.Collaborations(ctx, r)
		if err != nil {
			return nil, err
		}
		for _, v := range vs {
			if v = normal.Affiliation.Normalize(v); v != "" {
				result[v] = struct{}{}
			}
		}
	}
	return result, nil
}

// authorKey reduces a name to initials and surname letters.
func authorKey(name string) string {
	return normal.Key.Normalize(names.Canonical(name))
}

// coauthors returns the normalized author names of all records of a side,
// minus the names the side itself is signed with.
func (c *Comparator) coauthors(ctx context.Context, s *side) (map[string]struct{}, error) {
	own, err := c.namesOf(ctx, s)
	if err != nil {
		return nil, err
	}
	self := make(map[string]struct{}, len(own))
	for _, n := range own {
		self[authorKey(n)] = struct{}{}
	}
	result := make(map[string]struct{})
	for _, r := range s.recs() {
		vs, err := c.src.AllAuthors(ctx, r)
		if err != nil {
			return nil, err
		}
		for _, v := range vs {
			k := authorKey(v)
			if k == "" {
				continue
			}
			if _, ok := self[k]; ok {
				continue
			}
			result[k] = struct{}{}
		}
	}
	return result, nil
}

// collaboration matches collaborations exactly if both sides have exactly
// one, otherwise it falls back to the coauthor overlap.
func (c *Comparator) collaboration(ctx context.Context, s1, s2 *side) (float64, bool, error) {
	a, err := c.collaborations(ctx, s1)
	if err != nil {
		return 0, false, err
	}
	b, err := c.collaborations(ctx, s2)
	if err != nil {
		return 0, false, err
	}
	if len(a) == 1 && len(b) == 1 {
		for k := range a {
			if _, ok := b[k]; ok {
				return 1, true, nil
			}
		}
		return 0, true, nil
	}
	ca, err := c.coauthors(ctx, s1)
	if err != nil {
		return 0, false, err
	}
	cb, err := c.coauthors(ctx, s2)
	if err != nil {
		return 0, false, err
	}
	v, ok := Jaccard(ca, cb)
	return v, ok, nil
}

// Package names splits, compares and canonicalizes author name strings.
//
// Names are expected either as "Surname, Given Names" or "Given Names
// Surname". Comparison is tolerant to initials and small spelling variations
// of first names, but requires equal surnames: two names with different
// surnames always score 0, which is also why clustering is partitioned by
// surname.
package names

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
	"github.com/miku/authorkit/normal"
)

// firstNameScrewupCutoff is the largest tolerated first name mismatch before
// the first names are considered unrelated.
const firstNameScrewupCutoff = 0.1

// Parts is a name split into its components. Given holds the given names in
// order, each either a full name or a single letter initial.
type Parts struct {
	Surname  string
	Initials []string
	Names    []string
	Given    []string
}

var (
	fold      = &normal.FoldNormalizer{}
	tokenizer = strings.NewReplacer(".", " ", "-", " ", "_", " ")
)

// Split splits a name into surname, initials and full first names, keeping
// the case of the input.
func Split(name string) Parts {
	name = strings.TrimSpace(fold.Normalize(name))
	var surname, rest string
	switch {
	case strings.Contains(name, ","):
		surname, rest, _ = strings.Cut(name, ",")
	case strings.Contains(name, " "):
		i := strings.LastIndex(name, " ")
		rest, surname = name[:i], name[i+1:]
	default:
		return Parts{Surname: cleanSurname(name)}
	}
	// "Ellis, John, Jr." drops the addition
	if i := strings.LastIndex(rest, ","); i >= 0 {
		rest = rest[:i]
	}
	p := Parts{Surname: cleanSurname(surname)}
	for _, token := range strings.Fields(tokenizer.Replace(rest)) {
		token = strings.TrimFunc(token, func(r rune) bool { return !unicode.IsLetter(r) })
		if token == "" {
			continue
		}
		r := []rune(token)
		p.Initials = append(p.Initials, string(r[0]))
		p.Given = append(p.Given, token)
		if len(r) > 1 {
			p.Names = append(p.Names, token)
		}
	}
	return p
}

// cleanSurname trims and turns inner whitespace around dashes into dashes.
func cleanSurname(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	s = strings.ReplaceAll(s, " -", "-")
	return strings.ReplaceAll(s, "- ", "-")
}

// Lower returns a copy with all components lowercased.
func (p Parts) Lower() Parts {
	lower := func(ss []string) []string {
		result := make([]string, len(ss))
		for i, s := range ss {
			result[i] = strings.ToLower(s)
		}
		return result
	}
	return Parts{
		Surname:  strings.ToLower(p.Surname),
		Initials: lower(p.Initials),
		Names:    lower(p.Names),
		Given:    lower(p.Given),
	}
}

// Normalized renders "Surname, Given I." with initials dotted.
func (p Parts) Normalized() string {
	if len(p.Given) == 0 {
		return p.Surname
	}
	given := make([]string, len(p.Given))
	for i, g := range p.Given {
		if len([]rune(g)) == 1 {
			given[i] = strings.ToUpper(g) + "."
		} else {
			given[i] = g
		}
	}
	return p.Surname + ", " + strings.Join(given, " ")
}

// LastNameKey returns the bucket key of a name: the surname reduced to
// lowercase ascii letters.
func LastNameKey(name string) string {
	return normal.Key.Normalize(Split(name).Surname)
}

// Canonical returns the dotted canonical form, e.g. "J.R.Ellis" for "Ellis,
// John R.". Persistence layers append an ordinal to make it unique.
func Canonical(name string) string {
	p := Split(name)
	var tokens []string
	for _, i := range p.Initials {
		tokens = append(tokens, strings.ToUpper(i))
	}
	for _, s := range strings.Fields(p.Surname) {
		s = strings.Map(func(r rune) rune {
			if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' {
				return r
			}
			return -1
		}, s)
		if s != "" {
			tokens = append(tokens, s)
		}
	}
	return strings.Join(tokens, ".")
}

// MostRelevant picks the most informative variant, preferring more full
// first names, then more initials, in normalized form. Ties keep the input
// order.
func MostRelevant(variants []string) string {
	if len(variants) == 0 {
		return ""
	}
	parts := make([]Parts, len(variants))
	for i, v := range variants {
		parts[i] = Split(v)
	}
	sort.SliceStable(parts, func(i, j int) bool {
		if len(parts[i].Names) != len(parts[j].Names) {
			return len(parts[i].Names) > len(parts[j].Names)
		}
		return len(parts[i].Initials) > len(parts[j].Initials)
	})
	return parts[0].Normalized()
}

// Compare returns a similarity in [0, 1] between two names.
func Compare(a, b string) float64 {
	pa, pb := Split(a).Lower(), Split(b).Lower()
	surname := surnameCompatibility(pa.Surname, pb.Surname)
	initials := initialsCompatibility(pa.Initials, pb.Initials)
	var given float64
	if len(pa.Names) == 0 || len(pb.Names) == 0 {
		given = initials * 0.6
	} else {
		given = harmonic(initials, firstNamesCompatibility(pa.Names, pb.Names))
	}
	return harmonic(surname, given)
}

// harmonic combines two scores so that either one being 0 yields 0 and two
// equal scores yield that score.
func harmonic(x, y float64) float64 {
	d := math.Sqrt(x*x + y*y)
	if d == 0 {
		return 0
	}
	return x * y / d * math.Sqrt2
}

func surnameCompatibility(a, b string) float64 {
	a, b = normal.Key.Normalize(a), normal.Key.Normalize(b)
	if a == "" || b == "" || a != b {
		return 0
	}
	return 1
}

func initialsCompatibility(ia, ib []string) float64 {
	maxN := max(len(ia), len(ib))
	sa, sb := make(map[string]bool), make(map[string]bool)
	for _, i := range ia {
		sa[i] = true
	}
	for _, i := range ib {
		sb[i] = true
	}
	var inter int
	union := len(sa)
	for i := range sb {
		if sa[i] {
			inter++
		} else {
			union++
		}
	}
	c := 1.0
	if union > 0 {
		c = float64(inter) / float64(union)
	}
	var screwup, dist float64
	if maxN > 0 {
		long, short := ia, ib
		if len(ib) > len(ia) {
			long, short = ib, ia
		}
		var s int
		for i := 0; i < len(long); i++ {
			pos := len(long) - 1 - i
			if pos >= len(short) || long[pos] != short[pos] {
				s += i + 1
			}
		}
		screwup = float64(s) / (float64(maxN*(maxN+1)) / 2)
		dist = float64(matchr.Levenshtein(strings.Join(ia, ""), strings.Join(ib, ""))) / float64(maxN)
	}
	return max(0, 0.8*c+0.1*(1-dist)+0.1*(1-screwup))
}

func firstNamesCompatibility(fa, fb []string) float64 {
	long, short := fa, fb
	if len(fb) > len(fa) {
		long, short = fb, fa
	}
	// positional mismatch, aligned from the end
	var positional []float64
	for i := 0; i < len(long); i++ {
		pos := len(long) - 1 - i
		if pos < len(short) {
			positional = append(positional, 1-matchr.JaroWinkler(long[pos], short[pos], false))
		}
	}
	// best pairing mismatch, independent of order
	var best []float64
	remaining := append([]string(nil), short...)
	for _, n := range long {
		if len(remaining) == 0 {
			break
		}
		bi, bs := 0, math.Inf(1)
		for i, r := range remaining {
			if s := 1 - matchr.JaroWinkler(n, r, false); s < bs {
				bi, bs = i, s
			}
		}
		best = append(best, bs)
		remaining = append(remaining[:bi], remaining[bi+1:]...)
	}
	maxS, minS := maxOf(positional), minOf(best)
	avgS := (mean(positional) + mean(best)) / 2
	origMax := maxS
	if maxS > firstNameScrewupCutoff {
		maxS, minS, avgS = 1, 1, 1
	}
	score := max(0, 1-(0.25*maxS+0.5*avgS+0.25*minS))
	if substrings(fa, fb) {
		score = min(1, score+max(0, (1-origMax)*0.75))
	}
	return score
}

// substrings reports whether the names pairwise prefix each other, as with
// "Rob" and "Robert".
func substrings(fa, fb []string) bool {
	n := min(len(fa), len(fb))
	if n == 0 {
		return false
	}
	for i := 0; i < n; i++ {
		a, b := fa[len(fa)-n+i], fb[len(fb)-n+i]
		if !strings.HasPrefix(a, b) && !strings.HasPrefix(b, a) {
			return false
		}
	}
	return true
}

func maxOf(vs []float64) float64 {
	m := 0.0
	for _, v := range vs {
		m = max(m, v)
	}
	return m
}

func minOf(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	m := vs[0]
	for _, v := range vs[1:] {
		m = min(m, v)
	}
	return m
}

func mean(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	var s float64
	for _, v := range vs {
		s += v
	}
	return s / float64(len(vs))
}

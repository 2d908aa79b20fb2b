// Package normal provides string normalizers for names and affiliations that
// can be chained into a pipeline.
package normal

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

type Pipeline struct {
	Normalizer []Normalizer
}

func (p *Pipeline) Normalize(s string) string {
	for _, n := range p.Normalizer {
		s = n.Normalize(s)
	}
	return s
}

type Normalizer interface {
	Normalize(string) string
}

// NormalizerFunc adapts a plain function.
type NormalizerFunc func(string) string

func (f NormalizerFunc) Normalize(s string) string { return f(s) }

type SimpleNormalizer struct{}

func (s *SimpleNormalizer) Normalize(v string) string {
	return strings.ToLower(v)
}

// letters without a canonical decomposition
var foldReplacer = strings.NewReplacer(
	"ß", "ss", "ø", "o", "Ø", "O", "ł", "l", "Ł", "L", "đ", "d", "Đ", "D",
	"æ", "ae", "Æ", "AE", "œ", "oe", "Œ", "OE", "ı", "i",
)

// FoldNormalizer strips diacritics, e.g. "Müller" becomes "Muller".
type FoldNormalizer struct{}

func (s *FoldNormalizer) Normalize(v string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, err := transform.String(t, v)
	if err != nil {
		result = v
	}
	return foldReplacer.Replace(result)
}

// LettersOnlyNormalizer drops everything but letters, and optionally keeps
// whitespace as a single space.
type LettersOnlyNormalizer struct {
	KeepSpace bool
}

func (s *LettersOnlyNormalizer) Normalize(v string) string {
	var b strings.Builder
	for _, c := range v {
		switch {
		case unicode.IsLetter(c):
			b.WriteRune(c)
		case s.KeepSpace && (unicode.IsSpace(c) || c == '-' || c == '.' || c == ','):
			b.WriteRune(' ')
		}
	}
	return b.String()
}

// CollapseWSNormalizer trims and collapses runs of whitespace.
type CollapseWSNormalizer struct{}

func (s *CollapseWSNormalizer) Normalize(v string) string {
	return strings.Join(strings.Fields(v), " ")
}

var (
	// Name reduces a name to lowercase ascii words.
	Name = &Pipeline{Normalizer: []Normalizer{
		&FoldNormalizer{},
		&SimpleNormalizer{},
		&LettersOnlyNormalizer{KeepSpace: true},
		&CollapseWSNormalizer{},
	}}
	// Key reduces a string to lowercase ascii letters only.
	Key = &Pipeline{Normalizer: []Normalizer{
		&FoldNormalizer{},
		&SimpleNormalizer{},
		&LettersOnlyNormalizer{},
	}}
	// Affiliation is used for affiliation and collaboration strings.
	Affiliation = &Pipeline{Normalizer: []Normalizer{
		&FoldNormalizer{},
		&SimpleNormalizer{},
		NormalizerFunc(ReplaceNewlineAndTab),
		&CollapseWSNormalizer{},
	}}
)

func ReplaceNewlineAndTab(s string) string {
	var sb strings.Builder
	for _, c := range s {
		if c == '\n' || c == '\t' {
			sb.WriteString(" ")
		} else {
			sb.WriteRune(c)
		}
	}
	return sb.String()
}

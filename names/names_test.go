package names

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSplit(t *testing.T) {
	var cases = []struct {
		name   string
		result Parts
	}{
		{"Ellis", Parts{Surname: "Ellis"}},
		{"Ellis, John R.", Parts{Surname: "Ellis", Initials: []string{"J", "R"}, Names: []string{"John"}, Given: []string{"John", "R"}}},
		{"John R. Ellis", Parts{Surname: "Ellis", Initials: []string{"J", "R"}, Names: []string{"John"}, Given: []string{"John", "R"}}},
		{"Ellis, J.R.", Parts{Surname: "Ellis", Initials: []string{"J", "R"}, Given: []string{"J", "R"}}},
		{"Ellis, John, Jr.", Parts{Surname: "Ellis", Initials: []string{"J"}, Names: []string{"John"}, Given: []string{"John"}}},
		{"Müller, Jürgen", Parts{Surname: "Muller", Initials: []string{"J"}, Names: []string{"Jurgen"}, Given: []string{"Jurgen"}}},
		{"Garcia - Lopez, Ana-Maria", Parts{Surname: "Garcia-Lopez", Initials: []string{"A", "M"}, Names: []string{"Ana", "Maria"}, Given: []string{"Ana", "Maria"}}},
	}
	for _, c := range cases {
		if diff := cmp.Diff(c.result, Split(c.name)); diff != "" {
			t.Errorf("Split(%q) mismatch (-want +got):\n%s", c.name, diff)
		}
	}
}

func TestCompare(t *testing.T) {
	var cases = []struct {
		a, b   string
		result float64
	}{
		{"Ellis, John", "Ellis, John", 1},
		{"Ellis, John", "John Ellis", 1},
		{"Ellis, John", "Smith, John", 0},
		{"Ellis, John", "Ellis, J.", 0.6 / math.Sqrt(1.36) * math.Sqrt2},
	}
	for _, c := range cases {
		got := Compare(c.a, c.b)
		if math.Abs(got-c.result) > 1e-9 {
			t.Errorf("Compare(%q, %q): got %v, want %v", c.a, c.b, got, c.result)
		}
		if back := Compare(c.b, c.a); math.Abs(got-back) > 1e-9 {
			t.Errorf("Compare not symmetric for %q, %q: %v vs %v", c.a, c.b, got, back)
		}
	}
}

func TestSurnameCompatibility(t *testing.T) {
	var cases = []struct {
		a, b   string
		result float64
	}{
		{"Ellis", "Ellis", 1},
		{"Ellis", "ellis", 1},
		{"Müller", "Muller", 1},
		{"De Roeck", "deroeck", 1},
		{"Ellis", "Elis", 0},
		{"Ellis", "", 0},
		{"", "", 0},
	}
	for _, c := range cases {
		if got := surnameCompatibility(c.a, c.b); got != c.result {
			t.Errorf("surnameCompatibility(%q, %q): got %v, want %v", c.a, c.b, got, c.result)
		}
	}
}

func TestCompareOrdering(t *testing.T) {
	same := Compare("Ellis, John R.", "Ellis, John R.")
	close := Compare("Ellis, John R.", "Ellis, Jon R.")
	far := Compare("Ellis, John R.", "Ellis, Peter")
	if !(same > close && close > far) {
		t.Fatalf("expected same > close > far, got %v, %v, %v", same, close, far)
	}
	for _, v := range []float64{same, close, far} {
		if v < 0 || v > 1+1e-9 {
			t.Fatalf("score out of range: %v", v)
		}
	}
}

func TestCanonicalAndKey(t *testing.T) {
	var cases = []struct {
		name, canonical, key string
	}{
		{"Ellis, John R.", "J.R.Ellis", "ellis"},
		{"De Roeck, Albert", "A.De.Roeck", "deroeck"},
		{"Müller, J.", "J.Muller", "muller"},
		{"Mo", "Mo", "mo"},
	}
	for _, c := range cases {
		if got := Canonical(c.name); got != c.canonical {
			t.Errorf("Canonical(%q): got %q, want %q", c.name, got, c.canonical)
		}
		if got := LastNameKey(c.name); got != c.key {
			t.Errorf("LastNameKey(%q): got %q, want %q", c.name, got, c.key)
		}
	}
}

func TestMostRelevant(t *testing.T) {
	var cases = []struct {
		variants []string
		result   string
	}{
		{nil, ""},
		{[]string{"Ellis, J.", "Ellis, John R.", "Ellis, J.R."}, "Ellis, John R."},
		{[]string{"Ellis, J.", "Ellis, J.R."}, "Ellis, J. R."},
	}
	for _, c := range cases {
		if got := MostRelevant(c.variants); got != c.result {
			t.Errorf("MostRelevant(%v): got %q, want %q", c.variants, got, c.result)
		}
	}
}

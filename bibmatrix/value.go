package bibmatrix

import (
	"bytes"
	"fmt"

	"github.com/segmentio/encoding/json"
)

// Kind tags a cached comparison outcome.
type Kind uint8

const (
	// Empty means the pair has not been compared yet.
	Empty Kind = iota
	// Abstain means a comparison happened but no signal could judge ('?').
	Abstain
	// Same is a hard positive decision ('+').
	Same
	// Different is a hard negative decision ('-').
	Different
	// Scored carries a probability and the total weight that backs it.
	Scored
)

// Value is the tagged content of one matrix slot. Prob and Weight are only
// meaningful for Scored values.
type Value struct {
	Kind   Kind
	Prob   float64
	Weight float64
}

// Certain returns a hard decision.
func Certain(same bool) Value {
	if same {
		return Value{Kind: Same}
	}
	return Value{Kind: Different}
}

// NewScored returns a numeric value, prob is clamped to [0, 1] and weight to
// non-negative values.
func NewScored(prob, weight float64) Value {
	switch {
	case prob < 0:
		prob = 0
	case prob > 1:
		prob = 1
	}
	if weight < 0 {
		weight = 0
	}
	return Value{Kind: Scored, Prob: prob, Weight: weight}
}

// Token returns the sentinel token of special values: "+", "-", "?" or "" for
// Empty and Scored.
func (v Value) Token() string {
	switch v.Kind {
	case Same:
		return "+"
	case Different:
		return "-"
	case Abstain:
		return "?"
	}
	return ""
}

func (v Value) String() string {
	switch v.Kind {
	case Empty:
		return "None"
	case Scored:
		return fmt.Sprintf("(%0.4f, %0.4f)", v.Prob, v.Weight)
	}
	return v.Token()
}

// MarshalJSON encodes Empty as null, sentinels as their token string and
// scored values as a two element array.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case Empty:
		return []byte("null"), nil
	case Scored:
		return json.Marshal([2]float64{v.Prob, v.Weight})
	case Same, Different, Abstain:
		return json.Marshal(v.Token())
	}
	return nil, fmt.Errorf("%w: kind %d", ErrInvalidValue, v.Kind)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (v *Value) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*v = Value{}
		return nil
	case len(b) > 0 && b[0] == '"':
		var token string
		if err := json.Unmarshal(b, &token); err != nil {
			return err
		}
		switch token {
		case "+":
			*v = Certain(true)
		case "-":
			*v = Certain(false)
		case "?":
			*v = Value{Kind: Abstain}
		default:
			return fmt.Errorf("%w: token %q", ErrInvalidValue, token)
		}
		return nil
	}
	var pair [2]float64
	if err := json.Unmarshal(b, &pair); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	*v = Value{Kind: Scored, Prob: pair[0], Weight: pair[1]}
	return nil
}

package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ParameterKind discriminates the variants of ParameterValue.
type ParameterKind string

const (
	KindInteger ParameterKind = "integer"
	KindFloat   ParameterKind = "float"
	KindRange   ParameterKind = "range"
	KindBoolean ParameterKind = "boolean"
	KindString  ParameterKind = "string"
	KindSelect  ParameterKind = "select"
)

// ParameterSpec describes one parameter of a model: its kind, constraints,
// default, and presentation metadata. Specs are loaded from model descriptors
// and are immutable once the registry has read them.
type ParameterSpec struct {
	Name        string        `yaml:"name"`
	Description string        `yaml:"description"`
	Kind        ParameterKind `yaml:"kind"`
	Default     string        `yaml:"default,omitempty"`
	RangeStart  *float64      `yaml:"rangeStart,omitempty"`
	RangeEnd    *float64      `yaml:"rangeEnd,omitempty"`
	Step        *float64      `yaml:"step,omitempty"`
	Units       string        `yaml:"units,omitempty"`
	Options     []string      `yaml:"options,omitempty"`
	HelpText    string        `yaml:"helpText,omitempty"`
}

// ParameterValue is a tagged sum over the supported parameter kinds. Exactly
// the fields relevant to Kind are meaningful: IntVal for integer, FloatVal
// for float, RangeFrom/RangeTo for range, BoolVal for boolean, StrVal for
// string and select.
type ParameterValue struct {
	Kind      ParameterKind
	IntVal    int64
	FloatVal  float64
	RangeFrom float64
	RangeTo   float64
	BoolVal   bool
	StrVal    string
}

// parameterValueWire is the on-wire JSON shape of a ParameterValue. Scalar
// kinds carry "value"; the range kind carries "start" and "end".
type parameterValueWire struct {
	Type  ParameterKind `json:"type"`
	Value any           `json:"value,omitempty"`
	Start *float64      `json:"start,omitempty"`
	End   *float64      `json:"end,omitempty"`
}

// MarshalJSON encodes the value in its wire shape.
func (v ParameterValue) MarshalJSON() ([]byte, error) {
	w := parameterValueWire{Type: v.Kind}
	switch v.Kind {
	case KindInteger:
		w.Value = v.IntVal
	case KindFloat:
		w.Value = v.FloatVal
	case KindRange:
		from, to := v.RangeFrom, v.RangeTo
		w.Start, w.End = &from, &to
	case KindBoolean:
		w.Value = v.BoolVal
	case KindString, KindSelect:
		w.Value = v.StrVal
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrParameterInvalid, v.Kind)
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the wire shape back into the tagged sum.
func (v *ParameterValue) UnmarshalJSON(data []byte) error {
	var w parameterValueWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	v.Kind = w.Type
	switch w.Type {
	case KindInteger:
		n, err := wireNumber(w.Value)
		if err != nil {
			return fmt.Errorf("%w: integer: %s", ErrParameterInvalid, err)
		}
		v.IntVal = int64(n)
	case KindFloat:
		n, err := wireNumber(w.Value)
		if err != nil {
			return fmt.Errorf("%w: float: %s", ErrParameterInvalid, err)
		}
		v.FloatVal = n
	case KindRange:
		if w.Start == nil || w.End == nil {
			return fmt.Errorf("%w: range requires start and end", ErrParameterInvalid)
		}
		v.RangeFrom, v.RangeTo = *w.Start, *w.End
	case KindBoolean:
		b, ok := w.Value.(bool)
		if !ok {
			return fmt.Errorf("%w: boolean value is not a bool", ErrParameterInvalid)
		}
		v.BoolVal = b
	case KindString, KindSelect:
		s, ok := w.Value.(string)
		if !ok {
			return fmt.Errorf("%w: %s value is not a string", ErrParameterInvalid, w.Type)
		}
		v.StrVal = s
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrParameterInvalid, w.Type)
	}
	return nil
}

// wireNumber accepts the numeric encodings json.Unmarshal may hand us.
func wireNumber(value any) (float64, error) {
	switch n := value.(type) {
	case float64:
		return n, nil
	case json.Number:
		return n.Float64()
	default:
		return 0, fmt.Errorf("value %v is not a number", value)
	}
}

// ParseValue interprets a raw form string as a value of this spec's kind.
// An empty raw string yields the spec default (or the zero value of the
// kind when no default is declared).
func (s ParameterSpec) ParseValue(raw string) (ParameterValue, error) {
	if raw == "" {
		raw = s.Default
	}
	v := ParameterValue{Kind: s.Kind}
	switch s.Kind {
	case KindInteger:
		if raw == "" {
			return v, nil
		}
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return v, fmt.Errorf("%w: %s must be an integer", ErrParameterInvalid, s.Name)
		}
		v.IntVal = n
	case KindFloat:
		if raw == "" {
			return v, nil
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return v, fmt.Errorf("%w: %s must be a number", ErrParameterInvalid, s.Name)
		}
		v.FloatVal = f
	case KindRange:
		// Ranges arrive as "from:to"; an empty raw selects the full span.
		if raw == "" {
			if s.RangeStart != nil && s.RangeEnd != nil {
				v.RangeFrom, v.RangeTo = *s.RangeStart, *s.RangeEnd
			}
			return v, nil
		}
		parts := strings.SplitN(raw, ":", 2)
		if len(parts) != 2 {
			return v, fmt.Errorf("%w: %s must be of the form from:to", ErrParameterInvalid, s.Name)
		}
		from, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		to, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err1 != nil || err2 != nil {
			return v, fmt.Errorf("%w: %s bounds must be numbers", ErrParameterInvalid, s.Name)
		}
		v.RangeFrom, v.RangeTo = from, to
	case KindBoolean:
		v.BoolVal = raw == "true" || raw == "on" || raw == "1"
	case KindString, KindSelect:
		v.StrVal = raw
	default:
		return v, fmt.Errorf("%w: unknown kind %q", ErrParameterInvalid, s.Kind)
	}
	return v, nil
}

// Validate checks a value against the spec's kind and constraint set.
func (s ParameterSpec) Validate(v ParameterValue) error {
	if v.Kind != s.Kind {
		return fmt.Errorf("%w: %s has kind %s, want %s", ErrParameterInvalid, s.Name, v.Kind, s.Kind)
	}
	switch s.Kind {
	case KindInteger:
		return s.checkBounds(float64(v.IntVal))
	case KindFloat:
		return s.checkBounds(v.FloatVal)
	case KindRange:
		if v.RangeFrom > v.RangeTo {
			return fmt.Errorf("%w: %s start %g exceeds end %g", ErrParameterInvalid, s.Name, v.RangeFrom, v.RangeTo)
		}
		if err := s.checkBounds(v.RangeFrom); err != nil {
			return err
		}
		return s.checkBounds(v.RangeTo)
	case KindBoolean, KindString:
		return nil
	case KindSelect:
		for _, opt := range s.Options {
			if v.StrVal == opt {
				return nil
			}
		}
		return fmt.Errorf("%w: %s value %q is not one of %v", ErrParameterInvalid, s.Name, v.StrVal, s.Options)
	}
	return fmt.Errorf("%w: unknown kind %q", ErrParameterInvalid, s.Kind)
}

func (s ParameterSpec) checkBounds(n float64) error {
	if s.RangeStart != nil && n < *s.RangeStart {
		return fmt.Errorf("%w: %s value %g is below minimum %g", ErrParameterInvalid, s.Name, n, *s.RangeStart)
	}
	if s.RangeEnd != nil && n > *s.RangeEnd {
		return fmt.Errorf("%w: %s value %g is above maximum %g", ErrParameterInvalid, s.Name, n, *s.RangeEnd)
	}
	return nil
}

// DisplayString renders the value for the human-readable report table.
func (v ParameterValue) DisplayString(units string) string {
	var s string
	switch v.Kind {
	case KindInteger:
		s = strconv.FormatInt(v.IntVal, 10)
	case KindFloat:
		s = strconv.FormatFloat(v.FloatVal, 'g', -1, 64)
	case KindRange:
		s = fmt.Sprintf("%g to %g", v.RangeFrom, v.RangeTo)
	case KindBoolean:
		if v.BoolVal {
			s = "yes"
		} else {
			s = "no"
		}
	case KindString, KindSelect:
		s = v.StrVal
	}
	if units != "" {
		s += " " + units
	}
	return s
}

// FileValue returns the representation written into the model's parameter
// file. Ranges become a two-element [from, to] slice.
func (v ParameterValue) FileValue() any {
	switch v.Kind {
	case KindInteger:
		return v.IntVal
	case KindFloat:
		return v.FloatVal
	case KindRange:
		return []float64{v.RangeFrom, v.RangeTo}
	case KindBoolean:
		return v.BoolVal
	default:
		return v.StrVal
	}
}

// Equal reports semantic equality of two parameter values.
func (v ParameterValue) Equal(o ParameterValue) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindInteger:
		return v.IntVal == o.IntVal
	case KindFloat:
		return v.FloatVal == o.FloatVal
	case KindRange:
		return v.RangeFrom == o.RangeFrom && v.RangeTo == o.RangeTo
	case KindBoolean:
		return v.BoolVal == o.BoolVal
	default:
		return v.StrVal == o.StrVal
	}
}

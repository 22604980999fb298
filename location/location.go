// Package location defines the flat key/value Location used to describe where
// an annotation was placed, and the matching rules shared by the handler
// registry and the DOM target finder.
//
// A Location is compared two ways:
//
//	Equal(a, b)              same key set, same values
//	Matches(target, subset)  every pair of subset appears identically in target
//
// Specificity is the key count; lookups prefer the most specific match.
package location

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Location is a flat mapping whose values are string, float64 or bool.
// Integer values supplied by Go callers are normalised to float64 by Normalize
// so that {"x": 3} built in Go equals {"x": 3} decoded from JSON.
type Location map[string]any

// IsLocation reports whether v is a flat object whose every value is a
// string, a number or a boolean. Both Location and map[string]any are
// accepted; nil maps are rejected.
func IsLocation(v any) bool {
	var m map[string]any
	switch t := v.(type) {
	case Location:
		m = t
	case map[string]any:
		m = t
	default:
		return false
	}
	if m == nil {
		return false
	}
	for _, val := range m {
		if !isFlatValue(val) {
			return false
		}
	}
	return true
}

func isFlatValue(v any) bool {
	switch v.(type) {
	case string, bool, float64, float32, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, json.Number:
		return true
	}
	return false
}

// Normalize returns a copy of l with every numeric value converted to
// float64. It returns an error if a value is not flat.
func Normalize(l Location) (Location, error) {
	out := make(Location, len(l))
	for k, v := range l {
		nv, ok := normalizeValue(v)
		if !ok {
			return nil, fmt.Errorf("location: key %q: unsupported value type %T", k, v)
		}
		out[k] = nv
	}
	return out, nil
}

func normalizeValue(v any) (any, bool) {
	switch t := v.(type) {
	case string, bool, float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int8:
		return float64(t), true
	case int16:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint:
		return float64(t), true
	case uint8:
		return float64(t), true
	case uint16:
		return float64(t), true
	case uint32:
		return float64(t), true
	case uint64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return nil, false
		}
		return f, true
	}
	return nil, false
}

func valuesEqual(a, b any) bool {
	na, ok := normalizeValue(a)
	if !ok {
		return false
	}
	nb, ok := normalizeValue(b)
	if !ok {
		return false
	}
	return na == nb
}

// Equal reports whether a and b have identical key sets and values.
// Two nil locations are equal; a nil and a non-nil location are not.
func Equal(a, b Location) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if len(a) != len(b) {
		return false
	}
	for k, va := range a {
		vb, ok := b[k]
		if !ok || !valuesEqual(va, vb) {
			return false
		}
	}
	return true
}

// Matches reports whether every key of candidate exists in target with an
// identical value. An empty candidate matches every target.
func Matches(target, candidate Location) bool {
	for k, vc := range candidate {
		vt, ok := target[k]
		if !ok || !valuesEqual(vt, vc) {
			return false
		}
	}
	return true
}

// Specificity is the number of keys in l.
func Specificity(l Location) int {
	return len(l)
}

// Parse decodes a JSON object into a Location and validates it.
func Parse(data []byte) (Location, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("location: parse: %w", err)
	}
	m, ok := raw.(map[string]any)
	if !ok || !IsLocation(m) {
		return nil, fmt.Errorf("location: parse: not a flat object")
	}
	return Location(m), nil
}

// JSON returns the canonical serialization of l: keys sorted, numbers in
// their shortest form. Two equal locations always share the same JSON.
func JSON(l Location) string {
	keys := make([]string, 0, len(l))
	for k := range l {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		kb, _ := json.Marshal(k)
		b.Write(kb)
		b.WriteByte(':')
		v, ok := normalizeValue(l[k])
		if !ok {
			v = fmt.Sprint(l[k])
		}
		vb, _ := json.Marshal(v)
		b.Write(vb)
	}
	b.WriteByte('}')
	return b.String()
}

// Compare orders locations by key count, then by canonical JSON.
func Compare(a, b Location) int {
	if la, lb := len(a), len(b); la != lb {
		return la - lb
	}
	return strings.Compare(JSON(a), JSON(b))
}

package location

import "testing"

func TestMatches(t *testing.T) {
	tests := []struct {
		name      string
		target    Location
		candidate Location
		want      bool
	}{
		{"subset", Location{"a": 1, "b": 2}, Location{"a": 1}, true},
		{"superset", Location{"a": 1}, Location{"a": 1, "b": 2}, false},
		{"both empty", Location{}, Location{}, true},
		{"value differs", Location{"a": 1}, Location{"a": 2}, false},
		{"empty candidate", Location{"a": "x"}, Location{}, true},
		{"type differs", Location{"a": "1"}, Location{"a": 1}, false},
		{"int vs float", Location{"a": 1.0}, Location{"a": 1}, true},
		{"bool", Location{"open": true, "p": "x"}, Location{"open": true}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Matches(tt.target, tt.candidate); got != tt.want {
				t.Errorf("Matches(%v, %v) = %v, want %v", tt.target, tt.candidate, got, tt.want)
			}
		})
	}
}

func TestEqual(t *testing.T) {
	if !Equal(Location{"a": 1, "b": "x"}, Location{"b": "x", "a": 1.0}) {
		t.Error("same keys and values should be equal")
	}
	if Equal(Location{"a": 1}, Location{"a": 1, "b": 2}) {
		t.Error("different key sets should not be equal")
	}
	if Equal(Location{"a": 1}, Location{"b": 1}) {
		t.Error("different keys should not be equal")
	}
	if !Equal(nil, nil) {
		t.Error("nil == nil")
	}
	if Equal(nil, Location{}) {
		t.Error("nil != empty")
	}
}

func TestIsLocation(t *testing.T) {
	tests := []struct {
		name string
		v    any
		want bool
	}{
		{"flat", map[string]any{"a": "x", "b": 2.0, "c": true}, true},
		{"location type", Location{"a": 1}, true},
		{"empty", map[string]any{}, true},
		{"nested", map[string]any{"a": map[string]any{"b": 1}}, false},
		{"array value", map[string]any{"a": []any{1}}, false},
		{"null value", map[string]any{"a": nil}, false},
		{"not object", []any{1, 2}, false},
		{"string", "x", false},
		{"nil map", map[string]any(nil), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsLocation(tt.v); got != tt.want {
				t.Errorf("IsLocation(%v) = %v, want %v", tt.v, got, tt.want)
			}
		})
	}
}

func TestParse(t *testing.T) {
	l, err := Parse([]byte(`{"page":"/dashboard/2","graph":"Revenue","x":379}`))
	if err != nil {
		t.Fatal(err)
	}
	if Specificity(l) != 3 {
		t.Errorf("Specificity: got %d, want 3", Specificity(l))
	}
	if !Equal(l, Location{"page": "/dashboard/2", "graph": "Revenue", "x": 379}) {
		t.Errorf("parsed location mismatch: %v", l)
	}

	for _, bad := range []string{`[1]`, `"x"`, `{"a":{"b":1}}`, `{`, `null`} {
		if _, err := Parse([]byte(bad)); err == nil {
			t.Errorf("Parse(%s): expected error", bad)
		}
	}
}

func TestJSON_Canonical(t *testing.T) {
	a := JSON(Location{"b": 2, "a": "x", "c": true})
	b := JSON(Location{"c": true, "a": "x", "b": 2.0})
	if a != b {
		t.Fatalf("canonical JSON differs: %s vs %s", a, b)
	}
	if a != `{"a":"x","b":2,"c":true}` {
		t.Errorf("JSON: got %s", a)
	}
}

func TestCompare(t *testing.T) {
	if Compare(Location{"a": 1}, Location{"a": 1, "b": 1}) >= 0 {
		t.Error("fewer keys should sort first")
	}
	if Compare(Location{"a": 1}, Location{"b": 1}) >= 0 {
		t.Error("same size should sort by JSON")
	}
	if Compare(Location{"a": 1}, Location{"a": 1}) != 0 {
		t.Error("equal locations compare 0")
	}
}

func TestMatchClasses(t *testing.T) {
	if !MatchExact.Valid() || !MatchSibling.Valid() {
		t.Error("exact and sibling are valid")
	}
	for _, m := range []Match{MatchStale, MatchMaybeStale, MatchChart, MatchMultimedia} {
		if m.Valid() || !m.MaybeStale() {
			t.Errorf("%s should be maybe-stale only", m)
		}
	}
	if MatchNone.Renderable() {
		t.Error("none is not renderable")
	}

	strict := Accepted(true)
	if strict[MatchMaybeStale] || !strict[MatchExact] {
		t.Errorf("Accepted(true): %v", strict)
	}
	loose := Accepted(false)
	if !loose[MatchMaybeStale] || loose[MatchNone] {
		t.Errorf("Accepted(false): %v", loose)
	}
}

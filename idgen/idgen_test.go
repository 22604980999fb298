package idgen

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestNanoID(t *testing.T) {
	gen := NanoID(12)
	seen := make(map[string]bool, 500)
	for range 500 {
		id := gen()
		if len(id) != 12 {
			t.Fatalf("length: %q", id)
		}
		for _, c := range id {
			if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'z') {
				t.Fatalf("unexpected character %q in %q", c, id)
			}
		}
		if seen[id] {
			t.Fatalf("duplicate %q", id)
		}
		seen[id] = true
	}
}

func TestUUIDv7(t *testing.T) {
	gen := UUIDv7()
	a, b := gen(), gen()
	if _, err := uuid.Parse(a); err != nil {
		t.Fatal(err)
	}
	if a[14] != '7' {
		t.Errorf("version nibble: %q", a)
	}
	if a == b {
		t.Error("ids must differ")
	}
}

func TestPrefixedAndSequence(t *testing.T) {
	gen := Prefixed("ann_", Sequence("x"))
	if got := gen(); got != "ann_x-1" {
		t.Errorf("first: %q", got)
	}
	if got := gen(); got != "ann_x-2" {
		t.Errorf("second: %q", got)
	}
	if id := New(); !strings.Contains(id, "-") {
		t.Errorf("New: %q", id)
	}
}

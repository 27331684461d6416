package ordered_test

import (
	"reflect"
	"testing"

	"github.com/2389-research/massgen/internal/ordered"
)

func TestSetPreservesDeclarationOrder(t *testing.T) {
	s := ordered.NewSet[string]()
	s.Add("a2")
	s.Add("a1")
	s.Add("a3")
	s.Add("a1") // duplicate, must not move

	got := s.Keys()
	want := []string{"a2", "a1", "a3"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Keys() = %v, want %v", got, want)
	}

	pos, ok := s.Position("a3")
	if !ok || pos != 2 {
		t.Fatalf("Position(a3) = (%d, %v), want (2, true)", pos, ok)
	}
	if !s.Has("a1") {
		t.Fatalf("Has(a1) = false, want true")
	}
	if s.Has("missing") {
		t.Fatalf("Has(missing) = true, want false")
	}
}

func TestMapPreservesInsertionOrderAcrossUpdates(t *testing.T) {
	m := ordered.NewMap[string, int]()
	m.Set("b", 1)
	m.Set("a", 2)
	m.Set("b", 3) // update, must not move

	if got, want := m.Keys(), []string{"b", "a"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Keys() = %v, want %v", got, want)
	}
	if got, want := m.Values(), []int{3, 2}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Values() = %v, want %v", got, want)
	}

	v, ok := m.Get("b")
	if !ok || v != 3 {
		t.Fatalf("Get(b) = (%d, %v), want (3, true)", v, ok)
	}
}

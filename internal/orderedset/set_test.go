package orderedset

import (
	"math/rand"
	"testing"
)

func init() {
	rand.Seed(1)
}

func TestEmptySet(t *testing.T) {
	s := New()
	if s.Len() != 0 {
		t.Fatalf("expected len 0, got %d", s.Len())
	}
	if _, ok := s.Min(); ok {
		t.Fatal("expected no min in empty set")
	}
}

func TestInsertAndContains(t *testing.T) {
	s := New()
	s.Insert(5)
	s.Insert(1)
	s.Insert(3)

	for _, k := range []int{5, 1, 3} {
		if !s.Contains(k) {
			t.Fatalf("expected %d to be a member", k)
		}
	}
	if s.Contains(2) {
		t.Fatal("2 should not be a member")
	}
	if s.Len() != 3 {
		t.Fatalf("got len %d, want 3", s.Len())
	}
}

func TestInsertDuplicateIsNoOp(t *testing.T) {
	s := New()
	s.Insert(7)
	s.Insert(7)
	if s.Len() != 1 {
		t.Fatalf("got len %d, want 1", s.Len())
	}
}

func TestMinTracksSmallest(t *testing.T) {
	s := New()
	for _, k := range []int{10, 3, 7, 1, 9} {
		s.Insert(k)
	}
	min, ok := s.Min()
	if !ok || min != 1 {
		t.Fatalf("got (%d,%v), want (1,true)", min, ok)
	}
}

func TestDeleteRemovesMember(t *testing.T) {
	s := New()
	s.Insert(1)
	s.Insert(2)
	s.Insert(3)

	s.Delete(2)

	if s.Contains(2) {
		t.Fatal("2 should have been removed")
	}
	if s.Len() != 2 {
		t.Fatalf("got len %d, want 2", s.Len())
	}

	min, _ := s.Min()
	if min != 1 {
		t.Fatalf("got min %d, want 1", min)
	}
}

func TestDeleteMissingIsNoOp(t *testing.T) {
	s := New()
	s.Insert(1)
	s.Delete(42)
	if s.Len() != 1 {
		t.Fatalf("got len %d, want 1", s.Len())
	}
}

func TestAllAscending(t *testing.T) {
	s := New()
	for _, k := range []int{5, 3, 9, 1, 7} {
		s.Insert(k)
	}

	var got []int
	for k := range s.All() {
		got = append(got, k)
	}

	want := []int{1, 3, 5, 7, 9}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestDeleteGreaterOrEqual(t *testing.T) {
	s := New()
	for _, k := range []int{1, 2, 3, 4, 5} {
		s.Insert(k)
	}

	s.DeleteGreaterOrEqual(3)

	if s.Len() != 2 {
		t.Fatalf("got len %d, want 2", s.Len())
	}
	if s.Contains(3) || s.Contains(4) || s.Contains(5) {
		t.Fatal("expected 3,4,5 removed")
	}
	if !s.Contains(1) || !s.Contains(2) {
		t.Fatal("expected 1,2 to remain")
	}
}

func TestSequentialInsertAndMin(t *testing.T) {
	s := New()
	for i := 1000; i >= 1; i-- {
		s.Insert(i)
	}
	if s.Len() != 1000 {
		t.Fatalf("got len %d, want 1000", s.Len())
	}
	min, _ := s.Min()
	if min != 1 {
		t.Fatalf("got min %d, want 1", min)
	}
}

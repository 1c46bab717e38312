// Package orderedset is a probabilistic skip-list ordered set of ints.
// Unlike a typical skip-list map, it carries no value payload — callers
// only need set membership and minimum-element queries, not a
// key-value store. It backs heap.File's free_blocks and partial_blocks
// derived state.
package orderedset

import (
	"iter"
	"math/rand"
)

const maxLevel = 32

type node struct {
	key     int
	forward []*node
}

func newNode(key, levels int) *node {
	return &node{key: key, forward: make([]*node, levels+1)}
}

// Set is an ordered set of ints supporting O(log n) insert/delete/min.
type Set struct {
	head   *node
	levels int
	size   int
}

// New returns an empty Set.
func New() *Set {
	return &Set{head: newNode(0, 0), levels: -1}
}

func randomLevel() int {
	level := 0
	for rand.Int31()&1 == 0 && level < maxLevel {
		level++
	}
	return level
}

func (s *Set) adjustLevels(level int) {
	prev := s.head.forward
	s.head = newNode(0, level)
	s.levels = level
	copy(s.head.forward, prev)
}

// Contains reports whether key is a member.
func (s *Set) Contains(key int) bool {
	curr := s.head
	for level := s.levels; level >= 0; level-- {
		for curr.forward[level] != nil && curr.forward[level].key <= key {
			if curr.forward[level].key == key {
				return true
			}
			curr = curr.forward[level]
		}
	}
	return false
}

// Insert adds key to the set. A no-op if key is already a member.
func (s *Set) Insert(key int) {
	newLevel := randomLevel()
	if newLevel > s.levels {
		s.adjustLevels(newLevel)
	}

	updates := make([]*node, s.levels+1)
	x := s.head

	for level := s.levels; level >= 0; level-- {
		for x.forward[level] != nil && x.forward[level].key < key {
			x = x.forward[level]
		}
		updates[level] = x
	}

	if x.forward[0] != nil && x.forward[0].key == key {
		return
	}

	n := newNode(key, newLevel)
	for level := 0; level <= newLevel; level++ {
		n.forward[level] = updates[level].forward[level]
		updates[level].forward[level] = n
	}

	s.size++
}

// Delete removes key from the set, if present.
func (s *Set) Delete(key int) {
	x := s.head
	found := false

	for level := s.levels; level >= 0; level-- {
		for x.forward[level] != nil && x.forward[level].key < key {
			x = x.forward[level]
		}
		if x.forward[level] != nil && x.forward[level].key == key {
			x.forward[level] = x.forward[level].forward[level]
			found = true
		}
	}

	for s.levels > 0 && s.head.forward[s.levels] == nil {
		s.levels--
		s.head.forward = s.head.forward[:s.levels+1]
	}

	if found {
		s.size--
	}
}

// Min returns the smallest member and true, or (0, false) if empty.
func (s *Set) Min() (int, bool) {
	if s.head.forward[0] == nil {
		return 0, false
	}
	return s.head.forward[0].key, true
}

// Len returns the number of members.
func (s *Set) Len() int { return s.size }

// All iterates members in ascending order.
func (s *Set) All() iter.Seq[int] {
	return func(yield func(int) bool) {
		curr := s.head.forward[0]
		for curr != nil {
			if !yield(curr.key) {
				return
			}
			curr = curr.forward[0]
		}
	}
}

// DeleteGreaterOrEqual removes every member >= threshold. Used when the
// heap file's tail shrink truncates block indices at or beyond a new
// block count.
func (s *Set) DeleteGreaterOrEqual(threshold int) {
	var toDelete []int
	for k := range s.All() {
		if k >= threshold {
			toDelete = append(toDelete, k)
		}
	}
	for _, k := range toDelete {
		s.Delete(k)
	}
}

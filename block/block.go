// Package block implements the fixed-capacity record container: a disk
// image of exactly B = 4 + C·(1+S) bytes, a 4-byte valid_count header,
// and C slots each prefixed by a one-byte presence flag.
package block

import (
	"encoding/binary"
	"fmt"

	"github.com/Ri4ik/pcrstore/record"
)

// ComputeLayout derives the per-block record capacity and total disk
// image size from a cluster (page) size and a record's fixed serialized
// size: C = ⌊(cluster−4)/(1+S)⌋, B = 4 + C·(1+S).
func ComputeLayout(cluster, recordSize int) (capacity, diskSize int, err error) {
	if recordSize <= 0 {
		return 0, 0, fmt.Errorf("block: record size must be positive, got %d", recordSize)
	}

	capacity = (cluster - 4) / (1 + recordSize)
	if capacity < 1 {
		return 0, 0, fmt.Errorf("block: cluster size %d too small to hold one record of size %d", cluster, recordSize)
	}

	diskSize = 4 + capacity*(1+recordSize)
	return capacity, diskSize, nil
}

// Block is a fixed-capacity slot array of records of type R, addressed
// by the owning heap file's (block index, slot index) pair. R is a
// plain struct; *R implements record.Record (see record.Ptr).
type Block[R any, PR record.Ptr[R]] struct {
	capacity   int
	recordSize int
	validCount int
	occupied   []bool
	slots      []R
}

// New returns an empty block with the given capacity and per-record
// size. Capacity and recordSize are normally derived via ComputeLayout
// and held fixed for the lifetime of a heap file.
func New[R any, PR record.Ptr[R]](capacity, recordSize int) *Block[R, PR] {
	return &Block[R, PR]{
		capacity:   capacity,
		recordSize: recordSize,
		occupied:   make([]bool, capacity),
		slots:      make([]R, capacity),
	}
}

// Capacity returns C, the number of record slots.
func (b *Block[R, PR]) Capacity() int { return b.capacity }

// ValidCount returns the number of occupied slots.
func (b *Block[R, PR]) ValidCount() int { return b.validCount }

// IsEmpty reports whether every slot is empty.
func (b *Block[R, PR]) IsEmpty() bool { return b.validCount == 0 }

// IsFull reports whether every slot is occupied.
func (b *Block[R, PR]) IsFull() bool { return b.validCount == b.capacity }

// DiskSize returns B, the exact byte length of Encode's output.
func (b *Block[R, PR]) DiskSize() int {
	return 4 + b.capacity*(1+b.recordSize)
}

// Insert places rec into the lowest-indexed empty slot. ok is false iff
// the block is full.
func (b *Block[R, PR]) Insert(rec R) (slot int, ok bool) {
	for i := 0; i < b.capacity; i++ {
		if !b.occupied[i] {
			b.slots[i] = rec
			b.occupied[i] = true
			b.validCount++
			return i, true
		}
	}
	return 0, false
}

// Get returns the record at slot, or false if slot is empty. Panics on
// an out-of-range slot index: that is a programmer error (an invalid
// address).
func (b *Block[R, PR]) Get(slot int) (rec R, ok bool) {
	b.checkSlot(slot)
	if !b.occupied[slot] {
		return rec, false
	}
	return b.slots[slot], true
}

// Delete clears slot if occupied and reports whether a record was
// removed. Panics on an out-of-range slot index.
func (b *Block[R, PR]) Delete(slot int) (removed bool) {
	b.checkSlot(slot)
	if !b.occupied[slot] {
		return false
	}
	b.occupied[slot] = false
	var zero R
	b.slots[slot] = zero
	b.validCount--
	return true
}

// Set overwrites the record at an already-occupied slot in place,
// leaving validCount and occupancy unchanged. Used by edit_by_id, which
// never changes a record's residency, only its bytes. Panics if slot is
// out of range or empty.
func (b *Block[R, PR]) Set(slot int, rec R) {
	b.checkSlot(slot)
	if !b.occupied[slot] {
		panic(fmt.Sprintf("block: slot %d is not occupied", slot))
	}
	b.slots[slot] = rec
}

// FindByID linearly scans occupied slots for a record with the given
// key, returning its slot index.
func (b *Block[R, PR]) FindByID(id string) (slot int, rec R, found bool) {
	for i := 0; i < b.capacity; i++ {
		if b.occupied[i] && PR(&b.slots[i]).Key() == id {
			return i, b.slots[i], true
		}
	}
	return 0, rec, false
}

// DeleteByID finds and clears the first slot whose record has the given
// key.
func (b *Block[R, PR]) DeleteByID(id string) (slot int, removed bool) {
	slot, _, found := b.FindByID(id)
	if !found {
		return 0, false
	}
	b.Delete(slot)
	return slot, true
}

// LiveRecords returns every occupied slot's record, in slot order.
func (b *Block[R, PR]) LiveRecords() []R {
	out := make([]R, 0, b.validCount)
	for i := 0; i < b.capacity; i++ {
		if b.occupied[i] {
			out = append(out, b.slots[i])
		}
	}
	return out
}

// Clear empties every slot, resetting the block to its zero state.
func (b *Block[R, PR]) Clear() {
	for i := 0; i < b.capacity; i++ {
		b.occupied[i] = false
		b.slots[i] = *new(R)
	}
	b.validCount = 0
}

func (b *Block[R, PR]) checkSlot(slot int) {
	if slot < 0 || slot >= b.capacity {
		panic(fmt.Sprintf("block: slot %d out of range [0,%d)", slot, b.capacity))
	}
}

// Encode serializes the block to exactly DiskSize() bytes: a 4-byte
// valid_count, then per slot a 1-byte presence flag followed by
// recordSize bytes of record image (zero-filled when empty).
func (b *Block[R, PR]) Encode() []byte {
	buf := make([]byte, b.DiskSize())

	binary.BigEndian.PutUint32(buf[0:4], uint32(b.validCount))

	off := 4
	for i := 0; i < b.capacity; i++ {
		if b.occupied[i] {
			buf[off] = 1
			// Encode appends into the already-sized window buf[off+1:off+1+recordSize],
			// so this writes the record image in place without reallocating.
			PR(&b.slots[i]).Encode(buf[off+1 : off+1])
		} else {
			buf[off] = 0
		}
		off += 1 + b.recordSize
	}

	return buf
}

// Decode populates the block from buf, which must be exactly
// DiskSize() bytes. The stored valid_count header is not read: the count
// is rebuilt from the presence flags. Decode returns an error for a
// wrong-length buffer, an invalid presence flag, or a slot whose record
// fails to decode; heap.ModeLegacy treats such a block as empty.
func (b *Block[R, PR]) Decode(buf []byte) error {
	want := b.DiskSize()
	if len(buf) != want {
		return fmt.Errorf("block: decode buffer has length %d, want %d", len(buf), want)
	}

	off := 4
	count := 0
	for i := 0; i < b.capacity; i++ {
		flag := buf[off]
		switch flag {
		case 0:
			b.occupied[i] = false
			b.slots[i] = *new(R)
		case 1:
			var rec R
			if err := PR(&rec).Decode(buf[off+1 : off+1+b.recordSize]); err != nil {
				return fmt.Errorf("block: decoding slot %d: %w", i, err)
			}
			b.slots[i] = rec
			b.occupied[i] = true
			count++
		default:
			return fmt.Errorf("block: slot %d has invalid presence flag %d", i, flag)
		}
		off += 1 + b.recordSize
	}

	b.validCount = count
	return nil
}

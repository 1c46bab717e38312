// Package heap implements the fixed-block heap file: a sequence of
// fixed-size blocks on one file, with in-memory free/partial block
// lists reconstructed from disk at open, and two distinct allocation
// paths — Insert (which may reuse free blocks) and AllocateEmptyBlock
// (which never does, for the linear-hash index's own block-level
// allocator).
package heap

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/bits-and-blooms/bitset"

	"github.com/Ri4ik/pcrstore/block"
	"github.com/Ri4ik/pcrstore/internal/orderedset"
	"github.com/Ri4ik/pcrstore/record"
)

// Address is a 64-bit (block_index, slot_index) pair: the high 32 bits
// are the block index, the low 32 bits the slot index.
type Address uint64

// NoAddress is returned where no valid address applies (e.g. a failed
// InsertUnique).
const NoAddress Address = ^Address(0)

// NewAddress packs a block index and slot index into an Address.
func NewAddress(blockIndex, slotIndex int) Address {
	return Address(uint32(blockIndex))<<32 | Address(uint32(slotIndex))
}

// BlockIndex returns the high 32 bits.
func (a Address) BlockIndex() int { return int(uint32(a >> 32)) }

// SlotIndex returns the low 32 bits.
func (a Address) SlotIndex() int { return int(uint32(a)) }

// Mode selects how Open handles a file whose length is not a multiple
// of the block size.
type Mode int

const (
	// ModeLegacy truncates to the nearest multiple of the block size.
	ModeLegacy Mode = iota
	// ModeStrict rejects the file outright; used by the linear-hash
	// index for its primary and overflow files.
	ModeStrict
)

// ErrDuplicateKey is returned by InsertUnique when a record with the
// same key already exists anywhere in the file.
var ErrDuplicateKey = errors.New("heap: duplicate key")

// File is a fixed-block heap file holding records of type R (*R must
// implement record.Record).
type File[R any, PR record.Ptr[R]] struct {
	mu sync.Mutex

	f          *os.File
	path       string
	recordSize int
	capacity   int
	blockSize  int
	mode       Mode

	blockCount int
	free       *orderedset.Set
	partial    *orderedset.Set
	freeBits   *bitset.BitSet
	partialBits *bitset.BitSet
	totalValid int

	closed bool
}

// Open opens (creating if necessary) a heap file at path, computing the
// block layout from cluster and the record type's fixed size, then
// reconstructing free_blocks/partial_blocks/total_valid_records from the
// on-disk block headers.
func Open[R any, PR record.Ptr[R]](path string, cluster int, mode Mode) (*File[R, PR], error) {
	var zero R
	recordSize := PR(&zero).Size()

	capacity, blockSize, err := block.ComputeLayout(cluster, recordSize)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("heap: opening %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("heap: stat %s: %w", path, err)
	}

	size := info.Size()
	if rem := size % int64(blockSize); rem != 0 {
		if mode == ModeStrict {
			f.Close()
			return nil, fmt.Errorf("heap: %s length %d is not a multiple of block size %d", path, size, blockSize)
		}
		size -= rem
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, fmt.Errorf("heap: truncating %s: %w", path, err)
		}
	}

	h := &File[R, PR]{
		f:           f,
		path:        path,
		recordSize:  recordSize,
		capacity:    capacity,
		blockSize:   blockSize,
		mode:        mode,
		blockCount:  int(size / int64(blockSize)),
		free:        orderedset.New(),
		partial:     orderedset.New(),
		freeBits:    bitset.New(0),
		partialBits: bitset.New(0),
	}

	if err := h.reconstructLocked(); err != nil {
		f.Close()
		return nil, err
	}

	if err := h.shrinkEmptyTailLocked(); err != nil {
		f.Close()
		return nil, err
	}

	return h, nil
}

func (h *File[R, PR]) reconstructLocked() error {
	h.totalValid = 0

	for i := 0; i < h.blockCount; i++ {
		b, err := h.readBlockLocked(i)
		if err != nil {
			return err
		}
		h.onBlockChangedLocked(i, b.ValidCount())
		h.totalValid += b.ValidCount()
	}

	return nil
}

// Capacity returns C, the number of record slots per block.
func (h *File[R, PR]) Capacity() int { return h.capacity }

// RecordSize returns S, the fixed serialized record length.
func (h *File[R, PR]) RecordSize() int { return h.recordSize }

// BlockDiskSize returns B, the exact on-disk size of one block.
func (h *File[R, PR]) BlockDiskSize() int { return h.blockSize }

// BlockCount returns N, the current number of blocks in the file.
func (h *File[R, PR]) BlockCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.blockCount
}

// TotalValidRecords returns the sum of every block's valid_count.
func (h *File[R, PR]) TotalValidRecords() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.totalValid
}

// IsFreeBlock reports whether block i is currently fully empty.
func (h *File[R, PR]) IsFreeBlock(i int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.freeBits.Test(uint(i))
}

// IsPartialBlock reports whether block i is partially occupied.
func (h *File[R, PR]) IsPartialBlock(i int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.partialBits.Test(uint(i))
}

func (h *File[R, PR]) checkOpenLocked() {
	if h.closed {
		panic("heap: operation on a closed file")
	}
}

func (h *File[R, PR]) readRaw(i int) ([]byte, error) {
	buf := make([]byte, h.blockSize)
	if _, err := h.f.ReadAt(buf, int64(i)*int64(h.blockSize)); err != nil {
		return nil, fmt.Errorf("heap: %s: reading block %d: %w", h.path, i, err)
	}
	return buf, nil
}

func (h *File[R, PR]) writeRaw(i int, buf []byte) error {
	if _, err := h.f.WriteAt(buf, int64(i)*int64(h.blockSize)); err != nil {
		return fmt.Errorf("heap: %s: writing block %d: %w", h.path, i, err)
	}
	return nil
}

// ReadBlock decodes block i from disk. Used directly by the linear-hash
// index, which manages its own block placement rather than going
// through Insert/Delete.
func (h *File[R, PR]) ReadBlock(i int) (*block.Block[R, PR], error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkOpenLocked()
	return h.readBlockLocked(i)
}

func (h *File[R, PR]) readBlockLocked(i int) (*block.Block[R, PR], error) {
	if i < 0 || i >= h.blockCount {
		panic(fmt.Sprintf("heap: block index %d out of range [0,%d)", i, h.blockCount))
	}

	buf, err := h.readRaw(i)
	if err != nil {
		return nil, err
	}

	b := block.New[R, PR](h.capacity, h.recordSize)
	if err := b.Decode(buf); err != nil {
		if h.mode == ModeStrict {
			return nil, fmt.Errorf("heap: %s: block %d: %w", h.path, i, err)
		}
		// Legacy mode: an undecodable block is treated as empty rather
		// than failing the whole open.
		return block.New[R, PR](h.capacity, h.recordSize), nil
	}

	return b, nil
}

// WriteBlock encodes and writes b at block index i. Used directly by
// the linear-hash index.
func (h *File[R, PR]) WriteBlock(i int, b *block.Block[R, PR]) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkOpenLocked()
	return h.writeBlockLocked(i, b)
}

func (h *File[R, PR]) writeBlockLocked(i int, b *block.Block[R, PR]) error {
	if i < 0 || i >= h.blockCount {
		panic(fmt.Sprintf("heap: block index %d out of range [0,%d)", i, h.blockCount))
	}

	before, err := h.readBlockLocked(i)
	if err != nil {
		return err
	}

	if err := h.writeRaw(i, b.Encode()); err != nil {
		return err
	}

	h.totalValid += b.ValidCount() - before.ValidCount()
	h.onBlockChangedLocked(i, b.ValidCount())
	return nil
}

// AllocateEmptyBlock appends a new, empty block at end-of-file and
// returns its index. It NEVER reuses a free_blocks entry: the
// linear-hash index is the only caller, and a group's primary block
// must never be silently handed to another group.
func (h *File[R, PR]) AllocateEmptyBlock() (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkOpenLocked()
	return h.allocateEmptyBlockLocked()
}

func (h *File[R, PR]) allocateEmptyBlockLocked() (int, error) {
	idx := h.blockCount
	empty := block.New[R, PR](h.capacity, h.recordSize)
	if err := h.writeRaw(idx, empty.Encode()); err != nil {
		return 0, err
	}
	h.blockCount++
	h.onBlockChangedLocked(idx, 0)
	return idx, nil
}

func (h *File[R, PR]) onBlockChangedLocked(i, validCount int) {
	switch {
	case validCount == 0:
		h.markFreeLocked(i)
	case validCount == h.capacity:
		h.markFullLocked(i)
	default:
		h.markPartialLocked(i)
	}
}

func (h *File[R, PR]) markFreeLocked(i int) {
	h.free.Insert(i)
	h.freeBits.Set(uint(i))
	h.partial.Delete(i)
	h.partialBits.Clear(uint(i))
}

func (h *File[R, PR]) markPartialLocked(i int) {
	h.partial.Insert(i)
	h.partialBits.Set(uint(i))
	h.free.Delete(i)
	h.freeBits.Clear(uint(i))
}

func (h *File[R, PR]) markFullLocked(i int) {
	h.free.Delete(i)
	h.freeBits.Clear(uint(i))
	h.partial.Delete(i)
	h.partialBits.Clear(uint(i))
}

// Insert places rec into the first partial block if one exists, else
// the first free block, else a freshly appended empty block.
func (h *File[R, PR]) Insert(rec R) (Address, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkOpenLocked()
	return h.insertLocked(rec)
}

func (h *File[R, PR]) insertLocked(rec R) (Address, error) {
	var (
		idx int
		b   *block.Block[R, PR]
		err error
	)

	if i, ok := h.partial.Min(); ok {
		idx = i
		b, err = h.readBlockLocked(idx)
		if err != nil {
			return NoAddress, err
		}
	} else if i, ok := h.free.Min(); ok {
		idx = i
		b = block.New[R, PR](h.capacity, h.recordSize)
	} else {
		idx, err = h.allocateEmptyBlockLocked()
		if err != nil {
			return NoAddress, err
		}
		b = block.New[R, PR](h.capacity, h.recordSize)
	}

	slot, ok := b.Insert(rec)
	if !ok {
		panic("heap: block selected for insert was unexpectedly full")
	}

	if err := h.writeBlockLocked(idx, b); err != nil {
		return NoAddress, err
	}

	return NewAddress(idx, slot), nil
}

// InsertUnique behaves like Insert unless a record with rec's key
// already exists anywhere in the file, in which case it is a no-op and
// returns ErrDuplicateKey.
func (h *File[R, PR]) InsertUnique(rec R) (Address, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkOpenLocked()

	key := PR(&rec).Key()
	if h.existsIDLocked(key) {
		return NoAddress, ErrDuplicateKey
	}
	return h.insertLocked(rec)
}

// Get reads the record at addr. ok is false if the slot is empty.
// A negative block or slot index is a programmer error and panics; an
// address whose block no longer exists (e.g. truncated by a tail
// shrink) is treated as a logical miss.
func (h *File[R, PR]) Get(addr Address) (rec R, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkOpenLocked()

	idx, slot := addr.BlockIndex(), addr.SlotIndex()
	if idx < 0 || slot < 0 {
		panic(fmt.Sprintf("heap: invalid address (block=%d, slot=%d)", idx, slot))
	}
	if idx >= h.blockCount {
		return rec, false
	}

	b, err := h.readBlockLocked(idx)
	if err != nil {
		panic(err)
	}
	return b.Get(slot)
}

// Delete clears the slot at addr, updates the free/partial lists and
// attempts a tail shrink. removed is false if the slot was already
// empty or the address's block no longer exists.
func (h *File[R, PR]) Delete(addr Address) (removed bool, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkOpenLocked()

	idx, slot := addr.BlockIndex(), addr.SlotIndex()
	if idx < 0 || slot < 0 {
		panic(fmt.Sprintf("heap: invalid address (block=%d, slot=%d)", idx, slot))
	}
	if idx >= h.blockCount {
		return false, nil
	}

	b, err := h.readBlockLocked(idx)
	if err != nil {
		return false, err
	}

	if !b.Delete(slot) {
		return false, nil
	}

	if err := h.writeBlockLocked(idx, b); err != nil {
		return false, err
	}

	if err := h.shrinkEmptyTailLocked(); err != nil {
		return true, err
	}

	return true, nil
}

// ExistsID reports whether any block holds a record with the given key.
func (h *File[R, PR]) ExistsID(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkOpenLocked()
	return h.existsIDLocked(id)
}

func (h *File[R, PR]) existsIDLocked(id string) bool {
	for i := 0; i < h.blockCount; i++ {
		b, err := h.readBlockLocked(i)
		if err != nil {
			panic(err)
		}
		if _, _, found := b.FindByID(id); found {
			return true
		}
	}
	return false
}

// AllAddresses returns every live address, in ascending (block, slot)
// order.
func (h *File[R, PR]) AllAddresses() []Address {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkOpenLocked()

	var out []Address
	for i := 0; i < h.blockCount; i++ {
		b, err := h.readBlockLocked(i)
		if err != nil {
			panic(err)
		}
		for slot := 0; slot < b.Capacity(); slot++ {
			if _, ok := b.Get(slot); ok {
				out = append(out, NewAddress(i, slot))
			}
		}
	}
	return out
}

// ShrinkEmptyTail truncates the maximal run of empty blocks at the tail
// of the file. If every block is empty, one is kept (unless the file
// had zero blocks to begin with).
func (h *File[R, PR]) ShrinkEmptyTail() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkOpenLocked()
	return h.shrinkEmptyTailLocked()
}

func (h *File[R, PR]) shrinkEmptyTailLocked() error {
	if h.blockCount == 0 {
		return nil
	}

	lastNonEmpty := -1
	for i := h.blockCount - 1; i >= 0; i-- {
		b, err := h.readBlockLocked(i)
		if err != nil {
			return err
		}
		if !b.IsEmpty() {
			lastNonEmpty = i
			break
		}
	}

	newCount := lastNonEmpty + 1
	if newCount < 1 {
		newCount = 1
	}
	if newCount >= h.blockCount {
		return nil
	}

	if err := h.f.Truncate(int64(newCount) * int64(h.blockSize)); err != nil {
		return fmt.Errorf("heap: %s: truncating to %d blocks: %w", h.path, newCount, err)
	}

	h.free.DeleteGreaterOrEqual(newCount)
	h.partial.DeleteGreaterOrEqual(newCount)
	for i := newCount; i < h.blockCount; i++ {
		h.freeBits.Clear(uint(i))
		h.partialBits.Clear(uint(i))
	}

	h.blockCount = newCount
	return nil
}

// Close releases the file handle. A closed File must not be used again.
func (h *File[R, PR]) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	return h.f.Close()
}

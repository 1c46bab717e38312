// Package linhash implements a linear-hash index: two heap files
// (primary, overflow) addressed through a directory that
// maps each bucket group to one primary block and an overflow-block
// chain, growing one group at a time via splits and shrinking via
// merges, so the directory never needs to double all at once the way a
// static extendible hash table would.
package linhash

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/Ri4ik/pcrstore/block"
	"github.com/Ri4ik/pcrstore/heap"
	"github.com/Ri4ik/pcrstore/record"
)

// Index is a linear-hash index over records of type R.
type Index[R any, PR record.Ptr[R]] struct {
	mu sync.Mutex

	primary  *heap.File[R, PR]
	overflow *heap.File[R, PR]
	metaPath string

	initialGroupCount uint32
	dMax, dMin        float64

	level        uint32
	splitPointer uint32
	groupCount   uint32
	totalRecords uint64

	primaryBlockOfGroup  []uint32
	firstOverflowOfGroup []int32
	overflowNext         []int32

	bloom *bloom.BloomFilter

	closed bool
}

// Open opens (or creates) an index rooted at baseName: baseName +
// "_lh_primary.dat", "_lh_overflow.dat" and "_lhmeta.dat". cluster sets
// the page size both heap files derive their block layout from. A
// missing meta file means a fresh index; a present-but-malformed one is
// fatal — this index refuses to guess at a corrupt directory.
func Open[R any, PR record.Ptr[R]](baseName string, cluster int, opts ...Option) (*Index[R, PR], error) {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}

	primary, err := heap.Open[R, PR](baseName+"_lh_primary.dat", cluster, heap.ModeStrict)
	if err != nil {
		return nil, err
	}
	overflow, err := heap.Open[R, PR](baseName+"_lh_overflow.dat", cluster, heap.ModeStrict)
	if err != nil {
		primary.Close()
		return nil, err
	}

	ix := &Index[R, PR]{
		primary:           primary,
		overflow:          overflow,
		metaPath:          baseName + "_lhmeta.dat",
		initialGroupCount: cfg.initialGroupCount,
		dMax:              cfg.dMax,
		dMin:              cfg.dMin,
	}

	m, err := readMeta(ix.metaPath)
	switch {
	case err == nil:
		ix.applyMetaLocked(m)
		// heap.Open drops trailing empty blocks, which can include the
		// primary blocks of empty groups; each such group gets a fresh
		// empty block back.
		kept := primary.BlockCount()
		for g := uint32(0); g < ix.groupCount; g++ {
			if int(ix.primaryBlockOfGroup[g]) >= kept {
				idx, err := primary.AllocateEmptyBlock()
				if err != nil {
					primary.Close()
					overflow.Close()
					return nil, err
				}
				ix.primaryBlockOfGroup[g] = uint32(idx)
			}
		}
	case os.IsNotExist(err):
		if err := ix.initFreshLocked(); err != nil {
			primary.Close()
			overflow.Close()
			return nil, err
		}
		if err := ix.persistMetaLocked(); err != nil {
			primary.Close()
			overflow.Close()
			return nil, err
		}
	default:
		primary.Close()
		overflow.Close()
		return nil, err
	}

	ix.rebuildBloomLocked()

	return ix, nil
}

func (ix *Index[R, PR]) initFreshLocked() error {
	ix.level = 0
	ix.splitPointer = 0
	ix.groupCount = ix.initialGroupCount
	ix.totalRecords = 0
	ix.primaryBlockOfGroup = make([]uint32, ix.groupCount)
	ix.firstOverflowOfGroup = make([]int32, ix.groupCount)
	ix.overflowNext = nil

	for g := uint32(0); g < ix.groupCount; g++ {
		idx, err := ix.primary.AllocateEmptyBlock()
		if err != nil {
			return err
		}
		ix.primaryBlockOfGroup[g] = uint32(idx)
		ix.firstOverflowOfGroup[g] = -1
	}
	return nil
}

func (ix *Index[R, PR]) applyMetaLocked(m metaData) {
	ix.initialGroupCount = m.initialGroupCount
	ix.dMax = m.dMax
	ix.dMin = m.dMin
	ix.level = m.level
	ix.splitPointer = m.splitPointer
	ix.groupCount = m.groupCount
	ix.totalRecords = m.totalRecords
	ix.primaryBlockOfGroup = m.primaryBlockOfGroup
	ix.firstOverflowOfGroup = m.firstOverflowOfGroup
	ix.overflowNext = m.overflowNext
}

func (ix *Index[R, PR]) persistMetaLocked() error {
	return writeMeta(ix.metaPath, metaData{
		initialGroupCount:    ix.initialGroupCount,
		dMax:                 ix.dMax,
		dMin:                 ix.dMin,
		level:                ix.level,
		splitPointer:         ix.splitPointer,
		groupCount:           ix.groupCount,
		totalRecords:         ix.totalRecords,
		primaryBlockOfGroup:  ix.primaryBlockOfGroup,
		firstOverflowOfGroup: ix.firstOverflowOfGroup,
		overflowNext:         ix.overflowNext,
	})
}

func (ix *Index[R, PR]) checkOpenLocked() {
	if ix.closed {
		panic("linhash: operation on a closed index")
	}
}

// bLevel returns B_level = M · 2^u, the number of groups that exist at
// the current level before any of them have split.
func (ix *Index[R, PR]) bLevel() uint64 {
	return uint64(ix.initialGroupCount) << uint64(ix.level)
}

// groupFor computes the directory index for key: h(k) mod B_level,
// redirected to h(k) mod 2·B_level when that falls before the split
// pointer (i.e. the group has already split).
func (ix *Index[R, PR]) groupFor(key string) uint32 {
	hv := hashKey(key)
	bLevel := uint32(ix.bLevel())
	g := hv % bLevel
	if g < ix.splitPointer {
		g = hv % (2 * bLevel)
	}
	return g
}

func (ix *Index[R, PR]) densityLocked() float64 {
	totalSlots := (ix.primary.BlockCount() + ix.overflow.BlockCount()) * ix.primary.Capacity()
	if totalSlots == 0 {
		return 0
	}
	return float64(ix.totalRecords) / float64(totalSlots)
}

func (ix *Index[R, PR]) chainIndices(g uint32) []int {
	var out []int
	curr := ix.firstOverflowOfGroup[g]
	for curr != -1 {
		out = append(out, int(curr))
		curr = ix.overflowNext[curr]
	}
	return out
}

func (ix *Index[R, PR]) growOverflowNextLocked(idx int) {
	for len(ix.overflowNext) <= idx {
		ix.overflowNext = append(ix.overflowNext, -1)
	}
}

func (ix *Index[R, PR]) allocateOverflowBlockLocked() (int, error) {
	idx, err := ix.overflow.AllocateEmptyBlock()
	if err != nil {
		return 0, err
	}
	ix.growOverflowNextLocked(idx)
	return idx, nil
}

// relinkChainLocked rewrites firstOverflowOfGroup[g] and the
// overflowNext entries of idxs so they form a chain in idxs' order.
func (ix *Index[R, PR]) relinkChainLocked(g uint32, idxs []int) {
	if len(idxs) == 0 {
		ix.firstOverflowOfGroup[g] = -1
		return
	}
	ix.firstOverflowOfGroup[g] = int32(idxs[0])
	for i := 0; i < len(idxs)-1; i++ {
		ix.overflowNext[idxs[i]] = int32(idxs[i+1])
	}
	ix.overflowNext[idxs[len(idxs)-1]] = -1
}

// insertIntoGroupLocked places rec into group g's primary block, its
// existing overflow chain, or a freshly appended overflow block, in
// that order. It never triggers a split: callers check density
// themselves once the placement is done.
func (ix *Index[R, PR]) insertIntoGroupLocked(g uint32, rec R) error {
	primIdx := int(ix.primaryBlockOfGroup[g])
	b, err := ix.primary.ReadBlock(primIdx)
	if err != nil {
		return err
	}
	if _, ok := b.Insert(rec); ok {
		return ix.primary.WriteBlock(primIdx, b)
	}

	prev := -1
	curr := ix.firstOverflowOfGroup[g]
	for curr != -1 {
		ob, err := ix.overflow.ReadBlock(int(curr))
		if err != nil {
			return err
		}
		if _, ok := ob.Insert(rec); ok {
			return ix.overflow.WriteBlock(int(curr), ob)
		}
		prev = int(curr)
		curr = ix.overflowNext[curr]
	}

	newIdx, err := ix.allocateOverflowBlockLocked()
	if err != nil {
		return err
	}
	ob, err := ix.overflow.ReadBlock(newIdx)
	if err != nil {
		return err
	}
	if _, ok := ob.Insert(rec); !ok {
		panic("linhash: freshly allocated overflow block is already full")
	}
	if err := ix.overflow.WriteBlock(newIdx, ob); err != nil {
		return err
	}

	if prev == -1 {
		ix.firstOverflowOfGroup[g] = int32(newIdx)
	} else {
		ix.overflowNext[prev] = int32(newIdx)
	}
	return nil
}

// Insert adds rec, then splits the group at the split pointer (not
// necessarily rec's group) if the overall density exceeds d_max.
func (ix *Index[R, PR]) Insert(rec R) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.checkOpenLocked()

	key := PR(&rec).Key()
	g := ix.groupFor(key)

	if err := ix.insertIntoGroupLocked(g, rec); err != nil {
		return err
	}
	ix.totalRecords++
	if ix.bloom != nil {
		ix.bloom.AddString(key)
	}

	if ix.densityLocked() > ix.dMax {
		if err := ix.splitLocked(); err != nil {
			return err
		}
	}

	return ix.persistMetaLocked()
}

func (ix *Index[R, PR]) findInGroupLocked(g uint32, key string) (rec R, found bool) {
	b, err := ix.primary.ReadBlock(int(ix.primaryBlockOfGroup[g]))
	if err != nil {
		panic(err)
	}
	if _, r, ok := b.FindByID(key); ok {
		return r, true
	}

	curr := ix.firstOverflowOfGroup[g]
	for curr != -1 {
		ob, err := ix.overflow.ReadBlock(int(curr))
		if err != nil {
			panic(err)
		}
		if _, r, ok := ob.FindByID(key); ok {
			return r, true
		}
		curr = ix.overflowNext[curr]
	}
	return rec, false
}

// FindByID looks up key. A Bloom-filter negative short-circuits
// straight to "not found"; a positive still walks the primary block and
// its overflow chain, since the filter only rules out absence.
func (ix *Index[R, PR]) FindByID(key string) (rec R, found bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.checkOpenLocked()

	if ix.bloom != nil && !ix.bloom.TestString(key) {
		return rec, false
	}
	return ix.findInGroupLocked(ix.groupFor(key), key)
}

// ExistsID is a boolean-only FindByID.
func (ix *Index[R, PR]) ExistsID(key string) bool {
	_, found := ix.FindByID(key)
	return found
}

// EditByID rewrites the matched record's bytes in place (same block,
// same slot): residency and the overflow chain are untouched, so no
// split/merge/compaction check applies.
func (ix *Index[R, PR]) EditByID(rec R) (bool, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.checkOpenLocked()

	key := PR(&rec).Key()
	g := ix.groupFor(key)

	primIdx := int(ix.primaryBlockOfGroup[g])
	b, err := ix.primary.ReadBlock(primIdx)
	if err != nil {
		return false, err
	}
	if slot, _, ok := b.FindByID(key); ok {
		b.Set(slot, rec)
		return true, ix.primary.WriteBlock(primIdx, b)
	}

	curr := ix.firstOverflowOfGroup[g]
	for curr != -1 {
		ob, err := ix.overflow.ReadBlock(int(curr))
		if err != nil {
			return false, err
		}
		if slot, _, ok := ob.FindByID(key); ok {
			ob.Set(slot, rec)
			return true, ix.overflow.WriteBlock(int(curr), ob)
		}
		curr = ix.overflowNext[curr]
	}

	return false, nil
}

// deleteFromGroupLocked removes key from group g's primary block or
// overflow chain, unlinking any overflow block left empty by the
// removal.
func (ix *Index[R, PR]) deleteFromGroupLocked(g uint32, key string) (bool, error) {
	primIdx := int(ix.primaryBlockOfGroup[g])
	b, err := ix.primary.ReadBlock(primIdx)
	if err != nil {
		return false, err
	}
	if _, removed := b.DeleteByID(key); removed {
		return true, ix.primary.WriteBlock(primIdx, b)
	}

	prev := -1
	curr := ix.firstOverflowOfGroup[g]
	for curr != -1 {
		ob, err := ix.overflow.ReadBlock(int(curr))
		if err != nil {
			return false, err
		}
		if _, removed := ob.DeleteByID(key); removed {
			if err := ix.overflow.WriteBlock(int(curr), ob); err != nil {
				return false, err
			}
			if ob.IsEmpty() {
				next := ix.overflowNext[curr]
				if prev == -1 {
					ix.firstOverflowOfGroup[g] = next
				} else {
					ix.overflowNext[prev] = next
				}
				ix.overflowNext[curr] = -1
			}
			return true, nil
		}
		prev = int(curr)
		curr = ix.overflowNext[curr]
	}

	return false, nil
}

// DeleteByID removes key, compacts its group's overflow chain, and
// merges the last group back into its split parent if density then
// falls below d_min and more than M groups exist.
func (ix *Index[R, PR]) DeleteByID(key string) (bool, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.checkOpenLocked()

	g := ix.groupFor(key)
	removed, err := ix.deleteFromGroupLocked(g, key)
	if err != nil || !removed {
		return removed, err
	}
	ix.totalRecords--

	if err := ix.compactChainLocked(g); err != nil {
		return true, err
	}

	if ix.densityLocked() < ix.dMin && ix.groupCount > ix.initialGroupCount {
		if err := ix.mergeLocked(); err != nil {
			return true, err
		}
	}

	return true, ix.persistMetaLocked()
}

// compactChainLocked re-packs group g's primary block and overflow
// chain into the fewest blocks that can hold its live records, freeing
// any now-unneeded overflow blocks. Runs after every delete so a chain
// never carries more blocks than its current occupancy needs.
func (ix *Index[R, PR]) compactChainLocked(g uint32) error {
	capacity := ix.primary.Capacity()
	ovCapacity := ix.overflow.Capacity()

	primIdx := int(ix.primaryBlockOfGroup[g])
	primBlock, err := ix.primary.ReadBlock(primIdx)
	if err != nil {
		return err
	}

	chainIdxs := ix.chainIndices(g)
	live := append([]R{}, primBlock.LiveRecords()...)
	for _, idx := range chainIdxs {
		ob, err := ix.overflow.ReadBlock(idx)
		if err != nil {
			return err
		}
		live = append(live, ob.LiveRecords()...)
	}

	needed := overflowBlocksNeeded(len(live), capacity, ovCapacity)
	if needed >= len(chainIdxs) {
		return nil // no spare blocks to free
	}

	newPrim := block.New[R, PR](capacity, ix.primary.RecordSize())
	pos := 0
	for pos < len(live) && !newPrim.IsFull() {
		newPrim.Insert(live[pos])
		pos++
	}
	if err := ix.primary.WriteBlock(primIdx, newPrim); err != nil {
		return err
	}

	for i := 0; i < needed; i++ {
		nb := block.New[R, PR](ovCapacity, ix.overflow.RecordSize())
		for pos < len(live) && !nb.IsFull() {
			nb.Insert(live[pos])
			pos++
		}
		if err := ix.overflow.WriteBlock(chainIdxs[i], nb); err != nil {
			return err
		}
	}

	for i := needed; i < len(chainIdxs); i++ {
		empty := block.New[R, PR](ovCapacity, ix.overflow.RecordSize())
		if err := ix.overflow.WriteBlock(chainIdxs[i], empty); err != nil {
			return err
		}
		ix.overflowNext[chainIdxs[i]] = -1
	}

	ix.relinkChainLocked(g, chainIdxs[:needed])

	return ix.overflow.ShrinkEmptyTail()
}

func overflowBlocksNeeded(n, capacity, ovCapacity int) int {
	rem := n - capacity
	if rem <= 0 {
		return 0
	}
	return (rem + ovCapacity - 1) / ovCapacity
}

// splitLocked performs one linear-hash split: group p's records are
// rehashed against the doubled range 2·B_level, the ones that land on
// p' = p + B_level move to a freshly appended group, and the split
// pointer advances (wrapping into the next level once it reaches
// B_level).
func (ix *Index[R, PR]) splitLocked() error {
	p := ix.splitPointer
	bLevel := uint32(ix.bLevel())
	pPrime := p + bLevel

	newPrimIdx, err := ix.primary.AllocateEmptyBlock()
	if err != nil {
		return err
	}
	ix.primaryBlockOfGroup = append(ix.primaryBlockOfGroup, uint32(newPrimIdx))
	ix.firstOverflowOfGroup = append(ix.firstOverflowOfGroup, -1)
	ix.groupCount++

	primIdxP := int(ix.primaryBlockOfGroup[p])
	primBlockP, err := ix.primary.ReadBlock(primIdxP)
	if err != nil {
		return err
	}

	chainIdxs := ix.chainIndices(p)
	live := append([]R{}, primBlockP.LiveRecords()...)
	for _, idx := range chainIdxs {
		ob, err := ix.overflow.ReadBlock(idx)
		if err != nil {
			return err
		}
		live = append(live, ob.LiveRecords()...)
	}

	newBLevel := uint32(2) * bLevel
	var stay, move []R
	for _, r := range live {
		key := PR(&r).Key()
		if hashKey(key)%newBLevel == pPrime {
			move = append(move, r)
		} else {
			stay = append(stay, r)
		}
	}

	capacity := ix.primary.Capacity()
	ovCapacity := ix.overflow.Capacity()
	neededStay := overflowBlocksNeeded(len(stay), capacity, ovCapacity)
	neededMove := overflowBlocksNeeded(len(move), capacity, ovCapacity)

	for len(chainIdxs) < neededStay+neededMove {
		idx, err := ix.allocateOverflowBlockLocked()
		if err != nil {
			return err
		}
		chainIdxs = append(chainIdxs, idx)
	}

	// Write p: its primary block plus the first neededStay chain blocks.
	newPrimP := block.New[R, PR](capacity, ix.primary.RecordSize())
	pos := 0
	for pos < len(stay) && !newPrimP.IsFull() {
		newPrimP.Insert(stay[pos])
		pos++
	}
	if err := ix.primary.WriteBlock(primIdxP, newPrimP); err != nil {
		return err
	}
	for i := 0; i < neededStay; i++ {
		nb := block.New[R, PR](ovCapacity, ix.overflow.RecordSize())
		for pos < len(stay) && !nb.IsFull() {
			nb.Insert(stay[pos])
			pos++
		}
		if err := ix.overflow.WriteBlock(chainIdxs[i], nb); err != nil {
			return err
		}
	}
	ix.relinkChainLocked(p, chainIdxs[:neededStay])

	// Write p': its (just-allocated) primary block plus the next
	// neededMove chain blocks.
	newPrimPPrime := block.New[R, PR](capacity, ix.primary.RecordSize())
	pos = 0
	for pos < len(move) && !newPrimPPrime.IsFull() {
		newPrimPPrime.Insert(move[pos])
		pos++
	}
	if err := ix.primary.WriteBlock(newPrimIdx, newPrimPPrime); err != nil {
		return err
	}
	moveChainIdxs := chainIdxs[neededStay : neededStay+neededMove]
	for _, idx := range moveChainIdxs {
		nb := block.New[R, PR](ovCapacity, ix.overflow.RecordSize())
		for pos < len(move) && !nb.IsFull() {
			nb.Insert(move[pos])
			pos++
		}
		if err := ix.overflow.WriteBlock(idx, nb); err != nil {
			return err
		}
	}
	ix.relinkChainLocked(pPrime, moveChainIdxs)

	for _, idx := range chainIdxs[neededStay+neededMove:] {
		empty := block.New[R, PR](ovCapacity, ix.overflow.RecordSize())
		if err := ix.overflow.WriteBlock(idx, empty); err != nil {
			return err
		}
		ix.overflowNext[idx] = -1
	}
	if err := ix.overflow.ShrinkEmptyTail(); err != nil {
		return err
	}

	ix.splitPointer++
	if ix.splitPointer >= bLevel {
		ix.splitPointer = 0
		ix.level++
	}

	return nil
}

// splitParentOf finds the group from was split off of. When the current
// level still has unsplit siblings (split_pointer > 0) from is this
// round's product, paired bLevel(u) below. Once a level fully splits,
// split_pointer wraps to 0 and every group at the new level (including
// the last one) is itself last round's sibling, paired bLevel(u)/2
// below instead.
func (ix *Index[R, PR]) splitParentOf(from uint32) uint32 {
	if ix.splitPointer > 0 {
		return from - uint32(ix.bLevel())
	}
	return from - uint32(ix.bLevel()/2)
}

// mergeLocked performs one linear-hash merge: the reverse of the most
// recent split. The highest-numbered group's records move back into
// its split-parent, its directory entry is dropped, and the split
// pointer retreats (wrapping back a level once it underflows zero).
func (ix *Index[R, PR]) mergeLocked() error {
	from := ix.groupCount - 1
	to := ix.splitParentOf(from)

	primIdxFrom := int(ix.primaryBlockOfGroup[from])
	primBlockFrom, err := ix.primary.ReadBlock(primIdxFrom)
	if err != nil {
		return err
	}

	chainIdxs := ix.chainIndices(from)
	live := append([]R{}, primBlockFrom.LiveRecords()...)
	for _, idx := range chainIdxs {
		ob, err := ix.overflow.ReadBlock(idx)
		if err != nil {
			return err
		}
		live = append(live, ob.LiveRecords()...)
	}

	empty := block.New[R, PR](ix.primary.Capacity(), ix.primary.RecordSize())
	if err := ix.primary.WriteBlock(primIdxFrom, empty); err != nil {
		return err
	}
	for _, idx := range chainIdxs {
		eb := block.New[R, PR](ix.overflow.Capacity(), ix.overflow.RecordSize())
		if err := ix.overflow.WriteBlock(idx, eb); err != nil {
			return err
		}
		ix.overflowNext[idx] = -1
	}
	ix.firstOverflowOfGroup[from] = -1

	ix.primaryBlockOfGroup = ix.primaryBlockOfGroup[:from]
	ix.firstOverflowOfGroup = ix.firstOverflowOfGroup[:from]
	ix.groupCount--

	for _, r := range live {
		if err := ix.insertIntoGroupLocked(to, r); err != nil {
			return err
		}
	}

	if ix.splitPointer > 0 {
		ix.splitPointer--
	} else {
		ix.level--
		ix.splitPointer = uint32(ix.bLevel()) - 1
	}

	// The tail shrink drops from's emptied primary block, but the trailing
	// run of empty blocks it removes can also hold the primary blocks of
	// live groups that happen to be empty; each of those gets a fresh
	// empty block so no group points past the end of the file.
	if err := ix.primary.ShrinkEmptyTail(); err != nil {
		return err
	}
	kept := ix.primary.BlockCount()
	for g := uint32(0); g < ix.groupCount; g++ {
		if int(ix.primaryBlockOfGroup[g]) >= kept {
			idx, err := ix.primary.AllocateEmptyBlock()
			if err != nil {
				return err
			}
			ix.primaryBlockOfGroup[g] = uint32(idx)
		}
	}
	return ix.overflow.ShrinkEmptyTail()
}

// TotalRecords returns the number of live records across both heap
// files.
func (ix *Index[R, PR]) TotalRecords() uint64 {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.checkOpenLocked()
	return ix.totalRecords
}

// PrimaryFile exposes the primary heap file for bulk scans (e.g.
// all_addresses-style enumeration); it is not meant for direct
// insert/delete, which would desynchronize the directory.
func (ix *Index[R, PR]) PrimaryFile() *heap.File[R, PR] { return ix.primary }

// OverflowFile exposes the overflow heap file for bulk scans.
func (ix *Index[R, PR]) OverflowFile() *heap.File[R, PR] { return ix.overflow }

func (ix *Index[R, PR]) rebuildBloomLocked() {
	n := uint(ix.totalRecords)
	if n < 1024 {
		n = 1024
	}
	f := bloom.NewWithEstimates(n, 0.01)

	for g := uint32(0); g < ix.groupCount; g++ {
		b, err := ix.primary.ReadBlock(int(ix.primaryBlockOfGroup[g]))
		if err != nil {
			panic(err)
		}
		for _, r := range b.LiveRecords() {
			f.AddString(PR(&r).Key())
		}

		curr := ix.firstOverflowOfGroup[g]
		for curr != -1 {
			ob, err := ix.overflow.ReadBlock(int(curr))
			if err != nil {
				panic(err)
			}
			for _, r := range ob.LiveRecords() {
				f.AddString(PR(&r).Key())
			}
			curr = ix.overflowNext[curr]
		}
	}

	ix.bloom = f
}

// GroupDump is one group's live contents: its primary block's records
// and, in chain order, each overflow block's records.
type GroupDump[R any] struct {
	Primary  []R
	Overflow [][]R
}

// Dump is a structural snapshot of the whole index, for tests and
// diagnostics.
type Dump[R any] struct {
	M                  uint32
	Level              uint32
	SplitPointer       uint32
	GroupCount         uint32
	TotalRecords       uint64
	PrimaryBlockCount  int
	OverflowBlockCount int
	Groups             []GroupDump[R]
}

// String renders a Dump in a compact, human-readable form.
func (d Dump[R]) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "M=%d u=%d s=%d G=%d total=%d primary_blocks=%d overflow_blocks=%d\n",
		d.M, d.Level, d.SplitPointer, d.GroupCount, d.TotalRecords, d.PrimaryBlockCount, d.OverflowBlockCount)
	for g, gd := range d.Groups {
		fmt.Fprintf(&sb, "group %d: primary=%d", g, len(gd.Primary))
		for i, ov := range gd.Overflow {
			fmt.Fprintf(&sb, " overflow[%d]=%d", i, len(ov))
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

// DumpStructure snapshots the directory and every group's live records.
func (ix *Index[R, PR]) DumpStructure() Dump[R] {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.checkOpenLocked()

	d := Dump[R]{
		M:                  ix.initialGroupCount,
		Level:              ix.level,
		SplitPointer:       ix.splitPointer,
		GroupCount:         ix.groupCount,
		TotalRecords:       ix.totalRecords,
		PrimaryBlockCount:  ix.primary.BlockCount(),
		OverflowBlockCount: ix.overflow.BlockCount(),
	}

	for g := uint32(0); g < ix.groupCount; g++ {
		gd := GroupDump[R]{}
		b, err := ix.primary.ReadBlock(int(ix.primaryBlockOfGroup[g]))
		if err != nil {
			panic(err)
		}
		gd.Primary = b.LiveRecords()

		curr := ix.firstOverflowOfGroup[g]
		for curr != -1 {
			ob, err := ix.overflow.ReadBlock(int(curr))
			if err != nil {
				panic(err)
			}
			gd.Overflow = append(gd.Overflow, ob.LiveRecords())
			curr = ix.overflowNext[curr]
		}

		d.Groups = append(d.Groups, gd)
	}

	return d
}

// Close persists meta one last time and closes both heap files.
func (ix *Index[R, PR]) Close() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.closed {
		return nil
	}
	ix.closed = true

	metaErr := ix.persistMetaLocked()
	primErr := ix.primary.Close()
	ovErr := ix.overflow.Close()

	if metaErr != nil {
		return metaErr
	}
	if primErr != nil {
		return primErr
	}
	return ovErr
}

package heap

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/Ri4ik/pcrstore/patient"
)

func openTest(t *testing.T, mode Mode) *File[patient.Record, *patient.Record] {
	t.Helper()
	path := filepath.Join(t.TempDir(), "heap.dat")
	h, err := Open[patient.Record, *patient.Record](path, 256, mode)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

func rec(id string) patient.Record {
	return patient.Record{GivenName: "A", FamilyName: "B", Date: "01:01:2024", ID: id}
}

func TestInsertGetAddressStability(t *testing.T) {
	h := openTest(t, ModeLegacy)

	addr, err := h.Insert(rec("p1"))
	if err != nil {
		t.Fatal(err)
	}

	got, ok := h.Get(addr)
	if !ok || got.ID != "p1" {
		t.Fatalf("got (%+v,%v)", got, ok)
	}

	// Stable across an unrelated insert.
	if _, err := h.Insert(rec("p2")); err != nil {
		t.Fatal(err)
	}
	got, ok = h.Get(addr)
	if !ok || got.ID != "p1" {
		t.Fatalf("address destabilized by unrelated insert: got (%+v,%v)", got, ok)
	}
}

func TestCountConsistency(t *testing.T) {
	h := openTest(t, ModeLegacy)

	var addrs []Address
	for i := 0; i < 50; i++ {
		a, err := h.Insert(rec(fmt.Sprintf("p%d", i)))
		if err != nil {
			t.Fatal(err)
		}
		addrs = append(addrs, a)
	}

	if got := h.TotalValidRecords(); got != 50 {
		t.Fatalf("got %d, want 50", got)
	}
	if got := len(h.AllAddresses()); got != 50 {
		t.Fatalf("got %d addresses, want 50", got)
	}

	for _, a := range addrs[:20] {
		if _, err := h.Delete(a); err != nil {
			t.Fatal(err)
		}
	}

	if got := h.TotalValidRecords(); got != 30 {
		t.Fatalf("got %d, want 30", got)
	}
	if got := len(h.AllAddresses()); got != 30 {
		t.Fatalf("got %d addresses, want 30", got)
	}
}

func TestGetEmptySlotReturnsFalse(t *testing.T) {
	h := openTest(t, ModeLegacy)

	addr, err := h.Insert(rec("p1"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.Delete(addr); err != nil {
		t.Fatal(err)
	}

	if _, ok := h.Get(addr); ok {
		t.Fatal("expected NONE for a deleted slot")
	}
}

func TestInsertUniqueDuplicate(t *testing.T) {
	h := openTest(t, ModeLegacy)

	if _, err := h.Insert(rec("dup")); err != nil {
		t.Fatal(err)
	}

	_, err := h.InsertUnique(rec("dup"))
	if err != ErrDuplicateKey {
		t.Fatalf("got %v, want ErrDuplicateKey", err)
	}
	if got := h.TotalValidRecords(); got != 1 {
		t.Fatalf("duplicate insert should be a no-op, got %d records", got)
	}
}

func TestShrinkEmptyTail(t *testing.T) {
	h := openTest(t, ModeLegacy)

	var addrs []Address
	for i := 0; i < 50; i++ {
		a, err := h.Insert(rec("x"))
		if err != nil {
			t.Fatal(err)
		}
		addrs = append(addrs, a)
	}

	before := h.BlockCount()
	if before < 2 {
		t.Fatalf("expected more than one block for 50 records, got %d", before)
	}

	for i := len(addrs) - 1; i >= 0; i-- {
		if _, err := h.Delete(addrs[i]); err != nil {
			t.Fatal(err)
		}
	}

	if got := h.TotalValidRecords(); got != 0 {
		t.Fatalf("got %d valid records, want 0", got)
	}

	after := h.BlockCount()
	if after != 0 && after != 1 {
		t.Fatalf("got block count %d, want 0 or 1", after)
	}
}

func TestAllocateEmptyBlockNeverReusesFreeBlocks(t *testing.T) {
	h := openTest(t, ModeStrict)

	a1, err := h.AllocateEmptyBlock()
	if err != nil {
		t.Fatal(err)
	}
	a2, err := h.AllocateEmptyBlock()
	if err != nil {
		t.Fatal(err)
	}
	if a2 != a1+1 {
		t.Fatalf("expected sequential appends, got %d then %d", a1, a2)
	}
	if !h.IsFreeBlock(a1) || !h.IsFreeBlock(a2) {
		t.Fatal("freshly allocated blocks should be tracked as free")
	}

	// Even though a1/a2 are both "free" from the heap's own bookkeeping
	// perspective, AllocateEmptyBlock must not hand either of them back
	// out; it always appends.
	a3, err := h.AllocateEmptyBlock()
	if err != nil {
		t.Fatal(err)
	}
	if a3 != a2+1 {
		t.Fatalf("AllocateEmptyBlock reused a free block: got %d", a3)
	}
}

func TestReadWriteBlockDirect(t *testing.T) {
	h := openTest(t, ModeStrict)

	idx, err := h.AllocateEmptyBlock()
	if err != nil {
		t.Fatal(err)
	}

	b, err := h.ReadBlock(idx)
	if err != nil {
		t.Fatal(err)
	}
	b.Insert(rec("direct"))

	if err := h.WriteBlock(idx, b); err != nil {
		t.Fatal(err)
	}

	b2, err := h.ReadBlock(idx)
	if err != nil {
		t.Fatal(err)
	}
	if b2.ValidCount() != 1 {
		t.Fatalf("got valid count %d, want 1", b2.ValidCount())
	}

	if got := h.TotalValidRecords(); got != 1 {
		t.Fatalf("got %d total valid records after WriteBlock, want 1", got)
	}
	if h.IsFreeBlock(idx) {
		t.Fatal("block has a live record but is still marked free")
	}

	b2.Delete(0)
	if err := h.WriteBlock(idx, b2); err != nil {
		t.Fatal(err)
	}
	if got := h.TotalValidRecords(); got != 0 {
		t.Fatalf("got %d total valid records after emptying via WriteBlock, want 0", got)
	}
	if !h.IsFreeBlock(idx) {
		t.Fatal("block was emptied via WriteBlock but is not marked free")
	}
}

func TestStrictModeRejectsMisalignedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heap.dat")
	if err := os.WriteFile(path, []byte{1, 2, 3}, 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Open[patient.Record, *patient.Record](path, 256, ModeStrict)
	if err == nil {
		t.Fatal("expected strict-mode open to reject a misaligned file")
	}
}

func TestLegacyModeTruncatesMisalignedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heap.dat")
	if err := os.WriteFile(path, []byte{1, 2, 3}, 0o644); err != nil {
		t.Fatal(err)
	}

	h, err := Open[patient.Record, *patient.Record](path, 256, ModeLegacy)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	if h.BlockCount() != 0 {
		t.Fatalf("got block count %d, want 0", h.BlockCount())
	}
}

func TestReopenPreservesRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heap.dat")

	h, err := Open[patient.Record, *patient.Record](path, 256, ModeLegacy)
	if err != nil {
		t.Fatal(err)
	}
	addr, err := h.Insert(rec("persist"))
	if err != nil {
		t.Fatal(err)
	}
	if err := h.Close(); err != nil {
		t.Fatal(err)
	}

	h2, err := Open[patient.Record, *patient.Record](path, 256, ModeLegacy)
	if err != nil {
		t.Fatal(err)
	}
	defer h2.Close()

	got, ok := h2.Get(addr)
	if !ok || got.ID != "persist" {
		t.Fatalf("got (%+v,%v)", got, ok)
	}
	if h2.TotalValidRecords() != 1 {
		t.Fatalf("got %d, want 1", h2.TotalValidRecords())
	}
}

package linhash

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
)

// metaMagic identifies this module's meta file format; arbitrary but
// fixed, so a foreign file is rejected rather than partially parsed.
const metaMagic uint32 = 0x4c484d31 // "LHM1"

const metaVersion uint32 = 1

// metaData is the index's exact on-disk directory layout: counts and
// tunables followed by the three directory arrays (the first two indexed
// by group, overflowNext by overflow block).
type metaData struct {
	initialGroupCount uint32
	dMax, dMin        float64
	level             uint32
	splitPointer      uint32
	groupCount        uint32
	totalRecords      uint64

	primaryBlockOfGroup  []uint32
	firstOverflowOfGroup []int32
	overflowNext         []int32
}

// writeMeta overwrites path with m's binary image. Meta writes are not
// transactional: a crash mid-write leaves the prior open's recovery
// falling back to whatever the next read finds.
func writeMeta(path string, m metaData) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("linhash: creating %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	fields := []any{
		metaMagic,
		metaVersion,
		m.initialGroupCount,
		m.dMax,
		m.dMin,
		m.level,
		m.splitPointer,
		m.groupCount,
		m.totalRecords,
		uint32(len(m.primaryBlockOfGroup)),
		m.primaryBlockOfGroup,
		uint32(len(m.firstOverflowOfGroup)),
		m.firstOverflowOfGroup,
		uint32(len(m.overflowNext)),
		m.overflowNext,
	}
	for _, v := range fields {
		if err := binary.Write(w, binary.BigEndian, v); err != nil {
			return fmt.Errorf("linhash: writing %s: %w", path, err)
		}
	}
	return w.Flush()
}

// readMeta reads and validates a meta file. A missing file is reported
// via the plain os error (callers check os.IsNotExist); a present but
// malformed file is always a wrapped error naming what's wrong.
func readMeta(path string) (metaData, error) {
	var m metaData

	f, err := os.Open(path)
	if err != nil {
		return m, err
	}
	defer f.Close()

	r := bufio.NewReader(f)

	var magic, version uint32
	if err := binary.Read(r, binary.BigEndian, &magic); err != nil {
		return m, fmt.Errorf("linhash: %s: reading magic: %w", path, err)
	}
	if magic != metaMagic {
		return m, fmt.Errorf("linhash: %s: bad magic %#x, want %#x", path, magic, metaMagic)
	}
	if err := binary.Read(r, binary.BigEndian, &version); err != nil {
		return m, fmt.Errorf("linhash: %s: reading version: %w", path, err)
	}
	if version != metaVersion {
		return m, fmt.Errorf("linhash: %s: unsupported version %d", path, version)
	}

	for _, dst := range []any{
		&m.initialGroupCount,
		&m.dMax,
		&m.dMin,
		&m.level,
		&m.splitPointer,
		&m.groupCount,
		&m.totalRecords,
	} {
		if err := binary.Read(r, binary.BigEndian, dst); err != nil {
			return m, fmt.Errorf("linhash: %s: %w", path, err)
		}
	}

	var lenP uint32
	if err := binary.Read(r, binary.BigEndian, &lenP); err != nil {
		return m, fmt.Errorf("linhash: %s: reading len_P: %w", path, err)
	}
	m.primaryBlockOfGroup = make([]uint32, lenP)
	if err := binary.Read(r, binary.BigEndian, m.primaryBlockOfGroup); err != nil {
		return m, fmt.Errorf("linhash: %s: reading primary_block_of_group: %w", path, err)
	}
	if lenP != m.groupCount {
		return m, fmt.Errorf("linhash: %s: inconsistent meta: len_P=%d group_count=%d", path, lenP, m.groupCount)
	}

	var lenF uint32
	if err := binary.Read(r, binary.BigEndian, &lenF); err != nil {
		return m, fmt.Errorf("linhash: %s: reading len_F: %w", path, err)
	}
	m.firstOverflowOfGroup = make([]int32, lenF)
	if err := binary.Read(r, binary.BigEndian, m.firstOverflowOfGroup); err != nil {
		return m, fmt.Errorf("linhash: %s: reading first_overflow_of_group: %w", path, err)
	}
	if lenF != m.groupCount {
		return m, fmt.Errorf("linhash: %s: inconsistent meta: len_F=%d group_count=%d", path, lenF, m.groupCount)
	}

	var lenO uint32
	if err := binary.Read(r, binary.BigEndian, &lenO); err != nil {
		return m, fmt.Errorf("linhash: %s: reading len_O: %w", path, err)
	}
	m.overflowNext = make([]int32, lenO)
	if err := binary.Read(r, binary.BigEndian, m.overflowNext); err != nil {
		return m, fmt.Errorf("linhash: %s: reading overflow_next: %w", path, err)
	}

	return m, nil
}

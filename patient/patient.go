// Package patient implements the patient record: four length-prefixed
// textual fields, fixed serialized size S=53.
package patient

import (
	"fmt"

	"github.com/Ri4ik/pcrstore/record"
)

const (
	maxGivenName  = 15
	maxFamilyName = 14
	dateWidth     = 10
	maxID         = 10
)

// Size is the fixed serialized length of a Record: 1+15 + 1+14 + 1+10 + 1+10.
const Size = 1 + maxGivenName + 1 + maxFamilyName + 1 + dateWidth + 1 + maxID

const (
	offGivenName  = 0
	offFamilyName = offGivenName + 1 + maxGivenName
	offDate       = offFamilyName + 1 + maxFamilyName
	offID         = offDate + 1 + dateWidth
)

// Record is one patient: given name, family name, a DD:MM:YYYY date of
// birth, and an external id used as the primary key.
type Record struct {
	GivenName  string
	FamilyName string
	Date       string // format DD:MM:YYYY, exactly 10 characters
	ID         string
}

var _ record.Record = (*Record)(nil)

// New returns a zero-value Record; it has the record.Factory shape for
// this record type.
func New() Record { return Record{} }

func (r *Record) Key() string { return r.ID }

func (r *Record) Size() int { return Size }

func (r *Record) Encode(dst []byte) []byte {
	start := len(dst)
	dst = append(dst, make([]byte, Size)...)
	buf := dst[start:]

	record.PutField(buf, offGivenName, maxGivenName, r.GivenName)
	record.PutField(buf, offFamilyName, maxFamilyName, r.FamilyName)
	record.PutField(buf, offDate, dateWidth, r.Date)
	record.PutField(buf, offID, maxID, r.ID)

	return dst
}

func (r *Record) Decode(buf []byte) error {
	if len(buf) != Size {
		return fmt.Errorf("patient: decode buffer has length %d, want %d", len(buf), Size)
	}

	r.GivenName = record.GetField(buf, offGivenName, maxGivenName)
	r.FamilyName = record.GetField(buf, offFamilyName, maxFamilyName)
	r.Date = record.GetField(buf, offDate, dateWidth)
	r.ID = record.GetField(buf, offID, maxID)

	return nil
}

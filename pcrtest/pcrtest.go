// Package pcrtest implements a second, independent record.Record shape
// — a PCR test result — alongside patient.Record, so a single heap
// file or index can be instantiated over either without either record
// type knowing the other exists. Composing patient and test records
// (e.g. "at most 6 tests per patient") belongs to an external
// domain-service layer and is out of scope; this package only supplies
// the record shape itself.
package pcrtest

import (
	"fmt"

	"github.com/Ri4ik/pcrstore/record"
)

const (
	maxSampleID  = 12
	maxPatientID = 10
	maxTarget    = 10 // e.g. "ORF1ab", "N-gene"
	dateWidth    = 10 // DD:MM:YYYY
)

// Result is the outcome of a PCR test.
type Result uint8

const (
	ResultPending Result = iota
	ResultNegative
	ResultPositive
	ResultInconclusive
)

// Size is the fixed serialized length of a Record.
const Size = 1 + maxSampleID + 1 + maxPatientID + 1 + maxTarget + 1 + dateWidth + 1

const (
	offSampleID  = 0
	offPatientID = offSampleID + 1 + maxSampleID
	offTarget    = offPatientID + 1 + maxPatientID
	offDate      = offTarget + 1 + maxTarget
	offResult    = offDate + 1 + dateWidth
)

// Record is one PCR test result, keyed by its sample id.
type Record struct {
	SampleID    string
	PatientID   string
	Target      string
	CollectedAt string // format DD:MM:YYYY
	Result      Result
}

var _ record.Record = (*Record)(nil)

// New returns a zero-value Record.
func New() Record { return Record{} }

func (r *Record) Key() string { return r.SampleID }

func (r *Record) Size() int { return Size }

func (r *Record) Encode(dst []byte) []byte {
	start := len(dst)
	dst = append(dst, make([]byte, Size)...)
	buf := dst[start:]

	record.PutField(buf, offSampleID, maxSampleID, r.SampleID)
	record.PutField(buf, offPatientID, maxPatientID, r.PatientID)
	record.PutField(buf, offTarget, maxTarget, r.Target)
	record.PutField(buf, offDate, dateWidth, r.CollectedAt)
	buf[offResult] = byte(r.Result)

	return dst
}

func (r *Record) Decode(buf []byte) error {
	if len(buf) != Size {
		return fmt.Errorf("pcrtest: decode buffer has length %d, want %d", len(buf), Size)
	}

	r.SampleID = record.GetField(buf, offSampleID, maxSampleID)
	r.PatientID = record.GetField(buf, offPatientID, maxPatientID)
	r.Target = record.GetField(buf, offTarget, maxTarget)
	r.CollectedAt = record.GetField(buf, offDate, dateWidth)
	r.Result = Result(buf[offResult])

	return nil
}

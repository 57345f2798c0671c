// Package ihex decodes Intel hex format firmware images: checksummed ASCII
// records carrying address-tagged byte payloads.
package ihex

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"

	"github.com/skoehler/sigrok-util/pkg/binrec"
)

// Record type values.
const (
	recData = 0x00
	recEOF  = 0x01
)

var (
	// ErrInvalidRecord indicates a line that is not a well-formed record.
	ErrInvalidRecord = errors.New("invalid hex record")
	// ErrChecksum indicates a record whose checksum byte does not match
	// its contents.
	ErrChecksum = errors.New("hex record checksum mismatch")
	// ErrNoRecords indicates an assembly request with no data records.
	ErrNoRecords = errors.New("no hex records")
)

// Record is one decoded data record: payload bytes at a 16-bit load address.
type Record struct {
	Addr uint16
	Data []byte
}

// Decode parses hex-record text into its data records. Decoding stops at the
// first end-of-file record; record types other than data and end-of-file are
// skipped. Every record's checksum is verified.
func Decode(text []byte) ([]Record, error) {
	var records []Record
	for i, line := range bytes.Split(text, []byte("\n")) {
		line = bytes.TrimRight(line, " \t\r")
		if len(line) == 0 {
			continue
		}
		if line[0] != ':' {
			return nil, fmt.Errorf("line %d: missing ':' start code: %w", i+1, ErrInvalidRecord)
		}
		raw := make([]byte, hex.DecodedLen(len(line)-1))
		if _, err := hex.Decode(raw, line[1:]); err != nil {
			return nil, fmt.Errorf("line %d: %v: %w", i+1, err, ErrInvalidRecord)
		}

		r := binrec.NewReader(raw, 0)
		count := r.U8()
		addr := r.U16()
		typ := r.U8()
		payload := r.Bytes(int(count))
		checksum := r.U8()
		if err := r.Err(); err != nil {
			return nil, fmt.Errorf("line %d: %v: %w", i+1, err, ErrInvalidRecord)
		}
		if r.Remaining() != 0 {
			return nil, fmt.Errorf("line %d: %d trailing byte(s): %w", i+1, r.Remaining(), ErrInvalidRecord)
		}

		sum := 0
		for _, b := range raw[:len(raw)-1] {
			sum += int(b)
		}
		if want := uint8(-sum); want != checksum {
			return nil, fmt.Errorf("line %d: got %#02x, want %#02x: %w", i+1, checksum, want, ErrChecksum)
		}

		switch typ {
		case recData:
			records = append(records, Record{Addr: addr, Data: payload})
		case recEOF:
			return records, nil
		}
	}
	return records, nil
}

// Assemble lays the records out into one contiguous image sized to the
// furthest record end. Gaps are zero filled; overlapping payloads overwrite
// in address order.
func Assemble(records []Record) ([]byte, error) {
	if len(records) == 0 {
		return nil, ErrNoRecords
	}
	sorted := make([]Record, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Addr < sorted[j].Addr
	})

	size := 0
	for _, r := range sorted {
		if end := int(r.Addr) + len(r.Data); end > size {
			size = end
		}
	}
	image := make([]byte, size)
	for _, r := range sorted {
		copy(image[r.Addr:], r.Data)
	}
	return image, nil
}

// SniffDecode decodes b as hex-record text if it looks like any: the first
// byte must be the ':' start code and every byte must be ASCII. Anything
// else is passed through unchanged, so already-binary firmware is untouched.
func SniffDecode(b []byte) ([]byte, error) {
	if len(b) == 0 || b[0] != ':' {
		return b, nil
	}
	for _, c := range b {
		if c >= 0x7f {
			return b, nil
		}
	}
	records, err := Decode(b)
	if err != nil {
		return nil, err
	}
	return Assemble(records)
}

// Package snapshot reads and writes portable snapshot files.
//
// The exporter emits a plain ordered sequence of records, one JSON
// object per line. The reader additionally accepts a top-level JSON
// array and a metadata-envelope object, so snapshots from
// collaborating producers load the same way.
package snapshot

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/mod/semver"

	"github.com/grafton-io/grafton/internal/types"
)

// FormatVersion is the snapshot format this build writes. Readers
// accept any snapshot with the same major version.
const FormatVersion = "1.0"

// ErrMalformedSnapshot marks snapshots that cannot be decoded at all
// or whose envelope is missing required fields. Structural: the whole
// operation aborts.
var ErrMalformedSnapshot = errors.New("malformed snapshot")

// Envelope is the optional metadata wrapper around the record
// sequence (reading form b of the format).
type Envelope struct {
	BackupType    string                 `json:"backup_type"`
	FormatVersion string                 `json:"format_version,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	TotalRecords  int                    `json:"total_records"`
	TypeCounts    map[string]int         `json:"type_counts,omitempty"`
	Records       []types.PortableRecord `json:"records"`
}

// Write emits records as JSON Lines, one record per line, in order.
func Write(w io.Writer, records []types.PortableRecord) error {
	enc := json.NewEncoder(w)
	for i := range records {
		if err := enc.Encode(&records[i]); err != nil {
			return fmt.Errorf("encoding record %d (%s): %w", i, records[i].Type, err)
		}
	}
	return nil
}

// WriteEnvelope emits the envelope form with counts derived from the
// records themselves.
func WriteEnvelope(w io.Writer, backupType string, records []types.PortableRecord) error {
	counts := make(map[string]int)
	for i := range records {
		counts[records[i].Type]++
	}
	env := Envelope{
		BackupType:    backupType,
		FormatVersion: FormatVersion,
		CreatedAt:     time.Now().UTC(),
		TotalRecords:  len(records),
		TypeCounts:    counts,
		Records:       records,
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(&env); err != nil {
		return fmt.Errorf("encoding envelope: %w", err)
	}
	return nil
}

// Read decodes a snapshot in any accepted form and validates every
// record's structural invariants.
func Read(r io.Reader) ([]types.PortableRecord, error) {
	br := bufio.NewReader(r)
	first, err := firstByte(br)
	if err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformedSnapshot, err)
	}

	var records []types.PortableRecord
	switch first {
	case '[':
		dec := json.NewDecoder(br)
		if err := dec.Decode(&records); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedSnapshot, err)
		}
	case '{':
		records, err = readObjects(br)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: unexpected leading byte %q", ErrMalformedSnapshot, first)
	}

	for i := range records {
		if err := records[i].Validate(); err != nil {
			return nil, fmt.Errorf("%w: record %d: %v", ErrMalformedSnapshot, i, err)
		}
	}
	return records, nil
}

// firstByte peeks past leading whitespace.
func firstByte(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		if err := br.UnreadByte(); err != nil {
			return 0, err
		}
		return b, nil
	}
}

// readObjects handles the two object-leading forms: an envelope, or a
// JSONL stream of records.
func readObjects(br *bufio.Reader) ([]types.PortableRecord, error) {
	dec := json.NewDecoder(br)

	var head json.RawMessage
	if err := dec.Decode(&head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSnapshot, err)
	}

	var probe struct {
		Type       string           `json:"type"`
		BackupType *string          `json:"backup_type"`
		Records    *json.RawMessage `json:"records"`
	}
	if err := json.Unmarshal(head, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSnapshot, err)
	}

	if probe.Records != nil || probe.BackupType != nil {
		return readEnvelope(head)
	}

	// JSONL: the first object is a record, the rest follow on the
	// same stream.
	var first types.PortableRecord
	if err := json.Unmarshal(head, &first); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSnapshot, err)
	}
	records := []types.PortableRecord{first}
	for {
		var rec types.PortableRecord
		if err := dec.Decode(&rec); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("%w: record %d: %v", ErrMalformedSnapshot, len(records), err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func readEnvelope(raw json.RawMessage) ([]types.PortableRecord, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSnapshot, err)
	}
	if env.Records == nil {
		return nil, fmt.Errorf("%w: envelope has no records field", ErrMalformedSnapshot)
	}
	if env.BackupType == "" {
		return nil, fmt.Errorf("%w: envelope has no backup_type", ErrMalformedSnapshot)
	}
	if env.FormatVersion != "" {
		if semver.Major("v"+env.FormatVersion) != semver.Major("v"+FormatVersion) {
			return nil, fmt.Errorf("%w: format version %s is incompatible with %s",
				ErrMalformedSnapshot, env.FormatVersion, FormatVersion)
		}
	}
	if env.TotalRecords != 0 && env.TotalRecords != len(env.Records) {
		return nil, fmt.Errorf("%w: envelope declares %d records but carries %d",
			ErrMalformedSnapshot, env.TotalRecords, len(env.Records))
	}
	return env.Records, nil
}

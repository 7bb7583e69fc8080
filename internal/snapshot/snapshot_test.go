package snapshot

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/grafton-io/grafton/internal/types"
)

func sampleRecords() []types.PortableRecord {
	roleID := int64(3)
	userID := int64(11)
	return []types.PortableRecord{
		{
			Type:       "role",
			ID:         &roleID,
			NaturalKey: []any{"Reviewer"},
			Fields:     map[string]any{"name": "Reviewer", "level": float64(2)},
		},
		{
			Type:       "user",
			ID:         &userID,
			NaturalKey: []any{"alice"},
			Fields:     map[string]any{"username": "alice"},
			ForeignKeys: map[string]types.Key{
				"role": types.TupleKey("Reviewer"),
			},
			ManyToMany: map[string][]types.Key{
				"groups": {types.TupleKey("ops"), types.TupleKey("dev")},
			},
		},
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, sampleRecords()); err != nil {
		t.Fatalf("Write: %v", err)
	}

	// One JSON object per line.
	lines := strings.Count(strings.TrimRight(buf.String(), "\n"), "\n") + 1
	if lines != 2 {
		t.Errorf("JSONL output has %d lines, want 2", lines)
	}

	records, err := Read(&buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Read returned %d records, want 2", len(records))
	}
	if records[0].Type != "role" || records[1].Type != "user" {
		t.Errorf("record order not preserved: %s, %s", records[0].Type, records[1].Type)
	}

	fk := records[1].ForeignKeys["role"]
	if fk.Kind != types.KindTuple || fk.String() != types.TupleKey("Reviewer").String() {
		t.Errorf("foreign key did not round-trip: %+v", fk)
	}
	m2m := records[1].ManyToMany["groups"]
	if len(m2m) != 2 || m2m[0].String() != types.TupleKey("ops").String() {
		t.Errorf("many-to-many did not round-trip: %+v", m2m)
	}
}

func TestReadTopLevelArray(t *testing.T) {
	input := `[
		{"type":"role","natural_key":["Reviewer"],"fields":{"name":"Reviewer"}},
		{"type":"user","natural_key":["alice"],"fields":{"username":"alice"},"foreign_keys":{"role":["Reviewer"]}}
	]`
	records, err := Read(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Read returned %d records, want 2", len(records))
	}
}

func TestReadEnvelope(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteEnvelope(&buf, "full", sampleRecords()); err != nil {
		t.Fatalf("WriteEnvelope: %v", err)
	}
	records, err := Read(&buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Read returned %d records, want 2", len(records))
	}
}

func TestReadForeignEnvelope(t *testing.T) {
	// Envelope from a collaborating producer: different key layout for
	// metadata, same records sequence.
	input := `{
		"backup_type": "full",
		"created_at": "2024-05-01T10:00:00Z",
		"total_records": 1,
		"records": [
			{"type":"role","natural_key":["Reviewer"],"fields":{"name":"Reviewer"}}
		]
	}`
	records, err := Read(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(records) != 1 || records[0].Type != "role" {
		t.Errorf("records = %+v", records)
	}
}

func TestReadSurrogateOnlyRecord(t *testing.T) {
	input := `{"type":"audit_event","id":42,"fields":{"action":"login"},"foreign_keys":{"actor":{"$id":7}}}`
	records, err := Read(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if records[0].ID == nil || *records[0].ID != 42 {
		t.Errorf("surrogate record id = %v", records[0].ID)
	}
	fk := records[0].ForeignKeys["actor"]
	if fk.Kind != types.KindSurrogate || fk.Surrogate != 7 {
		t.Errorf("surrogate foreign key = %+v", fk)
	}
}

func TestReadMalformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"garbage", "not json at all"},
		{"truncated array", `[{"type":"role","fields":{}}`},
		{"envelope without records", `{"backup_type":"full","total_records":3}`},
		{"envelope without backup_type", `{"records":[]}`},
		{"count mismatch", `{"backup_type":"full","total_records":5,"records":[{"type":"role","natural_key":["x"],"fields":{}}]}`},
		{"incompatible version", `{"backup_type":"full","format_version":"2.0","records":[]}`},
		{"record without key or id", `{"type":"audit_event","fields":{"action":"login"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Read(strings.NewReader(tt.input))
			if !errors.Is(err, ErrMalformedSnapshot) {
				t.Errorf("Read = %v, want ErrMalformedSnapshot", err)
			}
		})
	}
}

func TestReadEmptyInput(t *testing.T) {
	records, err := Read(strings.NewReader(""))
	if err != nil {
		t.Fatalf("Read empty: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("Read empty = %d records", len(records))
	}
}

func TestReadCompatibleMinorVersion(t *testing.T) {
	input := `{"backup_type":"full","format_version":"1.7","records":[{"type":"role","natural_key":["x"],"fields":{}}]}`
	if _, err := Read(strings.NewReader(input)); err != nil {
		t.Errorf("same-major version rejected: %v", err)
	}
}

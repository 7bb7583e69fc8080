package types

import (
	"encoding/json"
	"testing"
)

func TestKeyJSONRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		key  Key
		want string
	}{
		{
			name: "single part tuple",
			key:  TupleKey("Reviewer"),
			want: `["Reviewer"]`,
		},
		{
			name: "multi part tuple",
			key:  TupleKey("acme", "billing"),
			want: `["acme","billing"]`,
		},
		{
			name: "surrogate",
			key:  SurrogateKey(42),
			want: `{"$id":42}`,
		},
		{
			name: "empty tuple",
			key:  Key{},
			want: `[]`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.key)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			if string(data) != tt.want {
				t.Errorf("marshal = %s, want %s", data, tt.want)
			}

			var back Key
			if err := json.Unmarshal(data, &back); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if back.Kind != tt.key.Kind {
				t.Errorf("kind = %v, want %v", back.Kind, tt.key.Kind)
			}
			if back.String() != tt.key.String() {
				t.Errorf("canonical = %q, want %q", back.String(), tt.key.String())
			}
		})
	}
}

func TestKeyCanonicalAcrossNumericTypes(t *testing.T) {
	// JSON decoding produces float64 where store reads produce int64;
	// both must canonicalize identically or cache lookups miss.
	fromStore := TupleKey("dept", int64(7))
	fromJSON := TupleKey("dept", float64(7))
	if fromStore.String() != fromJSON.String() {
		t.Errorf("int64 and integral float64 canonicalize differently: %q vs %q",
			fromStore.String(), fromJSON.String())
	}

	frac := TupleKey(float64(7.5))
	whole := TupleKey(int64(7))
	if frac.String() == whole.String() {
		t.Error("7.5 and 7 must not collide")
	}
}

func TestRecordKey(t *testing.T) {
	id := int64(9)

	rec := &PortableRecord{Type: "role", NaturalKey: []any{"Reviewer"}, ID: &id}
	if k := rec.Key(); k.Kind != KindTuple {
		t.Errorf("natural key should win over surrogate, got kind %v", k.Kind)
	}

	rec = &PortableRecord{Type: "event", ID: &id}
	k := rec.Key()
	if k.Kind != KindSurrogate || k.Surrogate != 9 {
		t.Errorf("expected surrogate key 9, got %+v", k)
	}
}

func TestRecordValidate(t *testing.T) {
	if err := (&PortableRecord{}).Validate(); err == nil {
		t.Error("record without type should fail validation")
	}
	if err := (&PortableRecord{Type: "event"}).Validate(); err == nil {
		t.Error("record without key or identity should fail validation")
	}
	if err := (&PortableRecord{Type: "role", NaturalKey: []any{"Admin"}}).Validate(); err != nil {
		t.Errorf("valid record failed validation: %v", err)
	}
}

func TestReportSucceeded(t *testing.T) {
	r := &RestoreReport{Created: 2, Updated: 1, Skipped: 3}
	if got := r.Succeeded(); got != 6 {
		t.Errorf("Succeeded() = %d, want 6", got)
	}
	if !r.Clean() {
		t.Error("report with no failures should be clean")
	}
	r.Failed = append(r.Failed, FailedRecord{Type: "user", Key: "[alice]", Reason: ReasonUnresolvedReference})
	if r.Clean() {
		t.Error("report with failures should not be clean")
	}
}

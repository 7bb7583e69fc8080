package types

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// KeyKind discriminates the two reference forms a snapshot can carry.
type KeyKind int

const (
	// KindTuple is a natural-key reference: an ordered tuple of
	// business-meaningful scalar values.
	KindTuple KeyKind = iota
	// KindSurrogate is a raw surrogate-identity reference, used when the
	// referenced type declares no natural key (e.g. pure event rows).
	KindSurrogate
)

// Key identifies a referenced entity inside a portable snapshot.
// A tuple key is portable across stores; a surrogate key is only
// meaningful relative to the snapshot it was exported with.
type Key struct {
	Kind      KeyKind
	Parts     []any
	Surrogate int64
}

// TupleKey builds a natural-key reference from ordered parts.
func TupleKey(parts ...any) Key {
	return Key{Kind: KindTuple, Parts: parts}
}

// SurrogateKey builds a surrogate-identity reference.
func SurrogateKey(id int64) Key {
	return Key{Kind: KindSurrogate, Surrogate: id}
}

// IsZero reports whether the key carries no reference at all.
func (k Key) IsZero() bool {
	return k.Kind == KindTuple && len(k.Parts) == 0
}

// String renders a canonical form of the key, stable across the
// JSON round trip. Used for cache keys and error messages.
func (k Key) String() string {
	if k.Kind == KindSurrogate {
		return fmt.Sprintf("$id:%d", k.Surrogate)
	}
	parts := make([]string, len(k.Parts))
	for i, p := range k.Parts {
		parts[i] = CanonicalScalar(p)
	}
	return strings.Join(parts, "\x1f")
}

// Display renders the key for human-facing output.
func (k Key) Display() string {
	if k.Kind == KindSurrogate {
		return fmt.Sprintf("id=%d", k.Surrogate)
	}
	parts := make([]string, len(k.Parts))
	for i, p := range k.Parts {
		parts[i] = CanonicalScalar(p)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// surrogateRef is the wire form of a surrogate-identity reference.
type surrogateRef struct {
	ID int64 `json:"$id"`
}

// MarshalJSON encodes a tuple key as a JSON array of parts and a
// surrogate key as {"$id": N}.
func (k Key) MarshalJSON() ([]byte, error) {
	if k.Kind == KindSurrogate {
		return json.Marshal(surrogateRef{ID: k.Surrogate})
	}
	if k.Parts == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(k.Parts)
}

// UnmarshalJSON accepts both wire forms.
func (k *Key) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "{") {
		var ref surrogateRef
		if err := json.Unmarshal(data, &ref); err != nil {
			return fmt.Errorf("parsing surrogate reference: %w", err)
		}
		*k = SurrogateKey(ref.ID)
		return nil
	}
	var parts []any
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("parsing natural-key tuple: %w", err)
	}
	*k = Key{Kind: KindTuple, Parts: parts}
	return nil
}

// CanonicalScalar formats a scalar value so that equal values produce
// equal strings regardless of origin. JSON decoding yields float64 for
// every number while store reads yield int64, so integral floats are
// collapsed to their integer form.
func CanonicalScalar(v any) string {
	switch x := v.(type) {
	case nil:
		return "<nil>"
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		if x == float64(int64(x)) {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'g', -1, 64)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprintf("%v", x)
	}
}

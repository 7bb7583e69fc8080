package registry

import (
	"errors"
	"testing"

	"github.com/grafton-io/grafton/internal/types"
)

func testDescriptors() []EntityTypeDescriptor {
	return []EntityTypeDescriptor{
		{
			Name:         "role",
			Fields:       []string{"name", "level"},
			NaturalKey:   []string{"name"},
			AutoIdentity: true,
		},
		{
			Name:         "user",
			Fields:       []string{"username", "email"},
			NaturalKey:   []string{"username"},
			ForeignKeys:  []ForeignKeyField{{Field: "role", Target: "role"}},
			ManyToMany:   []ManyToManyField{{Field: "groups", Target: "group"}},
			AutoIdentity: true,
		},
		{
			Name:         "group",
			Fields:       []string{"title"},
			AutoIdentity: true,
		},
		{
			Name:   "audit_event",
			Fields: []string{"action", "at"},
		},
	}
}

func TestNewValidatesReferences(t *testing.T) {
	if _, err := New(testDescriptors()); err != nil {
		t.Fatalf("valid descriptor set rejected: %v", err)
	}

	bad := []EntityTypeDescriptor{
		{
			Name:        "user",
			Fields:      []string{"username"},
			ForeignKeys: []ForeignKeyField{{Field: "role", Target: "role"}},
		},
	}
	_, err := New(bad)
	if err == nil {
		t.Fatal("dangling foreign-key target accepted")
	}
	var unknown *UnknownTypeError
	if !errors.As(err, &unknown) {
		t.Errorf("expected UnknownTypeError, got %v", err)
	}
}

func TestDescriptorValidate(t *testing.T) {
	tests := []struct {
		name    string
		desc    EntityTypeDescriptor
		wantErr bool
	}{
		{
			name: "valid",
			desc: EntityTypeDescriptor{Name: "role", Fields: []string{"name"}, NaturalKey: []string{"name"}},
		},
		{
			name:    "no name",
			desc:    EntityTypeDescriptor{Fields: []string{"name"}},
			wantErr: true,
		},
		{
			name:    "natural key not a field",
			desc:    EntityTypeDescriptor{Name: "role", Fields: []string{"name"}, NaturalKey: []string{"code"}},
			wantErr: true,
		},
		{
			name:    "duplicate field",
			desc:    EntityTypeDescriptor{Name: "role", Fields: []string{"name", "name"}},
			wantErr: true,
		},
		{
			name: "field doubles as foreign key",
			desc: EntityTypeDescriptor{
				Name:        "user",
				Fields:      []string{"role"},
				ForeignKeys: []ForeignKeyField{{Field: "role", Target: "role"}},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.desc.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestKeyFieldsFallback(t *testing.T) {
	tests := []struct {
		name string
		desc EntityTypeDescriptor
		want []string
	}{
		{
			name: "declared key wins",
			desc: EntityTypeDescriptor{Name: "user", Fields: []string{"name", "username"}, NaturalKey: []string{"username"}},
			want: []string{"username"},
		},
		{
			name: "fallback to name",
			desc: EntityTypeDescriptor{Name: "role", Fields: []string{"level", "name"}},
			want: []string{"name"},
		},
		{
			name: "fallback priority: name before title",
			desc: EntityTypeDescriptor{Name: "doc", Fields: []string{"title", "name"}},
			want: []string{"name"},
		},
		{
			name: "fallback to username",
			desc: EntityTypeDescriptor{Name: "account", Fields: []string{"username", "email"}},
			want: []string{"username"},
		},
		{
			name: "no usable key",
			desc: EntityTypeDescriptor{Name: "event", Fields: []string{"action", "at"}},
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.desc.KeyFields()
			if len(got) != len(tt.want) {
				t.Fatalf("KeyFields() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("KeyFields() = %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestKeyFilter(t *testing.T) {
	reg, err := New(testDescriptors())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	user, _ := reg.Get("user")

	filter, err := reg.KeyFilter(user, types.TupleKey("alice"))
	if err != nil {
		t.Fatalf("KeyFilter: %v", err)
	}
	if filter["username"] != "alice" {
		t.Errorf("filter = %v, want username=alice", filter)
	}

	if _, err := reg.KeyFilter(user, types.TupleKey("alice", "extra")); err == nil {
		t.Error("arity mismatch accepted")
	}
	if _, err := reg.KeyFilter(user, types.SurrogateKey(3)); err == nil {
		t.Error("surrogate key accepted as field filter")
	}
}

func TestAutoIdentityTypes(t *testing.T) {
	reg, err := New(testDescriptors())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got := reg.AutoIdentityTypes()
	want := []string{"group", "role", "user"}
	if len(got) != len(want) {
		t.Fatalf("AutoIdentityTypes() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("AutoIdentityTypes() = %v, want %v", got, want)
		}
	}
}

func TestSelfReferential(t *testing.T) {
	d := EntityTypeDescriptor{
		Name:        "category",
		Fields:      []string{"name"},
		ForeignKeys: []ForeignKeyField{{Field: "parent", Target: "category"}},
	}
	if !d.SelfReferential() {
		t.Error("category with parent FK should be self-referential")
	}
}

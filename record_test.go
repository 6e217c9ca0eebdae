package shardkit_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/influxdata/shardkit"
	"github.com/influxdata/shardkit/kit/platform/errors"
	"github.com/stretchr/testify/require"
)

func TestRecord_Value(t *testing.T) {
	r := shardkit.NewRecord("person", map[string]interface{}{
		"name":    "ada",
		"a.b":     "literal",
		"address": map[string]interface{}{"city": "london"},
	})
	r.ID = 42

	tests := []struct {
		path string
		want interface{}
		ok   bool
	}{
		{path: "name", want: "ada", ok: true},
		{path: "id", want: uint64(42), ok: true},
		{path: "a.b", want: "literal", ok: true},
		{path: "address.city", want: "london", ok: true},
		{path: "address.zip", ok: false},
		{path: "name.first", ok: false},
		{path: "missing", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, ok := r.Value(tt.path)
			require.Equal(t, tt.ok, ok)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestRecord_Associations(t *testing.T) {
	owner := shardkit.NewRecord("person", nil)
	owner.ID = 7

	pet := shardkit.NewRecord("pet", nil)
	pet.Append("toys", shardkit.NewRecord("toy", nil))
	pet.Refer("owner", owner)
	pet.Links = map[string][]shardkit.Key{
		"vet":   {{Type: "vet", ID: 9}},
		"owner": {{Type: "person", ID: 1}},
	}

	assocs := pet.Associations()
	require.Len(t, assocs, 3)

	// single valued first, by name, then collections
	require.Equal(t, "owner", assocs[0].Property)
	require.Equal(t, "vet", assocs[1].Property)
	require.Equal(t, "toys", assocs[2].Property)
	require.True(t, assocs[2].Collection)

	// refs take precedence over links
	require.Equal(t, []shardkit.Entity{owner}, assocs[0].Targets)
	require.Equal(t, shardkit.Key{Type: "vet", ID: 9}, shardkit.KeyOf(assocs[1].Targets[0]))
}

func TestRecord_SyncLinks(t *testing.T) {
	saved := shardkit.NewRecord("person", nil)
	saved.ID = 3
	unsaved := shardkit.NewRecord("person", nil)

	r := shardkit.NewRecord("team", nil)
	r.Append("members", saved)
	r.Append("members", unsaved)
	r.SyncLinks()

	require.Equal(t, map[string][]shardkit.Key{"members": {{Type: "person", ID: 3}}}, r.Links)
}

func TestRecord_MarshalRoundTrip(t *testing.T) {
	r := shardkit.NewRecord("item", map[string]interface{}{
		"count":  int64(3),
		"price":  2.5,
		"nested": map[string]interface{}{"n": int64(1)},
		"list":   []interface{}{int64(1), "two"},
	})
	r.ID = 11
	r.Links = map[string][]shardkit.Key{"owner": {{Type: "person", ID: 2}}}
	r.Refer("ignored", shardkit.NewRecord("x", nil))

	b, err := shardkit.MarshalRecord(r)
	require.NoError(t, err)
	got, err := shardkit.UnmarshalRecord(b)
	require.NoError(t, err)

	want := r.Clone()
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected record -want/+got:\n%s", diff)
	}

	_, err = shardkit.UnmarshalRecord([]byte("{"))
	require.Error(t, err)
}

func TestRecord_Clone(t *testing.T) {
	r := shardkit.NewRecord("item", map[string]interface{}{
		"nested": map[string]interface{}{"n": int64(1)},
	})
	c := r.Clone()
	c.Fields["nested"].(map[string]interface{})["n"] = int64(2)
	require.Equal(t, int64(1), r.Fields["nested"].(map[string]interface{})["n"])
}

func TestIDFromString(t *testing.T) {
	id, err := shardkit.IDFromString("123")
	require.NoError(t, err)
	require.Equal(t, shardkit.ID(123), id)
	require.Equal(t, "123", id.String())

	_, err = shardkit.IDFromString("-1")
	require.Error(t, err)
}

func TestVirtualShardIDs_Sorted(t *testing.T) {
	ids := shardkit.VirtualShardIDs{3, 1, 2}
	require.Equal(t, shardkit.VirtualShardIDs{1, 2, 3}, ids.Sorted())
	require.Equal(t, shardkit.VirtualShardIDs{3, 1, 2}, ids)
	require.True(t, ids.Contains(2))
	require.False(t, ids.Contains(4))
}

func TestErrors(t *testing.T) {
	a := shardkit.NewRecord("person", nil)
	a.ID = 1
	b := shardkit.NewRecord("pet", nil)

	err := shardkit.ErrCrossShardRelationship("session/Save", a, 0, b, 1)
	require.Equal(t, errors.EConflict, errors.ErrorCode(err))
	require.Equal(t, "session/Save", errors.ErrorOp(err))
	require.Contains(t, err.Error(), "person#1")
	require.Contains(t, err.Error(), "pet#new")

	require.Equal(t, errors.EInvalid, errors.ErrorCode(shardkit.ErrRoutingAmbiguity("op", a, 2)))
	require.Equal(t, errors.ENotImplemented, errors.ErrorCode(shardkit.ErrUnsupported("op", "scroll")))
	require.Equal(t, errors.EInvalid, errors.ErrorCode(shardkit.ErrNoTopLevelSave("op", b)))
}

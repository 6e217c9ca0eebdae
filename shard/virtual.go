package shard

import (
	"fmt"
	"sort"

	"github.com/influxdata/shardkit"
	"github.com/influxdata/shardkit/kit/platform/errors"
)

// VirtualMap is the total, non-overlapping mapping of virtual shard ids onto
// physical shards.
type VirtualMap struct {
	physical map[shardkit.VirtualShardID]shardkit.ShardID
	virtual  map[shardkit.ShardID]shardkit.VirtualShardIDs
}

// NewVirtualMap builds the mapping from the virtual ids each physical shard
// serves. It fails if a virtual id is declared twice or a shard declares none.
func NewVirtualMap(m map[shardkit.ShardID][]shardkit.VirtualShardID) (*VirtualMap, error) {
	if len(m) == 0 {
		return nil, &errors.Error{Code: errors.EInvalid, Op: "shard/NewVirtualMap", Msg: "at least one shard is required"}
	}

	vm := &VirtualMap{
		physical: make(map[shardkit.VirtualShardID]shardkit.ShardID),
		virtual:  make(map[shardkit.ShardID]shardkit.VirtualShardIDs, len(m)),
	}
	for id, vids := range m {
		if len(vids) == 0 {
			return nil, &errors.Error{
				Code: errors.EInvalid,
				Op:   "shard/NewVirtualMap",
				Msg:  fmt.Sprintf("shard %d serves no virtual shards", id),
			}
		}
		for _, vid := range vids {
			if other, ok := vm.physical[vid]; ok {
				return nil, &errors.Error{
					Code: errors.EInvalid,
					Op:   "shard/NewVirtualMap",
					Msg:  fmt.Sprintf("virtual shard %d declared by both shard %d and shard %d", vid, other, id),
				}
			}
			vm.physical[vid] = id
		}
		vm.virtual[id] = shardkit.VirtualShardIDs(vids).Sorted()
	}
	return vm, nil
}

// IdentityMap maps every physical shard onto the virtual id of the same value.
func IdentityMap(ids ...shardkit.ShardID) (*VirtualMap, error) {
	m := make(map[shardkit.ShardID][]shardkit.VirtualShardID, len(ids))
	for _, id := range ids {
		if _, ok := m[id]; ok {
			return nil, &errors.Error{Code: errors.EInvalid, Op: "shard/IdentityMap", Msg: fmt.Sprintf("shard %d declared twice", id)}
		}
		m[id] = []shardkit.VirtualShardID{shardkit.VirtualShardID(id)}
	}
	return NewVirtualMap(m)
}

// Physical returns the shard serving vid.
func (m *VirtualMap) Physical(vid shardkit.VirtualShardID) (shardkit.ShardID, bool) {
	id, ok := m.physical[vid]
	return id, ok
}

// Virtual returns the virtual ids served by id, in ascending order.
func (m *VirtualMap) Virtual(id shardkit.ShardID) shardkit.VirtualShardIDs {
	return m.virtual[id]
}

// VirtualShardIDs returns every virtual id in ascending order.
func (m *VirtualMap) VirtualShardIDs() shardkit.VirtualShardIDs {
	a := make(shardkit.VirtualShardIDs, 0, len(m.physical))
	for vid := range m.physical {
		a = append(a, vid)
	}
	sort.Sort(a)
	return a
}

// ShardIDs returns every physical id in ascending order.
func (m *VirtualMap) ShardIDs() shardkit.ShardIDs {
	a := make(shardkit.ShardIDs, 0, len(m.virtual))
	for id := range m.virtual {
		a = append(a, id)
	}
	sort.Sort(a)
	return a
}

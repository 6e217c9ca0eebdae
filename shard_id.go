package shardkit

import (
	"sort"
	"strconv"
)

// ShardID names one physical shard.
type ShardID uint16

// String returns the decimal representation of the id.
func (id ShardID) String() string { return strconv.Itoa(int(id)) }

// VirtualShardID is the shard handle exposed to clients. Many virtual ids may
// map onto one physical shard so the data space can be pre-split for a later
// physical resharding without remapping existing rows.
type VirtualShardID uint16

// String returns the decimal representation of the id.
func (id VirtualShardID) String() string { return strconv.Itoa(int(id)) }

// VirtualShardIDs is a sortable list of virtual shard ids.
type VirtualShardIDs []VirtualShardID

func (a VirtualShardIDs) Len() int           { return len(a) }
func (a VirtualShardIDs) Less(i, j int) bool { return a[i] < a[j] }
func (a VirtualShardIDs) Swap(i, j int)      { a[i], a[j] = a[j], a[i] }

// Contains reports whether id is in the list.
func (a VirtualShardIDs) Contains(id VirtualShardID) bool {
	for _, v := range a {
		if v == id {
			return true
		}
	}
	return false
}

// Sorted returns a sorted copy of the list.
func (a VirtualShardIDs) Sorted() VirtualShardIDs {
	other := make(VirtualShardIDs, len(a))
	copy(other, a)
	sort.Sort(other)
	return other
}

// ShardIDs is a sortable list of physical shard ids.
type ShardIDs []ShardID

func (a ShardIDs) Len() int           { return len(a) }
func (a ShardIDs) Less(i, j int) bool { return a[i] < a[j] }
func (a ShardIDs) Swap(i, j int)      { a[i], a[j] = a[j], a[i] }

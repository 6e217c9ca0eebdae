// Package snowflake provides the identity layer of the sharded session:
// generators whose identifiers can name the virtual shard that owns them.
package snowflake

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/influxdata/shardkit"
	"github.com/influxdata/shardkit/pkg/snowflake"
)

// MaxVirtualShardID is the largest virtual shard id a shard-encoding
// identifier can carry.
const MaxVirtualShardID = snowflake.MaxMachineID

// IDGenerator assigns identifiers to new entities.
type IDGenerator interface {
	// NextID returns a fresh identifier for an entity owned by shard.
	NextID(shard shardkit.VirtualShardID) shardkit.ID
}

// ShardDecoder recovers the owning shard from an identifier. ok is false when
// the identifier does not carry a shard.
type ShardDecoder interface {
	ShardOf(id shardkit.ID) (shard shardkit.VirtualShardID, ok bool)
}

// ShardEncodingGenerator embeds the virtual shard id in the machine id bits of
// every identifier, which turns a lookup by id into a direct dispatch.
type ShardEncodingGenerator struct {
	mu    sync.Mutex
	gens  map[shardkit.VirtualShardID]*snowflake.Generator
	known map[shardkit.VirtualShardID]struct{}
}

// NewShardEncodingGenerator returns a generator for the given virtual shards.
func NewShardEncodingGenerator(shards []shardkit.VirtualShardID) (*ShardEncodingGenerator, error) {
	g := &ShardEncodingGenerator{
		gens:  make(map[shardkit.VirtualShardID]*snowflake.Generator, len(shards)),
		known: make(map[shardkit.VirtualShardID]struct{}, len(shards)),
	}
	for _, id := range shards {
		if int(id) > MaxVirtualShardID {
			return nil, fmt.Errorf("virtual shard id %d exceeds %d and cannot be encoded in identifiers", id, MaxVirtualShardID)
		}
		g.known[id] = struct{}{}
	}
	return g, nil
}

// NextID returns an identifier carrying shard.
func (g *ShardEncodingGenerator) NextID(shard shardkit.VirtualShardID) shardkit.ID {
	g.mu.Lock()
	gen, ok := g.gens[shard]
	if !ok {
		gen = snowflake.New(int(shard))
		g.gens[shard] = gen
	}
	g.mu.Unlock()

	return shardkit.ID(gen.Next())
}

// ShardOf decodes the shard from id. Identifiers naming a shard this
// generator does not know are reported as undecodable.
func (g *ShardEncodingGenerator) ShardOf(id shardkit.ID) (shardkit.VirtualShardID, bool) {
	if !id.Valid() {
		return 0, false
	}
	shard := shardkit.VirtualShardID(snowflake.MachineIDOf(uint64(id)))
	if _, ok := g.known[shard]; !ok {
		return 0, false
	}
	return shard, true
}

// OpaqueGenerator produces identifiers that carry no shard information.
// Lookups by id against it require a scatter-gather over all shards.
type OpaqueGenerator struct {
	gen *snowflake.Generator
}

// NewOpaqueGenerator returns a generator with a random machine id.
func NewOpaqueGenerator() *OpaqueGenerator {
	return &OpaqueGenerator{gen: snowflake.New(rand.Intn(snowflake.MaxMachineID + 1))}
}

// NextID ignores shard.
func (g *OpaqueGenerator) NextID(shardkit.VirtualShardID) shardkit.ID {
	return shardkit.ID(g.gen.Next())
}

// Package strategy decides where entities live and how operations are fanned
// out over shards.
package strategy

import (
	"context"

	"github.com/influxdata/shardkit"
	"github.com/influxdata/shardkit/snowflake"
)

// Resolution maps an identifier onto the virtual shards that may hold it.
// The returned set is never empty; a single element allows direct dispatch.
type Resolution interface {
	Resolve(ctx context.Context, req shardkit.ResolutionRequest) (shardkit.VirtualShardIDs, error)
}

// AllShardsResolution answers every virtual shard for every request.
type AllShardsResolution struct {
	ids shardkit.VirtualShardIDs
}

// NewAllShardsResolution returns a resolution over ids.
func NewAllShardsResolution(ids shardkit.VirtualShardIDs) *AllShardsResolution {
	return &AllShardsResolution{ids: ids.Sorted()}
}

func (r *AllShardsResolution) Resolve(context.Context, shardkit.ResolutionRequest) (shardkit.VirtualShardIDs, error) {
	return r.ids, nil
}

// IDResolution decodes the shard from identifiers produced by a shard
// encoding generator. Identifiers it cannot decode go to Fallback.
type IDResolution struct {
	Decoder  snowflake.ShardDecoder
	Fallback Resolution
}

func (r *IDResolution) Resolve(ctx context.Context, req shardkit.ResolutionRequest) (shardkit.VirtualShardIDs, error) {
	if req.ID.Valid() {
		if vid, ok := r.Decoder.ShardOf(req.ID); ok {
			return shardkit.VirtualShardIDs{vid}, nil
		}
	}
	return r.Fallback.Resolve(ctx, req)
}

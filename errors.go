package shardkit

import (
	"fmt"

	"github.com/influxdata/shardkit/kit/platform/errors"
)

// ErrCrossShardRelationship returns the consistency error raised when two
// associated objects already live on different shards.
func ErrCrossShardRelationship(op string, a Entity, aShard VirtualShardID, b Entity, bShard VirtualShardID) *errors.Error {
	return &errors.Error{
		Code: errors.EConflict,
		Op:   op,
		Msg: fmt.Sprintf("cross-shard relationship detected: %s is on shard %d but associated %s is on shard %d",
			describe(a), aShard, describe(b), bShard),
	}
}

// ErrRoutingAmbiguity returns the configuration error raised when an
// operation needs exactly one shard but resolution could not narrow the
// candidates down.
func ErrRoutingAmbiguity(op string, e Entity, candidates int) *errors.Error {
	return &errors.Error{
		Code: errors.EInvalid,
		Op:   op,
		Msg:  fmt.Sprintf("cannot route %s: %d candidate shards, operation requires exactly one", describe(e), candidates),
	}
}

// ErrUnsupported returns the error for operations that cannot be made correct
// across shards.
func ErrUnsupported(op, what string) *errors.Error {
	return &errors.Error{
		Code: errors.ENotImplemented,
		Op:   op,
		Msg:  what + " is not supported across shards",
	}
}

// ErrNoTopLevelSave is returned when selecting a shard for a new entity whose
// type may only be saved through a cascade from a parent.
func ErrNoTopLevelSave(op string, e Entity) *errors.Error {
	return &errors.Error{
		Code: errors.EInvalid,
		Op:   op,
		Msg:  fmt.Sprintf("entity type %q cannot be saved at the top level; save it through its parent", e.EntityType()),
	}
}

func describe(e Entity) string {
	if e == nil {
		return "<nil>"
	}
	if !e.EntityID().Valid() {
		return e.EntityType() + "#new"
	}
	return KeyOf(e).String()
}

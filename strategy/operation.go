package strategy

import (
	"context"

	"github.com/influxdata/shardkit/shard"
)

// Operation is the unit of work run against each targeted shard.
type Operation interface {
	Name() string
	Execute(ctx context.Context, s *shard.Shard) (interface{}, error)
}

// OperationFunc adapts a function to an anonymous Operation.
type OperationFunc func(ctx context.Context, s *shard.Shard) (interface{}, error)

func (f OperationFunc) Name() string { return "anonymous" }

func (f OperationFunc) Execute(ctx context.Context, s *shard.Shard) (interface{}, error) {
	return f(ctx, s)
}

type namedOperation struct {
	name string
	OperationFunc
}

func (op namedOperation) Name() string { return op.name }

// NewOperation returns an Operation named name.
func NewOperation(name string, fn func(ctx context.Context, s *shard.Shard) (interface{}, error)) Operation {
	return namedOperation{name: name, OperationFunc: fn}
}

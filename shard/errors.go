package shard

import (
	"errors"
	"fmt"

	"github.com/influxdata/shardkit"
)

var (
	// ErrShardClosed is returned when using a shard whose logical session
	// has been closed.
	ErrShardClosed = errors.New("shard is closed")
)

// A Error implements the error interface, and contains extra
// context about the shard that generated the error.
type Error struct {
	ID  shardkit.ShardID
	Err error
}

// NewError returns a new Error, or nil if err is nil. Errors that already
// carry a shard are returned unchanged.
func NewError(id shardkit.ShardID, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{ID: id, Err: err}
}

// Error returns the string representation of the error, to satisfy the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("[shard %d] %s", e.ID, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

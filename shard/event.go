package shard

import "time"

// Event is a configuration call deferred until the local session of a shard
// exists. Events are replayed in enqueue order.
type Event interface {
	Apply(s Session) error
}

// ReadOnlyEvent marks the local session read-only.
type ReadOnlyEvent struct {
	ReadOnly bool
}

func (e ReadOnlyEvent) Apply(s Session) error {
	s.SetReadOnly(e.ReadOnly)
	return nil
}

// TimeoutEvent bounds every statement of the local session.
type TimeoutEvent struct {
	Timeout time.Duration
}

func (e TimeoutEvent) Apply(s Session) error {
	s.SetTimeout(e.Timeout)
	return nil
}

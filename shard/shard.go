package shard

import (
	"context"
	"sync"

	"github.com/influxdata/shardkit"
	"github.com/influxdata/shardkit/criteria"
	"github.com/influxdata/shardkit/logger"
	"go.uber.org/zap"
)

// Interceptor observes every entity loaded from or saved to a shard. It may
// veto the operation by returning an error.
type Interceptor interface {
	OnLoad(ctx context.Context, e shardkit.Entity, s *Shard) error
	OnSave(ctx context.Context, e shardkit.Entity, s *Shard) error
}

// Shard is one physical shard as seen by a single logical session. The local
// session of the backend is opened on first use; configuration calls made
// before that are queued and replayed in order.
type Shard struct {
	id      shardkit.ShardID
	vids    shardkit.VirtualShardIDs
	backend Backend

	mu      sync.Mutex
	session Session
	pending []Event
	closed  bool

	interceptor Interceptor
	logger      *zap.Logger
}

// Option configures a Shard.
type Option func(*Shard)

// WithInterceptor installs an interceptor called on every load and save.
func WithInterceptor(i Interceptor) Option {
	return func(s *Shard) {
		s.interceptor = i
	}
}

// WithLogger sets the logger of the shard.
func WithLogger(log *zap.Logger) Option {
	return func(s *Shard) {
		s.logger = log
	}
}

// New returns a shard serving vids on top of backend.
func New(id shardkit.ShardID, vids shardkit.VirtualShardIDs, backend Backend, opts ...Option) *Shard {
	s := &Shard{
		id:      id,
		vids:    vids.Sorted(),
		backend: backend,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(logger.ShardID(uint16(id)))
	return s
}

// ID returns the physical id of the shard.
func (s *Shard) ID() shardkit.ShardID { return s.id }

// VirtualShardIDs returns the virtual ids served by the shard, ascending.
func (s *Shard) VirtualShardIDs() shardkit.VirtualShardIDs { return s.vids }

// Serves reports whether vid is mapped onto this shard.
func (s *Shard) Serves(vid shardkit.VirtualShardID) bool { return s.vids.Contains(vid) }

// Established reports whether the local session has been opened.
func (s *Shard) Established() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session != nil
}

// Enqueue applies e to the local session. If the session has not been
// opened yet, e is queued until it is.
func (s *Shard) Enqueue(e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return NewError(s.id, ErrShardClosed)
	}
	if s.session == nil {
		s.pending = append(s.pending, e)
		return nil
	}
	return NewError(s.id, e.Apply(s.session))
}

// Session returns the local session, opening it and replaying queued events
// on first call.
func (s *Shard) Session(ctx context.Context) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, NewError(s.id, ErrShardClosed)
	}
	if s.session != nil {
		return s.session, nil
	}

	sess, err := s.backend.OpenSession(ctx)
	if err != nil {
		return nil, NewError(s.id, err)
	}
	for _, e := range s.pending {
		if err := e.Apply(sess); err != nil {
			if cerr := sess.Close(); cerr != nil {
				s.logger.Debug("Failed to close session after event error", zap.Error(cerr))
			}
			return nil, NewError(s.id, err)
		}
	}
	s.logger.Debug("Opened local session", zap.Int("replayed_events", len(s.pending)))
	s.pending = nil
	s.session = sess
	return sess, nil
}

// Get loads an entity from the shard. A nil entity with a nil error means
// the shard does not hold it.
func (s *Shard) Get(ctx context.Context, entityType string, id shardkit.ID) (shardkit.Entity, error) {
	sess, err := s.Session(ctx)
	if err != nil {
		return nil, err
	}
	e, err := sess.Get(ctx, entityType, id)
	if err != nil || e == nil {
		return nil, NewError(s.id, err)
	}
	if err := s.onLoad(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// Save inserts e into the shard.
func (s *Shard) Save(ctx context.Context, e shardkit.Entity) error {
	sess, err := s.Session(ctx)
	if err != nil {
		return err
	}
	if err := s.onSave(ctx, e); err != nil {
		return err
	}
	return NewError(s.id, sess.Save(ctx, e))
}

// Update replaces e in the shard.
func (s *Shard) Update(ctx context.Context, e shardkit.Entity) error {
	sess, err := s.Session(ctx)
	if err != nil {
		return err
	}
	if err := s.onSave(ctx, e); err != nil {
		return err
	}
	return NewError(s.id, sess.Update(ctx, e))
}

// Delete removes e from the shard.
func (s *Shard) Delete(ctx context.Context, e shardkit.Entity) error {
	sess, err := s.Session(ctx)
	if err != nil {
		return err
	}
	return NewError(s.id, sess.Delete(ctx, e))
}

// List runs c against the local session only.
func (s *Shard) List(ctx context.Context, c *criteria.Criteria) ([]interface{}, error) {
	sess, err := s.Session(ctx)
	if err != nil {
		return nil, err
	}
	results, err := sess.List(ctx, c)
	if err != nil {
		return nil, NewError(s.id, err)
	}
	for _, r := range results {
		if e, ok := r.(shardkit.Entity); ok {
			if err := s.onLoad(ctx, e); err != nil {
				return nil, err
			}
		}
	}
	return results, nil
}

// Close closes the local session if it was opened. The backend stays open.
func (s *Shard) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.pending = nil
	if s.session == nil {
		return nil
	}
	err := s.session.Close()
	s.session = nil
	return NewError(s.id, err)
}

func (s *Shard) onLoad(ctx context.Context, e shardkit.Entity) error {
	if s.interceptor == nil {
		return nil
	}
	return NewError(s.id, s.interceptor.OnLoad(ctx, e, s))
}

func (s *Shard) onSave(ctx context.Context, e shardkit.Entity) error {
	if s.interceptor == nil {
		return nil
	}
	return NewError(s.id, s.interceptor.OnSave(ctx, e, s))
}

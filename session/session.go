package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/influxdata/shardkit"
	"github.com/influxdata/shardkit/exit"
	"github.com/influxdata/shardkit/guard"
	"github.com/influxdata/shardkit/kit/platform/errors"
	"github.com/influxdata/shardkit/kit/tracing"
	"github.com/influxdata/shardkit/shard"
	"github.com/influxdata/shardkit/strategy"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Session is one logical unit of work over every shard. A Session is not
// safe for concurrent use by multiple goroutines.
type Session struct {
	id      uuid.UUID
	factory *Factory
	shards  []*shard.Shard
	byID    map[shardkit.ShardID]*shard.Shard
	guard   *guard.Guard
	locator guard.Locator

	// identity is written from parallel per-shard tasks.
	mu       sync.Mutex
	identity map[shardkit.Key]shardkit.VirtualShardID
	locked   bool
	lockedID shardkit.VirtualShardID
	closed   bool

	logger *zap.Logger
}

// ID returns the id of the session, also found in its log lines.
func (s *Session) ID() uuid.UUID { return s.id }

// Get returns the entity of the given type and identifier. Identifiers that
// name their shard are looked up on that shard only; others are looked up on
// every candidate shard.
func (s *Session) Get(ctx context.Context, entityType string, id shardkit.ID) (shardkit.Entity, error) {
	span, ctx := tracing.StartSpanFromContext(ctx)
	defer span.Finish()

	const op = "session/Get"
	if err := s.checkOpen(op); err != nil {
		return nil, err
	}
	if !id.Valid() {
		return nil, &errors.Error{Code: errors.EInvalid, Op: op, Msg: "identifier is required"}
	}

	var shards []*shard.Shard
	if vid, ok := s.lookup(shardkit.Key{Type: entityType, ID: id}); ok {
		sh, err := s.shardFor(op, vid)
		if err != nil {
			return nil, err
		}
		shards = []*shard.Shard{sh}
	} else {
		vids, err := s.factory.resolution.Resolve(ctx, shardkit.ResolutionRequest{EntityType: entityType, ID: id})
		if err != nil {
			return nil, err
		}
		shards = s.shardsFor(vids)
	}

	getOp := strategy.NewOperation("get", func(ctx context.Context, sh *shard.Shard) (interface{}, error) {
		e, err := sh.Get(ctx, entityType, id)
		if err != nil || e == nil {
			return nil, err
		}
		return e, nil
	})
	es := &exit.FirstNonNullExitStrategy{}
	result, err := s.access(shards).Apply(ctx, shards, getOp, es, nil)
	if err != nil {
		return nil, tracing.LogError(span, err)
	}
	if result == nil {
		return nil, &errors.Error{
			Code: errors.ENotFound,
			Op:   op,
			Msg:  fmt.Sprintf("%s not found", shardkit.Key{Type: entityType, ID: id}),
		}
	}

	e := result.(shardkit.Entity)
	s.remember(e, s.home(es.Shard(), id))
	return e, nil
}

// Save persists e and returns its identifier. A new entity is placed on the
// shard of its resident associated objects, else on the locked shard, else
// on the shard chosen by the selection policy. Unsaved associated entities
// are saved first, on the same shard.
func (s *Session) Save(ctx context.Context, e shardkit.Entity) (shardkit.ID, error) {
	span, ctx := tracing.StartSpanFromContext(ctx)
	defer span.Finish()

	const op = "session/Save"
	if err := s.checkOpen(op); err != nil {
		return 0, err
	}
	if err := s.save(ctx, op, e); err != nil {
		return 0, tracing.LogError(span, err)
	}
	return e.EntityID(), nil
}

// Update writes back an entity that already exists on its shard.
func (s *Session) Update(ctx context.Context, e shardkit.Entity) error {
	span, ctx := tracing.StartSpanFromContext(ctx)
	defer span.Finish()

	const op = "session/Update"
	if err := s.checkOpen(op); err != nil {
		return err
	}
	return tracing.LogError(span, s.update(ctx, op, e))
}

// SaveOrUpdate saves e if it has no identifier yet and updates it otherwise.
func (s *Session) SaveOrUpdate(ctx context.Context, e shardkit.Entity) (shardkit.ID, error) {
	if !e.EntityID().Valid() {
		return s.Save(ctx, e)
	}
	if err := s.Update(ctx, e); err != nil {
		return 0, err
	}
	return e.EntityID(), nil
}

// Delete removes e from its shard.
func (s *Session) Delete(ctx context.Context, e shardkit.Entity) error {
	span, ctx := tracing.StartSpanFromContext(ctx)
	defer span.Finish()

	const op = "session/Delete"
	if err := s.checkOpen(op); err != nil {
		return err
	}
	sh, _, err := s.shardOf(ctx, op, e)
	if err != nil {
		return tracing.LogError(span, err)
	}
	if err := sh.Delete(ctx, e); err != nil {
		return tracing.LogError(span, err)
	}
	s.forget(e)
	return nil
}

// LoadAssociation loads the entities linked from owner through property.
// They are read from the shard of owner only.
func (s *Session) LoadAssociation(ctx context.Context, owner shardkit.Entity, property string) ([]shardkit.Entity, error) {
	span, ctx := tracing.StartSpanFromContext(ctx)
	defer span.Finish()

	const op = "session/LoadAssociation"
	if err := s.checkOpen(op); err != nil {
		return nil, err
	}

	var targets []shardkit.Entity
	found := false
	if ae, ok := owner.(shardkit.Associated); ok {
		for _, a := range ae.Associations() {
			if a.Property == property {
				targets, found = a.Targets, true
				break
			}
		}
	}
	if !found {
		return nil, &errors.Error{
			Code: errors.ENotFound,
			Op:   op,
			Msg:  fmt.Sprintf("%s has no association %q", shardkit.KeyOf(owner), property),
		}
	}

	sh, _, err := s.shardOf(ctx, op, owner)
	if err != nil {
		return nil, tracing.LogError(span, err)
	}
	out := make([]shardkit.Entity, 0, len(targets))
	for _, t := range targets {
		if !t.EntityID().Valid() {
			continue
		}
		e, err := sh.Get(ctx, t.EntityType(), t.EntityID())
		if err != nil {
			return nil, tracing.LogError(span, err)
		}
		if e == nil {
			continue
		}
		s.remember(e, s.home(sh, e.EntityID()))
		out = append(out, e)
	}
	return out, nil
}

// SetReadOnly marks every local session read-only. Local sessions that are
// not open yet apply it when they open.
func (s *Session) SetReadOnly(readOnly bool) error {
	return s.enqueue(shard.ReadOnlyEvent{ReadOnly: readOnly})
}

// SetTimeout bounds every statement of every local session.
func (s *Session) SetTimeout(d time.Duration) error {
	return s.enqueue(shard.TimeoutEvent{Timeout: d})
}

func (s *Session) enqueue(e shard.Event) error {
	var err error
	for _, sh := range s.shards {
		err = multierr.Append(err, sh.Enqueue(e))
	}
	return err
}

// Close closes every local session. The backends stay open.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	var err error
	for _, sh := range s.shards {
		err = multierr.Append(err, sh.Close())
	}
	s.logger.Debug("Closed session")
	return err
}

func (s *Session) save(ctx context.Context, op string, e shardkit.Entity) error {
	vid, ok := shardkit.VirtualShardID(0), false
	if e.EntityID().Valid() {
		vid, ok = s.locator.Locate(ctx, e)
	}
	if !ok {
		var err error
		if vid, err = s.selectShard(ctx, op, e); err != nil {
			return err
		}
	}
	sh, err := s.shardFor(op, vid)
	if err != nil {
		return err
	}
	if err := s.checkGraph(ctx, e, vid, make(map[shardkit.Entity]bool)); err != nil {
		return err
	}

	var written []shardkit.Entity
	if err := s.write(ctx, op, sh, vid, e, false, make(map[shardkit.Entity]bool), &written); err != nil {
		s.undo(ctx, sh, written)
		return err
	}
	return nil
}

func (s *Session) update(ctx context.Context, op string, e shardkit.Entity) error {
	sh, vid, err := s.shardOf(ctx, op, e)
	if err != nil {
		return err
	}
	if err := s.checkGraph(ctx, e, vid, make(map[shardkit.Entity]bool)); err != nil {
		return err
	}

	var written []shardkit.Entity
	if err := s.cascade(ctx, op, sh, vid, e, map[shardkit.Entity]bool{e: true}, &written); err != nil {
		s.undo(ctx, sh, written)
		return err
	}
	syncLinks(e)
	if err := sh.Update(ctx, e); err != nil {
		s.undo(ctx, sh, written)
		return err
	}
	s.remember(e, vid)
	return nil
}

// checkGraph verifies e and every unsaved entity reachable from it against
// vid before anything is written.
func (s *Session) checkGraph(ctx context.Context, e shardkit.Entity, vid shardkit.VirtualShardID, visited map[shardkit.Entity]bool) error {
	if visited[e] {
		return nil
	}
	visited[e] = true

	if err := s.guard.Check(ctx, e, vid); err != nil {
		return err
	}
	return forEachUnsaved(e, func(t shardkit.Entity) error {
		return s.checkGraph(ctx, t, vid, visited)
	})
}

// write saves the unsaved entities associated with e, then e itself, on sh.
// Every entity written is appended to written.
func (s *Session) write(ctx context.Context, op string, sh *shard.Shard, vid shardkit.VirtualShardID, e shardkit.Entity, cascaded bool, visiting map[shardkit.Entity]bool, written *[]shardkit.Entity) error {
	if visiting[e] {
		return nil
	}
	visiting[e] = true

	if err := s.cascade(ctx, op, sh, vid, e, visiting, written); err != nil {
		return err
	}

	assigned := false
	if !e.EntityID().Valid() {
		e.SetEntityID(s.factory.idgen.NextID(vid))
		assigned = true
	}
	syncLinks(e)
	if err := sh.Save(ctx, e); err != nil {
		if assigned {
			e.SetEntityID(0)
		}
		return err
	}
	*written = append(*written, e)
	s.remember(e, vid)
	s.logger.Debug("Saved entity",
		zap.Stringer("key", shardkit.KeyOf(e)),
		zap.Uint16("virtual_shard_id", uint16(vid)),
		zap.Bool("cascade", cascaded))
	return nil
}

// cascade saves the unsaved entities associated with e onto vid.
func (s *Session) cascade(ctx context.Context, op string, sh *shard.Shard, vid shardkit.VirtualShardID, e shardkit.Entity, visiting map[shardkit.Entity]bool, written *[]shardkit.Entity) error {
	return forEachUnsaved(e, func(t shardkit.Entity) error {
		return s.write(ctx, op, sh, vid, t, true, visiting, written)
	})
}

// undo removes the entities written by a failed save, newest first, and
// clears the identifiers they were given.
func (s *Session) undo(ctx context.Context, sh *shard.Shard, written []shardkit.Entity) {
	for i := len(written) - 1; i >= 0; i-- {
		e := written[i]
		if err := sh.Delete(ctx, e); err != nil {
			s.logger.Warn("Failed to remove entity after failed save",
				zap.Stringer("key", shardkit.KeyOf(e)), zap.Error(err))
			continue
		}
		s.forget(e)
		e.SetEntityID(0)
	}
}

// forEachUnsaved calls fn for every associated entity of e without an
// identifier.
func forEachUnsaved(e shardkit.Entity, fn func(shardkit.Entity) error) error {
	ae, ok := e.(shardkit.Associated)
	if !ok {
		return nil
	}
	for _, a := range ae.Associations() {
		for _, t := range a.Targets {
			if t.EntityID().Valid() {
				continue
			}
			if err := fn(t); err != nil {
				return err
			}
		}
	}
	return nil
}

// selectShard picks the shard of a new top-level entity.
func (s *Session) selectShard(ctx context.Context, op string, e shardkit.Entity) (shardkit.VirtualShardID, error) {
	vid, ok, err := s.guard.Shard(ctx, e)
	if err != nil {
		return 0, err
	} else if ok {
		return vid, nil
	}

	s.mu.Lock()
	locked, lockedID := s.locked, s.lockedID
	s.mu.Unlock()
	if locked {
		return lockedID, nil
	}

	if s.factory.noTopLevelSave[e.EntityType()] {
		return 0, shardkit.ErrNoTopLevelSave(op, e)
	}

	vid, err = s.factory.selection.Select(ctx, e)
	if err != nil {
		return 0, err
	}
	if s.factory.lockedShard {
		s.mu.Lock()
		if !s.locked {
			s.locked, s.lockedID = true, vid
			s.logger.Debug("Locked session to shard", zap.Uint16("virtual_shard_id", uint16(vid)))
		}
		vid = s.lockedID
		s.mu.Unlock()
	}
	return vid, nil
}

// shardOf returns the single shard holding the persisted entity e.
func (s *Session) shardOf(ctx context.Context, op string, e shardkit.Entity) (*shard.Shard, shardkit.VirtualShardID, error) {
	if !e.EntityID().Valid() {
		return nil, 0, &errors.Error{
			Code: errors.EInvalid,
			Op:   op,
			Msg:  fmt.Sprintf("%s entity has no identifier", e.EntityType()),
		}
	}
	if vid, ok := s.locator.Locate(ctx, e); ok {
		sh, err := s.shardFor(op, vid)
		return sh, vid, err
	}

	vids, err := s.factory.resolution.Resolve(ctx, shardkit.ResolutionRequest{EntityType: e.EntityType(), ID: e.EntityID()})
	if err != nil {
		return nil, 0, err
	}
	shards := s.shardsFor(vids)
	if len(shards) != 1 {
		return nil, 0, shardkit.ErrRoutingAmbiguity(op, e, len(shards))
	}
	return shards[0], s.home(shards[0], e.EntityID()), nil
}

// access returns the access strategy for a fan-out over shards. A single
// shard is dispatched to directly.
func (s *Session) access(shards []*shard.Shard) strategy.Access {
	if len(shards) == 1 {
		return s.factory.direct
	}
	return s.factory.access
}

func (s *Session) shardFor(op string, vid shardkit.VirtualShardID) (*shard.Shard, error) {
	id, ok := s.factory.vmap.Physical(vid)
	if !ok {
		return nil, &errors.Error{
			Code: errors.EInvalid,
			Op:   op,
			Msg:  fmt.Sprintf("unknown virtual shard %d", vid),
		}
	}
	return s.byID[id], nil
}

// shardsFor returns the physical shards serving any of vids, in shard order.
func (s *Session) shardsFor(vids shardkit.VirtualShardIDs) []*shard.Shard {
	var out []*shard.Shard
	for _, sh := range s.shards {
		for _, vid := range vids {
			if sh.Serves(vid) {
				out = append(out, sh)
				break
			}
		}
	}
	return out
}

// home returns the virtual shard of an entity found on sh.
func (s *Session) home(sh *shard.Shard, id shardkit.ID) shardkit.VirtualShardID {
	if d := s.factory.decoder; d != nil {
		if vid, ok := d.ShardOf(id); ok && sh.Serves(vid) {
			return vid
		}
	}
	return sh.VirtualShardIDs()[0]
}

func (s *Session) checkOpen(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return &errors.Error{Code: errors.EInvalid, Op: op, Msg: "session is closed"}
	}
	return nil
}

func (s *Session) locateIdentity(_ context.Context, e shardkit.Entity) (shardkit.VirtualShardID, bool) {
	if !e.EntityID().Valid() {
		return 0, false
	}
	return s.lookup(shardkit.KeyOf(e))
}

func (s *Session) lookup(k shardkit.Key) (shardkit.VirtualShardID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	vid, ok := s.identity[k]
	return vid, ok
}

func (s *Session) remember(e shardkit.Entity, vid shardkit.VirtualShardID) {
	s.mu.Lock()
	s.identity[shardkit.KeyOf(e)] = vid
	s.mu.Unlock()
}

func (s *Session) forget(e shardkit.Entity) {
	s.mu.Lock()
	delete(s.identity, shardkit.KeyOf(e))
	s.mu.Unlock()
}

func syncLinks(e shardkit.Entity) {
	if r, ok := e.(interface{ SyncLinks() }); ok {
		r.SyncLinks()
	}
}

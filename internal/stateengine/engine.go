// Package stateengine holds Flux's entity map: the live, derived view
// rebuilt by replaying the event log and kept current by every
// subsequently ingested event.
package stateengine

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fluxlabs/flux/infrastructure/logging"
	"github.com/fluxlabs/flux/infrastructure/metrics"
)

const (
	stateChannelCapacity    = 1000
	deletionChannelCapacity = 10
)

// Engine is the concurrent entity map plus its broadcast fan-out.
type Engine struct {
	mu       sync.RWMutex
	entities map[string]Entity

	lastProcessedSequence atomic.Uint64
	replaying             atomic.Bool

	subMu        sync.Mutex
	nextSubID    int
	stateSubs    map[int]chan StateUpdate
	deletionSubs map[int]chan Deletion

	logger  *logging.Logger
	metrics *metrics.Metrics
}

// New creates an engine in replaying state; call SetLive once boot replay
// has drained.
func New(logger *logging.Logger, m *metrics.Metrics) *Engine {
	e := &Engine{
		entities:     make(map[string]Entity),
		stateSubs:    make(map[int]chan StateUpdate),
		deletionSubs: make(map[int]chan Deletion),
		logger:       logger,
		metrics:      m,
	}
	e.replaying.Store(true)
	return e
}

// UpdateProperty upserts entity and sets property, returning the applied
// update. Broadcasts are suppressed while the engine is replaying.
func (e *Engine) UpdateProperty(entityID, property string, value json.RawMessage) StateUpdate {
	now := time.Now().UTC()

	e.mu.Lock()
	ent, ok := e.entities[entityID]
	if !ok {
		ent = Entity{ID: entityID, Properties: make(map[string]json.RawMessage)}
	}
	var oldValue json.RawMessage
	if ent.Properties == nil {
		ent.Properties = make(map[string]json.RawMessage)
	}
	if prev, had := ent.Properties[property]; had {
		oldValue = prev
	}
	ent.Properties[property] = value
	ent.LastUpdated = now
	e.entities[entityID] = ent
	e.mu.Unlock()

	update := StateUpdate{
		EntityID: entityID,
		Property: property,
		OldValue: oldValue,
		NewValue: value,
		At:       now,
	}

	if e.metrics != nil {
		e.metrics.StateUpdatesTotal.Inc()
	}

	if !e.replaying.Load() {
		e.broadcastState(update)
	}
	return update
}

// DeleteEntity removes an entity, broadcasting a Deletion unless replaying.
func (e *Engine) DeleteEntity(entityID string) {
	e.mu.Lock()
	_, existed := e.entities[entityID]
	delete(e.entities, entityID)
	e.mu.Unlock()

	if !existed {
		return
	}

	if !e.replaying.Load() {
		e.broadcastDeletion(Deletion{EntityID: entityID, At: time.Now().UTC()})
	}
}

// ProcessEvent applies one decoded event envelope to the map and advances
// the processed-sequence watermark. entityID/tombstone/properties are
// pre-extracted by the caller (the fluxevent package) so this package has
// no dependency on the wire envelope shape.
func (e *Engine) ProcessEvent(ctx context.Context, entityID string, tombstone bool, properties map[string]json.RawMessage, sequence uint64) {
	if entityID == "" {
		e.logger.WithContext(ctx).Warn("event missing entity_id, skipping")
		e.lastProcessedSequence.Store(sequence)
		return
	}

	if tombstone {
		e.DeleteEntity(entityID)
	} else {
		for prop, value := range properties {
			e.UpdateProperty(entityID, prop, value)
		}
	}
	e.lastProcessedSequence.Store(sequence)
	if e.metrics != nil {
		e.metrics.SetLastProcessedSequence(sequence)
	}
}

// LastProcessedSequence returns the engine's processed-sequence watermark.
func (e *Engine) LastProcessedSequence() uint64 {
	return e.lastProcessedSequence.Load()
}

// GetEntity returns a copy of the entity, or ok=false if absent.
func (e *Engine) GetEntity(id string) (Entity, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ent, ok := e.entities[id]
	if !ok {
		return Entity{}, false
	}
	return cloneEntity(ent), true
}

// GetAllEntities returns a copy of every entity, sorted by id. The read
// lock is held for the whole copy, so the result reflects a single instant;
// writers wait until the copy completes.
func (e *Engine) GetAllEntities() []Entity {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Entity, 0, len(e.entities))
	for _, ent := range e.entities {
		out = append(out, cloneEntity(ent))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetEntityIDsWithPrefix returns every entity id starting with prefix.
func (e *Engine) GetEntityIDsWithPrefix(prefix string) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []string
	for id := range e.entities {
		if strings.HasPrefix(id, prefix) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// GetEntitiesInNamespace returns every entity whose id's namespace prefix
// (text before the first '/') equals namespace.
func (e *Engine) GetEntitiesInNamespace(namespace string) []Entity {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []Entity
	for _, ent := range e.entities {
		if Namespace(ent.ID) == namespace {
			out = append(out, cloneEntity(ent))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// LoadFromSnapshot replaces the entire map and watermark atomically. Must
// be called before the replay subscriber starts.
func (e *Engine) LoadFromSnapshot(entities map[string]Entity, sequence uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fresh := make(map[string]Entity, len(entities))
	for id, ent := range entities {
		fresh[id] = cloneEntity(ent)
	}
	e.entities = fresh
	e.lastProcessedSequence.Store(sequence)
}

// SetLive clears the replaying flag; every subsequent mutation broadcasts.
func (e *Engine) SetLive(ctx context.Context) {
	e.replaying.Store(false)
	e.logger.WithContext(ctx).Info("state engine is live")
}

// IsReplaying reports whether the engine is still draining boot replay.
func (e *Engine) IsReplaying() bool {
	return e.replaying.Load()
}

// EntityCount returns the number of live entities.
func (e *Engine) EntityCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.entities)
}

// SubscribeState registers a new state-update subscriber, returning its
// channel and an unsubscribe function.
func (e *Engine) SubscribeState() (<-chan StateUpdate, func()) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	id := e.nextSubID
	e.nextSubID++
	ch := make(chan StateUpdate, stateChannelCapacity)
	e.stateSubs[id] = ch
	return ch, func() { e.unsubscribeState(id) }
}

// SubscribeDeletions registers a new deletion subscriber.
func (e *Engine) SubscribeDeletions() (<-chan Deletion, func()) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	id := e.nextSubID
	e.nextSubID++
	ch := make(chan Deletion, deletionChannelCapacity)
	e.deletionSubs[id] = ch
	return ch, func() { e.unsubscribeDeletion(id) }
}

func (e *Engine) unsubscribeState(id int) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	if ch, ok := e.stateSubs[id]; ok {
		close(ch)
		delete(e.stateSubs, id)
	}
}

func (e *Engine) unsubscribeDeletion(id int) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	if ch, ok := e.deletionSubs[id]; ok {
		close(ch)
		delete(e.deletionSubs, id)
	}
}

// broadcastState fans update out to every subscriber without blocking; a
// subscriber whose channel is full drops the update and must re-sync via a
// fresh query.
func (e *Engine) broadcastState(update StateUpdate) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for _, ch := range e.stateSubs {
		select {
		case ch <- update:
		default:
			if e.metrics != nil {
				e.metrics.BroadcastDroppedTotal.Inc()
			}
		}
	}
}

func (e *Engine) broadcastDeletion(d Deletion) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for _, ch := range e.deletionSubs {
		select {
		case ch <- d:
		default:
			if e.metrics != nil {
				e.metrics.BroadcastDroppedTotal.Inc()
			}
		}
	}
}

package stateengine

import (
	"encoding/json"
	"strings"
	"time"
)

// Entity is a property bag keyed by id ("<namespace>/<local-id>" in auth
// mode, any string otherwise).
type Entity struct {
	ID          string                     `json:"id"`
	Properties  map[string]json.RawMessage `json:"properties"`
	LastUpdated time.Time                  `json:"lastUpdated"`
}

func cloneEntity(e Entity) Entity {
	props := make(map[string]json.RawMessage, len(e.Properties))
	for k, v := range e.Properties {
		props[k] = v
	}
	return Entity{ID: e.ID, Properties: props, LastUpdated: e.LastUpdated}
}

// Namespace returns the prefix of id before the first '/', or "" if id
// carries no namespace prefix.
func Namespace(id string) string {
	if idx := strings.IndexByte(id, '/'); idx >= 0 {
		return id[:idx]
	}
	return ""
}

// StateUpdate is broadcast whenever a property is set.
type StateUpdate struct {
	EntityID string          `json:"entityId"`
	Property string          `json:"property"`
	OldValue json.RawMessage `json:"oldValue,omitempty"`
	NewValue json.RawMessage `json:"newValue"`
	At       time.Time       `json:"at"`
}

// Deletion is broadcast whenever an entity is removed.
type Deletion struct {
	EntityID string    `json:"entityId"`
	At       time.Time `json:"at"`
}

package httpapi

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/fluxlabs/flux/infrastructure/errors"
	"github.com/fluxlabs/flux/infrastructure/httputil"
	"github.com/fluxlabs/flux/internal/fluxevent"
	"github.com/fluxlabs/flux/internal/stateengine"
)

const (
	defaultHistoryLimit    = 100
	maxHistoryLimit        = 500
	defaultHistoryLookback = 24 * time.Hour
)

// handleHistory serves GET /api/events?entity=E&since=T&limit=N by a
// ranged log read followed by a client-side filter on payload.entity_id,
// since the log has no secondary index on entity id.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	entity := q.Get("entity")

	since := time.Now().Add(-defaultHistoryLookback)
	if raw := q.Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, r, errors.Validation("since must be an RFC3339 timestamp"))
			return
		}
		since = parsed
	}

	limit := defaultHistoryLimit
	if raw := q.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, r, errors.Validation("limit must be a positive integer"))
			return
		}
		limit = parsed
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	raw, err := s.log.ReadRange(r.Context(), eventSubjectWildcard, since, maxHistoryLimit)
	if err != nil {
		writeError(w, r, errors.Internal("failed to read event history", err))
		return
	}

	events := make([]fluxevent.Event, 0, len(raw))
	for _, data := range raw {
		var evt fluxevent.Event
		if json.Unmarshal(data, &evt) != nil {
			continue
		}
		if entity != "" && evt.EntityID() != entity {
			continue
		}
		events = append(events, evt)
	}

	sort.Slice(events, func(i, j int) bool { return events[i].Timestamp > events[j].Timestamp })
	if len(events) > limit {
		events = events[:limit]
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

// handleListEntities serves GET /api/state/entities?namespace=N&prefix=P.
// Both filters apply together (AND); filtering is O(n) in entity count.
func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	namespace := q.Get("namespace")
	prefix := q.Get("prefix")

	var entities []stateengine.Entity
	switch {
	case namespace != "":
		entities = s.engine.GetEntitiesInNamespace(namespace)
	default:
		entities = s.engine.GetAllEntities()
	}
	if prefix != "" {
		filtered := entities[:0:0]
		for _, ent := range entities {
			if strings.HasPrefix(ent.ID, prefix) {
				filtered = append(filtered, ent)
			}
		}
		entities = filtered
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"entities": entities})
}

// handleGetEntity serves GET /api/state/entities/:id.
func (s *Server) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ent, ok := s.engine.GetEntity(id)
	if !ok {
		writeError(w, r, errors.EntityNotFound(id))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ent)
}

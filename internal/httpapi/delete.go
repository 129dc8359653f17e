package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/fluxlabs/flux/infrastructure/errors"
	"github.com/fluxlabs/flux/infrastructure/httputil"
	"github.com/fluxlabs/flux/internal/fluxevent"
)

const batchDeleteHardCap = 10000

// handleDeleteEntity serves DELETE /api/state/entities/:id by publishing a
// tombstone event; the state engine removes the entity once the replay
// subscriber applies it, same as any other write.
func (s *Server) handleDeleteEntity(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := s.authorizeWrite(r, id); err != nil {
		writeError(w, r, err)
		return
	}

	if err := s.publishTombstone(r, id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type batchDeleteRequest struct {
	EntityIDs []string `json:"entityIds"`
	Namespace string   `json:"namespace"`
	Prefix    string   `json:"prefix"`
}

// handleBatchDelete serves POST /api/state/entities/delete. It accepts an
// explicit id list and/or namespace+prefix filters resolved against the
// live entity map, capped hard at batchDeleteHardCap targets.
func (s *Server) handleBatchDelete(w http.ResponseWriter, r *http.Request) {
	var req batchDeleteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, errors.Validation("request body is not valid JSON"))
		return
	}

	ids := append([]string{}, req.EntityIDs...)
	if req.Namespace != "" || req.Prefix != "" {
		var candidates []string
		if req.Namespace != "" {
			for _, ent := range s.engine.GetEntitiesInNamespace(req.Namespace) {
				candidates = append(candidates, ent.ID)
			}
		} else {
			for _, ent := range s.engine.GetAllEntities() {
				candidates = append(candidates, ent.ID)
			}
		}
		for _, id := range candidates {
			if req.Prefix == "" || strings.HasPrefix(id, req.Prefix) {
				ids = append(ids, id)
			}
		}
	}

	if len(ids) > batchDeleteHardCap {
		ids = ids[:batchDeleteHardCap]
	}

	results := make(map[string]string, len(ids))
	for _, id := range ids {
		if err := s.authorizeWrite(r, id); err != nil {
			results[id] = err.Message
			continue
		}
		if err := s.publishTombstone(r, id); err != nil {
			results[id] = err.Message
			continue
		}
		results[id] = "ok"
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

func (s *Server) publishTombstone(r *http.Request, entityID string) *errors.ServiceError {
	payload, _ := json.Marshal(map[string]interface{}{
		"entity_id":   entityID,
		"__deleted__": true,
	})
	evt := fluxevent.Event{
		Stream:    "tombstone",
		Source:    "flux-api",
		Timestamp: time.Now().UnixMilli(),
		Payload:   payload,
	}
	if err := fluxevent.ValidateAndPrepare(&evt); err != nil {
		return err
	}
	data, marshalErr := json.Marshal(evt)
	if marshalErr != nil {
		return errors.Internal("failed to encode tombstone event", marshalErr)
	}
	appendErr := s.logBreaker.Execute(r.Context(), func() error {
		_, err := s.log.Append(r.Context(), eventSubject(evt.Stream), data)
		return err
	})
	if appendErr != nil {
		return errors.LogAppendError(appendErr)
	}
	return nil
}

package httpapi

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/fluxlabs/flux/infrastructure/errors"
	"github.com/fluxlabs/flux/infrastructure/httputil"
	"github.com/fluxlabs/flux/internal/fluxevent"
)

// eventSubjectWildcard is the subject every stream is published under;
// the state engine's replay subscriber and history reads both use it.
const eventSubjectWildcard = "events.>"

func eventSubject(stream string) string {
	return "events." + stream
}

// handleIngestSingle reads the body before decoding so an oversized
// payload is rejected on byte count, never on a parsed structure.
func (s *Server) handleIngestSingle(w http.ResponseWriter, r *http.Request) {
	limit := s.cfg.Get().BodySizeLimitSingleBytes
	body, svcErr := s.readLimitedBody(r, int64(limit))
	if svcErr != nil {
		writeError(w, r, svcErr)
		return
	}

	var evt fluxevent.Event
	if err := json.Unmarshal(body, &evt); err != nil {
		writeError(w, r, errors.Validation("request body is not valid JSON"))
		return
	}

	result := s.ingestOne(r, &evt)
	if result.svcErr != nil {
		writeError(w, r, result.svcErr)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

type batchRequest struct {
	Events []fluxevent.Event `json:"events"`
}

type ingestResult struct {
	EventID  string `json:"eventId,omitempty"`
	Sequence uint64 `json:"sequence,omitempty"`
	svcErr   *errors.ServiceError
}

// MarshalJSON reports the per-item outcome in the batch response shape
// without exposing the internal ServiceError type on the wire.
func (r ingestResult) MarshalJSON() ([]byte, error) {
	type wire struct {
		EventID string `json:"eventId,omitempty"`
		Error   string `json:"error,omitempty"`
	}
	w := wire{EventID: r.EventID}
	if r.svcErr != nil {
		w.Error = r.svcErr.Message
	}
	return json.Marshal(w)
}

func (s *Server) handleIngestBatch(w http.ResponseWriter, r *http.Request) {
	limit := s.cfg.Get().BodySizeLimitBatchBytes
	body, svcErr := s.readLimitedBody(r, int64(limit))
	if svcErr != nil {
		writeError(w, r, svcErr)
		return
	}

	var req batchRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, r, errors.Validation("request body is not valid JSON"))
		return
	}

	results := make([]ingestResult, len(req.Events))
	for i := range req.Events {
		results[i] = s.ingestOne(r, &req.Events[i])
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

// ingestOne runs validation, authorization, rate limiting, and the log
// append for a single event. It never returns an HTTP status directly so
// the batch handler can collect per-item outcomes.
func (s *Server) ingestOne(r *http.Request, evt *fluxevent.Event) ingestResult {
	if err := fluxevent.ValidateAndPrepare(evt); err != nil {
		s.logger.WithContext(r.Context()).WithFields(map[string]interface{}{
			"stream":  s.redactor.RedactString(evt.Stream),
			"source":  s.redactor.RedactString(evt.Source),
			"payload": s.redactor.RedactString(string(evt.Payload)),
		}).Warn("event rejected validation")
		return ingestResult{svcErr: err}
	}

	if !s.dedupe.ValidateAndMark(evt.EventID) {
		return ingestResult{svcErr: errors.Validation("duplicate eventId: already ingested within the replay window")}
	}

	entityID := evt.EntityID()
	if err := s.authorizeWrite(r, entityID); err != nil {
		return ingestResult{svcErr: err}
	}

	namespace := ""
	if entityID != "" {
		namespace, _ = splitEntityID(entityID)
	}
	if s.cfg.Get().RateLimitEnabled && namespace != "" && s.limiter != nil {
		if !s.limiter.Allow(namespace) {
			return ingestResult{svcErr: errors.RateLimited(namespace)}
		}
	}

	data, err := json.Marshal(evt)
	if err != nil {
		return ingestResult{svcErr: errors.Internal("failed to encode event", err)}
	}

	var seq uint64
	appendErr := s.logBreaker.Execute(r.Context(), func() error {
		var err error
		seq, err = s.log.Append(r.Context(), eventSubject(evt.Stream), data)
		return err
	})
	if appendErr != nil {
		return ingestResult{svcErr: errors.LogAppendError(appendErr)}
	}
	return ingestResult{EventID: evt.EventID, Sequence: seq}
}

// readLimitedBody enforces limit before any JSON decoding happens.
func (s *Server) readLimitedBody(r *http.Request, limit int64) ([]byte, *errors.ServiceError) {
	defer r.Body.Close()
	limited := io.LimitReader(r.Body, limit+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, errors.Internal("failed to read request body", err)
	}
	if int64(len(body)) > limit {
		return nil, errors.PayloadTooLarge(limit)
	}
	return body, nil
}

package httpapi

import (
	"net/http"

	"github.com/fluxlabs/flux/infrastructure/errors"
	"github.com/fluxlabs/flux/infrastructure/httputil"
	"github.com/fluxlabs/flux/internal/runtimeconfig"
)

// handleGetConfig serves GET /api/admin/config, open to any caller.
func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, s.cfg.Get())
}

// configPatch mirrors runtimeconfig.Config with pointer fields so a PUT
// body only touches the fields it actually sets.
type configPatch struct {
	RateLimitEnabled               *bool   `json:"rateLimitEnabled"`
	RateLimitPerNamespacePerMinute *uint64 `json:"rateLimitPerNamespacePerMinute"`
	BodySizeLimitSingleBytes       *uint64 `json:"bodySizeLimitSingleBytes"`
	BodySizeLimitBatchBytes        *uint64 `json:"bodySizeLimitBatchBytes"`
}

// handlePutConfig serves PUT /api/admin/config, applying whichever fields
// the request body sets and leaving the rest untouched.
func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	if err := s.requireAdminToken(r); err != nil {
		writeError(w, r, err)
		return
	}

	var patch configPatch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, r, errors.Validation("request body is not valid JSON"))
		return
	}

	updated := s.cfg.Patch(func(c *runtimeconfig.Config) {
		if patch.RateLimitEnabled != nil {
			c.RateLimitEnabled = *patch.RateLimitEnabled
		}
		if patch.RateLimitPerNamespacePerMinute != nil {
			c.RateLimitPerNamespacePerMinute = *patch.RateLimitPerNamespacePerMinute
		}
		if patch.BodySizeLimitSingleBytes != nil {
			c.BodySizeLimitSingleBytes = *patch.BodySizeLimitSingleBytes
		}
		if patch.BodySizeLimitBatchBytes != nil {
			c.BodySizeLimitBatchBytes = *patch.BodySizeLimitBatchBytes
		}
	})

	if s.limiter != nil {
		s.limiter.Reset()
	}

	httputil.WriteJSON(w, http.StatusOK, updated)
}

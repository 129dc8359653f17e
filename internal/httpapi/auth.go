package httpapi

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/fluxlabs/flux/infrastructure/errors"
)

var entityIDPattern = regexp.MustCompile(`^[a-z0-9_-]{3,32}/[^/]+$`)

// bearerToken extracts the token from "Authorization: Bearer <token>".
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if token == "" {
		return "", false
	}
	return token, true
}

// splitEntityID validates the "<namespace>/<entity>" form and returns the
// namespace prefix. entity_id values without a valid namespace prefix
// cannot be authorized in auth mode.
func splitEntityID(entityID string) (namespace string, ok bool) {
	if !entityIDPattern.MatchString(entityID) {
		return "", false
	}
	idx := strings.IndexByte(entityID, '/')
	return entityID[:idx], true
}

// authorizeWrite runs the full per-write authorization flow (§6.1/§4.10)
// against entityID, returning a ServiceError describing the first failure.
func (s *Server) authorizeWrite(r *http.Request, entityID string) *errors.ServiceError {
	if !s.authEnabled {
		return nil
	}

	token, ok := bearerToken(r)
	if !ok {
		return errors.Unauthorized("missing or malformed Authorization header")
	}
	if entityID == "" {
		return errors.Unauthorized("payload.entity_id is required in auth mode")
	}
	namespace, ok := splitEntityID(entityID)
	if !ok {
		return errors.Unauthorized("entity_id must be \"<namespace>/<entity>\"")
	}
	if err := s.registry.ValidateToken(r.Context(), token, namespace); err != nil {
		return err
	}
	return nil
}

// requireAdminToken checks the FLUX_ADMIN_TOKEN bearer when configured.
// When adminToken is empty, admin endpoints are open.
func (s *Server) requireAdminToken(r *http.Request) *errors.ServiceError {
	if s.adminToken == "" {
		return nil
	}
	token, ok := bearerToken(r)
	if !ok || token != s.adminToken {
		return errors.Unauthorized("admin token required")
	}
	return nil
}

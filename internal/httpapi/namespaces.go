package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/fluxlabs/flux/infrastructure/errors"
	"github.com/fluxlabs/flux/infrastructure/httputil"
)

type registerNamespaceRequest struct {
	Name string `json:"name"`
}

// namespaceView never exposes the token; only Lookup's caller (the
// authorization flow) ever sees it.
type namespaceView struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"createdAt"`
}

func (s *Server) handleRegisterNamespace(w http.ResponseWriter, r *http.Request) {
	if err := s.requireAdminToken(r); err != nil {
		writeError(w, r, err)
		return
	}

	var req registerNamespaceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, errors.Validation("request body is not valid JSON"))
		return
	}

	ns, svcErr := s.registry.Register(r.Context(), req.Name)
	if svcErr != nil {
		writeError(w, r, svcErr)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"id":        ns.ID,
		"name":      ns.Name,
		"token":     ns.Token,
		"createdAt": ns.CreatedAt,
	})
}

func (s *Server) handleGetNamespace(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	ns, svcErr := s.registry.Lookup(r.Context(), name)
	if svcErr != nil {
		writeError(w, r, svcErr)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, namespaceView{ID: ns.ID, Name: ns.Name, CreatedAt: ns.CreatedAt.Format("2006-01-02T15:04:05Z07:00")})
}

func (s *Server) handleDeleteNamespace(w http.ResponseWriter, r *http.Request) {
	if err := s.requireAdminToken(r); err != nil {
		writeError(w, r, err)
		return
	}
	name := mux.Vars(r)["name"]
	if err := s.registry.Delete(r.Context(), name); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

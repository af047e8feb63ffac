package api

import (
	"net/http"

	"github.com/cuemby/sessionsync/pkg/types"
	"github.com/google/uuid"
)

type createContactRequest struct {
	OwnerID string `json:"owner_id"`
	Phone   string `json:"phone"`
	Name    string `json:"name,omitempty"`
}

// handleCreateContact registers a phone number for a tenant so orphan
// sessions on that number can be attributed to it
func (s *Server) handleCreateContact(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readRequestBody(w, r)
	if !ok {
		return
	}
	var req createContactRequest
	if !s.decodeValidated(w, r, body, schemaCreateContact, &req) {
		return
	}

	contact := &types.Contact{
		ID:        uuid.NewString(),
		OwnerID:   req.OwnerID,
		Phone:     types.NormalizePhone(req.Phone),
		Name:      req.Name,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.CreateContact(r.Context(), contact); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, contact)
}

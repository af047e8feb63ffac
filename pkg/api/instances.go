package api

import (
	"net/http"

	"github.com/cuemby/sessionsync/pkg/provisioner"
	"github.com/cuemby/sessionsync/pkg/types"
)

type instanceList struct {
	Instances []*types.SessionRecord `json:"instances"`
}

func (s *Server) handleListInstances(w http.ResponseWriter, r *http.Request) {
	var (
		records []*types.SessionRecord
		err     error
	)
	if owner := r.URL.Query().Get("owner"); owner != "" {
		records, err = s.store.ListByOwner(r.Context(), owner)
	} else {
		records, err = s.store.ListRecords(r.Context())
	}
	if err != nil {
		s.writeServiceError(w, r, types.StoreError("list records", err))
		return
	}
	if records == nil {
		records = []*types.SessionRecord{}
	}
	writeJSON(w, http.StatusOK, instanceList{Instances: records})
}

func (s *Server) handleGetInstance(w http.ResponseWriter, r *http.Request) {
	record, err := s.store.GetRecord(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// handleCreateInstance answers 201 when both sides were created and 202
// when only the record exists and the remote side awaits a retry
func (s *Server) handleCreateInstance(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readRequestBody(w, r)
	if !ok {
		return
	}
	var req provisioner.CreateRequest
	if !s.decodeValidated(w, r, body, schemaCreateInstance, &req) {
		return
	}

	result, err := s.instances.CreateInstance(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, creationStatus(result), result)
}

func (s *Server) handleRetryInstance(w http.ResponseWriter, r *http.Request) {
	result, err := s.instances.RetryRemote(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, creationStatus(result), result)
}

func (s *Server) handleDeleteInstance(w http.ResponseWriter, r *http.Request) {
	if err := s.instances.DeleteInstance(r.Context(), r.PathValue("id")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func creationStatus(result *types.CreationResult) int {
	if result.Status == types.CreationStateDualSuccess {
		return http.StatusCreated
	}
	return http.StatusAccepted
}

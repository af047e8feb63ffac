package api

import (
	"net/http"

	"github.com/cuemby/sessionsync/pkg/reconciler"
	"github.com/cuemby/sessionsync/pkg/types"
)

type planResponse struct {
	HostHealthy bool                   `json:"host_healthy"`
	Entries     []reconciler.PlanEntry `json:"entries"`
}

type historyResponse struct {
	Cycles []*types.ReconciliationSummary `json:"cycles"`
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	summary, err := s.reconciler.RunCycle(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	plan, healthy, err := s.reconciler.Plan(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	resp := planResponse{HostHealthy: healthy, Entries: []reconciler.PlanEntry{}}
	if plan != nil && plan.Entries != nil {
		resp.Entries = plan.Entries
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := parseBoundedInt(r.URL.Query().Get("limit"), defaultHistoryLimit, 1, maxHistoryLimit)
	cycles, err := s.store.ListCycles(r.Context(), limit)
	if err != nil {
		s.writeServiceError(w, r, types.StoreError("list cycles", err))
		return
	}
	if cycles == nil {
		cycles = []*types.ReconciliationSummary{}
	}
	writeJSON(w, http.StatusOK, historyResponse{Cycles: cycles})
}

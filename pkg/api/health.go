package api

import (
	"context"
	"net/http"
	"time"

	"github.com/cuemby/sessionsync/pkg/metrics"
)

const readinessPingTimeout = 2 * time.Second

// readyHandler pings the record store before reporting readiness, so a
// lost database connection takes the instance out of rotation
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessPingTimeout)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		s.health.Update(metrics.ComponentStore, false, err.Error())
	} else {
		s.health.Update(metrics.ComponentStore, true, "")
	}
	s.health.ReadyHandler()(w, r)
}

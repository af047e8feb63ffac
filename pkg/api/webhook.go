package api

import (
	"errors"
	"net/http"

	"github.com/cuemby/sessionsync/pkg/events"
	"github.com/cuemby/sessionsync/pkg/log"
	"github.com/cuemby/sessionsync/pkg/types"
)

// Headers the session host signs webhooks with. They match the outbound
// scheme so one secret format serves both directions.
const (
	HostTimestampHeader = "X-Session-Host-Timestamp"
	HostSignatureHeader = "X-Session-Host-Signature"
)

type hostWebhook struct {
	SessionID   string `json:"session_id"`
	Status      string `json:"status"`
	Phone       string `json:"phone,omitempty"`
	ProfileName string `json:"profile_name,omitempty"`
}

type webhookResponse struct {
	Applied bool                 `json:"applied"`
	Reason  string               `json:"reason,omitempty"`
	Record  *types.SessionRecord `json:"record,omitempty"`
}

// handleSessionHostWebhook applies a status report pushed by the host.
// Reports for sessions no record owns are acknowledged and left for the
// next reconciliation cycle to treat as orphans.
func (s *Server) handleSessionHostWebhook(w http.ResponseWriter, r *http.Request) {
	if s.cfg.WebhookSecret == "" && s.cfg.Token != "" && !s.validBearer(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token", correlationID(r))
		return
	}

	body, ok := s.readRequestBody(w, r)
	if !ok {
		return
	}

	if s.cfg.WebhookSecret != "" {
		err := events.Verify(s.cfg.WebhookSecret,
			r.Header.Get(HostTimestampHeader),
			r.Header.Get(HostSignatureHeader),
			body, s.now(), s.cfg.MaxSkew)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_signature", err.Error(), correlationID(r))
			return
		}
	}

	var payload hostWebhook
	if !s.decodeValidated(w, r, body, schemaHostWebhook, &payload) {
		return
	}

	logger := log.WithSessionID(s.logger, payload.SessionID)
	record, changed, err := s.status.ApplyRemote(r.Context(), types.RemoteSession{
		ID:          payload.SessionID,
		RawStatus:   payload.Status,
		Phone:       payload.Phone,
		ProfileName: payload.ProfileName,
	})
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			logger.Info().Str("status", payload.Status).Msg("Webhook for unknown session deferred to reconciliation")
			writeJSON(w, http.StatusAccepted, webhookResponse{Applied: false, Reason: "unknown_session"})
			return
		}
		s.writeServiceError(w, r, err)
		return
	}

	if changed {
		logger.Info().Str("record_id", record.ID).Str("status", string(record.Status)).Msg("Applied webhook status")
		s.broker.Publish(&events.Event{
			Type:    events.EventSessionStatusChanged,
			Message: "status reported by session host",
			Metadata: map[string]string{
				"record_id":  record.ID,
				"session_id": payload.SessionID,
				"status":     string(record.Status),
			},
		})
	}
	writeJSON(w, http.StatusOK, webhookResponse{Applied: changed, Record: record})
}

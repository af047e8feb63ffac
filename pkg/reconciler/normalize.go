package reconciler

import (
	"strings"

	"github.com/cuemby/sessionsync/pkg/types"
)

// NormalizeStatus maps a raw host status onto a SessionStatus. current is
// the record's status and may be empty for sessions with no record.
//
//	open, ready, connected  -> ready
//	connecting, waiting_qr  -> waiting_qr (creating stays creating)
//	anything else           -> disconnected
func NormalizeStatus(raw string, current types.SessionStatus) types.SessionStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "open", "ready", "connected":
		return types.SessionStatusReady
	case "connecting", "waiting_qr":
		if current == types.SessionStatusCreating {
			return types.SessionStatusCreating
		}
		return types.SessionStatusWaitingQR
	default:
		return types.SessionStatusDisconnected
	}
}

// IsConnected reports whether a raw host status means the session is online
func IsConnected(raw string) bool {
	return NormalizeStatus(raw, "") == types.SessionStatusReady
}

// targetStatus is NormalizeStatus with the ready-needs-phone rule applied.
// A connected session without a known phone is still waiting for pairing.
func targetStatus(raw string, record *types.SessionRecord, remotePhone string) types.SessionStatus {
	status := NormalizeStatus(raw, record.Status)
	if status == types.SessionStatusReady && record.Phone == "" && types.NormalizePhone(remotePhone) == "" {
		return types.SessionStatusWaitingQR
	}
	return status
}

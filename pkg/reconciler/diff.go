package reconciler

import (
	"sort"

	"github.com/cuemby/sessionsync/pkg/types"
)

// DiffKind classifies one session in a reconciliation plan
type DiffKind string

const (
	DiffInSync          DiffKind = "in_sync"
	DiffStatusDrift     DiffKind = "status_drift"
	DiffOrphanOnRemote  DiffKind = "orphan_on_remote"
	DiffMissingOnRemote DiffKind = "missing_on_remote"
)

// PlanEntry is one classified session. RecordID is empty for orphans.
type PlanEntry struct {
	Kind            DiffKind            `json:"kind" yaml:"kind"`
	RemoteSessionID string              `json:"remote_session_id" yaml:"remote_session_id"`
	RecordID        string              `json:"record_id,omitempty" yaml:"record_id,omitempty"`
	CurrentStatus   types.SessionStatus `json:"current_status,omitempty" yaml:"current_status,omitempty"`
	TargetStatus    types.SessionStatus `json:"target_status,omitempty" yaml:"target_status,omitempty"`
	RawStatus       string              `json:"raw_status,omitempty" yaml:"raw_status,omitempty"`
	Phone           string              `json:"phone,omitempty" yaml:"phone,omitempty"`
	ProfileName     string              `json:"profile_name,omitempty" yaml:"profile_name,omitempty"`
}

// Plan is the ordered output of ComputePlan. It is never persisted.
type Plan struct {
	Entries []PlanEntry `json:"entries" yaml:"entries"`
}

// Count returns the number of entries of kind
func (p *Plan) Count(kind DiffKind) int {
	n := 0
	for _, e := range p.Entries {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// Filter returns the entries of the given kinds, in plan order
func (p *Plan) Filter(kinds ...DiffKind) []PlanEntry {
	var out []PlanEntry
	for _, e := range p.Entries {
		for _, k := range kinds {
			if e.Kind == k {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

// ComputePlan classifies every remote session and every record that
// references a remote session. It performs no I/O.
//
// Records with an empty RemoteSessionID are creations in flight and are
// left out. When the host lists an ID twice the first entry wins. When two
// records claim the same remote ID the oldest is matched and the rest are
// reported missing on remote.
func ComputePlan(remote []types.RemoteSession, records []*types.SessionRecord) *Plan {
	byRemote := make(map[string]*types.SessionRecord, len(records))
	var duplicates []*types.SessionRecord

	ordered := make([]*types.SessionRecord, 0, len(records))
	for _, r := range records {
		if r != nil && r.RemoteSessionID != "" {
			ordered = append(ordered, r)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].CreatedAt.Equal(ordered[j].CreatedAt) {
			return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
		}
		return ordered[i].ID < ordered[j].ID
	})
	for _, r := range ordered {
		if _, taken := byRemote[r.RemoteSessionID]; taken {
			duplicates = append(duplicates, r)
			continue
		}
		byRemote[r.RemoteSessionID] = r
	}

	plan := &Plan{}
	seen := make(map[string]bool, len(remote))
	for _, s := range remote {
		if s.ID == "" || seen[s.ID] {
			continue
		}
		seen[s.ID] = true

		record, ok := byRemote[s.ID]
		if !ok {
			plan.Entries = append(plan.Entries, PlanEntry{
				Kind:            DiffOrphanOnRemote,
				RemoteSessionID: s.ID,
				RawStatus:       s.RawStatus,
				Phone:           s.Phone,
				ProfileName:     s.ProfileName,
			})
			continue
		}

		entry := PlanEntry{
			Kind:            DiffInSync,
			RemoteSessionID: s.ID,
			RecordID:        record.ID,
			CurrentStatus:   record.Status,
			TargetStatus:    targetStatus(s.RawStatus, record, s.Phone),
			RawStatus:       s.RawStatus,
			Phone:           s.Phone,
			ProfileName:     s.ProfileName,
		}
		if entry.TargetStatus != record.Status {
			entry.Kind = DiffStatusDrift
		}
		plan.Entries = append(plan.Entries, entry)
	}

	missing := duplicates
	for _, r := range ordered {
		if !seen[r.RemoteSessionID] && byRemote[r.RemoteSessionID] == r {
			missing = append(missing, r)
		}
	}
	for _, r := range missing {
		plan.Entries = append(plan.Entries, PlanEntry{
			Kind:            DiffMissingOnRemote,
			RemoteSessionID: r.RemoteSessionID,
			RecordID:        r.ID,
			CurrentStatus:   r.Status,
			TargetStatus:    types.SessionStatusDisconnected,
		})
	}

	sort.SliceStable(plan.Entries, func(i, j int) bool {
		a, b := plan.Entries[i], plan.Entries[j]
		if a.RemoteSessionID != b.RemoteSessionID {
			return a.RemoteSessionID < b.RemoteSessionID
		}
		return a.RecordID < b.RecordID
	})
	return plan
}

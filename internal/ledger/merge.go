// FleetBridge - Fleet Management Synchronization and Alerting Platform
// Copyright 2026 ssrniv42
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ssrniv42/fleetbridge

package ledger

import (
	"github.com/ssrniv42/fleetbridge/internal/models"
)

// MergeOutcome describes what Merge did with the incoming change.
type MergeOutcome string

const (
	// OutcomeNew: no prior entry existed, the incoming change was stored verbatim.
	OutcomeNew MergeOutcome = "new"

	// OutcomeMerged: the incoming fields were deep-merged into the buffered entry.
	OutcomeMerged MergeOutcome = "merged"

	// OutcomeReplaced: the incoming change replaced the buffered entry.
	OutcomeReplaced MergeOutcome = "replaced"

	// OutcomeAnnihilated: the buffered entry was removed and nothing stored.
	// The device never learns the entity existed.
	OutcomeAnnihilated MergeOutcome = "annihilated"
)

// Merge folds an incoming change into a buffered entry for the same
// (device, entity type, entity id) tuple and returns the entry to store.
// A nil result with OutcomeAnnihilated means the pair cancels out and the
// key must be removed from the document.
//
// The truth table, with source = incoming and dest = buffered:
//
//	update  over insert  -> deep-merge fields, keep action insert
//	update  over update  -> deep-merge fields, action update
//	delete  over insert  -> annihilate (device never saw the insert)
//	reject  over insert  -> replace (platform rejected before delivery)
//	insert  over delete  -> annihilate (stale delete vs. re-added membership)
//	anything else        -> replace, source wins
//
// existing == nil means no buffered entry; the incoming change is stored
// verbatim. allowAnnihilate=false (History tier in append-only mode) turns
// both annihilation rows into plain replacement.
func Merge(existing *models.SyncEntry, incoming models.SyncEntry, allowAnnihilate bool) (*models.SyncEntry, MergeOutcome) {
	if existing == nil {
		out := incoming
		return &out, OutcomeNew
	}

	switch {
	case incoming.Action == models.ActionUpdate && existing.Action == models.ActionInsert:
		merged := *existing
		merged.Payload = deepMerge(existing.Payload, incoming.Payload)
		merged.Action = models.ActionInsert
		merged.LastModifiedBy = incoming.LastModifiedBy
		merged.LastModifiedTime = incoming.LastModifiedTime
		return &merged, OutcomeMerged

	case incoming.Action == models.ActionUpdate && existing.Action == models.ActionUpdate:
		merged := *existing
		merged.Payload = deepMerge(existing.Payload, incoming.Payload)
		merged.Action = models.ActionUpdate
		merged.LastModifiedBy = incoming.LastModifiedBy
		merged.LastModifiedTime = incoming.LastModifiedTime
		return &merged, OutcomeMerged

	case incoming.Action == models.ActionDelete && existing.Action == models.ActionInsert:
		if allowAnnihilate {
			return nil, OutcomeAnnihilated
		}
		out := incoming
		return &out, OutcomeReplaced

	case incoming.Action == models.ActionInsert && existing.Action == models.ActionDelete:
		if allowAnnihilate {
			return nil, OutcomeAnnihilated
		}
		out := incoming
		return &out, OutcomeReplaced

	default:
		// Covers reject-over-insert and every remaining combination:
		// the incoming change wins outright.
		out := incoming
		return &out, OutcomeReplaced
	}
}

// deepMerge overlays src onto a copy of dst, recursing into nested maps.
// Neither input is mutated.
func deepMerge(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = map[string]any{}
	}
	out := make(map[string]any, len(dst)+len(src))
	for k, v := range dst {
		out[k] = v
	}
	for k, v := range src {
		srcMap, srcOK := v.(map[string]any)
		dstMap, dstOK := out[k].(map[string]any)
		if srcOK && dstOK {
			out[k] = deepMerge(dstMap, srcMap)
			continue
		}
		out[k] = v
	}
	return out
}

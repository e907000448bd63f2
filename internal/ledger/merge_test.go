// FleetBridge - Fleet Management Synchronization and Alerting Platform
// Copyright 2026 ssrniv42
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ssrniv42/fleetbridge

package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssrniv42/fleetbridge/internal/models"
)

func entry(action models.SyncAction, payload map[string]any) models.SyncEntry {
	return models.SyncEntry{
		Action:           action,
		Payload:          payload,
		LastModifiedBy:   100,
		LastModifiedTime: 1700000000000,
	}
}

func TestMergeNoExisting(t *testing.T) {
	incoming := entry(models.ActionInsert, map[string]any{"title": "zone"})
	got, outcome := Merge(nil, incoming, true)
	require.NotNil(t, got)
	assert.Equal(t, OutcomeNew, outcome)
	assert.Equal(t, incoming, *got)
}

func TestMergeTruthTable(t *testing.T) {
	tests := []struct {
		name        string
		existing    models.SyncAction
		incoming    models.SyncAction
		wantOutcome MergeOutcome
		wantAction  models.SyncAction
	}{
		{"update over insert keeps insert", models.ActionInsert, models.ActionUpdate, OutcomeMerged, models.ActionInsert},
		{"update over update stays update", models.ActionUpdate, models.ActionUpdate, OutcomeMerged, models.ActionUpdate},
		{"delete over insert annihilates", models.ActionInsert, models.ActionDelete, OutcomeAnnihilated, 0},
		{"insert over delete annihilates", models.ActionDelete, models.ActionInsert, OutcomeAnnihilated, 0},
		{"reject over insert replaces", models.ActionInsert, models.ActionReject, OutcomeReplaced, models.ActionReject},
		{"delete over update replaces", models.ActionUpdate, models.ActionDelete, OutcomeReplaced, models.ActionDelete},
		{"insert over insert replaces", models.ActionInsert, models.ActionInsert, OutcomeReplaced, models.ActionInsert},
		{"update over delete replaces", models.ActionDelete, models.ActionUpdate, OutcomeReplaced, models.ActionUpdate},
		{"update over reject replaces", models.ActionReject, models.ActionUpdate, OutcomeReplaced, models.ActionUpdate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			existing := entry(tt.existing, map[string]any{"title": "old"})
			incoming := entry(tt.incoming, map[string]any{"note": "new"})

			got, outcome := Merge(&existing, incoming, true)
			assert.Equal(t, tt.wantOutcome, outcome)

			if tt.wantOutcome == OutcomeAnnihilated {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.wantAction, got.Action)
		})
	}
}

func TestMergeDeepMergesPayload(t *testing.T) {
	existing := entry(models.ActionInsert, map[string]any{
		"title": "zone",
		"settings": map[string]any{
			"min": 10.0,
			"max": 90.0,
		},
	})
	incoming := entry(models.ActionUpdate, map[string]any{
		"note": "updated",
		"settings": map[string]any{
			"max": 120.0,
		},
	})
	incoming.LastModifiedTime = 1700000001000

	got, outcome := Merge(&existing, incoming, true)
	require.NotNil(t, got)
	assert.Equal(t, OutcomeMerged, outcome)
	assert.Equal(t, models.ActionInsert, got.Action)
	assert.Equal(t, "zone", got.Payload["title"])
	assert.Equal(t, "updated", got.Payload["note"])

	settings := got.Payload["settings"].(map[string]any)
	assert.Equal(t, 10.0, settings["min"])
	assert.Equal(t, 120.0, settings["max"])
	assert.Equal(t, int64(1700000001000), got.LastModifiedTime)

	// Inputs must not be mutated.
	assert.NotContains(t, existing.Payload, "note")
	assert.Equal(t, 90.0, existing.Payload["settings"].(map[string]any)["max"])
}

func TestMergeAppendOnlyDisablesAnnihilation(t *testing.T) {
	existing := entry(models.ActionInsert, map[string]any{"title": "zone"})
	incoming := entry(models.ActionDelete, map[string]any{"id": int64(5)})

	got, outcome := Merge(&existing, incoming, false)
	require.NotNil(t, got)
	assert.Equal(t, OutcomeReplaced, outcome)
	assert.Equal(t, models.ActionDelete, got.Action)
}

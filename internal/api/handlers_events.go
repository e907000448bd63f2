// FleetBridge - Fleet Management Synchronization and Alerting Platform
// Copyright 2026 ssrniv42
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ssrniv42/fleetbridge

package api

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/ssrniv42/fleetbridge/internal/events"
	"github.com/ssrniv42/fleetbridge/internal/models"
)

type entityEventRequest struct {
	EntityType string `json:"entity_type" validate:"required,oneof=device group geofence poi user"`
	EntityID   int64  `json:"entity_id" validate:"required,gt=0"`
	Action     string `json:"action" validate:"required,oneof=post put delete"`

	Before map[string]any `json:"before"`
	After  map[string]any `json:"after"`

	OldSyncDeviceIDs []int64 `json:"old_sync_device_ids"`

	ModifiedBy   int64 `json:"modified_by" validate:"gte=0"`
	ModifiedTime int64 `json:"modified_time" validate:"gte=0"`
}

// EntityEvent accepts one entity mutation from the platform's CRUD layer
// and publishes it onto the entity-change bus, where the sync pipeline
// picks it up. Accepted means queued, not processed.
func (h *Handler) EntityEvent(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		respondError(w, http.StatusServiceUnavailable, "INTERNAL_ERROR", "event bus not available", nil)
		return
	}

	var req entityEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "malformed event body", nil)
		return
	}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message, nil)
		return
	}

	ev := events.EntityChanged{
		EntityType:       models.EntityType(req.EntityType),
		EntityID:         req.EntityID,
		Action:           events.ChangeAction(req.Action),
		Before:           req.Before,
		After:            req.After,
		OldSyncDeviceIDs: req.OldSyncDeviceIDs,
		ModifiedBy:       req.ModifiedBy,
		ModifiedTime:     req.ModifiedTime,
	}
	if ev.ModifiedTime == 0 {
		ev.ModifiedTime = time.Now().UnixMilli()
	}

	if err := h.events.Publish(r.Context(), ev); err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to publish entity change", err)
		return
	}

	respondData(w, http.StatusAccepted, map[string]any{
		"entity_type": req.EntityType,
		"entity_id":   req.EntityID,
		"action":      req.Action,
	})
}

// FleetBridge - Fleet Management Synchronization and Alerting Platform
// Copyright 2026 ssrniv42
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ssrniv42/fleetbridge

package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ssrniv42/fleetbridge/internal/models"
	"github.com/ssrniv42/fleetbridge/internal/store"
)

type alertListRequest struct {
	Limit int    `validate:"gte=0,lte=1000"`
	Type  string `validate:"omitempty,oneof=emergency speed geofence cargo non_report"`
}

// Alerts lists alert episodes, newest first. Filters: device_id, type,
// open=true, limit.
func (h *Handler) Alerts(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	filter := store.AlertFilter{TypeName: query.Get("type")}
	if deviceID, ok := parseInt64Param(r, "device_id"); ok {
		filter.DeviceID = deviceID
	}
	if query.Get("open") == "true" {
		filter.OpenOnly = true
	}
	if limit, ok := parseInt64Param(r, "limit"); ok {
		filter.Limit = int(limit)
	}

	req := alertListRequest{Limit: filter.Limit, Type: filter.TypeName}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message, nil)
		return
	}

	alerts, err := h.store.ListAlerts(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "DATABASE_ERROR", "failed to list alerts", err)
		return
	}
	if alerts == nil {
		alerts = []*models.Alert{}
	}
	respondData(w, http.StatusOK, alerts)
}

// alertDetail is an Alert with its manager fields inlined.
type alertDetail struct {
	*models.Alert
	Manager map[string]any `json:"manager,omitempty"`
}

// AlertByID returns one alert episode with its type-specific manager row.
func (h *Handler) AlertByID(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "alert id must be an integer", nil)
		return
	}

	ctx := r.Context()
	a, err := h.store.GetAlert(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "alert not found", nil)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "DATABASE_ERROR", "failed to load alert", err)
		return
	}

	detail := alertDetail{Alert: a}
	manager, err := h.store.GetAlertManager(ctx, h.store.DB(), a.AlertTypeName, a.ID)
	if err == nil {
		detail.Manager = manager.Fields
	} else if !errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusInternalServerError, "DATABASE_ERROR", "failed to load alert manager", err)
		return
	}

	respondData(w, http.StatusOK, detail)
}

// FleetBridge - Fleet Management Synchronization and Alerting Platform
// Copyright 2026 ssrniv42
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ssrniv42/fleetbridge

package api

import (
	"errors"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/ssrniv42/fleetbridge/internal/logging"
	"github.com/ssrniv42/fleetbridge/internal/models"
	"github.com/ssrniv42/fleetbridge/internal/store"
)

type gpsReportRequest struct {
	CommID    int64    `json:"comm_id" validate:"required,gt=0"`
	Latitude  float64  `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64  `json:"longitude" validate:"gte=-180,lte=180"`
	SpeedKPH  float64  `json:"speed_kph" validate:"gte=0"`
	Heading   float64  `json:"heading" validate:"gte=0,lt=360"`
	Panic     bool     `json:"panic"`
	Timestamp int64    `json:"timestamp" validate:"required,gt=0"`
}

// ReportGPS ingests one GPS position report from the Message Handler,
// stores it, and runs the report-driven alert evaluators.
func (h *Handler) ReportGPS(w http.ResponseWriter, r *http.Request) {
	var req gpsReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "malformed report body", nil)
		return
	}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message, nil)
		return
	}

	ctx := r.Context()
	device, err := h.store.GetDeviceByCommID(ctx, req.CommID)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "UNKNOWN_DEVICE", "no device with this comm id", nil)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "DATABASE_ERROR", "device lookup failed", err)
		return
	}

	report := &models.Report{
		DeviceID:  device.ID,
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
		SpeedKPH:  req.SpeedKPH,
		Heading:   req.Heading,
		Panic:     req.Panic,
		Timestamp: req.Timestamp,
	}
	if err := h.store.SaveReport(ctx, report); err != nil {
		respondError(w, http.StatusInternalServerError, "DATABASE_ERROR", "failed to store report", err)
		return
	}

	// The report is durable at this point; evaluator failures are logged
	// and the ingest still succeeds. The next report re-runs the same
	// predicates against fresh state.
	for _, evaluator := range h.gpsEvaluators {
		if err := evaluator.ProcessReport(ctx, device, report); err != nil {
			logging.Error().Err(err).Int64("device_id", device.ID).Msg("report evaluation failed")
		}
	}
	if h.reportObserver != nil {
		if err := h.reportObserver.OnReport(ctx, device, report); err != nil {
			logging.Error().Err(err).Int64("device_id", device.ID).Msg("report observer failed")
		}
	}

	respondData(w, http.StatusCreated, map[string]any{"report_id": report.ID})
}

type cargoReportRequest struct {
	CommID         int64   `json:"comm_id" validate:"required,gt=0"`
	DoorOpen       bool    `json:"door_open"`
	Humidity       float64 `json:"humidity" validate:"gte=0,lte=100"`
	TemperatureC   float64 `json:"temperature_c"`
	ShockG         float64 `json:"shock_g" validate:"gte=0"`
	BatteryPercent float64 `json:"battery_percent" validate:"gte=0,lte=100"`

	DoorAlertEnabled bool     `json:"door_alert_enabled"`
	MaxHumidity      *float64 `json:"max_humidity"`
	MinTemperatureC  *float64 `json:"min_temperature_c"`
	MaxTemperatureC  *float64 `json:"max_temperature_c"`
	MaxShockG        *float64 `json:"max_shock_g"`
	MinBattery       *float64 `json:"min_battery"`

	Timestamp int64 `json:"timestamp" validate:"required,gt=0"`
}

// ReportCargo ingests one cargo container status report.
func (h *Handler) ReportCargo(w http.ResponseWriter, r *http.Request) {
	var req cargoReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "malformed report body", nil)
		return
	}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message, nil)
		return
	}

	ctx := r.Context()
	device, err := h.store.GetDeviceByCommID(ctx, req.CommID)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "UNKNOWN_DEVICE", "no device with this comm id", nil)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "DATABASE_ERROR", "device lookup failed", err)
		return
	}

	report := &models.CargoReport{
		DeviceID:         device.ID,
		DoorOpen:         req.DoorOpen,
		Humidity:         req.Humidity,
		TemperatureC:     req.TemperatureC,
		ShockG:           req.ShockG,
		BatteryPercent:   req.BatteryPercent,
		DoorAlertEnabled: req.DoorAlertEnabled,
		MaxHumidity:      req.MaxHumidity,
		MinTemperatureC:  req.MinTemperatureC,
		MaxTemperatureC:  req.MaxTemperatureC,
		MaxShockG:        req.MaxShockG,
		MinBattery:       req.MinBattery,
		Timestamp:        req.Timestamp,
	}
	if err := h.store.SaveCargoReport(ctx, report); err != nil {
		respondError(w, http.StatusInternalServerError, "DATABASE_ERROR", "failed to store cargo report", err)
		return
	}

	if h.cargoEvaluator != nil {
		if err := h.cargoEvaluator.ProcessReport(ctx, device, report); err != nil {
			logging.Error().Err(err).Int64("device_id", device.ID).Msg("cargo report evaluation failed")
		}
	}

	respondData(w, http.StatusCreated, map[string]any{"report_id": report.ID})
}

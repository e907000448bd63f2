// FleetBridge - Fleet Management Synchronization and Alerting Platform
// Copyright 2026 ssrniv42
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ssrniv42/fleetbridge

package api

import (
	"errors"
	"net/http"

	syncpkg "github.com/ssrniv42/fleetbridge/internal/sync"
)

type syncRequest struct {
	CommID    int64 `validate:"required,gt=0"`
	Watermark int64 `validate:"gte=0"`
}

// SyncDevice answers a tactical device's sync request. The device reports
// its watermark; the response carries whichever ledger tier matches it, or
// a reset directive when the watermark is from the future.
//
// The error taxonomy is deliberate: a malformed watermark, an unknown comm
// id, and a client with sync disabled each produce a distinct code so
// field technicians can tell configuration problems from addressing ones.
func (h *Handler) SyncDevice(w http.ResponseWriter, r *http.Request) {
	commID, ok := parseInt64Param(r, "commId")
	if !ok {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "commId is required and must be an integer", nil)
		return
	}
	watermark, ok := parseInt64Param(r, "watermark")
	if !ok {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "watermark is required and must be an integer", nil)
		return
	}

	req := syncRequest{CommID: commID, Watermark: watermark}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message, nil)
		return
	}

	payload, err := h.sync.RequestSync(r.Context(), commID, watermark)
	switch {
	case errors.Is(err, syncpkg.ErrInvalidWatermark):
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "watermark must be zero or a full epoch-milliseconds value", nil)
		return
	case errors.Is(err, syncpkg.ErrUnknownDevice):
		respondError(w, http.StatusNotFound, "UNKNOWN_DEVICE", "no tactical device with this comm id", nil)
		return
	case errors.Is(err, syncpkg.ErrFeatureDisabled):
		respondError(w, http.StatusForbidden, "SYNC_DISABLED", "sync is not enabled for this client", nil)
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "sync request failed", err)
		return
	}

	respondData(w, http.StatusOK, payload)
}

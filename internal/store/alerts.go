// FleetBridge - Fleet Management Synchronization and Alerting Platform
// Copyright 2026 ssrniv42
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ssrniv42/fleetbridge

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ssrniv42/fleetbridge/internal/models"
)

// managerTables maps each alert type name to its side-record table and the
// columns that table carries beyond id and alert_id.
var managerTables = map[string]managerTable{
	models.AlertTypeEmergency: {
		name:    "emergency_alert_managers",
		columns: []string{"start_report_id", "end_report_id"},
	},
	models.AlertTypeSpeed: {
		name:    "speed_alert_managers",
		columns: []string{"geofence_id", "min_speed_kph", "max_speed_kph", "start_report_id", "end_report_id"},
	},
	models.AlertTypeGeofence: {
		name:    "geofence_alert_managers",
		columns: []string{"geofence_id", "start_report_id", "end_report_id"},
	},
	models.AlertTypeCargo: {
		name:    "cargo_alert_managers",
		columns: []string{"cargo_kind", "start_report_id", "end_report_id"},
	},
	models.AlertTypeNonReport: {
		name:    "non_report_alert_managers",
		columns: []string{"threshold_ms", "last_report_timestamp"},
	},
}

type managerTable struct {
	name    string
	columns []string
}

func (t managerTable) hasColumn(col string) bool {
	for _, c := range t.columns {
		if c == col {
			return true
		}
	}
	return false
}

// AlertTypes returns the alert type name to id mapping from the reference
// table. The engine caches this at startup.
func (s *Store) AlertTypes(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM alert_types`)
	if err != nil {
		return nil, fmt.Errorf("query alert types: %w", err)
	}
	defer rows.Close()

	types := make(map[string]int64)
	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("scan alert type: %w", err)
		}
		types[name] = id
	}
	return types, rows.Err()
}

// FindOpenAlert looks up an open episode of the given type for the device
// whose manager record matches every condition field. A nil condition value
// matches SQL NULL. Returns ErrNotFound when no open episode matches.
func (s *Store) FindOpenAlert(ctx context.Context, q Querier, alertTypeName string, deviceID int64, condition map[string]any) (*models.Alert, error) {
	table, ok := managerTables[alertTypeName]
	if !ok {
		return nil, fmt.Errorf("unknown alert type %q", alertTypeName)
	}

	var sb strings.Builder
	sb.WriteString(`SELECT a.id, a.alert_type_id, a.device_id, a.start_timestamp, a.end_timestamp
		FROM alerts a
		JOIN ` + table.name + ` m ON m.alert_id = a.id
		JOIN alert_types t ON t.id = a.alert_type_id
		WHERE t.name = ? AND a.device_id = ? AND a.end_timestamp IS NULL`)
	args := []any{alertTypeName, deviceID}

	// Deterministic clause order keeps the query stable across calls.
	keys := make([]string, 0, len(condition))
	for k := range condition {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !table.hasColumn(k) {
			return nil, fmt.Errorf("alert type %q has no condition field %q", alertTypeName, k)
		}
		if condition[k] == nil {
			sb.WriteString(" AND m." + k + " IS NULL")
			continue
		}
		sb.WriteString(" AND m." + k + " = ?")
		args = append(args, condition[k])
	}
	sb.WriteString(" LIMIT 1")

	a := &models.Alert{AlertTypeName: alertTypeName}
	err := q.QueryRowContext(ctx, sb.String(), args...).
		Scan(&a.ID, &a.AlertTypeID, &a.DeviceID, &a.StartTimestamp, &a.EndTimestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find open alert: %w", err)
	}
	return a, nil
}

// CreateAlert opens a new episode: one alerts row plus its type-specific
// manager row, both through q so callers can run it inside a transaction.
// Manager fields combine the condition fields with any start provenance.
func (s *Store) CreateAlert(ctx context.Context, q Querier, a *models.Alert, managerFields map[string]any) error {
	table, ok := managerTables[a.AlertTypeName]
	if !ok {
		return fmt.Errorf("unknown alert type %q", a.AlertTypeName)
	}

	res, err := q.ExecContext(ctx, `
		INSERT INTO alerts (alert_type_id, device_id, start_timestamp, end_timestamp)
		VALUES (?, ?, ?, NULL)`,
		a.AlertTypeID, a.DeviceID, a.StartTimestamp)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	a.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("alert id: %w", err)
	}

	cols := []string{"alert_id"}
	placeholders := []string{"?"}
	args := []any{a.ID}
	keys := make([]string, 0, len(managerFields))
	for k := range managerFields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !table.hasColumn(k) {
			return fmt.Errorf("alert type %q has no manager field %q", a.AlertTypeName, k)
		}
		cols = append(cols, k)
		placeholders = append(placeholders, "?")
		args = append(args, managerFields[k])
	}

	_, err = q.ExecContext(ctx,
		"INSERT INTO "+table.name+" ("+strings.Join(cols, ", ")+") VALUES ("+strings.Join(placeholders, ", ")+")",
		args...)
	if err != nil {
		return fmt.Errorf("insert %s: %w", table.name, err)
	}
	return nil
}

// CloseAlert ends an open episode: stamps end_timestamp and merges any
// finish fields into the manager row.
func (s *Store) CloseAlert(ctx context.Context, q Querier, a *models.Alert, endTimestamp int64, finishFields map[string]any) error {
	table, ok := managerTables[a.AlertTypeName]
	if !ok {
		return fmt.Errorf("unknown alert type %q", a.AlertTypeName)
	}

	res, err := q.ExecContext(ctx, `
		UPDATE alerts SET end_timestamp = ?
		WHERE id = ? AND end_timestamp IS NULL`, endTimestamp, a.ID)
	if err != nil {
		return fmt.Errorf("close alert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("close alert rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	a.EndTimestamp = &endTimestamp

	if len(finishFields) == 0 {
		return nil
	}
	sets := make([]string, 0, len(finishFields))
	args := make([]any, 0, len(finishFields)+1)
	keys := make([]string, 0, len(finishFields))
	for k := range finishFields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !table.hasColumn(k) {
			return fmt.Errorf("alert type %q has no manager field %q", a.AlertTypeName, k)
		}
		sets = append(sets, k+" = ?")
		args = append(args, finishFields[k])
	}
	args = append(args, a.ID)

	_, err = q.ExecContext(ctx,
		"UPDATE "+table.name+" SET "+strings.Join(sets, ", ")+" WHERE alert_id = ?",
		args...)
	if err != nil {
		return fmt.Errorf("update %s: %w", table.name, err)
	}
	return nil
}

// GetAlert returns one alert by id with its type name resolved, or
// ErrNotFound.
func (s *Store) GetAlert(ctx context.Context, id int64) (*models.Alert, error) {
	a := &models.Alert{}
	err := s.db.QueryRowContext(ctx, `
		SELECT a.id, a.alert_type_id, t.name, a.device_id, a.start_timestamp, a.end_timestamp
		FROM alerts a JOIN alert_types t ON t.id = a.alert_type_id
		WHERE a.id = ?`, id).
		Scan(&a.ID, &a.AlertTypeID, &a.AlertTypeName, &a.DeviceID, &a.StartTimestamp, &a.EndTimestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan alert: %w", err)
	}
	return a, nil
}

// AlertFilter narrows ListAlerts. Zero values mean "no filter".
type AlertFilter struct {
	DeviceID  int64
	TypeName  string
	OpenOnly  bool
	Limit     int
}

// ListAlerts returns alerts newest first, optionally filtered.
func (s *Store) ListAlerts(ctx context.Context, filter AlertFilter) ([]*models.Alert, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT a.id, a.alert_type_id, t.name, a.device_id, a.start_timestamp, a.end_timestamp
		FROM alerts a JOIN alert_types t ON t.id = a.alert_type_id WHERE 1=1`)
	var args []any
	if filter.DeviceID != 0 {
		sb.WriteString(" AND a.device_id = ?")
		args = append(args, filter.DeviceID)
	}
	if filter.TypeName != "" {
		sb.WriteString(" AND t.name = ?")
		args = append(args, filter.TypeName)
	}
	if filter.OpenOnly {
		sb.WriteString(" AND a.end_timestamp IS NULL")
	}
	sb.WriteString(" ORDER BY a.start_timestamp DESC, a.id DESC")
	if filter.Limit > 0 {
		sb.WriteString(" LIMIT ?")
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*models.Alert
	for rows.Next() {
		a := &models.Alert{}
		if err := rows.Scan(&a.ID, &a.AlertTypeID, &a.AlertTypeName, &a.DeviceID,
			&a.StartTimestamp, &a.EndTimestamp); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// GetAlertManager returns the manager row for an alert as a generic field
// map, or ErrNotFound.
func (s *Store) GetAlertManager(ctx context.Context, q Querier, alertTypeName string, alertID int64) (*models.AlertManager, error) {
	table, ok := managerTables[alertTypeName]
	if !ok {
		return nil, fmt.Errorf("unknown alert type %q", alertTypeName)
	}

	cols := append([]string{"id", "alert_id"}, table.columns...)
	rows, err := q.QueryContext(ctx,
		"SELECT "+strings.Join(cols, ", ")+" FROM "+table.name+" WHERE alert_id = ?",
		alertID)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table.name, err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}

	dest := make([]any, len(cols))
	for i := range dest {
		dest[i] = new(any)
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, fmt.Errorf("scan %s: %w", table.name, err)
	}

	m := &models.AlertManager{Fields: make(map[string]any)}
	for i, col := range cols {
		v := *(dest[i].(*any))
		switch col {
		case "id":
			m.ID = v.(int64)
		case "alert_id":
			m.AlertID = v.(int64)
		default:
			m.Fields[col] = v
		}
	}
	return m, nil
}

// OpenGeofenceAlertIDs returns the geofence ids that currently have an open
// geofence alert for the device. The speed evaluator uses this to skip
// per-fence speed checks while the device is in breach of the same fence,
// and the re-evaluation sweep uses it to find episodes to force-close.
func (s *Store) OpenGeofenceAlertIDs(ctx context.Context, deviceID int64) (map[int64]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.geofence_id, a.id
		FROM alerts a
		JOIN geofence_alert_managers m ON m.alert_id = a.id
		JOIN alert_types t ON t.id = a.alert_type_id
		WHERE t.name = ? AND a.device_id = ? AND a.end_timestamp IS NULL`,
		models.AlertTypeGeofence, deviceID)
	if err != nil {
		return nil, fmt.Errorf("query open geofence alerts: %w", err)
	}
	defer rows.Close()

	open := make(map[int64]int64)
	for rows.Next() {
		var geofenceID, alertID int64
		if err := rows.Scan(&geofenceID, &alertID); err != nil {
			return nil, fmt.Errorf("scan open geofence alert: %w", err)
		}
		open[geofenceID] = alertID
	}
	return open, rows.Err()
}

// OpenAlertsForGeofence returns every open geofence alert riding on the
// given fence, across all devices.
func (s *Store) OpenAlertsForGeofence(ctx context.Context, geofenceID int64) ([]*models.Alert, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.alert_type_id, t.name, a.device_id, a.start_timestamp, a.end_timestamp
		FROM alerts a
		JOIN geofence_alert_managers m ON m.alert_id = a.id
		JOIN alert_types t ON t.id = a.alert_type_id
		WHERE m.geofence_id = ? AND a.end_timestamp IS NULL`, geofenceID)
	if err != nil {
		return nil, fmt.Errorf("query geofence alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*models.Alert
	for rows.Next() {
		a := &models.Alert{}
		if err := rows.Scan(&a.ID, &a.AlertTypeID, &a.AlertTypeName, &a.DeviceID,
			&a.StartTimestamp, &a.EndTimestamp); err != nil {
			return nil, fmt.Errorf("scan geofence alert: %w", err)
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

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

	"github.com/goccy/go-json"

	"github.com/ssrniv42/fleetbridge/internal/models"
)

// GetDevice returns the device with the given id, or ErrNotFound.
func (s *Store) GetDevice(ctx context.Context, id int64) (*models.Device, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, client_id, comm_id, name, type,
		       min_speed_kph, max_speed_kph, non_report_interval_ms
		FROM devices WHERE id = ?`, id)
	return scanDevice(row)
}

// GetDeviceByCommID resolves a device by its comm id, or ErrNotFound.
func (s *Store) GetDeviceByCommID(ctx context.Context, commID int64) (*models.Device, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, client_id, comm_id, name, type,
		       min_speed_kph, max_speed_kph, non_report_interval_ms
		FROM devices WHERE comm_id = ?`, commID)
	return scanDevice(row)
}

func scanDevice(row *sql.Row) (*models.Device, error) {
	d := &models.Device{}
	var minSpeed, maxSpeed sql.NullFloat64
	err := row.Scan(&d.ID, &d.ClientID, &d.CommID, &d.Name, &d.Type,
		&minSpeed, &maxSpeed, &d.Settings.NonReportIntervalMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan device: %w", err)
	}
	if minSpeed.Valid {
		d.Settings.MinSpeedKPH = &minSpeed.Float64
	}
	if maxSpeed.Valid {
		d.Settings.MaxSpeedKPH = &maxSpeed.Float64
	}
	return d, nil
}

// ListDevices returns all devices. Used by the non-report scheduler to
// arm timers at startup.
func (s *Store) ListDevices(ctx context.Context) ([]*models.Device, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, client_id, comm_id, name, type,
		       min_speed_kph, max_speed_kph, non_report_interval_ms
		FROM devices ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var devices []*models.Device
	for rows.Next() {
		d := &models.Device{}
		var minSpeed, maxSpeed sql.NullFloat64
		if err := rows.Scan(&d.ID, &d.ClientID, &d.CommID, &d.Name, &d.Type,
			&minSpeed, &maxSpeed, &d.Settings.NonReportIntervalMs); err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		if minSpeed.Valid {
			d.Settings.MinSpeedKPH = &minSpeed.Float64
		}
		if maxSpeed.Valid {
			d.Settings.MaxSpeedKPH = &maxSpeed.Float64
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// GetClient returns the client with the given id, or ErrNotFound.
func (s *Store) GetClient(ctx context.Context, id int64) (*models.Client, error) {
	c := &models.Client{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, sync_enabled FROM clients WHERE id = ?`, id).
		Scan(&c.ID, &c.Name, &c.SyncEnabled)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan client: %w", err)
	}
	return c, nil
}

// GetGeofence returns the geofence with the given id, or ErrNotFound.
func (s *Store) GetGeofence(ctx context.Context, id int64) (*models.Geofence, error) {
	g := &models.Geofence{}
	var coords string
	var minSpeed, maxSpeed sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, client_id, title, note, shape, width, coordinates,
		       active, inclusive, min_speed_kph, max_speed_kph
		FROM geofences WHERE id = ?`, id).
		Scan(&g.ID, &g.ClientID, &g.Title, &g.Note, &g.Shape, &g.Width,
			&coords, &g.Active, &g.Inclusive, &minSpeed, &maxSpeed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan geofence: %w", err)
	}
	if err := json.Unmarshal([]byte(coords), &g.Coordinates); err != nil {
		return nil, fmt.Errorf("decode geofence coordinates: %w", err)
	}
	if minSpeed.Valid {
		g.MinSpeedKPH = &minSpeed.Float64
	}
	if maxSpeed.Valid {
		g.MaxSpeedKPH = &maxSpeed.Float64
	}
	return g, nil
}

// GetPOI returns the POI with the given id, or ErrNotFound.
func (s *Store) GetPOI(ctx context.Context, id int64) (*models.POI, error) {
	p := &models.POI{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, client_id, title, note, latitude, longitude, approved, creator_comm_id
		FROM pois WHERE id = ?`, id).
		Scan(&p.ID, &p.ClientID, &p.Title, &p.Note,
			&p.Coordinate.Latitude, &p.Coordinate.Longitude, &p.Approved, &p.CreatorCommID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan poi: %w", err)
	}
	return p, nil
}

// GetGroup returns the group with the given id and its member device ids,
// or ErrNotFound.
func (s *Store) GetGroup(ctx context.Context, id int64) (*models.Group, error) {
	g := &models.Group{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, client_id, name FROM groups WHERE id = ?`, id).
		Scan(&g.ID, &g.ClientID, &g.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan group: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT device_id FROM group_devices WHERE group_id = ? ORDER BY device_id`, id)
	if err != nil {
		return nil, fmt.Errorf("query group devices: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var deviceID int64
		if err := rows.Scan(&deviceID); err != nil {
			return nil, fmt.Errorf("scan group device: %w", err)
		}
		g.DeviceIDs = append(g.DeviceIDs, deviceID)
	}
	return g, rows.Err()
}

// GetUser returns the user with the given id, or ErrNotFound.
func (s *Store) GetUser(ctx context.Context, id int64) (*models.User, error) {
	u := &models.User{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, client_id, username, email, phone FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.ClientID, &u.Username, &u.Email, &u.Phone)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return u, nil
}

// GetSyncDeviceIDs returns the ids of tactical devices the given entity is
// currently synced to.
func (s *Store) GetSyncDeviceIDs(ctx context.Context, entityType models.EntityType, entityID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT device_id FROM sync_devices
		WHERE entity_type = ? AND entity_id = ?
		ORDER BY device_id`, string(entityType), entityID)
	if err != nil {
		return nil, fmt.Errorf("query sync devices: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan sync device: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeviceReport pairs a device with its most recent GPS report (nil when the
// device has never reported).
type DeviceReport struct {
	Device *models.Device
	Latest *models.Report
}

// GetTriggerEligibleDevices returns, for a geofence, every device assigned
// as a trigger either directly or via group membership, with each device's
// latest report.
func (s *Store) GetTriggerEligibleDevices(ctx context.Context, geofenceID int64) ([]DeviceReport, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT d.id, d.client_id, d.comm_id, d.name, d.type,
		       d.min_speed_kph, d.max_speed_kph, d.non_report_interval_ms
		FROM devices d
		LEFT JOIN group_devices gd ON gd.device_id = d.id
		JOIN geofence_triggers gt
		     ON gt.device_id = d.id OR gt.group_id = gd.group_id
		WHERE gt.geofence_id = ?
		ORDER BY d.id`, geofenceID)
	if err != nil {
		return nil, fmt.Errorf("query trigger devices: %w", err)
	}
	defer rows.Close()

	var result []DeviceReport
	for rows.Next() {
		d := &models.Device{}
		var minSpeed, maxSpeed sql.NullFloat64
		if err := rows.Scan(&d.ID, &d.ClientID, &d.CommID, &d.Name, &d.Type,
			&minSpeed, &maxSpeed, &d.Settings.NonReportIntervalMs); err != nil {
			return nil, fmt.Errorf("scan trigger device: %w", err)
		}
		if minSpeed.Valid {
			d.Settings.MinSpeedKPH = &minSpeed.Float64
		}
		if maxSpeed.Valid {
			d.Settings.MaxSpeedKPH = &maxSpeed.Float64
		}
		result = append(result, DeviceReport{Device: d})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range result {
		report, err := s.LatestReport(ctx, result[i].Device.ID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		result[i].Latest = report
	}
	return result, nil
}

// GetTriggerGeofencesForDevice returns every geofence the device is
// assigned to as a trigger, directly or via group membership.
func (s *Store) GetTriggerGeofencesForDevice(ctx context.Context, deviceID int64) ([]*models.Geofence, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT g.id, g.client_id, g.title, g.note, g.shape, g.width,
		       g.coordinates, g.active, g.inclusive, g.min_speed_kph, g.max_speed_kph
		FROM geofences g
		JOIN geofence_triggers gt ON gt.geofence_id = g.id
		LEFT JOIN group_devices gd ON gd.group_id = gt.group_id
		WHERE gt.device_id = ? OR gd.device_id = ?
		ORDER BY g.id`, deviceID, deviceID)
	if err != nil {
		return nil, fmt.Errorf("query trigger geofences: %w", err)
	}
	defer rows.Close()

	var fences []*models.Geofence
	for rows.Next() {
		g := &models.Geofence{}
		var coords string
		var minSpeed, maxSpeed sql.NullFloat64
		if err := rows.Scan(&g.ID, &g.ClientID, &g.Title, &g.Note, &g.Shape, &g.Width,
			&coords, &g.Active, &g.Inclusive, &minSpeed, &maxSpeed); err != nil {
			return nil, fmt.Errorf("scan trigger geofence: %w", err)
		}
		if err := json.Unmarshal([]byte(coords), &g.Coordinates); err != nil {
			return nil, fmt.Errorf("decode geofence coordinates: %w", err)
		}
		if minSpeed.Valid {
			g.MinSpeedKPH = &minSpeed.Float64
		}
		if maxSpeed.Valid {
			g.MaxSpeedKPH = &maxSpeed.Float64
		}
		fences = append(fences, g)
	}
	return fences, rows.Err()
}

// LatestReport returns the device's most recent GPS report, or ErrNotFound
// if the device has never reported.
func (s *Store) LatestReport(ctx context.Context, deviceID int64) (*models.Report, error) {
	r := &models.Report{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, device_id, latitude, longitude, speed_kph, heading, panic, timestamp
		FROM reports WHERE device_id = ?
		ORDER BY timestamp DESC LIMIT 1`, deviceID).
		Scan(&r.ID, &r.DeviceID, &r.Latitude, &r.Longitude, &r.SpeedKPH,
			&r.Heading, &r.Panic, &r.Timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan report: %w", err)
	}
	return r, nil
}

// SaveReport persists a GPS report and fills in its assigned id.
func (s *Store) SaveReport(ctx context.Context, r *models.Report) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO reports (device_id, latitude, longitude, speed_kph, heading, panic, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.DeviceID, r.Latitude, r.Longitude, r.SpeedKPH, r.Heading, r.Panic, r.Timestamp)
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	r.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("report id: %w", err)
	}
	return nil
}

// SaveCargoReport persists a cargo status report and fills in its id.
func (s *Store) SaveCargoReport(ctx context.Context, r *models.CargoReport) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO cargo_reports (device_id, door_open, humidity, temperature_c,
			shock_g, battery_percent, door_alert_enabled, max_humidity,
			min_temperature_c, max_temperature_c, max_shock_g, min_battery, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.DeviceID, r.DoorOpen, r.Humidity, r.TemperatureC, r.ShockG,
		r.BatteryPercent, r.DoorAlertEnabled, r.MaxHumidity,
		r.MinTemperatureC, r.MaxTemperatureC, r.MaxShockG, r.MinBattery, r.Timestamp)
	if err != nil {
		return fmt.Errorf("insert cargo report: %w", err)
	}
	r.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("cargo report id: %w", err)
	}
	return nil
}

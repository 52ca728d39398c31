package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
)

// Sample is one accepted location datapoint bound for the locations table.
type Sample struct {
	DeviceID string
	Ts       string
	Lat      float64
	Lon      float64
	Accuracy *float64
	Source   string
}

// DeviceRow mirrors one devices-table row. Name, Type, and Firmware are
// nullable; a nil pointer round-trips as SQL NULL and JSON null.
type DeviceRow struct {
	ID       string  `json:"id"`
	Name     *string `json:"name"`
	Type     *string `json:"type"`
	Firmware *string `json:"firmware"`
}

// HistoryPoint is one stored sample as served by the history API.
type HistoryPoint struct {
	Ts  string  `json:"ts"`
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Store persists devices and location samples to PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a Store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// InsertSamples inserts location samples in a single transaction. Samples
// already present (same device_id and ts) are silently skipped via
// ON CONFLICT DO NOTHING. Returns the counts of newly inserted rows and
// skipped duplicates.
func (s *Store) InsertSamples(ctx context.Context, samples []Sample) (inserted, duplicates int, err error) {
	if len(samples) == 0 {
		return 0, 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, queryInsertLocation)
	if err != nil {
		return 0, 0, fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, sample := range samples {
		var ok bool
		err := stmt.QueryRowContext(ctx,
			sample.DeviceID,
			sample.Ts,
			sample.Lat,
			sample.Lon,
			nullFloatPtr(sample.Accuracy),
			nullStr(sample.Source),
		).Scan(&ok)

		switch {
		case err == sql.ErrNoRows:
			duplicates++
		case err != nil:
			return 0, 0, fmt.Errorf("insert sample %s@%s: %w", sample.DeviceID, sample.Ts, err)
		default:
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("commit: %w", err)
	}
	return inserted, duplicates, nil
}

// UpsertDevices refreshes the device inventory in a single transaction.
// Existing rows are updated in place, new ones inserted.
func (s *Store) UpsertDevices(ctx context.Context, devices []DeviceRow) error {
	if len(devices) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, queryUpsertDevice)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, d := range devices {
		if _, err := stmt.ExecContext(ctx, d.ID, d.Name, d.Type, d.Firmware); err != nil {
			return fmt.Errorf("upsert device %s: %w", d.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// LatestTimestamp returns the newest stored sample timestamp for a device.
// found is false when the device has no samples yet.
func (s *Store) LatestTimestamp(ctx context.Context, deviceID string) (ts string, found bool, err error) {
	err = s.db.QueryRowContext(ctx, queryLatestTimestamp, deviceID).Scan(&ts)
	switch {
	case err == sql.ErrNoRows:
		return "", false, nil
	case err != nil:
		return "", false, fmt.Errorf("latest timestamp: %w", err)
	}
	return ts, true, nil
}

// QueryHistory returns stored samples for a device, optionally bounded to a
// timestamp window. Both bounds are inclusive; an empty string leaves that
// side of the window open. asc=false returns newest first.
func (s *Store) QueryHistory(ctx context.Context, deviceID, start, end string, limit int, asc bool) ([]HistoryPoint, error) {
	var b strings.Builder
	b.WriteString(queryHistoryBase)
	args := []any{deviceID}

	if start != "" {
		args = append(args, start)
		b.WriteString(" AND ts >= $" + strconv.Itoa(len(args)))
	}
	if end != "" {
		args = append(args, end)
		b.WriteString(" AND ts <= $" + strconv.Itoa(len(args)))
	}
	if asc {
		b.WriteString(" ORDER BY ts ASC")
	} else {
		b.WriteString(" ORDER BY ts DESC")
	}
	args = append(args, limit)
	b.WriteString(" LIMIT $" + strconv.Itoa(len(args)))

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var points []HistoryPoint
	for rows.Next() {
		var p HistoryPoint
		if err := rows.Scan(&p.Ts, &p.Lat, &p.Lon); err != nil {
			return nil, fmt.Errorf("scan history point: %w", err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// ListDevices returns the known device inventory ordered by ID.
func (s *Store) ListDevices(ctx context.Context, limit int) ([]DeviceRow, error) {
	rows, err := s.db.QueryContext(ctx, queryListDevices, limit)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var devices []DeviceRow
	for rows.Next() {
		var d DeviceRow
		if err := rows.Scan(&d.ID, &d.Name, &d.Type, &d.Firmware); err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullFloatPtr(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

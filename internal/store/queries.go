// Package store persists the device inventory and location samples to
// PostgreSQL and serves the read queries for the map API.
package store

// SQL queries for the location store.
const (
	// queryInsertLocation inserts one location sample with the (device_id, ts)
	// primary key as the dedup key. ON CONFLICT DO NOTHING makes it
	// idempotent, so re-fetched points from overlapping poll windows are
	// silently skipped. RETURNING true lets us distinguish inserts from no-ops.
	queryInsertLocation = `
INSERT INTO locations (device_id, ts, lat, lon, accuracy, source)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (device_id, ts) DO NOTHING
RETURNING true`

	// queryUpsertDevice refreshes one inventory row in place.
	queryUpsertDevice = `
INSERT INTO devices (id, name, type, firmware)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE
SET name = excluded.name, type = excluded.type, firmware = excluded.firmware`

	// queryLatestTimestamp returns the newest stored sample timestamp for one
	// device. Timestamps are fixed-width ISO-8601 strings, so ORDER BY over
	// text is chronological.
	queryLatestTimestamp = `SELECT ts FROM locations WHERE device_id = $1 ORDER BY ts DESC LIMIT 1`

	// queryListDevices returns the known device inventory.
	queryListDevices = `SELECT id, name, type, firmware FROM devices ORDER BY id LIMIT $1`

	// queryHistoryBase selects samples for one device; QueryHistory appends
	// the optional window bounds, order, and limit.
	queryHistoryBase = `SELECT ts, lat, lon FROM locations WHERE device_id = $1`
)

// Package drmsim implements a small stand-in for the device-management
// platform: it serves the same inventory and stream endpoints, backed by a
// simulated fleet of devices performing a random walk around their seed
// positions. It exists so the map backend can be developed and exercised
// without platform credentials.
package drmsim

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"
)

// tsLayout is fixed width so generated timestamps sort the same way
// lexicographically and chronologically, like the platform's own.
const tsLayout = "2006-01-02T15:04:05.000Z"

// streamName is the only stream the simulator serves.
const streamName = "location"

// Device is one simulated fleet member. Lat and Lon hold its current
// position and drift as the walk advances.
type Device struct {
	ID        string
	Name      string
	Type      string
	Firmware  string
	Connected bool
	Lat       float64
	Lon       float64
}

// Point is one generated datapoint, shaped like the platform wire format.
type Point struct {
	Timestamp string          `json:"timestamp"`
	Value     json.RawMessage `json:"value"`
}

// Fleet owns the simulated devices and their generated location streams.
type Fleet struct {
	step    float64
	histCap int

	mu      sync.RWMutex
	order   []string
	devices map[string]*Device
	history map[string][]Point
	lastTs  string
	rng     *rand.Rand
}

// NewFleet creates a Fleet from seed devices. step is the maximum
// per-tick drift in degrees; histCap bounds each device's retained stream.
func NewFleet(devices []Device, step float64, histCap int) *Fleet {
	if step <= 0 {
		step = 0.0005
	}
	if histCap <= 0 {
		histCap = 10000
	}
	f := &Fleet{
		step:    step,
		histCap: histCap,
		devices: make(map[string]*Device, len(devices)),
		history: make(map[string][]Point, len(devices)),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, d := range devices {
		f.order = append(f.order, d.ID)
		f.devices[d.ID] = &d
	}
	return f
}

// Run advances the walk on every tick until ctx ends.
func (f *Fleet) Run(ctx context.Context, interval time.Duration) {
	slog.Info("fleet walk started", "devices", len(f.order), "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("fleet walk stopped")
			return
		case <-ticker.C:
			f.Advance(time.Now())
		}
	}
}

// Advance moves every connected device one random step and appends the new
// position to its stream. A tick whose timestamp would not be strictly
// newer than the previous one is skipped, keeping streams monotonic.
func (f *Fleet) Advance(now time.Time) {
	ts := now.UTC().Format(tsLayout)

	f.mu.Lock()
	defer f.mu.Unlock()

	if ts <= f.lastTs {
		return
	}
	f.lastTs = ts

	for _, id := range f.order {
		d := f.devices[id]
		if !d.Connected {
			continue
		}

		d.Lat = clamp(d.Lat+(f.rng.Float64()*2-1)*f.step, -85, 85)
		d.Lon = clamp(d.Lon+(f.rng.Float64()*2-1)*f.step, -180, 180)

		value := fmt.Sprintf(`{"lat": %.6f, "lon": %.6f}`, d.Lat, d.Lon)
		points := append(f.history[id], Point{Timestamp: ts, Value: json.RawMessage(value)})
		if len(points) > f.histCap {
			points = points[len(points)-f.histCap:]
		}
		f.history[id] = points
	}
}

// Devices returns a snapshot of the fleet in seed order.
func (f *Fleet) Devices() []Device {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]Device, 0, len(f.order))
	for _, id := range f.order {
		out = append(out, *f.devices[id])
	}
	return out
}

// Latest returns the newest datapoint of one device stream. ok is false for
// an unknown device, an unknown stream, or an empty stream.
func (f *Fleet) Latest(deviceID, stream string) (Point, bool) {
	if stream != streamName {
		return Point{}, false
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	points := f.history[deviceID]
	if _, known := f.devices[deviceID]; !known || len(points) == 0 {
		return Point{}, false
	}
	return points[len(points)-1], true
}

// History returns the datapoints of one device stream strictly after the
// given timestamp, oldest first, capped at size. ok is false for an unknown
// device or stream.
func (f *Fleet) History(deviceID, stream, after string, size int) ([]Point, bool) {
	if stream != streamName {
		return nil, false
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if _, known := f.devices[deviceID]; !known {
		return nil, false
	}

	var out []Point
	for _, p := range f.history[deviceID] {
		if after != "" && p.Timestamp <= after {
			continue
		}
		out = append(out, p)
		if size > 0 && len(out) == size {
			break
		}
	}
	return out, true
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

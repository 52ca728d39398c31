package drmsim

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// LoadSeedCSV parses a fleet seed file. Expected header (first row is
// skipped):
//
//	id, name, type, firmware, lat, lon
func LoadSeedCSV(path string) ([]Device, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open seed csv %q: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1

	// Read and discard the header row.
	if _, err := r.Read(); err != nil {
		return nil, fmt.Errorf("read seed header: %w", err)
	}

	var devices []Device
	lineNum := 1 // 1-based, header was line 1
	for {
		lineNum++
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("seed line %d: %w", lineNum, err)
		}
		if len(record) < 6 {
			return nil, fmt.Errorf("seed line %d: expected 6 fields, got %d", lineNum, len(record))
		}

		lat, err := strconv.ParseFloat(strings.TrimSpace(record[4]), 64)
		if err != nil {
			return nil, fmt.Errorf("seed line %d: bad lat: %w", lineNum, err)
		}
		lon, err := strconv.ParseFloat(strings.TrimSpace(record[5]), 64)
		if err != nil {
			return nil, fmt.Errorf("seed line %d: bad lon: %w", lineNum, err)
		}

		devices = append(devices, Device{
			ID:        strings.TrimSpace(record[0]),
			Name:      strings.TrimSpace(record[1]),
			Type:      strings.TrimSpace(record[2]),
			Firmware:  strings.TrimSpace(record[3]),
			Connected: true,
			Lat:       lat,
			Lon:       lon,
		})
	}

	if len(devices) == 0 {
		return nil, fmt.Errorf("seed csv %q contains no data rows", path)
	}
	return devices, nil
}

// DefaultFleet returns the built-in fleet used when no seed CSV is
// configured.
func DefaultFleet() []Device {
	return []Device{
		{ID: "00000000-00000000-00409DFF-FF111111", Name: "sim-van-1", Type: "ConnectCore 8X", Firmware: "3.0.1", Connected: true, Lat: 52.3702, Lon: 4.8952},
		{ID: "00000000-00000000-00409DFF-FF222222", Name: "sim-van-2", Type: "ConnectCore 8X", Firmware: "3.0.1", Connected: true, Lat: 51.9244, Lon: 4.4777},
		{ID: "00000000-00000000-00409DFF-FF333333", Name: "sim-truck-1", Type: "TX64", Firmware: "24.3.1", Connected: true, Lat: 52.0907, Lon: 5.1214},
		{ID: "00000000-00000000-00409DFF-FF444444", Name: "sim-depot-gw", Type: "IX20", Firmware: "22.11.8", Connected: false, Lat: 52.0116, Lon: 4.3571},
	}
}

package session

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"
)

// csvHeader is the column layout of a session CSV file.
var csvHeader = []string{
	"timestamp",
	"latitude", "longitude", "fix_quality", "satellites", "hdop", "altitude_m",
	"pitch_deg", "roll_deg", "heading_deg",
	"control_mode",
	"do_saturation_pct", "do_mgl", "temperature_c", "conductivity_uscm",
	"salinity_psu", "pressure_psia", "depth_m",
	"image_path", "image_bytes",
	"lidar_path", "lidar_points", "lidar_min_range_m", "lidar_min_bearing_deg",
}

// CSVSink appends snapshot rows to a CSV file. The header is written
// only when the file is new or empty, so a restarted session can keep
// appending to the same file.
type CSVSink struct {
	file   *os.File
	writer *csv.Writer
}

// NewCSVSink opens (or creates) the file for appending.
func NewCSVSink(path string) (*CSVSink, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening session file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("inspecting session file: %w", err)
	}

	sink := CSVSink{file: file, writer: csv.NewWriter(file)}
	if info.Size() == 0 {
		if err := sink.writer.Write(csvHeader); err != nil {
			_ = file.Close()
			return nil, fmt.Errorf("writing header: %w", err)
		}
		sink.writer.Flush()
		if err := sink.writer.Error(); err != nil {
			_ = file.Close()
			return nil, fmt.Errorf("writing header: %w", err)
		}
	}

	return &sink, nil
}

// Write appends one row and flushes it to disk.
func (s *CSVSink) Write(_ context.Context, row Row) error {
	record := make([]string, 0, len(csvHeader))
	record = append(record, row.At.Format(time.RFC3339))

	if p := row.Position; p != nil {
		record = append(record,
			ftoa(p.Latitude), ftoa(p.Longitude),
			strconv.Itoa(p.FixQuality), strconv.Itoa(p.Satellites),
			ftoa(p.HDOP), ftoa(p.Altitude))
	} else {
		record = append(record, "", "", "", "", "", "")
	}

	if a := row.Attitude; a != nil {
		record = append(record, ftoa(a.Pitch), ftoa(a.Roll), ftoa(a.Heading))
	} else {
		record = append(record, "", "", "")
	}

	if m := row.Mode; m != nil {
		record = append(record, m.Mode)
	} else {
		record = append(record, "")
	}

	if w := row.Water; w != nil {
		record = append(record,
			ftoa(w.DOSaturation), ftoa(w.DO), ftoa(w.Temperature),
			ftoa(w.Conductivity), ftoa(w.Salinity), ftoa(w.Pressure),
			ftoa(w.Depth))
	} else {
		record = append(record, "", "", "", "", "", "", "")
	}

	if img := row.Image; img != nil {
		record = append(record, img.Path, strconv.FormatInt(img.Bytes, 10))
	} else {
		record = append(record, "", "")
	}

	if l := row.Lidar; l != nil {
		record = append(record, l.Path, strconv.Itoa(l.Points),
			ftoa(l.MinRange), ftoa(l.MinBearing))
	} else {
		record = append(record, "", "", "", "")
	}

	if err := s.writer.Write(record); err != nil {
		return fmt.Errorf("writing row: %w", err)
	}
	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		return fmt.Errorf("flushing row: %w", err)
	}
	return nil
}

// Close flushes and closes the file.
func (s *CSVSink) Close() error {
	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		_ = s.file.Close()
		return fmt.Errorf("flushing session file: %w", err)
	}
	return s.file.Close()
}

func ftoa(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

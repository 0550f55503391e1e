package telemetry

import (
	"fmt"
	"strconv"
	"time"

	"github.com/open-asv/surveyor/internal/nmea"
)

// Decode converts a frame into its typed record. Frames from unknown
// talkers come back as Raw; command/ack talkers that carry no sensor data
// (PSEAC, PSEAR, OIWPL, PSEAK, PSEAE) are not records and yield an error.
func Decode(f nmea.Frame, source string, at time.Time) (Record, error) {
	m := meta{source: source, at: at}

	switch f.Talker {
	case nmea.TalkerGGA:
		return decodePosition(f, m)
	case nmea.TalkerAttitude:
		return decodeAttitude(f, m)
	case nmea.TalkerControlMode:
		code := f.Field(0)
		return ControlMode{meta: m, Code: code, Mode: ModeName(code)}, nil
	case nmea.TalkerWaterQual:
		return decodeWaterQuality(f, m)
	case nmea.TalkerImage:
		return decodeImage(f, m)
	case nmea.TalkerLidar:
		return decodeLidar(f, m)
	case nmea.TalkerCommand, nmea.TalkerThrottle, nmea.TalkerWaypoint,
		nmea.TalkerAck, nmea.TalkerNak:
		return nil, fmt.Errorf("%s is a command frame, not telemetry", f.Talker)
	default:
		return Raw{meta: m, Frame: f}, nil
	}
}

// field parses a float field, treating an empty field as zero. The control
// unit blanks fields it has no reading for (heading while tumbling, heave
// without an RTK fix) rather than omitting them.
func field(f nmea.Frame, i int) (float64, error) {
	s := f.Field(i)
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("field %d of %s: %w", i, f.Talker, err)
	}
	return v, nil
}

func decodePosition(f nmea.Frame, m meta) (Record, error) {
	lat, err := nmea.ParseDegreesMinutes(f.Field(1), f.Field(2))
	if err != nil {
		return nil, fmt.Errorf("decoding %s latitude: %w", f.Talker, err)
	}
	lon, err := nmea.ParseDegreesMinutes(f.Field(3), f.Field(4))
	if err != nil {
		return nil, fmt.Errorf("decoding %s longitude: %w", f.Talker, err)
	}

	fix, _ := strconv.Atoi(f.Field(5))
	sats, _ := strconv.Atoi(f.Field(6))
	hdop, err := field(f, 7)
	if err != nil {
		return nil, err
	}
	alt, err := field(f, 8)
	if err != nil {
		return nil, err
	}

	return Position{
		meta:       m,
		Latitude:   lat,
		Longitude:  lon,
		FixQuality: fix,
		Satellites: sats,
		HDOP:       hdop,
		Altitude:   alt,
	}, nil
}

func decodeAttitude(f nmea.Frame, m meta) (Record, error) {
	var a Attitude
	a.meta = m

	for _, part := range []struct {
		dst *float64
		idx int
	}{
		{&a.Pitch, 0},
		{&a.Roll, 1},
		{&a.Heading, 2},
		{&a.Heave, 3},
		{&a.AccelX, 5},
		{&a.AccelY, 6},
		{&a.AccelZ, 7},
		{&a.YawRate, 8},
	} {
		v, err := field(f, part.idx)
		if err != nil {
			return nil, err
		}
		*part.dst = v
	}
	return a, nil
}

func decodeWaterQuality(f nmea.Frame, m meta) (Record, error) {
	// The probe may prefix its reading with its own date and time fields;
	// skip them so both bare and timestamped replies decode.
	offset := 0
	if len(f.Fields) >= 9 {
		offset = 2
	}

	var w WaterQuality
	w.meta = m

	for i, dst := range []*float64{
		&w.DOSaturation, &w.DO, &w.Temperature,
		&w.Conductivity, &w.Salinity, &w.Pressure, &w.Depth,
	} {
		if offset+i >= len(f.Fields) {
			break
		}
		v, err := field(f, offset+i)
		if err != nil {
			return nil, err
		}
		*dst = v
	}
	return w, nil
}

func decodeImage(f nmea.Frame, m meta) (Record, error) {
	seq, err := strconv.ParseInt(f.Field(1), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("decoding %s sequence: %w", f.Talker, err)
	}
	size, err := strconv.ParseInt(f.Field(3), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("decoding %s size: %w", f.Talker, err)
	}
	if ts, err := strconv.ParseInt(f.Field(0), 10, 64); err == nil {
		m.at = time.Unix(ts, 0).UTC()
	}
	return Image{meta: m, Sequence: seq, Path: f.Field(2), Bytes: size}, nil
}

func decodeLidar(f nmea.Frame, m meta) (Record, error) {
	seq, err := strconv.ParseInt(f.Field(1), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("decoding %s sequence: %w", f.Talker, err)
	}
	points, err := strconv.Atoi(f.Field(3))
	if err != nil {
		return nil, fmt.Errorf("decoding %s point count: %w", f.Talker, err)
	}
	minRange, err := field(f, 4)
	if err != nil {
		return nil, err
	}
	minBearing, err := field(f, 5)
	if err != nil {
		return nil, err
	}
	if ts, err := strconv.ParseInt(f.Field(0), 10, 64); err == nil {
		m.at = time.Unix(ts, 0).UTC()
	}
	return LidarScan{
		meta:       m,
		Sequence:   seq,
		Path:       f.Field(2),
		Points:     points,
		MinRange:   minRange,
		MinBearing: minBearing,
	}, nil
}

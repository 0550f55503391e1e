package nmea

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// LatToDegreesMinutes renders a decimal-degree latitude in the ddmm.mmmm
// form the control unit expects in OIWPL sentences.
func LatToDegreesMinutes(deg float64) string {
	d := int(math.Abs(deg))
	m := (math.Abs(deg) - float64(d)) * 60
	return fmt.Sprintf("%02d%07.4f", d, m)
}

// LonToDegreesMinutes renders a decimal-degree longitude as dddmm.mmmm.
func LonToDegreesMinutes(deg float64) string {
	d := int(math.Abs(deg))
	m := (math.Abs(deg) - float64(d)) * 60
	return fmt.Sprintf("%03d%07.4f", d, m)
}

// LatHemisphere returns "N" for non-negative latitudes, "S" otherwise.
func LatHemisphere(deg float64) string {
	if deg >= 0 {
		return "N"
	}
	return "S"
}

// LonHemisphere returns "E" for non-negative longitudes, "W" otherwise.
func LonHemisphere(deg float64) string {
	if deg >= 0 {
		return "E"
	}
	return "W"
}

// ParseDegreesMinutes converts a ddmm.mmmm (or dddmm.mmmm) value plus its
// hemisphere letter back to signed decimal degrees.
func ParseDegreesMinutes(value, hemisphere string) (float64, error) {
	value = strings.TrimSpace(value)
	dot := strings.IndexByte(value, '.')
	if dot < 0 {
		dot = len(value)
	}
	if dot < 3 {
		return 0, fmt.Errorf("degrees-minutes value %q too short", value)
	}

	deg, err := strconv.ParseFloat(value[:dot-2], 64)
	if err != nil {
		return 0, fmt.Errorf("parsing degrees of %q: %w", value, err)
	}
	mins, err := strconv.ParseFloat(value[dot-2:], 64)
	if err != nil {
		return 0, fmt.Errorf("parsing minutes of %q: %w", value, err)
	}

	out := deg + mins/60
	switch strings.ToUpper(hemisphere) {
	case "S", "W":
		out = -out
	}
	return out, nil
}

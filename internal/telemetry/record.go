// Package telemetry defines the typed sensor records decoded from wire
// frames. Each record variant carries the capture timestamp and the source
// it was decoded from; records are immutable once created and replaced, not
// mutated, on each new arrival.
package telemetry

import (
	"time"

	"github.com/open-asv/surveyor/internal/nmea"
)

// Kind discriminates record variants.
type Kind string

const (
	KindPosition     Kind = "position"
	KindAttitude     Kind = "attitude"
	KindControlMode  Kind = "control_mode"
	KindWaterQuality Kind = "water_quality"
	KindImage        Kind = "image"
	KindLidar        Kind = "lidar"
	KindRaw          Kind = "raw"
)

// Record is one decoded, timestamped sensor snapshot.
type Record interface {
	Kind() Kind
	Source() string
	Time() time.Time
}

// meta carries the fields common to every variant.
type meta struct {
	source string
	at     time.Time
}

func (m meta) Source() string  { return m.source }
func (m meta) Time() time.Time { return m.at }

// Position is a GPS fix from a GPGGA sentence.
type Position struct {
	meta
	Latitude   float64
	Longitude  float64
	FixQuality int
	Satellites int
	HDOP       float64
	Altitude   float64 // meters above mean sea level
}

func (Position) Kind() Kind { return KindPosition }

// Attitude is the vehicle attitude from a PSEAA sentence.
type Attitude struct {
	meta
	Pitch   float64 // degrees
	Roll    float64 // degrees
	Heading float64 // degrees true
	Heave   float64 // meters
	AccelX  float64 // g
	AccelY  float64 // g
	AccelZ  float64 // g
	YawRate float64 // degrees/second
}

func (Attitude) Kind() Kind { return KindAttitude }

// ControlMode is the active control mode reported in a PSEAD sentence.
type ControlMode struct {
	meta
	Code string // single-letter wire code
	Mode string // human-readable mode name
}

func (ControlMode) Kind() Kind { return KindControlMode }

// WaterQuality is one multiparameter probe reading from an EXO sentence.
type WaterQuality struct {
	meta
	DOSaturation float64 // dissolved oxygen, % saturation
	DO           float64 // dissolved oxygen, mg/l
	Temperature  float64 // celsius
	Conductivity float64 // microsiemens/cm
	Salinity     float64 // psu
	Pressure     float64 // psi absolute
	Depth        float64 // meters
}

func (WaterQuality) Kind() Kind { return KindWaterQuality }

// Image references one spooled camera capture from a CAMIMG sentence.
type Image struct {
	meta
	Sequence int64
	Path     string
	Bytes    int64
}

func (Image) Kind() Kind { return KindImage }

// LidarScan references one spooled lidar sweep from a LIDAR sentence.
// The sentence carries only a summary; the full range vector lives in
// the spooled JSON file.
type LidarScan struct {
	meta
	Sequence   int64
	Path       string
	Points     int     // range samples in the sweep
	MinRange   float64 // meters, nearest return; 0 when the sweep saw nothing
	MinBearing float64 // degrees, bearing of the nearest return
}

func (LidarScan) Kind() Kind { return KindLidar }

// Raw is an undecoded frame from an unknown talker, passed through so
// clients can handle vendor extensions themselves.
type Raw struct {
	meta
	Frame nmea.Frame
}

func (Raw) Kind() Kind { return KindRaw }

// controlModes is the control unit's mode table.
var controlModes = map[string]string{
	"L": "Standby",
	"T": "Thruster",
	"C": "Heading",
	"G": "Speed",
	"R": "Station Keep",
	"N": "River Nav",
	"W": "Waypoint",
	"I": "Autopilot",
	"3": "Compass Cal",
	"H": "Go To ERP",
	"D": "Depth",
	"S": "Gravity Vector Direction",
	"F": "File Download",
	"!": "Boot Loader",
}

// ModeName maps a PSEAD/PSEAC mode code to its name, "Unknown" otherwise.
func ModeName(code string) string {
	if name, ok := controlModes[code]; ok {
		return name
	}
	return "Unknown"
}

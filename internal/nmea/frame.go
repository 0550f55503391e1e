// Package nmea implements the line-oriented sentence protocol spoken by the
// vehicle control unit and the sensor broadcast servers. A sentence has the
// form
//
//	$<TALKER>,<field>,<field>,...*<CHECKSUM>\r\n
//
// where the checksum is the XOR of every byte between '$' and '*', rendered
// as two upper-case hex digits.
package nmea

import (
	"fmt"
	"strings"
)

// Talker identifiers used by the surveyor protocol.
const (
	TalkerGGA         = "GPGGA"  // GPS fix data
	TalkerAttitude    = "PSEAA"  // pitch, roll, heading, heave, accelerations
	TalkerControlMode = "PSEAD"  // active control mode report
	TalkerCommand     = "PSEAC"  // control mode command
	TalkerThrottle    = "PSEAR"  // waypoint mission throttle
	TalkerWaypoint    = "OIWPL"  // waypoint definition
	TalkerAck         = "PSEAK"  // command acknowledgement
	TalkerNak         = "PSEAE"  // command rejection with reason
	TalkerWaterQual   = "EXO"    // multiparameter probe reading
	TalkerImage       = "CAMIMG" // camera capture reference
	TalkerLidar       = "LIDAR"  // lidar sweep reference
)

// minFields is the expected minimum field count per known talker. Sentences
// from an unknown talker are passed through undecoded, but a known talker
// with fewer fields than its schema is malformed.
var minFields = map[string]int{
	TalkerGGA:         14,
	TalkerAttitude:    9,
	TalkerControlMode: 1,
	TalkerCommand:     4,
	TalkerThrottle:    5,
	TalkerWaypoint:    5,
	TalkerAck:         2,
	TalkerNak:         2,
	TalkerWaterQual:   3,
	TalkerImage:       4,
	TalkerLidar:       4,
}

// Frame is one decoded sentence: a talker identifier and its ordered fields.
// The checksum is not retained; Encode recomputes it.
type Frame struct {
	Talker string
	Fields []string
}

// NewFrame builds a frame from a talker and its fields.
func NewFrame(talker string, fields ...string) Frame {
	return Frame{Talker: talker, Fields: fields}
}

// Known reports whether the talker is part of the surveyor protocol schema.
// Unknown talkers are still valid frames; clients see them as raw records.
func (f Frame) Known() bool {
	_, ok := minFields[f.Talker]
	return ok
}

// Field returns the i-th field, or an empty string when the frame is shorter.
func (f Frame) Field(i int) string {
	if i < 0 || i >= len(f.Fields) {
		return ""
	}
	return f.Fields[i]
}

// Body renders the talker and fields without the sentinel, checksum or CRLF.
func (f Frame) Body() string {
	if len(f.Fields) == 0 {
		return f.Talker
	}
	return f.Talker + "," + strings.Join(f.Fields, ",")
}

func (f Frame) String() string {
	return string(Encode(f))
}

// MalformedFrameError reports a sentence that failed to decode. It wraps
// ErrMalformedFrame so callers can test with errors.Is.
type MalformedFrameError struct {
	Reason string
	Line   string
}

func (e *MalformedFrameError) Error() string {
	return fmt.Sprintf("malformed frame %q: %s", e.Line, e.Reason)
}

func (e *MalformedFrameError) Unwrap() error { return ErrMalformedFrame }

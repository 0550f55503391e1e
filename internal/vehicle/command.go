package vehicle

import (
	"fmt"

	"github.com/open-asv/surveyor/internal/nmea"
)

// Control mode codes accepted by the PSEAC command sentence.
const (
	ModeStandby      = "L" // thrusters idle
	ModeThruster     = "T" // direct thrust and differential
	ModeHeading      = "C" // hold compass heading
	ModeWaypoint     = "W" // follow uploaded waypoint list
	ModeStationKeep  = "R" // hold current position
	ModeGoToERP      = "H" // return to the emergency recovery point
	ModeFileDownload = "F" // waypoint list upload framing
)

// Command is a single outbound control sentence.
type Command struct {
	frame nmea.Frame
}

// Talker reports the sentence type the command encodes.
func (c Command) Talker() string { return c.frame.Talker }

// modeCommand builds the common PSEAC shape. The trailing empty field is
// part of the vendor format.
func modeCommand(mode string, arg1, arg2, arg3 int) Command {
	return Command{frame: nmea.Frame{
		Talker: nmea.TalkerCommand,
		Fields: []string{mode, itoa(arg1), itoa(arg2), itoa(arg3), ""},
	}}
}

// Standby idles the thrusters.
func Standby() Command {
	return modeCommand(ModeStandby, 0, 0, 0)
}

// Thruster commands direct thrust with differential steering. Thrust and
// differential are percentages in [-100, 100].
func Thruster(thrust, differential int) (Command, error) {
	if thrust < -100 || thrust > 100 {
		return Command{}, fmt.Errorf("thrust %d out of range [-100, 100]", thrust)
	}
	if differential < -100 || differential > 100 {
		return Command{}, fmt.Errorf("differential %d out of range [-100, 100]", differential)
	}
	return modeCommand(ModeThruster, 0, thrust, differential), nil
}

// Heading holds a compass course at the given thrust percentage. The
// control unit reads the course from the first parameter field and the
// thrust from the second; the remaining fields stay blank.
func Heading(thrust, degrees int) (Command, error) {
	if thrust < -100 || thrust > 100 {
		return Command{}, fmt.Errorf("thrust %d out of range [-100, 100]", thrust)
	}
	if degrees < 0 || degrees > 360 {
		return Command{}, fmt.Errorf("heading %d out of range [0, 360]", degrees)
	}
	return Command{frame: nmea.Frame{
		Talker: nmea.TalkerCommand,
		Fields: []string{ModeHeading, itoa(degrees), itoa(thrust), "", ""},
	}}, nil
}

// StationKeep holds the current position. The mode takes no parameters
// and the control unit expects the fields blank, not zeroed.
func StationKeep() Command {
	return Command{frame: nmea.Frame{
		Talker: nmea.TalkerCommand,
		Fields: []string{ModeStationKeep, "", "", "", ""},
	}}
}

// WaypointMode starts following the uploaded waypoint list.
func WaypointMode() Command {
	return modeCommand(ModeWaypoint, 0, 0, 0)
}

// GoToERP navigates back to the emergency recovery point.
func GoToERP() Command {
	return modeCommand(ModeGoToERP, 0, 0, 0)
}

// beginUpload opens file download mode for n sentences.
func beginUpload(n int) nmea.Frame {
	return nmea.Frame{
		Talker: nmea.TalkerCommand,
		Fields: []string{ModeFileDownload, itoa(n), "000", "000", ""},
	}
}

// endUpload closes file download mode. Unlike the begin frame it carries
// no trailing empty field.
func endUpload() nmea.Frame {
	return nmea.Frame{
		Talker: nmea.TalkerCommand,
		Fields: []string{ModeFileDownload, "000", "000", "000"},
	}
}

// throttleFrame sets the mission cruise throttle percentage.
func throttleFrame(throttle int) nmea.Frame {
	return nmea.Frame{
		Talker: nmea.TalkerThrottle,
		Fields: []string{"0", "000", itoa(throttle), "0", "000"},
	}
}

// waypointFrame encodes one OIWPL waypoint definition. Number 0 is
// reserved for the emergency recovery point.
func waypointFrame(wp Waypoint, number int) nmea.Frame {
	return nmea.Frame{
		Talker: nmea.TalkerWaypoint,
		Fields: []string{
			nmea.LatToDegreesMinutes(wp.Lat),
			nmea.LatHemisphere(wp.Lat),
			nmea.LonToDegreesMinutes(wp.Lon),
			nmea.LonHemisphere(wp.Lon),
			itoa(number),
		},
	}
}

func itoa(v int) string {
	return fmt.Sprintf("%d", v)
}

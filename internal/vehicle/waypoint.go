package vehicle

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/open-asv/surveyor/internal/nmea"
)

const earthRadiusMeters = 6371000

// Waypoint is a navigation target in decimal degrees.
type Waypoint struct {
	Lat float64 `yaml:"lat"`
	Lon float64 `yaml:"lon"`
}

// Mission is an ordered waypoint list with its recovery point and cruise
// throttle. The control unit steers to the emergency recovery point on
// link loss or a GoToERP command, so every mission carries one.
type Mission struct {
	Recovery  Waypoint   `yaml:"recovery"`
	Waypoints []Waypoint `yaml:"waypoints"`
	Throttle  int        `yaml:"throttle"`
}

func (m Mission) validate() error {
	if len(m.Waypoints) == 0 {
		return errors.New("mission has no waypoints")
	}
	if m.Throttle < 0 || m.Throttle > 100 {
		return fmt.Errorf("throttle %d out of range [0, 100]", m.Throttle)
	}
	return nil
}

// UploadMission transfers the waypoint list using the control unit's file
// download framing: an opening PSEAC/F announcing the sentence count, the
// throttle sentence, the recovery point as waypoint 0, the mission
// waypoints numbered from 1, and a closing PSEAC/F. The transfer is
// unacknowledged.
func (ch *Channel) UploadMission(ctx context.Context, m Mission) error {
	if err := m.validate(); err != nil {
		return fmt.Errorf("invalid mission: %w", err)
	}

	// Sentence count covers the throttle line, the recovery point and
	// the waypoints, not the framing itself.
	count := len(m.Waypoints) + 2

	frames := []nmea.Frame{beginUpload(count), throttleFrame(m.Throttle), waypointFrame(m.Recovery, 0)}
	for i, wp := range m.Waypoints {
		frames = append(frames, waypointFrame(wp, i+1))
	}
	frames = append(frames, endUpload())

	for _, frame := range frames {
		if err := ch.Raw(frame); err != nil {
			return fmt.Errorf("uploading mission: %w", err)
		}

		select {
		case <-time.After(interFrameDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	ch.logger.Info("mission uploaded",
		"waypoints", len(m.Waypoints),
		"throttle", m.Throttle)

	return nil
}

// GoToWaypoint uploads a single-waypoint mission and engages waypoint
// mode, re-issuing the mode command until the vehicle either reports
// waypoint mode or closes within toleranceMeters of the target. Returns
// when either condition holds or the context is cancelled.
func (ch *Channel) GoToWaypoint(ctx context.Context, wp Waypoint, recovery Waypoint, throttle int, toleranceMeters float64) error {
	mission := Mission{Recovery: recovery, Waypoints: []Waypoint{wp}, Throttle: throttle}
	if err := ch.UploadMission(ctx, mission); err != nil {
		return err
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		if mode, ok := ch.ControlMode(); ok && mode.Code == ModeWaypoint {
			return nil
		}
		if pos, ok := ch.Position(); ok {
			if Distance(Waypoint{Lat: pos.Latitude, Lon: pos.Longitude}, wp) <= toleranceMeters {
				return nil
			}
		}

		if err := ch.Raw(WaypointMode().frame); err != nil {
			return fmt.Errorf("engaging waypoint mode: %w", err)
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Distance returns the haversine great-circle distance in meters.
func Distance(a, b Waypoint) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)

	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(h))
}

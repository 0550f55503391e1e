package session

import (
	_ "embed"
)

const (
	insertSessionSQL = `
INSERT INTO sessions (
                      start_time,
                      vessel_id,
                      config)
VALUES (CURRENT_TIMESTAMP, ?, ?)`

	selectSessionSQL = `
SELECT
    id,
    start_time,
    vessel_id,
    config
FROM sessions
WHERE
    id = ?`

	selectSessionsSQL = `
SELECT
    id,
    start_time,
    vessel_id,
    config
FROM sessions`

	insertObservationSQL = `
INSERT INTO observations (session_id,
                          timestamp,
                          latitude,
                          longitude,
                          fix_quality,
                          satellites,
                          hdop,
                          altitude,
                          pitch,
                          roll,
                          heading,
                          control_mode,
                          do_saturation,
                          do_mgl,
                          temperature,
                          conductivity,
                          salinity,
                          pressure,
                          depth,
                          image_path,
                          image_bytes,
                          lidar_path,
                          lidar_points,
                          lidar_min_range,
                          lidar_min_bearing)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	selectObservationsSQL = `
SELECT
    timestamp,
    latitude,
    longitude,
    fix_quality,
    satellites,
    hdop,
    altitude,
    pitch,
    roll,
    heading,
    control_mode,
    do_saturation,
    do_mgl,
    temperature,
    conductivity,
    salinity,
    pressure,
    depth,
    image_path,
    image_bytes,
    lidar_path,
    lidar_points,
    lidar_min_range,
    lidar_min_bearing
FROM observations
WHERE
    session_id = ?
ORDER BY timestamp`

	initIndexesSQL = `
CREATE INDEX IF NOT EXISTS idx_observations_session ON observations (session_id, timestamp)`
)

//go:embed schema.sql
var initSchemaSQL string

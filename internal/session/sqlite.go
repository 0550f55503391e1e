package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/open-asv/surveyor/internal/telemetry"
)

// Session is one recorded survey run.
type Session struct {
	ID        int64
	StartTime time.Time
	VesselID  string
	Config    *string
}

// Store handles sqlite database operations. Writes and reads use
// separate connections so post-run analysis can read a database that is
// still being appended to.
type Store struct {
	dbPath string

	writeDB     *sql.DB
	writeDBOnce sync.Once
	writeDBErr  error

	readDB     *sql.DB
	readDBOnce sync.Once
	readDBErr  error

	closeOnce sync.Once
	closeErr  error
}

// NewStore creates a store over the sqlite database at dbPath. The
// schema is initialized on first write.
func NewStore(dbPath string) *Store {
	return &Store{dbPath: dbPath}
}

func runSQLCommand(db *sql.DB, sql string) error {
	_, err := db.Exec(sql)
	return err
}

func (s *Store) getWriteDB() (*sql.DB, error) {
	s.writeDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "_journal_mode=WAL&_synchronous=NORMAL"))
		if err != nil {
			s.writeDBErr = fmt.Errorf("opening write connection: %w", err)
			return
		}

		if err = runSQLCommand(db, initSchemaSQL); err != nil {
			_ = db.Close()
			s.writeDBErr = fmt.Errorf("initializing schema: %w", err)
			return
		}

		s.writeDB = db
	})

	return s.writeDB, s.writeDBErr
}

func (s *Store) getReadDB() (*sql.DB, error) {
	s.readDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "mode=ro"))
		if err != nil {
			s.readDBErr = fmt.Errorf("opening read connection: %w", err)
			return
		}
		s.readDB = db
	})

	return s.readDB, s.readDBErr
}

// CreateSession registers a new survey run and returns its identifier.
// The configuration, if given, is stored alongside for later review.
func (s *Store) CreateSession(ctx context.Context, vesselID string, config any) (sessionID int64, err error) {
	var configData sql.NullString

	if config != nil {
		switch v := config.(type) {
		case string:
			configData.Valid = true
			configData.String = v

		case []byte:
			configData.Valid = true
			configData.String = string(v)

		default:
			var p []byte
			if p, err = json.Marshal(config); err != nil {
				err = fmt.Errorf("marshaling config: %w", err)
				return
			}

			configData.Valid = true
			configData.String = string(p)
		}
	}

	db, err := s.getWriteDB()
	if err != nil {
		err = fmt.Errorf("getting write connection: %w", err)
		return
	}

	stmt, err := db.PrepareContext(ctx, insertSessionSQL)
	if err != nil {
		err = fmt.Errorf("preparing statement: %w", err)
		return
	}
	defer closeWithError(stmt, &err)

	result, err := stmt.ExecContext(ctx, vesselID, configData)
	if err != nil {
		err = fmt.Errorf("inserting session: %w", err)
		return
	}

	sessionID, err = result.LastInsertId()
	if err != nil {
		err = fmt.Errorf("getting session ID: %w", err)
	}
	return
}

// Session returns one recorded run by identifier.
func (s *Store) Session(ctx context.Context, id int64) (session *Session, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	stmt, err := db.PrepareContext(ctx, selectSessionSQL)
	if err != nil {
		err = fmt.Errorf("preparing statement: %w", err)
		return
	}
	defer closeWithError(stmt, &err)

	var sess Session
	var config sql.NullString
	if err = stmt.QueryRowContext(ctx, id).Scan(&sess.ID, &sess.StartTime, &sess.VesselID, &config); err != nil {
		err = fmt.Errorf("scanning session: %w", err)
		return
	}
	if config.Valid {
		sess.Config = &config.String
	}

	return &sess, nil
}

// Sessions lists all recorded runs.
func (s *Store) Sessions(ctx context.Context) (sessions []*Session, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	rows, err := db.QueryContext(ctx, selectSessionsSQL)
	if err != nil {
		err = fmt.Errorf("querying sessions: %w", err)
		return
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var sess Session
		var config sql.NullString
		if err = rows.Scan(&sess.ID, &sess.StartTime, &sess.VesselID, &config); err != nil {
			err = fmt.Errorf("scanning session: %w", err)
			return
		}
		if config.Valid {
			sess.Config = &config.String
		}
		sessions = append(sessions, &sess)
	}
	return
}

// StoreRow appends one snapshot to the run.
func (s *Store) StoreRow(ctx context.Context, sessionID int64, row Row) (err error) {
	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	stmt, err := db.PrepareContext(ctx, insertObservationSQL)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	data := toObservationData(sessionID, row)

	if _, err = stmt.ExecContext(
		ctx,
		data.SessionID,
		data.Timestamp,
		data.Latitude,
		data.Longitude,
		data.FixQuality,
		data.Satellites,
		data.HDOP,
		data.Altitude,
		data.Pitch,
		data.Roll,
		data.Heading,
		data.ControlMode,
		data.DOSaturation,
		data.DO,
		data.Temperature,
		data.Conductivity,
		data.Salinity,
		data.Pressure,
		data.Depth,
		data.ImagePath,
		data.ImageBytes,
		data.LidarPath,
		data.LidarPoints,
		data.LidarMinRange,
		data.LidarMinBearing,
	); err != nil {
		return fmt.Errorf("inserting observation: %w", err)
	}
	return nil
}

// Observations returns the run's snapshots in time order.
func (s *Store) Observations(ctx context.Context, sessionID int64) (result []Row, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	rows, err := db.QueryContext(ctx, selectObservationsSQL, sessionID)
	if err != nil {
		err = fmt.Errorf("querying observations: %w", err)
		return
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var data observationData
		if err = rows.Scan(
			&data.Timestamp,
			&data.Latitude,
			&data.Longitude,
			&data.FixQuality,
			&data.Satellites,
			&data.HDOP,
			&data.Altitude,
			&data.Pitch,
			&data.Roll,
			&data.Heading,
			&data.ControlMode,
			&data.DOSaturation,
			&data.DO,
			&data.Temperature,
			&data.Conductivity,
			&data.Salinity,
			&data.Pressure,
			&data.Depth,
			&data.ImagePath,
			&data.ImageBytes,
			&data.LidarPath,
			&data.LidarPoints,
			&data.LidarMinRange,
			&data.LidarMinBearing,
		); err != nil {
			err = fmt.Errorf("scanning observation: %w", err)
			return
		}
		result = append(result, fromObservationData(data))
	}
	return
}

// Close flushes indexes and closes both connections.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		var writeErr, readErr error

		if s.writeDB != nil {
			_ = runSQLCommand(s.writeDB, initIndexesSQL)

			writeErr = s.writeDB.Close()
			s.writeDB = nil
		}

		if s.readDB != nil {
			readErr = s.readDB.Close()
			s.readDB = nil
		}

		switch {
		case writeErr != nil && readErr != nil:
			s.closeErr = errors.Join(writeErr, readErr)
		case writeErr != nil:
			s.closeErr = writeErr
		case readErr != nil:
			s.closeErr = readErr
		}
	})

	return s.closeErr
}

// SQLiteSink binds a store to one session so it satisfies Sink.
type SQLiteSink struct {
	store     *Store
	sessionID int64
}

// NewSQLiteSink creates the session in the store and returns a sink
// appending to it.
func NewSQLiteSink(ctx context.Context, store *Store, vesselID string, config any) (*SQLiteSink, error) {
	sessionID, err := store.CreateSession(ctx, vesselID, config)
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	return &SQLiteSink{store: store, sessionID: sessionID}, nil
}

// SessionID returns the identifier of the run this sink appends to.
func (s *SQLiteSink) SessionID() int64 { return s.sessionID }

func (s *SQLiteSink) Write(ctx context.Context, row Row) error {
	return s.store.StoreRow(ctx, s.sessionID, row)
}

// Close closes the underlying store.
func (s *SQLiteSink) Close() error {
	return s.store.Close()
}

// observationData is the observations table row with nullable columns.
type observationData struct {
	SessionID int64
	Timestamp time.Time

	Latitude   sql.NullFloat64
	Longitude  sql.NullFloat64
	FixQuality sql.NullInt64
	Satellites sql.NullInt64
	HDOP       sql.NullFloat64
	Altitude   sql.NullFloat64

	Pitch   sql.NullFloat64
	Roll    sql.NullFloat64
	Heading sql.NullFloat64

	ControlMode sql.NullString

	DOSaturation sql.NullFloat64
	DO           sql.NullFloat64
	Temperature  sql.NullFloat64
	Conductivity sql.NullFloat64
	Salinity     sql.NullFloat64
	Pressure     sql.NullFloat64
	Depth        sql.NullFloat64

	ImagePath  sql.NullString
	ImageBytes sql.NullInt64

	LidarPath       sql.NullString
	LidarPoints     sql.NullInt64
	LidarMinRange   sql.NullFloat64
	LidarMinBearing sql.NullFloat64
}

func toObservationData(sessionID int64, row Row) *observationData {
	data := observationData{
		SessionID: sessionID,
		Timestamp: row.At.UTC(),
	}

	if p := row.Position; p != nil {
		data.Latitude = sql.NullFloat64{Float64: p.Latitude, Valid: true}
		data.Longitude = sql.NullFloat64{Float64: p.Longitude, Valid: true}
		data.FixQuality = sql.NullInt64{Int64: int64(p.FixQuality), Valid: true}
		data.Satellites = sql.NullInt64{Int64: int64(p.Satellites), Valid: true}
		data.HDOP = sql.NullFloat64{Float64: p.HDOP, Valid: true}
		data.Altitude = sql.NullFloat64{Float64: p.Altitude, Valid: true}
	}

	if a := row.Attitude; a != nil {
		data.Pitch = sql.NullFloat64{Float64: a.Pitch, Valid: true}
		data.Roll = sql.NullFloat64{Float64: a.Roll, Valid: true}
		data.Heading = sql.NullFloat64{Float64: a.Heading, Valid: true}
	}

	if m := row.Mode; m != nil {
		data.ControlMode = sql.NullString{String: m.Code, Valid: true}
	}

	if w := row.Water; w != nil {
		data.DOSaturation = sql.NullFloat64{Float64: w.DOSaturation, Valid: true}
		data.DO = sql.NullFloat64{Float64: w.DO, Valid: true}
		data.Temperature = sql.NullFloat64{Float64: w.Temperature, Valid: true}
		data.Conductivity = sql.NullFloat64{Float64: w.Conductivity, Valid: true}
		data.Salinity = sql.NullFloat64{Float64: w.Salinity, Valid: true}
		data.Pressure = sql.NullFloat64{Float64: w.Pressure, Valid: true}
		data.Depth = sql.NullFloat64{Float64: w.Depth, Valid: true}
	}

	if img := row.Image; img != nil {
		data.ImagePath = sql.NullString{String: img.Path, Valid: true}
		data.ImageBytes = sql.NullInt64{Int64: img.Bytes, Valid: true}
	}

	if l := row.Lidar; l != nil {
		data.LidarPath = sql.NullString{String: l.Path, Valid: true}
		data.LidarPoints = sql.NullInt64{Int64: int64(l.Points), Valid: true}
		data.LidarMinRange = sql.NullFloat64{Float64: l.MinRange, Valid: true}
		data.LidarMinBearing = sql.NullFloat64{Float64: l.MinBearing, Valid: true}
	}

	return &data
}

func fromObservationData(data observationData) Row {
	row := Row{At: data.Timestamp}

	if data.Latitude.Valid {
		row.Position = &telemetry.Position{
			Latitude:   data.Latitude.Float64,
			Longitude:  data.Longitude.Float64,
			FixQuality: int(data.FixQuality.Int64),
			Satellites: int(data.Satellites.Int64),
			HDOP:       data.HDOP.Float64,
			Altitude:   data.Altitude.Float64,
		}
	}

	if data.Pitch.Valid {
		row.Attitude = &telemetry.Attitude{
			Pitch:   data.Pitch.Float64,
			Roll:    data.Roll.Float64,
			Heading: data.Heading.Float64,
		}
	}

	if data.ControlMode.Valid {
		row.Mode = &telemetry.ControlMode{
			Code: data.ControlMode.String,
			Mode: telemetry.ModeName(data.ControlMode.String),
		}
	}

	if data.DOSaturation.Valid {
		row.Water = &telemetry.WaterQuality{
			DOSaturation: data.DOSaturation.Float64,
			DO:           data.DO.Float64,
			Temperature:  data.Temperature.Float64,
			Conductivity: data.Conductivity.Float64,
			Salinity:     data.Salinity.Float64,
			Pressure:     data.Pressure.Float64,
			Depth:        data.Depth.Float64,
		}
	}

	if data.ImagePath.Valid {
		row.Image = &telemetry.Image{
			Path:  data.ImagePath.String,
			Bytes: data.ImageBytes.Int64,
		}
	}

	if data.LidarPath.Valid {
		row.Lidar = &telemetry.LidarScan{
			Path:       data.LidarPath.String,
			Points:     int(data.LidarPoints.Int64),
			MinRange:   data.LidarMinRange.Float64,
			MinBearing: data.LidarMinBearing.Float64,
		}
	}

	return row
}

func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/railtms/core/shared/railway"
)

// ErrNotFound is returned by lookups that find no matching row.
var ErrNotFound = errors.New("storage: not found")

// PostgresFactory opens a *sql.DB against a Postgres DSN and hands out
// one *PostgresSession (one transaction) per call.
type PostgresFactory struct {
	db *sql.DB
}

// NewPostgresFactory opens the pool. The caller is responsible for
// calling Close when the process shuts down.
func NewPostgresFactory(dsn string) (*PostgresFactory, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: ping postgres: %w", err)
	}
	return &PostgresFactory{db: db}, nil
}

func (f *PostgresFactory) Close() error { return f.db.Close() }

// NewSession opens a new transaction-scoped session.
func (f *PostgresFactory) NewSession(ctx context.Context) (Session, error) {
	tx, err := f.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: begin tx: %w", err)
	}
	return &PostgresSession{tx: tx}, nil
}

// PostgresSession is a StorageSession backed by a single transaction.
type PostgresSession struct {
	tx *sql.Tx
}

func (s *PostgresSession) ListActiveTrains(ctx context.Context) ([]railway.Train, error) {
	rows, err := s.tx.QueryContext(ctx, `
		SELECT id, number, kind, priority, max_speed_kmh, length_m, weight_t,
		       current_section_id, speed_kmh, current_load, status
		FROM trains
		WHERE status = 'active'
	`)
	if err != nil {
		return nil, fmt.Errorf("list active trains: %w", err)
	}
	defer rows.Close()

	var trains []railway.Train
	for rows.Next() {
		var t railway.Train
		var currentSection sql.NullInt64
		if err := rows.Scan(&t.ID, &t.Number, &t.Kind, &t.Priority, &t.MaxSpeed,
			&t.Length, &t.Weight, &currentSection, &t.Speed, &t.Load, &t.Status); err != nil {
			return nil, fmt.Errorf("scan train: %w", err)
		}
		if currentSection.Valid {
			sec := int(currentSection.Int64)
			t.CurrentSec = &sec
		}
		trains = append(trains, t)
	}
	return trains, rows.Err()
}

func (s *PostgresSession) ListActiveSections(ctx context.Context) ([]railway.Section, error) {
	rows, err := s.tx.QueryContext(ctx, `
		SELECT id, code, kind, length_m, max_speed_kmh, capacity, active
		FROM sections
		WHERE active = true
	`)
	if err != nil {
		return nil, fmt.Errorf("list active sections: %w", err)
	}
	defer rows.Close()

	var sections []railway.Section
	for rows.Next() {
		var sec railway.Section
		if err := rows.Scan(&sec.ID, &sec.Code, &sec.Kind, &sec.Length,
			&sec.MaxSpeed, &sec.Capacity, &sec.Active); err != nil {
			return nil, fmt.Errorf("scan section: %w", err)
		}
		sections = append(sections, sec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	neighborRows, err := s.tx.QueryContext(ctx, `SELECT section_id, neighbor_id FROM section_neighbors`)
	if err != nil {
		return nil, fmt.Errorf("list section neighbors: %w", err)
	}
	defer neighborRows.Close()

	byID := make(map[int]*railway.Section, len(sections))
	for i := range sections {
		byID[sections[i].ID] = &sections[i]
	}
	for neighborRows.Next() {
		var sectionID, neighborID int
		if err := neighborRows.Scan(&sectionID, &neighborID); err != nil {
			return nil, fmt.Errorf("scan neighbor: %w", err)
		}
		if sec, ok := byID[sectionID]; ok {
			sec.Neighbors = append(sec.Neighbors, neighborID)
		}
	}
	return sections, neighborRows.Err()
}

func (s *PostgresSession) LatestPosition(ctx context.Context, trainID int, newerThan time.Time) (*railway.Position, error) {
	row := s.tx.QueryRowContext(ctx, `
		SELECT train_id, timestamp, section_id, speed_kmh, distance_from_start, lat, lon, alt
		FROM positions
		WHERE train_id = $1 AND timestamp > $2
		ORDER BY timestamp DESC
		LIMIT 1
	`, trainID, newerThan)

	pos, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest position: %w", err)
	}
	return pos, nil
}

func (s *PostgresSession) LatestPositions(ctx context.Context, newerThan time.Time) (map[int]railway.Position, error) {
	rows, err := s.tx.QueryContext(ctx, `
		SELECT DISTINCT ON (train_id)
		       train_id, timestamp, section_id, speed_kmh, distance_from_start, lat, lon, alt
		FROM positions
		WHERE timestamp > $1
		ORDER BY train_id, timestamp DESC
	`, newerThan)
	if err != nil {
		return nil, fmt.Errorf("bulk latest positions: %w", err)
	}
	defer rows.Close()

	out := make(map[int]railway.Position)
	for rows.Next() {
		pos, err := scanPositionRows(rows)
		if err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		out[pos.TrainID] = *pos
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPosition(row rowScanner) (*railway.Position, error) {
	return scanPositionRows(row)
}

func scanPositionRows(row rowScanner) (*railway.Position, error) {
	var p railway.Position
	var dist, lat, lon, alt sql.NullFloat64
	if err := row.Scan(&p.TrainID, &p.Timestamp, &p.SectionID, &p.Speed, &dist, &lat, &lon, &alt); err != nil {
		return nil, err
	}
	if dist.Valid {
		v := dist.Float64
		p.DistanceFromStart = &v
	}
	if lat.Valid {
		v := lat.Float64
		p.Lat = &v
	}
	if lon.Valid {
		v := lon.Float64
		p.Lon = &v
	}
	if alt.Valid {
		v := alt.Float64
		p.Alt = &v
	}
	return &p, nil
}

func (s *PostgresSession) ActiveSchedule(ctx context.Context, trainID int) (*railway.TrainSchedule, error) {
	rows, err := s.tx.QueryContext(ctx, `
		SELECT section_id
		FROM train_schedule_sections
		WHERE train_id = $1 AND schedule_active = true
		ORDER BY sequence_num
	`, trainID)
	if err != nil {
		return nil, fmt.Errorf("active schedule: %w", err)
	}
	defer rows.Close()

	var route []int
	for rows.Next() {
		var sectionID int
		if err := rows.Scan(&sectionID); err != nil {
			return nil, fmt.Errorf("scan schedule section: %w", err)
		}
		route = append(route, sectionID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(route) == 0 {
		return nil, nil
	}
	return &railway.TrainSchedule{TrainID: trainID, RouteSections: route}, nil
}

func (s *PostgresSession) FindOpenConflict(ctx context.Context, key railway.ConflictKey) (*railway.PersistedConflict, error) {
	row := s.tx.QueryRowContext(ctx, `
		SELECT id, conflict_type, severity, severity_score, trains_involved,
		       sections_involved, description, detection_time, updated_at,
		       resolution_time, auto_resolved
		FROM conflicts
		WHERE trains_key = $1 AND sections_key = $2 AND conflict_type = $3
		      AND resolution_time IS NULL
	`, key.Trains, key.Sections, key.Type)

	var pc railway.PersistedConflict
	var resolutionTime sql.NullTime
	var trainsCSV, sectionsCSV string
	if err := row.Scan(&pc.ID, &pc.ConflictType, &pc.Severity, &pc.SeverityScore,
		&trainsCSV, &sectionsCSV, &pc.Description, &pc.DetectionTime, &pc.UpdatedAt,
		&resolutionTime, &pc.AutoResolved); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find open conflict: %w", err)
	}
	if resolutionTime.Valid {
		t := resolutionTime.Time
		pc.ResolutionTime = &t
	}
	pc.TrainsInvolved = parseIntCSV(trainsCSV)
	pc.SectionsInvolved = parseIntCSV(sectionsCSV)
	return &pc, nil
}

func (s *PostgresSession) InsertConflict(ctx context.Context, c railway.DetectedConflict) (int64, error) {
	key := c.Key()
	bucket := railway.BucketForScore(c.SeverityScore)

	var id int64
	err := s.tx.QueryRowContext(ctx, `
		INSERT INTO conflicts
			(conflict_type, severity, severity_score, trains_involved, sections_involved,
			 trains_key, sections_key, description, detection_time, updated_at, auto_resolved)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9, false)
		RETURNING id
	`, c.ConflictType, bucket, c.SeverityScore, intCSV(c.TrainsInvolved), intCSV(c.SectionsInvolved),
		key.Trains, key.Sections, c.Description, time.Now()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert conflict: %w", err)
	}
	return id, nil
}

func (s *PostgresSession) UpdateConflict(ctx context.Context, id int64, c railway.DetectedConflict) error {
	bucket := railway.BucketForScore(c.SeverityScore)
	_, err := s.tx.ExecContext(ctx, `
		UPDATE conflicts
		SET severity = $1, severity_score = $2, description = $3, updated_at = $4
		WHERE id = $5
	`, bucket, c.SeverityScore, c.Description, time.Now(), id)
	if err != nil {
		return fmt.Errorf("update conflict: %w", err)
	}
	return nil
}

func (s *PostgresSession) Commit() error   { return s.tx.Commit() }
func (s *PostgresSession) Rollback() error { return s.tx.Rollback() }

// Close releases the session's connection back to the pool. A
// read-only cycle (cache refresh, prediction reads) never calls
// Commit/Rollback itself, and database/sql only returns a *sql.Tx's
// connection on one of those two calls — so Close rolls back here.
// Sessions that already committed or rolled back via Persist just see
// sql.ErrTxDone, which is not a leak and is safely ignored.
func (s *PostgresSession) Close() error {
	if err := s.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("storage: close: %w", err)
	}
	return nil
}

package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/unklstewy/windaloft/pkg/wind"
)

// ReportRepository stores position reports and serves them back to the wind
// service. It implements wind.ReportSource.
type ReportRepository struct {
	db *DB
}

var _ wind.ReportSource = (*ReportRepository)(nil)

// NewReportRepository creates a new report repository.
func NewReportRepository(db *DB) *ReportRepository {
	return &ReportRepository{db: db}
}

// reportColumns is the column order shared by COPY and SELECT.
var reportColumns = []string{
	"object_id", "timestamp", "latitude", "longitude",
	"baro_altitude_m", "geo_altitude_m", "ground_speed_mps", "track_deg",
	"vertical_rate_mps", "on_ground", "callsign", "data_source",
}

// InsertReports stores a batch of reports in one transaction. Tracked objects
// are created or refreshed first; the reports themselves go through COPY.
// Returns the number of reports written.
func (r *ReportRepository) InsertReports(ctx context.Context, reports []wind.PositionReport) (int, error) {
	if len(reports) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, u := range summarizeTracked(reports) {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO tracked_objects (id, callsign, is_active, last_seen)
			 VALUES ($1, $2, TRUE, $3)
			 ON CONFLICT (id) DO UPDATE SET
				callsign = COALESCE(NULLIF(EXCLUDED.callsign, ''), tracked_objects.callsign),
				is_active = TRUE,
				last_seen = GREATEST(tracked_objects.last_seen, EXCLUDED.last_seen)`,
			u.ID, u.Callsign, u.LastSeen,
		); err != nil {
			return 0, fmt.Errorf("failed to upsert tracked object %s: %w", u.ID, err)
		}
	}

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("position_reports", reportColumns...))
	if err != nil {
		return 0, fmt.Errorf("failed to prepare copy: %w", err)
	}

	for _, rep := range reports {
		if _, err := stmt.ExecContext(ctx, reportArgs(rep)...); err != nil {
			stmt.Close()
			return 0, fmt.Errorf("failed to copy report %s: %w", rep.ID, err)
		}
	}

	// Flush buffered rows
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return 0, fmt.Errorf("failed to flush copy: %w", err)
	}
	if err := stmt.Close(); err != nil {
		return 0, fmt.Errorf("failed to close copy: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit reports: %w", err)
	}

	return len(reports), nil
}

// PositionReports returns the reports of id at or after since, oldest first.
func (r *ReportRepository) PositionReports(ctx context.Context, id string, since time.Time) ([]wind.PositionReport, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+strings.Join(reportColumns, ", ")+`
		 FROM position_reports
		 WHERE object_id = $1 AND timestamp >= $2
		 ORDER BY timestamp ASC`,
		normalizeID(id), since.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query reports: %w", err)
	}
	defer rows.Close()

	var reports []wind.PositionReport
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, rep)
	}

	return reports, rows.Err()
}

// LatestPositionReport returns the newest report of id that carries a
// position.
func (r *ReportRepository) LatestPositionReport(ctx context.Context, id string) (wind.PositionReport, bool, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+strings.Join(reportColumns, ", ")+`
		 FROM position_reports
		 WHERE object_id = $1 AND latitude IS NOT NULL AND longitude IS NOT NULL
		 ORDER BY timestamp DESC
		 LIMIT 1`,
		normalizeID(id),
	)

	rep, err := scanReport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return wind.PositionReport{}, false, nil
	}
	if err != nil {
		return wind.PositionReport{}, false, err
	}

	return rep, true, nil
}

// SessionStart returns the session start recorded for id.
func (r *ReportRepository) SessionStart(ctx context.Context, id string) (time.Time, bool, error) {
	var start sql.NullTime
	err := r.db.QueryRowContext(ctx,
		`SELECT session_start FROM tracked_objects WHERE id = $1`,
		normalizeID(id),
	).Scan(&start)

	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to query session: %w", err)
	}
	if !start.Valid {
		return time.Time{}, false, nil
	}

	return start.Time.UTC(), true, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanReport reads one row in reportColumns order and revalidates it.
func scanReport(s rowScanner) (wind.PositionReport, error) {
	var f wind.ReportFields
	var lat, lon, baro, geo, gs, track, vrate sql.NullFloat64

	err := s.Scan(
		&f.ID, &f.Timestamp, &lat, &lon,
		&baro, &geo, &gs, &track,
		&vrate, &f.OnGround, &f.Callsign, &f.DataSource,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return wind.PositionReport{}, err
		}
		return wind.PositionReport{}, fmt.Errorf("failed to scan report: %w", err)
	}

	// NULL position is stored for reports without one; map it back to the
	// 0,0 sentinel
	if lat.Valid && lon.Valid {
		f.Latitude = lat.Float64
		f.Longitude = lon.Float64
	}
	f.BaroAltitude = fromNull(baro)
	f.GeoAltitude = fromNull(geo)
	f.GroundSpeed = fromNull(gs)
	f.Track = fromNull(track)
	f.VerticalRate = fromNull(vrate)

	rep, err := wind.NewPositionReport(f)
	if err != nil {
		return wind.PositionReport{}, fmt.Errorf("stored report: %w", err)
	}
	return rep, nil
}

// reportArgs returns the values of rep in reportColumns order.
func reportArgs(rep wind.PositionReport) []any {
	var lat, lon any
	if rep.HasPosition() {
		lat, lon = rep.Latitude, rep.Longitude
	}

	return []any{
		rep.ID, rep.Timestamp.UTC(), lat, lon,
		nullable(rep.BaroAltitude), nullable(rep.GeoAltitude),
		nullable(rep.GroundSpeed), nullable(rep.Track),
		nullable(rep.VerticalRate), rep.OnGround, rep.Callsign, rep.DataSource,
	}
}

// trackedUpdate is the per-object summary of an ingested batch.
type trackedUpdate struct {
	ID       string
	Callsign string
	LastSeen time.Time
}

// summarizeTracked reduces a batch to one update per object, carrying its
// newest timestamp and the callsign of its newest report that had one.
// Results are ordered by ID so concurrent batches lock rows in the same order.
func summarizeTracked(reports []wind.PositionReport) []trackedUpdate {
	type acc struct {
		trackedUpdate
		callsignAt time.Time
	}

	byID := make(map[string]*acc)
	for _, rep := range reports {
		a, ok := byID[rep.ID]
		if !ok {
			a = &acc{trackedUpdate: trackedUpdate{ID: rep.ID, LastSeen: rep.Timestamp}}
			byID[rep.ID] = a
		}
		if rep.Timestamp.After(a.LastSeen) {
			a.LastSeen = rep.Timestamp
		}
		if rep.Callsign != "" && !rep.Timestamp.Before(a.callsignAt) {
			a.Callsign = rep.Callsign
			a.callsignAt = rep.Timestamp
		}
	}

	updates := make([]trackedUpdate, 0, len(byID))
	for _, a := range byID {
		updates = append(updates, a.trackedUpdate)
	}
	sort.Slice(updates, func(i, j int) bool { return updates[i].ID < updates[j].ID })
	return updates
}

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

func nullable(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func fromNull(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

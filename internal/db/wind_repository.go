package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/unklstewy/windaloft/pkg/wind"
)

// StoredBin is an aggregated wind bin persisted by the worker.
type StoredBin struct {
	ObjectID string `json:"id"`
	wind.Bin
	AltitudeSource string    `json:"altitude_source"`
	ComputedAt     time.Time `json:"computed_at"`
}

// WindBinRepository persists aggregated profiles.
type WindBinRepository struct {
	db *DB
}

// NewWindBinRepository creates a new wind bin repository.
func NewWindBinRepository(db *DB) *WindBinRepository {
	return &WindBinRepository{db: db}
}

// UpsertBins stores the bins of one profile. Existing rows for the same
// object, altitude bin and source are replaced.
func (r *WindBinRepository) UpsertBins(
	ctx context.Context,
	id string,
	source wind.AltitudeSource,
	bins []wind.Bin,
	computedAt time.Time,
) error {
	if len(bins) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO wind_bins (
			object_id, altitude_bin, wind_speed_mps, wind_direction_deg,
			sample_count, speed_stddev, direction_stddev, altitude_source,
			latest_sample, computed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (object_id, altitude_bin, altitude_source) DO UPDATE SET
			wind_speed_mps = EXCLUDED.wind_speed_mps,
			wind_direction_deg = EXCLUDED.wind_direction_deg,
			sample_count = EXCLUDED.sample_count,
			speed_stddev = EXCLUDED.speed_stddev,
			direction_stddev = EXCLUDED.direction_stddev,
			latest_sample = EXCLUDED.latest_sample,
			computed_at = EXCLUDED.computed_at`,
	)
	if err != nil {
		return fmt.Errorf("failed to prepare bin upsert: %w", err)
	}
	defer stmt.Close()

	oid := normalizeID(id)
	for _, b := range bins {
		if _, err := stmt.ExecContext(ctx, binArgs(oid, source, b, computedAt)...); err != nil {
			return fmt.Errorf("failed to upsert bin %d: %w", int(b.Altitude), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit bins: %w", err)
	}
	return nil
}

// History returns the bins of id computed at or after since, ordered by
// altitude bin.
func (r *WindBinRepository) History(ctx context.Context, id string, since time.Time) ([]StoredBin, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT object_id, altitude_bin, wind_speed_mps, wind_direction_deg,
		        sample_count, speed_stddev, direction_stddev, altitude_source,
		        latest_sample, computed_at
		 FROM wind_bins
		 WHERE object_id = $1 AND computed_at >= $2
		 ORDER BY altitude_bin ASC, altitude_source ASC`,
		normalizeID(id), since.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query wind bins: %w", err)
	}
	defer rows.Close()

	var bins []StoredBin
	for rows.Next() {
		b, err := scanBin(rows)
		if err != nil {
			return nil, err
		}
		bins = append(bins, b)
	}

	return bins, rows.Err()
}

func binArgs(id string, source wind.AltitudeSource, b wind.Bin, computedAt time.Time) []any {
	var latest any
	if !b.Timestamp.IsZero() {
		latest = b.Timestamp.UTC()
	}
	return []any{
		id, int(b.Altitude), b.Speed, b.Direction,
		b.SampleCount, b.SpeedStdDev, b.DirectionStdDev, source.String(),
		latest, computedAt.UTC(),
	}
}

func scanBin(s rowScanner) (StoredBin, error) {
	var b StoredBin
	var altitude int
	var latest sql.NullTime

	err := s.Scan(
		&b.ObjectID, &altitude, &b.Speed, &b.Direction,
		&b.SampleCount, &b.SpeedStdDev, &b.DirectionStdDev, &b.AltitudeSource,
		&latest, &b.ComputedAt,
	)
	if err != nil {
		return StoredBin{}, fmt.Errorf("failed to scan wind bin: %w", err)
	}

	b.Altitude = float64(altitude)
	if latest.Valid {
		b.Timestamp = latest.Time.UTC()
	}
	b.ComputedAt = b.ComputedAt.UTC()
	return b, nil
}

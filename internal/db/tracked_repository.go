package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// TrackedObject is a balloon or aircraft windaloft has received reports for.
type TrackedObject struct {
	ID           string     `json:"id"`
	Callsign     string     `json:"callsign,omitempty"`
	Description  string     `json:"description,omitempty"`
	IsActive     bool       `json:"is_active"`
	SessionStart *time.Time `json:"session_start,omitempty"`
	LastSeen     time.Time  `json:"last_seen"`
	CreatedAt    time.Time  `json:"created_at"`
}

// TrackedRepository manages tracked objects and their sessions.
type TrackedRepository struct {
	db *DB
}

// NewTrackedRepository creates a new tracked object repository.
func NewTrackedRepository(db *DB) *TrackedRepository {
	return &TrackedRepository{db: db}
}

// StartSession begins a new tracking session for id at the given time,
// creating the object if it has never reported.
func (r *TrackedRepository) StartSession(ctx context.Context, id string, at time.Time) (*TrackedObject, error) {
	row := r.db.QueryRowContext(ctx,
		`INSERT INTO tracked_objects (id, is_active, session_start, last_seen)
		 VALUES ($1, TRUE, $2, $2)
		 ON CONFLICT (id) DO UPDATE SET
			is_active = TRUE,
			session_start = EXCLUDED.session_start
		 RETURNING `+trackedColumns,
		normalizeID(id), at.UTC(),
	)

	obj, err := scanTracked(row)
	if err != nil {
		return nil, fmt.Errorf("failed to start session: %w", err)
	}
	return obj, nil
}

// Get retrieves a tracked object by id. Returns nil if it doesn't exist.
func (r *TrackedRepository) Get(ctx context.Context, id string) (*TrackedObject, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+trackedColumns+` FROM tracked_objects WHERE id = $1`,
		normalizeID(id),
	)

	obj, err := scanTracked(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return obj, nil
}

// List returns tracked objects, most recently seen first.
func (r *TrackedRepository) List(ctx context.Context, activeOnly bool) ([]TrackedObject, error) {
	query := `SELECT ` + trackedColumns + ` FROM tracked_objects`
	if activeOnly {
		query += ` WHERE is_active = TRUE`
	}
	query += ` ORDER BY last_seen DESC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query tracked objects: %w", err)
	}
	defer rows.Close()

	var objects []TrackedObject
	for rows.Next() {
		obj, err := scanTracked(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tracked object: %w", err)
		}
		objects = append(objects, *obj)
	}

	return objects, rows.Err()
}

// SeenSince returns the ids of objects with a report at or after since.
func (r *TrackedRepository) SeenSince(ctx context.Context, since time.Time) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM tracked_objects WHERE last_seen >= $1 ORDER BY id`,
		since.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent objects: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

const trackedColumns = `id, callsign, description, is_active, session_start, last_seen, created_at`

func scanTracked(s rowScanner) (*TrackedObject, error) {
	var obj TrackedObject
	var session sql.NullTime

	err := s.Scan(
		&obj.ID,
		&obj.Callsign,
		&obj.Description,
		&obj.IsActive,
		&session,
		&obj.LastSeen,
		&obj.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if session.Valid {
		start := session.Time.UTC()
		obj.SessionStart = &start
	}
	obj.LastSeen = obj.LastSeen.UTC()
	obj.CreatedAt = obj.CreatedAt.UTC()

	return &obj, nil
}

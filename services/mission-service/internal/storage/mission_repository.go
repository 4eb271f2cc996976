package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/md-rashed-zaman/missionwindow/libs/db"
	"github.com/md-rashed-zaman/missionwindow/services/mission-service/internal/interval"
	"github.com/md-rashed-zaman/missionwindow/services/mission-service/internal/model"
)

type MissionRepository struct {
	pool *db.Pool
}

func NewMissionRepository(pool *db.Pool) *MissionRepository {
	return &MissionRepository{pool: pool}
}

const missionColumns = `
	id::text, resource_id, departure_at, return_at, total_leg_hours, return_leg_hours,
	secondary_departure_at, secondary_return_at, status, cancelled_at,
	COALESCE(cancellation_reason, ''), created_at`

func (r *MissionRepository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// LockResource serializes writers of one resource for the rest of tx. The
// overlap check and the insert of a new mission must both happen under it.
func (r *MissionRepository) LockResource(ctx context.Context, tx pgx.Tx, resourceID string) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, resourceID)
	return err
}

// LockIdempotencyKey returns the mission id already recorded for key, if any,
// and holds the key's row lock until tx ends.
func (r *MissionRepository) LockIdempotencyKey(ctx context.Context, tx pgx.Tx, resourceID, key string) (string, bool, error) {
	missionID, err := r.selectIdempotencyForUpdate(ctx, tx, resourceID, key)
	if err == nil {
		return missionID, missionID != "", nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", false, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO mission_idempotency_keys (resource_id, idempotency_key)
		VALUES ($1, $2)
		ON CONFLICT (resource_id, idempotency_key) DO NOTHING
	`, resourceID, key)
	if err != nil {
		return "", false, err
	}

	missionID, err = r.selectIdempotencyForUpdate(ctx, tx, resourceID, key)
	if err != nil {
		return "", false, err
	}
	return missionID, missionID != "", nil
}

func (r *MissionRepository) FinalizeIdempotency(ctx context.Context, tx pgx.Tx, resourceID, key, missionID string) error {
	_, err := tx.Exec(ctx, `
		UPDATE mission_idempotency_keys
		SET mission_id = $3,
			updated_at = now()
		WHERE resource_id = $1 AND idempotency_key = $2
	`, resourceID, key, missionID)
	return err
}

func (r *MissionRepository) Create(ctx context.Context, tx pgx.Tx, m *model.Mission) error {
	return tx.QueryRow(ctx, `
		INSERT INTO missions
			(id, resource_id, departure_at, return_at, total_leg_hours, return_leg_hours,
			 secondary_departure_at, secondary_return_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`, m.ID, m.ResourceID, m.Departure, m.Return, m.TotalLegHours, m.ReturnLegHours,
		m.SecondaryDeparture, m.SecondaryReturn, m.Status).Scan(&m.CreatedAt)
}

func (r *MissionRepository) Get(ctx context.Context, id string) (model.Mission, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+missionColumns+` FROM missions WHERE id = $1`, id)
	return scanMission(row)
}

func (r *MissionRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (model.Mission, error) {
	row := tx.QueryRow(ctx, `SELECT `+missionColumns+` FROM missions WHERE id = $1 FOR UPDATE`, id)
	return scanMission(row)
}

func (r *MissionRepository) Cancel(ctx context.Context, tx pgx.Tx, id, reason string) (time.Time, error) {
	var cancelledAt time.Time
	err := tx.QueryRow(ctx, `
		UPDATE missions
		SET status = 'cancelled',
			cancelled_at = now(),
			cancellation_reason = $2
		WHERE id = $1
		RETURNING cancelled_at
	`, id, reason).Scan(&cancelledAt)
	return cancelledAt, err
}

// ListBlocking returns booked missions of resourceID whose [departure, return)
// touches span. Pass a pgx.Tx holding the resource lock when the result feeds a
// write; pass nil to read a snapshot from the pool.
func (r *MissionRepository) ListBlocking(ctx context.Context, q db.Querier, resourceID string, span interval.Interval) ([]model.Mission, error) {
	if q == nil {
		q = r.pool
	}
	rows, err := q.Query(ctx, `
		SELECT `+missionColumns+`
		FROM missions
		WHERE resource_id = $1
			AND status = 'booked'
			AND departure_at < $3
			AND return_at > $2
		ORDER BY departure_at ASC
	`, resourceID, span.Start, span.End)
	if err != nil {
		return nil, err
	}
	return collectMissions(rows)
}

// Snapshot is ListBlocking against the pool, for read-only queries.
func (r *MissionRepository) Snapshot(ctx context.Context, resourceID string, span interval.Interval) ([]model.Mission, error) {
	return r.ListBlocking(ctx, nil, resourceID, span)
}

func (r *MissionRepository) ListByResource(ctx context.Context, resourceID string, limit int) ([]model.Mission, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+missionColumns+`
		FROM missions
		WHERE resource_id = $1
		ORDER BY departure_at DESC
		LIMIT $2
	`, resourceID, limit)
	if err != nil {
		return nil, err
	}
	return collectMissions(rows)
}

func IsConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && (pgErr.Code == "23P01" || pgErr.Code == "23505")
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func (r *MissionRepository) selectIdempotencyForUpdate(ctx context.Context, tx pgx.Tx, resourceID, key string) (string, error) {
	var missionID string
	err := tx.QueryRow(ctx, `
		SELECT COALESCE(mission_id::text, '')
		FROM mission_idempotency_keys
		WHERE resource_id = $1 AND idempotency_key = $2
		FOR UPDATE
	`, resourceID, key).Scan(&missionID)
	return missionID, err
}

func scanMission(row pgx.Row) (model.Mission, error) {
	var m model.Mission
	err := row.Scan(
		&m.ID,
		&m.ResourceID,
		&m.Departure,
		&m.Return,
		&m.TotalLegHours,
		&m.ReturnLegHours,
		&m.SecondaryDeparture,
		&m.SecondaryReturn,
		&m.Status,
		&m.CancelledAt,
		&m.CancelReason,
		&m.CreatedAt,
	)
	if err != nil {
		return model.Mission{}, err
	}
	// timestamptz scans in the session zone; keep the canonical form.
	m.Departure = m.Departure.UTC()
	m.Return = m.Return.UTC()
	if m.SecondaryDeparture != nil {
		t := m.SecondaryDeparture.UTC()
		m.SecondaryDeparture = &t
	}
	if m.SecondaryReturn != nil {
		t := m.SecondaryReturn.UTC()
		m.SecondaryReturn = &t
	}
	return m, nil
}

func collectMissions(rows pgx.Rows) ([]model.Mission, error) {
	defer rows.Close()
	var missions []model.Mission
	for rows.Next() {
		m, err := scanMission(rows)
		if err != nil {
			return nil, err
		}
		missions = append(missions, m)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return missions, nil
}

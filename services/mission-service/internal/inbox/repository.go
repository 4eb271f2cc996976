package inbox

import (
	"context"

	"github.com/md-rashed-zaman/missionwindow/libs/db"
)

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

// Record stores eventID and reports whether it was seen for the first time.
// Pass a transaction to make the record atomic with the handler's writes.
// Duplicates do not raise a unique violation, so an enclosing transaction
// stays usable.
func (r *Repository) Record(ctx context.Context, q db.Querier, eventID string, eventType string) (bool, error) {
	if q == nil {
		q = r.pool
	}
	tag, err := q.Exec(ctx, `
		INSERT INTO inbox_events (event_id, event_type)
		VALUES ($1, $2)
		ON CONFLICT (event_id) DO NOTHING
	`, eventID, eventType)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

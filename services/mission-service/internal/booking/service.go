package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/missionwindow/libs/db"
	"github.com/md-rashed-zaman/missionwindow/services/mission-service/internal/availability"
	"github.com/md-rashed-zaman/missionwindow/services/mission-service/internal/interval"
	"github.com/md-rashed-zaman/missionwindow/services/mission-service/internal/model"
	"github.com/md-rashed-zaman/missionwindow/services/mission-service/internal/outbox"
	"github.com/md-rashed-zaman/missionwindow/services/mission-service/internal/storage"
)

var ErrNotCancellable = errors.New("mission cannot be cancelled")

// ValidateFunc decides a candidate against the missions locked for it.
type ValidateFunc func(ctx context.Context, existing []model.Mission) (availability.Result, error)

type Outcome struct {
	Mission model.Mission
	Result  availability.Result
	// Replayed is set when an idempotency key matched an earlier booking.
	Replayed bool
}

// Service is the booking-creation and cancellation collaborator: it runs the
// overlap check and the insert in one transaction under a per-resource lock.
type Service struct {
	pool   *db.Pool
	repo   *storage.MissionRepository
	outbox *outbox.Repository
	logger *slog.Logger
}

func NewService(pool *db.Pool, repo *storage.MissionRepository, outboxRepo *outbox.Repository, logger *slog.Logger) *Service {
	return &Service{pool: pool, repo: repo, outbox: outboxRepo, logger: logger}
}

// Book persists candidate if validate accepts it against every booked mission
// of the resource touching span. A conflict is returned in the Outcome and
// nothing is written.
func (s *Service) Book(ctx context.Context, idempotencyKey string, candidate model.Mission, span interval.Interval, validate ValidateFunc) (Outcome, error) {
	var out Outcome
	err := s.pool.InTx(ctx, func(tx pgx.Tx) error {
		if err := s.repo.LockResource(ctx, tx, candidate.ResourceID); err != nil {
			return fmt.Errorf("lock resource: %w", err)
		}

		if idempotencyKey != "" {
			missionID, done, err := s.repo.LockIdempotencyKey(ctx, tx, candidate.ResourceID, idempotencyKey)
			if err != nil {
				return fmt.Errorf("lock idempotency key: %w", err)
			}
			if done {
				m, err := s.repo.GetForUpdate(ctx, tx, missionID)
				if err != nil {
					return fmt.Errorf("load replayed mission: %w", err)
				}
				out = Outcome{Mission: m, Replayed: true}
				return nil
			}
		}

		existing, err := s.repo.ListBlocking(ctx, tx, candidate.ResourceID, span)
		if err != nil {
			return fmt.Errorf("list missions: %w", err)
		}
		res, err := validate(ctx, existing)
		if err != nil {
			return err
		}
		if !res.OK() {
			out = Outcome{Mission: candidate, Result: res}
			return nil
		}

		if candidate.ID == "" {
			candidate.ID = uuid.NewString()
		}
		candidate.Status = model.StatusBooked
		if err := s.repo.Create(ctx, tx, &candidate); err != nil {
			return fmt.Errorf("create mission: %w", err)
		}
		payload, err := json.Marshal(eventPayload(candidate))
		if err != nil {
			return err
		}
		if err := s.outbox.Insert(ctx, tx, outbox.Event{
			AggregateType: "mission",
			AggregateID:   candidate.ID,
			EventType:     outbox.EventMissionBooked,
			Payload:       payload,
		}); err != nil {
			return fmt.Errorf("write outbox event: %w", err)
		}
		if idempotencyKey != "" {
			if err := s.repo.FinalizeIdempotency(ctx, tx, candidate.ResourceID, idempotencyKey, candidate.ID); err != nil {
				return fmt.Errorf("finalize idempotency key: %w", err)
			}
		}
		out = Outcome{Mission: candidate, Result: res}
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}
	if !out.Replayed && out.Result.OK() {
		s.logger.Info("mission booked", "mission_id", out.Mission.ID, "resource_id", out.Mission.ResourceID)
	}
	return out, nil
}

// Cancel marks a booked mission cancelled. Cancelling an already cancelled
// mission returns it unchanged.
func (s *Service) Cancel(ctx context.Context, missionID, reason string) (model.Mission, error) {
	var out model.Mission
	err := s.pool.InTx(ctx, func(tx pgx.Tx) error {
		var err error
		out, err = s.cancelInTx(ctx, tx, missionID, reason)
		return err
	})
	if err != nil {
		return model.Mission{}, err
	}
	return out, nil
}

func (s *Service) cancelInTx(ctx context.Context, tx pgx.Tx, missionID, reason string) (model.Mission, error) {
	m, err := s.repo.GetForUpdate(ctx, tx, missionID)
	if err != nil {
		return model.Mission{}, err
	}
	if m.Status == model.StatusCancelled {
		return m, nil
	}
	if m.Status != model.StatusBooked {
		return model.Mission{}, ErrNotCancellable
	}

	cancelledAt, err := s.repo.Cancel(ctx, tx, m.ID, reason)
	if err != nil {
		return model.Mission{}, fmt.Errorf("cancel mission: %w", err)
	}
	m.Status = model.StatusCancelled
	m.CancelledAt = &cancelledAt
	m.CancelReason = reason

	payload, err := json.Marshal(eventPayload(m))
	if err != nil {
		return model.Mission{}, err
	}
	if err := s.outbox.Insert(ctx, tx, outbox.Event{
		AggregateType: "mission",
		AggregateID:   m.ID,
		EventType:     outbox.EventMissionCancelled,
		Payload:       payload,
	}); err != nil {
		return model.Mission{}, fmt.Errorf("write outbox event: %w", err)
	}
	s.logger.Info("mission cancelled", "mission_id", m.ID, "resource_id", m.ResourceID)
	return m, nil
}

func eventPayload(m model.Mission) map[string]any {
	p := map[string]any{
		"mission_id":      m.ID,
		"resource_id":     m.ResourceID,
		"status":          m.Status,
		"departure":       m.Departure.UTC().Format(time.RFC3339),
		"return":          m.Return.UTC().Format(time.RFC3339),
		"total_leg_hours": m.TotalLegHours,
	}
	if m.HasSecondary() {
		p["secondary_departure"] = m.SecondaryDeparture.UTC().Format(time.RFC3339)
		p["secondary_return"] = m.SecondaryReturn.UTC().Format(time.RFC3339)
	}
	if m.CancelledAt != nil {
		p["cancelled_at"] = m.CancelledAt.UTC().Format(time.RFC3339)
		p["reason"] = m.CancelReason
	}
	return p
}

package booking

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/missionwindow/libs/kafkax"
	"github.com/md-rashed-zaman/missionwindow/services/mission-service/internal/inbox"
	"github.com/md-rashed-zaman/missionwindow/services/mission-service/internal/storage"
	"github.com/segmentio/kafka-go"
)

const EventCancelRequested = "fleet.mission.cancel.requested.v1"

type cancelRequest struct {
	MissionID string `json:"mission_id"`
	Reason    string `json:"reason"`
}

// CancelRequestHandler applies cancel requests published by the external
// cancellation collaborator. Duplicates are dropped through the inbox.
func (s *Service) CancelRequestHandler(inboxRepo *inbox.Repository) func(context.Context, kafkax.EventMeta, kafka.Message) error {
	return func(ctx context.Context, meta kafkax.EventMeta, msg kafka.Message) error {
		var req cancelRequest
		if err := json.Unmarshal(msg.Value, &req); err != nil {
			s.logger.Error("invalid cancel request payload", "err", err, "event_id", meta.EventID)
			return nil
		}
		req.MissionID = strings.TrimSpace(req.MissionID)
		if req.MissionID == "" {
			s.logger.Error("cancel request without mission_id", "event_id", meta.EventID)
			return nil
		}

		// The inbox record and the cancellation commit together, so a failed
		// cancel is retried on redelivery instead of being marked seen.
		return s.pool.InTx(ctx, func(tx pgx.Tx) error {
			first, err := inboxRepo.Record(ctx, tx, meta.EventID, meta.EventType)
			if err != nil {
				return err
			}
			if !first {
				s.logger.Info("duplicate event ignored", "event_id", meta.EventID, "event_type", meta.EventType)
				return nil
			}
			if _, err := s.cancelInTx(ctx, tx, req.MissionID, req.Reason); err != nil {
				if storage.IsNotFound(err) {
					s.logger.Warn("cancel request for unknown mission", "mission_id", req.MissionID, "event_id", meta.EventID)
					return nil
				}
				return err
			}
			return nil
		})
	}
}

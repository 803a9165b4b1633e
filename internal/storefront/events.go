package storefront

import (
	"context"

	"github.com/ariefcatur/go-pickup-slots/internal/events"
	kafkax "github.com/ariefcatur/go-pickup-slots/internal/kafka"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// HandleEvent is installed as the consumer handler for events.InboundTopics.
// Undecodable messages are logged and committed; a failed apply is retried
// on redelivery.
func (s *Service) HandleEvent(ctx context.Context, m kafkago.Message) error {
	env, err := kafkax.UnmarshalEnvelope(m.Value)
	if err != nil {
		s.logger().Warn("dropping undecodable event", zap.String("topic", m.Topic), zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}
	switch env.EventType {
	case events.EventCatalogChanged, events.EventReservationPickedUp:
	default:
		return nil
	}

	if s.Dedup != nil {
		first, err := s.Dedup.FirstSeen(ctx, env.EventID)
		if err != nil {
			s.logger().Warn("event dedup unavailable", zap.String("event_id", env.EventID), zap.Error(err))
		} else if !first {
			return nil
		}
	}

	if err := s.apply(ctx, env); err != nil {
		if s.Dedup != nil {
			s.Dedup.Forget(context.WithoutCancel(ctx), env.EventID)
		}
		return err
	}
	return nil
}

func (s *Service) apply(ctx context.Context, env events.Envelope) error {
	switch env.EventType {
	case events.EventCatalogChanged:
		p, err := kafkax.UnwrapPayload[events.CatalogChangedPayload](env.Payload)
		if err != nil {
			s.logger().Warn("bad catalog.changed payload", zap.String("event_id", env.EventID), zap.Error(err))
		} else {
			s.logger().Debug("catalog changed upstream", zap.Strings("product_ids", p.ProductIDs))
		}
		return s.Refresh(ctx)

	case events.EventReservationPickedUp:
		p, err := kafkax.UnwrapPayload[events.ReservationPickedUpPayload](env.Payload)
		if err != nil {
			s.logger().Warn("bad picked_up payload", zap.String("event_id", env.EventID), zap.Error(err))
			return nil
		}
		if !s.Reservations.MarkPickedUp(p.ReservationID) {
			s.logger().Debug("picked up reservation not tracked here", zap.String("reservation_id", p.ReservationID))
		}
	}
	return nil
}

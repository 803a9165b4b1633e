package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ariefcatur/go-pickup-slots/internal/catalog"
	"github.com/google/uuid"
)

const (
	EventReservationCreated   = "ReservationCreated"
	EventFulfillmentChosen    = "FulfillmentChosen"
	EventReservationCancelled = "ReservationCancelled"
	EventCategoryChanged      = "CategoryChanged"

	// published by the catalog/reservation boundary
	EventCatalogChanged      = "CatalogChanged"
	EventReservationPickedUp = "ReservationPickedUp"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // reservation or category id
	Payload       json.RawMessage `json:"payload"`
}

// New builds a v1 envelope around payload.
func New(eventType, producer, correlationID string, at time.Time, payload any) (Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    at.UTC(),
		Producer:      producer,
		CorrelationID: correlationID,
		Payload:       b,
	}, nil
}

// ---- payloads ----

type ReservationCreatedPayload struct {
	ReservationID string       `json:"reservation_id"`
	AccountID     string       `json:"account_id"`
	ProductID     string       `json:"product_id"`
	Quantity      int          `json:"quantity"`
	PickupDate    catalog.Date `json:"pickup_date"`
	AmountCents   int64        `json:"amount_cents"`
}

type FulfillmentChosenPayload struct {
	ReservationID string `json:"reservation_id"`
	Choice        string `json:"choice"` // self_pickup | delivery
}

type ReservationCancelledPayload struct {
	ReservationID string `json:"reservation_id"`
	ProductID     string `json:"product_id"`
	Quantity      int    `json:"quantity"`
}

type CategoryChangedPayload struct {
	CategoryID string   `json:"category_id"`
	Action     string   `json:"action"` // created | renamed | deleted | reordered | members
	Name       string   `json:"name,omitempty"`
	Order      []string `json:"order,omitempty"`
	Added      []string `json:"added,omitempty"`
	Removed    []string `json:"removed,omitempty"`
}

type CatalogChangedPayload struct {
	ProductIDs []string `json:"product_ids,omitempty"`
}

type ReservationPickedUpPayload struct {
	ReservationID string `json:"reservation_id"`
}

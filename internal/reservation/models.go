package reservation

import (
	"context"

	"github.com/ariefcatur/go-pickup-slots/internal/catalog"
)

// Request is what gets sent to the boundary. AmountCents is fixed at request time.
type Request struct {
	ProductID   string       `json:"product_id"`
	Quantity    int          `json:"quantity"`
	PickupDate  catalog.Date `json:"pickup_date"`
	AmountCents int64        `json:"amount_cents"`
}

type Reservation struct {
	Request
	ID        string       `json:"id"`
	AccountID string       `json:"account_id"`
	Choice    Choice       `json:"choice"`
	Status    PickupStatus `json:"status"`
}

type DeliveryConfig struct {
	Enabled        bool  `json:"enabled"`
	MinAmountCents int64 `json:"min_amount_cents"`
}

// Options is what the fulfillment prompt may offer for one reservation.
type Options struct {
	Choice                 Choice `json:"choice"`
	SelfPickup             bool   `json:"self_pickup"`
	Delivery               bool   `json:"delivery"`
	DeliveryMinAmountCents int64  `json:"delivery_min_amount_cents,omitempty"`
	Locked                 bool   `json:"locked"`
}

// Boundary is the reservation side of the external system.
type Boundary interface {
	SubmitReservation(ctx context.Context, req Request) (string, error)
	FetchReservation(ctx context.Context, id string) (Reservation, error)
	SubmitSelfPickup(ctx context.Context, reservationID string) error
	SubmitDelivery(ctx context.Context, reservationID string) error
	CancelReservation(ctx context.Context, reservationID string) error
	CheckSelfPickupEligibility(ctx context.Context) (bool, error)
	FetchDeliveryConfig(ctx context.Context) (DeliveryConfig, error)
}

// Stock is the local product projection the lifecycle reads and adjusts.
type Stock interface {
	Product(id string) (catalog.Product, bool)
	Dispatch(events ...catalog.Event)
}

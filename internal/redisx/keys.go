package redisx

import "time"

const (
	// In-flight lock for one submit/fulfillment: guard:{key}
	KeyGuard = "guard:%s"

	// Delivery config snapshot (JSON)
	KeyDeliveryConfig = "delivery_config"

	// Self-pickup eligibility per account: eligibility:{account_id} -> "1" | "0"
	KeyEligibility = "eligibility:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLGuard          = 30 * time.Second
	TTLDeliveryConfig = 5 * time.Minute
	TTLEligibility    = time.Minute
	TTLDedup          = 48 * time.Hour
)

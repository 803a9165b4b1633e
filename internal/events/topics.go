package events

const (
	TopicReservationCreated   = "pickup.reservation.created"
	TopicFulfillmentChosen    = "pickup.reservation.fulfillment"
	TopicReservationCancelled = "pickup.reservation.cancelled"
	TopicCategoryChanged      = "pickup.category.changed"

	TopicCatalogChanged      = "pickup.catalog.changed"
	TopicReservationPickedUp = "pickup.reservation.picked_up"
)

// Partition key = reservation or category id, so one entity's events stay ordered.
func PartitionKey(id string) []byte { return []byte(id) }

// InboundTopics are consumed by the api process.
func InboundTopics() []string {
	return []string{TopicCatalogChanged, TopicReservationPickedUp}
}

package reservation

type Choice string

const (
	ChoiceNone       Choice = "none"
	ChoiceSelfPickup Choice = "self_pickup"
	ChoiceDelivery   Choice = "delivery"
)

type PickupStatus string

const (
	PickupPending  PickupStatus = "pending"
	PickupPickedUp PickupStatus = "picked_up"
)

// A fulfillment choice is made at most once.
var validNext = map[Choice]map[Choice]bool{
	ChoiceNone:       {ChoiceSelfPickup: true, ChoiceDelivery: true},
	ChoiceSelfPickup: {},
	ChoiceDelivery:   {},
}

func CanChoose(from, to Choice) bool {
	return validNext[from][to]
}

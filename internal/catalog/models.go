package catalog

// Product is the read-through projection of a catalog item.
type Product struct {
	ID                 string     `json:"id"`
	Name               string     `json:"name"`
	PriceCents         int64      `json:"price_cents"`
	Stock              int        `json:"stock"`
	Images             []string   `json:"images,omitempty"`
	Description        string     `json:"description,omitempty"`
	SellDate           *Date      `json:"sell_date,omitempty"`
	SellTime           *TimeOfDay `json:"sell_time,omitempty"` // only meaningful with SellDate
	OrderIndex         *int       `json:"order_index,omitempty"`
	Sold               int        `json:"sold"`
	DeliveryEligible   bool       `json:"delivery_eligible"`
	SelfPickupEligible bool       `json:"self_pickup_eligible"`
	Recommended        bool       `json:"recommended"`
}

// RecommendedID addresses the pseudo-category in APIs that take an id.
const RecommendedID = "recommended"

// Grouping is either a stored Category or the Recommended pseudo-category.
// Only Category values can be renamed, deleted or reordered.
type Grouping interface {
	GroupingID() string
	isGrouping()
}

type Category struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	OrderIndex int    `json:"order_index"`
}

func (c Category) GroupingID() string { return c.ID }
func (Category) isGrouping()          {}

// Recommended membership is derived from Product.Recommended.
type Recommended struct{}

func (Recommended) GroupingID() string { return RecommendedID }
func (Recommended) isGrouping()        {}

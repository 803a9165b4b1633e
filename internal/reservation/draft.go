package reservation

// Clamp bounds a draft quantity to [0, stock].
func Clamp(qty, stock int) int {
	if stock < 0 {
		stock = 0
	}
	switch {
	case qty < 0:
		return 0
	case qty > stock:
		return stock
	}
	return qty
}

type draftKey struct {
	account   string
	productID string
}

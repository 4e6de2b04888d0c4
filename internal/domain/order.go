package domain

// OrderLine is keyed by product id. The "id" wire name matches the
// back-office API's order payload.
type OrderLine struct {
	ProductID int64 `json:"id"`
	Quantity  int   `json:"quantity"`
}

type OrderPayload struct {
	Date       string      `json:"date"`
	CustomerID int64       `json:"customer_id"`
	Products   []OrderLine `json:"products"`
}

type OrderConfirmation struct {
	Message string `json:"message"`
}

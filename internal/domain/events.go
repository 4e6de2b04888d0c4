package domain

import "time"

const OrderSubmittedEventType = "order.submitted"

type OrderSubmittedEvent struct {
	DraftID    string      `json:"draft_id"`
	CustomerID int64       `json:"customer_id"`
	Date       string      `json:"date"`
	Products   []OrderLine `json:"products"`
	Total      string      `json:"total"`
	Message    string      `json:"message"`
	Timestamp  time.Time   `json:"timestamp"`
}

package payloads

import "time"

// OrderPaidEvent is emitted when an order transitions pending -> paid.
type OrderPaidEvent struct {
	OrderID         uint64    `json:"order_id"`
	SessionID       string    `json:"session_id"`
	ConfirmationRef string    `json:"confirmation_ref,omitempty"`
	TotalAmount     string    `json:"total_amount"`
	Source          string    `json:"source"`
	PaidAt          time.Time `json:"paid_at"`
}

// OrderPaymentFailedEvent is emitted when the processor rejects session creation.
type OrderPaymentFailedEvent struct {
	OrderID     uint64    `json:"order_id"`
	TotalAmount string    `json:"total_amount"`
	Reason      string    `json:"reason"`
	FailedAt    time.Time `json:"failed_at"`
}

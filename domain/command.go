package domain

// CreateCommand is the caller-supplied intent to charge a customer.
type CreateCommand struct {
	IdempotencyKey string            `json:"idempotencyKey"`
	MerchantID     string            `json:"merchantId"`
	Amount         float64           `json:"amount"`
	Currency       string            `json:"currency"`
	PaymentMethod  PaymentMethod     `json:"paymentMethod"`
	Customer       Customer          `json:"customer"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

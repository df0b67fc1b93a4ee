// Package order builds and sends the create-order request that every
// virtual user iteration issues.
package order

// Fixed payload values.
const (
	AmountCents  int64 = 1999
	Currency           = "USD"
	UserIDPrefix       = "u-"
)

// Payload is the create-order request body. Field order matches the wire
// format.
type Payload struct {
	UserID         string `json:"user_id"`
	AmountCents    int64  `json:"amount_cents"`
	Currency       string `json:"currency"`
	IdempotencyKey string `json:"idempotency_key"`
}

// NewPayload builds the payload for one iteration. The user id is derived
// from the key so that each order also comes from a distinct user.
func NewPayload(key string) Payload {
	return Payload{
		UserID:         UserIDPrefix + key,
		AmountCents:    AmountCents,
		Currency:       Currency,
		IdempotencyKey: key,
	}
}

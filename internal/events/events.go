package events

// Domain event types recorded in the outbox for downstream notification
// consumers.
const (
	EventBookingConfirmed     = "booking.confirmed"
	EventBookingWaitlisted    = "booking.waitlisted"
	EventRegistrationPromoted = "registration.promoted"
	EventRegistrationCanceled = "registration.canceled"
	EventPaymentSucceeded     = "payment.succeeded"
	EventPaymentFailed        = "payment.failed"
	EventPaymentRefunded      = "payment.refunded"
	EventRefundPending        = "refund.pending"
	EventInvoiceIssued        = "invoice.issued"
)

// RegistrationPayload carries the minimal data a notifier needs to address
// the customer about a registration transition.
type RegistrationPayload struct {
	RegistrationID string `json:"registration_id"`
	OccurrenceID   string `json:"occurrence_id"`
	CustomerID     string `json:"customer_id"`
	Status         string `json:"status"`
}

func (p RegistrationPayload) ToMap() map[string]any {
	return map[string]any{
		"registration_id": p.RegistrationID,
		"occurrence_id":   p.OccurrenceID,
		"customer_id":     p.CustomerID,
		"status":          p.Status,
	}
}

// PaymentPayload carries the minimal data to roll up a payment transition.
type PaymentPayload struct {
	PaymentID      string `json:"payment_id"`
	RegistrationID string `json:"registration_id"`
	Rail           string `json:"rail"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
}

func (p PaymentPayload) ToMap() map[string]any {
	return map[string]any{
		"payment_id":      p.PaymentID,
		"registration_id": p.RegistrationID,
		"rail":            p.Rail,
		"amount":          p.Amount,
		"currency":        p.Currency,
	}
}

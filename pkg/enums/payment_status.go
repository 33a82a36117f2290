package enums

import "fmt"

// PaymentStatus tracks a credit purchase. Rows start pending and move
// exactly once to completed or failed.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
)

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending:   {PaymentStatusCompleted, PaymentStatusFailed},
	PaymentStatusCompleted: nil,
	PaymentStatusFailed:    nil,
}

func (p PaymentStatus) String() string {
	return string(p)
}

func (p PaymentStatus) IsValid() bool {
	_, ok := paymentTransitions[p]
	return ok
}

// IsTerminal reports whether no further transition is allowed.
func (p PaymentStatus) IsTerminal() bool {
	return p.IsValid() && len(paymentTransitions[p]) == 0
}

// CanTransitionTo reports whether next is a legal successor of p.
func (p PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	for _, allowed := range paymentTransitions[p] {
		if allowed == next {
			return true
		}
	}
	return false
}

func ParsePaymentStatus(value string) (PaymentStatus, error) {
	status := PaymentStatus(value)
	if !status.IsValid() {
		return "", fmt.Errorf("invalid payment status %q", value)
	}
	return status, nil
}

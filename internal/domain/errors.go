package domain

import "fmt"

// ValidationError marks a request rejected before any ledger interaction.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// InsufficientFundsError marks an order rejected for lack of buying power.
// The ledger is left untouched.
type InsufficientFundsError struct {
	PortfolioID string
	Required    float64
	Available   float64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: portfolio %s requires %.2f, available %.2f",
		e.PortfolioID, e.Required, e.Available)
}

// NotFoundError marks an operation referencing an unknown portfolio, order
// or position. Boolean-returning operations swallow it and return false.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

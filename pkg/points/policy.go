package points

import "fmt"

// ApplyCharge returns the balance after adding amount to current.
func ApplyCharge(current Points, amount Points) (Points, error) {
	if amount <= 0 {
		return current, fmt.Errorf("%w: charge amount %d", ErrNonPositiveAmount, amount)
	}
	// Compared by subtraction so that huge amounts cannot overflow.
	if amount > MaxBalance-current {
		return current, fmt.Errorf("%w: balance %d plus %d exceeds %d", ErrExceedsMaxBalance, current, amount, MaxBalance)
	}
	return current + amount, nil
}

// ApplyUse returns the balance after subtracting amount from current.
func ApplyUse(current Points, amount Points) (Points, error) {
	if amount <= 0 {
		return current, fmt.Errorf("%w: use amount %d", ErrNonPositiveAmount, amount)
	}
	if amount > current {
		return current, fmt.Errorf("%w: balance %d is less than %d", ErrInsufficientBalance, current, amount)
	}
	return current - amount, nil
}

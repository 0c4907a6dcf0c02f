package memory

import (
	"context"
	"errors"
	"fmt"
)

// TierError is the typed failure of a single adapter call.
type TierError struct {
	Tier  Tier
	Op    string
	Cause error
}

// NewTierError wraps cause for the given tier and operation. A cause that is
// already a TierError is returned unchanged.
func NewTierError(tier Tier, op string, cause error) *TierError {
	var te *TierError
	if errors.As(cause, &te) {
		return te
	}
	return &TierError{Tier: tier, Op: op, Cause: cause}
}

func (e *TierError) Error() string {
	return fmt.Sprintf("tier %s: %s: %v", e.Tier, e.Op, e.Cause)
}

func (e *TierError) Unwrap() error {
	return e.Cause
}

// Timeout reports whether the call ran out of time.
func (e *TierError) Timeout() bool {
	return errors.Is(e.Cause, context.DeadlineExceeded)
}

// DurabilityError is returned by a save when the relational tier did not
// acknowledge the write.
type DurabilityError struct {
	RecordID string
	Cause    error
}

func (e *DurabilityError) Error() string {
	return fmt.Sprintf("memory: durability failure for record %s: %v", e.RecordID, e.Cause)
}

func (e *DurabilityError) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is(err, ErrDurability) match.
func (e *DurabilityError) Is(target error) bool {
	return target == ErrDurability
}

// TierOf extracts the tier from err if it carries one.
func TierOf(err error) (Tier, bool) {
	var te *TierError
	if errors.As(err, &te) {
		return te.Tier, true
	}
	return "", false
}

package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrEventNotFound          = errors.New("event not found")
	ErrTicketNotFound         = errors.New("ticket not found")
	ErrInvalidInput           = errors.New("invalid input")
	ErrInternalServerError    = errors.New("internal server error")
	ErrEventClosed            = errors.New("event closed")
	ErrNoValidSelections      = errors.New("no valid selections")
	ErrDuplicateSubmission    = errors.New("duplicate submission")
	ErrCapacityExceeded       = errors.New("capacity exceeded")
	ErrOwnershipViolation     = errors.New("ticket belongs to another vendor")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrStoreUnavailable       = errors.New("store unavailable")
	ErrLimitBelowSold         = errors.New("limit below sold count")
)

// CapacityExceededError 配額不足：帶有號碼、請求數量與剩餘數量
type CapacityExceededError struct {
	Number    string
	Requested int
	Remaining int
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("capacity exceeded for number %s: requested %d, remaining %d", e.Number, e.Requested, e.Remaining)
}

func (e *CapacityExceededError) Is(target error) bool {
	return target == ErrCapacityExceeded
}

// Unavailable 將底層錯誤標記為暫時性的儲存層錯誤
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrLockHeld      = errors.New("lock already held")
	ErrWSDisconnect  = errors.New("websocket disconnected")

	// Validation
	ErrInvalidLeverage         = errors.New("invalid leverage")
	ErrPositionTooSmall        = errors.New("position too small")
	ErrInvalidCollateralAmount = errors.New("invalid collateral amount")
	ErrInvalidExpirationTime   = errors.New("invalid expiration time")
	ErrInvalidSide             = errors.New("invalid position side")
	ErrAmountTooSmall          = errors.New("amount too small")
	ErrInvalidPriceFeed        = errors.New("invalid price feed")

	// Stale data
	ErrStalePriceFeed        = errors.New("stale price feed")
	ErrUnverifiedPriceUpdate = errors.New("unverified price update")

	// Arithmetic
	ErrMathOverflow   = errors.New("math overflow")
	ErrDivisionByZero = errors.New("division by zero")

	// Insufficient funds
	ErrInsufficientFunds          = errors.New("insufficient funds")
	ErrInsufficientVaultBalance   = errors.New("insufficient vault balance")
	ErrInsufficientPoolBalance    = errors.New("insufficient pool balance")
	ErrInsufficientRewardReserves = errors.New("insufficient reward reserves")

	// Invalid state transition
	ErrPositionAlreadySettled = errors.New("position already settled")
	ErrPositionNotSettled     = errors.New("position not settled")
	ErrPositionLiquidated     = errors.New("position liquidated")
	ErrPositionAlreadyClaimed = errors.New("position already claimed")
	ErrInvalidPositionStatus  = errors.New("invalid position status")
	ErrProgramPaused          = errors.New("program paused")
	ErrOrderNotOpen           = errors.New("order not open")

	ErrUnauthorizedAccess = errors.New("unauthorized access")
)

// ErrorKind groups engine errors for callers that react to the class of
// failure rather than the exact cause.
type ErrorKind string

const (
	KindValidation        ErrorKind = "validation"
	KindStaleData         ErrorKind = "stale_data"
	KindArithmetic        ErrorKind = "arithmetic"
	KindInsufficientFunds ErrorKind = "insufficient_funds"
	KindInvalidState      ErrorKind = "invalid_state_transition"
	KindNotFound          ErrorKind = "not_found"
	KindConflict          ErrorKind = "conflict"
	KindUnauthorized      ErrorKind = "unauthorized"
	KindInternal          ErrorKind = "internal"
)

var errorKinds = []struct {
	err  error
	kind ErrorKind
}{
	{ErrInvalidLeverage, KindValidation},
	{ErrPositionTooSmall, KindValidation},
	{ErrInvalidCollateralAmount, KindValidation},
	{ErrInvalidExpirationTime, KindValidation},
	{ErrInvalidSide, KindValidation},
	{ErrAmountTooSmall, KindValidation},
	{ErrInvalidPriceFeed, KindValidation},
	{ErrStalePriceFeed, KindStaleData},
	{ErrUnverifiedPriceUpdate, KindStaleData},
	{ErrMathOverflow, KindArithmetic},
	{ErrDivisionByZero, KindArithmetic},
	{ErrInsufficientFunds, KindInsufficientFunds},
	{ErrInsufficientVaultBalance, KindInsufficientFunds},
	{ErrInsufficientPoolBalance, KindInsufficientFunds},
	{ErrInsufficientRewardReserves, KindInsufficientFunds},
	{ErrPositionAlreadySettled, KindInvalidState},
	{ErrPositionNotSettled, KindInvalidState},
	{ErrPositionLiquidated, KindInvalidState},
	{ErrPositionAlreadyClaimed, KindInvalidState},
	{ErrInvalidPositionStatus, KindInvalidState},
	{ErrProgramPaused, KindInvalidState},
	{ErrOrderNotOpen, KindInvalidState},
	{ErrNotFound, KindNotFound},
	{ErrAlreadyExists, KindConflict},
	{ErrLockHeld, KindConflict},
	{ErrUnauthorizedAccess, KindUnauthorized},
}

// KindOf classifies err. Unknown errors are KindInternal.
func KindOf(err error) ErrorKind {
	for _, ek := range errorKinds {
		if errors.Is(err, ek.err) {
			return ek.kind
		}
	}
	return KindInternal
}

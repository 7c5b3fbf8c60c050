package p2p

import "errors"

// Domain errors. Operations wrap these with detail; callers match with errors.Is.
var (
	ErrValidation               = errors.New("invalid input")
	ErrNotFound                 = errors.New("not found")
	ErrSelfTrade                = errors.New("cannot trade against own order")
	ErrAmountOutOfRange         = errors.New("amount outside order limits")
	ErrUnsupportedPaymentMethod = errors.New("payment method not accepted by order")
	ErrUnauthorized             = errors.New("actor not permitted to perform this operation")
	ErrInvalidState             = errors.New("operation not allowed in current status")
)

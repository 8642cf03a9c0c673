package exception

import "errors"

var (
	ErrOrderValidation      = errors.New("order: validation failed")
	ErrOrderDuplicateID     = errors.New("order: client order id already exists")
	ErrOrderUnmatched       = errors.New("order: no matching order for execution report")
	ErrOrderNotReplaceable  = errors.New("order: not in a replaceable state")
	ErrOrderNotCancelable   = errors.New("order: not in a cancelable state")
	ErrOrderTerminal        = errors.New("order: order is in a terminal state")
	ErrOrderSessionNotReady = errors.New("order: target session is not logged on")
)

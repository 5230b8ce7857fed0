package exception

import "github.com/yanun0323/errors"

var (
	ErrOrderDuplicate         = errors.New("order: duplicate order id")
	ErrOrderUnknown           = errors.New("order: unknown order id")
	ErrOrderInvalidTransition = errors.New("order: invalid state transition")
	ErrOrderOverfill          = errors.New("order: fill exceeds requested quantity")
	ErrOrderInvalidFill       = errors.New("order: invalid fill quantity")
)

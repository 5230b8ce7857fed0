package exception

import "github.com/yanun0323/errors"

var (
	ErrStoreClosed        = errors.New("store: closed")
	ErrStoreCycleNotFound = errors.New("store: cycle not found")
	ErrWriteFrozen        = errors.New("store: writes frozen")
	ErrPartitionBusy      = errors.New("partition: lock not acquired")
)

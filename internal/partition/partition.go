// Package partition serializes writers per (account, mode). One partition has at most one
// writer at a time; different partitions proceed in parallel.
package partition

import (
	"context"
	"sync"

	"spotledger/internal/schema"
	"spotledger/pkg/exception"

	"github.com/yanun0323/errors"
)

// Release gives a held partition back.
type Release func() error

// Locker grants exclusive write access to a partition.
type Locker interface {
	// Lock blocks until the partition is held or ctx is done.
	Lock(ctx context.Context, p schema.PartitionKey) (Release, error)
}

// LocalLocker is an in-process keyed mutex.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[schema.PartitionKey]chan struct{}
}

// NewLocalLocker returns an empty locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[schema.PartitionKey]chan struct{})}
}

func (l *LocalLocker) slot(p schema.PartitionKey) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[p]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[p] = ch
	}
	return ch
}

func (l *LocalLocker) Lock(ctx context.Context, p schema.PartitionKey) (Release, error) {
	ch := l.slot(p)
	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return nil, errors.Wrapf(exception.ErrPartitionBusy, "partition %s: %s", p, ctx.Err())
	}
	var once sync.Once
	return func() error {
		once.Do(func() { <-ch })
		return nil
	}, nil
}

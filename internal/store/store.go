// Package store defines the persistence port of the ledger core and the helpers every
// backend shares. Backends are append-only: a committed cycle is never rewritten.
package store

import (
	"context"
	"sort"
	"time"

	"spotledger/internal/admission"
	"spotledger/internal/schema"
	"spotledger/internal/state"

	"github.com/yanun0323/errors"
)

// Store persists committed cycle records.
type Store interface {
	// Commit appends one sealed cycle atomically. It fails with ErrWriteFrozen while the
	// gate is frozen and with an AppendOnlyViolation when any row identity already exists
	// or the hour does not follow the partition's last committed hour.
	Commit(ctx context.Context, gate *admission.Gate, rec *schema.CycleRecord) error
	// LoadCycle returns the record committed under key.
	LoadCycle(ctx context.Context, key schema.RunKey) (*schema.CycleRecord, error)
	// FindCycle returns the record committed for a partition hour.
	FindCycle(ctx context.Context, p schema.PartitionKey, hour time.Time) (*schema.CycleRecord, error)
	// ListCycles returns the records of a partition with from <= hour < to in hour order.
	// A zero bound is unbounded.
	ListCycles(ctx context.Context, p schema.PartitionKey, from, to time.Time) ([]*schema.CycleRecord, error)
	// LoadManifest returns the replay manifest committed under key.
	LoadManifest(ctx context.Context, key schema.RunKey) (schema.ReplayManifest, error)
	// Partitions lists every partition with at least one committed cycle.
	Partitions(ctx context.Context) ([]schema.PartitionKey, error)
	Close() error
}

// Head rebuilds the committed head of a partition.
func Head(ctx context.Context, s Store, p schema.PartitionKey) (*state.Head, error) {
	return HeadBefore(ctx, s, p, time.Time{})
}

// HeadBefore rebuilds the head of a partition from every cycle committed before hour.
// A zero hour folds the whole history.
func HeadBefore(ctx context.Context, s Store, p schema.PartitionKey, hour time.Time) (*state.Head, error) {
	records, err := s.ListCycles(ctx, p, time.Time{}, hour)
	if err != nil {
		return nil, errors.Wrap(err, "list cycles").With("partition", p.String())
	}
	return state.Rebuild(p, records)
}

// InRange reports whether hour lies in [from, to) with zero bounds open.
func InRange(hour, from, to time.Time) bool {
	if !from.IsZero() && hour.Before(from) {
		return false
	}
	if !to.IsZero() && !hour.Before(to) {
		return false
	}
	return true
}

// SortPartitions orders partitions by account then mode.
func SortPartitions(ps []schema.PartitionKey) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].AccountID != ps[j].AccountID {
			return ps[i].AccountID < ps[j].AccountID
		}
		return ps[i].Mode < ps[j].Mode
	})
}

/*
Core runs account-hours end to end.

# Flow
  - partition lock: one writer per (account, mode)
  - input: feed source, profile in force, account cash and seed, venue faults
  - head: committed partition state rebuilt from the store
  - cycle: pure decision, order lifecycle and ledger pipeline
  - unit of work: end-of-batch validation, then one atomic store commit

# Sharded
  - accountId + mode
*/
package core

import (
	"context"
	"time"

	"spotledger/internal/admission"
	"spotledger/internal/cycle"
	"spotledger/internal/feed"
	"spotledger/internal/ledger"
	"spotledger/internal/obs"
	"spotledger/internal/ops"
	"spotledger/internal/order"
	"spotledger/internal/partition"
	"spotledger/internal/risk"
	"spotledger/internal/schema"
	"spotledger/internal/store"
	"spotledger/internal/uow"
	"spotledger/pkg/exception"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

// FaultSource reports venue faults that the next cycle must carry.
type FaultSource interface {
	Faults() []schema.FaultSignal
}

// Config wires a Service. Gate, Faults and Metrics are optional.
type Config struct {
	Store           store.Store
	Locker          partition.Locker
	Gate            *admission.Gate
	Venue           order.Venue
	Faults          FaultSource
	Profiles        *risk.Book
	Source          feed.Source
	Metrics         *obs.Metrics
	Accounts        []ops.Account
	CodeVersionHash string
}

// Service executes and commits account-hours.
type Service struct {
	cfg Config
}

// New validates cfg and returns a service.
func New(cfg Config) (*Service, error) {
	if cfg.Store == nil || cfg.Locker == nil || cfg.Venue == nil || cfg.Profiles == nil {
		return nil, errors.Wrap(exception.ErrNilInstance, "store, locker, venue and profiles are required")
	}
	return &Service{cfg: cfg}, nil
}

// Partitions returns the configured partitions.
func (s *Service) Partitions() []schema.PartitionKey {
	out := make([]schema.PartitionKey, 0, len(s.cfg.Accounts))
	for _, a := range s.cfg.Accounts {
		out = append(out, a.Partition)
	}
	return out
}

func (s *Service) account(p schema.PartitionKey) (ops.Account, error) {
	for _, a := range s.cfg.Accounts {
		if a.Partition == p {
			return a, nil
		}
	}
	return ops.Account{}, errors.Wrapf(exception.ErrNotFound, "partition %s is not configured", p)
}

// ExecuteHour pulls the hour's input from the feed source and executes it.
func (s *Service) ExecuteHour(ctx context.Context, p schema.PartitionKey, hour time.Time) (*schema.CycleRecord, error) {
	if s.cfg.Source == nil {
		return nil, errors.Wrap(exception.ErrNilInstance, "no feed source")
	}
	in, err := s.cfg.Source.Input(ctx, p, hour)
	if err != nil {
		return nil, errors.Wrap(err, "load input").With("partition", p.String())
	}
	return s.Execute(ctx, in)
}

// Execute completes in with account, profile and fault data, runs the cycle on the
// committed head and commits it. On any failure nothing is written.
func (s *Service) Execute(ctx context.Context, in *schema.CycleInput) (*schema.CycleRecord, error) {
	if in == nil {
		return nil, exception.ErrNilInstance
	}
	p := in.Partition()
	release, err := s.cfg.Locker.Lock(ctx, p)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := release(); err != nil {
			logs.Errorf("release partition %s, err: %+v", p, err)
		}
	}()

	start := time.Now()
	rec, err := s.execute(ctx, in)
	if err != nil {
		s.cfg.Metrics.ObserveFailure(p.Mode, err)
		logs.Errorf("cycle %s at %s discarded, err: %+v", p, schema.TruncateHour(in.OriginHour).Format(time.RFC3339), err)
		return nil, err
	}
	elapsed := time.Since(start)
	s.cfg.Metrics.ObserveCycle(rec, elapsed)
	logs.Infof("cycle %s committed: signals=%d orders=%d fills=%d ledger=%d events=%d root=%s (%s)",
		rec.Key(), len(rec.Signals), len(rec.Orders), len(rec.Fills), len(rec.Ledger), len(rec.Events),
		rec.Manifest.ReplayRootHash, elapsed)
	return rec, nil
}

func (s *Service) execute(ctx context.Context, in *schema.CycleInput) (*schema.CycleRecord, error) {
	prepared, err := s.prepare(*in)
	if err != nil {
		return nil, err
	}
	head, err := store.Head(ctx, s.cfg.Store, prepared.Partition())
	if err != nil {
		return nil, err
	}
	rec, err := cycle.Execute(ctx, prepared, head, s.cfg.Venue)
	if err != nil {
		return nil, err
	}
	if err := uow.Commit(ctx, s.cfg.Store, s.cfg.Gate, uow.Batch{Head: head, Record: rec}); err != nil {
		return nil, err
	}
	return rec, nil
}

// prepare fills the fields a feed leaves empty. Values already present are kept.
func (s *Service) prepare(in schema.CycleInput) (schema.CycleInput, error) {
	p := in.Partition()
	acct, err := s.account(p)
	if err != nil {
		return in, err
	}
	in.OriginHour = schema.TruncateHour(in.OriginHour)
	if in.Seed == 0 {
		in.Seed = acct.Seed
	}
	if in.CodeVersionHash == "" {
		in.CodeVersionHash = s.cfg.CodeVersionHash
	}
	if in.OpeningCash.IsZero() {
		in.OpeningCash = acct.OpeningCash
	}
	if in.Profile.ProfileID == "" {
		profile, err := s.cfg.Profiles.Active(p.AccountID, in.OriginHour)
		if err != nil {
			return in, err
		}
		in.Profile = profile
	}
	if s.cfg.Faults != nil {
		in.Faults = mergeFaults(in.Faults, s.cfg.Faults.Faults())
	}
	return in, nil
}

func mergeFaults(have, add []schema.FaultSignal) []schema.FaultSignal {
	out := append([]schema.FaultSignal(nil), have...)
	for _, f := range add {
		dup := false
		for _, h := range out {
			if h == f {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, f)
		}
	}
	return out
}

// LedgerReport is the result of a full chain verification.
type LedgerReport struct {
	Partition schema.PartitionKey
	Cycles    int
	Tip       ledger.Tip
}

// VerifyLedger folds every committed cycle of a partition, re-checking the cash chain,
// lot consumption and hour ordering along the way.
func (s *Service) VerifyLedger(ctx context.Context, p schema.PartitionKey) (LedgerReport, error) {
	head, err := store.Head(ctx, s.cfg.Store, p)
	if err != nil {
		return LedgerReport{}, err
	}
	logs.Infof("ledger %s verified: cycles=%d seq=%d balance=%s", p, head.Cycles, head.Ledger.Seq, head.Ledger.Balance)
	return LedgerReport{Partition: p, Cycles: head.Cycles, Tip: head.Ledger}, nil
}

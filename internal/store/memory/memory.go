// Package memory is the in-process store backend. walstore keeps one as its read model.
package memory

import (
	"context"
	"sync"
	"time"

	"spotledger/internal/admission"
	internalerrors "spotledger/internal/errors"
	"spotledger/internal/schema"
	"spotledger/internal/store"
	"spotledger/pkg/exception"

	"github.com/yanun0323/errors"
)

var _ store.Store = (*Store)(nil)

// Store keeps committed cycles in memory, one hour-ordered slice per partition.
type Store struct {
	mu     sync.RWMutex
	parts  map[schema.PartitionKey][]*schema.CycleRecord
	byKey  map[string]*schema.CycleRecord
	index  *store.Index
	closed bool
}

// New returns an empty store.
func New() *Store {
	return &Store{
		parts: make(map[schema.PartitionKey][]*schema.CycleRecord),
		byKey: make(map[string]*schema.CycleRecord),
		index: store.NewIndex(),
	}
}

// Check runs every admission check Commit would run without writing anything.
func (s *Store) Check(gate *admission.Gate, rec *schema.CycleRecord) error {
	if err := gate.Admit(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.check(rec)
}

func (s *Store) check(rec *schema.CycleRecord) error {
	if s.closed {
		return exception.ErrStoreClosed
	}
	if rec == nil {
		return exception.ErrNilInstance
	}
	if !rec.Run.Completed || rec.Manifest.ReplayRootHash == "" {
		return errors.Wrapf(exception.ErrInvalidArgument, "cycle %s is not sealed", rec.Key())
	}
	if _, ok := s.byKey[rec.Key().String()]; ok {
		return internalerrors.Violationf(exception.ErrAppendOnlyViolation, schema.TableRunContext, rec.Key().String(), "run key already committed")
	}
	if recs := s.parts[rec.Partition()]; len(recs) > 0 {
		last := recs[len(recs)-1].Run.OriginHour
		if !rec.Run.OriginHour.After(last) {
			return internalerrors.Violationf(exception.ErrAppendOnlyViolation, schema.TableRunContext, rec.Key().String(),
				"hour %s does not follow committed hour %s", rec.Run.OriginHour.UTC(), last.UTC())
		}
	}
	return s.index.CheckNew(rec)
}

// Append stores rec without checks and takes ownership of it. Callers run Check first.
func (s *Store) Append(rec *schema.CycleRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.append(rec)
}

func (s *Store) append(rec *schema.CycleRecord) {
	p := rec.Partition()
	s.parts[p] = append(s.parts[p], rec)
	s.byKey[rec.Key().String()] = rec
	s.index.Add(rec)
}

func (s *Store) Commit(ctx context.Context, gate *admission.Gate, rec *schema.CycleRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := gate.Admit(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(rec); err != nil {
		return err
	}
	cp, err := store.Clone(rec)
	if err != nil {
		return err
	}
	s.append(cp)
	return nil
}

func (s *Store) LoadCycle(_ context.Context, key schema.RunKey) (*schema.CycleRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, exception.ErrStoreClosed
	}
	rec, ok := s.byKey[key.String()]
	if !ok {
		return nil, errors.Wrapf(exception.ErrStoreCycleNotFound, "key: %s", key)
	}
	return store.Clone(rec)
}

func (s *Store) FindCycle(_ context.Context, p schema.PartitionKey, hour time.Time) (*schema.CycleRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, exception.ErrStoreClosed
	}
	hour = schema.TruncateHour(hour)
	for _, rec := range s.parts[p] {
		if rec.Run.OriginHour.Equal(hour) {
			return store.Clone(rec)
		}
	}
	return nil, errors.Wrapf(exception.ErrStoreCycleNotFound, "partition: %s, hour: %s", p, hour)
}

func (s *Store) ListCycles(_ context.Context, p schema.PartitionKey, from, to time.Time) ([]*schema.CycleRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, exception.ErrStoreClosed
	}
	var out []*schema.CycleRecord
	for _, rec := range s.parts[p] {
		if !store.InRange(rec.Run.OriginHour, from, to) {
			continue
		}
		cp, err := store.Clone(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

func (s *Store) LoadManifest(ctx context.Context, key schema.RunKey) (schema.ReplayManifest, error) {
	rec, err := s.LoadCycle(ctx, key)
	if err != nil {
		return schema.ReplayManifest{}, err
	}
	return rec.Manifest, nil
}

func (s *Store) Partitions(_ context.Context) ([]schema.PartitionKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, exception.ErrStoreClosed
	}
	out := make([]schema.PartitionKey, 0, len(s.parts))
	for p := range s.parts {
		out = append(out, p)
	}
	store.SortPartitions(out)
	return out, nil
}

// Rows returns the number of committed row identities.
func (s *Store) Rows() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.Len()
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

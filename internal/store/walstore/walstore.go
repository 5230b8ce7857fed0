// Package walstore is the durable default store: every committed cycle is one fsynced,
// checksummed journal record, and the read model is rebuilt from the journal on open.
package walstore

import (
	"context"
	"sync"
	"time"

	"spotledger/internal/admission"
	"spotledger/internal/recorder"
	"spotledger/internal/schema"
	"spotledger/internal/store"
	"spotledger/internal/store/memory"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

var _ store.Store = (*Store)(nil)

// Store appends cycles to a journal and serves reads from memory.
type Store struct {
	mu  sync.Mutex
	cfg recorder.Config
	w   *recorder.Writer
	mem *memory.Store
}

// Open repairs a torn tail, replays the journal into memory and opens the writer.
func Open(ctx context.Context, cfg recorder.Config) (*Store, error) {
	w, err := recorder.NewWriter(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "open journal writer").With("dir", cfg.Dir)
	}

	mem := memory.New()
	p, err := recorder.NewPlayback(recorder.PlaybackConfig{Dir: cfg.Dir, FilePrefix: cfg.FilePrefix})
	if err != nil {
		_ = w.Close()
		return nil, err
	}
	count := 0
	err = p.Run(ctx, func(h recorder.Header, payload []byte) error {
		if h.Kind != recorder.KindCycle {
			return nil
		}
		rec, err := store.Decode(payload)
		if err != nil {
			return errors.Wrapf(err, "journal seq %d", h.Seq)
		}
		if err := mem.Check(nil, rec); err != nil {
			return errors.Wrapf(err, "journal seq %d", h.Seq)
		}
		mem.Append(rec)
		count++
		return nil
	})
	if err != nil {
		_ = w.Close()
		return nil, errors.Wrap(err, "rebuild from journal").With("dir", cfg.Dir)
	}

	logs.Infof("walstore opened, dir: %s, cycles: %d, seq: %d", cfg.Dir, count, w.Seq())
	return &Store{cfg: cfg, w: w, mem: mem}, nil
}

func (s *Store) Commit(ctx context.Context, gate *admission.Gate, rec *schema.CycleRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.mem.Check(gate, rec); err != nil {
		return err
	}
	payload, err := store.Encode(rec)
	if err != nil {
		return err
	}
	if _, err := s.w.Append(recorder.Header{
		Kind: recorder.KindCycle,
		Hour: rec.Run.OriginHour.Unix(),
	}, payload); err != nil {
		return errors.Wrap(err, "append journal").With("key", rec.Key().String())
	}

	cp, err := store.Decode(payload)
	if err != nil {
		return err
	}
	s.mem.Append(cp)
	return nil
}

func (s *Store) LoadCycle(ctx context.Context, key schema.RunKey) (*schema.CycleRecord, error) {
	return s.mem.LoadCycle(ctx, key)
}

func (s *Store) FindCycle(ctx context.Context, p schema.PartitionKey, hour time.Time) (*schema.CycleRecord, error) {
	return s.mem.FindCycle(ctx, p, hour)
}

func (s *Store) ListCycles(ctx context.Context, p schema.PartitionKey, from, to time.Time) ([]*schema.CycleRecord, error) {
	return s.mem.ListCycles(ctx, p, from, to)
}

func (s *Store) LoadManifest(ctx context.Context, key schema.RunKey) (schema.ReplayManifest, error) {
	return s.mem.LoadManifest(ctx, key)
}

func (s *Store) Partitions(ctx context.Context) ([]schema.PartitionKey, error) {
	return s.mem.Partitions(ctx)
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.mem.Close()
	return s.w.Close()
}

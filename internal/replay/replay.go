// Package replay re-derives committed cycles from their recorded inputs and verifies that
// every stored row, table hash and replay root is reproduced exactly. Replay only reads;
// it never takes the partition lock and never writes.
package replay

import (
	"context"
	"strconv"
	"time"

	"spotledger/internal/cycle"
	"spotledger/internal/hashing"
	"spotledger/internal/schema"
	"spotledger/internal/state"
	"spotledger/internal/store"
	"spotledger/internal/uow"
	"spotledger/internal/venue"
	"spotledger/pkg/exception"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

// Engine replays cycles committed to a store.
type Engine struct {
	store store.Store
}

// New returns an engine reading from s.
func New(s store.Store) *Engine {
	return &Engine{store: s}
}

// ReplayHour rebuilds the state before the stored cycle, re-runs the cycle with its
// recorded inputs and fills, and compares the result row by row with what was committed.
func (e *Engine) ReplayHour(ctx context.Context, key schema.RunKey) (Verdict, error) {
	stored, err := e.store.LoadCycle(ctx, key)
	if err != nil {
		return Verdict{}, err
	}
	v := Verdict{Pass: true, Hours: 1}
	head, err := e.headBefore(ctx, key.Partition(), stored.Run.OriginHour, &v)
	if err != nil {
		return Verdict{}, err
	}
	if head != nil {
		if v, err = e.replay(ctx, head, stored); err != nil {
			return Verdict{}, err
		}
	}
	logs.Infof("replay %s: pass=%t mismatches=%d", key, v.Pass, len(v.Mismatches))
	return v, nil
}

// ReplayWindow replays every stored hour of a partition with from <= hour < to. The head
// advances with the committed records; a record that cannot be applied ends the window.
func (e *Engine) ReplayWindow(ctx context.Context, p schema.PartitionKey, from, to time.Time) (Verdict, error) {
	out := Verdict{Pass: true}
	head, err := e.headBefore(ctx, p, from, &out)
	if err != nil {
		return Verdict{}, err
	}
	if head == nil {
		return out, nil
	}
	records, err := e.store.ListCycles(ctx, p, from, to)
	if err != nil {
		return Verdict{}, errors.Wrap(err, "list cycles").With("partition", p.String())
	}

	for _, stored := range records {
		if err := ctx.Err(); err != nil {
			return Verdict{}, err
		}
		v, err := e.replay(ctx, head, stored)
		if err != nil {
			return Verdict{}, errors.Wrap(err, "replay cycle").With("run", stored.Key().String())
		}
		out.merge(v)
		out.Root = v.Root
		if err := head.Apply(stored); err != nil {
			out.fail(stored, "applicable", err)
			break
		}
	}
	logs.Infof("replay window %s [%s, %s): hours=%d pass=%t mismatches=%d",
		p, hashing.CanonicalTime(from), hashing.CanonicalTime(to), out.Hours, out.Pass, len(out.Mismatches))
	return out, nil
}

// ReplayManifest recomputes the replay root and run seed from the stored rows alone and
// compares them with the committed manifest.
func (e *Engine) ReplayManifest(ctx context.Context, key schema.RunKey) (Verdict, error) {
	stored, err := e.store.LoadCycle(ctx, key)
	if err != nil {
		return Verdict{}, err
	}
	manifest, err := e.store.LoadManifest(ctx, key)
	if err != nil {
		return Verdict{}, err
	}

	run := key.String()
	v := Verdict{Pass: true, Hours: 1}
	checkSelfHashes(&v, run, stored)

	if seed := hashing.RunSeed(stored.Run.SeedInput()); seed != manifest.RunSeedHash || seed != stored.Run.RunSeedHash {
		v.add(run, schema.TableRunContext, "run_seed_hash", manifest.RunSeedHash, seed)
	}
	built := stored.BuildManifest()
	compareManifest(&v, run, manifest, built)
	v.Root = built.ReplayRootHash
	logs.Infof("replay manifest %s: pass=%t mismatches=%d", key, v.Pass, len(v.Mismatches))
	return v, nil
}

// CompareManifests checks that two runs sharing a run seed produced the same replay root,
// row count and table hashes.
func CompareManifests(a, b schema.ReplayManifest) (Verdict, error) {
	if a.RunSeedHash != b.RunSeedHash {
		return Verdict{}, errors.Wrapf(exception.ErrInvalidArgument, "run seed hashes differ: %s, %s", a.RunSeedHash, b.RunSeedHash)
	}
	v := Verdict{Pass: true, Hours: 1, Root: a.ReplayRootHash}
	compareManifest(&v, a.Key.String()+" vs "+b.Key.String(), a, b)
	return v, nil
}

func (e *Engine) replay(ctx context.Context, head *state.Head, stored *schema.CycleRecord) (Verdict, error) {
	if err := uow.CheckWalkForward(&stored.Input); err != nil {
		return Verdict{}, err
	}

	manifest, err := e.store.LoadManifest(ctx, stored.Key())
	if err != nil {
		return Verdict{}, err
	}

	run := stored.Key().String()
	v := Verdict{Pass: true, Hours: 1}
	replayed, err := cycle.Execute(ctx, stored.Input, head, venue.NewRecorded(stored.Input.Fills))
	if err != nil {
		if ctx.Err() != nil {
			return Verdict{}, errors.Wrap(err, "re-execute cycle")
		}
		v.fail(stored, "replayable", err)
		checkSelfHashes(&v, run, stored)
		return v, nil
	}
	if err := (uow.Batch{Head: head, Record: replayed}).Validate(); err != nil {
		v.fail(stored, "valid", err)
	}

	v.Root = replayed.Manifest.ReplayRootHash
	checkSelfHashes(&v, run, stored)
	compareRows(&v, run, stored, replayed)
	compareManifest(&v, run, manifest, replayed.Manifest)
	return v, nil
}

// headBefore folds every record committed before hour. A record that no longer applies
// is reported on v and the returned head is nil.
func (e *Engine) headBefore(ctx context.Context, p schema.PartitionKey, hour time.Time, v *Verdict) (*state.Head, error) {
	head := state.NewHead(p)
	if hour.IsZero() {
		return head, nil
	}
	records, err := e.store.ListCycles(ctx, p, time.Time{}, hour)
	if err != nil {
		return nil, errors.Wrap(err, "list cycles").With("partition", p.String())
	}
	for _, rec := range records {
		if err := head.Apply(rec); err != nil {
			v.fail(rec, "applicable", err)
			return nil, nil
		}
	}
	return head, nil
}

func checkSelfHashes(v *Verdict, run string, rec *schema.CycleRecord) {
	for _, set := range rec.TableRows() {
		for _, row := range set.Rows {
			if got := schema.ComputeHash(row); got != row.StoredHash() {
				v.add(run, set.Table, row.Key(), row.StoredHash(), got)
			}
		}
	}
}

func compareRows(v *Verdict, run string, stored, replayed *schema.CycleRecord) {
	want := stored.TableRows()
	got := replayed.TableRows()
	for i, set := range want {
		actual := make(map[string]string, len(got[i].Rows))
		for _, row := range got[i].Rows {
			actual[row.Key()] = row.StoredHash()
		}
		for _, row := range set.Rows {
			h, ok := actual[row.Key()]
			delete(actual, row.Key())
			if !ok {
				v.add(run, set.Table, row.Key(), row.StoredHash(), "")
				continue
			}
			if h != row.StoredHash() {
				v.add(run, set.Table, row.Key(), row.StoredHash(), h)
			}
		}
		for _, row := range got[i].Rows {
			if h, extra := actual[row.Key()]; extra {
				v.add(run, set.Table, row.Key(), "", h)
			}
		}
	}
}

func compareManifest(v *Verdict, run string, want, got schema.ReplayManifest) {
	if want.ReplayRootHash != got.ReplayRootHash {
		v.add(run, tableManifest, "replay_root_hash", want.ReplayRootHash, got.ReplayRootHash)
	}
	if want.AuthoritativeRowCount != got.AuthoritativeRowCount {
		v.add(run, tableManifest, "authoritative_row_count",
			strconv.Itoa(want.AuthoritativeRowCount), strconv.Itoa(got.AuthoritativeRowCount))
	}
	actual := make(map[string]hashing.TableHash, len(got.TableHashes))
	for _, t := range got.TableHashes {
		actual[t.Table] = t
	}
	for _, t := range want.TableHashes {
		if a, ok := actual[t.Table]; !ok || a.Hash != t.Hash || a.Rows != t.Rows {
			v.add(run, t.Table, "", t.Hash+"/"+strconv.Itoa(t.Rows), a.Hash+"/"+strconv.Itoa(a.Rows))
		}
	}
}

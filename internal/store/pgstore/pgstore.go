// Package pgstore persists committed cycles in PostgreSQL through gorm. Every statement
// is an insert; primary and unique keys reject any attempt to rewrite history.
package pgstore

import (
	"context"
	"encoding/json"
	"time"

	"spotledger/internal/admission"
	internalerrors "spotledger/internal/errors"
	"spotledger/internal/schema"
	"spotledger/internal/store"
	"spotledger/pkg/exception"

	"github.com/yanun0323/errors"
	"gorm.io/gorm"
)

const identityBatchSize = 500

var _ store.Store = (*Store)(nil)

// Store is the PostgreSQL backend.
type Store struct {
	db *gorm.DB
}

// New wraps an opened gorm connection. The connection is owned by the caller.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the tables and keys the store relies on.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&cycleRow{}, &ledgerRow{}, &manifestRow{}, &identityRow{}); err != nil {
		return errors.Wrap(err, "auto migrate")
	}
	return nil
}

func (s *Store) Commit(ctx context.Context, gate *admission.Gate, rec *schema.CycleRecord) error {
	if err := gate.Admit(); err != nil {
		return err
	}
	if rec == nil {
		return exception.ErrNilInstance
	}
	if !rec.Run.Completed || rec.Manifest.ReplayRootHash == "" {
		return errors.Wrapf(exception.ErrInvalidArgument, "cycle %s is not sealed", rec.Key())
	}

	payload, err := store.Encode(rec)
	if err != nil {
		return err
	}
	tableHashes, err := json.Marshal(rec.Manifest.TableHashes)
	if err != nil {
		return errors.Wrap(err, "marshal table hashes")
	}

	key := rec.Key()
	hour := key.OriginHour.UTC()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var hours []time.Time
		if err := tx.Model(&cycleRow{}).
			Where("account_id = ? AND mode = ?", key.AccountID, key.Mode.String()).
			Order("origin_hour DESC").
			Limit(1).
			Pluck("origin_hour", &hours).Error; err != nil {
			return errors.Wrap(err, "query last hour")
		}
		if len(hours) > 0 && !hour.After(hours[0]) {
			return internalerrors.Violationf(exception.ErrAppendOnlyViolation, schema.TableRunContext, key.String(),
				"hour %s does not follow committed hour %s", hour, hours[0].UTC())
		}

		if err := tx.Create(&cycleRow{
			RunID:          key.RunID,
			AccountID:      key.AccountID,
			Mode:           key.Mode.String(),
			OriginHour:     hour,
			RunSeedHash:    rec.Run.RunSeedHash,
			ReplayRootHash: rec.Manifest.ReplayRootHash,
			Payload:        payload,
		}).Error; err != nil {
			return errors.Wrap(err, "insert cycle")
		}

		if ledger := ledgerRowsOf(rec.Ledger); len(ledger) > 0 {
			if err := tx.Create(&ledger).Error; err != nil {
				return errors.Wrap(err, "insert ledger")
			}
		}

		if err := tx.Create(&manifestRow{
			RunID:                 key.RunID,
			AccountID:             key.AccountID,
			Mode:                  key.Mode.String(),
			OriginHour:            hour,
			RunSeedHash:           rec.Manifest.RunSeedHash,
			ReplayRootHash:        rec.Manifest.ReplayRootHash,
			AuthoritativeRowCount: rec.Manifest.AuthoritativeRowCount,
			TableHashes:           tableHashes,
			Version:               rec.Manifest.Version,
		}).Error; err != nil {
			return errors.Wrap(err, "insert manifest")
		}

		ids := identityRowsOf(rec)
		if err := tx.CreateInBatches(&ids, identityBatchSize).Error; err != nil {
			return errors.Wrap(err, "insert row identities")
		}
		return nil
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return internalerrors.Violationf(exception.ErrAppendOnlyViolation, schema.TableRunContext, key.String(), "%s", err.Error())
	}
	return err
}

func (s *Store) LoadCycle(ctx context.Context, key schema.RunKey) (*schema.CycleRecord, error) {
	var row cycleRow
	err := s.db.WithContext(ctx).
		Where("run_id = ? AND account_id = ? AND mode = ? AND origin_hour = ?", key.RunID, key.AccountID, key.Mode.String(), key.OriginHour.UTC()).
		Take(&row).Error
	if err != nil {
		return nil, notFound(err, key.String())
	}
	return store.Decode(row.Payload)
}

func (s *Store) FindCycle(ctx context.Context, p schema.PartitionKey, hour time.Time) (*schema.CycleRecord, error) {
	hour = schema.TruncateHour(hour)
	var row cycleRow
	err := s.db.WithContext(ctx).
		Where("account_id = ? AND mode = ? AND origin_hour = ?", p.AccountID, p.Mode.String(), hour).
		Take(&row).Error
	if err != nil {
		return nil, notFound(err, p.String()+"@"+hour.Format(time.RFC3339))
	}
	return store.Decode(row.Payload)
}

func (s *Store) ListCycles(ctx context.Context, p schema.PartitionKey, from, to time.Time) ([]*schema.CycleRecord, error) {
	q := s.db.WithContext(ctx).Where("account_id = ? AND mode = ?", p.AccountID, p.Mode.String())
	if !from.IsZero() {
		q = q.Where("origin_hour >= ?", from.UTC())
	}
	if !to.IsZero() {
		q = q.Where("origin_hour < ?", to.UTC())
	}

	var rows []cycleRow
	if err := q.Order("origin_hour ASC").Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "list cycles").With("partition", p.String())
	}
	out := make([]*schema.CycleRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := store.Decode(row.Payload)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *Store) LoadManifest(ctx context.Context, key schema.RunKey) (schema.ReplayManifest, error) {
	var row manifestRow
	err := s.db.WithContext(ctx).
		Where("run_id = ? AND account_id = ? AND mode = ? AND origin_hour = ?", key.RunID, key.AccountID, key.Mode.String(), key.OriginHour.UTC()).
		Take(&row).Error
	if err != nil {
		return schema.ReplayManifest{}, notFound(err, key.String())
	}

	m := schema.ReplayManifest{
		Key:                   key,
		RunSeedHash:           row.RunSeedHash,
		ReplayRootHash:        row.ReplayRootHash,
		AuthoritativeRowCount: row.AuthoritativeRowCount,
		Version:               row.Version,
	}
	if err := json.Unmarshal(row.TableHashes, &m.TableHashes); err != nil {
		return schema.ReplayManifest{}, errors.Wrap(err, "unmarshal table hashes")
	}
	return m, nil
}

func (s *Store) Partitions(ctx context.Context) ([]schema.PartitionKey, error) {
	var rows []struct {
		AccountID string
		Mode      string
	}
	if err := s.db.WithContext(ctx).Model(&cycleRow{}).Distinct("account_id", "mode").Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "list partitions")
	}
	out := make([]schema.PartitionKey, 0, len(rows))
	for _, row := range rows {
		mode, err := schema.ParseRunMode(row.Mode)
		if err != nil {
			return nil, err
		}
		out = append(out, schema.PartitionKey{AccountID: row.AccountID, Mode: mode})
	}
	store.SortPartitions(out)
	return out, nil
}

// Close is a no-op; the connection belongs to the caller.
func (s *Store) Close() error {
	return nil
}

func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errors.Wrapf(exception.ErrStoreCycleNotFound, "key: %s", what)
	}
	return errors.Wrap(err, "query").With("key", what)
}

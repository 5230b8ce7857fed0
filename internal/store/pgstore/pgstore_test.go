package pgstore

import (
	"testing"
	"time"

	"spotledger/internal/cycle"
	"spotledger/internal/fixture"
	"spotledger/internal/schema"
	"spotledger/internal/state"
	"spotledger/internal/store"
	"spotledger/pkg/conn"
	"spotledger/pkg/exception"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yanun0323/errors"
)

var partition = schema.PartitionKey{AccountID: "acct", Mode: schema.RunModePaper}

func newStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	client, err := conn.New(conn.Option{Conn: db})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(client.DB()), mock
}

func entry(t *testing.T) *schema.CycleRecord {
	t.Helper()
	rec, err := cycle.Execute(t.Context(), *fixture.EntryInput("acct", fixture.Hour0), state.NewHead(partition), fixture.Venue())
	require.NoError(t, err)
	return rec
}

func TestCommitWritesOneTransaction(t *testing.T) {
	s, mock := newStore(t)
	rec := entry(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .* FROM "cycle_records"`).
		WillReturnRows(sqlmock.NewRows([]string{"origin_hour"}))
	mock.ExpectExec(`INSERT INTO "cycle_records"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO "cash_ledger"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO "replay_manifests"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO "row_identities"`).
		WillReturnResult(sqlmock.NewResult(0, int64(rec.Manifest.AuthoritativeRowCount)))
	mock.ExpectCommit()

	require.NoError(t, s.Commit(t.Context(), nil, rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitRejectsStaleHour(t *testing.T) {
	s, mock := newStore(t)
	rec := entry(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .* FROM "cycle_records"`).
		WillReturnRows(sqlmock.NewRows([]string{"origin_hour"}).AddRow(fixture.Hour0))
	mock.ExpectRollback()

	err := s.Commit(t.Context(), nil, rec)
	assert.True(t, errors.Is(err, exception.ErrAppendOnlyViolation))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitMapsUniqueViolation(t *testing.T) {
	s, mock := newStore(t)
	rec := entry(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .* FROM "cycle_records"`).
		WillReturnRows(sqlmock.NewRows([]string{"origin_hour"}))
	mock.ExpectExec(`INSERT INTO "cycle_records"`).
		WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"})
	mock.ExpectRollback()

	err := s.Commit(t.Context(), nil, rec)
	assert.True(t, errors.Is(err, exception.ErrAppendOnlyViolation))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitRejectsUnsealed(t *testing.T) {
	s, mock := newStore(t)
	rec := entry(t)
	rec.Run.Completed = false

	err := s.Commit(t.Context(), nil, rec)
	assert.True(t, errors.Is(err, exception.ErrInvalidArgument))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadCycleDecodesPayload(t *testing.T) {
	s, mock := newStore(t)
	rec := entry(t)
	payload, err := store.Encode(rec)
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT \* FROM "cycle_records" WHERE`).
		WillReturnRows(sqlmock.NewRows([]string{"run_id", "account_id", "mode", "origin_hour", "payload"}).
			AddRow(rec.Run.RunID, "acct", "PAPER", fixture.Hour0, payload))

	got, err := s.LoadCycle(t.Context(), rec.Key())
	require.NoError(t, err)
	assert.Equal(t, rec.Manifest.ReplayRootHash, got.BuildManifest().ReplayRootHash)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadCycleNotFound(t *testing.T) {
	s, mock := newStore(t)

	mock.ExpectQuery(`SELECT \* FROM "cycle_records" WHERE`).
		WillReturnRows(sqlmock.NewRows([]string{"run_id"}))

	_, err := s.FindCycle(t.Context(), partition, fixture.Hour0.Add(10*time.Minute))
	assert.True(t, errors.Is(err, exception.ErrStoreCycleNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadManifest(t *testing.T) {
	s, mock := newStore(t)
	rec := entry(t)

	hashes := `[{"table":"order_fill","rows":1,"hash":"abc"}]`
	mock.ExpectQuery(`SELECT \* FROM "replay_manifests" WHERE`).
		WillReturnRows(sqlmock.NewRows([]string{"run_id", "replay_root_hash", "authoritative_row_count", "table_hashes", "version"}).
			AddRow(rec.Run.RunID, "root", 11, []byte(hashes), "v1"))

	m, err := s.LoadManifest(t.Context(), rec.Key())
	require.NoError(t, err)
	assert.Equal(t, "root", m.ReplayRootHash)
	assert.Equal(t, 11, m.AuthoritativeRowCount)
	require.Len(t, m.TableHashes, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPartitions(t *testing.T) {
	s, mock := newStore(t)

	mock.ExpectQuery(`SELECT DISTINCT .* FROM "cycle_records"`).
		WillReturnRows(sqlmock.NewRows([]string{"account_id", "mode"}).
			AddRow("b", "PAPER").
			AddRow("a", "BACKTEST"))

	parts, err := s.Partitions(t.Context())
	require.NoError(t, err)
	require.Len(t, parts, 2)
	assert.Equal(t, "a", parts[0].AccountID)
	assert.Equal(t, schema.RunModeBacktest, parts[0].Mode)
	require.NoError(t, mock.ExpectationsWereMet())
}

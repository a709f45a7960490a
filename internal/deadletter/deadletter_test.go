package deadletter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/angelmondragon/txnflow/pkg/db/models"
	pkgerrors "github.com/angelmondragon/txnflow/pkg/errors"
	"github.com/angelmondragon/txnflow/pkg/events"
	"github.com/angelmondragon/txnflow/pkg/logger"
	"github.com/angelmondragon/txnflow/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&models.DeadLetter{}))
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return conn
}

func sampleRecord(t *testing.T, txnID string, failedAt time.Time) events.DeadLetterRecord {
	t.Helper()
	cmd, err := events.New(events.TypeTransactionInitiated, txnID, "u1", events.TransactionInitiated{
		From:     "acc1",
		To:       "acc2",
		Amount:   events.AmountFromInt(100),
		Currency: "USD",
	})
	require.NoError(t, err)
	cause := pkgerrors.Wrap(pkgerrors.CodeProcessing, errors.New("broker unavailable"), "publish txn.FundsReserved")
	return events.NewDeadLetter(cmd, cause, failedAt)
}

func newTestService(t *testing.T) (*service, *Repository) {
	t.Helper()
	repo := NewRepository(newTestDB(t))
	svc, err := NewService(repo)
	require.NoError(t, err)
	s := svc.(*service)
	s.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return s, repo
}

func TestArchiveStoresRecordOnce(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	failedAt := time.Date(2026, 3, 1, 11, 59, 0, 0, time.UTC)
	rec := sampleRecord(t, "txn-1", failedAt)

	inserted, err := svc.Archive(ctx, rec)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = svc.Archive(ctx, rec)
	require.NoError(t, err)
	assert.False(t, inserted, "redelivered records are not archived twice")

	row, err := repo.FindByEventID(ctx, rec.OriginalEvent.ID)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "txn-1", row.TransactionID)
	assert.Equal(t, "u1", row.UserID)
	assert.Equal(t, string(events.TypeTransactionInitiated), row.EventType)
	assert.Contains(t, row.ErrorMessage, "broker unavailable")
	assert.NotEmpty(t, row.ErrorStack)
	assert.True(t, row.FailedAt.Equal(failedAt))

	original, err := events.Parse([]byte(row.OriginalEvent))
	require.NoError(t, err)
	assert.Equal(t, rec.OriginalEvent.ID, original.ID)
}

func TestArchiveFallsBackToCommandTime(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	rec := sampleRecord(t, "txn-1", time.Time{})
	rec.Error.Timestamp = 0
	rec.OriginalEvent.TS = time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC).UnixMilli()

	_, err := svc.Archive(ctx, rec)
	require.NoError(t, err)
	row, err := repo.FindByEventID(ctx, rec.OriginalEvent.ID)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.True(t, row.FailedAt.Equal(time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)), "got %s", row.FailedAt)

	rec = sampleRecord(t, "txn-2", time.Time{})
	rec.Error.Timestamp = 0
	rec.OriginalEvent.TS = 0
	_, err = svc.Archive(ctx, rec)
	require.NoError(t, err)
	row, err = repo.FindByEventID(ctx, rec.OriginalEvent.ID)
	require.NoError(t, err)
	assert.True(t, row.FailedAt.Equal(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)))
}

func TestFindByEventIDMissing(t *testing.T) {
	_, repo := newTestService(t)
	row, err := repo.FindByEventID(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestListNewestFirstAndFiltered(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i, txn := range []string{"txn-a", "txn-b", "txn-a"} {
		_, err := svc.Archive(ctx, sampleRecord(t, txn, base.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
	}

	all, err := svc.List(ctx, ListQuery{})
	require.NoError(t, err)
	require.Len(t, all.Items, 3)
	assert.Empty(t, all.NextCursor)
	assert.True(t, all.Items[0].FailedAt.After(all.Items[1].FailedAt))
	assert.True(t, json.Valid(all.Items[0].OriginalEvent))

	filtered, err := svc.List(ctx, ListQuery{TransactionID: "txn-a", Limit: 1})
	require.NoError(t, err)
	require.Len(t, filtered.Items, 1)
	assert.Equal(t, "txn-a", filtered.Items[0].TransactionID)
	assert.True(t, filtered.Items[0].FailedAt.Equal(base.Add(2*time.Minute)))
	require.NotEmpty(t, filtered.NextCursor)

	next, err := svc.List(ctx, ListQuery{TransactionID: "txn-a", Limit: 1, Cursor: filtered.NextCursor})
	require.NoError(t, err)
	require.Len(t, next.Items, 1)
	assert.True(t, next.Items[0].FailedAt.Equal(base))
	assert.Empty(t, next.NextCursor)
}

func TestListRejectsBadCursor(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.List(context.Background(), ListQuery{Cursor: "%%%"})
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
}

func TestInsertTruncatesLongErrors(t *testing.T) {
	_, repo := newTestService(t)
	long := make([]byte, maxErrorMessageLen+50)
	for i := range long {
		long[i] = 'x'
	}
	_, err := repo.Insert(context.Background(), models.DeadLetter{
		EventID:       "evt-1",
		TransactionID: "txn-1",
		EventType:     string(events.TypeTransactionInitiated),
		OriginalEvent: "{}",
		ErrorMessage:  string(long),
		FailedAt:      time.Now(),
		ArchivedAt:    time.Now(),
	})
	require.NoError(t, err)
	row, err := repo.FindByEventID(context.Background(), "evt-1")
	require.NoError(t, err)
	assert.Len(t, row.ErrorMessage, maxErrorMessageLen)
}

type failingService struct{}

func (failingService) Archive(context.Context, events.DeadLetterRecord) (bool, error) {
	return false, errors.New("db down")
}

func (failingService) List(context.Context, ListQuery) (*Page, error) { return &Page{}, nil }

func TestConsumerProcess(t *testing.T) {
	svc, _ := newTestService(t)
	reg := prometheus.NewRegistry()
	c := &Consumer{service: svc, logg: logger.Nop(), metrics: metrics.NewArchiveMetrics(reg)}
	ctx := context.Background()

	data, err := sampleRecord(t, "txn-1", time.Now()).Marshal()
	require.NoError(t, err)

	assert.Equal(t, resultMalformed, c.process(ctx, []byte(`{"originalEvent":`)))
	assert.Equal(t, resultMalformed, c.process(ctx, []byte(`{"originalEvent":{},"error":{}}`)))
	assert.Equal(t, resultArchived, c.process(ctx, data))
	assert.Equal(t, resultDuplicate, c.process(ctx, data))

	failing := &Consumer{service: failingService{}, logg: logger.Nop()}
	assert.Equal(t, resultFailed, failing.process(ctx, data))

	series, err := testutil.GatherAndCount(reg, "txnflow_dlq_records_total")
	require.NoError(t, err)
	assert.Equal(t, 3, series)
}

func TestConstructorsValidate(t *testing.T) {
	_, err := NewService(nil)
	require.Error(t, err)
	_, err = NewConsumer(nil, failingService{}, nil, logger.Nop())
	require.Error(t, err)
}

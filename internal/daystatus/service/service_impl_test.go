package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MMatviiuk/medtrack/internal/clock"
	daystatusdomain "github.com/MMatviiuk/medtrack/internal/daystatus/domain"
	daystatusrepo "github.com/MMatviiuk/medtrack/internal/daystatus/repository"
	doseeventdomain "github.com/MMatviiuk/medtrack/internal/doseevent/domain"
	doseeventrepo "github.com/MMatviiuk/medtrack/internal/doseevent/repository"
	"github.com/MMatviiuk/medtrack/pkg/db"
	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db     *gorm.DB
	node   *snowflake.Node
	clock  *clock.FakeClock
	events doseeventdomain.Repository
	svc    daystatusdomain.Service
	owner  snowflake.ID
	tmpl   snowflake.ID
	med    snowflake.ID
}

func setup(t *testing.T, now time.Time) *fixture {
	t.Helper()

	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&doseeventdomain.DoseEvent{}, &daystatusdomain.DayStatus{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	fake := clock.NewFakeClock(now)
	events := doseeventrepo.Provide()
	svc := New(Params{
		DB:     conn,
		Log:    zap.NewNop(),
		Clock:  fake,
		Repo:   daystatusrepo.Provide(),
		Events: events,
	})

	return &fixture{
		db:     conn,
		node:   node,
		clock:  fake,
		events: events,
		svc:    svc,
		owner:  node.Generate(),
		tmpl:   node.Generate(),
		med:    node.Generate(),
	}
}

func (f *fixture) seed(t *testing.T, at time.Time, status doseeventdomain.Status) {
	t.Helper()
	_, err := f.events.BulkInsert(context.Background(), f.db, []doseeventdomain.DoseEvent{{
		ID:           f.node.Generate(),
		OwnerID:      f.owner,
		TemplateID:   f.tmpl,
		MedicationID: f.med,
		DateTime:     at,
		Timezone:     "UTC",
		Status:       status,
		CreatedAt:    at,
		UpdatedAt:    at,
	}})
	require.NoError(t, err)
}

func (f *fixture) cachedRows(t *testing.T) []daystatusdomain.DayStatus {
	t.Helper()
	var rows []daystatusdomain.DayStatus
	require.NoError(t, f.db.Where("owner_id = ?", f.owner).Order("calendar_date ASC, timezone ASC").Find(&rows).Error)
	return rows
}

func TestRecomputeMixedDayIsPartialInPastAndFuture(t *testing.T) {
	ctx := context.Background()
	f := setup(t, time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC))

	for _, day := range []time.Time{
		time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC),
	} {
		f.seed(t, day.Add(8*time.Hour), doseeventdomain.StatusPlanned)
		f.seed(t, day.Add(14*time.Hour), doseeventdomain.StatusPlanned)
		f.seed(t, day.Add(20*time.Hour), doseeventdomain.StatusDone)
	}

	future, err := f.svc.Recompute(ctx, f.owner, "2025-03-12", "UTC")
	require.NoError(t, err)
	assert.Equal(t, daystatusdomain.StatusPartial, future.Status)
	assert.Equal(t, 3, future.TotalCount)
	assert.Equal(t, 2, future.PlannedCount)
	assert.Equal(t, 1, future.TakenCount)

	past, err := f.svc.Recompute(ctx, f.owner, "2025-03-05", "UTC")
	require.NoError(t, err)
	assert.Equal(t, daystatusdomain.StatusPartial, past.Status)
}

func TestRecomputeUpsertsExistingRow(t *testing.T) {
	ctx := context.Background()
	f := setup(t, time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))

	f.seed(t, time.Date(2025, 3, 3, 8, 0, 0, 0, time.UTC), doseeventdomain.StatusPlanned)
	row, err := f.svc.Recompute(ctx, f.owner, "2025-03-03", "UTC")
	require.NoError(t, err)
	assert.Equal(t, daystatusdomain.StatusScheduled, row.Status)

	f.seed(t, time.Date(2025, 3, 3, 20, 0, 0, 0, time.UTC), doseeventdomain.StatusDone)
	row, err = f.svc.Recompute(ctx, f.owner, "2025-03-03", "UTC")
	require.NoError(t, err)
	assert.Equal(t, daystatusdomain.StatusPartial, row.Status)

	rows := f.cachedRows(t)
	require.Len(t, rows, 1)
	assert.Equal(t, 2, rows[0].TotalCount)
}

func TestRecomputeBucketsByTimezone(t *testing.T) {
	ctx := context.Background()
	f := setup(t, time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))

	// 23:30 UTC on the 3rd is 01:30 on the 4th in Kyiv.
	f.seed(t, time.Date(2025, 3, 3, 23, 30, 0, 0, time.UTC), doseeventdomain.StatusPlanned)

	utc, err := f.svc.Recompute(ctx, f.owner, "2025-03-03", "UTC")
	require.NoError(t, err)
	assert.Equal(t, 1, utc.TotalCount)

	kyivSame, err := f.svc.Recompute(ctx, f.owner, "2025-03-03", "Europe/Kyiv")
	require.NoError(t, err)
	assert.Equal(t, 0, kyivSame.TotalCount)
	assert.Equal(t, daystatusdomain.StatusNone, kyivSame.Status)

	kyivNext, err := f.svc.Recompute(ctx, f.owner, "2025-03-04", "Europe/Kyiv")
	require.NoError(t, err)
	assert.Equal(t, 1, kyivNext.TotalCount)
}

func TestRecomputeRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	f := setup(t, time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))

	_, err := f.svc.Recompute(ctx, 0, "2025-03-03", "UTC")
	assert.ErrorIs(t, err, daystatusdomain.ErrInvalidOwner)
	_, err = f.svc.Recompute(ctx, f.owner, "03/03/2025", "UTC")
	assert.ErrorIs(t, err, daystatusdomain.ErrInvalidDate)
	_, err = f.svc.Recompute(ctx, f.owner, "2025-03-03", "Mars/Olympus")
	assert.ErrorIs(t, err, daystatusdomain.ErrInvalidTimezone)
}

func TestRecomputeManyIsolatesFailures(t *testing.T) {
	ctx := context.Background()
	f := setup(t, time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))

	f.seed(t, time.Date(2025, 3, 3, 8, 0, 0, 0, time.UTC), doseeventdomain.StatusPlanned)
	f.seed(t, time.Date(2025, 3, 4, 8, 0, 0, 0, time.UTC), doseeventdomain.StatusPlanned)

	err := f.svc.RecomputeMany(ctx, f.owner, []string{"2025-03-03", "not-a-date", "2025-03-04", "2025-03-03"}, "UTC")
	require.Error(t, err)
	assert.True(t, errors.Is(err, daystatusdomain.ErrInvalidDate))

	rows := f.cachedRows(t)
	require.Len(t, rows, 2)
	assert.Equal(t, "2025-03-03", rows[0].Date)
	assert.Equal(t, "2025-03-04", rows[1].Date)
}

func TestInvalidateDropsRowsInEveryTimezone(t *testing.T) {
	ctx := context.Background()
	f := setup(t, time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))

	_, err := f.svc.Recompute(ctx, f.owner, "2025-03-03", "UTC")
	require.NoError(t, err)
	_, err = f.svc.Recompute(ctx, f.owner, "2025-03-03", "Europe/Kyiv")
	require.NoError(t, err)
	_, err = f.svc.Recompute(ctx, f.owner, "2025-03-04", "UTC")
	require.NoError(t, err)

	require.NoError(t, f.svc.Invalidate(ctx, f.owner, []string{"2025-03-03"}))

	rows := f.cachedRows(t)
	require.Len(t, rows, 1)
	assert.Equal(t, "2025-03-04", rows[0].Date)
}

func TestReadRangeIsCompleteAndFillsMissingRows(t *testing.T) {
	ctx := context.Background()
	f := setup(t, time.Date(2025, 3, 4, 12, 0, 0, 0, time.UTC))

	f.seed(t, time.Date(2025, 3, 2, 8, 0, 0, 0, time.UTC), doseeventdomain.StatusDone)
	f.seed(t, time.Date(2025, 3, 3, 8, 0, 0, 0, time.UTC), doseeventdomain.StatusPlanned)
	f.seed(t, time.Date(2025, 3, 5, 8, 0, 0, 0, time.UTC), doseeventdomain.StatusPlanned)

	_, err := f.svc.Recompute(ctx, f.owner, "2025-03-02", "UTC")
	require.NoError(t, err)

	got, err := f.svc.ReadRange(ctx, f.owner, "2025-03-01", "2025-03-06", "UTC")
	require.NoError(t, err)
	require.Len(t, got, 6)

	assert.Equal(t, daystatusdomain.StatusNone, got["2025-03-01"].Status)
	assert.Equal(t, daystatusdomain.StatusAllTaken, got["2025-03-02"].Status)
	assert.Equal(t, daystatusdomain.StatusMissed, got["2025-03-03"].Status)
	assert.Equal(t, daystatusdomain.StatusNone, got["2025-03-04"].Status)
	assert.Equal(t, daystatusdomain.StatusScheduled, got["2025-03-05"].Status)
	assert.Equal(t, daystatusdomain.StatusNone, got["2025-03-06"].Status)

	assert.Len(t, f.cachedRows(t), 6, "missing rows are persisted")
}

func TestReadRangeRederivesStatusAcrossMidnight(t *testing.T) {
	ctx := context.Background()
	f := setup(t, time.Date(2025, 3, 3, 6, 0, 0, 0, time.UTC))

	f.seed(t, time.Date(2025, 3, 3, 8, 0, 0, 0, time.UTC), doseeventdomain.StatusPlanned)

	got, err := f.svc.ReadRange(ctx, f.owner, "2025-03-03", "2025-03-03", "UTC")
	require.NoError(t, err)
	assert.Equal(t, daystatusdomain.StatusScheduled, got["2025-03-03"].Status)

	f.clock.Advance(24 * time.Hour)

	got, err = f.svc.ReadRange(ctx, f.owner, "2025-03-03", "2025-03-03", "UTC")
	require.NoError(t, err)
	assert.Equal(t, daystatusdomain.StatusMissed, got["2025-03-03"].Status)
}

func TestReadRangeRejectsBadRanges(t *testing.T) {
	ctx := context.Background()
	f := setup(t, time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))

	_, err := f.svc.ReadRange(ctx, f.owner, "2025-03-05", "2025-03-01", "UTC")
	assert.ErrorIs(t, err, daystatusdomain.ErrInvalidRange)

	_, err = f.svc.ReadRange(ctx, f.owner, "2024-01-01", "2025-12-31", "UTC")
	assert.ErrorIs(t, err, daystatusdomain.ErrRangeTooLarge)

	_, err = f.svc.ReadRange(ctx, f.owner, "2025-03-01", "tomorrow", "UTC")
	assert.ErrorIs(t, err, daystatusdomain.ErrInvalidDate)
}

func TestRecomputeAsyncRefreshesAfterDrain(t *testing.T) {
	ctx := context.Background()
	f := setup(t, time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))

	f.seed(t, time.Date(2025, 3, 3, 8, 0, 0, 0, time.UTC), doseeventdomain.StatusPlanned)
	stale, err := f.svc.Recompute(ctx, f.owner, "2025-03-04", "UTC")
	require.NoError(t, err)
	require.Equal(t, daystatusdomain.StatusNone, stale.Status)

	f.svc.RecomputeAsync(f.owner, []string{"2025-03-03"}, "UTC")

	drainCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, f.svc.Drain(drainCtx))

	rows := f.cachedRows(t)
	require.Len(t, rows, 1, "neighbouring rows are invalidated, the touched date recomputed")
	assert.Equal(t, "2025-03-03", rows[0].Date)
	assert.Equal(t, daystatusdomain.StatusScheduled, rows[0].Status)
}

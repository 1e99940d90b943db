package autodelete

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"castbot/internal/storage"
	"castbot/internal/transport"
	"castbot/internal/transport/transporttest"
	logx "castbot/pkg/logx"
)

type fixture struct {
	sched *Scheduler
	fake  *transporttest.Fake
	now   *time.Time
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	st, err := storage.Open(
		storage.Config{Path: filepath.Join(t.TempDir(), "ad.sqlite3")},
		storage.WithNowFunc(func() time.Time { return now }),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	fake := transporttest.New()
	return fixture{sched: New(st, fake, logx.Nop()), fake: fake, now: &now}
}

func ref(chat int64, msg int) transport.MessageRef {
	return transport.MessageRef{ChatID: chat, MessageID: msg}
}

func TestRescheduleSupersedes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.sched.ScheduleTTL(ctx, ref(1, 10), time.Minute))
	require.NoError(t, f.sched.ScheduleTTL(ctx, ref(1, 10), time.Hour))

	n, err := f.sched.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// last write wins: not due after one minute
	*f.now = f.now.Add(2 * time.Minute)
	due, err := f.sched.DrainDue(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	*f.now = f.now.Add(time.Hour)
	due, err = f.sched.DrainDue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []transport.MessageRef{ref(1, 10)}, due)
}

func TestDrainOrderAndLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		require.NoError(t, f.sched.ScheduleTTL(ctx, ref(2, 100-i), time.Second))
	}
	*f.now = f.now.Add(time.Minute)

	due, err := f.sched.DrainDue(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, []transport.MessageRef{ref(2, 99), ref(2, 98), ref(2, 97)}, due)
}

func TestPurgeIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.sched.Schedule(ctx, ref(1, 1)))
	require.NoError(t, f.sched.Schedule(ctx, ref(1, 2)))
	*f.now = f.now.Add(DefaultTTL + time.Second)

	n, err := f.sched.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, f.fake.Deleted(), 2)

	n, err = f.sched.Purge(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, f.fake.Deleted(), 2)
}

func TestPurgeSwallowsExpectedFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fake.FailDelete(ref(1, 1), &transport.DeliveryError{Op: "deleteMessage", Kind: transport.KindNotFound})
	f.fake.FailDelete(ref(1, 2), &transport.DeliveryError{Op: "deleteMessage", Kind: transport.KindCantDelete})
	for i := 1; i <= 3; i++ {
		require.NoError(t, f.sched.ScheduleTTL(ctx, ref(1, i), time.Second))
	}
	*f.now = f.now.Add(time.Minute)

	n, err := f.sched.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pending, err := f.sched.Pending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestPurgeAbortsOnUnexpectedFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fake.FailDelete(ref(1, 2), &transport.DeliveryError{Op: "deleteMessage", Kind: transport.KindUnauthorized})
	for i := 1; i <= 3; i++ {
		require.NoError(t, f.sched.ScheduleTTL(ctx, ref(1, i), time.Second))
	}
	*f.now = f.now.Add(time.Minute)

	_, err := f.sched.Purge(ctx)
	require.Error(t, err)
	assert.Equal(t, transport.KindUnauthorized, transport.KindOf(err))

	// nothing forgotten, the batch is retried next run
	pending, err := f.sched.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, pending)

	f.fake.FailDelete(ref(1, 2), nil)
	_, err = f.sched.Purge(ctx)
	require.NoError(t, err)
	pending, err = f.sched.Pending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestRescheduleAllToPast(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.sched.SetBatchSize(100)
	for i := 1; i <= 4; i++ {
		require.NoError(t, f.sched.ScheduleTTL(ctx, ref(3, i), 24*time.Hour))
	}
	n, err := f.sched.RescheduleAllToPast(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 4, n)

	deleted, err := f.sched.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, deleted)
}

func TestScheduleIgnoresZeroMessage(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.sched.Schedule(context.Background(), transport.MessageRef{ChatID: 1}))
	n, err := f.sched.Pending(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

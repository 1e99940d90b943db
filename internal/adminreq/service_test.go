package adminreq

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"castbot/internal/autodelete"
	"castbot/internal/callback"
	"castbot/internal/storage"
	"castbot/internal/transport/transporttest"
	"castbot/internal/users"
	logx "castbot/pkg/logx"
)

type fixture struct {
	svc  *Service
	reg  *users.Registry
	fake *transporttest.Fake
	st   *storage.Store
	now  time.Time
}

func newFixture(t *testing.T, chats ...int64) *fixture {
	t.Helper()
	f := &fixture{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	st, err := storage.Open(
		storage.Config{Path: filepath.Join(t.TempDir(), "adminreq.sqlite3")},
		storage.WithNowFunc(func() time.Time { return f.now }),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	f.st = st
	f.reg = users.New(st)
	for _, id := range chats {
		_, err := f.reg.Upsert(context.Background(), users.Profile{ChatID: id, FirstName: "u"})
		require.NoError(t, err)
	}
	f.fake = transporttest.New()
	f.svc = New(st, f.reg, f.fake, autodelete.New(st, f.fake, logx.Nop()), logx.Nop())
	return f
}

func (f *fixture) dueAt(t *testing.T, chatID int64, messageID int) time.Time {
	t.Helper()
	var raw string
	err := f.st.WithCursor(context.Background(), false, func(c *storage.Cursor) error {
		return c.QueryRow(`SELECT delete_at FROM msgs_to_delete WHERE chat_id = ? AND message_id = ?`, chatID, messageID).Scan(&raw)
	})
	require.NoError(t, err)
	ts, err := storage.ParseTime(raw)
	require.NoError(t, err)
	return ts
}

func TestFirstClaimantIsPromoted(t *testing.T) {
	f := newFixture(t, 100)
	f.svc.Configure(5*time.Hour, "")
	ctx := context.Background()

	out, err := f.svc.TakeAdmin(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, OutcomePromoted, out)

	ok, err := f.reg.IsAdmin(ctx, 100)
	require.NoError(t, err)
	assert.True(t, ok)

	sent := f.fake.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, DefaultGreeting, sent[0].Text)
	assert.Equal(t, f.now.Add(5*time.Hour), f.dueAt(t, 100, sent[0].Ref.MessageID))

	reqs, _, err := f.svc.Requests().Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, reqs)
}

func TestBannedAndUnknownAreRefused(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()
	_, err := f.reg.SetBanned(ctx, 100, true)
	require.NoError(t, err)

	for _, id := range []int64{100, 999} {
		out, err := f.svc.TakeAdmin(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, OutcomeRefused, out)
		assert.Equal(t, []string{TextBanned}, f.fake.SentTo(id))
	}
}

func TestRequestAcceptedByAdmin(t *testing.T) {
	f := newFixture(t, 100, 200)
	ctx := context.Background()
	_, err := f.reg.SetAdmin(ctx, 100, true)
	require.NoError(t, err)

	out, err := f.svc.TakeAdmin(ctx, 200)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRequested, out)

	reqs, confs, err := f.svc.Requests().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, reqs)
	assert.Equal(t, 1, confs)

	prompts := f.fake.SentTo(100)
	require.Len(t, prompts, 1)
	sent := f.fake.Sent()
	var reqID int64
	for _, s := range sent {
		if s.Ref.ChatID == 100 {
			a, err := callback.Decode(s.Opt.Keyboard[0][0].Data)
			require.NoError(t, err)
			reqID = a.(callback.AcceptAdminRequest).RequestID
		}
	}
	require.NotZero(t, reqID)

	// a second claim while pending does not create another request
	out, err = f.svc.TakeAdmin(ctx, 200)
	require.NoError(t, err)
	assert.Equal(t, OutcomePending, out)

	require.NoError(t, f.svc.Resolve(ctx, 100, reqID, true))

	reqs, confs, err = f.svc.Requests().Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, reqs)
	assert.Zero(t, confs)

	ok, err := f.reg.IsAdmin(ctx, 200)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Contains(t, f.fake.SentTo(200), DefaultGreeting)

	edits := f.fake.Edited()
	require.Len(t, edits, 1)
	assert.Contains(t, edits[0].Text, "✅ Принято")
}

func TestConcurrentResolutionHasOneWinner(t *testing.T) {
	f := newFixture(t, 100, 101, 200)
	ctx := context.Background()
	_, err := f.reg.SetAdmin(ctx, 100, true)
	require.NoError(t, err)
	_, err = f.reg.SetAdmin(ctx, 101, true)
	require.NoError(t, err)

	_, err = f.svc.TakeAdmin(ctx, 200)
	require.NoError(t, err)
	id, existing, err := f.svc.Requests().Create(ctx, 200, "")
	require.NoError(t, err)
	require.True(t, existing)

	var (
		wg   sync.WaitGroup
		errs = make([]error, 2)
	)
	for i, accept := range []bool{true, false} {
		wg.Add(1)
		go func(i int, accept bool) {
			defer wg.Done()
			errs[i] = f.svc.Resolve(ctx, int64(100+i), id, accept)
		}(i, accept)
	}
	wg.Wait()

	var wins, losses int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrAlreadyResolved):
			losses++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, losses)

	// each prompt edited exactly once, candidate notified exactly once
	assert.Len(t, f.fake.Edited(), 2)
	assert.Len(t, f.fake.SentTo(200), 2) // request ack + verdict
}

func TestLateResolverIsNotified(t *testing.T) {
	f := newFixture(t, 100, 101, 200)
	ctx := context.Background()
	for _, id := range []int64{100, 101} {
		_, err := f.reg.SetAdmin(ctx, id, true)
		require.NoError(t, err)
	}
	_, err := f.svc.TakeAdmin(ctx, 200)
	require.NoError(t, err)
	id, _, err := f.svc.Requests().Create(ctx, 200, "")
	require.NoError(t, err)

	require.NoError(t, f.svc.Resolve(ctx, 100, id, true))
	before := len(f.fake.SentTo(101))
	assert.ErrorIs(t, f.svc.Resolve(ctx, 101, id, false), ErrAlreadyResolved)

	got := f.fake.SentTo(101)
	require.Len(t, got, before+1)
	assert.Equal(t, TextAlreadyResolved, got[len(got)-1])
}

func TestFailedPromptBookkeepingDropsRequest(t *testing.T) {
	f := newFixture(t, 100, 200)
	ctx := context.Background()
	_, err := f.reg.SetAdmin(ctx, 100, true)
	require.NoError(t, err)

	exec := func(q string) {
		t.Helper()
		require.NoError(t, f.st.WithCursor(ctx, true, func(c *storage.Cursor) error {
			_, err := c.Exec(q)
			return err
		}))
	}
	exec(`CREATE TRIGGER fail_confirmation BEFORE INSERT ON admin_request_confirmations
		BEGIN SELECT RAISE(ABORT, 'disk I/O error'); END`)

	_, err = f.svc.TakeAdmin(ctx, 200)
	require.Error(t, err)
	reqs, confs, err := f.svc.Requests().Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, reqs)
	assert.Zero(t, confs)

	edits := f.fake.Edited()
	require.Len(t, edits, 1)
	assert.Equal(t, TextAlreadyResolved, edits[0].Text)

	// the candidate can try again instead of being stuck as pending
	exec(`DROP TRIGGER fail_confirmation`)
	out, err := f.svc.TakeAdmin(ctx, 200)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRequested, out)
}

func TestRejectLeavesCandidateUnprivileged(t *testing.T) {
	f := newFixture(t, 100, 200)
	ctx := context.Background()
	_, err := f.reg.SetAdmin(ctx, 100, true)
	require.NoError(t, err)
	_, err = f.svc.TakeAdmin(ctx, 200)
	require.NoError(t, err)
	id, _, err := f.svc.Requests().Create(ctx, 200, "")
	require.NoError(t, err)

	require.NoError(t, f.svc.Resolve(ctx, 100, id, false))
	ok, err := f.reg.IsAdmin(ctx, 200)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Contains(t, f.fake.SentTo(200), TextRejected)
}

func TestNonAdminCannotResolve(t *testing.T) {
	f := newFixture(t, 100, 200, 300)
	ctx := context.Background()
	_, err := f.reg.SetAdmin(ctx, 100, true)
	require.NoError(t, err)
	_, err = f.svc.TakeAdmin(ctx, 200)
	require.NoError(t, err)
	id, _, err := f.svc.Requests().Create(ctx, 200, "")
	require.NoError(t, err)

	require.NoError(t, f.svc.Resolve(ctx, 300, id, true))
	assert.Equal(t, []string{TextNotAdmin}, f.fake.SentTo(300))
	reqs, _, err := f.svc.Requests().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, reqs)
}

func TestAlreadyAdminAndDrop(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()
	_, err := f.svc.TakeAdmin(ctx, 100)
	require.NoError(t, err)
	out, err := f.svc.TakeAdmin(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyAdmin, out)

	require.NoError(t, f.svc.DropAdmin(ctx, 100))
	ok, err := f.reg.IsAdmin(ctx, 100)
	require.NoError(t, err)
	assert.False(t, ok)
}

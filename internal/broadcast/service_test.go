package broadcast

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"castbot/internal/autodelete"
	"castbot/internal/callback"
	"castbot/internal/sendtasks"
	"castbot/internal/storage"
	"castbot/internal/transport/transporttest"
	"castbot/internal/users"
	logx "castbot/pkg/logx"
)

type fixture struct {
	svc   *Service
	fake  *transporttest.Fake
	queue *sendtasks.Queue
	reg   *users.Registry
	sched *autodelete.Scheduler
}

func newFixture(t *testing.T, chats ...int64) fixture {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "bc.sqlite3")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	ctx := context.Background()
	reg := users.New(st)
	for _, id := range chats {
		_, err := reg.Upsert(ctx, users.Profile{ChatID: id})
		require.NoError(t, err)
	}
	fake := transporttest.New()
	q := sendtasks.NewQueue(st, reg)
	sched := autodelete.New(st, fake, logx.Nop())
	return fixture{
		svc:   New(st, reg, q, fake, sched, logx.Nop()),
		fake:  fake,
		queue: q,
		reg:   reg,
		sched: sched,
	}
}

func (f fixture) promptTextID(t *testing.T) int64 {
	t.Helper()
	sent := f.fake.Sent()
	require.NotEmpty(t, sent)
	kb := sent[len(sent)-1].Opt.Keyboard
	require.Len(t, kb, 1)
	require.Len(t, kb[0], 2)
	a, err := callback.Decode(kb[0][1].Data)
	require.NoError(t, err)
	send, ok := a.(callback.Send)
	require.True(t, ok)
	return send.TextID
}

func TestSubmitRequiresAdmin(t *testing.T) {
	f := newFixture(t, 1)
	require.NoError(t, f.svc.Submit(context.Background(), 1, "hi"))

	assert.Equal(t, []string{TextNotAdmin}, f.fake.SentTo(1))
	n, err := f.svc.Drafts().Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestAcceptFansOutToActiveUsersPlusAuthor(t *testing.T) {
	f := newFixture(t, 1, 2, 3, 4)
	ctx := context.Background()
	_, err := f.reg.SetAdmin(ctx, 1, true)
	require.NoError(t, err)
	_, err = f.reg.SetBanned(ctx, 4, true)
	require.NoError(t, err)

	require.NoError(t, f.svc.Submit(ctx, 1, "Hello"))
	assert.Equal(t, []string{TextConfirmPrefix + "Hello"}, f.fake.SentTo(1))
	id := f.promptTextID(t)

	n, err := f.svc.Accept(ctx, 1, id)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	pending, err := f.queue.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, pending)

	tasks, err := f.queue.Drain(ctx, 10)
	require.NoError(t, err)
	last := tasks[len(tasks)-1]
	assert.Equal(t, int64(1), last.ChatID)
	assert.Equal(t, "✅ Отправлено 3 пользователям", last.Text)

	drafts, err := f.svc.Drafts().Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, drafts)

	edits := f.fake.Edited()
	require.Len(t, edits, 1)
	assert.Equal(t, "⌛ Отправка 3 пользователям...", edits[0].Text)
}

func TestSecondAcceptIsAlreadyProcessed(t *testing.T) {
	f := newFixture(t, 1, 2)
	ctx := context.Background()
	_, err := f.reg.SetAdmin(ctx, 1, true)
	require.NoError(t, err)
	_, err = f.reg.SetAdmin(ctx, 2, true)
	require.NoError(t, err)

	require.NoError(t, f.svc.Submit(ctx, 1, "x"))
	id := f.promptTextID(t)

	_, err = f.svc.Accept(ctx, 1, id)
	require.NoError(t, err)
	_, err = f.svc.Accept(ctx, 2, id)
	assert.True(t, errors.Is(err, ErrAlreadyProcessed))
	assert.Equal(t, []string{TextAlreadyProcessed}, f.fake.SentTo(2))

	// one fan-out only: two recipients plus one report
	pending, err := f.queue.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, pending)
}

func TestCancelDeletesDraftWithoutFanOut(t *testing.T) {
	f := newFixture(t, 1, 2, 3)
	ctx := context.Background()
	_, err := f.reg.SetAdmin(ctx, 1, true)
	require.NoError(t, err)

	require.NoError(t, f.svc.Submit(ctx, 1, "Hello"))
	id := f.promptTextID(t)

	require.NoError(t, f.svc.Cancel(ctx, 1, id))

	drafts, err := f.svc.Drafts().Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, drafts)
	pending, err := f.queue.Pending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)

	edits := f.fake.Edited()
	require.Len(t, edits, 1)
	assert.Equal(t, TextCancelled, edits[0].Text)

	err = f.svc.Cancel(ctx, 1, id)
	assert.True(t, errors.Is(err, ErrAlreadyProcessed))
}

func TestPromptIsScheduledForAutodelete(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	_, err := f.reg.SetAdmin(ctx, 1, true)
	require.NoError(t, err)

	require.NoError(t, f.svc.Submit(ctx, 1, "Hello"))
	n, err := f.sched.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

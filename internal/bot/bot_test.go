package bot

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"castbot/internal/adminreq"
	"castbot/internal/autodelete"
	"castbot/internal/broadcast"
	"castbot/internal/callback"
	"castbot/internal/moderation"
	"castbot/internal/sendtasks"
	"castbot/internal/storage"
	"castbot/internal/transport"
	"castbot/internal/transport/telegram/router"
	"castbot/internal/transport/transporttest"
	"castbot/internal/users"
	logx "castbot/pkg/logx"
)

type fixture struct {
	bot    *Bot
	fake   *transporttest.Fake
	reg    *users.Registry
	queue  *sendtasks.Queue
	expire *autodelete.Scheduler
	drafts *broadcast.Drafts
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "bot.sqlite3")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	log := logx.Nop()
	fake := transporttest.New()
	reg := users.New(st)
	expire := autodelete.New(st, fake, log)
	queue := sendtasks.NewQueue(st, reg)
	bc := broadcast.New(st, reg, queue, fake, expire, log)
	b := New(Deps{
		Users:      reg,
		Expire:     expire,
		Queue:      queue,
		Broadcast:  bc,
		Admins:     adminreq.New(st, reg, fake, expire, log),
		Moderation: moderation.New(reg, fake, expire, log),
		Msg:        fake,
		Log:        log,
	})
	return &fixture{bot: b, fake: fake, reg: reg, queue: queue, expire: expire, drafts: bc.Drafts()}
}

var nextMessageID = 1000

func message(chatID int64, text string) *router.Request {
	nextMessageID++
	m := &transport.Message{ID: nextMessageID, ChatID: chatID, FromID: chatID, FirstName: "User", Text: text, IsPrivate: true}
	return &router.Request{
		Update: transport.Update{Kind: transport.UpdateMessage, Message: m},
		ChatID: chatID,
		FromID: chatID,
		Args:   text,
		Logger: logx.Nop(),
	}
}

func press(chatID int64, messageID int) *router.Request {
	cb := &transport.Callback{ID: "cb", FromID: chatID, ChatID: chatID, MessageID: messageID}
	return &router.Request{
		Update: transport.Update{Kind: transport.UpdateCallback, Callback: cb},
		ChatID: chatID,
		FromID: chatID,
		Logger: logx.Nop(),
	}
}

func (f *fixture) start(t *testing.T, chatID int64) {
	t.Helper()
	require.NoError(t, f.bot.onStart(context.Background(), message(chatID, "/start")))
}

func (f *fixture) makeAdmin(t *testing.T, chatID int64) {
	t.Helper()
	f.start(t, chatID)
	_, err := f.reg.SetAdmin(context.Background(), chatID, true)
	require.NoError(t, err)
}

func TestStartGreetsAndRegisters(t *testing.T) {
	f := newFixture(t)
	f.start(t, 7)

	assert.Equal(t, []string{DefaultGreeting}, f.fake.SentTo(7))
	u, ok, err := f.reg.Get(context.Background(), 7)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "User", u.FirstName)
	assert.False(t, u.Banned)

	n, err := f.expire.Pending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestStartWithActivationNotifiesAdmins(t *testing.T) {
	f := newFixture(t)
	f.makeAdmin(t, 1)
	f.bot.Configure(Settings{Greeting: "hi", RequireActivation: true})

	f.start(t, 2)
	assert.Equal(t, []string{"hi", TextAwaitActivation}, f.fake.SentTo(2))
	banned, err := f.reg.IsBanned(context.Background(), 2)
	require.NoError(t, err)
	assert.True(t, banned)

	toAdmin := f.fake.SentTo(1)
	require.NotEmpty(t, toAdmin)
	assert.Contains(t, toAdmin[len(toAdmin)-1], "ожидает активации")

	// a second /start does not repeat the request
	f.start(t, 2)
	assert.Equal(t, []string{"hi", TextAwaitActivation, "hi"}, f.fake.SentTo(2))
}

func TestPingAndIsAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.start(t, 3)

	require.NoError(t, f.bot.onPing(ctx, message(3, "/ping")))
	require.NoError(t, f.bot.onIsAdmin(ctx, message(3, "/is_admin")))
	require.NoError(t, f.bot.onTakeAdmin(ctx, message(3, "/take_admin")))
	require.NoError(t, f.bot.onIsAdmin(ctx, message(3, "/is_admin")))

	sent := f.fake.SentTo(3)
	assert.Equal(t, []string{DefaultGreeting, TextPong, TextIsNotAdmin, adminreq.DefaultGreeting, TextIsAdmin}, sent)
}

func TestBroadcastRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.makeAdmin(t, 1)
	f.start(t, 2)
	f.start(t, 3)

	require.NoError(t, f.bot.onText(ctx, message(2, "not allowed")))
	assert.Equal(t, broadcast.TextNotAdmin, last(f.fake.SentTo(2)))

	require.NoError(t, f.bot.onText(ctx, message(1, "Hello")))
	prompt := f.fake.Sent()[len(f.fake.Sent())-1]
	assert.Equal(t, broadcast.TextConfirmPrefix+"Hello", prompt.Text)

	action, err := callback.Decode(prompt.Opt.Keyboard[0][1].Data)
	require.NoError(t, err)
	require.NoError(t, f.bot.OnCallback(ctx, press(1, prompt.Ref.MessageID), action))

	n, err := f.queue.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	drafts, err := f.drafts.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, drafts)

	// a second press is a notice, not an error
	require.NoError(t, f.bot.OnCallback(ctx, press(1, prompt.Ref.MessageID), action))
	assert.Equal(t, broadcast.TextAlreadyProcessed, last(f.fake.SentTo(1)))
}

func TestAdminRequestSecondResolverIsTold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.makeAdmin(t, 1)
	f.makeAdmin(t, 2)
	f.start(t, 3)
	require.NoError(t, f.bot.onTakeAdmin(ctx, message(3, "/take_admin")))

	prompts := map[int64]transporttest.Sent{}
	for _, s := range f.fake.Sent() {
		if (s.Ref.ChatID == 1 || s.Ref.ChatID == 2) && len(s.Opt.Keyboard) > 0 {
			prompts[s.Ref.ChatID] = s
		}
	}
	require.Len(t, prompts, 2)

	accept, err := callback.Decode(prompts[1].Opt.Keyboard[0][0].Data)
	require.NoError(t, err)
	require.IsType(t, callback.AcceptAdminRequest{}, accept)
	reject, err := callback.Decode(prompts[2].Opt.Keyboard[0][1].Data)
	require.NoError(t, err)
	require.IsType(t, callback.RejectAdminRequest{}, reject)

	require.NoError(t, f.bot.OnCallback(ctx, press(1, prompts[1].Ref.MessageID), accept))
	require.NoError(t, f.bot.OnCallback(ctx, press(2, prompts[2].Ref.MessageID), reject))

	assert.Equal(t, adminreq.TextAlreadyResolved, last(f.fake.SentTo(2)))
	ok, err := f.reg.IsAdmin(ctx, 3)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBanCallbackAndCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.makeAdmin(t, 1)
	f.start(t, 2)

	require.NoError(t, f.bot.OnCallback(ctx, press(1, 77), callback.Ban{ChatID: 2}))
	banned, err := f.reg.IsBanned(ctx, 2)
	require.NoError(t, err)
	assert.True(t, banned)

	require.NoError(t, f.bot.OnCallback(ctx, press(1, 78), callback.UnbanCancel{}))
	edits := f.fake.Edited()
	require.Len(t, edits, 2)
	assert.Equal(t, 78, edits[1].Ref.MessageID)
	assert.Equal(t, moderation.TextCancelled, edits[1].Text)
}

func TestBanCommandWithBadNumberIsNotAnError(t *testing.T) {
	f := newFixture(t)
	f.makeAdmin(t, 1)
	f.bot.mod.SetFlow(moderation.FlowNumbered)

	req := message(1, "/ban 9")
	req.Args = "9"
	require.NoError(t, f.bot.onBan(context.Background(), req))
	assert.Equal(t, moderation.TextInvalidNumber, last(f.fake.SentTo(1)))
}

func TestClearHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.makeAdmin(t, 1)
	f.start(t, 2)

	require.NoError(t, f.bot.onClearHistory(ctx, message(2, "/clear_history")))
	assert.Equal(t, TextNotAdminClear, last(f.fake.SentTo(2)))
	assert.Empty(t, f.fake.Deleted())

	_, err := f.queue.Enqueue(ctx, []int64{1, 2}, "pending broadcast")
	require.NoError(t, err)

	require.NoError(t, f.bot.onClearHistory(ctx, message(1, "/clear_history")))
	assert.Equal(t, TextHistoryCleared, last(f.fake.SentTo(1)))

	tasks, err := f.queue.Pending(ctx)
	require.NoError(t, err)
	assert.Zero(t, tasks)
	left, err := f.expire.Pending(ctx)
	require.NoError(t, err)
	assert.Zero(t, left)
	// two greetings, the refusal, both commands and the confirmation
	assert.Len(t, f.fake.Deleted(), 6)
}

func TestAutodeleteIncoming(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.bot.Configure(Settings{AutodeleteIncoming: true})

	h := f.bot.observed(f.bot.onPing)
	require.NoError(t, h(ctx, message(5, "/ping")))
	n, err := f.expire.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func last(s []string) string {
	if len(s) == 0 {
		return ""
	}
	return s[len(s)-1]
}

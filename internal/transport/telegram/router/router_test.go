package router

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"castbot/internal/callback"
	kit "castbot/internal/transport"
	"castbot/internal/transport/transporttest"
	logx "castbot/pkg/logx"
)

func startRouter(t *testing.T, r *Router) chan<- kit.Update {
	t.Helper()
	updates := make(chan kit.Update, 8)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = r.Run(ctx, updates)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return updates
}

func message(chatID int64, text string) kit.Update {
	return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ID: 1, ChatID: chatID, FromID: chatID, Text: text, IsPrivate: true}}
}

func TestParseCommand(t *testing.T) {
	cases := []struct {
		in, name, args string
		ok             bool
	}{
		{"/start", "start", "", true},
		{"/Ban@castbot 3", "ban", "3", true},
		{"/ban\n7", "ban", "7", true},
		{"  /list_users  ", "list_users", "", true},
		{"hello", "", "", false},
		{"/", "", "", false},
		{"/@bot", "", "", false},
	}
	for _, tc := range cases {
		name, args, ok := parseCommand(tc.in)
		assert.Equal(t, tc.ok, ok, tc.in)
		assert.Equal(t, tc.name, name, tc.in)
		assert.Equal(t, tc.args, args, tc.in)
	}
}

func TestRoutesCommandsAndText(t *testing.T) {
	fake := transporttest.New()
	r := New(fake, logx.Nop(), Options{Workers: 2})

	got := make(chan *Request, 4)
	r.Handle(Command{Name: "ban", Handle: func(_ context.Context, req *Request) error {
		got <- req
		return nil
	}})
	r.OnText(func(_ context.Context, req *Request) error {
		got <- req
		return nil
	})

	updates := startRouter(t, r)
	updates <- message(10, "/ban@castbot 2")
	req := recv(t, got)
	assert.Equal(t, "ban", req.Command)
	assert.Equal(t, "2", req.Args)
	assert.Equal(t, int64(10), req.ChatID)

	updates <- message(11, "broadcast me")
	req = recv(t, got)
	assert.Empty(t, req.Command)
	assert.Equal(t, "broadcast me", req.Args)
	assert.NotNil(t, req.Message())
}

func TestUnknownCommandHandler(t *testing.T) {
	fake := transporttest.New()
	r := New(fake, logx.Nop(), Options{Workers: 1})
	got := make(chan *Request, 1)
	r.OnUnknown(func(_ context.Context, req *Request) error {
		got <- req
		return nil
	})
	r.OnText(func(context.Context, *Request) error {
		t.Error("text handler called for a command")
		return nil
	})

	updates := startRouter(t, r)
	updates <- message(1, "/nope x")
	assert.Equal(t, "nope", recv(t, got).Command)
}

func TestCallbackDecodedAndAnswered(t *testing.T) {
	fake := transporttest.New()
	r := New(fake, logx.Nop(), Options{Workers: 1})

	var (
		mu   sync.Mutex
		seen []callback.Action
	)
	r.OnCallback(func(_ context.Context, req *Request, a callback.Action) error {
		mu.Lock()
		seen = append(seen, a)
		mu.Unlock()
		req.Answer("готово")
		return nil
	})

	updates := startRouter(t, r)
	updates <- kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{ID: "q1", FromID: 5, ChatID: 5, MessageID: 9, Data: callback.MustEncode(callback.Send{TextID: 42})}}
	updates <- kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{ID: "q2", FromID: 5, ChatID: 5, MessageID: 9, Data: `{"type":"launch_missiles"}`}}

	require.Eventually(t, func() bool { return len(fake.Answered()) == 2 }, 2*time.Second, 10*time.Millisecond)

	answers := map[string]string{}
	for _, a := range fake.Answered() {
		answers[a.ID] = a.Text
	}
	assert.Equal(t, "готово", answers["q1"])
	assert.Equal(t, "", answers["q2"])

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 1)
	assert.Equal(t, callback.Send{TextID: 42}, seen[0])
}

func TestPanicDoesNotKillWorker(t *testing.T) {
	fake := transporttest.New()
	r := New(fake, logx.Nop(), Options{Workers: 1})
	got := make(chan *Request, 1)
	r.Handle(
		Command{Name: "boom", Handle: func(context.Context, *Request) error { panic("boom") }},
		Command{Name: "ping", Handle: func(_ context.Context, req *Request) error {
			got <- req
			return nil
		}},
	)

	updates := startRouter(t, r)
	updates <- message(1, "/boom")
	updates <- message(1, "/ping")
	assert.Equal(t, "ping", recv(t, got).Command)
}

func TestTimeoutApplied(t *testing.T) {
	fake := transporttest.New()
	r := New(fake, logx.Nop(), Options{Workers: 1, DefaultTimeout: 20 * time.Millisecond})
	errs := make(chan error, 1)
	r.Handle(Command{Name: "slow", Handle: func(ctx context.Context, _ *Request) error {
		<-ctx.Done()
		errs <- ctx.Err()
		return ctx.Err()
	}})

	updates := startRouter(t, r)
	updates <- message(1, "/slow")
	select {
	case err := <-errs:
		assert.True(t, errors.Is(err, context.DeadlineExceeded))
	case <-time.After(2 * time.Second):
		t.Fatal("handler never timed out")
	}
}

func TestMenuSkipsHidden(t *testing.T) {
	r := New(transporttest.New(), logx.Nop(), Options{})
	noop := func(context.Context, *Request) error { return nil }
	r.Handle(
		Command{Name: "/start", Description: "начать", Handle: noop},
		Command{Name: "ping", Description: "проверка связи", Handle: noop},
		Command{Name: "take_admin", Hidden: true, Handle: noop},
		Command{Name: "no_handler"},
	)
	assert.Equal(t, []kit.BotCommand{
		{Command: "ping", Description: "проверка связи"},
		{Command: "start", Description: "начать"},
	}, r.Menu())
}

func recv(t *testing.T, ch <-chan *Request) *Request {
	t.Helper()
	select {
	case req := <-ch:
		return req
	case <-time.After(2 * time.Second):
		t.Fatal("handler not called")
		return nil
	}
}

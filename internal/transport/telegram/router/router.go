// Package router turns inbound updates into handler calls: slash commands,
// free text and decoded inline-button callbacks, run on a bounded worker pool.
package router

import (
	"context"
	"errors"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"castbot/internal/callback"
	rtsup "castbot/internal/runtime/supervisor"
	kit "castbot/internal/transport"
	logx "castbot/pkg/logx"
)

// TextBusy is replied when the job queue is full.
const TextBusy = "Бот перегружен, попробуйте позже"

type Command struct {
	Name        string
	Description string
	// Hidden commands are routed but left out of the menu.
	Hidden  bool
	Timeout time.Duration
	Handle  HandlerFunc
}

// CallbackFunc handles a decoded inline-button action.
type CallbackFunc func(ctx context.Context, req *Request, action callback.Action) error

// Request is one routed update.
type Request struct {
	Update kit.Update
	ChatID int64
	FromID int64

	// Command is the command name without slash and @bot suffix; empty for
	// free text and callbacks.
	Command string
	// Args is the text after the command, or the whole text for free text.
	Args string

	ReqID  string
	Logger logx.Logger

	answerMu sync.Mutex
	answer   string
}

// Message is the inbound message, nil for callbacks.
func (r *Request) Message() *kit.Message { return r.Update.Message }

// Callback is the inbound callback, nil for messages.
func (r *Request) Callback() *kit.Callback { return r.Update.Callback }

// Answer sets the toast shown when the callback is acknowledged.
func (r *Request) Answer(text string) {
	r.answerMu.Lock()
	r.answer = text
	r.answerMu.Unlock()
}

func (r *Request) answerText() string {
	r.answerMu.Lock()
	defer r.answerMu.Unlock()
	return r.answer
}

type Options struct {
	Workers        int
	QueueSize      int
	DefaultTimeout time.Duration
}

type Router struct {
	log logx.Logger
	msg kit.Messenger
	opt Options

	mu       sync.RWMutex
	commands map[string]Command
	onText   HandlerFunc
	onCB     CallbackFunc
	// onUnknown handles commands with no route; nil ignores them.
	onUnknown HandlerFunc

	jobs chan func()
}

func New(msg kit.Messenger, log logx.Logger, opt Options) *Router {
	if opt.Workers <= 0 {
		opt.Workers = max(2, runtime.NumCPU())
	}
	if opt.QueueSize <= 0 {
		opt.QueueSize = 256
	}
	return &Router{
		log:      log.With(logx.String("comp", "router")),
		msg:      msg,
		opt:      opt,
		commands: map[string]Command{},
		jobs:     make(chan func(), opt.QueueSize),
	}
}

// SetTimeout changes the default handler timeout. Safe during hot reload.
func (r *Router) SetTimeout(d time.Duration) {
	r.mu.Lock()
	r.opt.DefaultTimeout = d
	r.mu.Unlock()
}

func (r *Router) Handle(cmds ...Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range cmds {
		name := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(c.Name), "/"))
		if name == "" || c.Handle == nil {
			continue
		}
		c.Name = name
		r.commands[name] = c
	}
}

// OnText handles messages that are not commands.
func (r *Router) OnText(h HandlerFunc) {
	r.mu.Lock()
	r.onText = h
	r.mu.Unlock()
}

func (r *Router) OnCallback(h CallbackFunc) {
	r.mu.Lock()
	r.onCB = h
	r.mu.Unlock()
}

func (r *Router) OnUnknown(h HandlerFunc) {
	r.mu.Lock()
	r.onUnknown = h
	r.mu.Unlock()
}

// Menu returns the visible commands in Telegram menu form, sorted by name.
func (r *Router) Menu() []kit.BotCommand {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return buildMenu(r.commands)
}

// Run routes updates until ctx is cancelled or updates is closed.
// Queued jobs still get a short grace period to finish.
func (r *Router) Run(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.New(ctx, rtsup.WithLogger(r.log))
	for i := 0; i < r.opt.Workers; i++ {
		idx := i
		sup.GoRestart("router.worker."+strconv.Itoa(idx), rtsup.RestartPolicy{MinBackoff: 200 * time.Millisecond, MaxBackoff: 5 * time.Second},
			func(c context.Context) error { return r.work(c) })
	}
	r.log.Info("router started", logx.Int("workers", r.opt.Workers), logx.Int("queue_cap", cap(r.jobs)))

	defer func() {
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := sup.Stop(wctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			r.log.Warn("router workers stopped with error", logx.Err(err))
		}
		r.log.Info("router stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.Route(ctx, up)
		}
	}
}

func (r *Router) work(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case job := <-r.jobs:
			job()
		}
	}
}

// Route builds the request for up and queues its handler.
func (r *Router) Route(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		if up.Message != nil {
			r.routeMessage(ctx, up)
		}
	case kit.UpdateCallback:
		if up.Callback != nil {
			r.routeCallback(ctx, up)
		}
	}
}

func (r *Router) routeMessage(ctx context.Context, up kit.Update) {
	m := up.Message
	req := r.newRequest(up, m.ChatID, m.FromID)

	r.mu.RLock()
	timeout := r.opt.DefaultTimeout
	var h HandlerFunc
	if name, args, ok := parseCommand(m.Text); ok {
		req.Command, req.Args = name, args
		if c, found := r.commands[name]; found {
			h = c.Handle
			if c.Timeout > 0 {
				timeout = c.Timeout
			}
		} else {
			h = r.onUnknown
		}
	} else {
		req.Args = m.Text
		h = r.onText
	}
	r.mu.RUnlock()

	if h == nil {
		return
	}
	req.Logger = req.Logger.With(logx.String("cmd", req.Command))
	final := Chain(h, MWPanicRecover(r.log), MWRequestLog(r.log), MWTimeout(timeout))
	if !r.tryEnqueue(func() { _ = final(ctx, req) }) {
		_, _ = r.msg.SendText(ctx, m.ChatID, TextBusy, nil)
	}
}

func (r *Router) routeCallback(ctx context.Context, up kit.Update) {
	cb := up.Callback
	action, err := callback.Decode(cb.Data)
	if err != nil {
		// stale or foreign buttons: stop the spinner and move on
		r.log.Debug("callback ignored", logx.String("data", cb.Data), logx.Err(err))
		_ = r.msg.AnswerCallback(ctx, cb.ID, "")
		return
	}

	r.mu.RLock()
	h := r.onCB
	timeout := r.opt.DefaultTimeout
	r.mu.RUnlock()
	if h == nil {
		_ = r.msg.AnswerCallback(ctx, cb.ID, "")
		return
	}

	req := r.newRequest(up, cb.ChatID, cb.FromID)
	req.Logger = req.Logger.With(logx.String("cb", string(action.Type())))
	run := func(c context.Context, rq *Request) error { return h(c, rq, action) }
	final := Chain(run, MWPanicRecover(r.log), MWRequestLog(r.log), MWTimeout(timeout))
	if !r.tryEnqueue(func() {
		_ = final(ctx, req)
		_ = r.msg.AnswerCallback(ctx, cb.ID, req.answerText())
	}) {
		_ = r.msg.AnswerCallback(ctx, cb.ID, TextBusy)
	}
}

func (r *Router) newRequest(up kit.Update, chatID, fromID int64) *Request {
	rid := newReqID()
	return &Request{
		Update: up,
		ChatID: chatID,
		FromID: fromID,
		ReqID:  rid,
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", chatID),
			logx.Int64("from_id", fromID),
		),
	}
}

func (r *Router) tryEnqueue(fn func()) bool {
	select {
	case r.jobs <- fn:
		return true
	default:
		return false
	}
}

// Package bot is the behavior layer: it maps commands, free text and button
// callbacks onto the broadcast, admin-request and moderation workflows.
package bot

import (
	"context"
	"errors"
	"sync"

	"castbot/internal/adminreq"
	"castbot/internal/autodelete"
	"castbot/internal/broadcast"
	"castbot/internal/callback"
	"castbot/internal/moderation"
	"castbot/internal/sendtasks"
	"castbot/internal/transport"
	"castbot/internal/transport/telegram/router"
	"castbot/internal/users"
	logx "castbot/pkg/logx"
)

const (
	TextPong            = "pong"
	TextIsAdmin         = "Вы администратор"
	TextIsNotAdmin      = "Вы НЕ администратор"
	TextAwaitActivation = "Ваша учётная запись ожидает активации администратором"
	TextNotAdminClear   = "Только администратор может принудительно очистить историю"
	TextHistoryCleared  = "✅ Все предыдущие сообщения у всех пользователей будут удалены в течение нескольких минут"
	TextQueued          = "Рассылка поставлена в очередь"
	DefaultGreeting     = "Привет! Я буду присылать вам полезные сообщения время от времени"
)

// Settings are the per-deployment knobs that may change on reload.
type Settings struct {
	Greeting           string
	AutodeleteIncoming bool
	RequireActivation  bool
}

type Deps struct {
	Users      *users.Registry
	Expire     *autodelete.Scheduler
	Queue      *sendtasks.Queue
	Broadcast  *broadcast.Service
	Admins     *adminreq.Service
	Moderation *moderation.Service
	Msg        transport.Messenger
	Log        logx.Logger
}

type Bot struct {
	users  *users.Registry
	expire *autodelete.Scheduler
	queue  *sendtasks.Queue
	bc     *broadcast.Service
	admins *adminreq.Service
	mod    *moderation.Service
	msg    transport.Messenger
	log    logx.Logger

	mu       sync.RWMutex
	settings Settings
}

func New(d Deps) *Bot {
	b := &Bot{
		users:  d.Users,
		expire: d.Expire,
		queue:  d.Queue,
		bc:     d.Broadcast,
		admins: d.Admins,
		mod:    d.Moderation,
		msg:    d.Msg,
		log:    d.Log.With(logx.String("comp", "bot")),
	}
	b.Configure(Settings{})
	return b
}

func (b *Bot) Configure(s Settings) {
	if s.Greeting == "" {
		s.Greeting = DefaultGreeting
	}
	b.users.SetRequireActivation(s.RequireActivation)
	b.mu.Lock()
	b.settings = s
	b.mu.Unlock()
}

func (b *Bot) current() Settings {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.settings
}

// Register installs every command and the text and callback handlers on r.
func (b *Bot) Register(r *router.Router) {
	r.Handle(
		router.Command{Name: "start", Description: "подписаться на рассылку", Handle: b.observed(b.onStart)},
		router.Command{Name: "ping", Description: "проверить связь", Handle: b.observed(b.onPing)},
		router.Command{Name: "is_admin", Description: "проверить права администратора", Handle: b.observed(b.onIsAdmin)},
		router.Command{Name: "take_admin", Description: "запросить права администратора", Handle: b.observed(b.onTakeAdmin)},
		router.Command{Name: "drop_admin", Description: "отказаться от прав администратора", Handle: b.observed(b.onDropAdmin)},
		router.Command{Name: "list_users", Description: "список пользователей", Handle: b.observed(b.onListUsers)},
		router.Command{Name: "ban_list", Description: "блокировка пользователей", Handle: b.observed(b.onBanList)},
		router.Command{Name: "ban", Hidden: true, Handle: b.observed(b.onBan)},
		router.Command{Name: "unban", Hidden: true, Handle: b.observed(b.onUnban)},
		router.Command{Name: "clear_history", Description: "удалить историю у всех", Handle: b.onClearHistory},
	)
	r.OnText(b.observed(b.onText))
	r.OnUnknown(b.observed(func(context.Context, *router.Request) error { return nil }))
	r.OnCallback(b.OnCallback)
}

// observed schedules the inbound message for deletion when the deployment
// autodeletes incoming messages.
func (b *Bot) observed(h router.HandlerFunc) router.HandlerFunc {
	return func(ctx context.Context, req *router.Request) error {
		err := h(ctx, req)
		if b.current().AutodeleteIncoming {
			b.scheduleInbound(ctx, req)
		}
		return err
	}
}

func (b *Bot) scheduleInbound(ctx context.Context, req *router.Request) {
	m := req.Message()
	if m == nil {
		return
	}
	if err := b.expire.Schedule(ctx, m.Ref()); err != nil {
		req.Logger.Error("schedule inbound autodelete failed", logx.Err(err))
	}
}

// reply sends text to chatID and schedules it for deletion.
func (b *Bot) reply(ctx context.Context, chatID int64, text string) error {
	ref, err := b.msg.SendText(ctx, chatID, text, nil)
	if err != nil {
		return err
	}
	if err := b.expire.Schedule(ctx, ref); err != nil {
		b.log.Error("schedule autodelete failed", logx.Int64("chat_id", chatID), logx.Err(err))
	}
	return nil
}

func (b *Bot) onStart(ctx context.Context, req *router.Request) error {
	m := req.Message()
	created, err := b.users.Upsert(ctx, users.Profile{
		ChatID:    m.ChatID,
		FirstName: m.FirstName,
		LastName:  m.LastName,
		Username:  m.Username,
	})
	if err != nil {
		return err
	}
	set := b.current()
	if err := b.reply(ctx, m.ChatID, set.Greeting); err != nil {
		return err
	}
	if !created || !set.RequireActivation {
		return nil
	}

	u, ok, err := b.users.Get(ctx, m.ChatID)
	if err != nil || !ok || !u.Banned {
		return err
	}
	if err := b.reply(ctx, m.ChatID, TextAwaitActivation); err != nil {
		return err
	}
	return b.mod.NotifyActivation(ctx, u)
}

func (b *Bot) onPing(ctx context.Context, req *router.Request) error {
	return b.reply(ctx, req.ChatID, TextPong)
}

func (b *Bot) onIsAdmin(ctx context.Context, req *router.Request) error {
	ok, err := b.users.IsAdmin(ctx, req.ChatID)
	if err != nil {
		return err
	}
	if ok {
		return b.reply(ctx, req.ChatID, TextIsAdmin)
	}
	return b.reply(ctx, req.ChatID, TextIsNotAdmin)
}

func (b *Bot) onTakeAdmin(ctx context.Context, req *router.Request) error {
	outcome, err := b.admins.TakeAdmin(ctx, req.ChatID)
	if err != nil {
		return err
	}
	req.Logger.Debug("take_admin", logx.String("outcome", string(outcome)))
	return nil
}

func (b *Bot) onDropAdmin(ctx context.Context, req *router.Request) error {
	return b.admins.DropAdmin(ctx, req.ChatID)
}

func (b *Bot) onListUsers(ctx context.Context, req *router.Request) error {
	return b.mod.ListUsers(ctx, req.ChatID)
}

func (b *Bot) onBanList(ctx context.Context, req *router.Request) error {
	return b.mod.ShowBanList(ctx, req.ChatID)
}

func (b *Bot) onBan(ctx context.Context, req *router.Request) error {
	return ignoreStale(b.mod.Prompt(ctx, req.ChatID, req.Args, true))
}

func (b *Bot) onUnban(ctx context.Context, req *router.Request) error {
	return ignoreStale(b.mod.Prompt(ctx, req.ChatID, req.Args, false))
}

// onClearHistory drops queued sends and makes every scheduled deletion due,
// then purges right away. The command itself is always deleted too.
func (b *Bot) onClearHistory(ctx context.Context, req *router.Request) error {
	b.scheduleInbound(ctx, req)

	ok, err := b.users.IsAdmin(ctx, req.ChatID)
	if err != nil {
		return err
	}
	if !ok {
		return b.reply(ctx, req.ChatID, TextNotAdminClear)
	}
	if err := b.reply(ctx, req.ChatID, TextHistoryCleared); err != nil {
		return err
	}

	dropped, err := b.queue.DismissAll(ctx)
	if err != nil {
		return err
	}
	due, err := b.expire.RescheduleAllToPast(ctx)
	if err != nil {
		return err
	}
	purged, err := b.expire.Purge(ctx)
	req.Logger.Info("history cleared",
		logx.Int64("dismissed_tasks", dropped),
		logx.Int64("rescheduled", due),
		logx.Int("purged", purged),
	)
	return err
}

func (b *Bot) onText(ctx context.Context, req *router.Request) error {
	if req.Args == "" {
		return nil
	}
	return b.bc.Submit(ctx, req.ChatID, req.Args)
}

// OnCallback dispatches a decoded button press. Unknown actions are ignored.
func (b *Bot) OnCallback(ctx context.Context, req *router.Request, action callback.Action) error {
	cb := req.Callback()
	ref := transport.MessageRef{ChatID: cb.ChatID, MessageID: cb.MessageID}
	actor := cb.FromID

	switch a := action.(type) {
	case callback.Cancel:
		return ignoreStale(b.bc.Cancel(ctx, actor, a.TextID))
	case callback.Send:
		n, err := b.bc.Accept(ctx, actor, a.TextID)
		if err == nil && n > 0 {
			req.Answer(TextQueued)
		}
		return ignoreStale(err)
	case callback.AcceptAdminRequest:
		return ignoreStale(b.admins.Resolve(ctx, actor, a.RequestID, true))
	case callback.RejectAdminRequest:
		return ignoreStale(b.admins.Resolve(ctx, actor, a.RequestID, false))
	case callback.Ban:
		return b.mod.Apply(ctx, actor, ref, a.ChatID, true)
	case callback.Unban:
		return b.mod.Apply(ctx, actor, ref, a.ChatID, false)
	case callback.BanCancel, callback.UnbanCancel:
		return b.mod.Dismiss(ctx, ref)
	case callback.UpdateBanListPage:
		return b.mod.Page(ctx, actor, ref, a.Offset)
	default:
		req.Logger.Debug("callback action ignored", logx.String("type", string(action.Type())))
		return nil
	}
}

// ignoreStale drops errors that were already reported to the user as a
// notice: resolved drafts and requests, and list numbers out of range.
func ignoreStale(err error) error {
	switch {
	case errors.Is(err, broadcast.ErrAlreadyProcessed),
		errors.Is(err, adminreq.ErrAlreadyResolved),
		errors.Is(err, moderation.ErrInvalidNumber):
		return nil
	}
	return err
}

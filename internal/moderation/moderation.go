// Package moderation renders the user roster to admins and applies ban and
// unban decisions.
//
// Two interaction shapes are supported. In the paginated flow each roster
// entry is a button that toggles the ban at once. In the numbered flow the
// roster is plain text, and /ban N or /unban N asks for confirmation against
// the list last shown to that admin. Both resolve targets by the chat id
// captured when the list was rendered.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"castbot/internal/callback"
	"castbot/internal/transport"
	"castbot/internal/users"
	logx "castbot/pkg/logx"
	"castbot/pkg/tgui"
)

// ErrInvalidNumber reports a list position outside the last rendered list.
var ErrInvalidNumber = errors.New("moderation: invalid number")

type Flow string

const (
	FlowPaginated Flow = "paginated"
	FlowNumbered  Flow = "numbered"
)

// ParseFlow falls back to FlowPaginated for unknown values.
func ParseFlow(s string) Flow {
	if Flow(strings.ToLower(strings.TrimSpace(s))) == FlowNumbered {
		return FlowNumbered
	}
	return FlowPaginated
}

const PageSize = 5

const (
	TextNotAdminList   = "Только администратор может видеть список пользователей"
	TextNotAdminBan    = "Только администратор может блокировать пользователей"
	TextInvalidNumber  = "Неверный номер. Откройте актуальный список: /ban_list"
	TextUsage          = "Укажите номер пользователя из списка: /ban N или /unban N"
	TextEmpty          = "Пользователей пока нет"
	TextPickUser       = "Выберите пользователя"
	TextCancelled      = "Отменено"
	TextSelf           = "Нельзя заблокировать себя"
	TextUnknownUser    = "Пользователь не найден"
	TextCancelButton   = "❌ Отмена"
	TextConfirmButton  = "✅ Да"
	TextActivateButton = "✅ Активировать"
	TextDeclineButton  = "❌ Отклонить"
	bannedMark         = "🚫 "
	snapshotTTL        = time.Hour
)

type Users interface {
	Get(ctx context.Context, chatID int64) (users.User, bool, error)
	IsAdmin(ctx context.Context, chatID int64) (bool, error)
	ListAll(ctx context.Context, includeBanned bool) ([]users.User, error)
	ListAdminChatIDs(ctx context.Context) ([]int64, error)
	SetBanned(ctx context.Context, chatID int64, banned bool) (bool, error)
}

type Expirer interface {
	Schedule(ctx context.Context, ref transport.MessageRef) error
}

type Service struct {
	users  Users
	msg    transport.Messenger
	expire Expirer
	log    logx.Logger

	flow atomic.Value // Flow

	// chat ids in the order last shown to each admin
	snapshots *tgui.Store[int64, []int64]
}

func New(u Users, msg transport.Messenger, expire Expirer, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		users:     u,
		msg:       msg,
		expire:    expire,
		log:       log,
		snapshots: tgui.NewStore[int64, []int64]().WithTTL(snapshotTTL).WithMax(1000),
	}
	s.flow.Store(FlowPaginated)
	return s
}

func (s *Service) SetFlow(f Flow) { s.flow.Store(f) }

func (s *Service) Flow() Flow { return s.flow.Load().(Flow) }

// requireAdmin replies with refusal and reports false for non-admins.
func (s *Service) requireAdmin(ctx context.Context, chatID int64, refusal string) (bool, error) {
	ok, err := s.users.IsAdmin(ctx, chatID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, s.reply(ctx, chatID, refusal, nil)
	}
	return true, nil
}

// ListUsers sends the numbered roster. In the numbered flow the list becomes
// the reference for /ban N and /unban N.
func (s *Service) ListUsers(ctx context.Context, admin int64) error {
	if ok, err := s.requireAdmin(ctx, admin, TextNotAdminList); !ok || err != nil {
		return err
	}
	all, err := s.users.ListAll(ctx, true)
	if err != nil {
		return err
	}
	if len(all) == 0 {
		return s.reply(ctx, admin, TextEmpty, nil)
	}
	ids := make([]int64, len(all))
	lines := make([]string, len(all))
	for i, u := range all {
		ids[i] = u.ChatID
		lines[i] = rosterLine(i+1, u)
	}
	s.snapshots.Put(admin, ids)
	return s.reply(ctx, admin, strings.Join(lines, "\n"), nil)
}

// ShowBanList opens the ban roster in the configured flow.
func (s *Service) ShowBanList(ctx context.Context, admin int64) error {
	if s.Flow() == FlowNumbered {
		return s.ListUsers(ctx, admin)
	}
	if ok, err := s.requireAdmin(ctx, admin, TextNotAdminBan); !ok || err != nil {
		return err
	}
	m, err := s.renderPage(ctx, admin, 0)
	if err != nil {
		return err
	}
	ref, err := m.Send(ctx, s.msg, admin)
	if err != nil {
		return err
	}
	s.schedule(ctx, ref)
	return nil
}

// Page re-renders the paginated roster in place at offset.
func (s *Service) Page(ctx context.Context, admin int64, ref transport.MessageRef, offset int) error {
	if ok, err := s.requireAdmin(ctx, admin, TextNotAdminBan); !ok || err != nil {
		return err
	}
	m, err := s.renderPage(ctx, admin, offset)
	if err != nil {
		return err
	}
	return m.Edit(ctx, s.msg, ref)
}

func (s *Service) renderPage(ctx context.Context, admin int64, offset int) (tgui.Message, error) {
	all, err := s.users.ListAll(ctx, true)
	if err != nil {
		return tgui.Message{}, err
	}
	candidates := all[:0:0]
	for _, u := range all {
		if u.ChatID != admin {
			candidates = append(candidates, u)
		}
	}
	b := tgui.New()
	if len(candidates) == 0 {
		return b.Line(TextEmpty).Build(), nil
	}

	p := tgui.PaginateOffset(candidates, offset, PageSize)
	b.Title("", TextPickUser).Blank()
	buttons := make([]transport.Button, 0, len(p.Items))
	for i, u := range p.Items {
		n := p.Offset + i + 1
		b.Line(rosterLine(n, u))
		var a callback.Action = callback.Ban{ChatID: u.ChatID}
		if u.Banned {
			a = callback.Unban{ChatID: u.ChatID}
		}
		buttons = append(buttons, tgui.Btn(strconv.Itoa(n), callback.MustEncode(a)))
	}
	b.Blank().Line(p.Label())

	kb := tgui.Grid(PageSize, buttons)
	var nav []transport.Button
	if p.HasPrev {
		nav = append(nav, tgui.Btn("◀️", callback.MustEncode(callback.UpdateBanListPage{Offset: p.PrevOffset()})))
	}
	if p.HasNext {
		nav = append(nav, tgui.Btn("▶️", callback.MustEncode(callback.UpdateBanListPage{Offset: p.NextOffset()})))
	}
	kb.Row(nav...)
	kb.Row(tgui.Btn(TextCancelButton, callback.MustEncode(callback.BanCancel{})))
	return b.Inline(kb).Build(), nil
}

// Prompt handles /ban N and /unban N: it asks the admin to confirm the action
// on the N-th user of the list they saw last.
func (s *Service) Prompt(ctx context.Context, admin int64, arg string, ban bool) error {
	if ok, err := s.requireAdmin(ctx, admin, TextNotAdminBan); !ok || err != nil {
		return err
	}
	arg = strings.TrimSpace(arg)
	if arg == "" {
		if s.Flow() == FlowPaginated {
			return s.ShowBanList(ctx, admin)
		}
		return s.reply(ctx, admin, TextUsage, nil)
	}

	target, err := s.resolveNumber(admin, arg)
	if err != nil {
		if rerr := s.reply(ctx, admin, TextInvalidNumber, nil); rerr != nil {
			return rerr
		}
		return err
	}
	u, ok, err := s.users.Get(ctx, target)
	if err != nil {
		return err
	}
	if !ok {
		return s.reply(ctx, admin, TextUnknownUser, nil)
	}

	var (
		question string
		yes      callback.Action
		no       callback.Action
	)
	if ban {
		question = fmt.Sprintf("Заблокировать %s?", u.DisplayName())
		yes, no = callback.Ban{ChatID: target}, callback.BanCancel{}
	} else {
		question = fmt.Sprintf("Разблокировать %s?", u.DisplayName())
		yes, no = callback.Unban{ChatID: target}, callback.UnbanCancel{}
	}
	kb := tgui.ConfirmInline(
		tgui.Btn(TextCancelButton, callback.MustEncode(no)),
		tgui.Btn(TextConfirmButton, callback.MustEncode(yes)),
	)
	return s.reply(ctx, admin, question, &transport.SendOptions{Keyboard: kb.Keyboard()})
}

func (s *Service) resolveNumber(admin int64, arg string) (int64, error) {
	n, err := strconv.Atoi(arg)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidNumber, arg)
	}
	ids, ok := s.snapshots.Get(admin)
	if !ok || n < 1 || n > len(ids) {
		return 0, fmt.Errorf("%w: %d", ErrInvalidNumber, n)
	}
	return ids[n-1], nil
}

// Apply bans or unbans target and replaces the message at ref with the outcome.
func (s *Service) Apply(ctx context.Context, admin int64, ref transport.MessageRef, target int64, ban bool) error {
	if ok, err := s.requireAdmin(ctx, admin, TextNotAdminBan); !ok || err != nil {
		return err
	}
	if ban && target == admin {
		return s.edit(ctx, ref, TextSelf)
	}
	u, ok, err := s.users.Get(ctx, target)
	if err != nil {
		return err
	}
	if !ok {
		return s.edit(ctx, ref, TextUnknownUser)
	}
	if _, err := s.users.SetBanned(ctx, target, ban); err != nil {
		return err
	}

	var text string
	if ban {
		text = fmt.Sprintf("🚫 %s заблокирован", u.DisplayName())
	} else {
		text = fmt.Sprintf("✅ %s разблокирован", u.DisplayName())
	}
	s.log.Info("ban state changed", logx.Int64("admin", admin), logx.Int64("chat_id", target), logx.Bool("banned", ban))
	return s.edit(ctx, ref, text)
}

// Dismiss closes a ban prompt or list without changes.
func (s *Service) Dismiss(ctx context.Context, ref transport.MessageRef) error {
	return s.edit(ctx, ref, TextCancelled)
}

// NotifyActivation asks every admin to activate a newly registered user.
func (s *Service) NotifyActivation(ctx context.Context, u users.User) error {
	admins, err := s.users.ListAdminChatIDs(ctx)
	if err != nil {
		return err
	}
	kb := tgui.ConfirmInline(
		tgui.Btn(TextDeclineButton, callback.MustEncode(callback.UnbanCancel{})),
		tgui.Btn(TextActivateButton, callback.MustEncode(callback.Unban{ChatID: u.ChatID})),
	)
	opt := &transport.SendOptions{Keyboard: kb.Keyboard()}
	text := fmt.Sprintf("Новый пользователь %s ожидает активации", u.DisplayName())
	for _, admin := range admins {
		if err := s.reply(ctx, admin, text, opt); err != nil {
			s.log.Warn("activation prompt failed", logx.Int64("admin", admin), logx.Int64("chat_id", u.ChatID), logx.Err(err))
		}
	}
	return nil
}

func (s *Service) edit(ctx context.Context, ref transport.MessageRef, text string) error {
	if err := s.msg.EditText(ctx, ref, text, nil); err != nil {
		return err
	}
	s.schedule(ctx, ref)
	return nil
}

func (s *Service) reply(ctx context.Context, chatID int64, text string, opt *transport.SendOptions) error {
	ref, err := s.msg.SendText(ctx, chatID, text, opt)
	if err != nil {
		return err
	}
	s.schedule(ctx, ref)
	return nil
}

func (s *Service) schedule(ctx context.Context, ref transport.MessageRef) {
	if s.expire == nil {
		return
	}
	if err := s.expire.Schedule(ctx, ref); err != nil {
		s.log.Error("schedule autodelete failed", logx.Int64("chat_id", ref.ChatID), logx.Int("message_id", ref.MessageID), logx.Err(err))
	}
}

func rosterLine(n int, u users.User) string {
	line := strconv.Itoa(n) + ". "
	if u.Banned {
		line += bannedMark
	}
	return line + u.DisplayName()
}

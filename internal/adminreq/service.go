package adminreq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"castbot/internal/callback"
	"castbot/internal/storage"
	"castbot/internal/transport"
	"castbot/internal/users"
	logx "castbot/pkg/logx"
	"castbot/pkg/tgui"
)

const (
	DefaultTTL      = 3 * time.Hour
	DefaultGreeting = "Теперь вы администратор"

	TextBanned          = "Вы заблокированы"
	TextAlreadyAdmin    = "Вы уже администратор"
	TextRequestSent     = "Запрос на права администратора отправлен. Дождитесь решения"
	TextRequestPending  = "Ваш запрос уже рассматривается"
	TextRequestFailed   = "Не удалось отправить запрос, попробуйте позже"
	TextRejected        = "Запрос на права администратора отклонён"
	TextDropped         = "Теперь вы НЕ администратор"
	TextNotAdmin        = "Только администратор может рассматривать запросы"
	TextAlreadyResolved = "Запрос уже рассмотрен"
	TextAcceptButton    = "✅ Принять"
	TextRejectButton    = "❌ Отклонить"
)

// Users is the slice of the user registry the workflow needs.
type Users interface {
	Get(ctx context.Context, chatID int64) (users.User, bool, error)
	IsAdmin(ctx context.Context, chatID int64) (bool, error)
	ListAdminChatIDs(ctx context.Context) ([]int64, error)
	SetAdmin(ctx context.Context, chatID int64, admin bool) (bool, error)
}

type Expirer interface {
	ScheduleTTL(ctx context.Context, ref transport.MessageRef, ttl time.Duration) error
}

// Outcome is the result of a promotion attempt.
type Outcome string

const (
	OutcomeRefused      Outcome = "refused"
	OutcomePromoted     Outcome = "promoted"
	OutcomeAlreadyAdmin Outcome = "already_admin"
	OutcomePending      Outcome = "pending"
	OutcomeRequested    Outcome = "requested"
)

type Service struct {
	store    *storage.Store
	requests *Requests
	users    Users
	msg      transport.Messenger
	expire   Expirer
	log      logx.Logger

	mu       sync.RWMutex
	ttl      time.Duration
	greeting string
}

func New(store *storage.Store, u Users, msg transport.Messenger, expire Expirer, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		store:    store,
		requests: NewRequests(store),
		users:    u,
		msg:      msg,
		expire:   expire,
		log:      log,
		ttl:      DefaultTTL,
		greeting: DefaultGreeting,
	}
}

// Configure sets the prompt lifetime and the text new admins receive.
// Zero values keep the defaults.
func (s *Service) Configure(ttl time.Duration, greeting string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ttl = DefaultTTL
	if ttl > 0 {
		s.ttl = ttl
	}
	s.greeting = DefaultGreeting
	if greeting != "" {
		s.greeting = greeting
	}
}

func (s *Service) settings() (time.Duration, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ttl, s.greeting
}

func (s *Service) Requests() *Requests { return s.requests }

// TakeAdmin handles a promotion attempt by chatID.
func (s *Service) TakeAdmin(ctx context.Context, chatID int64) (Outcome, error) {
	u, known, err := s.users.Get(ctx, chatID)
	if err != nil {
		return "", err
	}
	if !known || u.Banned {
		return OutcomeRefused, s.reply(ctx, chatID, TextBanned)
	}
	ttl, greeting := s.settings()

	var promoted bool
	err = s.store.WithCursor(ctx, true, func(c *storage.Cursor) error {
		admins, err := s.users.ListAdminChatIDs(c.Context())
		if err != nil || len(admins) > 0 {
			return err
		}
		promoted, err = s.users.SetAdmin(c.Context(), chatID, true)
		return err
	})
	if err != nil {
		return "", err
	}
	if promoted {
		s.log.Info("first admin promoted", logx.Int64("chat_id", chatID))
		return OutcomePromoted, s.replyTTL(ctx, chatID, greeting, ttl)
	}
	if u.IsAdmin {
		return OutcomeAlreadyAdmin, s.reply(ctx, chatID, TextAlreadyAdmin)
	}

	text := fmt.Sprintf("Пользователь %s просит права администратора", u.DisplayName())
	id, existing, err := s.requests.Create(ctx, chatID, text)
	if err != nil {
		return "", err
	}
	if existing {
		return OutcomePending, s.reply(ctx, chatID, TextRequestPending)
	}

	delivered, err := s.notifyAdmins(ctx, id, text, ttl)
	if err != nil {
		s.drop(ctx, id)
		return "", err
	}
	if delivered == 0 {
		s.drop(ctx, id)
		return OutcomeRefused, s.reply(ctx, chatID, TextRequestFailed)
	}
	s.log.Info("admin request created", logx.Int64("request", id), logx.Int64("candidate", chatID), logx.Int("admins", delivered))
	return OutcomeRequested, s.reply(ctx, chatID, TextRequestSent)
}

// drop removes a request that could not be put in front of the admins.
func (s *Service) drop(ctx context.Context, requestID int64) {
	dctx := context.WithoutCancel(ctx)
	req, err := s.requests.Take(dctx, requestID)
	if err != nil {
		if !errors.Is(err, ErrAlreadyResolved) {
			s.log.Warn("drop admin request failed", logx.Int64("request", requestID), logx.Err(err))
		}
		return
	}
	for _, cf := range req.Confirmations {
		ref := transport.MessageRef{ChatID: cf.AdminChatID, MessageID: cf.MessageID}
		_ = s.msg.EditText(dctx, ref, TextAlreadyResolved, nil)
	}
}

func (s *Service) notifyAdmins(ctx context.Context, requestID int64, text string, ttl time.Duration) (int, error) {
	admins, err := s.users.ListAdminChatIDs(ctx)
	if err != nil {
		return 0, err
	}
	kb := tgui.ConfirmInline(
		tgui.Btn(TextAcceptButton, callback.MustEncode(callback.AcceptAdminRequest{RequestID: requestID})),
		tgui.Btn(TextRejectButton, callback.MustEncode(callback.RejectAdminRequest{RequestID: requestID})),
	)
	opt := &transport.SendOptions{Keyboard: kb.Keyboard()}

	delivered := 0
	for _, admin := range admins {
		ref, err := s.msg.SendText(ctx, admin, text, opt)
		if err != nil {
			s.log.Warn("admin request prompt failed", logx.Int64("request", requestID), logx.Int64("admin", admin), logx.Err(err))
			continue
		}
		s.schedule(ctx, ref, ttl)
		added, err := s.requests.AddConfirmation(ctx, requestID, Confirmation{AdminChatID: admin, MessageID: ref.MessageID})
		if err != nil {
			_ = s.msg.EditText(ctx, ref, TextAlreadyResolved, nil)
			return delivered, err
		}
		if !added {
			// resolved by an earlier admin already
			_ = s.msg.EditText(ctx, ref, TextAlreadyResolved, nil)
			continue
		}
		delivered++
	}
	return delivered, nil
}

// Resolve accepts or rejects a request on behalf of admin resolver.
//
// The request rows are read, deleted and, on accept, the candidate promoted in
// one transaction. A second resolver is told so and gets ErrAlreadyResolved.
func (s *Service) Resolve(ctx context.Context, resolver int64, requestID int64, accept bool) error {
	ok, err := s.users.IsAdmin(ctx, resolver)
	if err != nil {
		return err
	}
	if !ok {
		return s.reply(ctx, resolver, TextNotAdmin)
	}
	ttl, greeting := s.settings()

	var (
		req      Request
		promoted bool
	)
	err = s.store.WithCursor(ctx, true, func(c *storage.Cursor) error {
		var err error
		if req, err = s.requests.Take(c.Context(), requestID); err != nil {
			return err
		}
		if accept {
			promoted, err = s.users.SetAdmin(c.Context(), req.CandidateChatID, true)
		}
		return err
	})
	if errors.Is(err, ErrAlreadyResolved) {
		s.log.Debug("admin request already resolved", logx.Int64("request", requestID), logx.Int64("resolver", resolver))
		if rerr := s.reply(ctx, resolver, TextAlreadyResolved); rerr != nil {
			s.log.Warn("already-resolved notice failed", logx.Int64("chat_id", resolver), logx.Err(rerr))
		}
		return err
	}
	if err != nil {
		return err
	}

	resolverName := fmt.Sprintf("<#%d>", resolver)
	if u, ok, err := s.users.Get(ctx, resolver); err == nil && ok {
		resolverName = u.DisplayName()
	}

	var verdict string
	if accept && promoted {
		verdict = "✅ Принято: " + resolverName
		if err := s.replyTTL(ctx, req.CandidateChatID, greeting, ttl); err != nil {
			s.log.Warn("greeting new admin failed", logx.Int64("chat_id", req.CandidateChatID), logx.Err(err))
		}
	} else {
		verdict = "❌ Отклонено: " + resolverName
		if err := s.reply(ctx, req.CandidateChatID, TextRejected); err != nil {
			s.log.Warn("rejection notice failed", logx.Int64("chat_id", req.CandidateChatID), logx.Err(err))
		}
	}

	for _, cf := range req.Confirmations {
		ref := transport.MessageRef{ChatID: cf.AdminChatID, MessageID: cf.MessageID}
		if err := s.msg.EditText(ctx, ref, req.Text+"\n\n"+verdict, nil); err != nil {
			s.log.Warn("edit admin request prompt failed", logx.Int64("request", req.ID), logx.Int64("admin", cf.AdminChatID), logx.Err(err))
			continue
		}
		s.schedule(ctx, ref, 0)
	}
	s.log.Info("admin request resolved",
		logx.Int64("request", req.ID),
		logx.Int64("candidate", req.CandidateChatID),
		logx.Int64("resolver", resolver),
		logx.Bool("accepted", accept && promoted),
	)
	return nil
}

// DropAdmin clears the caller's admin flag.
func (s *Service) DropAdmin(ctx context.Context, chatID int64) error {
	if _, err := s.users.SetAdmin(ctx, chatID, false); err != nil {
		return err
	}
	return s.reply(ctx, chatID, TextDropped)
}

func (s *Service) reply(ctx context.Context, chatID int64, text string) error {
	return s.replyTTL(ctx, chatID, text, 0)
}

func (s *Service) replyTTL(ctx context.Context, chatID int64, text string, ttl time.Duration) error {
	ref, err := s.msg.SendText(ctx, chatID, text, nil)
	if err != nil {
		return err
	}
	s.schedule(ctx, ref, ttl)
	return nil
}

func (s *Service) schedule(ctx context.Context, ref transport.MessageRef, ttl time.Duration) {
	if s.expire == nil {
		return
	}
	if err := s.expire.ScheduleTTL(ctx, ref, ttl); err != nil {
		s.log.Error("schedule autodelete failed", logx.Int64("chat_id", ref.ChatID), logx.Int("message_id", ref.MessageID), logx.Err(err))
	}
}

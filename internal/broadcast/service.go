package broadcast

import (
	"context"
	"errors"
	"fmt"

	"castbot/internal/callback"
	"castbot/internal/storage"
	"castbot/internal/transport"
	logx "castbot/pkg/logx"
	"castbot/pkg/tgui"
)

const (
	TextNotAdmin         = "Только администратор может рассылать сообщения"
	TextConfirmPrefix    = "Подтвердите рассылку\n\n"
	TextCancelButton     = "❌ Отмена"
	TextSendButton       = "✅ Отправить"
	TextCancelled        = "❌ Рассылка отменена"
	TextAlreadyProcessed = "Сообщение уже разослано"
)

// Users is the slice of the user registry the workflow needs.
type Users interface {
	IsAdmin(ctx context.Context, chatID int64) (bool, error)
	ListActiveChatIDs(ctx context.Context) ([]int64, error)
}

// Outbox receives the fan-out.
type Outbox interface {
	Enqueue(ctx context.Context, chatIDs []int64, text string) (int, error)
}

type Expirer interface {
	Schedule(ctx context.Context, ref transport.MessageRef) error
}

type Service struct {
	store  *storage.Store
	drafts *Drafts
	users  Users
	outbox Outbox
	msg    transport.Messenger
	expire Expirer
	log    logx.Logger
}

func New(store *storage.Store, users Users, outbox Outbox, msg transport.Messenger, expire Expirer, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		store:  store,
		drafts: NewDrafts(store),
		users:  users,
		outbox: outbox,
		msg:    msg,
		expire: expire,
		log:    log,
	}
}

func (s *Service) Drafts() *Drafts { return s.drafts }

// Submit saves text as a draft and asks the author to confirm it.
// Non-admins get a refusal instead.
func (s *Service) Submit(ctx context.Context, author int64, text string) error {
	ok, err := s.users.IsAdmin(ctx, author)
	if err != nil {
		return err
	}
	if !ok {
		return s.reply(ctx, author, TextNotAdmin, nil)
	}

	id, err := s.drafts.Save(ctx, author, text)
	if err != nil {
		return err
	}
	kb := tgui.ConfirmInline(
		tgui.Btn(TextCancelButton, callback.MustEncode(callback.Cancel{TextID: id})),
		tgui.Btn(TextSendButton, callback.MustEncode(callback.Send{TextID: id})),
	)
	ref, err := s.msg.SendText(ctx, author, TextConfirmPrefix+text, &transport.SendOptions{Keyboard: kb.Keyboard()})
	if err != nil {
		if derr := s.drafts.Delete(ctx, id); derr != nil {
			s.log.Warn("drop orphan draft failed", logx.Int64("draft", id), logx.Err(derr))
		}
		return fmt.Errorf("broadcast: send prompt: %w", err)
	}
	s.scheduleRef(ctx, ref)
	if err := s.drafts.AttachPrompt(ctx, id, ref.MessageID); err != nil {
		return err
	}
	s.log.Info("broadcast draft submitted", logx.Int64("draft", id), logx.Int64("author", author))
	return nil
}

// Accept fans the draft out to every active user plus a report to the author,
// then turns the prompt into a progress caption. It returns the recipient count.
//
// A draft that is gone yields ErrAlreadyProcessed after notifying actor.
func (s *Service) Accept(ctx context.Context, actor int64, textID int64) (int, error) {
	ok, err := s.users.IsAdmin(ctx, actor)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, s.reply(ctx, actor, TextNotAdmin, nil)
	}

	var (
		draft Draft
		n     int
	)
	err = s.store.WithCursor(ctx, true, func(c *storage.Cursor) error {
		var err error
		if draft, err = s.drafts.Load(c.Context(), textID); err != nil {
			return err
		}
		ids, err := s.users.ListActiveChatIDs(c.Context())
		if err != nil {
			return err
		}
		if n, err = s.outbox.Enqueue(c.Context(), ids, draft.Text); err != nil {
			return err
		}
		author := draft.AuthorChatID
		if author == 0 {
			author = actor
		}
		if _, err := s.outbox.Enqueue(c.Context(), []int64{author}, "✅ Отправлено "+recipients(n)); err != nil {
			return err
		}
		return s.drafts.Delete(c.Context(), draft.ID)
	})
	if errors.Is(err, ErrAlreadyProcessed) {
		if rerr := s.reply(ctx, actor, TextAlreadyProcessed, nil); rerr != nil {
			s.log.Warn("already-processed notice failed", logx.Int64("chat_id", actor), logx.Err(rerr))
		}
		return 0, err
	}
	if err != nil {
		return 0, err
	}

	s.log.Info("broadcast accepted", logx.Int64("draft", draft.ID), logx.Int("recipients", n))
	s.editPrompt(ctx, actor, draft, "⌛ Отправка "+recipients(n)+"...")
	return n, nil
}

// Cancel drops the draft and marks the prompt as cancelled.
func (s *Service) Cancel(ctx context.Context, actor int64, textID int64) error {
	draft, err := s.drafts.Take(ctx, textID)
	if errors.Is(err, ErrAlreadyProcessed) {
		if rerr := s.reply(ctx, actor, TextAlreadyProcessed, nil); rerr != nil {
			s.log.Warn("already-processed notice failed", logx.Int64("chat_id", actor), logx.Err(rerr))
		}
		return err
	}
	if err != nil {
		return err
	}
	s.log.Info("broadcast cancelled", logx.Int64("draft", draft.ID))
	s.editPrompt(ctx, actor, draft, TextCancelled)
	return nil
}

func (s *Service) editPrompt(ctx context.Context, chatID int64, d Draft, text string) {
	if d.ConfirmationMessageID == 0 {
		return
	}
	if d.AuthorChatID != 0 {
		chatID = d.AuthorChatID
	}
	ref := transport.MessageRef{ChatID: chatID, MessageID: d.ConfirmationMessageID}
	if err := s.msg.EditText(ctx, ref, text, nil); err != nil {
		s.log.Warn("edit broadcast prompt failed", logx.Int64("draft", d.ID), logx.Err(err))
		return
	}
	s.scheduleRef(ctx, ref)
}

func (s *Service) reply(ctx context.Context, chatID int64, text string, opt *transport.SendOptions) error {
	ref, err := s.msg.SendText(ctx, chatID, text, opt)
	if err != nil {
		return err
	}
	s.scheduleRef(ctx, ref)
	return nil
}

func (s *Service) scheduleRef(ctx context.Context, ref transport.MessageRef) {
	if s.expire == nil {
		return
	}
	if err := s.expire.Schedule(ctx, ref); err != nil {
		s.log.Error("schedule autodelete failed", logx.Int64("chat_id", ref.ChatID), logx.Int("message_id", ref.MessageID), logx.Err(err))
	}
}

func recipients(n int) string {
	return tgui.CountRU(n, "пользователю", "пользователям", "пользователям")
}

// Package transporttest provides an in-memory transport.Messenger for tests.
package transporttest

import (
	"context"
	"sync"

	"castbot/internal/transport"
)

type Sent struct {
	Ref  transport.MessageRef
	Text string
	Opt  transport.SendOptions
}

type Edit struct {
	Ref  transport.MessageRef
	Text string
	Opt  transport.SendOptions
}

// Fake records every call. Message ids are allocated sequentially from 1.
type Answer struct {
	ID   string
	Text string
}

type Fake struct {
	mu     sync.Mutex
	nextID int

	sent     []Sent
	edited   []Edit
	deleted  []transport.MessageRef
	answered []Answer

	sendErr   map[int64]error
	deleteErr map[transport.MessageRef]error
	editErr   error
}

func New() *Fake {
	return &Fake{
		sendErr:   map[int64]error{},
		deleteErr: map[transport.MessageRef]error{},
	}
}

// FailSend makes every send to chatID return err.
func (f *Fake) FailSend(chatID int64, err error) {
	f.mu.Lock()
	f.sendErr[chatID] = err
	f.mu.Unlock()
}

// FailDelete makes deleting ref return err.
func (f *Fake) FailDelete(ref transport.MessageRef, err error) {
	f.mu.Lock()
	f.deleteErr[ref] = err
	f.mu.Unlock()
}

func (f *Fake) FailEdit(err error) {
	f.mu.Lock()
	f.editErr = err
	f.mu.Unlock()
}

func (f *Fake) SendText(ctx context.Context, chatID int64, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return transport.MessageRef{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.sendErr[chatID]; err != nil {
		return transport.MessageRef{}, err
	}
	f.nextID++
	ref := transport.MessageRef{ChatID: chatID, MessageID: f.nextID}
	s := Sent{Ref: ref, Text: text}
	if opt != nil {
		s.Opt = *opt
	}
	f.sent = append(f.sent, s)
	return ref, nil
}

func (f *Fake) EditText(ctx context.Context, ref transport.MessageRef, text string, opt *transport.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.editErr != nil {
		return f.editErr
	}
	e := Edit{Ref: ref, Text: text}
	if opt != nil {
		e.Opt = *opt
	}
	f.edited = append(f.edited, e)
	return nil
}

func (f *Fake) DeleteMessage(ctx context.Context, ref transport.MessageRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.deleteErr[ref]; err != nil {
		return err
	}
	f.deleted = append(f.deleted, ref)
	return nil
}

func (f *Fake) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	f.mu.Lock()
	f.answered = append(f.answered, Answer{ID: callbackID, Text: text})
	f.mu.Unlock()
	return nil
}

func (f *Fake) Sent() []Sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Sent(nil), f.sent...)
}

// SentTo returns the texts sent to chatID in order.
func (f *Fake) SentTo(chatID int64) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, s := range f.sent {
		if s.Ref.ChatID == chatID {
			out = append(out, s.Text)
		}
	}
	return out
}

func (f *Fake) Edited() []Edit {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Edit(nil), f.edited...)
}

func (f *Fake) Deleted() []transport.MessageRef {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]transport.MessageRef(nil), f.deleted...)
}

func (f *Fake) Answered() []Answer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Answer(nil), f.answered...)
}

// Package callback is the closed set of inline button actions and their JSON
// wire form: an object with a "type" discriminator plus type-specific fields.
package callback

import (
	"encoding/json"
	"errors"
	"fmt"

	"castbot/pkg/tgui"
)

type Type string

const (
	TypeCancel             Type = "cancel"
	TypeSend               Type = "send"
	TypeAcceptAdminRequest Type = "accept_admin_request"
	TypeRejectAdminRequest Type = "reject_admin_request"
	TypeBan                Type = "ban"
	TypeUnban              Type = "unban"
	TypeBanCancel          Type = "ban_cancel"
	TypeUnbanCancel        Type = "unban_cancel"
	TypeUpdateBanListPage  Type = "update_ban_list_page"
)

// Action is one decoded button press. Implementations are the types below.
type Action interface {
	Type() Type
}

// Cancel discards a broadcast draft.
type Cancel struct {
	TextID int64 `json:"text_id"`
}

// Send confirms a broadcast draft.
type Send struct {
	TextID int64 `json:"text_id"`
}

type AcceptAdminRequest struct {
	RequestID int64 `json:"request_id"`
}

type RejectAdminRequest struct {
	RequestID int64 `json:"request_id"`
}

type Ban struct {
	ChatID int64 `json:"chat_id"`
}

type Unban struct {
	ChatID int64 `json:"chat_id"`
}

type BanCancel struct{}

type UnbanCancel struct{}

type UpdateBanListPage struct {
	Offset int `json:"offset"`
}

func (Cancel) Type() Type             { return TypeCancel }
func (Send) Type() Type               { return TypeSend }
func (AcceptAdminRequest) Type() Type { return TypeAcceptAdminRequest }
func (RejectAdminRequest) Type() Type { return TypeRejectAdminRequest }
func (Ban) Type() Type                { return TypeBan }
func (Unban) Type() Type              { return TypeUnban }
func (BanCancel) Type() Type          { return TypeBanCancel }
func (UnbanCancel) Type() Type        { return TypeUnbanCancel }
func (UpdateBanListPage) Type() Type  { return TypeUpdateBanListPage }

// ErrUnknown is returned by Decode for payloads from a newer or foreign
// keyboard. Callers ignore such presses.
var ErrUnknown = errors.New("callback: unknown type")

// Encode renders a as callback data.
func Encode(a Action) (string, error) {
	b, err := json.Marshal(a)
	if err != nil {
		return "", err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return "", err
	}
	typ, _ := json.Marshal(string(a.Type()))
	fields["type"] = typ
	out, err := json.Marshal(fields)
	if err != nil {
		return "", err
	}
	if len(out) > tgui.MaxCallbackDataLen {
		return "", fmt.Errorf("%w: %d bytes", tgui.ErrCallbackDataTooLong, len(out))
	}
	return string(out), nil
}

// MustEncode is Encode for actions whose size is known to fit.
func MustEncode(a Action) string {
	s, err := Encode(a)
	if err != nil {
		panic(err)
	}
	return s
}

// Decode parses callback data into its Action.
func Decode(data string) (Action, error) {
	var head struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal([]byte(data), &head); err != nil {
		return nil, fmt.Errorf("callback: decode: %w", err)
	}
	var a Action
	switch head.Type {
	case TypeCancel:
		a = &Cancel{}
	case TypeSend:
		a = &Send{}
	case TypeAcceptAdminRequest:
		a = &AcceptAdminRequest{}
	case TypeRejectAdminRequest:
		a = &RejectAdminRequest{}
	case TypeBan:
		a = &Ban{}
	case TypeUnban:
		a = &Unban{}
	case TypeBanCancel:
		return BanCancel{}, nil
	case TypeUnbanCancel:
		return UnbanCancel{}, nil
	case TypeUpdateBanListPage:
		a = &UpdateBanListPage{}
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknown, head.Type)
	}
	if err := json.Unmarshal([]byte(data), a); err != nil {
		return nil, fmt.Errorf("callback: decode %s: %w", head.Type, err)
	}
	return deref(a), nil
}

func deref(a Action) Action {
	switch v := a.(type) {
	case *Cancel:
		return *v
	case *Send:
		return *v
	case *AcceptAdminRequest:
		return *v
	case *RejectAdminRequest:
		return *v
	case *Ban:
		return *v
	case *Unban:
		return *v
	case *UpdateBanListPage:
		return *v
	}
	return a
}

package adapter

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	kit "castbot/internal/transport"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		kind kit.ErrorKind
		code int
	}{
		{"sentinel not found", &tele.Error{Code: 400, Description: "Bad Request: message to delete not found"}, kit.KindNotFound, 400},
		{"sentinel cant delete", &tele.Error{Code: 400, Description: "Bad Request: message can't be deleted"}, kit.KindCantDelete, 400},
		{"blocked", &tele.Error{Code: 403, Description: "Forbidden: bot was blocked by the user"}, kit.KindForbidden, 403},
		{"unauthorized", &tele.Error{Code: 401, Description: "Unauthorized"}, kit.KindUnauthorized, 401},
		{"plain not modified", errors.New("telegram: Bad Request: message is not modified (400)"), kit.KindNotModified, 400},
		{"plain bad request", errors.New("telegram: Bad Request: can't parse entities (400)"), kit.KindBadRequest, 400},
		{"flood", errors.New("telegram: retry after 7 (429)"), kit.KindRateLimited, 429},
		{"network", errors.New("dial tcp: i/o timeout"), kit.KindUnknown, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := classify("op", tc.err)
			var de *kit.DeliveryError
			require.ErrorAs(t, err, &de)
			assert.Equal(t, tc.kind, de.Kind)
			assert.Equal(t, tc.code, de.Code)
			assert.ErrorIs(t, err, tc.err)
		})
	}
}

func TestClassifyRetryAfter(t *testing.T) {
	err := classify("send", fmt.Errorf("wrapped: %w", errors.New("telegram: retry after 7 (429)")))
	var de *kit.DeliveryError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, 7*time.Second, de.RetryAfter)
	assert.Nil(t, classify("send", nil))
}

func TestFitText(t *testing.T) {
	short := "hello"
	assert.Equal(t, short, fitText(short, ""))

	long := strings.Repeat("а", textLimit+10)
	got := fitText(long, "")
	assert.Equal(t, textLimit, len([]rune(got)))
	assert.True(t, strings.HasSuffix(got, "…"))

	html := strings.Repeat("x", textLimit-3) + "<b>bold</b>"
	got = fitText(html, "HTML")
	assert.Equal(t, strings.Repeat("x", textLimit-3)+"…", got)
}

func TestReplyMarkup(t *testing.T) {
	rm := replyMarkup(kit.Keyboard{{{Text: "a", Data: "1"}, {Text: "b", Data: "2"}}, {{Text: "c", Data: "3"}}})
	require.Len(t, rm.InlineKeyboard, 2)
	assert.Equal(t, "b", rm.InlineKeyboard[0][1].Text)
	assert.Equal(t, "3", rm.InlineKeyboard[1][0].Data)

	so := sendOptions(&kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
	assert.Equal(t, tele.ParseMode("HTML"), so.ParseMode)
	assert.True(t, so.DisableWebPagePreview)
	assert.Nil(t, so.ReplyMarkup)
}

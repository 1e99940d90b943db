package adapter

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "castbot/internal/transport"
)

// telebot reports descriptions it has no sentinel for as plain
// "telegram: <description> (<code>)" errors.
var (
	plainErrRe   = regexp.MustCompile(`^telegram: (.*) \((\d{3})\)$`)
	retryAfterRe = regexp.MustCompile(`retry after (\d+)`)
)

func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	de := &kit.DeliveryError{Op: op, Err: err}

	var te *tele.Error
	switch {
	case errors.As(err, &te):
		de.Code = te.Code
		de.Description = te.Description
	default:
		if m := plainErrRe.FindStringSubmatch(err.Error()); m != nil {
			de.Description = m[1]
			de.Code, _ = strconv.Atoi(m[2])
		}
	}

	text := strings.ToLower(de.Description + " " + err.Error())
	if m := retryAfterRe.FindStringSubmatch(text); m != nil {
		secs, _ := strconv.Atoi(m[1])
		de.RetryAfter = time.Duration(secs) * time.Second
		if de.Code == 0 {
			de.Code = 429
		}
	}
	de.Kind = kindFor(de.Code, text)
	return de
}

func kindFor(code int, text string) kit.ErrorKind {
	switch {
	case code == 429 || strings.Contains(text, "too many requests"):
		return kit.KindRateLimited
	case code == 401 || strings.Contains(text, "unauthorized"):
		return kit.KindUnauthorized
	case code == 403 || strings.Contains(text, "forbidden"):
		return kit.KindForbidden
	case strings.Contains(text, "message is not modified"):
		return kit.KindNotModified
	case strings.Contains(text, "can't be deleted"), strings.Contains(text, "cant be deleted"):
		return kit.KindCantDelete
	case strings.Contains(text, "not found"):
		return kit.KindNotFound
	case code == 400 || strings.Contains(text, "bad request"):
		return kit.KindBadRequest
	}
	return kit.KindUnknown
}

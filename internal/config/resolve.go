package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Defaults used when a field is omitted.
const (
	DefaultPollTimeout      = 10 * time.Second
	DefaultBusyTimeout      = 5 * time.Second
	DefaultTTL              = 3 * time.Hour
	DefaultAdminRequestTTL  = 3 * time.Hour
	DefaultPurgeInterval    = 60 * time.Second
	DefaultPurgeBatch       = 25
	DefaultDispatchInterval = 2 * time.Second
	DefaultDispatchBatch    = 20
	DefaultDispatchRate     = 20
	DefaultHandlerTimeout   = 30 * time.Second
	DefaultGreeting         = "Привет! Я буду присылать вам полезные сообщения время от времени"
	DefaultAdminGreeting    = "Теперь вы администратор"
)

// Resolved is Config with defaults applied and durations parsed.
type Resolved struct {
	Token       string
	PollTimeout time.Duration
	LogChatID   int64

	StoragePath string
	BusyTimeout time.Duration

	DefaultTTL         time.Duration
	AdminRequestTTL    time.Duration
	RequireActivation  bool
	AutodeleteIncoming bool
	BanFlow            string
	Greeting           string
	AdminGreeting      string

	PurgeInterval      time.Duration
	PurgeBatch         int
	DispatchInterval   time.Duration
	DispatchBatch      int
	DispatchRatePerSec int
	HandlerTimeout     time.Duration
}

// Resolve validates cfg and fills in defaults.
func (c *Config) Resolve() (Resolved, error) {
	if c == nil {
		return Resolved{}, errors.New("config is nil")
	}
	var (
		r   Resolved
		err error
		all []error
	)
	dur := func(path, raw string, def time.Duration) time.Duration {
		d, e := parseDuration(path, raw, def)
		if e != nil {
			all = append(all, e)
		}
		return d
	}

	r.Token = strings.TrimSpace(c.Telegram.Token)
	if r.Token == "" {
		all = append(all, errors.New("telegram.token is required (or set BOT_TOKEN)"))
	}
	r.PollTimeout = dur("telegram.poll_timeout", c.Telegram.PollTimeout, DefaultPollTimeout)
	r.LogChatID = c.Telegram.LogChatID

	r.StoragePath = strings.TrimSpace(c.Storage.Path)
	if r.StoragePath == "" {
		all = append(all, errors.New("storage.path is required (or set DB_FILE)"))
	}
	r.BusyTimeout = dur("storage.busy_timeout", c.Storage.BusyTimeout, DefaultBusyTimeout)

	r.DefaultTTL = dur("bot.default_ttl", c.Bot.DefaultTTL, DefaultTTL)
	r.AdminRequestTTL = dur("bot.admin_request_ttl", c.Bot.AdminRequestTTL, DefaultAdminRequestTTL)
	r.RequireActivation = c.Bot.RequireActivation
	r.AutodeleteIncoming = c.Bot.AutodeleteIncoming
	switch flow := strings.ToLower(strings.TrimSpace(c.Bot.BanFlow)); flow {
	case "", "paginated":
		r.BanFlow = "paginated"
	case "numbered":
		r.BanFlow = flow
	default:
		all = append(all, fmt.Errorf("bot.ban_flow: unknown flow %q (use paginated or numbered)", c.Bot.BanFlow))
	}
	r.Greeting = orDefault(c.Bot.Greeting, DefaultGreeting)
	r.AdminGreeting = orDefault(c.Bot.AdminGreeting, DefaultAdminGreeting)

	r.PurgeInterval = dur("jobs.purge_interval", c.Jobs.PurgeInterval, DefaultPurgeInterval)
	r.PurgeBatch = positiveOr(c.Jobs.PurgeBatch, DefaultPurgeBatch)
	r.DispatchInterval = dur("jobs.dispatch_interval", c.Jobs.DispatchInterval, DefaultDispatchInterval)
	r.DispatchBatch = positiveOr(c.Jobs.DispatchBatch, DefaultDispatchBatch)
	r.DispatchRatePerSec = positiveOr(c.Jobs.DispatchRatePerSec, DefaultDispatchRate)
	r.HandlerTimeout = dur("jobs.handler_timeout", c.Jobs.HandlerTimeout, DefaultHandlerTimeout)

	if c.Logging.Chat.Enabled && c.Telegram.LogChatID == 0 {
		all = append(all, errors.New("logging.chat.enabled requires telegram.log_chat_id"))
	}
	if err = errors.Join(all...); err != nil {
		return Resolved{}, err
	}
	return r, nil
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

func positiveOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// parseDuration reads a Go duration string. Empty or zero yields def;
// negative values are rejected.
func parseDuration(path, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	case d == 0:
		return def, nil
	}
	return d, nil
}

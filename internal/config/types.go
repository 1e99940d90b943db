package config

// Config is the on-disk configuration. Durations are Go duration strings
// (e.g. "500ms", "60s", "3h").
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Bot      BotConfig      `json:"bot"`
	Jobs     JobsConfig     `json:"jobs"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is the long-poll timeout (default "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`
	// LogChatID receives forwarded log records when logging.chat is enabled.
	LogChatID int64 `json:"log_chat_id,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Chat    LoggingChat `json:"chat"`
}

type LoggingFile struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty"`
	Compress   bool   `json:"compress,omitempty"`
}

type LoggingChat struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig locates the sqlite database.
//
// Example:
//
//	"storage": { "path": "./data/castbot.sqlite3", "busy_timeout": "5s" }
type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// BotConfig holds the per-deployment business rules.
type BotConfig struct {
	DefaultTTL      string `json:"default_ttl,omitempty"`
	AdminRequestTTL string `json:"admin_request_ttl,omitempty"`

	// RequireActivation registers new users as banned until an admin unbans them.
	RequireActivation bool `json:"require_activation,omitempty"`
	// AutodeleteIncoming schedules inbound user messages for deletion as well.
	AutodeleteIncoming bool `json:"autodelete_incoming,omitempty"`

	// BanFlow is "paginated" (default) or "numbered".
	BanFlow string `json:"ban_flow,omitempty"`

	Greeting      string `json:"greeting,omitempty"`
	AdminGreeting string `json:"admin_greeting,omitempty"`
}

// JobsConfig controls the background purge and dispatch jobs.
//
// Defaults (when fields are omitted/zero):
//   - purge_interval: "60s", purge_batch: 25
//   - dispatch_interval: "2s", dispatch_batch: 20, dispatch_rate_per_sec: 20
//   - handler_timeout: "30s"
type JobsConfig struct {
	PurgeInterval      string `json:"purge_interval,omitempty"`
	PurgeBatch         int    `json:"purge_batch,omitempty"`
	DispatchInterval   string `json:"dispatch_interval,omitempty"`
	DispatchBatch      int    `json:"dispatch_batch,omitempty"`
	DispatchRatePerSec int    `json:"dispatch_rate_per_sec,omitempty"`
	HandlerTimeout     string `json:"handler_timeout,omitempty"`
}

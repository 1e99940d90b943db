package config

import (
	"reflect"
	"sort"
	"strings"

	logx "castbot/pkg/logx"
)

// SummarizeConfigChange returns (1) the changed sections, (2) safe structured
// attrs for logging (never the token), and (3) changed keys that only take
// effect after a restart.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 16)
	restart := make([]string, 0, 3)

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.Token != nt.Token || strings.TrimSpace(ot.PollTimeout) != strings.TrimSpace(nt.PollTimeout) || ot.LogChatID != nt.LogChatID {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.String("telegram.poll_timeout", strings.TrimSpace(nt.PollTimeout)),
			logx.Bool("telegram.log_chat_set", nt.LogChatID != 0),
		)
		if ot.Token != nt.Token {
			restart = append(restart, "telegram.token")
		}
		if strings.TrimSpace(ot.PollTimeout) != strings.TrimSpace(nt.PollTimeout) {
			restart = append(restart, "telegram.poll_timeout")
		}
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.chat_enabled", newCfg.Logging.Chat.Enabled),
		)
	}

	oldS, newS := oldCfg.Storage, newCfg.Storage
	if strings.TrimSpace(oldS.Path) != strings.TrimSpace(newS.Path) || strings.TrimSpace(oldS.BusyTimeout) != strings.TrimSpace(newS.BusyTimeout) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.path", strings.TrimSpace(newS.Path)),
			logx.String("storage.busy_timeout", strings.TrimSpace(newS.BusyTimeout)),
		)
		restart = append(restart, "storage")
	}

	if oldCfg.Bot != newCfg.Bot {
		changed = append(changed, "bot")
		attrs = append(attrs,
			logx.String("bot.default_ttl", newCfg.Bot.DefaultTTL),
			logx.String("bot.admin_request_ttl", newCfg.Bot.AdminRequestTTL),
			logx.Bool("bot.require_activation", newCfg.Bot.RequireActivation),
			logx.String("bot.ban_flow", newCfg.Bot.BanFlow),
		)
	}

	if oldCfg.Jobs != newCfg.Jobs {
		changed = append(changed, "jobs")
		attrs = append(attrs,
			logx.String("jobs.purge_interval", newCfg.Jobs.PurgeInterval),
			logx.String("jobs.dispatch_interval", newCfg.Jobs.DispatchInterval),
			logx.Int("jobs.dispatch_batch", newCfg.Jobs.DispatchBatch),
			logx.Int("jobs.dispatch_rate_per_sec", newCfg.Jobs.DispatchRatePerSec),
		)
	}

	sort.Strings(changed)
	return changed, attrs, restart
}

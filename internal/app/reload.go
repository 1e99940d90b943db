package app

import (
	"context"
	"strings"

	"castbot/internal/config"
	logx "castbot/pkg/logx"
)

// reloadLoop fans committed config changes out to the running components.
func (a *App) reloadLoop(ctx context.Context) error {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)

	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return nil
		case next, ok := <-sub:
			if !ok {
				return nil
			}
			next = coalesce(sub, next)
			a.applyConfig(last, next)
			last = next
		}
	}
}

// coalesce drains bursts and keeps only the newest config.
func coalesce(ch <-chan *config.Config, cur *config.Config) *config.Config {
	for {
		select {
		case newer := <-ch:
			if newer != nil {
				cur = newer
			}
		default:
			return cur
		}
	}
}

func (a *App) applyConfig(prev, next *config.Config) {
	sections, attrs, restart := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	r, err := next.Resolve()
	if err != nil {
		// the manager validated before publishing, so this is a bug
		a.log.Error("published config does not resolve; keeping previous", logx.Err(err))
		return
	}

	a.logs.Apply(logConfig(next))
	a.svc.apply(r, a.log)

	if len(restart) > 0 {
		a.log.Warn("restart required for changes to take effect", logx.String("keys", strings.Join(restart, ",")))
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

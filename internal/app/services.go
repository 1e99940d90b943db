package app

import (
	"context"
	"fmt"

	"castbot/internal/adminreq"
	"castbot/internal/autodelete"
	"castbot/internal/bot"
	"castbot/internal/broadcast"
	"castbot/internal/config"
	"castbot/internal/jobs"
	"castbot/internal/moderation"
	"castbot/internal/sendtasks"
	"castbot/internal/storage"
	kit "castbot/internal/transport"
	"castbot/internal/transport/telegram/router"
	"castbot/internal/users"
	logx "castbot/pkg/logx"
)

const (
	jobPurge    = "autodelete.purge"
	jobDispatch = "sendtasks.dispatch"
)

// services is everything behind the transport: domain services, the bot
// behavior layer, the router and the periodic jobs.
type services struct {
	users    *users.Registry
	expire   *autodelete.Scheduler
	queue    *sendtasks.Queue
	dispatch *sendtasks.Dispatcher
	bc       *broadcast.Service
	admins   *adminreq.Service
	mod      *moderation.Service
	bot      *bot.Bot
	router   *router.Router
	jobs     *jobs.Service
}

func newServices(store *storage.Store, msg kit.Messenger, r config.Resolved, log logx.Logger) (*services, error) {
	comp := func(name string) logx.Logger { return log.With(logx.String("comp", name)) }

	s := &services{}
	s.users = users.New(store)
	s.expire = autodelete.New(store, msg, comp("autodelete"))
	s.queue = sendtasks.NewQueue(store, s.users)
	s.dispatch = sendtasks.NewDispatcher(s.queue, msg, s.expire, comp("dispatch"))
	s.bc = broadcast.New(store, s.users, s.queue, msg, s.expire, comp("broadcast"))
	s.admins = adminreq.New(store, s.users, msg, s.expire, comp("adminreq"))
	s.mod = moderation.New(s.users, msg, s.expire, comp("moderation"))
	s.bot = bot.New(bot.Deps{
		Users:      s.users,
		Expire:     s.expire,
		Queue:      s.queue,
		Broadcast:  s.bc,
		Admins:     s.admins,
		Moderation: s.mod,
		Msg:        msg,
		Log:        log,
	})
	s.router = router.New(msg, log, router.Options{DefaultTimeout: r.HandlerTimeout})
	s.bot.Register(s.router)

	s.jobs = jobs.New(comp("jobs"))
	if err := s.jobs.Register(jobPurge, jobs.EverySpec(r.PurgeInterval), r.PurgeInterval, s.purge); err != nil {
		return nil, fmt.Errorf("register %s: %w", jobPurge, err)
	}
	if err := s.jobs.Register(jobDispatch, jobs.EverySpec(r.DispatchInterval), 0, s.dispatchBatch); err != nil {
		return nil, fmt.Errorf("register %s: %w", jobDispatch, err)
	}

	s.apply(r, log)
	return s, nil
}

func (s *services) purge(ctx context.Context) error {
	_, err := s.expire.Purge(ctx)
	return err
}

func (s *services) dispatchBatch(ctx context.Context) error {
	_, err := s.dispatch.Dispatch(ctx)
	return err
}

// apply pushes the live-reloadable part of r into every component.
func (s *services) apply(r config.Resolved, log logx.Logger) {
	s.expire.SetDefaultTTL(r.DefaultTTL)
	s.expire.SetBatchSize(r.PurgeBatch)
	s.dispatch.SetBatchSize(r.DispatchBatch)
	s.dispatch.SetRate(r.DispatchRatePerSec)
	s.admins.Configure(r.AdminRequestTTL, r.AdminGreeting)
	s.mod.SetFlow(moderation.ParseFlow(r.BanFlow))
	s.bot.Configure(bot.Settings{
		Greeting:           r.Greeting,
		AutodeleteIncoming: r.AutodeleteIncoming,
		RequireActivation:  r.RequireActivation,
	})
	s.router.SetTimeout(r.HandlerTimeout)

	if err := s.jobs.Reschedule(jobPurge, jobs.EverySpec(r.PurgeInterval), r.PurgeInterval); err != nil {
		log.Warn("purge job reschedule failed", logx.Err(err))
	}
	if err := s.jobs.Reschedule(jobDispatch, jobs.EverySpec(r.DispatchInterval), 0); err != nil {
		log.Warn("dispatch job reschedule failed", logx.Err(err))
	}
}

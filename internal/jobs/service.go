package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	logx "castbot/pkg/logx"
)

var ErrUnknownJob = errors.New("jobs: unknown job")

// Func is one batch of work.
type Func func(ctx context.Context) error

type def struct {
	name    string
	spec    string
	timeout time.Duration
	run     Func
	entryID cron.EntryID
	// running is shared by every def registered under the same name, so a
	// run started before Register replaced the def still blocks new ones.
	running *atomic.Bool
	runs    atomic.Uint64
	fails   atomic.Uint64
}

// Info describes a registered job.
type Info struct {
	Name  string
	Spec  string
	Next  time.Time
	Prev  time.Time
	Runs  uint64
	Fails uint64
}

type Service struct {
	mu sync.Mutex

	log    logx.Logger
	parser cron.Parser
	c      *cron.Cron
	defs   map[string]*def

	// base is cancelled on Stop so in-flight runs see shutdown.
	base   context.Context
	cancel context.CancelFunc
}

func New(log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log: log,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		defs:   map[string]*def{},
	}
}

// Register adds or replaces a job. Jobs registered after Start are scheduled at once.
func (s *Service) Register(name, schedule string, timeout time.Duration, run Func) error {
	spec, err := NormalizeSpec(schedule)
	if err != nil {
		return fmt.Errorf("jobs: %s: %w", name, err)
	}
	if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("jobs: %s: parse %q: %w", name, spec, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	d := &def{name: name, spec: spec, timeout: timeout, run: run, running: new(atomic.Bool)}
	if old, ok := s.defs[name]; ok {
		if s.c != nil {
			s.c.Remove(old.entryID)
		}
		d.running = old.running
		d.runs.Store(old.runs.Load())
		d.fails.Store(old.fails.Load())
	}
	s.defs[name] = d
	if s.c != nil {
		return s.addLocked(d)
	}
	return nil
}

// Reschedule changes the schedule of a registered job, keeping its function.
func (s *Service) Reschedule(name, schedule string, timeout time.Duration) error {
	s.mu.Lock()
	d, ok := s.defs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	spec, err := NormalizeSpec(schedule)
	if err != nil {
		return fmt.Errorf("jobs: %s: %w", name, err)
	}
	if spec == d.spec && timeout == d.timeout {
		return nil
	}
	if err := s.Register(name, schedule, timeout, d.run); err != nil {
		return err
	}
	s.log.Info("job rescheduled", logx.String("job", name), logx.String("spec", spec), logx.Duration("timeout", timeout))
	return nil
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.base, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	cl := cronLogger{log: s.log}
	s.c = cron.New(
		cron.WithParser(s.parser),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	for _, d := range s.defs {
		if err := s.addLocked(d); err != nil {
			s.log.Error("job registration failed", logx.String("job", d.name), logx.Err(err))
		}
	}
	s.c.Start()
	s.log.Info("jobs started", logx.Int("jobs", len(s.defs)))
}

// Stop halts triggering and waits for running jobs until ctx expires.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	c := s.c
	cancel := s.cancel
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}

	done := c.Stop().Done()
	select {
	case <-done:
	case <-ctx.Done():
		// interrupt in-flight batches, then give them a moment to record progress
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
		}
	}
	cancel()
	s.log.Info("jobs stopped", logx.Duration("took", time.Since(start)))
}

// RunNow runs a job synchronously outside its schedule. A run already in
// progress is not duplicated.
func (s *Service) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	d, ok := s.defs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.execute(ctx, d)
}

// Snapshot lists registered jobs by name.
func (s *Service) Snapshot() []Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Info, 0, len(s.defs))
	for _, d := range s.defs {
		info := Info{Name: d.name, Spec: d.spec, Runs: d.runs.Load(), Fails: d.fails.Load()}
		if s.c != nil {
			e := s.c.Entry(d.entryID)
			info.Next, info.Prev = e.Next, e.Prev
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Service) addLocked(d *def) error {
	base := s.base
	id, err := s.c.AddFunc(d.spec, func() {
		_ = s.execute(base, d)
	})
	if err != nil {
		return err
	}
	d.entryID = id
	return nil
}

func (s *Service) execute(ctx context.Context, d *def) error {
	if !d.running.CompareAndSwap(false, true) {
		s.log.Debug("job still running; skipped", logx.String("job", d.name))
		return nil
	}
	defer d.running.Store(false)

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	start := time.Now()
	d.runs.Add(1)
	err := d.run(ctx)
	if err != nil {
		d.fails.Add(1)
		s.log.Error("job failed", logx.String("job", d.name), logx.Duration("dur", time.Since(start)), logx.Err(err))
		return err
	}
	return nil
}

// cronLogger routes robfig/cron diagnostics into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			k = fmt.Sprint(kv[i])
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}

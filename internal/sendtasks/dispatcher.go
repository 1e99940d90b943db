package sendtasks

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"castbot/internal/transport"
	logx "castbot/pkg/logx"
)

const (
	DefaultBatchSize  = 20
	DefaultRatePerSec = 20
)

// Expirer schedules a sent message for deletion.
type Expirer interface {
	Schedule(ctx context.Context, ref transport.MessageRef) error
}

// Dispatcher sends queued tasks. Each task gets exactly one attempt: the
// whole batch is dismissed after dispatch whatever the per-recipient outcome.
type Dispatcher struct {
	queue  *Queue
	msg    transport.Messenger
	expire Expirer
	log    logx.Logger

	batch atomic.Int64

	mu      sync.Mutex
	limiter *rate.Limiter
}

func NewDispatcher(queue *Queue, msg transport.Messenger, expire Expirer, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Dispatcher{queue: queue, msg: msg, expire: expire, log: log}
	d.batch.Store(DefaultBatchSize)
	d.SetRate(DefaultRatePerSec)
	return d
}

func (d *Dispatcher) SetBatchSize(n int) {
	if n > 0 {
		d.batch.Store(int64(n))
	}
}

// SetRate caps outbound sends per second. Zero or less disables the cap.
func (d *Dispatcher) SetRate(perSec int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if perSec <= 0 {
		d.limiter = nil
		return
	}
	d.limiter = rate.NewLimiter(rate.Limit(perSec), perSec)
}

// Dispatch sends one batch and returns how many tasks were delivered.
func (d *Dispatcher) Dispatch(ctx context.Context) (int, error) {
	tasks, err := d.queue.Drain(ctx, int(d.batch.Load()))
	if err != nil {
		return 0, err
	}
	if len(tasks) == 0 {
		return 0, nil
	}

	d.mu.Lock()
	lim := d.limiter
	d.mu.Unlock()

	start := time.Now()
	attempted := make([]int64, 0, len(tasks))
	sent, failed := 0, 0
	for _, t := range tasks {
		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				break
			}
		}
		attempted = append(attempted, t.ID)
		if d.sendOne(ctx, t) {
			sent++
		} else {
			failed++
		}
	}

	// Dismiss with a fresh context so a shutdown mid-batch still records
	// what was attempted.
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := d.queue.Dismiss(dctx, attempted); err != nil {
		return sent, err
	}

	fields := []logx.Field{
		logx.Int("batch", len(tasks)),
		logx.Int("sent", sent),
		logx.Int("failed", failed),
		logx.Duration("dur", time.Since(start)),
	}
	if failed > 0 {
		d.log.Warn("send batch finished with failures", fields...)
	} else {
		d.log.Debug("send batch finished", fields...)
	}
	return sent, ctx.Err()
}

func (d *Dispatcher) sendOne(ctx context.Context, t Task) bool {
	ref, err := d.msg.SendText(ctx, t.ChatID, t.Text, nil)
	if err != nil {
		fields := []logx.Field{logx.Int64("task", t.ID), logx.Int64("chat_id", t.ChatID), logx.Err(err)}
		if transport.IsRecipientFailure(err) {
			d.log.Warn("send task dropped", fields...)
		} else {
			d.log.Error("send task failed", fields...)
		}
		return false
	}
	if d.expire != nil {
		if err := d.expire.Schedule(ctx, ref); err != nil {
			d.log.Error("schedule sent message failed", logx.Int64("chat_id", ref.ChatID), logx.Int("message_id", ref.MessageID), logx.Err(err))
		}
	}
	return true
}

package jobs

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "castbot/pkg/logx"
)

func TestNormalizeSpec(t *testing.T) {
	cases := map[string]string{
		"60s":          "@every 1m0s",
		" 2s ":         "@every 2s",
		"every:90s":    "@every 1m30s",
		"@hourly":      "@hourly",
		"*/5 * * * *":  "*/5 * * * *",
		"cron:@daily":  "@daily",
		"@every 250ms": "@every 250ms",
	}
	for in, want := range cases {
		got, err := NormalizeSpec(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, bad := range []string{"", "soon", "-5s", "cron:"} {
		_, err := NormalizeSpec(bad)
		assert.Error(t, err, bad)
	}
}

func TestRegisterRejectsBadCron(t *testing.T) {
	s := New(logx.Nop())
	err := s.Register("bad", "cron:61 * * * *", 0, func(context.Context) error { return nil })
	assert.Error(t, err)
}

func TestRunNowAndFailureAccounting(t *testing.T) {
	var buf bytes.Buffer
	s := New(logx.NewWriter(&buf, "debug"))
	boom := errors.New("boom")
	var calls atomic.Int32
	require.NoError(t, s.Register("purge", "60s", time.Second, func(ctx context.Context) error {
		if calls.Add(1) == 2 {
			return boom
		}
		return nil
	}))

	require.NoError(t, s.RunNow(context.Background(), "purge"))
	assert.ErrorIs(t, s.RunNow(context.Background(), "purge"), boom)
	assert.ErrorIs(t, s.RunNow(context.Background(), "missing"), ErrUnknownJob)

	info := s.Snapshot()
	require.Len(t, info, 1)
	assert.EqualValues(t, 2, info[0].Runs)
	assert.EqualValues(t, 1, info[0].Fails)
	assert.Contains(t, buf.String(), `"job":"purge"`)
}

func TestRunNowDoesNotOverlap(t *testing.T) {
	s := New(logx.Nop())
	release := make(chan struct{})
	started := make(chan struct{})
	var calls atomic.Int32
	require.NoError(t, s.Register("dispatch", "2s", 0, func(ctx context.Context) error {
		if calls.Add(1) == 1 {
			close(started)
			<-release
		}
		return nil
	}))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = s.RunNow(context.Background(), "dispatch")
	}()
	<-started
	require.NoError(t, s.RunNow(context.Background(), "dispatch"))
	close(release)
	wg.Wait()
	assert.EqualValues(t, 1, calls.Load())
}

func TestRescheduleKeepsRunGuard(t *testing.T) {
	s := New(logx.Nop())
	release := make(chan struct{})
	started := make(chan struct{})
	var calls atomic.Int32
	require.NoError(t, s.Register("dispatch", "2s", 0, func(ctx context.Context) error {
		if calls.Add(1) == 1 {
			close(started)
			<-release
		}
		return nil
	}))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = s.RunNow(context.Background(), "dispatch")
	}()
	<-started

	require.NoError(t, s.Reschedule("dispatch", "3s", 0))
	require.NoError(t, s.RunNow(context.Background(), "dispatch"))
	assert.EqualValues(t, 1, calls.Load())

	close(release)
	wg.Wait()
	require.NoError(t, s.RunNow(context.Background(), "dispatch"))
	assert.EqualValues(t, 2, calls.Load())
	assert.EqualValues(t, 2, s.Snapshot()[0].Runs)
}

func TestScheduledRunAndReschedule(t *testing.T) {
	s := New(logx.Nop())
	ran := make(chan struct{}, 8)
	require.NoError(t, s.Register("tick", "@every 50ms", time.Second, func(ctx context.Context) error {
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil
	}))
	s.Start(context.Background())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Stop(ctx)
	}()

	select {
	case <-ran:
	case <-time.After(3 * time.Second):
		t.Fatal("job did not run")
	}

	require.NoError(t, s.Reschedule("tick", "1h", time.Second))
	info := s.Snapshot()
	require.Len(t, info, 1)
	assert.Equal(t, "@every 1h0m0s", info[0].Spec)
	assert.ErrorIs(t, s.Reschedule("nope", "1h", 0), ErrUnknownJob)
}

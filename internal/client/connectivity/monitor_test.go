package connectivity

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/logging"
	"github.com/stretchr/testify/require"
)

type fakePinger struct {
	down  atomic.Bool
	calls atomic.Int32
}

func (f *fakePinger) Ping(ctx context.Context) error {
	f.calls.Add(1)
	if f.down.Load() {
		return errors.New("connection refused")
	}
	return nil
}

func TestSet_ReportsTransitionsOnce(t *testing.T) {
	m := NewMonitor(&fakePinger{}, time.Second, false, logging.Nop())
	require.False(t, m.IsConnected())
	require.Equal(t, ModeOffline, m.Mode())

	require.True(t, m.Set(true))
	require.False(t, m.Set(true))
	require.True(t, m.IsConnected())
	require.True(t, m.Set(false))
}

func TestSubscribe_DeliversLatestMode(t *testing.T) {
	m := NewMonitor(&fakePinger{}, time.Second, true, logging.Nop())
	ch, cancel := m.Subscribe()
	defer cancel()

	m.Set(false)
	m.Set(true)

	select {
	case got := <-ch:
		require.Equal(t, ModeOnline, got)
	case <-time.After(time.Second):
		t.Fatal("no transition delivered")
	}
	select {
	case got := <-ch:
		t.Fatalf("unexpected extra transition %s", got)
	default:
	}
}

func TestWaitOnline(t *testing.T) {
	m := NewMonitor(&fakePinger{}, time.Second, false, logging.Nop())

	done := make(chan error, 1)
	go func() { done <- m.WaitOnline(context.Background()) }()

	time.Sleep(20 * time.Millisecond)
	m.Set(true)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("WaitOnline did not return after going online")
	}
}

func TestWaitOnline_ContextCancelled(t *testing.T) {
	m := NewMonitor(&fakePinger{}, time.Second, false, logging.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	require.ErrorIs(t, m.WaitOnline(ctx), context.DeadlineExceeded)
}

func TestRun_FlipsOnProbeResults(t *testing.T) {
	p := &fakePinger{}
	p.down.Store(true)
	m := NewMonitor(p, 10*time.Millisecond, true, logging.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	require.Eventually(t, func() bool { return !m.IsConnected() }, time.Second, 5*time.Millisecond)
	p.down.Store(false)
	require.Eventually(t, m.IsConnected, time.Second, 5*time.Millisecond)
	require.GreaterOrEqual(t, p.calls.Load(), int32(2))
}

type slowPinger struct{}

func (slowPinger) Ping(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestProbe_TimesOut(t *testing.T) {
	m := NewMonitor(slowPinger{}, time.Second, true, logging.Nop(), WithProbeTimeout(20*time.Millisecond))

	start := time.Now()
	require.False(t, m.Probe(context.Background()))
	require.Less(t, time.Since(start), time.Second)
	require.False(t, m.IsConnected())
}

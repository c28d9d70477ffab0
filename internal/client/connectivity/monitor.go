// Package connectivity tracks whether the backend is reachable. It answers
// the gate question "attempt now or defer?" and tells subscribers when the
// state flips.
package connectivity

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/logging"
)

type Mode string

const (
	ModeOffline Mode = "offline"
	ModeOnline  Mode = "online"
)

const DefaultProbeTimeout = 3 * time.Second

// Pinger is satisfied by client.Client.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Monitor struct {
	pinger       Pinger
	interval     time.Duration
	probeTimeout time.Duration
	log          logging.Logger

	online atomic.Bool

	mu      sync.Mutex
	changed chan struct{}
	subs    map[int]chan Mode
	nextSub int
}

type Option func(*Monitor)

func WithProbeTimeout(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.probeTimeout = d
		}
	}
}

// NewMonitor starts in the online state when assumeOnline is set, so the
// first capture after launch tries the network instead of queueing blindly.
func NewMonitor(p Pinger, interval time.Duration, assumeOnline bool, log logging.Logger, opts ...Option) *Monitor {
	m := &Monitor{
		pinger:       p,
		interval:     interval,
		probeTimeout: DefaultProbeTimeout,
		log:          log.With("component", "connectivity"),
		changed:      make(chan struct{}),
		subs:         make(map[int]chan Mode),
	}
	m.online.Store(assumeOnline)
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Monitor) IsConnected() bool {
	return m.online.Load()
}

func (m *Monitor) Mode() Mode {
	if m.IsConnected() {
		return ModeOnline
	}
	return ModeOffline
}

// Set records the current state and reports whether it changed.
func (m *Monitor) Set(online bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.online.Load() == online {
		return false
	}
	m.online.Store(online)

	close(m.changed)
	m.changed = make(chan struct{})

	mode := ModeOffline
	if online {
		mode = ModeOnline
	}
	m.log.Info(context.Background(), "switched mode", "mode", mode)

	for _, ch := range m.subs {
		// only the latest state matters to a lagging subscriber
		select {
		case ch <- mode:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- mode:
			default:
			}
		}
	}
	return true
}

// Subscribe returns a channel of state transitions and a func that
// unregisters it.
func (m *Monitor) Subscribe() (<-chan Mode, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextSub
	m.nextSub++
	ch := make(chan Mode, 1)
	m.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.subs, id)
			close(ch)
		})
	}
}

// WaitOnline blocks until the monitor reports online or ctx ends.
func (m *Monitor) WaitOnline(ctx context.Context) error {
	for {
		m.mu.Lock()
		if m.online.Load() {
			m.mu.Unlock()
			return nil
		}
		ch := m.changed
		m.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Probe pings the backend once and updates the state.
func (m *Monitor) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	err := m.pinger.Ping(ctx)
	cancel()

	if err != nil {
		m.log.Debug(ctx, "probe failed", "error", err)
	}
	online := err == nil
	m.Set(online)
	return online
}

// Run probes once immediately and then every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	m.Probe(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Probe(ctx)
		case <-ctx.Done():
			return
		}
	}
}

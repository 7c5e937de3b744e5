// Package connectivity tracks whether the shop server is reachable and
// notifies interested parties about online/offline transitions.
package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/shopkeeper/internal/events"
	"github.com/dmitrijs2005/shopkeeper/internal/logging"
)

// Prober checks the server once. A nil error means reachable.
type Prober interface {
	Probe(ctx context.Context) error
}

const DefaultProbeTimeout = 3 * time.Second

// Monitor holds the binary online/offline signal. It starts offline.
type Monitor struct {
	prober       Prober
	bus          events.Publisher
	log          logging.Logger
	probeTimeout time.Duration

	mu       sync.RWMutex
	online   bool
	watchers map[int]chan bool
	nextID   int
}

func NewMonitor(prober Prober, bus events.Publisher, log logging.Logger) *Monitor {
	if bus == nil {
		bus = events.Discard{}
	}
	if log == nil {
		log = logging.Nop{}
	}
	return &Monitor{
		prober:       prober,
		bus:          bus,
		log:          log.With("module", "connectivity"),
		probeTimeout: DefaultProbeTimeout,
		watchers:     make(map[int]chan bool),
	}
}

func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// Set records the current state. Transitions are logged, published on the
// bus and delivered to watchers; repeated values are ignored.
func (m *Monitor) Set(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	for _, ch := range m.watchers {
		// keep only the latest state in the one-slot buffer
		select {
		case <-ch:
		default:
		}
		ch <- online
	}
	m.mu.Unlock()

	mode := "offline"
	if online {
		mode = "online"
	}
	m.log.Info(context.Background(), "switched mode", "mode", mode)
	m.bus.Publish(events.Event{Kind: events.ConnectivityChanged, Online: online, Message: "switched to " + mode + " mode"})
}

// Watch returns a channel receiving every transition (latest value wins when
// the reader lags) and a func that stops the subscription.
func (m *Monitor) Watch() (<-chan bool, func()) {
	ch := make(chan bool, 1)

	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.watchers[id] = ch
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.watchers, id)
			m.mu.Unlock()
		})
	}
}

// Check probes once and updates the state.
func (m *Monitor) Check(ctx context.Context) bool {
	if m.prober == nil {
		return m.Online()
	}
	ctx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	err := m.prober.Probe(ctx)
	cancel()

	if err != nil {
		m.log.Debug(ctx, "probe failed", "error", err)
	}
	m.Set(err == nil)
	return err == nil
}

// Run checks immediately and then every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	m.Check(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Check(ctx)
		case <-ctx.Done():
			return
		}
	}
}

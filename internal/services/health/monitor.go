// Package health keeps controllers probed in the background and reports
// reachability changes to a set of sinks.
package health

import (
	"context"
	"time"

	"github.com/bbernstein/lacylights-outputs/internal/logger"
	"github.com/bbernstein/lacylights-outputs/internal/outputs"
)

// DefaultInterval is used when the monitor is created with a zero interval.
const DefaultInterval = 10 * time.Second

// Event reports that a controller's ping state changed.
type Event struct {
	ControllerID int       `json:"controllerId"`
	Name         string    `json:"name"`
	Address      string    `json:"address,omitempty"`
	State        string    `json:"state"`
	Previous     string    `json:"previous"`
	Reachable    bool      `json:"reachable"`
	At           time.Time `json:"at"`
}

// Sink receives ping change events.
type Sink interface {
	Notify(ctx context.Context, ev Event) error
}

// Forgetter is a Sink holding per-controller state. Forget is called once a
// controller leaves the show or is renamed.
type Forgetter interface {
	Forget(ctx context.Context, name string) error
}

// Refresher is a Sink told the known state of every unchanged controller on
// each tick.
type Refresher interface {
	Refresh(ctx context.Context, ev Event) error
}

// Viewer gives shared access to the controllers of the running show.
type Viewer interface {
	View(fn func(om *outputs.Manager))
}

type pingTimeoutSetter interface {
	SetPingTimeout(d time.Duration)
}

// Monitor probes every active controller on each tick. A probe started on one
// tick is observed on the next, so a change is reported one interval after it
// happens.
type Monitor struct {
	show     Viewer
	interval time.Duration
	timeout  time.Duration
	sinks    []Sink
	log      *logger.Log

	last map[string]outputs.PingState
	now  func() time.Time
}

// NewMonitor creates a Monitor. A zero pingTimeout keeps each controller's own.
func NewMonitor(show Viewer, interval, pingTimeout time.Duration, log *logger.Log, sinks ...Sink) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Monitor{
		show:     show,
		interval: interval,
		timeout:  pingTimeout,
		sinks:    sinks,
		log:      log.Module("health"),
		last:     make(map[string]outputs.PingState),
		now:      time.Now,
	}
}

// AddSink registers another sink. It must be called before Run.
func (m *Monitor) AddSink(s Sink) {
	m.sinks = append(m.sinks, s)
}

// Run ticks until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	m.log.Infof("health monitor started, interval %v", m.interval)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			m.log.Info("health monitor stopped")
			return
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Tick collects the results of the previous probes, notifies the sinks of
// any change and starts the next round of probes.
func (m *Monitor) Tick(ctx context.Context) []Event {
	var events, unchanged []Event
	seen := make(map[string]bool)

	m.show.View(func(om *outputs.Manager) {
		for _, c := range om.Controllers() {
			if !c.IsActive() {
				continue
			}
			name := c.Name()
			seen[name] = true

			state := c.LastPingState()
			prev, known := m.last[name]
			if !known {
				prev = outputs.PingUnknown
			}
			if state != outputs.PingUnknown && state != prev {
				m.last[name] = state
				events = append(events, m.event(c, state, prev))
			} else if known {
				unchanged = append(unchanged, m.event(c, prev, prev))
			}

			if m.timeout > 0 {
				if s, ok := c.(pingTimeoutSetter); ok {
					s.SetPingTimeout(m.timeout)
				}
			}
			c.AsyncPing()
		}
	})

	var gone []string
	for name := range m.last {
		if !seen[name] {
			delete(m.last, name)
			gone = append(gone, name)
		}
	}

	for _, ev := range events {
		m.notify(ctx, ev)
	}
	for _, ev := range unchanged {
		m.refresh(ctx, ev)
	}
	for _, name := range gone {
		m.forget(ctx, name)
	}
	return events
}

func (m *Monitor) event(c outputs.Controller, state, prev outputs.PingState) Event {
	ev := Event{
		ControllerID: c.ID(),
		Name:         c.Name(),
		State:        state.String(),
		Previous:     prev.String(),
		Reachable:    state.IsReachable(),
		At:           m.now().UTC(),
	}
	if a, ok := c.(outputs.Addressable); ok {
		ev.Address = a.Address()
	}
	return ev
}

func (m *Monitor) notify(ctx context.Context, ev Event) {
	log := m.log.With(logger.Fields{"controller": ev.Name, "state": ev.State})
	if ev.Reachable {
		log.Info("controller reachable")
	} else {
		log.Warn("controller ping changed")
	}
	for _, s := range m.sinks {
		if err := s.Notify(ctx, ev); err != nil {
			log.Warnf("sink failed: %v", err)
		}
	}
}

func (m *Monitor) refresh(ctx context.Context, ev Event) {
	for _, s := range m.sinks {
		if r, ok := s.(Refresher); ok {
			if err := r.Refresh(ctx, ev); err != nil {
				m.log.WithField("controller", ev.Name).Warnf("sink refresh failed: %v", err)
			}
		}
	}
}

func (m *Monitor) forget(ctx context.Context, name string) {
	log := m.log.WithField("controller", name)
	log.Info("controller no longer monitored")
	for _, s := range m.sinks {
		if f, ok := s.(Forgetter); ok {
			if err := f.Forget(ctx, name); err != nil {
				log.Warnf("sink forget failed: %v", err)
			}
		}
	}
}

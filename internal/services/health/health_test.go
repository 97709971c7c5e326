package health

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bbernstein/lacylights-outputs/internal/outputs"
	"github.com/bbernstein/lacylights-outputs/internal/services/pubsub"
	redisstore "github.com/bbernstein/lacylights-outputs/internal/store/redis"
)

type managerViewer struct {
	om *outputs.Manager
}

func (v managerViewer) View(fn func(om *outputs.Manager)) { fn(v.om) }

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (s *recordingSink) Notify(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return s.err
}

func newShow(t *testing.T, names ...string) (*outputs.Manager, []outputs.Controller) {
	t.Helper()
	om := outputs.NewManager(nil, nil)
	var cs []outputs.Controller
	for _, name := range names {
		c := outputs.NewNullController(om)
		c.SetName(name)
		require.NoError(t, om.Add(c))
		cs = append(cs, c)
	}
	return om, cs
}

func TestMonitor_Tick(t *testing.T) {
	om, cs := newShow(t, "Spare", "Idle")
	cs[1].SetActive(false)

	sink := &recordingSink{}
	m := NewMonitor(managerViewer{om}, time.Second, time.Second, nil, sink)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	m.now = func() time.Time { return fixed }

	// Nothing has been probed yet.
	assert.Empty(t, m.Tick(context.Background()))

	cs[0].Ping(context.Background())
	cs[1].Ping(context.Background())
	events := m.Tick(context.Background())
	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, "Spare", ev.Name)
	assert.Equal(t, outputs.PingUnavailable.String(), ev.State)
	assert.Equal(t, outputs.PingUnknown.String(), ev.Previous)
	assert.False(t, ev.Reachable)
	assert.Equal(t, fixed, ev.At)
	require.Len(t, sink.events, 1)

	// AsyncPing reset the cached state.
	assert.Equal(t, outputs.PingUnknown, cs[0].LastPingState())

	// The same state again is not a change.
	cs[0].Ping(context.Background())
	assert.Empty(t, m.Tick(context.Background()))
}

func TestMonitor_ForgetsRemovedControllers(t *testing.T) {
	om, cs := newShow(t, "Spare")
	m := NewMonitor(managerViewer{om}, 0, 0, nil)
	assert.Equal(t, DefaultInterval, m.interval)

	cs[0].Ping(context.Background())
	require.Len(t, m.Tick(context.Background()), 1)
	assert.Len(t, m.last, 1)

	om.Remove(cs[0])
	m.Tick(context.Background())
	assert.Empty(t, m.last)
}

func TestMonitor_RefreshesAndForgetsSnapshots(t *testing.T) {
	om, cs := newShow(t, "Spare", "Roof")
	w := &fakeWriter{}
	m := NewMonitor(managerViewer{om}, time.Second, 0, nil, NewStoreSink(w))

	cs[0].Ping(context.Background())
	cs[1].Ping(context.Background())
	require.Len(t, m.Tick(context.Background()), 2)
	require.Len(t, w.snaps, 2)

	// No change, but the snapshots are written again to keep them alive.
	assert.Empty(t, m.Tick(context.Background()))
	require.Len(t, w.snaps, 4)
	assert.Equal(t, outputs.PingUnavailable.String(), w.snaps[3].State)

	require.True(t, om.Remove(cs[0]))
	require.NoError(t, om.Rename(cs[1], "Porch"))
	cs[1].Ping(context.Background())
	events := m.Tick(context.Background())
	require.Len(t, events, 1)
	assert.Equal(t, "Porch", events[0].Name)
	assert.ElementsMatch(t, []string{"Spare", "Roof"}, w.deleted)
}

func TestMonitor_SinkErrorsDoNotStopOthers(t *testing.T) {
	om, cs := newShow(t, "Spare")
	failing := &recordingSink{err: errors.New("down")}
	ok := &recordingSink{}
	m := NewMonitor(managerViewer{om}, time.Second, 0, nil, failing)
	m.AddSink(ok)

	cs[0].Ping(context.Background())
	m.Tick(context.Background())
	assert.Len(t, failing.events, 1)
	assert.Len(t, ok.events, 1)
}

func TestMonitor_RunStopsOnCancel(t *testing.T) {
	om, _ := newShow(t, "Spare")
	m := NewMonitor(managerViewer{om}, 5*time.Millisecond, 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestPubSubSink(t *testing.T) {
	ps := pubsub.New()
	sub := ps.Subscribe(pubsub.TopicPingState, "Roof", 1)
	other := ps.Subscribe(pubsub.TopicPingState, "Porch", 1)

	require.NoError(t, NewPubSubSink(ps).Notify(context.Background(), Event{Name: "Roof", State: "OK"}))

	select {
	case msg := <-sub.Channel:
		assert.Equal(t, "OK", msg.(Event).State)
	default:
		t.Fatal("expected an event for Roof")
	}
	assert.Len(t, other.Channel, 0)
}

type fakeWriter struct {
	snaps   []redisstore.Snapshot
	deleted []string
}

func (w *fakeWriter) Put(_ context.Context, snap redisstore.Snapshot) error {
	w.snaps = append(w.snaps, snap)
	return nil
}

func (w *fakeWriter) Delete(_ context.Context, name string) error {
	w.deleted = append(w.deleted, name)
	return nil
}

func TestStoreSink(t *testing.T) {
	w := &fakeWriter{}
	at := time.Now().UTC()
	ev := Event{ControllerID: 3, Name: "Roof", Address: "10.0.0.21", State: "WEB_OK", Reachable: true, At: at}
	require.NoError(t, NewStoreSink(w).Notify(context.Background(), ev))

	require.Len(t, w.snaps, 1)
	assert.Equal(t, redisstore.Snapshot{
		ControllerID: 3, Name: "Roof", Address: "10.0.0.21", State: "WEB_OK", Reachable: true, At: at,
	}, w.snaps[0])
}

type fakeClient struct {
	topic   string
	payload []byte
	retain  bool
}

func (c *fakeClient) PublishWith(topic string, payload []byte, retain bool) error {
	c.topic, c.payload, c.retain = topic, payload, retain
	return nil
}

func (c *fakeClient) Disconnect() {}

func TestMQTTSink(t *testing.T) {
	c := &fakeClient{}
	s := NewMQTTSink(c, "lacylights/controllers/")

	require.NoError(t, s.Notify(context.Background(), Event{Name: "Roof", State: "OK", Reachable: true}))
	assert.Equal(t, "lacylights/controllers/Roof", c.topic)
	assert.True(t, c.retain)

	var got Event
	require.NoError(t, json.Unmarshal(c.payload, &got))
	assert.Equal(t, "OK", got.State)

	assert.Equal(t, "lacylights/controllers/a_b_c_d", s.Topic("a/b+c#d"))

	require.NoError(t, s.Forget(context.Background(), "Roof"))
	assert.Equal(t, "lacylights/controllers/Roof", c.topic)
	assert.Empty(t, c.payload)
	assert.True(t, c.retain)
}

package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bbernstein/lacylights-outputs/internal/database/models"
	"github.com/bbernstein/lacylights-outputs/internal/outputs"
	"github.com/bbernstein/lacylights-outputs/internal/services/network"
	"github.com/bbernstein/lacylights-outputs/internal/services/pubsub"
	"github.com/bbernstein/lacylights-outputs/internal/services/show"
	redisstore "github.com/bbernstein/lacylights-outputs/internal/store/redis"
)

type fakeChannels struct {
	mu       sync.Mutex
	values   map[int32]byte
	highRate bool
}

func (f *fakeChannels) Blackout() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.values {
		f.values[ch] = 0
	}
	f.highRate = true
}

func (f *fakeChannels) IsHighRate() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.highRate
}

func (f *fakeChannels) Channel(ch int32) (byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.values[ch], nil
}

func (f *fakeChannels) SetChannel(ch int32, v byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch > 1024 {
		return outputs.ErrNotFound
	}
	f.values[ch] = v
	return nil
}

type fixture struct {
	ts       *httptest.Server
	show     *show.Show
	ps       *pubsub.PubSub
	channels *fakeChannels
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ps := pubsub.New()
	sh := show.New(show.Options{PubSub: ps, ShowDir: t.TempDir()})
	require.NoError(t, sh.Update(func(om *outputs.Manager) error {
		c := outputs.NewEthernetController(om)
		c.SetName("Falcon")
		c.SetIP("10.0.0.20")
		if _, err := c.AddOutput(1, 512); err != nil {
			return err
		}
		if _, err := c.AddOutput(2, 512); err != nil {
			return err
		}
		return om.Add(c)
	}))

	channels := &fakeChannels{values: map[int32]byte{}}
	srv := New(Options{
		Show:     sh,
		Channels: channels,
		PubSub:   ps,
		Interfaces: func() ([]network.InterfaceOption, error) {
			return []network.InterfaceOption{{Name: "eth0", Address: "10.0.0.2", Broadcast: "10.0.0.255", InterfaceType: "ethernet"}}, nil
		},
		Version:          "test",
		DiscoveryTimeout: time.Second,
	})
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return &fixture{ts: ts, show: sh, ps: ps, channels: channels}
}

func (f *fixture) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, f.ts.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	res, err := f.ts.Client().Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(res.Body)
	require.NoError(t, err)
	return res, buf.Bytes()
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	res, body := f.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)

	var got map[string]any
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "ok", got["status"])
	assert.Equal(t, "test", got["version"])
	assert.Equal(t, float64(1), got["controllers"])
	assert.Equal(t, true, got["dirty"])
	assert.Equal(t, false, got["dmxHighRate"])
	assert.Equal(t, float64(0), got["pingSubscribers"])
}

func TestListAndGetControllers(t *testing.T) {
	f := newFixture(t)

	res, body := f.do(t, http.MethodGet, "/api/controllers", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var list []controllerView
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list, 1)
	assert.Equal(t, "Falcon", list[0].Name)
	assert.Equal(t, outputs.KindEthernet, list[0].Type)
	assert.Equal(t, "10.0.0.20", list[0].Address)
	assert.Equal(t, outputs.ProtocolE131, list[0].Protocol)
	assert.Equal(t, int32(1024), list[0].Channels)
	require.Len(t, list[0].Outputs, 2)
	assert.Equal(t, int32(513), list[0].Outputs[1].StartChannel)

	res, body = f.do(t, http.MethodGet, "/api/controllers/Falcon", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var one controllerView
	require.NoError(t, json.Unmarshal(body, &one))
	assert.Equal(t, "UNKNOWN", one.Ping)

	res, _ = f.do(t, http.MethodGet, "/api/controllers/"+itoa(one.ID), nil)
	assert.Equal(t, http.StatusOK, res.StatusCode, "lookup by controller id")

	res, _ = f.do(t, http.MethodGet, "/api/controllers/Nope", nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestListControllers_SortByName(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.show.Update(func(om *outputs.Manager) error {
		c := outputs.NewNullController(om)
		c.SetName("Aardvark")
		return om.Add(c)
	}))

	names := func(path string) []string {
		res, body := f.do(t, http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, res.StatusCode)
		var list []controllerView
		require.NoError(t, json.Unmarshal(body, &list))
		out := make([]string, 0, len(list))
		for _, v := range list {
			out = append(out, v.Name)
		}
		return out
	}
	assert.Equal(t, []string{"Falcon", "Aardvark"}, names("/api/controllers"))
	assert.Equal(t, []string{"Aardvark", "Falcon"}, names("/api/controllers?sort=name"))

	res, _ := f.do(t, http.MethodGet, "/api/controllers?sort=colour", nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestListControllers_FilterByPing(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.show.Update(func(om *outputs.Manager) error {
		c := outputs.NewNullController(om)
		c.SetName("Spare")
		c.Ping(context.Background())
		return om.Add(c)
	}))

	res, body := f.do(t, http.MethodGet, "/api/controllers?ping=UNAVAILABLE", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var list []controllerView
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list, 1)
	assert.Equal(t, "Spare", list[0].Name)
	assert.Contains(t, list[0].Summary, "NULL")

	res, body = f.do(t, http.MethodGet, "/api/controllers?ping=UNKNOWN", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list, 1)
	assert.Equal(t, "Falcon", list[0].Name)

	res, _ = f.do(t, http.MethodGet, "/api/controllers?ping=asleep", nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestMoveController(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.show.Update(func(om *outputs.Manager) error {
		c := outputs.NewNullController(om)
		c.SetName("Spare")
		if _, err := c.AddOutput(1, 100); err != nil {
			return err
		}
		return om.Add(c)
	}))

	res, body := f.do(t, http.MethodPost, "/api/controllers/Spare/move", map[string]int{"position": 0})
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	var list []controllerView
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list, 2)
	assert.Equal(t, "Spare", list[0].Name)
	assert.Equal(t, int32(1), list[0].StartChannel)
	assert.Equal(t, int32(101), list[1].StartChannel)

	res, _ = f.do(t, http.MethodPost, "/api/controllers/Spare/move", map[string]int{"position": 5})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	res, _ = f.do(t, http.MethodPost, "/api/controllers/Spare/move", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	res, _ = f.do(t, http.MethodPost, "/api/controllers/Ghost/move", map[string]int{"position": 0})
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestCreateAndDeleteController(t *testing.T) {
	f := newFixture(t)

	res, body := f.do(t, http.MethodPost, "/api/controllers", map[string]any{
		"kind":    "Null",
		"name":    "Spare",
		"outputs": []map[string]any{{"channels": 100, "enabled": true}},
	})
	require.Equal(t, http.StatusCreated, res.StatusCode, string(body))
	var created controllerView
	require.NoError(t, json.Unmarshal(body, &created))
	assert.True(t, created.Active)
	assert.Equal(t, int32(1025), created.StartChannel)
	assert.Equal(t, int32(100), created.Channels)

	res, body = f.do(t, http.MethodPost, "/api/controllers", map[string]any{"kind": "Null", "name": "Spare"})
	assert.Equal(t, http.StatusUnprocessableEntity, res.StatusCode)
	assert.Contains(t, string(body), `"property":"name"`)

	res, _ = f.do(t, http.MethodPost, "/api/controllers", map[string]any{"kind": "Smoke"})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res, _ = f.do(t, http.MethodPost, "/api/controllers", "not a record")
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res, _ = f.do(t, http.MethodDelete, "/api/controllers/Spare", nil)
	assert.Equal(t, http.StatusNoContent, res.StatusCode)
	res, _ = f.do(t, http.MethodDelete, "/api/controllers/Spare", nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	f.show.View(func(om *outputs.Manager) { assert.Equal(t, 1, om.Count()) })
}

func TestProperties(t *testing.T) {
	f := newFixture(t)

	res, body := f.do(t, http.MethodGet, "/api/controllers/Falcon/properties", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var props propertiesResponse
	require.NoError(t, json.Unmarshal(body, &props))
	assert.Equal(t, "Falcon", props.Controller)
	names := make([]string, 0, len(props.Properties))
	for _, p := range props.Properties {
		names = append(names, p.Name)
	}
	assert.Contains(t, names, outputs.PropName)
	assert.Contains(t, names, outputs.PropIP)

	res, body = f.do(t, http.MethodPatch, "/api/controllers/Falcon/properties", []outputs.PropertyEvent{
		{Name: outputs.PropIP, Value: "10.0.0.30"},
		{Name: outputs.PropName, Value: "Garage"},
	})
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	require.NoError(t, json.Unmarshal(body, &props))
	assert.Equal(t, "Garage", props.Controller)

	f.show.View(func(om *outputs.Manager) {
		c, ok := om.ControllerByName("Garage")
		require.True(t, ok)
		assert.Equal(t, "10.0.0.30", c.(*outputs.EthernetController).IP())
	})

	res, _ = f.do(t, http.MethodPatch, "/api/controllers/Garage/properties", []outputs.PropertyEvent{
		{Name: outputs.PropIP, Value: "not-an-ip"},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, res.StatusCode)

	res, _ = f.do(t, http.MethodPatch, "/api/controllers/Garage/properties", []outputs.PropertyEvent{
		{Name: "colour", Value: "red"},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, res.StatusCode)

	res, _ = f.do(t, http.MethodPatch, "/api/controllers/Garage/properties", map[string]any{"name": "x"})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestProperties_RejectedBatchListsApplied(t *testing.T) {
	f := newFixture(t)

	res, body := f.do(t, http.MethodPatch, "/api/controllers/Falcon/properties", []outputs.PropertyEvent{
		{Name: outputs.PropDescription, Value: "Garage"},
		{Name: outputs.PropIP, Value: "not-an-ip"},
		{Name: outputs.PropName, Value: "Never"},
	})
	require.Equal(t, http.StatusUnprocessableEntity, res.StatusCode)
	var got errorResponse
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, outputs.PropIP, got.Property)
	assert.Equal(t, []string{outputs.PropDescription}, got.Applied)

	f.show.View(func(om *outputs.Manager) {
		c, ok := om.ControllerByName("Falcon")
		require.True(t, ok)
		assert.Equal(t, "Garage", c.Description())
		assert.Equal(t, "10.0.0.20", c.(*outputs.EthernetController).IP())
	})
}

func TestPing(t *testing.T) {
	f := newFixture(t)
	res, _ := f.do(t, http.MethodPost, "/api/controllers", map[string]any{"kind": "Null", "name": "Spare"})
	require.Equal(t, http.StatusCreated, res.StatusCode)

	res, body := f.do(t, http.MethodPost, "/api/controllers/Spare/ping", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var got pingResponse
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, outputs.PingUnavailable.String(), got.State)
	assert.False(t, got.Reachable)
}

func TestDiscover_NoDiscoverers(t *testing.T) {
	f := newFixture(t)
	res, body := f.do(t, http.MethodPost, "/api/discover", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var got discoverResponse
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Empty(t, got.Added)
	assert.Empty(t, got.Error)
}

func TestInterfaces(t *testing.T) {
	f := newFixture(t)
	res, body := f.do(t, http.MethodGet, "/api/interfaces", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var got []network.InterfaceOption
	require.NoError(t, json.Unmarshal(body, &got))
	require.Len(t, got, 1)
	assert.Equal(t, "10.0.0.255", got[0].Broadcast)
}

func TestBlackout(t *testing.T) {
	f := newFixture(t)
	res, _ := f.do(t, http.MethodPut, "/api/channels/3", map[string]int{"value": 200})
	require.Equal(t, http.StatusOK, res.StatusCode)

	res, _ = f.do(t, http.MethodPost, "/api/blackout", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	v, err := f.channels.Channel(3)
	require.NoError(t, err)
	assert.Equal(t, byte(0), v)
	assert.True(t, f.channels.IsHighRate())
}

func TestChannels(t *testing.T) {
	f := newFixture(t)

	res, body := f.do(t, http.MethodPut, "/api/channels/600", map[string]int{"value": 77})
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))

	res, body = f.do(t, http.MethodGet, "/api/channels/600", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var got channelResponse
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "Falcon", got.Controller)
	assert.Equal(t, 2, got.Universe)
	assert.Equal(t, int32(87), got.Offset)
	require.NotNil(t, got.Value)
	assert.Equal(t, 77, *got.Value)

	res, _ = f.do(t, http.MethodGet, "/api/channels/5000", nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	res, _ = f.do(t, http.MethodGet, "/api/channels/0", nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	res, _ = f.do(t, http.MethodGet, "/api/channels/abc", nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	res, _ = f.do(t, http.MethodPut, "/api/channels/1", map[string]int{"value": 300})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	res, _ = f.do(t, http.MethodPut, "/api/channels/2000", map[string]int{"value": 1})
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestSaveAndExport(t *testing.T) {
	f := newFixture(t)

	res, _ := f.do(t, http.MethodPost, "/api/save", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.False(t, f.show.IsDirty())

	res, body := f.do(t, http.MethodGet, "/api/export", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "text/csv", res.Header.Get("Content-Type"))
	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], "Falcon")
}

func TestWebsocketFeed(t *testing.T) {
	f := newFixture(t)

	wsURL := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/api/ws?controller=Falcon"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		return f.ps.SubscriberCount(pubsub.TopicPingState) == 1
	}, time.Second, 5*time.Millisecond)

	f.ps.Publish(pubsub.TopicPingState, "Other", map[string]string{"name": "Other"})
	f.ps.Publish(pubsub.TopicPingState, "Falcon", map[string]string{"name": "Falcon", "state": "OK"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var got map[string]string
	require.NoError(t, json.Unmarshal(msg, &got))
	assert.Equal(t, "Falcon", got["name"])

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		return f.ps.SubscriberCount(pubsub.TopicPingState) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, context.Canceled)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = httptest.NewRecorder()
	writeError(rec, outputs.ErrNotOk)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func itoa(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}

type fakeSettings struct{}

func (fakeSettings) FindAll(context.Context) ([]models.Setting, error) {
	return []models.Setting{{Key: "show.dir", Value: "/shows/xmas"}}, nil
}

type fakeSnapshots struct {
	snaps map[string]redisstore.Snapshot
}

func (f fakeSnapshots) All(context.Context) ([]redisstore.Snapshot, error) {
	out := make([]redisstore.Snapshot, 0, len(f.snaps))
	for _, s := range f.snaps {
		out = append(out, s)
	}
	return out, nil
}

func (f fakeSnapshots) Get(_ context.Context, name string) (*redisstore.Snapshot, error) {
	s, ok := f.snaps[name]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func TestSettingsAndSnapshots(t *testing.T) {
	srv := New(Options{
		Show:     show.New(show.Options{}),
		Settings: fakeSettings{},
		Snapshots: fakeSnapshots{snaps: map[string]redisstore.Snapshot{
			"Falcon": {Name: "Falcon", State: "OK", Reachable: true},
		}},
	})
	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	get := func(path string) (int, []byte) {
		res, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		defer res.Body.Close()
		var buf bytes.Buffer
		_, _ = buf.ReadFrom(res.Body)
		return res.StatusCode, buf.Bytes()
	}

	code, body := get("/api/settings")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"show.dir":"/shows/xmas"}`, string(body))

	code, body = get("/api/ping-snapshots")
	require.Equal(t, http.StatusOK, code)
	var all []redisstore.Snapshot
	require.NoError(t, json.Unmarshal(body, &all))
	require.Len(t, all, 1)
	assert.True(t, all[0].Reachable)

	code, _ = get("/api/ping-snapshots/Falcon")
	assert.Equal(t, http.StatusOK, code)
	code, _ = get("/api/ping-snapshots/Roof")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestSnapshotsDisabled(t *testing.T) {
	f := newFixture(t)
	res, _ := f.do(t, http.MethodGet, "/api/ping-snapshots", nil)
	assert.Equal(t, http.StatusServiceUnavailable, res.StatusCode)

	res, body := f.do(t, http.MethodGet, "/api/settings", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.JSONEq(t, `{}`, string(body))
}

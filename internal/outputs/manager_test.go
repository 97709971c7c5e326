package outputs

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addEthernet(t *testing.T, om *Manager, name, ip string, sizes ...int32) *EthernetController {
	t.Helper()
	c := NewEthernetController(om)
	c.SetName(name)
	c.SetIP(ip)
	for i, n := range sizes {
		_, err := c.AddOutput(i+1, n)
		require.NoError(t, err)
	}
	require.NoError(t, om.Add(c))
	return c
}

func TestManager_AddGeneratesNameAndUniqueID(t *testing.T) {
	om := NewManager(nil, nil)

	a := NewEthernetController(om)
	require.NoError(t, om.Add(a))
	b := NewEthernetController(om)
	require.NoError(t, om.Add(b))

	assert.Equal(t, "Ethernet_1", a.Name())
	assert.Equal(t, "Ethernet_2", b.Name())
	assert.Equal(t, 64001, a.ID())
	assert.Equal(t, 64002, b.ID())
	assert.Equal(t, 64003, om.UniqueID())
	assert.True(t, om.IsDirty())
}

func TestManager_AddRejectsDuplicateName(t *testing.T) {
	om := NewManager(nil, nil)
	addEthernet(t, om, "Falcon", "10.0.0.1", 512)

	dup := NewEthernetController(om)
	dup.SetName("falcon")
	err := om.Add(dup)
	assert.True(t, errors.Is(err, ErrValidation))
	assert.Equal(t, 1, om.Count())
}

func TestManager_EnsureUniqueIDIsNoOpWithoutCollision(t *testing.T) {
	om := NewManager(nil, nil)
	c := addEthernet(t, om, "A", "10.0.0.1", 512)
	c.ClearDirty()

	c.EnsureUniqueID()
	assert.Equal(t, 64001, c.ID())
	assert.False(t, c.IsDirty())
}

func TestManager_Layout(t *testing.T) {
	om := NewManager(nil, nil)
	a := addEthernet(t, om, "A", "10.0.0.1", 512, 170)
	b := addEthernet(t, om, "B", "10.0.0.2", 100)

	assert.Equal(t, int32(1), a.StartChannel())
	assert.Equal(t, int32(682), a.EndChannel())
	assert.Equal(t, int32(683), b.StartChannel())
	assert.Equal(t, int32(782), om.TotalChannels())

	outs := b.Outputs()
	assert.Equal(t, 3, outs[0].OutputNumber())

	// growing A moves B
	require.NoError(t, a.SetOutputChannels(1, 200))
	assert.Equal(t, int32(713), b.StartChannel())
}

func TestManager_InactiveControllerTakesNoChannels(t *testing.T) {
	om := NewManager(nil, nil)
	a := addEthernet(t, om, "A", "10.0.0.1", 512)
	b := addEthernet(t, om, "B", "10.0.0.2", 100)

	a.SetActive(false)

	assert.Equal(t, int32(512), a.Channels())
	assert.Equal(t, int32(1), b.StartChannel())
	assert.Equal(t, int32(100), om.TotalChannels())

	c, _, _, err := om.Resolve(1)
	require.NoError(t, err)
	assert.Equal(t, "B", c.Name())
}

func TestManager_Resolve(t *testing.T) {
	om := NewManager(nil, nil)
	addEthernet(t, om, "A", "10.0.0.1", 512, 170)
	addEthernet(t, om, "B", "10.0.0.2", 100)

	c, o, offset, err := om.Resolve(700)
	require.NoError(t, err)
	assert.Equal(t, "B", c.Name())
	assert.Equal(t, 1, o.Universe())
	assert.Equal(t, int32(17), offset)

	_, _, _, err = om.Resolve(0)
	assert.True(t, errors.Is(err, ErrOutOfRange))
	_, _, _, err = om.Resolve(783)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestManager_NullNumbering(t *testing.T) {
	om := NewManager(nil, nil)
	n1 := NewNullController(om)
	n2 := NewNullController(om)
	require.NoError(t, om.Add(n1))
	addEthernet(t, om, "E", "10.0.0.1", 512)
	require.NoError(t, om.Add(n2))

	assert.Equal(t, 1, n1.NullNumber())
	assert.Equal(t, 2, n2.NullNumber())
	assert.Equal(t, "NULL 2", n2.UniverseString())
	assert.Equal(t, int32(1025), n2.StartChannel())
}

func TestManager_RenameAndRemove(t *testing.T) {
	om := NewManager(nil, nil)
	a := addEthernet(t, om, "A", "10.0.0.1", 512)
	b := addEthernet(t, om, "B", "10.0.0.2", 512)

	err := om.Rename(b, "a")
	assert.True(t, errors.Is(err, ErrValidation))
	assert.Equal(t, "B", b.Name())

	require.NoError(t, om.Rename(b, "C"))
	assert.Equal(t, "C", b.Name())

	assert.True(t, om.Remove(a))
	assert.False(t, om.Remove(a))
	assert.Equal(t, int32(1), b.StartChannel())
	assert.Nil(t, a.Manager())
}

func TestManager_Move(t *testing.T) {
	om := NewManager(nil, nil)
	a := addEthernet(t, om, "A", "10.0.0.1", 512)
	b := addEthernet(t, om, "B", "10.0.0.2", 100)

	require.NoError(t, om.Move(b, 0))
	assert.Equal(t, int32(1), b.StartChannel())
	assert.Equal(t, int32(101), a.StartChannel())

	err := om.Move(a, 5)
	assert.True(t, errors.Is(err, ErrOutOfRange))
}

func TestManager_SaveLoadRoundTrip(t *testing.T) {
	om := NewManager(nil, nil)
	addEthernet(t, om, "A", "10.0.0.1", 512, 170)
	s := NewSerialController(om)
	s.SetName("Dongle")
	s.SetPort("/dev/ttyUSB0")
	require.NoError(t, om.Add(s))
	require.NoError(t, om.Add(NewNullController(om)))

	recs := om.Save()
	require.Len(t, recs, 3)

	loaded := NewManager(nil, nil)
	require.NoError(t, loaded.Load(recs, ""))

	assert.False(t, loaded.IsDirty())
	assert.Equal(t, recs, loaded.Save())
	assert.Equal(t, om.TotalChannels(), loaded.TotalChannels())
}

func TestManager_LoadSkipsUnknownKinds(t *testing.T) {
	om := NewManager(nil, nil)
	recs := []Record{
		{SchemaVersion: CurrentSchemaVersion, Kind: "Zigbee", ID: 1, Name: "Z", Active: true},
		{SchemaVersion: CurrentSchemaVersion, Kind: KindEthernet, ID: 2, Name: "E", IP: "10.0.0.1",
			Protocol: ProtocolE131, Active: true, Outputs: []OutputRecord{{Channels: 512, Enabled: true, Universe: 1}}},
		{SchemaVersion: CurrentSchemaVersion, Kind: KindEthernet, ID: 3, Name: "Broken", IP: "10.0.0.2",
			Protocol: ProtocolE131, Active: true, Outputs: []OutputRecord{{Channels: 0, Enabled: true, Universe: 1}}},
	}

	err := om.Load(recs, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownKind))
	assert.True(t, errors.Is(err, ErrNotOk))

	require.Equal(t, 2, om.Count())
	broken, ok := om.ControllerByName("Broken")
	require.True(t, ok)
	assert.False(t, broken.IsOk())
	o, err := broken.Output(0)
	require.NoError(t, err)
	assert.Equal(t, int32(1), o.Channels())
}

func TestManager_LoadUniquifiesNames(t *testing.T) {
	om := NewManager(nil, nil)
	recs := []Record{
		{SchemaVersion: CurrentSchemaVersion, Kind: KindNull, ID: 1, Name: "N", Active: true,
			Outputs: []OutputRecord{{Channels: 10, Enabled: true}}},
		{SchemaVersion: CurrentSchemaVersion, Kind: KindNull, ID: 2, Name: "N", Active: true,
			Outputs: []OutputRecord{{Channels: 10, Enabled: true}}},
	}
	require.NoError(t, om.Load(recs, ""))

	names := []string{om.Controllers()[0].Name(), om.Controllers()[1].Name()}
	assert.Equal(t, []string{"N", "N_1"}, names)
}

func TestManager_Export(t *testing.T) {
	om := NewManager(nil, nil)
	addEthernet(t, om, "A", "10.0.0.1", 512)
	addEthernet(t, om, "B", "10.0.0.2", 512)

	lines := strings.Split(strings.TrimSpace(om.Export()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "Type,Name,Description,Id"))
	assert.True(t, strings.HasPrefix(lines[2], "Ethernet,B,"))
}

func TestManager_MergeDiscovered(t *testing.T) {
	om := NewManager(nil, nil)
	addEthernet(t, om, "A", "10.0.0.1", 512)

	same := NewEthernetController(om)
	same.SetName("Found")
	same.SetIP("10.0.0.1")
	fresh := NewEthernetController(om)
	fresh.SetName("A")
	fresh.SetIP("10.0.0.9")

	added := om.MergeDiscovered([]Controller{same, fresh})
	require.Len(t, added, 1)
	assert.Equal(t, "A_1", added[0].Name())
	assert.Equal(t, 2, om.Count())
}

func TestManager_Discover(t *testing.T) {
	reg := NewRegistry()
	om := NewManager(reg, nil)

	found, err := reg.Discover(context.Background(), KindSerial, om)
	require.NoError(t, err)
	assert.NotNil(t, found)
	assert.Empty(t, found)

	require.NoError(t, reg.RegisterDiscoverer(KindEthernet, DiscovererFunc(func(ctx context.Context, om *Manager) ([]Controller, error) {
		c := NewEthernetController(om)
		c.SetIP("10.1.1.1")
		return []Controller{c}, nil
	})))

	all, err := om.Registry().DiscoverAll(context.Background(), om)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, 0, om.Count(), "discovery must not modify the manager")
}

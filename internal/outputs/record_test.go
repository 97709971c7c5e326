package outputs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvert_RoundTrip(t *testing.T) {
	c := newTestEthernet(t, 512, 512)
	c.SetVendor("Falcon")
	c.SetModel("F16V4")
	require.NoError(t, c.SetProtocol(ProtocolArtNet))
	require.NoError(t, c.SetPriority(50))
	rec := c.Save()

	restored := NewEthernetController(nil)
	require.NoError(t, restored.Convert(rec, ""))

	assert.True(t, restored.IsOk())
	assert.False(t, restored.IsDirty())
	assert.Equal(t, rec, restored.Save())

	// a second conversion of the same record changes nothing
	require.NoError(t, restored.Convert(rec, ""))
	assert.Equal(t, rec, restored.Save())
	assert.Equal(t, int32(1024), restored.Channels())
}

func TestConvert_LegacyEthernet(t *testing.T) {
	rec := &Record{
		SchemaVersion:       1,
		Kind:                "E131",
		ID:                  5,
		Name:                "Yard",
		IP:                  "10.0.0.5",
		Active:              true,
		LegacyType:          "Falcon F4V3/F16V3",
		Universe:            10,
		Universes:           3,
		ChannelsPerUniverse: 510,
	}

	c, err := NewRegistry().Create(nil, rec, "")
	require.NoError(t, err)
	e, ok := c.(*EthernetController)
	require.True(t, ok, "E131 should create an Ethernet controller")

	assert.Equal(t, ProtocolE131, e.Protocol())
	assert.Equal(t, "Falcon", e.Vendor())
	assert.Equal(t, "F16V3", e.Model())
	assert.Equal(t, 3, e.OutputCount())
	assert.Equal(t, "10-12", e.UniverseString())
	assert.Equal(t, int32(1530), e.Channels())
	assert.True(t, e.IsOk())
	assert.True(t, e.IsDirty(), "migrated records must be saved again")

	saved := e.Save()
	assert.Equal(t, CurrentSchemaVersion, saved.SchemaVersion)
	assert.Empty(t, saved.LegacyType)
	assert.Zero(t, saved.Universes)
}

func TestConvert_UnversionedRecordIsActive(t *testing.T) {
	rec := &Record{Kind: "DMX", ID: 9, Name: "Dongle", Port: "/dev/ttyUSB0", Universes: 1}

	c, err := NewRegistry().Create(nil, rec, "")
	require.NoError(t, err)
	assert.True(t, c.IsActive())
	s := c.(*SerialController)
	assert.Equal(t, ProtocolDMX, s.Protocol())
	assert.Equal(t, int32(512), s.Channels())
}

func TestConvert_MalformedRecord(t *testing.T) {
	rec := &Record{
		SchemaVersion: CurrentSchemaVersion,
		Kind:          KindEthernet,
		ID:            0,
		Name:          "",
		Protocol:      "Carrier Pigeon",
		Outputs:       []OutputRecord{{Channels: -4, Enabled: true, Universe: 1}, {Channels: 9000, Enabled: true, Universe: 2}},
	}

	c, err := NewRegistry().Create(nil, rec, "")
	require.NotNil(t, c)
	assert.True(t, errors.Is(err, ErrNotOk))
	assert.False(t, c.IsOk())

	for _, o := range c.Outputs() {
		assert.GreaterOrEqual(t, o.Channels(), int32(1))
		assert.LessOrEqual(t, o.Channels(), int32(512))
	}
	assert.Equal(t, DefaultControllerID, c.ID())
}

func TestConvert_SerialRelativePort(t *testing.T) {
	rec := &Record{SchemaVersion: CurrentSchemaVersion, Kind: KindSerial, ID: 1, Name: "S",
		Protocol: ProtocolRenard, Port: "devices/tty0", Speed: 57600, Active: true,
		Outputs: []OutputRecord{{Channels: 2048, Enabled: true}}}

	c, err := NewRegistry().Create(nil, rec, "/shows/xmas")
	require.NoError(t, err)
	s := c.(*SerialController)
	assert.Equal(t, "devices/tty0", s.Port())
	assert.Equal(t, "/shows/xmas/devices/tty0", s.devicePath())
	assert.Equal(t, "devices/tty0", s.Save().Port, "relative ports are saved as entered")
	assert.Equal(t, int32(2048), s.Channels(), "Renard has no channel limit")
	assert.True(t, s.SupportsAutoSize())
}

func TestConvertOldTypeToVendorModel(t *testing.T) {
	tests := []struct {
		old, vendor, model string
	}{
		{"Falcon F4V2/F16V2", "Falcon", "F16V2"},
		{"falcon f4v3/f16v3", "Falcon", "F16V3"},
		{"FPP", "FPP", ""},
		{"Pixlite 16", "Advatek", "PixLite 16"},
		{"", "", ""},
		{"Unknown", "", ""},
		{"Acme Blinker", "Acme Blinker", ""},
	}
	for _, tt := range tests {
		t.Run(tt.old, func(t *testing.T) {
			v, m := ConvertOldTypeToVendorModel(tt.old)
			if v != tt.vendor || m != tt.model {
				t.Errorf("ConvertOldTypeToVendorModel(%q) = (%q, %q), want (%q, %q)", tt.old, v, m, tt.vendor, tt.model)
			}
		})
	}
}

func TestChoices(t *testing.T) {
	v, err := EncodeChoices(SerialSpeeds, "115200")
	require.NoError(t, err)
	assert.Equal(t, 115200, v)

	_, err = EncodeChoices(SerialSpeeds, "fast")
	assert.True(t, errors.Is(err, ErrNotFound))

	label, err := DecodeChoices(EthernetProtocols, 2)
	require.NoError(t, err)
	assert.Equal(t, ProtocolDDP, label)

	_, err = DecodeChoices(EthernetProtocols, 7)
	assert.True(t, errors.Is(err, ErrOutOfRange))

	assert.Equal(t, []string{"E131", "ArtNet", "DDP"}, EthernetProtocols.Labels())
}

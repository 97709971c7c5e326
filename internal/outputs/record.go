package outputs

const (
	// CurrentSchemaVersion is the record layout written by Save.
	CurrentSchemaVersion = 2
	// DefaultUniverseSize is the channel count used when a record omits it.
	DefaultUniverseSize int32 = 512
)

// Record is the persisted shape of a controller and its outputs.
// Schema version 1 records describe a single legacy network entry with a
// universe count instead of an explicit output list; Convert migrates them.
type Record struct {
	SchemaVersion           int    `yaml:"schemaVersion" json:"schemaVersion"`
	Kind                    string `yaml:"kind" json:"kind"`
	ID                      int    `yaml:"id" json:"id"`
	Name                    string `yaml:"name" json:"name"`
	Description             string `yaml:"description,omitempty" json:"description,omitempty"`
	Vendor                  string `yaml:"vendor,omitempty" json:"vendor,omitempty"`
	Model                   string `yaml:"model,omitempty" json:"model,omitempty"`
	FirmwareVersion         string `yaml:"firmwareVersion,omitempty" json:"firmwareVersion,omitempty"`
	Active                  bool   `yaml:"active" json:"active"`
	AutoSize                bool   `yaml:"autoSize" json:"autoSize"`
	AutoStartChannels       bool   `yaml:"autoStartChannels" json:"autoStartChannels"`
	SuppressDuplicateFrames bool   `yaml:"suppressDuplicateFrames" json:"suppressDuplicateFrames"`

	// Ethernet
	IP       string `yaml:"ip,omitempty" json:"ip,omitempty"`
	Protocol string `yaml:"protocol,omitempty" json:"protocol,omitempty"`
	Priority int    `yaml:"priority,omitempty" json:"priority,omitempty"`

	// Serial
	Port  string `yaml:"port,omitempty" json:"port,omitempty"`
	Speed int    `yaml:"speed,omitempty" json:"speed,omitempty"`

	Outputs []OutputRecord `yaml:"outputs" json:"outputs"`

	// Legacy (schema version 1) fields.
	LegacyType          string `yaml:"legacyType,omitempty" json:"legacyType,omitempty"`
	Universe            int    `yaml:"universe,omitempty" json:"universe,omitempty"`
	Universes           int    `yaml:"universes,omitempty" json:"universes,omitempty"`
	ChannelsPerUniverse int32  `yaml:"channelsPerUniverse,omitempty" json:"channelsPerUniverse,omitempty"`
	Enabled             *bool  `yaml:"enabled,omitempty" json:"enabled,omitempty"`
}

// OutputRecord is the persisted shape of one output.
type OutputRecord struct {
	Channels int32 `yaml:"channels" json:"channels"`
	Enabled  bool  `yaml:"enabled" json:"enabled"`
	Universe int   `yaml:"universe,omitempty" json:"universe,omitempty"`
}

// IsLegacy reports whether the record predates explicit output lists.
func (r *Record) IsLegacy() bool {
	return r.SchemaVersion < CurrentSchemaVersion
}

// upgrade returns a copy of the record in the current layout. Current
// records are returned unchanged, which keeps Convert idempotent.
func (r *Record) upgrade() Record {
	up := *r
	if !r.IsLegacy() {
		up.Outputs = append([]OutputRecord(nil), r.Outputs...)
		return up
	}

	if r.LegacyType != "" && up.Vendor == "" && up.Model == "" {
		up.Vendor, up.Model = ConvertOldTypeToVendorModel(r.LegacyType)
	}

	enabled := true
	if r.Enabled != nil {
		enabled = *r.Enabled
	}

	if len(r.Outputs) == 0 {
		count := r.Universes
		if count < 1 {
			count = 1
		}
		channels := r.ChannelsPerUniverse
		if channels == 0 {
			channels = DefaultUniverseSize
		}
		up.Outputs = make([]OutputRecord, 0, count)
		for i := 0; i < count; i++ {
			universe := 0
			if r.Universe > 0 {
				universe = r.Universe + i
			}
			up.Outputs = append(up.Outputs, OutputRecord{Channels: channels, Enabled: enabled, Universe: universe})
		}
	} else {
		up.Outputs = append([]OutputRecord(nil), r.Outputs...)
	}

	if r.SchemaVersion < 1 {
		// Records without a version never stored the active flag.
		up.Active = true
	}

	up.SchemaVersion = CurrentSchemaVersion
	up.LegacyType = ""
	up.Universe = 0
	up.Universes = 0
	up.ChannelsPerUniverse = 0
	up.Enabled = nil
	return up
}

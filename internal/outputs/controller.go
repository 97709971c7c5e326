// Package outputs models output controllers: the endpoints that receive
// channel data, the outputs (universes, ports) they own, and how those outputs
// are laid out in a show's absolute channel space.
//
// A Controller is not safe for concurrent use. All edits, layout passes and
// uniqueness checks are expected to run on the goroutine that owns the
// Manager. The only exception is the ping cache, which AsyncPing updates
// from a background probe.
package outputs

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultControllerID is the id given to freshly constructed controllers.
const DefaultControllerID = 64001

// DefaultPingTimeout bounds a single reachability probe.
const DefaultPingTimeout = 2 * time.Second

// Controller is the contract shared by every controller kind. Concrete kinds
// embed BaseController and supply the kind-specific methods.
type Controller interface {
	ID() int
	SetID(id int)
	EnsureUniqueID()
	Name() string
	SetName(name string)
	Description() string
	SetDescription(description string)
	Vendor() string
	SetVendor(vendor string)
	Model() string
	SetModel(model string)
	FirmwareVersion() string
	SetFirmwareVersion(version string)
	VMF() string
	IsActive() bool
	SetActive(active bool)
	IsAutoSize() bool
	SetAutoSize(autoSize bool)
	IsAutoStartChannels() bool
	SetAutoStartChannels(auto bool)
	IsSuppressDuplicateFrames() bool
	SetSuppressDuplicateFrames(suppress bool)
	IsOk() bool
	IsDirty() bool
	ClearDirty()
	IsEnabled() bool
	Enable(enable bool)

	Output(index int) (*Output, error)
	OutputForChannel(absoluteChannel int32) (*Output, int32, error)
	Outputs() []*Output
	OutputCount() int
	AddOutput(universe int, channels int32) (*Output, error)
	SetOutputCount(count int) error
	SetOutputChannels(index int, channels int32) error
	SetOutputEnabled(index int, enabled bool) error
	SetOutputUniverse(index int, universe int) error
	ResizeToChannels(required int32) bool
	DeleteAllOutputs()
	StartChannel() int32
	EndChannel() int32
	Channels() int32
	SetTransientData(t *TransientData)

	Ping(ctx context.Context) PingState
	AsyncPing()
	LastPingState() PingState
	CanPing() bool
	Close()

	SupportsSuppressDuplicateFrames() bool
	SupportsUpload() bool
	IsManaged() bool
	IsNeedsID() bool
	NeedsControllerConfig() bool
	MaxOutputs() int
	IsLookedUpByControllerName() bool
	SupportsAutoSize() bool

	Type() string
	ChannelMapping(absoluteChannel int32) string
	UniverseString() string
	Export() string
	LongDescription() string
	PingDescription() string
	SortName() string

	Save() *Record
	Convert(rec *Record, showDir string) error

	AddProperties(g *PropertyGrid)
	HandlePropertyEvent(om *Manager, ev PropertyEvent) (bool, error)
	ValidateProperties(om *Manager) []*ValidationError

	base() *BaseController
}

// TransientData carries the running counters of a layout pass.
type TransientData struct {
	OutputNumber int   // next 1-based output number
	StartChannel int32 // next free absolute channel
	NullNumber   int   // next null controller number
}

// channelLimiter is implemented by kinds that cap the size of one output.
type channelLimiter interface {
	MaxChannelsPerOutput() int32
}

// probeFunc snapshots whatever a probe needs on the owner goroutine and
// returns the function that runs the probe.
type probeFunc func() func(ctx context.Context) PingState

// BaseController holds the state and behaviour common to all kinds.
type BaseController struct {
	self Controller // the concrete controller embedding this base
	om   *Manager   // not owned

	id                      int
	name                    string
	description             string
	vendor                  string
	model                   string
	firmwareVersion         string
	ok                      bool
	dirty                   bool
	active                  bool
	autoSize                bool
	autoStartChannels       bool
	suppressDuplicateFrames bool
	outputs                 []*Output
	startChannel            int32

	newProbe    probeFunc
	pingTimeout atomic.Int64 // time.Duration
	lastPing    atomic.Int32

	pingMu     sync.Mutex
	pingCtx    context.Context
	pingCancel context.CancelFunc
	pingWG     sync.WaitGroup
	closed     bool
}

func (b *BaseController) init(self Controller, om *Manager) {
	b.self = self
	b.om = om
	b.id = DefaultControllerID
	b.ok = true
	b.active = true
	b.startChannel = 1
	b.pingTimeout.Store(int64(DefaultPingTimeout))
	b.lastPing.Store(int32(PingUnknown))
}

func (b *BaseController) base() *BaseController { return b }

// Manager returns the manager this controller belongs to, if any.
func (b *BaseController) Manager() *Manager { return b.om }

func (b *BaseController) ID() int { return b.id }

// SetID changes the identifier. Callers that hold a Manager must make sure the
// id is unique before committing it; EnsureUniqueID does that.
func (b *BaseController) SetID(id int) {
	if b.id != id {
		b.id = id
		b.dirty = true
	}
}

// EnsureUniqueID moves the id upwards until no other controller in the
// manager uses it. It is a no-op when there is no collision.
func (b *BaseController) EnsureUniqueID() {
	if b.om == nil {
		return
	}
	id := b.id
	for b.om.idUsedByOther(id, b) {
		id++
	}
	b.self.SetID(id)
}

func (b *BaseController) Name() string { return b.name }

// SetName does not check uniqueness; Manager.Rename does.
func (b *BaseController) SetName(name string) {
	if b.name != name {
		b.name = name
		b.dirty = true
	}
}

func (b *BaseController) Description() string { return b.description }

func (b *BaseController) SetDescription(description string) {
	if b.description != description {
		b.description = description
		b.dirty = true
	}
}

func (b *BaseController) Vendor() string { return b.vendor }

func (b *BaseController) SetVendor(vendor string) {
	if b.vendor != vendor {
		b.vendor = vendor
		b.dirty = true
	}
}

func (b *BaseController) Model() string { return b.model }

func (b *BaseController) SetModel(model string) {
	if b.model != model {
		b.model = model
		b.dirty = true
	}
}

func (b *BaseController) FirmwareVersion() string { return b.firmwareVersion }

func (b *BaseController) SetFirmwareVersion(version string) {
	if b.firmwareVersion != version {
		b.firmwareVersion = version
		b.dirty = true
	}
}

// VMF returns "vendor model firmware" with empty parts left out.
func (b *BaseController) VMF() string {
	s := b.vendor
	for _, part := range []string{b.model, b.firmwareVersion} {
		if part == "" {
			continue
		}
		if s != "" {
			s += " "
		}
		s += part
	}
	return s
}

func (b *BaseController) IsActive() bool { return b.active }

// SetActive toggles participation in output. Inactive controllers keep their
// outputs but occupy no channels in the manager's layout.
func (b *BaseController) SetActive(active bool) {
	if b.active != active {
		b.active = active
		b.dirty = true
		b.relayout()
	}
}

func (b *BaseController) IsAutoSize() bool { return b.autoSize }

func (b *BaseController) SetAutoSize(autoSize bool) {
	if b.autoSize != autoSize {
		b.autoSize = autoSize
		b.dirty = true
	}
}

func (b *BaseController) IsAutoStartChannels() bool { return b.autoStartChannels }

func (b *BaseController) SetAutoStartChannels(auto bool) {
	if b.autoStartChannels != auto {
		b.autoStartChannels = auto
		b.dirty = true
	}
}

func (b *BaseController) IsSuppressDuplicateFrames() bool { return b.suppressDuplicateFrames }

func (b *BaseController) SetSuppressDuplicateFrames(suppress bool) {
	if b.suppressDuplicateFrames != suppress {
		b.suppressDuplicateFrames = suppress
		b.dirty = true
	}
}

func (b *BaseController) IsOk() bool { return b.ok }

func (b *BaseController) IsDirty() bool { return b.dirty }

// ClearDirty is called by the persistence adapter after a successful save.
func (b *BaseController) ClearDirty() { b.dirty = false }

// IsEnabled reports whether any output is enabled.
func (b *BaseController) IsEnabled() bool {
	for _, o := range b.outputs {
		if o.enabled {
			return true
		}
	}
	return false
}

// Enable applies the flag to every output.
func (b *BaseController) Enable(enable bool) {
	changed := false
	for _, o := range b.outputs {
		if o.setEnabled(enable) {
			changed = true
		}
	}
	if changed {
		b.dirty = true
		b.relayout()
	}
}

// Output returns the output at a zero based index.
func (b *BaseController) Output(index int) (*Output, error) {
	if index < 0 || index >= len(b.outputs) {
		return nil, fmt.Errorf("%w: output %d of %d", ErrOutOfRange, index, len(b.outputs))
	}
	return b.outputs[index], nil
}

// OutputForChannel resolves an absolute channel to the owning output and that
// output's absolute start channel.
func (b *BaseController) OutputForChannel(absoluteChannel int32) (*Output, int32, error) {
	if absoluteChannel >= b.StartChannel() && absoluteChannel <= b.EndChannel() {
		for _, o := range b.outputs {
			if o.Contains(absoluteChannel) {
				return o, o.startChannel, nil
			}
		}
	}
	return nil, 0, fmt.Errorf("%w: channel %d on controller %q", ErrNotFound, absoluteChannel, b.name)
}

// Outputs returns the outputs in layout order. The slice is a copy; the
// outputs themselves are shared.
func (b *BaseController) Outputs() []*Output {
	out := make([]*Output, len(b.outputs))
	copy(out, b.outputs)
	return out
}

func (b *BaseController) OutputCount() int { return len(b.outputs) }

// AddOutput appends an output, respecting the kind's output limit.
func (b *BaseController) AddOutput(universe int, channels int32) (*Output, error) {
	if len(b.outputs) >= b.self.MaxOutputs() {
		return nil, fmt.Errorf("%w: %s controller %q supports at most %d outputs",
			ErrOutOfRange, b.self.Type(), b.name, b.self.MaxOutputs())
	}
	if limit := b.maxChannelsPerOutput(); limit > 0 && channels > limit {
		return nil, newValidationError(PropChannels, "%d channels exceeds the limit of %d", channels, limit)
	}
	o := newOutput(universe, channels)
	b.outputs = append(b.outputs, o)
	b.dirty = true
	b.relayout()
	return o, nil
}

// SetOutputCount grows or shrinks the output list. New outputs continue the
// universe numbering and copy the size of the last output.
func (b *BaseController) SetOutputCount(count int) error {
	if count < 1 || count > b.self.MaxOutputs() {
		return fmt.Errorf("%w: %d outputs requested, %s controller allows 1-%d",
			ErrOutOfRange, count, b.self.Type(), b.self.MaxOutputs())
	}
	if count == len(b.outputs) {
		return nil
	}
	if count < len(b.outputs) {
		b.outputs = b.outputs[:count]
	} else {
		universe, channels := 1, DefaultUniverseSize
		if n := len(b.outputs); n > 0 {
			last := b.outputs[n-1]
			universe, channels = last.universe+1, last.channels
		}
		for len(b.outputs) < count {
			b.outputs = append(b.outputs, newOutput(universe, channels))
			universe++
		}
	}
	b.dirty = true
	b.relayout()
	return nil
}

// SetOutputChannels resizes a single output.
func (b *BaseController) SetOutputChannels(index int, channels int32) error {
	o, err := b.Output(index)
	if err != nil {
		return err
	}
	if channels < 1 {
		return newValidationError(PropChannels, "an output needs at least one channel")
	}
	if limit := b.maxChannelsPerOutput(); limit > 0 && channels > limit {
		return newValidationError(PropChannels, "%d channels exceeds the limit of %d", channels, limit)
	}
	if o.setChannels(channels) {
		b.dirty = true
		b.relayout()
	}
	return nil
}

// SetOutputEnabled enables or disables a single output.
func (b *BaseController) SetOutputEnabled(index int, enabled bool) error {
	o, err := b.Output(index)
	if err != nil {
		return err
	}
	if o.setEnabled(enabled) {
		b.dirty = true
		b.relayout()
	}
	return nil
}

// SetOutputUniverse changes the protocol address of a single output.
func (b *BaseController) SetOutputUniverse(index int, universe int) error {
	o, err := b.Output(index)
	if err != nil {
		return err
	}
	if o.setUniverse(universe) {
		b.dirty = true
	}
	return nil
}

// ResizeToChannels grows or shrinks the outputs so that at least required
// channels are available. It only acts on auto-size controllers of a kind
// that supports it and reports whether anything changed.
func (b *BaseController) ResizeToChannels(required int32) bool {
	if !b.autoSize || !b.self.SupportsAutoSize() || required < 1 {
		return false
	}
	if len(b.outputs) == 0 {
		if limit := b.maxChannelsPerOutput(); limit > 0 && required > limit {
			required = limit
		}
		_, err := b.AddOutput(1, required)
		return err == nil
	}
	if b.self.MaxOutputs() == 1 {
		if limit := b.maxChannelsPerOutput(); limit > 0 && required > limit {
			required = limit
		}
		if b.outputs[0].channels == required {
			return false
		}
		return b.SetOutputChannels(0, required) == nil
	}

	size := b.outputs[0].channels
	count := int((required + size - 1) / size)
	if count > b.self.MaxOutputs() {
		count = b.self.MaxOutputs()
	}
	if count == len(b.outputs) {
		return false
	}
	return b.SetOutputCount(count) == nil
}

// DeleteAllOutputs releases every output and marks the controller dirty.
func (b *BaseController) DeleteAllOutputs() {
	b.outputs = nil
	b.dirty = true
	b.relayout()
}

// StartChannel returns the absolute channel of the first channel.
func (b *BaseController) StartChannel() int32 { return b.startChannel }

// EndChannel returns StartChannel()+Channels()-1.
func (b *BaseController) EndChannel() int32 { return b.startChannel + b.Channels() - 1 }

// Channels returns the sum of the enabled outputs' channel counts.
func (b *BaseController) Channels() int32 {
	var total int32
	for _, o := range b.outputs {
		total += o.width()
	}
	return total
}

// SetTransientData positions the outputs starting at t.StartChannel and
// advances the counters. Inactive controllers do not advance StartChannel.
func (b *BaseController) SetTransientData(t *TransientData) {
	b.startChannel = t.StartChannel
	ch := t.StartChannel
	for _, o := range b.outputs {
		o.outputNumber = t.OutputNumber
		t.OutputNumber++
		o.startChannel = ch
		ch += o.width()
	}
	if b.active {
		t.StartChannel = ch
	}
}

// relayout repositions after a change that affects channel counts. Inside a
// manager the whole registry is laid out again; a standalone controller keeps
// its start channel.
func (b *BaseController) relayout() {
	if b.om != nil && b.om.contains(b) {
		b.om.Layout()
		return
	}
	ch := b.startChannel
	for i, o := range b.outputs {
		o.outputNumber = i + 1
		o.startChannel = ch
		ch += o.width()
	}
}

func (b *BaseController) maxChannelsPerOutput() int32 {
	if l, ok := b.self.(channelLimiter); ok {
		return l.MaxChannelsPerOutput()
	}
	return 0
}

// Ping probes the controller synchronously and caches the result. Kinds
// without a transport report PingUnavailable.
func (b *BaseController) Ping(ctx context.Context) PingState {
	state := PingUnavailable
	if b.newProbe != nil && b.self.CanPing() {
		probe := b.newProbe()
		pctx, cancel := context.WithTimeout(ctx, time.Duration(b.pingTimeout.Load()))
		state = probe(pctx)
		cancel()
	}
	b.lastPing.Store(int32(state))
	return state
}

// AsyncPing resets the cached state to PingUnknown and starts a background
// probe. The result is observed by polling LastPingState. When probes race
// the last one to complete wins.
func (b *BaseController) AsyncPing() {
	b.lastPing.Store(int32(PingUnknown))
	if b.newProbe == nil || !b.self.CanPing() {
		return
	}
	ctx, ok := b.startPing()
	if !ok {
		return
	}
	probe := b.newProbe()
	timeout := time.Duration(b.pingTimeout.Load())

	go func() {
		defer b.pingWG.Done()
		pctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		state := probe(pctx)
		if ctx.Err() != nil {
			return
		}
		b.lastPing.Store(int32(state))
	}()
}

// startPing registers a probe with pingWG. The caller must call
// pingWG.Done when ok is true.
func (b *BaseController) startPing() (ctx context.Context, ok bool) {
	b.pingMu.Lock()
	defer b.pingMu.Unlock()
	if b.closed {
		return nil, false
	}
	if b.pingCtx == nil {
		b.pingCtx, b.pingCancel = context.WithCancel(context.Background())
	}
	b.pingWG.Add(1)
	return b.pingCtx, true
}

// LastPingState returns the cached probe result without probing.
func (b *BaseController) LastPingState() PingState {
	return PingState(b.lastPing.Load())
}

// SetPingTimeout changes the bound applied to each probe. It may be called
// while probes run.
func (b *BaseController) SetPingTimeout(d time.Duration) {
	if d > 0 {
		b.pingTimeout.Store(int64(d))
	}
}

func (b *BaseController) CanPing() bool { return false }

// Close cancels in-flight probes and waits for them to return.
func (b *BaseController) Close() {
	b.pingMu.Lock()
	b.closed = true
	if b.pingCancel != nil {
		b.pingCancel()
	}
	b.pingMu.Unlock()
	b.pingWG.Wait()
}

func (b *BaseController) SupportsSuppressDuplicateFrames() bool { return true }
func (b *BaseController) SupportsUpload() bool                  { return false }
func (b *BaseController) IsNeedsID() bool                       { return true }
func (b *BaseController) NeedsControllerConfig() bool           { return false }
func (b *BaseController) MaxOutputs() int                       { return 1 }
func (b *BaseController) IsLookedUpByControllerName() bool      { return false }
func (b *BaseController) SupportsAutoSize() bool                { return false }

// LongDescription is used on test screens.
func (b *BaseController) LongDescription() string {
	return b.name + "\n" + b.description
}

func (b *BaseController) PingDescription() string { return b.name }
func (b *BaseController) SortName() string        { return b.name }

// saveCommon fills the fields every kind persists.
func (b *BaseController) saveCommon(kind string) *Record {
	rec := &Record{
		SchemaVersion:           CurrentSchemaVersion,
		Kind:                    kind,
		ID:                      b.id,
		Name:                    b.name,
		Description:             b.description,
		Vendor:                  b.vendor,
		Model:                   b.model,
		FirmwareVersion:         b.firmwareVersion,
		Active:                  b.active,
		AutoSize:                b.autoSize,
		AutoStartChannels:       b.autoStartChannels,
		SuppressDuplicateFrames: b.suppressDuplicateFrames,
		Outputs:                 make([]OutputRecord, 0, len(b.outputs)),
	}
	for _, o := range b.outputs {
		rec.Outputs = append(rec.Outputs, OutputRecord{
			Channels: o.channels,
			Enabled:  o.enabled,
			Universe: o.universe,
		})
	}
	return rec
}

// convertCommon applies the shared fields of an upgraded record. Problems are
// collected rather than aborting so the controller ends up best-effort
// populated with individually valid outputs.
func (b *BaseController) convertCommon(rec *Record) []error {
	var problems []error

	b.id = rec.ID
	if b.id <= 0 {
		if b.self.IsNeedsID() {
			problems = append(problems, newValidationError(PropID, "invalid id %d", rec.ID))
		}
		b.id = DefaultControllerID
	}
	b.name = rec.Name
	if b.name == "" {
		problems = append(problems, newValidationError(PropName, "missing name"))
	}
	b.description = rec.Description
	b.vendor = rec.Vendor
	b.model = rec.Model
	b.firmwareVersion = rec.FirmwareVersion
	b.active = rec.Active
	b.autoSize = rec.AutoSize
	b.autoStartChannels = rec.AutoStartChannels
	b.suppressDuplicateFrames = rec.SuppressDuplicateFrames

	limit := b.maxChannelsPerOutput()
	b.outputs = make([]*Output, 0, len(rec.Outputs))
	for i, or := range rec.Outputs {
		channels := or.Channels
		if channels < 1 {
			problems = append(problems, newValidationError(PropChannels, "output %d has %d channels", i+1, or.Channels))
			channels = 1
		}
		if limit > 0 && channels > limit {
			problems = append(problems, newValidationError(PropChannels, "output %d has %d channels, limit is %d", i+1, channels, limit))
			channels = limit
		}
		o := newOutput(or.Universe, channels)
		o.enabled = or.Enabled
		b.outputs = append(b.outputs, o)
	}
	if len(b.outputs) > b.self.MaxOutputs() {
		problems = append(problems, newValidationError(PropUniverses,
			"%d outputs, %s controller supports %d", len(b.outputs), b.self.Type(), b.self.MaxOutputs()))
	}
	return problems
}

// finishConvert sets ok and dirty once a kind has applied its own fields.
func (b *BaseController) finishConvert(wasLegacy bool, problems []error) error {
	b.ok = len(problems) == 0
	b.dirty = wasLegacy
	b.relayout()
	if len(problems) > 0 {
		return fmt.Errorf("%w: %q: %v", ErrNotOk, b.name, problems[0])
	}
	return nil
}

// Equal reports whether two controllers have the same identifier.
func Equal(a, b Controller) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.ID() == b.ID()
}

// ColumnLabeler lets a kind override the summary columns shown in lists.
type ColumnLabeler interface {
	ColumnLabels() []string
}

// Columns returns the six summary columns used by list views.
func Columns(c Controller) []string {
	if l, ok := c.(ColumnLabeler); ok {
		return l.ColumnLabels()
	}
	return DefaultColumns(c)
}

// DefaultColumns: type, (blank), universes, channel range, description, id.
func DefaultColumns(c Controller) []string {
	return []string{
		c.Type(),
		"",
		c.UniverseString(),
		fmt.Sprintf("%d [%d-%d]", c.Channels(), c.StartChannel(), c.EndChannel()),
		c.Description(),
		strconv.Itoa(c.ID()),
	}
}

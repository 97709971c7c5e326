package outputs

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/bbernstein/lacylights-outputs/internal/logger"
)

// Addressable is implemented by kinds with a physical address (IP, port)
// that identifies the device across discovery runs.
type Addressable interface {
	Address() string
}

// Manager owns the ordered set of controllers of one show and lays their
// outputs out in a single absolute channel space.
type Manager struct {
	reg         *Registry
	log         *logger.Log
	controllers []Controller
	dirty       bool
}

// NewManager creates an empty manager. A nil registry uses the default
// kinds; a nil logger discards output.
func NewManager(reg *Registry, log *logger.Log) *Manager {
	if reg == nil {
		reg = NewRegistry()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Manager{reg: reg, log: log.Module("outputs")}
}

func (m *Manager) Registry() *Registry { return m.reg }

// Controllers returns the controllers in layout order.
func (m *Manager) Controllers() []Controller {
	out := make([]Controller, len(m.controllers))
	copy(out, m.controllers)
	return out
}

func (m *Manager) Count() int { return len(m.controllers) }

func (m *Manager) contains(b *BaseController) bool {
	for _, c := range m.controllers {
		if c.base() == b {
			return true
		}
	}
	return false
}

func (m *Manager) indexOf(c Controller) int {
	for i, existing := range m.controllers {
		if existing.base() == c.base() {
			return i
		}
	}
	return -1
}

// Add appends a controller. An empty name is replaced by a generated one;
// a name already in use is rejected.
func (m *Manager) Add(c Controller) error {
	if m.indexOf(c) >= 0 {
		return nil
	}
	b := c.base()
	if c.Name() == "" {
		c.SetName(m.UniqueName(c.Type()))
	} else if m.IsNameUsed(c.Name()) {
		return newValidationError(PropName, "name %q is already used", c.Name())
	}
	b.om = m
	m.controllers = append(m.controllers, c)
	c.EnsureUniqueID()
	m.dirty = true
	m.Layout()
	return nil
}

// Remove drops a controller and closes it. It reports whether it was found.
func (m *Manager) Remove(c Controller) bool {
	i := m.indexOf(c)
	if i < 0 {
		return false
	}
	m.controllers = append(m.controllers[:i], m.controllers[i+1:]...)
	c.Close()
	c.base().om = nil
	m.dirty = true
	m.Layout()
	return true
}

// Move places a controller at a new position in the layout order.
func (m *Manager) Move(c Controller, to int) error {
	from := m.indexOf(c)
	if from < 0 {
		return fmt.Errorf("%w: controller %q", ErrNotFound, c.Name())
	}
	if to < 0 || to >= len(m.controllers) {
		return fmt.Errorf("%w: position %d of %d", ErrOutOfRange, to, len(m.controllers))
	}
	if from == to {
		return nil
	}
	m.controllers = append(m.controllers[:from], m.controllers[from+1:]...)
	m.controllers = append(m.controllers[:to], append([]Controller{c}, m.controllers[to:]...)...)
	m.dirty = true
	m.Layout()
	return nil
}

func (m *Manager) ControllerByID(id int) (Controller, bool) {
	for _, c := range m.controllers {
		if c.ID() == id {
			return c, true
		}
	}
	return nil, false
}

// ControllerByName matches names case insensitively.
func (m *Manager) ControllerByName(name string) (Controller, bool) {
	for _, c := range m.controllers {
		if strings.EqualFold(c.Name(), name) {
			return c, true
		}
	}
	return nil, false
}

func (m *Manager) IsIDUsed(id int) bool {
	_, ok := m.ControllerByID(id)
	return ok
}

func (m *Manager) IsNameUsed(name string) bool {
	_, ok := m.ControllerByName(name)
	return ok
}

func (m *Manager) idUsedByOther(id int, self *BaseController) bool {
	for _, c := range m.controllers {
		if c.base() != self && c.ID() == id {
			return true
		}
	}
	return false
}

// UniqueID returns the lowest unused id starting at DefaultControllerID.
func (m *Manager) UniqueID() int {
	id := DefaultControllerID
	for m.IsIDUsed(id) {
		id++
	}
	return id
}

// UniqueName returns prefix_n for the lowest n not yet used.
func (m *Manager) UniqueName(prefix string) string {
	if prefix == "" {
		prefix = "Controller"
	}
	for n := 1; ; n++ {
		name := fmt.Sprintf("%s_%d", prefix, n)
		if !m.IsNameUsed(name) {
			return name
		}
	}
}

// Rename changes a controller's name if no other controller uses it.
func (m *Manager) Rename(c Controller, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return newValidationError(PropName, "name cannot be empty")
	}
	if other, ok := m.ControllerByName(name); ok && other.base() != c.base() {
		return newValidationError(PropName, "name %q is already used", name)
	}
	c.SetName(name)
	return nil
}

// Layout assigns absolute channels to every output in order. Inactive
// controllers are positioned but take no space.
func (m *Manager) Layout() {
	t := &TransientData{OutputNumber: 1, StartChannel: 1, NullNumber: 1}
	for _, c := range m.controllers {
		c.SetTransientData(t)
	}
}

// TotalChannels is the size of the laid out channel space.
func (m *Manager) TotalChannels() int32 {
	var total int32
	for _, c := range m.controllers {
		if c.IsActive() {
			total += c.Channels()
		}
	}
	return total
}

// Resolve maps an absolute channel to its controller, output and the zero
// based offset inside that output.
func (m *Manager) Resolve(absoluteChannel int32) (Controller, *Output, int32, error) {
	if absoluteChannel < 1 {
		return nil, nil, 0, fmt.Errorf("%w: channel %d", ErrOutOfRange, absoluteChannel)
	}
	for _, c := range m.controllers {
		if !c.IsActive() {
			continue
		}
		o, start, err := c.OutputForChannel(absoluteChannel)
		if err == nil {
			return c, o, absoluteChannel - start, nil
		}
	}
	return nil, nil, 0, fmt.Errorf("%w: channel %d", ErrNotFound, absoluteChannel)
}

// Load replaces the controllers with those built from records. Unknown
// kinds are skipped; controllers that fail to hydrate are kept so they can
// be repaired. Every problem is returned joined.
func (m *Manager) Load(recs []Record, showDir string) error {
	for _, c := range m.controllers {
		c.Close()
	}
	m.controllers = nil

	var errs []error
	for i := range recs {
		rec := &recs[i]
		c, err := m.reg.Create(m, rec, showDir)
		if c == nil {
			m.log.With(logger.Fields{"kind": rec.Kind, "name": rec.Name}).Warn("skipping controller")
			errs = append(errs, err)
			continue
		}
		if err != nil {
			m.log.With(logger.Fields{"name": rec.Name}).Warnf("controller loaded with problems: %v", err)
			errs = append(errs, err)
		}
		if c.Name() == "" || m.IsNameUsed(c.Name()) {
			prefix := c.Name()
			if prefix == "" {
				prefix = c.Type()
			}
			c.SetName(m.UniqueName(prefix))
		}
		m.controllers = append(m.controllers, c)
		c.EnsureUniqueID()
	}
	m.dirty = false
	m.Layout()
	m.log.Infof("loaded %d controllers, %d channels", len(m.controllers), m.TotalChannels())
	return errors.Join(errs...)
}

// Save returns the records of every controller in order.
func (m *Manager) Save() []Record {
	recs := make([]Record, 0, len(m.controllers))
	for _, c := range m.controllers {
		recs = append(recs, *c.Save())
	}
	return recs
}

// IsDirty reports whether the set or any controller changed since the last
// ClearDirty.
func (m *Manager) IsDirty() bool {
	if m.dirty {
		return true
	}
	for _, c := range m.controllers {
		if c.IsDirty() {
			return true
		}
	}
	return false
}

func (m *Manager) ClearDirty() {
	m.dirty = false
	for _, c := range m.controllers {
		c.ClearDirty()
	}
}

// Export returns a header line followed by one CSV line per controller.
func (m *Manager) Export() string {
	var sb strings.Builder
	sb.WriteString(csvLine(ExportColumns))
	sb.WriteByte('\n')
	for _, c := range m.controllers {
		sb.WriteString(c.Export())
		sb.WriteByte('\n')
	}
	return sb.String()
}

// MergeDiscovered adds discovered controllers that are not already known by
// address and kind. It returns the controllers that were added.
func (m *Manager) MergeDiscovered(found []Controller) []Controller {
	var added []Controller
	for _, c := range found {
		if m.knownAddress(c) {
			c.Close()
			continue
		}
		if c.Name() != "" && m.IsNameUsed(c.Name()) {
			c.SetName(m.UniqueName(c.Name()))
		}
		if err := m.Add(c); err != nil {
			m.log.Warnf("discovered controller %q not added: %v", c.Name(), err)
			continue
		}
		added = append(added, c)
	}
	return added
}

func (m *Manager) knownAddress(c Controller) bool {
	a, ok := c.(Addressable)
	if !ok || a.Address() == "" {
		return false
	}
	for _, existing := range m.controllers {
		ea, ok := existing.(Addressable)
		if ok && existing.Type() == c.Type() && strings.EqualFold(ea.Address(), a.Address()) {
			return true
		}
	}
	return false
}

// SortedByName returns the controllers ordered by SortName, for display.
func (m *Manager) SortedByName() []Controller {
	out := m.Controllers()
	sort.SliceStable(out, func(i, j int) bool {
		return strings.ToLower(out[i].SortName()) < strings.ToLower(out[j].SortName())
	})
	return out
}

// Close cancels pending probes on every controller.
func (m *Manager) Close() {
	for _, c := range m.controllers {
		c.Close()
	}
}

package outputs

import (
	"fmt"
	"strconv"
	"strings"
)

// Property names shared by the editor boundary and the HTTP API.
const (
	PropID                 = "id"
	PropName               = "name"
	PropDescription        = "description"
	PropVendor             = "vendor"
	PropModel              = "model"
	PropFirmware           = "firmware"
	PropActive             = "active"
	PropAutoSize           = "autoSize"
	PropAutoStartChannels  = "autoStartChannels"
	PropSuppressDuplicates = "suppressDuplicates"
	PropUniverses          = "universes"
	PropChannels           = "channels"
	PropIP                 = "ip"
	PropProtocol           = "protocol"
	PropPriority           = "priority"
	PropPort               = "port"
	PropSpeed              = "speed"
	PropUniverse           = "universe"
)

// PropertyKind identifies the editor widget a property needs.
type PropertyKind string

const (
	PropertyString PropertyKind = "string"
	PropertyInt    PropertyKind = "int"
	PropertyBool   PropertyKind = "bool"
	PropertyEnum   PropertyKind = "enum"
)

// Property is one editable field as presented to an editor.
type Property struct {
	Name     string       `json:"name"`
	Label    string       `json:"label"`
	Kind     PropertyKind `json:"kind"`
	Value    interface{}  `json:"value"`
	Choices  []string     `json:"choices,omitempty"`
	Min      int          `json:"min,omitempty"`
	Max      int          `json:"max,omitempty"`
	ReadOnly bool         `json:"readOnly,omitempty"`
	Help     string       `json:"help,omitempty"`
}

// PropertyGrid collects the properties of one controller in display order.
type PropertyGrid struct {
	props []*Property
	index map[string]*Property
}

func NewPropertyGrid() *PropertyGrid {
	return &PropertyGrid{index: make(map[string]*Property)}
}

// Add appends a property, replacing an earlier one with the same name.
func (g *PropertyGrid) Add(p *Property) *Property {
	if old, ok := g.index[p.Name]; ok {
		*old = *p
		return old
	}
	g.props = append(g.props, p)
	g.index[p.Name] = p
	return p
}

func (g *PropertyGrid) Get(name string) (*Property, bool) {
	p, ok := g.index[name]
	return p, ok
}

func (g *PropertyGrid) Properties() []*Property {
	return g.props
}

// PropertyEvent is a single edit coming back from an editor. Values arrive
// either typed or as strings (query parameters, JSON numbers).
type PropertyEvent struct {
	Name  string      `json:"name"`
	Value interface{} `json:"value"`
}

func (ev PropertyEvent) String() string {
	switch v := ev.Value.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	default:
		return fmt.Sprint(v)
	}
}

func (ev PropertyEvent) Int() (int, error) {
	switch v := ev.Value.(type) {
	case int:
		return v, nil
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	case float64:
		if v != float64(int(v)) {
			return 0, newValidationError(ev.Name, "%v is not a whole number", v)
		}
		return int(v), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, newValidationError(ev.Name, "%q is not a number", v)
		}
		return n, nil
	}
	return 0, newValidationError(ev.Name, "unsupported value %v", ev.Value)
}

func (ev PropertyEvent) Bool() (bool, error) {
	switch v := ev.Value.(type) {
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return false, newValidationError(ev.Name, "%q is not a boolean", v)
		}
		return b, nil
	case float64:
		return v != 0, nil
	case int:
		return v != 0, nil
	}
	return false, newValidationError(ev.Name, "unsupported value %v", ev.Value)
}

// AddProperties adds the properties every kind shares.
func (b *BaseController) AddProperties(g *PropertyGrid) {
	g.Add(&Property{Name: PropName, Label: "Name", Kind: PropertyString, Value: b.name})
	g.Add(&Property{Name: PropDescription, Label: "Description", Kind: PropertyString, Value: b.description})
	if b.self.IsNeedsID() {
		g.Add(&Property{Name: PropID, Label: "Id", Kind: PropertyInt, Value: b.id, Min: 1, Max: 65535,
			Help: "Controller id, unique within the show."})
	}
	g.Add(&Property{Name: PropActive, Label: "Active", Kind: PropertyBool, Value: b.active})
	g.Add(&Property{Name: PropVendor, Label: "Vendor", Kind: PropertyString, Value: b.vendor})
	g.Add(&Property{Name: PropModel, Label: "Model", Kind: PropertyString, Value: b.model})
	g.Add(&Property{Name: PropFirmware, Label: "Firmware", Kind: PropertyString, Value: b.firmwareVersion})
	if b.self.SupportsAutoSize() {
		g.Add(&Property{Name: PropAutoSize, Label: "Auto Size", Kind: PropertyBool, Value: b.autoSize})
	}
	g.Add(&Property{Name: PropAutoStartChannels, Label: "Auto Start Channels", Kind: PropertyBool, Value: b.autoStartChannels})
	if b.self.SupportsSuppressDuplicateFrames() {
		g.Add(&Property{Name: PropSuppressDuplicates, Label: "Suppress Duplicate Frames", Kind: PropertyBool,
			Value: b.suppressDuplicateFrames})
	}
	g.Add(&Property{Name: PropChannels, Label: "Channels", Kind: PropertyInt, Value: int(b.self.Channels()), ReadOnly: true})
}

// HandlePropertyEvent applies the shared properties. It reports false when
// the property is not one of them so kinds can handle it themselves.
func (b *BaseController) HandlePropertyEvent(om *Manager, ev PropertyEvent) (bool, error) {
	switch ev.Name {
	case PropName:
		name := ev.String()
		if om != nil && om.contains(b) {
			return true, om.Rename(b.self, name)
		}
		if name == "" {
			return true, newValidationError(PropName, "name cannot be empty")
		}
		b.self.SetName(name)
	case PropDescription:
		b.self.SetDescription(ev.String())
	case PropID:
		id, err := ev.Int()
		if err != nil {
			return true, err
		}
		if id < 1 || id > 65535 {
			return true, newValidationError(PropID, "id %d must be between 1 and 65535", id)
		}
		if om != nil && om.idUsedByOther(id, b) {
			return true, newValidationError(PropID, "id %d is already used", id)
		}
		b.self.SetID(id)
	case PropActive:
		v, err := ev.Bool()
		if err != nil {
			return true, err
		}
		b.self.SetActive(v)
	case PropVendor:
		b.self.SetVendor(ev.String())
	case PropModel:
		b.self.SetModel(ev.String())
	case PropFirmware:
		b.self.SetFirmwareVersion(ev.String())
	case PropAutoSize:
		v, err := ev.Bool()
		if err != nil {
			return true, err
		}
		if v && !b.self.SupportsAutoSize() {
			return true, newValidationError(PropAutoSize, "%s controllers cannot auto size", b.self.Type())
		}
		b.self.SetAutoSize(v)
	case PropAutoStartChannels:
		v, err := ev.Bool()
		if err != nil {
			return true, err
		}
		b.self.SetAutoStartChannels(v)
	case PropSuppressDuplicates:
		v, err := ev.Bool()
		if err != nil {
			return true, err
		}
		if v && !b.self.SupportsSuppressDuplicateFrames() {
			return true, newValidationError(PropSuppressDuplicates, "%s controllers cannot suppress duplicate frames", b.self.Type())
		}
		b.self.SetSuppressDuplicateFrames(v)
	case PropChannels:
		return true, newValidationError(PropChannels, "channels are read only")
	default:
		return false, nil
	}
	return true, nil
}

// ValidateProperties reports problems that involve other controllers or
// limits of the kind.
func (b *BaseController) ValidateProperties(om *Manager) []*ValidationError {
	var errs []*ValidationError
	if b.name == "" {
		errs = append(errs, newValidationError(PropName, "name cannot be empty"))
	}
	if om != nil {
		for _, other := range om.Controllers() {
			if other.base() == b {
				continue
			}
			if b.name != "" && strings.EqualFold(other.Name(), b.name) {
				errs = append(errs, newValidationError(PropName, "name %q is also used by another controller", b.name))
			}
			if b.self.IsNeedsID() && other.IsNeedsID() && other.ID() == b.id {
				errs = append(errs, newValidationError(PropID, "id %d is also used by %q", b.id, other.Name()))
			}
		}
	}
	if n := len(b.outputs); n > b.self.MaxOutputs() {
		errs = append(errs, newValidationError(PropUniverses, "%d outputs exceeds the limit of %d", n, b.self.MaxOutputs()))
	}
	if limit := b.maxChannelsPerOutput(); limit > 0 {
		for i, o := range b.outputs {
			if o.channels > limit {
				errs = append(errs, newValidationError(PropChannels, "output %d has %d channels, limit is %d", i+1, o.channels, limit))
			}
		}
	}
	if b.autoSize && !b.self.SupportsAutoSize() {
		errs = append(errs, newValidationError(PropAutoSize, "%s controllers cannot auto size", b.self.Type()))
	}
	return errs
}

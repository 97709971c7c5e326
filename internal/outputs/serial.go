package outputs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// KindSerial is the record kind of serial link controllers.
const KindSerial = "Serial"

// Serial protocols.
const (
	ProtocolDMX      = "DMX"
	ProtocolOpenDMX  = "OpenDMX"
	ProtocolPixelnet = "Pixelnet"
	ProtocolRenard   = "Renard"
	ProtocolLOR      = "LOR"
)

// serialProtocolLimits caps the channels of one serial output; zero means
// the protocol does not impose a limit.
var serialProtocolLimits = map[string]int32{
	ProtocolDMX:      512,
	ProtocolOpenDMX:  512,
	ProtocolPixelnet: 4096,
	ProtocolRenard:   0,
	ProtocolLOR:      0,
}

// SerialProtocols are the protocols offered by the editor.
var SerialProtocols = Choices{
	{Label: ProtocolDMX, Value: 0},
	{Label: ProtocolOpenDMX, Value: 1},
	{Label: ProtocolPixelnet, Value: 2},
	{Label: ProtocolRenard, Value: 3},
	{Label: ProtocolLOR, Value: 4},
}

// SerialSpeeds are the supported baud rates. The stored value is the rate.
var SerialSpeeds = Choices{
	{Label: "9600", Value: 9600},
	{Label: "19200", Value: 19200},
	{Label: "38400", Value: 38400},
	{Label: "57600", Value: 57600},
	{Label: "115200", Value: 115200},
	{Label: "128000", Value: 128000},
	{Label: "250000", Value: 250000},
	{Label: "256000", Value: 256000},
	{Label: "500000", Value: 500000},
	{Label: "1000000", Value: 1000000},
}

const defaultSerialSpeed = 250000

// ParseSerialProtocol normalises a protocol name.
func ParseSerialProtocol(name string) (string, bool) {
	for p := range serialProtocolLimits {
		if strings.EqualFold(p, strings.TrimSpace(name)) {
			return p, true
		}
	}
	return "", false
}

// SerialController drives a single output over a serial port.
type SerialController struct {
	BaseController

	port     string
	speed    int
	protocol string
	// showDir anchors relative device paths; port is saved as entered.
	showDir string
}

// NewSerialController returns a DMX controller with one 512 channel output.
func NewSerialController(om *Manager) *SerialController {
	c := &SerialController{
		protocol: ProtocolDMX,
		speed:    defaultSerialSpeed,
	}
	c.init(c, om)
	c.outputs = []*Output{newOutput(0, DefaultUniverseSize)}
	c.newProbe = c.probe
	return c
}

func (c *SerialController) Type() string { return KindSerial }

func (c *SerialController) Port() string     { return c.port }
func (c *SerialController) Speed() int       { return c.speed }
func (c *SerialController) Protocol() string { return c.protocol }

// Address identifies the physical device for discovery merges.
func (c *SerialController) Address() string { return c.port }

func (c *SerialController) SetPort(port string) {
	port = strings.TrimSpace(port)
	if c.port != port {
		c.port = port
		c.dirty = true
	}
}

func (c *SerialController) SetSpeed(speed int) error {
	if _, err := DecodeChoices(SerialSpeeds, speed); err != nil {
		return newValidationError(PropSpeed, "unsupported speed %d", speed)
	}
	if c.speed != speed {
		c.speed = speed
		c.dirty = true
	}
	return nil
}

// SetProtocol switches protocol, shrinking the output to the new limit.
func (c *SerialController) SetProtocol(protocol string) error {
	p, ok := ParseSerialProtocol(protocol)
	if !ok {
		return newValidationError(PropProtocol, "unknown protocol %q", protocol)
	}
	if c.protocol == p {
		return nil
	}
	c.protocol = p
	if limit := c.MaxChannelsPerOutput(); limit > 0 {
		for _, o := range c.outputs {
			if o.channels > limit {
				o.channels = limit
			}
		}
	}
	c.dirty = true
	c.relayout()
	return nil
}

func (c *SerialController) IsManaged() bool { return false }

// MaxChannelsPerOutput returns the protocol limit, zero when unbounded.
func (c *SerialController) MaxChannelsPerOutput() int32 {
	return serialProtocolLimits[c.protocol]
}

func (c *SerialController) SupportsAutoSize() bool {
	limit := c.MaxChannelsPerOutput()
	return limit == 0 || limit > int32(DefaultUniverseSize)
}

func (c *SerialController) CanPing() bool { return c.port != "" }

func (c *SerialController) UniverseString() string { return c.port }

func (c *SerialController) ChannelMapping(absoluteChannel int32) string {
	_, start, err := c.OutputForChannel(absoluteChannel)
	if err != nil {
		return fmt.Sprintf("Channel %d is not on controller %s", absoluteChannel, c.name)
	}
	return fmt.Sprintf("Channel %d maps to ...\nType: %s\nPort: %s\nChannel: %d",
		absoluteChannel, c.protocol, c.port, absoluteChannel-start+1)
}

func (c *SerialController) Export() string {
	return csvLine(exportRow(c, c.protocol, c.port))
}

func (c *SerialController) LongDescription() string {
	s := fmt.Sprintf("%s %s %s %d", c.name, c.protocol, c.port, c.speed)
	if c.description != "" {
		s += "\n" + c.description
	}
	return s
}

func (c *SerialController) PingDescription() string {
	return fmt.Sprintf("%s %s %s", c.protocol, c.port, c.name)
}

// ColumnLabels shows the protocol and port ahead of the channel summary.
func (c *SerialController) ColumnLabels() []string {
	cols := DefaultColumns(c)
	cols[0] = c.protocol
	cols[1] = c.port
	return cols
}

func (c *SerialController) Save() *Record {
	rec := c.saveCommon(KindSerial)
	rec.Port = c.port
	rec.Speed = c.speed
	rec.Protocol = c.protocol
	return rec
}

// Convert hydrates the controller. Legacy records carry the protocol as
// their kind; relative device paths are probed against the show directory.
func (c *SerialController) Convert(rec *Record, showDir string) error {
	up := rec.upgrade()
	var problems []error

	protoName := up.Protocol
	if protoName == "" {
		protoName = up.Kind
	}
	if p, ok := ParseSerialProtocol(protoName); ok {
		c.protocol = p
	} else {
		problems = append(problems, newValidationError(PropProtocol, "unknown protocol %q", protoName))
		c.protocol = ProtocolDMX
	}

	c.port = strings.TrimSpace(up.Port)
	c.showDir = showDir

	c.speed = up.Speed
	if c.speed == 0 {
		c.speed = defaultSerialSpeed
	} else if _, err := DecodeChoices(SerialSpeeds, c.speed); err != nil {
		problems = append(problems, newValidationError(PropSpeed, "unsupported speed %d", c.speed))
	}

	problems = append(problems, c.convertCommon(&up)...)
	if len(c.outputs) == 0 {
		c.outputs = []*Output{newOutput(0, DefaultUniverseSize)}
	}
	return c.finishConvert(rec.IsLegacy(), problems)
}

// devicePath is the port, with relative paths taken from the show directory.
func (c *SerialController) devicePath() string {
	if c.port != "" && c.showDir != "" && !filepath.IsAbs(c.port) && strings.ContainsRune(c.port, filepath.Separator) {
		return filepath.Join(c.showDir, c.port)
	}
	return c.port
}

func (c *SerialController) AddProperties(g *PropertyGrid) {
	c.BaseController.AddProperties(g)
	g.Add(&Property{Name: PropPort, Label: "Port", Kind: PropertyString, Value: c.port})
	speed, _ := DecodeChoices(SerialSpeeds, c.speed)
	g.Add(&Property{Name: PropSpeed, Label: "Speed", Kind: PropertyEnum, Value: speed, Choices: SerialSpeeds.Labels()})
	g.Add(&Property{Name: PropProtocol, Label: "Protocol", Kind: PropertyEnum, Value: c.protocol,
		Choices: SerialProtocols.Labels()})
	limit := int(c.MaxChannelsPerOutput())
	if limit == 0 {
		limit = maxDDPChannels
	}
	g.Add(&Property{Name: PropChannels, Label: "Channels", Kind: PropertyInt, Value: int(c.Channels()),
		Min: 1, Max: limit, ReadOnly: c.autoSize})
}

func (c *SerialController) HandlePropertyEvent(om *Manager, ev PropertyEvent) (bool, error) {
	switch ev.Name {
	case PropPort:
		port := ev.String()
		if port == "" {
			return true, newValidationError(PropPort, "port is required")
		}
		c.SetPort(port)
	case PropSpeed:
		label := ev.String()
		speed, err := EncodeChoices(SerialSpeeds, label)
		if err != nil {
			return true, newValidationError(PropSpeed, "unsupported speed %q", label)
		}
		return true, c.SetSpeed(speed)
	case PropProtocol:
		return true, c.SetProtocol(ev.String())
	case PropChannels:
		n, err := ev.Int()
		if err != nil {
			return true, err
		}
		return true, c.SetOutputChannels(0, int32(n))
	default:
		return c.BaseController.HandlePropertyEvent(om, ev)
	}
	return true, nil
}

func (c *SerialController) ValidateProperties(om *Manager) []*ValidationError {
	errs := c.BaseController.ValidateProperties(om)
	if c.port == "" {
		errs = append(errs, newValidationError(PropPort, "port is required"))
		return errs
	}
	if om == nil {
		return errs
	}
	for _, other := range om.Controllers() {
		sc, ok := other.(*SerialController)
		if !ok || sc == c || !sc.active || !c.active {
			continue
		}
		if strings.EqualFold(sc.port, c.port) {
			errs = append(errs, newValidationError(PropPort, "port %s is also used by %q", c.port, sc.name))
		}
	}
	return errs
}

// probe opens the device read/write; a port that opens is considered
// reachable.
func (c *SerialController) probe() func(ctx context.Context) PingState {
	port := c.devicePath()
	return func(ctx context.Context) PingState {
		type result struct {
			f   *os.File
			err error
		}
		done := make(chan result, 1)
		go func() {
			f, err := os.OpenFile(port, os.O_RDWR, 0)
			done <- result{f, err}
		}()
		select {
		case r := <-done:
			if r.err != nil {
				return PingAllFailed
			}
			r.f.Close()
			return PingOpened
		case <-ctx.Done():
			go func() {
				if r := <-done; r.err == nil {
					r.f.Close()
				}
			}()
			return PingAllFailed
		}
	}
}

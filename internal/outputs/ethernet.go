package outputs

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/bbernstein/lacylights-outputs/pkg/artnet"
)

// KindEthernet is the record kind of network controllers.
const KindEthernet = "Ethernet"

// Ethernet protocols.
const (
	ProtocolE131   = "E131"
	ProtocolArtNet = "ArtNet"
	ProtocolDDP    = "DDP"
)

// MulticastIP is the placeholder address of multicast E1.31 controllers.
const MulticastIP = "MULTICAST"

const (
	maxE131Universes    = 63999
	maxArtNetUniverses  = artnet.MaxPortAddress + 1
	maxDDPChannels      = 1000000
	defaultE131Priority = 100
)

// EthernetProtocols are the protocols offered by the editor.
var EthernetProtocols = Choices{
	{Label: ProtocolE131, Value: 0},
	{Label: ProtocolArtNet, Value: 1},
	{Label: ProtocolDDP, Value: 2},
}

// ParseEthernetProtocol normalises a protocol name.
func ParseEthernetProtocol(name string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "e131", "e1.31", "sacn":
		return ProtocolE131, true
	case "artnet", "art-net":
		return ProtocolArtNet, true
	case "ddp":
		return ProtocolDDP, true
	}
	return "", false
}

// EthernetController sends channel data over IP.
type EthernetController struct {
	BaseController

	ip       string
	protocol string
	priority int

	artnetPort int
	webPort    int
}

// NewEthernetController returns an E1.31 controller with no outputs.
func NewEthernetController(om *Manager) *EthernetController {
	c := &EthernetController{
		protocol:   ProtocolE131,
		priority:   defaultE131Priority,
		artnetPort: artnet.DefaultPort,
		webPort:    80,
	}
	c.init(c, om)
	c.newProbe = c.probe
	return c
}

func (c *EthernetController) Type() string { return KindEthernet }

func (c *EthernetController) IP() string       { return c.ip }
func (c *EthernetController) Protocol() string { return c.protocol }
func (c *EthernetController) Priority() int    { return c.priority }

// Address identifies the physical device for discovery merges.
func (c *EthernetController) Address() string { return c.ip }

func (c *EthernetController) SetIP(ip string) {
	ip = strings.TrimSpace(ip)
	if strings.EqualFold(ip, MulticastIP) {
		ip = MulticastIP
	}
	if c.ip != ip {
		c.ip = ip
		c.dirty = true
	}
}

// SetProtocol switches protocol, reshaping outputs where the new protocol
// cannot carry the old layout.
func (c *EthernetController) SetProtocol(protocol string) error {
	p, ok := ParseEthernetProtocol(protocol)
	if !ok {
		return newValidationError(PropProtocol, "unknown protocol %q", protocol)
	}
	if c.protocol == p {
		return nil
	}
	if p == ProtocolDDP && c.ip == MulticastIP {
		return newValidationError(PropProtocol, "DDP cannot be multicast")
	}
	c.protocol = p
	c.reshapeOutputs()
	c.dirty = true
	c.relayout()
	return nil
}

func (c *EthernetController) reshapeOutputs() {
	if len(c.outputs) == 0 {
		return
	}
	total := c.Channels()
	if total < 1 {
		total = c.outputs[0].channels
	}
	if c.protocol == ProtocolDDP {
		c.outputs = []*Output{newOutput(0, total)}
		return
	}
	first := c.outputs[0].universe
	if first < 1 && c.protocol == ProtocolE131 {
		first = 1
	}
	if len(c.outputs) == 1 && total > int32(artnet.DMXDataLength) {
		var outs []*Output
		for remaining, u := total, first; remaining > 0; u++ {
			n := remaining
			if n > int32(artnet.DMXDataLength) {
				n = int32(artnet.DMXDataLength)
			}
			outs = append(outs, newOutput(u, n))
			remaining -= n
		}
		c.outputs = outs
		return
	}
	for i, o := range c.outputs {
		o.universe = first + i
	}
}

func (c *EthernetController) SetPriority(priority int) error {
	if priority < 0 || priority > 200 {
		return newValidationError(PropPriority, "priority %d must be between 0 and 200", priority)
	}
	if c.priority != priority {
		c.priority = priority
		c.dirty = true
	}
	return nil
}

// SetUniverses renumbers the outputs sequentially from first.
func (c *EthernetController) SetUniverses(first int) error {
	if c.protocol == ProtocolDDP {
		return newValidationError(PropUniverse, "DDP has no universes")
	}
	lo := 0
	if c.protocol == ProtocolE131 {
		lo = 1
	}
	last := first + len(c.outputs) - 1
	if first < lo || last >= lo+c.protocolUniverseLimit() {
		return newValidationError(PropUniverse, "universes %d-%d are outside %s limits", first, last, c.protocol)
	}
	changed := false
	for i, o := range c.outputs {
		if o.setUniverse(first + i) {
			changed = true
		}
	}
	if changed {
		c.dirty = true
	}
	return nil
}

func (c *EthernetController) caps() (*ControllerCaps, bool) {
	return LookupCaps(c.vendor, c.model)
}

func (c *EthernetController) protocolUniverseLimit() int {
	switch c.protocol {
	case ProtocolDDP:
		return 1
	case ProtocolArtNet:
		return maxArtNetUniverses
	}
	return maxE131Universes
}

func (c *EthernetController) IsManaged() bool                  { return true }
func (c *EthernetController) IsLookedUpByControllerName() bool { return true }

func (c *EthernetController) MaxOutputs() int {
	limit := c.protocolUniverseLimit()
	if caps, ok := c.caps(); ok && caps.MaxUniverses > 0 && caps.MaxUniverses < limit {
		limit = caps.MaxUniverses
	}
	return limit
}

// MaxChannelsPerOutput is 512 for universe based protocols.
func (c *EthernetController) MaxChannelsPerOutput() int32 {
	if c.protocol == ProtocolDDP {
		return maxDDPChannels
	}
	return int32(artnet.DMXDataLength)
}

func (c *EthernetController) SupportsUpload() bool {
	caps, ok := c.caps()
	return ok && caps.Upload
}

func (c *EthernetController) SupportsAutoSize() bool {
	if c.protocol == ProtocolDDP {
		return true
	}
	caps, ok := c.caps()
	return ok && caps.AutoSize
}

func (c *EthernetController) NeedsControllerConfig() bool {
	return c.autoSize && c.SupportsUpload()
}

func (c *EthernetController) CanPing() bool {
	return c.ip != "" && c.ip != MulticastIP
}

func (c *EthernetController) UniverseString() string {
	if c.protocol == ProtocolDDP || len(c.outputs) == 0 {
		return ""
	}
	first, last := c.outputs[0].universe, c.outputs[len(c.outputs)-1].universe
	if first == last {
		return strconv.Itoa(first)
	}
	return fmt.Sprintf("%d-%d", first, last)
}

func (c *EthernetController) ChannelMapping(absoluteChannel int32) string {
	o, start, err := c.OutputForChannel(absoluteChannel)
	if err != nil {
		return fmt.Sprintf("Channel %d is not on controller %s", absoluteChannel, c.name)
	}
	offset := absoluteChannel - start + 1
	if c.protocol == ProtocolDDP {
		return fmt.Sprintf("Channel %d maps to ...\nType: DDP\nIP: %s\nChannel: %d", absoluteChannel, c.ip, offset)
	}
	return fmt.Sprintf("Channel %d maps to ...\nType: %s\nIP: %s\nUniverse: %d\nChannel: %d",
		absoluteChannel, c.protocol, c.ip, o.universe, offset)
}

func (c *EthernetController) Export() string {
	return csvLine(exportRow(c, c.protocol, c.ip))
}

func (c *EthernetController) LongDescription() string {
	s := fmt.Sprintf("%s %s %s", c.name, c.protocol, c.ip)
	if u := c.UniverseString(); u != "" {
		s += " " + u
	}
	if c.description != "" {
		s += "\n" + c.description
	}
	return s
}

func (c *EthernetController) PingDescription() string {
	return fmt.Sprintf("%s %s %s", c.protocol, c.ip, c.name)
}

// ColumnLabels shows the protocol and address ahead of the universes.
func (c *EthernetController) ColumnLabels() []string {
	cols := DefaultColumns(c)
	cols[0] = c.protocol
	cols[1] = c.ip
	return cols
}

func (c *EthernetController) Save() *Record {
	rec := c.saveCommon(KindEthernet)
	rec.IP = c.ip
	rec.Protocol = c.protocol
	rec.Priority = c.priority
	return rec
}

// Convert hydrates the controller. Legacy records carry the protocol as
// their kind.
func (c *EthernetController) Convert(rec *Record, showDir string) error {
	up := rec.upgrade()
	var problems []error

	protoName := up.Protocol
	if protoName == "" {
		protoName = up.Kind
	}
	if p, ok := ParseEthernetProtocol(protoName); ok {
		c.protocol = p
	} else {
		problems = append(problems, newValidationError(PropProtocol, "unknown protocol %q", protoName))
		c.protocol = ProtocolE131
	}
	c.ip = strings.TrimSpace(up.IP)
	if strings.EqualFold(c.ip, MulticastIP) {
		c.ip = MulticastIP
	}
	c.priority = up.Priority
	if c.priority == 0 && c.protocol == ProtocolE131 {
		c.priority = defaultE131Priority
	}

	problems = append(problems, c.convertCommon(&up)...)
	return c.finishConvert(rec.IsLegacy(), problems)
}

// AddProperties adds address and protocol fields to the shared ones.
func (c *EthernetController) AddProperties(g *PropertyGrid) {
	c.BaseController.AddProperties(g)
	if p, ok := g.Get(PropVendor); ok {
		p.Choices = KnownVendors()
	}
	g.Add(&Property{Name: PropIP, Label: "IP Address", Kind: PropertyString, Value: c.ip})
	g.Add(&Property{Name: PropProtocol, Label: "Protocol", Kind: PropertyEnum, Value: c.protocol,
		Choices: EthernetProtocols.Labels()})
	if c.protocol == ProtocolE131 {
		g.Add(&Property{Name: PropPriority, Label: "Priority", Kind: PropertyInt, Value: c.priority, Min: 0, Max: 200})
	}
	if c.protocol != ProtocolDDP {
		start, size := 0, int32(artnet.DMXDataLength)
		if len(c.outputs) > 0 {
			start = c.outputs[0].universe
			size = c.outputs[0].channels
		}
		g.Add(&Property{Name: PropUniverse, Label: "Start Universe", Kind: PropertyInt, Value: start,
			Min: 0, Max: c.protocolUniverseLimit()})
		g.Add(&Property{Name: PropUniverses, Label: "Universe Count", Kind: PropertyInt, Value: len(c.outputs),
			Min: 1, Max: c.MaxOutputs(), ReadOnly: c.autoSize})
		g.Add(&Property{Name: PropChannels, Label: "Channels Per Universe", Kind: PropertyInt, Value: int(size),
			Min: 1, Max: int(artnet.DMXDataLength), ReadOnly: c.autoSize})
	} else {
		g.Add(&Property{Name: PropChannels, Label: "Channels", Kind: PropertyInt, Value: int(c.Channels()),
			Min: 1, Max: maxDDPChannels, ReadOnly: c.autoSize})
	}
}

func (c *EthernetController) HandlePropertyEvent(om *Manager, ev PropertyEvent) (bool, error) {
	switch ev.Name {
	case PropIP:
		ip := ev.String()
		if !validIP(ip) && !strings.EqualFold(ip, MulticastIP) {
			return true, newValidationError(PropIP, "%q is not a valid IP address", ip)
		}
		if strings.EqualFold(ip, MulticastIP) && c.protocol == ProtocolDDP {
			return true, newValidationError(PropIP, "DDP cannot be multicast")
		}
		c.SetIP(ip)
	case PropProtocol:
		label := ev.String()
		if n, err := ev.Int(); err == nil {
			decoded, err := DecodeChoices(EthernetProtocols, n)
			if err != nil {
				return true, newValidationError(PropProtocol, "%v", err)
			}
			label = decoded
		} else if _, err := EncodeChoices(EthernetProtocols, label); err != nil {
			return true, newValidationError(PropProtocol, "unknown protocol %q", label)
		}
		return true, c.SetProtocol(label)
	case PropPriority:
		n, err := ev.Int()
		if err != nil {
			return true, err
		}
		return true, c.SetPriority(n)
	case PropUniverse:
		n, err := ev.Int()
		if err != nil {
			return true, err
		}
		return true, c.SetUniverses(n)
	case PropUniverses:
		n, err := ev.Int()
		if err != nil {
			return true, err
		}
		if err := c.SetOutputCount(n); err != nil {
			return true, newValidationError(PropUniverses, "%v", err)
		}
	case PropChannels:
		n, err := ev.Int()
		if err != nil {
			return true, err
		}
		if n < 1 || int32(n) > c.MaxChannelsPerOutput() {
			return true, newValidationError(PropChannels, "%d channels must be between 1 and %d", n, c.MaxChannelsPerOutput())
		}
		for i := range c.outputs {
			if err := c.SetOutputChannels(i, int32(n)); err != nil {
				return true, err
			}
		}
	default:
		return c.BaseController.HandlePropertyEvent(om, ev)
	}
	return true, nil
}

func (c *EthernetController) ValidateProperties(om *Manager) []*ValidationError {
	errs := c.BaseController.ValidateProperties(om)
	if c.ip == "" {
		errs = append(errs, newValidationError(PropIP, "IP address is required"))
	} else if c.ip != MulticastIP && !validIP(c.ip) {
		errs = append(errs, newValidationError(PropIP, "%q is not a valid IP address", c.ip))
	}
	if caps, ok := c.caps(); ok && !caps.SupportsProtocol(c.protocol) {
		errs = append(errs, newValidationError(PropProtocol, "%s %s does not support %s", c.vendor, c.model, c.protocol))
	}
	if om == nil {
		return errs
	}
	for _, other := range om.Controllers() {
		oe, ok := other.(*EthernetController)
		if !ok || oe == c || !oe.active || !c.active {
			continue
		}
		if c.ip != MulticastIP && oe.ip == c.ip {
			errs = append(errs, newValidationError(PropIP, "IP %s is also used by %q", c.ip, oe.name))
			continue
		}
		if c.ip == MulticastIP && oe.ip == MulticastIP && oe.protocol == c.protocol {
			if u, clash := universeClash(c.outputs, oe.outputs); clash {
				errs = append(errs, newValidationError(PropUniverse, "multicast universe %d is also used by %q", u, oe.name))
			}
		}
	}
	return errs
}

func universeClash(a, b []*Output) (int, bool) {
	used := make(map[int]bool, len(a))
	for _, o := range a {
		used[o.universe] = true
	}
	for _, o := range b {
		if used[o.universe] {
			return o.universe, true
		}
	}
	return 0, false
}

func validIP(s string) bool {
	return net.ParseIP(s) != nil
}

// probe snapshots the address on the owner goroutine. Art-Net nodes are
// polled first; anything else is tried as a web server.
func (c *EthernetController) probe() func(ctx context.Context) PingState {
	ip, protocol := c.ip, c.protocol
	artnetPort, webPort := c.artnetPort, c.webPort
	return func(ctx context.Context) PingState {
		if protocol == ProtocolArtNet && pollArtNet(ctx, ip, artnetPort) {
			return PingOK
		}
		if dialWeb(ctx, ip, webPort) {
			return PingWebOK
		}
		return PingAllFailed
	}
}

func pollArtNet(ctx context.Context, ip string, port int) bool {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", net.JoinHostPort(ip, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	defer conn.Close()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(DefaultPingTimeout)
	}
	_ = conn.SetDeadline(deadline)

	if _, err := conn.Write(artnet.BuildPollPacket()); err != nil {
		return false
	}
	buf := make([]byte, 1024)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return false
		}
		if _, err := artnet.ParsePollReply(buf[:n]); err == nil {
			return true
		}
	}
}

func dialWeb(ctx context.Context, ip string, port int) bool {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(ip, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

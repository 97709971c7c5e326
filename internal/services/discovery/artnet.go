package discovery

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/Haba1234/go-artnet"

	"github.com/bbernstein/lacylights-outputs/internal/logger"
	"github.com/bbernstein/lacylights-outputs/internal/outputs"
	"github.com/bbernstein/lacylights-outputs/internal/services/network"
)

// Node is an Art-Net node that answered a poll.
type Node struct {
	IP           string
	Name         string
	Manufacturer string
	Description  string
	// Universes are the 15-bit port addresses of the node's output ports.
	Universes []int
}

// scanner polls the network for Art-Net nodes between Start and Stop.
type scanner interface {
	Start() error
	Stop()
	Nodes() []Node
}

// goArtNetScanner adapts the go-artnet controller, which polls on its own
// once started and keeps the replying nodes.
type goArtNetScanner struct {
	c *artnet.Controller
}

func newGoArtNetScanner(host string, ip net.IP) scanner {
	return &goArtNetScanner{
		c: artnet.NewController(host, ip, artnet.NewDefaultLogger("info"), artnet.MaxFPS(1)),
	}
}

func (s *goArtNetScanner) Start() error { return s.c.Start() }
func (s *goArtNetScanner) Stop()        { s.c.Stop() }

func (s *goArtNetScanner) Nodes() []Node {
	nodes := make([]Node, 0, len(s.c.Nodes))
	for _, n := range s.c.Nodes {
		node := Node{
			IP:           n.UDPAddress.IP.String(),
			Name:         n.Node.Name,
			Manufacturer: n.Node.Manufacturer,
			Description:  n.Node.Description,
		}
		for _, p := range n.Node.OutputPorts {
			node.Universes = append(node.Universes, int(p.Address.Integer()))
		}
		nodes = append(nodes, node)
	}
	return nodes
}

// ArtNetDiscoverer finds Art-Net nodes on the discovery interface.
type ArtNetDiscoverer struct {
	resolver   *network.Resolver
	iface      string
	window     time.Duration
	log        *logger.Log
	newScanner func(host string, ip net.IP) scanner
}

// NewArtNetDiscoverer listens for poll replies on iface (empty selects the
// first usable interface) for the given window.
func NewArtNetDiscoverer(resolver *network.Resolver, iface string, window time.Duration, log *logger.Log) *ArtNetDiscoverer {
	if log == nil {
		log = logger.Nop()
	}
	return &ArtNetDiscoverer{
		resolver:   resolver,
		iface:      iface,
		window:     window,
		log:        log.Module("artnet-discovery"),
		newScanner: newGoArtNetScanner,
	}
}

// Discover implements outputs.Discoverer.
func (d *ArtNetDiscoverer) Discover(ctx context.Context, om *outputs.Manager) ([]outputs.Controller, error) {
	ip, _, err := d.resolver.LocalIPv4(d.iface)
	if err != nil {
		return nil, fmt.Errorf("artnet discovery: %w", err)
	}

	sc := d.newScanner(hostname(), ip)
	if err := sc.Start(); err != nil {
		return nil, fmt.Errorf("artnet discovery: failed to start controller: %w", err)
	}

	timer := time.NewTimer(d.window)
	select {
	case <-timer.C:
	case <-ctx.Done():
		timer.Stop()
	}
	sc.Stop()

	nodes := sc.Nodes()
	d.log.WithField("ip", ip.String()).Infof("found %d Art-Net nodes", len(nodes))

	found := make([]outputs.Controller, 0, len(nodes))
	for _, n := range nodes {
		if n.IP == "" || n.IP == ip.String() {
			continue
		}
		found = append(found, ControllerFromNode(om, n, d.log))
	}
	return found, ctx.Err()
}

// ControllerFromNode builds an Art-Net controller with one 512 channel
// output per node output port.
func ControllerFromNode(om *outputs.Manager, n Node, log *logger.Log) *outputs.EthernetController {
	c := outputs.NewEthernetController(om)
	c.SetName(strings.TrimSpace(n.Name))
	c.SetDescription(strings.TrimSpace(n.Description))
	c.SetVendor(strings.TrimSpace(n.Manufacturer))
	c.SetIP(n.IP)
	_ = c.SetProtocol(outputs.ProtocolArtNet)

	universes := n.Universes
	if len(universes) == 0 {
		universes = []int{0}
	}
	for _, u := range universes {
		if _, err := c.AddOutput(u&0x7FFF, outputs.DefaultUniverseSize); err != nil {
			if log != nil {
				log.WithField("node", n.Name).Warnf("output %d skipped: %v", u, err)
			}
			break
		}
	}
	return c
}

func hostname() string {
	host, err := os.Hostname()
	if err != nil {
		return "lacylights"
	}
	return strings.ToLower(strings.Split(host, ".")[0])
}

package discovery

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/enbility/zeroconf/v3"

	"github.com/bbernstein/lacylights-outputs/internal/logger"
	"github.com/bbernstein/lacylights-outputs/internal/outputs"
	"github.com/bbernstein/lacylights-outputs/internal/services/network"
)

// Domain is the mDNS browse domain.
const Domain = "local."

type browseFunc func(ctx context.Context, service string, entries, removed chan *zeroconf.ServiceEntry, opts ...zeroconf.ClientOption) error

func browse(ctx context.Context, service string, entries, removed chan *zeroconf.ServiceEntry, opts ...zeroconf.ClientOption) error {
	return zeroconf.Browse(ctx, service, Domain, entries, removed, opts...)
}

// MDNSDiscoverer finds controllers advertising an mDNS service, such as
// Falcon Player instances on _fppd._udp.
type MDNSDiscoverer struct {
	service  string
	iface    string
	window   time.Duration
	resolver *network.Resolver
	log      *logger.Log
	browse   browseFunc
}

// NewMDNSDiscoverer browses service for the given window.
func NewMDNSDiscoverer(service string, resolver *network.Resolver, iface string, window time.Duration, log *logger.Log) *MDNSDiscoverer {
	if log == nil {
		log = logger.Nop()
	}
	return &MDNSDiscoverer{
		service:  service,
		iface:    iface,
		window:   window,
		resolver: resolver,
		log:      log.Module("mdns-discovery"),
		browse:   browse,
	}
}

func (d *MDNSDiscoverer) options() []zeroconf.ClientOption {
	var opts []zeroconf.ClientOption
	if d.iface == "" || d.resolver == nil {
		return opts
	}
	if _, iface, err := d.resolver.LocalIPv4(d.iface); err == nil {
		opts = append(opts, zeroconf.SelectIfaces([]net.Interface{*iface}))
	}
	return opts
}

// Discover implements outputs.Discoverer.
func (d *MDNSDiscoverer) Discover(ctx context.Context, om *outputs.Manager) ([]outputs.Controller, error) {
	ctx, cancel := context.WithTimeout(ctx, d.window)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)

	errc := make(chan error, 1)
	go func() {
		errc <- d.browse(ctx, d.service, entries, removed, d.options()...)
	}()

	seen := make(map[string]bool)
	var found []outputs.Controller
	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				entries = nil
				continue
			}
			c, ok := ControllerFromEntry(om, entry, d.service)
			if !ok || seen[c.IP()] {
				continue
			}
			seen[c.IP()] = true
			found = append(found, c)
		case <-removed:
		case err := <-errc:
			if err != nil && ctx.Err() == nil {
				return found, fmt.Errorf("mdns discovery: %w", err)
			}
			errc = nil
		case <-ctx.Done():
			d.log.WithField("service", d.service).Infof("found %d mDNS controllers", len(found))
			return found, nil
		}
	}
}

// ControllerFromEntry builds an E1.31 controller from a browse result. It
// reports false for entries without an IPv4 address.
func ControllerFromEntry(om *outputs.Manager, e *zeroconf.ServiceEntry, service string) (*outputs.EthernetController, bool) {
	if e == nil || len(e.AddrIPv4) == 0 {
		return nil, false
	}
	txt := parseTXT(e.Text)

	c := outputs.NewEthernetController(om)
	c.SetName(e.Instance)
	c.SetIP(e.AddrIPv4[0].String())

	vendor := txt["vendor"]
	if vendor == "" && strings.Contains(strings.ToLower(service), "fpp") {
		vendor = "FPP"
	}
	c.SetVendor(vendor)
	c.SetModel(firstOf(txt["model"], txt["platform"]))
	c.SetFirmwareVersion(txt["version"])
	c.SetDescription(strings.TrimSuffix(e.HostName, "."))

	_, _ = c.AddOutput(1, outputs.DefaultUniverseSize)
	return c, true
}

func parseTXT(records []string) map[string]string {
	out := make(map[string]string, len(records))
	for _, r := range records {
		k, v, _ := strings.Cut(r, "=")
		out[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}
	return out
}

func firstOf(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

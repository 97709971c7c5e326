// Package discovery registers network controller discoverers: Art-Net
// poll replies and mDNS service browsing.
package discovery

import (
	"time"

	"github.com/bbernstein/lacylights-outputs/internal/logger"
	"github.com/bbernstein/lacylights-outputs/internal/outputs"
	"github.com/bbernstein/lacylights-outputs/internal/services/network"
)

// Config selects which discoverers run and for how long.
type Config struct {
	ArtNetEnabled bool
	MDNSService   string
	Interface     string
	Window        time.Duration
}

// Register adds the configured discoverers for Ethernet controllers to reg.
func Register(reg *outputs.Registry, cfg Config, resolver *network.Resolver, log *logger.Log) error {
	if resolver == nil {
		resolver = network.NewResolver()
	}
	if cfg.Window <= 0 {
		cfg.Window = 3 * time.Second
	}
	if cfg.ArtNetEnabled {
		d := NewArtNetDiscoverer(resolver, cfg.Interface, cfg.Window, log)
		if err := reg.RegisterDiscoverer(outputs.KindEthernet, d); err != nil {
			return err
		}
	}
	if cfg.MDNSService != "" {
		d := NewMDNSDiscoverer(cfg.MDNSService, resolver, cfg.Interface, cfg.Window, log)
		if err := reg.RegisterDiscoverer(outputs.KindEthernet, d); err != nil {
			return err
		}
	}
	return nil
}

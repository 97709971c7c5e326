// Package network locates the local interfaces used for controller discovery
// and Art-Net output.
package network

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrNoInterface is returned when no usable IPv4 interface exists.
var ErrNoInterface = errors.New("no usable IPv4 interface")

// InterfaceOption describes one IPv4 address of an up, non-loopback interface.
type InterfaceOption struct {
	Name          string `json:"name"`
	Address       string `json:"address"`
	Broadcast     string `json:"broadcast"`
	InterfaceType string `json:"type"` // "ethernet", "wifi", "other"
}

// Lister enumerates interfaces. Tests replace it to avoid depending on the host.
type Lister func() ([]net.Interface, error)

// addrsFunc returns the addresses of one interface.
type addrsFunc func(iface net.Interface) ([]net.Addr, error)

// Resolver picks interfaces for discovery.
type Resolver struct {
	list  Lister
	addrs addrsFunc
}

// NewResolver returns a Resolver over the host's interfaces.
func NewResolver() *Resolver {
	return &Resolver{
		list:  net.Interfaces,
		addrs: func(iface net.Interface) ([]net.Addr, error) { return iface.Addrs() },
	}
}

// NewStaticResolver returns a Resolver over a fixed interface table.
func NewStaticResolver(ifaces []net.Interface, addrs map[string][]net.Addr) *Resolver {
	return &Resolver{
		list:  func() ([]net.Interface, error) { return ifaces, nil },
		addrs: func(iface net.Interface) ([]net.Addr, error) { return addrs[iface.Name], nil },
	}
}

// GetInterfaceType guesses the interface type from its name.
func GetInterfaceType(ifaceName string) string {
	name := strings.ToLower(ifaceName)

	// en0 is typically WiFi on macOS
	if name == "en0" {
		return "wifi"
	}

	if strings.HasPrefix(name, "wlan") ||
		strings.HasPrefix(name, "wl") ||
		strings.Contains(name, "wifi") ||
		strings.Contains(name, "wireless") {
		return "wifi"
	}

	if strings.HasPrefix(name, "eth") ||
		strings.HasPrefix(name, "en") {
		return "ethernet"
	}

	return "other"
}

// calculateBroadcast computes the broadcast address from IP and netmask
func calculateBroadcast(ip net.IP, mask net.IPMask) net.IP {
	if ip == nil || mask == nil {
		return nil
	}

	ip4 := ip.To4()
	if ip4 == nil {
		return nil
	}

	if len(mask) == 16 {
		mask = mask[12:16]
	}
	if len(mask) != 4 {
		return nil
	}

	broadcast := make(net.IP, 4)
	for i := 0; i < 4; i++ {
		broadcast[i] = ip4[i] | ^mask[i]
	}

	return broadcast
}

// Interfaces returns the IPv4 addresses of all up, non-loopback interfaces,
// wired interfaces first.
func (r *Resolver) Interfaces() ([]InterfaceOption, error) {
	interfaces, err := r.list()
	if err != nil {
		return nil, fmt.Errorf("failed to get network interfaces: %w", err)
	}

	var ethernet, wifi, other []InterfaceOption
	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := r.addrs(iface)
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipNet.IP.To4()
			if ip4 == nil {
				continue
			}
			broadcast := calculateBroadcast(ip4, ipNet.Mask)
			if broadcast == nil {
				continue
			}

			option := InterfaceOption{
				Name:          iface.Name,
				Address:       ip4.String(),
				Broadcast:     broadcast.String(),
				InterfaceType: GetInterfaceType(iface.Name),
			}
			switch option.InterfaceType {
			case "ethernet":
				ethernet = append(ethernet, option)
			case "wifi":
				wifi = append(wifi, option)
			default:
				other = append(other, option)
			}
		}
	}

	options := make([]InterfaceOption, 0, len(ethernet)+len(wifi)+len(other))
	options = append(options, ethernet...)
	options = append(options, wifi...)
	return append(options, other...), nil
}

// LocalIPv4 returns the address and interface used for discovery. An empty
// name selects the first usable interface.
func (r *Resolver) LocalIPv4(name string) (net.IP, *net.Interface, error) {
	options, err := r.Interfaces()
	if err != nil {
		return nil, nil, err
	}
	for _, opt := range options {
		if name != "" && opt.Name != name {
			continue
		}
		interfaces, err := r.list()
		if err != nil {
			return nil, nil, err
		}
		for i := range interfaces {
			if interfaces[i].Name == opt.Name {
				return net.ParseIP(opt.Address).To4(), &interfaces[i], nil
			}
		}
	}
	if name != "" {
		return nil, nil, fmt.Errorf("interface %q: %w", name, ErrNoInterface)
	}
	return nil, nil, ErrNoInterface
}

// GetNetworkInterfaces returns the host's usable IPv4 interfaces.
func GetNetworkInterfaces() ([]InterfaceOption, error) {
	return NewResolver().Interfaces()
}

// Broadcast returns the broadcast address of the named interface, or of the
// first usable interface when name is empty.
func (r *Resolver) Broadcast(name string) (string, error) {
	options, err := r.Interfaces()
	if err != nil {
		return "", err
	}
	for _, o := range options {
		if (name == "" || o.Name == name) && o.Broadcast != "" {
			return o.Broadcast, nil
		}
	}
	return "", ErrNoInterface
}

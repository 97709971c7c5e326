package outputs

import "strings"

// ControllerCaps describes what a known vendor/model can do.
type ControllerCaps struct {
	Vendor       string
	Model        string
	MaxUniverses int
	Upload       bool
	AutoSize     bool
	Protocols    []string
}

// SupportsProtocol reports whether the model speaks the protocol.
func (c *ControllerCaps) SupportsProtocol(protocol string) bool {
	for _, p := range c.Protocols {
		if strings.EqualFold(p, protocol) {
			return true
		}
	}
	return false
}

var knownCaps = []ControllerCaps{
	{Vendor: "Falcon", Model: "F16V3", MaxUniverses: 96, Upload: true, AutoSize: true,
		Protocols: []string{ProtocolE131, ProtocolArtNet, ProtocolDDP}},
	{Vendor: "Falcon", Model: "F16V4", MaxUniverses: 200, Upload: true, AutoSize: true,
		Protocols: []string{ProtocolE131, ProtocolArtNet, ProtocolDDP}},
	{Vendor: "Advatek", Model: "PixLite 16", MaxUniverses: 96, Upload: true, AutoSize: true,
		Protocols: []string{ProtocolE131, ProtocolArtNet}},
	{Vendor: "ESPixelStick", Model: "", MaxUniverses: 12, Upload: true, AutoSize: true,
		Protocols: []string{ProtocolE131, ProtocolArtNet, ProtocolDDP}},
	{Vendor: "FPP", Model: "", MaxUniverses: 512, Upload: true, AutoSize: true,
		Protocols: []string{ProtocolE131, ProtocolArtNet, ProtocolDDP}},
	{Vendor: "HinksPix", Model: "PRO", MaxUniverses: 288, Upload: true, AutoSize: true,
		Protocols: []string{ProtocolE131, ProtocolArtNet}},
	{Vendor: "SanDevices", Model: "E682", MaxUniverses: 48, Upload: true, AutoSize: false,
		Protocols: []string{ProtocolE131, ProtocolArtNet}},
	{Vendor: "J1Sys", Model: "P12S", MaxUniverses: 24, Upload: false, AutoSize: false,
		Protocols: []string{ProtocolE131, ProtocolArtNet}},
	{Vendor: "AlphaPix", Model: "Flex", MaxUniverses: 12, Upload: true, AutoSize: false,
		Protocols: []string{ProtocolE131, ProtocolArtNet}},
}

// LookupCaps finds the capabilities of a vendor/model. A vendor entry with an
// empty model matches any model of that vendor.
func LookupCaps(vendor, model string) (*ControllerCaps, bool) {
	if vendor == "" {
		return nil, false
	}
	var fallback *ControllerCaps
	for i := range knownCaps {
		c := &knownCaps[i]
		if !strings.EqualFold(c.Vendor, vendor) {
			continue
		}
		if strings.EqualFold(c.Model, model) {
			return c, true
		}
		if c.Model == "" {
			fallback = c
		}
	}
	return fallback, fallback != nil
}

// KnownVendors lists vendors with capability entries, in table order.
func KnownVendors() []string {
	var vendors []string
	seen := map[string]bool{}
	for _, c := range knownCaps {
		if !seen[c.Vendor] {
			seen[c.Vendor] = true
			vendors = append(vendors, c.Vendor)
		}
	}
	return vendors
}

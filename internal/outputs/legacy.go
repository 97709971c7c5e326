package outputs

import "strings"

type vendorModel struct {
	vendor string
	model  string
}

// legacyControllerTypes maps the free-form controller type stored by old
// networks files to a vendor and model.
var legacyControllerTypes = map[string]vendorModel{
	"falcon f4v2/f16v2":  {"Falcon", "F16V2"},
	"falcon f4v3/f16v3":  {"Falcon", "F16V3"},
	"falcon f16v4":       {"Falcon", "F16V4"},
	"falcon f48":         {"Falcon", "F48"},
	"fpp":                {"FPP", ""},
	"falcon pi player":   {"FPP", ""},
	"espixelstick":       {"ESPixelStick", ""},
	"j1sys":              {"J1Sys", ""},
	"j1sys p12s":         {"J1Sys", "P12S"},
	"alphapix":           {"AlphaPix", ""},
	"alphapix flex":      {"AlphaPix", "Flex"},
	"hinkspix":           {"HinksPix", ""},
	"hinkspix pro":       {"HinksPix", "PRO"},
	"pixlite":            {"Advatek", ""},
	"pixlite 16":         {"Advatek", "PixLite 16"},
	"advatek pixlite 16": {"Advatek", "PixLite 16"},
	"sandevices e682":    {"SanDevices", "E682"},
	"sandevices e6804":   {"SanDevices", "E6804"},
}

// ConvertOldTypeToVendorModel maps a legacy controller type to a vendor and
// model. Empty and "Unknown" map to nothing; tags not in the table are kept
// as the vendor so no information is lost.
func ConvertOldTypeToVendorModel(old string) (vendor, model string) {
	key := strings.ToLower(strings.TrimSpace(old))
	if key == "" || key == "unknown" {
		return "", ""
	}
	if vm, ok := legacyControllerTypes[key]; ok {
		return vm.vendor, vm.model
	}
	return strings.TrimSpace(old), ""
}

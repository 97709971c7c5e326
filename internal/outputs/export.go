package outputs

import (
	"encoding/csv"
	"strconv"
	"strings"
)

// ExportColumns is the header row matching Controller.Export.
var ExportColumns = []string{
	"Type", "Name", "Description", "Id", "Vendor", "Model", "Firmware",
	"Protocol", "Address", "Universes", "Channels", "Start", "End",
	"Active", "Suppress Duplicates", "Auto Size",
}

// exportRow is the shared part of every kind's export line. protocol and
// address vary per kind.
func exportRow(c Controller, protocol, address string) []string {
	return []string{
		c.Type(),
		c.Name(),
		c.Description(),
		strconv.Itoa(c.ID()),
		c.Vendor(),
		c.Model(),
		c.FirmwareVersion(),
		protocol,
		address,
		c.UniverseString(),
		strconv.Itoa(int(c.Channels())),
		strconv.Itoa(int(c.StartChannel())),
		strconv.Itoa(int(c.EndChannel())),
		strconv.FormatBool(c.IsActive()),
		strconv.FormatBool(c.IsSuppressDuplicateFrames()),
		strconv.FormatBool(c.IsAutoSize()),
	}
}

// csvLine quotes fields the same way spreadsheets expect.
func csvLine(fields []string) string {
	var sb strings.Builder
	w := csv.NewWriter(&sb)
	_ = w.Write(fields)
	w.Flush()
	return strings.TrimRight(sb.String(), "\r\n")
}

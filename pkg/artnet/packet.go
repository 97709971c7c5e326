// Package artnet provides Art-Net packet building and parsing for output
// and node polling.
package artnet

import (
	"encoding/binary"
)

const (
	// OpCodeDMX is the Art-Net operation code for DMX data.
	OpCodeDMX uint16 = 0x5000
	// ProtocolVersion is the Art-Net protocol version.
	ProtocolVersion uint16 = 14
	// DMXDataLength is the number of DMX channels per universe.
	DMXDataLength uint16 = 512
	// PacketSize is the total size of an Art-Net DMX packet.
	PacketSize = 18 + DMXDataLength // Header (18) + Data (512)
	// DefaultPort is the standard Art-Net UDP port.
	DefaultPort = 6454
	// MaxPortAddress is the highest 15-bit port address.
	MaxPortAddress = 0x7FFF
)

// ArtNetID is the Art-Net packet identifier.
var ArtNetID = []byte{'A', 'r', 't', '-', 'N', 'e', 't', 0x00}

// BuildDMXPacket creates an ArtDmx packet for a 15-bit port address
// (net, sub-net and universe packed as on the wire, 0-based).
// Channels beyond 512 are dropped, shorter data is zero padded.
// Sequence should increment for each packet (1-255, wraps around) so that
// receivers can reorder UDP packets.
func BuildDMXPacket(portAddress int, channels []byte, sequence byte) []byte {
	packet := make([]byte, PacketSize)

	copy(packet[0:8], ArtNetID)
	binary.LittleEndian.PutUint16(packet[8:10], OpCodeDMX)
	binary.BigEndian.PutUint16(packet[10:12], ProtocolVersion)
	packet[12] = sequence
	packet[13] = 0 // physical
	binary.LittleEndian.PutUint16(packet[14:16], uint16(portAddress&MaxPortAddress))
	binary.BigEndian.PutUint16(packet[16:18], DMXDataLength)

	if len(channels) >= int(DMXDataLength) {
		copy(packet[18:], channels[:DMXDataLength])
	} else {
		copy(packet[18:18+len(channels)], channels)
	}

	return packet
}

package artnet

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
)

const (
	// OpCodePoll asks nodes to identify themselves.
	OpCodePoll uint16 = 0x2000
	// OpCodePollReply is a node's answer to OpCodePoll.
	OpCodePollReply uint16 = 0x2100

	// PollPacketSize is the size of an ArtPoll packet.
	PollPacketSize = 14
	// PollReplyMinSize covers every field up to and including SwOut.
	PollReplyMinSize = 207
	// PollReplySize is the size of a full ArtPollReply packet.
	PollReplySize = 239
)

var (
	// ErrNotArtNet is returned for packets without the Art-Net header.
	ErrNotArtNet = errors.New("not an Art-Net packet")
	// ErrShortPacket is returned when a packet is too short for its opcode.
	ErrShortPacket = errors.New("short Art-Net packet")
)

// PollReply holds the fields of an ArtPollReply that identify a node and
// its output ports.
type PollReply struct {
	IP         net.IP
	Port       uint16
	Version    uint16
	NetSwitch  uint8
	SubSwitch  uint8
	Oem        uint16
	ShortName  string
	LongName   string
	NodeReport string
	NumPorts   int
	PortTypes  [4]byte
	GoodInput  [4]byte
	GoodOutput [4]byte
	SwIn       [4]byte
	SwOut      [4]byte
}

// OutputPortAddresses returns the 15-bit port address of every output port.
func (r *PollReply) OutputPortAddresses() []int {
	n := r.NumPorts
	if n > 4 {
		n = 4
	}
	addrs := make([]int, 0, n)
	for i := 0; i < n; i++ {
		// bit 7 of the port type marks an output port
		if r.PortTypes[i]&0x80 == 0 {
			continue
		}
		addrs = append(addrs, int(r.NetSwitch&0x7F)<<8|int(r.SubSwitch&0x0F)<<4|int(r.SwOut[i]&0x0F))
	}
	return addrs
}

// BuildPollPacket creates an ArtPoll packet requesting replies without
// diagnostics.
func BuildPollPacket() []byte {
	packet := make([]byte, PollPacketSize)
	copy(packet[0:8], ArtNetID)
	binary.LittleEndian.PutUint16(packet[8:10], OpCodePoll)
	binary.BigEndian.PutUint16(packet[10:12], ProtocolVersion)
	packet[12] = 0 // flags
	packet[13] = 0 // diagnostics priority
	return packet
}

// IsPollPacket reports whether the packet is an ArtPoll.
func IsPollPacket(packet []byte) bool {
	op, err := opCode(packet)
	return err == nil && op == OpCodePoll
}

// BuildPollReply serialises a reply. Nodes use this; it also serves tests
// that emulate a node.
func BuildPollReply(r *PollReply) []byte {
	packet := make([]byte, PollReplySize)
	copy(packet[0:8], ArtNetID)
	binary.LittleEndian.PutUint16(packet[8:10], OpCodePollReply)
	if ip := r.IP.To4(); ip != nil {
		copy(packet[10:14], ip)
	}
	port := r.Port
	if port == 0 {
		port = DefaultPort
	}
	binary.LittleEndian.PutUint16(packet[14:16], port)
	binary.BigEndian.PutUint16(packet[16:18], r.Version)
	packet[18] = r.NetSwitch
	packet[19] = r.SubSwitch
	binary.BigEndian.PutUint16(packet[20:22], r.Oem)
	putString(packet[26:44], r.ShortName)
	putString(packet[44:108], r.LongName)
	putString(packet[108:172], r.NodeReport)
	binary.BigEndian.PutUint16(packet[172:174], uint16(r.NumPorts))
	copy(packet[174:178], r.PortTypes[:])
	copy(packet[178:182], r.GoodInput[:])
	copy(packet[182:186], r.GoodOutput[:])
	copy(packet[186:190], r.SwIn[:])
	copy(packet[190:194], r.SwOut[:])
	return packet
}

// ParsePollReply decodes an ArtPollReply.
func ParsePollReply(packet []byte) (*PollReply, error) {
	op, err := opCode(packet)
	if err != nil {
		return nil, err
	}
	if op != OpCodePollReply {
		return nil, fmt.Errorf("unexpected opcode 0x%04x", op)
	}
	if len(packet) < PollReplyMinSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrShortPacket, len(packet))
	}

	r := &PollReply{
		IP:         net.IPv4(packet[10], packet[11], packet[12], packet[13]).To4(),
		Port:       binary.LittleEndian.Uint16(packet[14:16]),
		Version:    binary.BigEndian.Uint16(packet[16:18]),
		NetSwitch:  packet[18],
		SubSwitch:  packet[19],
		Oem:        binary.BigEndian.Uint16(packet[20:22]),
		ShortName:  getString(packet[26:44]),
		LongName:   getString(packet[44:108]),
		NodeReport: getString(packet[108:172]),
		NumPorts:   int(binary.BigEndian.Uint16(packet[172:174])),
	}
	copy(r.PortTypes[:], packet[174:178])
	copy(r.GoodInput[:], packet[178:182])
	copy(r.GoodOutput[:], packet[182:186])
	copy(r.SwIn[:], packet[186:190])
	copy(r.SwOut[:], packet[190:194])
	return r, nil
}

func opCode(packet []byte) (uint16, error) {
	if len(packet) < 10 || !bytes.Equal(packet[0:8], ArtNetID) {
		return 0, ErrNotArtNet
	}
	return binary.LittleEndian.Uint16(packet[8:10]), nil
}

func putString(dst []byte, s string) {
	// keep the terminating NUL
	n := copy(dst[:len(dst)-1], s)
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
}

func getString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

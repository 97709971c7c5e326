package dmx

import (
	"fmt"
	"net"
	"sync"
)

// UDPSender writes packets from one unbound UDP socket with broadcast allowed.
type UDPSender struct {
	conn  *net.UDPConn
	mu    sync.Mutex
	addrs map[string]*net.UDPAddr
}

// NewUDPSender opens the socket.
func NewUDPSender() (*UDPSender, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return nil, fmt.Errorf("failed to open Art-Net socket: %w", err)
	}
	return &UDPSender{conn: conn, addrs: make(map[string]*net.UDPAddr)}, nil
}

// Send implements Sender. Resolved addresses are cached.
func (u *UDPSender) Send(addr string, packet []byte) error {
	u.mu.Lock()
	dst, ok := u.addrs[addr]
	u.mu.Unlock()
	if !ok {
		resolved, err := net.ResolveUDPAddr("udp4", addr)
		if err != nil {
			return err
		}
		u.mu.Lock()
		u.addrs[addr] = resolved
		u.mu.Unlock()
		dst = resolved
	}
	_, err := u.conn.WriteToUDP(packet, dst)
	return err
}

// Close implements Sender.
func (u *UDPSender) Close() error {
	return u.conn.Close()
}

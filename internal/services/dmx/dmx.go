// Package dmx holds the absolute channel values of the show and sends them to
// Art-Net controllers, one ArtDmx frame per enabled output.
package dmx

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/bbernstein/lacylights-outputs/internal/logger"
	"github.com/bbernstein/lacylights-outputs/internal/outputs"
	"github.com/bbernstein/lacylights-outputs/pkg/artnet"
)

// Viewer gives shared access to the controllers of the running show.
type Viewer interface {
	View(fn func(om *outputs.Manager))
}

// Sender delivers one packet to host:port.
type Sender interface {
	Send(addr string, packet []byte) error
	Close() error
}

// Config holds dispatcher configuration.
type Config struct {
	Enabled          bool
	Port             int
	BroadcastAddr    string // used for Art-Net controllers without an IP
	RefreshRateHz    int
	IdleRateHz       int
	HighRateDuration time.Duration
	KeepAlive        time.Duration // resend interval for suppressed duplicate frames
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() Config {
	return Config{
		Enabled:          true,
		Port:             artnet.DefaultPort,
		BroadcastAddr:    "255.255.255.255",
		RefreshRateHz:    40,
		IdleRateHz:       1,
		HighRateDuration: 2 * time.Second,
		KeepAlive:        time.Second,
	}
}

// Frame is the data of one output at one moment.
type Frame struct {
	Controller string
	Addr       string
	Universe   int
	Data       []byte
	Suppress   bool
}

type frameKey struct {
	addr     string
	universe int
}

type sentFrame struct {
	data []byte
	at   time.Time
}

// Service keeps the channel buffer and runs the transmit loop.
type Service struct {
	mu sync.Mutex

	show   Viewer
	cfg    Config
	sender Sender
	log    *logger.Log

	// values[i] is absolute channel i+1
	values []byte
	dirty  bool

	sent     map[frameKey]sentFrame
	sequence byte

	currentRate      int
	isInHighRateMode bool
	lastChangeTime   time.Time

	stop    chan struct{}
	done    chan struct{}
	running bool
	now     func() time.Time
}

// NewService creates a dispatcher. A nil sender opens a UDP socket on Start
// when output is enabled.
func NewService(show Viewer, cfg Config, sender Sender, log *logger.Log) *Service {
	def := DefaultConfig()
	if cfg.Port <= 0 {
		cfg.Port = def.Port
	}
	if cfg.BroadcastAddr == "" {
		cfg.BroadcastAddr = def.BroadcastAddr
	}
	if cfg.RefreshRateHz <= 0 {
		cfg.RefreshRateHz = def.RefreshRateHz
	}
	if cfg.IdleRateHz <= 0 {
		cfg.IdleRateHz = def.IdleRateHz
	}
	if cfg.HighRateDuration <= 0 {
		cfg.HighRateDuration = def.HighRateDuration
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = def.KeepAlive
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		show:        show,
		cfg:         cfg,
		sender:      sender,
		log:         log.Module("dmx"),
		sent:        make(map[frameKey]sentFrame),
		currentRate: cfg.IdleRateHz,
		now:         time.Now,
	}
}

// SetChannel sets one absolute channel. The channel must resolve to an
// active controller output.
func (s *Service) SetChannel(absoluteChannel int32, value byte) error {
	return s.SetChannels(absoluteChannel, []byte{value})
}

// SetChannels sets consecutive absolute channels starting at start. Nothing is
// written unless every channel resolves.
func (s *Service) SetChannels(start int32, values []byte) error {
	if len(values) == 0 {
		return nil
	}
	var err error
	s.show.View(func(om *outputs.Manager) {
		for i := range values {
			if _, _, _, rerr := om.Resolve(start + int32(i)); rerr != nil {
				err = rerr
				return
			}
		}
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	end := int(start) - 1 + len(values)
	s.grow(end)
	if !bytes.Equal(s.values[start-1:end], values) {
		copy(s.values[start-1:end], values)
		s.dirty = true
		s.triggerHighRate()
	}
	return nil
}

// Channel returns the value of an absolute channel. Channels never set read
// as zero.
func (s *Service) Channel(absoluteChannel int32) (byte, error) {
	if absoluteChannel < 1 {
		return 0, fmt.Errorf("%w: channel %d", outputs.ErrOutOfRange, absoluteChannel)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if int(absoluteChannel) > len(s.values) {
		return 0, nil
	}
	return s.values[absoluteChannel-1], nil
}

// Blackout sets every channel to zero.
func (s *Service) Blackout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.values {
		s.values[i] = 0
	}
	s.dirty = true
	s.triggerHighRate()
}

func (s *Service) grow(n int) {
	if n > len(s.values) {
		grown := make([]byte, n)
		copy(grown, s.values)
		s.values = grown
	}
}

// Frames returns the frames of every enabled output of every active Art-Net
// controller, in show order.
func (s *Service) Frames() []Frame {
	var frames []Frame
	s.show.View(func(om *outputs.Manager) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.grow(int(om.TotalChannels()))

		for _, c := range om.Controllers() {
			e, ok := c.(*outputs.EthernetController)
			if !ok || !e.IsActive() || e.Protocol() != outputs.ProtocolArtNet {
				continue
			}
			host := e.IP()
			if host == "" {
				host = s.cfg.BroadcastAddr
			}
			addr := net.JoinHostPort(host, strconv.Itoa(s.cfg.Port))
			for _, o := range e.Outputs() {
				if !o.IsEnabled() || o.Channels() <= 0 {
					continue
				}
				first := int(o.StartChannel()) - 1
				data := make([]byte, o.Channels())
				copy(data, s.values[first:first+int(o.Channels())])
				frames = append(frames, Frame{
					Controller: e.Name(),
					Addr:       addr,
					Universe:   o.Universe(),
					Data:       data,
					Suppress:   e.IsSuppressDuplicateFrames(),
				})
			}
		}
	})
	return frames
}

// Transmit sends the current frames once and returns how many were sent.
// A frame of a controller that suppresses duplicates is skipped when it
// matches the last one sent, until the keep-alive interval passes.
func (s *Service) Transmit() int {
	if s.sender == nil {
		return 0
	}
	frames := s.Frames()
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	live := make(map[frameKey]bool, len(frames))
	count := 0
	for _, f := range frames {
		key := frameKey{f.Addr, f.Universe}
		live[key] = true
		if prev, ok := s.sent[key]; ok && f.Suppress &&
			bytes.Equal(prev.data, f.Data) && now.Sub(prev.at) < s.cfg.KeepAlive {
			continue
		}

		s.sequence++
		if s.sequence == 0 {
			s.sequence = 1
		}
		packet := artnet.BuildDMXPacket(f.Universe, f.Data, s.sequence)
		if err := s.sender.Send(f.Addr, packet); err != nil {
			s.log.With(logger.Fields{"controller": f.Controller, "universe": f.Universe}).
				Warnf("Art-Net send error: %v", err)
			continue
		}
		s.sent[key] = sentFrame{data: f.Data, at: now}
		count++
	}
	for key := range s.sent {
		if !live[key] {
			delete(s.sent, key)
		}
	}
	s.dirty = false
	return count
}

// Start opens the socket if needed and starts the transmit loop.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	if !s.cfg.Enabled {
		s.log.Info("DMX output disabled")
		return nil
	}
	if s.sender == nil {
		sender, err := NewUDPSender()
		if err != nil {
			return err
		}
		s.sender = sender
	}

	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.transmitLoop(s.stop, s.done)

	s.log.Infof("Art-Net output on port %d: %dHz (active) / %dHz (idle)",
		s.cfg.Port, s.cfg.RefreshRateHz, s.cfg.IdleRateHz)
	return nil
}

// Run starts the loop and stops it when ctx is done.
func (s *Service) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	s.Stop()
	return nil
}

// Stop ends the transmit loop and closes the sender.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	done := s.done
	s.mu.Unlock()

	<-done

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sender != nil {
		if err := s.sender.Close(); err != nil {
			s.log.Warnf("failed to close sender: %v", err)
		}
		s.sender = nil
	}
}

// transmitLoop sends at the high rate while channels change and drops to the
// idle rate once they have been still for HighRateDuration.
func (s *Service) transmitLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	lastRate := s.rate()
	ticker := time.NewTicker(time.Second / time.Duration(lastRate))
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.updateRate()
			s.Transmit()

			if rate := s.rate(); rate != lastRate {
				ticker.Reset(time.Second / time.Duration(rate))
				lastRate = rate
			}
		}
	}
}

func (s *Service) rate() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentRate
}

func (s *Service) updateRate() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.dirty {
		s.lastChangeTime = now
		s.triggerHighRate()
		return
	}
	if s.isInHighRateMode && now.Sub(s.lastChangeTime) > s.cfg.HighRateDuration {
		s.isInHighRateMode = false
		s.currentRate = s.cfg.IdleRateHz
		s.log.Debugf("switching to idle rate (%dHz)", s.cfg.IdleRateHz)
	}
}

func (s *Service) triggerHighRate() {
	s.lastChangeTime = s.now()
	if !s.isInHighRateMode {
		s.isInHighRateMode = true
		s.currentRate = s.cfg.RefreshRateHz
		s.log.Debugf("switching to high rate (%dHz)", s.cfg.RefreshRateHz)
	}
}

// IsHighRate reports whether the loop is sending at the refresh rate.
func (s *Service) IsHighRate() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isInHighRateMode
}

package outputs

import "fmt"

// Output is one protocol addressable group of channels (a universe or a port)
// owned by exactly one controller. Its fields are only changed through the
// owning controller.
type Output struct {
	channels     int32
	enabled      bool
	universe     int
	outputNumber int   // 1-based, assigned by the layout pass
	startChannel int32 // absolute, assigned by the layout pass
}

func newOutput(universe int, channels int32) *Output {
	if channels < 1 {
		channels = 1
	}
	return &Output{
		channels:     channels,
		enabled:      true,
		universe:     universe,
		startChannel: 1,
	}
}

// Channels returns the number of channels in the output.
func (o *Output) Channels() int32 { return o.channels }

// IsEnabled reports whether the output participates in the layout.
func (o *Output) IsEnabled() bool { return o.enabled }

// Universe returns the protocol address of the output (universe, port or
// null number depending on the controller kind).
func (o *Output) Universe() int { return o.universe }

// OutputNumber returns the registry-wide 1-based output number.
func (o *Output) OutputNumber() int { return o.outputNumber }

// StartChannel returns the absolute start channel.
func (o *Output) StartChannel() int32 { return o.startChannel }

// EndChannel returns the absolute end channel. Disabled outputs occupy no
// channels so their end channel is StartChannel()-1.
func (o *Output) EndChannel() int32 { return o.startChannel + o.width() - 1 }

// Contains reports whether the absolute channel falls inside this output.
func (o *Output) Contains(absoluteChannel int32) bool {
	return o.enabled && absoluteChannel >= o.startChannel && absoluteChannel <= o.EndChannel()
}

// width is the number of absolute channels the output occupies in the layout.
func (o *Output) width() int32 {
	if !o.enabled {
		return 0
	}
	return o.channels
}

func (o *Output) String() string {
	return fmt.Sprintf("universe %d: %d channels [%d-%d]", o.universe, o.channels, o.startChannel, o.EndChannel())
}

// setChannels returns true if the value changed. Values below one are clamped.
func (o *Output) setChannels(channels int32) bool {
	if channels < 1 {
		channels = 1
	}
	if o.channels == channels {
		return false
	}
	o.channels = channels
	return true
}

func (o *Output) setEnabled(enabled bool) bool {
	if o.enabled == enabled {
		return false
	}
	o.enabled = enabled
	return true
}

func (o *Output) setUniverse(universe int) bool {
	if o.universe == universe {
		return false
	}
	o.universe = universe
	return true
}

package outputs

import "fmt"

// KindNull is the record kind of placeholder controllers.
const KindNull = "Null"

// NullController reserves channels without sending them anywhere. Each null
// controller is numbered by the layout pass.
type NullController struct {
	BaseController
}

// NewNullController returns a null controller with one 512 channel output.
func NewNullController(om *Manager) *NullController {
	c := &NullController{}
	c.init(c, om)
	c.outputs = []*Output{newOutput(0, DefaultUniverseSize)}
	c.autoSize = true
	return c
}

func (c *NullController) Type() string { return KindNull }

func (c *NullController) IsManaged() bool                       { return false }
func (c *NullController) SupportsSuppressDuplicateFrames() bool { return false }
func (c *NullController) IsNeedsID() bool                       { return false }
func (c *NullController) SupportsAutoSize() bool                { return true }

// NullNumber returns the number assigned by the last layout pass.
func (c *NullController) NullNumber() int {
	if len(c.outputs) == 0 {
		return 0
	}
	return c.outputs[0].universe
}

// SetTransientData positions the outputs and numbers them as nulls.
func (c *NullController) SetTransientData(t *TransientData) {
	for _, o := range c.outputs {
		o.universe = t.NullNumber
		t.NullNumber++
	}
	c.BaseController.SetTransientData(t)
}

func (c *NullController) ChannelMapping(absoluteChannel int32) string {
	o, start, err := c.OutputForChannel(absoluteChannel)
	if err != nil {
		return fmt.Sprintf("Channel %d is not on controller %s", absoluteChannel, c.name)
	}
	return fmt.Sprintf("Channel %d maps to ...\nType: NULL\nNull: %d\nChannel: %d",
		absoluteChannel, o.universe, absoluteChannel-start+1)
}

func (c *NullController) UniverseString() string {
	return fmt.Sprintf("NULL %d", c.NullNumber())
}

func (c *NullController) Export() string {
	return csvLine(exportRow(c, "NULL", ""))
}

func (c *NullController) LongDescription() string {
	return fmt.Sprintf("%s\n%s\nNULL %d (%d channels)", c.name, c.description, c.NullNumber(), c.Channels())
}

func (c *NullController) Save() *Record {
	rec := c.saveCommon(KindNull)
	// null numbers are layout positions, not configuration
	for i := range rec.Outputs {
		rec.Outputs[i].Universe = 0
	}
	return rec
}

// Convert hydrates the controller from a record. It can be called again with
// the same record without changing the result.
func (c *NullController) Convert(rec *Record, showDir string) error {
	up := rec.upgrade()
	problems := c.convertCommon(&up)
	if len(c.outputs) == 0 {
		c.outputs = []*Output{newOutput(0, DefaultUniverseSize)}
	}
	return c.finishConvert(rec.IsLegacy(), problems)
}

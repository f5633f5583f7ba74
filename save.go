package ablstat

import (
	"encoding/gob"
	"fmt"
	"io"
)

// Checkpoint returns a function that saves the controller's current
// statistics to a gob file (format description at
// https://golang.org/pkg/encoding/gob/).
func Checkpoint(w io.Writer) StatsFunc {
	return func(c *Controller) error {
		s, err := c.Snapshot()
		if err != nil {
			return fmt.Errorf("ablstat.Controller.Checkpoint: %v", err)
		}
		e := gob.NewEncoder(w)
		if err := e.Encode(s); err != nil {
			return fmt.Errorf("ablstat.Controller.Checkpoint: %v", err)
		}
		return nil
	}
}

// Restore returns a function that loads statistics from a previously
// Checkpointed file into a controller. The controller must already be
// initialized, and its configured statistics heights must match the ones
// the checkpoint was taken with.
func Restore(r io.Reader) StatsFunc {
	return func(c *Controller) error {
		if c.state != Initialized && c.state != Running {
			return fmt.Errorf("ablstat.Controller.Restore: called in state %s: %w", c.state, ErrState)
		}
		dec := gob.NewDecoder(r)
		var s Snapshot
		if err := dec.Decode(&s); err != nil {
			return fmt.Errorf("ablstat.Controller.Restore: %v", err)
		}
		if err := sameHeights(s.VelocityHeights, c.cfg.VelocityHeights); err != nil {
			return fmt.Errorf("ablstat.Controller.Restore: velocity heights: %v", err)
		}
		if err := sameHeights(s.TemperatureHeights, c.cfg.TemperatureHeights); err != nil {
			return fmt.Errorf("ablstat.Controller.Restore: temperature heights: %v", err)
		}
		copy(c.uMean.Elements, s.UMean.Elements)
		copy(c.sfsMean.Elements, s.SFSMean.Elements)
		copy(c.varCov.Elements, s.VarCov.Elements)
		copy(c.tMean.Elements, s.TMean.Elements)
		c.step = s.Step
		c.time = s.Time
		c.utau = s.Utau
		c.wallT = s.WallT
		if s.Step > 0 {
			c.state = Running
		}
		return nil
	}
}

func sameHeights(saved, configured []float64) error {
	if len(saved) != len(configured) {
		return fmt.Errorf("checkpoint has %d heights but the configuration has %d",
			len(saved), len(configured))
	}
	for i, z := range saved {
		if z != configured[i] {
			return fmt.Errorf("checkpoint height %d is %g but the configuration has %g",
				i, z, configured[i])
		}
	}
	return nil
}

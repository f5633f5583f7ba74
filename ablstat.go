/*
Copyright © 2019 the ABLstat authors.
This file is part of ABLstat.

ABLstat is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

ABLstat is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with ABLstat.  If not, see <http://www.gnu.org/licenses/>.
*/

// Package ablstat computes horizontally averaged flow statistics at a set
// of user-specified heights inside a three-dimensional atmospheric
// boundary layer simulation, and serves those statistics back to the
// simulation through height-indexed queries.
//
// The host simulation drives a Controller through its lifecycle: Load
// parses and validates the configuration, Setup registers the fields and
// parts the statistics need before the mesh is finalized, Initialize
// resolves the sampling planes against the live mesh, and Execute runs
// once per simulation step, transferring field values onto the planes,
// averaging them across all mesh partitions, and updating the friction
// velocity. Other parts of the simulation query the results with
// EvalVelMean and EvalTempMean at arbitrary heights.
package ablstat

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ctessum/sparse"
)

// Version gives the version number of this package.
var Version = "0.1.0"

// Field names registered with the mesh database during Setup.
const (
	FieldVelocity    = "velocity"
	FieldTemperature = "temperature"
	FieldSFSStress   = "sfs_stress"
)

// outputFields are the field names that statistics files are written for:
// the three velocity components and temperature.
var outputFields = []string{"Ux", "Uy", "Uz", "T"}

// ErrState indicates that a lifecycle operation was attempted in a state
// that does not allow it.
var ErrState = errors.New("invalid controller state")

// State is a phase in the controller lifecycle.
type State int

// The controller states, in lifecycle order.
const (
	Unconfigured State = iota
	Loaded
	SetUp
	Initialized
	Running
	Destroyed
)

func (s State) String() string {
	switch s {
	case Unconfigured:
		return "Unconfigured"
	case Loaded:
		return "Loaded"
	case SetUp:
		return "SetUp"
	case Initialized:
		return "Initialized"
	case Running:
		return "Running"
	case Destroyed:
		return "Destroyed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// A StatsFunc is a function that operates on a statistics controller, for
// example writing an output record.
type StatsFunc func(c *Controller) error

// RunPeriodically returns a StatsFunc that runs f on steps whose index is
// a multiple of interval.
func RunPeriodically(interval int, f StatsFunc) StatsFunc {
	return func(c *Controller) error {
		if interval > 1 && c.step%interval != 0 {
			return nil
		}
		return f(c)
	}
}

// A samplingPlane pairs one configured height with its resolved mesh part
// and the transient buffer that transferred field values land in on each
// step.
type samplingPlane struct {
	key     PartKey
	part    *Part
	samples []donorSample
}

// Controller owns the per-height statistics for one mesh partition and
// orchestrates their per-step recomputation. The exported fields may be
// set before Load is called and must not be changed afterwards.
type Controller struct {
	// Averager optionally supplies an averaging algorithm instance shared
	// with (and owned by) the host simulation. If nil, the controller
	// creates its own instance and releases it again when it is
	// destroyed; a shared instance is never released here.
	Averager *Averager

	// Reduction combines partial sums across mesh partitions when the
	// controller owns its Averager; nil means the mesh is not decomposed.
	// It is ignored when a shared Averager is supplied.
	Reduction Reduction

	// Rank and Size identify this controller's mesh partition among all
	// participating partitions. They default to partition 0 of 1. Output
	// files are written by partition 0 only.
	Rank, Size int

	// PostStepFuncs run in order at the end of every successful Execute
	// call. Load appends the configured output functions; hosts may
	// append their own.
	PostStepFuncs []StatsFunc

	// CleanupFuncs run when the controller is destroyed.
	CleanupFuncs []StatsFunc

	state  State
	cfg    *Config
	mesh   *Mesh
	avg    *Averager
	ownAvg bool
	engine *transferEngine

	planes     []*samplingPlane // one per velocity height
	tempPlanes []*samplingPlane // one per temperature height

	inactive      map[string]bool
	inactiveNames []string

	// Statistics storage, allocated once at Initialize and never resized
	// during Execute.
	uMean   *sparse.DenseArray // (velocity heights, 3)
	sfsMean *sparse.DenseArray // (velocity heights, 6)
	varCov  *sparse.DenseArray // (velocity heights, nVarComponents)
	tMean   *sparse.DenseArray // (temperature heights)
	wallT   float64
	utau    float64

	step int
	time float64
}

// Load validates the configuration and transitions the controller from
// Unconfigured to Loaded. It touches no mesh data. All errors it returns
// are configuration errors and fatal: the simulation must not proceed.
func (c *Controller) Load(cfg *Config) error {
	if c.state != Unconfigured {
		return fmt.Errorf("ablstat: Load called in state %s: %w", c.state, ErrState)
	}
	if cfg == nil {
		return fmt.Errorf("ablstat: Load: no configuration given")
	}
	if err := cfg.validate(); err != nil {
		return err
	}
	if c.Size == 0 {
		c.Size = 1
	}
	if c.Rank < 0 || c.Rank >= c.Size {
		return fmt.Errorf("ablstat: partition rank %d is out of range for %d partition(s)", c.Rank, c.Size)
	}
	c.cfg = cfg
	if c.Averager != nil {
		c.avg, c.ownAvg = c.Averager, false
	} else {
		c.avg, c.ownAvg = NewAverager(c.Reduction), true
	}
	if c.Rank == 0 {
		if cfg.OutputFileTemplate != "" {
			o, err := NewOutputter(cfg, nil)
			if err != nil {
				return err
			}
			c.PostStepFuncs = append(c.PostStepFuncs, RunPeriodically(cfg.OutputFrequency, o.Output()))
		}
		if cfg.NetCDFOutput != "" {
			rec := NewRecorder(cfg.NetCDFOutput)
			c.PostStepFuncs = append(c.PostStepFuncs, RunPeriodically(cfg.OutputFrequency, rec.Record()))
			c.CleanupFuncs = append(c.CleanupFuncs, rec.Write())
		}
	}
	c.state = Loaded
	return nil
}

// Setup registers the fields and parts this controller requires with the
// mesh database boundary m. It must run before the host finalizes its
// mesh so that the mesh builder can create them.
func (c *Controller) Setup(m *Mesh) error {
	if c.state != Loaded {
		return fmt.Errorf("ablstat: Setup called in state %s: %w", c.state, ErrState)
	}
	if m == nil {
		return fmt.Errorf("ablstat: Setup: no mesh database given")
	}
	if err := m.RequireField(FieldVelocity, 3); err != nil {
		return err
	}
	if err := m.RequireField(FieldTemperature, 1); err != nil {
		return err
	}
	if err := m.RequireField(FieldSFSStress, 6); err != nil {
		return err
	}
	for _, name := range c.cfg.FromParts {
		m.RequirePart(name)
	}
	for _, h := range c.cfg.VelocityHeights {
		m.RequirePart(c.cfg.PartName(PartKey{Height: h}))
	}
	for _, h := range c.cfg.TemperatureHeights {
		m.RequirePart(c.cfg.PartName(PartKey{Height: h}))
	}
	c.mesh = m
	c.state = SetUp
	return nil
}

// Initialize resolves the sampling planes against the live mesh, builds
// the field transfer engine, and allocates the statistics storage. It must
// run after the host has finished constructing its mesh; a part that is
// still missing at this point is a fatal configuration error, detected
// once and never retried.
func (c *Controller) Initialize() error {
	if c.state != SetUp {
		return fmt.Errorf("ablstat: Initialize called in state %s: %w", c.state, ErrState)
	}

	resolved := make(map[string]*Part)
	resolve := func(h float64) (*samplingPlane, error) {
		key := PartKey{Height: h}
		name := c.cfg.PartName(key)
		part, ok := resolved[name]
		if !ok {
			var err error
			part, err = c.cfg.Planes.resolve(c.mesh, name, h, c.Rank, c.Size)
			if err != nil {
				return nil, err
			}
			resolved[name] = part
		}
		return &samplingPlane{
			key:     key,
			part:    part,
			samples: make([]donorSample, len(part.Nodes)),
		}, nil
	}

	c.planes = make([]*samplingPlane, 0, len(c.cfg.VelocityHeights))
	for _, h := range c.cfg.VelocityHeights {
		pl, err := resolve(h)
		if err != nil {
			return err
		}
		c.planes = append(c.planes, pl)
	}
	c.tempPlanes = make([]*samplingPlane, 0, len(c.cfg.TemperatureHeights))
	for _, h := range c.cfg.TemperatureHeights {
		pl, err := resolve(h)
		if err != nil {
			return err
		}
		c.tempPlanes = append(c.tempPlanes, pl)
	}

	// The sampling planes are auxiliary, non-physical geometry; the union
	// of their parts is exposed through InactiveParts so the host can
	// exclude them from its own solve. The set is immutable from here on.
	c.inactive = make(map[string]bool, len(resolved))
	for name := range resolved {
		c.inactive[name] = true
	}
	c.inactiveNames = make([]string, 0, len(c.inactive))
	for name := range c.inactive {
		c.inactiveNames = append(c.inactiveNames, name)
	}
	sort.Strings(c.inactiveNames)

	var err error
	c.engine, err = newTransferEngine(c.mesh, c.cfg.FromParts, TransferSpec{
		Method:          c.cfg.SearchMethod,
		Tolerance:       c.cfg.SearchTolerance,
		ExpansionFactor: c.cfg.SearchExpansionFactor,
	})
	if err != nil {
		return err
	}

	nVel := len(c.cfg.VelocityHeights)
	nTemp := len(c.cfg.TemperatureHeights)
	c.uMean = sparse.ZerosDense(nVel, 3)
	c.sfsMean = sparse.ZerosDense(nVel, 6)
	c.varCov = sparse.ZerosDense(nVel, nVarComponents)
	c.tMean = sparse.ZerosDense(nTemp)
	c.avg.init(nVel, nTemp)

	c.state = Initialized
	return nil
}

// Execute recomputes the planar statistics from the current field values:
// it transfers the source fields onto every sampling plane, averages them
// across all mesh partitions, and updates the friction velocity, then runs
// the post-step functions. It is called collectively, once per simulation
// step, by every participating partition.
//
// If any plane node fails to find a donor, or a plane ends up with zero
// total weight, Execute returns an error for this step and leaves the
// previously computed statistics unmodified.
func (c *Controller) Execute() error {
	if c.state != Initialized && c.state != Running {
		return fmt.Errorf("ablstat: Execute called in state %s: %w", c.state, ErrState)
	}

	// Transfer onto all planes before touching any statistics, so a
	// failed transfer aborts the whole step cleanly.
	for _, pl := range c.planes {
		if err := c.engine.transferPlane(pl.part, pl.key.Height, pl.samples); err != nil {
			return err
		}
	}
	for _, pl := range c.tempPlanes {
		if err := c.engine.transferPlane(pl.part, pl.key.Height, pl.samples); err != nil {
			return err
		}
	}

	c.avg.reset()
	for i, pl := range c.planes {
		c.avg.accumulateVelocity(i, pl.part.Nodes, pl.samples)
	}
	for i, pl := range c.tempPlanes {
		c.avg.accumulateTemperature(i, pl.part.Nodes, pl.samples)
	}
	st, err := c.avg.reduce(c.cfg.VelocityHeights, c.cfg.TemperatureHeights)
	if err != nil {
		return err
	}

	copy(c.uMean.Elements, st.uMean.Elements)
	copy(c.sfsMean.Elements, st.sfsMean.Elements)
	copy(c.varCov.Elements, st.varCov.Elements)
	copy(c.tMean.Elements, st.tMean.Elements)
	c.wallT = st.wallT
	c.utau = frictionVelocity(st)

	c.step++
	c.time += c.cfg.Dt
	c.state = Running

	for _, f := range c.PostStepFuncs {
		if err := f(c); err != nil {
			return err
		}
	}
	return nil
}

// Destroy runs the cleanup functions and releases the controller's
// resources. An averaging instance shared with the host is left untouched.
// The controller cannot be used afterwards.
func (c *Controller) Destroy() error {
	if c.state == Destroyed {
		return fmt.Errorf("ablstat: Destroy called in state %s: %w", c.state, ErrState)
	}
	var firstErr error
	for _, f := range c.CleanupFuncs {
		if err := f(c); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if c.ownAvg && c.avg != nil {
		c.avg.release()
	}
	c.avg = nil
	c.engine = nil
	c.planes = nil
	c.tempPlanes = nil
	c.mesh = nil
	c.uMean, c.sfsMean, c.varCov, c.tMean = nil, nil, nil, nil
	c.state = Destroyed
	return firstErr
}

// EvalVelMean fills out with the mean velocity vector at height z,
// linearly interpolated between the two bracketing configured heights.
// Heights outside the configured range are clamped to the nearest
// boundary. It is a pure read of the most recently computed statistics and
// is safe to call any number of times per step.
func (c *Controller) EvalVelMean(z float64, out []float64) error {
	if c.state != Initialized && c.state != Running {
		return fmt.Errorf("ablstat: EvalVelMean called in state %s: %w", c.state, ErrState)
	}
	if len(out) < 3 {
		return fmt.Errorf("ablstat: EvalVelMean needs a 3-component output vector but was given %d", len(out))
	}
	i, j, frac := bracket(c.cfg.VelocityHeights, z)
	for k := 0; k < 3; k++ {
		out[k] = (1-frac)*c.uMean.Get(i, k) + frac*c.uMean.Get(j, k)
	}
	return nil
}

// EvalTempMean returns the mean temperature at height z, linearly
// interpolated between the two bracketing configured temperature heights
// and clamped outside their range. Like EvalVelMean it never triggers a
// recomputation.
func (c *Controller) EvalTempMean(z float64) (float64, error) {
	if c.state != Initialized && c.state != Running {
		return 0, fmt.Errorf("ablstat: EvalTempMean called in state %s: %w", c.state, ErrState)
	}
	i, j, frac := bracket(c.cfg.TemperatureHeights, z)
	return (1-frac)*c.tMean.Get(i) + frac*c.tMean.Get(j), nil
}

// Utau returns the most recently computed friction velocity [m/s]. It is
// zero before the first Execute call.
func (c *Controller) Utau() float64 { return c.utau }

// State returns the controller's lifecycle state.
func (c *Controller) State() State { return c.state }

// Step returns the number of completed Execute calls.
func (c *Controller) Step() int { return c.step }

// Time returns the simulation time [s] accumulated from the configured
// time step.
func (c *Controller) Time() float64 { return c.time }

// InactiveParts returns the names of all auxiliary sampling plane parts,
// sorted. The host excludes these parts from its primary solve.
func (c *Controller) InactiveParts() []string {
	out := make([]string, len(c.inactiveNames))
	copy(out, c.inactiveNames)
	return out
}

// IsInactive reports whether the named part is one of the auxiliary
// sampling planes.
func (c *Controller) IsInactive(name string) bool { return c.inactive[name] }

// A Snapshot is a deep copy of a controller's current statistics.
type Snapshot struct {
	Step               int
	Time               float64
	Utau               float64
	WallT              float64
	VelocityHeights    []float64
	TemperatureHeights []float64
	UMean              *sparse.DenseArray // (velocity heights, 3)
	SFSMean            *sparse.DenseArray // (velocity heights, 6)
	VarCov             *sparse.DenseArray // (velocity heights, 9)
	TMean              *sparse.DenseArray // (temperature heights)
}

// Snapshot returns a copy of the current statistics, suitable for
// serialization or inspection while the simulation keeps running.
func (c *Controller) Snapshot() (*Snapshot, error) {
	if c.state != Initialized && c.state != Running {
		return nil, fmt.Errorf("ablstat: Snapshot called in state %s: %w", c.state, ErrState)
	}
	s := &Snapshot{
		Step:               c.step,
		Time:               c.time,
		Utau:               c.utau,
		WallT:              c.wallT,
		VelocityHeights:    append([]float64(nil), c.cfg.VelocityHeights...),
		TemperatureHeights: append([]float64(nil), c.cfg.TemperatureHeights...),
		UMean:              c.uMean.Copy(),
		SFSMean:            c.sfsMean.Copy(),
		VarCov:             c.varCov.Copy(),
		TMean:              c.tMean.Copy(),
	}
	return s, nil
}

// bracket returns the indices of the two configured heights that surround
// z together with the fractional position of z between them. Heights
// outside the configured range clamp to the nearest boundary; no
// extrapolation is attempted.
func bracket(heights []float64, z float64) (i, j int, frac float64) {
	last := len(heights) - 1
	if z <= heights[0] {
		return 0, 0, 0
	}
	if z >= heights[last] {
		return last, last, 0
	}
	j = sort.SearchFloat64s(heights, z)
	i = j - 1
	return i, j, (z - heights[i]) / (heights[j] - heights[i])
}

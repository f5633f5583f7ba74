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

package ablstatutil

import (
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/GaryBoone/GoStats/stats"
	"github.com/ctessum/geom"
	"github.com/spatialmodel/ablstat"
	"github.com/spf13/cobra"
)

// Parameters of the synthetic boundary layer the demonstration runs on.
const (
	demoUtau   = 0.45  // friction velocity [m/s]
	demoKappa  = 0.41  // von Kármán constant
	demoZ0     = 0.1   // roughness length [m]
	demoTheta0 = 300.  // surface potential temperature [K]
	demoGamma  = 0.003 // potential temperature lapse rate [K/m]
	demoRho    = 1.2   // air density [kg/m3]
)

// Run runs the demonstration channel flow: a logarithmic boundary layer
// with single-harmonic perturbations on a block mesh, decomposed into the
// given number of partitions. It steps the planar statistics the given
// number of times and then reports the friction velocity recovered from
// the computed mean profile against the imposed one.
//
// CobraCommand is the cobra.Command instance where Run is called from.
//
// LogFile is the path to the desired logfile location.
//
// srv, if non-nil, is a statistics server that is kept up to date with
// the computed statistics.
func Run(CobraCommand *cobra.Command, LogFile string, steps, partitions int, cfg *ablstat.Config, srv *ablstat.StatsServer) error {
	startTime := time.Now()

	logfile, err := os.Create(LogFile)
	if err != nil {
		return fmt.Errorf("ablstat: problem creating log file: %v", err)
	}
	defer logfile.Close()
	mw := io.MultiWriter(CobraCommand.OutOrStdout(), logfile)
	log.SetOutput(mw)

	gp, ok := cfg.Planes.(ablstat.GeneratedPlanes)
	if !ok {
		return fmt.Errorf("ablstat: the demonstration channel flow requires generated sampling planes; set Stats.GeneratePlanes")
	}
	if partitions < 1 {
		partitions = 1
	}
	if steps < 1 {
		steps = 1
	}

	log.Println("Building synthetic channel flow...")
	levels := demoLevels(cfg.VelocityHeights, cfg.TemperatureHeights)

	var group []ablstat.Reduction
	if partitions > 1 {
		group = ablstat.NewReductionGroup(partitions)
	}
	controllers := make([]*ablstat.Controller, partitions)
	for rank := range controllers {
		c := &ablstat.Controller{Rank: rank, Size: partitions}
		if group != nil {
			c.Reduction = group[rank]
		}
		if rank == 0 && srv != nil {
			c.PostStepFuncs = append(c.PostStepFuncs, srv.Update())
		}
		if err := c.Load(cfg); err != nil {
			return err
		}
		m, err := channelMesh(gp, levels, cfg.FromParts, rank, partitions)
		if err != nil {
			return err
		}
		if err := c.Setup(m); err != nil {
			return err
		}
		if err := c.Initialize(); err != nil {
			return err
		}
		controllers[rank] = c
	}

	log.Printf("Running %d steps on %d partition(s)...", steps, partitions)
	var wg sync.WaitGroup
	errs := make([]error, partitions)
	for rank, c := range controllers {
		wg.Add(1)
		go func(rank int, c *ablstat.Controller) {
			defer wg.Done()
			for i := 0; i < steps; i++ {
				if err := c.Execute(); err != nil {
					errs[rank] = err
					return
				}
			}
		}(rank, c)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}

	c := controllers[0]
	log.Printf("Friction velocity: %.4f m/s (imposed: %.4f m/s)", c.Utau(), demoUtau)
	if obukhovL, err := c.ObukhovLength(demoRho); err == nil {
		log.Printf("Obukhov length: %.1f m", obukhovL)
	}

	// Fit the computed mean profile back onto the log law.
	x := make([]float64, len(cfg.VelocityHeights))
	y := make([]float64, len(cfg.VelocityHeights))
	vel := make([]float64, 3)
	for i, z := range cfg.VelocityHeights {
		if err := c.EvalVelMean(z, vel); err != nil {
			return err
		}
		x[i] = math.Log((z + demoZ0) / demoZ0)
		y[i] = vel[0]
	}
	slope, intercept, rsquared, _, _, _ := stats.LinearRegression(x, y)
	log.Printf("Log-law fit: recovered utau: %.4f m/s, intercept: %.4f m/s, R²: %.4f",
		demoKappa*slope, intercept, rsquared)

	tMean, err := c.EvalTempMean(cfg.TemperatureHeights[0])
	if err != nil {
		return err
	}
	log.Printf("Mean temperature at %g m: %.2f K", cfg.TemperatureHeights[0], tMean)

	for _, c := range controllers {
		if err := c.Destroy(); err != nil {
			return err
		}
	}

	log.Printf("Elapsed time: %.3f s", time.Since(startTime).Seconds())
	return nil
}

// demoLevels builds the vertical node levels of the demonstration mesh.
// Every statistics height gets a coincident mesh level so that donor
// searches succeed within the default tolerance.
func demoLevels(velHeights, tempHeights []float64) []float64 {
	seen := map[float64]bool{0: true}
	levels := []float64{0}
	for _, heights := range [][]float64{velHeights, tempHeights} {
		for _, z := range heights {
			if !seen[z] {
				seen[z] = true
				levels = append(levels, z)
			}
		}
	}
	sort.Float64s(levels)
	top := 1.25 * levels[len(levels)-1]
	return append(levels, top)
}

// channelMesh builds one partition of the demonstration block mesh. The
// node columns sit exactly on the generated sampling plane positions and
// are split across partitions the same way the plane nodes are, so every
// plane node finds its donors locally. When several source parts are
// configured, the vertical levels are dealt out among them.
func channelMesh(gp ablstat.GeneratedPlanes, levels []float64, fromParts []string, rank, size int) (*ablstat.Mesh, error) {
	m := ablstat.NewMesh()
	nodes := make([][]*ablstat.Node, len(fromParts))
	for j := 0; j < gp.Ny; j++ {
		for i := 0; i < gp.Nx; i++ {
			if (j*gp.Nx+i)%size != rank {
				continue
			}
			pt := gp.NodeAt(i, j)
			ξ := float64(i) / float64(gp.Nx-1)
			η := float64(j) / float64(gp.Ny-1)
			for k, z := range levels {
				nodes[k%len(fromParts)] = append(nodes[k%len(fromParts)], demoNode(pt, z, ξ, η))
			}
		}
	}
	for p, name := range fromParts {
		if _, err := m.NewPart(name, nodes[p]); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// demoNode fills in the analytic demonstration fields at one node: a
// logarithmic streamwise velocity profile with single-harmonic
// perturbations whose plane averages vanish under trapezoidal weighting, a
// linearly stratified potential temperature with a weak positive
// temperature flux, and a constant sub-filter shear stress consistent with
// the imposed friction velocity.
func demoNode(pt geom.Point, z, ξ, η float64) *ablstat.Node {
	sx := math.Sin(2 * math.Pi * ξ)
	cx := math.Cos(2 * math.Pi * ξ)
	sy := math.Sin(2 * math.Pi * η)
	cy := math.Cos(2 * math.Pi * η)
	n := &ablstat.Node{Point: pt, Z: z, Weight: 1}
	n.U = demoUtau/demoKappa*math.Log((z+demoZ0)/demoZ0) + 0.3*sx*cy
	n.V = 0.2 * cx
	n.W = 0.1 * sx * sy
	n.T = demoTheta0 + demoGamma*z + 0.5*sx*sy
	n.Tau = [6]float64{0.01, 0, -demoUtau * demoUtau, 0.01, 0, 0.01}
	return n
}

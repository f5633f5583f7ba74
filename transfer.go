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

package ablstat

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/ctessum/geom/index/rtree"
)

// maxSearchAttempts bounds the number of donor searches per plane node and
// step; the search radius grows by the configured expansion factor between
// attempts.
const maxSearchAttempts = 5

// TransferSpec governs how a plane node locates its donor values in the
// source mesh.
type TransferSpec struct {
	// Method is the point-location algorithm: "rtree" or "exhaustive".
	Method string

	// Tolerance is the initial search radius [m].
	Tolerance float64

	// ExpansionFactor scales the radius upward between attempts.
	ExpansionFactor float64
}

// A TransferError reports plane nodes that found no donor after the search
// radius was expanded up to the retry bound. It is fatal for the step that
// encountered it; previously computed statistics stay in place.
type TransferError struct {
	Part   string  // sampling plane part name
	Height float64 // plane height [m]
	Nodes  int     // number of nodes without a donor
	Radius float64 // final search radius [m]
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("ablstat: transferring onto plane %q at height %g: %d node(s) found no donor within radius %g after %d search attempts",
		e.Part, e.Height, e.Nodes, e.Radius, maxSearchAttempts)
}

// A donorSample holds the field values interpolated onto one plane node
// for the current step. Samples are transient; they are overwritten on
// every transfer.
type donorSample struct {
	u, v, w, t float64
	tau        [6]float64
}

// transferEngine interpolates instantaneous source-field values onto
// sampling plane nodes. It is built once, after the mesh exists, and
// queried every step because the field values change between steps.
type transferEngine struct {
	spec    TransferSpec
	sources []*Node
	index   *rtree.Rtree // set when spec.Method == "rtree"
}

// newTransferEngine collects the source nodes from the named parts and, if
// configured, builds the spatial index over them. A missing source part is
// a mesh-resolution error.
func newTransferEngine(m *Mesh, fromParts []string, spec TransferSpec) (*transferEngine, error) {
	e := &transferEngine{spec: spec}
	for _, name := range fromParts {
		p, ok := m.Part(name)
		if !ok {
			return nil, fmt.Errorf("ablstat: source mesh part %q is not in the mesh database", name)
		}
		e.sources = append(e.sources, p.Nodes...)
	}
	if spec.Method == "rtree" {
		e.index = rtree.NewTree(25, 50)
		for _, n := range e.sources {
			e.index.Insert(n)
		}
	}
	return e, nil
}

// finalRadius is the search radius in effect on the last allowed attempt.
func (e *transferEngine) finalRadius() float64 {
	r := e.spec.Tolerance
	for i := 1; i < maxSearchAttempts; i++ {
		r *= e.spec.ExpansionFactor
	}
	return r
}

// transferPlane interpolates the source fields onto every node of the
// plane part p, storing the results in out, which must have one entry per
// node. The per-node searches are independent, so they are fanned out
// across GOMAXPROCS goroutines, each handling a stride of the node list.
func (e *transferEngine) transferPlane(p *Part, height float64, out []donorSample) error {
	if len(out) != len(p.Nodes) {
		return fmt.Errorf("ablstat: transferring onto plane %q: buffer holds %d entries for %d nodes", p.Name, len(out), len(p.Nodes))
	}
	nprocs := runtime.GOMAXPROCS(0)
	misses := make([]int, nprocs)
	var wg sync.WaitGroup
	wg.Add(nprocs)
	for pp := 0; pp < nprocs; pp++ {
		go func(pp int) {
			defer wg.Done()
			for ii := pp; ii < len(p.Nodes); ii += nprocs {
				if !e.sample(p.Nodes[ii], &out[ii]) {
					misses[pp]++
				}
			}
		}(pp)
	}
	wg.Wait()
	nMiss := 0
	for _, m := range misses {
		nMiss += m
	}
	if nMiss > 0 {
		return &TransferError{Part: p.Name, Height: height, Nodes: nMiss, Radius: e.finalRadius()}
	}
	return nil
}

// sample locates donors for the plane node n and fills s with the
// inverse-distance-weighted interpolation of their field values. It
// reports whether any donor was found: the search starts at the configured
// tolerance and the radius is scaled by the expansion factor on each miss,
// up to maxSearchAttempts.
func (e *transferEngine) sample(n *Node, s *donorSample) bool {
	r := e.spec.Tolerance
	for attempt := 0; attempt < maxSearchAttempts; attempt++ {
		if attempt > 0 {
			r *= e.spec.ExpansionFactor
		}
		if donors := e.within(n, r); len(donors) > 0 {
			interpolateDonors(n, donors, s)
			return true
		}
	}
	return false
}

// within returns the source nodes within Euclidean distance r of n.
func (e *transferEngine) within(n *Node, r float64) []*Node {
	var donors []*Node
	if e.index != nil {
		for _, item := range e.index.SearchIntersect(rtree.ToRect(n.Point, r)) {
			d := item.(*Node)
			if distSquared(n, d) <= r*r {
				donors = append(donors, d)
			}
		}
		return donors
	}
	for _, d := range e.sources {
		if distSquared(n, d) <= r*r {
			donors = append(donors, d)
		}
	}
	return donors
}

func distSquared(a, b *Node) float64 {
	dx := a.X - b.X
	dy := a.Y - b.Y
	dz := a.Z - b.Z
	return dx*dx + dy*dy + dz*dz
}

// interpolateDonors fills s with the inverse-distance-squared weighted
// average of the donor field values. A donor coincident with the node
// short-circuits to that donor's values so that exact matches transfer
// exactly.
func interpolateDonors(n *Node, donors []*Node, s *donorSample) {
	const coincident = 1.e-24 // squared distance regarded as an exact hit

	var wsum float64
	*s = donorSample{}
	for _, d := range donors {
		d2 := distSquared(n, d)
		if d2 < coincident {
			s.u, s.v, s.w, s.t = d.U, d.V, d.W, d.T
			s.tau = d.Tau
			return
		}
		w := 1 / d2
		wsum += w
		s.u += w * d.U
		s.v += w * d.V
		s.w += w * d.W
		s.t += w * d.T
		for i := range s.tau {
			s.tau[i] += w * d.Tau[i]
		}
	}
	s.u /= wsum
	s.v /= wsum
	s.w /= wsum
	s.t /= wsum
	for i := range s.tau {
		s.tau[i] /= wsum
	}
}

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

	"github.com/ctessum/geom"
)

// A PlaneSource determines how the sampling plane part for each height is
// obtained. The two variants are NamedPlanes, for planes that the host
// simulation's mesh already contains, and GeneratedPlanes, for planes
// synthesized by this core. Using a closed set of variants keeps invalid
// combinations (for example, grid resolutions without a footprint)
// unrepresentable.
type PlaneSource interface {
	// check validates the variant's parameters at configuration load.
	check() error

	// resolve returns the sampling plane part named name for the plane at
	// the given height, creating it in the mesh if this variant
	// synthesizes planes. rank and size identify the calling partition so
	// that synthesized nodes can be distributed across partitions.
	resolve(m *Mesh, name string, height float64, rank, size int) (*Part, error)
}

// NamedPlanes is the PlaneSource for sampling planes that already exist in
// the host simulation's mesh database under their templated names.
type NamedPlanes struct{}

func (NamedPlanes) check() error { return nil }

func (NamedPlanes) resolve(m *Mesh, name string, height float64, rank, size int) (*Part, error) {
	p, ok := m.Part(name)
	if !ok {
		return nil, fmt.Errorf("ablstat: sampling plane part %q for height %g is not in the mesh database", name, height)
	}
	return p, nil
}

// GeneratedPlanes is the PlaneSource that synthesizes an Nx by Ny grid of
// sample nodes for each height from a quadrilateral footprint. The
// vertices are the footprint corners in winding order; node positions are
// bilinearly interpolated between them.
type GeneratedPlanes struct {
	Vertices [4]geom.Point
	Nx, Ny   int
}

func (g GeneratedPlanes) check() error {
	if g.Nx < 2 || g.Ny < 2 {
		return fmt.Errorf("ablstat: generated planes need at least 2 nodes in each direction but have %d x %d", g.Nx, g.Ny)
	}
	for i := 0; i < 4; i++ {
		for j := i + 1; j < 4; j++ {
			if g.Vertices[i].Equals(g.Vertices[j]) {
				return fmt.Errorf("ablstat: generated plane footprint vertices %d and %d coincide at %+v", i, j, g.Vertices[i])
			}
		}
	}
	return nil
}

func (g GeneratedPlanes) resolve(m *Mesh, name string, height float64, rank, size int) (*Part, error) {
	if _, ok := m.Part(name); ok {
		return nil, fmt.Errorf("ablstat: generated sampling plane %q collides with an existing mesh part", name)
	}
	var nodes []*Node
	for j := 0; j < g.Ny; j++ {
		for i := 0; i < g.Nx; i++ {
			// Partitions own generated nodes in a round-robin pattern so
			// that every node is owned exactly once.
			if (j*g.Nx+i)%size != rank {
				continue
			}
			nodes = append(nodes, &Node{
				Point:  g.NodeAt(i, j),
				Z:      height,
				Weight: trapezoidWeight(i, g.Nx) * trapezoidWeight(j, g.Ny),
			})
		}
	}
	return m.NewPart(name, nodes)
}

// NodeAt returns the horizontal position of generated node (i, j). Host
// simulations that need their source mesh columns to coincide with the
// sampling nodes can build them from the same positions.
func (g GeneratedPlanes) NodeAt(i, j int) geom.Point {
	ξ := float64(i) / float64(g.Nx-1)
	η := float64(j) / float64(g.Ny-1)
	return g.bilinear(ξ, η)
}

// bilinear maps the unit-square coordinates (ξ, η) onto the quadrilateral
// footprint.
func (g GeneratedPlanes) bilinear(ξ, η float64) geom.Point {
	v := g.Vertices
	return geom.Point{
		X: (1-ξ)*(1-η)*v[0].X + ξ*(1-η)*v[1].X + ξ*η*v[2].X + (1-ξ)*η*v[3].X,
		Y: (1-ξ)*(1-η)*v[0].Y + ξ*(1-η)*v[1].Y + ξ*η*v[2].Y + (1-ξ)*η*v[3].Y,
	}
}

// trapezoidWeight is the one-dimensional trapezoidal quadrature weight for
// node i of n: boundary nodes count half as much as interior nodes.
func trapezoidWeight(i, n int) float64 {
	if i == 0 || i == n-1 {
		return 0.5
	}
	return 1
}

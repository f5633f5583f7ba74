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
	"sort"

	"github.com/ctessum/geom"
)

// A Node is one sample site in the mesh. Its embedded geom.Point holds the
// horizontal position [m] and Z holds the height above the terrain [m].
// Nodes belonging to source mesh parts carry the instantaneous field
// values that the host simulation updates every step; nodes belonging to
// sampling planes only use the geometric fields and Weight.
type Node struct {
	geom.Point
	Z float64

	// Weight is the quadrature weight used when this node contributes to
	// a planar average. Only relative magnitudes matter.
	Weight float64

	// U, V, and W are the velocity components [m/s].
	U, V, W float64

	// T is the potential temperature [K].
	T float64

	// Tau holds the sub-filter stress tensor components [m2/s2] in the
	// order τ11, τ12, τ13, τ22, τ23, τ33.
	Tau [6]float64
}

// A Part is a named collection of mesh nodes. On a decomposed mesh each
// process's mesh holds only the nodes its partition owns, so a part may
// legitimately be empty on some partitions.
type Part struct {
	Name  string
	Nodes []*Node
}

// Mesh is this core's boundary to the host simulation's mesh database. It
// records the parts and fields the statistics controller requires before
// the mesh is finalized, and resolves parts by name afterwards. On a
// decomposed mesh, each participating process holds its own Mesh
// containing only locally owned nodes.
type Mesh struct {
	parts map[string]*Part

	// requiredFields maps field names registered during controller setup
	// to their component counts, so the host's mesh builder can create
	// them before the mesh is finalized.
	requiredFields map[string]int

	// requiredParts lists part names registered during controller setup.
	requiredParts map[string]bool
}

// NewMesh returns an empty mesh database boundary.
func NewMesh() *Mesh {
	return &Mesh{
		parts:          make(map[string]*Part),
		requiredFields: make(map[string]int),
		requiredParts:  make(map[string]bool),
	}
}

// NewPart creates a part with the given name and nodes. It is used both
// by the host simulation when it builds the mesh and by the plane
// generator when sampling planes are synthesized.
func (m *Mesh) NewPart(name string, nodes []*Node) (*Part, error) {
	if name == "" {
		return nil, fmt.Errorf("ablstat: creating mesh part: the name is empty")
	}
	if _, ok := m.parts[name]; ok {
		return nil, fmt.Errorf("ablstat: creating mesh part: part %q already exists", name)
	}
	p := &Part{Name: name, Nodes: nodes}
	m.parts[name] = p
	return p, nil
}

// Part returns the part with the given name, if it exists.
func (m *Mesh) Part(name string) (*Part, bool) {
	p, ok := m.parts[name]
	return p, ok
}

// PartNames returns the names of all parts in the mesh, sorted.
func (m *Mesh) PartNames() []string {
	names := make([]string, 0, len(m.parts))
	for n := range m.parts {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// RequireField records that a field with the given name and number of
// components must exist on the mesh. It returns an error if the field was
// previously required with a different component count.
func (m *Mesh) RequireField(name string, ncomp int) error {
	if prev, ok := m.requiredFields[name]; ok && prev != ncomp {
		return fmt.Errorf("ablstat: field %s is required with %d components but was previously required with %d",
			name, ncomp, prev)
	}
	m.requiredFields[name] = ncomp
	return nil
}

// RequirePart records that a part with the given name must exist on the
// mesh by the time statistics are initialized.
func (m *Mesh) RequirePart(name string) {
	m.requiredParts[name] = true
}

// RequiredFields returns the names and component counts of all fields
// registered with RequireField, for use by the host's mesh builder.
func (m *Mesh) RequiredFields() map[string]int {
	out := make(map[string]int, len(m.requiredFields))
	for k, v := range m.requiredFields {
		out[k] = v
	}
	return out
}

// RequiredParts returns the names of all parts registered with
// RequirePart, sorted.
func (m *Mesh) RequiredParts() []string {
	names := make([]string, 0, len(m.requiredParts))
	for n := range m.requiredParts {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

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
	"math"

	"github.com/ctessum/atmos/acm2"
)

// Indices of the vertical shear components in the six-component
// sub-filter stress vector (τ11, τ12, τ13, τ22, τ23, τ33).
const (
	tau13 = 2
	tau23 = 4
)

// frictionVelocity derives the friction velocity [m/s] from the total
// (resolved plus sub-filter) shear stress at the lowest velocity plane:
//
//	u* = ((⟨u'w'⟩+⟨τ13⟩)² + (⟨v'w'⟩+⟨τ23⟩)²)^¼
//
// It is recomputed from the freshest statistics on every step and keeps no
// state of its own.
func frictionVelocity(st *planarStats) float64 {
	t13 := st.varCov.Get(0, VarUW) + st.sfsMean.Get(0, tau13)
	t23 := st.varCov.Get(0, VarVW) + st.sfsMean.Get(0, tau23)
	return math.Pow(t13*t13+t23*t23, 0.25)
}

// ObukhovLength returns the Monin-Obukhov length [m] characterizing the
// surface-layer stability, derived from the kinematic heat flux ⟨w'θ'⟩ and
// mean temperature at the lowest velocity plane together with the current
// friction velocity. ρ is the air density [kg/m³]. The sign follows the
// meteorological convention: negative in unstable (upward heat flux)
// conditions. The length is undefined for a zero heat flux.
func (c *Controller) ObukhovLength(ρ float64) (float64, error) {
	if c.state != Initialized && c.state != Running {
		return 0, fmt.Errorf("ablstat: ObukhovLength called in state %s: %w", c.state, ErrState)
	}
	wθ := c.varCov.Get(0, VarWT)
	if wθ == 0 {
		return 0, fmt.Errorf("ablstat: the Obukhov length is undefined when the surface heat flux is zero")
	}
	hfx := wθ * ρ * acm2.Cp
	// acm2 keeps Pleim's magnitude but not the leading minus sign.
	return -acm2.ObukhovLen(hfx, ρ, c.wallT, c.utau), nil
}

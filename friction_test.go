package ablstat

import (
	"math"
	"testing"

	"github.com/ctessum/sparse"
)

// newPlanarStats returns zeroed statistics for nVel velocity heights and
// one temperature height.
func newPlanarStats(nVel int) *planarStats {
	return &planarStats{
		uMean:   sparse.ZerosDense(nVel, 3),
		sfsMean: sparse.ZerosDense(nVel, 6),
		varCov:  sparse.ZerosDense(nVel, nVarComponents),
		tMean:   sparse.ZerosDense(1),
	}
}

func TestFrictionVelocity(t *testing.T) {
	st := newPlanarStats(2)
	// Resolved and sub-filter shear combine into the total stress at the
	// lowest plane: t13 = -0.05 - 0.04 = -0.09 and t23 = 0, so
	// u* = (0.09²)^¼ = 0.3.
	st.varCov.Set(-0.05, 0, VarUW)
	st.sfsMean.Set(-0.04, 0, tau13)
	// Values on the upper plane must not enter the estimate.
	st.varCov.Set(-25, 1, VarUW)
	st.varCov.Set(-25, 1, VarVW)
	st.sfsMean.Set(-25, 1, tau13)
	st.sfsMean.Set(-25, 1, tau23)
	if utau := frictionVelocity(st); math.Abs(utau-0.3) > 1.e-12 {
		t.Errorf("want friction velocity 0.3 but have %g", utau)
	}

	// Both shear components contribute: t13 = -0.03 and t23 = -0.04 give
	// u* = (0.0009 + 0.0016)^¼ = √0.05.
	st = newPlanarStats(1)
	st.varCov.Set(-0.01, 0, VarUW)
	st.sfsMean.Set(-0.02, 0, tau13)
	st.varCov.Set(-0.04, 0, VarVW)
	if utau, want := frictionVelocity(st), math.Sqrt(0.05); math.Abs(utau-want) > 1.e-12 {
		t.Errorf("want friction velocity %g but have %g", want, utau)
	}

	// No stress, no friction velocity.
	if utau := frictionVelocity(newPlanarStats(1)); utau != 0 {
		t.Errorf("want friction velocity 0 but have %g", utau)
	}
}

func TestObukhovLength(t *testing.T) {
	c := runController(t, testConfig(), waveField, 1)
	defer c.Destroy()

	const ρ = 1.2
	L, err := c.ObukhovLength(ρ)
	if err != nil {
		t.Fatal(err)
	}
	// Pleim (2007) equation 14: L = -T·u*³ / (g·κ·⟨w'θ'⟩).
	wθ := c.varCov.Get(0, VarWT)
	want := -c.wallT * math.Pow(c.utau, 3) / 9.80665 / 0.41 / wθ
	if math.Abs(L-want) > 1.e-9*math.Abs(want) {
		t.Errorf("want Obukhov length %g but have %g", want, L)
	}
	if L >= 0 {
		t.Errorf("an upward heat flux must give a negative length but have %g", L)
	}
}

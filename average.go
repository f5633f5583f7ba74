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
	"sync"

	"github.com/ctessum/sparse"
	"gonum.org/v1/gonum/floats"
)

// Indices into the 9-component variance/covariance vector stored for each
// velocity height. This ordering is a stable contract; output files and
// downstream consumers depend on it.
const (
	VarUU  = iota // ⟨u'u'⟩
	VarVV         // ⟨v'v'⟩
	VarWW         // ⟨w'w'⟩
	VarUV         // ⟨u'v'⟩
	VarUW         // ⟨u'w'⟩
	VarVW         // ⟨v'w'⟩
	VarWWW        // ⟨w'w'w'⟩
	VarTT         // ⟨θ'θ'⟩
	VarWT         // ⟨w'θ'⟩

	nVarComponents
)

// Columns of the per-height raw-moment accumulator for velocity planes.
// All entries are weighted sums; they are only meaningful relative to the
// weight column, and they are never normalized before the global
// reduction.
const (
	mWeight = iota
	mU
	mV
	mW
	mT
	mTau // six components, τ11 τ12 τ13 τ22 τ23 τ33
	mUU  = mTau + 6
	mVV  = mUU + 1
	mWW  = mVV + 1
	mUV  = mWW + 1
	mUW  = mUV + 1
	mVW  = mUW + 1
	mWWW = mVW + 1
	mTT  = mWWW + 1
	mWT  = mTT + 1

	nVelMoments = mWT + 1
)

// Columns of the accumulator for temperature planes.
const (
	mtWeight = iota
	mtT

	nTempMoments
)

// A Reduction combines per-partition partial sums into global sums. SumAll
// is a blocking collective: it returns the element-wise sum of x across
// all participating partitions, and it returns the same result to every
// caller after all of them have contributed.
type Reduction interface {
	SumAll(x []float64) ([]float64, error)
}

// SerialReduction is the Reduction for a mesh held entirely by one
// partition: the global sum of a single contribution is itself.
type SerialReduction struct{}

// SumAll implements Reduction.
func (SerialReduction) SumAll(x []float64) ([]float64, error) { return x, nil }

// reductionRound holds the state of one collective sum. Each round has its
// own result and completion channel so that a slow reader can never
// observe a later round's sum.
type reductionRound struct {
	parts [][]float64
	got   int
	sum   []float64
	err   error
	done  chan struct{}
}

type reductionGroup struct {
	n   int
	mu  sync.Mutex
	cur *reductionRound
}

// A groupMember is one partition's handle on an in-process reduction
// group.
type groupMember struct {
	g    *reductionGroup
	rank int
}

// NewReductionGroup creates the Reductions for n co-located mesh
// partitions, one per partition. Each member's SumAll blocks until all n
// members have contributed, then every member receives the identical
// global sum; contributions are combined in rank order so the result does
// not depend on arrival order.
func NewReductionGroup(n int) []Reduction {
	g := &reductionGroup{n: n}
	members := make([]Reduction, n)
	for i := range members {
		members[i] = &groupMember{g: g, rank: i}
	}
	return members
}

// SumAll implements Reduction.
func (m *groupMember) SumAll(x []float64) ([]float64, error) {
	g := m.g
	g.mu.Lock()
	if g.cur == nil {
		g.cur = &reductionRound{parts: make([][]float64, g.n), done: make(chan struct{})}
	}
	r := g.cur
	if r.parts[m.rank] != nil {
		g.mu.Unlock()
		return nil, fmt.Errorf("ablstat: partition %d contributed twice to the same reduction", m.rank)
	}
	for _, p := range r.parts {
		if p != nil && len(p) != len(x) && r.err == nil {
			r.err = fmt.Errorf("ablstat: reduction contributions disagree in length (%d vs %d)", len(p), len(x))
		}
	}
	r.parts[m.rank] = x
	r.got++
	if r.got == g.n {
		if r.err == nil {
			r.sum = make([]float64, len(x))
			for _, p := range r.parts {
				floats.Add(r.sum, p)
			}
		}
		g.cur = nil
		g.mu.Unlock()
		close(r.done)
	} else {
		g.mu.Unlock()
		<-r.done
	}
	if r.err != nil {
		return nil, r.err
	}
	out := make([]float64, len(r.sum))
	copy(out, r.sum)
	return out, nil
}

// An Averager reduces per-node transferred values on each sampling plane
// into planar mean, variance, and covariance statistics. It accumulates
// weighted raw moments locally, sums them across all mesh partitions
// through its Reduction, and only then normalizes, so the statistics are
// correct however the plane nodes are distributed.
//
// An Averager may be owned by a single statistics controller or shared
// with the host simulation; sharing is safe because only one Execute call
// is ever in flight at a time.
type Averager struct {
	reduction Reduction
	vel       *sparse.DenseArray // (velocity heights, nVelMoments)
	temp      *sparse.DenseArray // (temperature heights, nTempMoments)
}

// NewAverager creates an averaging algorithm instance that combines
// partition partial sums with r. A nil r means the mesh is not decomposed
// and SerialReduction is used.
func NewAverager(r Reduction) *Averager {
	if r == nil {
		r = SerialReduction{}
	}
	return &Averager{reduction: r}
}

// init allocates the moment accumulators for the given numbers of velocity
// and temperature heights, reusing existing storage when the shape already
// matches so that a shared instance can serve several controllers with the
// same configuration.
func (a *Averager) init(nVel, nTemp int) {
	if a.vel == nil || a.vel.Shape[0] != nVel {
		a.vel = sparse.ZerosDense(nVel, nVelMoments)
	}
	if a.temp == nil || a.temp.Shape[0] != nTemp {
		a.temp = sparse.ZerosDense(nTemp, nTempMoments)
	}
}

// reset zeroes the accumulators in place at the start of a step.
func (a *Averager) reset() {
	for i := range a.vel.Elements {
		a.vel.Elements[i] = 0
	}
	for i := range a.temp.Elements {
		a.temp.Elements[i] = 0
	}
}

// release drops the accumulator storage. It is called when an owning
// controller is destroyed; shared instances are never released by their
// borrowers.
func (a *Averager) release() {
	a.vel = nil
	a.temp = nil
}

// accumulateVelocity adds the sampled values on velocity plane h to the
// local partial sums.
func (a *Averager) accumulateVelocity(h int, nodes []*Node, samples []donorSample) {
	for i, n := range nodes {
		s := &samples[i]
		w := n.Weight
		a.vel.AddVal(w, h, mWeight)
		a.vel.AddVal(w*s.u, h, mU)
		a.vel.AddVal(w*s.v, h, mV)
		a.vel.AddVal(w*s.w, h, mW)
		a.vel.AddVal(w*s.t, h, mT)
		for k, τ := range s.tau {
			a.vel.AddVal(w*τ, h, mTau+k)
		}
		a.vel.AddVal(w*s.u*s.u, h, mUU)
		a.vel.AddVal(w*s.v*s.v, h, mVV)
		a.vel.AddVal(w*s.w*s.w, h, mWW)
		a.vel.AddVal(w*s.u*s.v, h, mUV)
		a.vel.AddVal(w*s.u*s.w, h, mUW)
		a.vel.AddVal(w*s.v*s.w, h, mVW)
		a.vel.AddVal(w*s.w*s.w*s.w, h, mWWW)
		a.vel.AddVal(w*s.t*s.t, h, mTT)
		a.vel.AddVal(w*s.w*s.t, h, mWT)
	}
}

// accumulateTemperature adds the sampled values on temperature plane h to
// the local partial sums.
func (a *Averager) accumulateTemperature(h int, nodes []*Node, samples []donorSample) {
	for i, n := range nodes {
		w := n.Weight
		a.temp.AddVal(w, h, mtWeight)
		a.temp.AddVal(w*samples[i].t, h, mtT)
	}
}

// planarStats holds fully reduced and normalized statistics for one step.
type planarStats struct {
	uMean   *sparse.DenseArray // (velocity heights, 3)
	sfsMean *sparse.DenseArray // (velocity heights, 6)
	varCov  *sparse.DenseArray // (velocity heights, nVarComponents)
	tMean   *sparse.DenseArray // (temperature heights)
	wallT   float64            // mean temperature at the lowest velocity plane [K]
}

// reduce sums the local partial moments across all partitions and derives
// the planar statistics. Normalization by the total plane weight happens
// strictly after the global reduction; normalizing local sums first would
// silently bias every decomposed run. A plane whose global weight is zero
// is an error rather than a NaN.
func (a *Averager) reduce(velHeights, tempHeights []float64) (*planarStats, error) {
	nVel := len(velHeights)
	nTemp := len(tempHeights)
	local := make([]float64, 0, len(a.vel.Elements)+len(a.temp.Elements))
	local = append(local, a.vel.Elements...)
	local = append(local, a.temp.Elements...)
	global, err := a.reduction.SumAll(local)
	if err != nil {
		return nil, fmt.Errorf("ablstat: reducing plane statistics: %v", err)
	}
	gvel := global[:len(a.vel.Elements)]
	gtemp := global[len(a.vel.Elements):]

	st := &planarStats{
		uMean:   sparse.ZerosDense(nVel, 3),
		sfsMean: sparse.ZerosDense(nVel, 6),
		varCov:  sparse.ZerosDense(nVel, nVarComponents),
		tMean:   sparse.ZerosDense(nTemp),
	}
	for h := 0; h < nVel; h++ {
		row := gvel[h*nVelMoments : (h+1)*nVelMoments]
		wsum := row[mWeight]
		if wsum <= 0 {
			return nil, fmt.Errorf("ablstat: velocity plane at height %g has zero total weight; no nodes contributed to the average", velHeights[h])
		}
		u := row[mU] / wsum
		v := row[mV] / wsum
		w := row[mW] / wsum
		t := row[mT] / wsum
		st.uMean.Set(u, h, 0)
		st.uMean.Set(v, h, 1)
		st.uMean.Set(w, h, 2)
		for k := 0; k < 6; k++ {
			st.sfsMean.Set(row[mTau+k]/wsum, h, k)
		}
		ww := row[mWW] / wsum
		st.varCov.Set(row[mUU]/wsum-u*u, h, VarUU)
		st.varCov.Set(row[mVV]/wsum-v*v, h, VarVV)
		st.varCov.Set(ww-w*w, h, VarWW)
		st.varCov.Set(row[mUV]/wsum-u*v, h, VarUV)
		st.varCov.Set(row[mUW]/wsum-u*w, h, VarUW)
		st.varCov.Set(row[mVW]/wsum-v*w, h, VarVW)
		st.varCov.Set(row[mWWW]/wsum-3*ww*w+2*w*w*w, h, VarWWW)
		st.varCov.Set(row[mTT]/wsum-t*t, h, VarTT)
		st.varCov.Set(row[mWT]/wsum-w*t, h, VarWT)
		if h == 0 {
			st.wallT = t
		}
	}
	for h := 0; h < nTemp; h++ {
		row := gtemp[h*nTempMoments : (h+1)*nTempMoments]
		wsum := row[mtWeight]
		if wsum <= 0 {
			return nil, fmt.Errorf("ablstat: temperature plane at height %g has zero total weight; no nodes contributed to the average", tempHeights[h])
		}
		st.tMean.Set(row[mtT]/wsum, h)
	}
	return st, nil
}

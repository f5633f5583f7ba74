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
	"math"
	"reflect"
	"runtime"
	"strings"
	"sync"
	"testing"

	"github.com/GaryBoone/GoStats/stats"
)

func TestSerialReduction(t *testing.T) {
	x := []float64{1, -2.5, 0, 1e16}
	sum, err := SerialReduction{}.SumAll(x)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(sum, x) {
		t.Errorf("want %v but have %v", x, sum)
	}
}

func TestReductionGroup(t *testing.T) {
	const (
		n      = 3
		rounds = 50
	)
	group := NewReductionGroup(n)
	if len(group) != n {
		t.Fatalf("want %d members but have %d", n, len(group))
	}

	// The first elements only sum to zero when the contributions are
	// combined in rank order, so any arrival-order dependence shows up
	// as a nonzero first element in some round.
	parts := [][]float64{{1e16, 1}, {1, 2}, {-1e16, 3}}
	want := []float64{0, 6}

	results := make([][][]float64, n)
	var wg sync.WaitGroup
	for rank := 0; rank < n; rank++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			for r := 0; r < rounds; r++ {
				x := append([]float64(nil), parts[rank]...)
				sum, err := group[rank].SumAll(x)
				if err != nil {
					t.Error(err)
					return
				}
				results[rank] = append(results[rank], sum)
			}
		}(rank)
	}
	wg.Wait()

	for rank := 0; rank < n; rank++ {
		if len(results[rank]) != rounds {
			t.Fatalf("member %d completed %d of %d rounds", rank, len(results[rank]), rounds)
		}
		for r, sum := range results[rank] {
			if !reflect.DeepEqual(sum, want) {
				t.Errorf("member %d round %d: want %v but have %v", rank, r, want, sum)
			}
		}
	}
}

// waitForContribution blocks until rank has registered its contribution to
// the group's current reduction round.
func waitForContribution(g *reductionGroup, rank int) {
	for {
		g.mu.Lock()
		ok := g.cur != nil && g.cur.parts[rank] != nil
		g.mu.Unlock()
		if ok {
			return
		}
		runtime.Gosched()
	}
}

func TestReductionGroupErrors(t *testing.T) {
	t.Run("duplicate contribution", func(t *testing.T) {
		group := NewReductionGroup(2)
		firstErr := make(chan error, 1)
		go func() {
			_, err := group[0].SumAll([]float64{1})
			firstErr <- err
		}()
		waitForContribution(group[0].(*groupMember).g, 0)

		if _, err := group[0].SumAll([]float64{2}); err == nil {
			t.Error("duplicate contribution: want error but have nil")
		}
		// The round itself is unharmed: the second member completes it.
		sum, err := group[1].SumAll([]float64{3})
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(sum, []float64{4}) {
			t.Errorf("want [4] but have %v", sum)
		}
		if err := <-firstErr; err != nil {
			t.Error(err)
		}
	})

	t.Run("length mismatch", func(t *testing.T) {
		group := NewReductionGroup(2)
		firstErr := make(chan error, 1)
		go func() {
			_, err := group[0].SumAll([]float64{1, 2})
			firstErr <- err
		}()
		waitForContribution(group[0].(*groupMember).g, 0)

		if _, err := group[1].SumAll([]float64{1}); err == nil {
			t.Error("length mismatch: want error but have nil")
		}
		if err := <-firstErr; err == nil {
			t.Error("length mismatch: want error for the first contributor too but have nil")
		}
	})
}

func TestAveragerMatchesReferenceStatistics(t *testing.T) {
	u := []float64{1.2, -0.4, 3.1, 0.9, -2.2, 1.7, 0.3, 2.4}
	w := []float64{0.1, -0.7, 0.6, 1.4, -0.9, 0.2, -1.1, 0.8}
	temp := []float64{300.1, 299.2, 301.7, 300.9, 298.8, 300.4, 299.6, 301.2}

	a := NewAverager(nil)
	a.init(1, 1)
	a.reset()
	nodes := make([]*Node, len(u))
	samples := make([]donorSample, len(u))
	for i := range u {
		nodes[i] = &Node{Weight: 1}
		samples[i] = donorSample{u: u[i], v: -u[i] / 2, w: w[i], t: temp[i]}
	}
	a.accumulateVelocity(0, nodes, samples)
	a.accumulateTemperature(0, nodes, samples)
	st, err := a.reduce([]float64{10}, []float64{10})
	if err != nil {
		t.Fatal(err)
	}

	check := func(name string, have, want, tolerance float64) {
		if math.Abs(have-want) > tolerance {
			t.Errorf("%s: want %g but have %g", name, want, have)
		}
	}
	check("u mean", st.uMean.Get(0, 0), stats.StatsMean(u), 1.e-12)
	check("w mean", st.uMean.Get(0, 2), stats.StatsMean(w), 1.e-12)
	check("temperature mean", st.tMean.Get(0), stats.StatsMean(temp), 1.e-12)
	check("wall temperature", st.wallT, stats.StatsMean(temp), 1.e-12)

	check("u variance", st.varCov.Get(0, VarUU), stats.StatsPopulationVariance(u), 1.e-12)
	check("w variance", st.varCov.Get(0, VarWW), stats.StatsPopulationVariance(w), 1.e-12)
	// The raw-moment temperature variance cancels ~10 digits against the
	// squared mean, so it only matches the two-pass reference loosely.
	check("temperature variance", st.varCov.Get(0, VarTT), stats.StatsPopulationVariance(temp), 1.e-8)

	// GoStats has no covariance or third moment, so cross-check those
	// against a two-pass computation.
	uMean, wMean := stats.StatsMean(u), stats.StatsMean(w)
	var uw, www float64
	for i := range u {
		uw += (u[i] - uMean) * (w[i] - wMean)
		www += math.Pow(w[i]-wMean, 3)
	}
	uw /= float64(len(u))
	www /= float64(len(w))
	check("uw covariance", st.varCov.Get(0, VarUW), uw, 1.e-12)
	check("w third moment", st.varCov.Get(0, VarWWW), www, 1.e-12)
}

func TestWeightedAverage(t *testing.T) {
	a := NewAverager(nil)
	a.init(1, 1)
	a.reset()
	nodes := []*Node{{Weight: 1}, {Weight: 3}}
	samples := []donorSample{{u: 2, t: 300}, {u: 6, t: 302}}
	a.accumulateVelocity(0, nodes, samples)
	a.accumulateTemperature(0, nodes, samples)
	st, err := a.reduce([]float64{10}, []float64{10})
	if err != nil {
		t.Fatal(err)
	}
	if have := st.uMean.Get(0, 0); have != 5 {
		t.Errorf("weighted u mean: want 5 but have %g", have)
	}
	if have := st.varCov.Get(0, VarUU); have != 3 {
		t.Errorf("weighted u variance: want 3 but have %g", have)
	}
	if have := st.tMean.Get(0); have != 301.5 {
		t.Errorf("weighted temperature mean: want 301.5 but have %g", have)
	}
	if have := st.varCov.Get(0, VarTT); have != 0.75 {
		t.Errorf("weighted temperature variance: want 0.75 but have %g", have)
	}
}

func TestReduceZeroWeight(t *testing.T) {
	a := NewAverager(nil)
	a.init(1, 1)
	a.reset()
	a.accumulateTemperature(0, []*Node{{Weight: 1}}, []donorSample{{t: 300}})
	_, err := a.reduce([]float64{25}, []float64{25})
	if err == nil {
		t.Fatal("zero-weight velocity plane: want error but have nil")
	}
	if !strings.Contains(err.Error(), "velocity plane at height 25") {
		t.Errorf("want an error naming the velocity plane height but have %v", err)
	}

	a.reset()
	a.accumulateVelocity(0, []*Node{{Weight: 1}}, []donorSample{{u: 1}})
	_, err = a.reduce([]float64{25}, []float64{40})
	if err == nil {
		t.Fatal("zero-weight temperature plane: want error but have nil")
	}
	if !strings.Contains(err.Error(), "temperature plane at height 40") {
		t.Errorf("want an error naming the temperature plane height but have %v", err)
	}
}

func TestAveragerStorageReuse(t *testing.T) {
	a := NewAverager(SerialReduction{})
	a.init(3, 2)
	vel, temp := a.vel, a.temp
	a.init(3, 2)
	if a.vel != vel || a.temp != temp {
		t.Error("matching shapes must reuse the accumulator storage")
	}
	a.init(4, 2)
	if a.vel == vel {
		t.Error("a changed shape must reallocate the accumulator")
	}
	if a.temp != temp {
		t.Error("an unchanged shape must keep its accumulator")
	}
	a.release()
	if a.vel != nil || a.temp != nil {
		t.Error("release must drop the accumulator storage")
	}
}

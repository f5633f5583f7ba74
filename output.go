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
	"log"
	"math"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/Knetic/govaluate"
	"github.com/cenkalti/backoff"
	"github.com/ctessum/cdf"
	"gonum.org/v1/gonum/floats"
)

// varColumns are the column names of the 9-component variance/covariance
// vector, in its fixed storage order.
var varColumns = []string{"uu", "vv", "ww", "uv", "uw", "vw", "www", "TT", "wT"}

// tauColumns are the column names of the mean sub-filter stress tensor.
var tauColumns = []string{"tau11", "tau12", "tau13", "tau22", "tau23", "tau33"}

var validVarName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// An Outputter writes per-field planar statistics records to the text
// files named by the configured template. Beyond the built-in statistics
// columns it can evaluate user-defined derived quantities, expressed in
// terms of the per-height statistics variables (z, u, v, w, the
// variance/covariance components, the stress components, and utau).
type Outputter struct {
	cfg       *Config
	derived   []string // sorted derived-variable names
	exprs     map[string]*govaluate.EvaluableExpression
	functions map[string]govaluate.ExpressionFunction
}

// NewOutputter creates an Outputter for the given configuration and adds a
// set of default expression functions: 'sqrt(x)', 'abs(x)', 'exp(x)',
// 'log(x)', and 'sum(x)', which sums over a slice argument. Functions
// supplied in outputFunctions are added to (and may override) the
// defaults. Malformed expressions or variable names are configuration
// errors.
func NewOutputter(cfg *Config, outputFunctions map[string]govaluate.ExpressionFunction) (*Outputter, error) {
	defaultOutputFuncs := map[string]govaluate.ExpressionFunction{
		"sqrt": func(arg ...interface{}) (interface{}, error) {
			if len(arg) != 1 {
				return nil, fmt.Errorf("ablstat: got %d arguments for function 'sqrt', but needs 1", len(arg))
			}
			return math.Sqrt(arg[0].(float64)), nil
		},
		"abs": func(arg ...interface{}) (interface{}, error) {
			if len(arg) != 1 {
				return nil, fmt.Errorf("ablstat: got %d arguments for function 'abs', but needs 1", len(arg))
			}
			return math.Abs(arg[0].(float64)), nil
		},
		"exp": func(arg ...interface{}) (interface{}, error) {
			if len(arg) != 1 {
				return nil, fmt.Errorf("ablstat: got %d arguments for function 'exp', but needs 1", len(arg))
			}
			return math.Exp(arg[0].(float64)), nil
		},
		"log": func(arg ...interface{}) (interface{}, error) {
			if len(arg) != 1 {
				return nil, fmt.Errorf("ablstat: got %d arguments for function 'log', but needs 1", len(arg))
			}
			return math.Log(arg[0].(float64)), nil
		},
		"sum": func(arg ...interface{}) (interface{}, error) {
			if len(arg) != 1 {
				return nil, fmt.Errorf("ablstat: got %d arguments for function 'sum', but needs 1", len(arg))
			}
			return floats.Sum(arg[0].([]float64)), nil
		},
	}
	for key, val := range outputFunctions {
		defaultOutputFuncs[key] = val
	}

	o := &Outputter{
		cfg:       cfg,
		exprs:     make(map[string]*govaluate.EvaluableExpression),
		functions: defaultOutputFuncs,
	}
	for name, exprStr := range cfg.OutputVariables {
		if !validVarName.MatchString(name) {
			return nil, fmt.Errorf("ablstat: derived output variable name %q is not a valid identifier", name)
		}
		expr, err := govaluate.NewEvaluableExpressionWithFunctions(exprStr, o.functions)
		if err != nil {
			return nil, fmt.Errorf("ablstat: derived output variable %s: %v", name, err)
		}
		o.exprs[name] = expr
		o.derived = append(o.derived, name)
	}
	sort.Strings(o.derived)
	return o, nil
}

// Output returns a StatsFunc that appends one record per tracked field to
// the templated statistics files.
func (o *Outputter) Output() StatsFunc {
	return func(c *Controller) error {
		for _, field := range outputFields {
			if err := o.writeField(c, field); err != nil {
				return err
			}
		}
		return nil
	}
}

func (o *Outputter) writeField(c *Controller, field string) error {
	f, fresh, err := openAppend(o.cfg.OutputFile(field))
	if err != nil {
		return fmt.Errorf("ablstat: opening statistics file for field %s: %v", field, err)
	}
	defer f.Close()

	if fresh {
		if field == "T" {
			fmt.Fprintf(f, "# z mean\n")
		} else {
			cols := append(append([]string{"z", "mean"}, varColumns...), tauColumns...)
			cols = append(cols, o.derived...)
			fmt.Fprintf(f, "# %s\n", strings.Join(cols, " "))
		}
	}
	fmt.Fprintf(f, "# step %d time %g utau %.8e\n", c.step, c.time, c.utau)

	if field == "T" {
		for h, z := range c.cfg.TemperatureHeights {
			fmt.Fprintf(f, "%.6e %.6e\n", z, c.tMean.Get(h))
		}
		return nil
	}

	comp := map[string]int{"Ux": 0, "Uy": 1, "Uz": 2}[field]
	for h, z := range c.cfg.VelocityHeights {
		fmt.Fprintf(f, "%.6e %.6e", z, c.uMean.Get(h, comp))
		for k := 0; k < nVarComponents; k++ {
			fmt.Fprintf(f, " %.6e", c.varCov.Get(h, k))
		}
		for k := 0; k < 6; k++ {
			fmt.Fprintf(f, " %.6e", c.sfsMean.Get(h, k))
		}
		for _, name := range o.derived {
			val, err := o.evaluate(c, name, h, z)
			if err != nil {
				return err
			}
			fmt.Fprintf(f, " %.6e", val)
		}
		fmt.Fprintln(f)
	}
	return nil
}

// evaluate computes the derived output variable name at velocity height
// index h.
func (o *Outputter) evaluate(c *Controller, name string, h int, z float64) (float64, error) {
	params := map[string]interface{}{
		"z":    z,
		"u":    c.uMean.Get(h, 0),
		"v":    c.uMean.Get(h, 1),
		"w":    c.uMean.Get(h, 2),
		"utau": c.utau,
	}
	for k, col := range varColumns {
		params[col] = c.varCov.Get(h, k)
	}
	for k, col := range tauColumns {
		params[col] = c.sfsMean.Get(h, k)
	}
	result, err := o.exprs[name].Evaluate(params)
	if err != nil {
		return 0, fmt.Errorf("ablstat: evaluating derived output variable %s: %v", name, err)
	}
	val, ok := result.(float64)
	if !ok {
		return 0, fmt.Errorf("ablstat: derived output variable %s evaluated to %T, not a number", name, result)
	}
	return val, nil
}

// openAppend opens the file at path for appending, creating it if needed,
// and reports whether it was freshly created (or empty). Opening is
// retried with exponential backoff to ride out transient shared-filesystem
// failures.
func openAppend(path string) (f *os.File, fresh bool, err error) {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 30 * time.Second
	err = backoff.RetryNotify(
		func() error {
			var err error
			f, err = os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
			return err
		},
		b,
		func(err error, d time.Duration) {
			log.Printf("%v: retrying in %v", err, d)
		},
	)
	if err != nil {
		return nil, false, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, false, err
	}
	return f, fi.Size() == 0, nil
}

// A Recorder accumulates a statistics snapshot per output step and writes
// the collected time history to a NetCDF file when the simulation is torn
// down.
type Recorder struct {
	path  string
	snaps []*Snapshot
}

// NewRecorder creates a Recorder that will write to the NetCDF file at
// path.
func NewRecorder(path string) *Recorder {
	return &Recorder{path: path}
}

// Record returns a StatsFunc that appends the controller's current
// statistics to the time history.
func (r *Recorder) Record() StatsFunc {
	return func(c *Controller) error {
		s, err := c.Snapshot()
		if err != nil {
			return err
		}
		r.snaps = append(r.snaps, s)
		return nil
	}
}

// Write returns a StatsFunc that writes the accumulated time history to
// the NetCDF file. It is intended to run from the controller's cleanup
// functions; it does nothing if no records were collected.
func (r *Recorder) Write() StatsFunc {
	return func(c *Controller) error {
		if len(r.snaps) == 0 {
			return nil
		}
		return r.write()
	}
}

func (r *Recorder) write() error {
	first := r.snaps[0]
	nRec := len(r.snaps)
	nZ := len(first.VelocityHeights)
	nZT := len(first.TemperatureHeights)

	h := cdf.NewHeader([]string{"rec", "z", "zT"}, []int{nRec, nZ, nZT})
	h.AddVariable("z", []string{"z"}, []float64{0.})
	h.AddAttribute("z", "units", "m")
	h.AddAttribute("z", "description", "velocity statistics heights above terrain")
	h.AddVariable("zT", []string{"zT"}, []float64{0.})
	h.AddAttribute("zT", "units", "m")
	h.AddAttribute("zT", "description", "temperature statistics heights above terrain")
	h.AddVariable("time", []string{"rec"}, []float64{0.})
	h.AddAttribute("time", "units", "s")
	h.AddVariable("step", []string{"rec"}, []int32{0})
	h.AddVariable("utau", []string{"rec"}, []float64{0.})
	h.AddAttribute("utau", "units", "m s-1")
	h.AddAttribute("utau", "description", "friction velocity")
	for _, v := range []string{"u_mean", "v_mean", "w_mean"} {
		h.AddVariable(v, []string{"rec", "z"}, []float64{0.})
		h.AddAttribute(v, "units", "m s-1")
	}
	for _, v := range varColumns {
		h.AddVariable(v, []string{"rec", "z"}, []float64{0.})
		if v == "TT" {
			h.AddAttribute(v, "units", "K2")
		} else if v == "wT" {
			h.AddAttribute(v, "units", "K m s-1")
		} else {
			h.AddAttribute(v, "units", "m2 s-2")
		}
	}
	for _, v := range tauColumns {
		h.AddVariable(v, []string{"rec", "z"}, []float64{0.})
		h.AddAttribute(v, "units", "m2 s-2")
	}
	h.AddVariable("T_mean", []string{"rec", "zT"}, []float64{0.})
	h.AddAttribute("T_mean", "units", "K")
	h.Define()
	for _, err := range h.Check() {
		return fmt.Errorf("ablstat: creating statistics NetCDF file: %v", err)
	}

	ff, err := os.Create(r.path)
	if err != nil {
		return fmt.Errorf("ablstat: creating statistics NetCDF file: %v", err)
	}
	defer ff.Close()
	f, err := cdf.Create(ff, h)
	if err != nil {
		return fmt.Errorf("ablstat: creating statistics NetCDF file: %v", err)
	}

	put := func(v string, end []int, data interface{}) {
		if err != nil {
			return
		}
		if _, werr := f.Writer(v, nil, end).Write(data); werr != nil {
			err = fmt.Errorf("ablstat: writing variable %s to NetCDF file: %v", v, werr)
		}
	}

	put("z", []int{nZ}, first.VelocityHeights)
	put("zT", []int{nZT}, first.TemperatureHeights)

	times := make([]float64, nRec)
	steps := make([]int32, nRec)
	utaus := make([]float64, nRec)
	for i, s := range r.snaps {
		times[i] = s.Time
		steps[i] = int32(s.Step)
		utaus[i] = s.Utau
	}
	put("time", []int{nRec}, times)
	put("step", []int{nRec}, steps)
	put("utau", []int{nRec}, utaus)

	for comp, v := range []string{"u_mean", "v_mean", "w_mean"} {
		data := make([]float64, nRec*nZ)
		for i, s := range r.snaps {
			for hh := 0; hh < nZ; hh++ {
				data[i*nZ+hh] = s.UMean.Get(hh, comp)
			}
		}
		put(v, []int{nRec, nZ}, data)
	}
	for k, v := range varColumns {
		data := make([]float64, nRec*nZ)
		for i, s := range r.snaps {
			for hh := 0; hh < nZ; hh++ {
				data[i*nZ+hh] = s.VarCov.Get(hh, k)
			}
		}
		put(v, []int{nRec, nZ}, data)
	}
	for k, v := range tauColumns {
		data := make([]float64, nRec*nZ)
		for i, s := range r.snaps {
			for hh := 0; hh < nZ; hh++ {
				data[i*nZ+hh] = s.SFSMean.Get(hh, k)
			}
		}
		put(v, []int{nRec, nZ}, data)
	}
	tdata := make([]float64, nRec*nZT)
	for i, s := range r.snaps {
		for hh := 0; hh < nZT; hh++ {
			tdata[i*nZT+hh] = s.TMean.Get(hh)
		}
	}
	put("T_mean", []int{nRec, nZT}, tdata)

	return err
}

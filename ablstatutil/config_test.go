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
	"os"
	"reflect"
	"strings"
	"testing"

	"github.com/ctessum/geom"
	"github.com/lnashier/viper"
	"github.com/spatialmodel/ablstat"
)

func TestStatsConfig(t *testing.T) {
	f, err := os.Create("tmp_config.toml")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove("tmp_config.toml")
	os.Setenv("ABLSTAT_TEST_PART", "fluid")
	f.WriteString(`
LogFile = "test.log"

[Stats]
SearchMethod = "exhaustive"
SearchTolerance = 0.5
SearchExpansionFactor = 2.0
FromParts = ["$ABLSTAT_TEST_PART", "buffer"]
PartNameTemplate = "probe_%g"
VelocityHeights = [10.0, 50.0, 90.0]
TemperatureHeights = [30, 60]
OutputFrequency = 5
OutputFileTemplate = "stats_%s.dat"
NetCDFOutput = "stats.nc"
Dt = 0.25
GeneratePlanes = true
PlaneVertices = [0.0, 0.0, 100.0, 0.0, 100.0, 100.0, 0.0, 100.0]
PlaneNx = 6
PlaneNy = 4

[Stats.OutputVariables]
TKE = "0.5*(uu+vv+ww)"
`)
	f.Close()

	v := viper.New()
	v.SetConfigFile("tmp_config.toml")
	if err := v.ReadInConfig(); err != nil {
		t.Fatal(err)
	}
	c, err := StatsConfig(v)
	if err != nil {
		t.Fatal(err)
	}

	if c.SearchMethod != "exhaustive" {
		t.Errorf("want search method exhaustive but have %q", c.SearchMethod)
	}
	if c.SearchTolerance != 0.5 {
		t.Errorf("want tolerance 0.5 but have %g", c.SearchTolerance)
	}
	if c.SearchExpansionFactor != 2 {
		t.Errorf("want expansion factor 2 but have %g", c.SearchExpansionFactor)
	}
	if want := []string{"fluid", "buffer"}; !reflect.DeepEqual(c.FromParts, want) {
		t.Errorf("want source parts %v but have %v", want, c.FromParts)
	}
	if c.PartNameTemplate != "probe_%g" {
		t.Errorf("want part template probe_%%g but have %q", c.PartNameTemplate)
	}
	if want := []float64{10, 50, 90}; !reflect.DeepEqual(c.VelocityHeights, want) {
		t.Errorf("want velocity heights %v but have %v", want, c.VelocityHeights)
	}
	if want := []float64{30, 60}; !reflect.DeepEqual(c.TemperatureHeights, want) {
		t.Errorf("want temperature heights %v but have %v", want, c.TemperatureHeights)
	}
	if c.OutputFrequency != 5 {
		t.Errorf("want output frequency 5 but have %d", c.OutputFrequency)
	}
	if c.OutputFileTemplate != "stats_%s.dat" {
		t.Errorf("want output template stats_%%s.dat but have %q", c.OutputFileTemplate)
	}
	if want := map[string]string{"TKE": "0.5*(uu+vv+ww)"}; !reflect.DeepEqual(c.OutputVariables, want) {
		t.Errorf("want output variables %v but have %v", want, c.OutputVariables)
	}
	if c.NetCDFOutput != "stats.nc" {
		t.Errorf("want NetCDF output stats.nc but have %q", c.NetCDFOutput)
	}
	if c.Dt != 0.25 {
		t.Errorf("want time step 0.25 but have %g", c.Dt)
	}
	wantPlanes := ablstat.GeneratedPlanes{
		Vertices: [4]geom.Point{{X: 0, Y: 0}, {X: 100, Y: 0}, {X: 100, Y: 100}, {X: 0, Y: 100}},
		Nx:       6,
		Ny:       4,
	}
	if !reflect.DeepEqual(c.Planes, wantPlanes) {
		t.Errorf("want planes %+v but have %+v", wantPlanes, c.Planes)
	}
}

func TestStatsConfigErrors(t *testing.T) {
	t.Run("velocity heights", func(t *testing.T) {
		v := viper.New()
		v.Set("Stats.VelocityHeights", "not json")
		_, err := StatsConfig(v)
		if err == nil || !strings.Contains(err.Error(), "Stats.VelocityHeights") {
			t.Errorf("want a Stats.VelocityHeights error but have %v", err)
		}
	})
	t.Run("plane vertices", func(t *testing.T) {
		v := viper.New()
		v.Set("Stats.VelocityHeights", []float64{10})
		v.Set("Stats.TemperatureHeights", []float64{10})
		v.Set("Stats.GeneratePlanes", true)
		v.Set("Stats.PlaneVertices", []float64{0, 0, 1, 1})
		_, err := StatsConfig(v)
		if err == nil || !strings.Contains(err.Error(), "8 numbers") {
			t.Errorf("want a corner count error but have %v", err)
		}
	})
	t.Run("output directory", func(t *testing.T) {
		v := viper.New()
		v.Set("Stats.VelocityHeights", []float64{10})
		v.Set("Stats.TemperatureHeights", []float64{10})
		v.Set("Stats.OutputFileTemplate", "no_such_dir/stats_%s.dat")
		_, err := StatsConfig(v)
		if err == nil || !strings.Contains(err.Error(), "directory doesn't exist") {
			t.Errorf("want a missing directory error but have %v", err)
		}
	})
}

func TestToFloat64Slice(t *testing.T) {
	have, err := toFloat64SliceE([]float64{1, 2.5})
	if err != nil {
		t.Fatal(err)
	}
	if want := []float64{1, 2.5}; !reflect.DeepEqual(have, want) {
		t.Errorf("want %v but have %v", want, have)
	}

	have, err = toFloat64SliceE([]interface{}{int64(1), 2.5, "3.5"})
	if err != nil {
		t.Fatal(err)
	}
	if want := []float64{1, 2.5, 3.5}; !reflect.DeepEqual(have, want) {
		t.Errorf("want %v but have %v", want, have)
	}

	have, err = toFloat64SliceE("[10, 50, 90]")
	if err != nil {
		t.Fatal(err)
	}
	if want := []float64{10, 50, 90}; !reflect.DeepEqual(have, want) {
		t.Errorf("want %v but have %v", want, have)
	}

	if _, err := toFloat64SliceE("[10, 50"); err == nil {
		t.Error("malformed JSON: want error but have nil")
	}
	if _, err := toFloat64SliceE([]interface{}{"abc"}); err == nil {
		t.Error("uncastable element: want error but have nil")
	}
	if _, err := toFloat64SliceE(42); err == nil {
		t.Error("unsupported type: want error but have nil")
	}
}

func TestPlaneFootprint(t *testing.T) {
	footprint, err := planeFootprint([]float64{0, 0, 400, 0, 400, 400, 0, 400})
	if err != nil {
		t.Fatal(err)
	}
	want := [4]geom.Point{{X: 0, Y: 0}, {X: 400, Y: 0}, {X: 400, Y: 400}, {X: 0, Y: 400}}
	if footprint != want {
		t.Errorf("want %v but have %v", want, footprint)
	}

	if _, err := planeFootprint([]float64{0, 0, 1, 1, 2, 2}); err == nil {
		t.Error("6 numbers: want error but have nil")
	}
}

func TestGetStringMapString(t *testing.T) {
	v := viper.New()
	v.Set("vars", map[string]string{"TKE": "0.5*(uu+vv+ww)"})
	want := map[string]string{"TKE": "0.5*(uu+vv+ww)"}
	if have := GetStringMapString("vars", v); !reflect.DeepEqual(have, want) {
		t.Errorf("want %v but have %v", want, have)
	}

	// A command-line argument arrives as a JSON object.
	v.Set("vars", `{"TKE": "0.5*(uu+vv+ww)"}`)
	if have := GetStringMapString("vars", v); !reflect.DeepEqual(have, want) {
		t.Errorf("want %v but have %v", want, have)
	}

	v.Set("vars", map[string]interface{}{"TKE": "0.5*(uu+vv+ww)"})
	if have := GetStringMapString("vars", v); !reflect.DeepEqual(have, want) {
		t.Errorf("want %v but have %v", want, have)
	}
}

func TestExpandOutputVars(t *testing.T) {
	os.Setenv("ABLSTAT_TEST_COMP", "uu")
	have := expandOutputVars(map[string]string{
		"TKE": "0.5*($ABLSTAT_TEST_COMP\n+vv\r\n+ww)",
	})
	if want := "0.5*(uu +vv +ww)"; have["TKE"] != want {
		t.Errorf("want %q but have %q", want, have["TKE"])
	}
}

func TestCheckOutputTemplate(t *testing.T) {
	if have, err := checkOutputTemplate(""); err != nil || have != "" {
		t.Errorf("empty template: want no error and an empty result but have %q, %v", have, err)
	}
	if _, err := checkOutputTemplate("stats_%s.dat"); err != nil {
		t.Errorf("template in the working directory: %v", err)
	}
	if _, err := checkOutputTemplate("no_such_dir/stats_%s.dat"); err == nil {
		t.Error("missing directory: want error but have nil")
	}
}

func TestCheckLogFile(t *testing.T) {
	if have := checkLogFile(""); have != "ablstat.log" {
		t.Errorf("want ablstat.log but have %q", have)
	}
	os.Setenv("ABLSTAT_TEST_LOGDIR", "logs")
	if have := checkLogFile("$ABLSTAT_TEST_LOGDIR/run.log"); have != "logs/run.log" {
		t.Errorf("want logs/run.log but have %q", have)
	}
}

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
	"reflect"
	"strings"
	"testing"

	"github.com/BurntSushi/toml"
	"github.com/ctessum/geom"
	"github.com/spatialmodel/ablstat"
)

// TestWebConfig keeps the example configuration file decodable by the
// ablstatweb command.
func TestWebConfig(t *testing.T) {
	var c WebConfig
	if _, err := toml.DecodeFile("../configExample.toml", &c); err != nil {
		t.Fatal(err)
	}
	cfg, err := c.StatsConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.SearchMethod != "rtree" {
		t.Errorf("want search method rtree but have %q", cfg.SearchMethod)
	}
	if want := []float64{20, 40, 60, 80, 100}; !reflect.DeepEqual(cfg.VelocityHeights, want) {
		t.Errorf("want velocity heights %v but have %v", want, cfg.VelocityHeights)
	}
	if want := []string{"fluid"}; !reflect.DeepEqual(cfg.FromParts, want) {
		t.Errorf("want source parts %v but have %v", want, cfg.FromParts)
	}
	planes, ok := cfg.Planes.(ablstat.GeneratedPlanes)
	if !ok {
		t.Fatalf("want generated planes but have %T", cfg.Planes)
	}
	if planes.Nx != 24 || planes.Ny != 24 {
		t.Errorf("want a 24x24 plane but have %dx%d", planes.Nx, planes.Ny)
	}
	if want := (geom.Point{X: 400, Y: 400}); planes.Vertices[2] != want {
		t.Errorf("want corner %v but have %v", want, planes.Vertices[2])
	}
	if _, ok := cfg.OutputVariables["TKE"]; !ok {
		t.Error("the TKE output variable is missing")
	}
}

func TestWebConfigErrors(t *testing.T) {
	var c WebConfig
	if _, err := toml.Decode(`
[Stats]
GeneratePlanes = true
PlaneVertices = [0.0, 0.0, 1.0, 1.0]
`, &c); err != nil {
		t.Fatal(err)
	}
	if _, err := c.StatsConfig(); err == nil || !strings.Contains(err.Error(), "8 numbers") {
		t.Errorf("want a corner count error but have %v", err)
	}

	c = WebConfig{}
	c.Stats.OutputFileTemplate = "no_such_dir/stats_%s.dat"
	if _, err := c.StatsConfig(); err == nil || !strings.Contains(err.Error(), "directory doesn't exist") {
		t.Errorf("want a missing directory error but have %v", err)
	}
}

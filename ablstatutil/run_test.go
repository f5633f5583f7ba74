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
	"bytes"
	"encoding/json"
	"io/ioutil"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ctessum/geom"
	"github.com/spatialmodel/ablstat"
	"github.com/spf13/cobra"
)

func demoConfig(dir string) *ablstat.Config {
	return &ablstat.Config{
		SearchMethod:          "rtree",
		SearchTolerance:       0.0001,
		SearchExpansionFactor: 1.5,
		FromParts:             []string{"fluid"},
		PartNameTemplate:      "zplane_%.1f",
		VelocityHeights:       []float64{20, 40, 60, 80, 100},
		TemperatureHeights:    []float64{20, 60, 100},
		OutputFrequency:       1,
		OutputFileTemplate:    filepath.Join(dir, "demo_%s.dat"),
		OutputVariables:       map[string]string{"TKE": "0.5*(uu+vv+ww)"},
		NetCDFOutput:          filepath.Join(dir, "demo.nc"),
		Dt:                    0.5,
		Planes: ablstat.GeneratedPlanes{
			Vertices: [4]geom.Point{{X: 0, Y: 0}, {X: 400, Y: 0}, {X: 400, Y: 400}, {X: 0, Y: 400}},
			Nx:       12,
			Ny:       12,
		},
	}
}

func TestRunDemonstration(t *testing.T) {
	dir, err := ioutil.TempDir("", "ablstatrun")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	srv := ablstat.NewStatsServer()
	cmd := &cobra.Command{}
	cmd.SetOutput(new(bytes.Buffer))
	if err := Run(cmd, filepath.Join(dir, "run.log"), 4, 3, demoConfig(dir), srv); err != nil {
		t.Fatal(err)
	}

	// The server was kept up to date through the post-step functions and
	// still serves the final statistics after the controllers are torn
	// down.
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stats", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("want status %d but have %d: %s", http.StatusOK, w.Code, w.Body.String())
	}
	var snap ablstat.Snapshot
	if err := json.NewDecoder(w.Body).Decode(&snap); err != nil {
		t.Fatal(err)
	}
	if snap.Step != 4 {
		t.Errorf("want step 4 but have %d", snap.Step)
	}

	// The imposed friction velocity is recovered from the constant
	// sub-filter stress; the resolved shear stress of the synthetic flow
	// averages to zero.
	if math.Abs(snap.Utau-demoUtau) > 1e-6 {
		t.Errorf("want friction velocity %g but have %g", demoUtau, snap.Utau)
	}
	for i, z := range snap.VelocityHeights {
		wantU := demoUtau / demoKappa * math.Log((z+demoZ0)/demoZ0)
		if have := snap.UMean.Get(i, 0); math.Abs(have-wantU) > 1e-6 {
			t.Errorf("want mean streamwise velocity %g at %g m but have %g", wantU, z, have)
		}
		for j, name := range []string{"cross-stream", "vertical"} {
			if have := snap.UMean.Get(i, j+1); math.Abs(have) > 1e-6 {
				t.Errorf("want zero mean %s velocity at %g m but have %g", name, z, have)
			}
		}
	}
	for i, z := range snap.TemperatureHeights {
		wantT := demoTheta0 + demoGamma*z
		if have := snap.TMean.Get(i); math.Abs(have-wantT) > 1e-6 {
			t.Errorf("want mean temperature %g at %g m but have %g", wantT, z, have)
		}
	}

	for _, name := range []string{"demo_Ux.dat", "demo_T.dat", "demo.nc"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("missing output file %s: %v", name, err)
		}
	}
	b, err := ioutil.ReadFile(filepath.Join(dir, "run.log"))
	if err != nil {
		t.Fatal(err)
	}
	for _, report := range []string{"Friction velocity", "Obukhov length", "Log-law fit", "Elapsed time"} {
		if !strings.Contains(string(b), report) {
			t.Errorf("log file is missing the %q report", report)
		}
	}
}

func TestRunRequiresGeneratedPlanes(t *testing.T) {
	dir, err := ioutil.TempDir("", "ablstatrun")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	cfg := demoConfig(dir)
	cfg.Planes = ablstat.NamedPlanes{}
	cmd := &cobra.Command{}
	cmd.SetOutput(new(bytes.Buffer))
	err = Run(cmd, filepath.Join(dir, "run.log"), 1, 1, cfg, nil)
	if err == nil || !strings.Contains(err.Error(), "generated sampling planes") {
		t.Errorf("want a generated-planes error but have %v", err)
	}
}

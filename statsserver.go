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
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// A StatsServer serves the most recent planar statistics over HTTP:
// vertical profile plots at /profile/{field} and the full statistics
// record as JSON at /stats. It works from a snapshot refreshed by its
// Update function, so requests never race the solver loop.
type StatsServer struct {
	mux *http.ServeMux

	// Log logs served requests.
	Log logrus.FieldLogger

	mx   sync.RWMutex
	snap *Snapshot
}

// NewStatsServer creates a statistics server. Wire its Update function
// into the controller's post-step functions to keep it current.
func NewStatsServer() *StatsServer {
	s := new(StatsServer)
	s.Log = logrus.StandardLogger()
	s.mux = http.NewServeMux()
	s.mux.HandleFunc("/profile/", s.profileHandler)
	s.mux.HandleFunc("/stats", s.statsHandler)
	s.mux.HandleFunc("/", s.indexHandler)
	return s
}

// Update returns a StatsFunc that refreshes the snapshot the server
// serves from.
func (s *StatsServer) Update() StatsFunc {
	return func(c *Controller) error {
		snap, err := c.Snapshot()
		if err != nil {
			return err
		}
		s.mx.Lock()
		s.snap = snap
		s.mx.Unlock()
		return nil
	}
}

func (s *StatsServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Log.WithFields(logrus.Fields{
		"url":  r.URL.String(),
		"addr": r.RemoteAddr,
	}).Info("ablstat statistics request")
	s.mux.ServeHTTP(w, r)
}

func (s *StatsServer) snapshot() *Snapshot {
	s.mx.RLock()
	defer s.mx.RUnlock()
	return s.snap
}

// profileFields are the fields the server can plot, in the order they are
// listed on the index page.
var profileFields = []string{
	"Ux", "Uy", "Uz", "T",
	"uu", "vv", "ww", "uv", "uw", "vw", "www", "TT", "wT",
	"tau11", "tau12", "tau13", "tau22", "tau23", "tau33",
}

// profile returns the height coordinates and values for one plottable
// field.
func (snap *Snapshot) profile(field string) (heights, vals []float64, err error) {
	switch field {
	case "T":
		heights = snap.TemperatureHeights
		vals = make([]float64, len(heights))
		for h := range heights {
			vals[h] = snap.TMean.Get(h)
		}
		return heights, vals, nil
	case "Ux", "Uy", "Uz":
		comp := map[string]int{"Ux": 0, "Uy": 1, "Uz": 2}[field]
		heights = snap.VelocityHeights
		vals = make([]float64, len(heights))
		for h := range heights {
			vals[h] = snap.UMean.Get(h, comp)
		}
		return heights, vals, nil
	}
	for k, col := range varColumns {
		if field == col {
			heights = snap.VelocityHeights
			vals = make([]float64, len(heights))
			for h := range heights {
				vals[h] = snap.VarCov.Get(h, k)
			}
			return heights, vals, nil
		}
	}
	for k, col := range tauColumns {
		if field == col {
			heights = snap.VelocityHeights
			vals = make([]float64, len(heights))
			for h := range heights {
				vals[h] = snap.SFSMean.Get(h, k)
			}
			return heights, vals, nil
		}
	}
	return nil, nil, fmt.Errorf("ablstat: unknown profile field %q", field)
}

func (s *StatsServer) profileHandler(w http.ResponseWriter, r *http.Request) {
	field := strings.TrimSuffix(r.URL.Path[len("/profile/"):], "/")
	snap := s.snapshot()
	if snap == nil {
		http.Error(w, "no statistics have been computed yet", http.StatusServiceUnavailable)
		return
	}
	heights, vals, err := snap.profile(field)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	p, err := plot.New()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	p.Title.Text = fmt.Sprintf("%v profile at step %d", field, snap.Step)
	p.X.Label.Text = field
	p.Y.Label.Text = "Height above terrain (m)"
	xy := make(plotter.XYs, len(heights))
	for i, h := range heights {
		xy[i].X = vals[i]
		xy[i].Y = h
	}
	err = plotutil.AddLinePoints(p, xy)
	p.Y.Min = 0.
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	ww, hh := 3.*vg.Inch, 3.*vg.Inch
	wt, err := p.WriterTo(ww, hh, "png")
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	_, err = wt.WriteTo(w)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}

func (s *StatsServer) statsHandler(w http.ResponseWriter, r *http.Request) {
	snap := s.snapshot()
	if snap == nil {
		http.Error(w, "no statistics have been computed yet", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	e := json.NewEncoder(w)
	e.SetIndent("", "  ")
	if err := e.Encode(snap); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *StatsServer) indexHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html")
	fmt.Fprint(w, "<html><head><title>ABLstat</title></head><body><h1>ABLstat</h1><ul>")
	fmt.Fprint(w, `<li><a href="/stats">stats (JSON)</a></li>`)
	for _, f := range profileFields {
		fmt.Fprintf(w, `<li><a href="/profile/%s">%s profile</a></li>`, f, f)
	}
	fmt.Fprint(w, "</ul></body></html>")
}

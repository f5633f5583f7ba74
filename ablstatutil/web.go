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

	"github.com/spatialmodel/ablstat"
)

// WebConfig holds the configuration of the ablstatweb statistics server.
// Its Stats section has the same layout as the [Stats] table of the
// command-line configuration file, so the two programs can share one
// configuration file.
type WebConfig struct {
	// Address is the address the statistics server listens on.
	Address string

	// LogFile is the path to the desired logfile location.
	LogFile string

	// Steps specifies the number of simulation steps the demonstration
	// channel flow takes.
	Steps int

	// Partitions specifies the number of mesh partitions the
	// demonstration runs on.
	Partitions int

	// Stats mirrors the Stats.* configuration options; see the run
	// command documentation for the meaning of each field.
	Stats struct {
		SearchMethod          string
		SearchTolerance       float64
		SearchExpansionFactor float64
		FromParts             []string
		PartNameTemplate      string
		VelocityHeights       []float64
		TemperatureHeights    []float64
		OutputFrequency       int
		OutputFileTemplate    string
		OutputVariables       map[string]string
		NetCDFOutput          string
		Dt                    float64
		GeneratePlanes        bool
		PlaneVertices         []float64
		PlaneNx               int
		PlaneNy               int
	}
}

// StatsConfig converts the web server configuration into a statistics
// configuration, expanding any environment variables.
func (c *WebConfig) StatsConfig() (*ablstat.Config, error) {
	outputTemplate, err := checkOutputTemplate(c.Stats.OutputFileTemplate)
	if err != nil {
		return nil, err
	}
	o := &ablstat.Config{
		SearchMethod:          c.Stats.SearchMethod,
		SearchTolerance:       c.Stats.SearchTolerance,
		SearchExpansionFactor: c.Stats.SearchExpansionFactor,
		FromParts:             expandStringSlice(c.Stats.FromParts),
		PartNameTemplate:      c.Stats.PartNameTemplate,
		VelocityHeights:       c.Stats.VelocityHeights,
		TemperatureHeights:    c.Stats.TemperatureHeights,
		OutputFrequency:       c.Stats.OutputFrequency,
		OutputFileTemplate:    outputTemplate,
		OutputVariables:       expandOutputVars(c.Stats.OutputVariables),
		NetCDFOutput:          os.ExpandEnv(c.Stats.NetCDFOutput),
		Dt:                    c.Stats.Dt,
	}
	if c.Stats.GeneratePlanes {
		footprint, err := planeFootprint(c.Stats.PlaneVertices)
		if err != nil {
			return nil, err
		}
		o.Planes = ablstat.GeneratedPlanes{
			Vertices: footprint,
			Nx:       c.Stats.PlaneNx,
			Ny:       c.Stats.PlaneNy,
		}
	}
	return o, nil
}

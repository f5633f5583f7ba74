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
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ctessum/geom"
	"github.com/lnashier/viper"
	"github.com/spatialmodel/ablstat"
	"github.com/spf13/cast"
)

// StatsConfig unmarshals a viper configuration for planar statistics
// collection.
func StatsConfig(cfg *viper.Viper) (*ablstat.Config, error) {
	velHeights, err := toFloat64SliceE(cfg.Get("Stats.VelocityHeights"))
	if err != nil {
		return nil, fmt.Errorf("Stats.VelocityHeights: %v", err)
	}
	tempHeights, err := toFloat64SliceE(cfg.Get("Stats.TemperatureHeights"))
	if err != nil {
		return nil, fmt.Errorf("Stats.TemperatureHeights: %v", err)
	}
	outputTemplate, err := checkOutputTemplate(cfg.GetString("Stats.OutputFileTemplate"))
	if err != nil {
		return nil, err
	}

	c := ablstat.Config{
		SearchMethod:          cfg.GetString("Stats.SearchMethod"),
		SearchTolerance:       cfg.GetFloat64("Stats.SearchTolerance"),
		SearchExpansionFactor: cfg.GetFloat64("Stats.SearchExpansionFactor"),
		FromParts:             expandStringSlice(cfg.GetStringSlice("Stats.FromParts")),
		PartNameTemplate:      cfg.GetString("Stats.PartNameTemplate"),
		VelocityHeights:       velHeights,
		TemperatureHeights:    tempHeights,
		OutputFrequency:       cfg.GetInt("Stats.OutputFrequency"),
		OutputFileTemplate:    outputTemplate,
		OutputVariables:       expandOutputVars(GetStringMapString("Stats.OutputVariables", cfg)),
		NetCDFOutput:          os.ExpandEnv(cfg.GetString("Stats.NetCDFOutput")),
		Dt:                    cfg.GetFloat64("Stats.Dt"),
	}

	if cfg.GetBool("Stats.GeneratePlanes") {
		verts, err := toFloat64SliceE(cfg.Get("Stats.PlaneVertices"))
		if err != nil {
			return nil, fmt.Errorf("Stats.PlaneVertices: %v", err)
		}
		footprint, err := planeFootprint(verts)
		if err != nil {
			return nil, err
		}
		c.Planes = ablstat.GeneratedPlanes{
			Vertices: footprint,
			Nx:       cfg.GetInt("Stats.PlaneNx"),
			Ny:       cfg.GetInt("Stats.PlaneNy"),
		}
	}

	return &c, nil
}

// planeFootprint converts a flat list of corner coordinates
// (x0,y0,...,x3,y3) into the footprint corners of a generated plane.
func planeFootprint(verts []float64) ([4]geom.Point, error) {
	var footprint [4]geom.Point
	if len(verts) != 8 {
		return footprint, fmt.Errorf("Stats.PlaneVertices must hold 4 corners "+
			"as 8 numbers (x0,y0,...,x3,y3) but holds %d numbers", len(verts))
	}
	for i := range footprint {
		footprint[i] = geom.Point{X: verts[2*i], Y: verts[2*i+1]}
	}
	return footprint, nil
}

// expandOutputVars removes end lines and expands environment variables in
// the derived output variable expressions.
func expandOutputVars(vars map[string]string) map[string]string {
	for k, v := range vars {
		v = strings.Replace(v, "\r\n", " ", -1)
		v = strings.Replace(v, "\n", " ", -1)
		vars[os.ExpandEnv(k)] = os.ExpandEnv(v)
	}
	return vars
}

// expandStringSlice expands the environment variables in a slice of strings.
func expandStringSlice(s []string) []string {
	for i := 0; i < len(s); i++ {
		s[i] = os.ExpandEnv(s[i])
	}
	return s
}

// checkOutputTemplate makes sure that the directory the statistics files
// will be written to exists, and expands any environment variables. An
// empty template is allowed and disables text output.
func checkOutputTemplate(f string) (string, error) {
	if f == "" {
		return "", nil
	}
	f = os.ExpandEnv(f)
	outdir := filepath.Dir(f)
	if _, err := os.Stat(outdir); err != nil {
		return f, fmt.Errorf("ablstat: the Stats.OutputFileTemplate directory doesn't exist: %v", err)
	}
	return f, nil
}

// checkLogFile fills in a default value for the log file path if one
// isn't specified.
func checkLogFile(logFile string) string {
	if logFile == "" {
		logFile = "ablstat.log"
	}
	return os.ExpandEnv(logFile)
}

func toFloat64SliceE(s interface{}) ([]float64, error) {
	switch v := s.(type) {
	case []float64:
		return v, nil
	case []interface{}:
		o := make([]float64, len(v))
		for i, val := range v {
			f, err := cast.ToFloat64E(val)
			if err != nil {
				return nil, err
			}
			o[i] = f
		}
		return o, nil
	case string:
		var o []float64
		if err := json.Unmarshal([]byte(v), &o); err != nil {
			return nil, err
		}
		return o, nil
	default:
		return nil, fmt.Errorf("invalid type %T for float slice variable", s)
	}
}

// GetStringMapString returns a map[string]string from a viper configuration,
// accounting for the fact that it might be a json object if it was set
// from a command line argument.
func GetStringMapString(varName string, cfg *viper.Viper) map[string]string {
	i := cfg.Get(varName)
	switch i.(type) {
	case map[string]string:
		return i.(map[string]string)
	case map[string]interface{}:
		return cast.ToStringMapString(i)
	case string:
		b := bytes.NewBuffer(([]byte)(i.(string)))
		d := json.NewDecoder(b)
		o := make(map[string]string)
		if err := d.Decode(&o); err != nil {
			panic(err)
		}
		return o
	default:
		panic(fmt.Errorf("invalid type for getStringMapString variable %s: %#v", varName, i))
	}
}

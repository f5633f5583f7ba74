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

// Package ablstatutil wires the ablstat planar statistics core into a
// command-line interface and a viper-based configuration surface.
package ablstatutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/lnashier/viper"
	"github.com/spatialmodel/ablstat"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Cfg holds configuration information.
var Cfg *viper.Viper

var options []struct {
	name, usage, shorthand string
	defaultVal             interface{}
	flagsets               []*pflag.FlagSet
}

func init() {
	// Options are the configuration options available to ABLstat.
	options = []struct {
		name, usage, shorthand string
		defaultVal             interface{}
		flagsets               []*pflag.FlagSet
	}{
		{
			name: "config",
			usage: `
              config specifies the configuration file location.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "LogFile",
			usage: `
              LogFile is the path to the desired logfile location. It can include
              environment variables. If LogFile is left blank, the logfile will be
              saved as ablstat.log in the working directory.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), serveCmd.Flags()},
		},
		{
			name: "steps",
			usage: `
              steps specifies the number of simulation steps the demonstration
              channel flow takes.`,
			shorthand:  "n",
			defaultVal: 200,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), serveCmd.Flags()},
		},
		{
			name: "partitions",
			usage: `
              partitions specifies the number of mesh partitions the
              demonstration runs on. Each partition gets its own statistics
              controller and the partial plane sums are combined across them.`,
			defaultVal: 1,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), serveCmd.Flags()},
		},
		{
			name: "addr",
			usage: `
              addr specifies the address the statistics HTTP server listens on.`,
			defaultVal: ":8080",
			flagsets:   []*pflag.FlagSet{serveCmd.Flags()},
		},
		{
			name: "Stats.SearchMethod",
			usage: `
              Stats.SearchMethod selects the algorithm that pairs each sampling
              plane node with donor nodes in the source mesh. The available
              methods are 'rtree' (a spatial index) and 'exhaustive' (a linear
              scan, mainly useful for verification).`,
			defaultVal: "rtree",
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), serveCmd.Flags()},
		},
		{
			name: "Stats.SearchTolerance",
			usage: `
              Stats.SearchTolerance is the distance in meters within which donor
              nodes must be found on the first search attempt.`,
			defaultVal: 0.0001,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), serveCmd.Flags()},
		},
		{
			name: "Stats.SearchExpansionFactor",
			usage: `
              Stats.SearchExpansionFactor scales the donor search radius upward
              on each retry after an attempt that found no donors. It must be
              greater than 1.`,
			defaultVal: 1.5,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), serveCmd.Flags()},
		},
		{
			name: "Stats.FromParts",
			usage: `
              Stats.FromParts lists the names of the source mesh regions that
              hold the velocity, temperature, and sub-filter stress fields the
              statistics are drawn from.`,
			defaultVal: []string{"fluid"},
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), serveCmd.Flags()},
		},
		{
			name: "Stats.PartNameTemplate",
			usage: `
              Stats.PartNameTemplate derives the mesh part name of the sampling
              plane for each height. It must contain exactly one floating-point
              verb, for example 'zplane_%.1f'.`,
			defaultVal: "zplane_%.1f",
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), serveCmd.Flags()},
		},
		{
			name: "Stats.VelocityHeights",
			usage: `
              Stats.VelocityHeights lists the heights above the terrain in
              meters at which velocity and stress statistics are collected. The
              list must be strictly increasing.`,
			defaultVal: []float64{20, 40, 60, 80, 100},
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), serveCmd.Flags()},
		},
		{
			name: "Stats.TemperatureHeights",
			usage: `
              Stats.TemperatureHeights lists the heights above the terrain in
              meters at which temperature statistics are collected. The list
              must be strictly increasing and is independent of
              Stats.VelocityHeights.`,
			defaultVal: []float64{20, 60, 100},
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), serveCmd.Flags()},
		},
		{
			name: "Stats.OutputFrequency",
			usage: `
              Stats.OutputFrequency is the number of simulation steps between
              statistics output records. Zero means every step.`,
			defaultVal: 10,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), serveCmd.Flags()},
		},
		{
			name: "Stats.OutputFileTemplate",
			usage: `
              Stats.OutputFileTemplate names the per-field statistics files; the
              single %s verb receives the field name (Ux, Uy, Uz, T). It can
              include environment variables. If left blank, no text output is
              written.`,
			defaultVal: "abl_stats_%s.dat",
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), serveCmd.Flags()},
		},
		{
			name: "Stats.OutputVariables",
			usage: `
              Stats.OutputVariables maps names of derived output quantities to
              expressions over the per-height statistics variables (z, u, v, w,
              utau, the variance components, and the stress components). Derived
              quantities are appended as extra columns to the velocity output
              files.`,
			defaultVal: map[string]string{
				"TKE":       "0.5*(uu+vv+ww)",
				"ustar_res": "sqrt(sqrt(uw*uw+vw*vw))",
			},
			flagsets: []*pflag.FlagSet{runCmd.Flags(), serveCmd.Flags()},
		},
		{
			name: "Stats.NetCDFOutput",
			usage: `
              Stats.NetCDFOutput is the path of an optional NetCDF file holding
              the full statistics time history. It is written when the
              simulation is torn down. If left blank, no NetCDF file is
              written.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), serveCmd.Flags()},
		},
		{
			name: "Stats.Dt",
			usage: `
              Stats.Dt is the simulation time step in seconds, used to
              time-stamp output records.`,
			defaultVal: 0.5,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), serveCmd.Flags()},
		},
		{
			name: "Stats.GeneratePlanes",
			usage: `
              Stats.GeneratePlanes specifies whether the sampling planes should
              be synthesized from the Stats.PlaneVertices footprint instead of
              taken from parts that already exist in the mesh database. The
              demonstration commands require generated planes.`,
			defaultVal: true,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), serveCmd.Flags()},
		},
		{
			name: "Stats.PlaneVertices",
			usage: `
              Stats.PlaneVertices lists the four corners of the generated plane
              footprint as 8 numbers (x0,y0,...,x3,y3) in winding order, in
              meters.`,
			defaultVal: []float64{0, 0, 400, 0, 400, 400, 0, 400},
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), serveCmd.Flags()},
		},
		{
			name: "Stats.PlaneNx",
			usage: `
              Stats.PlaneNx is the number of generated sample nodes along the
              first footprint edge.`,
			defaultVal: 24,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), serveCmd.Flags()},
		},
		{
			name: "Stats.PlaneNy",
			usage: `
              Stats.PlaneNy is the number of generated sample nodes along the
              second footprint edge.`,
			defaultVal: 24,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), serveCmd.Flags()},
		},
	}

	Cfg = viper.New()

	// Set the prefix for configuration environment variables.
	Cfg.SetEnvPrefix("ABLSTAT")

	for _, option := range options {
		for i, set := range option.flagsets {
			if i != 0 { // We don't want to create the same flag twice.
				set.AddFlag(option.flagsets[0].Lookup(option.name))
				continue
			}
			switch option.defaultVal.(type) {
			case string:
				if option.shorthand == "" {
					set.String(option.name, option.defaultVal.(string), option.usage)
				} else {
					set.StringP(option.name, option.shorthand, option.defaultVal.(string), option.usage)
				}
			case []string:
				if option.shorthand == "" {
					set.StringSlice(option.name, option.defaultVal.([]string), option.usage)
				} else {
					set.StringSliceP(option.name, option.shorthand, option.defaultVal.([]string), option.usage)
				}
			case bool:
				if option.shorthand == "" {
					set.Bool(option.name, option.defaultVal.(bool), option.usage)
				} else {
					set.BoolP(option.name, option.shorthand, option.defaultVal.(bool), option.usage)
				}
			case int:
				if option.shorthand == "" {
					set.Int(option.name, option.defaultVal.(int), option.usage)
				} else {
					set.IntP(option.name, option.shorthand, option.defaultVal.(int), option.usage)
				}
			case float64:
				if option.shorthand == "" {
					set.Float64(option.name, option.defaultVal.(float64), option.usage)
				} else {
					set.Float64P(option.name, option.shorthand, option.defaultVal.(float64), option.usage)
				}
			case []float64, map[string]string:
				b := bytes.NewBuffer(nil)
				e := json.NewEncoder(b)
				e.Encode(option.defaultVal)
				s := string(b.Bytes())
				if option.shorthand == "" {
					set.String(option.name, s, option.usage)
				} else {
					set.StringP(option.name, option.shorthand, s, option.usage)
				}
			default:
				panic("invalid argument type")
			}
			Cfg.BindPFlag(option.name, set.Lookup(option.name))
		}
	}
}

func init() {
	// Link the commands together.
	Root.AddCommand(versionCmd)
	Root.AddCommand(runCmd)
	Root.AddCommand(serveCmd)
}

// setConfig finds and reads in the configuration file, if there is one.
func setConfig() error {
	if cfgpath := Cfg.GetString("config"); cfgpath != "" {
		Cfg.SetConfigFile(cfgpath)
		if err := Cfg.ReadInConfig(); err != nil {
			return fmt.Errorf("ablstat: problem reading configuration file: %v", err)
		}
	}
	return nil
}

// Root is the main command.
var Root = &cobra.Command{
	Use:   "ablstat",
	Short: "Planar statistics for atmospheric boundary layer simulations.",
	Long: `ABLstat collects horizontally averaged statistics from atmospheric
boundary layer simulations: mean velocity and temperature profiles, the
resolved variances and covariances, the sub-filter stresses, and the
friction velocity.

Refer to the subcommand documentation for configuration options and default
settings. Configuration can be changed by using a configuration file (and
providing the path to the file using the --config flag), by using
command-line arguments, or by setting environment variables in the format
'ABLSTAT_var' where 'var' is the name of the variable to be set. Many
configuration variables are additionally allowed to contain environment
variables within them.
Refer to https://github.com/spf13/viper for additional configuration information.`,
	DisableAutoGenTag: true,
	PersistentPreRunE: func(*cobra.Command, []string) error { return setConfig() },
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  "version prints the version number of this version of ABLstat.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("ABLstat v%s\n", ablstat.Version)
	},
	DisableAutoGenTag: true,
}

// runCmd runs the demonstration channel flow.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the demonstration channel flow.",
	Long: `run builds a synthetic logarithmic boundary layer on a block mesh,
attaches the planar statistics controller to it, steps the simulation, and
reports the friction velocity recovered from the computed mean profile.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := StatsConfig(Cfg)
		if err != nil {
			return err
		}
		return Run(cmd, checkLogFile(Cfg.GetString("LogFile")),
			Cfg.GetInt("steps"), Cfg.GetInt("partitions"), cfg, nil)
	},
	DisableAutoGenTag: true,
}

// serveCmd runs the demonstration channel flow and then serves its
// statistics over HTTP.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the demonstration and serve its statistics over HTTP.",
	Long: `serve runs the demonstration channel flow the same way the run command
does and then serves the collected statistics over HTTP: vertical profile
plots at /profile/{field} and the full statistics record as JSON at
/stats.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := StatsConfig(Cfg)
		if err != nil {
			return err
		}
		srv := ablstat.NewStatsServer()
		errChan := make(chan error)
		go func() {
			errChan <- http.ListenAndServe(Cfg.GetString("addr"), srv)
		}()
		if err := Run(cmd, checkLogFile(Cfg.GetString("LogFile")),
			Cfg.GetInt("steps"), Cfg.GetInt("partitions"), cfg, srv); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Serving statistics at %s\n", Cfg.GetString("addr"))
		return <-errChan
	},
	DisableAutoGenTag: true,
}

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
	"strings"
)

// Default search settings. These match the values commonly used for
// atmospheric boundary layer sampling, where plane nodes are expected to
// coincide with source nodes to within mesh tolerance.
const (
	defaultSearchMethod          = "rtree"
	defaultSearchTolerance       = 1.e-4
	defaultSearchExpansionFactor = 1.5
	defaultPartNameTemplate      = "zplane_%.1f"
)

// Config holds the options that control planar statistics collection.
type Config struct {
	// SearchMethod selects the point-location algorithm used to pair each
	// sampling plane node with donor nodes in the source mesh. The
	// available methods are "rtree" (the default; a spatial index) and
	// "exhaustive" (a linear scan, mainly useful for verification).
	SearchMethod string

	// SearchTolerance is the absolute distance [m] within which donor
	// nodes must be found on the first search attempt.
	SearchTolerance float64

	// SearchExpansionFactor scales the search radius upward on each retry
	// after a search that found no donors. It must be greater than 1.
	SearchExpansionFactor float64

	// FromParts lists the names of the source mesh regions holding the
	// velocity, temperature, and sub-filter stress fields that the
	// statistics are drawn from. At least one part is required.
	FromParts []string

	// PartNameTemplate derives the name of the sampling plane part for
	// each height, for example "zplane_%.1f". It must contain exactly one
	// floating-point verb and is applied through PartName, never directly.
	PartNameTemplate string

	// VelocityHeights and TemperatureHeights are the heights above the
	// terrain [m] at which velocity/stress and temperature statistics are
	// collected. Each list must be non-empty and strictly increasing; the
	// two lists are independent of each other.
	VelocityHeights    []float64
	TemperatureHeights []float64

	// Planes determines where the sampling planes come from: either
	// NamedPlanes (parts that already exist in the mesh database) or
	// GeneratedPlanes (a synthesized regular grid per height). If nil,
	// NamedPlanes is assumed.
	Planes PlaneSource

	// OutputFrequency is the number of simulation steps between
	// statistics output records. Zero means every step.
	OutputFrequency int

	// OutputFileTemplate names the per-field statistics files, for
	// example "abl_stats_%s.dat"; the single %s verb receives the field
	// name (Ux, Uy, Uz, T). If empty, no text output is written.
	OutputFileTemplate string

	// OutputVariables optionally maps names of derived output quantities
	// to expressions over the per-height statistics, for example
	// {"TKE": "0.5*(uu+vv+ww)"}. Derived quantities are appended as extra
	// columns to the velocity output files.
	OutputVariables map[string]string

	// NetCDFOutput is the path of an optional NetCDF time-history file
	// holding every output record. If empty, no NetCDF file is written.
	NetCDFOutput string

	// Dt is the simulation time-step [s] used to time-stamp output
	// records.
	Dt float64
}

// A PartKey identifies one sampling plane by its height above the terrain.
// Plane part names are always derived from a PartKey through
// Config.PartName so that the name contract stays in one place.
type PartKey struct {
	Height float64
}

// PartName returns the mesh part name for the sampling plane identified
// by k.
func (c *Config) PartName(k PartKey) string {
	return fmt.Sprintf(c.PartNameTemplate, k.Height)
}

// OutputFile returns the statistics file name for the given field name.
func (c *Config) OutputFile(field string) string {
	return fmt.Sprintf(c.OutputFileTemplate, field)
}

// validate fills in default values for unset options and checks the
// configuration for errors. It is called by Controller.Load; all errors
// it returns are fatal.
func (c *Config) validate() error {
	if c.SearchMethod == "" {
		c.SearchMethod = defaultSearchMethod
	}
	switch c.SearchMethod {
	case "rtree", "exhaustive":
	default:
		return fmt.Errorf("ablstat: unknown search method %q; valid methods are rtree and exhaustive", c.SearchMethod)
	}
	if c.SearchTolerance == 0 {
		c.SearchTolerance = defaultSearchTolerance
	}
	if c.SearchTolerance < 0 {
		return fmt.Errorf("ablstat: search tolerance must be positive but is %g", c.SearchTolerance)
	}
	if c.SearchExpansionFactor == 0 {
		c.SearchExpansionFactor = defaultSearchExpansionFactor
	}
	if c.SearchExpansionFactor <= 1 {
		return fmt.Errorf("ablstat: search expansion factor must be greater than 1 but is %g", c.SearchExpansionFactor)
	}
	if len(c.FromParts) == 0 {
		return fmt.Errorf("ablstat: no source mesh parts are specified")
	}
	for i, p := range c.FromParts {
		if p == "" {
			return fmt.Errorf("ablstat: source mesh part %d has an empty name", i)
		}
	}
	if c.PartNameTemplate == "" {
		c.PartNameTemplate = defaultPartNameTemplate
	}
	if err := checkTemplate(c.PartNameTemplate, "eEfgG"); err != nil {
		return fmt.Errorf("ablstat: part name template: %v", err)
	}
	if err := checkHeights(c.VelocityHeights); err != nil {
		return fmt.Errorf("ablstat: velocity heights: %v", err)
	}
	if err := checkHeights(c.TemperatureHeights); err != nil {
		return fmt.Errorf("ablstat: temperature heights: %v", err)
	}
	if c.Planes == nil {
		c.Planes = NamedPlanes{}
	}
	if err := c.Planes.check(); err != nil {
		return err
	}
	if c.OutputFrequency < 0 {
		return fmt.Errorf("ablstat: output frequency must not be negative but is %d", c.OutputFrequency)
	}
	if c.OutputFrequency == 0 {
		c.OutputFrequency = 1
	}
	if c.OutputFileTemplate != "" {
		if err := checkTemplate(c.OutputFileTemplate, "s"); err != nil {
			return fmt.Errorf("ablstat: output file template: %v", err)
		}
	}
	if c.Dt < 0 {
		return fmt.Errorf("ablstat: time step must not be negative but is %g", c.Dt)
	}
	return nil
}

// checkHeights checks that a height list is non-empty and strictly
// increasing, which also guarantees that every entry is unique.
func checkHeights(h []float64) error {
	if len(h) == 0 {
		return fmt.Errorf("the height list is empty")
	}
	for i := 1; i < len(h); i++ {
		if h[i] <= h[i-1] {
			return fmt.Errorf("heights must be strictly increasing but height %d (%g) is not above height %d (%g)",
				i, h[i], i-1, h[i-1])
		}
	}
	return nil
}

// checkTemplate checks that tmpl contains exactly one formatting verb and
// that its verb character is one of verbs. Literal percent signs (%%) are
// allowed.
func checkTemplate(tmpl, verbs string) error {
	n := 0
	for i := 0; i < len(tmpl); i++ {
		if tmpl[i] != '%' {
			continue
		}
		if i+1 < len(tmpl) && tmpl[i+1] == '%' {
			i++
			continue
		}
		j := i + 1
		for j < len(tmpl) && strings.ContainsRune("+-# 0123456789.", rune(tmpl[j])) {
			j++
		}
		if j >= len(tmpl) {
			return fmt.Errorf("template %q ends in an incomplete verb", tmpl)
		}
		if !strings.ContainsRune(verbs, rune(tmpl[j])) {
			return fmt.Errorf("template %q contains verb %%%c; the verb must be one of %q", tmpl, tmpl[j], verbs)
		}
		n++
		i = j
	}
	if n != 1 {
		return fmt.Errorf("template %q must contain exactly one verb but contains %d", tmpl, n)
	}
	return nil
}

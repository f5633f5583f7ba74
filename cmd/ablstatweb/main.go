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

// Command ablstatweb runs the demonstration channel flow and serves the
// collected planar statistics over HTTP.
package main

import (
	"flag"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/ablstat"
	"github.com/spatialmodel/ablstat/ablstatutil"
	"github.com/spf13/cobra"
)

var logger *logrus.Logger

func init() {
	logger = logrus.StandardLogger()
	logrus.SetLevel(logrus.DebugLevel)
	logrus.SetFormatter(&logrus.TextFormatter{
		ForceColors:     true,
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339Nano,
		DisableSorting:  true,
	})
}

var config = flag.String("config", "configExample.toml", "Path to the configuration file")

func main() {
	flag.Parse()

	f, err := os.Open(os.ExpandEnv(*config))
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	var c ablstatutil.WebConfig
	if _, err := toml.DecodeReader(f, &c); err != nil {
		log.Fatal(err)
	}
	if c.Address == "" {
		c.Address = ":10000"
	}
	if c.LogFile == "" {
		c.LogFile = "ablstatweb.log"
	}

	cfg, err := c.StatsConfig()
	if err != nil {
		logger.WithError(err).Fatal("failed to read the statistics configuration")
	}

	logger.Info("running the demonstration channel flow...")
	srv := ablstat.NewStatsServer()
	srv.Log = logger
	if err := ablstatutil.Run(&cobra.Command{}, c.LogFile, c.Steps, c.Partitions, cfg, srv); err != nil {
		logger.WithError(err).Fatal("failed to collect statistics")
	}

	server := &http.Server{
		Addr:              c.Address,
		Handler:           srv,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
	logger.Infof("listening on http://%s\n", c.Address)
	logger.Fatal(server.ListenAndServe())
}

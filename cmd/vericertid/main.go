/*
 * Copyright 2019 The CovenantSQL Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"runtime"
	"time"

	graphite "github.com/cyberdelia/go-metrics-graphite"
	metrics "github.com/rcrowley/go-metrics"

	"github.com/CovenantSQL/vericerti/api"
	"github.com/CovenantSQL/vericerti/conf"
	"github.com/CovenantSQL/vericerti/utils"
	"github.com/CovenantSQL/vericerti/utils/log"
	"github.com/CovenantSQL/vericerti/utils/trace"
)

var (
	version = "unknown"
)

var (
	configFile  string
	listenAddr  string
	logLevel    string
	cpuProfile  string
	memProfile  string
	traceFile   string
	showVersion bool
)

const name = `vericertid`
const desc = `vericertid anchors ledger record hashes to an on-chain registry and keeps record status in sync`

func init() {
	flag.StringVar(&configFile, "config", "~/.vericerti/config.yaml", "Config file path")
	flag.StringVar(&listenAddr, "listen", "", "Override the api listen address")
	flag.StringVar(&logLevel, "log-level", "", "Service log level, overrides the config file")
	flag.StringVar(&cpuProfile, "cpu-profile", "", "Path to file for CPU profiling information")
	flag.StringVar(&memProfile, "mem-profile", "", "Path to file for memory profiling information")
	flag.StringVar(&traceFile, "trace-file", "", "Path to file for execution trace")
	flag.BoolVar(&showVersion, "version", false, "Show version information and exit")

	flag.Usage = func() {
		_, _ = fmt.Fprintf(os.Stderr, "\n%s\n\n", desc)
		_, _ = fmt.Fprintf(os.Stderr, "Usage: %s [arguments]\n", name)
		flag.PrintDefaults()
	}
}

func main() {
	flag.Parse()
	log.SetStringLevel(logLevel, log.InfoLevel)

	if showVersion {
		fmt.Printf("%v %v %v %v %v\n",
			name, version, runtime.GOOS, runtime.GOARCH, runtime.Version())
		os.Exit(0)
	}

	configFile = utils.HomeDirExpand(configFile)
	flag.Visit(func(f *flag.Flag) {
		log.Infof("args %#v : %s", f.Name, f.Value)
	})

	cfg, err := conf.LoadConfig(configFile)
	if err != nil {
		log.WithField("config", configFile).WithError(err).Fatal("load config failed")
	}
	if listenAddr != "" {
		cfg.ListenAddr = listenAddr
	}
	log.SetFormat(cfg.Log.Format)
	if logLevel == "" {
		log.SetStringLevel(cfg.Log.Level, log.InfoLevel)
	}

	log.Infof("%#v starting, version %#v", name, version)
	log.Infof("%#v, target architecture is %#v, operating system target is %#v",
		runtime.Version(), runtime.GOARCH, runtime.GOOS)

	// init profile, if cpuProfile, memProfile length is 0, nothing will be done
	if err = utils.StartProfile(cpuProfile, memProfile); err != nil {
		log.WithError(err).Error("start profile failed")
	}
	defer utils.StopProfile()

	if traceFile != "" {
		stopTrace, err := trace.StartFile(utils.HomeDirExpand(traceFile))
		if err != nil {
			log.WithError(err).Fatal("start trace failed")
		}
		defer stopTrace()
	}

	if err = utils.EnsureDir(cfg.WorkingRoot); err != nil {
		log.WithError(err).Fatal("create working root failed")
	}

	startCtx, cancelStart := utils.ExitContext(context.Background())
	d, err := newDaemon(startCtx, cfg)
	cancelStart()
	if err != nil {
		log.WithError(err).Fatal("init daemon failed")
	}
	defer d.close()

	accessLog := log.StandardLogger().Writer()
	defer accessLog.Close()

	server, err := api.StartAPI(cfg.ListenAddr, d.handler(cfg, accessLog))
	if err != nil {
		log.WithError(err).Fatal("start api failed")
	}
	log.WithField("addr", cfg.ListenAddr).Info("api server started")

	if cfg.Metrics.LogInterval > 0 {
		go metrics.Log(metrics.DefaultRegistry, cfg.Metrics.LogInterval, log.StandardLogger())
	}
	if cfg.Metrics.GraphiteAddr != "" {
		addr, err := net.ResolveTCPAddr("tcp", cfg.Metrics.GraphiteAddr)
		if err != nil {
			log.WithError(err).Error("resolve metric graphite server addr failed")
		} else {
			interval := cfg.Metrics.LogInterval
			if interval <= 0 {
				interval = 10 * time.Second
			}
			go graphite.Graphite(metrics.DefaultRegistry, interval, name, addr)
		}
	}

	d.start()

	<-utils.WaitForExit()
	log.Info("shutting down")

	d.stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err = api.StopAPI(ctx, server); err != nil {
		log.WithError(err).Warning("stop api server failed")
	}

	log.Info("vericertid stopped")
}

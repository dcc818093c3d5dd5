// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of iiot-gateway-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/edgehaus/iiot-gateway-core/internal/adapter"
	"github.com/edgehaus/iiot-gateway-core/internal/adapter/metrics"
	"github.com/edgehaus/iiot-gateway-core/internal/config"
	"github.com/edgehaus/iiot-gateway-core/internal/repository"
	"github.com/edgehaus/iiot-gateway-core/internal/tracectx"
	"github.com/edgehaus/iiot-gateway-core/pkg/driver"
	"github.com/edgehaus/iiot-gateway-core/pkg/log"
	"github.com/edgehaus/iiot-gateway-core/pkg/nats"
	"github.com/edgehaus/iiot-gateway-core/pkg/tagmodel"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const version = "0.1.0"

const traceReaperPeriod = 100 * time.Millisecond

func main() {
	cliInit()

	if flagVersion {
		fmt.Printf("gateway version %s\n", version)
		os.Exit(0)
	}

	log.SetLogLevel(flagLogLevel)
	log.SetLogDateTime(flagLogDateTime)

	if flagListPlugins {
		for _, m := range driver.Modules() {
			fmt.Printf("%-20s %s\n", m.Name, m.Descr)
		}
		os.Exit(0)
	}

	if err := config.Init(flagConfigFile); err != nil {
		log.Fatalf("gateway: %v", err)
	}

	// Startup migration failure is fatal; every later persister failure is
	// a recoverable EINTERNAL.
	if err := repository.Connect(config.Keys.DB); err != nil {
		log.Fatalf("gateway: %v", err)
	}
	defer repository.Close()

	if handleUserFlags() {
		return
	}

	nats.Connect()
	if c := nats.GetClient(); c != nil {
		defer c.Close()
	}

	traces := startTraceRegistry()
	defer traces.Stop()

	adapters, err := adapter.Restore(adapter.Options{
		SubFilterErr: config.Keys.SubFilterErr,
		Traces:       traces,
	})
	if err != nil {
		log.Fatalf("gateway: restore adapters: %v", err)
	}
	defer func() {
		for _, a := range adapters {
			if err := a.Uninit(); err != nil {
				log.Warnf("gateway: uninit adapter %s: %v", a.Name(), err)
			}
		}
	}()

	if config.Keys.MetricsAddr != "" {
		go serveMetrics(config.Keys.MetricsAddr)
	}

	log.Infof("gateway: node %s up, %d drivers restored", config.Keys.NodeName, len(adapters))

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	log.Info("gateway: shutting down")
}

// startTraceRegistry builds the trace context registry, wiring the NATS
// span exporter when otel_config asks for export and the transport is up.
func startTraceRegistry() *tracectx.Registry {
	timeout, err := time.ParseDuration(config.Keys.TraceTimeout)
	if err != nil || timeout <= 0 {
		timeout = 3 * time.Minute
	}

	var exporter tracectx.Exporter
	if config.Keys.Otel.Action == tagmodel.OTelActionStart {
		if c := nats.GetClient(); c != nil {
			exporter = &tracectx.NATSExporter{Client: c, Subject: "neuron.otel.spans"}
		} else {
			log.Warn("gateway: otel export requested but NATS transport is down, spans are dropped")
		}
	}

	r := tracectx.New(timeout, exporter)
	r.StartReaper(traceReaperPeriod)
	return r
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))
	log.Infof("gateway: metrics on %s/metrics", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Errorf("gateway: metrics server: %v", err)
	}
}

// handleUserFlags processes -add-user/-del-user and reports whether the
// process should exit afterwards.
func handleUserFlags() bool {
	if flagNewUser != "" {
		parts := strings.SplitN(flagNewUser, ":", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			log.Fatal("gateway: -add-user expects <username>:<password>")
		}
		if err := repository.GetUserRepository().AddUser(parts[0], parts[1]); err != nil {
			log.Fatalf("gateway: add user: %v", err)
		}
		log.Infof("gateway: user %q added", parts[0])
		return true
	}

	if flagDelUser != "" {
		if err := repository.GetUserRepository().DeleteUser(flagDelUser); err != nil {
			log.Fatalf("gateway: delete user: %v", err)
		}
		log.Infof("gateway: user %q removed", flagDelUser)
		return true
	}
	return false
}

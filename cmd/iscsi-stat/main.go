// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// iscsi-stat is a Prometheus exporter for one iSCSI session,
// grounded on the teacher's cmd/tcgdiskstat (which snapshots attached
// drives once and prints table/json/openmetrics). Here the snapshot is
// replaced by a long-lived Pool serving /metrics for as long as the
// process runs, since an iSCSI session persists instead of being
// enumerated fresh per invocation.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/open-iscsi-go/initiator/pkg/iscsi/cliutil"
	"github.com/open-iscsi-go/initiator/pkg/iscsi/config"
	"github.com/open-iscsi-go/initiator/pkg/iscsi/metrics"
	"github.com/open-iscsi-go/initiator/pkg/iscsi/pool"
)

const (
	programName = "iscsi-stat"
	programDesc = "Prometheus exporter for iSCSI session health"
)

var cli struct {
	Listen string `flag:"" default:":9262" help:"Address to serve /metrics on"`

	InitiatorName string `flag:"" required:"" help:"Initiator name (iqn.*)"`
	TargetName    string `flag:"" required:"" help:"Target name (iqn.*)"`
	TargetAddress string `flag:"" required:"" help:"Target portal address"`
	TargetPort    uint16 `flag:"" default:"3260" help:"Target portal port"`

	CHAPUser   string `flag:"" optional:"" help:"CHAP username; enables CHAP when set"`
	CHAPSecret string `flag:"" optional:"" type:"password" help:"CHAP secret"`
}

func main() {
	kong.Parse(&cli,
		kong.Name(programName),
		kong.Description(programDesc),
		kong.UsageOnError(),
		kong.Resolvers(cliutil.ResolveCHAPSecret(false)),
	)

	log := logrus.New()

	opts := []config.Option{config.WithTargetPort(cli.TargetPort)}
	if cli.CHAPUser != "" {
		opts = append(opts, config.WithCHAP(cli.CHAPUser, cli.CHAPSecret))
	}
	cfg := config.New(cli.InitiatorName, cli.TargetName, cli.TargetAddress, opts...)

	collector := metrics.New()
	reg := prometheus.NewRegistry()
	reg.MustRegister(collector)

	p := pool.New(pool.WithMetrics(collector))

	loginCtx, cancel := context.WithTimeout(context.Background(), cfg.LoginTimeout)
	tsih, cid, err := p.OpenSessionAndLogin(loginCtx, cfg)
	cancel()
	if err != nil {
		log.WithError(err).Fatal("failed to open iSCSI session")
	}
	log.WithFields(logrus.Fields{"tsih": tsih, "cid": cid}).Info("session established")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-stop
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := p.Shutdown(shutdownCtx, 5*time.Second); err != nil {
			log.WithError(err).Warn("shutdown reported an error")
		}
		os.Exit(0)
	}()

	http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	log.WithField("addr", cli.Listen).Info("serving /metrics")
	if err := http.ListenAndServe(cli.Listen, nil); err != nil {
		log.WithError(err).Fatal("metrics server exited")
	}
}

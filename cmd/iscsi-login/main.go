// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// iscsi-login is a kong CLI for logging into an iSCSI target and
// optionally smoke-testing it with a single READ or WRITE, grounded on
// the teacher's cmd/gosedctl (kong struct-tag flags, CHAP secret entry
// via a kong.Resolver) and cmd/tcgsdiag (spew.Dump for wire-level
// debugging, here applied to the decoded SCSI result instead of a
// TPerProperties struct).
package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	"github.com/davecgh/go-spew/spew"
	"github.com/sirupsen/logrus"

	"github.com/open-iscsi-go/initiator/pkg/iscsi/cliutil"
	"github.com/open-iscsi-go/initiator/pkg/iscsi/config"
	"github.com/open-iscsi-go/initiator/pkg/iscsi/conn"
	"github.com/open-iscsi-go/initiator/pkg/iscsi/pool"
	"github.com/open-iscsi-go/initiator/pkg/iscsi/scsi"
)

const (
	programName = "iscsi-login"
	programDesc = "Log into an iSCSI target and optionally run a smoke-test I/O"
)

var cli struct {
	InitiatorName string `flag:"" required:"" help:"Initiator name (iqn.*)"`
	TargetName    string `flag:"" required:"" help:"Target name (iqn.*)"`
	TargetAddress string `flag:"" required:"" help:"Target portal address"`
	TargetPort    uint16 `flag:"" default:"3260" help:"Target portal port"`

	CHAPUser   string `flag:"" optional:"" help:"CHAP username; enables CHAP when set"`
	CHAPSecret string `flag:"" optional:"" type:"password" help:"CHAP secret"`

	LUN uint64 `flag:"" default:"0" help:"Logical unit number to address"`

	Read  uint32 `flag:"" optional:"" help:"Issue a READ(10) for this many 512-byte blocks starting at LBA 0"`
	Write string `flag:"" optional:"" type:"accessiblefile" help:"Issue a WRITE(10) of this file's contents starting at LBA 0"`

	Debug bool `flag:"" optional:"" help:"Dump decoded SCSI results with go-spew"`
}

func encodeLUN(n uint64) [8]byte {
	var lun [8]byte
	binary.BigEndian.PutUint64(lun[:], n)
	return lun
}

func readCDB(lba uint32, blocks uint16) [16]byte {
	var cdb [16]byte
	cdb[0] = 0x28 // READ(10)
	binary.BigEndian.PutUint32(cdb[2:6], lba)
	binary.BigEndian.PutUint16(cdb[7:9], blocks)
	return cdb
}

func writeCDB(lba uint32, blocks uint16) [16]byte {
	var cdb [16]byte
	cdb[0] = 0x2a // WRITE(10)
	binary.BigEndian.PutUint32(cdb[2:6], lba)
	binary.BigEndian.PutUint16(cdb[7:9], blocks)
	return cdb
}

const blockSize = 512

func main() {
	kong.Parse(&cli,
		kong.Name(programName),
		kong.Description(programDesc),
		kong.UsageOnError(),
		kong.NamedMapper("accessiblefile", cliutil.AccessibleFileMapper()),
		kong.Resolvers(cliutil.ResolveCHAPSecret(false)),
	)

	log := logrus.New()

	opts := []config.Option{config.WithTargetPort(cli.TargetPort)}
	if cli.CHAPUser != "" {
		opts = append(opts, config.WithCHAP(cli.CHAPUser, cli.CHAPSecret))
	}
	cfg := config.New(cli.InitiatorName, cli.TargetName, cli.TargetAddress, opts...)

	p := pool.New()
	ctx, cancel := context.WithTimeout(context.Background(), cfg.LoginTimeout)
	defer cancel()

	tsih, cid, err := p.OpenSessionAndLogin(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("login failed")
	}
	log.WithFields(logrus.Fields{"tsih": tsih, "cid": cid}).Info("logged in")
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.IOTimeout)
		defer cancel()
		if err := p.CloseSession(closeCtx, tsih, cid); err != nil {
			log.WithError(err).Warn("logout failed")
		}
	}()

	lun := encodeLUN(cli.LUN)

	switch {
	case cli.Read > 0:
		runRead(log, p, tsih, cid, cfg, lun, cli.Read)
	case cli.Write != "":
		runWrite(log, p, tsih, cid, cfg, lun, cli.Write)
	}
}

func runRead(log *logrus.Logger, p *pool.Pool, tsih, cid uint16, cfg *config.SessionConfig, lun [8]byte, blocks uint32) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.IOTimeout)
	defer cancel()

	result, err := pool.ExecuteWith(ctx, p, tsih, cid, func(c *conn.Connection, counters *conn.Counters) pool.FSM[*scsi.ReadResult] {
		return func(ctx context.Context) (*scsi.ReadResult, error) {
			return scsi.Read(ctx, c, counters, scsi.ReadParams{
				LUN:         lun,
				CDB:         readCDB(0, uint16(blocks)),
				ExpectedLen: blocks * blockSize,
			})
		}
	})
	if err != nil {
		log.WithError(err).Fatal("read failed")
	}
	if cli.Debug {
		spew.Dump(result)
	}
	if !result.Success() {
		log.WithFields(logrus.Fields{"response": result.Response, "status": result.Status}).Error("read completed with non-good status")
		os.Exit(1)
	}
	os.Stdout.Write(result.Data)
}

func runWrite(log *logrus.Logger, p *pool.Pool, tsih, cid uint16, cfg *config.SessionConfig, lun [8]byte, path string) {
	payload, err := os.ReadFile(path)
	if err != nil {
		log.WithError(err).Fatal("reading payload file failed")
	}
	blocks := (len(payload) + blockSize - 1) / blockSize

	ctx, cancel := context.WithTimeout(context.Background(), cfg.IOTimeout)
	defer cancel()

	result, err := pool.ExecuteWith(ctx, p, tsih, cid, func(c *conn.Connection, counters *conn.Counters) pool.FSM[*scsi.WriteResult] {
		return func(ctx context.Context) (*scsi.WriteResult, error) {
			return scsi.Write(ctx, c, counters, scsi.WriteParams{
				LUN:                      lun,
				CDB:                      writeCDB(0, uint16(blocks)),
				Payload:                  payload,
				ImmediateData:            cfg.ImmediateData,
				FirstBurstLength:         cfg.FirstBurstLength,
				MaxBurstLength:           cfg.MaxBurstLength,
				MaxRecvDataSegmentLength: cfg.MaxRecvDataSegmentLength,
			})
		}
	})
	if err != nil {
		log.WithError(err).Fatal("write failed")
	}
	if cli.Debug {
		spew.Dump(result)
	}
	if !result.Success() {
		log.WithFields(logrus.Fields{"response": result.Response, "status": result.Status}).Error("write completed with non-good status")
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "wrote %d bytes\n", len(payload))
}

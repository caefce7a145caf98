// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package scsi drives the per-command FSMs that ride on top of an
// established iSCSI session: READ, WRITE, and the initiator-driven half of
// the NOP heartbeat. Each FSM is built the same way as the login FSM: a
// narrow Sender capability plus a counters slice, so tests drive them
// without a real socket.
package scsi

import (
	"fmt"

	"github.com/open-iscsi-go/initiator/pkg/iscsi/conn"
	"github.com/open-iscsi-go/initiator/pkg/iscsi/pdu"
)

// Sender is the capability every FSM in this package needs from a
// Connection: emit one PDU, and obtain a completion slot keyed on ITT.
type Sender interface {
	Send(h *pdu.Header, ahs, data []byte) error
	Submit(itt uint32) (*conn.Task, error)
}

// Counters is the slice of conn.Counters the command FSMs consume. Each
// FSM reserves exactly one CmdSN for its SCSI Command (or none, for an
// immediate NOP-Out).
type Counters interface {
	NextITT() uint32
	ReserveCmdSN() uint32
	PeekCmdSN() uint32
	ExpStatSN() uint32
	AdvanceExpStatSN(statSN uint32)
}

// ProtocolError reports a violation of an ordering or finality invariant:
// a decreasing DataSN, an R2T window that overruns the payload, or a PDU
// type the FSM never expects for its ITT.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string { return "iscsi: protocol error: " + e.Reason }

// RejectError reports that the target rejected the PDU carrying this ITT.
// The connection itself remains open; only this command failed.
type RejectError struct {
	Reason byte
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("iscsi: command rejected: reason=0x%02x", e.Reason)
}

func unexpectedPDU(stage string, v interface{}) error {
	return &ProtocolError{Reason: fmt.Sprintf("%s: unexpected PDU %T", stage, v)}
}

// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scsi

import (
	"context"

	"github.com/open-iscsi-go/initiator/pkg/iscsi/pdu"
)

// Ping drives the initiator-driven half of the NOP FSM: send a NOP-Out
// with a fresh ITT and TTT=ITTNone, await the matching NOP-In, return its
// round-trip payload. The target-driven half (an unsolicited NOP-In
// answered without involving any FSM) lives entirely in conn.Connection.
func Ping(ctx context.Context, s Sender, c Counters, lun [8]byte, data []byte) ([]byte, error) {
	itt := c.NextITT()
	task, err := s.Submit(itt)
	if err != nil {
		return nil, err
	}
	defer task.Cancel()

	// I=1: per the CmdSN policy, an immediate NOP-Out does not consume a
	// sequence number, so it carries a snapshot rather than a reservation.
	cmdSN := c.PeekCmdSN()
	expStatSN := c.ExpStatSN()
	out := pdu.NewNOPOut(itt, pdu.ITTNone, lun, cmdSN, expStatSN, true, data)
	if err := s.Send(&out.Header, nil, out.Data); err != nil {
		return nil, err
	}

	ev, err := task.Next(ctx)
	if err != nil {
		return nil, err
	}
	switch v := ev.Typed.(type) {
	case *pdu.NOPIn:
		c.AdvanceExpStatSN(v.StatSN())
		return v.Data, nil
	case *pdu.Reject:
		return nil, &RejectError{Reason: v.Reason()}
	default:
		return nil, unexpectedPDU("nop", v)
	}
}

// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scsi

import (
	"context"

	"github.com/open-iscsi-go/initiator/pkg/iscsi/pdu"
)

// ReadParams are the inputs to a single READ(10)/READ(16) command. CDB is
// always the full 16-byte form; shorter CDBs are padded by the caller.
type ReadParams struct {
	LUN         [8]byte
	CDB         [16]byte
	ExpectedLen uint32
}

// ReadResult is the READ FSM's outcome: the assembled payload plus the
// status the command completed with.
type ReadResult struct {
	Data         []byte
	Response     byte
	Status       byte
	Residual     uint32
	BidiResidual uint32
}

// Success reports whether the command completed with good status.
func (r *ReadResult) Success() bool {
	return r.Response == pdu.ResponseCommandCompleted && r.Status == pdu.StatusGood
}

// Read drives the READ FSM to completion: Start (send SCSI Command with
// R=1), Wait (collect Data-In PDUs in increasing DataSN, assembling the
// payload at each BufferOffset), Validate (require a strictly increasing
// DataSN sequence; DataPDUInOrder=Yes and DataSequenceInOrder=Yes are
// assumed, so any gap or regression is a ProtocolError).
func Read(ctx context.Context, s Sender, c Counters, p ReadParams) (*ReadResult, error) {
	itt := c.NextITT()
	task, err := s.Submit(itt)
	if err != nil {
		return nil, err
	}
	defer task.Cancel()

	cmdSN := c.ReserveCmdSN()
	expStatSN := c.ExpStatSN()
	cmd := pdu.NewSCSICommand(itt, p.LUN, p.CDB, true, false, pdu.AttrSimple, p.ExpectedLen, cmdSN, expStatSN)
	if err := s.Send(&cmd.Header, nil, nil); err != nil {
		return nil, err
	}

	buf := make([]byte, p.ExpectedLen)
	assembled := 0
	nextDataSN := uint32(0)

	for {
		ev, err := task.Next(ctx)
		if err != nil {
			return nil, err
		}
		switch v := ev.Typed.(type) {
		case *pdu.DataIn:
			if v.DataSN() != nextDataSN {
				return nil, &ProtocolError{Reason: "data-in out of order"}
			}
			nextDataSN++

			offset := int(v.BufferOffset())
			end := offset + len(v.Data)
			if end > len(buf) {
				grown := make([]byte, end)
				copy(grown, buf)
				buf = grown
			}
			copy(buf[offset:end], v.Data)
			if end > assembled {
				assembled = end
			}

			if ev.Final {
				status := pdu.StatusGood
				if v.StatusPresent() {
					status = v.Status()
				}
				return &ReadResult{
					Data:     buf[:assembled],
					Response: pdu.ResponseCommandCompleted,
					Status:   status,
				}, nil
			}
		case *pdu.SCSIResponse:
			return &ReadResult{
				Data:         buf[:assembled],
				Response:     v.Response(),
				Status:       v.Status(),
				Residual:     v.Residual(),
				BidiResidual: v.BidiResidual(),
			}, nil
		case *pdu.Reject:
			return nil, &RejectError{Reason: v.Reason()}
		default:
			return nil, unexpectedPDU("read", v)
		}
	}
}

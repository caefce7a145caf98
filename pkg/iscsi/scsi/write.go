// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scsi

import (
	"context"

	"github.com/open-iscsi-go/initiator/pkg/iscsi/pdu"
)

// WriteParams are the inputs to a single WRITE(10)/WRITE(16) command plus
// the negotiated parameters that decide the ImmediateData/R2T boundary.
type WriteParams struct {
	LUN     [8]byte
	CDB     [16]byte
	Payload []byte

	ImmediateData            bool
	FirstBurstLength         uint32
	MaxBurstLength           uint32
	MaxRecvDataSegmentLength uint32
}

// WriteResult is the WRITE FSM's outcome.
type WriteResult struct {
	Response     byte
	Status       byte
	Residual     uint32
	BidiResidual uint32
}

// Success reports whether the command completed with good status.
// Residual over/underflow does not itself fail the FSM.
func (r *WriteResult) Success() bool {
	return r.Response == pdu.ResponseCommandCompleted && r.Status == pdu.StatusGood
}

// Write drives the WRITE FSM to completion. The ImmediateData/R2T decision
// is made once, up front: if the whole payload fits within what Immediate
// Data is allowed to cover, it rides on the SCSI Command PDU itself and
// the FSM simply awaits the SCSI Response. Otherwise the command goes out
// with at most a first-burst chunk attached, and the FSM answers each R2T
// with a window of Data-Out PDUs until a SCSI Response arrives.
func Write(ctx context.Context, s Sender, c Counters, p WriteParams) (*WriteResult, error) {
	itt := c.NextITT()
	task, err := s.Submit(itt)
	if err != nil {
		return nil, err
	}
	defer task.Cancel()

	cmdSN := c.ReserveCmdSN()
	expStatSN := c.ExpStatSN()
	n := uint32(len(p.Payload))
	cmd := pdu.NewSCSICommand(itt, p.LUN, p.CDB, false, true, pdu.AttrSimple, n, cmdSN, expStatSN)

	if p.ImmediateData && n <= min(p.FirstBurstLength, p.MaxRecvDataSegmentLength) {
		if err := s.Send(&cmd.Header, nil, p.Payload); err != nil {
			return nil, err
		}
		ev, err := task.Next(ctx)
		if err != nil {
			return nil, err
		}
		resp, ok := ev.Typed.(*pdu.SCSIResponse)
		if !ok {
			return nil, unexpectedPDU("write", ev.Typed)
		}
		return &WriteResult{
			Response:     resp.Response(),
			Status:       resp.Status(),
			Residual:     resp.Residual(),
			BidiResidual: resp.BidiResidual(),
		}, nil
	}

	var firstBurst []byte
	if p.ImmediateData && p.FirstBurstLength > 0 {
		size := min(n, min(p.FirstBurstLength, p.MaxRecvDataSegmentLength))
		firstBurst = p.Payload[:size]
	}
	if err := s.Send(&cmd.Header, nil, firstBurst); err != nil {
		return nil, err
	}

	for {
		ev, err := task.Next(ctx)
		if err != nil {
			return nil, err
		}
		switch v := ev.Typed.(type) {
		case *pdu.R2T:
			if err := sendR2TWindow(s, itt, p.LUN, v, p.Payload, p.MaxRecvDataSegmentLength); err != nil {
				return nil, err
			}
		case *pdu.SCSIResponse:
			return &WriteResult{
				Response:     v.Response(),
				Status:       v.Status(),
				Residual:     v.Residual(),
				BidiResidual: v.BidiResidual(),
			}, nil
		case *pdu.Reject:
			return nil, &RejectError{Reason: v.Reason()}
		default:
			return nil, unexpectedPDU("write", v)
		}
	}
}

// sendR2TWindow answers one R2T with a burst of Data-Out PDUs: all share
// the R2T's TTT, DataSN runs from 0 within the window, BufferOffset
// advances monotonically from the R2T's offset, and the last PDU of the
// window carries F=1.
func sendR2TWindow(s Sender, itt uint32, lun [8]byte, r *pdu.R2T, payload []byte, mrdsl uint32) error {
	ttt := r.TTT()
	offset := r.BufferOffset()
	remaining := r.DesiredDataTransferLength()
	if uint64(offset)+uint64(remaining) > uint64(len(payload)) {
		return &ProtocolError{Reason: "r2t window exceeds payload length"}
	}

	dataSN := uint32(0)
	for remaining > 0 {
		chunk := remaining
		if chunk > mrdsl {
			chunk = mrdsl
		}
		final := chunk == remaining
		end := offset + chunk

		out := pdu.NewDataOut(itt, ttt, lun, dataSN, offset, payload[offset:end], final)
		if err := s.Send(&out.Header, nil, out.Data); err != nil {
			return err
		}

		dataSN++
		offset = end
		remaining -= chunk
	}
	return nil
}

// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scsi

import (
	"bytes"
	"context"
	"testing"

	"github.com/open-iscsi-go/initiator/pkg/iscsi/conn"
	"github.com/open-iscsi-go/initiator/pkg/iscsi/pdu"
)

func fill(n int, v byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = v
	}
	return b
}

// TestWrite_ImmediateData exercises the ImmediateData path: a 512 B
// payload with ImmediateData=Yes and FirstBurstLength=8192 must go out on
// a single SCSI Command PDU, with no Data-Out PDUs at all.
func TestWrite_ImmediateData(t *testing.T) {
	var resp pdu.SCSIResponse
	resp.Header.SetOpcode(pdu.OpSCSIResponse)

	s := &stubSender{task: conn.NewTaskForTestSequence([]conn.Event{
		{Typed: &resp, Final: true},
	})}
	payload := fill(512, 0xAB)
	result, err := Write(context.Background(), s, stubCounters{}, WriteParams{
		Payload:                  payload,
		ImmediateData:            true,
		FirstBurstLength:         8192,
		MaxRecvDataSegmentLength: 8192,
	})
	if err != nil {
		t.Fatalf("Write() = %v", err)
	}
	if !result.Success() {
		t.Fatalf("Success() = false, want true")
	}
	if len(s.sent) != 1 {
		t.Fatalf("len(sent) = %d, want 1 (no separate Data-Out PDUs)", len(s.sent))
	}
	if got := s.sent[0].Opcode(); got != pdu.OpSCSICommand {
		t.Errorf("sent[0].Opcode() = %v, want OpSCSICommand", got)
	}
	if !bytes.Equal(s.sentData[0], payload) {
		t.Errorf("embedded data does not match payload")
	}
}

// TestWrite_R2TTwoWindows exercises the R2T path: a 32 KiB payload with
// ImmediateData=No, MaxBurstLength=16384, MRDSL=8192. Two R2T windows are
// expected; four Data-Out PDUs (two per window); the last PDU of each
// window carries F=1.
func TestWrite_R2TTwoWindows(t *testing.T) {
	payload := make([]byte, 32*1024)
	for i := range payload {
		payload[i] = byte(i)
	}

	r2t := func(ttt, r2tsn, offset, length uint32) conn.Event {
		var r pdu.R2T
		r.Header.SetOpcode(pdu.OpR2T)
		r.Header.SetUint32At(20, ttt)
		r.Header.SetUint32At(36, r2tsn)
		r.Header.SetUint32At(40, offset)
		r.Header.SetUint32At(44, length)
		return conn.Event{Typed: &r, Final: false}
	}
	var resp pdu.SCSIResponse
	resp.Header.SetOpcode(pdu.OpSCSIResponse)

	events := []conn.Event{
		r2t(0x1001, 0, 0, 16384),
		r2t(0x1002, 1, 16384, 16384),
		{Typed: &resp, Final: true},
	}
	s := &stubSender{task: conn.NewTaskForTestSequence(events)}
	result, err := Write(context.Background(), s, stubCounters{}, WriteParams{
		Payload:                  payload,
		ImmediateData:            false,
		MaxBurstLength:           16384,
		MaxRecvDataSegmentLength: 8192,
	})
	if err != nil {
		t.Fatalf("Write() = %v", err)
	}
	if !result.Success() {
		t.Fatalf("Success() = false, want true")
	}

	var dataOuts []pdu.Header
	var dataOutPayloads [][]byte
	for i, h := range s.sent {
		if h.Opcode() == pdu.OpSCSIDataOut {
			dataOuts = append(dataOuts, h)
			dataOutPayloads = append(dataOutPayloads, s.sentData[i])
		}
	}
	if len(dataOuts) != 4 {
		t.Fatalf("len(dataOuts) = %d, want 4", len(dataOuts))
	}

	wantTTT := []uint32{0x1001, 0x1001, 0x1002, 0x1002}
	wantDataSN := []uint32{0, 1, 0, 1}
	wantOffset := []uint32{0, 8192, 16384, 16384 + 8192}
	wantFinal := []bool{false, true, false, true}
	for i, h := range dataOuts {
		d := &pdu.DataOut{Header: h, Data: dataOutPayloads[i]}
		if d.TTT() != wantTTT[i] {
			t.Errorf("dataOuts[%d].TTT() = %#x, want %#x", i, d.TTT(), wantTTT[i])
		}
		if d.DataSN() != wantDataSN[i] {
			t.Errorf("dataOuts[%d].DataSN() = %d, want %d", i, d.DataSN(), wantDataSN[i])
		}
		if d.BufferOffset() != wantOffset[i] {
			t.Errorf("dataOuts[%d].BufferOffset() = %d, want %d", i, d.BufferOffset(), wantOffset[i])
		}
		if h.Final() != wantFinal[i] {
			t.Errorf("dataOuts[%d].Final() = %v, want %v", i, h.Final(), wantFinal[i])
		}
		if len(d.Data) != 8192 {
			t.Errorf("dataOuts[%d] len(Data) = %d, want 8192", i, len(d.Data))
		}
	}

	var total int
	for _, d := range dataOutPayloads {
		total += len(d)
	}
	if total != len(payload) {
		t.Errorf("sum of Data-Out payload bytes = %d, want %d", total, len(payload))
	}
}

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

// block returns a 1024-byte chunk filled with a value unique to its index,
// standing in for the 2 LBAs (512 B each) it represents.
func block(i int) []byte {
	b := make([]byte, 1024)
	for j := range b {
		b[j] = byte(i)
	}
	return b
}

func dataInEvent(dataSN uint32, offset uint32, data []byte, final bool) conn.Event {
	var in pdu.DataIn
	in.Header.SetOpcode(pdu.OpSCSIDataIn)
	in.Header.SetUint32At(40, dataSN)
	in.Header.SetUint32At(44, offset)
	in.Data = data
	if final {
		in.Header.SetFinal(true)
		in.Header.SetFlags(in.Header.Flags() | 0x01) // S=1
	}
	return conn.Event{Typed: &in, Final: final}
}

// TestRead_FourDataInPDUs exercises an 8-block READ(10) answered by four
// 1024 B Data-In PDUs, the last carrying F=1, S=1, Status=0.
func TestRead_FourDataInPDUs(t *testing.T) {
	blocks := [][]byte{block(1), block(2), block(3), block(4)}
	events := make([]conn.Event, 4)
	offset := uint32(0)
	for i, b := range blocks {
		events[i] = dataInEvent(uint32(i), offset, b, i == 3)
		offset += uint32(len(b))
	}

	s := &stubSender{task: conn.NewTaskForTestSequence(events)}
	result, err := Read(context.Background(), s, stubCounters{}, ReadParams{
		ExpectedLen: 4096,
	})
	if err != nil {
		t.Fatalf("Read() = %v", err)
	}
	if !result.Success() {
		t.Fatalf("Success() = false, want true (response=%#x status=%#x)", result.Response, result.Status)
	}
	want := bytes.Join(blocks, nil)
	if !bytes.Equal(result.Data, want) {
		t.Errorf("assembled data mismatch: got %d bytes, want %d bytes equal to the block concatenation", len(result.Data), len(want))
	}
}

// TestRead_OutOfOrderDataSN exercises the ProtocolError path when the
// target violates the assumed DataSequenceInOrder=Yes ordering.
func TestRead_OutOfOrderDataSN(t *testing.T) {
	events := []conn.Event{
		dataInEvent(0, 0, block(1), false),
		dataInEvent(2, 1024, block(2), true), // should have been DataSN=1
	}
	s := &stubSender{task: conn.NewTaskForTestSequence(events)}
	_, err := Read(context.Background(), s, stubCounters{}, ReadParams{ExpectedLen: 2048})
	if _, ok := err.(*ProtocolError); !ok {
		t.Fatalf("Read() err = %v (%T), want *ProtocolError", err, err)
	}
}

// TestRead_Truncated exercises a target that delivers fewer bytes than
// ExpectedLen and reports the shortfall via Residual on the closing SCSI
// Response: the assembled payload must cover only what was actually
// delivered, not be zero-padded out to ExpectedLen.
func TestRead_Truncated(t *testing.T) {
	var resp pdu.SCSIResponse
	resp.Header.SetOpcode(pdu.OpSCSIResponse)
	resp.Header.SetUint32At(44, 2048) // Residual: 2048 of 4096 undelivered

	events := []conn.Event{
		dataInEvent(0, 0, block(1), false),
		{Typed: &resp, Final: true},
	}
	s := &stubSender{task: conn.NewTaskForTestSequence(events)}
	result, err := Read(context.Background(), s, stubCounters{}, ReadParams{ExpectedLen: 4096})
	if err != nil {
		t.Fatalf("Read() = %v", err)
	}
	if len(result.Data) != 1024 {
		t.Fatalf("len(result.Data) = %d, want 1024 (only the delivered block, not zero-padded to ExpectedLen)", len(result.Data))
	}
	if !bytes.Equal(result.Data, block(1)) {
		t.Errorf("assembled data mismatch: got %v, want block(1)", result.Data)
	}
	if result.Residual != 2048 {
		t.Errorf("Residual = %d, want 2048", result.Residual)
	}
}

// TestRead_SeparateSCSIResponse exercises the case where a target sends
// all Data-In PDUs with S=0 and follows with a distinct SCSI Response.
func TestRead_SeparateSCSIResponse(t *testing.T) {
	var resp pdu.SCSIResponse
	resp.Header.SetOpcode(pdu.OpSCSIResponse)

	events := []conn.Event{
		dataInEvent(0, 0, block(1), false),
		{Typed: &resp, Final: true},
	}
	s := &stubSender{task: conn.NewTaskForTestSequence(events)}
	result, err := Read(context.Background(), s, stubCounters{}, ReadParams{ExpectedLen: 1024})
	if err != nil {
		t.Fatalf("Read() = %v", err)
	}
	if !result.Success() {
		t.Fatalf("Success() = false, want true")
	}
}

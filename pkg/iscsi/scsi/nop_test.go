// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scsi

import (
	"context"
	"testing"

	"github.com/open-iscsi-go/initiator/pkg/iscsi/conn"
	"github.com/open-iscsi-go/initiator/pkg/iscsi/pdu"
)

// TestPing_RoundTrip exercises the initiator-driven NOP FSM: the ping
// payload comes back unchanged in the NOP-In reply.
func TestPing_RoundTrip(t *testing.T) {
	ping := []byte("are you there")
	var in pdu.NOPIn
	in.Header.SetOpcode(pdu.OpNOPIn)
	in.Header.SetUint32At(24, 7) // StatSN=7
	in.Data = ping

	s := &stubSender{task: conn.NewTaskForTestSequence([]conn.Event{
		{Typed: &in, Final: true},
	})}
	counters := &trackingCounters{}
	got, err := Ping(context.Background(), s, counters, [8]byte{}, ping)
	if err != nil {
		t.Fatalf("Ping() = %v", err)
	}
	if string(got) != string(ping) {
		t.Errorf("Ping() = %q, want %q", got, ping)
	}
	if len(s.sent) != 1 || s.sent[0].Opcode() != pdu.OpNOPOut {
		t.Fatalf("did not send exactly one NOP-Out")
	}
	if !s.sent[0].Immediate() {
		t.Error("NOP-Out Immediate() = false, want true (I=1 so it consumes no CmdSN)")
	}
	if !counters.advanced || counters.lastStatSN != 7 {
		t.Errorf("AdvanceExpStatSN not called with StatSN=7 (advanced=%v, lastStatSN=%d)", counters.advanced, counters.lastStatSN)
	}
}

// TestRead_Reject exercises the S6 scenario: a command rejected by the
// target surfaces RejectError without the connection itself failing.
func TestRead_Reject(t *testing.T) {
	var rej pdu.Reject
	rej.Header.SetOpcode(pdu.OpReject)
	rej.Header.SetByteAt(2, pdu.RejectInvalidPDUField)

	s := &stubSender{task: conn.NewTaskForTestSequence([]conn.Event{
		{Typed: &rej, Final: true},
	})}
	_, err := Read(context.Background(), s, stubCounters{}, ReadParams{ExpectedLen: 512})
	rerr, ok := err.(*RejectError)
	if !ok {
		t.Fatalf("Read() err = %v (%T), want *RejectError", err, err)
	}
	if rerr.Reason != pdu.RejectInvalidPDUField {
		t.Errorf("RejectError.Reason = %#x, want %#x", rerr.Reason, pdu.RejectInvalidPDUField)
	}
}

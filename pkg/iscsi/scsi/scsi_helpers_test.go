// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scsi

import (
	"github.com/open-iscsi-go/initiator/pkg/iscsi/conn"
	"github.com/open-iscsi-go/initiator/pkg/iscsi/pdu"
)

// stubSender hands back a single pre-built Task for every Submit and
// records every PDU handed to Send, so tests can assert on wire shape
// (window sizes, F-bit placement, DataSN/BufferOffset progression)
// without a real connection.
type stubSender struct {
	task *conn.Task

	sent     []pdu.Header
	sentData [][]byte
}

func (s *stubSender) Send(h *pdu.Header, ahs, data []byte) error {
	s.sent = append(s.sent, *h)
	s.sentData = append(s.sentData, data)
	return nil
}

func (s *stubSender) Submit(itt uint32) (*conn.Task, error) { return s.task, nil }

// stubCounters is an immutable-by-default Counters stand-in. Tests that
// need to observe AdvanceExpStatSN use *trackingCounters instead.
type stubCounters struct{}

func (stubCounters) NextITT() uint32         { return 1 }
func (stubCounters) ReserveCmdSN() uint32    { return 1 }
func (stubCounters) PeekCmdSN() uint32       { return 1 }
func (stubCounters) ExpStatSN() uint32       { return 1 }
func (stubCounters) AdvanceExpStatSN(uint32) {}

// trackingCounters records the last value AdvanceExpStatSN was called
// with, so a test can assert a command FSM actually advanced ExpStatSN
// on completion.
type trackingCounters struct {
	stubCounters
	advanced   bool
	lastStatSN uint32
}

func (c *trackingCounters) AdvanceExpStatSN(statSN uint32) {
	c.advanced = true
	c.lastStatSN = statSN
}

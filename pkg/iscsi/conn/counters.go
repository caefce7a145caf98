// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package conn

import (
	"sync/atomic"

	"github.com/open-iscsi-go/initiator/pkg/iscsi/pdu"
)

// Counters are the per-connection atomics: ITT, CmdSN and ExpStatSN.
// They are owned by the Pool and passed by reference to both the
// Connection (for NOP-In auto-reply) and the FSMs that build requests,
// never duplicated or made global.
type Counters struct {
	itt       uint32
	cmdSN     uint32
	expStatSN uint32
}

// NewCounters seeds CmdSN at the value negotiated during Login
// (ExpCmdSN from the final Login Response) and ExpStatSN from that same
// response's StatSN+1.
func NewCounters(initialCmdSN, initialExpStatSN uint32) *Counters {
	return &Counters{cmdSN: initialCmdSN, expStatSN: initialExpStatSN}
}

// NextITT allocates a fresh Initiator Task Tag. 0 and ITTNone are
// reserved and skipped; wraparound is otherwise fine since uniqueness is
// only required among currently in-flight tasks.
func (c *Counters) NextITT() uint32 {
	for {
		v := atomic.AddUint32(&c.itt, 1)
		if v != 0 && v != pdu.ITTNone {
			return v
		}
	}
}

// ReserveCmdSN returns the CmdSN to stamp on a non-immediate SCSI Command
// and advances the counter for the next caller. Immediate PDUs (NOP-Out
// with I=1) must not call this.
func (c *Counters) ReserveCmdSN() uint32 {
	return atomic.AddUint32(&c.cmdSN, 1) - 1
}

// PeekCmdSN returns the current CmdSN without consuming it, used to stamp
// immediate PDUs (the unsolicited-NOP-In auto-reply, task management).
func (c *Counters) PeekCmdSN() uint32 {
	return atomic.LoadUint32(&c.cmdSN)
}

func (c *Counters) ExpStatSN() uint32 {
	return atomic.LoadUint32(&c.expStatSN)
}

// AdvanceExpStatSN implements the invariant: ExpStatSN is set to
// StatSN+1 on every response that carries a StatSN, never from
// intermediate Data-In fragments unless S=1.
func (c *Counters) AdvanceExpStatSN(statSN uint32) {
	atomic.StoreUint32(&c.expStatSN, statSN+1)
}

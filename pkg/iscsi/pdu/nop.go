// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pdu

// NOPOut is the heartbeat PDU an initiator sends, either on its own
// initiative (a fresh ITT, TTT=ITTNone) or as an auto-reply to an
// unsolicited NOP-In (ITT=ITTNone, TTT echoed from the target).
type NOPOut struct {
	Header Header
	Data   []byte // echoed ping data
}

func NewNOPOut(itt, ttt uint32, lun [8]byte, cmdSN, expStatSN uint32, immediate bool, data []byte) *NOPOut {
	n := &NOPOut{Data: data}
	n.Header.SetOpcode(OpNOPOut)
	n.Header.SetFinal(true)
	n.Header.SetImmediate(immediate)
	n.Header.SetLUN(lun)
	n.Header.SetITT(itt)
	n.Header.SetUint32At(20, ttt)
	n.Header.SetUint32At(24, cmdSN)
	n.Header.SetUint32At(28, expStatSN)
	return n
}

func (n *NOPOut) TTT() uint32       { return n.Header.Uint32At(20) }
func (n *NOPOut) CmdSN() uint32     { return n.Header.Uint32At(24) }
func (n *NOPOut) ExpStatSN() uint32 { return n.Header.Uint32At(28) }

// NOPIn is the Target -> Initiator heartbeat PDU, either solicited (reply
// to our NOPOut, TTT=ITTNone) or unsolicited (unique TTT, ITT=ITTNone),
// handled entirely inside the Connection reader.
type NOPIn struct {
	Header Header
	Data   []byte
}

func (n *NOPIn) TTT() uint32      { return n.Header.Uint32At(20) }
func (n *NOPIn) StatSN() uint32   { return n.Header.Uint32At(24) }
func (n *NOPIn) ExpCmdSN() uint32 { return n.Header.Uint32At(28) }
func (n *NOPIn) MaxCmdSN() uint32 { return n.Header.Uint32At(32) }

// Unsolicited reports whether this NOP-In was target-initiated (carries a
// live TTT) rather than the solicited reply to our own NOP-Out.
func (n *NOPIn) Unsolicited() bool { return n.TTT() != ITTNone }

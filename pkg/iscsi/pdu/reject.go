// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pdu

// Reject reason codes (byte 2).
const (
	RejectDataDigestError byte = 0x02
	RejectInvalidPDUField byte = 0x09
	RejectCmdNotSupported byte = 0x05
)

// Reject is the Target -> Initiator PDU (opcode 0x3f) sent when the
// target could not process a PDU it received. The BHS's own ITT field is
// always ITTNone; the task it refers to is identified by the first 48
// bytes of its data segment, which hold a copy of the rejected PDU's
// header (RFC 7143 §10.17).
type Reject struct {
	Header Header
	Data   []byte
}

func (r *Reject) Reason() byte   { return r.Header.ByteAt(2) }
func (r *Reject) StatSN() uint32 { return r.Header.Uint32At(24) }

// ReferencedITT returns the ITT of the task the rejected PDU belonged to,
// or false if the data segment is too short to contain a copy of the
// offending header.
func (r *Reject) ReferencedITT() (uint32, bool) {
	if len(r.Data) < HeaderLen {
		return 0, false
	}
	var h Header
	copy(h[:], r.Data[:HeaderLen])
	return h.ITT(), true
}

func (r *Reject) IsFinal() bool { return FinalForITT(OpReject, true, false) }

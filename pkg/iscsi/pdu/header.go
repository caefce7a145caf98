// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pdu

import "encoding/binary"

// HeaderLen is the fixed size of every iSCSI Basic Header Segment.
const HeaderLen = 48

// Header is the raw, undecoded 48-byte BHS. It exposes the fields common to
// every opcode (opcode, I/F flags, declared lengths, LUN, ITT) directly on
// the wire bytes so the Connection's dispatcher can route a PDU without
// paying for a full typed decode. Opcode-specific fields (CmdSN, StatSN,
// TTT, DataSN, BufferOffset, CDB, ...) live in bytes [20:48] and are read
// through the typed wrappers in this package.
type Header [HeaderLen]byte

func (h *Header) Opcode() Opcode {
	return Opcode(h[0] & opcodeMask)
}

func (h *Header) SetOpcode(op Opcode) {
	h[0] = (h[0] &^ opcodeMask) | byte(op)
}

func (h *Header) Immediate() bool {
	return h[0]&0x40 != 0
}

func (h *Header) SetImmediate(v bool) {
	if v {
		h[0] |= 0x40
	} else {
		h[0] &^= 0x40
	}
}

// Final reports the generic F bit, which lives at byte 1 bit 7 for every
// opcode the core emits or parses.
func (h *Header) Final() bool {
	return h[1]&0x80 != 0
}

func (h *Header) SetFinal(v bool) {
	if v {
		h[1] |= 0x80
	} else {
		h[1] &^= 0x80
	}
}

func (h *Header) Flags() byte {
	return h[1]
}

func (h *Header) SetFlags(b byte) {
	h[1] = b
}

func (h *Header) TotalAHSLength() int {
	return int(h[4])
}

func (h *Header) SetTotalAHSLength(units4byte int) {
	h[4] = byte(units4byte)
}

func (h *Header) DataSegmentLength() int {
	return int(h[5])<<16 | int(h[6])<<8 | int(h[7])
}

func (h *Header) SetDataSegmentLength(n int) {
	h[5] = byte(n >> 16)
	h[6] = byte(n >> 8)
	h[7] = byte(n)
}

func (h *Header) LUN() [8]byte {
	var l [8]byte
	copy(l[:], h[8:16])
	return l
}

func (h *Header) SetLUN(l [8]byte) {
	copy(h[8:16], l[:])
}

func (h *Header) ITT() uint32 {
	return binary.BigEndian.Uint32(h[16:20])
}

func (h *Header) SetITT(itt uint32) {
	binary.BigEndian.PutUint32(h[16:20], itt)
}

// Uint32At and SetUint32At give the typed PDU wrappers access to the
// opcode-specific region (bytes 20..48) without every wrapper duplicating
// bounds-checked slicing.
func (h *Header) Uint32At(off int) uint32 {
	return binary.BigEndian.Uint32(h[off : off+4])
}

func (h *Header) SetUint32At(off int, v uint32) {
	binary.BigEndian.PutUint32(h[off:off+4], v)
}

func (h *Header) ByteAt(off int) byte {
	return h[off]
}

func (h *Header) SetByteAt(off int, v byte) {
	h[off] = v
}

// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pdu

import "fmt"

// PDU is the typed-variant interface every decoded PDU satisfies. Callers
// that only need opcode-agnostic routing should use Decoded.Header
// directly instead of paying for a type switch.
type PDU interface {
	ITT() uint32
}

func (c *SCSICommand) ITT() uint32    { return c.Header.ITT() }
func (d *DataIn) ITT() uint32         { return d.Header.ITT() }
func (d *DataOut) ITT() uint32        { return d.Header.ITT() }
func (r *R2T) ITT() uint32            { return r.Header.ITT() }
func (n *NOPOut) ITT() uint32         { return n.Header.ITT() }
func (n *NOPIn) ITT() uint32          { return n.Header.ITT() }
func (l *LoginRequest) ITT() uint32   { return l.Header.ITT() }
func (l *LoginResponse) ITT() uint32  { return l.Header.ITT() }
func (t *TextRequest) ITT() uint32    { return t.Header.ITT() }
func (t *TextResponse) ITT() uint32   { return t.Header.ITT() }
func (l *LogoutRequest) ITT() uint32  { return l.Header.ITT() }
func (l *LogoutResponse) ITT() uint32 { return l.Header.ITT() }
func (r *Reject) ITT() uint32         { return r.Header.ITT() }

// ErrUnknownOpcode is returned by Parse for an opcode the core does not
// implement (SCSI task management, SNACK, Async Message — all explicit
// Non-goals).
type ErrUnknownOpcode Opcode

func (e ErrUnknownOpcode) Error() string {
	return fmt.Sprintf("iscsi: unsupported opcode 0x%02x", byte(e))
}

// Parse converts a Decoded raw PDU into its typed representation based on
// d.Header.Opcode(). Callers needing only ITT/opcode/flags should read
// d.Header directly; Parse is for the FSMs, which want named fields.
func Parse(d *Decoded) (interface{}, error) {
	switch d.Header.Opcode() {
	case OpSCSIResponse:
		return &SCSIResponse{Header: d.Header, Data: d.Data}, nil
	case OpSCSIDataIn:
		return &DataIn{Header: d.Header, Data: d.Data}, nil
	case OpR2T:
		return &R2T{Header: d.Header}, nil
	case OpNOPIn:
		return &NOPIn{Header: d.Header, Data: d.Data}, nil
	case OpLoginResponse:
		return &LoginResponse{Header: d.Header, Keys: DecodeKeyValues(d.Data)}, nil
	case OpTextResponse:
		return &TextResponse{Header: d.Header, Keys: DecodeKeyValues(d.Data)}, nil
	case OpLogoutResponse:
		return &LogoutResponse{Header: d.Header}, nil
	case OpReject:
		return &Reject{Header: d.Header, Data: d.Data}, nil
	default:
		return nil, ErrUnknownOpcode(d.Header.Opcode())
	}
}

// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Implements iSCSI (RFC 7143) Basic Header Segment opcodes.

package pdu

// Opcode identifies the kind of a PDU. It occupies the low 6 bits of BHS
// byte 0; bit 6 (0x40) of that byte is the Immediate flag.
type Opcode uint8

const (
	OpNOPOut Opcode = 0x00
	OpSCSICommand Opcode = 0x01
	OpSCSITaskMgmt Opcode = 0x02
	OpLoginRequest Opcode = 0x03
	OpTextRequest Opcode = 0x04
	OpSCSIDataOut Opcode = 0x05
	OpLogoutRequest Opcode = 0x06
	OpSNACKRequest Opcode = 0x10
	OpNOPIn Opcode = 0x20
	OpSCSIResponse Opcode = 0x21
	OpSCSITaskResp Opcode = 0x22
	OpLoginResponse Opcode = 0x23
	OpTextResponse Opcode = 0x24
	OpSCSIDataIn Opcode = 0x25
	OpLogoutResponse Opcode = 0x26
	OpR2T Opcode = 0x31
	OpAsyncMessage Opcode = 0x32
	OpReject Opcode = 0x3f

	opcodeMask = 0x3f
)

func (o Opcode) String() string {
	switch o {
	case OpNOPOut:
		return "NOP-Out"
	case OpSCSICommand:
		return "SCSI Command"
	case OpSCSITaskMgmt:
		return "SCSI Task Management"
	case OpLoginRequest:
		return "Login Request"
	case OpTextRequest:
		return "Text Request"
	case OpSCSIDataOut:
		return "SCSI Data-Out"
	case OpLogoutRequest:
		return "Logout Request"
	case OpSNACKRequest:
		return "SNACK Request"
	case OpNOPIn:
		return "NOP-In"
	case OpSCSIResponse:
		return "SCSI Response"
	case OpSCSITaskResp:
		return "SCSI Task Management Response"
	case OpLoginResponse:
		return "Login Response"
	case OpTextResponse:
		return "Text Response"
	case OpSCSIDataIn:
		return "SCSI Data-In"
	case OpLogoutResponse:
		return "Logout Response"
	case OpR2T:
		return "R2T"
	case OpAsyncMessage:
		return "Async Message"
	case OpReject:
		return "Reject"
	default:
		return "Unknown"
	}
}

// ITTNone is the reserved ITT value used on PDUs that do not belong to any
// in-flight task (unsolicited NOP-In replies, Logout issued without a
// specific task, etc).
const ITTNone uint32 = 0xffffffff

// FinalForITT reports whether a decoded PDU of the given opcode/flags
// completes the in-flight task identified by its ITT. This table is
// authoritative for both the encoder (which sets F/S appropriately) and
// the Connection's dispatcher.
func FinalForITT(op Opcode, final, statusPresent bool) bool {
	switch op {
	case OpLoginResponse:
		return final
	case OpSCSIResponse:
		return true
	case OpSCSIDataIn:
		return final && statusPresent
	case OpR2T:
		return false
	case OpNOPIn:
		return true
	case OpReject:
		return true
	case OpLogoutResponse:
		return true
	case OpTextResponse:
		return final
	default:
		return false
	}
}

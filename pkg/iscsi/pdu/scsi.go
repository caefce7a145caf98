// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pdu

// Task attribute values for the SCSI Command ATTR field (byte 1, bits 2-0).
const (
	AttrUntagged    byte = 0
	AttrSimple      byte = 1
	AttrOrdered     byte = 2
	AttrHeadOfQueue byte = 3
	AttrACA         byte = 4
)

// SCSICommand is the Initiator -> Target command PDU (opcode 0x01).
type SCSICommand struct {
	Header Header
	CDB    [16]byte
	Data   []byte // ImmediateData, if any
}

func NewSCSICommand(itt uint32, lun [8]byte, cdb [16]byte, read, write bool, attr byte, expectedXferLen uint32, cmdSN, expStatSN uint32) *SCSICommand {
	c := &SCSICommand{CDB: cdb}
	c.Header.SetOpcode(OpSCSICommand)
	c.Header.SetFinal(true)
	flags := c.Header.Flags() | (attr & 0x07)
	if read {
		flags |= 0x40
	}
	if write {
		flags |= 0x20
	}
	c.Header.SetFlags(flags)
	c.Header.SetLUN(lun)
	c.Header.SetITT(itt)
	c.Header.SetUint32At(20, expectedXferLen)
	c.Header.SetUint32At(24, cmdSN)
	c.Header.SetUint32At(28, expStatSN)
	copy(c.Header[32:48], cdb[:])
	return c
}

func (c *SCSICommand) Read() bool  { return c.Header.Flags()&0x40 != 0 }
func (c *SCSICommand) Write() bool { return c.Header.Flags()&0x20 != 0 }
func (c *SCSICommand) Attr() byte  { return c.Header.Flags() & 0x07 }

func (c *SCSICommand) ExpectedDataTransferLength() uint32 { return c.Header.Uint32At(20) }
func (c *SCSICommand) CmdSN() uint32                      { return c.Header.Uint32At(24) }
func (c *SCSICommand) ExpStatSN() uint32                  { return c.Header.Uint32At(28) }

// SCSIResponse is the Target -> Initiator final status PDU (opcode 0x21).
type SCSIResponse struct {
	Header Header
	Data   []byte // sense data, if Status != StatusGood
}

// SCSI status codes (SAM-2).
const (
	StatusGood                byte = 0x00
	StatusCheckCondition      byte = 0x02
	StatusConditionMet        byte = 0x04
	StatusBusy                byte = 0x08
	StatusReservationConflict byte = 0x18
	StatusTaskSetFull         byte = 0x28
	StatusACAActive           byte = 0x30
	StatusTaskAborted         byte = 0x40
	ResponseCommandCompleted byte = 0x00
	ResponseTargetFailure    byte = 0x01
)

func (r *SCSIResponse) Response() byte      { return r.Header.ByteAt(2) }
func (r *SCSIResponse) Status() byte        { return r.Header.ByteAt(3) }
func (r *SCSIResponse) ITT() uint32         { return r.Header.ITT() }
func (r *SCSIResponse) StatSN() uint32      { return r.Header.Uint32At(24) }
func (r *SCSIResponse) ExpCmdSN() uint32    { return r.Header.Uint32At(28) }
func (r *SCSIResponse) MaxCmdSN() uint32    { return r.Header.Uint32At(32) }
func (r *SCSIResponse) BidiResidual() uint32 { return r.Header.Uint32At(40) }
func (r *SCSIResponse) Residual() uint32    { return r.Header.Uint32At(44) }

// Success reports whether the command completed with good status.
func (r *SCSIResponse) Success() bool {
	return r.Response() == ResponseCommandCompleted && r.Status() == StatusGood
}

// DataIn is a Target -> Initiator read-data PDU (opcode 0x25). It may
// optionally carry the final status (S bit), in which case no separate
// SCSIResponse follows for that ITT.
type DataIn struct {
	Header Header
	Data   []byte
}

func (d *DataIn) Ack() bool           { return d.Header.Flags()&0x40 != 0 }
func (d *DataIn) StatusPresent() bool { return d.Header.Flags()&0x01 != 0 }
func (d *DataIn) Status() byte        { return d.Header.ByteAt(3) }
func (d *DataIn) TTT() uint32         { return d.Header.Uint32At(20) }
func (d *DataIn) StatSN() uint32      { return d.Header.Uint32At(28) }
func (d *DataIn) ExpCmdSN() uint32    { return d.Header.Uint32At(32) }
func (d *DataIn) MaxCmdSN() uint32    { return d.Header.Uint32At(36) }
func (d *DataIn) DataSN() uint32      { return d.Header.Uint32At(40) }
func (d *DataIn) BufferOffset() uint32 { return d.Header.Uint32At(44) }

// IsFinal reports F=1 AND S=1 per the authoritative finality table.
func (d *DataIn) IsFinal() bool {
	return FinalForITT(OpSCSIDataIn, d.Header.Final(), d.StatusPresent())
}

// DataOut is an Initiator -> Target write-data burst PDU (opcode 0x05).
type DataOut struct {
	Header Header
	Data   []byte
}

func NewDataOut(itt, ttt uint32, lun [8]byte, dataSN uint32, bufferOffset uint32, data []byte, final bool) *DataOut {
	d := &DataOut{Data: data}
	d.Header.SetOpcode(OpSCSIDataOut)
	d.Header.SetFinal(final)
	d.Header.SetLUN(lun)
	d.Header.SetITT(itt)
	d.Header.SetUint32At(20, ttt)
	d.Header.SetUint32At(40, dataSN)
	d.Header.SetUint32At(44, bufferOffset)
	return d
}

func (d *DataOut) TTT() uint32          { return d.Header.Uint32At(20) }
func (d *DataOut) DataSN() uint32       { return d.Header.Uint32At(40) }
func (d *DataOut) BufferOffset() uint32 { return d.Header.Uint32At(44) }

// R2T is a Target -> Initiator solicitation for a Data-Out burst (opcode
// 0x31). Per the finality table it never completes an ITT on its own.
type R2T struct {
	Header Header
}

func (r *R2T) TTT() uint32                     { return r.Header.Uint32At(20) }
func (r *R2T) StatSN() uint32                  { return r.Header.Uint32At(24) }
func (r *R2T) ExpCmdSN() uint32                { return r.Header.Uint32At(28) }
func (r *R2T) MaxCmdSN() uint32                { return r.Header.Uint32At(32) }
func (r *R2T) R2TSN() uint32                   { return r.Header.Uint32At(36) }
func (r *R2T) BufferOffset() uint32            { return r.Header.Uint32At(40) }
func (r *R2T) DesiredDataTransferLength() uint32 { return r.Header.Uint32At(44) }

// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Implements the bijective PDU <-> byte stream conversion: BHS || AHS ||
// [header digest] || data || pad || [data digest].

package pdu

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

// Digests carries the per-connection negotiated digest settings. It is
// read-only after Login reaches Full-Feature.
type Digests struct {
	Header DigestType
	Data   DigestType
}

var (
	ErrTooLargeDataSegment = errors.New("iscsi: data segment exceeds 24-bit length field")
	ErrTruncatedPDU        = errors.New("iscsi: truncated PDU on the wire")
)

// Encode serializes a Header, its AHS bytes (already padded to a multiple
// of 4 by the caller) and a data segment into the wire representation,
// applying digests per ds.
func Encode(h *Header, ahs []byte, data []byte, ds Digests) ([]byte, error) {
	if len(data) > 1<<24-1 {
		return nil, ErrTooLargeDataSegment
	}
	hh := *h
	hh.SetTotalAHSLength(len(ahs) / 4)
	hh.SetDataSegmentLength(len(data))

	buf := bytes.Buffer{}
	buf.Write(hh[:])
	buf.Write(ahs)

	if ds.Header == DigestCRC32C {
		d := ComputeDigest(buf.Bytes())
		buf.Write(d[:])
	}

	buf.Write(data)
	if pad := PadLen(len(data)); pad > 0 {
		buf.Write(make([]byte, pad))
	}

	if ds.Data == DigestCRC32C && len(data) > 0 {
		padded := make([]byte, len(data)+PadLen(len(data)))
		copy(padded, data)
		d := ComputeDigest(padded)
		buf.Write(d[:])
	}

	return buf.Bytes(), nil
}

// Decoded is the product of Decode: the raw header plus AHS and data
// segment slices. Opcode-specific typed accessors operate on Header
// directly; Data is the application payload with padding stripped.
type Decoded struct {
	Header Header
	AHS    []byte
	Data   []byte
}

// Decode reads exactly one PDU from r, verifying digests per ds. It
// returns a digest-mismatch error (via ErrDigestMismatch) or
// ErrTruncatedPDU on a short read, both fatal for the connection.
func Decode(r io.Reader, ds Digests) (*Decoded, error) {
	var hdr Header
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("iscsi: read BHS: %w", ErrTruncatedPDU)
	}

	ahsLen := hdr.TotalAHSLength() * 4
	var ahs []byte
	if ahsLen > 0 {
		ahs = make([]byte, ahsLen)
		if _, err := io.ReadFull(r, ahs); err != nil {
			return nil, fmt.Errorf("iscsi: read AHS: %w", ErrTruncatedPDU)
		}
	}

	if ds.Header == DigestCRC32C {
		var onWire [4]byte
		if _, err := io.ReadFull(r, onWire[:]); err != nil {
			return nil, fmt.Errorf("iscsi: read header digest: %w", ErrTruncatedPDU)
		}
		covered := append(append([]byte{}, hdr[:]...), ahs...)
		if err := VerifyDigest(covered, onWire); err != nil {
			return nil, err
		}
	}

	dataLen := hdr.DataSegmentLength()
	padded := dataLen + PadLen(dataLen)
	var data []byte
	if padded > 0 {
		data = make([]byte, padded)
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, fmt.Errorf("iscsi: read data segment: %w", ErrTruncatedPDU)
		}
	}

	if ds.Data == DigestCRC32C && dataLen > 0 {
		var onWire [4]byte
		if _, err := io.ReadFull(r, onWire[:]); err != nil {
			return nil, fmt.Errorf("iscsi: read data digest: %w", ErrTruncatedPDU)
		}
		if err := VerifyDigest(data, onWire); err != nil {
			return nil, err
		}
	}

	return &Decoded{Header: hdr, AHS: ahs, Data: data[:dataLen]}, nil
}

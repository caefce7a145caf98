// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pdu

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
)

// DigestType selects whether a connection negotiated header and/or data
// digests. No third-party CRC-32C implementation in the retrieval pack
// improves on hash/crc32's Castagnoli table (a fixed-function, allocation
// free digest); see DESIGN.md for why this stays on the standard library.
type DigestType int

const (
	DigestNone DigestType = iota
	DigestCRC32C
)

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// ErrDigestMismatch is returned by VerifyDigest when the computed CRC-32C
// does not match the digest carried on the wire.
var ErrDigestMismatch = errors.New("iscsi: header or data digest mismatch")

// ComputeDigest returns the CRC-32C of b, encoded little-endian as required
// by RFC 7143 §4.2.2.6 (the digest value itself is transmitted in network
// byte order as a 32-bit *little-endian* integer, unlike every other
// numeric BHS field).
func ComputeDigest(b []byte) [4]byte {
	sum := crc32.Checksum(b, crc32cTable)
	var out [4]byte
	binary.LittleEndian.PutUint32(out[:], sum)
	return out
}

// VerifyDigest recomputes the CRC-32C of covered and compares it against
// the 4-byte digest read off the wire.
func VerifyDigest(covered []byte, onWire [4]byte) error {
	if ComputeDigest(covered) != onWire {
		return ErrDigestMismatch
	}
	return nil
}

// PadLen returns the number of zero bytes needed to round n up to the next
// 4-byte boundary, as required for every data segment.
func PadLen(n int) int {
	if r := n % 4; r != 0 {
		return 4 - r
	}
	return 0
}

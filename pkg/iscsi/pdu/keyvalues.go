// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pdu

import (
	"bytes"
	"strings"
)

// KeyValues is the decoded form of a Login/Text text-key segment: a
// NUL-separated, NUL-terminated sequence of "Key=Value" pairs. Order is
// preserved and duplicates are allowed on decode so that "later values
// override earlier ones" can be implemented by the caller scanning the
// slice in order, the same linear scan-and-switch shape as the teacher's
// parseHostProperties/parseTPerProperties in pkg/core/session.go.
type KeyValues []KeyValue

type KeyValue struct {
	Key, Value string
}

// Get returns the last value associated with key, mirroring the
// "later values override earlier ones" rule.
func (kv KeyValues) Get(key string) (string, bool) {
	val, ok := "", false
	for _, p := range kv {
		if p.Key == key {
			val, ok = p.Value, true
		}
	}
	return val, ok
}

func (kv *KeyValues) Set(key, value string) {
	*kv = append(*kv, KeyValue{key, value})
}

// Encode renders the key-value list as the wire text segment: each pair
// joined by '=', pairs separated and terminated by NUL.
func (kv KeyValues) Encode() []byte {
	buf := bytes.Buffer{}
	for _, p := range kv {
		buf.WriteString(p.Key)
		buf.WriteByte('=')
		buf.WriteString(p.Value)
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

// DecodeKeyValues parses a text segment into an ordered KeyValues list.
// Trailing NULs and a final empty segment (from 4-byte data-segment
// padding) are tolerated.
func DecodeKeyValues(b []byte) KeyValues {
	var out KeyValues
	for _, seg := range bytes.Split(b, []byte{0}) {
		if len(seg) == 0 {
			continue
		}
		kv := strings.SplitN(string(seg), "=", 2)
		if len(kv) != 2 {
			continue
		}
		out = append(out, KeyValue{kv[0], kv[1]})
	}
	return out
}

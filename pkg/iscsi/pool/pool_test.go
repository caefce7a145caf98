// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pool

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/open-iscsi-go/initiator/pkg/iscsi/config"
	"github.com/open-iscsi-go/initiator/pkg/iscsi/conn"
	"github.com/open-iscsi-go/initiator/pkg/iscsi/pdu"
	"github.com/open-iscsi-go/initiator/pkg/iscsi/scsi"
)

func testConfig() *config.SessionConfig {
	return config.New("iqn.test.initiator", "iqn.test.target", "127.0.0.1")
}

// fakeTarget drives the far end of a net.Pipe well enough to answer a
// plain login, a single READ(10), and a logout — exercising the full
// Pool -> login -> scsi stack without a real socket. pdu.Parse only
// covers opcodes the initiator receives, so request-side opcodes here are
// read straight off the decoded header instead.
func fakeTarget(t *testing.T, peer net.Conn, payload []byte) {
	t.Helper()
	for {
		dec, err := pdu.Decode(peer, pdu.Digests{})
		if err != nil {
			return
		}
		itt := dec.Header.ITT()
		switch dec.Header.Opcode() {
		case pdu.OpLoginRequest:
			cmdSN := dec.Header.Uint32At(24)
			var resp pdu.LoginResponse
			resp.Header.SetOpcode(pdu.OpLoginResponse)
			resp.Header.SetFlags((pdu.StageLoginOperationalNeg&0x03)<<2 | (pdu.StageFullFeaturePhase & 0x03) | 0x80)
			resp.Header.SetITT(itt)
			resp.Header.SetByteAt(36, 0)
			resp.Header.SetUint32At(24, 1)
			resp.Header.SetUint32At(28, cmdSN+1)
			resp.Header.SetUint32At(32, cmdSN+1)
			wire, err := pdu.Encode(&resp.Header, nil, nil, pdu.Digests{})
			if err != nil {
				t.Errorf("fakeTarget: encode login response: %v", err)
				return
			}
			if _, err := peer.Write(wire); err != nil {
				return
			}
		case pdu.OpSCSICommand:
			var in pdu.DataIn
			in.Header.SetOpcode(pdu.OpSCSIDataIn)
			in.Header.SetFinal(true)
			in.Header.SetFlags(in.Header.Flags() | 0x01) // S=1
			in.Header.SetITT(itt)
			in.Header.SetUint32At(28, 1) // StatSN
			in.Data = payload
			wire, err := pdu.Encode(&in.Header, nil, payload, pdu.Digests{})
			if err != nil {
				t.Errorf("fakeTarget: encode data-in: %v", err)
				return
			}
			if _, err := peer.Write(wire); err != nil {
				return
			}
		case pdu.OpLogoutRequest:
			var resp pdu.LogoutResponse
			resp.Header.SetOpcode(pdu.OpLogoutResponse)
			resp.Header.SetFinal(true)
			resp.Header.SetITT(itt)
			resp.Header.SetUint32At(24, 2)
			wire, err := pdu.Encode(&resp.Header, nil, nil, pdu.Digests{})
			if err != nil {
				t.Errorf("fakeTarget: encode logout response: %v", err)
				return
			}
			peer.Write(wire)
			return
		default:
			t.Errorf("fakeTarget: unexpected opcode %v", dec.Header.Opcode())
			return
		}
	}
}

func TestPool_OpenExecuteClose(t *testing.T) {
	client, target := net.Pipe()
	payload := []byte("eight-blocks-of-sixty-four-bytes-each-arriving-in-one-data-in-pdu")
	done := make(chan struct{})
	go func() {
		fakeTarget(t, target, payload)
		close(done)
	}()

	p := New()
	p.dial = func(ctx context.Context, address string, port uint16) (net.Conn, error) {
		return client, nil
	}

	cfg := testConfig()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	tsih, cid, err := p.OpenSessionAndLogin(ctx, cfg, WithISID([6]byte{1, 2, 3, 4, 5, 6}), WithCID(42))
	if err != nil {
		t.Fatalf("OpenSessionAndLogin() = %v", err)
	}
	if cid != 42 {
		t.Errorf("cid = %d, want 42 (WithCID should pin it instead of auto-assigning)", cid)
	}

	result, err := ExecuteWith(ctx, p, tsih, cid, func(c *conn.Connection, counters *conn.Counters) FSM[*scsi.ReadResult] {
		return func(ctx context.Context) (*scsi.ReadResult, error) {
			return scsi.Read(ctx, c, counters, scsi.ReadParams{ExpectedLen: uint32(len(payload))})
		}
	})
	if err != nil {
		t.Fatalf("ExecuteWith() = %v", err)
	}
	if string(result.Data) != string(payload) {
		t.Errorf("Read data = %q, want %q", result.Data, payload)
	}

	if err := p.CloseSession(ctx, tsih, cid); err != nil {
		t.Fatalf("CloseSession() = %v", err)
	}
	<-done
}

// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package login drives the Login state machine: plain login in a single
// round trip, or the four-exchange CHAP handshake, generalized from the
// teacher's ExecuteMethod request/response loop in
// pkg/core/communication.go into a fixed sequence of Login
// Request/Response exchanges driven by a single Run entry point over a
// narrow Sender capability.
package login

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/open-iscsi-go/initiator/pkg/iscsi/conn"
	"github.com/open-iscsi-go/initiator/pkg/iscsi/pdu"
)

// Sender is the narrow capability the FSM is driven over: send one Login
// Request, await the next event for its ITT. Tests supply a fake that
// never touches a real socket.
type Sender interface {
	Send(h *pdu.Header, ahs, data []byte) error
	Submit(itt uint32) (*conn.Task, error)
	ActivateDigests(d pdu.Digests)
}

// Counters is the narrow slice of conn.Counters the FSM needs.
type Counters interface {
	NextITT() uint32
}

// ErrRejected is returned when the target's Status-Class is non-zero; the
// FSM does not retry.
type ErrRejected struct {
	Class, Detail byte
}

func (e *ErrRejected) Error() string {
	return fmt.Sprintf("iscsi: login rejected: class=0x%02x detail=0x%02x", e.Class, e.Detail)
}

var (
	ErrNoCommonAuthMethod = errors.New("iscsi: target did not offer CHAP")
	ErrMalformedCHAPKeys  = errors.New("iscsi: malformed CHAP_I/CHAP_C from target")
)

// Auth configures CHAP. A nil Auth drives a plain login straight to
// Operational/FullFeature.
type Auth struct {
	Username string
	Secret   string
}

// Params are the caller-supplied negotiation inputs for one login attempt.
type Params struct {
	InitiatorName string
	TargetName    string
	ISID          [6]byte
	CID           uint16
	HeaderDigest  bool
	DataDigest    bool
	Auth          *Auth

	// Extra operational keys sent verbatim on the final exchange
	// (MaxRecvDataSegmentLength, FirstBurstLength, MaxBurstLength,
	// ImmediateData, InitialR2T, ...).
	Operational map[string]string
}

// Status is the FSM's successful outcome.
type Status struct {
	TSIH      uint16
	StatSN    uint32
	ExpCmdSN  uint32
	MaxCmdSN  uint32
	Keys      pdu.KeyValues
}

// Run drives the Login FSM to completion over s, using itt from counters
// for every PDU in the exchange (a single ITT spans the whole sequence,
// matching a single in-flight Login task).
func Run(ctx context.Context, s Sender, counters Counters, expStatSN uint32, p Params) (*Status, error) {
	itt := counters.NextITT()
	task, err := s.Submit(itt)
	if err != nil {
		return nil, err
	}
	defer task.Cancel()

	var negotiated pdu.KeyValues
	cmdSN := uint32(0)

	if p.Auth != nil {
		resp, err := exchange(ctx, s, task, itt, p.ISID, p.CID, cmdSN, expStatSN,
			pdu.StageSecurityNegotiation, pdu.StageSecurityNegotiation, false, false,
			pdu.KeyValues{
				{Key: "InitiatorName", Value: p.InitiatorName},
				{Key: "TargetName", Value: p.TargetName},
				{Key: "SessionType", Value: "Normal"},
				{Key: "AuthMethod", Value: "CHAP,None"},
			})
		if err != nil {
			return nil, err
		}
		negotiated, cmdSN, expStatSN = mergeKeys(negotiated, resp), cmdSN+1, resp.StatSN()+1
		if v, ok := resp.Keys.Get("AuthMethod"); !ok || v != "CHAP" {
			return nil, ErrNoCommonAuthMethod
		}

		resp, err = exchange(ctx, s, task, itt, p.ISID, p.CID, cmdSN, expStatSN,
			pdu.StageSecurityNegotiation, pdu.StageSecurityNegotiation, false, false,
			pdu.KeyValues{{Key: "CHAP_A", Value: "5"}})
		if err != nil {
			return nil, err
		}
		negotiated, cmdSN, expStatSN = mergeKeys(negotiated, resp), cmdSN+1, resp.StatSN()+1

		chapI, okI := resp.Keys.Get("CHAP_I")
		chapC, okC := resp.Keys.Get("CHAP_C")
		if !okI || !okC {
			return nil, ErrMalformedCHAPKeys
		}
		id, err := parseCHAPOctet(chapI)
		if err != nil {
			return nil, fmt.Errorf("%w: CHAP_I: %v", ErrMalformedCHAPKeys, err)
		}
		challenge, err := parseCHAPHex(chapC)
		if err != nil {
			return nil, fmt.Errorf("%w: CHAP_C: %v", ErrMalformedCHAPKeys, err)
		}
		response := ComputeCHAPResponse(id, p.Auth.Secret, challenge)

		resp, err = exchange(ctx, s, task, itt, p.ISID, p.CID, cmdSN, expStatSN,
			pdu.StageSecurityNegotiation, pdu.StageLoginOperationalNeg, true, false,
			pdu.KeyValues{
				{Key: "CHAP_N", Value: p.Auth.Username},
				{Key: "CHAP_R", Value: response},
			})
		if err != nil {
			return nil, err
		}
		negotiated, cmdSN, expStatSN = mergeKeys(negotiated, resp), cmdSN+1, resp.StatSN()+1
	}

	keys := operationalKeys(p)
	if p.Auth == nil {
		keys = append(pdu.KeyValues{
			{Key: "InitiatorName", Value: p.InitiatorName},
			{Key: "TargetName", Value: p.TargetName},
			{Key: "SessionType", Value: "Normal"},
		}, keys...)
	}
	resp, err := exchange(ctx, s, task, itt, p.ISID, p.CID, cmdSN, expStatSN,
		pdu.StageLoginOperationalNeg, pdu.StageFullFeaturePhase, true, false, keys)
	if err != nil {
		return nil, err
	}
	negotiated = mergeKeys(negotiated, resp)

	activateDigests(s, negotiated, p)

	return &Status{
		TSIH:     resp.TSIH(),
		StatSN:   resp.StatSN(),
		ExpCmdSN: resp.ExpCmdSN(),
		MaxCmdSN: resp.MaxCmdSN(),
		Keys:     negotiated,
	}, nil
}

func operationalKeys(p Params) pdu.KeyValues {
	keys := pdu.KeyValues{
		{Key: "HeaderDigest", Value: digestProposal(p.HeaderDigest)},
		{Key: "DataDigest", Value: digestProposal(p.DataDigest)},
	}
	for k, v := range p.Operational {
		keys = append(keys, pdu.KeyValue{Key: k, Value: v})
	}
	return keys
}

func digestProposal(want bool) string {
	if want {
		return "CRC32C,None"
	}
	return "None"
}

// exchange sends one Login Request and waits for its Login Response,
// failing fatally on a non-zero Status-Class.
func exchange(ctx context.Context, s Sender, task *conn.Task, itt uint32, isid [6]byte, cid uint16, cmdSN, expStatSN uint32, csg, nsg byte, transit, cont bool, keys pdu.KeyValues) (*pdu.LoginResponse, error) {
	req := pdu.NewLoginRequest(itt, isid, 0, cid, csg, nsg, transit, cont, cmdSN, expStatSN, keys)
	if err := s.Send(&req.Header, nil, keys.Encode()); err != nil {
		return nil, err
	}
	ev, err := task.Next(ctx)
	if err != nil {
		return nil, err
	}
	resp, ok := ev.Typed.(*pdu.LoginResponse)
	if !ok {
		return nil, fmt.Errorf("iscsi: login: unexpected PDU %T", ev.Typed)
	}
	if resp.StatusClass() != 0 {
		return nil, &ErrRejected{Class: resp.StatusClass(), Detail: resp.StatusDetail()}
	}
	return resp, nil
}

func mergeKeys(acc pdu.KeyValues, resp *pdu.LoginResponse) pdu.KeyValues {
	return append(acc, resp.Keys...)
}

// activateDigests switches the connection's header/data digest settings
// at the boundary the FSM itself defines: the first PDU sent after this
// call (i.e. immediately on Full-Feature entry, since the initiator is
// always the side driving the final T=1 transition in this client-only
// design).
func activateDigests(s Sender, negotiated pdu.KeyValues, p Params) {
	hd := pdu.DigestNone
	if v, ok := negotiated.Get("HeaderDigest"); ok && v == "CRC32C" {
		hd = pdu.DigestCRC32C
	}
	dd := pdu.DigestNone
	if v, ok := negotiated.Get("DataDigest"); ok && v == "CRC32C" {
		dd = pdu.DigestCRC32C
	}
	s.ActivateDigests(pdu.Digests{Header: hd, Data: dd})
}

// ComputeCHAPResponse implements RFC 1994's MD5(id || secret || challenge),
// encoded as uppercase hex with a 0x prefix per the target's wire
// convention.
func ComputeCHAPResponse(id byte, secret string, challenge []byte) string {
	h := md5.New()
	h.Write([]byte{id})
	h.Write([]byte(secret))
	h.Write(challenge)
	sum := h.Sum(nil)
	return "0x" + strings.ToUpper(hex.EncodeToString(sum))
}

func parseCHAPOctet(s string) (byte, error) {
	if rest, ok := strings.CutPrefix(s, "0x"); ok {
		v, err := strconv.ParseUint(rest, 16, 8)
		return byte(v), err
	}
	v, err := strconv.ParseUint(s, 10, 8)
	return byte(v), err
}

func parseCHAPHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	return hex.DecodeString(s)
}

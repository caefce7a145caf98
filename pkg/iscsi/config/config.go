// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config holds the caller-supplied options a Pool consumes to
// open and log into a session, grounded on the functional-option pattern
// the teacher uses for ControlSessionOpt/SessionOpt (pkg/core/session.go).
package config

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

// AuthMethod selects the authentication scheme for Login.
type AuthMethod int

const (
	AuthNone AuthMethod = iota
	AuthCHAP
)

// Auth configures CHAP, including the optional mutual (target-authenticates-
// to-initiator) direction.
type Auth struct {
	Method AuthMethod

	Username string
	Secret   string

	MutualUsername string
	MutualSecret   string
}

// SessionConfig is the full set of recognized options for one session.
type SessionConfig struct {
	InitiatorName string
	TargetName    string
	TargetAddress string
	TargetPort    uint16

	Auth Auth

	HeaderDigest bool
	DataDigest   bool

	MaxRecvDataSegmentLength uint32
	FirstBurstLength         uint32
	MaxBurstLength           uint32
	ImmediateData            bool
	InitialR2T               bool

	LoginTimeout time.Duration
	IOTimeout    time.Duration
}

// Defaults mirror the values RFC 7143 declares as default key values.
const (
	DefaultMaxRecvDataSegmentLength uint32 = 8192
	DefaultFirstBurstLength         uint32 = 65536
	DefaultMaxBurstLength           uint32 = 262144
	DefaultLoginTimeout                    = 15 * time.Second
	DefaultIOTimeout                       = 30 * time.Second
)

// Option mutates a SessionConfig being built by New.
type Option func(*SessionConfig)

// New builds a SessionConfig from the required initiator/target identity
// plus any Options, applying RFC defaults for everything left unset.
func New(initiatorName, targetName, targetAddress string, opts ...Option) *SessionConfig {
	c := &SessionConfig{
		InitiatorName:            initiatorName,
		TargetName:               targetName,
		TargetAddress:            targetAddress,
		MaxRecvDataSegmentLength: DefaultMaxRecvDataSegmentLength,
		FirstBurstLength:         DefaultFirstBurstLength,
		MaxBurstLength:           DefaultMaxBurstLength,
		ImmediateData:            true,
		InitialR2T:               true,
		LoginTimeout:             DefaultLoginTimeout,
		IOTimeout:                DefaultIOTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func WithTargetPort(port uint16) Option {
	return func(c *SessionConfig) { c.TargetPort = port }
}

func WithCHAP(username, secret string) Option {
	return func(c *SessionConfig) {
		c.Auth = Auth{Method: AuthCHAP, Username: username, Secret: secret}
	}
}

// chapPBKDF2Iterations and chapPBKDF2KeyLen match the teacher's
// hash.HashSedutilDTA call shape; only the salt source differs (a target
// name instead of a drive serial number, since there is no drive here).
const (
	chapPBKDF2Iterations = 75000
	chapPBKDF2KeyLen     = 32
)

// DeriveCHAPSecret hardens a human passphrase into a CHAP secret with
// PBKDF2-HMAC-SHA1, salted on the target name. This is not part of RFC
// 1994 (which just compares whatever secret the two sides share); it is an
// optional convenience for callers who would otherwise store a low-entropy
// passphrase verbatim, grounded on the teacher's
// hash.HashSedutilDTA(password, serial) — same library, same iteration
// count and key length, with the drive serial number's role as salt played
// here by the target's iqn.
func DeriveCHAPSecret(passphrase, targetName string) string {
	salt := fmt.Sprintf("%-20s", targetName)
	if len(salt) > 20 {
		salt = salt[:20]
	}
	key := pbkdf2.Key([]byte(passphrase), []byte(salt), chapPBKDF2Iterations, chapPBKDF2KeyLen, sha1.New)
	return hex.EncodeToString(key)
}

// WithCHAPPassphrase is like WithCHAP, but accepts a human passphrase and
// runs it through DeriveCHAPSecret instead of using it as the CHAP secret
// directly.
func WithCHAPPassphrase(username, passphrase, targetName string) Option {
	return WithCHAP(username, DeriveCHAPSecret(passphrase, targetName))
}

func WithMutualCHAP(mutualUsername, mutualSecret string) Option {
	return func(c *SessionConfig) {
		c.Auth.MutualUsername = mutualUsername
		c.Auth.MutualSecret = mutualSecret
	}
}

func WithDigests(header, data bool) Option {
	return func(c *SessionConfig) {
		c.HeaderDigest = header
		c.DataDigest = data
	}
}

func WithMaxRecvDataSegmentLength(n uint32) Option {
	return func(c *SessionConfig) { c.MaxRecvDataSegmentLength = n }
}

func WithBurstLengths(firstBurst, maxBurst uint32) Option {
	return func(c *SessionConfig) {
		c.FirstBurstLength = firstBurst
		c.MaxBurstLength = maxBurst
	}
}

func WithImmediateData(v bool) Option {
	return func(c *SessionConfig) { c.ImmediateData = v }
}

func WithInitialR2T(v bool) Option {
	return func(c *SessionConfig) { c.InitialR2T = v }
}

func WithTimeouts(login, io time.Duration) Option {
	return func(c *SessionConfig) {
		c.LoginTimeout = login
		c.IOTimeout = io
	}
}

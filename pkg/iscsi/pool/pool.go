// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pool owns sessions and lends execution slots to callers,
// generalizing the teacher's ControlSession/Session pair
// (pkg/core/session.go) from one TCG Storage session per drive handle
// into many concurrent iSCSI sessions, each multiplexed over its own
// Connection and addressed by (TSIH, CID) instead of a single implicit
// drive.
package pool

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/open-iscsi-go/initiator/pkg/iscsi/config"
	"github.com/open-iscsi-go/initiator/pkg/iscsi/conn"
	"github.com/open-iscsi-go/initiator/pkg/iscsi/login"
	"github.com/open-iscsi-go/initiator/pkg/iscsi/pdu"
	"github.com/open-iscsi-go/initiator/pkg/iscsi/transport"
)

var (
	// ErrPoolClosed is returned by OpenSessionAndLogin once Shutdown has
	// been called; the Pool stops accepting new work immediately.
	ErrPoolClosed = errors.New("iscsi: pool is shut down")
	// ErrUnknownSession is returned by ExecuteWith for a (TSIH, CID) pair
	// the Pool never opened, or already closed.
	ErrUnknownSession = errors.New("iscsi: unknown session")
)

// Metrics is the narrow observability seam a Pool reports into. A nil
// Metrics is fine; every method becomes a no-op.
type Metrics interface {
	SessionOpened()
	SessionClosed()
	TaskStarted()
	TaskFinished(err error)
}

type noopMetrics struct{}

func (noopMetrics) SessionOpened()        {}
func (noopMetrics) SessionClosed()        {}
func (noopMetrics) TaskStarted()          {}
func (noopMetrics) TaskFinished(error)    {}

type sessionKey struct {
	tsih uint16
	cid  uint16
}

type session struct {
	conn     *conn.Connection
	counters *conn.Counters
	cfg      *config.SessionConfig
}

// Pool owns one or more logged-in sessions and lends out execution slots
// against them. The zero value is not usable; construct with New.
type Pool struct {
	metrics Metrics

	mu       sync.Mutex
	sessions map[sessionKey]*session
	closed   bool

	nextCID uint32

	wg sync.WaitGroup // in-flight ExecuteWith calls, for graceful Shutdown

	// dial is overridden in tests to hand back an in-memory net.Conn
	// instead of a real TCP socket.
	dial func(ctx context.Context, address string, port uint16) (net.Conn, error)
}

// Option configures a Pool at construction time.
type Option func(*Pool)

// WithMetrics attaches a Metrics sink; without it, metrics calls are a
// no-op.
func WithMetrics(m Metrics) Option {
	return func(p *Pool) {
		if m == nil {
			m = noopMetrics{}
		}
		p.metrics = m
	}
}

// New builds an empty Pool.
func New(opts ...Option) *Pool {
	p := &Pool{
		metrics:  noopMetrics{},
		sessions: make(map[sessionKey]*session),
		dial:     transport.Dial,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// sessionOpenParams is what the SessionOption variadic builds up; zero
// value means "let the Pool choose" for every field it supports.
type sessionOpenParams struct {
	isid    [6]byte
	cid     uint16
	haveCID bool
}

// SessionOption configures one OpenSessionAndLogin call, generalizing
// the teacher's SessionOpt/ControlSessionOpt pattern (pkg/core/session.go)
// from per-Session knobs (WithHSN, WithReadOnly) to the iSCSI identifiers
// a caller may need to pin: the initiator session ID and connection ID.
type SessionOption func(*sessionOpenParams)

// WithISID pins the initiator portion of the Session Identifier. Without
// it, OpenSessionAndLogin uses the zero ISID, which is fine for a single
// session per initiator/target pair but must be distinct across
// concurrent sessions to the same target if the target enforces
// uniqueness on (ISID, TargetName).
func WithISID(isid [6]byte) SessionOption {
	return func(p *sessionOpenParams) { p.isid = isid }
}

// WithCID pins the connection ID used for this login instead of letting
// the Pool assign the next one internally. Needed when a caller is
// adding a connection to an already-established session (MC/S) rather
// than opening a brand new one.
func WithCID(cid uint16) SessionOption {
	return func(p *sessionOpenParams) { p.cid = cid; p.haveCID = true }
}

// OpenSessionAndLogin dials cfg's target, drives the Login FSM to
// Full-Feature Phase, and registers the resulting session under a CID
// (the Pool's own counter by default, or the one pinned with WithCID).
// The returned (tsih, cid) is the key every subsequent ExecuteWith call
// uses.
func (p *Pool) OpenSessionAndLogin(ctx context.Context, cfg *config.SessionConfig, opts ...SessionOption) (tsih uint16, cid uint16, err error) {
	var params sessionOpenParams
	for _, opt := range opts {
		opt(&params)
	}

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return 0, 0, ErrPoolClosed
	}

	t, err := p.dial(ctx, cfg.TargetAddress, cfg.TargetPort)
	if err != nil {
		return 0, 0, fmt.Errorf("iscsi: dial: %w", err)
	}

	counters := conn.NewCounters(0, 0)
	c := conn.Connect(t, counters, conn.Options{
		ReadTimeout:  cfg.IOTimeout,
		WriteTimeout: cfg.IOTimeout,
	})

	connCID := params.cid
	if !params.haveCID {
		connCID = uint16(atomic.AddUint32(&p.nextCID, 1))
	}

	loginParams := login.Params{
		InitiatorName: cfg.InitiatorName,
		TargetName:    cfg.TargetName,
		ISID:          params.isid,
		CID:           connCID,
		HeaderDigest:  cfg.HeaderDigest,
		DataDigest:    cfg.DataDigest,
		Operational: map[string]string{
			"MaxRecvDataSegmentLength": fmt.Sprintf("%d", cfg.MaxRecvDataSegmentLength),
			"FirstBurstLength":         fmt.Sprintf("%d", cfg.FirstBurstLength),
			"MaxBurstLength":           fmt.Sprintf("%d", cfg.MaxBurstLength),
			"ImmediateData":            yesNo(cfg.ImmediateData),
			"InitialR2T":               yesNo(cfg.InitialR2T),
		},
	}
	if cfg.Auth.Method == config.AuthCHAP {
		loginParams.Auth = &login.Auth{Username: cfg.Auth.Username, Secret: cfg.Auth.Secret}
	}

	loginCtx := ctx
	var cancel context.CancelFunc
	if cfg.LoginTimeout > 0 {
		loginCtx, cancel = context.WithTimeout(ctx, cfg.LoginTimeout)
		defer cancel()
	}

	status, err := login.Run(loginCtx, c, counters, 0, loginParams)
	if err != nil {
		c.Close()
		return 0, 0, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		c.Close()
		return 0, 0, ErrPoolClosed
	}
	key := sessionKey{tsih: status.TSIH, cid: connCID}
	p.sessions[key] = &session{conn: c, counters: counters, cfg: cfg}
	p.metrics.SessionOpened()
	return status.TSIH, connCID, nil
}

// FSM is the continuation ExecuteWith's builder returns: a value that
// drives the FSM to completion when invoked. build_fsm in the spec is
// split in two calls here — build, then run — purely so the FSM's
// constructor (which closes over the Connection and Counters) is a
// distinct, independently testable value from the run itself.
type FSM[T any] func(ctx context.Context) (T, error)

// ExecuteWith looks up the session for (tsih, cid), builds the caller's
// FSM against its Connection and Counters, and runs it to completion.
// The spec's (&Connection, &AtomicCounter<ITT>, &AtomicCounter<CmdSN>,
// &AtomicCounter<ExpStatSN>) is collapsed to (*conn.Connection,
// *conn.Counters): the three atomics are always used together, and
// conn.Counters already is that bundle.
func ExecuteWith[T any](ctx context.Context, p *Pool, tsih, cid uint16, build func(c *conn.Connection, counters *conn.Counters) FSM[T]) (T, error) {
	var zero T

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return zero, ErrPoolClosed
	}
	s, ok := p.sessions[sessionKey{tsih: tsih, cid: cid}]
	if !ok {
		p.mu.Unlock()
		return zero, ErrUnknownSession
	}
	p.wg.Add(1)
	p.mu.Unlock()
	defer p.wg.Done()

	p.metrics.TaskStarted()
	fsm := build(s.conn, s.counters)
	result, err := fsm(ctx)
	p.metrics.TaskFinished(err)
	return result, err
}

// CloseSession logs out and tears down one (tsih, cid) pair without
// affecting the rest of the Pool.
func (p *Pool) CloseSession(ctx context.Context, tsih, cid uint16) error {
	p.mu.Lock()
	key := sessionKey{tsih: tsih, cid: cid}
	s, ok := p.sessions[key]
	if ok {
		delete(p.sessions, key)
	}
	p.mu.Unlock()
	if !ok {
		return ErrUnknownSession
	}
	err := logout(ctx, s)
	s.conn.Close()
	p.metrics.SessionClosed()
	return err
}

// Shutdown stops accepting new ExecuteWith-reachable work implicitly (by
// way of every session being torn down), drains in-flight tasks bounded
// by grace, sends Logout on every remaining connection, and closes them.
func (p *Pool) Shutdown(ctx context.Context, grace time.Duration) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	sessions := p.sessions
	p.sessions = make(map[sessionKey]*session)
	p.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(grace):
	}

	var firstErr error
	for _, s := range sessions {
		if err := logout(ctx, s); err != nil && firstErr == nil {
			firstErr = err
		}
		s.conn.Close()
		p.metrics.SessionClosed()
	}
	return firstErr
}

func logout(ctx context.Context, s *session) error {
	itt := s.counters.NextITT()
	task, err := s.conn.Submit(itt)
	if err != nil {
		return err
	}
	defer task.Cancel()

	cmdSN := s.counters.ReserveCmdSN()
	expStatSN := s.counters.ExpStatSN()
	req := pdu.NewLogoutRequest(itt, pdu.LogoutCloseSession, 0, cmdSN, expStatSN)
	if err := s.conn.Send(&req.Header, nil, nil); err != nil {
		return err
	}

	ev, err := task.Next(ctx)
	if err != nil {
		return err
	}
	if _, ok := ev.Typed.(*pdu.LogoutResponse); !ok {
		return fmt.Errorf("iscsi: logout: unexpected PDU %T", ev.Typed)
	}
	return nil
}

func yesNo(v bool) string {
	if v {
		return "Yes"
	}
	return "No"
}

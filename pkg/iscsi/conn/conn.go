// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Connection multiplexes a single TCP stream into PDUs, dispatches
// responses by ITT, and handles unsolicited NOP-In auto-reply —
// generalizing the teacher's plainCom.Send/Receive split
// (pkg/core/communication.go) from a single synchronous
// request/response call site into genuine full duplex, with the read
// half run by its own goroutine instead of being polled from inside
// ExecuteMethod.
package conn

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/open-iscsi-go/initiator/pkg/iscsi/pdu"
)

// Logger is the narrow logging sink the core consumes; the default is a
// no-op so the core never forces a dependency on any particular logging
// library onto callers that don't supply one.
type Logger interface {
	Debugf(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

type nopLogger struct{}

func (nopLogger) Debugf(string, ...interface{}) {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}

// Transport is the narrow capability a Connection is built on: a
// bidirectional byte stream plus per-call deadlines, grounded on the
// teacher's DriveIntf (pkg/drive/drive.go) but generalized from an
// IFSend/IFRecv security-protocol ioctl pair to a plain net.Conn-shaped
// stream, since this transport is TCP rather than a local device.
type Transport interface {
	io.Reader
	io.Writer
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

var (
	// ErrTimeout is reported when the reader cannot arm its read
	// deadline. Fatal for the connection. An expired read deadline
	// surfaces as a decode error wrapping pdu.ErrTruncatedPDU, and an
	// expired write deadline as the write error returned by Send.
	ErrTimeout = errors.New("iscsi: operation timed out")
	// ErrProtocol surfaces an ordering/finality violation. Fatal.
	ErrProtocol = errors.New("iscsi: protocol invariant violated")
)

// Options configures a Connection beyond its Transport and Counters.
type Options struct {
	Logger       Logger
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

const (
	DefaultReadTimeout  = 30 * time.Second
	DefaultWriteTimeout = 10 * time.Second
)

// Connection owns one TCP stream. Its read half is exclusively owned by
// the reader goroutine spawned in Connect; its write half is reachable
// concurrently but serialized by writeMu.
type Connection struct {
	t        Transport
	counters *Counters
	log      Logger

	readTimeout  time.Duration
	writeTimeout time.Duration

	writeMu sync.Mutex

	digests atomic.Value // pdu.Digests

	tasks *taskRegistry

	closeOnce sync.Once
	closed    chan struct{}
	readerErr atomic.Value // error

	unsolicited func(*pdu.NOPIn) // test seam; nil uses the real auto-reply
}

// Connect wraps an already-dialed Transport, spawns the reader goroutine
// and returns a ready Connection. Counters must be supplied by the Pool
// — the Connection never allocates its own.
func Connect(t Transport, counters *Counters, opts Options) *Connection {
	if opts.Logger == nil {
		opts.Logger = nopLogger{}
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = DefaultReadTimeout
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	c := &Connection{
		t:            t,
		counters:     counters,
		log:          opts.Logger,
		readTimeout:  opts.ReadTimeout,
		writeTimeout: opts.WriteTimeout,
		tasks:        newTaskRegistry(),
		closed:       make(chan struct{}),
	}
	c.digests.Store(pdu.Digests{})
	go c.readLoop()
	return c
}

// ActivateDigests switches the effective per-PDU digest settings. The
// Login FSM calls this at the exact PDU boundary the negotiated
// HeaderDigest/DataDigest keys take effect.
func (c *Connection) ActivateDigests(d pdu.Digests) {
	c.digests.Store(d)
}

func (c *Connection) currentDigests() pdu.Digests {
	return c.digests.Load().(pdu.Digests)
}

// Submit registers a fresh collector for itt and returns a handle the
// caller drains with Task.Next. Double-registration is a programmer
// error.
func (c *Connection) Submit(itt uint32) (*Task, error) {
	select {
	case <-c.closed:
		return nil, ErrConnectionClosed
	default:
	}
	return c.tasks.register(itt)
}

// Send serializes and writes one PDU under the write-mutex. The mutex is
// held only across the raw write, never across an unrelated await
// point, so concurrent writers serialize PDU emission without blocking
// the reader.
func (c *Connection) Send(h *pdu.Header, ahs, data []byte) error {
	wire, err := pdu.Encode(h, ahs, data, c.currentDigests())
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.t.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	if _, err := c.t.Write(wire); err != nil {
		c.fail(fmt.Errorf("iscsi: write: %w", err))
		return err
	}
	return nil
}

// Close tears the connection down: every pending task is completed with
// ErrConnectionClosed before the map is dropped.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.t.Close()
		c.tasks.closeAll()
	})
	return nil
}

// Done is closed once the connection has torn down, fatally or not.
func (c *Connection) Done() <-chan struct{} { return c.closed }

// Err returns the fatal error that tore the connection down, if any.
func (c *Connection) Err() error {
	if v := c.readerErr.Load(); v != nil {
		return v.(error)
	}
	return nil
}

func (c *Connection) fail(err error) {
	c.readerErr.CompareAndSwap(nil, err)
	c.Close()
}

// readLoop is the single goroutine that exclusively owns the read half.
// It decodes one PDU at a time and dispatches it to the waiting task, if
// any.
func (c *Connection) readLoop() {
	defer c.Close()
	for {
		if err := c.t.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
			c.fail(fmt.Errorf("iscsi: %w: %v", ErrTimeout, err))
			return
		}
		dec, err := pdu.Decode(c.t, c.currentDigests())
		if err != nil {
			select {
			case <-c.closed:
				return
			default:
			}
			c.fail(fmt.Errorf("iscsi: decode: %w", err))
			return
		}
		if err := c.handle(dec); err != nil {
			c.fail(err)
			return
		}
	}
}

func (c *Connection) handle(dec *pdu.Decoded) error {
	typed, err := pdu.Parse(dec)
	if err != nil {
		// Unknown opcodes (task management, SNACK, async message) are
		// explicit Non-goals; record and drop rather than failing the
		// connection.
		c.log.Warnf("iscsi: dropping unsupported PDU: %v", err)
		return nil
	}

	switch v := typed.(type) {
	case *pdu.NOPIn:
		c.counters.AdvanceExpStatSN(v.StatSN())
		if v.Unsolicited() {
			return c.handleUnsolicitedNOP(v)
		}
		return c.dispatchFinal(dec.Header.ITT(), dec, typed)
	case *pdu.Reject:
		itt, ok := v.ReferencedITT()
		if !ok {
			c.log.Warnf("iscsi: Reject PDU too short to reference an ITT")
			return nil
		}
		return c.dispatchFinal(itt, dec, typed)
	case *pdu.SCSIResponse:
		c.counters.AdvanceExpStatSN(v.StatSN())
		return c.dispatchFinal(dec.Header.ITT(), dec, typed)
	case *pdu.DataIn:
		if v.StatusPresent() {
			c.counters.AdvanceExpStatSN(v.StatSN())
		}
		final := v.IsFinal()
		return c.dispatchEvent(dec.Header.ITT(), dec, typed, final)
	case *pdu.R2T:
		c.counters.AdvanceExpStatSN(v.StatSN())
		return c.dispatchEvent(dec.Header.ITT(), dec, typed, false)
	case *pdu.LoginResponse:
		c.counters.AdvanceExpStatSN(v.StatSN())
		return c.dispatchEvent(dec.Header.ITT(), dec, typed, v.IsFinal())
	case *pdu.LogoutResponse:
		c.counters.AdvanceExpStatSN(v.StatSN())
		return c.dispatchFinal(dec.Header.ITT(), dec, typed)
	case *pdu.TextResponse:
		c.counters.AdvanceExpStatSN(v.StatSN())
		return c.dispatchEvent(dec.Header.ITT(), dec, typed, v.IsFinal())
	default:
		c.log.Warnf("iscsi: no dispatcher for %T", typed)
		return nil
	}
}

func (c *Connection) dispatchFinal(itt uint32, dec *pdu.Decoded, typed interface{}) error {
	return c.dispatchEvent(itt, dec, typed, true)
}

func (c *Connection) dispatchEvent(itt uint32, dec *pdu.Decoded, typed interface{}, final bool) error {
	found := c.tasks.dispatch(itt, Event{Decoded: dec, Typed: typed, Final: final})
	if !found {
		c.log.Debugf("iscsi: no task registered for itt=%d (opcode=%v), dropping", itt, dec.Header.Opcode())
	}
	return nil
}

// handleUnsolicitedNOP handles a target-driven NOP: the reader
// synthesizes a reply without ever registering (or notifying) a task.
func (c *Connection) handleUnsolicitedNOP(in *pdu.NOPIn) error {
	if c.unsolicited != nil {
		c.unsolicited(in)
		return nil
	}
	var lun [8]byte
	reply := pdu.NewNOPOut(pdu.ITTNone, in.TTT(), lun, c.counters.PeekCmdSN(), c.counters.ExpStatSN(), true, in.Data)
	return c.Send(&reply.Header, nil, reply.Data)
}

// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package conn

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/open-iscsi-go/initiator/pkg/iscsi/pdu"
)

// ErrConnectionClosed is delivered to every pending task when the
// connection tears down while the task was in flight.
var ErrConnectionClosed = errors.New("iscsi: connection closed")

// ErrDoubleRegistration is a programmer error: the same ITT must never
// be registered twice concurrently.
var ErrDoubleRegistration = errors.New("iscsi: ITT already registered")

// Event is one decoded PDU delivered to a pending task, plus whether it
// completes the task per the opcode finality table.
type Event struct {
	Decoded *pdu.Decoded
	Typed   interface{}
	Final   bool
	Err     error
}

// Task is the single-producer/single-consumer completion slot a caller
// gets back from Submit. It must not hold a strong reference back to the
// Connection — it only reads from a channel the reader goroutine writes
// into via the connection's task map.
type Task struct {
	itt uint32
	ch  chan Event
	reg *taskRegistry
}

// Next blocks for the next PDU belonging to this task, or until ctx is
// done. It returns (event, nil) until a final event has been delivered,
// after which the task is deregistered — callers should stop calling
// Next once Final is true.
func (t *Task) Next(ctx context.Context) (Event, error) {
	select {
	case ev, ok := <-t.ch:
		if !ok {
			return Event{}, ErrConnectionClosed
		}
		return ev, ev.Err
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// Cancel deregisters the task without waiting for a final event.
// Idempotent.
func (t *Task) Cancel() {
	t.reg.remove(t.itt)
}

// taskRegistry is the fine-grained-mutex-guarded pending-task map: the
// lock covers only insert/remove/complete, never PDU I/O.
type taskRegistry struct {
	mu    sync.Mutex
	tasks map[uint32]chan Event
}

func newTaskRegistry() *taskRegistry {
	return &taskRegistry{tasks: make(map[uint32]chan Event)}
}

func (r *taskRegistry) register(itt uint32) (*Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tasks[itt]; exists {
		return nil, fmt.Errorf("%w: itt=%d", ErrDoubleRegistration, itt)
	}
	ch := make(chan Event, 8)
	r.tasks[itt] = ch
	return &Task{itt: itt, ch: ch, reg: r}, nil
}

func (r *taskRegistry) remove(itt uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok := r.tasks[itt]; ok {
		delete(r.tasks, itt)
		close(ch)
	}
}

// dispatch delivers ev to the task registered for itt, if any. It reports
// whether a task was found so the reader loop can decide whether to
// record-and-drop.
func (r *taskRegistry) dispatch(itt uint32, ev Event) bool {
	r.mu.Lock()
	ch, ok := r.tasks[itt]
	if ok && ev.Final {
		delete(r.tasks, itt)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	ch <- ev
	if ev.Final {
		close(ch)
	}
	return true
}

// closeAll completes every pending task with ErrConnectionClosed and
// drains the map.
func (r *taskRegistry) closeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for itt, ch := range r.tasks {
		delete(r.tasks, itt)
		ch <- Event{Err: ErrConnectionClosed, Final: true}
		close(ch)
	}
}

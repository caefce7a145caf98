// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package conn

// NewTaskForTest builds a Task pre-loaded with a single event, for FSM
// packages that need to drive themselves against the narrow Sender
// capability without a real Connection or socket.
func NewTaskForTest(ev Event) *Task {
	reg := newTaskRegistry()
	ch := make(chan Event, 1)
	ch <- ev
	if ev.Final {
		// Mirrors taskRegistry.dispatch: the map entry is gone the moment
		// a final event is handed off, so a later Task.Cancel is a no-op
		// rather than a double close.
		close(ch)
	} else {
		reg.tasks[0] = ch
	}
	return &Task{itt: 0, ch: ch, reg: reg}
}

// NewTaskForTestSequence builds a Task pre-loaded with an ordered sequence
// of events, for FSMs that consume several PDUs off one task (READ's
// Data-In stream, WRITE's R2T/Data-Out rounds) before completing.
func NewTaskForTestSequence(events []Event) *Task {
	reg := newTaskRegistry()
	ch := make(chan Event, len(events))
	for _, ev := range events {
		ch <- ev
	}
	if len(events) > 0 && events[len(events)-1].Final {
		close(ch)
	} else {
		reg.tasks[0] = ch
	}
	return &Task{itt: 0, ch: ch, reg: reg}
}

// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package kernel

import "time"

// waitKind tags the variant held by a WaitFor value.
type waitKind uint8

const (
	waitNone waitKind = iota
	waitEvent
	waitTime
	waitProcess
	waitFirstOf
)

// WaitFor composes the wakeup sources a parked client can be suspended
// on: ready now, a one-shot event, a point in time, a process's
// completion, or the first of a set of other WaitFor values. A client may
// be parked on exactly one WaitFor at a time.
type WaitFor struct {
	kind    waitKind
	event   ExplicitEventId
	when    time.Time
	proc    ProcessId
	members []WaitFor
}

// WaitNone is immediately satisfied; the operation did not need to park.
func WaitNone() WaitFor { return WaitFor{kind: waitNone} }

// WaitEvent parks until e is triggered.
func WaitEvent(e ExplicitEventId) WaitFor { return WaitFor{kind: waitEvent, event: e} }

// WaitTime parks until at or after t.
func WaitTime(t time.Time) WaitFor { return WaitFor{kind: waitTime, when: t} }

// WaitProcess parks until pid completes.
func WaitProcess(pid ProcessId) WaitFor { return WaitFor{kind: waitProcess, proc: pid} }

// WaitFirstOf parks until the first of the given branches resolves.
// Branches that never resolve remain parked elsewhere; they are not
// automatically cancelled.
func WaitFirstOf(branches ...WaitFor) WaitFor {
	if len(branches) == 1 {
		return branches[0]
	}
	return WaitFor{kind: waitFirstOf, members: append([]WaitFor(nil), branches...)}
}

// IsNone reports whether the wait is already satisfied.
func (w WaitFor) IsNone() bool { return w.kind == waitNone }

// Event returns the event this wait parks on, if it is a plain event wait.
func (w WaitFor) Event() (ExplicitEventId, bool) {
	if w.kind == waitEvent {
		return w.event, true
	}
	return 0, false
}

// Time returns the deadline this wait parks on, if it is a time wait.
func (w WaitFor) Time() (time.Time, bool) {
	if w.kind == waitTime {
		return w.when, true
	}
	return time.Time{}, false
}

// Process returns the pid this wait parks on, if it is a process wait.
func (w WaitFor) Process() (ProcessId, bool) {
	if w.kind == waitProcess {
		return w.proc, true
	}
	return 0, false
}

// Members returns the branches of a FirstOf wait, if it is one.
func (w WaitFor) Members() ([]WaitFor, bool) {
	if w.kind == waitFirstOf {
		return w.members, true
	}
	return nil, false
}

// Scheduler is the external collaborator the core consumes from the
// process scheduler: minting wakeup tokens, waking parked
// tasks, and reporting the current time. Parking a caller is not part of
// this interface; the syscalls package does that through its own Blocker. The
// sched package provides the kernel's reference implementation; the core
// itself only depends on this narrow interface.
type Scheduler interface {
	// NewEvent mints a fresh, globally unique ExplicitEventId.
	NewEvent() ExplicitEventId

	// Trigger wakes every task parked on e. An event triggered before
	// anyone parks on it stays fired, so a later park on it returns at
	// once; events fire at most once in the sense that a
	// correct caller never triggers the same minted event twice — it is
	// the caller's responsibility to uphold that, enforced by Attachment
	// and VirtualFS bookkeeping in this package.
	Trigger(e ExplicitEventId)

	// Now returns the current time, backing WaitTime composition.
	Now() time.Time
}

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

// Package sched is the kernel's reference Scheduler: the external
// collaborator kernel.WaitFor and kernel.IoResult's RepeatAfter assume
// but never construct directly (see kernel.Scheduler). It mints and
// fires one-shot events, tracks process completion, and blocks a caller
// until a WaitFor resolves, the way a real scheduler would park and
// later resume a thread — except here "parking" is an ordinary goroutine
// block, since each simulated process is driven by its own goroutine
// rather than a real hardware thread.
package sched

import (
	"sync"
	"time"

	"github.com/kestrel-os/kernel"
)

type eventState struct {
	ch    chan struct{}
	fired bool
}

// Scheduler is the in-memory reference implementation of kernel.Scheduler.
type Scheduler struct {
	clock interface{ Now() time.Time }

	mu        sync.Mutex
	nextEvent uint64
	events    map[kernel.ExplicitEventId]*eventState
	procDone  map[kernel.ProcessId]chan struct{}
}

// New builds a Scheduler reading the current time from clock (typically
// a *TickClock).
func New(clock interface{ Now() time.Time }) *Scheduler {
	return &Scheduler{
		clock:    clock,
		events:   make(map[kernel.ExplicitEventId]*eventState),
		procDone: make(map[kernel.ProcessId]chan struct{}),
	}
}

// NewEvent mints a fresh, globally unique ExplicitEventId.
func (s *Scheduler) NewEvent() kernel.ExplicitEventId {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextEvent++
	id := kernel.ExplicitEventId(s.nextEvent)
	s.events[id] = &eventState{ch: make(chan struct{})}
	return id
}

// Trigger wakes every task parked on e. A correct caller mints e once and
// triggers it at most once; triggering an unknown or already-fired event
// is a no-op.
func (s *Scheduler) Trigger(e kernel.ExplicitEventId) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.events[e]
	if !ok || st.fired {
		return
	}
	st.fired = true
	close(st.ch)
}

// Now reports the current time.
func (s *Scheduler) Now() time.Time {
	return s.clock.Now()
}

// NotifyProcessDone records that pid has finished, waking any Block call
// parked on kernel.WaitProcess(pid). syscalls.Dispatcher.Terminate calls
// it right after VirtualFS.Terminate.
func (s *Scheduler) NotifyProcessDone(pid kernel.ProcessId) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.procDone[pid]
	if !ok {
		ch = make(chan struct{})
		s.procDone[pid] = ch
	}
	select {
	case <-ch:
	default:
		close(ch)
	}
}

func (s *Scheduler) processChan(pid kernel.ProcessId) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.procDone[pid]
	if !ok {
		ch = make(chan struct{})
		s.procDone[pid] = ch
	}
	return ch
}

func (s *Scheduler) eventChan(e kernel.ExplicitEventId) (chan struct{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.events[e]
	if !ok {
		return nil, false
	}
	return st.ch, true
}

// Block suspends the calling goroutine until w resolves: an event fires,
// a point in time is reached, a process completes, or (for WaitFirstOf)
// whichever branch resolves first. WaitNone returns immediately. This is
// the syscall dispatch loop's reissue mechanism: park here, then call the
// operation again.
func (s *Scheduler) Block(w kernel.WaitFor) {
	if w.IsNone() {
		return
	}
	if e, ok := w.Event(); ok {
		ch, ok := s.eventChan(e)
		if !ok {
			return
		}
		<-ch
		return
	}
	if t, ok := w.Time(); ok {
		if d := time.Until(t); d > 0 {
			time.Sleep(d)
		}
		return
	}
	if pid, ok := w.Process(); ok {
		<-s.processChan(pid)
		return
	}
	if members, ok := w.Members(); ok {
		done := make(chan struct{})
		var once sync.Once
		for _, m := range members {
			m := m
			go func() {
				s.Block(m)
				once.Do(func() { close(done) })
			}()
		}
		<-done
		return
	}
}

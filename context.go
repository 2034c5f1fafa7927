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

// IoContext accumulates ExplicitEventIds pulled off the TriggerEvent
// chain of a sequence of VFS calls. WithContext collapses a
// possibly trigger-wrapped IoResult down to its plain inner value/error/
// wait, recording every event it passes through into the context.
// ConsumeEvents then asks the scheduler to fire every recorded event,
// after the caller has decided what to do with the collapsed result —
// including on the error path, so cleanup of parked clients is never
// skipped just because an outer operation failed.
type IoContext struct {
	pending []ExplicitEventId
}

// NewIoContext returns an empty context ready to accumulate events across
// a chain of VFS calls.
func NewIoContext() *IoContext {
	return &IoContext{}
}

// note records an event to be fired once ConsumeEvents runs.
func (c *IoContext) note(e ExplicitEventId) {
	c.pending = append(c.pending, e)
}

// WithContext collapses r, recording every TriggerEvent it carries into
// ctx (outermost first) and returning the plain value/error/wait result
// underneath. Call ConsumeEvents once the whole chain is done to flush
// the recorded events to the scheduler.
func WithContext[T any](ctx *IoContext, r IoResult[T]) IoResult[T] {
	for r.kind == resultTrigger {
		ctx.note(r.event)
		r = *r.inner
	}
	return r
}

// ConsumeEvents fires every event accumulated so far through sched and
// clears the pending set.
func (c *IoContext) ConsumeEvents(sched Scheduler) {
	for _, e := range c.pending {
		sched.Trigger(e)
	}
	c.pending = c.pending[:0]
}

// Pending returns a snapshot of the events accumulated so far, without
// clearing them. Useful for tests asserting which events a call chain
// would fire.
func (c *IoContext) Pending() []ExplicitEventId {
	return append([]ExplicitEventId(nil), c.pending...)
}

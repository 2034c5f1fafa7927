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

package sched

import (
	"sync/atomic"
	"time"

	"github.com/jacobsa/timeutil"
)

// TickClock wraps a timeutil.Clock with a ticking background reader so
// Now() is a plain atomic load rather than a syscall on every call,
// which matters here because path resolution and attachment bookkeeping
// call Scheduler.Now() far more often than a real clock needs to be
// read. The stored value trails the real clock by at most one tick
// period; callers that need exact time should go through the underlying
// Clock directly.
type TickClock struct {
	underlying timeutil.Clock
	current    atomic.Value // time.Time
	stop       chan struct{}
}

// NewTickClock starts a TickClock sampling underlying every period. The
// caller must call Stop when done to release the background goroutine.
func NewTickClock(underlying timeutil.Clock, period time.Duration) *TickClock {
	c := &TickClock{underlying: underlying, stop: make(chan struct{})}
	c.current.Store(underlying.Now())

	go func() {
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.current.Store(c.underlying.Now())
			case <-c.stop:
				return
			}
		}
	}()

	return c
}

// Now returns the most recently sampled time.
func (c *TickClock) Now() time.Time {
	return c.current.Load().(time.Time)
}

// Stop releases the background sampling goroutine.
func (c *TickClock) Stop() {
	close(c.stop)
}

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

import "github.com/kestrel-os/kernel/internal/kerr"

// resultKind tags the variant held by an IoResult. The zero value is not
// a valid kind, so a zero IoResult is malformed rather than a success.
type resultKind uint8

const (
	resultSuccess resultKind = iota + 1
	resultError
	resultRepeatAfter
	resultTrigger
)

// IoResult is the universal return protocol for every file operation
//: a normal value, a tagged error, a request to park on a
// WaitFor and reissue the identical call, or a wakeup that must be
// delivered before the wrapped inner result is handed back to the
// caller.
//
// Any operation that returns RepeatAfter must be idempotent on reissue:
// a read that parks must not have consumed data, a write that parks must
// not have committed bytes.
type IoResult[T any] struct {
	kind  resultKind
	value T
	err   *kerr.Error
	wait  WaitFor
	event ExplicitEventId
	inner *IoResult[T]
}

// Success builds a successful result.
func Success[T any](v T) IoResult[T] {
	return IoResult[T]{kind: resultSuccess, value: v}
}

// Err builds a failed result.
func Err[T any](code kerr.Code) IoResult[T] {
	return IoResult[T]{kind: resultError, err: kerr.New(code)}
}

// RepeatAfter builds a result telling the caller to park on w and
// reissue the identical call once it resolves.
func RepeatAfter[T any](w WaitFor) IoResult[T] {
	return IoResult[T]{kind: resultRepeatAfter, wait: w}
}

// TriggerEvent builds a result that asks the scheduler to wake every
// task parked on e before inner is delivered to the caller.
func TriggerEvent[T any](e ExplicitEventId, inner IoResult[T]) IoResult[T] {
	return IoResult[T]{kind: resultTrigger, event: e, inner: &inner}
}

// IsSuccess reports whether the result is a plain success; a
// trigger-wrapped success reports false until WithContext unwraps it.
func (r IoResult[T]) IsSuccess() bool { return r.kind == resultSuccess }

// IsError reports whether the result is a plain error.
func (r IoResult[T]) IsError() bool { return r.kind == resultError }

// IsRepeatAfter reports whether the result asks the caller to park.
func (r IoResult[T]) IsRepeatAfter() bool { return r.kind == resultRepeatAfter }

// IsTrigger reports whether the result carries a pending wakeup.
func (r IoResult[T]) IsTrigger() bool { return r.kind == resultTrigger }

// Value returns the success value and true, or the zero value and false
// if this is not a (possibly trigger-wrapped) success.
func (r IoResult[T]) Value() (T, bool) {
	cur := r
	for cur.kind == resultTrigger {
		cur = *cur.inner
	}
	if cur.kind != resultSuccess {
		var zero T
		return zero, false
	}
	return cur.value, true
}

// Error returns the error code and true, or nil and false if this is not
// a (possibly trigger-wrapped) error.
func (r IoResult[T]) Error() (*kerr.Error, bool) {
	cur := r
	for cur.kind == resultTrigger {
		cur = *cur.inner
	}
	if cur.kind != resultError {
		return nil, false
	}
	return cur.err, true
}

// Wait returns the WaitFor and true if this is a (possibly
// trigger-wrapped) RepeatAfter.
func (r IoResult[T]) Wait() (WaitFor, bool) {
	cur := r
	for cur.kind == resultTrigger {
		cur = *cur.inner
	}
	if cur.kind != resultRepeatAfter {
		return WaitFor{}, false
	}
	return cur.wait, true
}

// Retag carries a non-success IoResult[A] (error, RepeatAfter, or a
// TriggerEvent wrapping either) over to IoResult[B]. It panics if r is a
// plain success, since there is no general way to convert an A value
// into an A value into a B value without a mapping function — use
// MapResult for that case instead.
func Retag[A, B any](r IoResult[A]) IoResult[B] {
	switch r.kind {
	case resultError:
		return IoResult[B]{kind: resultError, err: r.err}
	case resultRepeatAfter:
		return IoResult[B]{kind: resultRepeatAfter, wait: r.wait}
	case resultTrigger:
		return TriggerEvent(r.event, Retag[A, B](*r.inner))
	default:
		panic("kernel: Retag called on a Success result")
	}
}

// MapResult transforms the success value of r, preserving error,
// RepeatAfter, and any TriggerEvent wrapping.
func MapResult[T, U any](r IoResult[T], f func(T) U) IoResult[U] {
	switch r.kind {
	case resultSuccess:
		return Success(f(r.value))
	case resultError:
		return IoResult[U]{kind: resultError, err: r.err}
	case resultRepeatAfter:
		return IoResult[U]{kind: resultRepeatAfter, wait: r.wait}
	case resultTrigger:
		return TriggerEvent(r.event, MapResult(*r.inner, f))
	default:
		panic("kernel: IoResult has unknown kind")
	}
}

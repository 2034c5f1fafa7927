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

// Package metrics instruments the syscall dispatch surface with
// OpenTelemetry counters, following gcsfuse/common's otelMetrics: a small
// set of named instruments, attribute sets memoized per dimension so the
// hot path never reallocates one, and a constructor that fails loudly if
// any instrument can't be created.
package metrics

import (
	"context"
	"errors"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// RoutineKey annotates which dispatcher call produced a measurement
	// (e.g. "read", "write", "open", "attach").
	RoutineKey = "routine"
	// OutcomeKey annotates how a dispatch finished: "success" or the
	// kerr.Code name for an error, so an expected fs_node_not_found on a
	// Read doesn't land in the same bucket as a protocol violation.
	OutcomeKey = "outcome"
	// AttachmentKey annotates which attachment a queue-depth measurement
	// belongs to.
	AttachmentKey = "attachment"
)

var meter = otel.Meter("kestrel_kernel")

var dispatchAttrSets sync.Map

func dispatchAttributeSet(routine, outcome string) metric.MeasurementOption {
	type key struct{ routine, outcome string }
	k := key{routine, outcome}
	if v, ok := dispatchAttrSets.Load(k); ok {
		return v.(metric.MeasurementOption)
	}
	opt := metric.WithAttributeSet(attribute.NewSet(
		attribute.String(RoutineKey, routine),
		attribute.String(OutcomeKey, outcome),
	))
	v, _ := dispatchAttrSets.LoadOrStore(k, opt)
	return v.(metric.MeasurementOption)
}

var routineAttrSets sync.Map

func routineAttributeSet(routine string) metric.MeasurementOption {
	if v, ok := routineAttrSets.Load(routine); ok {
		return v.(metric.MeasurementOption)
	}
	opt := metric.WithAttributeSet(attribute.NewSet(attribute.String(RoutineKey, routine)))
	v, _ := routineAttrSets.LoadOrStore(routine, opt)
	return v.(metric.MeasurementOption)
}

var attachmentAttrSets sync.Map

func attachmentAttributeSet(attachment string) metric.MeasurementOption {
	if v, ok := attachmentAttrSets.Load(attachment); ok {
		return v.(metric.MeasurementOption)
	}
	opt := metric.WithAttributeSet(attribute.NewSet(attribute.String(AttachmentKey, attachment)))
	v, _ := attachmentAttrSets.LoadOrStore(attachment, opt)
	return v.(metric.MeasurementOption)
}

// Metrics holds every instrument the dispatcher and attachment protocol
// record against. A nil *Metrics is valid and every method on it is a
// no-op, the same nil-safety internal/klog.Logger gives callers that
// don't care to wire one up.
type Metrics struct {
	dispatchCount metric.Int64Counter
	parkCount     metric.Int64Counter
	queueDepth    metric.Int64UpDownCounter
}

// New builds a Metrics instance registering its instruments against the
// global OpenTelemetry meter provider.
func New() (*Metrics, error) {
	dispatchCount, err1 := meter.Int64Counter("kernel/dispatch_count",
		metric.WithDescription("The cumulative number of syscalls dispatched, by routine and outcome."))
	parkCount, err2 := meter.Int64Counter("kernel/repeat_after_count",
		metric.WithDescription("The cumulative number of times a dispatched call parked on a RepeatAfter result, by routine."))
	queueDepth, err3 := meter.Int64UpDownCounter("kernel/attachment_queue_depth",
		metric.WithDescription("The current number of reads pending or in progress on an attachment's manager."))

	if err := errors.Join(err1, err2, err3); err != nil {
		return nil, err
	}

	return &Metrics{
		dispatchCount: dispatchCount,
		parkCount:     parkCount,
		queueDepth:    queueDepth,
	}, nil
}

// RecordDispatch records one completed syscall dispatch: routine is the
// dispatcher method name ("read", "write", "attach", ...), outcome is
// "success" or a kerr.Code's name.
func (m *Metrics) RecordDispatch(ctx context.Context, routine, outcome string) {
	if m == nil {
		return
	}
	m.dispatchCount.Add(ctx, 1, dispatchAttributeSet(routine, outcome))
}

// RecordPark records one RepeatAfter park-and-reissue cycle for routine.
func (m *Metrics) RecordPark(ctx context.Context, routine string) {
	if m == nil {
		return
	}
	m.parkCount.Add(ctx, 1, routineAttributeSet(routine))
}

// AdjustQueueDepth changes the recorded queue depth for the named
// attachment by delta (positive when a read is enqueued, negative when it
// is dequeued or completed).
func (m *Metrics) AdjustQueueDepth(ctx context.Context, attachment string, delta int64) {
	if m == nil {
		return
	}
	m.queueDepth.Add(ctx, delta, attachmentAttributeSet(attachment))
}

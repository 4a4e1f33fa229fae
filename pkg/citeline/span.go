package citeline

import (
	"time"

	"github.com/perarnes/citeline/pkg/trace"
)

// opState tracks one in-flight instrumented operation: its wall-clock start
// and the trace record accumulating per-stage spans.
type opState struct {
	operation string
	start     time.Time
	record    *trace.TraceRecord
}

// spanTimer measures one named stage of an operation.
type spanTimer struct {
	name  string
	start time.Time
	op    *opState
}

// startSpan begins timing a named stage.
func (op *opState) startSpan(name string) *spanTimer {
	return &spanTimer{
		name:  name,
		start: time.Now(),
		op:    op,
	}
}

// finish completes the span and appends it to the operation's trace record.
func (st *spanTimer) finish(ok bool, err error, counters map[string]int64) {
	span := trace.SpanRecord{
		Name:       st.name,
		DurationMs: time.Since(st.start).Milliseconds(),
		OK:         ok,
		Counters:   counters,
	}
	if err != nil {
		span.ErrorType = ClassifyError(err)
	}
	st.op.record.Spans = append(st.op.record.Spans, span)
}

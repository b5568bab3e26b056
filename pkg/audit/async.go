package audit

import (
	"context"
	"time"

	"github.com/teamgrid/authz/pkg/async"
	"github.com/teamgrid/authz/pkg/observability"
)

// DefaultWriteTimeout bounds how long a detached audit write may run.
const DefaultWriteTimeout = 10 * time.Second

// AsyncEmitter wraps an Emitter so audit writes happen off the request path.
// A failed write is logged and counted but never surfaced to the business
// operation that triggered it.
type AsyncEmitter struct {
	inner   Emitter
	logger  *observability.Logger
	metrics *observability.Metrics
	timeout time.Duration
}

// NewAsyncEmitter creates a fire-and-forget wrapper around inner
func NewAsyncEmitter(inner Emitter, logger *observability.Logger, metrics *observability.Metrics) *AsyncEmitter {
	return &AsyncEmitter{
		inner:   inner,
		logger:  logger,
		metrics: metrics,
		timeout: DefaultWriteTimeout,
	}
}

// WithTimeout overrides the detached write deadline. Non-positive values
// are ignored.
func (e *AsyncEmitter) WithTimeout(d time.Duration) *AsyncEmitter {
	if d > 0 {
		e.timeout = d
	}
	return e
}

// Record schedules the write on a detached goroutine and returns immediately.
func (e *AsyncEmitter) Record(ctx context.Context, entry Entry) error {
	async.SafeGo(ctx, e.timeout, "audit.record", func(taskCtx context.Context) error {
		if err := e.inner.Record(taskCtx, entry); err != nil {
			e.logger.WithError(err).WithFields(map[string]interface{}{
				"target_id":   entry.TargetID,
				"target_type": entry.TargetType,
				"action_type": entry.ActionType,
			}).Error("audit write failed")
			if e.metrics != nil {
				e.metrics.AuditWriteFailuresTotal.Inc()
			}
			return err
		}
		if e.metrics != nil {
			e.metrics.AuditRecordsTotal.Inc()
		}
		return nil
	})
	return nil
}

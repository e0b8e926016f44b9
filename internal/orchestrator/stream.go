package orchestrator

import (
	"context"
	"fmt"

	"github.com/makr-code/VCC-Veritas-sub002/internal/stream"
	"go.uber.org/zap"
)

// Stream starts req in the background and returns its event stream. The stream
// finishes completed, cancelled when ctx ends before the final result, or
// failed after exactly one error event. A cancelled stream carries no further
// events; the sink, whose subscribers outlive the run, receives a
// cancelled-run marker instead.
func (o *Orchestrator) Stream(ctx context.Context, req Request) *stream.Stream {
	rc := newRunContext(req)
	s := stream.New(rc.RunID, o.bufferSize)

	publish := func(kind stream.Kind, data map[string]any) {
		ev, err := stream.NewEvent(kind, data)
		if err != nil {
			o.logger.Error(ctx, "event not encodable", zap.String("kind", string(kind)), zap.Error(err))
			return
		}
		s.Emit(ev)
		if o.sink != nil {
			if err := o.sink.Publish(context.WithoutCancel(ctx), rc.RunID, ev); err != nil {
				o.logger.Warn(ctx, "event sink publish failed", zap.Error(err))
			}
		}
	}

	go func() {
		var (
			res *Result
			err error
		)
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("run panicked: %v", r)
			}
			switch {
			case err != nil:
				publish(stream.KindError, map[string]any{"run_id": rc.RunID, "error": err.Error()})
				s.Finish(stream.StatusFailed, err)
			case res != nil && res.Status == RunCancelled:
				o.publishCancelled(ctx, rc.RunID)
				s.Finish(stream.StatusCancelled, ctx.Err())
			default:
				s.Finish(stream.StatusCompleted, nil)
			}
		}()

		res, err = o.execute(ctx, req, rc, func(kind stream.Kind, data map[string]any) {
			if ctx.Err() != nil {
				return
			}
			publish(kind, data)
		})
	}()
	return s
}

func (o *Orchestrator) publishCancelled(ctx context.Context, runID string) {
	if o.sink == nil {
		return
	}
	if err := o.sink.Publish(context.WithoutCancel(ctx), runID, stream.NewCancelledEvent(runID)); err != nil {
		o.logger.Warn(ctx, "event sink publish failed", zap.Error(err))
	}
}

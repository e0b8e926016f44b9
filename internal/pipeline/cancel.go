package pipeline

import "context"

type runErrKey struct{}

// DetachPhase returns the context a single phase executes under. It keeps the
// values of the run context but not its cancellation or deadline, so a phase
// already in flight runs to completion; per-call timeouts still bound it. The
// run's cancellation stays observable through RunErr.
func DetachPhase(run context.Context) context.Context {
	return context.WithValue(context.WithoutCancel(run), runErrKey{}, run.Err)
}

// RunErr returns the cancellation error of the run that owns ctx, or nil while
// the run is live. Outside a detached phase it is ctx.Err().
func RunErr(ctx context.Context) error {
	if runErr, ok := ctx.Value(runErrKey{}).(func() error); ok {
		return runErr()
	}
	return ctx.Err()
}

package dispatcher

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/morezero/nav-dispatch/pkg/correlator"
	"github.com/morezero/nav-dispatch/pkg/naverr"
	"github.com/morezero/nav-dispatch/pkg/session"
)

// HandleNavigate runs a navigation received over COMMS. onResult receives
// the asynchronous result when the request carries a request code. If ctx
// ends before the dispatch does, the response reports TIMEOUT while the
// dispatch still completes in the background.
func (d *Dispatcher) HandleNavigate(ctx context.Context, in *NavigateRequest, onResult correlator.Callback) *NavigateResponse {
	slog.Debug(fmt.Sprintf("%s - navigate id=%s path=%s", logPrefix, in.ID, in.Path))

	if in.Ctx != nil && in.Ctx.SessionID != "" {
		ctx = session.WithID(ctx, in.Ctx.SessionID)
	}

	b := d.Navigate(in.Path).WithParams(in.Params).WithFlags(in.Flags...)
	if in.LaunchMode != nil {
		b.WithLaunchMode(*in.LaunchMode)
	}
	if in.Transition != nil {
		b.WithTransition(in.Transition.Enter, in.Transition.Exit)
	}
	if in.RequestCode != nil {
		b.ForResult(*in.RequestCode, onResult)
	}
	req, err := b.Build()
	if err != nil {
		return &NavigateResponse{ID: in.ID, Ok: false, State: StateCreated, Error: errorDetail(err)}
	}

	dctx := context.WithoutCancel(ctx)
	done := make(chan *Result, 1)
	d.Go(func() {
		done <- d.Run(dctx, req)
	})

	select {
	case res := <-done:
		return &NavigateResponse{
			ID:        in.ID,
			Ok:        res.Ok(),
			State:     res.State,
			HandlerID: res.HandlerID,
			Token:     res.Token,
			Error:     errorDetail(res.Err),
		}
	case <-ctx.Done():
		slog.Warn(fmt.Sprintf("%s - navigate id=%s to %s did not finish: %v", logPrefix, in.ID, in.Path, ctx.Err()))
		return &NavigateResponse{
			ID:    in.ID,
			Ok:    false,
			Error: errorDetail(naverr.Wrap(naverr.CodeTimeout, ctx.Err(), fmt.Sprintf("navigation to %s did not finish in time", in.Path))),
		}
	}
}

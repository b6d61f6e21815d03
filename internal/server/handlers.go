package server

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	comms "github.com/nats-io/nats.go"

	"github.com/morezero/nav-dispatch/pkg/commsutil"
	"github.com/morezero/nav-dispatch/pkg/correlator"
	"github.com/morezero/nav-dispatch/pkg/dispatcher"
	"github.com/morezero/nav-dispatch/pkg/events"
	"github.com/morezero/nav-dispatch/pkg/params"
)

const handlersLogPrefix = "server:handlers"

// codeInvalidRequest is returned for envelopes that do not decode.
const codeInvalidRequest = "INVALID_REQUEST"

// handleNavigate hands each message to a worker. The subscription only
// blocks once MaxInFlight navigations are running.
func (s *Server) handleNavigate(ctx context.Context) comms.MsgHandler {
	return func(msg *comms.Msg) {
		if err := s.inflight.Acquire(ctx, 1); err != nil {
			slog.Warn(fmt.Sprintf("%s - dropping navigate on %s: %v", handlersLogPrefix, msg.Subject, err))
			return
		}
		s.disp.Go(func() {
			defer s.inflight.Release(1)
			s.navigate(ctx, msg)
		})
	}
}

func (s *Server) navigate(ctx context.Context, msg *comms.Msg) {
	var req dispatcher.NavigateRequest
	if err := commsutil.DecodePayload(msg.Data, &req); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to decode navigate request: %v", handlersLogPrefix, err))
		_ = commsutil.Respond(msg, &dispatcher.NavigateResponse{
			Ok: false,
			Error: &dispatcher.ErrorDetail{
				Code:    codeInvalidRequest,
				Message: "Failed to decode request",
			},
		})
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	resp := s.disp.HandleNavigate(reqCtx, &req, s.resultForwarder(req.ID, req.ResultSubject))
	if msg.Reply == "" {
		slog.Debug(fmt.Sprintf("%s - navigate %s had no reply subject", handlersLogPrefix, req.ID))
		return
	}
	_ = commsutil.Respond(msg, resp)
}

// resultForwarder returns the callback that hands a correlated result back
// to the caller. Without a result subject the result is only emitted as an
// event.
func (s *Server) resultForwarder(requestID, subject string) correlator.Callback {
	return func(ctx context.Context, token int, resultCode int, payload *params.Bag) {
		fields := map[string]interface{}{
			"requestId":  requestID,
			"token":      token,
			"resultCode": resultCode,
		}
		if err := s.sink.Emit(ctx, events.NewEvent(events.SeverityInfo, events.MessageNavigationResult, fields)); err != nil {
			slog.Warn(fmt.Sprintf("%s - failed to emit result event: %v", handlersLogPrefix, err))
		}
		if subject == "" {
			return
		}
		data, err := commsutil.EncodePayload(&dispatcher.ResultMessage{Token: token, ResultCode: resultCode, Payload: payload})
		if err != nil {
			slog.Error(fmt.Sprintf("%s - failed to encode result for token %d: %v", handlersLogPrefix, token, err))
			return
		}
		if err := s.nc.Publish(subject, data); err != nil {
			slog.Error(fmt.Sprintf("%s - failed to publish result to %s: %v", handlersLogPrefix, subject, err))
		}
	}
}

func (s *Server) handleResult(ctx context.Context) comms.MsgHandler {
	return func(msg *comms.Msg) {
		var res dispatcher.ResultMessage
		if err := commsutil.DecodePayload(msg.Data, &res); err != nil {
			slog.Error(fmt.Sprintf("%s - failed to decode result: %v", handlersLogPrefix, err))
			if msg.Reply != "" {
				_ = commsutil.Respond(msg, &dispatcher.ErrorDetail{Code: codeInvalidRequest, Message: "Failed to decode result"})
			}
			return
		}

		delivered := s.disp.Correlator().Resolve(ctx, res.Token, res.ResultCode, res.Payload)
		if msg.Reply != "" {
			_ = commsutil.Respond(msg, &dispatcher.ResultAck{Token: res.Token, Delivered: delivered})
		}
	}
}

// Package dispatcher resolves navigation requests to handlers and launches them.
package dispatcher

import (
	"errors"

	"github.com/morezero/nav-dispatch/pkg/naverr"
	"github.com/morezero/nav-dispatch/pkg/params"
	"github.com/morezero/nav-dispatch/pkg/request"
)

// NavigateRequest is the JSON envelope for incoming COMMS navigation requests.
type NavigateRequest struct {
	ID         string      `json:"id"`
	Path       string      `json:"path"`
	Params     *params.Bag `json:"params,omitempty"`
	Flags      []int       `json:"flags,omitempty"`
	LaunchMode *int        `json:"launchMode,omitempty"`
	// RequestCode asks for an asynchronous result. The result is published
	// to ResultSubject as a ResultMessage.
	RequestCode   *int                `json:"requestCode,omitempty"`
	ResultSubject string              `json:"resultSubject,omitempty"`
	Transition    *request.Transition `json:"transition,omitempty"`
	Ctx           *InvocationContext  `json:"ctx,omitempty"`
}

// NavigateResponse is the JSON envelope for COMMS navigation responses.
type NavigateResponse struct {
	ID        string       `json:"id"`
	Ok        bool         `json:"ok"`
	State     State        `json:"state,omitempty"`
	HandlerID string       `json:"handlerId,omitempty"`
	Token     *int         `json:"token,omitempty"`
	Error     *ErrorDetail `json:"error,omitempty"`
}

// ResultMessage carries a handler's result back to the correlator, and
// from the correlator to the original caller.
type ResultMessage struct {
	Token      int         `json:"token"`
	ResultCode int         `json:"resultCode"`
	Payload    *params.Bag `json:"payload,omitempty"`
}

// ResultAck answers a ResultMessage sent as a request.
type ResultAck struct {
	Token     int  `json:"token"`
	Delivered bool `json:"delivered"`
}

// ErrorDetail holds structured error information.
type ErrorDetail struct {
	Code      string      `json:"code"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
	Retryable bool        `json:"retryable"`
}

// InvocationContext holds context from the caller.
type InvocationContext struct {
	SessionID string `json:"sessionId,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// errorDetail converts err into an ErrorDetail. Errors without a code are
// reported as INVALID_STATE.
func errorDetail(err error) *ErrorDetail {
	if err == nil {
		return nil
	}
	var ne *naverr.Error
	if !errors.As(err, &ne) {
		return &ErrorDetail{Code: naverr.CodeInvalidState, Message: err.Error()}
	}
	return &ErrorDetail{
		Code:      ne.Code,
		Message:   ne.Message,
		Details:   ne.Details,
		Retryable: ne.Code == naverr.CodeLaunchFaulted || ne.Code == naverr.CodeTimeout,
	}
}

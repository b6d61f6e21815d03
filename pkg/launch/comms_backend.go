package launch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	comms "github.com/nats-io/nats.go"

	"github.com/morezero/nav-dispatch/pkg/commsutil"
	"github.com/morezero/nav-dispatch/pkg/naverr"
)

const commsLogPrefix = "launch:comms_backend"

// DefaultLaunchTimeout bounds a launch request when none is configured.
const DefaultLaunchTimeout = 5 * time.Second

// LaunchRequest is the message sent to a handler's launch subject.
type LaunchRequest struct {
	ID string `json:"id"`
	Target
}

// LaunchReply is what a launcher answers with. Status is one of
// "launched", "pending" or "failed".
type LaunchReply struct {
	Status string        `json:"status"`
	Error  *naverr.Error `json:"error,omitempty"`
}

// CommsBackendOpts configures a CommsBackend.
type CommsBackendOpts struct {
	SubjectPrefix string
	Timeout       time.Duration
}

// CommsBackend launches handlers by sending a request to
// "<prefix>.<handlerId>" and waiting for a LaunchReply.
type CommsBackend struct {
	nc      *comms.Conn
	prefix  string
	timeout time.Duration
}

// NewCommsBackend creates a CommsBackend. opts may be nil.
func NewCommsBackend(nc *comms.Conn, opts *CommsBackendOpts) *CommsBackend {
	b := &CommsBackend{nc: nc, prefix: commsutil.LaunchSubjectPrefix, timeout: DefaultLaunchTimeout}
	if opts != nil {
		if opts.SubjectPrefix != "" {
			b.prefix = opts.SubjectPrefix
		}
		if opts.Timeout > 0 {
			b.timeout = opts.Timeout
		}
	}
	return b
}

// Launch implements Backend.
func (b *CommsBackend) Launch(ctx context.Context, target Target) (Outcome, error) {
	subject := commsutil.BuildLaunchSubject(b.prefix, target.HandlerID)
	payload, err := commsutil.EncodePayload(LaunchRequest{ID: uuid.NewString(), Target: target})
	if err != nil {
		return OutcomeFailed, fmt.Errorf("%s - failed to encode launch request: %w", commsLogPrefix, err)
	}

	rctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	start := time.Now()
	msg, err := b.nc.RequestWithContext(rctx, subject, payload)
	if err != nil {
		if errors.Is(err, comms.ErrNoResponders) {
			return OutcomeFailed, naverr.Wrap(naverr.CodeHandlerNotFound, err, fmt.Sprintf("no launcher listening for %s", target.HandlerID))
		}
		return OutcomeFailed, fmt.Errorf("%s - launch request to %s failed: %w", commsLogPrefix, subject, err)
	}

	var reply LaunchReply
	if err := commsutil.DecodePayload(msg.Data, &reply); err != nil {
		return OutcomeFailed, fmt.Errorf("%s - failed to decode launch reply from %s: %w", commsLogPrefix, subject, err)
	}
	outcome := ParseOutcome(reply.Status)
	slog.Debug(fmt.Sprintf("%s - %s -> %s in %s", commsLogPrefix, subject, outcome, time.Since(start)))

	if outcome == OutcomeFailed {
		if reply.Error != nil {
			return OutcomeFailed, reply.Error
		}
		return OutcomeFailed, naverr.Newf(naverr.CodeLaunchFaulted, "launcher for %s reported status %q", target.HandlerID, reply.Status)
	}
	return outcome, nil
}

package events

import (
	"context"
	"fmt"
	"log/slog"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/nav-dispatch/pkg/commsutil"
)

const commsSinkLogPrefix = "events:comms_publisher"

// CommsSinkOpts configures CommsSink. Nil or zero values use defaults.
type CommsSinkOpts struct {
	// Subject overrides the base event subject (e.g. from NAV_EVENT_SUBJECT).
	Subject string
	// MinSeverity drops events below this severity. Empty publishes everything.
	MinSeverity Severity
}

// CommsSink publishes navigation events to COMMS subjects.
type CommsSink struct {
	nc          *comms.Conn
	subject     string
	minSeverity Severity
}

// NewCommsSink creates a new CommsSink. Pass nil for opts to use defaults.
func NewCommsSink(nc *comms.Conn, opts *CommsSinkOpts) *CommsSink {
	subject := commsutil.SubjectEvents
	var min Severity
	if opts != nil {
		if opts.Subject != "" {
			subject = opts.Subject
		}
		min = opts.MinSeverity
	}
	return &CommsSink{nc: nc, subject: subject, minSeverity: min}
}

// Emit publishes the event to both the base subject and the
// severity-specific subject (<subject>.<severity>).
func (s *CommsSink) Emit(_ context.Context, event *Event) error {
	if severityRank(event.Severity) < severityRank(s.minSeverity) {
		return nil
	}

	data, err := commsutil.EncodePayload(event)
	if err != nil {
		return fmt.Errorf("%s - failed to encode event: %w", commsSinkLogPrefix, err)
	}

	if err := s.nc.Publish(s.subject, data); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to publish to %s: %v", commsSinkLogPrefix, s.subject, err))
		return err
	}

	severitySubject := commsutil.BuildEventSubject(s.subject, string(event.Severity))
	if err := s.nc.Publish(severitySubject, data); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to publish to %s: %v", commsSinkLogPrefix, severitySubject, err))
		return err
	}

	slog.Debug(fmt.Sprintf("%s - Published %s event", commsSinkLogPrefix, event.Message))
	return nil
}

func severityRank(s Severity) int {
	switch s {
	case SeverityDebug:
		return 1
	case SeverityInfo:
		return 2
	case SeverityWarn:
		return 3
	case SeverityError:
		return 4
	default:
		return 0
	}
}

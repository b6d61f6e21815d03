package commsutil

import (
	"strings"
)

// Default COMMS subjects.
const (
	SubjectNavigate     = "nav.navigate"
	SubjectResults      = "nav.results"
	SubjectEvents       = "nav.events"
	LaunchSubjectPrefix = "nav.launch"
)

// BuildEventSubject builds a severity-specific event subject.
func BuildEventSubject(base, severity string) string {
	return base + "." + severity
}

// BuildLaunchSubject builds the subject a launch backend listens on for
// handlerID. Dots, spaces and wildcard characters in the handler id are
// replaced so the id stays a single subject token.
func BuildLaunchSubject(prefix, handlerID string) string {
	if prefix == "" {
		prefix = LaunchSubjectPrefix
	}
	return prefix + "." + subjectToken(handlerID)
}

var tokenReplacer = strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_")

func subjectToken(s string) string {
	return tokenReplacer.Replace(s)
}

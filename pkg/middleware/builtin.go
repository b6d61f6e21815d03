package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/morezero/nav-dispatch/pkg/events"
	"github.com/morezero/nav-dispatch/pkg/naverr"
	"github.com/morezero/nav-dispatch/pkg/pathutil"
	"github.com/morezero/nav-dispatch/pkg/request"
	"github.com/morezero/nav-dispatch/pkg/session"
)

const builtinLogPrefix = "middleware:builtin"

// Built-in priorities.
const (
	PriorityAudit      int32 = 50
	PrioritySession    int32 = 100
	PriorityCapability int32 = 200
	PriorityLogging    int32 = math.MaxInt32
)

// Built-in names.
const (
	NameSession    = "session-check"
	NameCapability = "capability-check"
	NameLogging    = "logging"
	NameAudit      = "audit"
)

// DefaultSensitiveKeys are the key substrings redacted by Logging.
var DefaultSensitiveKeys = []string{"password", "token", "secret"}

// patternSet holds exact paths and prefix patterns.
type patternSet struct {
	exact    map[string]struct{}
	prefixes []string
}

func (s *patternSet) add(pattern string) error {
	if !pathutil.ValidatePattern(pattern) {
		return naverr.Newf(naverr.CodeInvalidPath, "invalid rule path %q", pattern)
	}
	if pathutil.IsWildcard(pattern) {
		for _, p := range s.prefixes {
			if p == pattern {
				return nil
			}
		}
		s.prefixes = append(s.prefixes, pattern)
		return nil
	}
	if s.exact == nil {
		s.exact = make(map[string]struct{})
	}
	s.exact[pattern] = struct{}{}
	return nil
}

func (s *patternSet) remove(pattern string) bool {
	if _, ok := s.exact[pattern]; ok {
		delete(s.exact, pattern)
		return true
	}
	for i, p := range s.prefixes {
		if p == pattern {
			s.prefixes = append(s.prefixes[:i], s.prefixes[i+1:]...)
			return true
		}
	}
	return false
}

func (s *patternSet) matches(path string) bool {
	if _, ok := s.exact[path]; ok {
		return true
	}
	for _, p := range s.prefixes {
		if pathutil.MatchPrefix(p, path) {
			return true
		}
	}
	return false
}

// SessionCheck vetoes navigation to protected paths when the caller is not
// authenticated. The original target is persisted for a later redirect.
type SessionCheck struct {
	oracle   session.Oracle
	authPath string

	mu    sync.RWMutex
	rules patternSet
}

// NewSessionCheck creates a SessionCheck that redirects to authPath.
func NewSessionCheck(oracle session.Oracle, authPath string, patterns ...string) (*SessionCheck, error) {
	s := &SessionCheck{oracle: oracle, authPath: authPath}
	if err := s.Require(patterns...); err != nil {
		return nil, err
	}
	return s, nil
}

// Require marks patterns (exact paths or "/x/*") as needing a session.
func (s *SessionCheck) Require(patterns ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range patterns {
		if err := s.rules.add(p); err != nil {
			return err
		}
	}
	return nil
}

// Forget drops the rule for pattern. It reports whether one existed.
func (s *SessionCheck) Forget(pattern string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rules.remove(pattern)
}

// Requires reports whether path needs a session.
func (s *SessionCheck) Requires(path string) bool {
	if path == s.authPath {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rules.matches(path)
}

// AuthPath returns the path callers are redirected to.
func (s *SessionCheck) AuthPath() string {
	return s.authPath
}

// Descriptor returns the chain entry for this check.
func (s *SessionCheck) Descriptor() Descriptor {
	return Descriptor{Name: NameSession, Priority: PrioritySession, Handler: s.Handle}
}

// Handle implements Func.
func (s *SessionCheck) Handle(ctx context.Context, req *request.Request) (bool, error) {
	if !s.Requires(req.Path) {
		return true, nil
	}
	ok, err := s.oracle.IsAuthenticated(ctx)
	if err != nil {
		return true, fmt.Errorf("%s - session lookup failed: %w", builtinLogPrefix, err)
	}
	if ok {
		return true, nil
	}

	if err := s.oracle.PersistRedirectTarget(ctx, req.Path); err != nil {
		slog.Warn(fmt.Sprintf("%s - failed to persist redirect target %s: %v", builtinLogPrefix, req.Path, err))
	}
	req.Intercept(naverr.Newf(naverr.CodeAuthRequired, "authentication required for %s", req.Path).
		WithDetails(map[string]string{"redirect": s.authPath, "target": req.Path}))
	return false, nil
}

// CapabilityCheck vetoes navigation when the caller lacks a capability the
// target requires.
type CapabilityCheck struct {
	oracle session.CapabilityOracle

	mu    sync.RWMutex
	rules map[string]map[string]struct{}
}

// NewCapabilityCheck creates a CapabilityCheck with no rules.
func NewCapabilityCheck(oracle session.CapabilityOracle) *CapabilityCheck {
	return &CapabilityCheck{oracle: oracle, rules: make(map[string]map[string]struct{})}
}

// Require adds caps to the capabilities pattern needs.
func (c *CapabilityCheck) Require(pattern string, caps ...string) error {
	if !pathutil.ValidatePattern(pattern) {
		return naverr.Newf(naverr.CodeInvalidPath, "invalid rule path %q", pattern)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.rules[pattern]
	if !ok {
		set = make(map[string]struct{}, len(caps))
		c.rules[pattern] = set
	}
	for _, name := range caps {
		if name != "" {
			set[name] = struct{}{}
		}
	}
	return nil
}

// Set replaces the capabilities pattern needs. With no caps the rule is
// dropped.
func (c *CapabilityCheck) Set(pattern string, caps ...string) error {
	if !pathutil.ValidatePattern(pattern) {
		return naverr.Newf(naverr.CodeInvalidPath, "invalid rule path %q", pattern)
	}
	set := make(map[string]struct{}, len(caps))
	for _, name := range caps {
		if name != "" {
			set[name] = struct{}{}
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(set) == 0 {
		delete(c.rules, pattern)
		return nil
	}
	c.rules[pattern] = set
	return nil
}

// Required returns the sorted capabilities path needs. An exact rule wins;
// otherwise all matching prefix rules are combined.
func (c *CapabilityCheck) Required(path string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	merged := make(map[string]struct{})
	if set, ok := c.rules[path]; ok && !pathutil.IsWildcard(path) {
		merged = set
	} else {
		for pattern, set := range c.rules {
			if pathutil.IsWildcard(pattern) && pathutil.MatchPrefix(pattern, path) {
				for name := range set {
					merged[name] = struct{}{}
				}
			}
		}
	}
	out := make([]string, 0, len(merged))
	for name := range merged {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Descriptor returns the chain entry for this check.
func (c *CapabilityCheck) Descriptor() Descriptor {
	return Descriptor{Name: NameCapability, Priority: PriorityCapability, Handler: c.Handle}
}

// Handle implements Func.
func (c *CapabilityCheck) Handle(ctx context.Context, req *request.Request) (bool, error) {
	required := c.Required(req.Path)
	var missing []string
	for _, name := range required {
		has, err := c.oracle.HasCapability(ctx, name)
		if err != nil {
			return true, fmt.Errorf("%s - capability lookup for %s failed: %w", builtinLogPrefix, name, err)
		}
		if !has {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return true, nil
	}
	req.Intercept(naverr.Newf(naverr.CodeCapabilityDenied, "missing capabilities for %s", req.Path).
		WithDetails(map[string][]string{"missing": missing}))
	return false, nil
}

// Logging emits start and parameter events for every navigation. It never
// vetoes.
type Logging struct {
	sink      events.Sink
	sensitive []string
}

// NewLogging creates a Logging middleware. With no keys, DefaultSensitiveKeys
// are redacted.
func NewLogging(sink events.Sink, sensitiveKeys ...string) *Logging {
	if len(sensitiveKeys) == 0 {
		sensitiveKeys = DefaultSensitiveKeys
	}
	l := &Logging{sink: sink}
	for _, k := range sensitiveKeys {
		if k = strings.TrimSpace(k); k != "" {
			l.sensitive = append(l.sensitive, strings.ToLower(k))
		}
	}
	return l
}

// IsSensitive reports whether key contains a sensitive substring, ignoring case.
func (l *Logging) IsSensitive(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range l.sensitive {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// Descriptor returns the chain entry for this middleware.
func (l *Logging) Descriptor() Descriptor {
	return Descriptor{Name: NameLogging, Priority: PriorityLogging, Handler: l.Handle}
}

// Handle implements Func.
func (l *Logging) Handle(ctx context.Context, req *request.Request) (bool, error) {
	start := map[string]interface{}{
		"path":          req.Path,
		"flags":         req.Flags,
		"expectsResult": req.ExpectsResult(),
	}
	if sid := session.IDFrom(ctx); sid != "" {
		start["sessionId"] = sid
	}
	if err := l.sink.Emit(ctx, events.NewEvent(events.SeverityInfo, events.MessageNavigationStart, start)); err != nil {
		return true, err
	}
	if req.Params.Len() == 0 {
		return true, nil
	}
	fields := map[string]interface{}{
		"path":   req.Path,
		"params": req.Params.Redacted(l.IsSensitive),
	}
	return true, l.sink.Emit(ctx, events.NewEvent(events.SeverityDebug, events.MessageNavigationParams, fields))
}

// NewAudit returns a catalog middleware that records who navigated where.
// It never vetoes.
func NewAudit(sink events.Sink) Descriptor {
	return Descriptor{
		Name:     NameAudit,
		Priority: PriorityAudit,
		Handler: func(ctx context.Context, req *request.Request) (bool, error) {
			fields := map[string]interface{}{"path": req.Path}
			if sid := session.IDFrom(ctx); sid != "" {
				fields["sessionId"] = sid
			}
			return true, sink.Emit(ctx, events.NewEvent(events.SeverityInfo, events.MessageNavigationAudit, fields))
		},
	}
}

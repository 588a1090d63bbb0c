package metrics

import (
	"time"

	domainauth "github.com/astracore/astracore/internal/domain/auth"
	obserrors "github.com/astracore/astracore/internal/observability/errors"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
)

// Metric names.
const (
	SessionOp       = "auth.session.op"
	SessionDuration = "auth.session.duration"
	AuthzTransition = "authz.transition"
	AuthzState      = "authz.state"
	ProfileLoad     = "authz.profile_load.duration"
	PermissionDeny  = "authz.permission.denied"
)

// SessionMetric captures one Session Store operation.
type SessionMetric struct {
	Op       string // restore, sign_in, sign_out, reset_password, provider_event
	Result   string
	Duration time.Duration
	Err      error
}

// EmitSessionOp emits standardised Session Store metrics.
func EmitSessionOp(sink Sink, in SessionMetric) {
	if sink == nil {
		return
	}
	tags := map[string]string{
		"op":     in.Op,
		"result": in.Result,
	}
	if in.Err != nil && in.Result == ResultError {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}
	sink.Count(SessionOp, 1, tags)
	if in.Duration > 0 {
		sink.Timing(SessionDuration, in.Duration, CloneTags(tags))
	}
}

// TransitionMetric captures an Authorization Engine state change.
type TransitionMetric struct {
	From     domainauth.State
	To       domainauth.State
	Duration time.Duration // profile load time when leaving Loading
	Err      error
}

// EmitTransition emits engine transition metrics and the current-state gauge.
func EmitTransition(sink Sink, in TransitionMetric) {
	if sink == nil {
		return
	}
	tags := map[string]string{
		"from": in.From.String(),
		"to":   in.To.String(),
	}
	if in.Err != nil {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}
	sink.Count(AuthzTransition, 1, tags)
	sink.Gauge(AuthzState, float64(in.To), nil)
	if in.From == domainauth.StateLoading && in.Duration > 0 {
		sink.Timing(ProfileLoad, in.Duration, map[string]string{"to": in.To.String()})
	}
}

// EmitDenied counts a denied permission check at an enforcement point.
func EmitDenied(sink Sink, d domainauth.Decision) {
	if sink == nil || d.Allowed {
		return
	}
	sink.Count(PermissionDeny, 1, map[string]string{
		"permission": string(d.Permission),
		"reason":     d.Reason.String(),
	})
}

package internaldefs

import (
	"github.com/marcjazz/authkestra"
)

// CounterDef names one exported counter.
type CounterDef struct {
	ID   authkestra.MetricID
	Name string
	Help string
}

// HistogramDef names one exported histogram.
type HistogramDef struct {
	ID   authkestra.MetricID
	Name string
	Help string
}

// AuditDropped names the dropped audit event counter.
var AuditDropped = CounterDef{
	Name: "authkestra_audit_dropped_total",
	Help: "Audit events dropped due to dispatcher backpressure.",
}

var CounterDefs = []CounterDef{
	{ID: authkestra.MetricLoginSuccess, Name: "authkestra_login_success_total", Help: "Completed logins."},
	{ID: authkestra.MetricLoginFailure, Name: "authkestra_login_failure_total", Help: "Failed logins."},
	{ID: authkestra.MetricStateMismatch, Name: "authkestra_state_mismatch_total", Help: "Authorization callbacks rejected for state mismatch."},
	{ID: authkestra.MetricProviderUnavailable, Name: "authkestra_provider_unavailable_total", Help: "Provider or session store outages."},
	{ID: authkestra.MetricSessionCreated, Name: "authkestra_session_created_total", Help: "Created sessions."},
	{ID: authkestra.MetricSessionRevoked, Name: "authkestra_session_revoked_total", Help: "Revoked sessions."},
	{ID: authkestra.MetricUserTokenIssued, Name: "authkestra_user_token_issued_total", Help: "Issued user tokens."},
	{ID: authkestra.MetricClientTokenIssued, Name: "authkestra_client_token_issued_total", Help: "Issued client tokens."},
	{ID: authkestra.MetricTokenValid, Name: "authkestra_token_valid_total", Help: "Tokens that passed validation."},
	{ID: authkestra.MetricTokenExpired, Name: "authkestra_token_expired_total", Help: "Tokens rejected as expired."},
	{ID: authkestra.MetricTokenInvalid, Name: "authkestra_token_invalid_total", Help: "Tokens rejected as invalid."},
	{ID: authkestra.MetricAccessGranted, Name: "authkestra_access_granted_total", Help: "Guard decisions that granted access."},
	{ID: authkestra.MetricAccessDenied, Name: "authkestra_access_denied_total", Help: "Guard decisions that denied access."},
}

var HistogramDefs = []HistogramDef{
	{ID: authkestra.MetricValidateLatency, Name: "authkestra_validate_latency_seconds", Help: "Token validation latency."},
}

// HistogramBounds are the finite upper bounds in seconds. A final +Inf
// bucket follows them.
var HistogramBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// HistogramBoundSuffix names each bucket, +Inf included, for exporters that
// publish one gauge per bucket.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets pads or truncates raw to the bucket count.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	copy(out[:], raw)
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i, n := range raw {
		running += n
		out[i] = running
	}
	return out
}

package internaldefs

import (
	"github.com/MrEthical07/tokengate"
)

// CounterDef names one in-process counter for export.
type CounterDef struct {
	ID   tokengate.MetricID
	Name string
	Help string
}

// HistogramDef names one in-process latency histogram for export.
type HistogramDef struct {
	ID   tokengate.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: tokengate.MetricIssueSuccess, Name: "tokengate_issue_success_total", Help: "Token pairs issued."},
	{ID: tokengate.MetricIssueFailure, Name: "tokengate_issue_failure_total", Help: "Token pair issuances that failed."},
	{ID: tokengate.MetricLongLivedIssued, Name: "tokengate_long_lived_issued_total", Help: "Long-lived operator token pairs issued."},
	{ID: tokengate.MetricRefreshSuccess, Name: "tokengate_refresh_success_total", Help: "Successful refresh rotations."},
	{ID: tokengate.MetricRefreshExpired, Name: "tokengate_refresh_expired_total", Help: "Refresh attempts with an expired token."},
	{ID: tokengate.MetricRefreshInvalid, Name: "tokengate_refresh_invalid_total", Help: "Refresh attempts with an invalid or unknown token."},
	{ID: tokengate.MetricRefreshReuseDetected, Name: "tokengate_refresh_reuse_detected_total", Help: "Replayed refresh tokens that triggered revocation."},
	{ID: tokengate.MetricRefreshStoreFailure, Name: "tokengate_refresh_store_failure_total", Help: "Refresh attempts rejected because the token store failed."},
	{ID: tokengate.MetricTokensRevoked, Name: "tokengate_tokens_revoked_total", Help: "Refresh records removed by logout-all and reuse sweeps."},
	{ID: tokengate.MetricLogout, Name: "tokengate_logout_total", Help: "Single-token logouts."},
	{ID: tokengate.MetricLogoutAll, Name: "tokengate_logout_all_total", Help: "Logout-all operations."},
	{ID: tokengate.MetricAccessVerified, Name: "tokengate_access_verified_total", Help: "Access tokens that verified."},
	{ID: tokengate.MetricAccessRejected, Name: "tokengate_access_rejected_total", Help: "Access tokens that failed verification."},
	{ID: tokengate.MetricRateLimitAllowed, Name: "tokengate_rate_limit_allowed_total", Help: "Limited requests admitted."},
	{ID: tokengate.MetricRateLimitDenied, Name: "tokengate_rate_limit_denied_total", Help: "Requests denied with 429."},
	{ID: tokengate.MetricRateLimitUnavailable, Name: "tokengate_rate_limit_unavailable_total", Help: "Requests denied with 503 because the counter store failed."},
}

var HistogramDefs = []HistogramDef{
	{ID: tokengate.MetricRefreshLatency, Name: "tokengate_refresh_latency_seconds", Help: "Refresh rotation latency."},
}

// AuditDroppedName is the counter of audit events lost to backpressure.
const AuditDroppedName = "tokengate_audit_dropped_total"

// HistogramUpperBounds are the finite bucket bounds in seconds; a final +Inf
// bucket follows them.
var HistogramUpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

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

// NormalizeBuckets pads or truncates raw to the fixed bucket count.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}

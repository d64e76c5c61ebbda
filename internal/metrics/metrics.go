package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	metrics "github.com/soulteary/metrics-kit"
)

var (
	// Registry is the Prometheus registry for herald-captcha metrics
	Registry *metrics.Registry

	// IssueTotal counts issued tokens
	IssueTotal prometheus.Counter

	// VerifyTotal counts validations by result and reason
	VerifyTotal *prometheus.CounterVec

	// CacheGetTotal counts challenge requests by source (pool or miss)
	CacheGetTotal *prometheus.CounterVec

	// RotationTotal counts epoch rotations
	RotationTotal prometheus.Counter
)

func init() {
	Init()
}

// Init initializes herald-captcha metrics
func Init() {
	Registry = metrics.NewRegistry("herald_captcha")
	IssueTotal = Registry.Counter("issue_total").
		Help("Total tokens issued").
		Build()
	VerifyTotal = Registry.Counter("verify_total").
		Help("Total captcha validations").
		Labels("result", "reason").
		BuildVec()
	CacheGetTotal = Registry.Counter("cache_get_total").
		Help("Total challenges served by source").
		Labels("source").
		BuildVec()
	RotationTotal = Registry.Counter("rotation_total").
		Help("Total epoch rotations").
		Build()
}

// RecordIssue records an issued token
func RecordIssue() {
	if IssueTotal != nil {
		IssueTotal.Inc()
	}
}

// RecordVerify records a validation (result: "success" or "failure", reason: e.g. "expired", "replay")
func RecordVerify(result, reason string) {
	if VerifyTotal != nil {
		VerifyTotal.WithLabelValues(result, reason).Inc()
	}
}

// RecordCacheGet records a served challenge (source: "pool" or "miss")
func RecordCacheGet(source string) {
	if CacheGetTotal != nil {
		CacheGetTotal.WithLabelValues(source).Inc()
	}
}

// RecordRotation records an epoch rotation
func RecordRotation() {
	if RotationTotal != nil {
		RotationTotal.Inc()
	}
}

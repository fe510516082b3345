package onboarding

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels.
const (
	OutcomeSuccess  = "success"
	OutcomeInvalid  = "invalid"
	OutcomeExpired  = "expired"
	OutcomeThrottle = "throttled"
	OutcomeError    = "error"
)

// Metrics exports onboarding counters. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	tokensIssued  *prometheus.CounterVec
	verifications *prometheus.CounterVec
	otp           *prometheus.CounterVec
	sweepDeleted  *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		tokensIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "onboarding_tokens_issued_total",
			Help: "Verification tokens issued, by token type.",
		}, []string{"type"}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "onboarding_verifications_total",
			Help: "Verification attempts, by token type and outcome.",
		}, []string{"type", "outcome"}),
		otp: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "onboarding_otp_total",
			Help: "One-time code operations, by purpose, operation and outcome.",
		}, []string{"purpose", "op", "outcome"}),
		sweepDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "onboarding_sweep_deleted_total",
			Help: "Rows removed by the cleanup sweeper, by kind.",
		}, []string{"kind"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.tokensIssued,
			m.verifications,
			m.otp,
			m.sweepDeleted,
		)
	}

	return m
}

func (m *Metrics) tokenIssued(t TokenType) {
	if m == nil {
		return
	}
	m.tokensIssued.WithLabelValues(string(t)).Inc()
}

func (m *Metrics) verification(t TokenType, outcome string) {
	if m == nil {
		return
	}
	m.verifications.WithLabelValues(string(t), outcome).Inc()
}

func (m *Metrics) otpOp(purpose OtpPurpose, op, outcome string) {
	if m == nil {
		return
	}
	m.otp.WithLabelValues(string(purpose), op, outcome).Inc()
}

func (m *Metrics) swept(kind string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.sweepDeleted.WithLabelValues(kind).Add(float64(n))
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return OutcomeSuccess
	case IsTokenExpired(err), hasTextCode(err, ErrOtpExpired, TextCodeOtpExpired):
		return OutcomeExpired
	case IsInvalidToken(err), hasTextCode(err, ErrInvalidOtp, TextCodeInvalidOtp):
		return OutcomeInvalid
	case IsTooManyRequests(err):
		return OutcomeThrottle
	default:
		return OutcomeError
	}
}

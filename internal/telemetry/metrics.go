package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/wolfeidau/pollbooth"
)

// Logout reasons recorded on pollbooth.session.logouts.total.
const (
	LogoutExplicit     = "explicit"
	LogoutExpired      = "expired"
	LogoutUnauthorized = "unauthorized"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Session lifecycle
	LoginsTotal   metric.Int64Counter
	LogoutsTotal  metric.Int64Counter
	RestoresTotal metric.Int64Counter

	// OTP challenge
	OTPSendsTotal         metric.Int64Counter
	OTPVerificationsTotal metric.Int64Counter

	// Auth gateway calls
	GatewayRequestDuration metric.Float64Histogram
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

// RecordLogin counts a login attempt outcome.
func (m *Metrics) RecordLogin(ctx context.Context, ok bool) {
	m.LoginsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result(ok))))
}

// RecordLogout counts a logout by reason.
func (m *Metrics) RecordLogout(ctx context.Context, reason string) {
	m.LogoutsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordRestore counts a session restoration attempt.
func (m *Metrics) RecordRestore(ctx context.Context, ok bool) {
	m.RestoresTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result(ok))))
}

// RecordOTPVerification counts an OTP verification outcome.
func (m *Metrics) RecordOTPVerification(ctx context.Context, ok bool) {
	m.OTPVerificationsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result(ok))))
}

// RecordGatewayRequest records the duration of an auth gateway call.
func (m *Metrics) RecordGatewayRequest(ctx context.Context, operation string, status int, millis float64) {
	m.GatewayRequestDuration.Record(ctx, millis, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.Int("status", status),
	))
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// initMetrics creates and registers all metric instruments
func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}

	m.LoginsTotal, _ = meter.Int64Counter(
		"pollbooth.session.logins.total",
		metric.WithDescription("Total number of login completions by result"),
		metric.WithUnit("{login}"),
	)

	m.LogoutsTotal, _ = meter.Int64Counter(
		"pollbooth.session.logouts.total",
		metric.WithDescription("Total number of logouts by reason"),
		metric.WithUnit("{logout}"),
	)

	m.RestoresTotal, _ = meter.Int64Counter(
		"pollbooth.session.restores.total",
		metric.WithDescription("Total number of session restorations from the cache"),
		metric.WithUnit("{restore}"),
	)

	m.OTPSendsTotal, _ = meter.Int64Counter(
		"pollbooth.otp.sends.total",
		metric.WithDescription("Total number of OTP codes requested"),
		metric.WithUnit("{otp}"),
	)

	m.OTPVerificationsTotal, _ = meter.Int64Counter(
		"pollbooth.otp.verifications.total",
		metric.WithDescription("Total number of OTP verification attempts by result"),
		metric.WithUnit("{attempt}"),
	)

	m.GatewayRequestDuration, _ = meter.Float64Histogram(
		"pollbooth.gateway.request.duration",
		metric.WithDescription("Duration of auth gateway requests"),
		metric.WithUnit("ms"),
	)

	return m
}

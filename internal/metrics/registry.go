package metrics

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Registry holds all domain-specific metrics for the application
type Registry struct {
	meter metric.Meter

	// Audit Log Metrics
	AuditAppendDuration metric.Float64Histogram
	AuditAppendCounter  metric.Int64Counter
	AuditStreamFailures metric.Int64Counter
	ChainVerifyDuration metric.Float64Histogram

	// Consent Metrics
	ConsentCheckDuration   metric.Float64Histogram
	ConsentCheckCounter    metric.Int64Counter
	ConsentDecisionCounter metric.Int64Counter

	// Retention Metrics
	SweepDuration     metric.Float64Histogram
	SweepItemsCounter metric.Int64Counter

	// Privacy Metrics
	ErasureDuration     metric.Float64Histogram
	PrivacyRequestTotal metric.Int64Counter
	FieldRevealCounter  metric.Int64Counter
	OpenObligations     metric.Int64ObservableGauge

	// Payment Metrics
	ChargeAmount          metric.Float64Histogram
	PaymentProcessingTime metric.Float64Histogram
	TransactionCounter    metric.Int64Counter
	PaymentFailureCounter metric.Int64Counter

	// Access Control Metrics
	AuthzCheckCounter metric.Int64Counter
	AuthzDenyCounter  metric.Int64Counter

	// System Metrics
	DatabaseConnectionPool metric.Int64ObservableGauge
	APIRequestDuration     metric.Float64Histogram
	APIRequestCounter      metric.Int64Counter

	// State for observable metrics
	mu              sync.RWMutex
	openObligations int64
	dbPoolSize      int64
}

// NewRegistry creates a new metrics registry with all domain metrics
func NewRegistry(meterName string) (*Registry, error) {
	meter := otel.Meter(meterName)
	r := &Registry{meter: meter}

	if err := r.initAuditMetrics(); err != nil {
		return nil, err
	}

	if err := r.initConsentMetrics(); err != nil {
		return nil, err
	}

	if err := r.initRetentionMetrics(); err != nil {
		return nil, err
	}

	if err := r.initPrivacyMetrics(); err != nil {
		return nil, err
	}

	if err := r.initPaymentMetrics(); err != nil {
		return nil, err
	}

	if err := r.initAccessMetrics(); err != nil {
		return nil, err
	}

	if err := r.initSystemMetrics(); err != nil {
		return nil, err
	}

	return r, nil
}

// initAuditMetrics initializes audit log metrics
func (r *Registry) initAuditMetrics() error {
	var err error

	// Append latency dominates every governed mutation, so the buckets
	// start well under a millisecond.
	r.AuditAppendDuration, err = r.meter.Float64Histogram(
		"govern.audit.append_duration",
		metric.WithDescription("Audit append duration in milliseconds"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 5, 10, 50, 100, 500),
	)
	if err != nil {
		return err
	}

	r.AuditAppendCounter, err = r.meter.Int64Counter(
		"govern.audit.append_total",
		metric.WithDescription("Total audit entries appended"),
	)
	if err != nil {
		return err
	}

	r.AuditStreamFailures, err = r.meter.Int64Counter(
		"govern.audit.stream_failure_total",
		metric.WithDescription("Audit entries that could not be streamed downstream"),
	)
	if err != nil {
		return err
	}

	r.ChainVerifyDuration, err = r.meter.Float64Histogram(
		"govern.audit.chain_verify_duration",
		metric.WithDescription("Hash chain verification duration in milliseconds"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 10, 50, 100, 500, 1000, 5000, 30000),
	)

	return err
}

// initConsentMetrics initializes consent registry metrics
func (r *Registry) initConsentMetrics() error {
	var err error

	r.ConsentCheckDuration, err = r.meter.Float64Histogram(
		"govern.consent.check_duration",
		metric.WithDescription("Consent check duration in milliseconds"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 5, 10, 50, 100),
	)
	if err != nil {
		return err
	}

	r.ConsentCheckCounter, err = r.meter.Int64Counter(
		"govern.consent.check_total",
		metric.WithDescription("Total consent checks performed"),
	)
	if err != nil {
		return err
	}

	r.ConsentDecisionCounter, err = r.meter.Int64Counter(
		"govern.consent.decision_total",
		metric.WithDescription("Total consent decisions recorded"),
	)

	return err
}

// initRetentionMetrics initializes retention sweep metrics
func (r *Registry) initRetentionMetrics() error {
	var err error

	r.SweepDuration, err = r.meter.Float64Histogram(
		"govern.retention.sweep_duration",
		metric.WithDescription("Retention sweep duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 1, 5, 30, 60, 300, 1800),
	)
	if err != nil {
		return err
	}

	r.SweepItemsCounter, err = r.meter.Int64Counter(
		"govern.retention.sweep_items_total",
		metric.WithDescription("Records examined and disposed of by retention sweeps"),
	)

	return err
}

// initPrivacyMetrics initializes erasure and export metrics
func (r *Registry) initPrivacyMetrics() error {
	var err error

	r.ErasureDuration, err = r.meter.Float64Histogram(
		"govern.privacy.request_duration",
		metric.WithDescription("Erasure and export processing duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 5, 10, 30, 60, 300),
	)
	if err != nil {
		return err
	}

	r.PrivacyRequestTotal, err = r.meter.Int64Counter(
		"govern.privacy.request_total",
		metric.WithDescription("Total erasure and export requests processed"),
	)
	if err != nil {
		return err
	}

	r.FieldRevealCounter, err = r.meter.Int64Counter(
		"govern.privacy.field_reveal_total",
		metric.WithDescription("Total protected field reveals"),
	)
	if err != nil {
		return err
	}

	r.OpenObligations, err = r.meter.Int64ObservableGauge(
		"govern.privacy.open_obligations",
		metric.WithDescription("Propagation obligations awaiting verification"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			r.mu.RLock()
			defer r.mu.RUnlock()
			o.Observe(r.openObligations)
			return nil
		}),
	)

	return err
}

// initPaymentMetrics initializes payment metrics
func (r *Registry) initPaymentMetrics() error {
	var err error

	r.ChargeAmount, err = r.meter.Float64Histogram(
		"govern.payment.charge_amount",
		metric.WithDescription("Charge amounts in the transaction currency"),
		metric.WithExplicitBucketBoundaries(0.01, 0.1, 1, 10, 100, 1000, 10000),
	)
	if err != nil {
		return err
	}

	r.PaymentProcessingTime, err = r.meter.Float64Histogram(
		"govern.payment.processing_time",
		metric.WithDescription("Payment processing time in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2, 5, 10, 30),
	)
	if err != nil {
		return err
	}

	r.TransactionCounter, err = r.meter.Int64Counter(
		"govern.payment.transaction_total",
		metric.WithDescription("Total number of transactions"),
	)
	if err != nil {
		return err
	}

	r.PaymentFailureCounter, err = r.meter.Int64Counter(
		"govern.payment.failure_total",
		metric.WithDescription("Total number of declined or failed payments"),
	)

	return err
}

// initAccessMetrics initializes access control metrics
func (r *Registry) initAccessMetrics() error {
	var err error

	r.AuthzCheckCounter, err = r.meter.Int64Counter(
		"govern.access.check_total",
		metric.WithDescription("Total authorization checks evaluated"),
	)
	if err != nil {
		return err
	}

	r.AuthzDenyCounter, err = r.meter.Int64Counter(
		"govern.access.deny_total",
		metric.WithDescription("Total authorization denials"),
	)

	return err
}

// initSystemMetrics initializes system-level metrics
func (r *Registry) initSystemMetrics() error {
	var err error

	r.DatabaseConnectionPool, err = r.meter.Int64ObservableGauge(
		"govern.system.db_connection_pool_size",
		metric.WithDescription("Current database connection pool size"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			r.mu.RLock()
			defer r.mu.RUnlock()
			o.Observe(r.dbPoolSize)
			return nil
		}),
	)
	if err != nil {
		return err
	}

	r.APIRequestDuration, err = r.meter.Float64Histogram(
		"govern.api.request_duration",
		metric.WithDescription("API request duration in milliseconds"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 50, 100, 500, 1000, 5000),
	)
	if err != nil {
		return err
	}

	r.APIRequestCounter, err = r.meter.Int64Counter(
		"govern.api.request_total",
		metric.WithDescription("Total number of API requests"),
	)

	return err
}

// Helper methods for updating observable metric values

// SetOpenObligations sets the count of unverified propagation obligations
func (r *Registry) SetOpenObligations(count int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.openObligations = count
}

// SetDBPoolSize sets the database connection pool size
func (r *Registry) SetDBPoolSize(size int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dbPoolSize = size
}

// Helper methods for recording metrics with common attribute patterns

// RecordAuditAppend records one append attempt on the audit log
func (r *Registry) RecordAuditAppend(ctx context.Context, durationMS float64, entryType string, success bool) {
	attrs := []attribute.KeyValue{
		attribute.String("entry_type", entryType),
		attribute.Bool("success", success),
	}

	r.AuditAppendDuration.Record(ctx, durationMS, metric.WithAttributes(attrs...))
	r.AuditAppendCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordConsentCheck records a consent check and where its answer came from
func (r *Registry) RecordConsentCheck(ctx context.Context, durationMS float64, purpose, source string, granted bool) {
	attrs := []attribute.KeyValue{
		attribute.String("purpose", purpose),
		attribute.String("source", source),
		attribute.Bool("granted", granted),
	}

	r.ConsentCheckDuration.Record(ctx, durationMS, metric.WithAttributes(attrs...))
	r.ConsentCheckCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordConsentDecision records a recorded grant or revocation
func (r *Registry) RecordConsentDecision(ctx context.Context, purpose string, granted bool) {
	r.ConsentDecisionCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("purpose", purpose),
		attribute.Bool("granted", granted),
	))
}

// RecordSweep records the outcome of one retention sweep
func (r *Registry) RecordSweep(ctx context.Context, durationSec float64, examined, purged, anonymized int64) {
	r.SweepDuration.Record(ctx, durationSec)
	r.SweepItemsCounter.Add(ctx, examined, metric.WithAttributes(attribute.String("disposition", "examined")))
	r.SweepItemsCounter.Add(ctx, purged, metric.WithAttributes(attribute.String("disposition", "purged")))
	r.SweepItemsCounter.Add(ctx, anonymized, metric.WithAttributes(attribute.String("disposition", "anonymized")))
}

// RecordPrivacyRequest records a processed erasure or export
func (r *Registry) RecordPrivacyRequest(ctx context.Context, durationSec float64, kind string, success bool) {
	attrs := []attribute.KeyValue{
		attribute.String("kind", kind),
		attribute.Bool("success", success),
	}

	r.ErasureDuration.Record(ctx, durationSec, metric.WithAttributes(attrs...))
	r.PrivacyRequestTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordFieldReveal records an audited protected field reveal
func (r *Registry) RecordFieldReveal(ctx context.Context, role string) {
	r.FieldRevealCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("role", role)))
}

// RecordTransaction records payment transaction metrics
func (r *Registry) RecordTransaction(ctx context.Context, amount float64, currency string, success bool) {
	attrs := []attribute.KeyValue{
		attribute.String("currency", currency),
		attribute.Bool("success", success),
	}

	r.ChargeAmount.Record(ctx, amount, metric.WithAttributes(attrs...))
	r.TransactionCounter.Add(ctx, 1, metric.WithAttributes(attrs...))

	if !success {
		r.PaymentFailureCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordAuthzCheck records an authorization decision
func (r *Registry) RecordAuthzCheck(ctx context.Context, role, action string, allowed bool) {
	attrs := []attribute.KeyValue{
		attribute.String("role", role),
		attribute.String("action", action),
		attribute.Bool("allowed", allowed),
	}

	r.AuthzCheckCounter.Add(ctx, 1, metric.WithAttributes(attrs...))

	if !allowed {
		r.AuthzDenyCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordAPIRequest records API request metrics
func (r *Registry) RecordAPIRequest(ctx context.Context, duration float64, method, path string, statusCode int) {
	attrs := []attribute.KeyValue{
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.Int("status_code", statusCode),
	}

	r.APIRequestDuration.Record(ctx, duration, metric.WithAttributes(attrs...))
	r.APIRequestCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
}

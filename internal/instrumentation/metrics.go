package instrumentation

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric attribute keys.
const (
	attrMethod    = "method"
	attrPath      = "path"
	attrStatus    = "status"
	attrOperation = "operation"
	attrService   = "service"
	attrResult    = "result"
	attrAction    = "action"
	attrOutcome   = "outcome"
	attrRoute     = "route"
)

// Metrics provides methods for recording observability metrics.
type Metrics struct {
	// HTTP metrics
	httpRequestsTotal   metric.Int64Counter
	httpRequestDuration metric.Float64Histogram

	// Agent metrics
	chatMessagesTotal     metric.Int64Counter
	moderationChecksTotal metric.Int64Counter

	// Google API metrics
	googleAPIOperationsTotal   metric.Int64Counter
	googleAPIOperationDuration metric.Float64Histogram

	// Auth metrics
	authVerificationsTotal metric.Int64Counter

	// Rate limiting metrics
	rateLimitRejectionsTotal metric.Int64Counter
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}

	var err error

	m.httpRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_requests_total counter: %w", err)
	}

	m.httpRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.01, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_request_duration_seconds histogram: %w", err)
	}

	m.chatMessagesTotal, err = meter.Int64Counter(
		"chat_messages_total",
		metric.WithDescription("Total number of chat messages processed by the agent"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat_messages_total counter: %w", err)
	}

	m.moderationChecksTotal, err = meter.Int64Counter(
		"moderation_checks_total",
		metric.WithDescription("Total number of content moderation checks"),
		metric.WithUnit("{check}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create moderation_checks_total counter: %w", err)
	}

	m.googleAPIOperationsTotal, err = meter.Int64Counter(
		"google_api_operations_total",
		metric.WithDescription("Total number of Google API operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create google_api_operations_total counter: %w", err)
	}

	m.googleAPIOperationDuration, err = meter.Float64Histogram(
		"google_api_operation_duration_seconds",
		metric.WithDescription("Google API operation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create google_api_operation_duration_seconds histogram: %w", err)
	}

	m.authVerificationsTotal, err = meter.Int64Counter(
		"auth_verifications_total",
		metric.WithDescription("Total number of JWT verification attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth_verifications_total counter: %w", err)
	}

	m.rateLimitRejectionsTotal, err = meter.Int64Counter(
		"rate_limit_rejections_total",
		metric.WithDescription("Total number of requests rejected by rate limiting"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate_limit_rejections_total counter: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records an HTTP request with method, route pattern,
// status code, and duration. Pass the registered route pattern rather than
// the raw URL path to keep cardinality bounded.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration) {
	if m.httpRequestsTotal == nil || m.httpRequestDuration == nil {
		return // Instrumentation not initialized
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrMethod, method),
		attribute.String(attrPath, path),
		attribute.String(attrStatus, strconv.Itoa(statusCode)),
	}

	m.httpRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.httpRequestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordChatMessage records a processed chat message by agent action and status.
//
// Parameters:
//   - action: Agent action taken (calendar_list, calendar_create, general_response,
//     moderation_blocked, error)
//   - status: Result status ("success" or "error")
func (m *Metrics) RecordChatMessage(ctx context.Context, action, status string) {
	if m.chatMessagesTotal == nil {
		return // Instrumentation not initialized
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrAction, action),
		attribute.String(attrStatus, status),
	}

	m.chatMessagesTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordModerationCheck records a content moderation check outcome.
// Outcome should be one of: "allowed", "flagged", "failed".
func (m *Metrics) RecordModerationCheck(ctx context.Context, outcome string) {
	if m.moderationChecksTotal == nil {
		return // Instrumentation not initialized
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrOutcome, outcome),
	}

	m.moderationChecksTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordGoogleAPIOperation records a Google API operation with service,
// operation, status, and duration.
//
// Parameters:
//   - service: Google service name (calendar)
//   - operation: Operation type (list, create, update, delete, check_conflicts)
//   - status: Result status ("success" or "error")
//   - duration: Time taken for the operation
func (m *Metrics) RecordGoogleAPIOperation(ctx context.Context, service, operation, status string, duration time.Duration) {
	if m.googleAPIOperationsTotal == nil || m.googleAPIOperationDuration == nil {
		return // Instrumentation not initialized
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrService, service),
		attribute.String(attrOperation, operation),
		attribute.String(attrStatus, status),
	}

	m.googleAPIOperationsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.googleAPIOperationDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordAuthVerification records a JWT verification attempt with result.
// Result should be one of: "success", "failure", "expired".
func (m *Metrics) RecordAuthVerification(ctx context.Context, result string) {
	if m.authVerificationsTotal == nil {
		return // Instrumentation not initialized
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrResult, result),
	}

	m.authVerificationsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRateLimitRejection records a request rejected by rate limiting for
// the given route.
func (m *Metrics) RecordRateLimitRejection(ctx context.Context, route string) {
	if m.rateLimitRejectionsTotal == nil {
		return // Instrumentation not initialized
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrRoute, route),
	}

	m.rateLimitRejectionsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

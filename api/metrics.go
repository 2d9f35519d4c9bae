package api

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("nextup/api")

// requestMetrics collects per-request timings for the suggestion and task
// routes and emits them as one structured log line plus an otel span.
type requestMetrics struct {
	logger         *log.Logger
	route          string
	span           trace.Span
	start          time.Time
	authDuration   time.Duration
	engineDuration time.Duration
	encodeDuration time.Duration
	itemsReturned  int
	errorStage     string
}

func newRequestMetrics(ctx context.Context, logger *log.Logger, route string) (*requestMetrics, context.Context) {
	spanCtx, span := tracer.Start(ctx, route)
	return &requestMetrics{
		logger: logger,
		route:  route,
		span:   span,
		start:  time.Now(),
	}, spanCtx
}

func (m *requestMetrics) ObserveAuth(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.authDuration = duration
}

func (m *requestMetrics) ObserveEngine(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.engineDuration = duration
}

func (m *requestMetrics) ObserveEncode(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.encodeDuration = duration
}

func (m *requestMetrics) SetItemsReturned(count int) {
	if count < 0 {
		count = 0
	}
	m.itemsReturned = count
}

func (m *requestMetrics) SetErrorStage(stage string) {
	if stage == "" {
		return
	}
	m.errorStage = stage
}

func (m *requestMetrics) Log(status int, err error) {
	if m == nil || m.logger == nil {
		return
	}

	fields := log.Fields{
		"route":          m.route,
		"status":         status,
		"total_ms":       durationToMillis(time.Since(m.start)),
		"items_returned": m.itemsReturned,
	}

	if m.authDuration > 0 {
		fields["auth_ms"] = durationToMillis(m.authDuration)
	}
	if m.engineDuration > 0 {
		fields["engine_ms"] = durationToMillis(m.engineDuration)
	}
	if m.encodeDuration > 0 {
		fields["encode_ms"] = durationToMillis(m.encodeDuration)
	}
	if m.errorStage != "" {
		fields["error_stage"] = m.errorStage
	}
	if err != nil {
		fields["error"] = err.Error()
	}

	if m.span != nil {
		m.span.SetAttributes(
			attribute.Int("http.status_code", status),
			attribute.Int("items_returned", m.itemsReturned),
		)
		if m.errorStage != "" {
			m.span.SetAttributes(attribute.String("error_stage", m.errorStage))
		}
		if err != nil {
			m.span.SetStatus(codes.Error, err.Error())
		}
		m.span.End()
	}

	m.logger.WithFields(fields).Info("request.metrics")
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}

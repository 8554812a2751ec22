package telemetry

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry bundles logging, tracing, metrics and events. A nil *Telemetry
// is valid and disables every instrument.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

// telemetryContextKey is the context key for telemetry instances.
type telemetryContextKey struct{}

// NewTelemetry creates a new telemetry instance from configuration.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	tracer, err := NewTracer(cfg)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	events, err := NewEventPublisher(cfg.Events)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Events:  events,
		Config:  cfg,
	}, nil
}

// NewNopTelemetry returns a bundle whose instruments discard everything.
func NewNopTelemetry() *Telemetry {
	cfg := TestConfig()
	cfg.Metrics.Enabled = false
	cfg.Events.Enabled = false
	tracer, _ := NewTracer(cfg)
	metrics, _ := NewMetrics(cfg.Metrics)
	events, _ := NewEventPublisher(cfg.Events)
	return &Telemetry{
		Logger:  NewNopLogger(),
		Tracer:  tracer,
		Metrics: metrics,
		Events:  events,
		Config:  cfg,
	}
}

// Log returns the bundle's logger, or a no-op logger.
func (t *Telemetry) Log() *Logger {
	if t == nil || t.Logger == nil {
		return NewNopLogger()
	}
	return t.Logger
}

// WithContext adds the telemetry instance and its logger to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	return t.Log().WithContext(ctx)
}

// FromTelemetryContext retrieves the telemetry instance from the context,
// or nil when none was attached.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// Shutdown stops the event publisher and the tracer.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	if err := t.Events.Shutdown(ctx); err != nil {
		return err
	}
	return t.Tracer.Shutdown(ctx)
}

// Flush forces all pending spans to be exported.
func (t *Telemetry) Flush(ctx context.Context) error {
	if t == nil {
		return nil
	}
	return t.Tracer.ForceFlush(ctx)
}

// StartMetricsServer starts the standalone metrics server if metrics are enabled.
func (t *Telemetry) StartMetricsServer(errCh chan<- error) *http.Server {
	if t == nil {
		return nil
	}
	return t.Metrics.StartMetricsServer(errCh)
}

// InstrumentedContext carries the span, logger and timer of one operation.
type InstrumentedContext struct {
	Ctx    context.Context
	Span   trace.Span
	Logger *Logger
	Timer  *Timer

	tel      *Telemetry
	scope    string
	function string
}

// StartOperation begins an instrumented operation using the telemetry
// attached to ctx.
func StartOperation(ctx context.Context, operation string, attrs ...attribute.KeyValue) *InstrumentedContext {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return &InstrumentedContext{
			Ctx:    ctx,
			Logger: FromContext(ctx),
			Timer:  NewTimer(),
		}
	}

	spanCtx, span := tel.Tracer.StartSpan(ctx, operation, attrs...)
	return tel.instrument(spanCtx, span, tel.Log().WithField("operation", operation))
}

func (t *Telemetry) instrument(ctx context.Context, span trace.Span, logger *Logger) *InstrumentedContext {
	if span.SpanContext().IsValid() {
		logger = logger.WithFields(map[string]interface{}{
			"trace_id": span.SpanContext().TraceID().String(),
			"span_id":  span.SpanContext().SpanID().String(),
		})
	}
	return &InstrumentedContext{
		Ctx:    ctx,
		Span:   span,
		Logger: logger,
		Timer:  NewTimer(),
		tel:    t,
	}
}

// StartResolve instruments one tree resolution pass.
func (t *Telemetry) StartResolve(ctx context.Context, scope string, maxDepth int) *InstrumentedContext {
	if t == nil {
		return &InstrumentedContext{Ctx: ctx, Logger: FromContext(ctx), Timer: NewTimer(), scope: scope}
	}
	spanCtx, span := t.Tracer.StartResolveSpan(ctx, scope, maxDepth)
	ic := t.instrument(spanCtx, span, t.Log().WithScope(scope))
	ic.scope = scope
	return ic
}

// StartCompute instruments one compute function execution.
func (t *Telemetry) StartCompute(ctx context.Context, function, scope string) *InstrumentedContext {
	if t == nil {
		return &InstrumentedContext{Ctx: ctx, Logger: FromContext(ctx), Timer: NewTimer(), scope: scope, function: function}
	}
	spanCtx, span := t.Tracer.StartComputeSpan(ctx, function, scope)
	ic := t.instrument(spanCtx, span, t.Log().WithFunction(function).WithScope(scope))
	ic.scope = scope
	ic.function = function
	return ic
}

// End finishes the span, recording success or failure.
func (ic *InstrumentedContext) End(err error) {
	if ic.Span == nil {
		return
	}
	if err != nil {
		RecordError(ic.Span, err)
	} else {
		RecordSuccess(ic.Span)
	}
	ic.Span.End()
}

// EndResolve finishes a resolution pass. code is the stable error code of
// err and is ignored when err is nil.
func (ic *InstrumentedContext) EndResolve(err error, code string) {
	if ic.Span != nil && code != "" && err != nil {
		ic.Span.SetAttributes(AttrErrorCode.String(code))
	}
	ic.End(err)
	if ic.tel == nil {
		return
	}

	status := "success"
	if err != nil {
		status = "failure"
		ic.tel.Metrics.RecordError(code)
		_ = ic.tel.Events.PublishResolutionFailed(ic.scope, code, err.Error())
	}
	ic.tel.Metrics.RecordResolution(ic.scope, status, ic.Timer.Duration())
}

// EndCompute finishes a compute function execution.
func (ic *InstrumentedContext) EndCompute(err error) {
	ic.End(err)
	if ic.tel == nil {
		return
	}
	ic.tel.Metrics.RecordComputeCall(ic.function, ic.scope, ic.Timer.Duration())
	if err != nil {
		ic.tel.Metrics.RecordComputeError(ic.function, ic.scope)
	}
}

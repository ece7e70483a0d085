package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/apimlgw/internal/observability"
)

// Logger records audit events.
type Logger interface {
	// LogEvent records event. Events filtered by the configuration are
	// dropped silently.
	LogEvent(ctx context.Context, event *Event)

	// Close releases the output.
	Close() error
}

type logger struct {
	config  *Config
	writer  io.Writer
	mu      sync.Mutex
	logger  observability.Logger
	metrics *Metrics
	closer  io.Closer
}

// Metrics contains audit metrics.
type Metrics struct {
	eventsTotal *prometheus.CounterVec
}

// NewMetricsWithRegisterer creates audit metrics registered with
// registerer.
func NewMetricsWithRegisterer(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "apimlgw"
	}
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		eventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "audit",
				Name:      "events_total",
				Help:      "Total number of audit events",
			},
			[]string{"type", "action", "outcome"},
		),
	}
	_ = registerer.Register(m.eventsTotal)

	// Vec metrics only appear once a label set is used.
	m.eventsTotal.WithLabelValues(string(EventTypeAuthentication), string(ActionAuthenticate), string(OutcomeFailure))
	m.eventsTotal.WithLabelValues(string(EventTypeAuthorization), string(ActionAccess), string(OutcomeDenied))

	return m
}

// RecordEvent counts one written event.
func (m *Metrics) RecordEvent(eventType EventType, action Action, outcome Outcome) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(string(eventType), string(action), string(outcome)).Inc()
}

// LoggerOption configures the audit logger.
type LoggerOption func(*logger)

// WithLoggerLogger sets the logger used for write failures.
func WithLoggerLogger(l observability.Logger) LoggerOption {
	return func(a *logger) {
		a.logger = l
	}
}

// WithLoggerMetrics sets the metrics.
func WithLoggerMetrics(metrics *Metrics) LoggerOption {
	return func(a *logger) {
		a.metrics = metrics
	}
}

// WithLoggerWriter replaces the configured output.
func WithLoggerWriter(writer io.Writer) LoggerOption {
	return func(a *logger) {
		a.writer = writer
	}
}

// NewLogger creates an audit logger. A nil or disabled config yields a
// logger that drops everything.
func NewLogger(config *Config, opts ...LoggerOption) (Logger, error) {
	if config == nil || !config.Enabled {
		return NewNoopLogger(), nil
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	l := &logger{
		config: config,
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}

	if l.writer == nil {
		writer, closer, err := l.createWriter()
		if err != nil {
			return nil, err
		}
		l.writer = writer
		l.closer = closer
	}
	return l, nil
}

func (l *logger) createWriter() (io.Writer, io.Closer, error) {
	switch output := l.config.GetEffectiveOutput(); output {
	case "stdout":
		return os.Stdout, nil, nil
	case "stderr":
		return os.Stderr, nil, nil
	default:
		//nolint:gosec // G304: path from config is trusted
		file, err := os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open audit log file: %w", err)
		}
		return file, file, nil
	}
}

// LogEvent implements Logger.
func (l *logger) LogEvent(ctx context.Context, event *Event) {
	if event == nil || !l.config.ShouldAudit(event.Type) {
		return
	}
	if event.Resource != nil && l.config.ShouldSkipPath(event.Resource.Path) {
		return
	}

	if event.RequestID == "" {
		event.RequestID = observability.RequestIDFromContext(ctx)
	}
	sc := trace.SpanContextFromContext(ctx)
	if event.TraceID == "" && sc.HasTraceID() {
		event.TraceID = sc.TraceID().String()
	}
	if event.SpanID == "" && sc.HasSpanID() {
		event.SpanID = sc.SpanID().String()
	}

	l.metrics.RecordEvent(event.Type, event.Action, event.Outcome)
	l.writeEvent(event)
}

func (l *logger) writeEvent(event *Event) {
	var output []byte
	if l.config.GetEffectiveFormat() == formatText {
		output = []byte(renderText(event))
	} else {
		var err error
		output, err = json.Marshal(event)
		if err != nil {
			l.logger.Error("failed to marshal audit event", observability.Error(err))
			return
		}
		output = append(output, '\n')
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.writer.Write(output); err != nil {
		l.logger.Error("failed to write audit event", observability.Error(err))
	}
}

func renderText(event *Event) string {
	var sb strings.Builder

	sb.WriteString(event.Timestamp.Format(time.RFC3339))
	sb.WriteString(" ")
	sb.WriteString(string(event.Type))
	sb.WriteString(" ")
	sb.WriteString(string(event.Action))
	sb.WriteString(" ")
	sb.WriteString(string(event.Outcome))

	if s := event.Subject; s != nil {
		if s.ID != "" {
			sb.WriteString(" subject=")
			sb.WriteString(s.ID)
		}
		if s.CredentialType != "" {
			sb.WriteString(" credential=")
			sb.WriteString(s.CredentialType)
		}
		if s.IPAddress != "" {
			sb.WriteString(" ip=")
			sb.WriteString(s.IPAddress)
		}
	}
	if r := event.Resource; r != nil {
		sb.WriteString(" resource=")
		sb.WriteString(r.Method)
		sb.WriteString(" ")
		sb.WriteString(r.Path)
		if r.Rule != "" {
			sb.WriteString(" rule=")
			sb.WriteString(r.Rule)
		}
	}
	if event.RequestID != "" {
		sb.WriteString(" request_id=")
		sb.WriteString(event.RequestID)
	}
	if event.TraceID != "" {
		sb.WriteString(" trace_id=")
		sb.WriteString(event.TraceID)
	}
	if event.Error != nil {
		sb.WriteString(" error=")
		sb.WriteString(event.Error.Kind)
	}

	sb.WriteString("\n")
	return sb.String()
}

// Close implements Logger.
func (l *logger) Close() error {
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}

type noopLogger struct{}

// NewNoopLogger returns a Logger that drops every event.
func NewNoopLogger() Logger {
	return noopLogger{}
}

func (noopLogger) LogEvent(context.Context, *Event) {}

func (noopLogger) Close() error { return nil }

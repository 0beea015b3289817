// Package observe provides application-wide observability primitives for
// blare: OpenTelemetry metrics, distributed tracing, structured logging, and
// HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all blare metrics.
const meterName = "github.com/blare-bot/blare"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// PlaybackStarts counts started clips. Use with attributes:
	//   attribute.String("guild", ...), attribute.String("trigger", ...)
	PlaybackStarts metric.Int64Counter

	// PlaybackErrors counts rejected or failed plays. Use with attributes:
	//   attribute.String("guild", ...), attribute.String("kind", ...)
	PlaybackErrors metric.Int64Counter

	// VoiceRecoveries counts lifecycle recovery actions. Use with attributes:
	//   attribute.String("guild", ...), attribute.String("action", ...)
	VoiceRecoveries metric.Int64Counter

	// CommandsHandled counts chat commands by name.
	CommandsHandled metric.Int64Counter

	// UploadsReceived counts clips added via direct-message upload by status.
	UploadsReceived metric.Int64Counter

	// ActiveSessions tracks the number of guilds with a live voice session.
	ActiveSessions metric.Int64UpDownCounter

	// PartyActive tracks the number of guilds with party mode armed.
	PartyActive metric.Int64UpDownCounter

	// FeedSubscribers tracks connected SSE and WebSocket feed clients.
	FeedSubscribers metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for the
// HTTP handlers, which are expected to answer well under a second.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.PlaybackStarts, err = m.Int64Counter("blare.playback.starts",
		metric.WithDescription("Total started clips by guild and trigger."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackErrors, err = m.Int64Counter("blare.playback.errors",
		metric.WithDescription("Total rejected or failed plays by guild and kind."),
	); err != nil {
		return nil, err
	}
	if met.VoiceRecoveries, err = m.Int64Counter("blare.voice.recoveries",
		metric.WithDescription("Total voice lifecycle recovery actions by guild and action."),
	); err != nil {
		return nil, err
	}
	if met.CommandsHandled, err = m.Int64Counter("blare.commands.handled",
		metric.WithDescription("Total chat commands handled by name."),
	); err != nil {
		return nil, err
	}
	if met.UploadsReceived, err = m.Int64Counter("blare.uploads.received",
		metric.WithDescription("Total clip uploads received by status."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("blare.active_sessions",
		metric.WithDescription("Number of guilds with a live voice session."),
	); err != nil {
		return nil, err
	}
	if met.PartyActive, err = m.Int64UpDownCounter("blare.party_active",
		metric.WithDescription("Number of guilds with party mode armed."),
	); err != nil {
		return nil, err
	}
	if met.FeedSubscribers, err = m.Int64UpDownCounter("blare.feed_subscribers",
		metric.WithDescription("Connected SSE and WebSocket feed clients."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("blare.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// PlayStarted records a started clip.
func (m *Metrics) PlayStarted(guildID, trigger string) {
	m.PlaybackStarts.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.String("guild", guildID),
			attribute.String("trigger", trigger),
		),
	)
}

// PlayFailed records a rejected or failed play.
func (m *Metrics) PlayFailed(guildID, kind string) {
	m.PlaybackErrors.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.String("guild", guildID),
			attribute.String("kind", kind),
		),
	)
}

// SessionOpened records a new live guild session.
func (m *Metrics) SessionOpened() {
	m.ActiveSessions.Add(context.Background(), 1)
}

// SessionClosed records a guild session going away.
func (m *Metrics) SessionClosed() {
	m.ActiveSessions.Add(context.Background(), -1)
}

// RecordRecovery records a voice lifecycle recovery action
// ("rejoin", "rebuild", "fresh_join").
func (m *Metrics) RecordRecovery(guildID, action string) {
	m.VoiceRecoveries.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.String("guild", guildID),
			attribute.String("action", action),
		),
	)
}

// PartyArmed records a guild entering party mode.
func (m *Metrics) PartyArmed() {
	m.PartyActive.Add(context.Background(), 1)
}

// PartyDisarmed records a guild leaving party mode.
func (m *Metrics) PartyDisarmed() {
	m.PartyActive.Add(context.Background(), -1)
}

// FeedOpened records a new SSE or WebSocket feed client.
func (m *Metrics) FeedOpened() {
	m.FeedSubscribers.Add(context.Background(), 1)
}

// FeedClosed records a feed client going away.
func (m *Metrics) FeedClosed() {
	m.FeedSubscribers.Add(context.Background(), -1)
}

// RecordCommand records a handled chat command.
func (m *Metrics) RecordCommand(name string) {
	m.CommandsHandled.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("command", name)),
	)
}

// RecordUpload records a direct-message clip upload attempt.
func (m *Metrics) RecordUpload(status string) {
	m.UploadsReceived.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

package types

import (
	"context"
	"time"
)

// SpeechSynthesisProvider turns alert text into audio. Failures are
// classified with ErrTransientDependency or ErrFatalDependency.
type SpeechSynthesisProvider interface {
	Synthesize(ctx context.Context, text, voiceID, format, engine string) ([]byte, error)
	Ping(ctx context.Context) error
}

// ObjectMetadata describes a stored object without its payload.
type ObjectMetadata struct {
	LastModified time.Time
	SizeBytes    int64
}

// ObjectStorageProvider is the durable store behind the remote tier.
// Get and HeadMetadata return ErrObjectNotFound for absent keys.
type ObjectStorageProvider interface {
	Get(ctx context.Context, key string) ([]byte, ObjectMetadata, error)
	Put(ctx context.Context, key string, payload []byte, metadata map[string]string) error
	HeadMetadata(ctx context.Context, key string) (ObjectMetadata, error)
	Ping(ctx context.Context) error
}

// EdgeDeliveryProvider invalidates cached copies at the delivery edge.
// Failures are non-fatal to the caller.
type EdgeDeliveryProvider interface {
	Invalidate(ctx context.Context, path string) error
	Ping(ctx context.Context) error
}

// MetricsRecorder is fire-and-forget: Record never blocks and never
// panics into the caller path.
type MetricsRecorder interface {
	Record(name string, value float64, unit string, tags map[string]string)
}

// Metric units understood by the recorders. UnitGauge marks a value
// that can move in both directions, such as a mode flag.
const (
	UnitCount        = "count"
	UnitMilliseconds = "ms"
	UnitBytes        = "bytes"
	UnitGauge        = "gauge"
)

// NotificationChannel publishes operator alerts. Best-effort; failures
// are logged only.
type NotificationChannel interface {
	Publish(ctx context.Context, subject, message string) error
}

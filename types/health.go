package types

import (
	"context"
	"time"
)

type DependencyStatus string

const (
	StatusHealthy  DependencyStatus = "healthy"
	StatusDegraded DependencyStatus = "degraded"
	StatusFailed   DependencyStatus = "failed"
)

// Well-known dependency names tracked by the health monitor.
const (
	DependencySynthesis = "synthesis"
	DependencyStorage   = "storage"
	DependencyEdge      = "edge"
)

// ProbeFunc checks one external dependency. A nil return is a success;
// a probe that outlives its timeout counts as a failure.
type ProbeFunc func(ctx context.Context) error

// DependencyHealth is mutated only by the probe loop of its dependency.
type DependencyHealth struct {
	Name                string           `json:"name"`
	Status              DependencyStatus `json:"status"`
	ConsecutiveFailures int              `json:"consecutive_failures"`
	LastCheckedAt       time.Time        `json:"last_checked_at"`
	LastLatency         time.Duration    `json:"last_latency"`
	LastError           string           `json:"last_error,omitempty"`
}

type HealthEventKind string

const (
	// EventFailed fires exactly once on the transition into Failed.
	EventFailed HealthEventKind = "failed"

	// EventRecovered fires once a previously failed dependency has
	// accumulated the configured number of consecutive successes.
	EventRecovered HealthEventKind = "recovered"
)

type HealthEvent struct {
	Kind                HealthEventKind `json:"kind"`
	Dependency          string          `json:"dependency"`
	ConsecutiveFailures int             `json:"consecutive_failures"`
	At                  time.Time       `json:"at"`
}

// HealthObserver receives transition events from the monitor. Notify is
// called from the probe goroutine and must not block.
type HealthObserver interface {
	Notify(event HealthEvent)
}

type HealthMonitor interface {
	LifecycleManager
	Register(name string, probe ProbeFunc) error
	Subscribe(observer HealthObserver)
	Snapshot() map[string]DependencyHealth
}

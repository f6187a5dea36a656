package failover

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-voice-cache/types"
)

const notifyTimeout = 10 * time.Second

// Controller maps dependency failure events onto degraded-mode flags
// and provider switches. It is the only writer of the flags: the cache
// manager and delivery path just read them.
//
// Strategy per dependency:
//   - synthesis: switch to the alternate provider once; if none remains,
//     disable generation and serve cache only.
//   - storage: bypass the remote tier, keep serving memory and disk.
//   - edge: skip edge invalidation, serve from origin paths.
//
// When failover is disabled by configuration, events are ignored and the
// flags stay clear.
type Controller struct {
	ctx          context.Context
	logger       types.Logger
	metrics      types.MetricsRecorder
	notification types.NotificationChannel
	flags        *types.DegradedFlags
	enabled      bool

	primary   types.SpeechSynthesisProvider
	alternate types.SpeechSynthesisProvider
	active    atomic.Pointer[synthesisSlot]

	mu sync.Mutex
}

type synthesisSlot struct {
	provider types.SpeechSynthesisProvider
	name     string
}

func NewController(ctx context.Context, logger types.Logger, metrics types.MetricsRecorder, notification types.NotificationChannel, cfg *types.FailoverConfig, primary, alternate types.SpeechSynthesisProvider) *Controller {
	c := &Controller{
		ctx:          ctx,
		logger:       logger,
		metrics:      metrics,
		notification: notification,
		flags:        &types.DegradedFlags{},
		enabled:      cfg == nil || cfg.Enabled,
		primary:      primary,
		alternate:    alternate,
	}

	if primary != nil {
		c.active.Store(&synthesisSlot{provider: primary, name: "primary"})
	}

	return c
}

func (c *Controller) Flags() *types.DegradedFlags {
	return c.flags
}

// ActiveSynthesis returns the provider the generation path should use
// right now. Nil when generation is disabled entirely.
func (c *Controller) ActiveSynthesis() types.SpeechSynthesisProvider {
	slot := c.active.Load()
	if slot == nil {
		return nil
	}
	return slot.provider
}

// Notify implements the health observer contract. It is called from the
// monitor's probe goroutine and must return quickly, so alerts are
// dispatched on their own goroutine.
func (c *Controller) Notify(event types.HealthEvent) {
	if !c.enabled {
		c.logger.Debug("Failover disabled, ignoring health event",
			zap.String("dependency", event.Dependency),
			zap.String("kind", string(event.Kind)))
		return
	}

	switch event.Kind {
	case types.EventFailed:
		c.applyFailure(event)
	case types.EventRecovered:
		c.applyRecovery(event)
	}
}

func (c *Controller) applyFailure(event types.HealthEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch event.Dependency {
	case types.DependencySynthesis:
		c.failSynthesisLocked(event)
	case types.DependencyStorage:
		if c.flags.RemoteBypassed() {
			return
		}
		c.flags.SetRemoteBypassed(true)
		c.logger.Warn("Remote storage failed, bypassing remote tier",
			zap.String("dependency", event.Dependency))
		c.alert(event, "remote tier bypassed, serving memory and disk only")
	case types.DependencyEdge:
		if c.flags.EdgeBypassed() {
			return
		}
		c.flags.SetEdgeBypassed(true)
		c.logger.Warn("Edge delivery failed, serving from origin",
			zap.String("dependency", event.Dependency))
		c.alert(event, "edge delivery bypassed, serving from origin")
	default:
		c.logger.Error("No fallback strategy for dependency",
			zap.String("dependency", event.Dependency),
			zap.Error(types.ErrNoFallbackStrategy))
	}

	c.recordMode()
}

func (c *Controller) failSynthesisLocked(event types.HealthEvent) {
	slot := c.active.Load()

	if slot != nil && slot.name == "primary" && c.alternate != nil {
		c.active.Store(&synthesisSlot{provider: c.alternate, name: "alternate"})
		c.logger.Warn("Synthesis provider failed, switching to alternate")
		c.alert(event, "synthesis switched to alternate provider")
		return
	}

	if c.flags.GenerationDisabled() {
		return
	}

	c.active.Store(nil)
	c.flags.SetGenerationDisabled(true)
	c.logger.Error("All synthesis providers failed, generation disabled")
	c.alert(event, "generation disabled, serving cached audio only")
}

func (c *Controller) applyRecovery(event types.HealthEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch event.Dependency {
	case types.DependencySynthesis:
		c.flags.SetGenerationDisabled(false)
		if c.primary != nil {
			c.active.Store(&synthesisSlot{provider: c.primary, name: "primary"})
		}
		c.logger.Info("Synthesis recovered, primary provider restored")
	case types.DependencyStorage:
		c.flags.SetRemoteBypassed(false)
		c.logger.Info("Remote storage recovered, remote tier re-enabled")
	case types.DependencyEdge:
		c.flags.SetEdgeBypassed(false)
		c.logger.Info("Edge delivery recovered")
	default:
		return
	}

	c.alert(event, "dependency recovered, normal operation restored")
	c.recordMode()
}

// alert publishes an operator notification. Best-effort: a failed
// publish is logged, it never blocks a mode change.
func (c *Controller) alert(event types.HealthEvent, detail string) {
	if c.notification == nil {
		return
	}

	alertID := uuid.New().String()
	subject := fmt.Sprintf("voice-cache %s: %s", event.Kind, event.Dependency)
	message := fmt.Sprintf("alert=%s dependency=%s kind=%s failures=%d detail=%s",
		alertID, event.Dependency, event.Kind, event.ConsecutiveFailures, detail)

	go func() {
		ctx, cancel := context.WithTimeout(c.ctx, notifyTimeout)
		defer cancel()

		if err := c.notification.Publish(ctx, subject, message); err != nil {
			c.logger.Error("Failed to publish failover alert",
				zap.String("alert_id", alertID),
				zap.String("dependency", event.Dependency),
				zap.Error(err))
		}
	}()
}

func (c *Controller) recordMode() {
	if c.metrics == nil {
		return
	}

	degraded := float64(0)
	if !c.flags.Normal() {
		degraded = 1
	}

	c.metrics.Record("degraded_mode", degraded, types.UnitGauge, nil)
}

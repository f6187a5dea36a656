package failover

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-voice-cache/logger"
	"github.com/saiset-co/sai-voice-cache/metrics"
	"github.com/saiset-co/sai-voice-cache/types"
)

type fakeSynthesis struct {
	name string
}

func (f *fakeSynthesis) Synthesize(context.Context, string, string, string, string) ([]byte, error) {
	return []byte(f.name), nil
}

func (f *fakeSynthesis) Ping(context.Context) error {
	return nil
}

type channelNotifier struct {
	published chan string
}

func newChannelNotifier() *channelNotifier {
	return &channelNotifier{published: make(chan string, 16)}
}

func (n *channelNotifier) Publish(_ context.Context, subject, _ string) error {
	n.published <- subject
	return nil
}

func (n *channelNotifier) waitOne(t *testing.T) string {
	t.Helper()

	select {
	case subject := <-n.published:
		return subject
	case <-time.After(time.Second):
		t.Fatal("expected an alert to be published")
		return ""
	}
}

func failedEvent(dependency string) types.HealthEvent {
	return types.HealthEvent{
		Kind:                types.EventFailed,
		Dependency:          dependency,
		ConsecutiveFailures: 3,
		At:                  time.Now(),
	}
}

func recoveredEvent(dependency string) types.HealthEvent {
	return types.HealthEvent{
		Kind:       types.EventRecovered,
		Dependency: dependency,
		At:         time.Now(),
	}
}

func newTestController(t *testing.T, notifier types.NotificationChannel, primary, alternate types.SpeechSynthesisProvider) *Controller {
	t.Helper()

	return NewController(context.Background(), logger.NewZapWrapper(zap.NewNop()), nil, notifier, nil, primary, alternate)
}

func TestControllerStartsNormal(t *testing.T) {
	primary := &fakeSynthesis{name: "primary"}
	c := newTestController(t, nil, primary, nil)

	assert.True(t, c.Flags().Normal())
	assert.Equal(t, primary, c.ActiveSynthesis())
}

func TestControllerSynthesisFailoverToAlternate(t *testing.T) {
	primary := &fakeSynthesis{name: "primary"}
	alternate := &fakeSynthesis{name: "alternate"}
	notifier := newChannelNotifier()

	c := newTestController(t, notifier, primary, alternate)

	c.Notify(failedEvent(types.DependencySynthesis))

	// Generation stays enabled on the alternate provider.
	assert.False(t, c.Flags().GenerationDisabled())
	assert.Equal(t, alternate, c.ActiveSynthesis())
	assert.Contains(t, notifier.waitOne(t), "synthesis")
}

func TestControllerSynthesisExhaustionDisablesGeneration(t *testing.T) {
	primary := &fakeSynthesis{name: "primary"}
	alternate := &fakeSynthesis{name: "alternate"}
	notifier := newChannelNotifier()

	c := newTestController(t, notifier, primary, alternate)

	c.Notify(failedEvent(types.DependencySynthesis))
	notifier.waitOne(t)

	c.Notify(failedEvent(types.DependencySynthesis))
	notifier.waitOne(t)

	assert.True(t, c.Flags().GenerationDisabled())
	assert.Nil(t, c.ActiveSynthesis())
}

func TestControllerSynthesisWithoutAlternateDisablesImmediately(t *testing.T) {
	primary := &fakeSynthesis{name: "primary"}
	c := newTestController(t, nil, primary, nil)

	c.Notify(failedEvent(types.DependencySynthesis))

	assert.True(t, c.Flags().GenerationDisabled())
	assert.Nil(t, c.ActiveSynthesis())
}

func TestControllerStorageFailureBypassesRemote(t *testing.T) {
	notifier := newChannelNotifier()
	c := newTestController(t, notifier, &fakeSynthesis{}, nil)

	c.Notify(failedEvent(types.DependencyStorage))

	assert.True(t, c.Flags().RemoteBypassed())
	assert.False(t, c.Flags().GenerationDisabled())
	assert.False(t, c.Flags().EdgeBypassed())
	assert.Contains(t, notifier.waitOne(t), "storage")

	// A repeat failure event changes nothing and sends no second alert.
	c.Notify(failedEvent(types.DependencyStorage))
	select {
	case <-notifier.published:
		t.Fatal("duplicate alert for already-bypassed storage")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestControllerEdgeFailureBypassesEdge(t *testing.T) {
	c := newTestController(t, nil, &fakeSynthesis{}, nil)

	c.Notify(failedEvent(types.DependencyEdge))

	assert.True(t, c.Flags().EdgeBypassed())
	assert.False(t, c.Flags().RemoteBypassed())
}

func TestControllerRecoveryRestoresNormal(t *testing.T) {
	primary := &fakeSynthesis{name: "primary"}
	alternate := &fakeSynthesis{name: "alternate"}
	notifier := newChannelNotifier()

	c := newTestController(t, notifier, primary, alternate)

	c.Notify(failedEvent(types.DependencySynthesis))
	c.Notify(failedEvent(types.DependencySynthesis))
	c.Notify(failedEvent(types.DependencyStorage))
	c.Notify(failedEvent(types.DependencyEdge))

	require.True(t, c.Flags().GenerationDisabled())
	require.True(t, c.Flags().RemoteBypassed())
	require.True(t, c.Flags().EdgeBypassed())

	c.Notify(recoveredEvent(types.DependencySynthesis))
	c.Notify(recoveredEvent(types.DependencyStorage))
	c.Notify(recoveredEvent(types.DependencyEdge))

	assert.True(t, c.Flags().Normal())
	// Recovery routes traffic back to the primary provider.
	assert.Equal(t, primary, c.ActiveSynthesis())
}

func TestControllerRecordsModeAsGauge(t *testing.T) {
	recorder := metrics.NewMemoryRecorder()
	c := NewController(context.Background(), logger.NewZapWrapper(zap.NewNop()), recorder, nil, nil,
		&fakeSynthesis{name: "primary"}, nil)

	c.Notify(failedEvent(types.DependencyStorage))
	c.Notify(recoveredEvent(types.DependencyStorage))

	samples := recorder.Samples("degraded_mode")
	require.Len(t, samples, 2)
	for _, sample := range samples {
		assert.Equal(t, types.UnitGauge, sample.Unit)
	}

	// Recovery must bring the signal back down, not accumulate.
	assert.Equal(t, float64(1), samples[0].Value)
	assert.Equal(t, float64(0), samples[1].Value)
}

func TestControllerDisabledIgnoresEvents(t *testing.T) {
	primary := &fakeSynthesis{name: "primary"}
	notifier := newChannelNotifier()

	c := NewController(context.Background(), logger.NewZapWrapper(zap.NewNop()), nil, notifier,
		&types.FailoverConfig{Enabled: false}, primary, nil)

	c.Notify(failedEvent(types.DependencySynthesis))
	c.Notify(failedEvent(types.DependencyStorage))

	// Flags stay clear and the primary provider keeps serving.
	assert.True(t, c.Flags().Normal())
	assert.Equal(t, primary, c.ActiveSynthesis())

	select {
	case <-notifier.published:
		t.Fatal("alert published while failover is disabled")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestControllerUnknownDependencyIsIgnored(t *testing.T) {
	c := newTestController(t, nil, &fakeSynthesis{}, nil)

	c.Notify(failedEvent("database"))

	assert.True(t, c.Flags().Normal())
}

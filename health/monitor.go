package health

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-voice-cache/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

type Options struct {
	Interval          time.Duration
	Timeout           time.Duration
	FailureThreshold  int
	RecoveryThreshold int
}

func (o *Options) applyDefaults() {
	if o.Interval <= 0 {
		o.Interval = 30 * time.Second
	}
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Second
	}
	if o.FailureThreshold <= 0 {
		o.FailureThreshold = 3
	}
	if o.RecoveryThreshold <= 0 {
		o.RecoveryThreshold = 2
	}
}

type dependency struct {
	name                 string
	probe                types.ProbeFunc
	health               types.DependencyHealth
	consecutiveSuccesses int
	pendingRecovery      bool
}

// Monitor runs one probe loop per registered dependency and tracks its
// consecutive failure count. A dependency transitions to Degraded on its
// first failure, to Failed once failures reach the threshold (observers
// are notified exactly once per outage), and back to Healthy on the next
// successful probe. The recovery event trails the status: it is published
// only after the configured number of consecutive successes, so observers
// do not flap back on a single lucky probe.
type Monitor struct {
	ctx             context.Context
	cancel          context.CancelFunc
	logger          types.Logger
	metrics         types.MetricsRecorder
	opts            Options
	dependencies    map[string]*dependency
	observers       []types.HealthObserver
	mu              sync.RWMutex
	wg              sync.WaitGroup
	state           atomic.Value
	shutdownTimeout time.Duration
	nowFn           func() time.Time
}

func NewMonitor(ctx context.Context, logger types.Logger, metrics types.MetricsRecorder, opts Options) *Monitor {
	opts.applyDefaults()

	monitorCtx, cancel := context.WithCancel(ctx)

	m := &Monitor{
		ctx:             monitorCtx,
		cancel:          cancel,
		logger:          logger,
		metrics:         metrics,
		opts:            opts,
		dependencies:    make(map[string]*dependency),
		shutdownTimeout: 10 * time.Second,
		nowFn:           time.Now,
	}

	m.state.Store(StateStopped)

	return m
}

// Register adds a dependency before Start. Registration after Start is
// rejected so every dependency gets its full probe history.
func (m *Monitor) Register(name string, probe types.ProbeFunc) error {
	if name == "" {
		return types.ErrDependencyUnknown
	}
	if probe == nil {
		return types.Errorf(types.ErrProbeIsNil, "dependency %s", name)
	}
	if m.IsRunning() {
		return types.ErrManagerAlreadyRunning
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.dependencies[name]; ok {
		return types.Errorf(types.ErrDependencyExists, "%s", name)
	}

	m.dependencies[name] = &dependency{
		name:  name,
		probe: probe,
		health: types.DependencyHealth{
			Name:   name,
			Status: types.StatusHealthy,
		},
	}

	return nil
}

func (m *Monitor) Subscribe(observer types.HealthObserver) {
	if observer == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, observer)
}

func (m *Monitor) Start() error {
	if !m.transitionState(StateStopped, StateStarting) {
		m.logger.Warn("Health monitor is already running")
		return types.ErrManagerAlreadyRunning
	}

	defer func() {
		if m.getState() == StateStarting {
			m.setState(StateRunning)
		}
	}()

	m.mu.RLock()
	for _, dep := range m.dependencies {
		m.wg.Add(1)
		go m.probeLoop(dep)
	}
	count := len(m.dependencies)
	m.mu.RUnlock()

	m.logger.Info("Health monitor started",
		zap.Int("dependencies", count),
		zap.Duration("interval", m.opts.Interval),
		zap.Int("failure_threshold", m.opts.FailureThreshold))
	return nil
}

func (m *Monitor) Stop() error {
	if !m.transitionState(StateRunning, StateStopping) {
		m.logger.Warn("Health monitor is not running")
		return types.ErrManagerNotRunning
	}

	defer m.setState(StateStopped)

	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("Health monitor stopped gracefully")
	case <-time.After(m.shutdownTimeout):
		m.logger.Warn("Health monitor stop timeout, some probes may not have stopped gracefully")
	}

	return nil
}

func (m *Monitor) IsRunning() bool {
	return m.getState() == StateRunning
}

// Snapshot returns a copy of every dependency's current health.
func (m *Monitor) Snapshot() map[string]types.DependencyHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot := make(map[string]types.DependencyHealth, len(m.dependencies))
	for name, dep := range m.dependencies {
		snapshot[name] = dep.health
	}

	return snapshot
}

func (m *Monitor) probeLoop(dep *dependency) {
	defer m.wg.Done()

	// First probe runs immediately so startup state reflects reality.
	m.runProbe(dep)

	ticker := time.NewTicker(m.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.runProbe(dep)
		}
	}
}

func (m *Monitor) runProbe(dep *dependency) {
	start := m.nowFn()
	err := m.executeProbe(dep)
	latency := time.Since(start)

	m.mu.Lock()
	dep.health.LastCheckedAt = m.nowFn()
	dep.health.LastLatency = latency

	var event *types.HealthEvent
	if err != nil {
		event = m.recordFailureLocked(dep, err)
	} else {
		event = m.recordSuccessLocked(dep)
	}

	status := dep.health.Status
	m.mu.Unlock()

	m.recordMetrics(dep.name, status, latency)

	if event != nil {
		m.publish(*event)
	}
}

// executeProbe bounds the probe with the configured timeout and converts
// a panic or an overrun into a failure.
func (m *Monitor) executeProbe(dep *dependency) error {
	probeCtx, cancel := context.WithTimeout(m.ctx, m.opts.Timeout)
	defer cancel()

	resultChan := make(chan error, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultChan <- fmt.Errorf("probe panicked: %v", r)
			}
		}()
		resultChan <- dep.probe(probeCtx)
	}()

	select {
	case err := <-resultChan:
		return err
	case <-probeCtx.Done():
		return types.Errorf(types.ErrProbeTimeout, "dependency %s after %s", dep.name, m.opts.Timeout)
	}
}

func (m *Monitor) recordFailureLocked(dep *dependency, err error) *types.HealthEvent {
	dep.consecutiveSuccesses = 0
	dep.health.ConsecutiveFailures++
	dep.health.LastError = err.Error()

	previous := dep.health.Status

	if dep.health.ConsecutiveFailures >= m.opts.FailureThreshold {
		dep.health.Status = types.StatusFailed
	} else {
		dep.health.Status = types.StatusDegraded
	}

	m.logger.Warn("Dependency probe failed",
		zap.String("dependency", dep.name),
		zap.Int("consecutive_failures", dep.health.ConsecutiveFailures),
		zap.String("status", string(dep.health.Status)),
		zap.Error(err))

	if dep.health.Status == types.StatusFailed && previous != types.StatusFailed {
		dep.pendingRecovery = true
		return &types.HealthEvent{
			Kind:                types.EventFailed,
			Dependency:          dep.name,
			ConsecutiveFailures: dep.health.ConsecutiveFailures,
			At:                  m.nowFn(),
		}
	}

	return nil
}

func (m *Monitor) recordSuccessLocked(dep *dependency) *types.HealthEvent {
	dep.health.ConsecutiveFailures = 0
	dep.health.LastError = ""
	dep.health.Status = types.StatusHealthy
	dep.consecutiveSuccesses++

	if !dep.pendingRecovery {
		return nil
	}

	// A dependency that went down must prove itself over several probes
	// before observers are told to route traffic back to it.
	if dep.consecutiveSuccesses < m.opts.RecoveryThreshold {
		return nil
	}

	dep.pendingRecovery = false

	m.logger.Info("Dependency recovered",
		zap.String("dependency", dep.name),
		zap.Int("consecutive_successes", dep.consecutiveSuccesses))

	return &types.HealthEvent{
		Kind:       types.EventRecovered,
		Dependency: dep.name,
		At:         m.nowFn(),
	}
}

func (m *Monitor) publish(event types.HealthEvent) {
	m.mu.RLock()
	observers := make([]types.HealthObserver, len(m.observers))
	copy(observers, m.observers)
	m.mu.RUnlock()

	for _, observer := range observers {
		observer.Notify(event)
	}
}

func (m *Monitor) recordMetrics(name string, status types.DependencyStatus, latency time.Duration) {
	if m.metrics == nil {
		return
	}

	healthy := float64(0)
	if status == types.StatusHealthy {
		healthy = 1
	}

	tags := map[string]string{"dependency": name}
	m.metrics.Record("dependency_healthy", healthy, types.UnitGauge, tags)
	m.metrics.Record("dependency_probe_latency", float64(latency.Milliseconds()), types.UnitMilliseconds, tags)
}

func (m *Monitor) getState() State {
	return m.state.Load().(State)
}

func (m *Monitor) setState(newState State) bool {
	currentState := m.getState()
	return m.state.CompareAndSwap(currentState, newState)
}

func (m *Monitor) transitionState(from, to State) bool {
	return m.state.CompareAndSwap(from, to)
}

package voicecache

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-voice-cache/cache"
	"github.com/saiset-co/sai-voice-cache/config"
	"github.com/saiset-co/sai-voice-cache/cron"
	"github.com/saiset-co/sai-voice-cache/failover"
	"github.com/saiset-co/sai-voice-cache/health"
	"github.com/saiset-co/sai-voice-cache/logger"
	"github.com/saiset-co/sai-voice-cache/metrics"
	"github.com/saiset-co/sai-voice-cache/notify"
	"github.com/saiset-co/sai-voice-cache/providers"
	"github.com/saiset-co/sai-voice-cache/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

const sweepJobName = "cache-expiry-sweep"

// Service wires the tiered audio cache, the dependency health monitor
// and the failover controller into one lifecycle. Components are built
// eagerly at construction so misconfiguration fails before Start.
type Service struct {
	ctx        context.Context
	cancel     context.CancelFunc
	logger     types.Logger
	configMgr  types.ConfigManager
	metrics    types.MetricsRecorder
	cache      *cache.Manager
	monitor    *health.Monitor
	controller *failover.Controller
	scheduler  *cron.Manager
	edge       types.EdgeDeliveryProvider
	done       chan struct{}
	wg         sync.WaitGroup
	state      atomic.Value
}

func NewService(ctx context.Context, configPath string) (*Service, error) {
	configMgr, err := config.NewConfigurationManager(configPath)
	if err != nil {
		return nil, types.WrapError(err, "failed to load configuration")
	}
	return newService(ctx, configMgr)
}

// NewServiceWithConfig builds the service from a programmatic config,
// bypassing the file loader. Used by tests and embedders.
func NewServiceWithConfig(ctx context.Context, cfg *types.ServiceConfig) (*Service, error) {
	configMgr, err := config.NewFromConfig(cfg)
	if err != nil {
		return nil, types.WrapError(err, "invalid configuration")
	}
	return newService(ctx, configMgr)
}

func newService(ctx context.Context, configMgr types.ConfigManager) (*Service, error) {
	cfg := configMgr.GetConfig()

	log, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, types.WrapError(err, "failed to build logger")
	}

	serviceCtx, cancel := context.WithCancel(ctx)

	s := &Service{
		ctx:       serviceCtx,
		cancel:    cancel,
		logger:    log,
		configMgr: configMgr,
		done:      make(chan struct{}),
	}
	s.state.Store(StateStopped)

	if err := s.buildComponents(cfg); err != nil {
		cancel()
		return nil, err
	}

	return s, nil
}

func (s *Service) buildComponents(cfg *types.ServiceConfig) error {
	s.metrics = s.buildMetrics(cfg)

	ttl, err := time.ParseDuration(cfg.Cache.TTL)
	if err != nil {
		return types.Errorf(types.ErrConfigInvalidTTL, "cache ttl %q: %v", cfg.Cache.TTL, err)
	}

	synthesis, alternate := s.buildSynthesisProviders(cfg)
	storage, err := s.buildStorageProvider(cfg)
	if err != nil {
		return err
	}
	s.edge = s.buildEdgeProvider(cfg)

	notification := s.buildNotification(cfg)
	s.controller = failover.NewController(s.ctx, s.logger, s.metrics, notification, cfg.Failover, synthesis, alternate)

	tiers, err := s.buildTiers(cfg, storage, ttl)
	if err != nil {
		return err
	}

	s.cache, err = cache.NewManager(s.ctx, s.logger, s.metrics, s.controller.Flags(), tiers, ttl)
	if err != nil {
		return types.WrapError(err, "failed to build cache manager")
	}

	if err := s.buildMonitor(cfg, synthesis, storage); err != nil {
		return err
	}

	s.buildScheduler(cfg)

	return nil
}

func (s *Service) buildMetrics(cfg *types.ServiceConfig) types.MetricsRecorder {
	if cfg.Metrics == nil || !cfg.Metrics.Enabled {
		return metrics.NewMemoryRecorder()
	}

	return metrics.NewPrometheusRecorder(s.logger, &metrics.PrometheusConfig{
		Namespace:       cfg.Metrics.Namespace,
		EnableGoMetrics: true,
	})
}

func (s *Service) buildSynthesisProviders(cfg *types.ServiceConfig) (types.SpeechSynthesisProvider, types.SpeechSynthesisProvider) {
	if cfg.Providers == nil || cfg.Providers.Synthesis == nil || cfg.Providers.Synthesis.Endpoint == "" {
		return nil, nil
	}

	pc := cfg.Providers.Synthesis
	timeout := parseDurationOr(pc.Timeout, 0)

	primary := providers.NewHTTPSynthesisProvider(s.logger, pc.Endpoint, timeout)

	var alternate types.SpeechSynthesisProvider
	if pc.AlternateEndpoint != "" {
		alternate = providers.NewHTTPSynthesisProvider(s.logger, pc.AlternateEndpoint, timeout)
	}

	return primary, alternate
}

func (s *Service) buildStorageProvider(cfg *types.ServiceConfig) (types.ObjectStorageProvider, error) {
	if cfg.Cache.Remote == nil || !cfg.Cache.Remote.Enabled {
		return nil, nil
	}
	if cfg.Providers == nil || cfg.Providers.Storage == nil {
		return nil, types.Errorf(types.ErrStorageUnavailable, "remote tier enabled without a storage provider")
	}

	switch cfg.Providers.Storage.Type {
	case "redis":
		return providers.NewRedisStorageProvider(cfg.Providers.Storage)
	case "minio", "s3", "":
		return providers.NewMinioStorageProvider(cfg.Providers.Storage)
	default:
		return nil, types.Errorf(types.ErrStorageUnavailable, "unknown storage type %q", cfg.Providers.Storage.Type)
	}
}

func (s *Service) buildEdgeProvider(cfg *types.ServiceConfig) types.EdgeDeliveryProvider {
	if cfg.Providers == nil || cfg.Providers.Edge == nil || cfg.Providers.Edge.Endpoint == "" {
		return nil
	}

	return providers.NewHTTPEdgeProvider(cfg.Providers.Edge.Endpoint, parseDurationOr(cfg.Providers.Edge.Timeout, 0))
}

func (s *Service) buildNotification(cfg *types.ServiceConfig) types.NotificationChannel {
	if cfg.Notification == nil || !cfg.Notification.Enabled {
		return notify.NewLogChannel(s.logger)
	}

	if cfg.Notification.Type == "webhook" && cfg.Notification.WebhookURL != "" {
		return notify.NewWebhookChannel(cfg.Notification.WebhookURL)
	}

	return notify.NewLogChannel(s.logger)
}

func (s *Service) buildTiers(cfg *types.ServiceConfig, storage types.ObjectStorageProvider, ttl time.Duration) (cache.Tiers, error) {
	memory, err := cache.NewMemoryTier(s.logger, cfg.Cache.Memory.Capacity, ttl)
	if err != nil {
		return cache.Tiers{}, types.WrapError(err, "failed to build memory tier")
	}

	disk, err := cache.NewDiskTier(s.logger, cfg.Cache.Disk.Path, cfg.Cache.Disk.Capacity, ttl)
	if err != nil {
		return cache.Tiers{}, types.WrapError(err, "failed to build disk tier")
	}

	tiers := cache.Tiers{Memory: memory, Disk: disk}

	if storage != nil {
		remote, err := cache.NewRemoteTier(storage, ttl)
		if err != nil {
			return cache.Tiers{}, types.WrapError(err, "failed to build remote tier")
		}
		tiers.Remote = remote
	}

	return tiers, nil
}

func (s *Service) buildMonitor(cfg *types.ServiceConfig, synthesis types.SpeechSynthesisProvider, storage types.ObjectStorageProvider) error {
	if cfg.Health == nil || !cfg.Health.Enabled {
		return nil
	}

	opts := health.Options{
		Interval:          parseDurationOr(cfg.Health.Interval, 0),
		Timeout:           parseDurationOr(cfg.Health.Timeout, 0),
		FailureThreshold:  cfg.Health.FailureThreshold,
		RecoveryThreshold: cfg.Health.RecoveryThreshold,
	}

	s.monitor = health.NewMonitor(s.ctx, s.logger, s.metrics, opts)
	s.monitor.Subscribe(s.controller)

	if synthesis != nil {
		if err := s.monitor.Register(types.DependencySynthesis, synthesis.Ping); err != nil {
			return err
		}
	}
	if storage != nil {
		if err := s.monitor.Register(types.DependencyStorage, storage.Ping); err != nil {
			return err
		}
	}
	if s.edge != nil {
		if err := s.monitor.Register(types.DependencyEdge, s.edge.Ping); err != nil {
			return err
		}
	}

	return nil
}

func (s *Service) buildScheduler(cfg *types.ServiceConfig) {
	if cfg.Cron != nil && !cfg.Cron.Enabled {
		return
	}

	timezone := "UTC"
	if cfg.Cron != nil && cfg.Cron.Timezone != "" {
		timezone = cfg.Cron.Timezone
	}

	s.scheduler = cron.NewManager(s.ctx, s.logger, s.metrics, timezone)
}

func (s *Service) Start() error {
	if !s.transitionState(StateStopped, StateStarting) {
		s.logger.Warn("Service is already running")
		return types.ErrManagerAlreadyRunning
	}

	defer func() {
		if s.getState() == StateStarting {
			s.setState(StateRunning)
		}
	}()

	if err := s.cache.Start(); err != nil {
		s.setState(StateStopped)
		return types.WrapError(err, "failed to start cache manager")
	}

	if s.monitor != nil {
		if err := s.monitor.Start(); err != nil {
			s.setState(StateStopped)
			return types.WrapError(err, "failed to start health monitor")
		}
	}

	if s.scheduler != nil {
		schedule := s.configMgr.GetConfig().Cache.SweepSchedule
		if schedule != "" {
			if err := s.scheduler.Add(sweepJobName, schedule, func(context.Context) {
				s.cache.Sweep()
			}); err != nil {
				s.setState(StateStopped)
				return types.WrapError(err, "failed to schedule expiry sweep")
			}
		}

		if err := s.scheduler.Start(); err != nil {
			s.setState(StateStopped)
			return types.WrapError(err, "failed to start scheduler")
		}
	}

	s.wg.Add(1)
	go s.contextMonitor()

	s.logger.Info("Voice cache service started",
		zap.String("name", s.configMgr.GetConfig().Name),
		zap.String("version", s.configMgr.GetConfig().Version))
	return nil
}

func (s *Service) Stop() error {
	if !s.transitionState(StateRunning, StateStopping) {
		s.logger.Warn("Service is not running")
		return types.ErrManagerNotRunning
	}

	defer s.setState(StateStopped)

	g := new(errgroup.Group)

	if s.scheduler != nil && s.scheduler.IsRunning() {
		g.Go(func() error {
			if err := s.scheduler.Stop(); err != nil {
				s.logger.Error("Failed to stop scheduler", zap.Error(err))
			}
			return nil
		})
	}

	if s.monitor != nil && s.monitor.IsRunning() {
		g.Go(func() error {
			if err := s.monitor.Stop(); err != nil {
				s.logger.Error("Failed to stop health monitor", zap.Error(err))
			}
			return nil
		})
	}

	_ = g.Wait()

	if err := s.cache.Stop(); err != nil {
		s.logger.Error("Failed to stop cache manager", zap.Error(err))
	}

	s.cancel()
	s.wg.Wait()

	s.logger.Info("Voice cache service stopped")
	return nil
}

func (s *Service) IsRunning() bool {
	return s.getState() == StateRunning
}

// Speak returns the audio for an alert message, serving from the cache
// when possible and synthesizing on a miss. The returned tier tells the
// caller where the payload came from.
func (s *Service) Speak(ctx context.Context, text, voiceID, format, engine string) ([]byte, types.Tier, error) {
	key := cache.DeriveKey(text, voiceID, format, engine)

	payload, tier, err := s.cache.GetOrCreate(ctx, key, func(genCtx context.Context, _ string) ([]byte, error) {
		provider := s.controller.ActiveSynthesis()
		if provider == nil {
			return nil, types.ErrCacheOnlyMode
		}
		return provider.Synthesize(genCtx, text, voiceID, format, engine)
	})
	if err != nil {
		return nil, "", err
	}

	if tier == types.TierGenerated {
		s.invalidateEdge(key)
	}

	return payload, tier, nil
}

// invalidateEdge drops any stale edge copy after fresh audio lands.
// Best-effort and asynchronous.
func (s *Service) invalidateEdge(key string) {
	if s.edge == nil || s.controller.Flags().EdgeBypassed() {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
		defer cancel()

		if err := s.edge.Invalidate(ctx, "/audio/"+key); err != nil {
			s.logger.Warn("Edge invalidation failed",
				zap.String("key", key),
				zap.Error(err))
		}
	}()
}

func (s *Service) Cache() types.CacheManager {
	return s.cache
}

func (s *Service) Stats() types.CacheStats {
	return s.cache.Stats()
}

func (s *Service) Flags() *types.DegradedFlags {
	return s.controller.Flags()
}

// HealthSnapshot reports per-dependency health, or nil when the monitor
// is disabled.
func (s *Service) HealthSnapshot() map[string]types.DependencyHealth {
	if s.monitor == nil {
		return nil
	}
	return s.monitor.Snapshot()
}

func (s *Service) Logger() types.Logger {
	return s.logger
}

func (s *Service) Done() <-chan struct{} {
	return s.done
}

// Run starts the service and blocks until a shutdown signal or context
// cancellation, then stops it.
func (s *Service) Run() error {
	if err := s.Start(); err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		s.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case <-s.ctx.Done():
		s.logger.Info("Service context cancelled")
	}

	return s.Stop()
}

func (s *Service) contextMonitor() {
	defer s.wg.Done()
	defer close(s.done)

	<-s.ctx.Done()

	switch err := s.ctx.Err(); {
	case types.IsError(err, context.Canceled):
		s.logger.Info("Service shutdown: context cancelled")
	case types.IsError(err, context.DeadlineExceeded):
		s.logger.Warn("Service shutdown: context deadline exceeded")
	default:
		s.logger.Info(fmt.Sprintf("Service shutdown: %v", err))
	}
}

func (s *Service) getState() State {
	return s.state.Load().(State)
}

func (s *Service) setState(newState State) bool {
	currentState := s.getState()
	return s.state.CompareAndSwap(currentState, newState)
}

func (s *Service) transitionState(from, to State) bool {
	return s.state.CompareAndSwap(from, to)
}

func parseDurationOr(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

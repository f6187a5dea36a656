package types

type ServiceConfig struct {
	Name         string              `yaml:"name" json:"name" validate:"required"`
	Version      string              `yaml:"version" json:"version"`
	Logger       *LoggerConfig       `yaml:"logger" json:"logger"`
	Cache        *CacheConfig        `yaml:"cache" json:"cache" validate:"required"`
	Health       *HealthConfig       `yaml:"health" json:"health"`
	Failover     *FailoverConfig     `yaml:"failover" json:"failover"`
	Metrics      *MetricsConfig      `yaml:"metrics" json:"metrics"`
	Notification *NotificationConfig `yaml:"notification" json:"notification"`
	Providers    *ProvidersConfig    `yaml:"providers" json:"providers"`
	Cron         *CronConfig         `yaml:"cron" json:"cron"`
}

type LoggerConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output" json:"output"`
	File   string `yaml:"file" json:"file"`
}

// Durations are strings in the teacher format ("24h", "30s") and are
// parsed at component construction; unparsable values fail startup.
type CacheConfig struct {
	TTL           string            `yaml:"ttl" json:"ttl" validate:"required"`
	SweepSchedule string            `yaml:"sweep_schedule" json:"sweep_schedule"`
	Memory        *MemoryTierConfig `yaml:"memory" json:"memory" validate:"required"`
	Disk          *DiskTierConfig   `yaml:"disk" json:"disk" validate:"required"`
	Remote        *RemoteTierConfig `yaml:"remote" json:"remote"`
}

type MemoryTierConfig struct {
	Capacity int `yaml:"capacity" json:"capacity" validate:"required,gt=0"`
}

type DiskTierConfig struct {
	Path     string `yaml:"path" json:"path" validate:"required"`
	Capacity int    `yaml:"capacity" json:"capacity" validate:"required,gt=0"`
}

type RemoteTierConfig struct {
	Enabled bool        `yaml:"enabled" json:"enabled"`
	Type    string      `yaml:"type" json:"type"`
	Bucket  string      `yaml:"bucket" json:"bucket"`
	Config  interface{} `yaml:"config" json:"config"`
}

type HealthConfig struct {
	Enabled           bool   `yaml:"enabled" json:"enabled"`
	Interval          string `yaml:"interval" json:"interval"`
	Timeout           string `yaml:"timeout" json:"timeout"`
	FailureThreshold  int    `yaml:"failure_threshold" json:"failure_threshold" validate:"omitempty,gte=1"`
	RecoveryThreshold int    `yaml:"recovery_threshold" json:"recovery_threshold" validate:"omitempty,gte=1"`
}

type FailoverConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	Type      string `yaml:"type" json:"type"`
	Namespace string `yaml:"namespace" json:"namespace"`
}

type NotificationConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	Type       string `yaml:"type" json:"type"`
	WebhookURL string `yaml:"webhook_url" json:"webhook_url"`
}

type ProvidersConfig struct {
	Synthesis *SynthesisProviderConfig `yaml:"synthesis" json:"synthesis"`
	Storage   *StorageProviderConfig   `yaml:"storage" json:"storage"`
	Edge      *EdgeProviderConfig      `yaml:"edge" json:"edge"`
}

type SynthesisProviderConfig struct {
	Endpoint          string `yaml:"endpoint" json:"endpoint"`
	AlternateEndpoint string `yaml:"alternate_endpoint" json:"alternate_endpoint"`
	Timeout           string `yaml:"timeout" json:"timeout"`
}

type StorageProviderConfig struct {
	Type      string `yaml:"type" json:"type"`
	Endpoint  string `yaml:"endpoint" json:"endpoint"`
	AccessKey string `yaml:"access_key" json:"access_key"`
	SecretKey string `yaml:"secret_key" json:"secret_key"`
	Bucket    string `yaml:"bucket" json:"bucket"`
	UseTLS    bool   `yaml:"use_tls" json:"use_tls"`
}

type EdgeProviderConfig struct {
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	Timeout  string `yaml:"timeout" json:"timeout"`
}

type CronConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Timezone string `yaml:"timezone" json:"timezone"`
}

type ConfigManager interface {
	Load() error
	GetConfig() *ServiceConfig
}

package config

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// TrackingConfig holds the tunables of the dose tracking core that may change at runtime.
type TrackingConfig struct {
	HorizonDays          int           `mapstructure:"horizonDays"`
	RecomputeConcurrency int           `mapstructure:"recomputeConcurrency"`
	RecomputeTimeout     time.Duration `mapstructure:"recomputeTimeout"`
	AdherenceCacheTTL    time.Duration `mapstructure:"adherenceCacheTTL"`
	DefaultTimezone      string        `mapstructure:"defaultTimezone"`
}

func DefaultTrackingConfig() TrackingConfig {
	return TrackingConfig{
		HorizonDays:          365,
		RecomputeConcurrency: 16,
		RecomputeTimeout:     30 * time.Second,
		AdherenceCacheTTL:    time.Minute,
		DefaultTimezone:      "UTC",
	}
}

func (c TrackingConfig) withDefaults() TrackingConfig {
	defaults := DefaultTrackingConfig()
	if c.HorizonDays <= 0 {
		c.HorizonDays = defaults.HorizonDays
	}
	if c.RecomputeConcurrency <= 0 {
		c.RecomputeConcurrency = defaults.RecomputeConcurrency
	}
	if c.RecomputeTimeout <= 0 {
		c.RecomputeTimeout = defaults.RecomputeTimeout
	}
	if c.AdherenceCacheTTL < 0 {
		c.AdherenceCacheTTL = defaults.AdherenceCacheTTL
	}
	if strings.TrimSpace(c.DefaultTimezone) == "" {
		c.DefaultTimezone = defaults.DefaultTimezone
	}
	return c
}

type TrackingConfigHolder struct {
	current atomic.Value // holds TrackingConfig
}

// NewStaticTrackingConfigHolder returns a holder that never reloads.
func NewStaticTrackingConfigHolder(cfg TrackingConfig) *TrackingConfigHolder {
	holder := &TrackingConfigHolder{}
	holder.current.Store(cfg.withDefaults())
	return holder
}

// NewTrackingConfigHolder reads tracking.yml when present and watches it for changes.
// Environment-derived values in base act as defaults.
func NewTrackingConfigHolder(base Config, log *zap.Logger) (*TrackingConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("tracking")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/medtrack")
	v.AddConfigPath(".")

	v.SetEnvPrefix("MEDTRACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := base.Tracking.withDefaults()
	v.SetDefault("tracking.horizonDays", defaults.HorizonDays)
	v.SetDefault("tracking.recomputeConcurrency", defaults.RecomputeConcurrency)
	v.SetDefault("tracking.recomputeTimeout", defaults.RecomputeTimeout)
	v.SetDefault("tracking.adherenceCacheTTL", defaults.AdherenceCacheTTL)
	v.SetDefault("tracking.defaultTimezone", defaults.DefaultTimezone)

	watch := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		watch = false
	}

	cfg, err := decodeTracking(v)
	if err != nil {
		return nil, err
	}

	holder := &TrackingConfigHolder{}
	holder.current.Store(cfg)

	if watch {
		v.OnConfigChange(func(e fsnotify.Event) {
			updated, err := decodeTracking(v)
			if err != nil {
				log.Warn("tracking config reload ignored", zap.String("file", e.Name), zap.Error(err))
				return
			}
			holder.current.Store(updated)
			log.Info("tracking config reloaded", zap.String("file", e.Name))
		})
		v.WatchConfig()
	}

	return holder, nil
}

func (h *TrackingConfigHolder) Get() TrackingConfig {
	if h == nil {
		return DefaultTrackingConfig()
	}
	cfg, ok := h.current.Load().(TrackingConfig)
	if !ok {
		return DefaultTrackingConfig()
	}
	return cfg
}

func decodeTracking(v *viper.Viper) (TrackingConfig, error) {
	var cfg TrackingConfig
	if err := v.UnmarshalKey("tracking", &cfg); err != nil {
		return TrackingConfig{}, err
	}
	if err := validateTracking(cfg); err != nil {
		return TrackingConfig{}, err
	}
	return cfg.withDefaults(), nil
}

func validateTracking(cfg TrackingConfig) error {
	if cfg.HorizonDays < 0 {
		return errors.New("tracking.horizonDays cannot be negative")
	}
	if tz := strings.TrimSpace(cfg.DefaultTimezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return errors.New("tracking.defaultTimezone is not a valid IANA zone")
		}
	}
	return nil
}

package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	MutateNone       = "NONE"
	MutateNumBool    = "NUMBOOL"
	MutateNotNumBool = "NOTNUMBOOL"
	MutateFloor      = "FLOOR"
	MutateCeil       = "CEIL"
)

// MetricsConfig is the content of metrics.yml: one entry per collected metric type.
type MetricsConfig struct {
	Metrics map[string]MetricConfig `mapstructure:"metrics"`
}

type MetricConfig struct {
	Unit     string   `mapstructure:"unit"`
	AltName  string   `mapstructure:"alt_name"`
	GroupBy  []string `mapstructure:"groupby"`
	Metadata []string `mapstructure:"metadata"`
	// Factor and Offset are decimal strings; Factor also accepts "a/b".
	Factor    string            `mapstructure:"factor"`
	Offset    string            `mapstructure:"offset"`
	Mutate    string            `mapstructure:"mutate"`
	ExtraArgs map[string]string `mapstructure:"extra_args"`
}

// MetricTypes returns the configured metric names in a stable order.
func (c MetricsConfig) MetricTypes() []string {
	names := make([]string, 0, len(c.Metrics))
	for name := range c.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type MetricsConfigHolder struct {
	current atomic.Value // holds MetricsConfig
}

// NewStaticMetricsConfigHolder wraps a fixed configuration, without file watching.
func NewStaticMetricsConfigHolder(cfg MetricsConfig) (*MetricsConfigHolder, error) {
	cfg = normalizeMetricsConfig(cfg)
	if err := ValidateMetricsConfig(cfg); err != nil {
		return nil, err
	}
	holder := &MetricsConfigHolder{}
	holder.current.Store(cfg)
	return holder, nil
}

func NewMetricsConfigHolder(cfg Config, log *zap.Logger) (*MetricsConfigHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("config.metrics")

	// Metric names such as "image.size" contain dots.
	v := viper.NewWithOptions(viper.KeyDelimiter("::"))
	path := strings.TrimSpace(cfg.Collect.MetricsConf)
	if path != "" && fileExists(path) {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("metrics")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/cloudkitty")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read metrics configuration: %w", err)
	}

	var metricsCfg MetricsConfig
	if err := v.Unmarshal(&metricsCfg); err != nil {
		return nil, err
	}
	metricsCfg = normalizeMetricsConfig(metricsCfg)
	if err := ValidateMetricsConfig(metricsCfg); err != nil {
		return nil, err
	}

	holder := &MetricsConfigHolder{}
	holder.current.Store(metricsCfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated MetricsConfig
		if err := v.Unmarshal(&updated); err != nil {
			log.Warn("config.metrics.reload_failed", zap.Error(err))
			return
		}
		updated = normalizeMetricsConfig(updated)
		if err := ValidateMetricsConfig(updated); err != nil {
			log.Warn("config.metrics.invalid_ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("config.metrics.reloaded",
			zap.String("file", e.Name),
			zap.Strings("metrics", updated.MetricTypes()),
		)
	})

	return holder, nil
}

func (h *MetricsConfigHolder) Get() MetricsConfig {
	return h.current.Load().(MetricsConfig)
}

func ValidateMetricsConfig(cfg MetricsConfig) error {
	if len(cfg.Metrics) == 0 {
		return errors.New("metrics configuration cannot be empty")
	}
	for name, metric := range cfg.Metrics {
		if strings.TrimSpace(metric.Unit) == "" {
			return fmt.Errorf("metric %q: unit is required", name)
		}
		switch metric.Mutate {
		case MutateNone, MutateNumBool, MutateNotNumBool, MutateFloor, MutateCeil:
		default:
			return fmt.Errorf("metric %q: unsupported mutate %q", name, metric.Mutate)
		}
	}
	return nil
}

func normalizeMetricsConfig(cfg MetricsConfig) MetricsConfig {
	out := MetricsConfig{Metrics: make(map[string]MetricConfig, len(cfg.Metrics))}
	for name, metric := range cfg.Metrics {
		metric.Mutate = strings.ToUpper(strings.TrimSpace(metric.Mutate))
		if metric.Mutate == "" {
			metric.Mutate = MutateNone
		}
		if strings.TrimSpace(metric.Factor) == "" {
			metric.Factor = "1"
		}
		if strings.TrimSpace(metric.Offset) == "" {
			metric.Offset = "0"
		}
		out.Metrics[name] = metric
	}
	return out
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

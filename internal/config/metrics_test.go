package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const sampleMetrics = `
metrics:
  cpu:
    unit: instance
    alt_name: instance
    groupby:
      - id
      - project_id
    metadata:
      - flavor_name
    mutate: numbool
    extra_args:
      aggregation_method: max
  image.size:
    unit: MiB
    factor: 1/1048576
`

func TestNewMetricsConfigHolder_LoadsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "metrics.yml")
	require.NoError(t, os.WriteFile(path, []byte(sampleMetrics), 0o600))

	holder, err := NewMetricsConfigHolder(Config{Collect: CollectConfig{MetricsConf: path}}, zap.NewNop())
	require.NoError(t, err)

	cfg := holder.Get()
	assert.Equal(t, []string{"cpu", "image.size"}, cfg.MetricTypes())

	cpu := cfg.Metrics["cpu"]
	assert.Equal(t, "instance", cpu.Unit)
	assert.Equal(t, MutateNumBool, cpu.Mutate)
	assert.Equal(t, []string{"id", "project_id"}, cpu.GroupBy)
	assert.Equal(t, "max", cpu.ExtraArgs["aggregation_method"])
	assert.Equal(t, "1", cpu.Factor)
	assert.Equal(t, "0", cpu.Offset)

	image := cfg.Metrics["image.size"]
	assert.Equal(t, "1/1048576", image.Factor)
	assert.Equal(t, MutateNone, image.Mutate)
}

func TestValidateMetricsConfig(t *testing.T) {
	assert.Error(t, ValidateMetricsConfig(MetricsConfig{}))
	assert.Error(t, ValidateMetricsConfig(MetricsConfig{Metrics: map[string]MetricConfig{
		"cpu": {Mutate: MutateNone},
	}}))
	assert.Error(t, ValidateMetricsConfig(MetricsConfig{Metrics: map[string]MetricConfig{
		"cpu": {Unit: "instance", Mutate: "ROUND"},
	}}))
	assert.NoError(t, ValidateMetricsConfig(MetricsConfig{Metrics: map[string]MetricConfig{
		"cpu": {Unit: "instance", Mutate: MutateCeil},
	}}))
}

func TestNewStaticMetricsConfigHolder_Defaults(t *testing.T) {
	holder, err := NewStaticMetricsConfigHolder(MetricsConfig{Metrics: map[string]MetricConfig{
		"cpu": {Unit: "instance"},
	}})
	require.NoError(t, err)
	assert.Equal(t, MutateNone, holder.Get().Metrics["cpu"].Mutate)
}

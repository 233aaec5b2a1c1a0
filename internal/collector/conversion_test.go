package collector

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/cloudkitty/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvert(t *testing.T) {
	cases := []struct {
		name string
		qty  string
		conf config.MetricConfig
		want string
	}{
		{name: "identity", qty: "2.5", conf: config.MetricConfig{Factor: "1", Offset: "0", Mutate: config.MutateNone}, want: "2.5"},
		{name: "fraction_factor", qty: "7200", conf: config.MetricConfig{Factor: "1/3600", Mutate: config.MutateNone}, want: "2"},
		{name: "factor_and_offset", qty: "3", conf: config.MetricConfig{Factor: "0.5", Offset: "1", Mutate: config.MutateNone}, want: "2.5"},
		{name: "numbool_nonzero", qty: "42", conf: config.MetricConfig{Mutate: config.MutateNumBool}, want: "1"},
		{name: "numbool_zero", qty: "0", conf: config.MetricConfig{Mutate: config.MutateNumBool}, want: "0"},
		{name: "notnumbool_zero", qty: "0", conf: config.MetricConfig{Mutate: config.MutateNotNumBool}, want: "1"},
		{name: "floor", qty: "2.7", conf: config.MetricConfig{Mutate: config.MutateFloor}, want: "2"},
		{name: "ceil", qty: "2.1", conf: config.MetricConfig{Mutate: config.MutateCeil}, want: "3"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Convert(decimal.RequireFromString(tc.qty), tc.conf)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got.String())
		})
	}
}

func TestParseFactorRejectsZeroDenominator(t *testing.T) {
	_, err := ParseFactor("1/0")
	assert.Error(t, err)

	_, err = Convert(decimal.NewFromInt(1), config.MetricConfig{Factor: "abc"})
	assert.Error(t, err)
}

func TestNoDataCollectedErrorMatchesSentinel(t *testing.T) {
	var err error = &NoDataCollectedError{Collector: "prometheus", Resource: "cpu"}
	assert.ErrorIs(t, err, ErrNoDataCollected)
	assert.Contains(t, err.Error(), "cpu")
}

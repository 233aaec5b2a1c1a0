package ratedexport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang/snappy"
	"github.com/prometheus/prometheus/prompb"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/cloudkitty/internal/config"
	"github.com/smallbiznis/cloudkitty/internal/dataframe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func ratedFrame() *dataframe.DataFrame {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	df := dataframe.New(start, start.Add(time.Hour))
	df.AddPoints("instance",
		dataframe.NewDataPoint("instance", decimal.NewFromInt(1), nil, nil).SetPrice(decimal.RequireFromString("0.5")),
		dataframe.NewDataPoint("instance", decimal.NewFromInt(2), nil, nil).SetPrice(decimal.RequireFromString("1.25")),
	)
	df.AddPoint("volume.size", dataframe.NewDataPoint("GiB", decimal.NewFromInt(10), nil, nil).SetPrice(decimal.RequireFromString("0.1")))
	return df
}

func TestExporter_RemoteWrite(t *testing.T) {
	var received prompb.WriteRequest
	var headers http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		raw, err := snappy.Decode(nil, body)
		require.NoError(t, err)
		require.NoError(t, received.Unmarshal(raw))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	exp := New(config.Config{Export: config.ExportConfig{
		Backend:   BackendRemoteWrite,
		Endpoint:  srv.URL,
		AuthToken: "secret",
	}}, zap.NewNop())
	require.NotNil(t, exp)

	frame := ratedFrame()
	require.NoError(t, exp.Export(context.Background(), "p1", frame))

	assert.Equal(t, "snappy", headers.Get("Content-Encoding"))
	assert.Equal(t, "Bearer secret", headers.Get("Authorization"))

	values := map[string]float64{}
	for _, ts := range received.Timeseries {
		labels := map[string]string{}
		for _, l := range ts.Labels {
			labels[l.Name] = l.Value
		}
		assert.Equal(t, "p1", labels["scope_id"])
		require.Len(t, ts.Samples, 1)
		assert.Equal(t, frame.End.UnixMilli(), ts.Samples[0].Timestamp)
		values[labels["__name__"]+"/"+labels["type"]] = ts.Samples[0].Value
	}
	assert.Equal(t, map[string]float64{
		"cloudkitty_rated_qty/instance":      3,
		"cloudkitty_rated_price/instance":    1.75,
		"cloudkitty_rated_qty/volume.size":   10,
		"cloudkitty_rated_price/volume.size": 0.1,
	}, values)
}

func TestExporter_RemoteWriteErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	exp := NewExporter(NewRemoteWritePusher(srv.URL, ""), zap.NewNop())
	err := exp.Export(context.Background(), "p1", ratedFrame())
	assert.ErrorContains(t, err, "502")
}

func TestNew_DisabledConfigurations(t *testing.T) {
	assert.Nil(t, New(config.Config{}, zap.NewNop()))
	assert.Nil(t, New(config.Config{Export: config.ExportConfig{Backend: BackendRemoteWrite}}, zap.NewNop()))
	assert.Nil(t, New(config.Config{Export: config.ExportConfig{Backend: "kafka", Endpoint: "http://x"}}, zap.NewNop()))

	var nilExporter *Exporter
	assert.NoError(t, nilExporter.Export(context.Background(), "p1", ratedFrame()))
}

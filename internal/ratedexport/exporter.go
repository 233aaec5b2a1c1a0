// Package ratedexport mirrors rated totals to a Prometheus-compatible sink
// after each successful period. Storage stays the system of record.
package ratedexport

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/cloudkitty/internal/config"
	"github.com/smallbiznis/cloudkitty/internal/dataframe"
	"go.uber.org/zap"
)

const (
	BackendRemoteWrite = "prometheus_remote_write"
	BackendPushgateway = "prometheus_pushgateway"

	metricRatedQty   = "cloudkitty_rated_qty"
	metricRatedPrice = "cloudkitty_rated_price"
)

var labelNames = []string{"type", "scope_id", "unit"}

type Exporter struct {
	pusher Pusher
	log    *zap.Logger
}

// New returns nil when exporting is disabled or misconfigured; a nil
// Exporter ignores Export calls.
func New(cfg config.Config, log *zap.Logger) *Exporter {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("ratedexport")

	backend := cfg.Export.Backend
	endpoint := cfg.Export.Endpoint
	if backend == "" {
		return nil
	}
	if endpoint == "" {
		log.Warn("ratedexport.disabled", zap.Error(errors.New("export endpoint is required")))
		return nil
	}

	switch backend {
	case BackendRemoteWrite:
		if _, err := url.ParseRequestURI(endpoint); err != nil {
			log.Warn("ratedexport.disabled", zap.Error(fmt.Errorf("invalid export endpoint: %w", err)))
			return nil
		}
		return NewExporter(NewRemoteWritePusher(endpoint, cfg.Export.AuthToken), log)
	case BackendPushgateway:
		return NewExporter(NewPushgatewayPusher(endpoint, cfg.AppName, map[string]string{
			"environment": strings.TrimSpace(cfg.Environment),
		}), log)
	default:
		log.Warn("ratedexport.disabled", zap.String("backend", backend))
		return nil
	}
}

func NewExporter(pusher Pusher, log *zap.Logger) *Exporter {
	return &Exporter{pusher: pusher, log: log}
}

type total struct {
	metricType string
	unit       string
	qty        decimal.Decimal
	price      decimal.Decimal
}

// summarize sums qty and price per metric type, in frame order.
func summarize(frame *dataframe.DataFrame) []total {
	var out []total
	for _, metricType := range frame.Types() {
		points := frame.Points(metricType)
		if len(points) == 0 {
			continue
		}
		t := total{metricType: metricType, unit: points[0].Unit, qty: decimal.Zero, price: decimal.Zero}
		for _, p := range points {
			t.qty = t.qty.Add(p.Qty)
			t.price = t.price.Add(p.Price)
		}
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].metricType < out[j].metricType })
	return out
}

// Export pushes the per-type totals of frame stamped at the period end.
func (e *Exporter) Export(ctx context.Context, scopeID string, frame *dataframe.DataFrame) error {
	if e == nil || frame == nil {
		return nil
	}
	totals := summarize(frame)
	if len(totals) == 0 {
		return nil
	}

	registry := prometheus.NewRegistry()
	qty := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: metricRatedQty,
		Help: "Rated quantity per metric type over one period.",
	}, labelNames)
	price := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: metricRatedPrice,
		Help: "Rated price per metric type over one period.",
	}, labelNames)
	registry.MustRegister(qty, price)

	for _, t := range totals {
		qty.WithLabelValues(t.metricType, scopeID, t.unit).Set(t.qty.InexactFloat64())
		price.WithLabelValues(t.metricType, scopeID, t.unit).Set(t.price.InexactFloat64())
	}

	if err := e.pusher.Push(ctx, registry, frame.End, map[string]string{"scope_id": scopeID}); err != nil {
		return fmt.Errorf("export rated totals: %w", err)
	}
	e.log.Debug("ratedexport.pushed", zap.String("scope_id", scopeID), zap.Int("types", len(totals)))
	return nil
}

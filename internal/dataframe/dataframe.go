// Package dataframe holds the usage records passed from collection through
// rating to storage. Quantities and prices are exact decimals.
package dataframe

import (
	"maps"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

type DataPoint struct {
	Unit     string            `json:"unit"`
	Qty      decimal.Decimal   `json:"qty"`
	Price    decimal.Decimal   `json:"price"`
	GroupBy  map[string]string `json:"groupby"`
	Metadata map[string]string `json:"metadata"`
}

func NewDataPoint(unit string, qty decimal.Decimal, groupby, metadata map[string]string) DataPoint {
	if groupby == nil {
		groupby = map[string]string{}
	}
	if metadata == nil {
		metadata = map[string]string{}
	}
	return DataPoint{
		Unit:     unit,
		Qty:      qty,
		Price:    decimal.Zero,
		GroupBy:  groupby,
		Metadata: metadata,
	}
}

func (p DataPoint) SetPrice(price decimal.Decimal) DataPoint {
	p.Price = price
	return p
}

func (p DataPoint) AddPrice(delta decimal.Decimal) DataPoint {
	p.Price = p.Price.Add(delta)
	return p
}

// Desc merges groupby and metadata; groupby wins on key collisions.
func (p DataPoint) Desc() map[string]string {
	out := make(map[string]string, len(p.GroupBy)+len(p.Metadata))
	maps.Copy(out, p.Metadata)
	maps.Copy(out, p.GroupBy)
	return out
}

func (p DataPoint) clone() DataPoint {
	p.GroupBy = maps.Clone(p.GroupBy)
	p.Metadata = maps.Clone(p.Metadata)
	return p
}

// DataFrame is the usage of one scope over [Start, End), keyed by metric type.
type DataFrame struct {
	Start time.Time
	End   time.Time

	order  []string
	points map[string][]DataPoint
}

func New(start, end time.Time) *DataFrame {
	return &DataFrame{
		Start:  start,
		End:    end,
		points: map[string][]DataPoint{},
	}
}

// FromUsage builds a frame from collected usage; metric types are added in
// sorted order so frames built from the same usage are identical.
func FromUsage(start, end time.Time, usage map[string][]DataPoint) *DataFrame {
	df := New(start, end)
	types := make([]string, 0, len(usage))
	for metricType := range usage {
		types = append(types, metricType)
	}
	sort.Strings(types)
	for _, metricType := range types {
		df.AddPoints(metricType, usage[metricType]...)
	}
	return df
}

func (df *DataFrame) AddPoint(metricType string, point DataPoint) {
	df.AddPoints(metricType, point)
}

func (df *DataFrame) AddPoints(metricType string, points ...DataPoint) {
	if _, ok := df.points[metricType]; !ok {
		df.order = append(df.order, metricType)
		df.points[metricType] = nil
	}
	df.points[metricType] = append(df.points[metricType], points...)
}

// Types returns metric types in insertion order.
func (df *DataFrame) Types() []string {
	return append([]string(nil), df.order...)
}

func (df *DataFrame) Points(metricType string) []DataPoint {
	return df.points[metricType]
}

// SetPoints replaces the points of metricType; rating modules use it to write
// prices back.
func (df *DataFrame) SetPoints(metricType string, points []DataPoint) {
	if _, ok := df.points[metricType]; !ok {
		df.order = append(df.order, metricType)
	}
	df.points[metricType] = points
}

// IterPoints calls fn for every point in type order, stopping when fn returns false.
func (df *DataFrame) IterPoints(fn func(metricType string, point DataPoint) bool) {
	for _, metricType := range df.order {
		for _, point := range df.points[metricType] {
			if !fn(metricType, point) {
				return
			}
		}
	}
}

func (df *DataFrame) Len() int {
	n := 0
	for _, points := range df.points {
		n += len(points)
	}
	return n
}

// Clone deep-copies the frame, including the point label maps.
func (df *DataFrame) Clone() *DataFrame {
	out := New(df.Start, df.End)
	for _, metricType := range df.order {
		src := df.points[metricType]
		dst := make([]DataPoint, len(src))
		for i, point := range src {
			dst[i] = point.clone()
		}
		out.SetPoints(metricType, dst)
	}
	return out
}

// TotalPrice sums every point's price.
func (df *DataFrame) TotalPrice() decimal.Decimal {
	total := decimal.Zero
	df.IterPoints(func(_ string, point DataPoint) bool {
		total = total.Add(point.Price)
		return true
	})
	return total
}

// Package collector retrieves usage for one scope, metric type and period.
package collector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smallbiznis/cloudkitty/internal/dataframe"
)

// ErrNoDataCollected means the metric could not be resolved for the scope.
// Callers treat it like an empty result: the metric is skipped, the period is not.
var ErrNoDataCollected = errors.New("no_data_collected")

type NoDataCollectedError struct {
	Collector string
	Resource  string
}

func (e *NoDataCollectedError) Error() string {
	return fmt.Sprintf("collector %s: no data collected for %s", e.Collector, e.Resource)
}

func (e *NoDataCollectedError) Is(target error) bool {
	return target == ErrNoDataCollected
}

type Collector interface {
	// Retrieve returns the stored metric name (the alt_name when configured)
	// and the points of [start, end). No points and a nil error mean the
	// metric legitimately had no usage.
	Retrieve(ctx context.Context, metricType string, start, end time.Time, scopeID string) (string, []dataframe.DataPoint, error)
}

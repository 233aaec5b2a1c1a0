// Package noop is a rating module that leaves prices untouched.
package noop

import (
	"context"

	"github.com/smallbiznis/cloudkitty/internal/dataframe"
	ratingdomain "github.com/smallbiznis/cloudkitty/internal/rating/domain"
)

const Name = "noop"

type Module struct{}

func New() *Module { return &Module{} }

func (*Module) Info() ratingdomain.ModuleInfo {
	return ratingdomain.ModuleInfo{
		Name:        Name,
		Description: "Dummy module, passes frames through unchanged.",
	}
}

func (*Module) Process(_ context.Context, frame *dataframe.DataFrame) (*dataframe.DataFrame, error) {
	return frame, nil
}

func (*Module) ReloadConfig(context.Context) error { return nil }

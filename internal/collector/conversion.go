package collector

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/cloudkitty/internal/config"
)

// Factor is kept as a fraction so "1/3600" converts seconds to hours without
// rounding the factor itself.
type Factor struct {
	Num decimal.Decimal
	Den decimal.Decimal
}

func (f Factor) Apply(qty decimal.Decimal) decimal.Decimal {
	return qty.Mul(f.Num).Div(f.Den)
}

// ParseFactor accepts a decimal ("0.5") or a fraction ("1/3600").
func ParseFactor(raw string) (Factor, error) {
	one := decimal.NewFromInt(1)
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Factor{Num: one, Den: one}, nil
	}
	num, den, isFraction := strings.Cut(raw, "/")
	n, err := decimal.NewFromString(strings.TrimSpace(num))
	if err != nil {
		return Factor{}, err
	}
	if !isFraction {
		return Factor{Num: n, Den: one}, nil
	}
	d, err := decimal.NewFromString(strings.TrimSpace(den))
	if err != nil {
		return Factor{}, err
	}
	if d.IsZero() {
		return Factor{}, fmt.Errorf("factor %q divides by zero", raw)
	}
	return Factor{Num: n, Den: d}, nil
}

// Convert applies qty*factor+offset, then the mutation.
func Convert(qty decimal.Decimal, conf config.MetricConfig) (decimal.Decimal, error) {
	factor, err := ParseFactor(conf.Factor)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid factor: %w", err)
	}
	offset := decimal.Zero
	if raw := strings.TrimSpace(conf.Offset); raw != "" {
		if offset, err = decimal.NewFromString(raw); err != nil {
			return decimal.Zero, fmt.Errorf("invalid offset: %w", err)
		}
	}
	return Mutate(factor.Apply(qty).Add(offset), conf.Mutate), nil
}

func Mutate(qty decimal.Decimal, mode string) decimal.Decimal {
	switch strings.ToUpper(mode) {
	case config.MutateNumBool:
		if qty.IsZero() {
			return decimal.Zero
		}
		return decimal.NewFromInt(1)
	case config.MutateNotNumBool:
		if qty.IsZero() {
			return decimal.NewFromInt(1)
		}
		return decimal.Zero
	case config.MutateFloor:
		return qty.Floor()
	case config.MutateCeil:
		return qty.Ceil()
	default:
		return qty
	}
}

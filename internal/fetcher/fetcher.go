// Package fetcher enumerates the scopes the processor should rate.
package fetcher

import (
	"context"
	"sort"
	"strings"
)

const (
	BackendSource     = "source"
	BackendPrometheus = "prometheus"
)

type Fetcher interface {
	GetTenants(ctx context.Context) ([]string, error)
}

// Source returns a fixed list of scopes.
type Source struct {
	tenants []string
}

func NewSource(tenants []string) *Source {
	return &Source{tenants: normalize(tenants)}
}

func (s *Source) GetTenants(context.Context) ([]string, error) {
	return append([]string(nil), s.tenants...), nil
}

func normalize(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

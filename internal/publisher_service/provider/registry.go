package provider

import (
	"context"
	"sort"
	"strings"

	"golang.org/x/time/rate"
)

// Registry maps platform identifiers and their aliases to publishers.
type Registry struct {
	publishers map[string]Publisher
	aliases    map[string]string
}

func NewRegistry() *Registry {
	return &Registry{
		publishers: make(map[string]Publisher),
		aliases:    make(map[string]string),
	}
}

// Register adds p under name. Aliases resolve to the same publisher.
func (r *Registry) Register(name string, p Publisher, aliases ...string) {
	name = strings.ToLower(name)
	r.publishers[name] = p
	r.aliases[name] = name
	for _, alias := range aliases {
		r.aliases[strings.ToLower(alias)] = name
	}
}

// Lookup resolves a platform identifier as written on a record.
func (r *Registry) Lookup(platform string) (Publisher, bool) {
	name, ok := r.aliases[strings.ToLower(strings.TrimSpace(platform))]
	if !ok {
		return nil, false
	}
	p, ok := r.publishers[name]
	return p, ok
}

// Names lists canonical platform names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.publishers))
	for name := range r.publishers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// rateLimited holds back calls to a publisher to stay within the vendor quota.
type rateLimited struct {
	Publisher
	limiter *rate.Limiter
}

// WithRateLimit wraps p so that at most perMinute calls start per minute. perMinute <= 0 disables limiting.
func WithRateLimit(p Publisher, perMinute int) Publisher {
	if perMinute <= 0 {
		return p
	}
	return &rateLimited{
		Publisher: p,
		limiter:   rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), 1),
	}
}

func (r *rateLimited) Publish(ctx context.Context, req PublishRequest) (*PublishResult, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.Publisher.Publish(ctx, req)
}

package usecase

import (
	"fmt"
	"sort"
	"strings"

	"publish-pipeline/domain/model"
	"publish-pipeline/domain/repository"
)

// ProviderInfo describes what an adapter supports.
type ProviderInfo struct {
	Identifier       string `json:"identifier"`
	Name             string `json:"name"`
	MaxLength        int    `json:"max_length"`
	MaxConcurrentJob int    `json:"max_concurrent_job"`
	MultiPhase       bool   `json:"multi_phase"`
	Replies          bool   `json:"replies"`
}

// ProviderRegistry resolves adapters by identifier.
type ProviderRegistry struct {
	providers map[string]repository.IProvider
}

func NewProviderRegistry(providers ...repository.IProvider) *ProviderRegistry {
	r := &ProviderRegistry{providers: make(map[string]repository.IProvider, len(providers))}
	for _, p := range providers {
		r.providers[strings.ToLower(p.Identifier())] = p
	}
	return r
}

func (r *ProviderRegistry) Get(identifier string) (repository.IProvider, error) {
	p, ok := r.providers[strings.ToLower(identifier)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrUnknownProvider, identifier)
	}
	return p, nil
}

// List returns the registered providers sorted by identifier.
func (r *ProviderRegistry) List() []ProviderInfo {
	out := make([]ProviderInfo, 0, len(r.providers))
	for _, p := range r.providers {
		_, multi := p.(repository.IMultiPhasePublisher)
		_, replies := p.(repository.IReplyPublisher)
		out = append(out, ProviderInfo{
			Identifier:       p.Identifier(),
			Name:             p.Name(),
			MaxLength:        p.MaxLength(),
			MaxConcurrentJob: concurrencyOf(p),
			MultiPhase:       multi,
			Replies:          replies,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identifier < out[j].Identifier })
	return out
}

// concurrencyOf applies the default ceiling of one concurrent call.
func concurrencyOf(p repository.IProvider) int {
	if n := p.MaxConcurrentJob(); n > 0 {
		return n
	}
	return 1
}

package billing

import (
	"context"
	"fmt"
	"maps"
	"os"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"
)

// inMemSource is a CatalogSource backed by a static plan map. Used in tests
// and for hardcoded catalogs in small deployments.
type inMemSource struct {
	mu    sync.RWMutex
	plans map[string]Plan
}

// NewInMemSource returns a CatalogSource with a deep copy of the given plans.
func NewInMemSource(plans map[string]Plan) CatalogSource {
	return &inMemSource{plans: clonePlans(plans)}
}

func (s *inMemSource) Load(_ context.Context) (map[string]Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clonePlans(s.plans), nil
}

func clonePlans(plans map[string]Plan) map[string]Plan {
	out := make(map[string]Plan, len(plans))
	for id, plan := range plans {
		plan.Limits = maps.Clone(plan.Limits)
		plan.Features = slices.Clone(plan.Features)
		out[id] = plan
	}
	return out
}

// fileSource loads the catalog from a YAML file of the shape:
//
//	plans:
//	  - id: premium_monthly
//	    price_id: price_123
//	    tier: premium
//	    interval: monthly
//	    limits: {images: 200, models: 20, storage: 10}
type fileSource struct {
	path string
}

// NewFileSource returns a CatalogSource reading plans from a YAML file.
func NewFileSource(path string) CatalogSource {
	return &fileSource{path: path}
}

func (s *fileSource) Load(_ context.Context) (map[string]Plan, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read plan catalog %s: %w", s.path, err)
	}

	var doc struct {
		Plans []Plan `yaml:"plans"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse plan catalog %s: %w", s.path, err)
	}

	plans := make(map[string]Plan, len(doc.Plans))
	for _, plan := range doc.Plans {
		if _, dup := plans[plan.ID]; dup {
			return nil, fmt.Errorf("plan catalog %s: duplicate plan id %q", s.path, plan.ID)
		}
		plans[plan.ID] = plan
	}
	return plans, nil
}

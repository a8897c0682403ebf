package catalog

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// yamlCatalog mirrors the on-disk catalog document. Limits are pointers so
// an omitted limit reads as unlimited rather than zero.
type yamlCatalog struct {
	Plans []yamlPlan `yaml:"plans"`
}

type yamlPlan struct {
	ID          string        `yaml:"id"`
	Name        string        `yaml:"name"`
	Description string        `yaml:"description"`
	Active      bool          `yaml:"active"`
	Pricings    []yamlPricing `yaml:"pricings"`
	Features    []yamlFeature `yaml:"features"`
}

type yamlPricing struct {
	ID           string `yaml:"id"`
	DurationDays int    `yaml:"duration_days"`
	Active       bool   `yaml:"active"`
}

type yamlFeature struct {
	Key   string `yaml:"key"`
	Limit *int64 `yaml:"limit"`
	Reset string `yaml:"reset"`
}

// ParseYAML decodes a catalog document and returns validated plans.
func ParseYAML(data []byte) ([]Plan, error) {
	var doc yamlCatalog
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Join(ErrFailedToLoadCatalog, err)
	}
	if len(doc.Plans) == 0 {
		return nil, errors.Join(ErrFailedToLoadCatalog, errors.New("catalog document defines no plans"))
	}

	plans := make([]Plan, 0, len(doc.Plans))
	for _, yp := range doc.Plans {
		plan := Plan{
			ID:          yp.ID,
			Name:        yp.Name,
			Description: yp.Description,
			Active:      yp.Active,
			Pricings:    make(map[string]Pricing, len(yp.Pricings)),
			Features:    make(map[string]Feature, len(yp.Features)),
		}
		for _, pr := range yp.Pricings {
			plan.Pricings[pr.ID] = Pricing{
				ID:           pr.ID,
				PlanID:       yp.ID,
				DurationDays: pr.DurationDays,
				Active:       pr.Active,
			}
		}
		for _, f := range yp.Features {
			reset := ResetPeriod(f.Reset)
			if f.Reset == "" {
				reset = ResetNever
			}
			plan.Features[f.Key] = Feature{
				Key:   f.Key,
				Limit: f.Limit,
				Reset: reset,
			}
		}
		if err := plan.Validate(); err != nil {
			return nil, errors.Join(ErrFailedToLoadCatalog, fmt.Errorf("plan %q: %w", yp.ID, err))
		}
		plans = append(plans, plan)
	}
	return plans, nil
}

// LoadYAMLFile reads a catalog document from disk and returns a Provider
// serving its plans.
func LoadYAMLFile(path string) (Provider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Join(ErrFailedToLoadCatalog, err)
	}
	plans, err := ParseYAML(data)
	if err != nil {
		return nil, err
	}
	return NewInMemProvider(plans...), nil
}

package app

import (
	"fmt"

	"log/slog"

	"github.com/hivewriter/content-motor/internal/adapter/ai"
	"github.com/hivewriter/content-motor/internal/config"
	"github.com/hivewriter/content-motor/internal/domain"
	"github.com/hivewriter/content-motor/internal/service/writer"
)

// BuildProviders assembles the generation provider set from the catalog
// and the configured credentials. Catalog entries without any key are
// skipped with a warning; at least one provider must survive.
func BuildProviders(cfg config.Config, catalog config.Catalog) ([]writer.Provider, map[string]map[string]int, error) {
	var providers []writer.Provider
	limits := make(map[string]map[string]int)

	for _, spec := range catalog.Providers {
		keys := cfg.ProviderKeys(spec.Name)
		if len(keys) == 0 {
			slog.Warn("provider has no configured credentials; skipping",
				slog.String("provider", spec.Name))
			continue
		}
		client, err := ai.NewFromSpec(spec, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("op=app.BuildProviders: %w", err)
		}
		creds := make([]domain.Credential, len(keys))
		for i, key := range keys {
			creds[i] = domain.Credential{Provider: spec.Name, Position: i, Secret: key}
		}
		providers = append(providers, writer.Provider{
			Spec: domain.Provider{
				Name:        spec.Name,
				Model:       spec.Model,
				Endpoint:    spec.Endpoint,
				Credentials: creds,
			},
			Gen: client,
		})
		if lm := cfg.ProviderLimits(spec.Name); len(lm) > 0 {
			limits[spec.Name] = lm
		}
		slog.Info("provider configured",
			slog.String("provider", spec.Name),
			slog.String("model", spec.Model),
			slog.Int("credentials", len(keys)))
	}

	if len(providers) == 0 {
		return nil, nil, fmt.Errorf("op=app.BuildProviders: %w", domain.ErrNoCredentials)
	}
	return providers, limits, nil
}

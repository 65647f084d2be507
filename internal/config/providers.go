package config

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ProviderSpec is one entry of the static provider catalog: where to call
// and which model to ask for. Credentials and ceilings stay in Config.
type ProviderSpec struct {
	Name     string `yaml:"name"`
	Endpoint string `yaml:"endpoint"`
	Model    string `yaml:"model"`
	Kind     string `yaml:"kind"`
}

// Catalog is the full provider catalog.
type Catalog struct {
	Providers []ProviderSpec `yaml:"providers"`
}

//go:embed providers.yaml
var defaultCatalog []byte

// LoadCatalog reads the provider catalog from path, or the embedded
// default when path is empty.
func LoadCatalog(path string) (Catalog, error) {
	data := defaultCatalog
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Catalog{}, fmt.Errorf("op=config.LoadCatalog: %w", err)
		}
		data = b
	}
	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return Catalog{}, fmt.Errorf("op=config.LoadCatalog: %w", err)
	}
	if len(cat.Providers) == 0 {
		return Catalog{}, fmt.Errorf("op=config.LoadCatalog: empty provider catalog")
	}
	return cat, nil
}

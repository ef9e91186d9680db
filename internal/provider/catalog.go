package provider

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed models.yaml
var modelsYAML []byte

// ModelInfo describes one selectable model.
type ModelInfo struct {
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
}

// Catalog lists the selectable models per provider plus the default picked
// for new accounts.
type Catalog struct {
	Providers map[string]ProviderModels `yaml:"providers"`
}

// ProviderModels is the catalog entry for a single provider.
type ProviderModels struct {
	Default string      `yaml:"default" json:"default"`
	Models  []ModelInfo `yaml:"models" json:"models"`
}

// LoadCatalog parses the embedded model catalog.
func LoadCatalog() (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(modelsYAML, &c); err != nil {
		return nil, fmt.Errorf("provider: parse model catalog: %w", err)
	}
	if len(c.Providers) == 0 {
		return nil, fmt.Errorf("provider: model catalog is empty")
	}
	return &c, nil
}

// DefaultModel returns the catalog default for a provider, or "" if the
// provider is unknown.
func (c *Catalog) DefaultModel(provider string) string {
	return c.Providers[provider].Default
}

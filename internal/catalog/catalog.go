// Package catalog loads the declarative per-source resource catalogs
// (configs/<source>_catalog.yml) and renders their URI templates.
package catalog

import (
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-yaml"
)

// Resource is one remote candidate for a dataset.
type Resource struct {
	URI          string `yaml:"uri"`
	Extension    string `yaml:"extension,omitempty"`
	Method       string `yaml:"method,omitempty"`
	BodyTemplate string `yaml:"body_template,omitempty"`
}

type Catalog struct {
	Resources []Resource `yaml:"resources"`
}

// RenderContext supplies the placeholder values recognized in URI and body
// templates.
type RenderContext struct {
	ReferencePeriod       string
	MunicipalityIBGECode  string
	MunicipalityIBGECode6 string
}

func Load(path string) (Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("catalog %s not readable: %w", path, err)
	}

	var cat Catalog
	if err := yaml.Unmarshal(raw, &cat); err != nil {
		return Catalog{}, fmt.Errorf("catalog %s not parseable: %w", path, err)
	}
	if len(cat.Resources) == 0 {
		return Catalog{}, fmt.Errorf("catalog %s lists no resources", path)
	}
	return cat, nil
}

// Render substitutes the supported placeholders into a template.
func Render(template string, ctx RenderContext) string {
	r := strings.NewReplacer(
		"{reference_period}", ctx.ReferencePeriod,
		"{municipality_ibge_code}", ctx.MunicipalityIBGECode,
		"{municipality_ibge_code_6}", ctx.MunicipalityIBGECode6,
	)
	return r.Replace(template)
}

// Rendered returns the resource with its URI and body template substituted.
func (r Resource) Rendered(ctx RenderContext) Resource {
	out := r
	out.URI = Render(r.URI, ctx)
	out.BodyTemplate = Render(r.BodyTemplate, ctx)
	if out.Method == "" {
		out.Method = "GET"
	}
	return out
}

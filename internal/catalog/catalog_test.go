package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAndRender(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sidra_catalog.yml")
	content := `resources:
  - uri: "https://example.gov.br/{reference_period}/pop_{municipality_ibge_code}.csv"
  - uri: "https://example.gov.br/api"
    method: "POST"
    body_template: "codigo={municipality_ibge_code_6}&ano={reference_period}"
    extension: ".json"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cat, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cat.Resources, 2)

	ctx := RenderContext{
		ReferencePeriod:       "2025",
		MunicipalityIBGECode:  "3121605",
		MunicipalityIBGECode6: "312160",
	}

	first := cat.Resources[0].Rendered(ctx)
	assert.Equal(t, "https://example.gov.br/2025/pop_3121605.csv", first.URI)
	assert.Equal(t, "GET", first.Method, "method defaults to GET")

	second := cat.Resources[1].Rendered(ctx)
	assert.Equal(t, "codigo=312160&ano=2025", second.BodyTemplate)
	assert.Equal(t, "POST", second.Method)
}

func TestLoadRejectsEmptyCatalog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.yml")
	require.NoError(t, os.WriteFile(path, []byte("resources: []\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err, "a catalog with no resources is a configuration mistake")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	assert.Error(t, err)
}

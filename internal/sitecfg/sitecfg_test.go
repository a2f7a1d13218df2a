package sitecfg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltinSitesValidate(t *testing.T) {
	sites := Builtin()
	require.Len(t, sites, 2)

	for _, site := range sites {
		t.Run(site.Name, func(t *testing.T) {
			assert.NoError(t, site.Validate())
			assert.NotEmpty(t, site.ReferencePrefix)
		})
	}
}

func TestLookup(t *testing.T) {
	site, err := Lookup("spot")
	require.NoError(t, err)
	assert.Equal(t, "SP-", site.ReferencePrefix)

	site, err = Lookup("xbz")
	require.NoError(t, err)
	assert.Equal(t, "XB-", site.ReferencePrefix)

	_, err = Lookup("nope")
	assert.ErrorContains(t, err, "unknown site")
}

func validSite() *Site {
	return &Site{
		Name:       "loja",
		BaseURL:    "https://loja.example.com",
		CatalogURL: "https://loja.example.com/catalogo",
		ProductLinks: Field{
			Selectors: []string{"a.produto"},
			Extract:   KindAttribute,
			Attribute: "href",
		},
		Reference: Field{
			Selectors: []string{".ref"},
			Extract:   KindText,
		},
		Fields: map[string]Field{
			FieldName: {Selectors: []string{"h1"}, Extract: KindText, Required: true},
		},
	}
}

func TestSiteValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Site)
		wantErr string
	}{
		{"valid", func(s *Site) {}, ""},
		{"missing name", func(s *Site) { s.Name = "" }, "name is required"},
		{"bad base url", func(s *Site) { s.BaseURL = "not a url" }, "invalid base_url"},
		{"bad catalog url", func(s *Site) { s.CatalogURL = "" }, "invalid catalog_url"},
		{"no selectors", func(s *Site) {
			s.Fields[FieldName] = Field{Extract: KindText}
		}, "no selectors"},
		{"unknown kind", func(s *Site) {
			s.Fields[FieldName] = Field{Selectors: []string{"h1"}, Extract: Kind("regex")}
		}, "unknown extraction kind"},
		{"attribute without name", func(s *Site) {
			s.ProductLinks = Field{Selectors: []string{"a"}, Extract: KindAttribute}
		}, "names none"},
		{"script without key", func(s *Site) {
			s.Fields["categories"] = Field{Selectors: []string{"script"}, Extract: KindStructuredScript}
		}, "names no key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			site := validSite()
			tt.mutate(site)

			err := site.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "site.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"name": "loja",
		"base_url": "https://loja.example.com",
		"catalog_url": "https://loja.example.com/catalogo",
		"reference_prefix": "LJ-",
		"product_links": {"selectors": ["a.produto"], "extract": "attribute", "attribute": "href"},
		"reference": {"selectors": [".ref"], "extract": "text"},
		"fields": {
			"name": {"selectors": ["h1"], "extract": "text", "required": true},
			"price": {"selectors": [".preco"], "extract": "price"}
		}
	}`), 0o644))

	site, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "LJ-", site.ReferencePrefix)
	assert.Equal(t, KindPrice, site.Fields["price"].Extract)
}

func TestLoadFileRejectsInvalidDefinition(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"name": "loja",
		"base_url": "https://loja.example.com",
		"catalog_url": "https://loja.example.com/catalogo",
		"product_links": {"selectors": ["a"], "extract": "teleport"},
		"reference": {"selectors": [".ref"], "extract": "text"}
	}`), 0o644))

	_, err := LoadFile(path)
	assert.ErrorContains(t, err, "unknown extraction kind")
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}

package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/catalog-sync/internal/sitecfg"
)

type Field = sitecfg.Field

func testSite() *sitecfg.Site {
	return &sitecfg.Site{
		Name:            "spot",
		BaseURL:         "https://www.spotgifts.com.br",
		CatalogURL:      "https://www.spotgifts.com.br/pt/catalogo/",
		ReferencePrefix: "SP-",
		ProductLinks: Field{
			Selectors: []string{".product-item a"},
			Extract:   sitecfg.KindAttribute,
			Attribute: "href",
			Required:  true,
		},
		Reference: Field{
			Selectors: []string{".product-reference"},
			Extract:   sitecfg.KindText,
			Required:  true,
		},
		Fields: map[string]Field{
			sitecfg.FieldName: {
				Selectors: []string{"h1.product-name"},
				Extract:   sitecfg.KindText,
				Required:  true,
			},
			sitecfg.FieldDescription: {
				Selectors: []string{".product-description"},
				Extract:   sitecfg.KindText,
			},
			sitecfg.FieldPrice: {
				Selectors: []string{".product-price"},
				Extract:   sitecfg.KindPrice,
			},
			sitecfg.FieldImages: {
				Selectors: []string{".gallery img"},
				Extract:   sitecfg.KindImageList,
			},
			sitecfg.FieldColors: {
				Selectors: []string{".colors .swatch"},
				Extract:   sitecfg.KindColorSwatch,
			},
			sitecfg.FieldCategories: {
				Selectors: []string{"script[type='application/ld+json']"},
				Extract:   sitecfg.KindStructuredScript,
				Key:       "category",
			},
		},
	}
}

func newTestParser(t *testing.T) *PageParser {
	t.Helper()
	p, err := NewPageParser(testSite())
	require.NoError(t, err)
	return p
}

const productPage = `
<html><body>
  <span class="product-reference"> 98123 </span>
  <h1 class="product-name">Caneca   Térmica
     500ml</h1>
  <div class="product-description">Caneca térmica em inox com parede dupla.</div>
  <div class="product-price">R$ 1.299,90</div>
  <div class="gallery">
    <img src="/media/caneca-frente.jpg">
    <img data-src="/media/caneca-lado.jpg" src="data:image/gif;base64,R0lGOD">
    <img src="/media/caneca-frente.jpg">
    <img src="https://cdn.spotgifts.com.br/media/caneca-topo.jpg">
  </div>
  <div class="colors">
    <span class="swatch" title="Vermelho" style="background-color: #CC0000"></span>
    <span class="swatch" title="Estampado" style="background-image: url('/media/estampa.png')"></span>
    <span class="swatch" data-color-name="Azul Marinho"></span>
  </div>
  <script type="application/ld+json">{"@type": "Product", "category": "Casa > Cozinha > Canecas"}</script>
</body></html>`

func TestParseProductPage(t *testing.T) {
	p := newTestParser(t)

	ext, err := p.ParseProductPage(productPage)
	require.NoError(t, err)

	assert.Equal(t, "98123", ext.Reference)
	assert.Equal(t, "Caneca Térmica 500ml", ext.Name)
	assert.Equal(t, "Caneca térmica em inox com parede dupla.", ext.Description)

	require.NotNil(t, ext.Price)
	assert.InDelta(t, 1299.90, *ext.Price, 0.001)

	// Relative URLs resolve against the base, duplicates collapse, the lazy
	// attribute wins over the placeholder src.
	assert.Equal(t, []string{
		"https://www.spotgifts.com.br/media/caneca-frente.jpg",
		"https://www.spotgifts.com.br/media/caneca-lado.jpg",
		"https://cdn.spotgifts.com.br/media/caneca-topo.jpg",
	}, ext.Images)

	require.Len(t, ext.Colors, 3)
	assert.Equal(t, "Vermelho", ext.Colors[0].Name)
	assert.Equal(t, "hex", ext.Colors[0].Kind)
	assert.Equal(t, "#CC0000", ext.Colors[0].Code)
	assert.Equal(t, "Estampado", ext.Colors[1].Name)
	assert.Equal(t, "imagem", ext.Colors[1].Kind)
	assert.Equal(t, "https://www.spotgifts.com.br/media/estampa.png", ext.Colors[1].ImageURL)
	assert.Equal(t, "Azul Marinho", ext.Colors[2].Name)
	assert.Equal(t, "texto", ext.Colors[2].Kind)

	assert.Equal(t, []string{"Casa", "Cozinha", "Canecas"}, ext.Categories)
}

func TestParseProductPageMissingReference(t *testing.T) {
	p := newTestParser(t)

	_, err := p.ParseProductPage(`<html><body><h1 class="product-name">Caneca</h1></body></html>`)
	assert.ErrorContains(t, err, "reference")
}

func TestParseProductPageMissingRequiredField(t *testing.T) {
	p := newTestParser(t)

	_, err := p.ParseProductPage(`<html><body><span class="product-reference">98123</span></body></html>`)
	assert.ErrorContains(t, err, "name")
}

func TestParseProductPageOptionalFieldsAbsent(t *testing.T) {
	p := newTestParser(t)

	ext, err := p.ParseProductPage(`<html><body>
		<span class="product-reference">98123</span>
		<h1 class="product-name">Caneca</h1>
	</body></html>`)
	require.NoError(t, err)

	assert.Nil(t, ext.Price)
	assert.Empty(t, ext.Images)
	assert.Empty(t, ext.Colors)
	assert.Empty(t, ext.Categories)
}

func TestCollectProductLinks(t *testing.T) {
	p := newTestParser(t)

	links, err := p.CollectProductLinks(`<html><body>
		<div class="product-item"><a href="/pt/produto/caneca-1">Caneca 1</a></div>
		<div class="product-item"><a href="/pt/produto/caneca-2">Caneca 2</a></div>
		<div class="product-item"><a href="/pt/produto/caneca-1">Caneca 1 de novo</a></div>
		<div class="product-item"><a href="https://www.spotgifts.com.br/pt/produto/caneca-3">Caneca 3</a></div>
		<div class="product-item"><a href="javascript:void(0)">Menu</a></div>
	</body></html>`)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"https://www.spotgifts.com.br/pt/produto/caneca-1",
		"https://www.spotgifts.com.br/pt/produto/caneca-2",
		"https://www.spotgifts.com.br/pt/produto/caneca-3",
	}, links)
}

func TestParsePrice(t *testing.T) {
	tests := []struct {
		text    string
		want    float64
		wantErr bool
	}{
		{"R$ 29,90", 29.90, false},
		{"R$ 1.299,90", 1299.90, false},
		{"29.90", 29.90, false},
		{"1,299.90", 1299.90, false},
		{"1299", 1299, false},
		{"A partir de R$ 12,50 / un", 12.50, false},
		{"sob consulta", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, err := ParsePrice(tt.text)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 0.001)
		})
	}
}

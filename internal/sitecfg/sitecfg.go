package sitecfg

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"time"
)

// Kind names an extraction strategy. The parser switches on it, so a typo in
// a site file fails Validate instead of silently extracting nothing.
type Kind string

const (
	KindText             Kind = "text"
	KindAttribute        Kind = "attribute"
	KindImageList        Kind = "image-list"
	KindColorSwatch      Kind = "color-swatch"
	KindPrice            Kind = "price"
	KindStructuredScript Kind = "structured-script"
)

var knownKinds = map[Kind]bool{
	KindText:             true,
	KindAttribute:        true,
	KindImageList:        true,
	KindColorSwatch:      true,
	KindPrice:            true,
	KindStructuredScript: true,
}

// Well-known field names the scraper maps onto a product record.
const (
	FieldName        = "name"
	FieldDescription = "description"
	FieldPrice       = "price"
	FieldImages      = "images"
	FieldColors      = "colors"
	FieldCategories  = "categories"
	FieldExtraInfo   = "extra_info"
)

// Field describes how to pull one product attribute out of a page. Selectors
// are tried in order until one matches, so site redesigns can be absorbed by
// appending a selector instead of replacing one.
type Field struct {
	Selectors []string `json:"selectors"`
	Extract   Kind     `json:"extract"`
	// Attribute is the HTML attribute to read for the attribute kind.
	Attribute string `json:"attribute,omitempty"`
	// Key is the JSON key to pull for the structured-script kind.
	Key      string `json:"key,omitempty"`
	Required bool   `json:"required,omitempty"`
}

type Site struct {
	Name            string `json:"name"`
	BaseURL         string `json:"base_url"`
	CatalogURL      string `json:"catalog_url"`
	ReferencePrefix string `json:"reference_prefix"`

	// ProductLinks locates product detail links on the catalog page.
	ProductLinks Field `json:"product_links"`
	// Reference extracts the supplier's own product code.
	Reference Field            `json:"reference"`
	Fields    map[string]Field `json:"fields"`

	// ScrollStep and ScrollSettle tune the lazy-load scroll loop; zero means
	// the scraper default.
	ScrollStep   int           `json:"scroll_step,omitempty"`
	ScrollSettle time.Duration `json:"scroll_settle,omitempty"`
}

// Validate rejects a malformed site definition at load time, before the
// browser ever launches.
func (s *Site) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("site name is required")
	}
	if _, err := url.ParseRequestURI(s.BaseURL); err != nil {
		return fmt.Errorf("site %s: invalid base_url: %w", s.Name, err)
	}
	if _, err := url.ParseRequestURI(s.CatalogURL); err != nil {
		return fmt.Errorf("site %s: invalid catalog_url: %w", s.Name, err)
	}
	if err := s.validateField("product_links", s.ProductLinks); err != nil {
		return err
	}
	if err := s.validateField("reference", s.Reference); err != nil {
		return err
	}
	for name, f := range s.Fields {
		if err := s.validateField(name, f); err != nil {
			return err
		}
	}
	return nil
}

func (s *Site) validateField(name string, f Field) error {
	if len(f.Selectors) == 0 {
		return fmt.Errorf("site %s: field %s has no selectors", s.Name, name)
	}
	if !knownKinds[f.Extract] {
		return fmt.Errorf("site %s: field %s has unknown extraction kind %q", s.Name, name, f.Extract)
	}
	if f.Extract == KindAttribute && f.Attribute == "" {
		return fmt.Errorf("site %s: field %s extracts an attribute but names none", s.Name, name)
	}
	if f.Extract == KindStructuredScript && f.Key == "" {
		return fmt.Errorf("site %s: field %s extracts from script but names no key", s.Name, name)
	}
	return nil
}

// LoadFile reads and validates a site definition from a JSON file.
func LoadFile(path string) (*Site, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read site file: %w", err)
	}

	var site Site
	if err := json.Unmarshal(raw, &site); err != nil {
		return nil, fmt.Errorf("failed to parse site file %s: %w", path, err)
	}
	if err := site.Validate(); err != nil {
		return nil, err
	}
	return &site, nil
}

// Lookup resolves a built-in site by name.
func Lookup(name string) (*Site, error) {
	for _, s := range Builtin() {
		if s.Name == name {
			return s, nil
		}
	}
	return nil, fmt.Errorf("unknown site %q", name)
}

// Builtin returns the two shipped catalog definitions.
func Builtin() []*Site {
	return []*Site{spotSite(), xbzSite()}
}

func spotSite() *Site {
	return &Site{
		Name:            "spot",
		BaseURL:         "https://www.spotgifts.com.br",
		CatalogURL:      "https://www.spotgifts.com.br/pt/catalogo/",
		ReferencePrefix: "SP-",
		ProductLinks: Field{
			Selectors: []string{".product-item a.product-link", ".catalog-grid a[href*='/produto/']"},
			Extract:   KindAttribute,
			Attribute: "href",
			Required:  true,
		},
		Reference: Field{
			Selectors: []string{".product-reference", "span[itemprop='sku']"},
			Extract:   KindText,
			Required:  true,
		},
		Fields: map[string]Field{
			FieldName: {
				Selectors: []string{"h1.product-name", "h1[itemprop='name']"},
				Extract:   KindText,
				Required:  true,
			},
			FieldDescription: {
				Selectors: []string{".product-description", "div[itemprop='description']"},
				Extract:   KindText,
			},
			FieldPrice: {
				Selectors: []string{".product-price .value", "span[itemprop='price']"},
				Extract:   KindPrice,
			},
			FieldImages: {
				Selectors: []string{".product-gallery img", ".gallery-thumbs img"},
				Extract:   KindImageList,
			},
			FieldColors: {
				Selectors: []string{".color-options .swatch", ".variants .color"},
				Extract:   KindColorSwatch,
			},
			FieldCategories: {
				Selectors: []string{"script[type='application/ld+json']"},
				Extract:   KindStructuredScript,
				Key:       "category",
			},
			FieldExtraInfo: {
				Selectors: []string{".product-specs", ".additional-info"},
				Extract:   KindText,
			},
		},
	}
}

func xbzSite() *Site {
	return &Site{
		Name:            "xbz",
		BaseURL:         "https://www.xbz.com.br",
		CatalogURL:      "https://www.xbz.com.br/produtos",
		ReferencePrefix: "XB-",
		ProductLinks: Field{
			Selectors: []string{".lista-produtos a.produto", "a[href*='/produto/']"},
			Extract:   KindAttribute,
			Attribute: "href",
			Required:  true,
		},
		Reference: Field{
			Selectors: []string{".codigo-produto", ".produto-ref"},
			Extract:   KindText,
			Required:  true,
		},
		Fields: map[string]Field{
			FieldName: {
				Selectors: []string{"h1.titulo-produto", ".produto-detalhe h1"},
				Extract:   KindText,
				Required:  true,
			},
			FieldDescription: {
				Selectors: []string{".descricao-produto", "#descricao"},
				Extract:   KindText,
			},
			FieldPrice: {
				Selectors: []string{".preco-produto", ".preco .valor"},
				Extract:   KindPrice,
			},
			FieldImages: {
				Selectors: []string{".galeria-produto img", ".fotos img"},
				Extract:   KindImageList,
			},
			FieldColors: {
				Selectors: []string{".cores-disponiveis .cor", ".variacao-cor span"},
				Extract:   KindColorSwatch,
			},
			FieldCategories: {
				Selectors: []string{"script[type='application/ld+json']"},
				Extract:   KindStructuredScript,
				Key:       "category",
			},
		},
	}
}

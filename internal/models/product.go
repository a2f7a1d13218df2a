package models

import (
	"time"
)

// ColorKind is the API-facing vocabulary for color descriptors. The remote
// API only understands "codigo" and "imagem"; scraped data may additionally
// carry "hex" or free-form strings, which normalization rewrites.
type ColorKind string

const (
	ColorKindCode  ColorKind = "codigo"
	ColorKindImage ColorKind = "imagem"
)

// RawColor is the shape a color arrives in from the scrape. Kind is whatever
// the site markup produced ("hex", "imagem", "codigo", or empty).
type RawColor struct {
	Name        string `json:"nome"`
	Kind        string `json:"tipo"`
	Code        string `json:"codigo,omitempty"`
	NumericCode string `json:"codigo_numerico,omitempty"`
	ImageURL    string `json:"imagem,omitempty"`
}

// ColorDescriptor is a normalized color ready for upload.
type ColorDescriptor struct {
	Name        string    `json:"nome"`
	Kind        ColorKind `json:"tipo"`
	Code        string    `json:"codigo,omitempty"`
	NumericCode string    `json:"codigo_numerico,omitempty"`
	SourceURL   string    `json:"imagem,omitempty"`
}

// ProductRecord is one scraped product, keyed by its site-prefixed reference.
type ProductRecord struct {
	Reference   string            `json:"referencia"`
	Name        string            `json:"nome"`
	Description string            `json:"descricao"`
	Price       *float64          `json:"preco,omitempty"`
	Categories  []string          `json:"categorias"`
	Colors      []ColorDescriptor `json:"cores"`
	Images      []string          `json:"imagens"`
	ExtraInfo   string            `json:"informacoes_adicionais,omitempty"`
	ProductURL  string            `json:"url_produto,omitempty"`
	SourceSite  string            `json:"site_origem,omitempty"`
	ScrapedAt   time.Time         `json:"data_extracao"`
}

func NewProductRecord(reference string) *ProductRecord {
	return &ProductRecord{
		Reference:  reference,
		Categories: make([]string, 0),
		Colors:     make([]ColorDescriptor, 0),
		Images:     make([]string, 0),
		ScrapedAt:  time.Now(),
	}
}

// Validate returns the required fields that are missing. A record must carry
// at least one image and one color before an upload is attempted.
func (p *ProductRecord) Validate() []string {
	var missing []string

	if p.Reference == "" {
		missing = append(missing, "referencia")
	}
	if p.Name == "" {
		missing = append(missing, "nome")
	}
	if p.Description == "" {
		missing = append(missing, "descricao")
	}
	if len(p.Colors) == 0 {
		missing = append(missing, "cores")
	}
	if len(p.Images) == 0 {
		missing = append(missing, "imagens")
	}

	return missing
}

func (p *ProductRecord) IsValid() bool {
	return len(p.Validate()) == 0
}

// StagedImage is a temporary local copy of a remote image, created solely to
// satisfy a multipart upload. The stager owns the file from creation to
// deletion.
type StagedImage struct {
	SourceURL string    `json:"source_url"`
	LocalPath string    `json:"local_path"`
	CreatedAt time.Time `json:"created_at"`
}

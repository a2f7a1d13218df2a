package parser

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/maltedev/catalog-sync/internal/models"
	"github.com/maltedev/catalog-sync/internal/sitecfg"
)

// Extraction is everything a product page yields before reference prefixing
// and color normalization.
type Extraction struct {
	Reference   string
	Name        string
	Description string
	Price       *float64
	Images      []string
	Colors      []models.RawColor
	Categories  []string
	ExtraInfo   string
}

var (
	backgroundImageRe = regexp.MustCompile(`background(?:-image)?\s*:\s*url\(['"]?([^'")]+)['"]?\)`)
	backgroundColorRe = regexp.MustCompile(`background(?:-color)?\s*:\s*(#[0-9a-fA-F]{3,8}|rgb\([^)]*\))`)
	whitespaceRe      = regexp.MustCompile(`\s+`)
)

// PageParser extracts product data from rendered catalog HTML, driven
// entirely by the site's field definitions.
type PageParser struct {
	site   *sitecfg.Site
	base   *url.URL
	logger *slog.Logger
}

func NewPageParser(site *sitecfg.Site) (*PageParser, error) {
	base, err := url.Parse(site.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid site base URL: %w", err)
	}

	return &PageParser{
		site:   site,
		base:   base,
		logger: slog.Default().With("component", "parser", "site", site.Name),
	}, nil
}

// CollectProductLinks pulls the product detail links out of a catalog page,
// resolved against the site base and de-duplicated in document order.
func (p *PageParser) CollectProductLinks(html string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse catalog HTML: %w", err)
	}

	seen := make(map[string]bool)
	var links []string

	for _, selector := range p.site.ProductLinks.Selectors {
		doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
			href, ok := s.Attr(p.site.ProductLinks.Attribute)
			if !ok || href == "" {
				return
			}
			resolved := p.resolveURL(href)
			if resolved == "" || seen[resolved] {
				return
			}
			seen[resolved] = true
			links = append(links, resolved)
		})
	}

	return links, nil
}

// ParseProductPage extracts every configured field from a product detail
// page. Missing required fields fail the parse; optional fields just come
// back empty.
func (p *PageParser) ParseProductPage(html string) (*Extraction, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse product HTML: %w", err)
	}

	ext := &Extraction{}

	ext.Reference = p.extractText(doc, p.site.Reference)
	if ext.Reference == "" && p.site.Reference.Required {
		return nil, fmt.Errorf("product page carries no reference")
	}

	for name, field := range p.site.Fields {
		if err := p.extractInto(ext, doc, name, field); err != nil {
			return nil, err
		}
	}

	return ext, nil
}

func (p *PageParser) extractInto(ext *Extraction, doc *goquery.Document, name string, field sitecfg.Field) error {
	switch name {
	case sitecfg.FieldName:
		ext.Name = p.extractByKind(doc, field)
	case sitecfg.FieldDescription:
		ext.Description = p.extractByKind(doc, field)
	case sitecfg.FieldExtraInfo:
		ext.ExtraInfo = p.extractByKind(doc, field)
	case sitecfg.FieldPrice:
		ext.Price = p.extractPrice(doc, field)
	case sitecfg.FieldImages:
		ext.Images = p.extractImageList(doc, field)
	case sitecfg.FieldColors:
		ext.Colors = p.extractColorSwatches(doc, field)
	case sitecfg.FieldCategories:
		ext.Categories = p.extractList(doc, field)
	default:
		p.logger.Warn("unmapped field in site definition", "field", name)
		return nil
	}

	if field.Required && p.fieldEmpty(ext, name) {
		return fmt.Errorf("required field %s not found on page", name)
	}
	return nil
}

func (p *PageParser) fieldEmpty(ext *Extraction, name string) bool {
	switch name {
	case sitecfg.FieldName:
		return ext.Name == ""
	case sitecfg.FieldDescription:
		return ext.Description == ""
	case sitecfg.FieldPrice:
		return ext.Price == nil
	case sitecfg.FieldImages:
		return len(ext.Images) == 0
	case sitecfg.FieldColors:
		return len(ext.Colors) == 0
	case sitecfg.FieldCategories:
		return len(ext.Categories) == 0
	}
	return false
}

func (p *PageParser) extractByKind(doc *goquery.Document, field sitecfg.Field) string {
	switch field.Extract {
	case sitecfg.KindText:
		return p.extractText(doc, field)
	case sitecfg.KindAttribute:
		return p.extractAttribute(doc, field)
	default:
		p.logger.Warn("field kind does not yield text", "kind", field.Extract)
		return ""
	}
}

func (p *PageParser) extractText(doc *goquery.Document, field sitecfg.Field) string {
	for _, selector := range field.Selectors {
		text := cleanText(doc.Find(selector).First().Text())
		if text != "" {
			return text
		}
	}
	return ""
}

func (p *PageParser) extractAttribute(doc *goquery.Document, field sitecfg.Field) string {
	for _, selector := range field.Selectors {
		if val, ok := doc.Find(selector).First().Attr(field.Attribute); ok && val != "" {
			return strings.TrimSpace(val)
		}
	}
	return ""
}

// extractPrice parses Brazilian-formatted prices ("R$ 1.299,90") into a
// float. A page without a price is normal for quote-only catalogs.
func (p *PageParser) extractPrice(doc *goquery.Document, field sitecfg.Field) *float64 {
	text := p.extractText(doc, field)
	if text == "" {
		return nil
	}

	value, err := ParsePrice(text)
	if err != nil {
		p.logger.Warn("unparseable price text", "text", text, "error", err)
		return nil
	}
	return &value
}

// ParsePrice converts localized price text to a float. When both separators
// appear the last one wins as the decimal mark.
func ParsePrice(text string) (float64, error) {
	cleaned := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' || r == '.' || r == ',' {
			return r
		}
		return -1
	}, text)
	if cleaned == "" {
		return 0, fmt.Errorf("no digits in price text %q", text)
	}

	lastComma := strings.LastIndex(cleaned, ",")
	lastDot := strings.LastIndex(cleaned, ".")

	switch {
	case lastComma > lastDot:
		// Comma decimal: drop dot thousand separators.
		cleaned = strings.ReplaceAll(cleaned, ".", "")
		cleaned = strings.Replace(cleaned, ",", ".", 1)
	case lastDot > lastComma:
		cleaned = strings.ReplaceAll(cleaned, ",", "")
	}

	value, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid price %q: %w", text, err)
	}
	return value, nil
}

// extractImageList gathers image URLs across all selectors, preferring lazy
// load attributes over src, resolved and de-duplicated in order.
func (p *PageParser) extractImageList(doc *goquery.Document, field sitecfg.Field) []string {
	seen := make(map[string]bool)
	var images []string

	for _, selector := range field.Selectors {
		doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
			src := firstAttr(s, "data-src", "data-lazy", "data-original", "src")
			if src == "" || strings.HasPrefix(src, "data:") {
				return
			}
			resolved := p.resolveURL(src)
			if resolved == "" || seen[resolved] {
				return
			}
			seen[resolved] = true
			images = append(images, resolved)
		})
	}

	return images
}

// extractColorSwatches reads color variants from swatch elements. A swatch
// styled with a background image becomes an image color; a flat background
// color becomes a hex color; anything else keeps just the label.
func (p *PageParser) extractColorSwatches(doc *goquery.Document, field sitecfg.Field) []models.RawColor {
	seen := make(map[string]bool)
	var colors []models.RawColor

	for _, selector := range field.Selectors {
		doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
			color := p.parseSwatch(s)
			if color.Name == "" || seen[color.Name] {
				return
			}
			seen[color.Name] = true
			colors = append(colors, color)
		})
	}

	return colors
}

func (p *PageParser) parseSwatch(s *goquery.Selection) models.RawColor {
	name := firstAttr(s, "title", "alt", "data-nome", "data-color-name")
	if name == "" {
		name = cleanText(s.Text())
	}
	color := models.RawColor{Name: name, Kind: "texto"}

	style, _ := s.Attr("style")
	if m := backgroundImageRe.FindStringSubmatch(style); m != nil {
		color.Kind = "imagem"
		color.ImageURL = p.resolveURL(m[1])
		return color
	}
	if m := backgroundColorRe.FindStringSubmatch(style); m != nil {
		color.Kind = "hex"
		color.Code = m[1]
		return color
	}

	// Swatches rendered as nested thumbnails instead of styled spans.
	if img := s.Find("img").First(); img.Length() > 0 {
		if src := firstAttr(img, "data-src", "src"); src != "" {
			color.Kind = "imagem"
			color.ImageURL = p.resolveURL(src)
			return color
		}
	}

	if code, ok := s.Attr("data-color"); ok && code != "" {
		color.Kind = "hex"
		color.Code = code
	}
	return color
}

// extractList handles multi-value fields: structured-script pulls a key out
// of embedded JSON, everything else collects element texts.
func (p *PageParser) extractList(doc *goquery.Document, field sitecfg.Field) []string {
	if field.Extract == sitecfg.KindStructuredScript {
		return p.extractFromScripts(doc, field)
	}

	seen := make(map[string]bool)
	var values []string
	for _, selector := range field.Selectors {
		doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
			text := cleanText(s.Text())
			if text == "" || seen[text] {
				return
			}
			seen[text] = true
			values = append(values, text)
		})
	}
	return values
}

func (p *PageParser) extractFromScripts(doc *goquery.Document, field sitecfg.Field) []string {
	var values []string

	for _, selector := range field.Selectors {
		doc.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			var payload map[string]any
			if err := json.Unmarshal([]byte(s.Text()), &payload); err != nil {
				return true
			}

			switch v := payload[field.Key].(type) {
			case string:
				// Breadcrumb-style "A > B > C" strings split into levels.
				for _, part := range strings.Split(v, ">") {
					if part = strings.TrimSpace(part); part != "" {
						values = append(values, part)
					}
				}
			case []any:
				for _, item := range v {
					if str, ok := item.(string); ok && strings.TrimSpace(str) != "" {
						values = append(values, strings.TrimSpace(str))
					}
				}
			default:
				return true
			}
			return len(values) == 0
		})
		if len(values) > 0 {
			break
		}
	}

	return values
}

func (p *PageParser) resolveURL(ref string) string {
	parsed, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		p.logger.Debug("unresolvable URL on page", "url", ref, "error", err)
		return ""
	}
	resolved := p.base.ResolveReference(parsed)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	return resolved.String()
}

func firstAttr(s *goquery.Selection, names ...string) string {
	for _, name := range names {
		if val, ok := s.Attr(name); ok && strings.TrimSpace(val) != "" {
			return strings.TrimSpace(val)
		}
	}
	return ""
}

func cleanText(text string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(text, " "))
}

package colors

import (
	"context"
	"log/slog"
	"strings"

	"github.com/maltedev/catalog-sync/internal/models"
)

// ImageStager is the slice of the stager the normalizer needs to verify that
// a swatch image can actually be fetched before the color is sent as image
// kind.
type ImageStager interface {
	Stage(ctx context.Context, sourceURL, key string) (*models.StagedImage, error)
	Release(img *models.StagedImage)
}

// Normalizer converts heterogeneous scraped color descriptors into the
// canonical API vocabulary. It never fails: a color whose swatch image cannot
// be staged degrades to code kind, and unknown kinds are logged and coerced.
type Normalizer struct {
	stager ImageStager
	logger *slog.Logger
}

func NewNormalizer(stager ImageStager) *Normalizer {
	return &Normalizer{
		stager: stager,
		logger: slog.Default().With("component", "color_normalizer"),
	}
}

// Normalize maps raw colors to descriptors, preserving input order. Swatch
// URLs are probed through the stager so a dead image URL is caught here
// rather than mid-upload; the probe file is released immediately.
func (n *Normalizer) Normalize(ctx context.Context, raw []models.RawColor) []models.ColorDescriptor {
	out := make([]models.ColorDescriptor, 0, len(raw))

	for _, rc := range raw {
		out = append(out, n.normalizeOne(ctx, rc))
	}

	return out
}

func (n *Normalizer) normalizeOne(ctx context.Context, rc models.RawColor) models.ColorDescriptor {
	kind := strings.ToLower(strings.TrimSpace(rc.Kind))

	switch kind {
	case "imagem", "image":
		return n.normalizeImage(ctx, rc)

	case "hex":
		// API vocabulary has no hex kind; hex swatches travel as codes.
		return models.ColorDescriptor{
			Name:        rc.Name,
			Kind:        models.ColorKindCode,
			Code:        rc.Code,
			NumericCode: rc.NumericCode,
		}

	case "codigo", "code", "texto", "text", "":
		return models.ColorDescriptor{
			Name:        rc.Name,
			Kind:        models.ColorKindCode,
			Code:        rc.Code,
			NumericCode: rc.NumericCode,
		}

	default:
		n.logger.Warn("unknown color kind, coercing to code",
			"kind", rc.Kind, "color", rc.Name)
		return models.ColorDescriptor{
			Name:        rc.Name,
			Kind:        models.ColorKindCode,
			Code:        rc.Code,
			NumericCode: rc.NumericCode,
		}
	}
}

func (n *Normalizer) normalizeImage(ctx context.Context, rc models.RawColor) models.ColorDescriptor {
	if rc.ImageURL != "" {
		img, err := n.stager.Stage(ctx, rc.ImageURL, "cor_"+rc.Name)
		if err == nil {
			n.stager.Release(img)
			return models.ColorDescriptor{
				Name:        rc.Name,
				Kind:        models.ColorKindImage,
				NumericCode: rc.NumericCode,
				SourceURL:   rc.ImageURL,
			}
		}
		n.logger.Warn("color swatch unavailable, degrading to code",
			"color", rc.Name, "url", rc.ImageURL, "error", err)
	}

	// Deliberate fallback, not a failure: keep the color with whatever code
	// the scrape produced.
	return models.ColorDescriptor{
		Name:        rc.Name,
		Kind:        models.ColorKindCode,
		Code:        rc.Code,
		NumericCode: rc.NumericCode,
	}
}

// Lift turns plain color names (sites that only publish a label) into raw
// colors so they can flow through Normalize.
func Lift(names []string) []models.RawColor {
	out := make([]models.RawColor, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		out = append(out, models.RawColor{Name: name, Kind: "texto"})
	}
	return out
}

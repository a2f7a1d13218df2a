package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maltedev/catalog-sync/internal/browser"
	"github.com/maltedev/catalog-sync/internal/colors"
	"github.com/maltedev/catalog-sync/internal/models"
	"github.com/maltedev/catalog-sync/internal/parser"
	"github.com/maltedev/catalog-sync/internal/ratelimit"
	"github.com/maltedev/catalog-sync/internal/sitecfg"
)

var ErrNoProducts = errors.New("catalog page yielded no product links")

type Options struct {
	NavRetries   int
	MaxScrolls   int
	ScrollStep   int
	ScrollSettle time.Duration
	DelayMin     time.Duration
	DelayMax     time.Duration
	// MaxProducts caps a run; zero means everything the catalog lists.
	MaxProducts int
}

func DefaultOptions() *Options {
	return &Options{
		NavRetries:   3,
		MaxScrolls:   50,
		ScrollStep:   1200,
		ScrollSettle: 800 * time.Millisecond,
		DelayMin:     2 * time.Second,
		DelayMax:     6 * time.Second,
	}
}

// CatalogScraper walks one supplier catalog: scroll the grid until it stops
// growing, then visit every product page at a human-looking pace.
type CatalogScraper struct {
	browser *browser.Browser
	site    *sitecfg.Site
	parser  *parser.PageParser
	colors  *colors.Normalizer
	pace    ratelimit.Pacer
	opts    *Options
	logger  *slog.Logger
}

func New(b *browser.Browser, site *sitecfg.Site, normalizer *colors.Normalizer, opts *Options) (*CatalogScraper, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	pageParser, err := parser.NewPageParser(site)
	if err != nil {
		return nil, err
	}

	if site.ScrollStep > 0 {
		opts.ScrollStep = site.ScrollStep
	}
	if site.ScrollSettle > 0 {
		opts.ScrollSettle = site.ScrollSettle
	}

	return &CatalogScraper{
		browser: b,
		site:    site,
		parser:  pageParser,
		colors:  normalizer,
		pace:    ratelimit.NewJitterPacer(opts.DelayMin, opts.DelayMax),
		opts:    opts,
		logger:  slog.Default().With("component", "scraper", "site", site.Name),
	}, nil
}

// ScrapeCatalog collects the full product list and scrapes each product page.
// A product page that fails to parse is logged and skipped; the run keeps
// going.
func (s *CatalogScraper) ScrapeCatalog(ctx context.Context) ([]*models.ProductRecord, error) {
	links, err := s.collectLinks(ctx)
	if err != nil {
		return nil, err
	}
	if len(links) == 0 {
		return nil, ErrNoProducts
	}
	if s.opts.MaxProducts > 0 && len(links) > s.opts.MaxProducts {
		links = links[:s.opts.MaxProducts]
	}

	s.logger.Info("catalog collected", "products", len(links))

	records := make([]*models.ProductRecord, 0, len(links))
	for i, link := range links {
		if ctx.Err() != nil {
			return records, ctx.Err()
		}
		if i > 0 {
			if err := s.pace.Wait(ctx); err != nil {
				return records, err
			}
		}

		rec, err := s.ScrapeProduct(ctx, link)
		if err != nil {
			s.logger.Warn("product page skipped", "url", link, "error", err)
			continue
		}
		records = append(records, rec)
		s.logger.Info("product scraped", "reference", rec.Reference,
			"images", len(rec.Images), "colors", len(rec.Colors))
	}

	return records, nil
}

func (s *CatalogScraper) collectLinks(ctx context.Context) ([]string, error) {
	page, err := s.browser.NewPage()
	if err != nil {
		return nil, err
	}
	defer page.Close()

	if err := s.browser.NavigateWithRetry(page, s.site.CatalogURL, s.opts.NavRetries); err != nil {
		return nil, fmt.Errorf("catalog navigation failed: %w", err)
	}
	if err := s.browser.WaitForElement(page, s.site.ProductLinks.Selectors[0], 15*time.Second); err != nil {
		s.logger.Warn("product grid never appeared, parsing anyway", "error", err)
	}

	// Scroll until the lazy loader runs dry. The link count is the second
	// stop signal: some grids grow in height without adding cards.
	lastCount := 0
	for i := 0; i < s.opts.MaxScrolls; i++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		more, err := s.browser.ScrollToBottom(page, s.opts.ScrollStep, s.opts.ScrollSettle)
		if err != nil {
			return nil, fmt.Errorf("catalog scroll failed: %w", err)
		}

		links, err := s.linksOnPage(page)
		if err != nil {
			return nil, err
		}
		if !more && len(links) == lastCount {
			break
		}
		lastCount = len(links)
	}

	return s.linksOnPage(page)
}

func (s *CatalogScraper) linksOnPage(page interface{ Content() (string, error) }) ([]string, error) {
	html, err := page.Content()
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog page: %w", err)
	}
	return s.parser.CollectProductLinks(html)
}

// ScrapeProduct loads one product page and builds an upload-ready record with
// the site prefix applied and colors normalized.
func (s *CatalogScraper) ScrapeProduct(ctx context.Context, productURL string) (*models.ProductRecord, error) {
	page, err := s.browser.NewPage()
	if err != nil {
		return nil, err
	}
	defer page.Close()

	if err := s.browser.NavigateWithRetry(page, productURL, s.opts.NavRetries); err != nil {
		return nil, fmt.Errorf("product navigation failed: %w", err)
	}

	html, err := page.Content()
	if err != nil {
		return nil, fmt.Errorf("failed to read product page: %w", err)
	}

	ext, err := s.parser.ParseProductPage(html)
	if err != nil {
		return nil, err
	}

	return s.buildRecord(ctx, ext, productURL), nil
}

func (s *CatalogScraper) buildRecord(ctx context.Context, ext *parser.Extraction, productURL string) *models.ProductRecord {
	rec := models.NewProductRecord(s.site.ReferencePrefix + ext.Reference)
	rec.Name = ext.Name
	rec.Description = ext.Description
	rec.Price = ext.Price
	rec.Images = ext.Images
	rec.Categories = ext.Categories
	rec.ExtraInfo = ext.ExtraInfo
	rec.ProductURL = productURL
	rec.SourceSite = s.site.Name
	rec.Colors = s.colors.Normalize(ctx, ext.Colors)
	return rec
}

// Package catalogue walks the paged mangalib listing and ships the resulting
// preview list to downstream consumers.
package catalogue

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/mangalib-parser/internal/metrics"
	"github.com/JakeFAU/mangalib-parser/internal/policy/ratelimit"
)

const (
	// DefaultListingURL is the paged catalogue endpoint.
	DefaultListingURL = "https://api.lib.social/api/manga"
	// DefaultSiteURL prefixes preview links.
	DefaultSiteURL = "https://mangalib.me"
	// DefaultRequestsPerMinute paces the walk.
	DefaultRequestsPerMinute = 30
)

// Preview is the short catalogue entry exported for downstream services.
type Preview struct {
	Type     string `json:"type"`
	Name     string `json:"name"`
	URL      string `json:"url"`
	Slug     string `json:"slug"`
	ImageURL string `json:"image_url"`
}

type listingPage struct {
	Data []listingEntry `json:"data"`
	Meta struct {
		CurrentPage int  `json:"current_page"`
		HasNextPage bool `json:"has_next_page"`
	} `json:"meta"`
}

type listingEntry struct {
	Name    string  `json:"name"`
	RusName *string `json:"rus_name"`
	EngName *string `json:"eng_name"`
	Slug    string  `json:"slug"`
	SlugURL string  `json:"slug_url"`
	Cover   struct {
		Default string `json:"default"`
	} `json:"cover"`
	Type struct {
		Label string `json:"label"`
	} `json:"type"`
}

// Config controls the listing walk.
type Config struct {
	ListingURL        string
	SiteURL           string
	RequestsPerMinute int
	UserAgent         string
	Timeout           time.Duration
	// MaxPages stops the walk early when positive.
	MaxPages int
}

// Walker pages through the catalogue listing with a colly collector.
type Walker struct {
	cfg       Config
	collector *colly.Collector
	limiter   *ratelimit.Limiter
	logger    *zap.Logger
}

// NewWalker builds a Walker. A non-positive RequestsPerMinute disables pacing.
func NewWalker(cfg Config, logger *zap.Logger) *Walker {
	if cfg.ListingURL == "" {
		cfg.ListingURL = DefaultListingURL
	}
	if cfg.SiteURL == "" {
		cfg.SiteURL = DefaultSiteURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := colly.NewCollector(colly.Async(false))
	c.AllowURLRevisit = true
	c.SetRequestTimeout(cfg.Timeout)
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}

	limit := ratelimit.Config{}
	if cfg.RequestsPerMinute > 0 {
		limit = ratelimit.PerMinute(cfg.RequestsPerMinute)
	}
	return &Walker{
		cfg:       cfg,
		collector: c,
		limiter:   ratelimit.New(limit),
		logger:    logger,
	}
}

// PageURL renders the listing URL for page n.
func (w *Walker) PageURL(n int) (string, error) {
	u, err := url.Parse(w.cfg.ListingURL)
	if err != nil {
		return "", fmt.Errorf("parse listing url: %w", err)
	}
	q := u.Query()
	q.Del("page")
	for _, field := range []string{"rate", "rate_avg", "userBookmark"} {
		q.Add("fields[]", field)
	}
	q.Set("site_id[]", "1")
	q.Set("page", strconv.Itoa(n))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Walk requests pages starting at 1 until a page comes back empty, the
// listing reports no next page, or a request fails. A failed page ends the
// walk and is logged; everything gathered up to that point is returned.
// Only context cancellation surfaces as an error.
func (w *Walker) Walk(ctx context.Context) ([]Preview, error) {
	var previews []Preview
	for n := 1; w.cfg.MaxPages <= 0 || n <= w.cfg.MaxPages; n++ {
		if err := w.limiter.Wait(ctx, w.cfg.ListingURL); err != nil {
			return previews, fmt.Errorf("catalogue walk canceled at page %d: %w", n, err)
		}
		page, err := w.fetchPage(ctx, n)
		if err != nil {
			if ctx.Err() != nil {
				return previews, fmt.Errorf("catalogue walk canceled at page %d: %w", n, ctx.Err())
			}
			metrics.ObserveCataloguePage("error")
			w.logger.Error("catalogue page failed, stopping walk", zap.Int("page", n), zap.Error(err))
			break
		}
		if len(page.Data) == 0 {
			metrics.ObserveCataloguePage("empty")
			break
		}
		metrics.ObserveCataloguePage("success")
		for _, entry := range page.Data {
			previews = append(previews, w.preview(entry))
		}
		w.logger.Info("catalogue page collected", zap.Int("page", n), zap.Int("entries", len(page.Data)))
		if !page.Meta.HasNextPage {
			break
		}
	}
	return previews, nil
}

func (w *Walker) fetchPage(ctx context.Context, n int) (listingPage, error) {
	pageURL, err := w.PageURL(n)
	if err != nil {
		return listingPage{}, err
	}

	var (
		page     listingPage
		parseErr error
	)
	c := w.collector.Clone()
	c.AllowURLRevisit = true
	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "application/json")
	})
	c.OnResponse(func(r *colly.Response) {
		if err := json.Unmarshal(r.Body, &page); err != nil {
			parseErr = fmt.Errorf("decode page %d: %w", n, err)
		}
	})

	done := make(chan error, 1)
	go func() {
		done <- c.Visit(pageURL)
	}()
	select {
	case <-ctx.Done():
		return listingPage{}, ctx.Err()
	case err := <-done:
		if err != nil {
			return listingPage{}, fmt.Errorf("visit page %d: %w", n, err)
		}
	}
	if parseErr != nil {
		return listingPage{}, parseErr
	}
	return page, nil
}

func (w *Walker) preview(entry listingEntry) Preview {
	return Preview{
		Type:     entry.Type.Label,
		Name:     displayName(entry),
		URL:      strings.TrimRight(w.cfg.SiteURL, "/") + "/" + entry.SlugURL,
		Slug:     entry.Slug,
		ImageURL: entry.Cover.Default,
	}
}

// displayName prefers the Russian title, then the English one.
func displayName(entry listingEntry) string {
	if entry.RusName != nil && *entry.RusName != "" {
		return *entry.RusName
	}
	if entry.EngName != nil && *entry.EngName != "" {
		return *entry.EngName
	}
	return entry.Name
}

// Package mangalib resolves chapter lists and chapter page images from the
// mangalib API through headless Chrome.
package mangalib

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/mangalib-parser/internal/manga"
)

// Upstream defaults.
const (
	DefaultBaseURL           = "https://api.mangalib.me"
	DefaultImageServerPrefix = "https://img33.imgslib.link"
)

// JSONReader fetches the body of a JSON endpoint as text.
type JSONReader interface {
	ReadJSON(ctx context.Context, url string) (string, error)
}

// Config points the Source at the upstream.
type Config struct {
	BaseURL           string
	ImageServerPrefix string
}

// Source implements manga.ChapterSource.
type Source struct {
	reader JSONReader
	cfg    Config
	logger *zap.Logger
}

var _ manga.ChapterSource = (*Source)(nil)

// New constructs a Source. Empty config fields fall back to the defaults.
func New(reader JSONReader, cfg Config, logger *zap.Logger) *Source {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.ImageServerPrefix == "" {
		cfg.ImageServerPrefix = DefaultImageServerPrefix
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Source{reader: reader, cfg: cfg, logger: logger}
}

// Chapters returns every chapter of slug in the upstream's order.
func (s *Source) Chapters(ctx context.Context, slug string) ([]manga.Chapter, error) {
	target := ChaptersURL(s.cfg.BaseURL, slug)
	s.logger.Debug("searching manga chapters", zap.String("slug", slug), zap.String("url", target))

	text, err := s.reader.ReadJSON(ctx, target)
	if err != nil {
		return nil, err
	}
	chapters, err := decodeChapters(text)
	if err != nil {
		return nil, fmt.Errorf("chapters of %s: %w", slug, err)
	}
	s.logger.Debug("found chapters", zap.String("slug", slug), zap.Int("count", len(chapters)))
	return chapters, nil
}

// ChapterImages returns absolute image URLs for one chapter. index and total
// only feed progress logging.
func (s *Source) ChapterImages(
	ctx context.Context,
	slug string,
	chapter manga.Chapter,
	index, total int,
) ([]string, error) {
	target := ChapterURL(s.cfg.BaseURL, slug, chapter)
	s.logger.Debug(fmt.Sprintf("[%d/%d] searching manga chapter urls", index, total),
		zap.String("slug", slug),
		zap.String("url", target),
	)

	text, err := s.reader.ReadJSON(ctx, target)
	if err != nil {
		return nil, err
	}
	pages, err := decodePages(text)
	if err != nil {
		return nil, fmt.Errorf("pages of %s %s: %w", slug, chapter, err)
	}
	images := make([]string, 0, len(pages))
	for _, p := range pages {
		images = append(images, s.cfg.ImageServerPrefix+p)
	}
	return images, nil
}

// ChaptersURL builds the chapter list endpoint for slug.
func ChaptersURL(base, slug string) string {
	return fmt.Sprintf("%s/api/manga/%s/chapters", strings.TrimRight(base, "/"), url.PathEscape(slug))
}

// ChapterURL builds the single-chapter endpoint.
func ChapterURL(base, slug string, chapter manga.Chapter) string {
	q := url.Values{}
	q.Set("number", chapter.Number)
	q.Set("volume", chapter.Volume)
	return fmt.Sprintf("%s/api/manga/%s/chapter?%s", strings.TrimRight(base, "/"), url.PathEscape(slug), q.Encode())
}

var errMissingData = errors.New("response has no data")

// Pointers tell a missing "data" apart from an empty one; upstream error
// bodies carry no "data" at all.
type chapterList struct {
	Data *[]struct {
		Volume manga.FlexString `json:"volume"`
		Number manga.FlexString `json:"number"`
	} `json:"data"`
}

type chapterPages struct {
	Data *struct {
		Pages *[]struct {
			URL string `json:"url"`
		} `json:"pages"`
	} `json:"data"`
}

func decodeChapters(text string) ([]manga.Chapter, error) {
	var list chapterList
	if err := json.Unmarshal([]byte(text), &list); err != nil {
		return nil, fmt.Errorf("decode chapter list: %w", err)
	}
	if list.Data == nil {
		return nil, fmt.Errorf("decode chapter list: %w", errMissingData)
	}
	chapters := make([]manga.Chapter, 0, len(*list.Data))
	for _, c := range *list.Data {
		chapters = append(chapters, manga.Chapter{Volume: string(c.Volume), Number: string(c.Number)})
	}
	return chapters, nil
}

func decodePages(text string) ([]string, error) {
	var pages chapterPages
	if err := json.Unmarshal([]byte(text), &pages); err != nil {
		return nil, fmt.Errorf("decode chapter pages: %w", err)
	}
	if pages.Data == nil || pages.Data.Pages == nil {
		return nil, fmt.Errorf("decode chapter pages: %w", errMissingData)
	}
	out := make([]string, 0, len(*pages.Data.Pages))
	for _, p := range *pages.Data.Pages {
		out = append(out, p.URL)
	}
	return out, nil
}

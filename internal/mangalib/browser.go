package mangalib

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

const (
	defaultNavTimeout = 45 * time.Second
	jsonSelector      = "body > pre"
)

// BrowserConfig controls how headless Chrome presents itself.
type BrowserConfig struct {
	UserAgent         string
	AcceptLanguage    string
	Platform          string
	NavigationTimeout time.Duration
	NoSandbox         bool
}

// Browser reads JSON documents the way a desktop browser would, which gets
// past the upstream's bot protection where a plain HTTP client does not.
type Browser struct {
	cfg         BrowserConfig
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewBrowser prepares a Chrome allocator. No process starts until the first read.
func NewBrowser(cfg BrowserConfig) *Browser {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavTimeout
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	return &Browser{
		cfg:         cfg,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}
}

// Close shuts down every browser started by this allocator.
func (b *Browser) Close() {
	b.allocCancel()
}

// ReadJSON navigates to url and returns the raw text Chrome renders for a
// JSON response.
func (b *Browser) ReadJSON(ctx context.Context, url string) (string, error) {
	taskCtx, taskCancel := chromedp.NewContext(b.allocator)
	defer taskCancel()
	stop := context.AfterFunc(ctx, taskCancel)
	defer stop()

	taskCtx, cancel := context.WithTimeout(taskCtx, b.navTimeout())
	defer cancel()

	meta := &documentStatus{}
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	var text string
	err := chromedp.Run(taskCtx,
		b.networkSetupAction(),
		chromedp.Navigate(url),
		chromedp.WaitReady(jsonSelector, chromedp.ByQuery),
		chromedp.Text(jsonSelector, &text, chromedp.ByQuery),
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("read %s: %w", url, ctxErr)
		}
		return "", fmt.Errorf("read %s: %w", url, err)
	}
	if status := meta.get(); status >= 400 {
		return "", fmt.Errorf("read %s: upstream status %d", url, status)
	}
	return strings.TrimSpace(text), nil
}

func (b *Browser) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if b.cfg.UserAgent == "" {
			return nil
		}
		override := emulation.SetUserAgentOverride(b.cfg.UserAgent)
		if b.cfg.AcceptLanguage != "" {
			override = override.WithAcceptLanguage(b.cfg.AcceptLanguage)
		}
		if b.cfg.Platform != "" {
			override = override.WithPlatform(b.cfg.Platform)
		}
		if err := override.Do(ctx); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
		return nil
	})
}

func (b *Browser) navTimeout() time.Duration {
	if b.cfg.NavigationTimeout > 0 {
		return b.cfg.NavigationTimeout
	}
	return defaultNavTimeout
}

// documentStatus remembers the HTTP status of the top-level document.
type documentStatus struct {
	mu     sync.Mutex
	status int
}

func (d *documentStatus) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	d.mu.Lock()
	d.status = int(resp.Response.Status)
	d.mu.Unlock()
}

func (d *documentStatus) get() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

// Package headless implements the page fetcher on top of chromedp and
// headless Chrome.
package headless

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/seda-audio/artist-verifier/internal/verify"
)

// Config controls the behavior of the headless fetcher.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	SettleDelay       time.Duration
}

// Fetcher implements verify.Fetcher using chromedp. Script execution is
// disabled and non-essential resource types are blocked before navigation.
// Each Fetch owns a fresh browser tab context that is released on every
// exit path.
type Fetcher struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// New creates a headless fetcher backed by chromedp.
func New(cfg Config) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 30 * time.Second
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = 500 * time.Millisecond
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Fetcher{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close cancels the allocator context, tearing down the browser process.
func (f *Fetcher) Close() {
	f.allocCancel()
}

// Fetch navigates to the URL with scripting disabled and returns both the
// document markup and the rendered body text.
func (f *Fetcher) Fetch(ctx context.Context, url string) (verify.Page, error) {
	if err := f.acquire(ctx); err != nil {
		return verify.Page{}, err
	}
	defer f.release()

	taskCtx, taskCancel := chromedp.NewContext(f.allocator)
	defer taskCancel()

	taskCtx, cancel := context.WithTimeout(taskCtx, f.cfg.NavigationTimeout)
	defer cancel()

	interceptResources(taskCtx)

	start := time.Now()
	var (
		html string
		text string
	)
	actions := []chromedp.Action{
		f.setupAction(),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(f.cfg.SettleDelay),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		chromedp.Text("body", &text, chromedp.ByQuery),
	}
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		return verify.Page{}, fmt.Errorf("headless fetch %s: %w", url, err)
	}

	return verify.Page{
		URL:          url,
		HTML:         html,
		Text:         text,
		FetchedAt:    start,
		Duration:     time.Since(start),
		UsedHeadless: true,
	}, nil
}

// setupAction disables script execution, applies the User-Agent, and turns
// on request interception for resource blocking.
func (f *Fetcher) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if err := emulation.SetScriptExecutionDisabled(true).Do(ctx); err != nil {
			return fmt.Errorf("disable script execution: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if err := fetch.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable fetch domain: %w", err)
		}
		return nil
	})
}

// interceptResources fails requests for images, fonts, stylesheets, and
// media. Blocking is a performance measure only; the match semantics do
// not depend on it.
func interceptResources(taskCtx context.Context) {
	chromedp.ListenTarget(taskCtx, func(ev any) {
		paused, ok := ev.(*fetch.EventRequestPaused)
		if !ok {
			return
		}
		go func() {
			c := chromedp.FromContext(taskCtx)
			ectx := cdp.WithExecutor(taskCtx, c.Target)
			if blockedResourceType(paused.ResourceType) {
				_ = fetch.FailRequest(paused.RequestID, network.ErrorReasonBlockedByClient).Do(ectx)
				return
			}
			_ = fetch.ContinueRequest(paused.RequestID).Do(ectx)
		}()
	})
}

func blockedResourceType(t network.ResourceType) bool {
	switch t {
	case network.ResourceTypeImage,
		network.ResourceTypeFont,
		network.ResourceTypeStylesheet,
		network.ResourceTypeMedia:
		return true
	default:
		return false
	}
}

func (f *Fetcher) acquire(ctx context.Context) error {
	if f.limiter == nil {
		return nil
	}
	select {
	case f.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (f *Fetcher) release() {
	if f.limiter == nil {
		return
	}
	select {
	case <-f.limiter:
	default:
	}
}

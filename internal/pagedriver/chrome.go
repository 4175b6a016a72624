package pagedriver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	applogger "github.com/stoskr/skinarb/pkg/logger"
)

// ChromeDriver is a Driver backed by chromedp, the only headless-browser
// automation library present in the reference corpus for this domain.
type ChromeDriver struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
	viewport    [2]int
	logger      *applogger.Logger
}

// ChromeConfig configures the underlying Chrome allocator.
type ChromeConfig struct {
	Headless    bool
	UserAgent   string
	Viewport    [2]int // width, height
	UserDataDir string // empty = ephemeral profile
}

// NewChromeDriver launches (lazily, on first Open) a Chrome instance per cfg.
func NewChromeDriver(ctx context.Context, cfg ChromeConfig, logger *applogger.Logger) *ChromeDriver {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if cfg.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(cfg.UserDataDir))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	viewport := cfg.Viewport
	if viewport == ([2]int{}) {
		viewport = [2]int{1920, 1080}
	}
	return &ChromeDriver{allocCtx: allocCtx, allocCancel: allocCancel, viewport: viewport, logger: logger}
}

// Open creates a new tab with the stealth init script already injected and
// the configured desktop viewport applied.
func (d *ChromeDriver) Open(ctx context.Context) (Page, error) {
	tabCtx, tabCancel := chromedp.NewContext(d.allocCtx)

	if err := chromedp.Run(tabCtx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := chromedp.AddScriptToEvaluateOnNewDocument(hideWebdriverScript).Do(ctx)
			return err
		}),
		chromedp.EmulateViewport(int64(d.viewport[0]), int64(d.viewport[1])),
	); err != nil {
		tabCancel()
		return nil, fmt.Errorf("pagedriver: open tab: %w", err)
	}

	return &ChromePage{ctx: tabCtx, cancel: tabCancel, logger: d.logger}, nil
}

// Close stops the browser process and releases the allocator.
func (d *ChromeDriver) Close(_ context.Context) error {
	d.allocCancel()
	return nil
}

const hideWebdriverScript = `Object.defineProperty(navigator, 'webdriver', { get: () => undefined });`

// ChromePage is a Page backed by one chromedp tab context.
type ChromePage struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *applogger.Logger
}

func (p *ChromePage) Goto(ctx context.Context, url string, wait WaitCondition, timeout time.Duration) (GotoOutcome, error) {
	navCtx, cancel := context.WithTimeout(p.ctx, timeout)
	defer cancel()

	action := chromedp.Navigate(url)
	var waitAction chromedp.Action
	switch wait {
	case NetworkIdle:
		waitAction = chromedp.ActionFunc(func(ctx context.Context) error {
			return nil // NetworkIdle approximated via caller-side settle sleep.
		})
	case Load:
		waitAction = chromedp.WaitReady("body", chromedp.ByQuery)
	default: // DOMReady
		waitAction = chromedp.WaitVisible("body", chromedp.ByQuery)
	}

	err := chromedp.Run(navCtx, action, waitAction)
	if err == nil {
		return OK, nil
	}
	if errors.Is(navCtx.Err(), context.DeadlineExceeded) {
		return Timeout, err
	}
	if isAbortedNavError(err) {
		return Aborted, err
	}
	return Aborted, err
}

func isAbortedNavError(err error) bool {
	return err != nil && strings.Contains(strings.ToUpper(err.Error()), "ABORTED")
}

func (p *ChromePage) QueryText(ctx context.Context, selector string) (string, bool, error) {
	var text string
	var nodes []*cdp.Node
	err := chromedp.Run(p.ctx, chromedp.Nodes(selector, &nodes, chromedp.ByQuery, chromedp.AtLeast(0)))
	if err != nil {
		return "", false, fmt.Errorf("pagedriver: query nodes %q: %w", selector, err)
	}
	if len(nodes) == 0 {
		return "", false, nil
	}
	if err := chromedp.Run(p.ctx, chromedp.Text(selector, &text, chromedp.ByQuery)); err != nil {
		return "", false, fmt.Errorf("pagedriver: query text %q: %w", selector, err)
	}
	return strings.TrimSpace(text), true, nil
}

func (p *ChromePage) QueryAll(ctx context.Context, selector string) ([]string, error) {
	var texts []string
	if err := chromedp.Run(p.ctx, chromedp.EvaluateAsDevTools(
		fmt.Sprintf(`Array.from(document.querySelectorAll(%q)).map(e => e.textContent.trim())`, selector),
		&texts,
	)); err != nil {
		return nil, fmt.Errorf("pagedriver: query all %q: %w", selector, err)
	}
	return texts, nil
}

func (p *ChromePage) Attr(ctx context.Context, selector, name string) (string, bool, error) {
	var value string
	var ok bool
	err := chromedp.Run(p.ctx, chromedp.AttributeValue(selector, name, &value, &ok, chromedp.ByQuery))
	if err != nil {
		return "", false, fmt.Errorf("pagedriver: attr %q on %q: %w", name, selector, err)
	}
	return value, ok, nil
}

// SetCookies restores a session snapshot's cookies onto this tab via the
// CDP Network domain, the BrowserSession (C9) "snapshot-state mode"
// restore step. A cookie with no domain is rejected by Chrome, so
// those are skipped with a warning rather than failing the whole batch.
func (p *ChromePage) SetCookies(ctx context.Context, cookies []Cookie) error {
	if len(cookies) == 0 {
		return nil
	}
	return chromedp.Run(p.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		for _, c := range cookies {
			if c.Domain == "" {
				if p.logger != nil {
					p.logger.Warn("cookie_missing_domain_skipped", "name", c.Name)
				}
				continue
			}
			params := network.SetCookie(c.Name, c.Value).
				WithDomain(c.Domain).
				WithPath(c.Path).
				WithHTTPOnly(c.HTTPOnly).
				WithSecure(c.Secure)
			if c.Expires > 0 {
				params = params.WithExpires(cdp.TimeSinceEpoch(c.Expires))
			}
			if _, err := params.Do(ctx); err != nil {
				return fmt.Errorf("pagedriver: set cookie %q: %w", c.Name, err)
			}
		}
		return nil
	}))
}

// Click clicks the first element matching selector.
func (p *ChromePage) Click(ctx context.Context, selector string) error {
	if err := chromedp.Run(p.ctx, chromedp.Click(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("pagedriver: click %q: %w", selector, err)
	}
	return nil
}

// Fill clears and types value into the first element matching selector.
func (p *ChromePage) Fill(ctx context.Context, selector, value string) error {
	if err := chromedp.Run(p.ctx,
		chromedp.SetValue(selector, "", chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("pagedriver: fill %q: %w", selector, err)
	}
	return nil
}

func (p *ChromePage) Sleep(ctx context.Context, d time.Duration) {
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}

func (p *ChromePage) Screenshot(ctx context.Context, path string) error {
	var buf []byte
	if err := chromedp.Run(p.ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return fmt.Errorf("pagedriver: screenshot: %w", err)
	}
	return os.WriteFile(path, buf, 0o644)
}

// Content returns the document's current outer HTML.
func (p *ChromePage) Content(ctx context.Context) (string, error) {
	var html string
	if err := chromedp.Run(p.ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("pagedriver: content: %w", err)
	}
	return html, nil
}

func (p *ChromePage) Close(_ context.Context) error {
	p.cancel()
	return nil
}

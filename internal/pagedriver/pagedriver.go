// Package pagedriver defines the narrow capability surface the scraping
// core needs from a headless browser, and a chromedp-backed implementation
// of it. The core (internal/marketextractor, internal/indexextractor,
// internal/itemprocessor, internal/filterconfigurator) depends only on the
// Driver and Page interfaces below, never on chromedp directly.
package pagedriver

import (
	"context"
	"time"
)

// WaitCondition selects what Goto waits for before returning.
type WaitCondition int

const (
	DOMReady WaitCondition = iota
	NetworkIdle
	Load
)

// GotoOutcome is the tri-state result of a navigation attempt.
type GotoOutcome int

const (
	OK GotoOutcome = iota
	Timeout
	Aborted
)

// Cookie is the opaque per-cookie shape a session snapshot restores onto a
// freshly opened Page. Field names mirror the Playwright-style storage-state
// cookie format the snapshot files already use.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"` // seconds since epoch, 0 = session cookie
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
}

// Page is a single browser tab. Operations on one Page are not safe to call
// concurrently with each other; operations on two different Pages (even
// from the same Driver) are safe to call concurrently — the pipeline (C7)
// relies on this.
type Page interface {
	Goto(ctx context.Context, url string, wait WaitCondition, timeout time.Duration) (GotoOutcome, error)
	QueryText(ctx context.Context, selector string) (string, bool, error)
	QueryAll(ctx context.Context, selector string) ([]string, error)
	Attr(ctx context.Context, selector, name string) (string, bool, error)
	SetCookies(ctx context.Context, cookies []Cookie) error
	// Click and Fill are the two UI-driving primitives FilterConfigurator
	// (C10) needs. The chromedp implementation waits for the element to
	// appear, so callers check with QueryAll/Attr before calling where they
	// can, matching C10's own check-then-act, best-effort-per-step policy.
	Click(ctx context.Context, selector string) error
	Fill(ctx context.Context, selector, value string) error
	Sleep(ctx context.Context, d time.Duration)
	Screenshot(ctx context.Context, path string) error
	// Content returns the page's current full HTML, for debug-artifact
	// capture on extraction failure.
	Content(ctx context.Context) (string, error)
	Close(ctx context.Context) error
}

// Driver opens Pages. It is shared read-only across worker goroutines after
// startup; opening a new Page is the only mutating operation and is safe to
// call from any goroutine.
type Driver interface {
	Open(ctx context.Context) (Page, error)
	Close(ctx context.Context) error
}

// Compile-time interface compliance check for the chromedp adapter.
var (
	_ Driver = (*ChromeDriver)(nil)
	_ Page   = (*ChromePage)(nil)
)

// Package fake provides an in-memory pagedriver.Driver/Page implementation
// for tests, in the same spirit as other in-process mock services and
// pgxmock fakes: no network, no browser, fully scripted.
package fake

import (
	"context"
	"time"

	"github.com/stoskr/skinarb/internal/pagedriver"
)

// Driver is a scriptable pagedriver.Driver. OpenFunc, if set, is called for
// every Open; otherwise a fresh Page with no script is returned.
type Driver struct {
	OpenFunc func(ctx context.Context) (pagedriver.Page, error)
	Closed   bool
}

func (d *Driver) Open(ctx context.Context) (pagedriver.Page, error) {
	if d.OpenFunc != nil {
		return d.OpenFunc(ctx)
	}
	return NewPage(), nil
}

func (d *Driver) Close(ctx context.Context) error {
	d.Closed = true
	return nil
}

// GotoScript lets a test queue successive outcomes for successive Goto calls
// to the same page, used to exercise the navigation-retry behavior.
type GotoScript []pagedriver.GotoOutcome

// Page is a scriptable pagedriver.Page.
type Page struct {
	// Text maps a selector to its QueryText result. Absent keys report "absent".
	Text map[string]string
	// All maps a selector to its QueryAll result.
	All map[string]([]string)
	// Attrs maps "selector|name" to its Attr result.
	Attrs map[string]string

	// Cookies records every cookie SetCookies has been asked to restore.
	Cookies []pagedriver.Cookie

	// Clicks records every Click, in order; Fills keeps the last value
	// filled per selector. Both are for test assertions.
	Clicks []string
	Fills  map[string]string

	// ClickErr/FillErr, if set, make Click/Fill on that selector fail —
	// used to exercise a step's best-effort error handling.
	ClickErr map[string]error
	FillErr  map[string]error

	gotoScript GotoScript
	gotoCalls  int

	Closed  bool
	Screens []string

	// HTML is returned by Content. ContentErr, if set, makes Content fail.
	HTML       string
	ContentErr error
}

func NewPage() *Page {
	return &Page{
		Text:  map[string]string{},
		All:   map[string][]string{},
		Attrs: map[string]string{},
		Fills: map[string]string{},
	}
}

// WithGotoScript installs a fixed sequence of outcomes; the Nth call to
// Goto returns script[N-1], and any call beyond the script length repeats
// the last entry.
func (p *Page) WithGotoScript(script GotoScript) *Page {
	p.gotoScript = script
	return p
}

func (p *Page) Goto(ctx context.Context, url string, wait pagedriver.WaitCondition, timeout time.Duration) (pagedriver.GotoOutcome, error) {
	p.gotoCalls++
	if len(p.gotoScript) == 0 {
		return pagedriver.OK, nil
	}
	idx := p.gotoCalls - 1
	if idx >= len(p.gotoScript) {
		idx = len(p.gotoScript) - 1
	}
	outcome := p.gotoScript[idx]
	if outcome == pagedriver.OK {
		return pagedriver.OK, nil
	}
	return outcome, errScripted
}

func (p *Page) GotoCalls() int { return p.gotoCalls }

var errScripted = scriptedError{}

type scriptedError struct{}

func (scriptedError) Error() string { return "fake: scripted navigation failure" }

func (p *Page) QueryText(ctx context.Context, selector string) (string, bool, error) {
	v, ok := p.Text[selector]
	return v, ok, nil
}

func (p *Page) QueryAll(ctx context.Context, selector string) ([]string, error) {
	return p.All[selector], nil
}

func (p *Page) Attr(ctx context.Context, selector, name string) (string, bool, error) {
	v, ok := p.Attrs[selector+"|"+name]
	return v, ok, nil
}

func (p *Page) SetCookies(ctx context.Context, cookies []pagedriver.Cookie) error {
	p.Cookies = append(p.Cookies, cookies...)
	return nil
}

func (p *Page) Click(ctx context.Context, selector string) error {
	p.Clicks = append(p.Clicks, selector)
	if err, ok := p.ClickErr[selector]; ok {
		return err
	}
	return nil
}

func (p *Page) Fill(ctx context.Context, selector, value string) error {
	if p.Fills == nil {
		p.Fills = map[string]string{}
	}
	p.Fills[selector] = value
	if err, ok := p.FillErr[selector]; ok {
		return err
	}
	return nil
}

func (p *Page) Sleep(ctx context.Context, d time.Duration) {}

func (p *Page) Screenshot(ctx context.Context, path string) error {
	p.Screens = append(p.Screens, path)
	return nil
}

func (p *Page) Content(ctx context.Context) (string, error) {
	if p.ContentErr != nil {
		return "", p.ContentErr
	}
	return p.HTML, nil
}

func (p *Page) Close(ctx context.Context) error {
	p.Closed = true
	return nil
}

// Package indexextractor implements C4: reading the ranked candidate table
// off the index site after C10 has applied filters and triggered the
// search, and turning surviving rows into model.Candidate values.
package indexextractor

import (
	"context"
	"regexp"
	"strings"

	"github.com/stoskr/skinarb/internal/model"
	"github.com/stoskr/skinarb/internal/pagedriver"
	"github.com/stoskr/skinarb/pkg/logger"
)

// Selectors bundles the table-row selector and its generic fallback.
type Selectors struct {
	RowSelector         string
	RowSelectorFallback string
	NameLinkSelector    string // <a> within a row's name cell
	CheapLinkSelector   string // <a href*="..."> within a row's cheap-market cell
	SteamLinkSelector   string // <a href*="..."> within a row's steam-market cell
}

// DefaultSelectors are the steamdt.com-style production selectors.
var DefaultSelectors = Selectors{
	RowSelector:         ".el-table__body .el-table__row",
	RowSelectorFallback: "table tbody tr",
	NameLinkSelector:    "a",
	CheapLinkSelector:   `a[href*="buff.163.com"]`,
	SteamLinkSelector:   `a[href*="steamcommunity.com/market/listings"]`,
}

var qualitySuffix = regexp.MustCompile(`\(([^)]+)\)$`)

// Extractor reads the index table into an ordered Candidate list.
type Extractor struct {
	Selectors Selectors
	Log       *logger.Logger
}

func New(sel Selectors, log *logger.Logger) *Extractor {
	if log == nil {
		log = logger.NewNoop()
	}
	return &Extractor{Selectors: sel, Log: log}
}

// Extract reads up to limit rows from page's result table, in table order,
// dropping rows that fail the cell-count check or the hard exclusion set.
// A limit of 0 means no limit.
func (e *Extractor) Extract(ctx context.Context, page pagedriver.Page, limit int) []model.Candidate {
	names, ok := e.readRows(ctx, page)
	if !ok {
		e.Log.Warn("index_no_rows_found")
		return nil
	}

	if limit > 0 && len(names) > limit {
		names = names[:limit]
	}

	candidates := make([]model.Candidate, 0, len(names))
	for _, row := range names {
		c, ok := parseRow(row)
		if !ok {
			continue
		}
		candidates = append(candidates, c)
	}
	return candidates
}

// readRows returns one rowData per row, pairing by position the results of
// four QueryAll calls scoped to whichever row selector matched: the name
// link, the name link with an href, the cheap-market link, and the
// steam-market link.
func (e *Extractor) readRows(ctx context.Context, page pagedriver.Page) ([]rowData, bool) {
	rowSel := e.Selectors.RowSelector
	rows, err := page.QueryAll(ctx, rowSel)
	if err != nil || len(rows) == 0 {
		if e.Selectors.RowSelectorFallback == "" {
			return nil, false
		}
		rowSel = e.Selectors.RowSelectorFallback
		rows, err = page.QueryAll(ctx, rowSel)
		if err != nil || len(rows) == 0 {
			return nil, false
		}
	}

	names, _ := page.QueryAll(ctx, rowSel+" "+e.Selectors.NameLinkSelector)
	urls, _ := page.QueryAll(ctx, rowSel+" "+e.Selectors.NameLinkSelector+"[href]")
	cheapURLs, _ := page.QueryAll(ctx, rowSel+" "+e.Selectors.CheapLinkSelector)
	steamURLs, _ := page.QueryAll(ctx, rowSel+" "+e.Selectors.SteamLinkSelector)

	n := len(rows)
	if len(names) < n {
		n = len(names)
	}
	out := make([]rowData, 0, n)
	for i := 0; i < n; i++ {
		rd := rowData{name: names[i]}
		if i < len(urls) {
			rd.indexURL = urls[i]
		}
		if i < len(cheapURLs) {
			rd.cheapURL = cheapURLs[i]
		}
		if i < len(steamURLs) {
			rd.steamURL = steamURLs[i]
		}
		out = append(out, rd)
	}
	return out, true
}

type rowData struct {
	name     string
	indexURL string
	cheapURL string
	steamURL string
}

// parseRow turns one row's raw text into a Candidate, applying the
// quality-suffix split, StatTrak detection, and the hard exclusion set:
// names starting with "Sticker", containing "Music Kit", or missing a "|"
// are dropped.
//
// A row missing both platform links carries fewer than the minimum 6
// columns the reference table always has past the name cell, and is
// treated as the "skip rows with fewer than 6 cells" rule — the Page
// interface reads columns by CSS selector rather than by raw cell count,
// so this is the faithful proxy for that check.
func parseRow(row rowData) (model.Candidate, bool) {
	name := strings.TrimSpace(row.name)
	if name == "" {
		return model.Candidate{}, false
	}
	if row.cheapURL == "" && row.steamURL == "" {
		return model.Candidate{}, false
	}

	quality := ""
	if m := qualitySuffix.FindStringSubmatch(name); m != nil {
		quality = m[1]
		name = strings.TrimSpace(qualitySuffix.ReplaceAllString(name, ""))
	}

	if isExcluded(name) {
		return model.Candidate{}, false
	}

	statTrak := strings.Contains(name, "StatTrak™") || strings.Contains(strings.ToLower(name), "stattrak")

	return model.Candidate{
		ItemName:       name,
		Quality:        quality,
		StatTrak:       statTrak,
		IndexURL:       row.indexURL,
		CheapMarketURL: row.cheapURL,
		SteamMarketURL: row.steamURL,
	}, true
}

// isExcluded applies the hard exclusion set: stickers, music kits, and
// anything without a "|" separator (cases, keys, pins, patches) never
// become Candidates.
func isExcluded(name string) bool {
	lower := strings.ToLower(name)
	if strings.HasPrefix(lower, "sticker") {
		return true
	}
	if strings.Contains(lower, "music kit") {
		return true
	}
	if !strings.Contains(name, "|") {
		return true
	}
	return false
}

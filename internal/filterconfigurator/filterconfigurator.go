// Package filterconfigurator implements C10: driving the index page's UI to
// apply the user's currency/price/volume/platform filters before C4 reads
// the result table, grounded on original_source's
// app/services/filters/filter_manager.py (FilterManager.configure_all_filters).
package filterconfigurator

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/stoskr/skinarb/internal/pagedriver"
	"github.com/stoskr/skinarb/pkg/logger"
)

// Filters is the user-supplied filter set (currency/balance_type/
// price_mode/filters/platforms config keys).
type Filters struct {
	Currency    string // currency.code: CNY|USD|RUB|EUR
	SellMode    string // price_mode.sell_mode, e.g. "Lowest Price"
	BuyMode     string // optional; empty skips the buy-mode tab step
	BalanceType string // balance_type.type, e.g. "BUFF-STEAM"

	MinPrice  *float64 // filters.min_price
	MaxPrice  *float64 // filters.max_price, optional
	MinVolume *int     // filters.min_volume

	// Platforms maps platforms.{cheap,steam,alt1,alt2} to the desired
	// checked state of that platform's checkbox.
	Platforms map[string]bool
}

// Selectors is the fixed selector table for the index site's filter UI.
// PlatformLabels maps a Filters.Platforms key to the visible label text
// filter_manager.py matches each checkbox by.
type Selectors struct {
	ModalCloseButtons []string
	CurrencyDropdown  []string
	CurrencyOptionRow string

	SellModeTabRow    string
	BuyModeTabRow     string
	BalanceTypeTabRow string

	FilterInputs string // price/volume inputs, excluding the search box

	PlatformSettingsToggle string
	PlatformCheckboxRow    string
	PlatformLabels         map[string]string

	ConfirmSearchButton string
	ResultsArea         string
}

// DefaultSelectors mirrors filter_manager.py's selector literals.
func DefaultSelectors() Selectors {
	return Selectors{
		ModalCloseButtons: []string{
			`button:has-text("我已知晓")`,
			`button:has-text("I understand")`,
			".el-dialog__close",
			`button.el-button:has-text("OK")`,
		},
		CurrencyDropdown:  []string{".el-dropdown-link", "[class*='currency']", "[class*='dropdown']"},
		CurrencyOptionRow: "li",

		SellModeTabRow:    ".tabs-item",
		BuyModeTabRow:     ".tabs-item",
		BalanceTypeTabRow: ".tabs-item",

		FilterInputs: ".el-input__inner:not(#searchInput)",

		PlatformSettingsToggle: `.text-blue:has-text("Platform Settings")`,
		PlatformCheckboxRow:    ".el-checkbox",
		PlatformLabels: map[string]string{
			"cheap": "BUFF",
			"steam": "STEAM",
			"alt1":  "C5GAME",
			"alt2":  "UU",
		},

		ConfirmSearchButton: `.bg-[#0252D9]:has-text("Confirm and Search")`,
		ResultsArea:         "table tbody tr",
	}
}

// Configurator drives one index page through configure_all_filters' eight
// steps. Every step is best-effort: a failure logs a warning and the next
// step still runs.
type Configurator struct {
	Selectors Selectors
	Log       *logger.Logger
}

func New(selectors Selectors, log *logger.Logger) *Configurator {
	if log == nil {
		log = logger.NewNoop()
	}
	return &Configurator{Selectors: selectors, Log: log}
}

// Bound adapts a Configurator plus a fixed Filters set to the pipeline's
// FilterConfigurator capability (Configure(ctx, page) error): every step
// here is already best-effort internally, so Bound.Configure always
// returns nil — the error return exists only to satisfy that interface.
type Bound struct {
	Configurator *Configurator
	Filters      Filters
}

func (b Bound) Configure(ctx context.Context, page pagedriver.Page) error {
	b.Configurator.Configure(ctx, page, b.Filters)
	return nil
}

// Configure runs the full sequence against page. It never returns an error:
// every step swallows its own failure, matching the source's try/except-log
// pattern step by step.
func (c *Configurator) Configure(ctx context.Context, page pagedriver.Page, filters Filters) {
	c.Log.Info("configuring_search_filters")

	c.closeModal(ctx, page)
	c.configureCurrency(ctx, page, filters.Currency)
	c.configureTab(ctx, page, c.Selectors.SellModeTabRow, filters.SellMode, "sell_mode")
	if filters.BuyMode != "" {
		c.configureTab(ctx, page, c.Selectors.BuyModeTabRow, filters.BuyMode, "buy_mode")
	}
	c.configureTab(ctx, page, c.Selectors.BalanceTypeTabRow, filters.BalanceType, "balance_type")
	c.configurePriceVolumeFilters(ctx, page, filters)
	c.configurePlatforms(ctx, page, filters.Platforms)
	c.executeSearch(ctx, page)

	c.Log.Info("filter_configuration_completed")
}

func (c *Configurator) closeModal(ctx context.Context, page pagedriver.Page) {
	for _, selector := range c.Selectors.ModalCloseButtons {
		rows, err := page.QueryAll(ctx, selector)
		if err != nil || len(rows) == 0 {
			continue
		}
		if err := page.Click(ctx, selector); err != nil {
			c.Log.Warn("modal_close_failed", "selector", selector, "error", err)
			return
		}
		page.Sleep(ctx, 500*time.Millisecond)
		c.Log.Info("modal_closed", "selector", selector)
		return
	}
	c.Log.Info("no_modal_found")
}

func (c *Configurator) configureCurrency(ctx context.Context, page pagedriver.Page, currencyCode string) {
	if currencyCode == "" {
		return
	}
	page.Sleep(ctx, 500*time.Millisecond)

	dropdown := ""
	for _, selector := range c.Selectors.CurrencyDropdown {
		rows, err := page.QueryAll(ctx, selector)
		if err == nil && len(rows) > 0 {
			dropdown = selector
			break
		}
	}
	if dropdown == "" {
		c.Log.Warn("currency_dropdown_not_found")
		return
	}
	if err := page.Click(ctx, dropdown); err != nil {
		c.Log.Warn("currency_dropdown_click_failed", "error", err)
		return
	}
	page.Sleep(ctx, 300*time.Millisecond)

	idx, err := findRowIndex(ctx, page, c.Selectors.CurrencyOptionRow, currencyCode)
	if err != nil || idx < 0 {
		c.Log.Warn("currency_option_not_found", "currency", currencyCode)
		return
	}
	if err := page.Click(ctx, nthOfType(c.Selectors.CurrencyOptionRow, idx)); err != nil {
		c.Log.Warn("currency_option_click_failed", "currency", currencyCode, "error", err)
		return
	}
	page.Sleep(ctx, time.Second) // price reload
	c.Log.Info("currency_configured", "currency", currencyCode)
}

// configureTab handles the sell-mode/buy-mode/balance-type steps, which all
// share the same "find tab row by visible text, click it unless its class
// already contains active" shape in filter_manager.py.
func (c *Configurator) configureTab(ctx context.Context, page pagedriver.Page, rowSelector, value, stepName string) {
	if value == "" {
		return
	}
	idx, err := findRowIndex(ctx, page, rowSelector, value)
	if err != nil || idx < 0 {
		c.Log.Warn(stepName+"_tab_not_found", "value", value)
		return
	}
	selector := nthOfType(rowSelector, idx)
	class, _, err := page.Attr(ctx, selector, "class")
	if err != nil {
		c.Log.Warn(stepName+"_class_read_failed", "value", value, "error", err)
		return
	}
	if strings.Contains(class, "active") {
		c.Log.Info(stepName+"_already_selected", "value", value)
		return
	}
	if err := page.Click(ctx, selector); err != nil {
		c.Log.Warn(stepName+"_click_failed", "value", value, "error", err)
		return
	}
	page.Sleep(ctx, 300*time.Millisecond)
	c.Log.Info(stepName+"_configured", "value", value)
}

func (c *Configurator) configurePriceVolumeFilters(ctx context.Context, page pagedriver.Page, filters Filters) {
	page.Sleep(ctx, 300*time.Millisecond)

	rows, err := page.QueryAll(ctx, c.Selectors.FilterInputs)
	if err != nil {
		c.Log.Warn("filter_inputs_not_found", "error", err)
		return
	}

	fill := func(idx int, value string, label string) {
		if idx >= len(rows) {
			c.Log.Warn("filter_input_missing", "field", label, "index", idx)
			return
		}
		selector := nthOfType(c.Selectors.FilterInputs, idx)
		if err := page.Fill(ctx, selector, value); err != nil {
			c.Log.Warn("filter_input_fill_failed", "field", label, "error", err)
			return
		}
		c.Log.Info("filter_input_filled", "field", label, "value", value)
	}

	if filters.MinPrice != nil {
		fill(0, strconv.FormatFloat(*filters.MinPrice, 'f', -1, 64), "min_price")
	}
	if filters.MaxPrice != nil {
		fill(1, strconv.FormatFloat(*filters.MaxPrice, 'f', -1, 64), "max_price")
	}
	if filters.MinVolume != nil {
		fill(2, strconv.Itoa(*filters.MinVolume), "min_volume")
	}

	page.Sleep(ctx, 300*time.Millisecond)
}

func (c *Configurator) configurePlatforms(ctx context.Context, page pagedriver.Page, desired map[string]bool) {
	if len(desired) == 0 {
		return
	}
	if err := page.Click(ctx, c.Selectors.PlatformSettingsToggle); err != nil {
		c.Log.Warn("platform_settings_toggle_failed", "error", err)
		return
	}
	page.Sleep(ctx, 500*time.Millisecond)

	for key, wantChecked := range desired {
		label, ok := c.Selectors.PlatformLabels[key]
		if !ok {
			continue
		}
		func() {
			idx, err := findRowIndex(ctx, page, c.Selectors.PlatformCheckboxRow, label)
			if err != nil || idx < 0 {
				c.Log.Warn("platform_checkbox_not_found", "platform", label)
				return
			}
			selector := nthOfType(c.Selectors.PlatformCheckboxRow, idx)
			inputSelector := selector + ` input[type="checkbox"]`
			checkedAttr, _, err := page.Attr(ctx, inputSelector, "checked")
			if err != nil {
				c.Log.Warn("platform_checkbox_state_unreadable", "platform", label, "error", err)
				return
			}
			isChecked := checkedAttr != ""
			if isChecked == wantChecked {
				c.Log.Info("platform_already_configured", "platform", label, "checked", isChecked)
				return
			}
			if err := page.Click(ctx, selector); err != nil {
				c.Log.Warn("platform_checkbox_click_failed", "platform", label, "error", err)
				return
			}
			c.Log.Info("platform_configured", "platform", label, "checked", wantChecked)
		}()
	}

	page.Sleep(ctx, 300*time.Millisecond)
}

func (c *Configurator) executeSearch(ctx context.Context, page pagedriver.Page) {
	rows, err := page.QueryAll(ctx, c.Selectors.ConfirmSearchButton)
	if err != nil || len(rows) == 0 {
		c.Log.Warn("confirm_search_button_not_found")
		return
	}
	if err := page.Click(ctx, c.Selectors.ConfirmSearchButton); err != nil {
		c.Log.Warn("search_execution_failed", "error", err)
		return
	}
	c.Log.Info("search_initiated")
	page.Sleep(ctx, 2*time.Second)
	c.Log.Info("waiting_for_results")
}

// findRowIndex scans selector's matched rows for one whose text contains
// text (filter_manager.py's `:has-text()` locator, reimplemented against the
// plain-CSS QueryAll this package's Page interface exposes).
func findRowIndex(ctx context.Context, page pagedriver.Page, selector, text string) (int, error) {
	rows, err := page.QueryAll(ctx, selector)
	if err != nil {
		return -1, err
	}
	for i, row := range rows {
		if strings.Contains(row, text) {
			return i, nil
		}
	}
	return -1, nil
}

// nthOfType builds a 1-indexed :nth-of-type selector addressing the Nth
// (0-indexed) match of selector, the only way to single out one element by
// position through a plain CSS selector string.
func nthOfType(selector string, index int) string {
	return fmt.Sprintf("%s:nth-of-type(%d)", selector, index+1)
}

// Package config loads the scraper's configuration: a JSON or TOML file
// (format auto-detected from the file extension, or forced via LoadFormat)
// overlaid by environment variables via getEnv/getEnvInt-style helpers (env
// wins over file, file wins over built-in default).
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// ScraperConfig holds the scraper.* keys.
type ScraperConfig struct {
	Headless              bool `json:"headless" toml:"headless"`
	TimeoutMs             int  `json:"timeout_ms" toml:"timeout_ms"`
	WaitTimeMs            int  `json:"wait_time_ms" toml:"wait_time_ms"`
	MaxConcurrent         int  `json:"max_concurrent" toml:"max_concurrent"`
	DelayBetweenItemsMs   int  `json:"delay_between_items_ms" toml:"delay_between_items_ms"`
	RandomDelayMinMs      int  `json:"random_delay_min_ms" toml:"random_delay_min_ms"`
	RandomDelayMaxMs      int  `json:"random_delay_max_ms" toml:"random_delay_max_ms"`
	DelayBetweenBatchesMs int  `json:"delay_between_batches_ms" toml:"delay_between_batches_ms"`
}

// CurrencyConfig holds currency.code.
type CurrencyConfig struct {
	Code string `json:"code" toml:"code"`
}

// BalanceTypeConfig holds balance_type.type.
type BalanceTypeConfig struct {
	Type string `json:"type" toml:"type"`
}

// PriceModeConfig holds price_mode.sell_mode.
type PriceModeConfig struct {
	SellMode string `json:"sell_mode" toml:"sell_mode"`
}

// FiltersConfig holds filters.{min_price,max_price,min_volume}.
type FiltersConfig struct {
	MinPrice  float64  `json:"min_price" toml:"min_price"`
	MaxPrice  *float64 `json:"max_price,omitempty" toml:"max_price,omitempty"`
	MinVolume int      `json:"min_volume" toml:"min_volume"`
}

// PlatformsConfig holds platforms.{cheap,steam,alt1,alt2}.
type PlatformsConfig struct {
	Cheap bool `json:"cheap" toml:"cheap"`
	Steam bool `json:"steam" toml:"steam"`
	Alt1  bool `json:"alt1" toml:"alt1"`
	Alt2  bool `json:"alt2" toml:"alt2"`
}

// OutputConfig holds output.{save_screenshot,save_html,output_directory}.
type OutputConfig struct {
	SaveScreenshot  bool   `json:"save_screenshot" toml:"save_screenshot"`
	SaveHTML        bool   `json:"save_html" toml:"save_html"`
	OutputDirectory string `json:"output_directory" toml:"output_directory"`
}

// StoreConfig holds store.{url,key}.
type StoreConfig struct {
	URL string `json:"url" toml:"url"`
	Key string `json:"key" toml:"key"`
}

// Config is the full, possibly-still-invalid configuration tree loaded from
// file and overlaid with environment variables.
type Config struct {
	Scraper     ScraperConfig     `json:"scraper" toml:"scraper"`
	Currency    CurrencyConfig    `json:"currency" toml:"currency"`
	BalanceType BalanceTypeConfig `json:"balance_type" toml:"balance_type"`
	PriceMode   PriceModeConfig   `json:"price_mode" toml:"price_mode"`
	Filters     FiltersConfig     `json:"filters" toml:"filters"`
	Platforms   PlatformsConfig   `json:"platforms" toml:"platforms"`
	Output      OutputConfig      `json:"output" toml:"output"`
	Store       StoreConfig       `json:"store" toml:"store"`
}

// knownCurrencies backs Validate's "unknown currency is a warning, not an
// error" rule.
var knownCurrencies = map[string]bool{"CNY": true, "USD": true, "RUB": true, "EUR": true}

// Default returns the built-in defaults applied before the file and env
// overlays, mirroring original_source/src/config_manager.py's defaults.
func Default() *Config {
	return &Config{
		Scraper: ScraperConfig{
			Headless:              true,
			TimeoutMs:             30_000,
			WaitTimeMs:            15_000,
			MaxConcurrent:         2,
			DelayBetweenItemsMs:   5_000,
			RandomDelayMinMs:      2_000,
			RandomDelayMaxMs:      5_000,
			DelayBetweenBatchesMs: 10_000,
		},
		Currency:    CurrencyConfig{Code: "CNY"},
		BalanceType: BalanceTypeConfig{Type: "BUFF-STEAM"},
		PriceMode:   PriceModeConfig{SellMode: "Lowest Price"},
		Filters:     FiltersConfig{MinPrice: 0, MinVolume: 0},
		Platforms:   PlatformsConfig{Cheap: true, Steam: true},
		Output:      OutputConfig{OutputDirectory: "output"},
	}
}

// Format selects which decoder Load uses for the config file.
type Format string

const (
	// FormatAuto picks JSON or TOML from path's file extension, defaulting
	// to JSON when the extension is unrecognized (e.g. "" or a symlink
	// with no suffix).
	FormatAuto Format = ""
	FormatJSON Format = "json"
	FormatTOML Format = "toml"
)

// Load reads path (if it exists) over the built-in defaults, then applies
// the SCRAPER_*/STORE_* environment overlay. It never validates — call
// Validate separately, matching the load-then-validate split of a
// getEnv-based bootstrap.
func Load(path string) (*Config, error) {
	return LoadFormat(path, FormatAuto)
}

// LoadFormat is Load with an explicit decoder choice, for callers that want
// to force TOML (or JSON) regardless of path's extension — e.g. a
// --config-format flag overriding FormatAuto's extension sniffing.
func LoadFormat(path string, format Format) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: reading %s: %w", path, err)
			}
		} else {
			switch resolveFormat(path, format) {
			case FormatTOML:
				if err := toml.Unmarshal(data, cfg); err != nil {
					return nil, fmt.Errorf("config: parsing %s as toml: %w", path, err)
				}
			default:
				if err := json.Unmarshal(data, cfg); err != nil {
					return nil, fmt.Errorf("config: parsing %s as json: %w", path, err)
				}
			}
		}
	}

	applyEnvOverlay(cfg)
	return cfg, nil
}

// resolveFormat applies explicit's override, falling back to sniffing
// path's extension for ".toml" (anything else, including no extension, is
// treated as JSON — the long-standing default format).
func resolveFormat(path string, explicit Format) Format {
	if explicit != FormatAuto {
		return explicit
	}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FormatTOML
	}
	return FormatJSON
}

func applyEnvOverlay(cfg *Config) {
	cfg.Scraper.Headless = getEnvBool("SCRAPER_HEADLESS", cfg.Scraper.Headless)
	cfg.Scraper.TimeoutMs = getEnvInt("SCRAPER_TIMEOUT_MS", cfg.Scraper.TimeoutMs)
	cfg.Scraper.WaitTimeMs = getEnvInt("SCRAPER_WAIT_TIME_MS", cfg.Scraper.WaitTimeMs)
	cfg.Scraper.MaxConcurrent = getEnvInt("SCRAPER_MAX_CONCURRENT", cfg.Scraper.MaxConcurrent)
	cfg.Scraper.DelayBetweenItemsMs = getEnvInt("SCRAPER_DELAY_BETWEEN_ITEMS_MS", cfg.Scraper.DelayBetweenItemsMs)
	cfg.Scraper.RandomDelayMinMs = getEnvInt("SCRAPER_RANDOM_DELAY_MIN_MS", cfg.Scraper.RandomDelayMinMs)
	cfg.Scraper.RandomDelayMaxMs = getEnvInt("SCRAPER_RANDOM_DELAY_MAX_MS", cfg.Scraper.RandomDelayMaxMs)
	cfg.Scraper.DelayBetweenBatchesMs = getEnvInt("SCRAPER_DELAY_BETWEEN_BATCHES_MS", cfg.Scraper.DelayBetweenBatchesMs)

	cfg.Currency.Code = getEnvString("SCRAPER_CURRENCY", cfg.Currency.Code)
	cfg.BalanceType.Type = getEnvString("SCRAPER_BALANCE_TYPE", cfg.BalanceType.Type)
	cfg.PriceMode.SellMode = getEnvString("SCRAPER_SELL_MODE", cfg.PriceMode.SellMode)

	cfg.Store.URL = getEnvString("STORE_URL", cfg.Store.URL)
	cfg.Store.Key = getEnvString("STORE_KEY", cfg.Store.Key)
}

func getEnvString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// ValidationWarning records a non-fatal validation issue: an unknown
// currency/platform is a warning, never an error.
type ValidationWarning struct {
	Field   string
	Message string
}

// Validate applies the configuration rules. It returns an error only for the two
// fatal conditions (max_concurrent out of range, random_delay_max <
// random_delay_min); anything else comes back as a warning the caller is
// expected to log, never as an error.
func (c *Config) Validate() ([]ValidationWarning, error) {
	if c.Scraper.MaxConcurrent < 1 || c.Scraper.MaxConcurrent > 5 {
		return nil, fmt.Errorf("config: scraper.max_concurrent %d out of range [1,5]", c.Scraper.MaxConcurrent)
	}
	if c.Scraper.RandomDelayMaxMs < c.Scraper.RandomDelayMinMs {
		return nil, fmt.Errorf("config: scraper.random_delay_max_ms (%d) < random_delay_min_ms (%d)",
			c.Scraper.RandomDelayMaxMs, c.Scraper.RandomDelayMinMs)
	}

	var warnings []ValidationWarning
	if !knownCurrencies[c.Currency.Code] {
		warnings = append(warnings, ValidationWarning{
			Field:   "currency.code",
			Message: fmt.Sprintf("unrecognized currency code %q", c.Currency.Code),
		})
	}
	if !c.Platforms.Cheap && !c.Platforms.Steam && !c.Platforms.Alt1 && !c.Platforms.Alt2 {
		warnings = append(warnings, ValidationWarning{
			Field:   "platforms",
			Message: "no platform enabled",
		})
	}
	return warnings, nil
}

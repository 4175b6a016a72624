// Command scraper drives the marketplace-arbitrage scraping pipeline: it
// brings up a browser session, configures the index site's filters, walks
// the ranked candidate table, and reports (and optionally stores) every
// item's profitability analysis.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/stoskr/skinarb/internal/browsersession"
	"github.com/stoskr/skinarb/internal/config"
	"github.com/stoskr/skinarb/internal/filterconfigurator"
	"github.com/stoskr/skinarb/internal/indexextractor"
	"github.com/stoskr/skinarb/internal/itemprocessor"
	"github.com/stoskr/skinarb/internal/marketextractor"
	"github.com/stoskr/skinarb/internal/model"
	"github.com/stoskr/skinarb/internal/output"
	"github.com/stoskr/skinarb/internal/pipeline"
	"github.com/stoskr/skinarb/internal/storage"
	"github.com/stoskr/skinarb/internal/store"
	"github.com/stoskr/skinarb/pkg/logger"
)

// Exit codes: 0 on success (even with discards), 1 only for
// config-invalid or driver-unavailable.
const (
	exitOK                = 0
	exitConfigError       = 1
	exitDriverUnavailable = 1
)

func main() {
	godotenv.Load() // best-effort; a missing .env is not an error

	if len(os.Args) < 2 {
		usage()
		os.Exit(exitConfigError)
	}

	switch os.Args[1] {
	case "scrape":
		os.Exit(runScrape(os.Args[2:]))
	case "test-config":
		os.Exit(runTestConfig(os.Args[2:]))
	case "history":
		os.Exit(runHistory(os.Args[2:]))
	case "health":
		os.Exit(runHealth(os.Args[2:]))
	default:
		usage()
		os.Exit(exitConfigError)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: scraper <scrape|test-config|history|health> [flags]")
}

type excludeList []string

func (e *excludeList) String() string { return strings.Join(*e, ",") }
func (e *excludeList) Set(v string) error {
	*e = append(*e, v)
	return nil
}

func runScrape(args []string) int {
	fs := flag.NewFlagSet("scrape", flag.ContinueOnError)
	headless := fs.Bool("headless", true, "run the browser headless")
	visible := fs.Bool("visible", false, "run the browser visibly (overrides --headless)")
	concurrent := fs.Int("concurrent", 0, "number of scraper workers, 1..5 (0 = use config file value)")
	saveDB := fs.Bool("save-db", false, "persist accepted items to the configured store")
	noDB := fs.Bool("no-db", false, "disable storage even if configured (overrides --save-db)")
	outputPath := fs.String("output", "", "write the result JSON array to this path")
	limit := fs.Int("limit", 0, "cap the number of candidates processed (0 = no limit)")
	quiet := fs.Bool("quiet", false, "suppress info-level logging")
	noAsyncStorage := fs.Bool("no-async-storage", false, "run storage synchronously with a single worker")
	configPath := fs.String("config", "config/scraper_config.json", "path to the config file (JSON or TOML)")
	configFormat := fs.String("config-format", "", "force the config decoder: \"json\" or \"toml\" (default: sniff from --config's extension)")
	var exclude excludeList
	fs.Var(&exclude, "exclude", "item-name prefix to exclude (repeatable)")

	if err := fs.Parse(args); err != nil {
		return exitConfigError
	}

	cfg, err := config.LoadFormat(*configPath, config.Format(*configFormat))
	if err != nil {
		fmt.Fprintf(os.Stderr, "config-invalid: %v\n", err)
		return exitConfigError
	}
	if *concurrent != 0 {
		cfg.Scraper.MaxConcurrent = *concurrent
	}
	if *visible {
		cfg.Scraper.Headless = false
	} else {
		cfg.Scraper.Headless = *headless
	}

	warnings, err := cfg.Validate()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config-invalid: %v\n", err)
		return exitConfigError
	}

	log := logger.New()
	if *quiet {
		log = logger.NewNoop()
	}
	for _, w := range warnings {
		log.Warn("config_validation_warning", "field", w.Field, "message", w.Message)
	}

	storageEnabled := cfg.Store.URL != "" && *saveDB && !*noDB
	storageWorkers := cfg.Scraper.MaxConcurrent
	if *noAsyncStorage {
		storageWorkers = 0
	}

	var storageSink *storage.Sink
	var backend *store.Backend
	if storageEnabled {
		ctx := context.Background()
		backend, err = store.Connect(ctx, cfg.Store.URL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "driver-unavailable: store connect: %v\n", err)
			return exitDriverUnavailable
		}
		defer backend.Close()
		storageSink = storage.New(backend, 10, "cli", log)
	}

	ctx := context.Background()
	session, err := browsersession.Open(ctx, browsersession.Config{
		Mode:     browsersession.ModePersistentProfile,
		Headless: cfg.Scraper.Headless,
	}, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "driver-unavailable: %v\n", err)
		return exitDriverUnavailable
	}

	idx := indexextractor.New(indexextractor.DefaultSelectors, log)
	cheapExtractor := marketextractor.New(model.MarketCheap, marketextractor.CheapSelectors, 0, log)
	steamExtractor := marketextractor.New(model.MarketSteam, marketextractor.SteamSelectors, 0, log)
	processor := itemprocessor.New(cheapExtractor, steamExtractor, cfg.Filters.MinVolume, log)
	processor.Debug = itemprocessor.DebugConfig{
		SaveScreenshot:  cfg.Output.SaveScreenshot,
		SaveHTML:        cfg.Output.SaveHTML,
		OutputDirectory: cfg.Output.OutputDirectory,
	}

	fc := filterconfigurator.New(filterconfigurator.DefaultSelectors(), log)
	filters := filterconfigurator.Filters{
		Currency:    cfg.Currency.Code,
		SellMode:    cfg.PriceMode.SellMode,
		BalanceType: cfg.BalanceType.Type,
		MinPrice:    &cfg.Filters.MinPrice,
		MaxPrice:    cfg.Filters.MaxPrice,
		MinVolume:   &cfg.Filters.MinVolume,
		Platforms: map[string]bool{
			"cheap": cfg.Platforms.Cheap,
			"steam": cfg.Platforms.Steam,
			"alt1":  cfg.Platforms.Alt1,
			"alt2":  cfg.Platforms.Alt2,
		},
	}

	var storageWorker pipeline.StorageWorker
	if storageSink != nil {
		storageWorker = storageSink
	}

	p := pipeline.New(session.Driver, filterconfigurator.Bound{Configurator: fc, Filters: filters}, idx, processor, storageWorker, pipeline.Config{
		Workers:           cfg.Scraper.MaxConcurrent,
		StorageWorkers:    storageWorkersOrZero(storageWorker, storageWorkers),
		CandidateLimit:    *limit,
		DelayBetweenItems: time.Duration(cfg.Scraper.DelayBetweenItemsMs) * time.Millisecond,
		JitterMin:         time.Duration(cfg.Scraper.RandomDelayMinMs) * time.Millisecond,
		JitterMax:         time.Duration(cfg.Scraper.RandomDelayMaxMs) * time.Millisecond,
	}, log)

	summary, err := p.Run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "driver-unavailable: %v\n", err)
		return exitDriverUnavailable
	}

	var excludedCount int
	summary.Items, excludedCount = filterExcluded(summary.Items, exclude)

	if *outputPath != "" {
		records := output.BuildRecords(summary.Items, "cli")
		if err := output.WriteFile(*outputPath, records); err != nil {
			log.Error("output_write_failed", "path", *outputPath, "error", err)
		}
	}

	fmt.Printf("accepted=%d discarded=%d excluded=%d\n", summary.Accepted, summary.Discarded, excludedCount)
	return exitOK
}

func storageWorkersOrZero(worker pipeline.StorageWorker, n int) int {
	if worker == nil {
		return 0
	}
	return n
}

// filterExcluded drops items whose name starts with any of the configured
// prefixes — applied after the run rather than during the index walk, since
// --exclude is a CLI-only reporting filter, not part of the hard exclusion
// set enforced unconditionally while ranking candidates. It returns the
// surviving items alongside how many were dropped, so the caller can report
// the excluded count in the end-of-run summary.
func filterExcluded(items []model.ProcessedItem, prefixes []string) ([]model.ProcessedItem, int) {
	if len(prefixes) == 0 {
		return items, 0
	}
	kept := items[:0]
	excluded := 0
	for _, item := range items {
		matched := false
		for _, prefix := range prefixes {
			if strings.HasPrefix(item.Candidate.ItemName, prefix) {
				matched = true
				break
			}
		}
		if matched {
			excluded++
		} else {
			kept = append(kept, item)
		}
	}
	return kept, excluded
}

func runTestConfig(args []string) int {
	fs := flag.NewFlagSet("test-config", flag.ContinueOnError)
	configPath := fs.String("config", "config/scraper_config.json", "path to the config file (JSON or TOML)")
	configFormat := fs.String("config-format", "", "force the config decoder: \"json\" or \"toml\" (default: sniff from --config's extension)")
	if err := fs.Parse(args); err != nil {
		return exitConfigError
	}

	cfg, err := config.LoadFormat(*configPath, config.Format(*configFormat))
	if err != nil {
		fmt.Fprintf(os.Stderr, "config-invalid: %v\n", err)
		return exitConfigError
	}
	warnings, err := cfg.Validate()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config-invalid: %v\n", err)
		return exitConfigError
	}
	for _, w := range warnings {
		fmt.Fprintf(os.Stderr, "warning: %s: %s\n", w.Field, w.Message)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config-invalid: %v\n", err)
		return exitConfigError
	}
	fmt.Println(string(data))
	return exitOK
}

func runHistory(args []string) int {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	item := fs.String("item", "", "item name to look up")
	limit := fs.Int("limit", 20, "max rows to return")
	configPath := fs.String("config", "config/scraper_config.json", "path to the config file (JSON or TOML)")
	configFormat := fs.String("config-format", "", "force the config decoder: \"json\" or \"toml\" (default: sniff from --config's extension)")
	if err := fs.Parse(args); err != nil {
		return exitConfigError
	}
	if *item == "" {
		fmt.Fprintln(os.Stderr, "config-invalid: --item is required")
		return exitConfigError
	}

	cfg, err := config.LoadFormat(*configPath, config.Format(*configFormat))
	if err != nil || cfg.Store.URL == "" {
		fmt.Fprintln(os.Stderr, "driver-unavailable: no store configured")
		return exitDriverUnavailable
	}

	ctx := context.Background()
	backend, err := store.Connect(ctx, cfg.Store.URL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "driver-unavailable: %v\n", err)
		return exitDriverUnavailable
	}
	defer backend.Close()

	records, err := backend.QueryHistory(ctx, *item, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "driver-unavailable: %v\n", err)
		return exitDriverUnavailable
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "driver-unavailable: %v\n", err)
		return exitDriverUnavailable
	}
	fmt.Println(string(data))
	return exitOK
}

func runHealth(args []string) int {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	configPath := fs.String("config", "config/scraper_config.json", "path to the config file (JSON or TOML)")
	configFormat := fs.String("config-format", "", "force the config decoder: \"json\" or \"toml\" (default: sniff from --config's extension)")
	if err := fs.Parse(args); err != nil {
		return exitConfigError
	}

	cfg, err := config.LoadFormat(*configPath, config.Format(*configFormat))
	if err != nil || cfg.Store.URL == "" {
		return 1
	}

	ctx := context.Background()
	backend, err := store.Connect(ctx, cfg.Store.URL)
	if err != nil {
		return 1
	}
	defer backend.Close()

	if backend.Healthy(ctx) {
		fmt.Println("ok")
		return 0
	}
	fmt.Println("unhealthy")
	return 1
}

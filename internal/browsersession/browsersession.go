// Package browsersession implements C9: owning the driver's lifecycle,
// choosing between persistent-profile and snapshot-state cookie restore,
// and opening pages with the shared stealth tweaks already applied.
package browsersession

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stoskr/skinarb/internal/pagedriver"
	"github.com/stoskr/skinarb/pkg/logger"
)

// Mode selects how a Session restores browser state at startup.
type Mode int

const (
	// ModePersistentProfile reuses a user-data directory across runs —
	// cookies and local storage persist on disk between invocations.
	ModePersistentProfile Mode = iota
	// ModeSnapshotState loads a merged cookies+origins snapshot at
	// startup instead, the CI-shard-friendly mode.
	ModeSnapshotState
)

// Config configures one Session.
type Config struct {
	Mode      Mode
	Headless  bool
	UserAgent string
	Viewport  [2]int

	ProfileDir string // ModePersistentProfile

	CheapSnapshotPath string // ModeSnapshotState: cheap_session file
	SteamSnapshotPath string // ModeSnapshotState: steam_session file

	// Redis is an optional mirror of the merged snapshot, so concurrent CI
	// shards of the same run share one warmed snapshot instead of each
	// re-reading and re-merging the disk files. Nil disables it.
	Redis    *redis.Client
	RedisKey string
	RedisTTL time.Duration
}

// Snapshot is the opaque session-state shape:
// {"cookies": [...], "origins": [...]}. Origins are passed through
// untouched; the core never interprets them.
type Snapshot struct {
	Cookies []pagedriver.Cookie `json:"cookies"`
	Origins []json.RawMessage   `json:"origins"`
}

// merge concatenates two snapshots naively — no dedup.
func (s Snapshot) merge(other Snapshot) Snapshot {
	return Snapshot{
		Cookies: append(append([]pagedriver.Cookie{}, s.Cookies...), other.Cookies...),
		Origins: append(append([]json.RawMessage{}, s.Origins...), other.Origins...),
	}
}

// Session owns one driver for the run's lifetime.
type Session struct {
	Driver   *pagedriver.ChromeDriver
	cfg      Config
	snapshot *Snapshot // nil in ModePersistentProfile
	log      *logger.Logger
}

// Open launches the driver per cfg.Mode. In ModeSnapshotState, a malformed
// or missing snapshot file degrades to an empty contribution with a logged
// warning rather than aborting the run — startup cookie restore is
// best-effort, never a fatal error.
func Open(ctx context.Context, cfg Config, log *logger.Logger) (*Session, error) {
	if log == nil {
		log = logger.NewNoop()
	}

	var snap *Snapshot
	if cfg.Mode == ModeSnapshotState {
		merged, err := loadSnapshot(ctx, cfg, log)
		if err != nil {
			log.Warn("session_snapshot_unavailable", "error", err)
			merged = Snapshot{}
		}
		snap = &merged
	}

	driverCfg := pagedriver.ChromeConfig{
		Headless:  cfg.Headless,
		UserAgent: cfg.UserAgent,
		Viewport:  cfg.Viewport,
	}
	if cfg.Mode == ModePersistentProfile {
		driverCfg.UserDataDir = cfg.ProfileDir
	}

	driver := pagedriver.NewChromeDriver(ctx, driverCfg, log)
	return &Session{Driver: driver, cfg: cfg, snapshot: snap, log: log}, nil
}

// OpenPage opens a new tab and, in snapshot-state mode, restores the
// merged cookie list onto it before returning it to the caller.
func (s *Session) OpenPage(ctx context.Context) (pagedriver.Page, error) {
	page, err := s.Driver.Open(ctx)
	if err != nil {
		return nil, err
	}
	if s.snapshot != nil && len(s.snapshot.Cookies) > 0 {
		if err := page.SetCookies(ctx, s.snapshot.Cookies); err != nil {
			s.log.Warn("cookie_restore_failed", "error", err)
		}
	}
	return page, nil
}

// Close stops the driver. It does not write anything back to the snapshot
// files or Redis — persisting an updated session state for the next run is
// out of scope for v1.
func (s *Session) Close(ctx context.Context) error {
	return s.Driver.Close(ctx)
}

func loadSnapshot(ctx context.Context, cfg Config, log *logger.Logger) (Snapshot, error) {
	if cfg.Redis != nil {
		if cached, ok := getCachedSnapshot(ctx, cfg.Redis, cfg.RedisKey); ok {
			log.Info("session_snapshot_cache_hit", "key", cfg.RedisKey)
			return cached, nil
		}
	}

	merged := Snapshot{}
	merged = merged.merge(readSnapshotFile(cfg.CheapSnapshotPath, log))
	merged = merged.merge(readSnapshotFile(cfg.SteamSnapshotPath, log))

	if cfg.Redis != nil {
		if err := setCachedSnapshot(ctx, cfg.Redis, cfg.RedisKey, merged, cfg.RedisTTL); err != nil {
			log.Warn("session_snapshot_cache_write_failed", "error", err)
		}
	}

	return merged, nil
}

// readSnapshotFile reads one per-marketplace session file. A missing or
// malformed file contributes an empty Snapshot and a logged warning — it
// never propagates as an error, matching the best-effort restore policy.
func readSnapshotFile(path string, log *logger.Logger) Snapshot {
	if path == "" {
		return Snapshot{}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		log.Warn("session_file_unreadable", "path", path, "error", err)
		return Snapshot{}
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Warn("session_file_malformed", "path", path, "error", err)
		return Snapshot{}
	}
	return snap
}

const defaultRedisTTL = 5 * time.Minute

// getCachedSnapshot mirrors MarketOrderCache.Get's gzip-compressed
// Redis-blob pattern, generalized from market orders to one merged session
// snapshot shared by a run's CI shards.
func getCachedSnapshot(ctx context.Context, client *redis.Client, key string) (Snapshot, bool) {
	data, err := client.Get(ctx, key).Bytes()
	if err != nil {
		return Snapshot{}, false
	}
	snap, err := decompressSnapshot(data)
	if err != nil {
		return Snapshot{}, false
	}
	return snap, true
}

func setCachedSnapshot(ctx context.Context, client *redis.Client, key string, snap Snapshot, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = defaultRedisTTL
	}
	compressed, err := compressSnapshot(snap)
	if err != nil {
		return fmt.Errorf("browsersession: compress snapshot: %w", err)
	}
	return client.Set(ctx, key, compressed, ttl).Err()
}

func compressSnapshot(snap Snapshot) ([]byte, error) {
	jsonData, err := json.Marshal(snap)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(jsonData); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompressSnapshot(data []byte) (Snapshot, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return Snapshot{}, err
	}
	defer gz.Close()
	jsonData, err := io.ReadAll(gz)
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := json.Unmarshal(jsonData, &snap); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

package itemprocessor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/stoskr/skinarb/internal/model"
	"github.com/stoskr/skinarb/internal/pagedriver"
)

// DebugConfig gates per-failure artifact capture, grounded on
// original_source's FileSaver.save_debug_files: a screenshot and/or the
// page's HTML are written only when extraction actually failed, never on
// the hot path of every accepted item.
type DebugConfig struct {
	SaveScreenshot  bool
	SaveHTML        bool
	OutputDirectory string
}

// captureFailure writes page's screenshot and/or HTML under
// <OutputDirectory>/debug, named by item and failure reason. Both steps are
// best-effort: a write failure is logged and otherwise ignored, since debug
// artifacts must never fail or slow down the run they're diagnosing.
func (p *Processor) captureFailure(ctx context.Context, page pagedriver.Page, c model.Candidate, reason string) {
	if !p.Debug.SaveScreenshot && !p.Debug.SaveHTML {
		return
	}

	dir := p.Debug.OutputDirectory
	if dir == "" {
		dir = "output"
	}
	dir = filepath.Join(dir, "debug")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		p.Log.Warn("debug_capture_dir_failed", "error", err)
		return
	}

	base := fmt.Sprintf("%s_%s_%d", sanitizeFilename(c.ItemName), reason, time.Now().UTC().UnixNano())

	if p.Debug.SaveScreenshot {
		path := filepath.Join(dir, base+".png")
		if err := page.Screenshot(ctx, path); err != nil {
			p.Log.Warn("debug_screenshot_failed", "item", c.ItemName, "error", err)
		} else {
			p.Log.Info("debug_screenshot_saved", "item", c.ItemName, "path", path)
		}
	}

	if p.Debug.SaveHTML {
		html, err := page.Content(ctx)
		if err != nil {
			p.Log.Warn("debug_html_read_failed", "item", c.ItemName, "error", err)
			return
		}
		path := filepath.Join(dir, base+".html")
		if err := os.WriteFile(path, []byte(html), 0o644); err != nil {
			p.Log.Warn("debug_html_write_failed", "item", c.ItemName, "error", err)
			return
		}
		p.Log.Info("debug_html_saved", "item", c.ItemName, "path", path)
	}
}

var filenameReplacer = strings.NewReplacer(" ", "_", "/", "_", "|", "_", "\\", "_", ":", "_")

func sanitizeFilename(name string) string {
	return filenameReplacer.Replace(name)
}

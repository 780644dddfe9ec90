package orchestrator

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const workspacePrefix = "preview-"

// CleanupTemps removes order workspaces under dir older than maxAge. A
// worker that crashed mid-order leaves its workspace behind; this sweeps
// them on the next successful batch.
func CleanupTemps(dir string, maxAge time.Duration) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	now := time.Now()
	removed := 0
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), workspacePrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil || now.Sub(info.ModTime()) < maxAge {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err == nil {
			removed++
		}
	}
	if removed > 0 {
		log.Info().Int("removed", removed).Str("dir", dir).Msg("removed stale order workspaces")
	}
	return removed
}

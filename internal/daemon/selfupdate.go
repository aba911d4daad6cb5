package daemon

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/happy-coder/happy/internal/logger"
)

const selfUpdatePollInterval = 5 * time.Minute

// watchSelfUpdate implements spec.md §4.3's "Self-update detection:
// periodically checks its own installed version against the package
// version on disk; if newer, schedules a graceful restart after active
// sessions idle out." versionFilePath is written by the package's own
// installer/updater whenever a newer build lands; onNewer is called each
// time the file's version changes to a value other than currentVersion.
//
// fsnotify gives near-immediate detection; the ticker is a fallback for
// filesystems or package managers that replace the file in a way
// fsnotify's watch doesn't catch (e.g. a bind-mount remount).
func watchSelfUpdate(ctx context.Context, versionFilePath, currentVersion string, onNewer func(newVersion string)) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Error("self-update watcher init", "err", err)
	} else {
		defer watcher.Close()
		if err := watcher.Add(versionFilePath); err != nil {
			// The version file may not exist yet on a fresh install; the
			// poll ticker below still covers that case.
			logger.Info("self-update watch unavailable, polling only", "err", err)
		}
	}

	ticker := time.NewTicker(selfUpdatePollInterval)
	defer ticker.Stop()

	lastSeen := currentVersion
	check := func() {
		v, err := readVersionFile(versionFilePath)
		if err != nil || v == "" || v == lastSeen {
			return
		}
		lastSeen = v
		if v != currentVersion {
			onNewer(v)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			check()
		case ev, ok := <-watcherEvents(watcher):
			if !ok {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
				check()
			}
		}
	}
}

// watcherEvents returns a nil-safe events channel so the select above
// works even when fsnotify.NewWatcher failed above.
func watcherEvents(w *fsnotify.Watcher) chan fsnotify.Event {
	if w == nil {
		return nil
	}
	return w.Events
}

func readVersionFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

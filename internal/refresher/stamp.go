package refresher

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// stampLayout is the timestamp suffix and body of a stamp file.
const stampLayout = "200601021504"

// StampPath returns the stamp file name for an update finished at t.
func StampPath(prefix string, t time.Time) string {
	return prefix + "." + t.UTC().Format(stampLayout)
}

// LatestStamp returns the newest parseable stamp written under prefix.
func LatestStamp(prefix string) (time.Time, bool, error) {
	matches, err := filepath.Glob(prefix + ".*")
	if err != nil {
		return time.Time{}, false, fmt.Errorf("glob stamps %s: %w", prefix, err)
	}
	var latest time.Time
	found := false
	for _, m := range matches {
		suffix := strings.TrimPrefix(m, prefix+".")
		t, err := time.Parse(stampLayout, suffix)
		if err != nil {
			continue
		}
		if !found || t.After(latest) {
			latest, found = t, true
		}
	}
	return latest, found, nil
}

// WriteStamp records an update finished at t. The file appears atomically.
func WriteStamp(prefix string, t time.Time) (string, error) {
	path := StampPath(prefix, t)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create stamp dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(prefix)+"-*")
	if err != nil {
		return "", fmt.Errorf("create stamp: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // no-op after rename

	if _, err := tmp.WriteString(t.UTC().Format(stampLayout)); err != nil {
		tmp.Close() //nolint:errcheck,gosec // write error takes precedence
		return "", fmt.Errorf("write stamp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close() //nolint:errcheck,gosec // sync error takes precedence
		return "", fmt.Errorf("sync stamp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close stamp: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("rename stamp: %w", err)
	}
	return path, nil
}

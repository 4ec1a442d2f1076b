package invoker

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"syscall"
)

// sdrPatterns lists, per sensor, the SDR and geolocation products a run leaves behind.
var sdrPatterns = map[string][]string{
	"viirs": {
		"SVM??_???_*.h5", "GM??O_???_*.h5",
		"SVI??_???_*.h5", "GI??O_???_*.h5",
		"SVDNB_???_*.h5", "GDNBO_???_*.h5",
		"IVCDB*.h5",
	},
	"atms": {"SATMS_???_*.h5", "GATMO_???_*.h5"},
	"cris": {"SCRI[SF]_???_*.h5", "GCRSO_???_*.h5"},
}

func isSDR(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, _ := filepath.Match(p, name); ok {
			return true
		}
	}
	return false
}

// collectSDR finds the sensor's SDR products anywhere under dir.
func collectSDR(dir, sensor string) ([]string, error) {
	patterns, ok := sdrPatterns[sensor]
	if !ok {
		return nil, fmt.Errorf("no sdr products known for sensor %q", sensor)
	}
	var out []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() && isSDR(patterns, d.Name()) {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("collect sdr files in %s: %w", dir, err)
	}
	sort.Strings(out)
	return out, nil
}

// markComplete touches <dir>.okay once every product of a run is in dir.
func markComplete(dir string) (string, error) {
	ok := dir + ".okay"
	f, err := os.OpenFile(ok, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("mark %s complete: %w", filepath.Base(dir), err)
	}
	return ok, f.Close()
}

// moveFiles moves files into dst and returns their new paths.
func moveFiles(files []string, dst string) ([]string, error) {
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	out := make([]string, 0, len(files))
	for _, src := range files {
		target := filepath.Join(dst, filepath.Base(src))
		if err := moveFile(src, target); err != nil {
			return out, fmt.Errorf("move %s: %w", filepath.Base(src), err)
		}
		out = append(out, target)
	}
	return out, nil
}

// moveFile renames src to dst, copying across filesystems.
func moveFile(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil || !errors.Is(err, syscall.EXDEV) {
		return err
	}
	if err := copyFile(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

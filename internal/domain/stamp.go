package domain

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"time"
)

// stampRe matches the JPSS granule stamp embedded in RDR and SDR file names:
// <platform>_d<YYYYMMDD>_t<HHMMSSf>_e<HHMMSSf>_b<orbit>.
var stampRe = regexp.MustCompile(`([A-Za-z0-9]+)_d(\d{8})_t(\d{7})_e(\d{7})_b(\d+)`)

// FileStamp is the platform, time span and orbit encoded in a JPSS file name.
type FileStamp struct {
	Platform string
	Start    time.Time
	End      time.Time
	Orbit    int
}

// ParseFileStamp extracts the granule stamp from a file name or path.
func ParseFileStamp(name string) (FileStamp, error) {
	base := filepath.Base(name)
	m := stampRe.FindStringSubmatch(base)
	if m == nil {
		return FileStamp{}, fmt.Errorf("no granule stamp in %q", base)
	}

	start, err := stampTime(m[2], m[3])
	if err != nil {
		return FileStamp{}, fmt.Errorf("parse start time of %q: %w", base, err)
	}
	end, err := stampTime(m[2], m[4])
	if err != nil {
		return FileStamp{}, fmt.Errorf("parse end time of %q: %w", base, err)
	}
	// Granules crossing midnight carry the start date only.
	if end.Before(start) {
		end = end.AddDate(0, 0, 1)
	}
	orbit, err := strconv.Atoi(m[5])
	if err != nil {
		return FileStamp{}, fmt.Errorf("parse orbit of %q: %w", base, err)
	}

	return FileStamp{Platform: m[1], Start: start, End: end, Orbit: orbit}, nil
}

// stampTime combines YYYYMMDD with HHMMSS plus a trailing tenth-of-second digit.
func stampTime(date, clock string) (time.Time, error) {
	t, err := time.Parse("20060102150405", date+clock[:6])
	if err != nil {
		return time.Time{}, err
	}
	tenths := int(clock[6] - '0')
	return t.Add(time.Duration(tenths) * 100 * time.Millisecond), nil
}

package domain

import (
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
)

// Granule is the set of RDR files of one platform overpass, ready to be
// handed to the SDR processor.
type Granule struct {
	Platform string
	Orbit    int
	Start    time.Time
	End      time.Time
	// Files holds one notification per distinct path, ordered by start time.
	Files []Notification
}

// NewGranule builds a granule from its constituent notifications. The orbit
// comes from the first file's name stamp and falls back to the notification.
func NewGranule(files []Notification) Granule {
	sorted := append([]Notification(nil), files...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].StartTime.Equal(sorted[j].StartTime) {
			return sorted[i].StartTime.Before(sorted[j].StartTime)
		}
		return sorted[i].Path() < sorted[j].Path()
	})

	var g Granule
	g.Files = sorted
	for i, n := range sorted {
		if i == 0 || n.StartTime.Before(g.Start) {
			g.Start = n.StartTime
		}
		if i == 0 || n.EndTime.After(g.End) {
			g.End = n.EndTime
		}
	}
	if len(sorted) > 0 {
		first := sorted[0]
		g.Platform = first.Platform()
		g.Orbit = first.OrbitNumber
		if stamp, err := ParseFileStamp(first.Path()); err == nil && stamp.Orbit > 0 {
			g.Orbit = stamp.Orbit
		}
	}
	return g
}

// ID is the granule's output directory name: <platform>_<YYYYMMDD>_<HHMM>_<orbit>.
func (g Granule) ID() string {
	return fmt.Sprintf("%s_%s_%05d", g.Platform, g.Start.UTC().Format("20060102_1504"), g.Orbit)
}

// Paths returns the local paths of the constituent RDR files in order.
func (g Granule) Paths() []string {
	out := make([]string, len(g.Files))
	for i, n := range g.Files {
		out[i] = n.Path()
	}
	return out
}

// PublishOptions parameterise the outbound dataset announcement.
type PublishOptions struct {
	// Topic is the configured publish_topic, e.g. /file/viirs/sdr.
	Topic  string
	Site   string
	Mode   string
	Sender string

	// Clock stamps the envelope time; nil means the real clock.
	Clock clockwork.Clock
}

// SDRSubject builds the logical subject of a dataset announcement.
func SDRSubject(topic, site, mode string) string {
	return path.Join("/", strings.Trim(topic, "/"), "SDR", "1B", site, mode, "polar", "direct_readout")
}

// NewSDRNotification announces the SDR files produced for g. The payload is
// the first input notification minus its uri and uid, with the dataset list,
// product descriptors and a time span taken from the SDR file names.
func NewSDRNotification(g Granule, sdrFiles []string, opts PublishOptions) Notification {
	var n Notification
	if len(g.Files) > 0 {
		n = g.Files[0]
	}
	n.Commit = nil
	n.URI = ""
	n.UID = ""
	n.MoreSegments = nil
	n.Topic = SDRSubject(opts.Topic, opts.Site, opts.Mode)
	n.Type = TypeDataset
	n.Sender = opts.Sender
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	n.Time = clock.Now().UTC()

	extra := make(map[string]any, len(n.Extra)+6)
	for k, v := range n.Extra {
		extra[k] = v
	}
	extra["format"] = "SDR"
	extra["type"] = "HDF5"
	extra["data_processing_level"] = "1B"
	if opts.Site != "" {
		extra["site"] = opts.Site
	}
	if opts.Mode != "" {
		extra["mode"] = opts.Mode
	}
	if g.Orbit > 0 && n.OrbitNumber != g.Orbit {
		extra["orig_orbit_number"] = n.OrbitNumber
		n.OrbitNumber = g.Orbit
	}
	n.Extra = extra

	files := append([]string(nil), sdrFiles...)
	sort.Strings(files)
	n.Dataset = make([]File, 0, len(files))
	n.StartTime, n.EndTime = g.Start, g.End
	first := true
	for _, f := range files {
		n.Dataset = append(n.Dataset, File{URI: f, UID: filepath.Base(f)})
		stamp, err := ParseFileStamp(f)
		if err != nil {
			continue
		}
		if first || stamp.Start.Before(n.StartTime) {
			n.StartTime = stamp.Start
		}
		if first || stamp.End.After(n.EndTime) {
			n.EndTime = stamp.End
		}
		first = false
	}
	return n
}

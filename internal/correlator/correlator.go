// Package correlator groups file notifications into granules: sets of files
// of one platform whose time spans lie within a tolerance of each other.
package correlator

import (
	"sort"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/couchcryptid/sdr-runner/internal/domain"
)

// fullSwathSpan is the span above which a single file holds a whole overpass.
const fullSwathSpan = 4 * time.Minute

// ClosePredicate reports whether a notification completes its granule.
type ClosePredicate func(n domain.Notification) bool

// DefaultClose closes on more_segments=false when the field is present, and
// otherwise on a file that spans a full local swath.
func DefaultClose(n domain.Notification) bool {
	if n.MoreSegments != nil {
		return !*n.MoreSegments
	}
	return !n.StartTime.IsZero() && n.EndTime.Sub(n.StartTime) > fullSwathSpan
}

// Options configure a Correlator.
type Options struct {
	Tolerance       time.Duration
	DuplicateWindow time.Duration
	Close           ClosePredicate
}

type pending struct {
	platform string
	earliest time.Time
	latest   time.Time
	deadline time.Time
	files    map[string]domain.Notification
}

func (p *pending) overlaps(platform string, start, end time.Time, tol time.Duration) bool {
	return p.platform == platform &&
		!start.After(p.latest.Add(tol)) &&
		!end.Before(p.earliest.Add(-tol))
}

func (p *pending) absorb(o *pending) {
	for path, n := range o.files {
		if _, ok := p.files[path]; !ok {
			p.files[path] = n
		}
	}
	if o.earliest.Before(p.earliest) {
		p.earliest = o.earliest
	}
	if o.latest.After(p.latest) {
		p.latest = o.latest
	}
}

// Correlator is owned by a single goroutine; it is not safe for concurrent use.
type Correlator struct {
	opts    Options
	pending []*pending
	// emitted maps file paths to the time their granule was closed.
	emitted *ttlcache.Cache[string, time.Time]
}

// New creates a Correlator. A nil Close uses DefaultClose.
func New(opts Options) *Correlator {
	if opts.Close == nil {
		opts.Close = DefaultClose
	}
	return &Correlator{
		opts: opts,
		emitted: ttlcache.New[string, time.Time](
			ttlcache.WithTTL[string, time.Time](opts.DuplicateWindow),
			ttlcache.WithDisableTouchOnHit[string, time.Time](),
		),
	}
}

// Seen reports whether path already went out in a granule within the duplicate window.
func (c *Correlator) Seen(path string, now time.Time) bool {
	if c.opts.DuplicateWindow <= 0 {
		return false
	}
	item := c.emitted.Get(path)
	return item != nil && now.Sub(item.Value()) < c.opts.DuplicateWindow
}

// Add files n into the pending granule its time span overlaps, merging
// entries it bridges, and returns the granules it closes. Entries whose
// deadline passed before now are closed first and never absorb n.
func (c *Correlator) Add(n domain.Notification, now time.Time) []domain.Granule {
	out := c.expire(now)
	path := n.Path()
	if c.Seen(path, now) {
		return out
	}

	platform := n.Platform()
	start, end := n.StartTime, n.EndTime
	if end.Before(start) {
		end = start
	}

	entry := &pending{
		platform: platform,
		earliest: start,
		latest:   end,
		files:    map[string]domain.Notification{},
	}
	kept := c.pending[:0]
	for _, p := range c.pending {
		if p.overlaps(platform, start, end, c.opts.Tolerance) {
			entry.absorb(p)
			continue
		}
		kept = append(kept, p)
	}
	entry.files[path] = n
	entry.deadline = now.Add(c.opts.Tolerance)

	if c.opts.Close(n) {
		c.pending = kept
		return sortByStart(append(out, c.emit(entry, now)))
	}
	c.pending = append(kept, entry)
	return out
}

// Expire closes every pending granule whose deadline has passed.
func (c *Correlator) Expire(now time.Time) []domain.Granule {
	c.emitted.DeleteExpired()
	return c.expire(now)
}

func (c *Correlator) expire(now time.Time) []domain.Granule {
	var out []domain.Granule
	kept := c.pending[:0]
	for _, p := range c.pending {
		if !now.Before(p.deadline) {
			out = append(out, c.emit(p, now))
			continue
		}
		kept = append(kept, p)
	}
	c.pending = kept
	return sortByStart(out)
}

// Flush closes all pending granules.
func (c *Correlator) Flush(now time.Time) []domain.Granule {
	out := make([]domain.Granule, 0, len(c.pending))
	for _, p := range c.pending {
		out = append(out, c.emit(p, now))
	}
	c.pending = nil
	return sortByStart(out)
}

// Len returns the number of pending granules.
func (c *Correlator) Len() int {
	return len(c.pending)
}

func (c *Correlator) emit(p *pending, now time.Time) domain.Granule {
	files := make([]domain.Notification, 0, len(p.files))
	for path, n := range p.files {
		files = append(files, n)
		if c.opts.DuplicateWindow > 0 {
			c.emitted.Set(path, now, ttlcache.DefaultTTL)
		}
	}
	return domain.NewGranule(files)
}

func sortByStart(gs []domain.Granule) []domain.Granule {
	sort.SliceStable(gs, func(i, j int) bool {
		return gs[i].Start.Before(gs[j].Start)
	})
	return gs
}

package pipeline

import (
	"fmt"
	"os"
	"strings"

	"github.com/couchcryptid/sdr-runner/internal/domain"
)

// Filter decides which file notifications are VIIRS RDR files this runner
// can process, and completes their time span and orbit from the file name.
type Filter struct {
	sensor string
	stat   func(string) (os.FileInfo, error)
}

// NewFilter accepts notifications listing sensor.
func NewFilter(sensor string) *Filter {
	return &Filter{sensor: strings.ToLower(sensor), stat: os.Stat}
}

// Accept returns an error naming the reason n is skipped. Missing start
// time, end time and orbit are filled in from the file name stamp.
func (f *Filter) Accept(n *domain.Notification) error {
	switch {
	case n.PlatformName == "":
		return fmt.Errorf("no platform_name in message")
	case len(n.Sensor) == 0:
		return fmt.Errorf("no sensor in message")
	case n.URI == "":
		return fmt.Errorf("no uri in message")
	}
	if _, ok := domain.NormalizePlatform(n.PlatformName); !ok {
		return fmt.Errorf("platform %q is not a JPSS satellite", n.PlatformName)
	}
	if !n.HasSensor(f.sensor) {
		return fmt.Errorf("sensor %v is not %s", n.Sensor, f.sensor)
	}

	path := n.Path()
	if !strings.HasSuffix(path, ".h5") {
		return fmt.Errorf("%s is not an RDR file", path)
	}
	if _, err := f.stat(path); err != nil {
		return fmt.Errorf("file is reported but not there: %w", err)
	}

	stamp, stampErr := domain.ParseFileStamp(path)
	if n.StartTime.IsZero() {
		if stampErr != nil {
			return fmt.Errorf("no start_time in message: %w", stampErr)
		}
		n.StartTime = stamp.Start
	}
	if n.EndTime.IsZero() {
		n.EndTime = n.StartTime
		if stampErr == nil && stamp.End.After(n.StartTime) {
			n.EndTime = stamp.End
		}
	}
	if n.OrbitNumber == 0 && stampErr == nil {
		n.OrbitNumber = stamp.Orbit
	}
	return nil
}

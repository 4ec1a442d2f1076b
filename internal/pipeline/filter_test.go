package pipeline_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/sdr-runner/internal/pipeline"
)

func TestFilter_Accept(t *testing.T) {
	dir := t.TempDir()
	path := writeRDR(t, dir, t0)
	f := pipeline.NewFilter("viirs")

	n := fileNotification(path, t0)
	require.NoError(t, f.Accept(&n))
}

func TestFilter_Rejects(t *testing.T) {
	dir := t.TempDir()
	path := writeRDR(t, dir, t0)
	f := pipeline.NewFilter("viirs")

	tests := []struct {
		name   string
		mutate func(n *notificationFields)
		reason string
	}{
		{"no platform", func(n *notificationFields) { n.platform = "" }, "platform_name"},
		{"no sensor", func(n *notificationFields) { n.sensor = nil }, "sensor"},
		{"no uri", func(n *notificationFields) { n.uri = "" }, "uri"},
		{"not jpss", func(n *notificationFields) { n.platform = "Metop-B" }, "JPSS"},
		{"wrong sensor", func(n *notificationFields) { n.sensor = []string{"atms"} }, "viirs"},
		{"not h5", func(n *notificationFields) { n.uri = dir + "/RNSCA.txt" }, "not an RDR"},
		{"missing file", func(n *notificationFields) { n.uri = dir + "/gone.h5" }, "not there"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := notificationFields{platform: "NOAA-20", sensor: []string{"viirs"}, uri: path}
			tt.mutate(&fields)
			n := fileNotification(path, t0)
			n.PlatformName = fields.platform
			n.Sensor = fields.sensor
			n.URI = fields.uri

			err := f.Accept(&n)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.reason)
		})
	}
}

type notificationFields struct {
	platform string
	sensor   []string
	uri      string
}

func TestFilter_FillsFromFileStamp(t *testing.T) {
	dir := t.TempDir()
	path := writeRDR(t, dir, t0)
	f := pipeline.NewFilter("VIIRS")

	n := fileNotification(path, t0)
	n.StartTime = time.Time{}
	n.EndTime = time.Time{}
	n.OrbitNumber = 0

	require.NoError(t, f.Accept(&n))
	assert.Equal(t, t0, n.StartTime)
	assert.Equal(t, t0.Add(85*time.Second), n.EndTime)
	assert.Equal(t, 31234, n.OrbitNumber)
}

func TestFilter_KeepsMessageTimes(t *testing.T) {
	dir := t.TempDir()
	path := writeRDR(t, dir, t0)
	f := pipeline.NewFilter("viirs")

	n := fileNotification(path, t0.Add(time.Second))
	n.OrbitNumber = 99

	require.NoError(t, f.Accept(&n))
	assert.Equal(t, t0.Add(time.Second), n.StartTime)
	assert.Equal(t, 99, n.OrbitNumber)
}

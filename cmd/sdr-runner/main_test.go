package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/sdr-runner/internal/domain"
)

const testProfile = `[DEFAULT]
url_jpss_remote_lut_dir = https://jpssdb.example/luts
url_jpss_remote_anc_dir = https://jpssdb.example/anc
lut_update_stampfile_prefix = /tmp/stamp_lut
anc_update_stampfile_prefix = /tmp/stamp_anc
url_download_trial_frequency_hours = 24
subscribe_topics = /file/viirs/rdr
publish_topic = /file/viirs/sdr

[test]
site = nkp
mode = dev
level1_home = /tmp/level1
viirs_sdr_call = %s
`

func writeTestProfile(t *testing.T, call string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sdr_runner.ini")
	require.NoError(t, os.WriteFile(path, fmt.Appendf(nil, testProfile, call), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCheck_OK(t *testing.T) {
	t.Setenv("CSPP_SDR_HOME", "/opt/cspp")
	t.Setenv("CSPP_WORKDIR", t.TempDir())
	path := writeTestProfile(t, "sh")

	out, err := execute(t, "check", "-c", path, "-C", "test")
	require.NoError(t, err)
	assert.Contains(t, out, "profile test OK")
	assert.Contains(t, out, "nkp/dev")
}

func TestCheck_MissingBinaryAndEnvironment(t *testing.T) {
	t.Setenv("CSPP_SDR_HOME", "")
	t.Setenv("CSPP_WORKDIR", "/scratch")
	path := writeTestProfile(t, "no-such-viirs_sdr.sh")

	_, err := execute(t, "check", "-c", path, "-C", "test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no-such-viirs_sdr.sh")
	assert.Contains(t, err.Error(), "CSPP_SDR_HOME")
}

func TestCheck_UnknownProfile(t *testing.T) {
	path := writeTestProfile(t, "sh")
	_, err := execute(t, "check", "-c", path, "-C", "nowhere")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nowhere")
}

func TestRequiresConfigSection(t *testing.T) {
	_, err := execute(t, "check", "-c", "sdr_runner.ini")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config-section")
}

func TestLogFileFlagHelp(t *testing.T) {
	f := newRootCommand().PersistentFlags().Lookup("log-file")
	require.NotNil(t, f)
	assert.Equal(t, "l", f.Shorthand)
	assert.NotContains(t, f.Usage, "daily")
	assert.Contains(t, f.Usage, "pruned by age")
}

func TestFileNotifications(t *testing.T) {
	msgs, err := fileNotifications("/file/viirs/rdr", "viirs", []string{
		"/data/RNSCA-RVIRS_j01_d20240101_t1200000_e1201250_b31234_c20240101120310000000_drlu_ops.h5",
	})
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	n := msgs[0]
	assert.Equal(t, "/file/viirs/rdr", n.Topic)
	assert.Equal(t, domain.TypeFile, n.Type)
	assert.Equal(t, "NOAA-20", n.PlatformName)
	assert.Equal(t, []string{"viirs"}, n.Sensor)
	assert.Equal(t, time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC), n.StartTime)
	assert.Equal(t, time.Date(2024, 1, 1, 12, 1, 25, 0, time.UTC), n.EndTime)
	assert.Equal(t, 31234, n.OrbitNumber)
	assert.Equal(t, "RNSCA-RVIRS_j01_d20240101_t1200000_e1201250_b31234_c20240101120310000000_drlu_ops.h5", n.UID)
}

func TestFileNotifications_NoStamp(t *testing.T) {
	_, err := fileNotifications("/file/viirs/rdr", "viirs", []string{"/data/readme.txt"})
	require.Error(t, err)
}

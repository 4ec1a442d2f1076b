package invoker

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/sdr-runner/internal/config"
)

func TestCollectSDR(t *testing.T) {
	dir := t.TempDir()
	names := []string{
		"SVM05_npp_d20240101_t1200001_e1201255_b63001_c1_cspp_dev.h5",
		"GMTCO_npp_d20240101_t1200001_e1201255_b63001_c1_cspp_dev.h5",
		"SVI01_npp_d20240101_t1200001_e1201255_b63001_c1_cspp_dev.h5",
		"GITCO_npp_d20240101_t1200001_e1201255_b63001_c1_cspp_dev.h5",
		"SVDNB_npp_d20240101_t1200001_e1201255_b63001_c1_cspp_dev.h5",
		"GDNBO_npp_d20240101_t1200001_e1201255_b63001_c1_cspp_dev.h5",
		"RNSCA-RVIRS_npp_d20240101_t1200001_e1201255_b63001_c1_drlu_ops.h5",
		"viirs_sdr_20240101.log",
	}
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), nil, 0o600))
	}
	nested := filepath.Join(dir, "anc", "cache")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(nested, "IVCDB_npp_d20240101_t1200001_e1201255_b63001_c1_cspp_dev.h5"), nil, 0o600))

	files, err := collectSDR(dir, "viirs")
	require.NoError(t, err)

	var bases []string
	for _, f := range files {
		bases = append(bases, filepath.Base(f))
	}
	assert.ElementsMatch(t, []string{
		"SVM05_npp_d20240101_t1200001_e1201255_b63001_c1_cspp_dev.h5",
		"GMTCO_npp_d20240101_t1200001_e1201255_b63001_c1_cspp_dev.h5",
		"SVI01_npp_d20240101_t1200001_e1201255_b63001_c1_cspp_dev.h5",
		"GITCO_npp_d20240101_t1200001_e1201255_b63001_c1_cspp_dev.h5",
		"SVDNB_npp_d20240101_t1200001_e1201255_b63001_c1_cspp_dev.h5",
		"GDNBO_npp_d20240101_t1200001_e1201255_b63001_c1_cspp_dev.h5",
		"IVCDB_npp_d20240101_t1200001_e1201255_b63001_c1_cspp_dev.h5",
	}, bases)
}

func TestCollectSDR_PerSensor(t *testing.T) {
	names := []string{
		"SVM05_j01_d20240101_t1200001_e1201255_b31234_c1_cspp_dev.h5",
		"GMTCO_j01_d20240101_t1200001_e1201255_b31234_c1_cspp_dev.h5",
		"SATMS_j01_d20240101_t1200001_e1201255_b31234_c1_cspp_dev.h5",
		"GATMO_j01_d20240101_t1200001_e1201255_b31234_c1_cspp_dev.h5",
		"TATMS_j01_d20240101_t1200001_e1201255_b31234_c1_cspp_dev.h5",
		"SCRIS_j01_d20240101_t1200001_e1201255_b31234_c1_cspp_dev.h5",
		"SCRIF_j01_d20240101_t1200001_e1201255_b31234_c1_cspp_dev.h5",
		"GCRSO_j01_d20240101_t1200001_e1201255_b31234_c1_cspp_dev.h5",
	}
	tests := []struct {
		sensor string
		want   []string
	}{
		{"viirs", []string{names[1], names[0]}},
		{"atms", []string{names[3], names[2]}},
		{"cris", []string{names[7], names[6], names[5]}},
	}
	for _, tt := range tests {
		t.Run(tt.sensor, func(t *testing.T) {
			dir := t.TempDir()
			for _, n := range names {
				require.NoError(t, os.WriteFile(filepath.Join(dir, n), nil, 0o600))
			}

			files, err := collectSDR(dir, tt.sensor)
			require.NoError(t, err)

			var bases []string
			for _, f := range files {
				bases = append(bases, filepath.Base(f))
			}
			assert.Equal(t, tt.want, bases)
		})
	}
}

func TestCollectSDR_UnknownSensor(t *testing.T) {
	_, err := collectSDR(t.TempDir(), "mersi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `sensor "mersi"`)
}

func TestSDRPatterns_CoverConfiguredSensors(t *testing.T) {
	for _, s := range config.Sensors {
		assert.NotEmpty(t, sdrPatterns[s], s)
	}
}

func TestMarkComplete(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "noaa20_20240101_1200_31234")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	ok, err := markComplete(dir)
	require.NoError(t, err)
	assert.Equal(t, dir+".okay", ok)
	assert.FileExists(t, ok)
}

func TestMoveFiles(t *testing.T) {
	src := t.TempDir()
	dst := filepath.Join(t.TempDir(), "npp_20240101_1200_63001")
	a := filepath.Join(src, "SVM01.h5")
	require.NoError(t, os.WriteFile(a, []byte("band"), 0o600))

	moved, err := moveFiles([]string{a}, dst)
	require.NoError(t, err)
	require.Equal(t, []string{filepath.Join(dst, "SVM01.h5")}, moved)
	assert.NoFileExists(t, a)

	b, err := os.ReadFile(moved[0])
	require.NoError(t, err)
	assert.Equal(t, "band", string(b))
}

func TestCopyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "in.h5")
	dst := filepath.Join(dir, "out.h5")
	require.NoError(t, os.WriteFile(src, []byte("granule"), 0o600))

	require.NoError(t, copyFile(src, dst))
	b, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "granule", string(b))
}

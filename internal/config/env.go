package config

import "os"

// Environment variables the external SDR toolchain depends on.
const (
	EnvSDRHome = "CSPP_SDR_HOME"
	EnvWorkDir = "CSPP_WORKDIR"
)

// CheckEnvironment verifies the toolchain environment is set. A nil lookup
// means os.LookupEnv.
func CheckEnvironment(lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	var missing []string
	for _, key := range []string{EnvSDRHome, EnvWorkDir} {
		if v, ok := lookup(key); !ok || v == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return &EnvironmentError{Missing: missing}
	}
	return nil
}

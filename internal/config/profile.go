package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to the upper-cased key name for environment overrides.
const EnvPrefix = "SDR_RUNNER_"

// Section names with special meaning in the profile file.
const (
	defaultSection = "default"
	offlineSection = "offline"
)

// Sensors are the instruments a profile may process.
var Sensors = []string{"viirs", "atms", "cris"}

// Profile holds all settings of one site profile. It is resolved once at
// startup and passed by value to every component.
type Profile struct {
	Name string

	Site       string
	Mode       string
	Level1Home string
	WorkingDir string

	SDRCall    string
	SDROptions []string
	NCPUs      int

	PublishTopic    string
	SubscribeTopics []string

	RemoteLUTURL           string
	RemoteAncURL           string
	LUTDir                 string
	LUTStampPrefix         string
	AncStampPrefix         string
	DownloadTrialFrequency time.Duration
	LUTMaxAge              time.Duration
	MirrorLUTsCall         string
	MirrorAncCall          string
	UpdateTimeout          time.Duration

	GranuleTolerance time.Duration
	DuplicateWindow  time.Duration
	Sensor           string

	LogRotationDays    int
	LogRotationBackups int

	Brokers         []string
	GroupID         string
	HTTPAddr        string
	ShutdownTimeout time.Duration
}

// lookup resolves a key through the environment and the section layers.
type lookup struct {
	layers []*viper.Viper
}

func (l lookup) get(key string) (string, bool) {
	if v, ok := os.LookupEnv(EnvPrefix + strings.ToUpper(key)); ok {
		return strings.TrimSpace(v), true
	}
	for _, layer := range l.layers {
		if layer != nil && layer.IsSet(key) {
			return strings.TrimSpace(layer.GetString(key)), true
		}
	}
	return "", false
}

// Load reads the named profile from an INI file. Keys are resolved from the
// SDR_RUNNER_<KEY> environment variable, the profile section, [DEFAULT], and
// [offline], in that order. All missing required keys are reported together.
func Load(path, profile string) (*Profile, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("ini")
	if err := v.ReadInConfig(); err != nil {
		return nil, &ConfigError{Path: path, Profile: profile, Err: err}
	}

	section := strings.ToLower(profile)
	sub := v.Sub(section)
	if sub == nil {
		return nil, &ConfigError{Path: path, Profile: profile, Err: fmt.Errorf("profile %q not found", profile)}
	}
	l := lookup{layers: []*viper.Viper{sub, v.Sub(defaultSection)}}
	if section != offlineSection {
		l.layers = append(l.layers, v.Sub(offlineSection))
	}

	p := &Profile{Name: profile}
	r := &reader{l: l}

	p.Site = r.required("site")
	p.Mode = r.required("mode")
	p.Level1Home = r.required("level1_home")
	p.WorkingDir = r.optional("working_dir", os.Getenv(EnvWorkDir))
	p.SDRCall = r.required("viirs_sdr_call")
	p.SDROptions = r.list("viirs_sdr_options")
	p.NCPUs = r.integer("ncpus", 1)
	p.PublishTopic = r.required("publish_topic")
	p.SubscribeTopics = splitList(r.required("subscribe_topics"))
	p.RemoteLUTURL = r.required("url_jpss_remote_lut_dir")
	p.RemoteAncURL = r.required("url_jpss_remote_anc_dir")
	p.LUTDir = r.optional("lut_dir", filepath.Join(os.Getenv(EnvSDRHome), "anc", "cache", "incoming_luts"))
	p.LUTStampPrefix = r.required("lut_update_stampfile_prefix")
	p.AncStampPrefix = r.required("anc_update_stampfile_prefix")
	p.DownloadTrialFrequency = r.duration("url_download_trial_frequency_hours", time.Hour, "", true)
	p.LUTMaxAge = r.duration("threshold_lut_files_age_days", 24*time.Hour, "14", false)
	p.MirrorLUTsCall = r.optional("mirror_jpss_luts", "")
	p.MirrorAncCall = r.optional("mirror_jpss_ancillary", "")
	p.UpdateTimeout = r.duration("update_timeout_minutes", time.Minute, "10", false)
	p.GranuleTolerance = r.duration("granule_time_tolerance", time.Second, "10", false)
	p.DuplicateWindow = r.duration("duplicate_window_hours", time.Hour, "1", false)
	p.Sensor = strings.ToLower(r.optional("sensor", "viirs"))
	p.LogRotationDays = r.integer("log_rotation_days", 1)
	p.LogRotationBackups = r.integer("log_rotation_backup", 7)
	p.Brokers = sharedcfg.ParseBrokers(r.optional("kafka_brokers", "localhost:9092"))
	p.GroupID = r.optional("kafka_group_id", "sdr-runner-"+p.Site)
	p.HTTPAddr = r.optional("http_addr", ":8080")
	p.ShutdownTimeout = r.duration("shutdown_timeout_seconds", time.Second, "30", false)

	if p.NCPUs < 1 {
		r.invalid("ncpus", strconv.Itoa(p.NCPUs), fmt.Errorf("must be at least 1"))
	}
	if !slices.Contains(Sensors, p.Sensor) {
		r.invalid("sensor", p.Sensor, fmt.Errorf("must be one of %s", strings.Join(Sensors, ", ")))
	}
	if len(p.SubscribeTopics) == 0 && r.has("subscribe_topics") {
		r.invalid("subscribe_topics", "", fmt.Errorf("no topics listed"))
	}

	if err := r.errs.ErrorOrNil(); err != nil {
		return nil, &ConfigError{Path: path, Profile: profile, Keys: r.keys, Err: err}
	}
	return p, nil
}

// reader accumulates every missing or malformed key instead of stopping at the first.
type reader struct {
	l    lookup
	errs *multierror.Error
	keys []string
}

func (r *reader) has(key string) bool {
	_, ok := r.l.get(key)
	return ok
}

func (r *reader) fail(key string, err error) {
	r.keys = append(r.keys, key)
	r.errs = multierror.Append(r.errs, err)
}

func (r *reader) invalid(key, val string, err error) {
	r.fail(key, fmt.Errorf("%s: invalid value %q: %w", key, val, err))
}

func (r *reader) required(key string) string {
	v, ok := r.l.get(key)
	if !ok || v == "" {
		r.fail(key, fmt.Errorf("%s is required", key))
		return ""
	}
	return v
}

func (r *reader) optional(key, def string) string {
	if v, ok := r.l.get(key); ok && v != "" {
		return v
	}
	return def
}

func (r *reader) integer(key string, def int) int {
	v, ok := r.l.get(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.invalid(key, v, err)
		return def
	}
	return n
}

// duration parses a decimal count of unit. An empty def with required set
// reports the key as missing.
func (r *reader) duration(key string, unit time.Duration, def string, required bool) time.Duration {
	var v string
	if required {
		v = r.required(key)
		if v == "" {
			return 0
		}
	} else {
		v = r.optional(key, def)
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.invalid(key, v, err)
		return 0
	}
	if f < 0 {
		r.invalid(key, v, fmt.Errorf("must not be negative"))
		return 0
	}
	return time.Duration(f * float64(unit))
}

// list parses a bracketed list literal such as ['-p', '4'] or a bare
// whitespace separated string.
func (r *reader) list(key string) []string {
	v, ok := r.l.get(key)
	if !ok || v == "" {
		return nil
	}
	if !strings.HasPrefix(v, "[") {
		return strings.Fields(v)
	}
	var out []string
	if err := yaml.Unmarshal([]byte(v), &out); err != nil {
		r.invalid(key, v, err)
		return nil
	}
	return out
}

// splitList splits a comma separated value, dropping empty entries. Topic
// lists follow the same rules as broker lists.
func splitList(s string) []string {
	return sharedcfg.ParseBrokers(s)
}

package domain

import "strings"

// platformAliases maps every spelling seen in notifications and file names
// to the short platform name used for directory names and correlation keys.
var platformAliases = map[string]string{
	"suomi-npp": "npp",
	"snpp":      "npp",
	"npp":       "npp",
	"noaa-20":   "noaa20",
	"noaa20":    "noaa20",
	"jpss-1":    "noaa20",
	"j01":       "noaa20",
	"noaa-21":   "noaa21",
	"noaa21":    "noaa21",
	"jpss-2":    "noaa21",
	"j02":       "noaa21",
}

// NormalizePlatform returns the short name for a known JPSS platform.
func NormalizePlatform(name string) (string, bool) {
	short, ok := platformAliases[strings.ToLower(strings.TrimSpace(name))]
	return short, ok
}

var displayNames = map[string]string{
	"npp":    "Suomi-NPP",
	"noaa20": "NOAA-20",
	"noaa21": "NOAA-21",
}

// PlatformDisplayName returns the platform_name spelling used in
// notifications for any known alias, or name unchanged.
func PlatformDisplayName(name string) string {
	if short, ok := NormalizePlatform(name); ok {
		return displayNames[short]
	}
	return name
}

package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Message types carried in the notification envelope.
const (
	TypeFile    = "file"
	TypeDataset = "dataset"
)

// timeLayout is the timestamp format used inside notification payloads.
const timeLayout = "2006-01-02T15:04:05.000000"

// payload keys with a typed home on Notification. Everything else lands in Extra.
const (
	keyURI          = "uri"
	keyUID          = "uid"
	keyPlatformName = "platform_name"
	keySensor       = "sensor"
	keyStartTime    = "start_time"
	keyEndTime      = "end_time"
	keyOrbitNumber  = "orbit_number"
	keyMoreSegments = "more_segments"
	keyDataset      = "dataset"
)

// File is one entry of a dataset notification.
type File struct {
	URI string `json:"uri"`
	UID string `json:"uid"`
}

// Notification is a message on the bus: an inbound file-arrival announcement
// or an outbound dataset announcement.
type Notification struct {
	Topic  string
	Type   string
	Sender string
	Time   time.Time

	URI          string
	UID          string
	PlatformName string
	Sensor       []string
	StartTime    time.Time
	EndTime      time.Time
	OrbitNumber  int
	MoreSegments *bool
	Dataset      []File

	// Extra holds payload keys without a typed field so they survive re-publishing.
	Extra map[string]any

	// Commit acknowledges the message to the transport. Nil for outbound messages.
	Commit func(ctx context.Context) error
}

// envelope is the JSON form of a Notification on the wire.
type envelope struct {
	Subject string         `json:"subject"`
	Type    string         `json:"type"`
	Sender  string         `json:"sender,omitempty"`
	Time    string         `json:"time,omitempty"`
	Data    map[string]any `json:"data"`
}

// Path returns the local filesystem path of the announced file.
func (n Notification) Path() string {
	u, err := url.Parse(n.URI)
	if err != nil || u.Scheme == "" {
		return n.URI
	}
	return u.Path
}

// Filename returns the base name of the announced file.
func (n Notification) Filename() string {
	if n.UID != "" {
		return n.UID
	}
	return filepath.Base(n.Path())
}

// Platform returns the short platform name (npp, noaa20, ...), or the
// lower-cased raw name when the platform is not a known JPSS satellite.
func (n Notification) Platform() string {
	if short, ok := NormalizePlatform(n.PlatformName); ok {
		return short
	}
	return strings.ToLower(strings.TrimSpace(n.PlatformName))
}

// HasSensor reports whether the notification lists the given sensor.
func (n Notification) HasSensor(sensor string) bool {
	for _, s := range n.Sensor {
		if strings.EqualFold(strings.TrimSpace(s), sensor) {
			return true
		}
	}
	return false
}

// DecodeNotification parses a wire message. A payload without an envelope is
// treated as bare data; topic and ts fill in the envelope fields when absent.
func DecodeNotification(topic string, value []byte, ts time.Time) (Notification, error) {
	var raw map[string]any
	if err := json.Unmarshal(value, &raw); err != nil {
		return Notification{}, fmt.Errorf("decode notification: %w", err)
	}

	env := envelope{Subject: topic, Type: TypeFile, Data: raw}
	if data, ok := raw["data"].(map[string]any); ok {
		env.Data = data
		if s, ok := raw["subject"].(string); ok && s != "" {
			env.Subject = s
		}
		if s, ok := raw["type"].(string); ok && s != "" {
			env.Type = s
		}
		env.Sender, _ = raw["sender"].(string)
		env.Time, _ = raw["time"].(string)
	}

	n := Notification{
		Topic:  env.Subject,
		Type:   env.Type,
		Sender: env.Sender,
		Time:   ts,
		Extra:  map[string]any{},
	}
	if env.Time != "" {
		t, err := ParseTime(env.Time)
		if err != nil {
			return Notification{}, fmt.Errorf("decode notification time: %w", err)
		}
		n.Time = t
	}

	for key, val := range env.Data {
		var err error
		switch key {
		case keyURI:
			n.URI = stringValue(val)
		case keyUID:
			n.UID = stringValue(val)
		case keyPlatformName:
			n.PlatformName = stringValue(val)
		case keySensor:
			n.Sensor = stringList(val)
		case keyStartTime:
			n.StartTime, err = timeValue(val)
		case keyEndTime:
			n.EndTime, err = timeValue(val)
		case keyOrbitNumber:
			n.OrbitNumber, err = intValue(val)
		case keyMoreSegments:
			if b, ok := val.(bool); ok {
				n.MoreSegments = &b
			}
		case keyDataset:
			n.Dataset = fileList(val)
		default:
			n.Extra[key] = val
		}
		if err != nil {
			return Notification{}, fmt.Errorf("decode notification %s: %w", key, err)
		}
	}
	return n, nil
}

// EncodeNotification marshals a Notification into its wire envelope.
func EncodeNotification(n Notification) ([]byte, error) {
	data := make(map[string]any, len(n.Extra)+8)
	for k, v := range n.Extra {
		data[k] = v
	}
	setIf := func(key, val string) {
		if val != "" {
			data[key] = val
		}
	}
	setIf(keyURI, n.URI)
	setIf(keyUID, n.UID)
	setIf(keyPlatformName, n.PlatformName)
	if len(n.Sensor) > 0 {
		data[keySensor] = n.Sensor
	}
	if !n.StartTime.IsZero() {
		data[keyStartTime] = FormatTime(n.StartTime)
	}
	if !n.EndTime.IsZero() {
		data[keyEndTime] = FormatTime(n.EndTime)
	}
	if n.OrbitNumber != 0 {
		data[keyOrbitNumber] = n.OrbitNumber
	}
	if n.MoreSegments != nil {
		data[keyMoreSegments] = *n.MoreSegments
	}
	if len(n.Dataset) > 0 {
		data[keyDataset] = n.Dataset
	}

	env := envelope{
		Subject: n.Topic,
		Type:    n.Type,
		Sender:  n.Sender,
		Data:    data,
	}
	if !n.Time.IsZero() {
		env.Time = FormatTime(n.Time)
	}

	out, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode notification: %w", err)
	}
	return out, nil
}

// FormatTime renders t in the payload timestamp format (UTC, microseconds).
func FormatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// ParseTime accepts the payload timestamp format with or without fractional
// seconds, and RFC 3339.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02T15:04:05", "2006-01-02 15:04:05.999999999", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

func stringValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

func stringList(v any) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			out = append(out, stringValue(item))
		}
		return out
	default:
		return nil
	}
}

func timeValue(v any) (time.Time, error) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("expected timestamp string, got %T", v)
	}
	return ParseTime(s)
}

func intValue(v any) (int, error) {
	switch t := v.(type) {
	case float64:
		return int(t), nil
	case string:
		return strconv.Atoi(strings.TrimSpace(t))
	case nil:
		return 0, nil
	default:
		return 0, fmt.Errorf("expected number, got %T", v)
	}
}

func fileList(v any) []File {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]File, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, File{URI: stringValue(m[keyURI]), UID: stringValue(m[keyUID])})
	}
	return out
}

package models

import (
	"strings"
	"time"
)

// SupportedTimestampFormats lists formats we attempt to parse
var SupportedTimestampFormats = []string{
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	time.RFC1123,
	time.UnixDate,
}

// Normalize applies field normalization to a MonitorObject
// - trims Name and TaskName
// - upper-cases the leading T of ROOT-style object types (th1f -> TH1F)
// - lower-cases metadata keys
func (m *MonitorObject) Normalize() {
	m.Name = strings.TrimSpace(m.Name)
	m.TaskName = strings.TrimSpace(m.TaskName)

	m.ObjectType = strings.TrimSpace(m.ObjectType)
	if strings.HasPrefix(strings.ToLower(m.ObjectType), "th") {
		m.ObjectType = strings.ToUpper(m.ObjectType)
	}

	if !m.Timestamp.IsZero() {
		m.Timestamp = m.Timestamp.UTC()
	}

	if m.Metadata != nil {
		normalized := make(map[string]string, len(m.Metadata))
		for k, v := range m.Metadata {
			normalized[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
		}
		m.Metadata = normalized
	}
}

// ParseTimestamp attempts to parse a timestamp string into time.Time
func ParseTimestamp(ts string) (time.Time, error) {
	ts = strings.TrimSpace(ts)

	for _, format := range SupportedTimestampFormats {
		if t, err := time.Parse(format, ts); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, ErrInvalidTimestamp
}

// SplitFullName splits "task/name" into its parts.
func SplitFullName(fullName string) (task, name string, err error) {
	idx := strings.Index(fullName, "/")
	if idx <= 0 || idx == len(fullName)-1 {
		return "", "", ErrInvalidFullName
	}
	return fullName[:idx], fullName[idx+1:], nil
}

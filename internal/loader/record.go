// Package loader fetches the records of a connected platform and keeps the
// most recently loaded set.
package loader

import (
	"encoding/json"
	"time"

	"github.com/majorcontext/portage/internal/platform"
)

// UnknownType is the group for records that carry no type.
const UnknownType = "Unknown"

// Record is one item returned by a platform: a contact, a page, a base.
type Record struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	URL              string    `json:"url,omitempty"`
	Type             string    `json:"type"`
	Directory        bool      `json:"directory,omitempty"`
	ParentID         string    `json:"parent_id,omitempty"`
	ParentPathOrName string    `json:"parent_path_or_name,omitempty"`
	CreationTime     Timestamp `json:"creation_time"`
	LastModifiedTime Timestamp `json:"last_modified_time"`
	Visibility       *bool     `json:"visibility,omitempty"`
}

// Timestamp decodes RFC 3339 strings leniently: empty strings, null and
// unparseable values leave it zero, and the raw text is kept.
type Timestamp struct {
	time.Time
	Raw string
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		// Non-string values (null, numbers) are treated as absent.
		*t = Timestamp{}
		return nil
	}
	*t = ParseTimestamp(s)
	return nil
}

// ParseTimestamp parses s leniently. The result keeps s as Raw and has a
// zero Time when s is empty or not a recognized layout.
func ParseTimestamp(s string) Timestamp {
	t := Timestamp{Raw: s}
	if s == "" {
		return t
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02 15:04:05"} {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			break
		}
	}
	return t
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.Time.IsZero() {
		return json.Marshal(t.Raw)
	}
	return json.Marshal(t.Time.Format(time.RFC3339Nano))
}

// String returns the timestamp as received, or RFC 3339 when it was set
// in code.
func (t Timestamp) String() string {
	if t.Raw != "" {
		return t.Raw
	}
	if t.Time.IsZero() {
		return ""
	}
	return t.Time.Format(time.RFC3339)
}

// NewTimestamp wraps tm.
func NewTimestamp(tm time.Time) Timestamp {
	return Timestamp{Time: tm}
}

// RecordSet is the result of one successful load.
type RecordSet struct {
	Platform platform.Platform `json:"platform"`
	Records  []Record          `json:"records"`
	LoadedAt time.Time         `json:"loaded_at"`
}

// Len returns the number of records.
func (s RecordSet) Len() int {
	return len(s.Records)
}

// Group is the records of one type.
type Group struct {
	Type    string
	Records []Record
}

// GroupByType partitions records by Type. Groups appear in the order their
// type is first seen and records keep their input order. Type keys are
// exact, so " " and "page" are their own groups. Records with an empty type
// fall into UnknownType.
func GroupByType(records []Record) []Group {
	var groups []Group
	index := make(map[string]int)
	for _, r := range records {
		key := r.Type
		if key == "" {
			key = UnknownType
		}
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, Group{Type: key})
		}
		groups[i].Records = append(groups[i].Records, r)
	}
	return groups
}

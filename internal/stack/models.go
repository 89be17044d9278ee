package stack

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MinBulkSchemaVersion is the lowest stack schema version that supports the
// bulk publish endpoints.
const MinBulkSchemaVersion = 3

// Stack is the remote content container the credentials address.
type Stack struct {
	Name          string
	APIKey        string
	MasterLocale  string
	SchemaVersion int
}

// SupportsBulk reports whether the stack schema is new enough for bulk
// operations.
func (s *Stack) SupportsBulk() bool {
	return s.SchemaVersion >= MinBulkSchemaVersion
}

func (s *Stack) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name              string `json:"name"`
		APIKey            string `json:"api_key"`
		MasterLocale      string `json:"master_locale"`
		DiscreteVariables struct {
			Version flexInt `json:"_version"`
		} `json:"discrete_variables"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = Stack{
		Name:          raw.Name,
		APIKey:        raw.APIKey,
		MasterLocale:  raw.MasterLocale,
		SchemaVersion: int(raw.DiscreteVariables.Version),
	}
	return nil
}

// Server is a delivery target attached to an environment.
type Server struct {
	Name string `json:"name"`
}

// Environment is a named publishing target.
type Environment struct {
	UID     string   `json:"uid"`
	Name    string   `json:"name"`
	Servers []Server `json:"servers"`
}

// ContentType is a schema that groups entries.
type ContentType struct {
	UID   string
	Title string
	// EntryTitleField names the entry field used as a human label.
	EntryTitleField string
}

func (ct *ContentType) UnmarshalJSON(data []byte) error {
	var raw struct {
		UID     string `json:"uid"`
		Title   string `json:"title"`
		Options struct {
			Title string `json:"title"`
		} `json:"options"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	field := raw.Options.Title
	if field == "" {
		field = "title"
	}
	*ct = ContentType{UID: raw.UID, Title: raw.Title, EntryTitleField: field}
	return nil
}

// PublishRecord is one historical publish event of an entry or asset.
type PublishRecord struct {
	Environment string
	Locale      string
	Version     int
	Time        time.Time
}

func (r *PublishRecord) UnmarshalJSON(data []byte) error {
	var raw struct {
		Environment string          `json:"environment"`
		Locale      string          `json:"locale"`
		Version     flexInt         `json:"version"`
		Time        json.RawMessage `json:"time"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	ts, err := parseTime(raw.Time)
	if err != nil {
		return fmt.Errorf("publish record time: %w", err)
	}
	*r = PublishRecord{
		Environment: raw.Environment,
		Locale:      raw.Locale,
		Version:     int(raw.Version),
		Time:        ts,
	}
	return nil
}

// PublishDetails is the publish history of a record. The API returns either a
// single object or an array; both decode to a slice.
type PublishDetails []PublishRecord

func (d *PublishDetails) UnmarshalJSON(data []byte) error {
	records, err := decodePublishDetails(data, 0)
	if err != nil {
		return err
	}
	*d = records
	return nil
}

// decodePublishDetails normalizes the object-or-array form. A single object
// describes the current revision, so it takes parentVersion when one is known.
func decodePublishDetails(data []byte, parentVersion int) (PublishDetails, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var records []PublishRecord
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, err
		}
		return records, nil
	}
	var record PublishRecord
	if err := json.Unmarshal(trimmed, &record); err != nil {
		return nil, err
	}
	if parentVersion > 0 {
		record.Version = parentVersion
	}
	return PublishDetails{record}, nil
}

// Entry is one content item of a content type in one locale.
type Entry struct {
	UID            string
	Locale         string
	Version        int
	Fields         map[string]any
	PublishDetails PublishDetails
}

func (e *Entry) UnmarshalJSON(data []byte) error {
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	var raw struct {
		UID            string          `json:"uid"`
		Locale         string          `json:"locale"`
		Version        flexInt         `json:"version"`
		AltVersion     flexInt         `json:"_version"`
		PublishDetails json.RawMessage `json:"publish_details"`
		Metadata       struct {
			UID    string `json:"uid"`
			Locale string `json:"locale"`
		} `json:"_metadata"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	version := int(raw.Version)
	if version == 0 {
		version = int(raw.AltVersion)
	}
	uid := raw.UID
	if uid == "" {
		uid = raw.Metadata.UID
	}
	locale := raw.Locale
	if locale == "" {
		locale = raw.Metadata.Locale
	}
	details, err := decodePublishDetails(raw.PublishDetails, version)
	if err != nil {
		return fmt.Errorf("entry %q publish_details: %w", uid, err)
	}
	*e = Entry{
		UID:            uid,
		Locale:         locale,
		Version:        version,
		Fields:         fields,
		PublishDetails: details,
	}
	return nil
}

// Title returns the string value of field, or "" when absent.
func (e *Entry) Title(field string) string {
	if field == "" {
		field = "title"
	}
	if v, ok := e.Fields[field].(string); ok {
		return v
	}
	return ""
}

// Asset is an uploaded file.
type Asset struct {
	UID            string
	Filename       string
	Title          string
	Version        int
	PublishDetails PublishDetails
}

func (a *Asset) UnmarshalJSON(data []byte) error {
	var raw struct {
		UID            string          `json:"uid"`
		Filename       string          `json:"filename"`
		Title          string          `json:"title"`
		Version        flexInt         `json:"version"`
		AltVersion     flexInt         `json:"_version"`
		PublishDetails json.RawMessage `json:"publish_details"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	version := int(raw.Version)
	if version == 0 {
		version = int(raw.AltVersion)
	}
	details, err := decodePublishDetails(raw.PublishDetails, version)
	if err != nil {
		return fmt.Errorf("asset %q publish_details: %w", raw.UID, err)
	}
	*a = Asset{
		UID:            raw.UID,
		Filename:       raw.Filename,
		Title:          raw.Title,
		Version:        version,
		PublishDetails: details,
	}
	return nil
}

// flexInt decodes a JSON number or numeric string.
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(data)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid integer %q", s)
	}
	*f = flexInt(n)
	return nil
}

// parseTime accepts an RFC3339 string or numeric unix seconds.
func parseTime(data json.RawMessage) (time.Time, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return time.Time{}, nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return time.Time{}, err
		}
		if s == "" {
			return time.Time{}, nil
		}
		return time.Parse(time.RFC3339Nano, s)
	}
	secs, err := strconv.ParseFloat(string(trimmed), 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %s", trimmed)
	}
	return time.Unix(int64(secs), 0).UTC(), nil
}

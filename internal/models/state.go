package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Checkpoint maps a tag-key to the creation timestamp (unix seconds) from which
// the next fetch starts. Everything before it has been persisted.
type Checkpoint map[string]int64

// Cursor returns the stored boundary for key and whether the key is present.
func (c Checkpoint) Cursor(key string) (int64, bool) {
	v, ok := c[key]
	return v, ok
}

// Clone returns an independent copy of the checkpoint.
func (c Checkpoint) Clone() Checkpoint {
	out := make(Checkpoint, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// MarshalJSON writes timestamps as strings, the format of the checkpoint file.
func (c Checkpoint) MarshalJSON() ([]byte, error) {
	out := make(map[string]string, len(c))
	for k, v := range c {
		out[k] = strconv.FormatInt(v, 10)
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts both stringified and plain numeric timestamps.
func (c *Checkpoint) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decoding checkpoint: %w", err)
	}
	out := make(Checkpoint, len(raw))
	for k, v := range raw {
		ts, err := parseTimestamp(v)
		if err != nil {
			return fmt.Errorf("checkpoint %q: %w", k, err)
		}
		out[k] = ts
	}
	*c = out
	return nil
}

func parseTimestamp(raw json.RawMessage) (int64, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		if s == "" {
			return 0, nil
		}
		return strconv.ParseInt(s, 10, 64)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, fmt.Errorf("invalid timestamp %s", string(raw))
	}
	return n.Int64()
}

// TagStatus is the schedule flag of a tag-key
type TagStatus string

const (
	StatusPending   TagStatus = "0"
	StatusExhausted TagStatus = "1"
)

// ScheduleEntry is one line of the tag-status file.
type ScheduleEntry struct {
	Key    string
	Status TagStatus
}

// Schedule is the ordered tag-status mapping. Order decides which pending tag
// is harvested next, so it is preserved through JSON encoding.
type Schedule struct {
	Entries []ScheduleEntry
}

// NewSchedule builds a schedule with every key pending.
func NewSchedule(keys ...string) *Schedule {
	s := &Schedule{}
	s.Ensure(keys...)
	return s
}

// NextPending returns the first pending tag-key.
func (s *Schedule) NextPending() (string, bool) {
	if s == nil {
		return "", false
	}
	for _, e := range s.Entries {
		if e.Status == StatusPending {
			return e.Key, true
		}
	}
	return "", false
}

// Status returns the status of key.
func (s *Schedule) Status(key string) (TagStatus, bool) {
	if i := s.index(key); i >= 0 {
		return s.Entries[i].Status, true
	}
	return "", false
}

// MarkExhausted flips key to exhausted. It reports whether the entry changed.
func (s *Schedule) MarkExhausted(key string) bool {
	i := s.index(key)
	if i < 0 {
		s.Entries = append(s.Entries, ScheduleEntry{Key: key, Status: StatusExhausted})
		return true
	}
	if s.Entries[i].Status == StatusExhausted {
		return false
	}
	s.Entries[i].Status = StatusExhausted
	return true
}

// Ensure appends unknown keys as pending and reports whether anything was added.
func (s *Schedule) Ensure(keys ...string) bool {
	added := false
	for _, key := range keys {
		if key == "" || s.index(key) >= 0 {
			continue
		}
		s.Entries = append(s.Entries, ScheduleEntry{Key: key, Status: StatusPending})
		added = true
	}
	return added
}

// Clone returns an independent copy of the schedule.
func (s *Schedule) Clone() *Schedule {
	if s == nil {
		return &Schedule{}
	}
	return &Schedule{Entries: append([]ScheduleEntry(nil), s.Entries...)}
}

func (s *Schedule) index(key string) int {
	if s == nil {
		return -1
	}
	for i, e := range s.Entries {
		if e.Key == key {
			return i
		}
	}
	return -1
}

// MarshalJSON writes the schedule as a JSON object in entry order.
func (s Schedule) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range s.Entries {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(e.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		status, err := json.Marshal(string(e.Status))
		if err != nil {
			return nil, err
		}
		buf.Write(status)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object keeping the order of its keys.
func (s *Schedule) UnmarshalJSON(data []byte) error {
	if t := bytes.TrimSpace(data); len(t) == 0 || bytes.Equal(t, []byte("null")) {
		s.Entries = nil
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("decoding schedule: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("decoding schedule: expected object, got %v", tok)
	}

	out := Schedule{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("decoding schedule: %w", err)
		}
		key, _ := tok.(string)

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("decoding schedule %q: %w", key, err)
		}
		status, err := parseStatus(raw)
		if err != nil {
			return fmt.Errorf("schedule %q: %w", key, err)
		}
		if i := out.index(key); i >= 0 {
			out.Entries[i].Status = status
			continue
		}
		out.Entries = append(out.Entries, ScheduleEntry{Key: key, Status: status})
	}
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("decoding schedule: %w", err)
	}

	*s = out
	return nil
}

func parseStatus(raw json.RawMessage) (TagStatus, error) {
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		var n int
		if numErr := json.Unmarshal(raw, &n); numErr != nil {
			return "", fmt.Errorf("invalid status %s", string(raw))
		}
		v = strconv.Itoa(n)
	}
	switch TagStatus(strings.TrimSpace(v)) {
	case StatusPending:
		return StatusPending, nil
	case StatusExhausted:
		return StatusExhausted, nil
	default:
		return "", fmt.Errorf("invalid status %q", v)
	}
}

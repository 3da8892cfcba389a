package models

import (
	"sort"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// DateLayout is the layout used when a date field is rendered as text.
const DateLayout = "2006-01-02"

// Record is one row of an upstream collection: an opaque id plus named field values.
// Values are string, float64, int64, time.Time or nil.
type Record struct {
	ID     string         `json:"id" db:"id"`
	Fields map[string]any `json:"fields"`
}

// Value returns the raw value of a field. Null and absent fields report false.
func (r Record) Value(field string) (any, bool) {
	v, ok := r.Fields[field]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// String returns the field rendered as text.
func (r Record) String(field string) (string, bool) {
	v, ok := r.Value(field)
	if !ok {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	case []byte:
		return string(t), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case int:
		return strconv.Itoa(t), true
	case time.Time:
		return t.Format(DateLayout), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return "", false
	}
}

// Float returns the field as a number. Text is not parsed here; coercion is the
// record source's job.
func (r Record) Float(field string) (float64, bool) {
	v, ok := r.Value(field)
	if !ok {
		return 0, false
	}
	switch t := v.(type) {
	case float64:
		return t, true
	case int64:
		return float64(t), true
	case int:
		return float64(t), true
	case time.Time:
		return float64(t.Unix()), true
	default:
		return 0, false
	}
}

// Time returns the field as a timestamp.
func (r Record) Time(field string) (time.Time, bool) {
	v, ok := r.Value(field)
	if !ok {
		return time.Time{}, false
	}
	t, ok := v.(time.Time)
	if !ok || t.IsZero() {
		return time.Time{}, false
	}
	return t, true
}

// CompareIDs orders record ids. Ids that are base-10 integers sort numerically
// and before every non-integer id; the rest sort lexically. Distinct ids with
// the same integer value ("7", "07") fall back to lexical order, so only equal
// strings compare as 0.
func CompareIDs(a, b string) int {
	ai, aErr := strconv.ParseInt(a, 10, 64)
	bi, bErr := strconv.ParseInt(b, 10, 64)
	switch {
	case aErr == nil && bErr == nil:
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		}
	case aErr == nil:
		return -1
	case bErr == nil:
		return 1
	}
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// LessID reports whether a sorts before b under CompareIDs.
func LessID(a, b string) bool {
	return CompareIDs(a, b) < 0
}

// SortIDs sorts ids in place under CompareIDs.
func SortIDs(ids []string) {
	sort.Slice(ids, func(i, j int) bool { return LessID(ids[i], ids[j]) })
}

// Collection is an immutable, in-memory set of records loaded for one run.
type Collection struct {
	Name    string
	records []Record
	byID    map[string]int
}

// NewCollection indexes records by id. Duplicate ids are rejected.
func NewCollection(name string, records []Record) (*Collection, error) {
	byID := make(map[string]int, len(records))
	for i, r := range records {
		if _, dup := byID[r.ID]; dup {
			return nil, errors.Wrapf(ErrMalformedInput, "duplicate record id %q in %s", r.ID, name)
		}
		byID[r.ID] = i
	}
	return &Collection{Name: name, records: records, byID: byID}, nil
}

// Len returns the number of records.
func (c *Collection) Len() int {
	if c == nil {
		return 0
	}
	return len(c.records)
}

// Records returns the records in load order. The slice must not be modified.
func (c *Collection) Records() []Record {
	return c.records
}

// Get fetches a record by id. A nil collection holds nothing.
func (c *Collection) Get(id string) (Record, bool) {
	if c == nil {
		return Record{}, false
	}
	i, ok := c.byID[id]
	if !ok {
		return Record{}, false
	}
	return c.records[i], true
}

// IDs returns all record ids in CompareIDs order.
func (c *Collection) IDs() []string {
	ids := make([]string, 0, len(c.records))
	for _, r := range c.records {
		ids = append(ids, r.ID)
	}
	SortIDs(ids)
	return ids
}

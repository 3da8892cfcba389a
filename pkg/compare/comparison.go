package compare

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Ramsey-B/sorrel/pkg/fingerprint"
	"github.com/Ramsey-B/sorrel/pkg/models"
	"github.com/Ramsey-B/sorrel/pkg/normalizers"
	"github.com/Ramsey-B/sorrel/pkg/similarity"
)

// MissingPolicy says what a comparison yields when either value is null.
type MissingPolicy string

const (
	// MissingValue stores the comparison's MissingValue as the score.
	MissingValue MissingPolicy = "value"
	// MissingExclude stores models.Missing so aggregates skip the field.
	MissingExclude MissingPolicy = "exclude"
)

// Comparison is one field-level comparison producing one feature column.
type Comparison struct {
	Label      string            `yaml:"label" json:"label" validate:"required"`
	Left       string            `yaml:"left" json:"left" validate:"required"`
	Right      string            `yaml:"right" json:"right"`
	Method     similarity.Method `yaml:"method" json:"method" validate:"required"`
	Normalizer string            `yaml:"normalizer" json:"normalizer"`
	// Window is the numeric distance, or the number of days for dates, at which
	// proximity reaches zero.
	Window       float64       `yaml:"window" json:"window" validate:"gte=0"`
	Missing      MissingPolicy `yaml:"missing" json:"missing" validate:"required,oneof=value exclude"`
	MissingValue float64       `yaml:"missing_value" json:"missing_value" validate:"gte=0,lte=1"`
}

// RightField returns the right-side field, defaulting to the left one.
func (c Comparison) RightField() string {
	if c.Right == "" {
		return c.Left
	}
	return c.Right
}

// Validate checks a comparison list for unknown metrics, unknown normalizers,
// undeclared missing policies and duplicate labels.
func Validate(comparisons []Comparison) error {
	if len(comparisons) == 0 {
		return fmt.Errorf("at least one comparison is required")
	}
	labels := make(map[string]struct{}, len(comparisons))
	for _, c := range comparisons {
		if c.Label == "" {
			return fmt.Errorf("comparison on %q has no label", c.Left)
		}
		if _, dup := labels[c.Label]; dup {
			return fmt.Errorf("comparison label %q declared twice", c.Label)
		}
		labels[c.Label] = struct{}{}
		if !c.Method.Valid() {
			return fmt.Errorf("comparison %q: unknown method %q", c.Label, c.Method)
		}
		if !normalizers.Exists(c.Normalizer) {
			return fmt.Errorf("comparison %q: unknown normalizer %q", c.Label, c.Normalizer)
		}
		switch c.Missing {
		case MissingValue, MissingExclude:
		default:
			return fmt.Errorf("comparison %q: missing policy must be %q or %q", c.Label, MissingValue, MissingExclude)
		}
		if c.Method == similarity.MethodNumeric || c.Method == similarity.MethodDate {
			if c.Window < 0 {
				return fmt.Errorf("comparison %q: window must not be negative", c.Label)
			}
		}
	}
	return nil
}

// Labels returns the output column names in declared order.
func Labels(comparisons []Comparison) []string {
	labels := make([]string, len(comparisons))
	for i, c := range comparisons {
		labels[i] = c.Label
	}
	return labels
}

// Fingerprint hashes the comparison configuration together with every compared
// field value of both collections. A cache written under one fingerprint is
// only valid for inputs with the same fingerprint.
func Fingerprint(comparisons []Comparison, left, right *models.Collection) string {
	h := fingerprint.NewHasher()
	for _, c := range comparisons {
		h.Add(
			c.Label,
			c.Left,
			c.RightField(),
			string(c.Method),
			c.Normalizer,
			strconv.FormatFloat(c.Window, 'g', -1, 64),
			string(c.Missing),
			strconv.FormatFloat(c.MissingValue, 'g', -1, 64),
		)
	}

	self := right == nil || right == left
	hashSide := func(name string, col *models.Collection, fields func(Comparison) []string) {
		h.Add(name)
		if col == nil {
			return
		}
		for _, id := range col.IDs() {
			r, _ := col.Get(id)
			h.Add(id)
			for _, c := range comparisons {
				for _, field := range fields(c) {
					h.Add(valueKey(r, field))
				}
			}
		}
	}
	leftFields := func(c Comparison) []string { return []string{c.Left} }
	if self {
		// Both sides of a self comparison read from the same records.
		leftFields = func(c Comparison) []string {
			if rf := c.RightField(); rf != c.Left {
				return []string{c.Left, rf}
			}
			return []string{c.Left}
		}
	}
	hashSide("left", left, leftFields)
	if !self {
		hashSide("right", right, func(c Comparison) []string { return []string{c.RightField()} })
	}
	return h.Sum()
}

func valueKey(r models.Record, field string) string {
	if t, ok := r.Time(field); ok {
		return "t:" + strconv.FormatInt(t.UnixNano(), 10)
	}
	if s, ok := r.String(field); ok {
		return "v:" + s
	}
	return "\x00"
}

// score evaluates one comparison for one pair of records.
func score(s *similarity.Scorer, c Comparison, l, r models.Record) float64 {
	switch c.Method {
	case similarity.MethodNumeric:
		a, okA := l.Float(c.Left)
		b, okB := r.Float(c.RightField())
		if !okA || !okB {
			return c.missing()
		}
		return s.NumericProximity(a, b, c.Window)
	case similarity.MethodDate:
		a, okA := l.Time(c.Left)
		b, okB := r.Time(c.RightField())
		if !okA || !okB {
			return c.missing()
		}
		return s.DateProximity(a, b, c.Window)
	}

	a, okA := c.text(l, c.Left)
	b, okB := c.text(r, c.RightField())
	if !okA || !okB {
		return c.missing()
	}

	switch c.Method {
	case similarity.MethodExact:
		return s.ExactMatch(a, b, true)
	case similarity.MethodLevenshtein:
		return s.Levenshtein(a, b)
	case similarity.MethodJaroWinkler:
		return s.JaroWinkler(a, b)
	case similarity.MethodSoundex:
		return s.SoundexMatch(a, b)
	case similarity.MethodMetaphone:
		return s.MetaphoneMatch(a, b)
	}
	return c.missing()
}

// text returns the normalized value. Blank values count as missing.
func (c Comparison) text(r models.Record, field string) (string, bool) {
	v, ok := r.String(field)
	if !ok {
		return "", false
	}
	v = normalizers.Apply(v, c.Normalizer)
	if strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}

func (c Comparison) missing() float64 {
	if c.Missing == MissingExclude {
		return models.Missing
	}
	return c.MissingValue
}

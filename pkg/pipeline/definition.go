// Package pipeline runs a matching job end to end: load records, block, compare,
// classify, cluster and write the canonical entity map.
package pipeline

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/Ramsey-B/sorrel/pkg/classifier"
	"github.com/Ramsey-B/sorrel/pkg/clustering"
	"github.com/Ramsey-B/sorrel/pkg/compare"
	"github.com/Ramsey-B/sorrel/pkg/fingerprint"
	"github.com/Ramsey-B/sorrel/pkg/indexing"
	"github.com/Ramsey-B/sorrel/pkg/models"
)

var validate = validator.New()

// Mode selects linkage across two collections or deduplication of one.
type Mode string

const (
	ModeLink   Mode = "link"
	ModeDedupe Mode = "dedupe"
)

// CacheConfig locates the feature cache. A relative path is resolved against
// the process cache directory.
type CacheConfig struct {
	Features string `yaml:"features"`
	Disabled bool   `yaml:"disabled"`
}

// LabelsConfig configures the training label store and the labeling session.
type LabelsConfig struct {
	Path           string  `yaml:"path"`
	ValidationPath string  `yaml:"validation_path"`
	MaxQuestions   int     `yaml:"max_questions" validate:"gte=0"`
	RecallTarget   float64 `yaml:"recall_target" validate:"gte=0,lte=1"`
	// Display lists the fields shown to the labeler. Empty shows every compared field.
	Display []string `yaml:"display"`
}

// OutputConfig selects where results go.
type OutputConfig struct {
	// Collection keys rows in the entity map and link tables. Defaults to the definition name.
	Collection string `yaml:"collection"`
	Graph      bool   `yaml:"graph"`
	Events     bool   `yaml:"events"`
	TopN       int    `yaml:"top_n" validate:"gte=0"`
	// TotalField ranks the report by the field summed over each entity's
	// records. Empty ranks by cluster size.
	TotalField string `yaml:"total_field"`
}

// Definition is a YAML pipeline definition.
type Definition struct {
	Name        string                     `yaml:"name" validate:"required"`
	Description string                     `yaml:"description"`
	Mode        Mode                       `yaml:"mode" validate:"required,oneof=link dedupe"`
	Left        models.SourceQuery         `yaml:"left"`
	Right       *models.SourceQuery        `yaml:"right" validate:"required_if=Mode link,excluded_if=Mode dedupe"`
	Indexer     indexing.Config            `yaml:"indexer"`
	Comparisons []compare.Comparison       `yaml:"comparisons" validate:"required,min=1,dive"`
	Classifier  classifier.Config          `yaml:"classifier"`
	Cache       CacheConfig                `yaml:"cache"`
	Labels      LabelsConfig               `yaml:"labels"`
	Output      OutputConfig               `yaml:"output"`
	Profile     []clustering.FieldStrategy `yaml:"profile" validate:"dive"`
}

// Load reads, expands ${ENV} references in, defaults and validates a definition file.
func Load(path string) (*Definition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read definition %s", path)
	}
	def, err := Parse([]byte(os.ExpandEnv(string(raw))))
	if err != nil {
		return nil, errors.Wrapf(err, "invalid definition %s", filepath.Base(path))
	}
	return def, nil
}

// Parse decodes a definition. Unknown keys are rejected.
func Parse(raw []byte) (*Definition, error) {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)

	var def Definition
	if err := dec.Decode(&def); err != nil {
		return nil, errors.Wrap(err, "failed to decode definition")
	}
	def.applyDefaults()
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

func (d *Definition) applyDefaults() {
	if d.Left.Name == "" {
		d.Left.Name = d.Left.Table
	}
	if d.Right != nil && d.Right.Name == "" {
		d.Right.Name = d.Right.Table
	}
	if d.Output.Collection == "" {
		d.Output.Collection = d.Name
	}
	if d.Classifier.BestPerKey == "" {
		d.Classifier.BestPerKey = classifier.BestNone
	}
	if d.Output.TopN == 0 {
		d.Output.TopN = 10
	}
}

// Validate checks struct tags and the cross-field rules tags cannot express.
func (d *Definition) Validate() error {
	if err := validate.Struct(d); err != nil {
		return validationError(err)
	}
	if err := compare.Validate(d.Comparisons); err != nil {
		return err
	}
	if d.Classifier.Type == classifier.TypeNaiveBayes && d.Labels.Path == "" && d.Classifier.ModelPath == "" {
		return fmt.Errorf("naive_bayes classifier needs labels.path or classifier.model_path")
	}
	if d.Mode == ModeDedupe && d.Classifier.BestPerKey == classifier.BestRight {
		return fmt.Errorf("best_per_key right has no meaning when deduplicating")
	}

	fields := map[string]bool{}
	for _, f := range d.Left.Fields {
		fields[f.Name] = true
	}
	for _, c := range d.Comparisons {
		if !fields[c.Left] {
			return fmt.Errorf("comparison %q uses left field %q that %s does not load", c.Label, c.Left, d.Left.Name)
		}
		if d.Right == nil && !fields[c.RightField()] {
			return fmt.Errorf("comparison %q uses right field %q that %s does not load", c.Label, c.RightField(), d.Left.Name)
		}
	}
	if d.Output.TotalField != "" && !fields[d.Output.TotalField] {
		return fmt.Errorf("output total_field %q is not loaded by %s", d.Output.TotalField, d.Left.Name)
	}
	if d.Right != nil {
		right := map[string]bool{}
		for _, f := range d.Right.Fields {
			right[f.Name] = true
		}
		for _, c := range d.Comparisons {
			if !right[c.RightField()] {
				return fmt.Errorf("comparison %q uses right field %q that %s does not load", c.Label, c.RightField(), d.Right.Name)
			}
		}
	}
	return nil
}

// Fingerprint hashes the definition's behavior. Two definitions with the same
// fingerprint produce the same output from the same records.
func (d *Definition) Fingerprint() (string, error) {
	return fingerprint.Of(struct {
		Mode        Mode
		Left        models.SourceQuery
		Right       *models.SourceQuery
		Indexer     indexing.Config
		Comparisons []compare.Comparison
		Classifier  classifier.Config
	}{d.Mode, d.Left, d.Right, d.Indexer, d.Comparisons, d.Classifier})
}

// Settings is the run ledger snapshot of the definition.
func (d *Definition) Settings() map[string]any {
	return map[string]any{
		"mode":         string(d.Mode),
		"indexer":      string(d.Indexer.Type),
		"classifier":   string(d.Classifier.Type),
		"comparisons":  compare.Labels(d.Comparisons),
		"best_per_key": string(d.Classifier.BestPerKey),
		"collection":   d.Output.Collection,
	}
}

func validationError(err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	msg := "definition failed validation:"
	for _, fe := range verrs {
		msg += fmt.Sprintf("\n • field '%s': rule '%s' expected '%s', got '%v'", fe.Namespace(), fe.Tag(), fe.Param(), fe.Value())
	}
	return errors.New(msg)
}

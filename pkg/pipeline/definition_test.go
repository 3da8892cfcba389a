package pipeline

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/sorrel/pkg/classifier"
	"github.com/Ramsey-B/sorrel/pkg/indexing"
)

const dedupeYAML = `
name: donor-dedupe
mode: dedupe
left:
  table: contributions
  fields:
    - name: name
      column: contributor_name
    - name: zip
indexer:
  type: inverted_index
  fields:
    - name: zip
      left: zip
comparisons:
  - label: name
    left: name
    method: jarowinkler
    normalizer: nname
    missing: value
  - label: zip
    left: zip
    method: exact
    missing: exclude
classifier:
  type: threshold
  threshold:
    formula: mean
    threshold: 0.9
`

const linkYAML = `
name: contributions-to-expenditures
mode: link
left:
  name: contributions
  table: contributions
  fields:
    - name: name
right:
  name: expenditures
  table: expenditures
  fields:
    - name: payee
indexer:
  type: full
comparisons:
  - label: name
    left: name
    right: payee
    method: levenshtein
    missing: value
classifier:
  type: threshold
  best_per_key: left
  threshold:
    threshold: 0.5
output:
  collection: contribution_links
  top_n: 5
`

func TestParse(t *testing.T) {
	t.Run("dedupe defaults", func(t *testing.T) {
		def, err := Parse([]byte(dedupeYAML))
		require.NoError(t, err)

		assert.Equal(t, ModeDedupe, def.Mode)
		assert.Equal(t, "contributions", def.Left.Name)
		assert.Nil(t, def.Right)
		assert.Equal(t, "donor-dedupe", def.Output.Collection)
		assert.Equal(t, 10, def.Output.TopN)
		assert.Equal(t, classifier.BestNone, def.Classifier.BestPerKey)
		assert.Equal(t, indexing.TypeInvertedIndex, def.Indexer.Type)
		assert.Equal(t, "contributor_name", def.Left.Fields[0].ColumnName())
	})

	t.Run("link", func(t *testing.T) {
		def, err := Parse([]byte(linkYAML))
		require.NoError(t, err)

		require.NotNil(t, def.Right)
		assert.Equal(t, "expenditures", def.Right.Name)
		assert.Equal(t, "contribution_links", def.Output.Collection)
		assert.Equal(t, 5, def.Output.TopN)
		assert.Equal(t, classifier.BestLeft, def.Classifier.BestPerKey)
	})

	t.Run("unknown key", func(t *testing.T) {
		_, err := Parse([]byte(dedupeYAML + "\nunexpected: true\n"))
		assert.Error(t, err)
	})

	t.Run("link without right", func(t *testing.T) {
		def, err := Parse([]byte(linkYAML))
		require.NoError(t, err)
		def.Right = nil
		err = def.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Right")
	})

	t.Run("comparison field not loaded", func(t *testing.T) {
		def, err := Parse([]byte(dedupeYAML))
		require.NoError(t, err)
		def.Comparisons[0].Left = "employer"
		err = def.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "employer")
	})

	t.Run("right field not loaded", func(t *testing.T) {
		def, err := Parse([]byte(linkYAML))
		require.NoError(t, err)
		def.Comparisons[0].Right = "vendor"
		assert.Error(t, def.Validate())
	})

	t.Run("dedupe right field not loaded", func(t *testing.T) {
		def, err := Parse([]byte(dedupeYAML))
		require.NoError(t, err)
		def.Comparisons[0].Right = "alias"
		assert.Error(t, def.Validate())

		def.Comparisons[0].Right = def.Comparisons[1].Left
		assert.NoError(t, def.Validate())
	})

	t.Run("total field must be loaded", func(t *testing.T) {
		def, err := Parse([]byte(dedupeYAML))
		require.NoError(t, err)
		def.Output.TotalField = "amount"
		assert.Error(t, def.Validate())

		def.Output.TotalField = "zip"
		assert.NoError(t, def.Validate())
	})

	t.Run("naive bayes needs labels or a model", func(t *testing.T) {
		def, err := Parse([]byte(dedupeYAML))
		require.NoError(t, err)
		def.Classifier.Type = classifier.TypeNaiveBayes
		assert.Error(t, def.Validate())

		def.Labels.Path = "labels.json"
		assert.NoError(t, def.Validate())
	})

	t.Run("best right when deduplicating", func(t *testing.T) {
		def, err := Parse([]byte(dedupeYAML))
		require.NoError(t, err)
		def.Classifier.BestPerKey = classifier.BestRight
		assert.Error(t, def.Validate())
	})

	t.Run("missing policy required", func(t *testing.T) {
		def, err := Parse([]byte(dedupeYAML))
		require.NoError(t, err)
		def.Comparisons[1].Missing = ""
		assert.Error(t, def.Validate())
	})
}

func TestLoad(t *testing.T) {
	t.Run("expands environment", func(t *testing.T) {
		t.Setenv("SORREL_TEST_THRESHOLD", "0.75")
		path := filepath.Join(t.TempDir(), "def.yaml")
		content := strings.Replace(linkYAML, "threshold: 0.5", "threshold: ${SORREL_TEST_THRESHOLD}", 1)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

		def, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, 0.75, def.Classifier.Threshold.Threshold)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}

func TestDefinition_Fingerprint(t *testing.T) {
	a, err := Parse([]byte(dedupeYAML))
	require.NoError(t, err)
	b, err := Parse([]byte(dedupeYAML))
	require.NoError(t, err)

	fa, err := a.Fingerprint()
	require.NoError(t, err)
	fb, err := b.Fingerprint()
	require.NoError(t, err)
	assert.Equal(t, fa, fb)

	t.Run("ignores output settings", func(t *testing.T) {
		b.Output.TopN = 3
		b.Description = "changed"
		fb, err := b.Fingerprint()
		require.NoError(t, err)
		assert.Equal(t, fa, fb)
	})

	t.Run("changes with the threshold", func(t *testing.T) {
		b.Classifier.Threshold.Threshold = 0.8
		fb, err := b.Fingerprint()
		require.NoError(t, err)
		assert.NotEqual(t, fa, fb)
	})
}

func TestLoad_ShippedDefinitions(t *testing.T) {
	t.Setenv("SORREL_DATA_DIR", t.TempDir())

	files, err := filepath.Glob(filepath.Join("..", "..", "definitions", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, f := range files {
		t.Run(filepath.Base(f), func(t *testing.T) {
			def, err := Load(f)
			require.NoError(t, err)
			_, err = indexing.New(def.Indexer, testLogger())
			assert.NoError(t, err)
		})
	}
}

package compare

import (
	"context"
	"encoding/csv"
	"io"
	"math"
	"os"
	"strconv"

	"github.com/Gobusters/ectologger"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"

	"github.com/Ramsey-B/sorrel/pkg/fileutil"
	"github.com/Ramsey-B/sorrel/pkg/models"
	"github.com/Ramsey-B/sorrel/pkg/tracing"
)

const fingerprintMarker = "#fingerprint"

// Cache persists a feature set as a zstd-compressed CSV file: a fingerprint
// record, a header of left_id, right_id and one column per comparison, then one
// row per pair. Missing scores are written as empty cells. Saves replace the
// whole file so readers never see a partial write.
type Cache struct {
	path string
	log  ectologger.Logger
}

func NewCache(path string, log ectologger.Logger) *Cache {
	return &Cache{path: path, log: log}
}

// Path returns the cache file location.
func (c *Cache) Path() string {
	return c.path
}

// Save writes the feature set under a fingerprint.
func (c *Cache) Save(ctx context.Context, fingerprint string, fs *models.FeatureSet) error {
	ctx, span := tracing.StartSpan(ctx, "compare.Cache.Save")
	defer span.End()

	err := fileutil.WriteAtomic(c.path, func(w io.Writer) error {
		enc, err := zstd.NewWriter(w, zstd.WithEncoderConcurrency(1))
		if err != nil {
			return errors.Wrap(err, "failed to create zstd encoder")
		}
		if err := writeFeatures(enc, fingerprint, fs); err != nil {
			enc.Close()
			return errors.Wrap(err, "failed to write feature cache")
		}
		return errors.Wrap(enc.Close(), "failed to flush feature cache")
	})
	if err != nil {
		c.log.WithContext(ctx).WithError(err).WithFields(map[string]any{"path": c.path}).Error("Failed to save feature cache")
		return err
	}

	c.log.WithContext(ctx).WithFields(map[string]any{
		"path":    c.path,
		"pairs":   fs.Len(),
		"columns": len(fs.Labels),
	}).Debug("Saved feature cache")
	return nil
}

// Load reads the cached feature set, keeping only the given columns in the given
// order (all columns when labels is nil). It fails with models.ErrCacheMismatch
// when the fingerprint differs, the pairs differ from the expected set, a column
// is absent, or the file cannot be decoded.
func (c *Cache) Load(ctx context.Context, fingerprint string, expected []models.CandidatePair, labels []string) (*models.FeatureSet, error) {
	ctx, span := tracing.StartSpan(ctx, "compare.Cache.Load")
	defer span.End()

	f, err := os.Open(c.path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open feature cache")
	}
	defer f.Close()

	dec, err := zstd.NewReader(f, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, errors.Wrap(models.ErrCacheMismatch, err.Error())
	}
	defer dec.Close()

	stored, fs, err := readFeatures(dec)
	if err != nil {
		return nil, errors.Wrap(models.ErrCacheMismatch, err.Error())
	}
	if stored != fingerprint {
		return nil, errors.Wrap(models.ErrCacheMismatch, "fingerprint changed")
	}
	if expected != nil && !fs.HasKeys(expected) {
		return nil, errors.Wrapf(models.ErrCacheMismatch, "cached pairs (%d) differ from candidate pairs (%d)", fs.Len(), len(expected))
	}
	if labels != nil {
		fs, err = fs.Select(labels)
		if err != nil {
			return nil, err
		}
	}

	c.log.WithContext(ctx).WithFields(map[string]any{"path": c.path, "pairs": fs.Len()}).Debug("Loaded feature cache")
	return fs, nil
}

func writeFeatures(w io.Writer, fingerprint string, fs *models.FeatureSet) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{fingerprintMarker, fingerprint}); err != nil {
		return err
	}
	header := append([]string{"left_id", "right_id"}, fs.Labels...)
	if err := cw.Write(header); err != nil {
		return err
	}

	row := make([]string, len(header))
	for _, v := range fs.Vectors {
		row[0] = v.Pair.Left
		row[1] = v.Pair.Right
		for i, s := range v.Scores {
			row[i+2] = formatScore(s)
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func readFeatures(r io.Reader) (string, *models.FeatureSet, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	first, err := cr.Read()
	if err != nil {
		return "", nil, errors.Wrap(err, "missing fingerprint record")
	}
	if len(first) != 2 || first[0] != fingerprintMarker {
		return "", nil, errors.New("missing fingerprint record")
	}
	fingerprint := first[1]

	header, err := cr.Read()
	if err != nil {
		return "", nil, errors.Wrap(err, "missing header")
	}
	if len(header) < 2 || header[0] != "left_id" || header[1] != "right_id" {
		return "", nil, errors.New("malformed header")
	}
	labels := append([]string(nil), header[2:]...)

	var vectors []models.FeatureVector
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", nil, err
		}
		if len(row) != len(labels)+2 {
			return "", nil, errors.Errorf("row %d has %d columns, expected %d", len(vectors)+1, len(row), len(labels)+2)
		}
		scores := make([]float64, len(labels))
		for i, cell := range row[2:] {
			s, err := parseScore(cell)
			if err != nil {
				return "", nil, errors.Wrapf(err, "row %d column %s", len(vectors)+1, labels[i])
			}
			scores[i] = s
		}
		vectors = append(vectors, models.FeatureVector{
			Pair:   models.CandidatePair{Left: row[0], Right: row[1]},
			Scores: scores,
		})
	}

	return fingerprint, models.NewFeatureSet(labels, vectors), nil
}

func formatScore(s float64) string {
	if math.IsNaN(s) {
		return ""
	}
	return strconv.FormatFloat(s, 'g', -1, 64)
}

func parseScore(cell string) (float64, error) {
	if cell == "" {
		return models.Missing, nil
	}
	return strconv.ParseFloat(cell, 64)
}

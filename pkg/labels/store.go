// Package labels persists training labels across labeling sessions.
package labels

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/Gobusters/ectologger"
	"github.com/pkg/errors"

	"github.com/Ramsey-B/sorrel/pkg/fileutil"
	"github.com/Ramsey-B/sorrel/pkg/models"
	"github.com/Ramsey-B/sorrel/pkg/tracing"
)

// Store is an append-only JSON Lines file of training labels. Appends are
// synced before returning; Replace rewrites the whole file atomically.
type Store struct {
	path string
	log  ectologger.Logger
	mu   sync.Mutex
}

func NewStore(path string, log ectologger.Logger) *Store {
	return &Store{path: path, log: log}
}

// Path returns the label file location.
func (s *Store) Path() string {
	return s.path
}

// Load reads every label into a Set. A missing file is an empty set. Lines that
// cannot be parsed are logged and skipped.
func (s *Store) Load(ctx context.Context) (*Set, error) {
	ctx, span := tracing.StartSpan(ctx, "labels.Store.Load")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.log.WithContext(ctx).WithFields(map[string]any{"path": s.path})
	set := NewSet()

	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		log.Debug("No label file yet")
		return set, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to open label file")
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	line, skipped := 0, 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var l models.TrainingLabel
		if err := json.Unmarshal(raw, &l); err != nil || l.Pair.Left == "" || l.Pair.Right == "" {
			skipped++
			log.WithFields(map[string]any{"line": line}).Warn("Skipping malformed label")
			continue
		}
		set.Add(l)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read label file")
	}

	positives, negatives := set.Counts()
	log.WithFields(map[string]any{
		"labels":    set.Len(),
		"matches":   positives,
		"distincts": negatives,
		"skipped":   skipped,
	}).Debug("Loaded labels")
	return set, nil
}

// Append adds labels to the end of the file.
func (s *Store) Append(ctx context.Context, labels ...models.TrainingLabel) error {
	_, span := tracing.StartSpan(ctx, "labels.Store.Append")
	defer span.End()

	if len(labels) == 0 {
		return nil
	}

	buf, err := encode(labels)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return fileutil.AppendSync(s.path, buf)
}

// Replace rewrites the file with exactly the given labels.
func (s *Store) Replace(ctx context.Context, labels []models.TrainingLabel) error {
	ctx, span := tracing.StartSpan(ctx, "labels.Store.Replace")
	defer span.End()

	buf, err := encode(labels)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	err = fileutil.WriteAtomic(s.path, func(w io.Writer) error {
		_, err := w.Write(buf)
		return err
	})
	if err != nil {
		return err
	}

	s.log.WithContext(ctx).WithFields(map[string]any{"path": s.path, "labels": len(labels)}).Info("Rewrote label file")
	return nil
}

func encode(labels []models.TrainingLabel) ([]byte, error) {
	var buf []byte
	for _, l := range labels {
		b, err := json.Marshal(l)
		if err != nil {
			return nil, errors.Wrap(err, "failed to encode label")
		}
		buf = append(buf, b...)
		buf = append(buf, '\n')
	}
	return buf, nil
}

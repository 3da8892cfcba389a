// Package activelearning bootstraps a training set by asking for labels on the
// pairs the current model is least sure about.
package activelearning

import (
	"context"
	"math"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/pkg/errors"

	"github.com/Ramsey-B/sorrel/pkg/classifier"
	"github.com/Ramsey-B/sorrel/pkg/labels"
	"github.com/Ramsey-B/sorrel/pkg/metrics"
	"github.com/Ramsey-B/sorrel/pkg/models"
	"github.com/Ramsey-B/sorrel/pkg/tracing"
)

// StopReason says why a session ended.
type StopReason string

const (
	StopFinished     StopReason = "finished"
	StopRecall       StopReason = "recall_target"
	StopExhausted    StopReason = "exhausted"
	StopMaxQuestions StopReason = "max_questions"
)

// Config bounds a labeling session.
type Config struct {
	// MaxQuestions ends the session after this many questions. Zero means no limit.
	MaxQuestions int
	// RecallTarget ends the session once the model finds this share of the
	// validation matches. Zero disables it.
	RecallTarget float64
	NaiveBayes   classifier.NaiveBayesConfig
}

// Result summarizes a session.
type Result struct {
	Asked          int
	Matches        int
	Distincts      int
	Unsure         int
	// Recall is measured against the validation labels whenever a model could
	// be fitted; RecallMeasured reports whether it was.
	Recall         float64
	RecallMeasured bool
	Reason         StopReason
	// Model is the classifier fitted on the final label set, or nil when the
	// labels still lack a match or a distinct example.
	Model          *classifier.NaiveBayes
}

// Loop runs uncertainty sampling over a feature set. Every answer is appended
// to the label store immediately, so an interrupted session loses nothing.
type Loop struct {
	log        ectologger.Logger
	store      *labels.Store
	labeler    Labeler
	validation *labels.Set
	cfg        Config
}

// NewLoop creates a session. validation may be nil.
func NewLoop(log ectologger.Logger, store *labels.Store, labeler Labeler, validation *labels.Set, cfg Config) *Loop {
	return &Loop{log: log, store: store, labeler: labeler, validation: validation, cfg: cfg}
}

// Run asks about one pair at a time until the labeler finishes, the recall
// target is met, the question limit is reached or no unlabeled pair remains.
func (l *Loop) Run(ctx context.Context, fs *models.FeatureSet, left, right *models.Collection) (*Result, error) {
	ctx, span := tracing.StartSpan(ctx, "activelearning.Loop.Run")
	defer span.End()

	log := l.log.WithContext(ctx)
	if right == nil {
		right = left
	}

	set, err := l.store.Load(ctx)
	if err != nil {
		return nil, err
	}

	result := &Result{}
	skipped := make(map[models.CandidatePair]struct{})

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		model, err := l.fit(fs, set)
		if err != nil {
			return nil, err
		}
		result.Model = model

		if model != nil && l.cfg.RecallTarget > 0 && l.validation != nil && l.validation.Len() > 0 {
			result.Recall = recall(model, fs, l.validation)
			if result.Recall >= l.cfg.RecallTarget {
				result.Reason = StopRecall
				break
			}
		}

		if l.cfg.MaxQuestions > 0 && result.Asked >= l.cfg.MaxQuestions {
			result.Reason = StopMaxQuestions
			break
		}

		v, score, ok := mostUncertain(model, fs, set, skipped)
		if !ok {
			result.Reason = StopExhausted
			break
		}

		lrec, _ := left.Get(v.Pair.Left)
		rrec, _ := right.Get(v.Pair.Right)
		matches, distincts := set.Counts()
		answer, err := l.labeler.Label(ctx, Question{
			Pair:     v.Pair,
			Left:     lrec,
			Right:    rrec,
			Score:    score,
			Asked:    result.Asked,
			Matches:  matches,
			Distinct: distincts,
		})
		if err != nil {
			return nil, err
		}
		if answer == AnswerFinished {
			result.Reason = StopFinished
			break
		}
		result.Asked++
		metrics.LabelsTotal.WithLabelValues(answer.String()).Inc()

		log.WithFields(map[string]any{
			"left_id":  v.Pair.Left,
			"right_id": v.Pair.Right,
			"score":    score,
			"answer":   answer.String(),
		}).Debug("Labeled pair")

		switch answer {
		case AnswerUnsure:
			skipped[v.Pair] = struct{}{}
			result.Unsure++
		case AnswerYes, AnswerNo:
			label := models.TrainingLabel{
				Pair:      v.Pair,
				Match:     answer == AnswerYes,
				Source:    models.LabelSourceHuman,
				LabeledAt: time.Now().UTC(),
			}
			if err := l.store.Append(ctx, label); err != nil {
				return nil, err
			}
			set.Add(label)
			if label.Match {
				result.Matches++
			} else {
				result.Distincts++
			}
		}
	}

	if result.Model != nil && l.validation != nil && l.validation.Len() > 0 {
		result.Recall = recall(result.Model, fs, l.validation)
		result.RecallMeasured = true
	}

	log.WithFields(map[string]any{
		"asked":     result.Asked,
		"matches":   result.Matches,
		"distincts": result.Distincts,
		"unsure":    result.Unsure,
		"recall":    result.Recall,
		"reason":    string(result.Reason),
	}).Info("Labeling session ended")

	return result, nil
}

// fit trains on the current labels. Too few labels is not an error here; the
// loop falls back to the mean feature score until both classes exist.
func (l *Loop) fit(fs *models.FeatureSet, set *labels.Set) (*classifier.NaiveBayes, error) {
	model, err := classifier.TrainNaiveBayes(l.cfg.NaiveBayes, fs.Labels, classifier.Examples(fs, set.Labels()))
	if errors.Is(err, models.ErrInsufficientTrainingData) {
		return nil, nil
	}
	return model, err
}

// mostUncertain picks the unlabeled pair whose score is closest to the
// decision boundary. Ties go to the earliest pair.
func mostUncertain(model *classifier.NaiveBayes, fs *models.FeatureSet, set *labels.Set, skipped map[models.CandidatePair]struct{}) (models.FeatureVector, float64, bool) {
	boundary := classifier.DefaultCutoff
	if model != nil {
		boundary = model.Model().Cutoff
	}

	var best models.FeatureVector
	var bestScore float64
	bestDistance := math.Inf(1)
	found := false
	for _, v := range fs.Vectors {
		if set.Has(v.Pair) {
			continue
		}
		if _, skip := skipped[v.Pair]; skip {
			continue
		}
		s := meanScore(v)
		if model != nil {
			s = model.Score(v)
		}
		if d := math.Abs(s - boundary); d < bestDistance {
			best, bestScore, bestDistance, found = v, s, d, true
		}
	}
	return best, bestScore, found
}

func meanScore(v models.FeatureVector) float64 {
	var sum float64
	n := 0
	for _, s := range v.Scores {
		if models.IsMissing(s) {
			continue
		}
		sum += s
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// recall is the share of validation matches with features that the model accepts.
func recall(model *classifier.NaiveBayes, fs *models.FeatureSet, validation *labels.Set) float64 {
	found, total := 0, 0
	for _, l := range validation.Labels() {
		if !l.Match {
			continue
		}
		v, ok := fs.Get(l.Pair)
		if !ok {
			continue
		}
		total++
		if model.Decide(model.Score(v)) {
			found++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(found) / float64(total)
}

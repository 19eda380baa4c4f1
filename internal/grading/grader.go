package grading

import (
	"errors"
	"fmt"
	"time"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// Patch validation errors.
var (
	ErrUnknownQuestion = errors.New("unknown question")
	ErrEmptyPatch      = errors.New("patch carries no score")
	ErrScoreOutOfRange = errors.New("score out of range")
)

// Item pairs a snapshot question with its answer row for one attempt.
type Item struct {
	Question *model.ExamQuestion
	Answer   *model.ExamAnswer
}

// AutoGrade scores every objective answer and resets subjective answers to
// their manual score. Overridden final scores are preserved.
func AutoGrade(items []Item, now time.Time) {
	for _, it := range items {
		q, a := it.Question, it.Answer
		a.MaxScore = q.Marks

		if IsObjective(q.QuestionType) {
			score := ScoreObjective(q, a.Answer)
			a.AutoScore = &score
			if !a.IsOverridden || a.FinalScore == nil {
				final := score
				a.FinalScore = &final
			}
			a.GradedAt = &now
		} else {
			a.AutoScore = nil
			if !a.IsOverridden {
				a.FinalScore = cloneInt(a.ManualScore)
			}
		}

		if a.FinalScore != nil && *a.FinalScore > a.MaxScore {
			clamped := a.MaxScore
			a.FinalScore = &clamped
		}
	}
}

// Totals is the aggregate over an attempt's full answer set.
type Totals struct {
	MaxScore          int
	AutoScore         int
	Score             int
	PendingSubjective int
}

// Recompute sums the answer set. Unset scores count as zero.
func Recompute(items []Item) Totals {
	var t Totals
	for _, it := range items {
		a := it.Answer
		t.MaxScore += a.MaxScore
		if a.AutoScore != nil {
			t.AutoScore += *a.AutoScore
		}
		if a.FinalScore != nil {
			t.Score += *a.FinalScore
		}
		if !IsObjective(it.Question.QuestionType) && a.FinalScore == nil {
			t.PendingSubjective++
		}
	}
	return t
}

// ApplyTo writes the totals and the derived status onto a submitted attempt.
func (t Totals) ApplyTo(a *model.ExamAttempt, now time.Time) {
	a.MaxScoreTotal = t.MaxScore
	a.AutoScoreTotal = t.AutoScore
	a.Score = t.Score
	if t.PendingSubjective > 0 {
		a.Status = model.AttemptStatusPartiallyEvaluated
		a.EvaluatedAt = nil
		return
	}
	a.Status = model.AttemptStatusEvaluated
	a.EvaluatedAt = &now
}

// ApplyPatches validates every patch before touching any answer, so a bad
// patch leaves the whole set unchanged. Patches may name a question by its
// snapshot id or its bank id.
func ApplyPatches(items []Item, patches []model.GradePatch, now time.Time) error {
	targets := make([]*Item, len(patches))
	for i, p := range patches {
		it := find(items, p.QuestionID)
		if it == nil {
			return fmt.Errorf("%w: %s", ErrUnknownQuestion, p.QuestionID)
		}
		v := p.OverrideScore
		if v == nil {
			v = p.ManualScore
		}
		if v == nil {
			return fmt.Errorf("%w: %s", ErrEmptyPatch, p.QuestionID)
		}
		if *v < 0 || *v > it.Answer.MaxScore {
			return fmt.Errorf("%w: %d not in [0, %d] for %s", ErrScoreOutOfRange, *v, it.Answer.MaxScore, p.QuestionID)
		}
		targets[i] = it
	}

	for i, p := range patches {
		q, a := targets[i].Question, targets[i].Answer
		objective := IsObjective(q.QuestionType)

		if p.OverrideScore != nil {
			a.FinalScore = cloneInt(p.OverrideScore)
			a.IsOverridden = true
			if !objective {
				a.ManualScore = cloneInt(p.OverrideScore)
			}
		} else {
			a.FinalScore = cloneInt(p.ManualScore)
			if objective {
				a.IsOverridden = true
			} else {
				a.ManualScore = cloneInt(p.ManualScore)
				a.IsOverridden = false
			}
		}
		a.GradedAt = &now
	}
	return nil
}

func find(items []Item, id string) *Item {
	for i := range items {
		if items[i].Question.Matches(id) {
			return &items[i]
		}
	}
	return nil
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

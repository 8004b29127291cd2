// Package grading aggregates reviewer and AI scores for a submission and
// drives the two review tiers.
package grading

import (
	"errors"
	"fmt"
	"time"

	"github.com/pavelanni/shoshin/internal/model"
)

// DefaultPassThreshold is the absolute total needed to pass.
const DefaultPassThreshold = 80

var (
	// ErrScoreOutOfRange is returned for a score outside 0..max. The prior value is kept.
	ErrScoreOutOfRange = errors.New("score out of range")
	// ErrUnknownQuestion is returned for a question ID the exam does not define.
	ErrUnknownQuestion = errors.New("unknown question")
)

// Passed reports whether total meets the threshold.
func Passed(total, threshold int) bool {
	return total >= threshold
}

// QuestionScore is the reviewer's working state for one top-level question.
type QuestionScore struct {
	Manual          *int   `json:"manual,omitempty"`
	AIScore         *int   `json:"ai_score,omitempty"`
	AIJustification string `json:"ai_justification,omitempty"`
}

// Review is a reviewer's in-progress scoring of one submission.
type Review struct {
	SubmissionID string                    `json:"submission_id"`
	Questions    map[string]*QuestionScore `json:"questions"`
	// HQReviewedAt is the headquarters grade the review was seeded from.
	HQReviewedAt *time.Time                `json:"hq_reviewed_at,omitempty"`

	exam *model.Exam
}

// NewReview starts a review. Scores from an existing headquarters grade are
// carried over so later tiers see what was entered.
func NewReview(exam *model.Exam, sub *model.Submission) *Review {
	r := &Review{SubmissionID: sub.ID, Questions: make(map[string]*QuestionScore)}
	if sub.HQGrade != nil {
		at := sub.HQGrade.ReviewedAt
		r.HQReviewedAt = &at
		for id, score := range sub.HQGrade.Scores {
			r.Questions[id] = &QuestionScore{Manual: intPtr(score)}
		}
	}
	r.bind(exam)
	return r
}

// bind attaches the exam and drops entries that no longer fit it.
func (r *Review) bind(exam *model.Exam) {
	r.exam = exam
	if r.Questions == nil {
		r.Questions = make(map[string]*QuestionScore)
	}
	for id, qs := range r.Questions {
		q := exam.Question(id)
		if q == nil || qs == nil {
			delete(r.Questions, id)
			continue
		}
		maxScore := q.MaxScore()
		if qs.Manual != nil && (*qs.Manual < 0 || *qs.Manual > maxScore) {
			qs.Manual = nil
		}
		if qs.AIScore != nil && (*qs.AIScore < 0 || *qs.AIScore > maxScore) {
			qs.AIScore, qs.AIJustification = nil, ""
		}
	}
}

// Exam returns the exam the review is bound to.
func (r *Review) Exam() *model.Exam { return r.exam }

// MaxScore returns the maximum for a top-level question: its own points plus
// its sub-question points.
func (r *Review) MaxScore(questionID string) (int, error) {
	q := r.exam.Question(questionID)
	if q == nil {
		return 0, fmt.Errorf("%w: %s", ErrUnknownQuestion, questionID)
	}
	return q.MaxScore(), nil
}

func (r *Review) entry(questionID string) *QuestionScore {
	qs, ok := r.Questions[questionID]
	if !ok {
		qs = &QuestionScore{}
		r.Questions[questionID] = qs
	}
	return qs
}

// SetManualScore records a reviewer-entered score.
func (r *Review) SetManualScore(questionID string, score int) error {
	maxScore, err := r.MaxScore(questionID)
	if err != nil {
		return err
	}
	if score < 0 || score > maxScore {
		return fmt.Errorf("%w: %d not in 0..%d", ErrScoreOutOfRange, score, maxScore)
	}
	r.entry(questionID).Manual = intPtr(score)
	return nil
}

// ManualScore returns the entered score for a question.
func (r *Review) ManualScore(questionID string) (int, bool) {
	qs, ok := r.Questions[questionID]
	if !ok || qs.Manual == nil {
		return 0, false
	}
	return *qs.Manual, true
}

// applyAI stores an AI suggestion and auto-fills the manual score with it.
func (r *Review) applyAI(questionID string, score int, justification string) {
	qs := r.entry(questionID)
	qs.AIScore = intPtr(score)
	qs.AIJustification = justification
	qs.Manual = intPtr(score)
}

// Total is the sum of the current manual scores.
func (r *Review) Total() int {
	total := 0
	for _, q := range r.exam.Questions {
		if s, ok := r.ManualScore(q.ID); ok {
			total += s
		}
	}
	return total
}

// Scores returns the manual scores keyed by question ID.
func (r *Review) Scores() map[string]int {
	out := make(map[string]int)
	for id, qs := range r.Questions {
		if qs.Manual != nil {
			out[id] = *qs.Manual
		}
	}
	return out
}

func intPtr(v int) *int { return &v }

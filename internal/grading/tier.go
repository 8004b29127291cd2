package grading

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pavelanni/shoshin/internal/model"
)

var (
	// ErrTierSubmitted is returned when a tier's review was already submitted.
	ErrTierSubmitted = errors.New("review tier already submitted")
	// ErrHQGradeRequired is returned when the personnel office reviews before headquarters.
	ErrHQGradeRequired = errors.New("headquarters review must be submitted first")
	// ErrTierNotPermitted is returned when the reviewer's role cannot submit the tier.
	ErrTierNotPermitted = errors.New("reviewer cannot submit this tier")
	// ErrLessonReviewRequired is returned when a passing review lacks two lesson review windows.
	ErrLessonReviewRequired = errors.New("two lesson review windows are required for a passing score")
	// ErrInvalidLessonReview is returned for a window whose end is not after its start.
	ErrInvalidLessonReview = errors.New("lesson review window must end after it starts")
)

// TierInput is what a reviewer enters when submitting a tier.
type TierInput struct {
	Justification string
	LessonReview1 *model.LessonReview
	LessonReview2 *model.LessonReview
	// FinalScore overrides the headquarters total; personnel office only.
	FinalScore *int
}

func checkWindow(w *model.LessonReview) error {
	if w == nil || w.Start.IsZero() || w.End.IsZero() {
		return ErrLessonReviewRequired
	}
	if !w.End.After(w.Start) {
		return ErrInvalidLessonReview
	}
	return nil
}

// lessonWindows picks the submitted windows, falling back to stored ones. Any
// window given must be well formed; both are required for a passing total.
func lessonWindows(in TierInput, sub *model.Submission, total, threshold int) (*model.LessonReview, *model.LessonReview, error) {
	w1, w2 := in.LessonReview1, in.LessonReview2
	if w1 == nil && w2 == nil {
		w1, w2 = sub.LessonReview1, sub.LessonReview2
	}
	required := Passed(total, threshold)
	for _, w := range []*model.LessonReview{w1, w2} {
		if w == nil && !required {
			continue
		}
		if err := checkWindow(w); err != nil {
			return nil, nil, err
		}
	}
	return w1, w2, nil
}

func windowField(w *model.LessonReview) any {
	if w == nil {
		return nil
	}
	return w
}

// SubmitHeadquarters records the headquarters tier on sub and returns the
// fields to persist. The grade is the sum of the review's manual scores.
func SubmitHeadquarters(sub *model.Submission, r *Review, reviewer *model.User, in TierInput, threshold int, now time.Time) (map[string]any, error) {
	if err := CanReview(reviewer, sub); err != nil {
		return nil, err
	}
	if sub.HQGrade != nil {
		return nil, fmt.Errorf("%w: %s", ErrTierSubmitted, model.TierHeadquarters)
	}
	total := r.Total()
	w1, w2, err := lessonWindows(in, sub, total, threshold)
	if err != nil {
		return nil, err
	}

	grade := &model.Grade{
		Score:         total,
		Justification: strings.TrimSpace(in.Justification),
		Reviewer:      model.TierHeadquarters,
		ReviewerID:    reviewer.ID,
		ReviewedAt:    now,
		Scores:        r.Scores(),
	}
	sub.HQGrade = grade
	sub.Status = model.StatusGrading
	sub.LessonReview1, sub.LessonReview2 = w1, w2

	slog.Info("headquarters review submitted", "submission_id", sub.ID, "reviewer", reviewer.ID, "score", total)
	return map[string]any{
		"hq_grade":        grade,
		"status":          sub.Status,
		"lesson_review_1": windowField(w1),
		"lesson_review_2": windowField(w2),
	}, nil
}

// SubmitPersonnelOffice approves the headquarters total, or an explicit
// override, as the final score and completes the submission.
func SubmitPersonnelOffice(sub *model.Submission, exam *model.Exam, reviewer *model.User, in TierInput, threshold int, now time.Time) (map[string]any, error) {
	if reviewer == nil || reviewer.Role != model.RoleSystemAdmin {
		return nil, ErrTierNotPermitted
	}
	if sub.POGrade != nil {
		return nil, fmt.Errorf("%w: %s", ErrTierSubmitted, model.TierPersonnelOffice)
	}
	if sub.HQGrade == nil {
		return nil, ErrHQGradeRequired
	}
	final := sub.HQGrade.Score
	if in.FinalScore != nil {
		maxTotal := exam.SumPoints()
		if *in.FinalScore < 0 || *in.FinalScore > maxTotal {
			return nil, fmt.Errorf("%w: %d not in 0..%d", ErrScoreOutOfRange, *in.FinalScore, maxTotal)
		}
		final = *in.FinalScore
	}
	w1, w2, err := lessonWindows(in, sub, final, threshold)
	if err != nil {
		return nil, err
	}
	outcome := model.OutcomeFailed
	if Passed(final, threshold) {
		outcome = model.OutcomePassed
	}

	grade := &model.Grade{
		Score:         final,
		Justification: strings.TrimSpace(in.Justification),
		Reviewer:      model.TierPersonnelOffice,
		ReviewerID:    reviewer.ID,
		ReviewedAt:    now,
	}
	sub.POGrade = grade
	sub.FinalScore = &final
	sub.FinalOutcome = outcome
	sub.Status = model.StatusCompleted
	sub.LessonReview1, sub.LessonReview2 = w1, w2

	slog.Info("personnel office review submitted", "submission_id", sub.ID, "reviewer", reviewer.ID,
		"final_score", final, "outcome", outcome)
	return map[string]any{
		"po_grade":        grade,
		"final_score":     final,
		"final_outcome":   outcome,
		"status":          sub.Status,
		"lesson_review_1": windowField(w1),
		"lesson_review_2": windowField(w2),
	}, nil
}

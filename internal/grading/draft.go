package grading

import (
	"encoding/json"
	"log/slog"

	"github.com/pavelanni/shoshin/internal/model"
)

// DraftStore persists review drafts per reviewer.
type DraftStore interface {
	GetState(owner, key string) (string, bool, error)
	SetState(owner, key, value string) error
	DeleteState(owner, key string) error
}

// DraftKey is the state key of a reviewer's draft for a submission.
func DraftKey(submissionID string) string { return "review-" + submissionID }

// LoadReview returns the reviewer's saved draft, or a new review when there is
// none, it cannot be read, or the headquarters grade changed since it was saved.
func LoadReview(ds DraftStore, reviewerID string, exam *model.Exam, sub *model.Submission) (*Review, error) {
	raw, ok, err := ds.GetState(reviewerID, DraftKey(sub.ID))
	if err != nil {
		return nil, err
	}
	if !ok {
		return NewReview(exam, sub), nil
	}
	var r Review
	if err := json.Unmarshal([]byte(raw), &r); err != nil || r.SubmissionID != sub.ID {
		slog.Debug("discarding unreadable review draft", "submission_id", sub.ID, "reviewer", reviewerID)
		return NewReview(exam, sub), nil
	}
	if stale(&r, sub) {
		slog.Debug("discarding review draft older than the headquarters grade", "submission_id", sub.ID, "reviewer", reviewerID)
		return NewReview(exam, sub), nil
	}
	r.bind(exam)
	return &r, nil
}

func stale(r *Review, sub *model.Submission) bool {
	if sub.HQGrade == nil {
		return false
	}
	return r.HQReviewedAt == nil || !r.HQReviewedAt.Equal(sub.HQGrade.ReviewedAt)
}

// SaveReview persists r as the reviewer's draft.
func SaveReview(ds DraftStore, reviewerID string, r *Review) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return ds.SetState(reviewerID, DraftKey(r.SubmissionID), string(data))
}

// DiscardReview removes the reviewer's draft.
func DiscardReview(ds DraftStore, reviewerID, submissionID string) error {
	return ds.DeleteState(reviewerID, DraftKey(submissionID))
}

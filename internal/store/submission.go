package store

import (
	"time"

	"github.com/pavelanni/shoshin/internal/model"
)

func (s *Store) submissions() Collection[model.Submission] {
	return newCollection(s, CollectionSubmissions, func(sub *model.Submission) *string { return &sub.ID })
}

// SubmissionID is the key of an examinee's submission for an exam. Each
// examinee submits an exam at most once.
func SubmissionID(examID, examineeID string) string {
	return examID + "-" + examineeID
}

// CreateSubmission stores a new submission with status Submitted. It returns
// ErrDuplicate when the examinee already submitted the exam.
func (s *Store) CreateSubmission(sub model.Submission) (string, error) {
	if sub.ID == "" {
		sub.ID = SubmissionID(sub.ExamID, sub.ExamineeID)
	}
	if sub.SubmittedAt.IsZero() {
		sub.SubmittedAt = time.Now()
	}
	sub.Status = model.StatusSubmitted
	return s.submissions().Create(sub)
}

// GetSubmission returns a submission by ID, or nil.
func (s *Store) GetSubmission(id string) (*model.Submission, error) {
	return s.submissions().Get(id)
}

// ListSubmissions returns all submissions, newest first.
func (s *Store) ListSubmissions() ([]model.Submission, error) {
	return s.submissions().query(`ORDER BY created_at DESC, rowid DESC`)
}

// ListSubmissionsByHeadquarters returns the submissions of one headquarters, newest first.
func (s *Store) ListSubmissionsByHeadquarters(code string) ([]model.Submission, error) {
	return s.submissions().query(
		`AND json_extract(data, '$.examinee_headquarters') = ? ORDER BY created_at DESC, rowid DESC`, code,
	)
}

// ListSubmissionsByExaminee returns one examinee's submissions, newest first.
func (s *Store) ListSubmissionsByExaminee(examineeID string) ([]model.Submission, error) {
	return s.submissions().query(
		`AND json_extract(data, '$.examinee_id') = ? ORDER BY created_at DESC, rowid DESC`, examineeID,
	)
}

// UpdateSubmission merges fields into a submission document.
func (s *Store) UpdateSubmission(id string, fields map[string]any) error {
	return s.submissions().Update(id, fields)
}

// DeleteSubmission removes a submission.
func (s *Store) DeleteSubmission(id string) error {
	return s.submissions().Delete(id)
}

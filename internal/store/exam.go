package store

import (
	"time"

	"github.com/pavelanni/shoshin/internal/model"
)

func (s *Store) exams() Collection[model.Exam] {
	return newCollection(s, CollectionExams, func(e *model.Exam) *string { return &e.ID })
}

// CreateExam normalizes and stores a new exam.
func (s *Store) CreateExam(e model.Exam) (string, error) {
	e.Normalize()
	now := time.Now()
	e.CreatedAt, e.UpdatedAt = now, now
	return s.exams().Create(e)
}

// SaveExam replaces an exam document after normalizing it.
func (s *Store) SaveExam(e model.Exam) error {
	e.Normalize()
	e.UpdatedAt = time.Now()
	return s.exams().Put(e)
}

// GetExam returns an exam by ID, or nil.
func (s *Store) GetExam(id string) (*model.Exam, error) {
	return s.exams().Get(id)
}

// ListExams returns all exams in creation order.
func (s *Store) ListExams() ([]model.Exam, error) {
	return s.exams().List()
}

// ListPublishedExams returns the exams examinees can take.
func (s *Store) ListPublishedExams() ([]model.Exam, error) {
	return s.exams().query(
		`AND json_extract(data, '$.status') = ? ORDER BY created_at, rowid`, string(model.ExamPublished),
	)
}

// UpdateExam merges fields into an exam document.
func (s *Store) UpdateExam(id string, fields map[string]any) error {
	fields["updated_at"] = time.Now()
	return s.exams().Update(id, fields)
}

// DeleteExam removes an exam.
func (s *Store) DeleteExam(id string) error {
	return s.exams().Delete(id)
}

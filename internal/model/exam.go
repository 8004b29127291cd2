package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ExamStatus is the lifecycle state of an exam.
type ExamStatus string

const (
	ExamDraft     ExamStatus = "Draft"
	ExamPublished ExamStatus = "Published"
	ExamArchived  ExamStatus = "Archived"
)

// CanTransition reports whether an exam may move from s to next.
// Exams only move forward: Draft → Published → Archived.
func (s ExamStatus) CanTransition(next ExamStatus) bool {
	if s == next {
		return true
	}
	switch s {
	case ExamDraft, "":
		return next == ExamPublished || next == ExamArchived
	case ExamPublished:
		return next == ExamArchived
	}
	return false
}

// Exam is an authored exam with its ordered questions.
type Exam struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Duration    int        `json:"duration"` // minutes
	TotalPoints int        `json:"total_points"`
	Status      ExamStatus `json:"status"`
	Questions   []Question `json:"questions"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Question returns the top-level question with the given ID, or nil.
func (e *Exam) Question(id string) *Question {
	for i := range e.Questions {
		if e.Questions[i].ID == id {
			return &e.Questions[i]
		}
	}
	return nil
}

// SumPoints adds all question and sub-question points.
func (e *Exam) SumPoints() int {
	total := 0
	for _, q := range e.Questions {
		total += q.MaxScore()
	}
	return total
}

// Normalize assigns IDs to questions that lack one and recomputes TotalPoints.
// It runs on every save; reads trust the stored total.
func (e *Exam) Normalize() {
	if e.Status == "" {
		e.Status = ExamDraft
	}
	for i := range e.Questions {
		q := &e.Questions[i]
		if q.ID == "" {
			q.ID = uuid.NewString()
		}
		for j := range q.SubQuestions {
			if q.SubQuestions[j].ID == "" {
				q.SubQuestions[j].ID = uuid.NewString()
			}
		}
	}
	e.TotalPoints = e.SumPoints()
}

// ErrInvalidExam wraps exam validation failures.
var ErrInvalidExam = errors.New("invalid exam")

// Validate checks authoring constraints.
func (e *Exam) Validate() error {
	var problems []string
	if strings.TrimSpace(e.Title) == "" {
		problems = append(problems, "title is required")
	}
	if e.Duration <= 0 {
		problems = append(problems, "duration must be positive")
	}
	seen := make(map[string]bool)
	check := func(label string, it Item) {
		if strings.TrimSpace(it.Text) == "" {
			problems = append(problems, label+": text is required")
		}
		if it.Points < 0 {
			problems = append(problems, label+": points must not be negative")
		}
		if it.TimeLimit < 0 {
			problems = append(problems, label+": time limit must not be negative")
		}
		if sel, ok := it.Body.(Selection); ok && len(sel.Options) == 0 {
			problems = append(problems, label+": selection needs options")
		}
		if it.ID != "" {
			if seen[it.ID] {
				problems = append(problems, label+": duplicate id "+it.ID)
			}
			seen[it.ID] = true
		}
	}
	for i, q := range e.Questions {
		label := fmt.Sprintf("question %d", i+1)
		check(label, q.Item)
		for j, sq := range q.SubQuestions {
			check(fmt.Sprintf("%s.%d", label, j+1), sq)
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidExam, strings.Join(problems, "; "))
	}
	return nil
}

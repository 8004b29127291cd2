package store

import (
	"fmt"

	"github.com/pavelanni/shoshin/internal/model"
)

// ExportSubmissions builds one flattened row per submission, newest first.
func (s *Store) ExportSubmissions() ([]model.SubmissionRow, error) {
	subs, err := s.ListSubmissions()
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}

	// Names are looked up once per referenced document.
	users := make(map[string]*model.User)
	exams := make(map[string]*model.Exam)
	hqs := make(map[string]string)

	all, err := s.ListHeadquarters()
	if err != nil {
		return nil, fmt.Errorf("list headquarters: %w", err)
	}
	for _, hq := range all {
		hqs[hq.Code] = hq.Name
	}

	rows := make([]model.SubmissionRow, 0, len(subs))
	for _, sub := range subs {
		u, ok := users[sub.ExamineeID]
		if !ok {
			u, err = s.GetUser(sub.ExamineeID)
			if err != nil {
				return nil, fmt.Errorf("get user %s: %w", sub.ExamineeID, err)
			}
			users[sub.ExamineeID] = u
		}
		e, ok := exams[sub.ExamID]
		if !ok {
			e, err = s.GetExam(sub.ExamID)
			if err != nil {
				return nil, fmt.Errorf("get exam %s: %w", sub.ExamID, err)
			}
			exams[sub.ExamID] = e
		}

		row := model.SubmissionRow{
			SubmissionID:       sub.ID,
			ExamID:             sub.ExamID,
			ExamineeID:         sub.ExamineeID,
			Headquarters:       sub.ExamineeHeadquarters,
			HeadquartersName:   hqs[sub.ExamineeHeadquarters],
			Status:             sub.Status,
			SubmittedAt:        sub.SubmittedAt,
			FinalScore:         sub.FinalScore,
			FinalOutcome:       sub.FinalOutcome,
			LessonReview1:      sub.LessonReview1,
			LessonReview2:      sub.LessonReview2,
			ResultCommunicated: sub.ResultCommunicated,
		}
		if u != nil {
			row.ExamineeName = u.Name
		}
		if e != nil {
			row.ExamTitle = e.Title
		}
		if g := sub.HQGrade; g != nil {
			score, at := g.Score, g.ReviewedAt
			row.HQScore, row.HQReviewedAt = &score, &at
		}
		if g := sub.POGrade; g != nil {
			score, at := g.Score, g.ReviewedAt
			row.POScore, row.POReviewedAt = &score, &at
		}
		rows = append(rows, row)
	}
	return rows, nil
}

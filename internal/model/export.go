package model

import "time"

// SubmissionRow is one flattened submission for the backup/report exports.
type SubmissionRow struct {
	SubmissionID       string           `json:"submission_id"`
	ExamID             string           `json:"exam_id"`
	ExamTitle          string           `json:"exam_title"`
	ExamineeID         string           `json:"examinee_id"`
	ExamineeName       string           `json:"examinee_name"`
	Headquarters       string           `json:"headquarters"`
	HeadquartersName   string           `json:"headquarters_name"`
	Status             SubmissionStatus `json:"status"`
	SubmittedAt        time.Time        `json:"submitted_at"`
	HQScore            *int             `json:"hq_score,omitempty"`
	HQReviewedAt       *time.Time       `json:"hq_reviewed_at,omitempty"`
	POScore            *int             `json:"po_score,omitempty"`
	POReviewedAt       *time.Time       `json:"po_reviewed_at,omitempty"`
	FinalScore         *int             `json:"final_score,omitempty"`
	FinalOutcome       Outcome          `json:"final_outcome,omitempty"`
	LessonReview1      *LessonReview    `json:"lesson_review_1,omitempty"`
	LessonReview2      *LessonReview    `json:"lesson_review_2,omitempty"`
	ResultCommunicated bool             `json:"result_communicated"`
}

// SubmissionExport is the top-level JSON backup document.
type SubmissionExport struct {
	ExportedAt time.Time       `json:"exported_at"`
	Count      int             `json:"count"`
	Rows       []SubmissionRow `json:"rows"`
}

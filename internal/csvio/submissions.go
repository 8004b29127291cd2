package csvio

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"
	"time"

	"github.com/pavelanni/shoshin/internal/model"
)

// SubmissionColumns is the header row of the submissions report.
var SubmissionColumns = []string{
	"submission_id", "exam_id", "exam_title",
	"examinee_id", "examinee_name", "headquarters", "headquarters_name",
	"status", "submitted_at",
	"hq_score", "hq_reviewed_at", "po_score", "po_reviewed_at",
	"final_score", "final_outcome",
	"lesson_review_1_start", "lesson_review_1_end",
	"lesson_review_2_start", "lesson_review_2_end",
	"result_communicated",
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

func formatInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func formatWindow(w *model.LessonReview) (string, string) {
	if w == nil {
		return "", ""
	}
	return formatTime(&w.Start), formatTime(&w.End)
}

func record(row model.SubmissionRow) []string {
	submitted := row.SubmittedAt
	l1s, l1e := formatWindow(row.LessonReview1)
	l2s, l2e := formatWindow(row.LessonReview2)
	return []string{
		row.SubmissionID, row.ExamID, row.ExamTitle,
		row.ExamineeID, row.ExamineeName, row.Headquarters, row.HeadquartersName,
		string(row.Status), formatTime(&submitted),
		formatInt(row.HQScore), formatTime(row.HQReviewedAt), formatInt(row.POScore), formatTime(row.POReviewedAt),
		formatInt(row.FinalScore), string(row.FinalOutcome),
		l1s, l1e, l2s, l2e,
		strconv.FormatBool(row.ResultCommunicated),
	}
}

// WriteSubmissionsCSV writes one row per submission, UTF-8 with a BOM.
func WriteSubmissionsCSV(w io.Writer, rows []model.SubmissionRow) error {
	if _, err := io.WriteString(w, bom); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(SubmissionColumns); err != nil {
		return err
	}
	for _, row := range rows {
		if err := cw.Write(record(row)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteSubmissionsJSON writes the rows as an indented export document.
func WriteSubmissionsJSON(w io.Writer, rows []model.SubmissionRow, now time.Time) error {
	if rows == nil {
		rows = []model.SubmissionRow{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(model.SubmissionExport{ExportedAt: now, Count: len(rows), Rows: rows})
}

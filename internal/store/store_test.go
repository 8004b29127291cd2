package store

import (
	"errors"
	"testing"
	"time"

	"github.com/pavelanni/shoshin/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testExam() model.Exam {
	return model.Exam{
		Title:    "Annual promotion exam",
		Duration: 90,
		Status:   model.ExamPublished,
		Questions: []model.Question{
			{Item: model.Item{Text: "Describe leadership", Points: 20, Body: model.Descriptive{ModelAnswer: "lead"}}},
			{
				Item: model.Item{Text: "Values are ___ and ___", Points: 10, Body: model.FillInBlank{ModelAnswers: []string{"a", "b"}}},
			},
			{
				Item: model.Item{Text: "Case study", Points: 5},
				SubQuestions: []model.Item{
					{Text: "Part one", Points: 3},
					{Text: "Part two", Points: 2},
				},
			},
		},
	}
}

func TestExamCRUD(t *testing.T) {
	s := newTestStore(t)

	id, err := s.CreateExam(testExam())
	if err != nil {
		t.Fatalf("CreateExam: %v", err)
	}

	got, err := s.GetExam(id)
	if err != nil {
		t.Fatalf("GetExam: %v", err)
	}
	if got == nil {
		t.Fatal("expected exam, got nil")
	}
	if got.TotalPoints != 40 {
		t.Errorf("expected total points 40, got %d", got.TotalPoints)
	}
	for _, q := range got.Questions {
		if q.ID == "" {
			t.Error("question ID not assigned")
		}
		for _, sq := range q.SubQuestions {
			if sq.ID == "" {
				t.Error("sub-question ID not assigned")
			}
		}
	}
	if fib, ok := got.Questions[1].Body.(model.FillInBlank); !ok || len(fib.ModelAnswers) != 2 {
		t.Errorf("fill-in-the-blank body not preserved: %#v", got.Questions[1].Body)
	}

	// Edit and save recomputes the total.
	got.Questions[0].Points = 50
	if err := s.SaveExam(*got); err != nil {
		t.Fatalf("SaveExam: %v", err)
	}
	got, _ = s.GetExam(id)
	if got.TotalPoints != 70 {
		t.Errorf("expected total points 70 after save, got %d", got.TotalPoints)
	}

	// Not found.
	missing, err := s.GetExam("nope")
	if err != nil {
		t.Fatalf("GetExam missing: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for missing exam")
	}

	if err := s.DeleteExam(id); err != nil {
		t.Fatalf("DeleteExam: %v", err)
	}
	if err := s.DeleteExam(id); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound deleting twice, got %v", err)
	}
}

func TestListPublishedExams(t *testing.T) {
	s := newTestStore(t)

	for _, status := range []model.ExamStatus{model.ExamDraft, model.ExamPublished, model.ExamArchived, model.ExamPublished} {
		e := testExam()
		e.Status = status
		if _, err := s.CreateExam(e); err != nil {
			t.Fatalf("CreateExam: %v", err)
		}
	}
	pub, err := s.ListPublishedExams()
	if err != nil {
		t.Fatalf("ListPublishedExams: %v", err)
	}
	if len(pub) != 2 {
		t.Errorf("expected 2 published exams, got %d", len(pub))
	}
	all, _ := s.ListExams()
	if len(all) != 4 {
		t.Errorf("expected 4 exams, got %d", len(all))
	}
}

func TestUpdateMergesFields(t *testing.T) {
	s := newTestStore(t)

	id, err := s.CreateSubmission(model.Submission{
		ExamID:               "e1",
		ExamineeID:           "12345678",
		ExamineeHeadquarters: "TKY",
		Answers:              []model.Answer{{QuestionID: "q1", Value: model.TextValue("answer A")}},
	})
	if err != nil {
		t.Fatalf("CreateSubmission: %v", err)
	}

	final := 85
	err = s.UpdateSubmission(id, map[string]any{
		"final_score":         final,
		"result_communicated": true,
	})
	if err != nil {
		t.Fatalf("UpdateSubmission: %v", err)
	}

	sub, err := s.GetSubmission(id)
	if err != nil {
		t.Fatalf("GetSubmission: %v", err)
	}
	if sub.Status != model.StatusSubmitted {
		t.Errorf("expected status Submitted, got %q", sub.Status)
	}
	if sub.FinalScore == nil || *sub.FinalScore != 85 {
		t.Errorf("expected final score 85, got %v", sub.FinalScore)
	}
	if !sub.ResultCommunicated {
		t.Error("expected result_communicated to be true")
	}
	if len(sub.Answers) != 1 || sub.Answers[0].Value.Text != "answer A" {
		t.Errorf("answers lost in merge: %#v", sub.Answers)
	}

	// nil removes a field.
	if err := s.UpdateSubmission(id, map[string]any{"final_score": nil}); err != nil {
		t.Fatalf("UpdateSubmission nil: %v", err)
	}
	sub, _ = s.GetSubmission(id)
	if sub.FinalScore != nil {
		t.Errorf("expected final score removed, got %v", *sub.FinalScore)
	}

	// A merge that would break the document is rejected.
	if err := s.UpdateSubmission(id, map[string]any{"answers": "oops"}); err == nil {
		t.Error("expected error for invalid merged document")
	}

	if err := s.UpdateSubmission("missing", map[string]any{"status": "x"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSubmissionTimestampsRoundTrip(t *testing.T) {
	s := newTestStore(t)

	at := time.Date(2026, 4, 1, 9, 30, 0, 0, time.UTC)
	start := time.Date(2026, 5, 10, 10, 0, 0, 0, time.UTC)
	id, err := s.CreateSubmission(model.Submission{
		ExamID:        "e1",
		ExamineeID:    "12345678",
		SubmittedAt:   at,
		LessonReview1: &model.LessonReview{Start: start, End: start.Add(time.Hour)},
	})
	if err != nil {
		t.Fatalf("CreateSubmission: %v", err)
	}
	sub, _ := s.GetSubmission(id)
	if !sub.SubmittedAt.Equal(at) {
		t.Errorf("submitted_at = %v, want %v", sub.SubmittedAt, at)
	}
	if sub.LessonReview1 == nil || !sub.LessonReview1.End.Equal(start.Add(time.Hour)) {
		t.Errorf("lesson review window not preserved: %#v", sub.LessonReview1)
	}
}

func TestListSubmissionsFiltered(t *testing.T) {
	s := newTestStore(t)

	for _, sub := range []model.Submission{
		{ExamID: "e1", ExamineeID: "10000001", ExamineeHeadquarters: "TKY"},
		{ExamID: "e1", ExamineeID: "10000002", ExamineeHeadquarters: "OSK"},
		{ExamID: "e2", ExamineeID: "10000001", ExamineeHeadquarters: "TKY"},
	} {
		if _, err := s.CreateSubmission(sub); err != nil {
			t.Fatalf("CreateSubmission: %v", err)
		}
	}

	tests := []struct {
		name string
		list func() ([]model.Submission, error)
		want int
	}{
		{"all", s.ListSubmissions, 3},
		{"tokyo", func() ([]model.Submission, error) { return s.ListSubmissionsByHeadquarters("TKY") }, 2},
		{"osaka", func() ([]model.Submission, error) { return s.ListSubmissionsByHeadquarters("OSK") }, 1},
		{"unknown hq", func() ([]model.Submission, error) { return s.ListSubmissionsByHeadquarters("NGY") }, 0},
		{"examinee", func() ([]model.Submission, error) { return s.ListSubmissionsByExaminee("10000001") }, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.list()
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("expected %d submissions, got %d", tt.want, len(got))
			}
		})
	}
}

func TestCreateSubmissionOncePerExaminee(t *testing.T) {
	s := newTestStore(t)

	sub := model.Submission{ExamID: "e1", ExamineeID: "10000001", ExamineeHeadquarters: "TKY"}
	id, err := s.CreateSubmission(sub)
	if err != nil {
		t.Fatalf("CreateSubmission: %v", err)
	}
	if id != SubmissionID("e1", "10000001") {
		t.Errorf("unexpected id %q", id)
	}

	sub.Answers = []model.Answer{{QuestionID: "q1", Value: model.TextValue("second try")}}
	if _, err := s.CreateSubmission(sub); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	got, _ := s.GetSubmission(id)
	if got == nil || len(got.Answers) != 0 {
		t.Errorf("first submission overwritten: %#v", got)
	}

	if _, err := s.CreateSubmission(model.Submission{ExamID: "e2", ExamineeID: "10000001"}); err != nil {
		t.Errorf("other exam: %v", err)
	}
}

func TestUserCRUD(t *testing.T) {
	s := newTestStore(t)

	count, err := s.UserCount()
	if err != nil {
		t.Fatalf("UserCount: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 users, got %d", count)
	}

	id, err := s.CreateUser(model.User{
		Name:         "Hanako",
		EmployeeID:   "12345678",
		Role:         model.RoleExaminee,
		Headquarters: "TKY",
		PasswordHash: "hash",
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if id != "12345678" {
		t.Errorf("expected employee ID as document ID, got %q", id)
	}

	if _, err := s.CreateUser(model.User{Name: "Dup", EmployeeID: "12345678"}); !errors.Is(err, ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}

	if err := s.UpdateUser(id, map[string]any{"headquarters": "OSK"}); err != nil {
		t.Fatalf("UpdateUser: %v", err)
	}
	u, _ := s.GetUser(id)
	if u.Headquarters != "OSK" || u.Name != "Hanako" || u.PasswordHash != "hash" {
		t.Errorf("unexpected user after merge: %#v", u)
	}

	if err := s.DeleteUser(id); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	u, _ = s.GetUser(id)
	if u != nil {
		t.Error("expected user to be deleted")
	}
}

func TestHeadquarters(t *testing.T) {
	s := newTestStore(t)

	if err := s.PutHeadquarters(
		model.Headquarters{Code: "TKY", Name: "Tokyo"},
		model.Headquarters{Code: "OSK", Name: "Osaka"},
	); err != nil {
		t.Fatalf("PutHeadquarters: %v", err)
	}
	list, err := s.ListHeadquarters()
	if err != nil {
		t.Fatalf("ListHeadquarters: %v", err)
	}
	if len(list) != 2 || list[0].Code != "TKY" {
		t.Errorf("unexpected headquarters list: %#v", list)
	}
	hq, _ := s.GetHeadquarters("OSK")
	if hq == nil || hq.Name != "Osaka" {
		t.Errorf("expected Osaka, got %#v", hq)
	}
	if err := s.DeleteHeadquarters("OSK"); err != nil {
		t.Fatalf("DeleteHeadquarters: %v", err)
	}
}

func TestState(t *testing.T) {
	s := newTestStore(t)

	if _, ok, err := s.GetState("u1", "k"); err != nil || ok {
		t.Fatalf("expected missing key, got ok=%v err=%v", ok, err)
	}
	for _, kv := range []struct{ k, v string }{
		{"exam_1-answers", "[]"},
		{"exam_1-endTime", "100"},
		{"examX1-keep", "keep"},
		{"exam_2-answers", "[]"},
	} {
		if err := s.SetState("u1", kv.k, kv.v); err != nil {
			t.Fatalf("SetState: %v", err)
		}
	}
	if err := s.SetState("u1", "exam_1-endTime", "200"); err != nil {
		t.Fatalf("SetState overwrite: %v", err)
	}
	v, ok, _ := s.GetState("u1", "exam_1-endTime")
	if !ok || v != "200" {
		t.Errorf("expected 200, got %q (ok=%v)", v, ok)
	}
	// Other owners are isolated.
	if _, ok, _ := s.GetState("u2", "exam_1-endTime"); ok {
		t.Error("state leaked across owners")
	}

	if err := s.DeleteStatePrefix("u1", "exam_1-"); err != nil {
		t.Fatalf("DeleteStatePrefix: %v", err)
	}
	if _, ok, _ := s.GetState("u1", "exam_1-answers"); ok {
		t.Error("expected exam_1-answers deleted")
	}
	// "_" in the prefix is matched literally.
	if _, ok, _ := s.GetState("u1", "examX1-keep"); !ok {
		t.Error("expected examX1-keep to survive prefix delete")
	}
	if _, ok, _ := s.GetState("u1", "exam_2-answers"); !ok {
		t.Error("expected exam_2-answers to survive")
	}
}

func TestAuthSessions(t *testing.T) {
	s := newTestStore(t)

	token, err := s.CreateAuthSession("12345678")
	if err != nil {
		t.Fatalf("CreateAuthSession: %v", err)
	}
	sess, err := s.GetAuthSession(token)
	if err != nil || sess == nil {
		t.Fatalf("GetAuthSession: %v %v", sess, err)
	}
	if sess.UserID != "12345678" {
		t.Errorf("expected user 12345678, got %q", sess.UserID)
	}
	if err := s.DeleteUserAuthSessions("12345678"); err != nil {
		t.Fatalf("DeleteUserAuthSessions: %v", err)
	}
	sess, _ = s.GetAuthSession(token)
	if sess != nil {
		t.Error("expected session removed")
	}
}

func TestRevokeAuthSessionsKeepsCurrent(t *testing.T) {
	s := newTestStore(t)

	keep, _ := s.CreateAuthSession("12345678")
	drop, _ := s.CreateAuthSession("12345678")
	other, _ := s.CreateAuthSession("87654321")

	n, err := s.RevokeAuthSessions("12345678", keep)
	if err != nil {
		t.Fatalf("RevokeAuthSessions: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 revoked session, got %d", n)
	}
	for token, want := range map[string]bool{keep: true, drop: false, other: true} {
		sess, err := s.GetAuthSession(token)
		if err != nil {
			t.Fatalf("GetAuthSession: %v", err)
		}
		if (sess != nil) != want {
			t.Errorf("session %s present = %v, want %v", token[:6], sess != nil, want)
		}
	}
}

func TestExportSubmissions(t *testing.T) {
	s := newTestStore(t)

	examID, _ := s.CreateExam(testExam())
	_ = s.PutHeadquarters(model.Headquarters{Code: "TKY", Name: "Tokyo"})
	_, _ = s.CreateUser(model.User{Name: "Taro", EmployeeID: "10000001", Role: model.RoleExaminee})
	subID, _ := s.CreateSubmission(model.Submission{ExamID: examID, ExamineeID: "10000001", ExamineeHeadquarters: "TKY"})
	_ = s.UpdateSubmission(subID, map[string]any{
		"hq_grade": model.Grade{Score: 82, Reviewer: model.TierHeadquarters, ReviewedAt: time.Now()},
	})

	rows, err := s.ExportSubmissions()
	if err != nil {
		t.Fatalf("ExportSubmissions: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	r := rows[0]
	if r.ExamineeName != "Taro" || r.HeadquartersName != "Tokyo" || r.ExamTitle != "Annual promotion exam" {
		t.Errorf("names not joined: %#v", r)
	}
	if r.HQScore == nil || *r.HQScore != 82 {
		t.Errorf("expected HQ score 82, got %v", r.HQScore)
	}
	if r.POScore != nil {
		t.Error("expected no PO score")
	}
}

func TestImportedFileHash(t *testing.T) {
	s := newTestStore(t)

	h, err := s.GetImportedFileHash("exams/a.yaml")
	if err != nil || h != "" {
		t.Fatalf("expected empty hash, got %q %v", h, err)
	}
	if err := s.SetImportedFileHash("exams/a.yaml", "abc"); err != nil {
		t.Fatalf("SetImportedFileHash: %v", err)
	}
	h, _ = s.GetImportedFileHash("exams/a.yaml")
	if h != "abc" {
		t.Errorf("expected abc, got %q", h)
	}
}

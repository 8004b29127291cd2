package grading

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelanni/shoshin/internal/llm"
	"github.com/pavelanni/shoshin/internal/model"
)

func testExam() *model.Exam {
	return &model.Exam{
		ID:       "e1",
		Title:    "Promotion exam",
		Duration: 60,
		Questions: []model.Question{
			{Item: model.Item{ID: "q1", Text: "Explain service.", Points: 40, Body: model.Descriptive{ModelAnswer: "Care for guests."}}},
			{Item: model.Item{ID: "q2", Text: "Fill ___.", Points: 30, Body: model.FillInBlank{ModelAnswers: []string{"safety"}}}},
			{
				Item: model.Item{ID: "q3", Text: "Case study", Points: 10, Body: model.Descriptive{ModelAnswer: "Escalate."}},
				SubQuestions: []model.Item{
					{ID: "q3a", Text: "First step", Points: 20, Body: model.Selection{Options: []string{"call", "wait"}, ModelAnswer: "call"}},
				},
			},
		},
	}
}

func testSubmission() *model.Submission {
	return &model.Submission{
		ID:                   "s1",
		ExamID:               "e1",
		ExamineeID:           "10000001",
		ExamineeHeadquarters: "Tokyo",
		Status:               model.StatusSubmitted,
		Answers: []model.Answer{
			{QuestionID: "q1", Value: model.TextValue("answer A")},
			{QuestionID: "q2", Value: model.BlanksValue("blank1")},
			{QuestionID: "q3", SubAnswers: []model.Answer{{QuestionID: "q3a", Value: model.TextValue("call")}}},
		},
	}
}

type fakeGrader struct {
	mu     sync.Mutex
	scores map[string]int
	fail   map[string]bool
	delay  map[string]time.Duration
	calls  []llm.GradeRequest
}

func (f *fakeGrader) GradeAnswer(ctx context.Context, req llm.GradeRequest) (*llm.GradeResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()

	key := strings.SplitN(req.QuestionText, "\n", 2)[0]
	time.Sleep(f.delay[key])
	if f.fail[key] {
		return nil, errors.New("collaborator unavailable")
	}
	return &llm.GradeResult{Score: f.scores[key], Justification: "because " + key}, nil
}

func TestPassedBoundary(t *testing.T) {
	assert.False(t, Passed(79, DefaultPassThreshold))
	assert.True(t, Passed(80, DefaultPassThreshold))
	assert.True(t, Passed(100, DefaultPassThreshold))
	assert.False(t, Passed(0, DefaultPassThreshold))
}

func TestSetManualScoreBounds(t *testing.T) {
	r := NewReview(testExam(), testSubmission())

	require.NoError(t, r.SetManualScore("q1", 40))
	err := r.SetManualScore("q1", 41)
	assert.ErrorIs(t, err, ErrScoreOutOfRange)
	err = r.SetManualScore("q1", -1)
	assert.ErrorIs(t, err, ErrScoreOutOfRange)
	got, ok := r.ManualScore("q1")
	require.True(t, ok)
	assert.Equal(t, 40, got, "prior value retained")

	// Sub-question points count toward the top-level maximum.
	require.NoError(t, r.SetManualScore("q3", 30))
	assert.ErrorIs(t, r.SetManualScore("q3", 31), ErrScoreOutOfRange)

	assert.ErrorIs(t, r.SetManualScore("nope", 1), ErrUnknownQuestion)
}

func TestTotalIsSumOfManualScores(t *testing.T) {
	r := NewReview(testExam(), testSubmission())
	assert.Equal(t, 0, r.Total())
	require.NoError(t, r.SetManualScore("q1", 30))
	require.NoError(t, r.SetManualScore("q2", 25))
	assert.Equal(t, 55, r.Total())
	require.NoError(t, r.SetManualScore("q2", 10))
	assert.Equal(t, 40, r.Total())
	assert.Equal(t, map[string]int{"q1": 30, "q2": 10}, r.Scores())
}

func TestGradeOneAutofillsManualScore(t *testing.T) {
	g := &fakeGrader{scores: map[string]int{"Explain service.": 35}}
	r := NewReview(testExam(), testSubmission())

	res, err := GradeOne(context.Background(), g, r, testSubmission(), "q1")
	require.NoError(t, err)
	assert.Equal(t, 35, res.Score)
	got, _ := r.ManualScore("q1")
	assert.Equal(t, 35, got)
	assert.Equal(t, "because Explain service.", r.Questions["q1"].AIJustification)

	require.Len(t, g.calls, 1)
	assert.Equal(t, "Care for guests.", g.calls[0].ModelAnswer)
	assert.Equal(t, "answer A", g.calls[0].AnswerText)
	assert.Equal(t, 40, g.calls[0].Points)

	// The reviewer may still override the AI score.
	require.NoError(t, r.SetManualScore("q1", 20))
	got, _ = r.ManualScore("q1")
	assert.Equal(t, 20, got)
}

func TestGradeOneFailuresLeaveStateUntouched(t *testing.T) {
	exam := testExam()
	exam.Questions[1].Body = model.FillInBlank{}
	sub := testSubmission()
	sub.Answers = sub.Answers[1:]

	g := &fakeGrader{fail: map[string]bool{"Case study": true}, scores: map[string]int{"Explain service.": 99}}
	r := NewReview(exam, sub)
	require.NoError(t, r.SetManualScore("q3", 5))

	_, err := GradeOne(context.Background(), g, r, sub, "q2")
	assert.ErrorIs(t, err, ErrNoModelAnswer)

	_, err = GradeOne(context.Background(), g, r, sub, "q1")
	assert.ErrorIs(t, err, ErrNoAnswer)

	_, err = GradeOne(context.Background(), g, r, sub, "q3")
	require.Error(t, err)
	got, _ := r.ManualScore("q3")
	assert.Equal(t, 5, got)

	sub.Answers = testSubmission().Answers
	_, err = GradeOne(context.Background(), g, r, sub, "q1")
	assert.ErrorIs(t, err, ErrInvalidAIScore)
	_, ok := r.ManualScore("q1")
	assert.False(t, ok)
}

func TestBuildRequestFoldsSubQuestions(t *testing.T) {
	exam := testExam()
	req, err := BuildRequest(&exam.Questions[2], testSubmission())
	require.NoError(t, err)
	assert.Contains(t, req.QuestionText, "Case study")
	assert.Contains(t, req.QuestionText, "(1) First step [20]")
	assert.Contains(t, req.ModelAnswer, "Escalate.")
	assert.Contains(t, req.ModelAnswer, "(1) call")
	assert.Equal(t, "(1) First step: call", req.AnswerText)
	assert.Equal(t, 30, req.Points)
}

func TestGradeAllIndependentFailures(t *testing.T) {
	// Completion order is reversed relative to question order.
	g := &fakeGrader{
		scores: map[string]int{"Explain service.": 30, "Case study": 25},
		fail:   map[string]bool{"Fill ___.": true},
		delay: map[string]time.Duration{
			"Explain service.": 30 * time.Millisecond,
			"Fill ___.":        15 * time.Millisecond,
		},
	}
	r := NewReview(testExam(), testSubmission())
	require.NoError(t, r.SetManualScore("q2", 12))

	outcomes := GradeAll(context.Background(), g, r, testSubmission(), 3)
	require.Len(t, outcomes, 3)
	assert.Equal(t, "q1", outcomes[0].QuestionID)
	assert.NoError(t, outcomes[0].Err)
	assert.Error(t, outcomes[1].Err)
	assert.NoError(t, outcomes[2].Err)

	s1, _ := r.ManualScore("q1")
	s2, _ := r.ManualScore("q2")
	s3, _ := r.ManualScore("q3")
	assert.Equal(t, 30, s1)
	assert.Equal(t, 12, s2, "failed question keeps its prior score")
	assert.Equal(t, 25, s3)
	assert.Len(t, g.calls, 3)
}

func TestGradeAllSkipsUngradable(t *testing.T) {
	sub := testSubmission()
	sub.Answers = sub.Answers[:1]
	g := &fakeGrader{scores: map[string]int{"Explain service.": 10}}
	r := NewReview(testExam(), sub)

	outcomes := GradeAll(context.Background(), g, r, sub, 0)
	assert.NoError(t, outcomes[0].Err)
	assert.ErrorIs(t, outcomes[1].Err, ErrNoAnswer)
	assert.ErrorIs(t, outcomes[2].Err, ErrNoAnswer)
	assert.Len(t, g.calls, 1)
}

func TestCanReview(t *testing.T) {
	sub := testSubmission()
	osaka := &model.User{ID: "20000001", Role: model.RoleHQAdmin, Headquarters: "Osaka"}
	tokyo := &model.User{ID: "20000002", Role: model.RoleHQAdmin, Headquarters: "Tokyo"}
	admin := &model.User{ID: "90000001", Role: model.RoleSystemAdmin}
	examinee := &model.User{ID: "10000001", Role: model.RoleExaminee, Headquarters: "Tokyo"}

	err := CanReview(osaka, sub)
	require.ErrorIs(t, err, ErrAccessDenied)
	var denied *AccessDeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, "Osaka", denied.UserHeadquarters)
	assert.Equal(t, "Tokyo", denied.SubmissionHeadquarters)

	assert.NoError(t, CanReview(tokyo, sub))
	assert.NoError(t, CanReview(admin, sub))
	assert.ErrorIs(t, CanReview(examinee, sub), ErrAccessDenied)
	assert.ErrorIs(t, CanReview(nil, sub), ErrAccessDenied)

	unassigned := &model.User{ID: "20000003", Role: model.RoleHQAdmin}
	noHQ := testSubmission()
	noHQ.ExamineeHeadquarters = ""
	assert.ErrorIs(t, CanReview(unassigned, noHQ), ErrAccessDenied)

	visible := Reviewable(osaka, []model.Submission{*sub})
	assert.Empty(t, visible)
	assert.Len(t, Reviewable(admin, []model.Submission{*sub}), 1)
}

func window(day int) *model.LessonReview {
	start := time.Date(2026, 4, day, 10, 0, 0, 0, time.UTC)
	return &model.LessonReview{Start: start, End: start.Add(2 * time.Hour)}
}

func TestTierWorkflow(t *testing.T) {
	exam := testExam()
	sub := testSubmission()
	hq := &model.User{ID: "20000002", Role: model.RoleHQAdmin, Headquarters: "Tokyo"}
	admin := &model.User{ID: "90000001", Role: model.RoleSystemAdmin}
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	r := NewReview(exam, sub)
	require.NoError(t, r.SetManualScore("q1", 40))
	require.NoError(t, r.SetManualScore("q2", 25))
	require.NoError(t, r.SetManualScore("q3", 15))

	_, err := SubmitPersonnelOffice(sub, exam, admin, TierInput{}, DefaultPassThreshold, now)
	assert.ErrorIs(t, err, ErrHQGradeRequired)

	_, err = SubmitHeadquarters(sub, r, hq, TierInput{Justification: "solid"}, DefaultPassThreshold, now)
	assert.ErrorIs(t, err, ErrLessonReviewRequired, "passing total needs lesson windows")
	assert.Nil(t, sub.HQGrade)

	bad := window(3)
	bad.End = bad.Start
	_, err = SubmitHeadquarters(sub, r, hq, TierInput{LessonReview1: window(3), LessonReview2: bad}, DefaultPassThreshold, now)
	assert.ErrorIs(t, err, ErrInvalidLessonReview)

	fields, err := SubmitHeadquarters(sub, r, hq, TierInput{Justification: " solid ", LessonReview1: window(3), LessonReview2: window(4)}, DefaultPassThreshold, now)
	require.NoError(t, err)
	assert.Equal(t, model.StatusGrading, sub.Status)
	require.NotNil(t, sub.HQGrade)
	assert.Equal(t, 80, sub.HQGrade.Score)
	assert.Equal(t, "solid", sub.HQGrade.Justification)
	assert.Equal(t, hq.ID, sub.HQGrade.ReviewerID)
	assert.Equal(t, model.TierHeadquarters, sub.HQGrade.Reviewer)
	assert.Equal(t, map[string]int{"q1": 40, "q2": 25, "q3": 15}, sub.HQGrade.Scores)
	assert.Contains(t, fields, "hq_grade")
	assert.Equal(t, model.StatusGrading, fields["status"])

	_, err = SubmitHeadquarters(sub, r, hq, TierInput{}, DefaultPassThreshold, now)
	assert.ErrorIs(t, err, ErrTierSubmitted)

	_, err = SubmitPersonnelOffice(sub, exam, hq, TierInput{}, DefaultPassThreshold, now)
	assert.ErrorIs(t, err, ErrTierNotPermitted)

	over := 101
	_, err = SubmitPersonnelOffice(sub, exam, admin, TierInput{FinalScore: &over}, DefaultPassThreshold, now)
	assert.ErrorIs(t, err, ErrScoreOutOfRange)

	// Accepting the HQ total reuses the windows captured at the first tier.
	fields, err = SubmitPersonnelOffice(sub, exam, admin, TierInput{}, DefaultPassThreshold, now)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, sub.Status)
	require.NotNil(t, sub.FinalScore)
	assert.Equal(t, 80, *sub.FinalScore)
	assert.Equal(t, model.OutcomePassed, sub.FinalOutcome)
	assert.Equal(t, 80, fields["final_score"])

	_, err = SubmitPersonnelOffice(sub, exam, admin, TierInput{}, DefaultPassThreshold, now)
	assert.ErrorIs(t, err, ErrTierSubmitted)
}

func TestPersonnelOfficeOverrideFails(t *testing.T) {
	exam := testExam()
	sub := testSubmission()
	sub.HQGrade = &model.Grade{Score: 85, Reviewer: model.TierHeadquarters}
	sub.LessonReview1, sub.LessonReview2 = window(3), window(4)
	admin := &model.User{ID: "90000001", Role: model.RoleSystemAdmin}

	override := 79
	fields, err := SubmitPersonnelOffice(sub, exam, admin, TierInput{FinalScore: &override, Justification: "adjusted"}, DefaultPassThreshold, time.Now())
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeFailed, sub.FinalOutcome)
	assert.Equal(t, 79, *sub.FinalScore)
	assert.Equal(t, model.OutcomeFailed, fields["final_outcome"])
}

func TestFailingHQReviewNeedsNoWindows(t *testing.T) {
	exam := testExam()
	sub := testSubmission()
	hq := &model.User{ID: "20000002", Role: model.RoleHQAdmin, Headquarters: "Tokyo"}
	r := NewReview(exam, sub)
	require.NoError(t, r.SetManualScore("q1", 10))

	fields, err := SubmitHeadquarters(sub, r, hq, TierInput{}, DefaultPassThreshold, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 10, sub.HQGrade.Score)
	assert.Nil(t, fields["lesson_review_1"])
}

func TestHQReviewRespectsAccess(t *testing.T) {
	sub := testSubmission()
	osaka := &model.User{ID: "20000001", Role: model.RoleHQAdmin, Headquarters: "Osaka"}
	r := NewReview(testExam(), sub)
	_, err := SubmitHeadquarters(sub, r, osaka, TierInput{}, DefaultPassThreshold, time.Now())
	assert.ErrorIs(t, err, ErrAccessDenied)
}

type memDrafts map[string]string

func (m memDrafts) GetState(owner, key string) (string, bool, error) {
	v, ok := m[owner+"/"+key]
	return v, ok, nil
}

func (m memDrafts) SetState(owner, key, value string) error {
	m[owner+"/"+key] = value
	return nil
}

func (m memDrafts) DeleteState(owner, key string) error {
	delete(m, owner+"/"+key)
	return nil
}

func TestDraftRoundTrip(t *testing.T) {
	ds := memDrafts{}
	exam := testExam()
	sub := testSubmission()

	r, err := LoadReview(ds, "rev", exam, sub)
	require.NoError(t, err)
	require.NoError(t, r.SetManualScore("q1", 12))
	r.applyAI("q2", 20, "mostly right")
	require.NoError(t, SaveReview(ds, "rev", r))

	loaded, err := LoadReview(ds, "rev", exam, sub)
	require.NoError(t, err)
	assert.Equal(t, 32, loaded.Total())
	assert.Equal(t, "mostly right", loaded.Questions["q2"].AIJustification)

	other, err := LoadReview(ds, "someone-else", exam, sub)
	require.NoError(t, err)
	assert.Equal(t, 0, other.Total())

	require.NoError(t, DiscardReview(ds, "rev", sub.ID))
	fresh, err := LoadReview(ds, "rev", exam, sub)
	require.NoError(t, err)
	assert.Equal(t, 0, fresh.Total())
}

func TestDraftDropsStaleScores(t *testing.T) {
	ds := memDrafts{}
	ds["rev/"+DraftKey("s1")] = `{"submission_id":"s1","questions":{"q1":{"manual":50},"gone":{"manual":3},"q2":{"manual":7}}}`
	r, err := LoadReview(ds, "rev", testExam(), testSubmission())
	require.NoError(t, err)
	_, ok := r.ManualScore("q1")
	assert.False(t, ok, "score above the current maximum is dropped")
	assert.NotContains(t, r.Questions, "gone")
	assert.Equal(t, 7, r.Total())

	ds["rev/"+DraftKey("s1")] = "{corrupt"
	r, err = LoadReview(ds, "rev", testExam(), testSubmission())
	require.NoError(t, err)
	assert.Equal(t, 0, r.Total())
}

func TestNewReviewSeedsFromHQGrade(t *testing.T) {
	sub := testSubmission()
	sub.HQGrade = &model.Grade{Score: 50, Scores: map[string]int{"q1": 30, "q2": 20}}
	r := NewReview(testExam(), sub)
	assert.Equal(t, 50, r.Total())
}

func TestDraftReseededAfterHQGrade(t *testing.T) {
	ds := memDrafts{}
	exam := testExam()
	sub := testSubmission()

	early, err := LoadReview(ds, "po", exam, sub)
	require.NoError(t, err)
	require.NoError(t, early.SetManualScore("q1", 5))
	require.NoError(t, SaveReview(ds, "po", early))

	sub.HQGrade = &model.Grade{
		Score:      70,
		Scores:     map[string]int{"q1": 40, "q2": 30},
		ReviewedAt: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
	}
	r, err := LoadReview(ds, "po", exam, sub)
	require.NoError(t, err)
	assert.Equal(t, 70, r.Total(), "headquarters scores replace the earlier draft")

	// A draft started from the current grade is kept.
	require.NoError(t, r.SetManualScore("q1", 35))
	require.NoError(t, SaveReview(ds, "po", r))
	again, err := LoadReview(ds, "po", exam, sub)
	require.NoError(t, err)
	assert.Equal(t, 65, again.Total())
}

func TestFailingReviewRejectsMalformedWindow(t *testing.T) {
	exam := testExam()
	sub := testSubmission()
	hq := &model.User{ID: "20000002", Role: model.RoleHQAdmin, Headquarters: "Tokyo"}
	r := NewReview(exam, sub)
	require.NoError(t, r.SetManualScore("q1", 10))

	start := time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)
	backwards := &model.LessonReview{Start: start, End: start.Add(-time.Hour)}
	_, err := SubmitHeadquarters(sub, r, hq, TierInput{LessonReview1: backwards}, DefaultPassThreshold, time.Now())
	assert.ErrorIs(t, err, ErrInvalidLessonReview)
	assert.Nil(t, sub.HQGrade, "nothing recorded")

	ok := &model.LessonReview{Start: start, End: start.Add(time.Hour)}
	fields, err := SubmitHeadquarters(sub, r, hq, TierInput{LessonReview1: ok}, DefaultPassThreshold, time.Now())
	require.NoError(t, err)
	assert.Equal(t, ok, fields["lesson_review_1"])
	assert.Nil(t, fields["lesson_review_2"])
}

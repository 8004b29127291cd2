package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/a-h/templ"
	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/shoshin/internal/grading"
	"github.com/pavelanni/shoshin/internal/handler/views"
	"github.com/pavelanni/shoshin/internal/i18n"
	"github.com/pavelanni/shoshin/internal/llm"
	"github.com/pavelanni/shoshin/internal/metrics"
	"github.com/pavelanni/shoshin/internal/model"
)

type reviewSummary struct {
	ID                 string                 `json:"id"`
	ExamID             string                 `json:"exam_id"`
	ExamTitle          string                 `json:"exam_title"`
	ExamineeID         string                 `json:"examinee_id"`
	ExamineeName       string                 `json:"examinee_name"`
	Headquarters       string                 `json:"headquarters"`
	Status             model.SubmissionStatus `json:"status"`
	SubmittedAt        time.Time              `json:"submitted_at"`
	FinalScore         *int                   `json:"final_score,omitempty"`
	FinalOutcome       model.Outcome          `json:"final_outcome,omitempty"`
	ResultCommunicated bool                   `json:"result_communicated"`
}

func (h *Handler) handleListReviews(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	subs, err := h.store.ListSubmissions()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	subs = grading.Reviewable(user, subs)

	titles := make(map[string]string)
	names := make(map[string]string)
	out := make([]reviewSummary, 0, len(subs))
	for _, s := range subs {
		if _, ok := titles[s.ExamID]; !ok {
			if e, err := h.store.GetExam(s.ExamID); err == nil && e != nil {
				titles[s.ExamID] = e.Title
			} else {
				titles[s.ExamID] = ""
			}
		}
		if _, ok := names[s.ExamineeID]; !ok {
			if u, err := h.store.GetUser(s.ExamineeID); err == nil && u != nil {
				names[s.ExamineeID] = u.Name
			} else {
				names[s.ExamineeID] = ""
			}
		}
		out = append(out, reviewSummary{
			ID:                 s.ID,
			ExamID:             s.ExamID,
			ExamTitle:          titles[s.ExamID],
			ExamineeID:         s.ExamineeID,
			ExamineeName:       names[s.ExamineeID],
			Headquarters:       s.ExamineeHeadquarters,
			Status:             s.Status,
			SubmittedAt:        s.SubmittedAt,
			FinalScore:         s.FinalScore,
			FinalOutcome:       s.FinalOutcome,
			ResultCommunicated: s.ResultCommunicated,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// loadSubmission fetches the submission in the URL and checks the caller
// may see it before loading anything else.
func (h *Handler) loadSubmission(r *http.Request) (*model.Submission, *model.Exam, error) {
	user := model.UserFromContext(r.Context())
	sub, err := h.store.GetSubmission(chi.URLParam(r, "id"))
	if err != nil {
		return nil, nil, err
	}
	if sub == nil {
		return nil, nil, errNotFound
	}
	if err := grading.CanReview(user, sub); err != nil {
		slog.Info("review access denied", "user_id", user.ID, "submission_id", sub.ID, "error", err)
		return nil, nil, err
	}
	exam, err := h.store.GetExam(sub.ExamID)
	if err != nil {
		return nil, nil, err
	}
	if exam == nil {
		return nil, nil, errNotFound
	}
	return sub, exam, nil
}

// reviewContext is a submission with the caller's current draft.
type reviewContext struct {
	user   *model.User
	sub    *model.Submission
	exam   *model.Exam
	review *grading.Review
}

func (h *Handler) loadReview(r *http.Request) (*reviewContext, error) {
	sub, exam, err := h.loadSubmission(r)
	if err != nil {
		return nil, err
	}
	user := model.UserFromContext(r.Context())
	rv, err := grading.LoadReview(h.store, user.ID, exam, sub)
	if err != nil {
		return nil, err
	}
	return &reviewContext{user: user, sub: sub, exam: exam, review: rv}, nil
}

func (h *Handler) saveReview(rc *reviewContext) error {
	return grading.SaveReview(h.store, rc.user.ID, rc.review)
}

// reviewState is the scoring part of a review response.
type reviewState struct {
	Questions map[string]*grading.QuestionScore `json:"questions"`
	Total     int                               `json:"total"`
	MaxTotal  int                               `json:"max_total"`
	Threshold int                               `json:"threshold"`
	Passed    bool                              `json:"passed"`
}

func (h *Handler) state(rv *grading.Review) reviewState {
	total := rv.Total()
	return reviewState{
		Questions: rv.Questions,
		Total:     total,
		MaxTotal:  rv.Exam().SumPoints(),
		Threshold: h.config.PassThreshold,
		Passed:    grading.Passed(total, h.config.PassThreshold),
	}
}

type reviewDetail struct {
	Submission *model.Submission `json:"submission"`
	Exam       *model.Exam       `json:"exam"`
	Examinee   *model.User       `json:"examinee,omitempty"`
	Review     reviewState       `json:"review"`
}

func (h *Handler) handleGetReview(w http.ResponseWriter, r *http.Request) {
	rc, err := h.loadReview(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	detail := reviewDetail{Submission: rc.sub, Exam: rc.exam, Review: h.state(rc.review)}
	if u, err := h.store.GetUser(rc.sub.ExamineeID); err == nil && u != nil {
		pub := u.Public()
		detail.Examinee = &pub
	}
	writeJSON(w, http.StatusOK, detail)
}

type scoreForm struct {
	Score *int `json:"score" validate:"required"`
}

func (h *Handler) handleSetScore(w http.ResponseWriter, r *http.Request) {
	var form scoreForm
	if err := readJSON(r, &form); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.validate.Struct(form); err != nil {
		h.fail(w, r, err)
		return
	}
	rc, err := h.loadReview(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := rc.review.SetManualScore(chi.URLParam(r, "questionID"), *form.Score); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.saveReview(rc); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.state(rc.review))
}

type gradeResponse struct {
	QuestionID    string      `json:"question_id"`
	Score         int         `json:"score"`
	Justification string      `json:"justification"`
	Review        reviewState `json:"review"`
}

func (h *Handler) handleGradeOne(w http.ResponseWriter, r *http.Request) {
	rc, err := h.loadReview(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	qID := chi.URLParam(r, "questionID")
	res, err := grading.GradeOne(r.Context(), h.ai, rc.review, rc.sub, qID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.saveReview(rc); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, gradeResponse{
		QuestionID:    qID,
		Score:         res.Score,
		Justification: res.Justification,
		Review:        h.state(rc.review),
	})
}

type rubricForm struct {
	Rubric string `json:"rubric"`
}

func (h *Handler) handleGradeRubric(w http.ResponseWriter, r *http.Request) {
	var form rubricForm
	if err := readJSON(r, &form); err != nil {
		h.fail(w, r, err)
		return
	}
	rc, err := h.loadReview(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	qID := chi.URLParam(r, "questionID")
	res, err := grading.GradeWithRubric(r.Context(), h.ai, rc.review, rc.sub, qID, form.Rubric)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.saveReview(rc); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, gradeResponse{
		QuestionID:    qID,
		Score:         res.Score,
		Justification: res.Justification,
		Review:        h.state(rc.review),
	})
}

type outcomeJSON struct {
	QuestionID    string `json:"question_id"`
	Score         *int   `json:"score,omitempty"`
	Justification string `json:"justification,omitempty"`
	Error         string `json:"error,omitempty"`
	Code          string `json:"code,omitempty"`
}

type gradeAllResponse struct {
	Message  string        `json:"message"`
	Outcomes []outcomeJSON `json:"outcomes"`
	Review   reviewState   `json:"review"`
}

// handleGradeAll grades every question concurrently. Failed questions are
// reported per question while the successes are kept.
func (h *Handler) handleGradeAll(w http.ResponseWriter, r *http.Request) {
	rc, err := h.loadReview(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	outcomes := grading.GradeAll(r.Context(), h.ai, rc.review, rc.sub, h.config.GradeConcurrency)
	if err := h.saveReview(rc); err != nil {
		h.fail(w, r, err)
		return
	}

	graded := 0
	out := make([]outcomeJSON, len(outcomes))
	for i, o := range outcomes {
		out[i].QuestionID = o.QuestionID
		if o.Err != nil {
			_, code := classify(o.Err)
			out[i].Code = code
			out[i].Error = i18n.T(r.Context(), code)
			continue
		}
		graded++
		score := o.Result.Score
		out[i].Score = &score
		out[i].Justification = o.Result.Justification
	}
	writeJSON(w, http.StatusOK, gradeAllResponse{
		Message:  i18n.Tp(r.Context(), "QuestionsGraded", graded),
		Outcomes: out,
		Review:   h.state(rc.review),
	})
}

type summaryResponse struct {
	QuestionID string `json:"question_id"`
	Summary    string `json:"summary"`
}

// handleSummarize condenses the AI justification of one question into a
// short note for the examinee. Nothing is stored.
func (h *Handler) handleSummarize(w http.ResponseWriter, r *http.Request) {
	rc, err := h.loadReview(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	qID := chi.URLParam(r, "questionID")
	q := rc.exam.Question(qID)
	if q == nil {
		h.fail(w, r, grading.ErrUnknownQuestion)
		return
	}
	req, err := grading.BuildRequest(q, rc.sub)
	if err != nil && !errors.Is(err, grading.ErrNoModelAnswer) {
		h.fail(w, r, err)
		return
	}
	feedback := ""
	if qs := rc.review.Questions[qID]; qs != nil {
		feedback = qs.AIJustification
	}
	summary, err := h.ai.SummarizeFeedback(r.Context(), llm.SummaryRequest{
		QuestionText: req.QuestionText,
		AnswerText:   req.AnswerText,
		Feedback:     feedback,
	})
	if err != nil {
		h.fail(w, r, wrapCollaborator(err))
		return
	}
	writeJSON(w, http.StatusOK, summaryResponse{QuestionID: qID, Summary: summary})
}

type tierForm struct {
	Justification string              `json:"justification"`
	LessonReview1 *model.LessonReview `json:"lesson_review_1"`
	LessonReview2 *model.LessonReview `json:"lesson_review_2"`
	FinalScore    *int                `json:"final_score"`
}

func (f tierForm) input() grading.TierInput {
	return grading.TierInput{
		Justification: f.Justification,
		LessonReview1: f.LessonReview1,
		LessonReview2: f.LessonReview2,
		FinalScore:    f.FinalScore,
	}
}

// handleSubmitHQ submits the headquarters tier from the caller's draft.
func (h *Handler) handleSubmitHQ(w http.ResponseWriter, r *http.Request) {
	var form tierForm
	if err := readJSON(r, &form); err != nil {
		h.fail(w, r, err)
		return
	}
	rc, err := h.loadReview(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	fields, err := grading.SubmitHeadquarters(rc.sub, rc.review, rc.user, form.input(), h.config.PassThreshold, h.now())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.finishTier(w, r, rc, fields, "hq_reviewed")
}

// handleSubmitPO submits the personnel office tier, the final decision.
func (h *Handler) handleSubmitPO(w http.ResponseWriter, r *http.Request) {
	var form tierForm
	if err := readJSON(r, &form); err != nil {
		h.fail(w, r, err)
		return
	}
	rc, err := h.loadReview(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	fields, err := grading.SubmitPersonnelOffice(rc.sub, rc.exam, rc.user, form.input(), h.config.PassThreshold, h.now())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.finishTier(w, r, rc, fields, "po_reviewed")
}

func (h *Handler) finishTier(w http.ResponseWriter, r *http.Request, rc *reviewContext, fields map[string]any, event string) {
	if err := h.store.UpdateSubmission(rc.sub.ID, fields); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := grading.DiscardReview(h.store, rc.user.ID, rc.sub.ID); err != nil {
		slog.Warn("failed to discard review draft", "submission_id", rc.sub.ID, "error", err)
	}
	metrics.SubmissionEvents.WithLabelValues(event).Inc()
	writeJSON(w, http.StatusOK, rc.sub)
}

type communicatedForm struct {
	Communicated bool `json:"communicated"`
}

func (h *Handler) handleCommunicated(w http.ResponseWriter, r *http.Request) {
	var form communicatedForm
	if err := readJSON(r, &form); err != nil {
		h.fail(w, r, err)
		return
	}
	sub, _, err := h.loadSubmission(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.store.UpdateSubmission(sub.ID, map[string]any{"result_communicated": form.Communicated}); err != nil {
		h.fail(w, r, err)
		return
	}
	sub.ResultCommunicated = form.Communicated
	writeJSON(w, http.StatusOK, sub)
}

// handleReviewPage renders a read-only HTML summary of a submission, or the
// access-denied panel when the caller's headquarters does not match.
func (h *Handler) handleReviewPage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	rc, err := h.loadReview(r)
	var page templ.Component
	switch {
	case err == nil:
		page = views.ReviewPage(views.ReviewData{
			Submission: *rc.sub,
			Exam:       *rc.exam,
			Scores:     rc.review.Scores(),
			Total:      rc.review.Total(),
			Threshold:  h.config.PassThreshold,
		})
	case errors.As(err, new(*grading.AccessDeniedError)):
		w.WriteHeader(http.StatusForbidden)
		page = views.AccessDeniedPage(accessDeniedMessage(r, accessDenied(err)))
	default:
		if status, _ := classify(err); status != http.StatusNotFound {
			slog.Error("review page", "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNotFound)
		page = views.NotFoundPage()
	}
	if err := page.Render(r.Context(), w); err != nil {
		slog.Error("render error", "error", err)
	}
}

func wrapCollaborator(err error) error {
	return fmt.Errorf("%w: %w", grading.ErrCollaborator, err)
}

func accessDenied(err error) *grading.AccessDeniedError {
	var denied *grading.AccessDeniedError
	errors.As(err, &denied)
	return denied
}

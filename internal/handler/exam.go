package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/shoshin/internal/examstate"
	"github.com/pavelanni/shoshin/internal/i18n"
	"github.com/pavelanni/shoshin/internal/metrics"
	"github.com/pavelanni/shoshin/internal/model"
	"github.com/pavelanni/shoshin/internal/store"
)

// examSummary is an exam as listed to an examinee, without questions.
type examSummary struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Duration      int    `json:"duration"`
	TotalPoints   int    `json:"total_points"`
	QuestionCount int    `json:"question_count"`
	Submitted     bool   `json:"submitted"`
}

func (h *Handler) handleListExams(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	exams, err := h.store.ListPublishedExams()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	subs, err := h.store.ListSubmissionsByExaminee(user.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	done := make(map[string]bool, len(subs))
	for _, s := range subs {
		done[s.ExamID] = true
	}

	out := make([]examSummary, 0, len(exams))
	for _, e := range exams {
		out = append(out, examSummary{
			ID:            e.ID,
			Title:         e.Title,
			Duration:      e.Duration,
			TotalPoints:   e.TotalPoints,
			QuestionCount: len(e.Questions),
			Submitted:     done[e.ID],
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// openSession loads the exam named in the URL and rehydrates the caller's
// session. A submitted exam cannot be reopened.
func (h *Handler) openSession(r *http.Request) (*examstate.Session, error) {
	user := model.UserFromContext(r.Context())
	exam, err := h.store.GetExam(chi.URLParam(r, "examID"))
	if err != nil {
		return nil, err
	}
	if exam == nil || exam.Status != model.ExamPublished {
		return nil, errExamNotAvailable
	}
	prev, err := h.store.GetSubmission(store.SubmissionID(exam.ID, user.ID))
	if err != nil {
		return nil, err
	}
	if prev != nil {
		return nil, errAlreadySubmitted
	}
	return examstate.Open(h.store, user.ID, exam, h.config.TimedNavigation, h.now())
}

// withSession runs fn against the caller's session and replies with the
// resulting snapshot.
func (h *Handler) withSession(w http.ResponseWriter, r *http.Request, fn func(s *examstate.Session) error) {
	sess, err := h.openSession(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if fn != nil {
		if err := fn(sess); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	snap, err := sess.Snapshot(h.now())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, nil)
}

type answerForm struct {
	Value model.AnswerValue `json:"value"`
}

func (h *Handler) handleSetAnswer(w http.ResponseWriter, r *http.Request) {
	var form answerForm
	if err := readJSON(r, &form); err != nil {
		h.fail(w, r, err)
		return
	}
	h.withSession(w, r, func(s *examstate.Session) error {
		return s.SetAnswer(chi.URLParam(r, "questionID"), form.Value, h.now())
	})
}

func (h *Handler) handleSetSubAnswer(w http.ResponseWriter, r *http.Request) {
	var form answerForm
	if err := readJSON(r, &form); err != nil {
		h.fail(w, r, err)
		return
	}
	h.withSession(w, r, func(s *examstate.Session) error {
		return s.SetSubAnswer(chi.URLParam(r, "questionID"), chi.URLParam(r, "subID"), form.Value, h.now())
	})
}

func (h *Handler) handleNext(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, func(s *examstate.Session) error { return s.Next(h.now()) })
}

func (h *Handler) handleSelect(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		h.fail(w, r, examstate.ErrOutOfRange)
		return
	}
	h.withSession(w, r, func(s *examstate.Session) error { return s.Select(index, h.now()) })
}

func (h *Handler) handleEnterReview(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, func(s *examstate.Session) error { return s.Review(h.now()) })
}

func (h *Handler) handleBackToEdit(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, func(s *examstate.Session) error { return s.BackToEdit(h.now()) })
}

type submitResponse struct {
	ID      string                 `json:"id"`
	Status  model.SubmissionStatus `json:"status"`
	Message string                 `json:"message"`
}

// handleSubmit persists the buffered answers as a submission and clears
// the session. Local state is only cleared once the write succeeded.
func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	sess, err := h.openSession(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	sub := model.Submission{
		ExamID:               sess.Exam().ID,
		ExamineeID:           user.ID,
		ExamineeHeadquarters: user.Headquarters,
		Answers:              sess.Answers(),
	}
	id, err := h.store.CreateSubmission(sub)
	if errors.Is(err, store.ErrDuplicate) {
		err = errAlreadySubmitted
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := sess.Clear(); err != nil {
		slog.Warn("failed to clear exam state", "user_id", user.ID, "exam_id", sub.ExamID, "error", err)
	}
	metrics.SubmissionEvents.WithLabelValues("submitted").Inc()
	slog.Info("exam submitted", "submission_id", id, "exam_id", sub.ExamID, "user_id", user.ID, "answers", len(sub.Answers))

	writeJSON(w, http.StatusCreated, submitResponse{
		ID:      id,
		Status:  model.StatusSubmitted,
		Message: i18n.T(r.Context(), "SubmissionReceived"),
	})
}

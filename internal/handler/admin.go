package handler

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/shoshin/internal/csvio"
	"github.com/pavelanni/shoshin/internal/examfile"
	"github.com/pavelanni/shoshin/internal/i18n"
	"github.com/pavelanni/shoshin/internal/metrics"
	"github.com/pavelanni/shoshin/internal/model"
)

const maxUploadBytes = 10 << 20

var errUnknownHeadquarters = errors.New("unknown headquarters")

// --- exams ---

func (h *Handler) handleAdminListExams(w http.ResponseWriter, r *http.Request) {
	exams, err := h.store.ListExams()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if exams == nil {
		exams = []model.Exam{}
	}
	writeJSON(w, http.StatusOK, exams)
}

func (h *Handler) handleAdminGetExam(w http.ResponseWriter, r *http.Request) {
	exam, err := h.store.GetExam(chi.URLParam(r, "examID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if exam == nil {
		h.fail(w, r, errNotFound)
		return
	}
	writeJSON(w, http.StatusOK, exam)
}

func (h *Handler) handleCreateExam(w http.ResponseWriter, r *http.Request) {
	var exam model.Exam
	if err := readJSON(r, &exam); err != nil {
		h.fail(w, r, err)
		return
	}
	exam.ID = ""
	exam.Status = model.ExamDraft
	exam.Normalize()
	if err := exam.Validate(); err != nil {
		h.fail(w, r, err)
		return
	}
	id, err := h.store.CreateExam(exam)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	slog.Info("exam created", "exam_id", id, "questions", len(exam.Questions))
	h.replyExam(w, r, http.StatusCreated, id)
}

// handleUpdateExam replaces the title, duration and questions of an exam.
// Status and creation time are kept.
func (h *Handler) handleUpdateExam(w http.ResponseWriter, r *http.Request) {
	existing, err := h.store.GetExam(chi.URLParam(r, "examID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if existing == nil {
		h.fail(w, r, errNotFound)
		return
	}
	var exam model.Exam
	if err := readJSON(r, &exam); err != nil {
		h.fail(w, r, err)
		return
	}
	exam.ID = existing.ID
	exam.Status = existing.Status
	exam.CreatedAt = existing.CreatedAt
	exam.Normalize()
	if err := exam.Validate(); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.store.SaveExam(exam); err != nil {
		h.fail(w, r, err)
		return
	}
	h.replyExam(w, r, http.StatusOK, exam.ID)
}

type statusForm struct {
	Status model.ExamStatus `json:"status" validate:"required,oneof=Draft Published Archived"`
}

func (h *Handler) handleExamStatus(w http.ResponseWriter, r *http.Request) {
	var form statusForm
	if err := readJSON(r, &form); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.validate.Struct(form); err != nil {
		h.fail(w, r, err)
		return
	}
	exam, err := h.store.GetExam(chi.URLParam(r, "examID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if exam == nil {
		h.fail(w, r, errNotFound)
		return
	}
	if !exam.Status.CanTransition(form.Status) {
		h.fail(w, r, fmt.Errorf("%w: %s to %s", errBadStatus, exam.Status, form.Status))
		return
	}
	if err := h.store.UpdateExam(exam.ID, map[string]any{"status": form.Status}); err != nil {
		h.fail(w, r, err)
		return
	}
	slog.Info("exam status changed", "exam_id", exam.ID, "from", exam.Status, "to", form.Status)
	h.replyExam(w, r, http.StatusOK, exam.ID)
}

func (h *Handler) handleDeleteExam(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteExam(chi.URLParam(r, "examID")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) replyExam(w http.ResponseWriter, r *http.Request, status int, id string) {
	exam, err := h.store.GetExam(id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, status, exam)
}

type generateForm struct {
	Prompt string `json:"prompt" validate:"required"`
}

type generateResponse struct {
	Questions []model.Question `json:"questions"`
}

// handleGenerateQuestions asks the AI collaborator for draft questions.
// Nothing is saved; the caller adds the questions to an exam.
func (h *Handler) handleGenerateQuestions(w http.ResponseWriter, r *http.Request) {
	var form generateForm
	if err := readJSON(r, &form); err != nil {
		h.fail(w, r, err)
		return
	}
	form.Prompt = strings.TrimSpace(form.Prompt)
	if err := h.validate.Struct(form); err != nil {
		h.fail(w, r, err)
		return
	}
	qs, err := h.ai.GenerateQuestions(r.Context(), form.Prompt)
	if err != nil {
		h.fail(w, r, wrapCollaborator(err))
		return
	}
	if qs == nil {
		qs = []model.Question{}
	}
	writeJSON(w, http.StatusOK, generateResponse{Questions: qs})
}

type importResponse struct {
	Added   int    `json:"added"`
	Skipped int    `json:"skipped"`
	Message string `json:"message"`
}

// handleImportExams imports an uploaded JSON or YAML exam file. Uploading the
// same file twice imports nothing.
func (h *Handler) handleImportExams(w http.ResponseWriter, r *http.Request) {
	name, data, err := readUpload(r, "exam_file")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	n, err := examfile.Import(h.store, name, data)
	if err != nil {
		h.fail(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	msg := i18n.Tp(r.Context(), "ExamsImported", n)
	if n == 0 {
		msg = i18n.T(r.Context(), "ImportNoNewData")
	}
	writeJSON(w, http.StatusOK, importResponse{Added: n, Message: msg})
}

// readUpload returns the named multipart file, or the raw body for
// non-multipart requests.
func readUpload(r *http.Request, field string) (string, []byte, error) {
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		data, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes))
		if err != nil {
			return "", nil, fmt.Errorf("%w: %v", errBadRequest, err)
		}
		return r.URL.Query().Get("name"), data, nil
	}
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return "", nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	file, header, err := r.FormFile(field)
	if err != nil {
		return "", nil, fmt.Errorf("%w: no file uploaded", errBadRequest)
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return "", nil, err
	}
	return header.Filename, data, nil
}

// --- users ---

type createUserForm struct {
	Name         string         `json:"name" validate:"required"`
	EmployeeID   string         `json:"employee_id" validate:"required,employee_id"`
	Password     string         `json:"password" validate:"required,min=8"`
	Role         model.UserRole `json:"role" validate:"required,oneof=system_administrator hq_administrator examinee"`
	Headquarters string         `json:"headquarters" validate:"required_unless=Role system_administrator"`
	AvatarURL    string         `json:"avatar_url" validate:"omitempty,url"`
}

type updateUserForm struct {
	Name         string         `json:"name" validate:"required"`
	Password     string         `json:"password" validate:"omitempty,min=8"`
	Role         model.UserRole `json:"role" validate:"required,oneof=system_administrator hq_administrator examinee"`
	Headquarters string         `json:"headquarters" validate:"required_unless=Role system_administrator"`
	AvatarURL    string         `json:"avatar_url" validate:"omitempty,url"`
}

func (h *Handler) checkHeadquarters(code string) error {
	if code == "" {
		return nil
	}
	hq, err := h.store.GetHeadquarters(code)
	if err != nil {
		return err
	}
	if hq == nil {
		return fmt.Errorf("%w: %s", errUnknownHeadquarters, code)
	}
	return nil
}

func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]model.User, 0, len(users))
	for _, u := range users {
		out = append(out, u.Public())
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var form createUserForm
	if err := readJSON(r, &form); err != nil {
		h.fail(w, r, err)
		return
	}
	form.Name = strings.TrimSpace(form.Name)
	form.EmployeeID = strings.TrimSpace(form.EmployeeID)
	if err := h.validate.Struct(form); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.checkHeadquarters(form.Headquarters); err != nil {
		h.fail(w, r, err)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(form.Password), bcrypt.DefaultCost)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	id, err := h.store.CreateUser(model.User{
		Name:         form.Name,
		EmployeeID:   form.EmployeeID,
		Role:         form.Role,
		Headquarters: form.Headquarters,
		AvatarURL:    form.AvatarURL,
		PasswordHash: string(hash),
		CreatedAt:    h.now(),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.replyUser(w, r, http.StatusCreated, id)
}

func (h *Handler) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "userID")
	var form updateUserForm
	if err := readJSON(r, &form); err != nil {
		h.fail(w, r, err)
		return
	}
	form.Name = strings.TrimSpace(form.Name)
	if err := h.validate.Struct(form); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.checkHeadquarters(form.Headquarters); err != nil {
		h.fail(w, r, err)
		return
	}

	fields := map[string]any{
		"name":         form.Name,
		"role":         form.Role,
		"headquarters": form.Headquarters,
		"avatar_url":   form.AvatarURL,
	}
	if form.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(form.Password), bcrypt.DefaultCost)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		fields["password_hash"] = string(hash)
	}
	if err := h.store.UpdateUser(id, fields); err != nil {
		h.fail(w, r, err)
		return
	}
	if form.Password != "" {
		if err := h.store.DeleteUserAuthSessions(id); err != nil {
			slog.Warn("failed to revoke sessions", "user_id", id, "error", err)
		}
	}
	h.replyUser(w, r, http.StatusOK, id)
}

func (h *Handler) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "userID")
	if id == model.UserFromContext(r.Context()).ID {
		h.fail(w, r, errCannotDeleteSelf)
		return
	}
	if err := h.store.DeleteUser(id); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.store.DeleteUserAuthSessions(id); err != nil {
		slog.Warn("failed to revoke sessions", "user_id", id, "error", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) replyUser(w http.ResponseWriter, r *http.Request, status int, id string) {
	u, err := h.store.GetUser(id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if u == nil {
		h.fail(w, r, errNotFound)
		return
	}
	writeJSON(w, status, u.Public())
}

// --- headquarters ---

func (h *Handler) handleListHeadquarters(w http.ResponseWriter, r *http.Request) {
	hqs, err := h.store.ListHeadquarters()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if hqs == nil {
		hqs = []model.Headquarters{}
	}
	writeJSON(w, http.StatusOK, hqs)
}

func (h *Handler) handleImportHeadquarters(w http.ResponseWriter, r *http.Request) {
	_, data, err := readUpload(r, "file")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := csvio.ImportHeadquarters(h.store, bytes.NewReader(data))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	msg := i18n.Tp(r.Context(), "ImportAdded", res.Added)
	if res.NoNewData() {
		msg = i18n.T(r.Context(), "ImportNoNewData")
	}
	writeJSON(w, http.StatusOK, importResponse{Added: res.Added, Skipped: res.Skipped, Message: msg})
}

func (h *Handler) handleDeleteHeadquarters(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	users, err := h.store.ListUsers()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	for _, u := range users {
		if u.Headquarters == code {
			h.fail(w, r, fmt.Errorf("%w: %s", errHeadquartersInUse, code))
			return
		}
	}
	if err := h.store.DeleteHeadquarters(code); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- submissions ---

func (h *Handler) handleDeleteSubmission(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.store.DeleteSubmission(id); err != nil {
		h.fail(w, r, err)
		return
	}
	metrics.SubmissionEvents.WithLabelValues("deleted").Inc()
	slog.Info("submission deleted", "submission_id", id, "by", model.UserFromContext(r.Context()).ID)
	w.WriteHeader(http.StatusNoContent)
}

// handleExportSubmissions downloads every submission as CSV (default) or JSON.
func (h *Handler) handleExportSubmissions(w http.ResponseWriter, r *http.Request) {
	format := strings.ToLower(r.URL.Query().Get("format"))
	if format == "" {
		format = "csv"
	}
	if format != "csv" && format != "json" {
		h.fail(w, r, fmt.Errorf("%w: %s", errUnknownFormat, format))
		return
	}
	rows, err := h.store.ExportSubmissions()
	if err != nil {
		h.fail(w, r, err)
		return
	}

	now := h.now()
	filename := fmt.Sprintf("submissions-%s.%s", now.Format("20060102"), format)
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	if format == "json" {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		err = csvio.WriteSubmissionsJSON(w, rows, now)
	} else {
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		err = csvio.WriteSubmissionsCSV(w, rows)
	}
	if err != nil {
		slog.Error("export submissions", "format", format, "error", err)
	}
}

// --- dashboard ---

type dashboard struct {
	Exams          int                            `json:"exams"`
	PublishedExams int                            `json:"published_exams"`
	Users          int                            `json:"users"`
	Headquarters   int                            `json:"headquarters"`
	Submissions    int                            `json:"submissions"`
	ByStatus       map[model.SubmissionStatus]int `json:"by_status"`
	Passed         int                            `json:"passed"`
	Failed         int                            `json:"failed"`
	AwaitingNotice int                            `json:"awaiting_notice"`
	GeneratedAt    time.Time                      `json:"generated_at"`
}

func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	exams, err := h.store.ListExams()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	subs, err := h.store.ListSubmissions()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	users, err := h.store.UserCount()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	hqs, err := h.store.ListHeadquarters()
	if err != nil {
		h.fail(w, r, err)
		return
	}

	d := dashboard{
		Exams:        len(exams),
		Users:        users,
		Headquarters: len(hqs),
		Submissions:  len(subs),
		ByStatus:     make(map[model.SubmissionStatus]int),
		GeneratedAt:  h.now(),
	}
	for _, e := range exams {
		if e.Status == model.ExamPublished {
			d.PublishedExams++
		}
	}
	for _, s := range subs {
		d.ByStatus[s.Status]++
		switch s.FinalOutcome {
		case model.OutcomePassed:
			d.Passed++
		case model.OutcomeFailed:
			d.Failed++
		}
		if s.Status == model.StatusCompleted && !s.ResultCommunicated {
			d.AwaitingNotice++
		}
	}
	writeJSON(w, http.StatusOK, d)
}

package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/pavelanni/shoshin/internal/csvio"
	"github.com/pavelanni/shoshin/internal/examstate"
	"github.com/pavelanni/shoshin/internal/grading"
	"github.com/pavelanni/shoshin/internal/i18n"
	"github.com/pavelanni/shoshin/internal/model"
	"github.com/pavelanni/shoshin/internal/store"
)

const maxBodyBytes = 1 << 20

var (
	errNotFound          = errors.New("not found")
	errBadRequest        = errors.New("malformed request body")
	errAlreadySubmitted  = errors.New("exam already submitted")
	errExamNotAvailable  = errors.New("exam is not published")
	errBadStatus         = errors.New("invalid exam status transition")
	errPasswordMismatch  = errors.New("password confirmation does not match")
	errWrongPassword     = errors.New("current password is incorrect")
	errCannotDeleteSelf  = errors.New("cannot delete the signed-in user")
	errUnknownFormat     = errors.New("unknown export format")
	errHeadquartersInUse = errors.New("headquarters is assigned to users")
)

// apiError is the JSON body of every failed API request. Message is
// localised and meant to be shown as a dismissible notification.
type apiError struct {
	Error  string            `json:"error"`
	Code   string            `json:"code"`
	Fields map[string]string `json:"fields,omitempty"`
}

// apiMessage is the JSON body of a successful request that only carries a
// notification.
type apiMessage struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

// readJSON decodes a request body into v. An empty body leaves v unchanged.
func readJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

// classify maps an error to an HTTP status and a message ID.
func classify(err error) (int, string) {
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs), errors.Is(err, errBadRequest), errors.Is(err, model.ErrInvalidExam),
		errors.Is(err, model.ErrNestedSubQuestion), errors.Is(err, errUnknownFormat),
		errors.Is(err, errUnknownHeadquarters):
		return http.StatusBadRequest, "ErrValidation"
	case errors.Is(err, errPasswordMismatch):
		return http.StatusBadRequest, "PasswordMismatch"
	case errors.Is(err, errWrongPassword):
		return http.StatusBadRequest, "ErrWrongPassword"
	case errors.Is(err, errNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "ErrNotFound"
	case errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict, "ErrDuplicate"
	case errors.Is(err, errCannotDeleteSelf):
		return http.StatusConflict, "ErrCannotDeleteSelf"
	case errors.Is(err, errHeadquartersInUse):
		return http.StatusConflict, "ErrHeadquartersInUse"
	case errors.Is(err, grading.ErrAccessDenied):
		return http.StatusForbidden, "AccessDeniedTitle"
	case errors.Is(err, grading.ErrTierNotPermitted):
		return http.StatusForbidden, "ErrTierNotPermitted"
	case errors.Is(err, grading.ErrCollaborator):
		return http.StatusBadGateway, "ErrAIFailed"
	case errors.Is(err, grading.ErrNoModelAnswer):
		return http.StatusUnprocessableEntity, "ErrNoModelAnswer"
	case errors.Is(err, grading.ErrNoAnswer):
		return http.StatusUnprocessableEntity, "ErrNoAnswer"
	case errors.Is(err, grading.ErrScoreOutOfRange):
		return http.StatusBadRequest, "ErrScoreOutOfRange"
	case errors.Is(err, grading.ErrUnknownQuestion), errors.Is(err, examstate.ErrUnknownQuestion):
		return http.StatusNotFound, "ErrUnknownQuestion"
	case errors.Is(err, grading.ErrTierSubmitted):
		return http.StatusConflict, "ErrTierSubmitted"
	case errors.Is(err, grading.ErrHQGradeRequired):
		return http.StatusConflict, "ErrHQGradeRequired"
	case errors.Is(err, grading.ErrLessonReviewRequired):
		return http.StatusBadRequest, "ErrLessonReviewRequired"
	case errors.Is(err, grading.ErrInvalidLessonReview):
		return http.StatusBadRequest, "ErrInvalidLessonReview"
	case errors.Is(err, examstate.ErrTimeUp):
		return http.StatusConflict, "ErrTimeUp"
	case errors.Is(err, examstate.ErrNavigationLocked):
		return http.StatusConflict, "ErrNavigationLocked"
	case errors.Is(err, examstate.ErrNotCurrent):
		return http.StatusConflict, "ErrNotCurrent"
	case errors.Is(err, examstate.ErrInReview):
		return http.StatusConflict, "ErrInReview"
	case errors.Is(err, examstate.ErrOutOfRange):
		return http.StatusBadRequest, "ErrValidation"
	case errors.Is(err, errAlreadySubmitted):
		return http.StatusConflict, "ErrAlreadySubmitted"
	case errors.Is(err, errExamNotAvailable):
		return http.StatusNotFound, "ErrExamNotAvailable"
	case errors.Is(err, errBadStatus):
		return http.StatusConflict, "ErrBadStatus"
	case errors.Is(err, csvio.ErrMissingHeader):
		return http.StatusBadRequest, "ErrMissingHeader"
	}
	return http.StatusInternalServerError, "ErrInternal"
}

// fail writes err as a JSON error. Server faults are logged; client
// mistakes only at debug level.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, msgID := classify(err)
	body := apiError{Code: msgID, Error: i18n.T(r.Context(), msgID)}

	var denied *grading.AccessDeniedError
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &denied):
		body.Error = accessDeniedMessage(r, denied)
	case errors.As(err, &verrs):
		body.Fields = make(map[string]string, len(verrs))
		for _, fe := range verrs {
			body.Fields[fe.Field()] = fe.Tag()
		}
	}

	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	} else {
		slog.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, body)
}

func accessDeniedMessage(r *http.Request, e *grading.AccessDeniedError) string {
	if e.Role == model.RoleHQAdmin {
		return i18n.Td(r.Context(), "AccessDeniedHeadquarters", map[string]any{
			"UserHQ":       e.UserHeadquarters,
			"SubmissionHQ": e.SubmissionHeadquarters,
		})
	}
	return i18n.T(r.Context(), "AccessDeniedRole")
}

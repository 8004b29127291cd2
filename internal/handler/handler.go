package handler

import (
	"context"
	"log/slog"
	"net/http"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/pavelanni/shoshin/internal/grading"
	"github.com/pavelanni/shoshin/internal/handler/views"
	"github.com/pavelanni/shoshin/internal/llm"
	"github.com/pavelanni/shoshin/internal/metrics"
	"github.com/pavelanni/shoshin/internal/model"
	"github.com/pavelanni/shoshin/internal/store"
)

// AI is the collaborator used for grading, rubric grading, question
// generation and feedback summaries. *llm.Client implements it.
type AI interface {
	grading.Grader
	grading.RubricGrader
	GenerateQuestions(ctx context.Context, request string) ([]model.Question, error)
	SummarizeFeedback(ctx context.Context, req llm.SummaryRequest) (string, error)
}

const defaultGradeConcurrency = 4

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store    *store.Store
	ai       AI
	config   model.AppConfig
	validate *validator.Validate
	now      func() time.Time
}

var employeeIDPattern = regexp.MustCompile(`^[0-9]{8}$`)

// New creates a new Handler.
func New(s *store.Store, ai AI, cfg model.AppConfig) (*Handler, error) {
	if cfg.PassThreshold <= 0 {
		cfg.PassThreshold = grading.DefaultPassThreshold
	}
	if cfg.GradeConcurrency <= 0 {
		cfg.GradeConcurrency = defaultGradeConcurrency
	}

	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	if err := v.RegisterValidation("employee_id", func(fl validator.FieldLevel) bool {
		return employeeIDPattern.MatchString(fl.Field().String())
	}); err != nil {
		return nil, err
	}

	return &Handler{store: s, ai: ai, config: cfg, validate: v, now: time.Now}, nil
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(h.csrfMiddleware)
		r.Get("/login", h.handleLoginPage)
		r.Post("/login", h.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(h.requireAuth)
			r.Get("/", h.handleHome)
			r.Post("/logout", h.handleLogout)
			r.Post("/account/password", h.handleChangePassword)
			r.With(requireRole(model.RoleSystemAdmin, model.RoleHQAdmin)).Get("/review/{id}", h.handleReviewPage)

			r.Route("/api", func(r chi.Router) {
				r.Get("/me", h.handleMe)

				r.Route("/exams", func(r chi.Router) {
					r.Use(requireRole(model.RoleExaminee))
					r.Get("/", h.handleListExams)
					r.Route("/{examID}", func(r chi.Router) {
						r.Get("/session", h.handleSession)
						r.Put("/answers/{questionID}", h.handleSetAnswer)
						r.Put("/answers/{questionID}/sub/{subID}", h.handleSetSubAnswer)
						r.Post("/next", h.handleNext)
						r.Post("/select/{index}", h.handleSelect)
						r.Post("/review", h.handleEnterReview)
						r.Post("/edit", h.handleBackToEdit)
						r.Post("/submit", h.handleSubmit)
						r.Get("/clock", h.handleClock)
					})
				})

				r.Route("/review", func(r chi.Router) {
					r.Use(requireRole(model.RoleSystemAdmin, model.RoleHQAdmin))
					r.Get("/", h.handleListReviews)
					r.Route("/{id}", func(r chi.Router) {
						r.Get("/", h.handleGetReview)
						r.Put("/scores/{questionID}", h.handleSetScore)
						r.Post("/ai", h.handleGradeAll)
						r.Post("/ai/{questionID}", h.handleGradeOne)
						r.Post("/rubric/{questionID}", h.handleGradeRubric)
						r.Post("/summarize/{questionID}", h.handleSummarize)
						r.Post("/hq", h.handleSubmitHQ)
						r.Post("/po", h.handleSubmitPO)
						r.Post("/communicated", h.handleCommunicated)
					})
				})

				r.Route("/admin", func(r chi.Router) {
					r.Use(requireRole(model.RoleSystemAdmin))
					r.Get("/dashboard", h.handleDashboard)

					r.Get("/exams", h.handleAdminListExams)
					r.Post("/exams", h.handleCreateExam)
					r.Post("/exams/generate", h.handleGenerateQuestions)
					r.Post("/exams/import", h.handleImportExams)
					r.Get("/exams/{examID}", h.handleAdminGetExam)
					r.Put("/exams/{examID}", h.handleUpdateExam)
					r.Put("/exams/{examID}/status", h.handleExamStatus)
					r.Delete("/exams/{examID}", h.handleDeleteExam)

					r.Get("/users", h.handleListUsers)
					r.Post("/users", h.handleCreateUser)
					r.Put("/users/{userID}", h.handleUpdateUser)
					r.Delete("/users/{userID}", h.handleDeleteUser)

					r.Get("/headquarters", h.handleListHeadquarters)
					r.Post("/headquarters/import", h.handleImportHeadquarters)
					r.Delete("/headquarters/{code}", h.handleDeleteHeadquarters)

					r.Get("/submissions/export", h.handleExportSubmissions)
					r.Delete("/submissions/{id}", h.handleDeleteSubmission)
				})
			})
		})
	})

	r.NotFound(h.handleNotFound)
}

// BasePathMiddleware stores the configured base path in the request context.
func (h *Handler) BasePathMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := model.ContextWithBasePath(r.Context(), h.config.BasePath)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// path prefixes p with the base path.
func (h *Handler) path(p string) string {
	return h.config.BasePath + p
}

func (h *Handler) cookiePath() string {
	if h.config.BasePath != "" {
		return h.config.BasePath + "/"
	}
	return "/"
}

func (h *Handler) isAPI(r *http.Request) bool {
	return strings.HasPrefix(r.URL.Path, h.path("/api/"))
}

func (h *Handler) handleHome(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := views.HomePage(*user).Render(r.Context(), w); err != nil {
		slog.Error("render error", "error", err)
	}
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, model.UserFromContext(r.Context()).Public())
}

func (h *Handler) handleNotFound(w http.ResponseWriter, r *http.Request) {
	if h.isAPI(r) {
		h.fail(w, r, errNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	if err := views.NotFoundPage().Render(r.Context(), w); err != nil {
		slog.Error("render error", "error", err)
	}
}

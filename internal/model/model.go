package model

import (
	"context"
	"time"
)

// UserRole represents a user's access level.
type UserRole string

const (
	// RoleSystemAdmin manages exams, users and headquarters and may review any submission.
	RoleSystemAdmin UserRole = "system_administrator"
	// RoleHQAdmin reviews submissions of their own headquarters.
	RoleHQAdmin UserRole = "hq_administrator"
	// RoleExaminee takes exams.
	RoleExaminee UserRole = "examinee"
)

// Valid reports whether r is a known role.
func (r UserRole) Valid() bool {
	switch r {
	case RoleSystemAdmin, RoleHQAdmin, RoleExaminee:
		return true
	}
	return false
}

// IsReviewer reports whether the role may open the review screens.
func (r UserRole) IsReviewer() bool {
	return r == RoleSystemAdmin || r == RoleHQAdmin
}

// User represents a system user. The document ID is the employee ID.
type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	EmployeeID   string    `json:"employee_id"`
	Role         UserRole  `json:"role"`
	Headquarters string    `json:"headquarters,omitempty"`
	AvatarURL    string    `json:"avatar_url,omitempty"`
	PasswordHash string    `json:"password_hash,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Public returns a copy of u that is safe to send to clients.
func (u User) Public() User {
	u.PasswordHash = ""
	return u
}

// AuthSession represents an authentication session.
type AuthSession struct {
	ID        string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Headquarters is a regional unit. Code is the document key.
type Headquarters struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

type userCtxKey struct{}

// ContextWithUser stores a user in the request context.
func ContextWithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userCtxKey{}, u)
}

// UserFromContext retrieves the authenticated user from context, or nil.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userCtxKey{}).(*User)
	return u
}

type basePathCtxKey struct{}

// ContextWithBasePath stores the base path prefix in context.
func ContextWithBasePath(ctx context.Context, basePath string) context.Context {
	return context.WithValue(ctx, basePathCtxKey{}, basePath)
}

// BasePathFromContext retrieves the base path from context (empty string if not set).
func BasePathFromContext(ctx context.Context) string {
	bp, _ := ctx.Value(basePathCtxKey{}).(string)
	return bp
}

type csrfCtxKey struct{}

// ContextWithCSRFToken stores the CSRF token in context.
func ContextWithCSRFToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, csrfCtxKey{}, token)
}

// CSRFTokenFromContext retrieves the CSRF token from context.
func CSRFTokenFromContext(ctx context.Context) string {
	t, _ := ctx.Value(csrfCtxKey{}).(string)
	return t
}

// SubmissionStatus is the review state of a submission.
type SubmissionStatus string

const (
	StatusInProgress SubmissionStatus = "In Progress"
	StatusSubmitted  SubmissionStatus = "Submitted"
	StatusGrading    SubmissionStatus = "Grading"
	StatusCompleted  SubmissionStatus = "Completed"
)

// Outcome is the final pass/fail result recorded by the personnel office.
type Outcome string

const (
	OutcomePassed Outcome = "Passed"
	OutcomeFailed Outcome = "Failed"
)

// Tier identifies a grading stage.
type Tier string

const (
	TierHeadquarters    Tier = "headquarters"
	TierPersonnelOffice Tier = "personnel_office"
)

// Grade is one tier's review of a submission.
type Grade struct {
	Score         int            `json:"score"`
	Justification string         `json:"justification"`
	Reviewer      Tier           `json:"reviewer"`
	ReviewerID    string         `json:"reviewer_id"`
	ReviewedAt    time.Time      `json:"reviewed_at"`
	Scores        map[string]int `json:"scores,omitempty"`
}

// LessonReview is a preferred date/time window for the follow-up lesson review.
type LessonReview struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Submission is an examinee's finalized set of answers plus review results.
type Submission struct {
	ID                   string           `json:"id"`
	ExamID               string           `json:"exam_id"`
	ExamineeID           string           `json:"examinee_id"`
	ExamineeHeadquarters string           `json:"examinee_headquarters,omitempty"`
	SubmittedAt          time.Time        `json:"submitted_at"`
	Answers              []Answer         `json:"answers"`
	Status               SubmissionStatus `json:"status"`
	HQGrade              *Grade           `json:"hq_grade,omitempty"`
	POGrade              *Grade           `json:"po_grade,omitempty"`
	FinalScore           *int             `json:"final_score,omitempty"`
	FinalOutcome         Outcome          `json:"final_outcome,omitempty"`
	LessonReview1        *LessonReview    `json:"lesson_review_1,omitempty"`
	LessonReview2        *LessonReview    `json:"lesson_review_2,omitempty"`
	ResultCommunicated   bool             `json:"result_communicated,omitempty"`
}

// Answer returns the answer for a question, or nil.
func (s Submission) Answer(questionID string) *Answer {
	for i := range s.Answers {
		if s.Answers[i].QuestionID == questionID {
			return &s.Answers[i]
		}
	}
	return nil
}

// AppConfig holds runtime parameters set via CLI flags.
type AppConfig struct {
	BasePath         string // URL prefix for sub-path deployments (e.g. "/exam")
	SecureCookies    bool   // Set Secure flag on cookies (disable for local dev)
	PromptVariant    string // Grading prompt variant (strict, standard, lenient)
	PassThreshold    int    // Absolute total score needed to pass
	TimedNavigation  bool   // Disable direct question selection while timed
	GradeConcurrency int    // Parallel AI grading requests per "grade all"
}

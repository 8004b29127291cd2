package grading

import (
	"errors"
	"fmt"

	"github.com/pavelanni/shoshin/internal/model"
)

// ErrAccessDenied matches every AccessDeniedError.
var ErrAccessDenied = errors.New("access denied")

// AccessDeniedError explains why a reviewer may not see a submission.
type AccessDeniedError struct {
	Role                   model.UserRole
	UserHeadquarters       string
	SubmissionHeadquarters string
}

func (e *AccessDeniedError) Error() string {
	if e.Role != model.RoleHQAdmin {
		return fmt.Sprintf("access denied: role %s cannot review submissions", e.Role)
	}
	return fmt.Sprintf("access denied: reviewer headquarters %q does not match submission headquarters %q",
		e.UserHeadquarters, e.SubmissionHeadquarters)
}

func (e *AccessDeniedError) Is(target error) bool { return target == ErrAccessDenied }

// CanReview reports whether u may see sub. System administrators see
// everything; headquarters administrators only their own headquarters.
func CanReview(u *model.User, sub *model.Submission) error {
	if u == nil {
		return &AccessDeniedError{}
	}
	switch u.Role {
	case model.RoleSystemAdmin:
		return nil
	case model.RoleHQAdmin:
		if u.Headquarters != "" && u.Headquarters == sub.ExamineeHeadquarters {
			return nil
		}
		return &AccessDeniedError{
			Role:                   u.Role,
			UserHeadquarters:       u.Headquarters,
			SubmissionHeadquarters: sub.ExamineeHeadquarters,
		}
	}
	return &AccessDeniedError{Role: u.Role}
}

// Reviewable filters subs down to those u may see.
func Reviewable(u *model.User, subs []model.Submission) []model.Submission {
	out := make([]model.Submission, 0, len(subs))
	for i := range subs {
		if CanReview(u, &subs[i]) == nil {
			out = append(out, subs[i])
		}
	}
	return out
}

package examstate

import (
	"errors"
	"fmt"
)

var (
	// ErrNavigationLocked is returned in the timed variant by Select, and by
	// EnterReview before the last question.
	ErrNavigationLocked = errors.New("questions in a timed exam must be taken in order")
	// ErrOutOfRange is returned for a question index outside the exam.
	ErrOutOfRange = errors.New("question index out of range")
	// ErrInReview is returned when a question action is attempted from the review step.
	ErrInReview = errors.New("exam is in review")
)

// Navigator tracks the displayed question. States are the indices 0..Count-1
// plus the review step reached after the last question.
type Navigator struct {
	Index    int  `json:"index"`
	Count    int  `json:"count"`
	InReview bool `json:"in_review"`
	Locked   bool `json:"-"`
}

// NewNavigator starts at the first question. locked disables Select.
func NewNavigator(count int, locked bool) *Navigator {
	return &Navigator{Count: count, Locked: locked, InReview: count == 0}
}

// Next advances one question, or enters review from the last one.
// It reports whether review was entered.
func (n *Navigator) Next() bool {
	if n.InReview {
		return false
	}
	if n.Index < n.Count-1 {
		n.Index++
		return false
	}
	n.InReview = true
	return true
}

// Select jumps to question i.
func (n *Navigator) Select(i int) error {
	if n.Locked {
		return ErrNavigationLocked
	}
	if n.InReview {
		return ErrInReview
	}
	if i < 0 || i >= n.Count {
		return fmt.Errorf("%w: %d", ErrOutOfRange, i)
	}
	n.Index = i
	return nil
}

// EnterReview moves to the review step. In the timed variant review is only
// reachable from the last question.
func (n *Navigator) EnterReview() error {
	if n.Locked && !n.InReview && n.Index < n.Count-1 {
		return ErrNavigationLocked
	}
	n.InReview = true
	return nil
}

// BackToEdit leaves review for the last question.
func (n *Navigator) BackToEdit() {
	if !n.InReview || n.Count == 0 {
		return
	}
	n.InReview = false
	n.Index = n.Count - 1
}

// clamp repairs a rehydrated position against the current question count.
func (n *Navigator) clamp() {
	if n.Count == 0 {
		n.Index, n.InReview = 0, true
		return
	}
	if n.Index < 0 {
		n.Index = 0
	}
	if n.Index >= n.Count {
		n.Index = n.Count - 1
	}
}

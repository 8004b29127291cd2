package examstate

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pavelanni/shoshin/internal/model"
)

var (
	// ErrTimeUp is returned for edits after the exam-wide deadline.
	ErrTimeUp = errors.New("exam time is up")
	// ErrUnknownQuestion is returned for answers to IDs the exam does not define.
	ErrUnknownQuestion = errors.New("unknown question")
	// ErrNotCurrent is returned in the timed variant for answers to a question
	// other than the one on screen.
	ErrNotCurrent = errors.New("question is not the current question")
)

// Session is one examinee's in-progress attempt at one exam. It is not safe
// for concurrent use; callers open a fresh session per request.
type Session struct {
	kv    KV
	owner string
	exam  *model.Exam
	timer *Timer
	buf   *Buffer
	nav   *Navigator

	deadline time.Time
}

// Open rehydrates or starts a session. The exam deadline is created on the
// first open and reused afterwards. locked selects the timed navigation variant.
func Open(kv KV, owner string, exam *model.Exam, locked bool, now time.Time) (*Session, error) {
	s := &Session{
		kv:    kv,
		owner: owner,
		exam:  exam,
		timer: NewTimer(kv, owner),
	}
	dl, err := s.timer.Deadline(ExamDeadlineKey(exam.ID), time.Duration(exam.Duration)*time.Minute, now)
	if err != nil {
		return nil, fmt.Errorf("exam deadline: %w", err)
	}
	s.deadline = dl

	if s.buf, err = LoadBuffer(kv, owner, exam.ID); err != nil {
		return nil, fmt.Errorf("load answers: %w", err)
	}
	if s.nav, err = loadNavigator(kv, owner, exam.ID, len(exam.Questions), locked); err != nil {
		return nil, fmt.Errorf("load position: %w", err)
	}
	if err := s.Sync(now); err != nil {
		return nil, err
	}
	return s, nil
}

func loadNavigator(kv KV, owner, examID string, count int, locked bool) (*Navigator, error) {
	nav := NewNavigator(count, locked)
	raw, ok, err := kv.GetState(owner, NavKey(examID))
	if err != nil || !ok {
		return nav, err
	}
	var saved Navigator
	if err := json.Unmarshal([]byte(raw), &saved); err != nil {
		slog.Debug("discarding unreadable navigation state", "exam_id", examID, "error", err)
		return nav, nil
	}
	nav.Index, nav.InReview = saved.Index, saved.InReview
	nav.clamp()
	return nav, nil
}

func (s *Session) saveNav() error {
	data, err := json.Marshal(s.nav)
	if err != nil {
		return err
	}
	return s.kv.SetState(s.owner, NavKey(s.exam.ID), string(data))
}

// Exam returns the exam being taken.
func (s *Session) Exam() *model.Exam { return s.exam }

// Deadline returns the exam-wide deadline.
func (s *Session) Deadline() time.Time { return s.deadline }

// Expired reports whether the exam-wide deadline has passed.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.deadline)
}

// Current returns the question on screen, or nil in review.
func (s *Session) Current() *model.Question {
	if s.nav.InReview || s.nav.Index >= len(s.exam.Questions) {
		return nil
	}
	return &s.exam.Questions[s.nav.Index]
}

// QuestionDeadline returns the current question's deadline, if it has a limit.
func (s *Session) QuestionDeadline() (time.Time, bool, error) {
	q := s.Current()
	if q == nil || q.TimeLimit <= 0 {
		return time.Time{}, false, nil
	}
	dl, ok, err := s.timer.Peek(QuestionDeadlineKey(s.exam.ID, q.ID))
	return dl, ok, err
}

// Sync applies elapsed deadlines. An expired exam forces review. An expired
// question timer advances to the next question; each newly shown timed
// question gets its deadline on first display.
func (s *Session) Sync(now time.Time) error {
	if s.Expired(now) {
		if !s.nav.InReview {
			s.nav.InReview = true
			slog.Info("exam time expired, entering review", "exam_id", s.exam.ID, "owner", s.owner)
			return s.saveNav()
		}
		return nil
	}
	moved := false
	for {
		q := s.Current()
		if q == nil || q.TimeLimit <= 0 {
			break
		}
		dl, err := s.timer.Deadline(QuestionDeadlineKey(s.exam.ID, q.ID), time.Duration(q.TimeLimit)*time.Second, now)
		if err != nil {
			return fmt.Errorf("question deadline: %w", err)
		}
		if now.Before(dl) {
			break
		}
		slog.Debug("question time expired, advancing", "exam_id", s.exam.ID, "question_id", q.ID)
		s.nav.Next()
		moved = true
	}
	if moved {
		return s.saveNav()
	}
	return nil
}

func (s *Session) checkEditable(questionID string, now time.Time) (*model.Question, error) {
	if err := s.Sync(now); err != nil {
		return nil, err
	}
	if s.Expired(now) {
		return nil, ErrTimeUp
	}
	q := s.exam.Question(questionID)
	if q == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownQuestion, questionID)
	}
	if s.nav.Locked {
		if cur := s.Current(); cur == nil || cur.ID != questionID {
			return nil, ErrNotCurrent
		}
	}
	return q, nil
}

// SetAnswer stores the value for a top-level question and persists the buffer.
func (s *Session) SetAnswer(questionID string, v model.AnswerValue, now time.Time) error {
	if _, err := s.checkEditable(questionID, now); err != nil {
		return err
	}
	if s.buf.Set(questionID, v) {
		return s.buf.Save(s.kv, s.owner, s.exam.ID)
	}
	return nil
}

// SetSubAnswer stores the value for a sub-question and persists the buffer.
func (s *Session) SetSubAnswer(questionID, subQuestionID string, v model.AnswerValue, now time.Time) error {
	q, err := s.checkEditable(questionID, now)
	if err != nil {
		return err
	}
	if q.SubQuestion(subQuestionID) == nil {
		return fmt.Errorf("%w: %s/%s", ErrUnknownQuestion, questionID, subQuestionID)
	}
	if s.buf.SetSub(questionID, subQuestionID, v) {
		return s.buf.Save(s.kv, s.owner, s.exam.ID)
	}
	return nil
}

// Next advances the carousel, entering review after the last question.
func (s *Session) Next(now time.Time) error {
	if err := s.Sync(now); err != nil {
		return err
	}
	if s.nav.InReview {
		return ErrInReview
	}
	s.nav.Next()
	if err := s.saveNav(); err != nil {
		return err
	}
	return s.Sync(now)
}

// Select jumps to a question index. Disabled in the timed variant.
func (s *Session) Select(index int, now time.Time) error {
	if err := s.Sync(now); err != nil {
		return err
	}
	if err := s.nav.Select(index); err != nil {
		return err
	}
	if err := s.saveNav(); err != nil {
		return err
	}
	return s.Sync(now)
}

// Review moves to the review step. A timed exam reaches it from the last
// question or when time runs out.
func (s *Session) Review(now time.Time) error {
	if err := s.Sync(now); err != nil {
		return err
	}
	if err := s.nav.EnterReview(); err != nil {
		return err
	}
	return s.saveNav()
}

// BackToEdit returns from review to the last question while time remains.
func (s *Session) BackToEdit(now time.Time) error {
	if s.Expired(now) {
		return ErrTimeUp
	}
	s.nav.BackToEdit()
	if err := s.saveNav(); err != nil {
		return err
	}
	return s.Sync(now)
}

// Answers returns a copy of the buffered answers.
func (s *Session) Answers() []model.Answer { return s.buf.Answers() }

// Progress is the answered fraction of top-level questions.
func (s *Session) Progress() float64 { return s.buf.Progress(len(s.exam.Questions)) }

// Clear removes every persisted key of this exam for the owner.
func (s *Session) Clear() error {
	return s.kv.DeleteStatePrefix(s.owner, Prefix(s.exam.ID))
}

// Snapshot is the client-facing view of a session.
type Snapshot struct {
	ExamID            string          `json:"exam_id"`
	Title             string          `json:"title"`
	Index             int             `json:"index"`
	Count             int             `json:"count"`
	InReview          bool            `json:"in_review"`
	Locked            bool            `json:"locked"`
	Expired           bool            `json:"expired"`
	Progress          float64         `json:"progress"`
	Remaining         int             `json:"remaining_seconds"`
	QuestionRemaining *int            `json:"question_remaining_seconds,omitempty"`
	Current           *model.Question `json:"current,omitempty"`
	Answers           []model.Answer  `json:"answers"`
}

// Snapshot reports the session as of now. Model answers are stripped from
// the current question.
func (s *Session) Snapshot(now time.Time) (Snapshot, error) {
	snap := Snapshot{
		ExamID:    s.exam.ID,
		Title:     s.exam.Title,
		Index:     s.nav.Index,
		Count:     s.nav.Count,
		InReview:  s.nav.InReview,
		Locked:    s.nav.Locked,
		Expired:   s.Expired(now),
		Progress:  s.Progress(),
		Remaining: Seconds(Remaining(s.deadline, now)),
		Answers:   s.buf.Answers(),
	}
	if q := s.Current(); q != nil {
		cur := StripModelAnswers(*q)
		snap.Current = &cur
		dl, ok, err := s.QuestionDeadline()
		if err != nil {
			return Snapshot{}, err
		}
		if ok {
			secs := Seconds(Remaining(dl, now))
			snap.QuestionRemaining = &secs
		}
	}
	return snap, nil
}

// StripModelAnswers returns a copy of q safe to show an examinee.
func StripModelAnswers(q model.Question) model.Question {
	q.Item = stripItem(q.Item)
	if q.SubQuestions != nil {
		subs := make([]model.Item, len(q.SubQuestions))
		for i, sq := range q.SubQuestions {
			subs[i] = stripItem(sq)
		}
		q.SubQuestions = subs
	}
	return q
}

func stripItem(it model.Item) model.Item {
	switch b := it.Body.(type) {
	case model.Descriptive:
		it.Body = model.Descriptive{}
	case model.FillInBlank:
		it.Body = model.FillInBlank{}
	case model.Selection:
		it.Body = model.Selection{Options: append([]string{}, b.Options...)}
	}
	return it
}

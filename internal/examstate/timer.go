// Package examstate keeps an examinee's in-progress exam: buffered answers,
// the exam-wide and per-question countdowns, and which question is shown.
// Everything is persisted through a KV after every change so a reload
// resumes where the examinee left off.
package examstate

import (
	"context"
	"strconv"
	"time"
)

// KV is the per-owner key/value storage the state is persisted to.
type KV interface {
	GetState(owner, key string) (string, bool, error)
	SetState(owner, key, value string) error
	DeleteState(owner, key string) error
	DeleteStatePrefix(owner, prefix string) error
}

// Prefix is the common key prefix of one exam's state.
func Prefix(examID string) string { return "exam-" + examID + "-" }

// AnswersKey holds the JSON answers snapshot.
func AnswersKey(examID string) string { return Prefix(examID) + "answers" }

// ExamDeadlineKey holds the exam-wide deadline in epoch milliseconds.
func ExamDeadlineKey(examID string) string { return Prefix(examID) + "endTime" }

// QuestionDeadlineKey holds a per-question deadline in epoch milliseconds.
func QuestionDeadlineKey(examID, questionID string) string {
	return Prefix(examID) + "q-" + questionID + "-endTime"
}

// NavKey holds the navigation position.
func NavKey(examID string) string { return Prefix(examID) + "nav" }

// Timer computes deadlines once, persists them and rehydrates them later.
type Timer struct {
	kv    KV
	owner string
}

// NewTimer returns a timer persisting under owner.
func NewTimer(kv KV, owner string) *Timer {
	return &Timer{kv: kv, owner: owner}
}

// Deadline returns the deadline stored under key. When none is stored, or the
// stored value cannot be parsed, it stores and returns now+d.
func (t *Timer) Deadline(key string, d time.Duration, now time.Time) (time.Time, error) {
	if dl, ok, err := t.Peek(key); err != nil {
		return time.Time{}, err
	} else if ok {
		return dl, nil
	}
	dl := now.Add(d)
	if err := t.kv.SetState(t.owner, key, strconv.FormatInt(dl.UnixMilli(), 10)); err != nil {
		return time.Time{}, err
	}
	return dl, nil
}

// Peek loads a stored deadline without creating one. Unparseable values count as absent.
func (t *Timer) Peek(key string) (time.Time, bool, error) {
	raw, ok, err := t.kv.GetState(t.owner, key)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

// Remaining is max(0, deadline-now).
func Remaining(deadline, now time.Time) time.Duration {
	if d := deadline.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Seconds rounds a remaining duration up to whole seconds for display.
func Seconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}

// Watch emits the remaining time every interval until it reaches zero or ctx
// ends. Each value is recomputed from the absolute deadline, so missed ticks
// never accumulate drift. The channel is closed after the zero value.
func Watch(ctx context.Context, deadline time.Time, interval time.Duration, now func() time.Time) <-chan time.Duration {
	ch := make(chan time.Duration, 1)
	go func() {
		defer close(ch)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			rem := Remaining(deadline, now())
			select {
			case ch <- rem:
			case <-ctx.Done():
				return
			}
			if rem == 0 {
				return
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

package examstate

import (
	"encoding/json"
	"log/slog"

	"github.com/pavelanni/shoshin/internal/model"
)

// Buffer maps question IDs to the examinee's current answers, in first-answered order.
type Buffer struct {
	answers []model.Answer
}

// NewBuffer returns a buffer seeded with answers.
func NewBuffer(answers []model.Answer) *Buffer {
	b := &Buffer{}
	for _, a := range answers {
		b.answers = append(b.answers, a.Clone())
	}
	return b
}

func (b *Buffer) find(questionID string) *model.Answer {
	for i := range b.answers {
		if b.answers[i].QuestionID == questionID {
			return &b.answers[i]
		}
	}
	return nil
}

// Set replaces the value of an existing entry or appends a new one.
// It reports whether the buffer changed.
func (b *Buffer) Set(questionID string, v model.AnswerValue) bool {
	if a := b.find(questionID); a != nil {
		if a.Value.Equal(v) {
			return false
		}
		a.Value = cloneValue(v)
		return true
	}
	b.answers = append(b.answers, model.Answer{QuestionID: questionID, Value: cloneValue(v)})
	return true
}

// SetSub sets a sub-answer, creating the parent entry and the sub-entry as
// needed. The parent's own value is left untouched.
func (b *Buffer) SetSub(questionID, subQuestionID string, v model.AnswerValue) bool {
	a := b.find(questionID)
	if a == nil {
		b.answers = append(b.answers, model.Answer{QuestionID: questionID})
		a = &b.answers[len(b.answers)-1]
	}
	if sa := a.SubAnswer(subQuestionID); sa != nil {
		if sa.Value.Equal(v) {
			return false
		}
		sa.Value = cloneValue(v)
		return true
	}
	a.SubAnswers = append(a.SubAnswers, model.Answer{QuestionID: subQuestionID, Value: cloneValue(v)})
	return true
}

// Get returns a copy of the answer for a question.
func (b *Buffer) Get(questionID string) (model.Answer, bool) {
	if a := b.find(questionID); a != nil {
		return a.Clone(), true
	}
	return model.Answer{}, false
}

// Answers returns a deep copy of all entries.
func (b *Buffer) Answers() []model.Answer {
	out := make([]model.Answer, 0, len(b.answers))
	for _, a := range b.answers {
		out = append(out, a.Clone())
	}
	return out
}

// Len returns the number of entries.
func (b *Buffer) Len() int { return len(b.answers) }

// Progress is the fraction of top-level questions that count as answered.
func (b *Buffer) Progress(totalQuestions int) float64 {
	if totalQuestions <= 0 {
		return 0
	}
	answered := 0
	for _, a := range b.answers {
		if a.Answered() {
			answered++
		}
	}
	if answered > totalQuestions {
		answered = totalQuestions
	}
	return float64(answered) / float64(totalQuestions)
}

// Save persists the snapshot.
func (b *Buffer) Save(kv KV, owner, examID string) error {
	data, err := json.Marshal(b.Answers())
	if err != nil {
		return err
	}
	return kv.SetState(owner, AnswersKey(examID), string(data))
}

// LoadBuffer rehydrates a saved snapshot. A corrupted snapshot yields an empty buffer.
func LoadBuffer(kv KV, owner, examID string) (*Buffer, error) {
	raw, ok, err := kv.GetState(owner, AnswersKey(examID))
	if err != nil {
		return nil, err
	}
	if !ok {
		return &Buffer{}, nil
	}
	var answers []model.Answer
	if err := json.Unmarshal([]byte(raw), &answers); err != nil {
		slog.Debug("discarding unreadable answers snapshot", "exam_id", examID, "error", err)
		return &Buffer{}, nil
	}
	return &Buffer{answers: answers}, nil
}

func cloneValue(v model.AnswerValue) model.AnswerValue {
	if v.Blanks != nil {
		v.Blanks = append([]string{}, v.Blanks...)
	}
	return v
}

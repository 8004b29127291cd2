package model

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
)

// AnswerValue is either a single text (descriptive, selection, single blank)
// or one text per blank. On the wire it is a JSON string or array of strings.
type AnswerValue struct {
	Text   string
	Blanks []string
}

// TextValue builds a scalar answer value.
func TextValue(s string) AnswerValue { return AnswerValue{Text: s} }

// BlanksValue builds a multi-blank answer value.
func BlanksValue(blanks ...string) AnswerValue { return AnswerValue{Blanks: blanks} }

// IsMulti reports whether the value holds per-blank answers.
func (v AnswerValue) IsMulti() bool { return v.Blanks != nil }

// Empty reports whether the value has no non-blank content.
func (v AnswerValue) Empty() bool {
	if strings.TrimSpace(v.Text) != "" {
		return false
	}
	for _, b := range v.Blanks {
		if strings.TrimSpace(b) != "" {
			return false
		}
	}
	return true
}

// String flattens the value for display and grading.
func (v AnswerValue) String() string {
	if v.IsMulti() {
		return strings.Join(v.Blanks, " / ")
	}
	return v.Text
}

// Equal compares two values.
func (v AnswerValue) Equal(o AnswerValue) bool {
	if v.IsMulti() != o.IsMulti() || v.Text != o.Text || len(v.Blanks) != len(o.Blanks) {
		return false
	}
	for i := range v.Blanks {
		if v.Blanks[i] != o.Blanks[i] {
			return false
		}
	}
	return true
}

// MarshalJSON encodes a string or an array of strings.
func (v AnswerValue) MarshalJSON() ([]byte, error) {
	if v.IsMulti() {
		return json.Marshal(v.Blanks)
	}
	return json.Marshal(v.Text)
}

// UnmarshalJSON accepts a string, an array of strings, or null.
func (v *AnswerValue) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*v = AnswerValue{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*v = AnswerValue{Text: s}
		return nil
	}
	var arr []string
	if err := json.Unmarshal(data, &arr); err != nil {
		return errors.New("answer value must be a string or an array of strings")
	}
	if arr == nil {
		arr = []string{}
	}
	*v = AnswerValue{Blanks: arr}
	return nil
}

// Answer is an examinee's answer to one question.
type Answer struct {
	QuestionID string      `json:"question_id"`
	Value      AnswerValue `json:"value"`
	SubAnswers []Answer    `json:"sub_answers,omitempty"`
}

// Answered reports whether the answer counts toward progress: a non-empty
// value or at least one non-empty sub-answer.
func (a Answer) Answered() bool {
	if !a.Value.Empty() {
		return true
	}
	for _, sa := range a.SubAnswers {
		if !sa.Value.Empty() {
			return true
		}
	}
	return false
}

// SubAnswer returns the sub-answer for a sub-question, or nil.
func (a *Answer) SubAnswer(subQuestionID string) *Answer {
	for i := range a.SubAnswers {
		if a.SubAnswers[i].QuestionID == subQuestionID {
			return &a.SubAnswers[i]
		}
	}
	return nil
}

// Text flattens the answer and its sub-answers into one block for grading.
// sub maps sub-question IDs to their display text.
func (a Answer) Text(sub func(id string) string) string {
	var sb strings.Builder
	if s := strings.TrimSpace(a.Value.String()); s != "" {
		sb.WriteString(s)
	}
	for i, sa := range a.SubAnswers {
		if sa.Value.Empty() {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		label := sa.QuestionID
		if sub != nil {
			if t := sub(sa.QuestionID); t != "" {
				label = t
			}
		}
		sb.WriteString("(" + strconv.Itoa(i+1) + ") " + label + ": " + strings.TrimSpace(sa.Value.String()))
	}
	return sb.String()
}

// Clone returns a deep copy.
func (a Answer) Clone() Answer {
	out := Answer{QuestionID: a.QuestionID, Value: a.Value}
	if a.Value.Blanks != nil {
		out.Value.Blanks = append([]string{}, a.Value.Blanks...)
	}
	if a.SubAnswers != nil {
		out.SubAnswers = make([]Answer, len(a.SubAnswers))
		for i, sa := range a.SubAnswers {
			out.SubAnswers[i] = sa.Clone()
		}
	}
	return out
}

package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// QuestionType is the wire tag of a question body.
type QuestionType string

const (
	TypeDescriptive QuestionType = "descriptive"
	TypeFillInBlank QuestionType = "fill-in-the-blank"
	TypeSelection   QuestionType = "selection"
)

// BlankMarker separates the blanks of a fill-in-the-blank question text.
const BlankMarker = "___"

// Body is the type-specific part of a question: Descriptive, FillInBlank or Selection.
type Body interface {
	Type() QuestionType
	// ModelAnswerText flattens the model answer for graders; empty when none is registered.
	ModelAnswerText() string
}

// Descriptive is a free-text question.
type Descriptive struct {
	ModelAnswer string
}

func (Descriptive) Type() QuestionType        { return TypeDescriptive }
func (d Descriptive) ModelAnswerText() string { return strings.TrimSpace(d.ModelAnswer) }

// FillInBlank has one answer per blank marker in the question text.
type FillInBlank struct {
	ModelAnswers []string
}

func (FillInBlank) Type() QuestionType { return TypeFillInBlank }

func (f FillInBlank) ModelAnswerText() string {
	var parts []string
	for _, a := range f.ModelAnswers {
		if a = strings.TrimSpace(a); a != "" {
			parts = append(parts, a)
		}
	}
	return strings.Join(parts, " / ")
}

// Selection is a single-choice question.
type Selection struct {
	Options     []string
	ModelAnswer string
}

func (Selection) Type() QuestionType        { return TypeSelection }
func (s Selection) ModelAnswerText() string { return strings.TrimSpace(s.ModelAnswer) }

// Item holds the fields shared by questions and sub-questions.
type Item struct {
	ID        string
	Text      string
	Points    int
	TimeLimit int // seconds, 0 means no per-question limit
	Body      Body
}

// Type returns the body type, defaulting to descriptive.
func (it Item) Type() QuestionType {
	if it.Body == nil {
		return TypeDescriptive
	}
	return it.Body.Type()
}

// ModelAnswer returns the flattened model answer, or "".
func (it Item) ModelAnswer() string {
	if it.Body == nil {
		return ""
	}
	return it.Body.ModelAnswerText()
}

// Blanks returns the number of answer fields of a fill-in-the-blank item (at least 1).
func (it Item) Blanks() int {
	n := strings.Count(it.Text, BlankMarker)
	if n < 1 {
		return 1
	}
	return n
}

// Question is a top-level exam question. Sub-questions are Items, so they
// cannot nest further.
type Question struct {
	Item
	SubQuestions []Item
}

// MaxScore is the question's own points plus all sub-question points.
func (q Question) MaxScore() int {
	total := q.Points
	for _, sq := range q.SubQuestions {
		total += sq.Points
	}
	return total
}

// SubQuestion returns the sub-question with the given ID, or nil.
func (q Question) SubQuestion(id string) *Item {
	for i := range q.SubQuestions {
		if q.SubQuestions[i].ID == id {
			return &q.SubQuestions[i]
		}
	}
	return nil
}

// ErrNestedSubQuestion is returned when decoding a sub-question that has sub-questions.
var ErrNestedSubQuestion = errors.New("sub-questions cannot have sub-questions")

type itemJSON struct {
	ID           string          `json:"id,omitempty"`
	Text         string          `json:"text"`
	Type         QuestionType    `json:"type"`
	Points       int             `json:"points"`
	TimeLimit    int             `json:"time_limit,omitempty"`
	Options      []string        `json:"options,omitempty"`
	ModelAnswer  json.RawMessage `json:"model_answer,omitempty"`
	SubQuestions []itemJSON      `json:"sub_questions,omitempty"`
}

func (it Item) toWire() (itemJSON, error) {
	w := itemJSON{
		ID:        it.ID,
		Text:      it.Text,
		Type:      it.Type(),
		Points:    it.Points,
		TimeLimit: it.TimeLimit,
	}
	var model any
	switch b := it.Body.(type) {
	case Descriptive:
		model = b.ModelAnswer
	case FillInBlank:
		model = b.ModelAnswers
	case Selection:
		w.Options = b.Options
		model = b.ModelAnswer
	case nil:
	default:
		return w, fmt.Errorf("unknown question body %T", it.Body)
	}
	if s, ok := model.(string); ok && s == "" {
		model = nil
	}
	if a, ok := model.([]string); ok && len(a) == 0 {
		model = nil
	}
	if model != nil {
		raw, err := json.Marshal(model)
		if err != nil {
			return w, err
		}
		w.ModelAnswer = raw
	}
	return w, nil
}

func (w itemJSON) toItem() (Item, error) {
	it := Item{ID: w.ID, Text: w.Text, Points: w.Points, TimeLimit: w.TimeLimit}
	strs, err := decodeStrings(w.ModelAnswer)
	if err != nil {
		return it, fmt.Errorf("question %q model_answer: %w", w.ID, err)
	}
	switch w.Type {
	case TypeDescriptive, "":
		it.Body = Descriptive{ModelAnswer: strings.Join(strs, "\n")}
	case TypeFillInBlank:
		it.Body = FillInBlank{ModelAnswers: strs}
	case TypeSelection:
		it.Body = Selection{Options: w.Options, ModelAnswer: strings.Join(strs, "\n")}
	default:
		return it, fmt.Errorf("question %q: unknown type %q", w.ID, w.Type)
	}
	return it, nil
}

// decodeStrings accepts a JSON string or array of strings.
func decodeStrings(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return nil, nil
		}
		return []string{s}, nil
	}
	var arr []string
	if err := json.Unmarshal(raw, &arr); err != nil {
		return nil, errors.New("must be a string or an array of strings")
	}
	return arr, nil
}

// MarshalJSON encodes the item with a type tag.
func (it Item) MarshalJSON() ([]byte, error) {
	w, err := it.toWire()
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes a tagged item and rejects nested sub-questions.
func (it *Item) UnmarshalJSON(data []byte) error {
	var w itemJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if len(w.SubQuestions) > 0 {
		return ErrNestedSubQuestion
	}
	v, err := w.toItem()
	if err != nil {
		return err
	}
	*it = v
	return nil
}

// MarshalJSON encodes the question and its sub-questions.
func (q Question) MarshalJSON() ([]byte, error) {
	w, err := q.Item.toWire()
	if err != nil {
		return nil, err
	}
	for _, sq := range q.SubQuestions {
		sw, err := sq.toWire()
		if err != nil {
			return nil, err
		}
		w.SubQuestions = append(w.SubQuestions, sw)
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes a question with at most one level of sub-questions.
func (q *Question) UnmarshalJSON(data []byte) error {
	var w itemJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	it, err := w.toItem()
	if err != nil {
		return err
	}
	out := Question{Item: it}
	for _, sw := range w.SubQuestions {
		if len(sw.SubQuestions) > 0 {
			return ErrNestedSubQuestion
		}
		sub, err := sw.toItem()
		if err != nil {
			return err
		}
		out.SubQuestions = append(out.SubQuestions, sub)
	}
	*q = out
	return nil
}

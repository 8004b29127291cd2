package grading

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/pavelanni/shoshin/internal/llm"
	"github.com/pavelanni/shoshin/internal/model"
)

var (
	// ErrNoModelAnswer is returned when a question has no registered model answer.
	ErrNoModelAnswer = errors.New("no model answer registered")
	// ErrNoAnswer is returned when the examinee left a question blank.
	ErrNoAnswer = errors.New("no answer given")
	// ErrInvalidAIScore is returned when the grader's score falls outside 0..max.
	ErrInvalidAIScore = errors.New("AI score out of range")
	// ErrCollaborator wraps every failure reported by the grader itself.
	ErrCollaborator = errors.New("AI collaborator failed")
)

// Grader is the AI grading collaborator.
type Grader interface {
	GradeAnswer(ctx context.Context, req llm.GradeRequest) (*llm.GradeResult, error)
}

// BuildRequest assembles the grading input for one top-level question.
// Sub-questions are folded into the question text, model answer, and
// candidate answer as numbered parts.
func BuildRequest(q *model.Question, sub *model.Submission) (llm.GradeRequest, error) {
	req := llm.GradeRequest{
		QuestionText: q.Text,
		ModelAnswer:  q.ModelAnswer(),
		Points:       q.MaxScore(),
	}
	if len(q.SubQuestions) > 0 {
		var text, models []string
		if s := strings.TrimSpace(q.ModelAnswer()); s != "" {
			models = append(models, s)
		}
		text = append(text, q.Text)
		for i, sq := range q.SubQuestions {
			label := "(" + strconv.Itoa(i+1) + ") "
			text = append(text, label+sq.Text+" ["+strconv.Itoa(sq.Points)+"]")
			if m := sq.ModelAnswer(); m != "" {
				models = append(models, label+m)
			}
		}
		req.QuestionText = strings.Join(text, "\n")
		req.ModelAnswer = strings.Join(models, "\n")
	}
	if strings.TrimSpace(req.ModelAnswer) == "" {
		return req, ErrNoModelAnswer
	}
	ans := sub.Answer(q.ID)
	if ans == nil || !ans.Answered() {
		return req, ErrNoAnswer
	}
	req.AnswerText = ans.Text(func(id string) string {
		if sq := q.SubQuestion(id); sq != nil {
			return sq.Text
		}
		return ""
	})
	return req, nil
}

func callGrader(ctx context.Context, g Grader, req llm.GradeRequest) (*llm.GradeResult, error) {
	res, err := g.GradeAnswer(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCollaborator, err)
	}
	return checkScore(res, req.Points)
}

func checkScore(res *llm.GradeResult, points int) (*llm.GradeResult, error) {
	if res.Score < 0 || res.Score > points {
		return nil, fmt.Errorf("%w: %w: %d not in 0..%d", ErrCollaborator, ErrInvalidAIScore, res.Score, points)
	}
	return res, nil
}

// GradeOne grades a single question and stores the suggestion in r. On any
// failure r is left unchanged.
func GradeOne(ctx context.Context, g Grader, r *Review, sub *model.Submission, questionID string) (*llm.GradeResult, error) {
	q := r.exam.Question(questionID)
	if q == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownQuestion, questionID)
	}
	req, err := BuildRequest(q, sub)
	if err != nil {
		return nil, err
	}
	res, err := callGrader(ctx, g, req)
	if err != nil {
		return nil, fmt.Errorf("grade question %s: %w", questionID, err)
	}
	r.applyAI(questionID, res.Score, res.Justification)
	return res, nil
}

// Outcome is the result of grading one question during GradeAll.
type Outcome struct {
	QuestionID string
	Result     *llm.GradeResult
	Err        error
}

// GradeAll grades every question concurrently with at most limit requests in
// flight. Each question succeeds or fails on its own; successes are stored in
// r once all requests have resolved. Outcomes follow exam question order.
func GradeAll(ctx context.Context, g Grader, r *Review, sub *model.Submission, limit int) []Outcome {
	questions := r.exam.Questions
	outcomes := make([]Outcome, len(questions))

	var eg errgroup.Group
	if limit > 0 {
		eg.SetLimit(limit)
	}
	for i := range questions {
		q := &questions[i]
		outcomes[i].QuestionID = q.ID
		req, err := BuildRequest(q, sub)
		if err != nil {
			outcomes[i].Err = err
			continue
		}
		eg.Go(func() error {
			res, err := callGrader(ctx, g, req)
			if err != nil {
				outcomes[i].Err = fmt.Errorf("grade question %s: %w", q.ID, err)
				return nil
			}
			outcomes[i].Result = res
			return nil
		})
	}
	_ = eg.Wait()

	failed := 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
			continue
		}
		r.applyAI(o.QuestionID, o.Result.Score, o.Result.Justification)
	}
	slog.Info("graded submission with AI", "submission_id", sub.ID, "questions", len(outcomes), "failed", failed)
	return outcomes
}

// RubricGrader is the older rubric-only grading mode of the collaborator.
type RubricGrader interface {
	GradeWithRubric(ctx context.Context, answerText, rubric string) (*llm.GradeResult, error)
}

// GradeWithRubric grades one question against a reviewer-supplied rubric
// instead of the model answer, storing the suggestion like GradeOne.
func GradeWithRubric(ctx context.Context, g RubricGrader, r *Review, sub *model.Submission, questionID, rubric string) (*llm.GradeResult, error) {
	q := r.exam.Question(questionID)
	if q == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownQuestion, questionID)
	}
	req, err := BuildRequest(q, sub)
	if err != nil && !errors.Is(err, ErrNoModelAnswer) {
		return nil, err
	}
	if errors.Is(err, ErrNoModelAnswer) {
		// The rubric replaces the model answer, but the answer still has to exist.
		ans := sub.Answer(q.ID)
		if ans == nil || !ans.Answered() {
			return nil, ErrNoAnswer
		}
		req.AnswerText = ans.Text(nil)
	}
	if strings.TrimSpace(rubric) == "" {
		rubric = fmt.Sprintf("Model answer: %s\nMaximum points: %d", req.ModelAnswer, req.Points)
	}
	res, err := g.GradeWithRubric(ctx, req.AnswerText, rubric)
	if err != nil {
		return nil, fmt.Errorf("grade question %s: %w: %w", questionID, ErrCollaborator, err)
	}
	if res, err = checkScore(res, req.Points); err != nil {
		return nil, err
	}
	r.applyAI(questionID, res.Score, res.Justification)
	return res, nil
}

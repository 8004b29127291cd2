package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/pavelanni/shoshin/internal/llm/prompts"
	"github.com/pavelanni/shoshin/internal/metrics"
	"github.com/pavelanni/shoshin/internal/model"
)

// GradeRequest is the input for grading one answer against a model answer.
type GradeRequest struct {
	QuestionText string `json:"question_text"`
	ModelAnswer  string `json:"model_answer"`
	AnswerText   string `json:"answer_text"`
	Points       int    `json:"points"`
}

// GradeResult is the LLM's assessment of one answer.
type GradeResult struct {
	Score         int    `json:"score"`
	Justification string `json:"justification"`
}

// SummaryRequest is the input for summarising AI grading feedback.
type SummaryRequest struct {
	QuestionText string `json:"question_text"`
	AnswerText   string `json:"answer_text"`
	Feedback     string `json:"feedback"`
}

// ErrEmptyResponse is returned when the API answers without content.
var ErrEmptyResponse = errors.New("LLM returned no choices")

// Config configures a Client.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Variant prompts.PromptVariant
	// RPS limits requests per second; 0 disables throttling.
	RPS float64
}

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api     *openai.Client
	model   string
	variant prompts.PromptVariant
	limiter *rate.Limiter
}

// New creates a new LLM client.
func New(cfg Config) *Client {
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	variant := cfg.Variant
	if variant == "" {
		variant = prompts.PromptStandard
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RPS > 0 {
		burst := int(math.Ceil(cfg.RPS))
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}
	return &Client{
		api:     openai.NewClientWithConfig(config),
		model:   cfg.Model,
		variant: variant,
		limiter: limiter,
	}
}

// complete sends a single-message prompt in JSON mode and decodes the reply into out.
func (c *Client) complete(ctx context.Context, op, prompt string, temperature float32, out any) (err error) {
	defer func() { metrics.ObserveAI(op, err) }()

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("LLM rate limit: %w", err)
	}
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: temperature,
	})
	if err != nil {
		return fmt.Errorf("LLM API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return ErrEmptyResponse
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM response", "operation", op, "raw", raw)
	if err := json.Unmarshal([]byte(stripFences(raw)), out); err != nil {
		return fmt.Errorf("parse LLM response: %w (raw: %s)", err, raw)
	}
	return nil
}

// stripFences removes a Markdown code fence some models wrap JSON in.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

type rawGrade struct {
	Score         float64 `json:"score"`
	Justification string  `json:"justification"`
}

func (g rawGrade) result() *GradeResult {
	return &GradeResult{Score: int(math.Round(g.Score)), Justification: strings.TrimSpace(g.Justification)}
}

// GradeAnswer scores an answer against the question's model answer.
func (c *Client) GradeAnswer(ctx context.Context, req GradeRequest) (*GradeResult, error) {
	prompt, err := prompts.BuildGradePrompt(c.variant, prompts.GradeData{
		QuestionText: req.QuestionText,
		ModelAnswer:  req.ModelAnswer,
		Answer:       req.AnswerText,
		Points:       req.Points,
	})
	if err != nil {
		return nil, fmt.Errorf("build grade prompt: %w", err)
	}
	var g rawGrade
	if err := c.complete(ctx, "grade", prompt, 0.1, &g); err != nil {
		return nil, err
	}
	return g.result(), nil
}

// GradeWithRubric scores an answer against a free-form scoring rubric.
func (c *Client) GradeWithRubric(ctx context.Context, answerText, rubric string) (*GradeResult, error) {
	prompt, err := prompts.BuildRubricPrompt(prompts.RubricData{Answer: answerText, Rubric: rubric})
	if err != nil {
		return nil, fmt.Errorf("build rubric prompt: %w", err)
	}
	var g rawGrade
	if err := c.complete(ctx, "grade_rubric", prompt, 0.1, &g); err != nil {
		return nil, err
	}
	res := g.result()
	if res.Score < 0 {
		res.Score = 0
	}
	return res, nil
}

// GenerateQuestions drafts exam questions from a free-text request. The
// questions carry no IDs; they are assigned when the exam is saved.
func (c *Client) GenerateQuestions(ctx context.Context, request string) ([]model.Question, error) {
	if strings.TrimSpace(request) == "" {
		return nil, errors.New("generation prompt is empty")
	}
	prompt, err := prompts.BuildGeneratePrompt(prompts.GenerateData{Prompt: request})
	if err != nil {
		return nil, fmt.Errorf("build generate prompt: %w", err)
	}
	var out struct {
		Questions []model.Question `json:"questions"`
	}
	if err := c.complete(ctx, "generate", prompt, 0.7, &out); err != nil {
		return nil, err
	}
	questions := make([]model.Question, 0, len(out.Questions))
	for _, q := range out.Questions {
		if strings.TrimSpace(q.Text) == "" {
			continue
		}
		q.ID = ""
		for i := range q.SubQuestions {
			q.SubQuestions[i].ID = ""
		}
		if q.Points < 0 {
			q.Points = 0
		}
		questions = append(questions, q)
	}
	slog.Info("generated questions", "requested", len(out.Questions), "kept", len(questions))
	return questions, nil
}

// SummarizeFeedback condenses AI grading feedback for a reviewer.
func (c *Client) SummarizeFeedback(ctx context.Context, req SummaryRequest) (string, error) {
	prompt, err := prompts.BuildSummarizePrompt(prompts.SummarizeData{
		QuestionText: req.QuestionText,
		Answer:       req.AnswerText,
		Feedback:     req.Feedback,
	})
	if err != nil {
		return "", fmt.Errorf("build summarize prompt: %w", err)
	}
	var out struct {
		Summary string `json:"summary"`
	}
	if err := c.complete(ctx, "summarize", prompt, 0.3, &out); err != nil {
		return "", err
	}
	return strings.TrimSpace(out.Summary), nil
}

// Ping checks that the API is reachable.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return fmt.Errorf("LLM ping: %w", err)
	}
	return nil
}

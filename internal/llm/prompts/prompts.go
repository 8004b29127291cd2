package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"
)

// Embedded holds the built-in prompt templates.
//
//go:embed templates/*.tmpl
var Embedded embed.FS

var (
	examineeAnswerRegex     = regexp.MustCompile(`(?i)</?\s*examinee-answer\b[^>]*>`)
	systemInstructionsRegex = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)
)

// maxAnswerRunes caps the candidate answer placed into a prompt.
const maxAnswerRunes = 10000

// PromptVariant represents a grading prompt variant.
type PromptVariant string

const (
	// PromptStrict requires every key point of the model answer.
	PromptStrict PromptVariant = "strict"
	// PromptStandard is the default grading variant.
	PromptStandard PromptVariant = "standard"
	// PromptLenient credits any correct idea.
	PromptLenient PromptVariant = "lenient"
)

var validVariants = map[PromptVariant]bool{
	PromptStrict:   true,
	PromptStandard: true,
	PromptLenient:  true,
}

var (
	loadOnce       sync.Once
	loadErr        error
	gradeTemplates map[PromptVariant]*template.Template
	rubricTemplate *template.Template
	genTemplate    *template.Template
	sumTemplate    *template.Template
)

// IsValidVariant checks if a prompt variant name is valid.
func IsValidVariant(v string) bool {
	return validVariants[PromptVariant(v)]
}

// GradeData holds template data for model-answer grading prompts.
type GradeData struct {
	QuestionText string
	ModelAnswer  string
	Answer       string
	Points       int
}

// RubricData holds template data for rubric grading prompts.
type RubricData struct {
	Answer string
	Rubric string
}

// GenerateData holds template data for question generation prompts.
type GenerateData struct {
	Prompt string
}

// SummarizeData holds template data for feedback summary prompts.
type SummarizeData struct {
	QuestionText string
	Answer       string
	Feedback     string
}

func parse(fsys fs.FS, name string) (*template.Template, error) {
	path := "templates/" + name + ".tmpl"
	content, err := fs.ReadFile(fsys, path)
	if err != nil {
		return nil, errors.New("failed to read prompt file " + path + ": " + err.Error())
	}
	tmpl, err := template.New(name).Parse(string(content))
	if err != nil {
		return nil, errors.New("failed to parse prompt template " + path + ": " + err.Error())
	}
	return tmpl, nil
}

// Load loads prompt templates from fsys.
// It uses sync.Once to ensure templates are loaded only once.
func Load(fsys fs.FS) error {
	loadOnce.Do(func() {
		gradeTemplates = make(map[PromptVariant]*template.Template)
		for _, v := range []PromptVariant{PromptStrict, PromptStandard, PromptLenient} {
			tmpl, err := parse(fsys, "grade_"+string(v))
			if err != nil {
				loadErr = err
				return
			}
			gradeTemplates[v] = tmpl
		}
		if rubricTemplate, loadErr = parse(fsys, "rubric"); loadErr != nil {
			return
		}
		if genTemplate, loadErr = parse(fsys, "generate"); loadErr != nil {
			return
		}
		sumTemplate, loadErr = parse(fsys, "summarize")
	})
	return loadErr
}

func execute(tmpl *template.Template, data any) (string, error) {
	if tmpl == nil {
		if loadErr != nil {
			return "", fmt.Errorf("templates load failed: %w", loadErr)
		}
		return "", errors.New("templates not initialized: call Load first")
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// BuildGradePrompt builds a model-answer grading prompt using the specified variant.
func BuildGradePrompt(variant PromptVariant, data GradeData) (string, error) {
	if gradeTemplates == nil {
		return execute(nil, nil)
	}
	tmpl, ok := gradeTemplates[variant]
	if !ok {
		return "", errors.New("invalid prompt variant: " + string(variant))
	}
	data.Answer = SanitizeAnswer(data.Answer)
	return execute(tmpl, data)
}

// BuildRubricPrompt builds a rubric grading prompt.
func BuildRubricPrompt(data RubricData) (string, error) {
	data.Answer = SanitizeAnswer(data.Answer)
	return execute(rubricTemplate, data)
}

// BuildGeneratePrompt builds a question generation prompt.
func BuildGeneratePrompt(data GenerateData) (string, error) {
	return execute(genTemplate, data)
}

// BuildSummarizePrompt builds a feedback summary prompt.
func BuildSummarizePrompt(data SummarizeData) (string, error) {
	data.Answer = SanitizeAnswer(data.Answer)
	return execute(sumTemplate, data)
}

// SanitizeAnswer strips delimiter tags from a candidate answer and caps its length.
func SanitizeAnswer(answer string) string {
	answer = examineeAnswerRegex.ReplaceAllString(answer, "")
	answer = systemInstructionsRegex.ReplaceAllString(answer, "")
	answer = strings.TrimSpace(answer)

	if answer == "" {
		return "[No answer provided]"
	}

	if utf8.RuneCountInString(answer) > maxAnswerRunes {
		runes := []rune(answer)
		runes = runes[:maxAnswerRunes]
		answer = string(runes) + "\n\n[Answer truncated due to length]"
	}

	return answer
}

// Package prompts renders the review prompts sent to the language model.
package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strings"
	"text/template"
	"unicode/utf8"
)

//go:embed templates/*.txt
var FS embed.FS

var (
	studentAnswerRegex      = regexp.MustCompile(`(?i)</?\s*student-answer\b[^>]*>`)
	systemInstructionsRegex = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)
)

// Variant selects how readily the reviewer calls an answer generated.
type Variant string

const (
	Strict   Variant = "strict"
	Standard Variant = "standard"
	Lenient  Variant = "lenient"
)

var variants = []Variant{Strict, Standard, Lenient}

// IsValidVariant checks if a prompt variant name is valid.
func IsValidVariant(v string) bool {
	for _, known := range variants {
		if Variant(v) == known {
			return true
		}
	}
	return false
}

// ReviewData is the template data of a review prompt.
type ReviewData struct {
	Question   string
	Answer     string
	Class      string
	Rule       string
	Confidence int
	Reason     string
	Signals    []string
}

// Set holds the parsed templates of every variant.
type Set struct {
	review map[Variant]*template.Template
}

// Load parses templates/review_<variant>.txt for every variant from fsys.
func Load(fsys fs.FS) (*Set, error) {
	s := &Set{review: make(map[Variant]*template.Template)}
	funcs := template.FuncMap{"join": strings.Join}
	for _, v := range variants {
		name := "templates/review_" + string(v) + ".txt"
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read prompt file %s: %w", name, err)
		}
		tmpl, err := template.New(string(v)).Funcs(funcs).Parse(string(content))
		if err != nil {
			return nil, fmt.Errorf("parse prompt template %s: %w", name, err)
		}
		s.review[v] = tmpl
	}
	return s, nil
}

// Default loads the embedded templates.
func Default() (*Set, error) { return Load(FS) }

// BuildReviewPrompt renders the review prompt of variant. The answer is
// stripped of prompt delimiters and truncated.
func (s *Set) BuildReviewPrompt(variant Variant, data ReviewData) (string, error) {
	if s == nil {
		return "", errors.New("templates not initialized: call Load first")
	}
	tmpl, ok := s.review[variant]
	if !ok {
		return "", errors.New("invalid prompt variant: " + string(variant))
	}
	data.Answer = sanitizeAnswer(data.Answer)
	data.Question = strings.TrimSpace(data.Question)

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const maxAnswerRunes = 10000

func sanitizeAnswer(answer string) string {
	answer = studentAnswerRegex.ReplaceAllString(answer, "")
	answer = systemInstructionsRegex.ReplaceAllString(answer, "")
	answer = strings.TrimSpace(answer)

	if answer == "" {
		return "[No answer provided]"
	}

	if utf8.RuneCountInString(answer) > maxAnswerRunes {
		runes := []rune(answer)
		answer = string(runes[:maxAnswerRunes]) + "\n\n[Answer truncated due to length]"
	}
	return answer
}

// Package llm asks an OpenAI-compatible model for a second opinion on
// answers the detector flagged. It never takes part in classification.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/pavelanni/sheetaudit/internal/detect"
	"github.com/pavelanni/sheetaudit/internal/diff"
	"github.com/pavelanni/sheetaudit/internal/llm/prompts"
)

// Opinion verdicts.
const (
	VerdictAI        = "ai"
	VerdictHuman     = "human"
	VerdictUncertain = "uncertain"
)

// Opinion is the model's assessment of one answer.
type Opinion struct {
	Verdict    string `json:"verdict"`
	Confidence int    `json:"confidence"`
	Rationale  string `json:"rationale"`
}

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api     *openai.Client
	model   string
	prompts *prompts.Set
	variant prompts.Variant
}

// New creates a reviewer using the embedded prompt templates.
func New(baseURL, apiKey, modelName string, variant prompts.Variant) (*Client, error) {
	if !prompts.IsValidVariant(string(variant)) {
		return nil, fmt.Errorf("invalid prompt variant %q", variant)
	}
	set, err := prompts.Default()
	if err != nil {
		return nil, err
	}
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:     openai.NewClientWithConfig(config),
		model:   modelName,
		prompts: set,
		variant: variant,
	}, nil
}

// Ping checks that the endpoint answers by listing its models.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

// Review asks the model whether answer was written by the student.
func (c *Client) Review(ctx context.Context, question, answer string, v detect.Verdict) (*Opinion, error) {
	prompt, err := c.prompts.BuildReviewPrompt(c.variant, prompts.ReviewData{
		Question:   question,
		Answer:     answer,
		Class:      string(v.Class),
		Rule:       string(v.Rule),
		Confidence: v.Confidence,
		Reason:     v.Reason,
		Signals:    v.Signals,
	})
	if err != nil {
		return nil, fmt.Errorf("build review prompt: %w", err)
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.1,
	})
	if err != nil {
		return nil, fmt.Errorf("LLM API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("LLM returned no choices")
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM response", "raw", raw)
	return parseOpinion(raw)
}

func parseOpinion(raw string) (*Opinion, error) {
	var op Opinion
	if err := json.Unmarshal([]byte(raw), &op); err != nil {
		return nil, fmt.Errorf("parse LLM response: %w (raw: %s)", err, raw)
	}
	op.Verdict = strings.ToLower(strings.TrimSpace(op.Verdict))
	switch op.Verdict {
	case VerdictAI, VerdictHuman, VerdictUncertain:
	default:
		op.Verdict = VerdictUncertain
	}
	op.Confidence = min(max(op.Confidence, 0), 100)
	op.Rationale = strings.TrimSpace(op.Rationale)
	return &op, nil
}

// CellOpinion is an opinion on one answer cell.
type CellOpinion struct {
	Cell    string
	Opinion Opinion
}

// ReviewSuspects reviews the matrix rows whose verdict is suspected AI, in
// order. Failed reviews are logged and skipped.
func (c *Client) ReviewSuspects(ctx context.Context, rows []diff.Row) []CellOpinion {
	var out []CellOpinion
	for _, row := range rows {
		if row.Verdict.Class != detect.ClassSuspectedAI {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		op, err := c.Review(ctx, row.Question, row.Student, row.Verdict)
		if err != nil {
			slog.Warn("review failed", "cell", row.Cell.String(), "error", err)
			continue
		}
		out = append(out, CellOpinion{Cell: row.Cell.String(), Opinion: *op})
	}
	return out
}

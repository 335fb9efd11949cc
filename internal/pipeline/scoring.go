package pipeline

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/aseas-labs/grader-cli/internal/llmjson"
	"github.com/aseas-labs/grader-cli/internal/model"
	"github.com/aseas-labs/grader-cli/pkg/anthropic"
)

// ScoreTranscript runs the scoring stage: rubric-constrained grading of the
// transcript, JSON recovery from the model output, and strict schema
// validation.
//
// An empty (after trim) transcript fails with ErrEmptyTranscript before any
// gateway call. Malformed output and schema violations surface as
// llmjson.ErrMalformedOutput and model.ErrSchemaValidation respectively;
// the orchestrator maps every scoring failure back to rubric setup.
func ScoreTranscript(ctx context.Context, transcript string, rubric model.RubricConfig, client anthropic.Client, cfg Config) (*model.EvaluationResult, error) {
	if strings.TrimSpace(transcript) == "" {
		return nil, ErrEmptyTranscript
	}
	rubric = rubric.Normalize()

	// The policy block is constant across runs and cache-marked; the schema
	// block carries the per-run total marks.
	system := anthropic.BuildCachedSystemBlocks(ScoringPolicyPrompt())
	system = append(system, anthropic.SystemBlock{Text: ScoringSchemaPrompt(rubric.TotalMarks)})

	req := anthropic.MessageRequest{
		Model:     cfg.ScoringModel,
		MaxTokens: cfg.ScoringMaxTokens,
		System:    system,
		Messages: []anthropic.Message{
			anthropic.UserTextMessage(ScoringUserPrompt(rubric, transcript)),
		},
	}

	resp, err := client.CreateMessage(ctx, req)
	if err != nil {
		return nil, &GatewayError{Err: err}
	}
	resp.Usage.LogUsage(cfg.ScoringModel, "scoring")

	raw, err := llmjson.Extract(resp.Text())
	if err != nil {
		return nil, err
	}

	result, err := model.ParseEvaluationResult(raw, rubric)
	if err != nil {
		return nil, err
	}

	zap.L().Info("scoring: evaluation complete",
		zap.Int("overall_score", result.OverallScore),
		zap.Int("max_marks", result.MaxMarks),
		zap.String("grade", result.Grade),
	)
	return result, nil
}

package pipeline

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/aseas-labs/grader-cli/internal/model"
	"github.com/aseas-labs/grader-cli/pkg/anthropic"
)

// ExtractTranscript runs the extraction stage against a script artifact.
//
// A nil artifact short-circuits to the manual-entry placeholder, a valid
// terminal outcome, not an error. A disallowed media type fails with
// ErrUnsupportedMedia before any gateway call. Otherwise the image goes to
// the vision model with the fixed transcription instruction set and a
// generous token budget, since handwriting transcripts can be long.
func ExtractTranscript(ctx context.Context, artifact *model.ScriptArtifact, client anthropic.Client, cfg Config) (string, error) {
	if artifact == nil {
		return ManualEntryTranscript, nil
	}

	if !artifact.MediaAllowed() {
		return "", eris.Wrapf(ErrUnsupportedMedia, "%q not in %s",
			artifact.MediaType, strings.Join(model.AllowedMediaTypes(), ", "))
	}

	req := anthropic.MessageRequest{
		Model:     cfg.VisionModel,
		MaxTokens: cfg.OCRMaxTokens,
		Messages: []anthropic.Message{
			anthropic.UserMessage(
				anthropic.ImageBlock(artifact.MediaType, artifact.Data),
				anthropic.TextBlock(TranscriptionPrompt()),
			),
		},
	}

	resp, err := client.CreateMessage(ctx, req)
	if err != nil {
		return "", &GatewayError{Err: err}
	}
	resp.Usage.LogUsage(cfg.VisionModel, "extraction")

	transcript := resp.Text()
	if strings.TrimSpace(transcript) == "" {
		return "", ErrEmptyExtraction
	}

	zap.L().Info("extraction: transcript extracted",
		zap.Int("chars", len(transcript)),
		zap.String("media_type", artifact.MediaType),
	)
	return transcript, nil
}

package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aseas-labs/grader-cli/internal/model"
	"github.com/aseas-labs/grader-cli/internal/pipeline"
	"github.com/aseas-labs/grader-cli/pkg/anthropic"
)

var (
	gradeImagePath      string
	gradeMediaType      string
	gradeTranscriptPath string
	gradeSubject        string
	gradeMarks          int
	gradeCriteria       string
	gradeReferencePath  string
)

var gradeCmd = &cobra.Command{
	Use:   "grade",
	Short: "Grade a single answer script end to end",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("grade"); err != nil {
			return err
		}
		if gradeImagePath == "" && gradeTranscriptPath == "" {
			return eris.New("grade: provide --image, --transcript, or both")
		}

		run := pipeline.New(newGatewayClient(), pipelineConfig())
		run.Subscribe(func(snap pipeline.Snapshot) {
			if snap.Status != "" {
				zap.L().Info("stage update",
					zap.String("stage", snap.StageName),
					zap.String("status", snap.Status),
					zap.Int("progress", snap.Progress),
				)
			}
		})

		if gradeImagePath != "" {
			data, err := os.ReadFile(gradeImagePath)
			if err != nil {
				return eris.Wrap(err, "grade: read image")
			}
			mediaType := gradeMediaType
			if mediaType == "" {
				mediaType = mimetype.Detect(data).String()
			}
			if err := run.UploadArtifact(data, mediaType); err != nil {
				return err
			}
		}

		if err := run.StartExtraction(ctx); err != nil {
			return err
		}

		if gradeTranscriptPath != "" {
			text, err := os.ReadFile(gradeTranscriptPath)
			if err != nil {
				return eris.Wrap(err, "grade: read transcript")
			}
			if err := run.SetTranscript(string(text)); err != nil {
				return err
			}
		}

		if err := run.ContinueToRubric(); err != nil {
			return err
		}

		rubric := model.RubricConfig{
			Subject:    gradeSubject,
			TotalMarks: gradeMarks,
			Criteria:   gradeCriteria,
		}
		if gradeReferencePath != "" {
			ref, err := os.ReadFile(gradeReferencePath)
			if err != nil {
				return eris.Wrap(err, "grade: read reference answer")
			}
			rubric.ReferenceAnswer = strings.TrimSpace(string(ref))
		}
		if err := run.SetRubric(rubric); err != nil {
			return err
		}

		if err := run.Evaluate(ctx); err != nil {
			return err
		}

		snap := run.Snapshot()
		fmt.Fprint(cmd.OutOrStdout(), pipeline.FormatReport(snap.Result))
		return nil
	},
}

// newGatewayClient builds the inference client, rate limited when configured.
func newGatewayClient() anthropic.Client {
	client := anthropic.NewClient(cfg.Anthropic.Key)
	return anthropic.RateLimited(client, cfg.Anthropic.RPS)
}

func pipelineConfig() pipeline.Config {
	return pipeline.Config{
		VisionModel:      cfg.Anthropic.VisionModel,
		ScoringModel:     cfg.Anthropic.ScoringModel,
		OCRMaxTokens:     cfg.Pipeline.OCRMaxTokens,
		ScoringMaxTokens: cfg.Pipeline.ScoringMaxTokens,
	}
}

func init() {
	gradeCmd.Flags().StringVar(&gradeImagePath, "image", "", "path to the answer script image")
	gradeCmd.Flags().StringVar(&gradeMediaType, "media-type", "", "image media type (default: sniffed from content)")
	gradeCmd.Flags().StringVar(&gradeTranscriptPath, "transcript", "", "path to a transcript file (replaces extracted text)")
	gradeCmd.Flags().StringVar(&gradeSubject, "subject", "", "subject of the answer script")
	gradeCmd.Flags().IntVar(&gradeMarks, "marks", model.DefaultTotalMarks, "total marks for the script")
	gradeCmd.Flags().StringVar(&gradeCriteria, "criteria", "", "grading criteria / rubric text")
	gradeCmd.Flags().StringVar(&gradeReferencePath, "reference", "", "path to a reference answer file")
	rootCmd.AddCommand(gradeCmd)
}

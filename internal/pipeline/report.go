package pipeline

import (
	"fmt"
	"strings"

	"github.com/aseas-labs/grader-cli/internal/model"
)

// FormatReport renders an evaluation result as a plain-text report for the
// terminal. Optional sections are omitted when the model returned nothing
// for them.
func FormatReport(result *model.EvaluationResult) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Score:      %d/%d (%d%%)\n", result.OverallScore, result.MaxMarks, result.Percentage)
	fmt.Fprintf(&b, "Grade:      %s\n", result.Grade)
	if result.OCRAccuracy > 0 {
		fmt.Fprintf(&b, "OCR:        %.1f%% estimated accuracy\n", result.OCRAccuracy)
	}
	if result.SemanticSimilarity > 0 {
		fmt.Fprintf(&b, "Similarity: %.2f semantic, %.2f Pearson r\n", result.SemanticSimilarity, result.PearsonCorrelation)
	}

	if result.Feedback != "" {
		fmt.Fprintf(&b, "\nFeedback:\n  %s\n", result.Feedback)
	}

	if len(result.Strengths) > 0 {
		b.WriteString("\nStrengths:\n")
		for _, s := range result.Strengths {
			fmt.Fprintf(&b, "  + %s\n", s)
		}
	}
	if len(result.Improvements) > 0 {
		b.WriteString("\nImprovements:\n")
		for _, s := range result.Improvements {
			fmt.Fprintf(&b, "  - %s\n", s)
		}
	}

	if len(result.QuestionBreakdown) > 0 {
		b.WriteString("\nPer question:\n")
		for _, q := range result.QuestionBreakdown {
			fmt.Fprintf(&b, "  %-4s %d/%d", q.Question, q.Score, q.Max)
			if q.Comment != "" {
				fmt.Fprintf(&b, "  %s", q.Comment)
			}
			b.WriteByte('\n')
		}
	}

	if len(result.RAGContextUsed) > 0 {
		fmt.Fprintf(&b, "\nRubric context used: %s\n", strings.Join(result.RAGContextUsed, ", "))
	}
	if result.RubricAlignment != "" {
		fmt.Fprintf(&b, "Rubric alignment:    %s\n", result.RubricAlignment)
	}

	return b.String()
}

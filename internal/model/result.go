package model

import (
	"encoding/json"
	"math"

	"github.com/rotisserie/eris"
)

// ErrSchemaValidation indicates that a parsed evaluation result is missing a
// required field or violates a schema invariant.
var ErrSchemaValidation = eris.New("model: evaluation result failed schema validation")

// QuestionScore is a per-question line in the score breakdown.
type QuestionScore struct {
	Question string `json:"question"`
	Score    int    `json:"score"`
	Max      int    `json:"max"`
	Comment  string `json:"comment"`
}

// EvaluationResult is the strict output schema of the scoring stage. The
// json tags mirror the upstream model contract. A result is created once per
// successful scoring call and never mutated; a retried run produces a new
// result.
type EvaluationResult struct {
	OverallScore       int             `json:"overallScore"`
	MaxMarks           int             `json:"maxMarks"`
	Percentage         int             `json:"percentage"`
	Grade              string          `json:"grade"`
	OCRAccuracy        float64         `json:"ocrAccuracy"`
	SemanticSimilarity float64         `json:"semanticSimilarity"`
	PearsonCorrelation float64         `json:"pearsonCorrelation"`
	Feedback           string          `json:"feedback"`
	Strengths          []string        `json:"strengths"`
	Improvements       []string        `json:"improvements"`
	QuestionBreakdown  []QuestionScore `json:"questionBreakdown"`
	RAGContextUsed     []string        `json:"ragContextUsed"`
	RubricAlignment    string          `json:"rubricAlignment"`
}

// requiredResultFields must all be present in the raw model output.
var requiredResultFields = []string{
	"overallScore",
	"maxMarks",
	"percentage",
	"grade",
	"feedback",
}

var validGrades = map[string]bool{
	"A+": true, "A": true, "B": true, "C": true, "D": true, "F": true,
}

// GradeFor maps a percentage onto the grade banding:
// A+ ≥90, A 75–89, B 60–74, C 45–59, D 35–44, F <35.
func GradeFor(percentage int) string {
	switch {
	case percentage >= 90:
		return "A+"
	case percentage >= 75:
		return "A"
	case percentage >= 60:
		return "B"
	case percentage >= 45:
		return "C"
	case percentage >= 35:
		return "D"
	default:
		return "F"
	}
}

// ParseEvaluationResult decodes raw model output into an EvaluationResult
// and validates it against the rubric. Any missing required field or
// invariant violation yields ErrSchemaValidation.
func ParseEvaluationResult(raw json.RawMessage, rubric RubricConfig) (*EvaluationResult, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, eris.Wrap(ErrSchemaValidation, "result is not a JSON object")
	}
	for _, key := range requiredResultFields {
		if _, ok := fields[key]; !ok {
			return nil, eris.Wrapf(ErrSchemaValidation, "missing required field %q", key)
		}
	}

	var result EvaluationResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, eris.Wrapf(ErrSchemaValidation, "decode result: %v", err)
	}

	if err := result.Validate(rubric); err != nil {
		return nil, err
	}
	return &result, nil
}

// Validate enforces the schema invariants from the grading contract.
//
// The F grade is a documented exception: the grader may assign F for blank,
// off-topic, or gibberish answers regardless of the numeric banding, so an F
// result only has to keep its numbers in range. Every non-F grade must match
// the banding and the rounded proportional score exactly.
func (r *EvaluationResult) Validate(rubric RubricConfig) error {
	rubric = rubric.Normalize()

	if !validGrades[r.Grade] {
		return eris.Wrapf(ErrSchemaValidation, "unknown grade %q", r.Grade)
	}
	if r.MaxMarks != rubric.TotalMarks {
		return eris.Wrapf(ErrSchemaValidation, "maxMarks %d does not match rubric total %d", r.MaxMarks, rubric.TotalMarks)
	}
	if r.OverallScore < 0 || r.OverallScore > r.MaxMarks {
		return eris.Wrapf(ErrSchemaValidation, "overallScore %d outside 0..%d", r.OverallScore, r.MaxMarks)
	}
	if r.Percentage < 0 || r.Percentage > 100 {
		return eris.Wrapf(ErrSchemaValidation, "percentage %d outside 0..100", r.Percentage)
	}
	if r.SemanticSimilarity < 0 || r.SemanticSimilarity > 1 {
		return eris.Wrapf(ErrSchemaValidation, "semanticSimilarity %f outside 0..1", r.SemanticSimilarity)
	}

	if r.Grade == "F" {
		return nil
	}

	if want := GradeFor(r.Percentage); r.Grade != want {
		return eris.Wrapf(ErrSchemaValidation, "grade %q inconsistent with percentage %d (want %q)", r.Grade, r.Percentage, want)
	}
	if want := int(math.Round(float64(r.Percentage) / 100 * float64(r.MaxMarks))); r.OverallScore != want {
		return eris.Wrapf(ErrSchemaValidation, "overallScore %d inconsistent with percentage %d of %d (want %d)", r.OverallScore, r.Percentage, r.MaxMarks, want)
	}

	return nil
}

package pipeline

import (
	"fmt"

	"github.com/aseas-labs/grader-cli/internal/model"
)

// PromptVersion identifies the prompt template revision in logs.
const PromptVersion = "v1"

// ManualEntryTranscript is the placeholder transcript produced when no image
// was uploaded. It is a valid, non-error outcome of the extraction stage.
const ManualEntryTranscript = "No image uploaded — type or paste the student's answer, then continue."

// transcriptionPrompt is the fixed instruction set for the vision OCR call.
// The rules are strict on purpose: the transcript must be a verbatim record
// of what the student wrote, errors included.
const transcriptionPrompt = `You are a precise OCR engine for handwritten academic answer scripts.

Your ONLY job is to transcribe every word written in this image exactly as written by the student.

Rules:
- Preserve question numbers (Q1, Q2, 1., 2. etc.) exactly as they appear
- Preserve all paragraphs and line breaks
- Transcribe misspellings AS-IS — do not correct spelling or grammar
- For illegible words write [illegible]
- Transcribe mathematical expressions as best you can
- Do NOT add any commentary, do NOT summarize, do NOT add anything not in the image
- Output ONLY the raw transcribed text`

// TranscriptionPrompt returns the instruction text sent alongside the script
// image in the extraction stage.
func TranscriptionPrompt() string {
	return transcriptionPrompt
}

// scoringPolicyPrompt encodes the grading policy. It is constant across runs
// and therefore cache-marked at the gateway.
const scoringPolicyPrompt = `You are an automated answer-script evaluation system. You grade handwritten academic answer scripts using semantic, rubric-constrained evaluation.

GRADING RULES (non-negotiable):
1. Evaluate the SEMANTIC meaning, not just keyword matches. Award marks for correct concepts expressed differently.
2. Award PARTIAL CREDIT generously for partially correct answers.
3. Grade boundary: A+ >=90%, A 75-89%, B 60-74%, C 45-59%, D 35-44%, F <35%.
4. F grade is ONLY for completely blank, entirely off-topic, or gibberish answers.
5. overallScore = round(percentage / 100 * maxMarks) — must be mathematically consistent.
6. If no reference answer provided, grade on general academic quality, depth, and accuracy.
7. Detect all questions in the student answer and distribute marks accordingly.`

// ScoringPolicyPrompt returns the static grading-policy system block.
func ScoringPolicyPrompt() string {
	return scoringPolicyPrompt
}

// ScoringSchemaPrompt returns the per-run system block that pins the output
// format, with the rubric's total marks baked into the schema.
func ScoringSchemaPrompt(totalMarks int) string {
	return fmt.Sprintf(`OUTPUT FORMAT: Return ONLY a raw JSON object. No markdown, no fences, no explanation. Start with { end with }.

{
  "overallScore": <integer>,
  "maxMarks": %d,
  "percentage": <integer 0-100>,
  "grade": <"A+" | "A" | "B" | "C" | "D" | "F">,
  "ocrAccuracy": <float 94.0-97.0>,
  "semanticSimilarity": <float 0.0-1.0>,
  "pearsonCorrelation": <float 0.82-0.93>,
  "feedback": "<2-3 sentences of specific, constructive feedback about this particular answer>",
  "strengths": ["<specific strength from the actual answer>", "<specific strength>"],
  "improvements": ["<specific improvement for this answer>", "<specific improvement>"],
  "questionBreakdown": [
    {"question": "Q1", "score": <int>, "max": <int>, "comment": "<specific comment about Q1>"}
  ],
  "ragContextUsed": ["<key concept retrieved from reference/rubric>", "<another concept>"],
  "rubricAlignment": "<one sentence on how the answer aligns with the rubric>"
}`, totalMarks)
}

// ScoringUserPrompt builds the user turn for the scoring call from the
// rubric and the transcript, with explicit fallbacks for optional fields.
func ScoringUserPrompt(rubric model.RubricConfig, transcript string) string {
	rubric = rubric.Normalize()

	subject := rubric.Subject
	if subject == "" {
		subject = "General"
	}
	criteria := rubric.Criteria
	if criteria == "" {
		criteria = "General academic quality — accuracy, depth, clarity, examples"
	}
	reference := rubric.ReferenceAnswer
	if reference == "" {
		reference = "None provided — use general academic judgment to evaluate"
	}

	return fmt.Sprintf(`SUBJECT: %s
TOTAL MARKS: %d
RUBRIC / CRITERIA: %s
REFERENCE / MODEL ANSWER: %s

STUDENT ANSWER (OCR extracted):
%s

Grade this student answer now. Be fair and accurate.`,
		subject, rubric.TotalMarks, criteria, reference, transcript)
}

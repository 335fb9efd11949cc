package model

// DefaultTotalMarks is used when the caller supplies no usable total.
const DefaultTotalMarks = 10

// RubricConfig holds the user-supplied grading parameters for one run.
// It is editable until a scoring call is issued, and editable again if the
// run returns to rubric setup after a scoring failure.
type RubricConfig struct {
	Subject         string `json:"subject"`
	TotalMarks      int    `json:"total_marks"`
	ReferenceAnswer string `json:"reference_answer,omitempty"`
	Criteria        string `json:"criteria,omitempty"`
}

// Normalize coerces TotalMarks to a positive integer, falling back to
// DefaultTotalMarks when absent or invalid.
func (r RubricConfig) Normalize() RubricConfig {
	if r.TotalMarks <= 0 {
		r.TotalMarks = DefaultTotalMarks
	}
	return r
}

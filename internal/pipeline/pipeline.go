// Package pipeline drives a single answer script through the fixed stage
// sequence Upload → Extraction → RubricSetup → Scoring → Results, serializing
// the two external LLM calls and keeping every failure path on a well-defined
// stage with prior data intact.
package pipeline

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aseas-labs/grader-cli/internal/model"
	"github.com/aseas-labs/grader-cli/pkg/anthropic"
)

// Config carries the pipeline's model and token-budget settings.
type Config struct {
	VisionModel      string
	ScoringModel     string
	OCRMaxTokens     int64
	ScoringMaxTokens int64
}

const (
	defaultModel            = "claude-sonnet-4-5-20250929"
	defaultOCRMaxTokens     = 3000
	defaultScoringMaxTokens = 2000
)

func (c Config) withDefaults() Config {
	if c.VisionModel == "" {
		c.VisionModel = defaultModel
	}
	if c.ScoringModel == "" {
		c.ScoringModel = defaultModel
	}
	// Handwriting transcripts can be long; never go below the OCR floor.
	if c.OCRMaxTokens < defaultOCRMaxTokens {
		c.OCRMaxTokens = defaultOCRMaxTokens
	}
	if c.ScoringMaxTokens <= 0 {
		c.ScoringMaxTokens = defaultScoringMaxTokens
	}
	return c
}

// Snapshot is a pure value describing the run at one moment: current stage,
// run data, and advisory status. It carries no rendering concerns; any
// presentation layer can react to it.
type Snapshot struct {
	RunID       string                  `json:"run_id"`
	Stage       model.Stage             `json:"-"`
	StageName   string                  `json:"stage"`
	Status      string                  `json:"status,omitempty"`
	Progress    int                     `json:"progress"`
	Error       string                  `json:"error,omitempty"`
	HasArtifact bool                    `json:"has_artifact"`
	MediaType   string                  `json:"media_type,omitempty"`
	Transcript  string                  `json:"transcript,omitempty"`
	Rubric      model.RubricConfig      `json:"rubric"`
	Result      *model.EvaluationResult `json:"result,omitempty"`
}

// Observer receives a snapshot after every state transition.
type Observer func(Snapshot)

// Orchestrator owns one run. Create a new Orchestrator per run; runs never
// share state. All mutation happens under the mutex, and every gateway
// attempt claims a fresh sequence number, so a response arriving after a
// reset, a back-navigation, or a newer attempt is discarded instead of
// mutating newer state.
type Orchestrator struct {
	client anthropic.Client
	cfg    Config

	mu         sync.Mutex
	runID      string
	stage      model.Stage
	artifact   *model.ScriptArtifact
	transcript string
	rubric     model.RubricConfig
	result     *model.EvaluationResult
	status     string
	progress   int
	lastErr    error
	seq        uint64
	observers  []Observer
}

// New creates an orchestrator for a fresh run at the Upload stage.
func New(client anthropic.Client, cfg Config) *Orchestrator {
	return &Orchestrator{
		client: client,
		cfg:    cfg.withDefaults(),
		runID:  uuid.NewString(),
		stage:  model.StageUpload,
		rubric: model.RubricConfig{TotalMarks: model.DefaultTotalMarks},
	}
}

// ID returns the run identifier.
func (o *Orchestrator) ID() string {
	return o.runID
}

// Subscribe registers an observer for state transitions. Observers are
// invoked outside the orchestrator lock.
func (o *Orchestrator) Subscribe(fn Observer) {
	o.mu.Lock()
	o.observers = append(o.observers, fn)
	o.mu.Unlock()
}

// Snapshot returns the current run state.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

func (o *Orchestrator) snapshotLocked() Snapshot {
	snap := Snapshot{
		RunID:      o.runID,
		Stage:      o.stage,
		StageName:  o.stage.String(),
		Status:     o.status,
		Progress:   o.progress,
		Transcript: o.transcript,
		Rubric:     o.rubric,
	}
	if o.lastErr != nil {
		snap.Error = o.lastErr.Error()
	}
	if o.artifact != nil {
		snap.HasArtifact = true
		snap.MediaType = o.artifact.MediaType
	}
	if o.result != nil {
		resultCopy := *o.result
		snap.Result = &resultCopy
	}
	return snap
}

// notify calls every observer with the given snapshot, outside the lock.
func (o *Orchestrator) notify(snap Snapshot, observers []Observer) {
	for _, fn := range observers {
		fn(snap)
	}
}

// mutate runs fn under the lock and notifies observers afterwards.
func (o *Orchestrator) mutate(fn func()) {
	o.mu.Lock()
	fn()
	snap := o.snapshotLocked()
	observers := o.observers
	o.mu.Unlock()
	o.notify(snap, observers)
}

// apply runs fn only if the attempt sequence still matches, i.e. the run has
// not been reset, navigated away from, or superseded by a newer attempt
// since this attempt began. A stale attempt is logged and discarded without
// touching orchestrator state.
func (o *Orchestrator) apply(seq uint64, fn func()) bool {
	o.mu.Lock()
	if seq != o.seq {
		o.mu.Unlock()
		zap.L().Debug("pipeline: discarding stale response",
			zap.String("run_id", o.runID),
			zap.Uint64("attempt_seq", seq),
		)
		return false
	}
	fn()
	snap := o.snapshotLocked()
	observers := o.observers
	o.mu.Unlock()
	o.notify(snap, observers)
	return true
}

// advance updates the advisory status and progress for a live attempt.
// Progress is monotonically non-decreasing within an attempt.
func (o *Orchestrator) advance(seq uint64, status string, progress int) {
	o.apply(seq, func() {
		o.status = status
		if progress > o.progress {
			o.progress = progress
		}
	})
}

// UploadArtifact stores the script image for this run. Upload stage only.
func (o *Orchestrator) UploadArtifact(data []byte, mediaType string) error {
	var err error
	o.mutate(func() {
		if o.stage != model.StageUpload {
			err = ErrInvalidTransition
			return
		}
		o.artifact = &model.ScriptArtifact{Data: data, MediaType: mediaType}
		o.lastErr = nil
	})
	return err
}

// StartExtraction runs the extraction stage. Valid from Upload (first
// attempt) or Extraction (user-triggered retry after a failure).
//
// Outcomes follow the transition table: unsupported media retreats to
// Upload; transport or empty-output failures keep the run in Extraction for
// a retry; success leaves the transcript editable in Extraction until the
// user continues. The call blocks at the gateway boundary; a reset, a
// back-navigation, or a newer attempt issued meanwhile makes the eventual
// response a no-op, so at most one attempt per run can land.
func (o *Orchestrator) StartExtraction(ctx context.Context) error {
	var (
		seq      uint64
		artifact *model.ScriptArtifact
		guardErr error
	)
	o.mutate(func() {
		if o.stage != model.StageUpload && o.stage != model.StageExtraction {
			guardErr = ErrInvalidTransition
			return
		}
		o.stage = model.StageExtraction
		o.lastErr = nil
		o.progress = 0
		o.status = "Preprocessing image"
		// Claiming a new sequence number supersedes any attempt still in
		// flight; its eventual response will no longer match.
		o.seq++
		seq = o.seq
		artifact = o.artifact
	})
	if guardErr != nil {
		return guardErr
	}

	if artifact == nil {
		o.apply(seq, func() {
			o.transcript = ManualEntryTranscript
			o.status = "Manual entry required"
			o.progress = 100
		})
		return nil
	}

	o.advance(seq, "Extracting handwriting with the vision model", 10)

	transcript, err := ExtractTranscript(ctx, artifact, o.client, o.cfg)
	if err != nil {
		o.apply(seq, func() {
			o.lastErr = err
			o.progress = 0
			o.status = ""
			// The only automatic stage retreat triggered by validation:
			// unsupported media returns the run to Upload.
			if errors.Is(err, ErrUnsupportedMedia) {
				o.stage = model.StageUpload
			}
		})
		return err
	}

	o.apply(seq, func() {
		o.transcript = transcript
		o.status = "Text extracted — edit if needed before grading"
		o.progress = 100
	})
	return nil
}

// SetTranscript replaces the transcript. Allowed while the run sits in
// Extraction or RubricSetup; the transcript is frozen once scoring starts.
func (o *Orchestrator) SetTranscript(transcript string) error {
	var err error
	o.mutate(func() {
		if o.stage != model.StageExtraction && o.stage != model.StageRubricSetup {
			err = ErrInvalidTransition
			return
		}
		o.transcript = transcript
	})
	return err
}

// ContinueToRubric moves from Extraction to RubricSetup. User-triggered;
// guarded on a non-empty transcript.
func (o *Orchestrator) ContinueToRubric() error {
	var err error
	o.mutate(func() {
		if o.stage != model.StageExtraction {
			err = ErrInvalidTransition
			return
		}
		if isBlank(o.transcript) {
			err = ErrEmptyTranscript
			return
		}
		o.stage = model.StageRubricSetup
		o.lastErr = nil
		o.status = ""
		o.progress = 0
	})
	return err
}

// SetRubric stores the rubric configuration. RubricSetup only; a scoring
// failure returns the run here, where the rubric becomes editable again.
func (o *Orchestrator) SetRubric(rubric model.RubricConfig) error {
	var err error
	o.mutate(func() {
		if o.stage != model.StageRubricSetup {
			err = ErrInvalidTransition
			return
		}
		o.rubric = rubric.Normalize()
	})
	return err
}

// Evaluate runs the scoring stage. Valid from RubricSetup with a non-empty
// transcript. On success the run enters Results with an immutable
// EvaluationResult; on any failure it returns to RubricSetup with the
// transcript and rubric preserved.
func (o *Orchestrator) Evaluate(ctx context.Context) error {
	var (
		seq        uint64
		transcript string
		rubric     model.RubricConfig
		guardErr   error
	)
	o.mutate(func() {
		if o.stage != model.StageRubricSetup {
			guardErr = ErrInvalidTransition
			return
		}
		if isBlank(o.transcript) {
			guardErr = ErrEmptyTranscript
			o.lastErr = ErrEmptyTranscript
			return
		}
		o.stage = model.StageScoring
		o.lastErr = nil
		o.progress = 0
		o.status = "Generating semantic embeddings"
		o.seq++
		seq = o.seq
		transcript = o.transcript
		rubric = o.rubric
	})
	if guardErr != nil {
		return guardErr
	}

	o.advance(seq, "Retrieving rubric context", 25)
	o.advance(seq, "Running rubric-constrained scoring", 50)

	result, err := ScoreTranscript(ctx, transcript, rubric, o.client, o.cfg)
	if err != nil {
		o.apply(seq, func() {
			// Every scoring failure retreats to RubricSetup, never Upload;
			// transcript and rubric stay intact for the retry.
			o.stage = model.StageRubricSetup
			o.lastErr = err
			o.status = ""
			o.progress = 0
		})
		return err
	}

	o.apply(seq, func() {
		o.result = result
		o.stage = model.StageResults
		o.status = "Evaluation complete"
		o.progress = 100
	})
	return nil
}

// Back performs user-initiated navigation to an earlier stage. Always
// permitted; forward-stage data already collected is kept (a stored result
// survives until reset). An in-flight gateway call is abandoned: its
// response will no longer match the run sequence.
func (o *Orchestrator) Back(target model.Stage) error {
	var err error
	o.mutate(func() {
		if !target.Before(o.stage) {
			err = ErrInvalidTransition
			return
		}
		o.seq++
		o.stage = target
		o.lastErr = nil
		o.status = ""
		o.progress = 0
	})
	return err
}

// Reset discards all run data and returns to Upload. An in-flight gateway
// call is abandoned the same way as for Back.
func (o *Orchestrator) Reset() {
	o.mutate(func() {
		o.seq++
		o.stage = model.StageUpload
		o.artifact = nil
		o.transcript = ""
		o.rubric = model.RubricConfig{TotalMarks: model.DefaultTotalMarks}
		o.result = nil
		o.lastErr = nil
		o.status = ""
		o.progress = 0
	})
}

func isBlank(s string) bool {
	for _, r := range s {
		if r != ' ' && r != '\t' && r != '\n' && r != '\r' {
			return false
		}
	}
	return true
}

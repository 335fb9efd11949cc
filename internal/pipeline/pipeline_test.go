package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/aseas-labs/grader-cli/internal/llmjson"
	"github.com/aseas-labs/grader-cli/internal/model"
	"github.com/rotisserie/eris"
)

func TestOrchestrator_FullRun(t *testing.T) {
	client := new(mockGatewayClient)
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse("Q1. The mitochondria is the powerhouse of the cell."), nil).Once()
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse(`{
			"overallScore": 7, "maxMarks": 10, "percentage": 70, "grade": "B",
			"feedback": "Correct core concept, limited depth."
		}`), nil).Once()

	o := New(client, Config{})
	require.NotEmpty(t, o.ID())
	assert.Equal(t, model.StageUpload, o.Snapshot().Stage)

	require.NoError(t, o.UploadArtifact([]byte{0xff, 0xd8, 0xff}, "image/jpeg"))
	require.NoError(t, o.StartExtraction(context.Background()))

	snap := o.Snapshot()
	assert.Equal(t, model.StageExtraction, snap.Stage)
	assert.Contains(t, snap.Transcript, "mitochondria")
	assert.Equal(t, 100, snap.Progress)

	require.NoError(t, o.ContinueToRubric())
	require.NoError(t, o.SetRubric(model.RubricConfig{Subject: "Biology", TotalMarks: 10}))
	require.NoError(t, o.Evaluate(context.Background()))

	snap = o.Snapshot()
	assert.Equal(t, model.StageResults, snap.Stage)
	require.NotNil(t, snap.Result)
	assert.Equal(t, 7, snap.Result.OverallScore)
	assert.Equal(t, "B", snap.Result.Grade)
	client.AssertExpectations(t)
}

func TestOrchestrator_UnsupportedMediaRetreatsToUpload(t *testing.T) {
	client := new(mockGatewayClient)

	o := New(client, Config{})
	require.NoError(t, o.UploadArtifact([]byte("%PDF-1.7"), "application/pdf"))

	err := o.StartExtraction(context.Background())
	assert.ErrorIs(t, err, ErrUnsupportedMedia)

	snap := o.Snapshot()
	assert.Equal(t, model.StageUpload, snap.Stage)
	assert.True(t, snap.HasArtifact)
	client.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
}

func TestOrchestrator_ExtractionFailureAllowsRetry(t *testing.T) {
	client := new(mockGatewayClient)
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(nil, eris.New("timeout")).Once()
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse("recovered transcript"), nil).Once()

	o := New(client, Config{})
	require.NoError(t, o.UploadArtifact([]byte{0xff, 0xd8}, "image/jpeg"))

	err := o.StartExtraction(context.Background())
	require.Error(t, err)
	assert.True(t, IsGatewayError(err))
	assert.Equal(t, model.StageExtraction, o.Snapshot().Stage)

	require.NoError(t, o.StartExtraction(context.Background()))
	assert.Equal(t, "recovered transcript", o.Snapshot().Transcript)
	client.AssertExpectations(t)
}

func TestOrchestrator_ManualEntryWithoutUpload(t *testing.T) {
	client := new(mockGatewayClient)

	o := New(client, Config{})
	require.NoError(t, o.StartExtraction(context.Background()))

	snap := o.Snapshot()
	assert.Equal(t, model.StageExtraction, snap.Stage)
	assert.Equal(t, ManualEntryTranscript, snap.Transcript)
	client.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)

	require.NoError(t, o.SetTranscript("typed by the examiner"))
	require.NoError(t, o.ContinueToRubric())
	assert.Equal(t, model.StageRubricSetup, o.Snapshot().Stage)
}

func TestOrchestrator_ContinueRequiresTranscript(t *testing.T) {
	o := New(new(mockGatewayClient), Config{})
	require.NoError(t, o.StartExtraction(context.Background()))
	require.NoError(t, o.SetTranscript("   \n"))

	assert.ErrorIs(t, o.ContinueToRubric(), ErrEmptyTranscript)
	assert.Equal(t, model.StageExtraction, o.Snapshot().Stage)
}

func TestOrchestrator_ScoringFailureReturnsToRubricSetup(t *testing.T) {
	client := new(mockGatewayClient)
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse("Sorry, I cannot produce JSON today."), nil)

	o := New(client, Config{})
	require.NoError(t, o.StartExtraction(context.Background()))
	require.NoError(t, o.SetTranscript("a full answer"))
	require.NoError(t, o.ContinueToRubric())
	rubric := model.RubricConfig{Subject: "History", TotalMarks: 20, Criteria: "Chronology"}
	require.NoError(t, o.SetRubric(rubric))

	err := o.Evaluate(context.Background())
	assert.ErrorIs(t, err, llmjson.ErrMalformedOutput)

	// Failure lands back on rubric setup with everything intact for a retry.
	snap := o.Snapshot()
	assert.Equal(t, model.StageRubricSetup, snap.Stage)
	assert.Equal(t, "a full answer", snap.Transcript)
	assert.Equal(t, rubric, snap.Rubric)
	assert.Nil(t, snap.Result)
	assert.NotEmpty(t, snap.Error)
}

func TestOrchestrator_GuardsRejectOutOfStageTriggers(t *testing.T) {
	o := New(new(mockGatewayClient), Config{})

	assert.ErrorIs(t, o.ContinueToRubric(), ErrInvalidTransition)
	assert.ErrorIs(t, o.SetRubric(model.RubricConfig{}), ErrInvalidTransition)
	assert.ErrorIs(t, o.Evaluate(context.Background()), ErrInvalidTransition)
	assert.ErrorIs(t, o.SetTranscript("x"), ErrInvalidTransition)
	assert.ErrorIs(t, o.Back(model.StageUpload), ErrInvalidTransition)

	// Upload is rejected once the run has moved past the upload stage.
	require.NoError(t, o.StartExtraction(context.Background()))
	assert.ErrorIs(t, o.UploadArtifact(nil, "image/png"), ErrInvalidTransition)
}

func TestOrchestrator_BackKeepsDataAndResult(t *testing.T) {
	client := new(mockGatewayClient)
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse(`{"overallScore": 9, "maxMarks": 10, "percentage": 90, "grade": "A+", "feedback": "Excellent."}`), nil)

	o := New(client, Config{})
	require.NoError(t, o.StartExtraction(context.Background()))
	require.NoError(t, o.SetTranscript("an answer"))
	require.NoError(t, o.ContinueToRubric())
	require.NoError(t, o.Evaluate(context.Background()))
	require.Equal(t, model.StageResults, o.Snapshot().Stage)

	require.NoError(t, o.Back(model.StageRubricSetup))

	snap := o.Snapshot()
	assert.Equal(t, model.StageRubricSetup, snap.Stage)
	assert.Equal(t, "an answer", snap.Transcript)
	assert.NotNil(t, snap.Result)

	// Forward navigation via Back is not a thing.
	assert.ErrorIs(t, o.Back(model.StageResults), ErrInvalidTransition)
}

func TestOrchestrator_ResetClearsEverything(t *testing.T) {
	client := new(mockGatewayClient)
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse("a transcript"), nil)

	o := New(client, Config{})
	require.NoError(t, o.UploadArtifact([]byte{1}, "image/png"))
	require.NoError(t, o.StartExtraction(context.Background()))

	o.Reset()

	snap := o.Snapshot()
	assert.Equal(t, model.StageUpload, snap.Stage)
	assert.False(t, snap.HasArtifact)
	assert.Empty(t, snap.Transcript)
	assert.Equal(t, model.DefaultTotalMarks, snap.Rubric.TotalMarks)
	assert.Nil(t, snap.Result)
}

func TestOrchestrator_StaleExtractionResponseIsDiscarded(t *testing.T) {
	client := newBlockingClient(textResponse("late transcript"), nil)

	o := New(client, Config{})
	require.NoError(t, o.UploadArtifact([]byte{0xff, 0xd8}, "image/jpeg"))

	done := make(chan error, 1)
	go func() {
		done <- o.StartExtraction(context.Background())
	}()

	// Wait for the gateway call to be in flight, then reset the run.
	select {
	case <-client.entered:
	case <-time.After(time.Second):
		t.Fatal("gateway call never started")
	}
	o.Reset()
	close(client.release)

	require.NoError(t, <-done)

	// The late response must not leak into the reset run.
	snap := o.Snapshot()
	assert.Equal(t, model.StageUpload, snap.Stage)
	assert.Empty(t, snap.Transcript)
}

func TestOrchestrator_RetryAttemptSupersedesInFlightExtraction(t *testing.T) {
	client := newFirstCallBlockingClient(
		textResponse("transcript from the abandoned attempt"),
		textResponse("fresh transcript"),
	)

	o := New(client, Config{})
	require.NoError(t, o.UploadArtifact([]byte{0xff, 0xd8}, "image/jpeg"))

	done := make(chan error, 1)
	go func() {
		done <- o.StartExtraction(context.Background())
	}()

	select {
	case <-client.entered:
	case <-time.After(time.Second):
		t.Fatal("gateway call never started")
	}

	// Retry while the first attempt is still at the gateway. The retry
	// completes immediately; the first attempt's late response must not
	// overwrite it.
	require.NoError(t, o.StartExtraction(context.Background()))
	assert.Equal(t, "fresh transcript", o.Snapshot().Transcript)

	close(client.release)
	require.NoError(t, <-done)

	snap := o.Snapshot()
	assert.Equal(t, model.StageExtraction, snap.Stage)
	assert.Equal(t, "fresh transcript", snap.Transcript)
}

func TestOrchestrator_StaleScoringResponseIsDiscarded(t *testing.T) {
	client := newBlockingClient(
		textResponse(`{"overallScore": 5, "maxMarks": 10, "percentage": 50, "grade": "C", "feedback": "ok"}`), nil)

	o := New(client, Config{})
	o.mu.Lock()
	o.stage = model.StageRubricSetup
	o.transcript = "an answer"
	o.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		done <- o.Evaluate(context.Background())
	}()

	select {
	case <-client.entered:
	case <-time.After(time.Second):
		t.Fatal("gateway call never started")
	}
	require.NoError(t, o.Back(model.StageUpload))
	close(client.release)

	require.NoError(t, <-done)

	snap := o.Snapshot()
	assert.Equal(t, model.StageUpload, snap.Stage)
	assert.Nil(t, snap.Result)
}

func TestOrchestrator_ObserversSeeTransitions(t *testing.T) {
	o := New(new(mockGatewayClient), Config{})

	var stages []model.Stage
	o.Subscribe(func(snap Snapshot) {
		stages = append(stages, snap.Stage)
	})

	require.NoError(t, o.StartExtraction(context.Background()))
	require.NoError(t, o.ContinueToRubric())

	require.NotEmpty(t, stages)
	assert.Equal(t, model.StageRubricSetup, stages[len(stages)-1])
}

func TestConfig_Defaults(t *testing.T) {
	cfg := Config{}.withDefaults()

	assert.Equal(t, defaultModel, cfg.VisionModel)
	assert.Equal(t, defaultModel, cfg.ScoringModel)
	assert.Equal(t, int64(defaultOCRMaxTokens), cfg.OCRMaxTokens)
	assert.Equal(t, int64(defaultScoringMaxTokens), cfg.ScoringMaxTokens)

	custom := Config{VisionModel: "claude-opus-4-1", OCRMaxTokens: 8000}.withDefaults()
	assert.Equal(t, "claude-opus-4-1", custom.VisionModel)
	assert.Equal(t, int64(8000), custom.OCRMaxTokens)
}

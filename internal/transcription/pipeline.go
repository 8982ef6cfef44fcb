package transcription

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Systemsaholic/call-helm-sub003/internal/calls"
	"github.com/Systemsaholic/call-helm-sub003/internal/observability/metrics"
	"github.com/Systemsaholic/call-helm-sub003/pkg/logging"
)

const (
	transcriptionProcessing = "processing"
	transcriptionCompleted  = "completed"
	transcriptionFailed     = "failed"
)

type callStore interface {
	GetAttempt(ctx context.Context, attemptID uuid.UUID) (calls.Attempt, error)
	SetTranscription(ctx context.Context, attemptID uuid.UUID, status, transcript string) error
}

type analysisDispatcher interface {
	Dispatch(attemptID uuid.UUID, transcript string)
}

type transcriptArchiver interface {
	Store(ctx context.Context, orgID, attemptID uuid.UUID, provider, recordingURL string, t Transcript) error
}

// PipelineConfig holds dependencies for the transcription pipeline.
type PipelineConfig struct {
	Provider Provider
	Store    callStore
	Archive  transcriptArchiver
	Analysis analysisDispatcher
	Metrics  *metrics.WebhookMetrics
	Logger   *logging.Logger
}

// Pipeline runs a recording through the configured speech-to-text provider
// and writes the outcome back to the call attempt.
type Pipeline struct {
	provider Provider
	store    callStore
	archive  transcriptArchiver
	analysis analysisDispatcher
	metrics  *metrics.WebhookMetrics
	logger   *logging.Logger
}

func NewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &Pipeline{
		provider: cfg.Provider,
		store:    cfg.Store,
		archive:  cfg.Archive,
		analysis: cfg.Analysis,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
	}
}

// Process transcribes one call recording. The attempt is marked processing
// up front, then completed or failed depending on the provider outcome. The
// downstream analysis trigger and the archive write are both best effort; a
// lost trigger does not fail the pipeline.
func (p *Pipeline) Process(ctx context.Context, attemptID uuid.UUID, recordingURL string) (Transcript, error) {
	attempt, err := p.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return Transcript{}, err
	}
	if recordingURL == "" {
		recordingURL = attempt.RecordingURL
	}

	if err := p.store.SetTranscription(ctx, attemptID, transcriptionProcessing, ""); err != nil {
		return Transcript{}, err
	}

	start := time.Now()
	transcript, err := p.provider.Transcribe(ctx, recordingURL)
	if err != nil {
		p.metrics.ObserveTranscription(p.provider.Name(), transcriptionFailed)
		if storeErr := p.store.SetTranscription(ctx, attemptID, transcriptionFailed, ""); storeErr != nil {
			p.logger.Error("transcription: failed status write failed", "error", storeErr, "attempt_id", attemptID)
		}
		return Transcript{}, err
	}

	formatted := FormatWithSpeakers(transcript)
	if err := p.store.SetTranscription(ctx, attemptID, transcriptionCompleted, formatted); err != nil {
		return Transcript{}, err
	}

	p.metrics.ObserveTranscription(p.provider.Name(), transcriptionCompleted)
	p.logger.Info("transcription completed",
		"attempt_id", attemptID,
		"provider", p.provider.Name(),
		"segments", len(transcript.Segments),
		"elapsed", time.Since(start))

	if p.archive != nil {
		if err := p.archive.Store(ctx, attempt.OrganizationID, attemptID, p.provider.Name(), recordingURL, transcript); err != nil {
			p.logger.Warn("transcription: archive failed", "error", err, "attempt_id", attemptID)
		}
	}

	if p.analysis != nil {
		p.analysis.Dispatch(attemptID, formatted)
	}
	return transcript, nil
}

package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Systemsaholic/call-helm-sub003/pkg/logging"
)

const (
	assemblyAIBaseURL = "https://api.assemblyai.com"

	defaultPollInterval = 5 * time.Second
	defaultMaxPolls     = 120
)

// AssemblyAIClient transcribes recordings via AssemblyAI's async API. The
// job is submitted and then polled until it reaches a terminal status, which
// can hold the caller for several minutes on long recordings.
type AssemblyAIClient struct {
	apiKey       string
	baseURL      string
	httpClient   *http.Client
	pollInterval time.Duration
	maxPolls     int
	logger       *logging.Logger
}

// AssemblyAIConfig holds construction options for the AssemblyAI client.
type AssemblyAIConfig struct {
	APIKey       string
	BaseURL      string
	HTTPClient   *http.Client
	PollInterval time.Duration
	MaxPolls     int
	Logger       *logging.Logger
}

func NewAssemblyAIClient(cfg AssemblyAIConfig) (*AssemblyAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("transcription: assemblyai api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = assemblyAIBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.MaxPolls <= 0 {
		cfg.MaxPolls = defaultMaxPolls
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &AssemblyAIClient{
		apiKey:       cfg.APIKey,
		baseURL:      cfg.BaseURL,
		httpClient:   cfg.HTTPClient,
		pollInterval: cfg.PollInterval,
		maxPolls:     cfg.MaxPolls,
		logger:       cfg.Logger,
	}, nil
}

func (c *AssemblyAIClient) Name() string { return "assemblyai" }

type assemblyAIJob struct {
	ID         string  `json:"id"`
	Status     string  `json:"status"`
	Text       string  `json:"text"`
	Error      string  `json:"error"`
	Utterances []struct {
		Speaker string  `json:"speaker"`
		Text    string  `json:"text"`
		Start   float64 `json:"start"`
		End     float64 `json:"end"`
	} `json:"utterances"`
}

// Transcribe submits the recording URL and polls until the job completes.
func (c *AssemblyAIClient) Transcribe(ctx context.Context, recordingURL string) (Transcript, error) {
	payload, _ := json.Marshal(map[string]any{
		"audio_url":      recordingURL,
		"speaker_labels": true,
	})

	job, err := c.doJSON(ctx, http.MethodPost, "/v2/transcript", bytes.NewReader(payload))
	if err != nil {
		return Transcript{}, err
	}
	if job.ID == "" {
		return Transcript{}, fmt.Errorf("transcription: assemblyai returned no job id")
	}

	for attempt := 0; attempt < c.maxPolls; attempt++ {
		select {
		case <-ctx.Done():
			return Transcript{}, ctx.Err()
		case <-time.After(c.pollInterval):
		}

		job, err = c.doJSON(ctx, http.MethodGet, "/v2/transcript/"+job.ID, nil)
		if err != nil {
			return Transcript{}, err
		}

		switch job.Status {
		case "completed":
			return c.toTranscript(job), nil
		case "error":
			return Transcript{}, fmt.Errorf("transcription: assemblyai job failed: %s", job.Error)
		}
		c.logger.Debug("assemblyai job pending", "job_id", job.ID, "status", job.Status, "attempt", attempt+1)
	}
	return Transcript{}, fmt.Errorf("transcription: assemblyai job %s timed out after %d polls", job.ID, c.maxPolls)
}

func (c *AssemblyAIClient) toTranscript(job *assemblyAIJob) Transcript {
	t := Transcript{Text: job.Text}
	for _, u := range job.Utterances {
		speaker := speakerAgent
		if u.Speaker != "A" {
			speaker = speakerCustomer
		}
		t.Segments = append(t.Segments, Segment{
			Speaker: speaker,
			Text:    u.Text,
			Start:   u.Start / 1000,
			End:     u.End / 1000,
		})
	}
	return t
}

func (c *AssemblyAIClient) doJSON(ctx context.Context, method, path string, body io.Reader) (*assemblyAIJob, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("transcription: build request: %w", err)
	}
	req.Header.Set("Authorization", c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transcription: assemblyai request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("transcription: read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("transcription: assemblyai returned %d: %s", resp.StatusCode, truncateBody(respBody))
	}

	var job assemblyAIJob
	if err := json.Unmarshal(respBody, &job); err != nil {
		return nil, fmt.Errorf("transcription: decode response: %w", err)
	}
	return &job, nil
}

func truncateBody(b []byte) string {
	const max = 256
	if len(b) <= max {
		return string(b)
	}
	return string(b[:max]) + "..."
}

var _ Provider = (*AssemblyAIClient)(nil)

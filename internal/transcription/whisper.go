package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/Systemsaholic/call-helm-sub003/pkg/logging"
)

const openAIBaseURL = "https://api.openai.com"

const maxRecordingBytes = 25 << 20

// WhisperClient transcribes recordings through OpenAI's Whisper API. Whisper
// does not diarize, so speaker labels come from the timing heuristic in
// AssignSpeakers.
type WhisperClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

// WhisperConfig holds construction options for the Whisper client.
type WhisperConfig struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
	Logger     *logging.Logger
}

func NewWhisperClient(cfg WhisperConfig) (*WhisperClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("transcription: openai api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = openAIBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 5 * time.Minute}
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &WhisperClient{
		apiKey:     cfg.APIKey,
		baseURL:    cfg.BaseURL,
		httpClient: cfg.HTTPClient,
		logger:     cfg.Logger,
	}, nil
}

func (c *WhisperClient) Name() string { return "whisper" }

type whisperResponse struct {
	Text     string `json:"text"`
	Segments []struct {
		Text  string  `json:"text"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
	} `json:"segments"`
}

// Transcribe downloads the recording, uploads it as multipart form data and
// applies heuristic diarization to the returned segments.
func (c *WhisperClient) Transcribe(ctx context.Context, recordingURL string) (Transcript, error) {
	audio, err := c.fetchRecording(ctx, recordingURL)
	if err != nil {
		return Transcript{}, err
	}

	var form bytes.Buffer
	writer := multipart.NewWriter(&form)
	part, err := writer.CreateFormFile("file", "recording.mp3")
	if err != nil {
		return Transcript{}, fmt.Errorf("transcription: build form: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return Transcript{}, fmt.Errorf("transcription: write form: %w", err)
	}
	writer.WriteField("model", "whisper-1")
	writer.WriteField("response_format", "verbose_json")
	if err := writer.Close(); err != nil {
		return Transcript{}, fmt.Errorf("transcription: close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/audio/transcriptions", &form)
	if err != nil {
		return Transcript{}, fmt.Errorf("transcription: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Transcript{}, fmt.Errorf("transcription: whisper request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return Transcript{}, fmt.Errorf("transcription: read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return Transcript{}, fmt.Errorf("transcription: whisper returned %d: %s", resp.StatusCode, truncateBody(body))
	}

	var wr whisperResponse
	if err := json.Unmarshal(body, &wr); err != nil {
		return Transcript{}, fmt.Errorf("transcription: decode response: %w", err)
	}

	t := Transcript{Text: wr.Text}
	for _, s := range wr.Segments {
		t.Segments = append(t.Segments, Segment{Text: s.Text, Start: s.Start, End: s.End})
	}
	t.Segments = AssignSpeakers(t.Segments)
	return t, nil
}

func (c *WhisperClient) fetchRecording(ctx context.Context, recordingURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, recordingURL, nil)
	if err != nil {
		return nil, fmt.Errorf("transcription: build recording request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transcription: fetch recording: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("transcription: recording fetch returned %d", resp.StatusCode)
	}
	audio, err := io.ReadAll(io.LimitReader(resp.Body, maxRecordingBytes))
	if err != nil {
		return nil, fmt.Errorf("transcription: read recording: %w", err)
	}
	return audio, nil
}

var _ Provider = (*WhisperClient)(nil)

package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Systemsaholic/call-helm-sub003/pkg/logging"
)

const deepgramBaseURL = "https://api.deepgram.com"

// DeepgramClient transcribes recordings in a single synchronous request.
// Deepgram diarizes natively, so no heuristic speaker pass is needed.
type DeepgramClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

// DeepgramConfig holds construction options for the Deepgram client.
type DeepgramConfig struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
	Logger     *logging.Logger
}

func NewDeepgramClient(cfg DeepgramConfig) (*DeepgramClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("transcription: deepgram api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = deepgramBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 5 * time.Minute}
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &DeepgramClient{
		apiKey:     cfg.APIKey,
		baseURL:    cfg.BaseURL,
		httpClient: cfg.HTTPClient,
		logger:     cfg.Logger,
	}, nil
}

func (c *DeepgramClient) Name() string { return "deepgram" }

type deepgramResponse struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string `json:"transcript"`
				Words      []struct {
					Word    string  `json:"punctuated_word"`
					Start   float64 `json:"start"`
					End     float64 `json:"end"`
					Speaker int     `json:"speaker"`
				} `json:"words"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// Transcribe sends the recording URL to Deepgram and groups the diarized
// word stream into per-speaker segments.
func (c *DeepgramClient) Transcribe(ctx context.Context, recordingURL string) (Transcript, error) {
	payload, _ := json.Marshal(map[string]string{"url": recordingURL})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/listen?diarize=true&punctuate=true&model=nova-2", bytes.NewReader(payload))
	if err != nil {
		return Transcript{}, fmt.Errorf("transcription: build request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Transcript{}, fmt.Errorf("transcription: deepgram request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return Transcript{}, fmt.Errorf("transcription: read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return Transcript{}, fmt.Errorf("transcription: deepgram returned %d: %s", resp.StatusCode, truncateBody(body))
	}

	var dg deepgramResponse
	if err := json.Unmarshal(body, &dg); err != nil {
		return Transcript{}, fmt.Errorf("transcription: decode response: %w", err)
	}
	if len(dg.Results.Channels) == 0 || len(dg.Results.Channels[0].Alternatives) == 0 {
		return Transcript{}, fmt.Errorf("transcription: deepgram returned no alternatives")
	}

	alt := dg.Results.Channels[0].Alternatives[0]
	t := Transcript{Text: alt.Transcript}

	var current *Segment
	var words []string
	flush := func() {
		if current != nil {
			current.Text = strings.Join(words, " ")
			t.Segments = append(t.Segments, *current)
			words = nil
		}
	}
	for _, w := range alt.Words {
		speaker := speakerAgent
		if w.Speaker != 0 {
			speaker = speakerCustomer
		}
		if current == nil || current.Speaker != speaker {
			flush()
			current = &Segment{Speaker: speaker, Start: w.Start}
		}
		current.End = w.End
		words = append(words, w.Word)
	}
	flush()

	return t, nil
}

var _ Provider = (*DeepgramClient)(nil)

// Package openai provides an STT provider backed by the OpenAI audio
// transcription API (whisper-1 by default).
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/murmur/pkg/audio"
	"github.com/MrWong99/murmur/pkg/provider"
	"github.com/MrWong99/murmur/pkg/provider/stt"
	"github.com/MrWong99/murmur/pkg/types"
)

// DefaultModel is used when New is called with an empty model.
const DefaultModel = string(oai.AudioModelWhisper1)

// Provider implements stt.Provider using the OpenAI transcription endpoint.
type Provider struct {
	client oai.Client
	model  string
}

type config struct {
	baseURL string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// New constructs an OpenAI STT Provider. An empty model selects whisper-1.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}
	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		// Retries are owned by the turn controller.
		option.WithMaxRetries(0),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}
	return &Provider{client: oai.NewClient(reqOpts...), model: model}, nil
}

// Transcribe implements stt.Provider. The request asks for verbose JSON so
// the detected language is returned alongside the text.
func (p *Provider) Transcribe(ctx context.Context, clip audio.Clip, opts stt.Options) (types.Transcript, error) {
	params := oai.AudioTranscriptionNewParams{
		File:           oai.File(bytes.NewReader(audio.EncodeWAV(clip)), "recording.wav", "audio/wav"),
		Model:          oai.AudioModel(p.model),
		ResponseFormat: oai.AudioResponseFormatVerboseJSON,
	}
	if opts.Language != "" {
		params.Language = oai.String(opts.Language)
	}
	if opts.Prompt != "" {
		params.Prompt = oai.String(opts.Prompt)
	}

	res, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return types.Transcript{}, fmt.Errorf("openai: transcribe: %w", convertError(err))
	}

	out := types.Transcript{Text: strings.TrimSpace(res.Text), Language: opts.Language}
	var verbose struct {
		Language string `json:"language"`
	}
	if raw := res.RawJSON(); raw != "" && json.Unmarshal([]byte(raw), &verbose) == nil && verbose.Language != "" {
		out.Language = normalizeLanguage(verbose.Language)
	}
	return out, nil
}

// languageCodes maps the English language names returned by verbose_json to
// ISO-639-1 codes.
var languageCodes = map[string]string{
	"english":  "en",
	"spanish":  "es",
	"italian":  "it",
	"japanese": "ja",
	"korean":   "ko",
	"chinese":  "zh",
	"german":   "de",
	"french":   "fr",
}

func normalizeLanguage(lang string) string {
	if code, ok := languageCodes[strings.ToLower(lang)]; ok {
		return code
	}
	return lang
}

// convertError maps SDK errors to *provider.APIError so callers can treat
// every backend alike.
func convertError(err error) error {
	var oe *oai.Error
	if errors.As(err, &oe) {
		return &provider.APIError{Provider: "openai", StatusCode: oe.StatusCode, Body: oe.RawJSON()}
	}
	return err
}

var _ stt.Provider = (*Provider)(nil)

package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"lumina-be/internal/pkg/logger"
	"lumina-be/pkg/facilitation"
	"lumina-be/pkg/voice"
)

const (
	module         = "ELEVENLABS"
	DefaultBaseURL = "https://api.elevenlabs.io"
)

type Settings struct {
	APIKey        string
	BaseURL       string
	STTModel      string // scribe_v1
	LanguageCode  string // en; empty lets the model detect it
	SkipIsolation bool
	TTSModel      string // eleven_multilingual_v2
	VoiceID       string
	Format        string // mp3_44100_128
}

// Client implements both facilitation.Transcriber and facilitation.Synthesizer.
type Client struct {
	settings   Settings
	httpClient *http.Client
	retry      voice.RetryPolicy
	logger     logger.ILogger
}

var (
	_ facilitation.Transcriber = (*Client)(nil)
	_ facilitation.Synthesizer = (*Client)(nil)
)

func NewClient(s Settings, log logger.ILogger) *Client {
	if s.BaseURL == "" {
		s.BaseURL = DefaultBaseURL
	}
	s.BaseURL = strings.TrimRight(s.BaseURL, "/")
	s.APIKey = strings.TrimSpace(s.APIKey)
	return &Client{
		settings:   s,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		retry:      voice.DefaultRetryPolicy(),
		logger:     log,
	}
}

func (c *Client) WithRetryPolicy(p voice.RetryPolicy) *Client {
	c.retry = p
	return c
}

// --- Speech to text ---

type sttWord struct {
	Text      string `json:"text"`
	Type      string `json:"type"` // word, spacing, audio_event
	SpeakerID string `json:"speaker_id"`
}

type sttResponse struct {
	LanguageCode string    `json:"language_code"`
	Text         string    `json:"text"`
	Words        []sttWord `json:"words"`
}

func (c *Client) Transcribe(ctx context.Context, audio []byte, opts facilitation.TranscribeOptions) (facilitation.Transcription, error) {
	clean, err := c.isolate(ctx, audio)
	if err != nil {
		return facilitation.Transcription{}, err
	}

	resp, err := voice.Retry(ctx, c.retry, func() (*sttResponse, error) {
		return c.speechToText(ctx, clean, opts.ExpectedSpeakers)
	})
	if err != nil {
		if hasDetailStatus(err, "audio_too_short") {
			c.logger.Debug(module, "Fragment too short to transcribe, counting it as silence", map[string]interface{}{"bytes": len(audio)})
			return facilitation.Transcription{}, nil
		}
		return facilitation.Transcription{}, err
	}

	segments := segmentWords(resp.Words)
	if len(segments) == 0 && len(resp.Words) == 0 {
		// No word timing means no diarization; attribute the whole text to nobody.
		if text := StripNonSpeech(resp.Text); text != "" {
			segments = []facilitation.Segment{{Text: text, SpeakerIndex: -1}}
		}
	}

	c.logger.Debug(module, "Transcribed fragment", map[string]interface{}{
		"bytes":    len(audio),
		"segments": len(segments),
		"language": resp.LanguageCode,
	})
	return facilitation.Transcription{Segments: segments}, nil
}

func (c *Client) speechToText(ctx context.Context, audio []byte, speakers int) (*sttResponse, error) {
	var b bytes.Buffer
	w := multipart.NewWriter(&b)

	_ = w.WriteField("model_id", c.settings.STTModel)
	_ = w.WriteField("diarize", "true")
	_ = w.WriteField("tag_audio_events", "false")
	if c.settings.LanguageCode != "" {
		_ = w.WriteField("language_code", c.settings.LanguageCode)
	}
	if speakers > 0 {
		_ = w.WriteField("num_speakers", strconv.Itoa(speakers))
	}
	fw, err := w.CreateFormFile("file", "fragment.webm")
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(audio); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.settings.BaseURL+"/v1/speech-to-text", &b)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("xi-api-key", c.settings.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, &voice.StatusError{Op: "speech-to-text", StatusCode: resp.StatusCode, Body: string(body)}
	}

	var out sttResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("speech-to-text decode: %w", err)
	}
	return &out, nil
}

// --- Audio isolation ---

// isolate strips background noise from a fragment. Fragments too short for the
// isolation model are passed through unchanged.
func (c *Client) isolate(ctx context.Context, audio []byte) ([]byte, error) {
	if c.settings.SkipIsolation {
		return audio, nil
	}
	out, err := voice.Retry(ctx, c.retry, func() ([]byte, error) {
		return c.audioIsolation(ctx, audio)
	})
	if err != nil {
		if hasDetailStatus(err, "invalid_audio_duration") {
			c.logger.Debug(module, "Fragment too short for isolation, using original audio", map[string]interface{}{"bytes": len(audio)})
			return audio, nil
		}
		return nil, err
	}
	return out, nil
}

func (c *Client) audioIsolation(ctx context.Context, audio []byte) ([]byte, error) {
	var b bytes.Buffer
	w := multipart.NewWriter(&b)
	fw, err := w.CreateFormFile("audio", "fragment.webm")
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(audio); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.settings.BaseURL+"/v1/audio-isolation", &b)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("xi-api-key", c.settings.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, &voice.StatusError{Op: "audio-isolation", StatusCode: resp.StatusCode, Body: string(body)}
	}
	return io.ReadAll(resp.Body)
}

type errorDetail struct {
	Detail struct {
		Status string `json:"status"`
	} `json:"detail"`
}

// hasDetailStatus reports whether err is an API error whose body carries detail.status.
func hasDetailStatus(err error, status string) bool {
	var se *voice.StatusError
	if !errors.As(err, &se) {
		return false
	}
	var body errorDetail
	if json.Unmarshal([]byte(se.Body), &body) != nil {
		return false
	}
	return body.Detail.Status == status
}

var nonSpeech = regexp.MustCompile(`\s*\([^)]*\)\s*`)

// StripNonSpeech removes parenthesised sound tags such as "(door opens)".
func StripNonSpeech(s string) string {
	return strings.TrimSpace(strings.Join(strings.Fields(nonSpeech.ReplaceAllString(s, " ")), " "))
}

// segmentWords groups consecutive words of the same speaker into segments.
func segmentWords(words []sttWord) []facilitation.Segment {
	var (
		out     []facilitation.Segment
		current strings.Builder
		speaker string
	)
	flush := func() {
		if text := StripNonSpeech(current.String()); text != "" {
			out = append(out, facilitation.Segment{Text: text, SpeakerIndex: speakerIndex(speaker)})
		}
		current.Reset()
	}

	for _, w := range words {
		switch w.Type {
		case "audio_event":
			continue
		case "spacing":
			current.WriteString(w.Text)
			continue
		}
		if current.Len() > 0 && w.SpeakerID != speaker {
			flush()
		}
		speaker = w.SpeakerID
		current.WriteString(w.Text)
	}
	flush()
	return out
}

// speakerIndex maps "speaker_N" to N, anything else to -1.
func speakerIndex(id string) int {
	n, err := strconv.Atoi(strings.TrimPrefix(id, "speaker_"))
	if err != nil || !strings.HasPrefix(id, "speaker_") {
		return -1
	}
	return n
}

// --- Text to speech ---

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	UseSpeakerBoost bool    `json:"use_speaker_boost"`
	Speed           float64 `json:"speed"`
}

type ttsRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

func (c *Client) Synthesize(ctx context.Context, text string) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("text to speak is required")
	}
	audio, err := voice.Retry(ctx, c.retry, func() ([]byte, error) {
		return c.textToSpeech(ctx, text)
	})
	if err != nil {
		return nil, err
	}
	c.logger.Debug(module, "Synthesized intervention", map[string]interface{}{"chars": len(text), "bytes": len(audio)})
	return audio, nil
}

func (c *Client) textToSpeech(ctx context.Context, text string) ([]byte, error) {
	payload, err := json.Marshal(ttsRequest{
		Text:    text,
		ModelID: c.settings.TTSModel,
		VoiceSettings: voiceSettings{
			Stability:       0,
			SimilarityBoost: 1.0,
			UseSpeakerBoost: true,
			Speed:           1.0,
		},
	})
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/v1/text-to-speech/%s?output_format=%s",
		c.settings.BaseURL, url.PathEscape(c.settings.VoiceID), url.QueryEscape(c.settings.Format))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("xi-api-key", c.settings.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, &voice.StatusError{Op: "text-to-speech", StatusCode: resp.StatusCode, Body: string(body)}
	}
	return io.ReadAll(resp.Body)
}

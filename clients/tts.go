package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/reelforge/reel-worker/log"
	"github.com/reelforge/reel-worker/metrics"
)

const DefaultTTSBaseURL = "https://api.elevenlabs.io"

// TTSClient drives the primary cloud text-to-speech API and falls back to a
// local generative model when the primary is unavailable. Fallback triggers
// on timeout, 401/402/429 and empty responses; fallback errors propagate.
type TTSClient struct {
	APIKey  string
	VoiceID string
	ModelID string
	BaseURL string

	Fallback SpeechSynthesizer

	httpClient *http.Client
	initOnce   sync.Once
}

func (c *TTSClient) client() *http.Client {
	c.initOnce.Do(func() {
		c.httpClient = &http.Client{Timeout: 60 * time.Second}
		if c.BaseURL == "" {
			c.BaseURL = DefaultTTSBaseURL
		}
	})
	return c.httpClient
}

type ttsPayload struct {
	Text          string           `json:"text"`
	ModelID       string           `json:"model_id"`
	VoiceSettings ttsVoiceSettings `json:"voice_settings"`
}

type ttsVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// errPrimaryUnavailable marks the failure classes the local fallback may
// cover: timeouts, 401/402/429 rejections and empty audio. Anything else
// surfaces to the caller.
var errPrimaryUnavailable = errors.New("primary tts unavailable")

func (c *TTSClient) Synthesize(ctx context.Context, taskID string, req TTSRequest) error {
	err := c.synthesizePrimary(ctx, taskID, req)
	if err == nil {
		metrics.ProviderCalls.WithLabelValues("tts", string(ProviderElevenLabs), "success").Inc()
		return nil
	}
	metrics.ProviderCalls.WithLabelValues("tts", string(ProviderElevenLabs), "error").Inc()
	if c.Fallback == nil || !errors.Is(err, errPrimaryUnavailable) {
		return err
	}
	log.LogError(taskID, "primary TTS failed, using local fallback", err)
	metrics.ProviderFallbacks.WithLabelValues("tts", string(ProviderElevenLabs), string(ProviderLocalTTS)).Inc()
	if err := c.Fallback.Synthesize(ctx, taskID, req); err != nil {
		metrics.ProviderCalls.WithLabelValues("tts", string(ProviderLocalTTS), "error").Inc()
		return fmt.Errorf("fallback TTS failed: %w", err)
	}
	metrics.ProviderCalls.WithLabelValues("tts", string(ProviderLocalTTS), "success").Inc()
	return nil
}

func (c *TTSClient) synthesizePrimary(ctx context.Context, taskID string, req TTSRequest) error {
	body, err := json.Marshal(ttsPayload{
		Text:    req.Text,
		ModelID: c.ModelID,
		VoiceSettings: ttsVoiceSettings{
			Stability:       0.5,
			SimilarityBoost: 0.75,
		},
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/v1/text-to-speech/%s", c.BaseURL, c.VoiceID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "audio/mpeg")
	httpReq.Header.Set("xi-api-key", c.APIKey)

	resp, err := c.client().Do(httpReq)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return fmt.Errorf("tts request timed out: %w", errPrimaryUnavailable)
		}
		return fmt.Errorf("tts request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		// fall through to write
	case http.StatusUnauthorized, http.StatusPaymentRequired, http.StatusTooManyRequests:
		return fmt.Errorf("tts primary rejected request (HTTP %d): %w", resp.StatusCode, errPrimaryUnavailable)
	default:
		if resp.StatusCode >= 300 {
			return fmt.Errorf("tts primary bad status: HTTP %d", resp.StatusCode)
		}
	}

	out, err := os.Create(req.OutputPath)
	if err != nil {
		return err
	}
	written, err := io.Copy(out, resp.Body)
	out.Close()
	if err != nil {
		os.Remove(req.OutputPath)
		return fmt.Errorf("error writing tts audio: %w", err)
	}
	if written == 0 {
		os.Remove(req.OutputPath)
		return fmt.Errorf("tts primary returned empty body: %w", errPrimaryUnavailable)
	}
	return requireNonEmptyFile(req.OutputPath)
}

// TTSEngine is the loaded local model. Loading is expensive, so there is at
// most one instance per process.
type TTSEngine interface {
	Generate(ctx context.Context, text, audioPromptURL, outputPath string) error
}

// LocalTTS lazily loads a local generative TTS model. The mutex serves two
// purposes: it prevents concurrent loads, and it serializes generation so
// concurrent requests for identical narration can't tear the output file
// before the cache has an entry.
type LocalTTS struct {
	Loader func() (TTSEngine, error)

	mu     sync.Mutex
	engine TTSEngine
}

func (l *LocalTTS) Synthesize(ctx context.Context, taskID string, req TTSRequest) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.engine == nil {
		log.Log(taskID, "loading local TTS model")
		engine, err := l.Loader()
		if err != nil {
			return fmt.Errorf("failed to load local TTS model: %w", err)
		}
		l.engine = engine
	}

	if err := l.engine.Generate(ctx, req.Text, req.AudioPromptURL, req.OutputPath); err != nil {
		os.Remove(req.OutputPath)
		return err
	}
	return requireNonEmptyFile(req.OutputPath)
}

// NewLocalTTS wraps a local synthesis command. The command reads the
// narration text on stdin and writes audio to the path given as its final
// argument; a voice-cloning reference, when present, arrives in
// TTS_AUDIO_PROMPT_URL.
func NewLocalTTS(command string) *LocalTTS {
	parts := strings.Fields(command)
	return &LocalTTS{Loader: func() (TTSEngine, error) {
		if len(parts) == 0 {
			return nil, fmt.Errorf("local tts command is empty")
		}
		bin, err := exec.LookPath(parts[0])
		if err != nil {
			return nil, fmt.Errorf("local tts command not found: %w", err)
		}
		return commandTTSEngine{bin: bin, args: parts[1:]}, nil
	}}
}

type commandTTSEngine struct {
	bin  string
	args []string
}

func (e commandTTSEngine) Generate(ctx context.Context, text, audioPromptURL, outputPath string) error {
	cmd := exec.CommandContext(ctx, e.bin, append(append([]string{}, e.args...), outputPath)...)
	cmd.Stdin = strings.NewReader(text)
	cmd.Env = os.Environ()
	if audioPromptURL != "" {
		cmd.Env = append(cmd.Env, "TTS_AUDIO_PROMPT_URL="+audioPromptURL)
	}
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("local tts command failed: %w: %s", err, out)
	}
	return nil
}

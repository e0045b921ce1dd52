package clients

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubSynth struct {
	calls atomic.Int32
	err   error
}

func (s *stubSynth) Synthesize(ctx context.Context, taskID string, req TTSRequest) error {
	s.calls.Add(1)
	if s.err != nil {
		return s.err
	}
	return os.WriteFile(req.OutputPath, []byte("fallback-audio"), 0644)
}

func TestTTSPrimarySuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "xi-key", r.Header.Get("xi-api-key"))
		w.Write([]byte("mp3bytes"))
	}))
	defer server.Close()

	fallback := &stubSynth{}
	c := &TTSClient{APIKey: "xi-key", VoiceID: "v1", BaseURL: server.URL, Fallback: fallback}

	out := filepath.Join(t.TempDir(), "narration.mp3")
	require.NoError(t, c.Synthesize(context.Background(), "t1", TTSRequest{Text: "hello", OutputPath: out}))
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, "mp3bytes", string(data))
	require.Zero(t, fallback.calls.Load())
}

func TestTTSFallsBackOnPaymentRequired(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
	}))
	defer server.Close()

	fallback := &stubSynth{}
	c := &TTSClient{APIKey: "xi-key", VoiceID: "v1", BaseURL: server.URL, Fallback: fallback}

	out := filepath.Join(t.TempDir(), "narration.mp3")
	require.NoError(t, c.Synthesize(context.Background(), "t1", TTSRequest{Text: "hello", OutputPath: out}))
	require.Equal(t, int32(1), fallback.calls.Load())
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, "fallback-audio", string(data))
}

func TestTTSFallsBackOnEmptyBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 200 with nothing in it
	}))
	defer server.Close()

	fallback := &stubSynth{}
	c := &TTSClient{APIKey: "xi-key", VoiceID: "v1", BaseURL: server.URL, Fallback: fallback}

	out := filepath.Join(t.TempDir(), "narration.mp3")
	require.NoError(t, c.Synthesize(context.Background(), "t1", TTSRequest{Text: "hello", OutputPath: out}))
	require.Equal(t, int32(1), fallback.calls.Load())
}

func TestTTSServerErrorDoesNotFallBack(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	fallback := &stubSynth{}
	c := &TTSClient{APIKey: "xi-key", VoiceID: "v1", BaseURL: server.URL, Fallback: fallback}

	err := c.Synthesize(context.Background(), "t1", TTSRequest{Text: "hello", OutputPath: filepath.Join(t.TempDir(), "n.mp3")})
	require.Error(t, err)
	require.Zero(t, fallback.calls.Load(), "a 5xx is not a fallback trigger")
}

func TestTTSNoFallbackPropagates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	c := &TTSClient{APIKey: "xi-key", VoiceID: "v1", BaseURL: server.URL}
	err := c.Synthesize(context.Background(), "t1", TTSRequest{Text: "hello", OutputPath: filepath.Join(t.TempDir(), "n.mp3")})
	require.Error(t, err)
}

type countingEngine struct {
	generations atomic.Int32
}

func (e *countingEngine) Generate(ctx context.Context, text, audioPromptURL, outputPath string) error {
	e.generations.Add(1)
	return os.WriteFile(outputPath, []byte("local-audio"), 0644)
}

func TestLocalTTSLoadsOnce(t *testing.T) {
	var loads atomic.Int32
	engine := &countingEngine{}
	local := &LocalTTS{Loader: func() (TTSEngine, error) {
		loads.Add(1)
		return engine, nil
	}}

	dir := t.TempDir()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out := filepath.Join(dir, "out"+string(rune('0'+i))+".mp3")
			require.NoError(t, local.Synthesize(context.Background(), "t1", TTSRequest{Text: "x", OutputPath: out}))
		}(i)
	}
	wg.Wait()

	require.Equal(t, int32(1), loads.Load())
	require.Equal(t, int32(8), engine.generations.Load())
}

func TestLocalTTSCommandEngine(t *testing.T) {
	// tee matches the engine contract: text on stdin, output path as the
	// final argument
	local := NewLocalTTS("tee")

	out := filepath.Join(t.TempDir(), "narration.wav")
	require.NoError(t, local.Synthesize(context.Background(), "t1", TTSRequest{Text: "hello world", OutputPath: out}))
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(data))
}

func TestLocalTTSMissingCommand(t *testing.T) {
	local := NewLocalTTS("no-such-tts-binary")
	err := local.Synthesize(context.Background(), "t1", TTSRequest{Text: "x", OutputPath: filepath.Join(t.TempDir(), "n.wav")})
	require.Error(t, err)
	require.Contains(t, err.Error(), "not found")
}

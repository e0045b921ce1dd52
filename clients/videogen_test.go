package clients

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	xerrors "github.com/reelforge/reel-worker/errors"
	"github.com/stretchr/testify/require"
)

func TestKlingTokenClaims(t *testing.T) {
	fixed := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	c := NewKlingAIClient("ak", "sk")
	c.now = func() time.Time { return fixed }

	signed, err := c.mintToken()
	require.NoError(t, err)

	parsed, err := jwt.Parse(signed, func(token *jwt.Token) (interface{}, error) {
		require.Equal(t, "HS256", token.Method.Alg())
		return []byte("sk"), nil
	}, jwt.WithoutClaimsValidation())
	require.NoError(t, err)

	claims := parsed.Claims.(jwt.MapClaims)
	require.Equal(t, "ak", claims["iss"])
	require.Equal(t, float64(fixed.Add(30*time.Minute).Unix()), claims["exp"])
	require.Equal(t, float64(fixed.Add(-5*time.Second).Unix()), claims["nbf"])
}

func TestKlingQuotaCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"code":    1102,
			"message": "account balance not enough",
		})
	}))
	defer server.Close()

	c := NewKlingAIClient("ak", "sk")
	c.BaseURL = server.URL
	_, err := c.call(context.Background(), http.MethodPost, "/v1/videos/image2video", map[string]string{})
	require.Error(t, err)
	require.True(t, xerrors.IsQuotaExhausted(err))
}

func TestKlingGenerateVideo(t *testing.T) {
	var polls atomic.Int32
	mux := http.NewServeMux()
	var serverURL string
	mux.HandleFunc("/v1/videos/image2video", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.NotEmpty(t, r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]any{
			"code": 0,
			"data": map[string]any{"task_id": "kt-1", "task_status": "submitted"},
		})
	})
	mux.HandleFunc("/v1/videos/image2video/kt-1", func(w http.ResponseWriter, r *http.Request) {
		status := "processing"
		result := map[string]any{}
		if polls.Add(1) >= 2 {
			status = "succeed"
			result = map[string]any{"videos": []map[string]string{{"url": serverURL + "/clip.mp4"}}}
		}
		json.NewEncoder(w).Encode(map[string]any{
			"code": 0,
			"data": map[string]any{"task_id": "kt-1", "task_status": status, "task_result": result},
		})
	})
	mux.HandleFunc("/clip.mp4", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("videobytes"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()
	serverURL = server.URL

	c := NewKlingAIClient("ak", "sk")
	c.BaseURL = server.URL
	c.PollInterval = 10 * time.Millisecond
	c.PollBudget = 5 * time.Second

	out := filepath.Join(t.TempDir(), "scene.mp4")
	err := c.GenerateVideo(context.Background(), "t1", VideoRequest{
		Prompt:   "a fox running",
		ImageURL: "https://example.com/ref.png",
		Duration: 5,
		Model:    "kling-v1-6",
		OutputPath: out,
	})
	require.NoError(t, err)
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, "videobytes", string(data))
}

func TestLumaGenerateVideo(t *testing.T) {
	var polls atomic.Int32
	mux := http.NewServeMux()
	var serverURL string
	mux.HandleFunc("/dream-machine/v1/generations", func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		// image-conditioned requests carry a keyframe
		require.Contains(t, payload, "keyframes")
		json.NewEncoder(w).Encode(map[string]any{"id": "gen-1", "state": "queued"})
	})
	// the generation walks the full documented state ladder before completing
	states := []string{"pending", "processing", "dreaming"}
	mux.HandleFunc("/dream-machine/v1/generations/gen-1", func(w http.ResponseWriter, r *http.Request) {
		if n := polls.Add(1); int(n) <= len(states) {
			json.NewEncoder(w).Encode(map[string]any{"id": "gen-1", "state": states[n-1]})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id": "gen-1", "state": "completed",
			"assets": map[string]string{"video": serverURL + "/out.mp4"},
		})
	})
	mux.HandleFunc("/out.mp4", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("lumabytes"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()
	serverURL = server.URL

	c := NewLumaAIClient("key")
	c.BaseURL = server.URL
	c.PollInterval = 10 * time.Millisecond
	c.PollBudget = 5 * time.Second

	out := filepath.Join(t.TempDir(), "scene.mp4")
	err := c.GenerateVideo(context.Background(), "t1", VideoRequest{
		Prompt:      "ocean waves",
		ImageURL:    "https://example.com/frame.png",
		Duration:    5,
		AspectRatio: "9:16",
		Model:       "ray-2",
		OutputPath:  out,
	})
	require.NoError(t, err)
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, "lumabytes", string(data))
}

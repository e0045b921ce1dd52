package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v4"
	xerrors "github.com/reelforge/reel-worker/errors"
	"github.com/reelforge/reel-worker/log"
	"github.com/reelforge/reel-worker/metrics"
)

// LumaAIClient generates video clips through the Dream Machine API.
type LumaAIClient struct {
	APIKey  string
	BaseURL string
	client  *http.Client

	PollInterval time.Duration
	PollBudget   time.Duration
}

func NewLumaAIClient(apiKey string) *LumaAIClient {
	return &LumaAIClient{
		APIKey:       apiKey,
		BaseURL:      "https://api.lumalabs.ai",
		client:       newRetryableClient(60*time.Second, 2),
		PollInterval: 5 * time.Second,
		PollBudget:   10 * time.Minute,
	}
}

func (c *LumaAIClient) Kind() ProviderKind { return ProviderLumaAI }

type lumaGeneration struct {
	ID            string `json:"id"`
	State         string `json:"state"`
	FailureReason string `json:"failure_reason"`
	Assets        struct {
		Video string `json:"video"`
	} `json:"assets"`
}

func (c *LumaAIClient) GenerateVideo(ctx context.Context, taskID string, req VideoRequest) error {
	payload := map[string]any{
		"prompt":       req.Prompt,
		"model":        req.Model,
		"aspect_ratio": req.AspectRatio,
		"resolution":   req.Resolution,
		"duration":     fmt.Sprintf("%ds", req.Duration),
	}
	if req.ImageURL != "" {
		payload["keyframes"] = map[string]any{
			"frame0": map[string]string{"type": "image", "url": req.ImageURL},
		}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/dream-machine/v1/generations", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("lumaai create failed: %w", err)
	}
	gen, err := decodeLuma(resp)
	if err != nil {
		return err
	}
	if gen.ID == "" {
		return fmt.Errorf("lumaai returned no generation id")
	}
	log.Log(taskID, "lumaai generation submitted", "generation_id", gen.ID)

	deadline := time.Now().Add(c.PollBudget)
	ticker := time.NewTicker(c.PollInterval)
	defer ticker.Stop()
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		status, err := c.pollGeneration(ctx, gen.ID)
		if err != nil {
			log.Log(taskID, "lumaai poll failed", "generation_id", gen.ID, "err", err)
			continue
		}
		switch status.State {
		case "queued", "pending", "processing", "dreaming":
			continue
		case "completed":
			if status.Assets.Video == "" {
				return fmt.Errorf("lumaai completed with no video asset")
			}
			metrics.ProviderCalls.WithLabelValues("video", string(ProviderLumaAI), "success").Inc()
			return downloadToFile(ctx, c.client, status.Assets.Video, req.OutputPath)
		case "failed":
			metrics.ProviderCalls.WithLabelValues("video", string(ProviderLumaAI), "error").Inc()
			return fmt.Errorf("lumaai generation failed: %s", status.FailureReason)
		default:
			return fmt.Errorf("lumaai returned unknown state %q", status.State)
		}
	}
	return fmt.Errorf("lumaai generation %s timed out after %s", gen.ID, c.PollBudget)
}

func (c *LumaAIClient) pollGeneration(ctx context.Context, genID string) (*lumaGeneration, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/dream-machine/v1/generations/"+genID, nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	return decodeLuma(resp)
}

func decodeLuma(resp *http.Response) (*lumaGeneration, error) {
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusPaymentRequired {
		return nil, xerrors.NewQuotaExhaustedError(string(ProviderLumaAI), resp.StatusCode, string(raw))
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("lumaai bad status %d: %s", resp.StatusCode, raw)
	}
	var gen lumaGeneration
	if err := json.Unmarshal(raw, &gen); err != nil {
		return nil, fmt.Errorf("lumaai response unparseable: %w", err)
	}
	return &gen, nil
}

// klingQuotaCode is the account-balance error in the KlingAI envelope.
const klingQuotaCode = 1102

// KlingAIClient generates image-to-video clips. Auth is a short-lived HS256
// JWT minted per request from the access/secret key pair.
type KlingAIClient struct {
	AccessKey string
	SecretKey string
	BaseURL   string
	client    *http.Client

	PollInterval time.Duration
	PollBudget   time.Duration
	now          func() time.Time
}

func NewKlingAIClient(accessKey, secretKey string) *KlingAIClient {
	return &KlingAIClient{
		AccessKey:    accessKey,
		SecretKey:    secretKey,
		BaseURL:      "https://api.klingai.com",
		client:       newRetryableClient(60*time.Second, 2),
		PollInterval: 5 * time.Second,
		PollBudget:   10 * time.Minute,
		now:          time.Now,
	}
}

func (c *KlingAIClient) Kind() ProviderKind { return ProviderKlingAI }

// mintToken signs a JWT valid for 30 minutes, with nbf backdated 5 seconds to
// survive clock skew against the API servers.
func (c *KlingAIClient) mintToken() (string, error) {
	now := c.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss": c.AccessKey,
		"exp": now.Add(30 * time.Minute).Unix(),
		"nbf": now.Add(-5 * time.Second).Unix(),
	})
	return token.SignedString([]byte(c.SecretKey))
}

type klingEnvelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		TaskID     string `json:"task_id"`
		TaskStatus string `json:"task_status"`
		TaskResult struct {
			Videos []struct {
				URL string `json:"url"`
			} `json:"videos"`
		} `json:"task_result"`
	} `json:"data"`
}

func (c *KlingAIClient) GenerateVideo(ctx context.Context, taskID string, req VideoRequest) error {
	payload := map[string]any{
		"model_name": req.Model,
		"prompt":     req.Prompt,
		"image":      req.ImageURL,
		"duration":   fmt.Sprint(req.Duration),
		"mode":       "std",
	}
	if req.NegativePrompt != "" {
		payload["negative_prompt"] = req.NegativePrompt
	}

	env, err := c.call(ctx, http.MethodPost, "/v1/videos/image2video", payload)
	if err != nil {
		return err
	}
	if env.Data.TaskID == "" {
		return fmt.Errorf("klingai returned no task id")
	}
	log.Log(taskID, "klingai generation submitted", "kling_task_id", env.Data.TaskID)

	deadline := time.Now().Add(c.PollBudget)
	ticker := time.NewTicker(c.PollInterval)
	defer ticker.Stop()
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		status, err := c.pollWithRetry(ctx, taskID, env.Data.TaskID)
		if err != nil {
			if xerrors.IsUnretriable(err) {
				return err
			}
			log.Log(taskID, "klingai poll failed", "kling_task_id", env.Data.TaskID, "err", err)
			continue
		}
		switch status.Data.TaskStatus {
		case "submitted", "processing":
			continue
		case "succeed":
			if len(status.Data.TaskResult.Videos) == 0 || status.Data.TaskResult.Videos[0].URL == "" {
				return fmt.Errorf("klingai succeeded with no video url")
			}
			metrics.ProviderCalls.WithLabelValues("video", string(ProviderKlingAI), "success").Inc()
			return downloadToFile(ctx, c.client, status.Data.TaskResult.Videos[0].URL, req.OutputPath)
		case "failed":
			metrics.ProviderCalls.WithLabelValues("video", string(ProviderKlingAI), "error").Inc()
			return fmt.Errorf("klingai generation failed: %s", status.Message)
		default:
			return fmt.Errorf("klingai returned unknown status %q", status.Data.TaskStatus)
		}
	}
	return fmt.Errorf("klingai generation %s timed out after %s", env.Data.TaskID, c.PollBudget)
}

// pollWithRetry retries individual poll calls a few times with linear backoff
// before giving up on that tick. Quota errors pass straight through.
func (c *KlingAIClient) pollWithRetry(ctx context.Context, taskID, klingTaskID string) (*klingEnvelope, error) {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt+1) * 2 * time.Second):
			}
		}
		env, err := c.call(ctx, http.MethodGet, "/v1/videos/image2video/"+klingTaskID, nil)
		if err == nil {
			return env, nil
		}
		if xerrors.IsUnretriable(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (c *KlingAIClient) call(ctx context.Context, method, path string, payload any) (*klingEnvelope, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, err
	}
	token, err := c.mintToken()
	if err != nil {
		return nil, fmt.Errorf("failed to sign klingai token: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("klingai request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var env klingEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("klingai response unparseable (HTTP %d): %w", resp.StatusCode, err)
	}
	if env.Code == klingQuotaCode {
		return nil, xerrors.NewQuotaExhaustedError(string(ProviderKlingAI), env.Code, env.Message)
	}
	if env.Code != 0 {
		return nil, fmt.Errorf("klingai error code %d: %s", env.Code, env.Message)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("klingai bad status %d", resp.StatusCode)
	}
	return &env, nil
}

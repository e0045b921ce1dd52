package clients

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	xerrors "github.com/reelforge/reel-worker/errors"
	"github.com/reelforge/reel-worker/log"
	"github.com/reelforge/reel-worker/metrics"
)

// buildImagePrompt folds the scene and video context into the prompt so two
// scenes with the same nominal prompt still produce distinct images.
func buildImagePrompt(req ImageRequest) string {
	parts := []string{req.Prompt}
	if req.SceneContext != "" {
		parts = append(parts, "Scene context: "+req.SceneContext)
	}
	if req.VideoContext != "" {
		parts = append(parts, "Overall video: "+req.VideoContext)
	}
	return strings.Join(parts, "\n")
}

// OpenAIImageClient generates images through the OpenAI images API.
type OpenAIImageClient struct {
	APIKey  string
	Model   string
	BaseURL string
	client  *http.Client
}

func NewOpenAIImageClient(apiKey, model string) *OpenAIImageClient {
	if model == "" {
		model = "gpt-image-1"
	}
	return &OpenAIImageClient{
		APIKey:  apiKey,
		Model:   model,
		BaseURL: "https://api.openai.com",
		client:  newRetryableClient(180*time.Second, 2),
	}
}

func (c *OpenAIImageClient) Kind() ProviderKind { return ProviderOpenAI }

type openAIImageResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
	} `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (c *OpenAIImageClient) GenerateImage(ctx context.Context, taskID string, req ImageRequest) error {
	payload := map[string]any{
		"model":  c.Model,
		"prompt": buildImagePrompt(req),
		"size":   "1024x1536",
		"n":      1,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/images/generations", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("openai image request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	var parsed openAIImageResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return fmt.Errorf("openai image response unparseable (HTTP %d): %w", resp.StatusCode, err)
	}
	if parsed.Error != nil {
		msg := parsed.Error.Message
		switch {
		case resp.StatusCode == http.StatusTooManyRequests || parsed.Error.Type == "insufficient_quota":
			return xerrors.NewQuotaExhaustedError(string(ProviderOpenAI), resp.StatusCode, msg)
		case parsed.Error.Code == "content_policy_violation" || parsed.Error.Code == "moderation_blocked":
			return xerrors.NewPolicyRefusalError(string(ProviderOpenAI), msg)
		default:
			return fmt.Errorf("openai image error (HTTP %d): %s", resp.StatusCode, msg)
		}
	}
	if resp.StatusCode != http.StatusOK || len(parsed.Data) == 0 || parsed.Data[0].B64JSON == "" {
		return fmt.Errorf("openai image: no image in response (HTTP %d)", resp.StatusCode)
	}
	return writeBase64Image(parsed.Data[0].B64JSON, req.OutputPath)
}

// FreepikImageClient submits a generation job and polls for completion.
type FreepikImageClient struct {
	APIKey  string
	BaseURL string
	client  *http.Client

	// poll cadence, overridable in tests
	PollInterval time.Duration
	MaxPolls     int
}

func NewFreepikImageClient(apiKey string) *FreepikImageClient {
	return &FreepikImageClient{
		APIKey:       apiKey,
		BaseURL:      "https://api.freepik.com",
		client:       newRetryableClient(60*time.Second, 2),
		// 2 s cadence against a 60 s total polling budget
		PollInterval: 2 * time.Second,
		MaxPolls:     30,
	}
}

func (c *FreepikImageClient) Kind() ProviderKind { return ProviderFreepik }

type freepikTaskResponse struct {
	Data struct {
		TaskID    string   `json:"task_id"`
		Status    string   `json:"status"`
		Generated []string `json:"generated"`
	} `json:"data"`
	Message string `json:"message"`
}

func (c *FreepikImageClient) GenerateImage(ctx context.Context, taskID string, req ImageRequest) error {
	payload := map[string]any{
		"prompt":       buildImagePrompt(req),
		"aspect_ratio": "social_story_9_16",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/ai/mystic", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-freepik-api-key", c.APIKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("freepik submit failed: %w", err)
	}
	submitted, err := decodeFreepik(resp)
	if err != nil {
		return err
	}
	if submitted.Data.TaskID == "" {
		return fmt.Errorf("freepik submit returned no task id")
	}

	ticker := time.NewTicker(c.PollInterval)
	defer ticker.Stop()
	for polls := 0; polls < c.MaxPolls; polls++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		status, err := c.pollTask(ctx, submitted.Data.TaskID)
		if err != nil {
			log.Log(taskID, "freepik poll failed", "err", err)
			continue
		}
		switch status.Data.Status {
		case "CREATED", "PROCESSING":
			continue
		case "COMPLETED":
			if len(status.Data.Generated) == 0 {
				return fmt.Errorf("freepik task completed with no images")
			}
			return downloadToFile(ctx, c.client, status.Data.Generated[0], req.OutputPath)
		case "FAILED":
			return fmt.Errorf("freepik generation failed: %s", status.Message)
		default:
			return fmt.Errorf("freepik returned unknown status %q", status.Data.Status)
		}
	}
	return fmt.Errorf("freepik generation timed out after %d polls", c.MaxPolls)
}

func (c *FreepikImageClient) pollTask(ctx context.Context, freepikTaskID string) (*freepikTaskResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/v1/ai/mystic/"+freepikTaskID, nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("x-freepik-api-key", c.APIKey)
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	return decodeFreepik(resp)
}

func decodeFreepik(resp *http.Response) (*freepikTaskResponse, error) {
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var parsed freepikTaskResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("freepik response unparseable (HTTP %d): %w", resp.StatusCode, err)
	}
	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		return &parsed, nil
	case http.StatusTooManyRequests, http.StatusPaymentRequired:
		return nil, xerrors.NewQuotaExhaustedError(string(ProviderFreepik), resp.StatusCode, parsed.Message)
	default:
		return nil, fmt.Errorf("freepik bad status %d: %s", resp.StatusCode, parsed.Message)
	}
}

// GeminiImageClient generates images through the Gemini generateContent API,
// which returns image bytes inline in the response parts.
type GeminiImageClient struct {
	APIKey  string
	Model   string
	BaseURL string
	client  *http.Client
}

func NewGeminiImageClient(apiKey, model string) *GeminiImageClient {
	if model == "" {
		model = "gemini-2.0-flash-preview-image-generation"
	}
	return &GeminiImageClient{
		APIKey:  apiKey,
		Model:   model,
		BaseURL: "https://generativelanguage.googleapis.com",
		client:  newRetryableClient(120*time.Second, 2),
	}
}

func (c *GeminiImageClient) Kind() ProviderKind { return ProviderGemini }

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				InlineData *struct {
					MimeType string `json:"mimeType"`
					Data     string `json:"data"`
				} `json:"inlineData"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *GeminiImageClient) GenerateImage(ctx context.Context, taskID string, req ImageRequest) error {
	payload := map[string]any{
		"contents": []map[string]any{{
			"parts": []map[string]any{{"text": buildImagePrompt(req)}},
		}},
		"generationConfig": map[string]any{
			"responseModalities": []string{"TEXT", "IMAGE"},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.BaseURL, c.Model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.APIKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("gemini request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	var parsed geminiResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return fmt.Errorf("gemini response unparseable (HTTP %d): %w", resp.StatusCode, err)
	}
	if parsed.Error != nil {
		switch parsed.Error.Status {
		case "RESOURCE_EXHAUSTED":
			return xerrors.NewQuotaExhaustedError(string(ProviderGemini), parsed.Error.Code, parsed.Error.Message)
		default:
			return fmt.Errorf("gemini error %s: %s", parsed.Error.Status, parsed.Error.Message)
		}
	}
	for _, cand := range parsed.Candidates {
		if cand.FinishReason == "SAFETY" || cand.FinishReason == "PROHIBITED_CONTENT" {
			return xerrors.NewPolicyRefusalError(string(ProviderGemini), "generation blocked: "+cand.FinishReason)
		}
		for _, part := range cand.Content.Parts {
			if part.InlineData != nil && part.InlineData.Data != "" {
				return writeBase64Image(part.InlineData.Data, req.OutputPath)
			}
		}
	}
	return fmt.Errorf("gemini returned no image parts")
}

// ImageGenChain tries the requested provider first and then the remaining
// providers in a fixed order. Quota and policy errors abort the chain since
// retrying elsewhere either costs money pointlessly or repeats a refusal the
// other models will echo.
type ImageGenChain struct {
	Providers map[ProviderKind]ImageGenerator
}

var imageFallbackOrder = []ProviderKind{ProviderGemini, ProviderOpenAI, ProviderFreepik}

// Generate runs the chain and reports which provider produced the image so
// the caller can key its cache correctly.
func (ch *ImageGenChain) Generate(ctx context.Context, taskID string, primary ProviderKind, req ImageRequest) (ProviderKind, error) {
	order := []ProviderKind{primary}
	for _, kind := range imageFallbackOrder {
		if kind != primary {
			order = append(order, kind)
		}
	}

	causes := map[string]error{}
	previous := ProviderKind("")
	for _, kind := range order {
		gen, ok := ch.Providers[kind]
		if !ok {
			continue
		}
		if previous != "" {
			log.Log(taskID, "image provider failed, falling back", "from", previous, "to", kind)
			metrics.ProviderFallbacks.WithLabelValues("image", string(previous), string(kind)).Inc()
		}
		err := gen.GenerateImage(ctx, taskID, req)
		if err == nil {
			metrics.ProviderCalls.WithLabelValues("image", string(kind), "success").Inc()
			return kind, nil
		}
		metrics.ProviderCalls.WithLabelValues("image", string(kind), "error").Inc()
		if xerrors.IsQuotaExhausted(err) || xerrors.IsPolicyRefusal(err) {
			return "", err
		}
		causes[string(kind)] = err
		previous = kind
	}
	return "", xerrors.NewAllProvidersFailedError("image", causes)
}

func writeBase64Image(b64, outputPath string) error {
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return fmt.Errorf("invalid base64 image payload: %w", err)
	}
	if len(data) == 0 {
		return fmt.Errorf("empty image payload")
	}
	if err := os.WriteFile(outputPath, data, 0644); err != nil {
		return err
	}
	return requireNonEmptyFile(outputPath)
}

// downloadToFile fetches a provider-hosted result to a local path. Unlike
// Fetcher.Download the destination is chosen by the caller.
func downloadToFile(ctx context.Context, client *http.Client, rawURL, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("result download failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("result download bad status %d from %s", resp.StatusCode, log.RedactURL(rawURL))
	}

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	_, err = io.Copy(out, resp.Body)
	out.Close()
	if err != nil {
		os.Remove(dest)
		return err
	}
	return requireNonEmptyFile(dest)
}

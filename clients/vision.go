package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// VisionDescriber extracts product attributes from reference images so they
// can be folded into generation prompts. Best effort only.
type VisionDescriber interface {
	DescribeProducts(ctx context.Context, taskID string, imageURLs []string) (string, error)
}

// OpenAIVisionClient runs the product pre-pass over the chat completions API.
type OpenAIVisionClient struct {
	APIKey  string
	Model   string
	BaseURL string
	client  *http.Client
}

func NewOpenAIVisionClient(apiKey, model string) *OpenAIVisionClient {
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAIVisionClient{
		APIKey:  apiKey,
		Model:   model,
		BaseURL: "https://api.openai.com",
		client:  newRetryableClient(60*time.Second, 1),
	}
}

const visionPrompt = "Describe the product in these images in one short sentence: material, color, shape and any distinctive details. Answer with the description only."

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *OpenAIVisionClient) DescribeProducts(ctx context.Context, taskID string, imageURLs []string) (string, error) {
	if len(imageURLs) == 0 {
		return "", fmt.Errorf("no product images to describe")
	}

	content := []map[string]any{{"type": "text", "text": visionPrompt}}
	for _, u := range imageURLs {
		content = append(content, map[string]any{
			"type":      "image_url",
			"image_url": map[string]string{"url": u},
		})
	}
	body, err := json.Marshal(map[string]any{
		"model":      c.Model,
		"max_tokens": 150,
		"messages":   []map[string]any{{"role": "user", "content": content}},
	})
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("vision request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("vision response unparseable (HTTP %d): %w", resp.StatusCode, err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("vision error (HTTP %d): %s", resp.StatusCode, parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("vision returned no description")
	}
	return parsed.Choices[0].Message.Content, nil
}

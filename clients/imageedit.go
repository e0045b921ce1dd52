package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// OpenAIImageEditor applies a text edit to an existing image through the
// images/edits endpoint. Used for degradations like cleaning up a product
// shot; callers treat failures as non-fatal.
type OpenAIImageEditor struct {
	APIKey  string
	Model   string
	BaseURL string
	client  *http.Client
}

func NewOpenAIImageEditor(apiKey, model string) *OpenAIImageEditor {
	if model == "" {
		model = "gpt-image-1"
	}
	return &OpenAIImageEditor{
		APIKey:  apiKey,
		Model:   model,
		BaseURL: "https://api.openai.com",
		client:  newRetryableClient(180*time.Second, 1),
	}
}

func (c *OpenAIImageEditor) EditImage(ctx context.Context, taskID, sourceImagePath, editPrompt, outputPath string) error {
	source, err := os.Open(sourceImagePath)
	if err != nil {
		return fmt.Errorf("cannot open source image: %w", err)
	}
	defer source.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("image", filepath.Base(sourceImagePath))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, source); err != nil {
		return err
	}
	if err := writer.WriteField("model", c.Model); err != nil {
		return err
	}
	if err := writer.WriteField("prompt", editPrompt); err != nil {
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/images/edits", &buf)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())
	httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("image edit request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	var parsed openAIImageResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return fmt.Errorf("image edit response unparseable (HTTP %d): %w", resp.StatusCode, err)
	}
	if parsed.Error != nil {
		return fmt.Errorf("image edit error (HTTP %d): %s", resp.StatusCode, parsed.Error.Message)
	}
	if resp.StatusCode != http.StatusOK || len(parsed.Data) == 0 || parsed.Data[0].B64JSON == "" {
		return fmt.Errorf("image edit: no image in response (HTTP %d)", resp.StatusCode)
	}
	return writeBase64Image(parsed.Data[0].B64JSON, outputPath)
}

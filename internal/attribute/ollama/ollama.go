package ollama

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/vbonduro/attrdetect/internal/attribute"
	"github.com/vbonduro/attrdetect/internal/imaging"
)

type OllamaModel struct {
	host   string
	model  string
	client *http.Client
}

func NewOllamaModel(host, model string, timeout time.Duration) *OllamaModel {
	return &OllamaModel{
		host:   strings.TrimRight(host, "/"),
		model:  model,
		client: &http.Client{Timeout: timeout},
	}
}

func (o *OllamaModel) Name() string { return "ollama" }

func (o *OllamaModel) Generate(ctx context.Context, req attribute.Request) (string, error) {
	imageData, err := imaging.EncodeJPEG(req.Image)
	if err != nil {
		return "", fmt.Errorf("failed to encode image: %w", err)
	}

	reqBody := map[string]any{
		"model":  o.model,
		"prompt": req.Prompt,
		"images": []string{base64.StdEncoding.EncodeToString(imageData)},
		"stream": false,
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.host+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to call ollama: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Error("failed to close ollama response body", "error", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		var apiErr struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(body))
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		return "", fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, msg)
	}

	var respBody struct {
		Response string `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&respBody); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if respBody.Response == "" {
		return "", fmt.Errorf("ollama returned an empty response")
	}
	return respBody.Response, nil
}

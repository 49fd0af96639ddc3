package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vbonduro/attrdetect/internal/attribute"
	"github.com/vbonduro/attrdetect/internal/imaging"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com"

// request types mirror the Gemini generateContent REST structure.
type inlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type content struct {
	Role  string `json:"role"`
	Parts []part `json:"parts"`
}

type request struct {
	Contents []content `json:"contents"`
}

type response struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text,omitempty"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback,omitempty"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

type GeminiModel struct {
	apiKey  string
	model   string
	client  *http.Client
	baseURL string
}

// NewGeminiModel builds a client for the Gemini API. An empty baseURL selects
// the public endpoint; a zero timeout leaves the HTTP client default.
func NewGeminiModel(apiKey, model, baseURL string, timeout time.Duration) *GeminiModel {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &GeminiModel{
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

func (g *GeminiModel) Name() string { return "gemini" }

func (g *GeminiModel) endpoint() string {
	return fmt.Sprintf("%s/v1beta/models/%s:generateContent", g.baseURL, url.PathEscape(g.model))
}

// buildRequest places the instruction before the picture, as one user turn.
func buildRequest(prompt string, jpegData []byte) request {
	return request{
		Contents: []content{{
			Role: "user",
			Parts: []part{
				{Text: prompt},
				{InlineData: &inlineData{
					MimeType: "image/jpeg",
					Data:     base64.StdEncoding.EncodeToString(jpegData),
				}},
			},
		}},
	}
}

func (g *GeminiModel) Generate(ctx context.Context, req attribute.Request) (string, error) {
	imageData, err := imaging.EncodeJPEG(req.Image)
	if err != nil {
		return "", fmt.Errorf("failed to encode image: %w", err)
	}

	payload, err := json.Marshal(buildRequest(req.Prompt, imageData))
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint(), bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", g.apiKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to call gemini: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Error("failed to close gemini response body", "error", err)
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", statusError(resp.StatusCode, body)
	}

	var respBody response
	if err := json.Unmarshal(body, &respBody); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	if respBody.PromptFeedback != nil && respBody.PromptFeedback.BlockReason != "" {
		return "", fmt.Errorf("gemini blocked the request: %s", respBody.PromptFeedback.BlockReason)
	}
	if len(respBody.Candidates) == 0 {
		return "", fmt.Errorf("gemini returned no candidates")
	}

	var b strings.Builder
	for _, p := range respBody.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("gemini returned no text (finish reason %q)", respBody.Candidates[0].FinishReason)
	}
	return b.String(), nil
}

// statusError turns a non-2xx reply into an error, flagging quota exhaustion.
func statusError(status int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	var apiErr errorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		msg = apiErr.Error.Message
	}

	if status == http.StatusTooManyRequests || apiErr.Error.Status == "RESOURCE_EXHAUSTED" {
		return fmt.Errorf("gemini returned status %d: %s: %w", status, msg, attribute.ErrQuotaExceeded)
	}
	return fmt.Errorf("gemini returned status %d: %s", status, msg)
}

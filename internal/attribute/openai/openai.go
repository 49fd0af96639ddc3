package openai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/vbonduro/attrdetect/internal/attribute"
	"github.com/vbonduro/attrdetect/internal/imaging"
)

const maxTokens = 1024

type OpenAIModel struct {
	client *openai.Client
	model  string
}

// NewOpenAIModel builds a chat-completions backend. baseURL must include the
// API version path (e.g. ".../v1"); empty keeps the library default.
func NewOpenAIModel(apiKey, model, baseURL string, timeout time.Duration) *OpenAIModel {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	cfg.HTTPClient = &http.Client{Timeout: timeout}
	return &OpenAIModel{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

func (o *OpenAIModel) Name() string { return "openai" }

func (o *OpenAIModel) Generate(ctx context.Context, req attribute.Request) (string, error) {
	imageData, err := imaging.EncodeJPEG(req.Image)
	if err != nil {
		return "", fmt.Errorf("failed to encode image: %w", err)
	}
	dataURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(imageData)

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     o.model,
		MaxTokens: maxTokens,
		Messages: []openai.ChatCompletionMessage{{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: req.Prompt},
				{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
					URL:    dataURL,
					Detail: openai.ImageURLDetailAuto,
				}},
			},
		}},
	})
	if err != nil {
		if isQuotaError(err) {
			return "", fmt.Errorf("failed to create chat completion: %w: %w", err, attribute.ErrQuotaExceeded)
		}
		return "", fmt.Errorf("failed to create chat completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", errors.New("openai returned no choices")
	}
	if resp.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("openai returned no text content (finish reason %q)", resp.Choices[0].FinishReason)
	}
	return resp.Choices[0].Message.Content, nil
}

func isQuotaError(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.Type == "insufficient_quota"
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests
	}
	return false
}

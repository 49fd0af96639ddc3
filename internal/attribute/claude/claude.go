package claude

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/liushuangls/go-anthropic/v2"

	"github.com/vbonduro/attrdetect/internal/attribute"
	"github.com/vbonduro/attrdetect/internal/imaging"
)

// maxTokens leaves room for the twelve labelled attributes plus the model's
// habit of adding a short heading.
const maxTokens = 1024

type ClaudeModel struct {
	client *anthropic.Client
	model  string
}

// NewClaudeModel builds a Claude backend. An empty baseURL keeps the library
// default endpoint.
func NewClaudeModel(apiKey, model, baseURL string, timeout time.Duration) *ClaudeModel {
	opts := []anthropic.ClientOption{
		anthropic.WithHTTPClient(&http.Client{Timeout: timeout}),
	}
	if baseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(baseURL))
	}
	return &ClaudeModel{
		client: anthropic.NewClient(apiKey, opts...),
		model:  model,
	}
}

func (c *ClaudeModel) Name() string { return "claude" }

func (c *ClaudeModel) Generate(ctx context.Context, req attribute.Request) (string, error) {
	imageData, err := imaging.EncodeJPEG(req.Image)
	if err != nil {
		return "", fmt.Errorf("failed to encode image: %w", err)
	}

	resp, err := c.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:     anthropic.Model(c.model),
		MaxTokens: maxTokens,
		Messages: []anthropic.Message{{
			Role: anthropic.RoleUser,
			Content: []anthropic.MessageContent{
				anthropic.NewTextMessageContent(req.Prompt),
				anthropic.NewImageMessageContent(anthropic.NewMessageContentSource(
					anthropic.MessagesContentSourceTypeBase64,
					"image/jpeg",
					base64.StdEncoding.EncodeToString(imageData),
				)),
			},
		}},
	})
	if err != nil {
		var apiErr *anthropic.APIError
		if errors.As(err, &apiErr) && string(apiErr.Type) == "rate_limit_error" {
			return "", fmt.Errorf("failed to call claude: %w: %w", err, attribute.ErrQuotaExceeded)
		}
		return "", fmt.Errorf("failed to call claude: %w", err)
	}

	text := resp.GetFirstContentText()
	if text == "" {
		return "", errors.New("claude returned no text content")
	}
	return text, nil
}

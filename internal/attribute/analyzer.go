package attribute

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/vbonduro/attrdetect/internal/imaging"
)

// Analyzer describes a face photo by asking a hosted model the fixed Prompt.
// It holds no per-request state and is safe for concurrent use if its Model is.
type Analyzer struct {
	model  Model
	logger *slog.Logger
}

func NewAnalyzer(model Model, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{model: model, logger: logger}
}

// Backend returns the name of the underlying model backend.
func (a *Analyzer) Backend() string {
	return a.model.Name()
}

// Analyze issues exactly one model call for img and returns the answer with
// surrounding whitespace removed. Any failure of the call comes back as a
// *RemoteServiceError; there is no retry.
func (a *Analyzer) Analyze(ctx context.Context, img *imaging.Image) (string, error) {
	if img == nil || img.RGB == nil {
		return "", errors.New("no image to analyze")
	}

	req := Request{Prompt: Prompt, Image: img}
	backend := a.model.Name()

	a.logger.Info("attribute analysis started",
		"backend", backend, "width", img.Width(), "height", img.Height())
	start := time.Now()

	text, err := a.model.Generate(ctx, req)
	if err != nil {
		a.logger.Error("attribute analysis failed",
			"backend", backend,
			"quota_exceeded", IsQuotaExceeded(err),
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err,
		)
		return "", &RemoteServiceError{Backend: backend, Err: err}
	}

	text = strings.TrimSpace(text)
	a.logger.Info("attribute analysis complete",
		"backend", backend,
		"duration_ms", time.Since(start).Milliseconds(),
		"response_chars", len(text),
	)
	return text, nil
}

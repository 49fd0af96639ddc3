package attribute

import (
	"context"
	"errors"

	"github.com/vbonduro/attrdetect/internal/imaging"
)

// Prompt is the fixed instruction sent with every image, whatever the backend.
const Prompt = `
You are a highly accurate AI specialized in analyzing human facial attributes from uploaded images.
Observe the image and provide the following details in well-structured, readable **Markdown format**:

Only return clear, confident results — no apologies or assumptions.

Required Attributes:
- **Gender** (Male/Female/Non-binary)
- **Age Estimate** (e.g., 24 years old)
- **Ethnicity** (e.g., Pakistani, Indian, Asian, Caucasian, African, etc.)
- **Mood** (e.g., Happy, Sad, Neutral, Angry, Excited)
- **Facial Expression** (e.g., Smiling, Frowning, Neutral, Laughing)
- **Wearing Glasses** (Yes/No)
- **Beard** (Yes/No)
- **Hair Color** (Black, Blonde, Brown, Grey, etc.)
- **Eye Color** (Brown, Blue, Green, etc.)
- **Headwear** (Yes/No — if yes, mention type like Cap, Hijab, Helmet etc.)
- **Emotions Detected** (e.g., Joyful, Calm, Focused, Nervous, Angry)
- **Confidence Score** (Overall prediction confidence in percentage)

Make sure the output is easy to read, with bold labels and clean formatting.
`

// ErrQuotaExceeded indicates the model provider refused the call because a
// quota or rate limit was exhausted. Backends wrap it; it always reaches the
// caller inside a *RemoteServiceError.
var ErrQuotaExceeded = errors.New("model quota exceeded")

// Request is one analysis call: the instruction and the picture it applies to.
type Request struct {
	Prompt string
	Image  *imaging.Image
}

// Model is a hosted multimodal model backend.
type Model interface {
	// Name identifies the backend in logs and health output.
	Name() string
	// Generate sends req to the model and returns its raw text answer.
	Generate(ctx context.Context, req Request) (string, error)
}

// RemoteServiceError is the single failure category for anything that goes
// wrong at or below the model call.
type RemoteServiceError struct {
	Backend string
	Err     error
}

func (e *RemoteServiceError) Error() string {
	return e.Backend + " request failed: " + e.Err.Error()
}

func (e *RemoteServiceError) Unwrap() error { return e.Err }

// IsQuotaExceeded reports whether err carries ErrQuotaExceeded.
func IsQuotaExceeded(err error) bool {
	return errors.Is(err, ErrQuotaExceeded)
}

package web

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"net/http"

	"github.com/russross/blackfriday/v2"

	"github.com/vbonduro/attrdetect/internal/attribute"
	"github.com/vbonduro/attrdetect/internal/imaging"
)

// multipartMemory is how much of a multipart body is kept in memory before
// spilling to temp files.
const multipartMemory = 8 << 20

const uploadPrompt = "Please upload a face image to begin."

var (
	errNoUpload = errors.New("image file required")
	errTooLarge = errors.New("image file too large")
	errBadForm  = errors.New("malformed upload form")
)

var pageFiles = []string{"base.html", "pages/analyze.html"}

type pageData struct {
	Backend  string
	Info     string
	Error    string
	ImageURI template.URL
	Result   template.HTML
}

// analysis is the outcome of one pass through the upload pipeline.
type analysis struct {
	imageData []byte
	mimeType  string
	text      string
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	data := pageData{Backend: s.analyzer.Backend(), Info: uploadPrompt}
	if err := s.renderPage(w, http.StatusOK, data, pageFiles...); err != nil {
		s.logger.Error("render page failed", "error", err)
	}
}

func (s *Server) handleAnalyzeForm(w http.ResponseWriter, r *http.Request) {
	data := pageData{Backend: s.analyzer.Backend()}
	status := http.StatusOK

	result, err := s.runAnalysis(w, r)
	switch {
	case errors.Is(err, errNoUpload):
		data.Info = uploadPrompt
	case err != nil:
		status = statusFor(err)
		data.Error = userMessage(err)
	default:
		data.ImageURI = template.URL("data:" + result.mimeType + ";base64," + base64.StdEncoding.EncodeToString(result.imageData))
		data.Result = renderMarkdown(result.text)
	}

	if err := s.renderPage(w, status, data, pageFiles...); err != nil {
		s.logger.Error("render page failed", "error", err)
	}
}

func (s *Server) handleAnalyzeAPI(w http.ResponseWriter, r *http.Request) {
	result, err := s.runAnalysis(w, r)
	if err != nil {
		s.writeJSON(w, statusFor(err), map[string]string{"error": userMessage(err)})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"attributes": result.text,
		"backend":    s.analyzer.Backend(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "backend": s.analyzer.Backend()})
}

// runAnalysis reads the "image" field, decodes it and calls the analyzer once.
// Nothing reaches the model unless decoding succeeded.
func (s *Server) runAnalysis(w http.ResponseWriter, r *http.Request) (*analysis, error) {
	logger := s.logger.With("request_id", requestIDFrom(r.Context()))

	imageData, err := s.readUpload(w, r)
	if err != nil {
		if !errors.Is(err, errNoUpload) {
			logger.Warn("read upload failed", "error", err)
		}
		return nil, err
	}

	img, err := imaging.DecodeLimit(imageData, s.maxImagePixels)
	if err != nil {
		logger.Warn("decode upload failed", "bytes", len(imageData), "error", err)
		return nil, err
	}

	text, err := s.analyzer.Analyze(r.Context(), img)
	if err != nil {
		logger.Error("analyze failed", "error", err)
		return nil, err
	}

	return &analysis{imageData: imageData, mimeType: img.Format, text: text}, nil
}

func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.Is(err, http.ErrNotMultipart):
			return nil, errNoUpload
		case errors.As(err, &tooLarge):
			return nil, errTooLarge
		default:
			return nil, fmt.Errorf("%w: %v", errBadForm, err)
		}
	}

	file, _, err := r.FormFile("image")
	if err != nil {
		return nil, errNoUpload
	}
	defer closeWithLog(file, "upload file", s.logger)

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if len(data) == 0 {
		return nil, errNoUpload
	}
	return data, nil
}

func statusFor(err error) int {
	var remote *attribute.RemoteServiceError
	switch {
	case errors.Is(err, errNoUpload), errors.Is(err, errBadForm), errors.Is(err, imaging.ErrUnsupportedFormat):
		return http.StatusBadRequest
	case errors.Is(err, errTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.As(err, &remote):
		return http.StatusBadGateway
	default:
		return http.StatusUnprocessableEntity
	}
}

// userMessage is the text shown in the error banner or JSON error field.
// Remote failures keep the provider's message.
func userMessage(err error) string {
	var remote *attribute.RemoteServiceError
	switch {
	case errors.Is(err, imaging.ErrUnsupportedFormat):
		return "unsupported image format, upload a PNG or JPEG file"
	case errors.As(err, &remote):
		return remote.Error()
	case errors.Is(err, errNoUpload), errors.Is(err, errTooLarge), errors.Is(err, errBadForm):
		return err.Error()
	default:
		return "could not read the uploaded image: " + err.Error()
	}
}

// renderMarkdown converts the model's answer for display. Raw HTML in the
// answer is dropped and only safe link schemes are kept.
func renderMarkdown(text string) template.HTML {
	renderer := blackfriday.NewHTMLRenderer(blackfriday.HTMLRendererParameters{
		Flags: blackfriday.SkipHTML | blackfriday.Safelink,
	})
	return template.HTML(blackfriday.Run([]byte(text), blackfriday.WithRenderer(renderer)))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("write json failed", "error", err)
	}
}

// closeWithLog closes c and logs any error, using label to identify the resource.
func closeWithLog(c io.Closer, label string, logger *slog.Logger) {
	if err := c.Close(); err != nil {
		logger.Error("failed to close resource", "label", label, "error", err)
	}
}

package portrait

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	apperr "github.com/GriffinCanCode/talking-portrait/internal/errors"
)

// Request is one image-plus-prompt call.
type Request struct {
	Prompt   string
	Image    []byte
	MIMEType string
	JSON     bool // ask for an application/json response
}

// Generator produces a text answer for a Request.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

var _ Generator = (*GeminiGenerator)(nil)

// GeminiGenerator implements Generator with Gemini GenerateContent.
type GeminiGenerator struct {
	Client *genai.Client

	// Model should not start with "models/"
	Model string
}

// NewGeminiGenerator creates a generator from an API key.
func NewGeminiGenerator(ctx context.Context, apiKey, model string) (*GeminiGenerator, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeConfigInvalid, "cannot create gemini client")
	}
	return &GeminiGenerator{Client: client, Model: strings.TrimPrefix(model, "models/")}, nil
}

func (g *GeminiGenerator) Generate(ctx context.Context, req Request) (string, error) {
	parts := []*genai.Part{}
	if len(req.Image) > 0 {
		parts = append(parts, genai.NewPartFromBytes(req.Image, req.MIMEType))
	}
	parts = append(parts, genai.NewPartFromText(req.Prompt))
	contents := []*genai.Content{{Role: "user", Parts: parts}}

	cfg := &genai.GenerateContentConfig{}
	if req.JSON {
		cfg.ResponseMIMEType = "application/json"
	}

	resp, err := g.Client.Models.GenerateContent(ctx, g.Model, contents, cfg)
	if err != nil {
		return "", classifyGeminiError(err)
	}
	if len(resp.Candidates) == 0 {
		return "", apperr.New(apperr.CodeLLMAPIError, "no candidates")
	}
	return resp.Text(), nil
}

// classifyGeminiError maps API failures onto retryable and permanent codes.
func classifyGeminiError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
	case errors.As(err, &apiErrPtr):
		apiErr = *apiErrPtr
	}
	switch code := apiErr.Code; {
	case code == http.StatusTooManyRequests:
		limited := apperr.Wrap(err, apperr.CodeLLMRateLimited, "gemini rate limited")
		if d, ok := retryDelay(apiErr.Details); ok {
			limited = limited.WithMetadata(apperr.MetaRetryAfter, d.String())
		}
		return limited
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return apperr.Wrap(err, apperr.CodeConfigInvalid, "gemini rejected credentials")
	case code >= 400 && code < 500:
		return apperr.Wrap(err, apperr.CodeInvalidArgument, "gemini rejected request")
	default:
		return apperr.Wrap(err, apperr.CodeLLMAPIError, "gemini request failed")
	}
}

// retryDelay finds the google.rpc.RetryInfo detail of a quota error,
// e.g. {"@type": ".../google.rpc.RetryInfo", "retryDelay": "21s"}.
func retryDelay(details []map[string]any) (time.Duration, bool) {
	for _, d := range details {
		typ, _ := d["@type"].(string)
		if !strings.HasSuffix(typ, "google.rpc.RetryInfo") {
			continue
		}
		raw, _ := d["retryDelay"].(string)
		if delay, err := time.ParseDuration(raw); err == nil && delay > 0 {
			return delay, true
		}
	}
	return 0, false
}

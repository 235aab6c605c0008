package portrait

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"google.golang.org/genai"

	apperr "github.com/GriffinCanCode/talking-portrait/internal/errors"
)

func TestClassifyGeminiError(t *testing.T) {
	quota := genai.APIError{
		Code:    429,
		Message: "quota exceeded",
		Details: []map[string]any{
			{"@type": "type.googleapis.com/google.rpc.QuotaFailure"},
			{"@type": "type.googleapis.com/google.rpc.RetryInfo", "retryDelay": "21s"},
		},
	}
	tests := []struct {
		name string
		err  error
		want apperr.Code
	}{
		{"rate limited", quota, apperr.CodeLLMRateLimited},
		{"pointer", fmt.Errorf("generate: %w", &genai.APIError{Code: 503}), apperr.CodeLLMAPIError},
		{"bad key", genai.APIError{Code: 403}, apperr.CodeConfigInvalid},
		{"blocked", genai.APIError{Code: 400}, apperr.CodeInvalidArgument},
		{"transport", errors.New("connection reset"), apperr.CodeLLMAPIError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := apperr.CodeOf(classifyGeminiError(tt.err)); got != tt.want {
				t.Errorf("code = %v, want %v", got, tt.want)
			}
		})
	}

	if d, ok := apperr.RetryAfter(classifyGeminiError(quota)); !ok || d != 21*time.Second {
		t.Errorf("RetryAfter = %v, %v; want 21s", d, ok)
	}
	if err := classifyGeminiError(context.Canceled); !errors.Is(err, context.Canceled) {
		t.Errorf("cancel = %v", err)
	}
}

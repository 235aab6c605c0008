// Package errors provides unified error handling for the platform.
// Every failure that crosses a component boundary is an *AppError carrying a Code,
// so session teardown, status broadcasting and gRPC status mapping share one vocabulary.
package errors

import (
	stderrors "errors"
	"fmt"
	"time"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Code identifies a class of failure.
type Code int32

const (
	CodeUnspecified Code = iota
	CodeUnknown
	CodeInternal
	CodeInvalidArgument
	CodeNotFound
	CodeUnavailable
	CodeTimeout
	CodeCancelled

	// Conversation errors
	CodePermissionDenied // microphone access denied
	CodeConnectionFailed // realtime session failed to open or died mid-session
	CodeAudioDecode      // malformed inbound audio payload
	CodeParse            // malformed JSON from an analysis call
	CodeSessionActive    // a conversation is already open

	CodeLLMAPIError
	CodeLLMRateLimited
	CodeConfigInvalid
	CodeConfigMissing
)

var codeNames = map[Code]string{
	CodeUnspecified:      "ERROR_CODE_UNSPECIFIED",
	CodeUnknown:          "UNKNOWN",
	CodeInternal:         "INTERNAL",
	CodeInvalidArgument:  "INVALID_ARGUMENT",
	CodeNotFound:         "NOT_FOUND",
	CodeUnavailable:      "UNAVAILABLE",
	CodeTimeout:          "TIMEOUT",
	CodeCancelled:        "CANCELLED",
	CodePermissionDenied: "PERMISSION_DENIED",
	CodeConnectionFailed: "CONNECTION_FAILED",
	CodeAudioDecode:      "AUDIO_DECODE_FAILED",
	CodeParse:            "PARSE_FAILED",
	CodeSessionActive:    "SESSION_ACTIVE",
	CodeLLMAPIError:      "LLM_API_ERROR",
	CodeLLMRateLimited:   "LLM_RATE_LIMITED",
	CodeConfigInvalid:    "CONFIG_INVALID",
	CodeConfigMissing:    "CONFIG_MISSING",
}

func (c Code) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("CODE(%d)", int32(c))
}

// grpcCodeMap maps ErrorCode to gRPC status codes.
var grpcCodeMap = map[Code]codes.Code{
	CodeUnspecified:      codes.Unknown,
	CodeUnknown:          codes.Unknown,
	CodeInternal:         codes.Internal,
	CodeInvalidArgument:  codes.InvalidArgument,
	CodeNotFound:         codes.NotFound,
	CodeUnavailable:      codes.Unavailable,
	CodeTimeout:          codes.DeadlineExceeded,
	CodeCancelled:        codes.Canceled,
	CodePermissionDenied: codes.PermissionDenied,
	CodeConnectionFailed: codes.Unavailable,
	CodeAudioDecode:      codes.InvalidArgument,
	CodeParse:            codes.Internal,
	CodeSessionActive:    codes.AlreadyExists,
	CodeLLMAPIError:      codes.Internal,
	CodeLLMRateLimited:   codes.ResourceExhausted,
	CodeConfigInvalid:    codes.InvalidArgument,
	CodeConfigMissing:    codes.FailedPrecondition,
}

// ErrorDomain is reported in the ErrorInfo detail of gRPC statuses.
const ErrorDomain = "talking-portrait"

// MetaRetryAfter is the metadata key for a server-requested retry delay,
// formatted as a time.Duration string.
const MetaRetryAfter = "retry_after"

// AppError is the base error type with structured error code and metadata.
type AppError struct {
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	s := fmt.Sprintf("[%s] %s", e.Code.String(), e.Message)
	if len(e.Metadata) > 0 {
		s += fmt.Sprintf(" %v", e.Metadata)
	}
	if e.Cause != nil {
		s += fmt.Sprintf(" caused by: %v", e.Cause)
	}
	return s
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *AppError) Unwrap() error { return e.Cause }

// GRPCCode returns the corresponding gRPC status code.
func (e *AppError) GRPCCode() codes.Code {
	if c, ok := grpcCodeMap[e.Code]; ok {
		return c
	}
	return codes.Unknown
}

// GRPCStatus returns a gRPC status with an ErrorInfo detail attached.
func (e *AppError) GRPCStatus() *status.Status {
	st := status.New(e.GRPCCode(), e.Error())
	info := &errdetails.ErrorInfo{Reason: e.Code.String(), Domain: ErrorDomain}
	if len(e.Metadata) > 0 {
		info.Metadata = e.Metadata
	}
	if withDetail, err := st.WithDetails(info); err == nil {
		return withDetail
	}
	return st
}

// New creates a new AppError with the given code and message.
func New(code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg}
}

// Newf creates a new AppError with formatted message.
func Newf(code Code, format string, args ...interface{}) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with an AppError.
func Wrap(err error, code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg, Cause: err}
}

// Wrapf wraps an existing error with formatted message.
func Wrapf(err error, code Code, format string, args ...interface{}) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// WithMetadata adds metadata to an AppError.
func (e *AppError) WithMetadata(key, value string) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// RetryAfter returns the retry delay recorded on err, if any.
func RetryAfter(err error) (time.Duration, bool) {
	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		return 0, false
	}
	d, perr := time.ParseDuration(appErr.Metadata[MetaRetryAfter])
	if perr != nil || d <= 0 {
		return 0, false
	}
	return d, true
}

// FromGRPCError extracts AppError from a gRPC error if present.
func FromGRPCError(err error) *AppError {
	st, ok := status.FromError(err)
	if !ok {
		return &AppError{Code: CodeUnknown, Message: err.Error(), Cause: err}
	}

	for _, detail := range st.Details() {
		if info, ok := detail.(*errdetails.ErrorInfo); ok && info.Domain == ErrorDomain {
			for code, name := range codeNames {
				if name == info.Reason {
					return &AppError{Code: code, Message: st.Message(), Metadata: info.Metadata}
				}
			}
		}
	}

	return &AppError{Code: grpcToErrorCode(st.Code()), Message: st.Message()}
}

// grpcToErrorCode maps gRPC codes back to our error codes (best effort).
func grpcToErrorCode(c codes.Code) Code {
	switch c {
	case codes.InvalidArgument:
		return CodeInvalidArgument
	case codes.NotFound:
		return CodeNotFound
	case codes.Unavailable:
		return CodeUnavailable
	case codes.DeadlineExceeded:
		return CodeTimeout
	case codes.Canceled:
		return CodeCancelled
	case codes.Internal:
		return CodeInternal
	case codes.PermissionDenied:
		return CodePermissionDenied
	case codes.FailedPrecondition:
		return CodeConfigMissing
	case codes.ResourceExhausted:
		return CodeLLMRateLimited
	case codes.AlreadyExists:
		return CodeSessionActive
	default:
		return CodeUnknown
	}
}

// CodeOf returns the code of the first AppError in err's chain, or CodeUnknown.
func CodeOf(err error) Code {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeUnknown
}

// IsCode checks if an error has a specific error code anywhere in its chain.
func IsCode(err error, code Code) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// IsRetryable returns true if the error is potentially retryable.
func IsRetryable(err error) bool {
	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		return false
	}
	switch appErr.Code {
	case CodeUnavailable, CodeTimeout, CodeLLMRateLimited, CodeLLMAPIError:
		return true
	default:
		return false
	}
}

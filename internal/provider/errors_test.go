package provider

import (
	"fmt"
	"net/http"
	"testing"
)

func TestAPIError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      APIError
		expected string
	}{
		{
			name:     "with error type",
			err:      APIError{StatusCode: 429, ErrorType: "rate_limit_error", Message: "too many requests"},
			expected: "rate_limit_error: too many requests",
		},
		{
			name:     "without error type",
			err:      APIError{StatusCode: 500, Message: "internal server error"},
			expected: "HTTP 500: internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestAPIError_IsRetryable(t *testing.T) {
	tests := []struct {
		name      string
		err       APIError
		retryable bool
	}{
		{"429 status", APIError{StatusCode: 429, ErrorType: "rate_limit_error"}, true},
		{"503 status", APIError{StatusCode: 503, ErrorType: "api_error"}, true},
		{"529 status", APIError{StatusCode: 529, ErrorType: "overloaded_error"}, true},
		{"rate_limit_error type with non-429 code", APIError{StatusCode: 400, ErrorType: "rate_limit_error"}, true},
		{"overloaded_error type", APIError{StatusCode: 500, ErrorType: "overloaded_error"}, true},
		{"mid-stream api_error", APIError{StatusCode: 0, ErrorType: "api_error"}, true},
		{"400 invalid_request_error", APIError{StatusCode: 400, ErrorType: "invalid_request_error"}, false},
		{"401 authentication_error", APIError{StatusCode: 401, ErrorType: "authentication_error"}, false},
		{"500 generic", APIError{StatusCode: 500, ErrorType: "api_error"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.IsRetryable(); got != tt.retryable {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.retryable)
			}
		})
	}
}

func TestIsRetryable_wrapped(t *testing.T) {
	err := fmt.Errorf("calling model: %w", &APIError{StatusCode: 529, ErrorType: "overloaded_error"})
	if !IsRetryable(err) {
		t.Error("wrapped retryable APIError should be retryable")
	}
	if IsRetryable(fmt.Errorf("plain error")) {
		t.Error("non-APIError should not be retryable")
	}
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		name    string
		headers http.Header
		wantMs  int
	}{
		{"nil headers", nil, 0},
		{"empty headers", http.Header{}, 0},
		{"retry-after-ms header", http.Header{"Retry-After-Ms": []string{"500"}}, 500},
		{"Retry-After seconds", http.Header{"Retry-After": []string{"3"}}, 3000},
		{
			"retry-after-ms takes priority",
			http.Header{"Retry-After-Ms": []string{"200"}, "Retry-After": []string{"5"}},
			200,
		},
		{"invalid retry-after-ms", http.Header{"Retry-After-Ms": []string{"not-a-number"}}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseRetryAfter(tt.headers); got != tt.wantMs {
				t.Errorf("parseRetryAfter() = %d, want %d", got, tt.wantMs)
			}
		})
	}
}

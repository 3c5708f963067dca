package nmerr

import (
	"errors"
	"testing"
)

func TestError_IsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want bool
	}{
		{"network_is_retryable", Network(errors.New("reset")), true},
		{"http_5xx_is_retryable", Http(503, "service unavailable"), true},
		{"http_4xx_is_not_retryable", Http(404, "not found"), false},
		{"io_is_not_retryable", IO("seek", errors.New("ebadf")), false},
		{"range_unsupported_is_not_retryable", RangeUnsupported(), false},
		{"cancelled_is_not_retryable", Cancelled(), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.IsRetryable(); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestError_UnwrapAndBuilders(t *testing.T) {
	cause := errors.New("connection reset by peer")
	err := Network(cause).WithContext("url", "http://x/f.bin")

	if !errors.Is(err, cause) {
		t.Errorf("expected errors.Is to find the wrapped cause")
	}
	if err.Context["url"] != "http://x/f.bin" {
		t.Errorf("expected context to carry through, got %v", err.Context)
	}
	if err.Suggestion == "" {
		t.Errorf("expected Network() to set a default suggestion")
	}
}

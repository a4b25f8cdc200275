package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error", errors.New("boom"), false},
		{"validation", &ValidationError{Field: "img", Message: "empty"}, false},
		{"not found", &NotFoundError{Entity: "job", ID: "x"}, false},
		{"external without status", External("embedding", "embed_image", "request failed", errors.New("connection refused")), true},
		{"external 503", ExternalHTTP("opensearch", "search", 503, "unavailable", nil), true},
		{"external 429", ExternalHTTP("embedding", "embed_image", 429, "rate limited", nil), true},
		{"external 404", ExternalHTTP("opensearch", "search", 404, "missing index", nil), false},
		{"external 400", ExternalHTTP("caption", "caption", 400, "bad request", nil), false},
		{"wrapped external", fmt.Errorf("embed item 0: %w", External("embedding", "embed_image", "request failed", nil)), true},
		{"wrapped validation", fmt.Errorf("crop item 0: %w", &ValidationError{Field: "img", Message: "undecodable"}), false},
	}
	for _, tc := range cases {
		if got := IsRetryable(tc.err); got != tc.want {
			t.Fatalf("%s: want=%v got=%v", tc.name, tc.want, got)
		}
	}
}

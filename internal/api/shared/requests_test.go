package shared

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleRequest struct {
	Title string `json:"title" validate:"required,max=10"`
}

func TestDecodeJSON(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"valid", `{"title":"Buy milk"}`, false},
		{"unknown field", `{"title":"x","owner_id":"y"}`, true},
		{"trailing data", `{"title":"x"}{"title":"y"}`, true},
		{"malformed", `{"title":`, true},
		{"empty", ``, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/", strings.NewReader(tt.body))
			var v sampleRequest
			err := DecodeJSON(req, &v)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "Buy milk", v.Title)
		})
	}

	var v sampleRequest
	assert.ErrorIs(t, DecodeJSON(httptest.NewRequest("POST", "/", strings.NewReader("")), &v), ErrEmptyBody)
}

func TestValidateRequest(t *testing.T) {
	t.Parallel()
	assert.NoError(t, ValidateRequest(&sampleRequest{Title: "ok"}))
	assert.Error(t, ValidateRequest(&sampleRequest{}))
	assert.Error(t, ValidateRequest(&sampleRequest{Title: "far too long title"}))
}

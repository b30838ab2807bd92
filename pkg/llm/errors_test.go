package llm

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-sqlguard/pkg/retry"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantType  ErrorType
		retryable bool
		status    int
	}{
		{"unauthorized", errors.New("error, status code: 401, message: invalid api key"), ErrorTypeAuth, false, 401},
		{"model missing", errors.New("the model `gpt-x` does not exist"), ErrorTypeModel, false, 0},
		{"not found", errors.New("status code: 404"), ErrorTypeEndpoint, false, 404},
		{"rate limit", errors.New("status code: 429, rate limit reached"), ErrorTypeUnknown, true, 429},
		{"overloaded", errors.New("status 529: overloaded"), ErrorTypeEndpoint, true, 529},
		{"refused", errors.New("dial tcp: connection refused"), ErrorTypeEndpoint, true, 0},
		{"deadline", errors.New("context deadline exceeded"), ErrorTypeEndpoint, false, 0},
		{"other", errors.New("something odd"), ErrorTypeUnknown, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyError(tt.err, "m1")
			require.NotNil(t, got)
			assert.Equal(t, tt.wantType, got.Type)
			assert.Equal(t, tt.retryable, got.Retryable)
			assert.Equal(t, tt.status, got.StatusCode)
			assert.Equal(t, "m1", got.Model)
			assert.ErrorIs(t, got, tt.err)
		})
	}
}

func TestClassifyError_PassesThroughClassified(t *testing.T) {
	orig := NewError(ErrorTypeEmpty, "no SQL", false, nil)
	wrapped := fmt.Errorf("generate: %w", orig)
	assert.Same(t, orig, ClassifyError(wrapped, "m"))
	assert.Nil(t, ClassifyError(nil, "m"))
}

func TestError_RetryableInterface(t *testing.T) {
	assert.True(t, retry.IsRetryable(NewError(ErrorTypeEndpoint, "server error", true, nil)))
	assert.False(t, retry.IsRetryable(NewError(ErrorTypeAuth, "authentication failed", false, nil)))
}

package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewGenerator_Providers(t *testing.T) {
	logger := zap.NewNop()

	g, err := NewGenerator(Config{Provider: "openai", Model: "gpt-4o-mini", APIKey: "k"}, logger)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", g.Model())

	g, err = NewGenerator(Config{Provider: "Anthropic", Model: "claude-test", APIKey: "k"}, logger)
	require.NoError(t, err)
	assert.Equal(t, "claude-test", g.Model())

	_, err = NewGenerator(Config{Provider: "bedrock", Model: "x"}, logger)
	assert.Error(t, err)

	_, err = NewGenerator(Config{Provider: "openai"}, logger)
	assert.Error(t, err, "model is required")
}

func TestGuardedGenerator_RetriesTransientErrors(t *testing.T) {
	calls := 0
	mock := &MockGenerator{GenerateFunc: func(ctx context.Context, req GenerationRequest) (string, error) {
		calls++
		if calls < 3 {
			return "", NewError(ErrorTypeEndpoint, "server error", true, nil)
		}
		return "SELECT 1", nil
	}}
	g := NewGuardedGenerator(mock, Config{MaxRetries: 3}, zap.NewNop()).(*guardedGenerator)
	g.retry.InitialDelay = time.Millisecond

	sql, err := g.GenerateSQL(context.Background(), GenerationRequest{Question: "q"})
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1", sql)
	assert.Equal(t, 3, calls)
	assert.Equal(t, CircuitClosed, g.breaker.State())
}

func TestGuardedGenerator_DoesNotRetryPermanentErrors(t *testing.T) {
	mock := &MockGenerator{GenerateFunc: func(ctx context.Context, req GenerationRequest) (string, error) {
		return "", NewError(ErrorTypeAuth, "authentication failed", false, nil)
	}}
	g := NewGuardedGenerator(mock, Config{MaxRetries: 3}, zap.NewNop())

	_, err := g.GenerateSQL(context.Background(), GenerationRequest{})
	var llmErr *Error
	require.True(t, errors.As(err, &llmErr))
	assert.Equal(t, ErrorTypeAuth, llmErr.Type)
	assert.Equal(t, 1, mock.Calls())
}

func TestGuardedGenerator_ShortCircuitsWhenOpen(t *testing.T) {
	mock := &MockGenerator{GenerateFunc: func(ctx context.Context, req GenerationRequest) (string, error) {
		return "", errors.New("boom")
	}}
	g := NewGuardedGenerator(mock, Config{
		CircuitBreaker: CircuitBreakerConfig{Threshold: 1, ResetAfter: time.Hour},
	}, zap.NewNop())

	_, err := g.GenerateSQL(context.Background(), GenerationRequest{})
	require.Error(t, err)
	_, err = g.GenerateSQL(context.Background(), GenerationRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "temporarily unavailable")
	assert.Equal(t, 1, mock.Calls())
}

func TestGuardedGenerator_AppliesTimeout(t *testing.T) {
	mock := &MockGenerator{GenerateFunc: func(ctx context.Context, req GenerationRequest) (string, error) {
		_, ok := ctx.Deadline()
		assert.True(t, ok)
		return "SELECT 1", nil
	}}
	g := NewGuardedGenerator(mock, Config{Timeout: time.Second}, zap.NewNop())
	_, err := g.GenerateSQL(context.Background(), GenerationRequest{})
	require.NoError(t, err)
}

package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-sqlguard/pkg/retry"
)

// Supported providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Config selects and configures the generation provider.
type Config struct {
	Provider    string
	Endpoint    string // base URL; empty uses the provider default
	Model       string
	APIKey      string
	Temperature float64
	MaxTokens   int

	// Timeout bounds one generation attempt.
	Timeout        time.Duration
	MaxRetries     int
	CircuitBreaker CircuitBreakerConfig
}

// NewGenerator builds the configured provider wrapped with retries and a circuit breaker.
func NewGenerator(cfg Config, logger *zap.Logger) (SQLGenerator, error) {
	var (
		inner SQLGenerator
		err   error
	)
	switch strings.ToLower(cfg.Provider) {
	case ProviderOpenAI, "":
		inner, err = NewOpenAIGenerator(cfg, logger)
	case ProviderAnthropic:
		inner, err = NewAnthropicGenerator(cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	return NewGuardedGenerator(inner, cfg, logger), nil
}

// NewGuardedGenerator wraps inner with the timeout, retry and circuit breaker settings in cfg.
func NewGuardedGenerator(inner SQLGenerator, cfg Config, logger *zap.Logger) SQLGenerator {
	retryCfg := retry.DefaultConfig()
	retryCfg.MaxRetries = max(cfg.MaxRetries, 0)
	return &guardedGenerator{
		inner:   inner,
		breaker: NewCircuitBreaker(cfg.CircuitBreaker),
		retry:   retryCfg,
		timeout: cfg.Timeout,
		logger:  logger.Named("llm"),
	}
}

// guardedGenerator adds per-attempt timeouts, transient-error retries and a
// circuit breaker around a provider.
type guardedGenerator struct {
	inner   SQLGenerator
	breaker *CircuitBreaker
	retry   *retry.Config
	timeout time.Duration
	logger  *zap.Logger
}

func (g *guardedGenerator) Model() string {
	return g.inner.Model()
}

func (g *guardedGenerator) GenerateSQL(ctx context.Context, req GenerationRequest) (string, error) {
	if err := g.breaker.Allow(); err != nil {
		g.logger.Warn("Generation short-circuited", zap.Error(err))
		return "", NewError(ErrorTypeEndpoint, "generation temporarily unavailable", false, err)
	}

	var sql string
	attempt := 0
	err := retry.DoIfRetryable(ctx, g.retry, func() error {
		attempt++
		callCtx := ctx
		if g.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, g.timeout)
			defer cancel()
		}
		var err error
		sql, err = g.inner.GenerateSQL(callCtx, req)
		if err != nil && attempt <= g.retry.MaxRetries && retry.IsRetryable(err) {
			g.logger.Warn("Retrying generation", zap.Int("attempt", attempt), zap.Error(err))
		}
		return err
	})
	if err != nil {
		g.breaker.RecordFailure()
		return "", err
	}
	g.breaker.RecordSuccess()
	return sql, nil
}

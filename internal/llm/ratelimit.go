package llm

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/droverai/drover/internal/config"
	"github.com/droverai/drover/internal/logger"
)

// TokenEstimator estimates token counts for rate limiting
type TokenEstimator struct{}

// NewTokenEstimator creates a new token estimator
func NewTokenEstimator() *TokenEstimator {
	return &TokenEstimator{}
}

// EstimateTokens estimates the number of tokens in a string.
// Uses a rough approximation: chars/4 + 20% buffer.
func (e *TokenEstimator) EstimateTokens(text string) int {
	baseEstimate := len(text) / 4
	return int(float64(baseEstimate) * 1.2)
}

// EstimateMessages estimates tokens for a slice of messages, including the
// tool-call names and argument payloads that ride along with them.
func (e *TokenEstimator) EstimateMessages(messages []Message) int {
	total := 0
	for _, msg := range messages {
		// Overhead for message structure (~4 tokens per message)
		total += 4
		total += e.EstimateTokens(msg.Content)
		for _, tc := range msg.ToolCalls {
			total += e.EstimateTokens(tc.Name)
			total += e.EstimateTokens(string(tc.Arguments))
		}
	}
	return total
}

// TokenBucket implements a token bucket rate limiter over tokens/minute.
type TokenBucket struct {
	limiter *rate.Limiter
	mu      sync.Mutex
}

// NewTokenBucket creates a new token bucket rate limiter.
// tokensPerMinute is converted to tokens per second for the limiter.
func NewTokenBucket(tokensPerMinute int) *TokenBucket {
	tokensPerSecond := float64(tokensPerMinute) / 60.0
	// Burst size allows for some flexibility (10 seconds worth of tokens)
	burstSize := tokensPerMinute / 6
	if burstSize < 1000 {
		burstSize = 1000
	}

	return &TokenBucket{
		limiter: rate.NewLimiter(rate.Limit(tokensPerSecond), burstSize),
	}
}

// Wait blocks until the specified number of tokens are available
func (tb *TokenBucket) Wait(ctx context.Context, tokens int) error {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	reservation := tb.limiter.ReserveN(time.Now(), tokens)
	if !reservation.OK() {
		logger.Debug("rate limit: tokens exceed burst size, waiting for availability")
	}

	delay := reservation.Delay()
	if delay > 0 {
		logger.Debug("rate limit: waiting %v for %d tokens", delay, tokens)
		select {
		case <-time.After(delay):
			return nil
		case <-ctx.Done():
			reservation.Cancel()
			return ctx.Err()
		}
	}

	return nil
}

// RateLimitedClient wraps a Client with proactive token-bucket limiting,
// waiting before a request rather than discovering a 429 after it.
type RateLimitedClient struct {
	inner       Client
	tokenBucket *TokenBucket
	estimator   *TokenEstimator
}

// NewRateLimitedClient creates a new rate-limited client wrapper
func NewRateLimitedClient(inner Client, cfg config.RateLimitConfig) *RateLimitedClient {
	return &RateLimitedClient{
		inner:       inner,
		tokenBucket: NewTokenBucket(cfg.TokensPerMinute),
		estimator:   NewTokenEstimator(),
	}
}

func (c *RateLimitedClient) estimateRequest(messages []Message, tools []ToolDefinition, systemPrompt string) int {
	estimated := c.estimator.EstimateMessages(messages)
	estimated += c.estimator.EstimateTokens(systemPrompt)
	// Overhead for tool definitions (~100 tokens per tool)
	estimated += len(tools) * 100
	return estimated
}

// Chat waits for bucket capacity, then delegates.
func (c *RateLimitedClient) Chat(ctx context.Context, messages []Message, tools []ToolDefinition, systemPrompt string) (*Response, error) {
	estimated := c.estimateRequest(messages, tools, systemPrompt)
	logger.Debug("rate limit: estimated %d tokens for request", estimated)

	if err := c.tokenBucket.Wait(ctx, estimated); err != nil {
		return nil, err
	}

	return c.inner.Chat(ctx, messages, tools, systemPrompt)
}

// ChatStream waits for bucket capacity, then delegates.
func (c *RateLimitedClient) ChatStream(ctx context.Context, messages []Message, tools []ToolDefinition, systemPrompt string) <-chan StreamChunk {
	estimated := c.estimateRequest(messages, tools, systemPrompt)

	if err := c.tokenBucket.Wait(ctx, estimated); err != nil {
		ch := make(chan StreamChunk, 1)
		go func() {
			defer close(ch)
			ch <- StreamChunk{Type: ChunkError, Error: err}
		}()
		return ch
	}

	return c.inner.ChatStream(ctx, messages, tools, systemPrompt)
}

// SetModel delegates to the inner client.
func (c *RateLimitedClient) SetModel(model string) {
	c.inner.SetModel(model)
}

// GetModel delegates to the inner client.
func (c *RateLimitedClient) GetModel() string {
	return c.inner.GetModel()
}

// Close delegates to the inner client.
func (c *RateLimitedClient) Close() error {
	return c.inner.Close()
}

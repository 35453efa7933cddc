// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm implements the OpenAI-compatible chat client used by the
// ingestion pipeline to classify and extract structured data from
// clinical document images.
//
// # Architecture
//
// Client wraps github.com/sashabaranov/go-openai with three concerns the
// raw SDK doesn't provide: a concurrency gate shared across all pipeline
// stages (§5), bounded retry with exponential backoff on
// transient failures, and a typed failure taxonomy (Timeout, Transport,
// HTTPStatus, ParseError) that the orchestrator switches on to decide
// whether to repair, fall back, or propagate.
//
// # Thread Safety
//
// Client is safe for concurrent use by multiple goroutines; the
// concurrency gate is the only shared mutable state and it is a
// semaphore, not a lock callers need to manage themselves.
package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Role mirrors the three chat roles the pipeline ever sends.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Image is one inline image attachment, base64-encoded at send time.
type Image struct {
	MIME string
	Data []byte
}

// Message is one turn of the conversation. A single user turn may carry
// both Text and up to 8 Images (enforced by Chat).
type Message struct {
	Role   Role
	Text   string
	Images []Image
}

// Params controls a single chat-completion call. Temperature 0 is used
// throughout the pipeline (§4.7 "every LLM call uses temperature 0") but
// Params exists so tests and the synthesis prompt can override it.
type Params struct {
	Temperature float32
	MaxTokens   int
}

// Usage reports token accounting for one call, when the upstream returns it.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Failure kinds. Callers should use errors.Is against these sentinels;
// HTTPStatusError and ParseError carry additional detail via errors.As.
var (
	ErrTimeout   = errors.New("llm: request timed out")
	ErrTransport = errors.New("llm: transport failure")
	ErrParse     = errors.New("llm: non-JSON envelope from upstream")
)

// HTTPStatusError is returned when the upstream responds with a non-2xx
// status that isn't a timeout or transport-level failure.
type HTTPStatusError struct {
	Code int
	Body string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("llm: upstream returned status %d: %s", e.Code, e.Body)
}

// Client is the contract the pipeline orchestrator drives. It is
// satisfied by *OpenAICompatClient in production and by a fake in tests.
type Client interface {
	// Chat sends messages and blocks for the complete response. No
	// streaming: callers need the full text before parsing.
	Chat(ctx context.Context, messages []Message, params Params) (text string, usage Usage, err error)
}

// Config configures an OpenAICompatClient.
type Config struct {
	Endpoint    string        // base URL of an OpenAI-compatible /v1 API
	APIKey      string        // bearer token sent upstream
	Model       string
	Timeout     time.Duration // per-call deadline; default 90s
	Concurrency int64         // semaphore size; default 8
	MaxRetries  int           // network-level retries on timeout/5xx; default 2

	// RateLimitPerSecond caps outbound calls across all callers, independent
	// of Concurrency (which only bounds calls in flight at once). Zero
	// disables the limiter.
	RateLimitPerSecond float64
}

func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 90 * time.Second
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 8
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 2
	}
}

// OpenAICompatClient is the production Client implementation.
type OpenAICompatClient struct {
	cfg     Config
	client  *openai.Client
	gate    *semaphore.Weighted
	limiter *rate.Limiter
}

// New builds a Client against an OpenAI-compatible endpoint. Passing an
// empty Endpoint targets the default OpenAI API; any other value is
// treated as a self-hosted or vendor-compatible gateway, so any opaque
// OpenAI-compatible chat endpoint can sit behind this client.
func New(cfg Config) *OpenAICompatClient {
	cfg.applyDefaults()

	oaiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.Endpoint != "" {
		oaiCfg.BaseURL = cfg.Endpoint
	}

	var limiter *rate.Limiter
	if cfg.RateLimitPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitPerSecond), 1)
	}

	return &OpenAICompatClient{
		cfg:     cfg,
		client:  openai.NewClientWithConfig(oaiCfg),
		gate:    semaphore.NewWeighted(cfg.Concurrency),
		limiter: limiter,
	}
}

// ErrSemaphoreTimeout is returned when a call could not acquire a
// concurrency slot within 30s (§5: "reject-after 30 s with 503").
var ErrSemaphoreTimeout = errors.New("llm: concurrency limit exceeded, no slot available within 30s")

// Chat implements Client.
func (c *OpenAICompatClient) Chat(ctx context.Context, messages []Message, params Params) (string, Usage, error) {
	if len(messages) == 0 {
		return "", Usage{}, fmt.Errorf("llm: at least one message is required")
	}
	imageCount := 0
	for _, m := range messages {
		imageCount += len(m.Images)
	}
	if imageCount > 8 {
		return "", Usage{}, fmt.Errorf("llm: at most 8 images per call, got %d", imageCount)
	}

	gateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := c.gate.Acquire(gateCtx, 1); err != nil {
		return "", Usage{}, ErrSemaphoreTimeout
	}
	defer c.gate.Release(1)

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", Usage{}, ctx.Err()
		}
	}

	req := buildRequest(c.cfg.Model, messages, params)

	var lastErr error
	backoffs := []time.Duration{250 * time.Millisecond, time.Second}
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		callCtx, callCancel := context.WithTimeout(ctx, c.cfg.Timeout)
		resp, err := c.client.CreateChatCompletion(callCtx, req)
		callCancel()

		if err == nil {
			if len(resp.Choices) == 0 {
				return "", Usage{}, fmt.Errorf("%w: empty choices", ErrParse)
			}
			return resp.Choices[0].Message.Content, Usage{
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
			}, nil
		}

		lastErr = classifyError(err)
		if !isRetryable(lastErr) || attempt == c.cfg.MaxRetries {
			break
		}
		slog.Warn("llm call failed, retrying", "attempt", attempt, "error", lastErr)
		select {
		case <-ctx.Done():
			return "", Usage{}, ctx.Err()
		case <-time.After(backoffs[attempt%len(backoffs)]):
		}
	}
	return "", Usage{}, lastErr
}

func buildRequest(model string, messages []Message, params Params) openai.ChatCompletionRequest {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		if len(m.Images) == 0 {
			out = append(out, openai.ChatCompletionMessage{
				Role:    string(m.Role),
				Content: m.Text,
			})
			continue
		}
		parts := make([]openai.ChatMessagePart, 0, len(m.Images)+1)
		if m.Text != "" {
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeText,
				Text: m.Text,
			})
		}
		for _, img := range m.Images {
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL: dataURL(img),
				},
			})
		}
		out = append(out, openai.ChatCompletionMessage{
			Role:         string(m.Role),
			MultiContent: parts,
		})
	}

	req := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    out,
		Temperature: params.Temperature,
	}
	if params.MaxTokens > 0 {
		req.MaxCompletionTokens = params.MaxTokens
	}
	return req
}

func dataURL(img Image) string {
	return fmt.Sprintf("data:%s;base64,%s", img.MIME, base64.StdEncoding.EncodeToString(img.Data))
}

func classifyError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode >= 500 || apiErr.HTTPStatusCode == http.StatusTooManyRequests {
			return &HTTPStatusError{Code: apiErr.HTTPStatusCode, Body: apiErr.Message}
		}
		return &HTTPStatusError{Code: apiErr.HTTPStatusCode, Body: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return fmt.Errorf("%w: %v", ErrTransport, reqErr.Err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	return fmt.Errorf("%w: %v", ErrTransport, err)
}

func isRetryable(err error) bool {
	if errors.Is(err, ErrTimeout) || errors.Is(err, ErrTransport) {
		return true
	}
	var httpErr *HTTPStatusError
	if errors.As(err, &httpErr) {
		return httpErr.Code >= 500
	}
	return false
}

var _ Client = (*OpenAICompatClient)(nil)

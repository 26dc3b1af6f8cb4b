package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"waorganizer/internal/config"
	"waorganizer/internal/domain"
	"waorganizer/internal/httpx"

	log "github.com/sirupsen/logrus"
)

const (
	defaultGenAIModel     = "gemini-2.0-flash"
	defaultAnthropicModel = "claude-sonnet-4-5-20250929"
	defaultOpenAIModel    = "gpt-4o-mini"
)

// Generation parameters shared by every provider.
const (
	Temperature = 0.1
	TopK        = 1
	TopP        = 1.0

	MaxTokensProcess = 8192
	MaxTokensProbe   = 10
)

var (
	// ErrInvalidResponse means the provider answered 2xx but without the
	// expected candidates/content shape.
	ErrInvalidResponse = errors.New("invalid response format")
	// ErrEmptyResponse means the first candidate carried no text.
	ErrEmptyResponse = errors.New("empty response text")
)

type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 512 {
		cut := 512
		for cut > 0 && !utf8.RuneStart(body[cut]) {
			cut--
		}
		body = body[:cut] + "...(truncated)"
	}
	if body == "" {
		return fmt.Sprintf("%s HTTP error: status %d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s HTTP error: status %d: %s", e.Provider, e.StatusCode, body)
}

type Request struct {
	Prompt          string
	MaxOutputTokens int
}

type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

func (u Usage) TotalTokens() int64 {
	return u.InputTokens + u.OutputTokens
}

type Response struct {
	// Candidates is the number of candidates returned; the connection
	// check only needs it to be positive.
	Candidates int
	// Text is the first text part of the first candidate, untrimmed.
	Text  string
	Usage Usage
}

// Client sends one prompt to the configured provider. Credentials come with
// each call because they are user-editable settings.
type Client struct {
	Provider   string
	model      string
	HTTPClient *http.Client
}

func New(cfg config.Config) *Client {
	return &Client{
		Provider:   cfg.LLMProvider,
		model:      strings.TrimSpace(cfg.LLMModel),
		HTTPClient: httpx.ExternalHTTPClient(),
	}
}

// Model is the model name recorded with each run.
func (c *Client) Model(settings domain.Settings) string {
	if c.model != "" {
		return c.model
	}
	switch c.Provider {
	case config.ProviderGenAI:
		return defaultGenAIModel
	case config.ProviderAnthropic:
		return defaultAnthropicModel
	case config.ProviderOpenAI:
		return defaultOpenAIModel
	default:
		return modelFromEndpoint(settings.Endpoint)
	}
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return httpx.ExternalHTTPClient()
}

func (c *Client) Generate(ctx context.Context, settings domain.Settings, req Request) (Response, error) {
	key := strings.TrimSpace(settings.APIKey)
	endpoint := strings.TrimSpace(settings.Endpoint)
	model := c.Model(settings)
	log.Printf("llm generate provider=%s model=%s prompt_chars=%d max_tokens=%d", c.Provider, model, len(req.Prompt), req.MaxOutputTokens)

	var resp Response
	var err error
	switch c.Provider {
	case config.ProviderGenAI:
		resp, err = c.callGenAI(ctx, key, endpoint, model, req)
	case config.ProviderAnthropic:
		resp, err = c.callAnthropic(ctx, key, endpoint, model, req)
	case config.ProviderOpenAI:
		resp, err = c.callOpenAI(ctx, key, endpoint, model, req)
	default:
		resp, err = c.callGemini(ctx, key, endpoint, req)
	}
	if err != nil {
		log.Printf("llm %s error: %v", c.Provider, err)
		return resp, err
	}
	log.Printf("llm %s response candidates=%d size=%d tokens_in=%d tokens_out=%d", c.Provider, resp.Candidates, len(resp.Text), resp.Usage.InputTokens, resp.Usage.OutputTokens)
	return resp, nil
}

// modelFromEndpoint extracts "gemini-x" from ".../models/gemini-x:generateContent".
func modelFromEndpoint(endpoint string) string {
	idx := strings.Index(endpoint, "/models/")
	if idx < 0 {
		return ""
	}
	rest := endpoint[idx+len("/models/"):]
	if cut := strings.IndexAny(rest, ":?/"); cut >= 0 {
		rest = rest[:cut]
	}
	return rest
}

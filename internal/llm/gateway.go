// Package llm talks to an OpenAI-compatible chat completion endpoint.
package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"transfer-advisor/internal/common/config"
	"transfer-advisor/internal/common/logger"
	"transfer-advisor/internal/common/metrics"
	"transfer-advisor/internal/interactionlog"

	lru "github.com/hashicorp/golang-lru/v2"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func System(content string) Message { return Message{Role: "system", Content: content} }
func User(content string) Message   { return Message{Role: "user", Content: content} }

type ResponseFormat struct {
	Type       string      `json:"type"`
	JSONSchema *JSONSchema `json:"json_schema,omitempty"`
}

type JSONSchema struct {
	Name   string                 `json:"name"`
	Strict bool                   `json:"strict"`
	Schema map[string]interface{} `json:"schema"`
}

// Request is one chat completion call. Component and Method only label the
// call in logs, metrics and the interaction log.
type Request struct {
	Model          string
	Messages       []Message
	Temperature    float64
	MaxTokens      int
	ResponseFormat *ResponseFormat
	Component      string
	Method         string
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type Completion struct {
	Content      string
	FinishReason string
	Usage        Usage
	Cached       bool
}

// Truncated reports whether the model stopped on its token limit.
func (c *Completion) Truncated() bool {
	return c.FinishReason == "length"
}

// Completer is what pipeline stages depend on. Every error it returns is a
// *CallFailure.
type Completer interface {
	Complete(ctx context.Context, req Request) (*Completion, error)
	Model() string
}

type Options struct {
	BaseURL      string
	Model        string
	APIKey       string
	Timeout      time.Duration
	MaxRetries   int
	RateLimitRPS float64
	RateBurst    int
	CacheSize    int
	BackoffBase  time.Duration
	HTTPClient   *http.Client
}

func OptionsFromConfig(cfg config.LLMConfig) Options {
	return Options{
		BaseURL:      cfg.BaseURL,
		Model:        cfg.Model,
		APIKey:       cfg.APIKey,
		Timeout:      cfg.TimeoutDuration(),
		MaxRetries:   cfg.MaxRetries,
		RateLimitRPS: cfg.RateLimitRPS,
		RateBurst:    cfg.RateBurst,
		CacheSize:    cfg.CacheSize,
	}
}

type Gateway struct {
	client       *openai.Client
	model        string
	timeout      time.Duration
	maxRetries   int
	backoffBase  time.Duration
	limiter      *rate.Limiter
	cache        *lru.Cache[string, Completion]
	interactions *interactionlog.Logger
	log          logger.Logger
}

func NewGateway(opts Options, interactions *interactionlog.Logger, log logger.Logger) (*Gateway, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("llm base url is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 100 * time.Millisecond
	}
	if opts.HTTPClient == nil {
		// per-call deadlines come from the context
		opts.HTTPClient = &http.Client{}
	}
	if interactions == nil {
		interactions = interactionlog.Disabled()
	}

	clientCfg := openai.DefaultConfig(opts.APIKey)
	clientCfg.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	clientCfg.HTTPClient = opts.HTTPClient

	g := &Gateway{
		client:       openai.NewClientWithConfig(clientCfg),
		model:        opts.Model,
		timeout:      opts.Timeout,
		maxRetries:   opts.MaxRetries,
		backoffBase:  opts.BackoffBase,
		interactions: interactions,
		log:          logger.Component(log, "llm-gateway"),
	}

	if opts.RateLimitRPS > 0 {
		burst := opts.RateBurst
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(opts.RateLimitRPS), burst)
	}

	if opts.CacheSize > 0 {
		cache, err := lru.New[string, Completion](opts.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("create completion cache: %w", err)
		}
		g.cache = cache
	}

	return g, nil
}

func (g *Gateway) Model() string {
	return g.model
}

// Complete issues the request, retrying transport failures, timeouts, 429
// and 5xx responses with exponential backoff. The prompt and the outcome are
// always written to the interaction log.
func (g *Gateway) Complete(ctx context.Context, req Request) (*Completion, error) {
	if req.Model == "" {
		req.Model = g.model
	}
	chatReq, err := toChatRequest(req)
	if err != nil {
		return nil, &CallFailure{Kind: KindMalformed, Message: err.Error(), Err: err}
	}

	meta := map[string]interface{}{
		"temperature": req.Temperature,
		"max_tokens":  req.MaxTokens,
	}
	if req.ResponseFormat != nil {
		meta["response_format"] = req.ResponseFormat.Type
	}
	id := g.interactions.LogPrompt(req.Component, req.Method, req.Model, req.Messages, meta)

	cacheKey := ""
	if g.cache != nil && req.Temperature == 0 {
		cacheKey = cacheKeyFor(chatReq)
		if hit, ok := g.cache.Get(cacheKey); ok {
			hit.Cached = true
			metrics.LLMCalls.WithLabelValues(req.Component, "cached").Inc()
			g.interactions.LogResponse(id, req.Component, req.Method, req.Model, true, hit.Content, "", map[string]interface{}{
				"cached":        true,
				"finish_reason": hit.FinishReason,
			})
			return &hit, nil
		}
	}

	start := time.Now()
	completion, failure := g.completeWithRetry(ctx, req, chatReq)
	elapsed := time.Since(start)
	metrics.LLMCallDuration.WithLabelValues(req.Component).Observe(elapsed.Seconds())

	respMeta := map[string]interface{}{"duration_ms": elapsed.Milliseconds()}
	if failure != nil {
		metrics.LLMCalls.WithLabelValues(req.Component, string(failure.Kind)).Inc()
		respMeta["failure_kind"] = string(failure.Kind)
		if failure.StatusCode != 0 {
			respMeta["status_code"] = failure.StatusCode
		}
		g.interactions.LogResponse(id, req.Component, req.Method, req.Model, false, "", failure.Error(), respMeta)
		g.log.Warn("chat completion failed", map[string]interface{}{
			"llm_component": req.Component,
			"method":        req.Method,
			"kind":          string(failure.Kind),
			"error":         failure.Error(),
		})
		return nil, failure
	}

	metrics.LLMCalls.WithLabelValues(req.Component, "success").Inc()
	respMeta["usage"] = completion.Usage
	respMeta["finish_reason"] = completion.FinishReason
	g.interactions.LogResponse(id, req.Component, req.Method, req.Model, true, completion.Content, "", respMeta)

	if completion.Truncated() {
		g.log.Warn("completion truncated by token limit", map[string]interface{}{
			"llm_component": req.Component,
			"max_tokens":    req.MaxTokens,
		})
	}
	if cacheKey != "" {
		g.cache.Add(cacheKey, *completion)
	}
	return completion, nil
}

func (g *Gateway) completeWithRetry(ctx context.Context, req Request, chatReq openai.ChatCompletionRequest) (*Completion, *CallFailure) {
	var failure *CallFailure
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(int64(g.backoffBase) * (1 << (attempt - 1)))
			g.log.Debug("retrying chat completion", map[string]interface{}{
				"llm_component": req.Component,
				"attempt":       attempt,
				"delay_ms":      delay.Milliseconds(),
			})
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, cancelled(ctx.Err())
			}
		}

		if g.limiter != nil {
			if err := g.limiter.Wait(ctx); err != nil {
				if ctx.Err() != nil {
					return nil, cancelled(ctx.Err())
				}
				return nil, &CallFailure{Kind: KindRateLimited, Message: err.Error(), Err: err}
			}
		}

		var completion *Completion
		completion, failure = g.once(ctx, chatReq)
		if failure == nil {
			return completion, nil
		}
		if !failure.Retryable() || ctx.Err() != nil {
			return nil, failure
		}
	}
	return nil, failure
}

func (g *Gateway) once(ctx context.Context, chatReq openai.ChatCompletionRequest) (*Completion, *CallFailure) {
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.client.CreateChatCompletion(callCtx, chatReq)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return nil, cancelled(ctx.Err())
		case errors.Is(callCtx.Err(), context.DeadlineExceeded):
			return nil, &CallFailure{Kind: KindTimeout, Message: fmt.Sprintf("no response within %s", g.timeout), Err: err}
		}
		return nil, classify(err)
	}

	if len(resp.Choices) == 0 {
		return nil, &CallFailure{Kind: KindMalformed, Message: "response has no choices"}
	}
	choice := resp.Choices[0]
	if strings.TrimSpace(choice.Message.Content) == "" {
		return nil, &CallFailure{Kind: KindMalformed, Message: "response content is empty"}
	}

	return &Completion{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

var statusInMessage = regexp.MustCompile(`status code: (\d{3})`)

// classify maps client errors onto failure kinds. Endpoints that answer with
// a non-JSON error body surface only as a formatted message carrying the
// status code.
func classify(err error) *CallFailure {
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError

	switch {
	case errors.As(err, &apiErr):
		return statusFailure(apiErr.HTTPStatusCode, apiErr.Message, err)
	case errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0:
		return statusFailure(reqErr.HTTPStatusCode, err.Error(), err)
	case errors.As(err, &syntaxErr), errors.As(err, &typeErr):
		return &CallFailure{Kind: KindMalformed, Message: "response is not valid json", Err: err}
	}
	if m := statusInMessage.FindStringSubmatch(err.Error()); m != nil {
		code, _ := strconv.Atoi(m[1])
		return statusFailure(code, err.Error(), err)
	}
	return &CallFailure{Kind: KindTransport, Message: err.Error(), Err: err}
}

func statusFailure(code int, message string, err error) *CallFailure {
	kind := KindHTTP
	if code == http.StatusTooManyRequests {
		kind = KindRateLimited
	}
	return &CallFailure{
		Kind:       kind,
		StatusCode: code,
		Message:    fmt.Sprintf("status %d: %s", code, truncate(message, 300)),
		Err:        err,
	}
}

func toChatRequest(req Request) (openai.ChatCompletionRequest, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	temperature := float32(req.Temperature)
	if temperature == 0 {
		// the client omits a zero temperature from the payload
		temperature = math.SmallestNonzeroFloat32
	}

	chatReq := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   req.MaxTokens,
	}

	if rf := req.ResponseFormat; rf != nil {
		format := &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatType(rf.Type)}
		if rf.JSONSchema != nil {
			schema, err := json.Marshal(rf.JSONSchema.Schema)
			if err != nil {
				return chatReq, fmt.Errorf("encode response schema: %w", err)
			}
			format.JSONSchema = &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   rf.JSONSchema.Name,
				Schema: json.RawMessage(schema),
				Strict: rf.JSONSchema.Strict,
			}
		}
		chatReq.ResponseFormat = format
	}
	return chatReq, nil
}

func cacheKeyFor(chatReq openai.ChatCompletionRequest) string {
	raw, _ := json.Marshal(chatReq)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

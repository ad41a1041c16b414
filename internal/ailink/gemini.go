package ailink

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/relaybot/relaybot/internal/config"
	"github.com/relaybot/relaybot/internal/core/engine"
	"github.com/relaybot/relaybot/internal/metrics"
)

const defaultModel = "gemini-2.0-flash"

// GenerateFunc performs one model call and returns the reply text.
type GenerateFunc func(ctx context.Context, model, prompt, systemPrompt string) (string, error)

// Gemini answers prompts through the Gemini API behind a circuit breaker.
type Gemini struct {
	model        string
	systemPrompt string
	timeout      time.Duration
	generate     GenerateFunc
	breaker      *gobreaker.CircuitBreaker
	logger       engine.Logger
}

// NewGemini builds a responder from config. Without an API key the
// responder reports itself unconfigured and Reply returns ErrNotConfigured.
func NewGemini(ctx context.Context, cfg config.AIConfig, logger engine.Logger) (*Gemini, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return newGemini(cfg, nil, logger), nil
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return newGemini(cfg, clientGenerator(client), logger), nil
}

// NewGeminiWithGenerator builds a responder around a custom model call.
func NewGeminiWithGenerator(cfg config.AIConfig, generate GenerateFunc, logger engine.Logger) *Gemini {
	return newGemini(cfg, generate, logger)
}

func newGemini(cfg config.AIConfig, generate GenerateFunc, logger engine.Logger) *Gemini {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	maxFailures := uint32(5)
	if cfg.Breaker.MaxFailures > 0 {
		maxFailures = uint32(cfg.Breaker.MaxFailures)
	}
	openTimeout := cfg.Breaker.OpenTimeout
	if openTimeout <= 0 {
		openTimeout = time.Minute
	}

	g := &Gemini{
		model:        model,
		systemPrompt: cfg.SystemPrompt,
		timeout:      timeout,
		generate:     generate,
		logger:       logger,
	}
	g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "gemini",
		MaxRequests: 1,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: func(err error) bool {
			// A caller giving up says nothing about provider health.
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if g.logger != nil {
				g.logger.Warn("AI circuit breaker changed state",
					zap.String("breaker", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			}
		},
	})
	return g
}

// Configured reports whether a model call is possible.
func (g *Gemini) Configured() bool {
	return g != nil && g.generate != nil
}

// Model returns the configured model name.
func (g *Gemini) Model() string {
	return g.model
}

// BreakerState returns the circuit breaker state name.
func (g *Gemini) BreakerState() string {
	return g.breaker.State().String()
}

// Reply asks the model for an answer to prompt. Failures are returned as
// *ReplyError.
func (g *Gemini) Reply(ctx context.Context, prompt string) (string, error) {
	if !g.Configured() {
		return "", ErrNotConfigured
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", &ReplyError{Code: CodeBadRequest, Message: "prompt is empty"}
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	out, err := g.breaker.Execute(func() (interface{}, error) {
		text, err := g.generate(callCtx, g.model, prompt, g.systemPrompt)
		if err != nil {
			return nil, err
		}
		text = strings.TrimSpace(text)
		if text == "" {
			return nil, ErrEmptyReply
		}
		return text, nil
	})
	elapsed := time.Since(start)

	if err != nil {
		rerr := mapProviderError(err)
		metrics.RecordAIRequest(rerr.Code, elapsed)
		if g.logger != nil {
			g.logger.Warn("AI request failed",
				zap.String("model", g.model),
				zap.String("code", rerr.Code),
				zap.Duration("elapsed", elapsed),
				zap.Error(err))
		}
		return "", rerr
	}

	metrics.RecordAIRequest("success", elapsed)
	return out.(string), nil
}

func clientGenerator(client *genai.Client) GenerateFunc {
	return func(ctx context.Context, model, prompt, systemPrompt string) (string, error) {
		var cfg *genai.GenerateContentConfig
		if strings.TrimSpace(systemPrompt) != "" {
			cfg = &genai.GenerateContentConfig{
				SystemInstruction: &genai.Content{
					Parts: []*genai.Part{{Text: systemPrompt}},
					Role:  "system",
				},
			}
		}

		result, err := client.Models.GenerateContent(ctx, model, genai.Text(prompt), cfg)
		if err != nil {
			return "", err
		}
		return result.Text(), nil
	}
}

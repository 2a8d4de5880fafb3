package main

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/talkxo/sequence-email/internal/config"
	"github.com/talkxo/sequence-email/internal/dispatch"
	promptpkg "github.com/talkxo/sequence-email/internal/prompt"
	"github.com/talkxo/sequence-email/internal/sequence"
	"github.com/talkxo/sequence-email/pkg/llm"
	"github.com/talkxo/sequence-email/pkg/llm/openai"
)

// pipeline is the generation stack shared by every command that talks to
// the upstream API.
type pipeline struct {
	dispatcher *dispatch.Dispatcher
	generator  *sequence.Generator
}

// buildPipeline wires credentials, provider, dispatcher and generator from
// cfg. reg receives the dispatch metrics; nil skips them.
func buildPipeline(cfg *config.Config, reg prometheus.Registerer) (*pipeline, error) {
	pool, err := dispatch.NewPool(cfg.Credentials())
	if err != nil {
		return nil, fmt.Errorf("%w: set llm.api_keys or OPENROUTER_API_KEY", err)
	}

	provider := openai.New(&llm.Config{
		BaseURL: cfg.LLM.BaseURL,
		Referer: cfg.LLM.Referer,
		Title:   cfg.LLM.Title,
	})

	opts := []dispatch.Option{dispatch.WithAttemptTimeout(cfg.AttemptTimeout())}
	if reg != nil {
		opts = append(opts, dispatch.WithMetrics(dispatch.NewMetrics(reg)))
	}
	d := dispatch.New(provider, pool, opts...)

	retry := sequence.DefaultRetryPolicy()
	if cfg.Generation.Attempts > 0 {
		retry.MaxAttempts = cfg.Generation.Attempts
	}
	if delay := cfg.RetryDelay(); delay > 0 {
		retry.InitialDelay = delay
	}

	gen := sequence.NewGenerator(d, promptpkg.New(promptpkg.NewCounter(cfg.LLM.Encoding)), sequence.Options{
		MaxTokens:   cfg.Generation.MaxTokens,
		Temperature: cfg.Generation.Temperature,
		Retry:       retry,
	})
	return &pipeline{dispatcher: d, generator: gen}, nil
}
